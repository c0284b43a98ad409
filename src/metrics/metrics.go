// metrics.go
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"AirQualityDashboard/src/processor"
)

const namespace = "aq"

// 渲染结果标签
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

// Metrics 渲染相关的指标，使用独立的Registry
type Metrics struct {
	registry    *prometheus.Registry
	renders     *prometheus.CounterVec
	duration    prometheus.Histogram
	rows        *prometheus.GaugeVec
	emptyStrata prometheus.Gauge
	stations    prometheus.Gauge
	lastSuccess prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		renders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "renders_total",
			Help:      "Number of dashboard renders by outcome.",
		}, []string{"outcome"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "render_duration_seconds",
			Help:      "Time spent loading and processing station data.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}),
		rows: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "table_rows",
			Help:      "Rows in each result table of the last successful render.",
		}, []string{"table"}),
		emptyStrata: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "impute_empty_strata",
			Help:      "(station, hour, field) strata left missing by mean imputation.",
		}),
		stations: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stations",
			Help:      "Stations in the last successful render.",
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful render.",
		}),
	}
	m.registry.MustRegister(m.renders, m.duration, m.rows, m.emptyStrata, m.stations, m.lastSuccess)
	return m
}

// ObserveRender 记录一次渲染。失败时只计数和记录耗时，其余指标保留上次成功的值
func (m *Metrics) ObserveRender(res *processor.Result, elapsed time.Duration, at time.Time, err error) {
	m.duration.Observe(elapsed.Seconds())
	if err != nil || res == nil {
		m.renders.WithLabelValues(OutcomeError).Inc()
		return
	}
	m.renders.WithLabelValues(OutcomeOK).Inc()

	for _, name := range processor.TableNames {
		if df, ok := res.Table(name); ok {
			m.rows.WithLabelValues(name).Set(float64(df.Nrow()))
		}
	}
	m.emptyStrata.Set(float64(len(res.Impute.EmptyStrata)))
	m.stations.Set(float64(len(res.Stations)))
	m.lastSuccess.Set(float64(at.Unix()))
}

// Handler /metrics 的处理函数
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry 供测试和额外的采集器注册使用
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
