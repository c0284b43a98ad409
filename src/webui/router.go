// router.go
package webui

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/go-gota/gota/dataframe"
	"golang.org/x/time/rate"

	"AirQualityDashboard/src/dashboard"
	"AirQualityDashboard/src/metrics"
	"AirQualityDashboard/src/processor"
	"AirQualityDashboard/src/storage"
	"AirQualityDashboard/src/utils"
)

// 表格接口分页参数
const (
	DefaultLimit = 1000
	MaxLimit     = 10000
)

// RenderInterval 手动触发渲染的最小间隔
var RenderInterval = 10 * time.Second

// Renderer 页面数据来源
type Renderer interface {
	Current() *dashboard.Render
	Render(ctx context.Context) (*dashboard.Render, error)
}

type server struct {
	svc     Renderer
	logger  *storage.Logger
	limiter *rate.Limiter
}

// NewRouter 注册仪表盘接口、实时日志和指标
func NewRouter(svc Renderer, logger *storage.Logger, m *metrics.Metrics) http.Handler {
	s := &server{
		svc:     svc,
		logger:  logger,
		limiter: rate.NewLimiter(rate.Every(RenderInterval), 1),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// 日志流是长连接，不经过请求日志中间件
	r.Get("/logs", s.streamLogs)
	if m != nil {
		r.Method(http.MethodGet, "/metrics", m.Handler())
	}

	r.Group(func(r chi.Router) {
		r.Use(s.requestLogger)
		r.Use(render.SetContentType(render.ContentTypeJSON))

		r.Get("/healthz", s.health)
		r.Route("/api", func(r chi.Router) {
			r.Post("/render", s.render)
			r.Get("/stations", s.stations)
			r.Get("/tables/{table}", s.table)
			r.Get("/stations/{station}/{table}", s.stationTable)
			r.Get("/correlation", s.correlation)
			r.Get("/ranking/{field}", s.ranking)
		})
	})
	return r
}

func (s *server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		if s.logger != nil {
			s.logger.Debug(fmt.Sprintf("%s %s %d %v", r.Method, r.URL.Path, ww.Status(), time.Since(start)))
		}
	})
}

func (s *server) streamLogs(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Transfer-Encoding", "chunked")
	if s.logger == nil {
		return
	}

	logChan := s.logger.Subscribe()
	defer s.logger.Unsubscribe(logChan)

	// 先发送响应头，客户端连接后立即可读
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	for {
		select {
		case msg, ok := <-logChan:
			if !ok {
				return
			}
			if _, err := fmt.Fprint(w, msg); err != nil {
				return
			}
			if f, ok := w.(http.Flusher); ok {
				f.Flush()
			}
		case <-r.Context().Done():
			return
		}
	}
}

func (s *server) health(w http.ResponseWriter, r *http.Request) {
	cur := s.svc.Current()
	if cur == nil {
		render.JSON(w, r, map[string]interface{}{"status": "pending"})
		return
	}
	render.JSON(w, r, map[string]interface{}{
		"status":      "ok",
		"render_id":   cur.ID,
		"rendered_at": cur.RenderedAt,
		"stations":    len(cur.Result.Stations),
	})
}

func (s *server) render(w http.ResponseWriter, r *http.Request) {
	if !s.limiter.Allow() {
		writeError(w, r, http.StatusTooManyRequests, "渲染请求过于频繁")
		return
	}
	cur, err := s.svc.Render(r.Context())
	if err != nil {
		writeError(w, r, http.StatusUnprocessableEntity, err.Error())
		return
	}
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, renderSummary(cur))
}

// current 取最近的渲染，尚无结果时返回 503
func (s *server) current(w http.ResponseWriter, r *http.Request) (*dashboard.Render, bool) {
	cur := s.svc.Current()
	if cur == nil {
		writeError(w, r, http.StatusServiceUnavailable, "尚无渲染结果")
		return nil, false
	}
	return cur, true
}

// StationInfo 站点坐标和主导风向
type StationInfo struct {
	Station       string   `json:"station"`
	Lon           *float64 `json:"lon"`
	Lat           *float64 `json:"lat"`
	PrevailingDir string   `json:"prevailing_wd"`
}

func (s *server) stations(w http.ResponseWriter, r *http.Request) {
	cur, ok := s.current(w, r)
	if !ok {
		return
	}
	pw := cur.Result.PrevailingWind
	names := pw.Col(processor.ColStation).Records()
	winds := pw.Col(processor.ColWindDir).Records()
	lons := pw.Col(processor.ColLon).Float()
	lats := pw.Col(processor.ColLat).Float()

	out := make([]StationInfo, len(names))
	for i := range names {
		out[i] = StationInfo{
			Station:       names[i],
			Lon:           number(lons[i]),
			Lat:           number(lats[i]),
			PrevailingDir: winds[i],
		}
	}
	render.JSON(w, r, out)
}

// TableResponse 表格按列名和行数组返回，缺失值为 null
type TableResponse struct {
	RenderID string          `json:"render_id"`
	Table    string          `json:"table"`
	Station  string          `json:"station,omitempty"`
	Columns  []string        `json:"columns"`
	Total    int             `json:"total"`
	Offset   int             `json:"offset"`
	Rows     [][]interface{} `json:"rows"`
}

func (s *server) table(w http.ResponseWriter, r *http.Request) {
	cur, ok := s.current(w, r)
	if !ok {
		return
	}
	name := chi.URLParam(r, "table")
	df, ok := cur.Result.Table(name)
	if !ok {
		writeError(w, r, http.StatusNotFound, fmt.Sprintf("未知的表: %s", name))
		return
	}
	s.writeTable(w, r, cur, name, "", df)
}

func (s *server) stationTable(w http.ResponseWriter, r *http.Request) {
	cur, ok := s.current(w, r)
	if !ok {
		return
	}
	name := chi.URLParam(r, "table")
	station := chi.URLParam(r, "station")
	if _, ok := cur.Result.Table(name); !ok {
		writeError(w, r, http.StatusNotFound, fmt.Sprintf("未知的表: %s", name))
		return
	}
	df, ok := cur.Result.StationTable(name, station)
	if !ok {
		writeError(w, r, http.StatusNotFound, fmt.Sprintf("未知的站点: %s", station))
		return
	}
	s.writeTable(w, r, cur, name, station, df)
}

func (s *server) writeTable(w http.ResponseWriter, r *http.Request, cur *dashboard.Render, name, station string, df dataframe.DataFrame) {
	offset, limit, err := pageParams(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	total := df.Nrow()
	rows, err := utils.RowRange(df, offset, offset+limit)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, err.Error())
		return
	}

	render.JSON(w, r, TableResponse{
		RenderID: cur.ID,
		Table:    name,
		Station:  station,
		Columns:  df.Names(),
		Total:    total,
		Offset:   offset,
		Rows:     rows,
	})
}

func pageParams(r *http.Request) (offset, limit int, err error) {
	limit = DefaultLimit
	q := r.URL.Query()
	if v := q.Get("offset"); v != "" {
		if offset, err = strconv.Atoi(v); err != nil || offset < 0 {
			return 0, 0, fmt.Errorf("无效的 offset: %q", v)
		}
	}
	if v := q.Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil || limit <= 0 {
			return 0, 0, fmt.Errorf("无效的 limit: %q", v)
		}
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	return offset, limit, nil
}

// FieldValue 字段及其数值，无定义时为 null
type FieldValue struct {
	Field string   `json:"field"`
	Value *float64 `json:"r"`
}

func (s *server) correlation(w http.ResponseWriter, r *http.Request) {
	cur, ok := s.current(w, r)
	if !ok {
		return
	}
	out := make([]FieldValue, len(cur.Result.Correlation))
	for i, c := range cur.Result.Correlation {
		out[i] = FieldValue{Field: c.Field, Value: number(c.Value)}
	}
	render.JSON(w, r, out)
}

// StationRank 站点排名
type StationRank struct {
	Rank    int      `json:"rank"`
	Station string   `json:"station"`
	Value   *float64 `json:"value"`
}

func (s *server) ranking(w http.ResponseWriter, r *http.Request) {
	cur, ok := s.current(w, r)
	if !ok {
		return
	}
	field := chi.URLParam(r, "field")
	if !utils.Contains(processor.NumericFields, field) {
		writeError(w, r, http.StatusNotFound, fmt.Sprintf("未知的字段: %s", field))
		return
	}
	ranked, err := processor.RankStations(cur.Result.ByStation, field)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]StationRank, len(ranked))
	for i, sv := range ranked {
		out[i] = StationRank{Rank: i + 1, Station: sv.Station, Value: number(sv.Value)}
	}
	render.JSON(w, r, out)
}

func renderSummary(cur *dashboard.Render) map[string]interface{} {
	return map[string]interface{}{
		"render_id":   cur.ID,
		"rendered_at": cur.RenderedAt,
		"duration_ms": cur.Duration.Milliseconds(),
		"files":       cur.Files,
		"stations":    cur.Result.Stations,
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	render.Status(r, status)
	render.JSON(w, r, map[string]string{"error": msg})
}

// number NaN 和 Inf 在 JSON 中编码为 null
func number(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}
