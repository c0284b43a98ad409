// service.go
package dashboard

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"github.com/google/uuid"

	"AirQualityDashboard/src/config"
	"AirQualityDashboard/src/datapush"
	"AirQualityDashboard/src/metrics"
	"AirQualityDashboard/src/processor"
	"AirQualityDashboard/src/storage"
	"AirQualityDashboard/src/utils"
)

// Reporter 渲染成功后发送报告
type Reporter interface {
	Send(ctx context.Context, r datapush.Report) error
}

// Render 一次成功渲染的快照，发布后只读
type Render struct {
	ID         string
	RenderedAt time.Time
	Duration   time.Duration
	Files      []string
	Result     *processor.Result
	Ranking    []processor.StationValue // 按 PM2.5 均值从高到低
}

// Service 串行执行渲染，并保存最近一次成功的结果
type Service struct {
	loader     Loader
	opts       processor.Options
	logger     *storage.Logger
	exportFile string
	reporters  []Reporter
	metrics    *metrics.Metrics

	renderMu sync.Mutex // 同一时刻只有一次渲染

	mu      sync.RWMutex
	current *Render
}

type Option func(*Service)

// WithExport 渲染成功后把全部结果表写入工作簿
func WithExport(path string) Option {
	return func(s *Service) { s.exportFile = path }
}

// WithReporter 增加一个报告渠道
func WithReporter(r Reporter) Option {
	return func(s *Service) { s.reporters = append(s.reporters, r) }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func NewService(loader Loader, opts processor.Options, logger *storage.Logger, options ...Option) *Service {
	s := &Service{loader: loader, opts: opts, logger: logger}
	for _, o := range options {
		o(s)
	}
	return s
}

// NewServiceFromConfig 按配置组装数据目录加载器、导出文件和报告邮件
func NewServiceFromConfig(cfg *config.Config, dc *config.DataConfig, logger *storage.Logger, m *metrics.Metrics) *Service {
	loader := &DirLoader{
		DataDir:        cfg.DataDir,
		Pattern:        cfg.StationPattern,
		CoordinateFile: cfg.CoordinateFile,
		SheetName:      cfg.SheetName,
		Workers:        cfg.Workers,
		Mapper:         dc.GetColumn,
	}
	options := []Option{WithMetrics(m)}
	if cfg.ExportFile != "" {
		options = append(options, WithExport(cfg.ExportFile))
	}
	if cfg.SendEmail.Enabled {
		options = append(options, WithReporter(datapush.NewMailer(cfg)))
	}
	if cfg.DingTalk.Enabled {
		options = append(options, WithReporter(datapush.NewDingTalkPusher(cfg)))
	}
	return NewService(loader, dc.Options(), logger, options...)
}

// Current 最近一次成功的渲染，尚未成功过时为 nil
func (s *Service) Current() *Render {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Render 加载数据并执行流水线。失败时保留上一次的结果。
// 导出和发送报告失败只记录日志，不影响本次结果的发布。
func (s *Service) Render(ctx context.Context) (*Render, error) {
	s.renderMu.Lock()
	defer s.renderMu.Unlock()

	start := time.Now()
	r, err := s.render(ctx, start)
	if s.metrics != nil {
		var res *processor.Result
		if r != nil {
			res = r.Result
		}
		s.metrics.ObserveRender(res, time.Since(start), start, err)
	}
	if err != nil {
		s.logError(fmt.Sprintf("渲染失败: %v", err))
		return nil, err
	}

	s.mu.Lock()
	s.current = r
	s.mu.Unlock()

	s.logInfo(fmt.Sprintf("渲染完成 %s: %d 个站点, %d 行, 耗时 %v",
		r.ID, len(r.Result.Stations), r.Result.Merged.Nrow(), r.Duration))
	for _, es := range r.Result.Impute.EmptyStrata {
		s.logWarning(fmt.Sprintf("站点 %s 第 %d 时 %s 无观测值，保持缺失", es.Station, es.Hour, es.Field))
	}

	s.publish(ctx, r)
	return r, nil
}

func (s *Service) render(ctx context.Context, start time.Time) (*Render, error) {
	in, files, err := s.loader.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("加载数据失败: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res, err := processor.Run(in, s.opts)
	if err != nil {
		return nil, err
	}

	ranking, err := processor.RankStations(res.ByStation, processor.ColPM25)
	if err != nil {
		return nil, err
	}

	return &Render{
		ID:         uuid.NewString(),
		RenderedAt: start,
		Duration:   time.Since(start),
		Files:      files,
		Result:     res,
		Ranking:    ranking,
	}, nil
}

// publish 导出工作簿并发送报告
func (s *Service) publish(ctx context.Context, r *Render) {
	var attachment string
	if s.exportFile != "" {
		if err := utils.SaveWorkbook(Sheets(r), s.exportFile); err != nil {
			s.logError(fmt.Sprintf("导出工作簿失败: %v", err))
		} else {
			attachment = s.exportFile
			s.logInfo(fmt.Sprintf("结果已导出到: %s", s.exportFile))
		}
	}

	if len(s.reporters) == 0 {
		return
	}
	report := NewReport(r, attachment)
	for _, rep := range s.reporters {
		if err := rep.Send(ctx, report); err != nil {
			s.logError(fmt.Sprintf("发送报告失败(%T): %v", rep, err))
			continue
		}
		s.logInfo(fmt.Sprintf("报告已发送(%T)", rep))
	}
}

// NewReport 渲染结果的邮件摘要
func NewReport(r *Render, attachment string) datapush.Report {
	rows := make(map[string]int, len(processor.TableNames))
	for _, name := range processor.TableNames {
		if df, ok := r.Result.Table(name); ok {
			rows[name] = df.Nrow()
		}
	}
	return datapush.Report{
		RenderID:    r.ID,
		RenderedAt:  r.RenderedAt,
		Stations:    r.Result.Stations,
		Rows:        rows,
		Correlation: r.Result.Correlation,
		Ranking:     r.Ranking,
		Attachment:  attachment,
	}
}

// Sheets 导出的工作表：全部结果表，加上相关系数和排名
func Sheets(r *Render) []utils.Sheet {
	sheets := make([]utils.Sheet, 0, len(processor.TableNames)+2)
	for _, name := range processor.TableNames {
		if df, ok := r.Result.Table(name); ok {
			sheets = append(sheets, utils.Sheet{Name: name, Table: df})
		}
	}
	sheets = append(sheets,
		utils.Sheet{Name: "correlation", Table: CorrelationTable(r.Result.Correlation)},
		utils.Sheet{Name: "ranking", Table: RankingTable(r.Ranking)},
	)
	return sheets
}

// CorrelationTable 相关系数序列转为 field / r 两列的表
func CorrelationTable(cs []processor.Correlation) dataframe.DataFrame {
	fields := make([]string, len(cs))
	vals := make([]float64, len(cs))
	for i, c := range cs {
		fields[i] = c.Field
		vals[i] = c.Value
	}
	return dataframe.New(
		series.New(fields, series.String, "field"),
		series.New(vals, series.Float, "r"),
	)
}

// RankingTable 站点排名转为 station / value 两列的表
func RankingTable(ranking []processor.StationValue) dataframe.DataFrame {
	stations := make([]string, len(ranking))
	vals := make([]float64, len(ranking))
	for i, sv := range ranking {
		stations[i] = sv.Station
		vals[i] = sv.Value
	}
	return dataframe.New(
		series.New(stations, series.String, processor.ColStation),
		series.New(vals, series.Float, processor.ColPM25),
	)
}

// Affects 判断变化的文件是否属于渲染输入，导出的工作簿等其他文件不触发渲染
func (s *Service) Affects(name string) bool {
	if a, ok := s.loader.(interface{ Affects(string) bool }); ok {
		return a.Affects(name)
	}
	return true
}

func (s *Service) logInfo(msg string) {
	if s.logger != nil {
		s.logger.Info(msg)
	}
}

func (s *Service) logWarning(msg string) {
	if s.logger != nil {
		s.logger.Warning(msg)
	}
}

func (s *Service) logError(msg string) {
	if s.logger != nil {
		s.logger.Error(msg)
	}
}
