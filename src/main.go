package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/robfig/cron"

	"AirQualityDashboard/src/config"
	"AirQualityDashboard/src/dashboard"
	"AirQualityDashboard/src/datasource/email"
	"AirQualityDashboard/src/datasource/file"
	"AirQualityDashboard/src/metrics"
	"AirQualityDashboard/src/storage"
	"AirQualityDashboard/src/webui"
)

const (
	rotateSpec      = "@every 1m" // 检查日志大小的间隔
	shutdownTimeout = 10 * time.Second
)

// app 仪表盘进程的各个组件
type app struct {
	cfg      *config.Config
	dcfg     *config.DataConfig
	logger   *storage.Logger
	metrics  *metrics.Metrics
	svc      *dashboard.Service
	cron     *cron.Cron
	server   *http.Server
	triggers chan string // 渲染请求，缓冲为1，连续的请求合并为一次
}

func main() {
	jsonFolder := "./config"
	jsonFile := "config.json"
	dataJsonFile := "dataconfig.json"
	cfg, dcfg, err := config.LoadConfig(jsonFolder, jsonFile, dataJsonFile)
	if err != nil {
		log.Fatal("加载配置失败: ", err)
	}

	// 初始化日志系统
	logger, err := storage.NewLogger(cfg.LogName, storage.WithConsole(os.Stdout, storage.INFO))
	if err != nil {
		log.Fatal("Failed to initialize logger:", err)
	}
	defer logger.Close()

	a := newApp(cfg, dcfg, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := a.start(ctx); err != nil {
		logger.Fatal("启动失败: " + err.Error())
		return
	}
	logger.Info(fmt.Sprintf("仪表盘已启动(pid: %d, 地址: %s)，按Ctrl+C退出", os.Getpid(), cfg.HTTPAddr))

	a.waitForShutdown(ctx)
	cancel()
	a.stop()
}

func newApp(cfg *config.Config, dcfg *config.DataConfig, logger *storage.Logger) *app {
	m := metrics.New()
	svc := dashboard.NewServiceFromConfig(cfg, dcfg, logger, m)
	return &app{
		cfg:      cfg,
		dcfg:     dcfg,
		logger:   logger,
		metrics:  m,
		svc:      svc,
		cron:     cron.New(),
		server:   &http.Server{Addr: cfg.HTTPAddr, Handler: webui.NewRouter(svc, logger, m)},
		triggers: make(chan string, 1),
	}
}

// start 启动渲染循环、定时任务、文件监控和HTTP服务，并请求第一次渲染
func (a *app) start(ctx context.Context) error {
	go a.renderLoop(ctx)
	a.trigger("启动")

	if err := a.schedule(); err != nil {
		return err
	}
	a.cron.Start()

	monitor, err := file.NewFileMonitor(a.cfg.DataDir)
	if err != nil {
		// 没有文件监控时仍可通过定时任务和接口渲染
		a.logger.Warning("文件监控启动失败: " + err.Error())
	} else {
		go a.watchFiles(ctx, monitor)
	}

	// 请求上下文随进程退出取消，/logs 长连接不会阻塞关闭
	a.server.BaseContext = func(net.Listener) context.Context { return ctx }
	go func() {
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("HTTP服务异常退出: " + err.Error())
		}
	}()
	return nil
}

// schedule 注册定时渲染、日志轮转和邮箱轮询
func (a *app) schedule() error {
	if a.cfg.Schedule != "" {
		if err := a.cron.AddFunc(a.cfg.Schedule, func() { a.trigger("定时任务") }); err != nil {
			return fmt.Errorf("创建定时任务失败: %w", err)
		}
	}

	if err := a.cron.AddFunc(rotateSpec, func() {
		if err := a.logger.CheckRotate(a.cfg); err != nil {
			a.logger.Error("日志轮转失败: " + err.Error())
		}
	}); err != nil {
		return fmt.Errorf("创建日志轮转任务失败: %w", err)
	}

	if !a.cfg.Email.Enabled {
		return nil
	}

	inbox := email.NewStationInbox(
		a.cfg.Email.Server,
		a.cfg.Email.Username,
		a.cfg.Email.Password,
		a.logger)
	handler := email.NewAttachmentHandler(a.cfg.Email.TargetSubject, a.cfg.DataDir, a.cfg.StationPattern, a.dcfg.GetColumn, a.logger)

	// 使用配置中的检查间隔
	interval := time.Duration(a.cfg.Email.CheckInterval).String() // 例如 "5m0s"
	cronSpec := fmt.Sprintf("@every %s", interval)
	if err := a.cron.AddFunc(cronSpec, func() { a.pollEmails(inbox, handler) }); err != nil {
		return fmt.Errorf("创建邮件检查任务失败: %w", err)
	}
	a.logger.Info(fmt.Sprintf("邮件监控已启动(检查间隔: %v)", interval))
	return nil
}

// trigger 请求一次渲染，已有等待中的请求时忽略
func (a *app) trigger(reason string) {
	select {
	case a.triggers <- reason:
	default:
		a.logger.Debug("已有等待中的渲染，忽略: " + reason)
	}
}

func (a *app) renderLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case reason := <-a.triggers:
			a.logger.Info("开始渲染: " + reason)
			// 错误已由 Service 记录，上一次的结果继续提供
			_, _ = a.svc.Render(ctx)
		}
	}
}

func (a *app) watchFiles(ctx context.Context, monitor *file.FileMonitor) {
	defer monitor.Close()
	err := monitor.Watch(ctx, func(name string) {
		if a.svc.Affects(name) {
			a.trigger("文件变化: " + filepath.Base(name))
		}
	})
	if err != nil {
		a.logger.Error("文件监控异常: " + err.Error())
	}
}

// pollEmails 检查邮箱并保存站点附件，有新文件时请求渲染
func (a *app) pollEmails(inbox email.Inbox, handler email.StationMailHandler) int {
	t1 := time.Now()
	emails, err := email.CollectStationMails(inbox, a.cfg.Email.TargetSubject, a.logger)
	if err != nil {
		a.logger.Error("检查处理邮件失败: " + err.Error())
		return 0
	}

	saved := 0
	for _, e := range emails {
		files, err := handler.Handle(e)
		if err != nil {
			a.logger.Error(fmt.Sprintf("处理邮件失败(UID:%d): %v", e.UID, err))
		}
		saved += len(files)
	}
	if saved > 0 {
		a.trigger(fmt.Sprintf("邮件附件 %d 个", saved))
	}
	a.logger.Info(fmt.Sprintf("邮件处理时间：%v", time.Since(t1)))
	return saved
}

// handleSignal SIGHUP 重新打开日志文件并重新渲染，返回是否退出
func (a *app) handleSignal(sig os.Signal) bool {
	a.logger.Info("Received signal: " + sig.String())
	if sig != syscall.SIGHUP {
		return true
	}
	if err := a.logger.Reopen(""); err != nil {
		a.logger.Error("重新打开日志失败: " + err.Error())
	}
	a.trigger("SIGHUP")
	return false
}

func (a *app) waitForShutdown(ctx context.Context) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigChan)

	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-sigChan:
			if a.handleSignal(sig) {
				a.logger.Info("shutting down...")
				return
			}
		}
	}
}

func (a *app) stop() {
	a.cron.Stop()
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.server.Shutdown(ctx); err != nil {
		a.logger.Error("HTTP服务关闭失败: " + err.Error())
	}
}
