package datapush

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/smtp"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jordan-wright/email"

	"AirQualityDashboard/src/config"
	"AirQualityDashboard/src/processor"
)

// 常量定义
const (
	RETRY_TIMES    = 3
	RETRY_INTERVAL = 2 * time.Second
	DEFAULT_PORT   = ":465" // 默认 SSL 端口
)

// Report 一次渲染的摘要，作为邮件正文
type Report struct {
	RenderID    string
	RenderedAt  time.Time
	Stations    []string
	Rows        map[string]int // 表名 -> 行数
	Correlation []processor.Correlation
	Ranking     []processor.StationValue // 按 PM2.5 从高到低
	Attachment  string                   // 导出的工作簿路径，可为空
}

// Mailer 通过SMTP发送渲染报告
type Mailer struct {
	server        string
	username      string
	password      string
	to            []string
	subject       string
	retryTimes    int
	retryInterval time.Duration
	send          func(e *email.Email) error
}

// NewMailer 按配置中的 send_email 创建发送器
func NewMailer(cfg *config.Config) *Mailer {
	m := &Mailer{
		server:        cfg.SendEmail.Server,
		username:      cfg.SendEmail.Username,
		password:      cfg.SendEmail.Password,
		to:            cfg.SendEmail.To,
		subject:       cfg.SendEmail.TargetSubject,
		retryTimes:    RETRY_TIMES,
		retryInterval: RETRY_INTERVAL,
	}
	if m.subject == "" {
		m.subject = "空气质量报告"
	}
	// 确保服务器地址包含端口
	if m.server != "" && !strings.Contains(m.server, ":") {
		m.server += DEFAULT_PORT
	}
	m.send = m.sendWithTLS
	return m
}

func (m *Mailer) sendWithTLS(e *email.Email) error {
	host := strings.Split(m.server, ":")[0]
	return e.SendWithTLS(
		m.server,
		smtp.PlainAuth("", m.username, m.password, host),
		&tls.Config{ServerName: host},
	)
}

// Build 生成报告邮件
func (m *Mailer) Build(r Report) (*email.Email, error) {
	e := email.NewEmail()
	e.From = fmt.Sprintf("Air Quality Dashboard <%s>", m.username)
	e.To = m.to
	e.Subject = fmt.Sprintf("%s %s", m.subject, r.RenderedAt.Format("2006-01-02 15:04"))
	e.Text = []byte(reportText(r))

	// 添加附件
	if r.Attachment != "" {
		if _, err := os.Stat(r.Attachment); err != nil {
			return nil, fmt.Errorf("附件文件不存在: %s", r.Attachment)
		}
		if _, err := e.AttachFile(r.Attachment); err != nil {
			return nil, fmt.Errorf("附件添加失败: %w", err)
		}
	}
	return e, nil
}

// Send 生成并发送报告，失败时按间隔重试
func (m *Mailer) Send(ctx context.Context, r Report) error {
	if len(m.to) == 0 {
		return fmt.Errorf("没有收件人")
	}
	e, err := m.Build(r)
	if err != nil {
		return err
	}
	return retry(ctx, func() error { return m.send(e) }, m.retryTimes, m.retryInterval)
}

func reportText(r Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "渲染编号: %s\n", r.RenderID)
	fmt.Fprintf(&b, "渲染时间: %s\n", r.RenderedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "站点(%d): %s\n\n", len(r.Stations), strings.Join(r.Stations, ", "))

	if len(r.Rows) > 0 {
		b.WriteString("结果表行数:\n")
		names := make([]string, 0, len(r.Rows))
		for name := range r.Rows {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(&b, "  %-18s %d\n", name, r.Rows[name])
		}
		b.WriteString("\n")
	}

	if len(r.Correlation) > 0 {
		b.WriteString("降雨量相关系数:\n")
		for _, c := range r.Correlation {
			if c.Defined() {
				fmt.Fprintf(&b, "  %-6s %+.3f\n", c.Field, c.Value)
			} else {
				fmt.Fprintf(&b, "  %-6s 无定义\n", c.Field)
			}
		}
		b.WriteString("\n")
	}

	if len(r.Ranking) > 0 {
		b.WriteString("PM2.5 站点排名:\n")
		for i, s := range r.Ranking {
			fmt.Fprintf(&b, "  %2d. %-16s %.1f\n", i+1, s.Station, s.Value)
		}
	}

	if r.Attachment != "" {
		fmt.Fprintf(&b, "\n附件: %s\n", filepath.Base(r.Attachment))
	}
	return b.String()
}

// 重试函数
func retry(ctx context.Context, fn func() error, times int, interval time.Duration) error {
	var err error
	for i := 0; i < times; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if i < times-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(interval):
			}
		}
	}
	return fmt.Errorf("重试 %d 次后失败: %w", times, err)
}
