package datapush

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"AirQualityDashboard/src/config"
)

// 钉钉 API 响应结构体
type DingTalkResponse struct {
	ErrCode int    `json:"errcode"`
	ErrMsg  string `json:"errmsg"`
}

// DingTalkPusher 通过钉钉群机器人推送渲染报告(markdown)
type DingTalkPusher struct {
	webhook       string
	secret        string // 加签密钥，为空时不签名
	client        *http.Client
	now           func() time.Time
	retryTimes    int
	retryInterval time.Duration
}

func NewDingTalkPusher(cfg *config.Config) *DingTalkPusher {
	return &DingTalkPusher{
		webhook:       cfg.DingTalk.Webhook,
		secret:        cfg.DingTalk.Secret,
		client:        &http.Client{Timeout: 10 * time.Second},
		now:           time.Now,
		retryTimes:    RETRY_TIMES,
		retryInterval: RETRY_INTERVAL,
	}
}

// Send 推送报告，失败时按间隔重试
func (p *DingTalkPusher) Send(ctx context.Context, r Report) error {
	payload := map[string]interface{}{
		"msgtype": "markdown",
		"markdown": map[string]string{
			"title": "空气质量报告",
			"text":  reportMarkdown(r),
		},
	}
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("序列化请求体失败: %w", err)
	}
	return retry(ctx, func() error { return p.post(ctx, payloadBytes) }, p.retryTimes, p.retryInterval)
}

func (p *DingTalkPusher) post(ctx context.Context, payload []byte) error {
	target, err := p.signedURL()
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("创建请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("发送请求失败: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("读取响应失败: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("钉钉返回状态码 %d", resp.StatusCode)
	}

	var result DingTalkResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return fmt.Errorf("解析响应失败: %w", err)
	}
	if result.ErrCode != 0 {
		return fmt.Errorf("发送消息失败: %s", result.ErrMsg)
	}
	return nil
}

// signedURL 加签：timestamp + "\n" + secret 做 HmacSHA256，再 base64
func (p *DingTalkPusher) signedURL() (string, error) {
	if p.secret == "" {
		return p.webhook, nil
	}
	u, err := url.Parse(p.webhook)
	if err != nil {
		return "", fmt.Errorf("无效的webhook地址: %w", err)
	}

	timestamp := strconv.FormatInt(p.now().UnixMilli(), 10)
	mac := hmac.New(sha256.New, []byte(p.secret))
	mac.Write([]byte(timestamp + "\n" + p.secret))

	q := u.Query()
	q.Set("timestamp", timestamp)
	q.Set("sign", base64.StdEncoding.EncodeToString(mac.Sum(nil)))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func reportMarkdown(r Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "### 空气质量报告 %s\n\n", r.RenderedAt.Format("2006-01-02 15:04"))
	fmt.Fprintf(&b, "- 站点: %d 个\n", len(r.Stations))
	if n, ok := r.Rows["merged"]; ok {
		fmt.Fprintf(&b, "- 观测: %d 条\n", n)
	}
	if len(r.Ranking) > 0 {
		top := r.Ranking[0]
		last := r.Ranking[len(r.Ranking)-1]
		fmt.Fprintf(&b, "- PM2.5 最高: **%s** %.1f\n", top.Station, top.Value)
		fmt.Fprintf(&b, "- PM2.5 最低: **%s** %.1f\n", last.Station, last.Value)
	}
	if len(r.Correlation) > 0 {
		b.WriteString("\n| 字段 | 与降雨量相关系数 |\n| --- | --- |\n")
		for _, c := range r.Correlation {
			if c.Defined() {
				fmt.Fprintf(&b, "| %s | %+.3f |\n", c.Field, c.Value)
			} else {
				fmt.Fprintf(&b, "| %s | - |\n", c.Field)
			}
		}
	}
	if r.Attachment != "" {
		fmt.Fprintf(&b, "\n> 导出文件: %s\n", filepath.Base(r.Attachment))
	}
	fmt.Fprintf(&b, "\n###### %s\n", r.RenderID)
	return b.String()
}
