// client.go
package email

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"net/textproto"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message/mail"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/transform"

	"AirQualityDashboard/src/storage"
)

const (
	MaxFetchMessages = 100            // 单次最多取回的邮件数
	FetchBufferSize  = 10             // 取回通道缓冲
	LookbackWindow   = 24 * time.Hour // 只查找这段时间内收到的邮件
)

// Inbox 投递站点数据的邮箱
type Inbox interface {
	Connect() error
	Disconnect()
	// FetchStationMails 取近期主题包含 keyword 的未读邮件，邮件只带站点附件
	FetchStationMails(keyword string) ([]*Email, error)
}

// StationMailHandler 把一封邮件的站点附件落盘，返回保存的路径
type StationMailHandler interface {
	Handle(email *Email) ([]string, error)
}

// Email 一封投递站点数据的邮件
type Email struct {
	UID         uint32
	Date        time.Time
	From        string // 已解码
	Subject     string // 已解码
	Attachments []*Attachment
}

// Attachment 站点附件(.csv/.xlsx)
type Attachment struct {
	Filename string
	Content  []byte
}

// StationInbox 基于 IMAP 的站点数据邮箱
type StationInbox struct {
	server   string // host:port，TLS 连接
	username string
	password string
	logger   *storage.Logger

	mu        sync.Mutex
	client    *client.Client
	connected bool
}

func NewStationInbox(server, username, password string, logger *storage.Logger) *StationInbox {
	return &StationInbox{
		server:   server,
		username: username,
		password: password,
		logger:   logger,
	}
}

// Connect 连接并登录，已有连接仍可用时直接复用
func (s *StationInbox) Connect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.connected {
		if _, err := s.client.Capability(); err == nil {
			return nil
		}
		s.client.Logout()
		s.client = nil
		s.connected = false
	}

	c, err := client.DialTLS(s.server, nil)
	if err != nil {
		return fmt.Errorf("连接服务器失败: %w", err)
	}
	if err := c.Login(s.username, s.password); err != nil {
		c.Logout()
		return fmt.Errorf("登录失败: %w", err)
	}

	s.client = c
	s.connected = true
	return nil
}

func (s *StationInbox) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client != nil {
		s.client.Logout()
		s.client = nil
	}
	s.connected = false
}

// FetchStationMails 主题关键词交给服务器检索，取回后再按解码后的主题确认一次，
// 服务器对编码过的中文主题的匹配并不可靠
func (s *StationInbox) FetchStationMails(keyword string) ([]*Email, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		return nil, fmt.Errorf("未连接到邮件服务器")
	}
	if _, err := s.client.Select("INBOX", false); err != nil {
		return nil, fmt.Errorf("选择邮箱失败: %w", err)
	}

	ids, err := s.client.Search(stationSearch(keyword, time.Now()))
	if err != nil {
		return nil, fmt.Errorf("搜索邮件失败: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	if len(ids) > MaxFetchMessages {
		ids = ids[:MaxFetchMessages]
	}

	emails, err := s.fetch(ids)
	if err != nil {
		return nil, err
	}
	return selectStationMails(emails, keyword), nil
}

// stationSearch 近期未读且主题包含 keyword 的邮件
func stationSearch(keyword string, now time.Time) *imap.SearchCriteria {
	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}
	criteria.Since = now.Add(-LookbackWindow)
	if keyword != "" {
		criteria.Header = textproto.MIMEHeader{"Subject": {keyword}}
	}
	return criteria
}

func (s *StationInbox) fetch(ids []uint32) ([]*Email, error) {
	seqset := new(imap.SeqSet)
	seqset.AddNum(ids...)

	section := &imap.BodySectionName{}
	items := []imap.FetchItem{
		imap.FetchEnvelope,
		imap.FetchFlags,
		imap.FetchInternalDate,
		imap.FetchUid,
		section.FetchItem(),
	}

	messages := make(chan *imap.Message, FetchBufferSize)
	done := make(chan error, 1)
	go func() {
		done <- s.client.Fetch(seqset, items, messages)
	}()

	var emails []*Email
	for msg := range messages {
		r := msg.GetBody(section)
		if r == nil {
			s.warnf("邮件正文为空(UID:%d)", msg.Uid)
			continue
		}
		email, err := s.readMessage(r, msg.Uid)
		if err != nil {
			s.warnf("解析邮件失败(UID:%d): %v", msg.Uid, err)
			continue
		}
		emails = append(emails, email)
	}

	if err := <-done; err != nil {
		return nil, fmt.Errorf("获取邮件内容失败: %w", err)
	}
	return emails, nil
}

// readMessage 解析一封邮件，只保留站点附件。
// 单个附件读取失败记录后跳过，正文结构损坏时保留已读到的附件
func (s *StationInbox) readMessage(r io.Reader, uid uint32) (*Email, error) {
	mr, err := mail.CreateReader(r)
	if err != nil {
		return nil, fmt.Errorf("创建邮件阅读器失败: %w", err)
	}

	date, _ := mr.Header.Date()
	email := &Email{
		UID:     uid,
		Date:    date,
		From:    decodeHeader(mr.Header.Get("From")),
		Subject: decodeHeader(mr.Header.Get("Subject")),
	}

	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			s.warnf("邮件(UID:%d)正文解析中断: %v", uid, err)
			break
		}
		h, ok := p.Header.(*mail.AttachmentHeader)
		if !ok {
			continue
		}
		att, err := readAttachment(h, p.Body)
		if err != nil {
			s.warnf("邮件(UID:%d)附件读取失败: %v", uid, err)
			continue
		}
		if !IsStationAttachment(att.Filename) {
			s.debugf("邮件(UID:%d)忽略非站点附件: %s", uid, att.Filename)
			continue
		}
		email.Attachments = append(email.Attachments, att)
	}
	return email, nil
}

func readAttachment(h *mail.AttachmentHeader, body io.Reader) (*Attachment, error) {
	filename, err := h.Filename()
	if err != nil {
		return nil, fmt.Errorf("附件名无法解析: %w", err)
	}
	if filename == "" {
		return nil, fmt.Errorf("附件缺少文件名")
	}

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, body); err != nil {
		return nil, fmt.Errorf("读取附件 %s 失败: %w", filename, err)
	}
	return &Attachment{Filename: decodeHeader(filename), Content: buf.Bytes()}, nil
}

func (s *StationInbox) warnf(format string, args ...interface{}) {
	if s.logger != nil {
		s.logger.Warning(fmt.Sprintf(format, args...))
	}
}

func (s *StationInbox) debugf(format string, args ...interface{}) {
	if s.logger != nil {
		s.logger.Debug(fmt.Sprintf(format, args...))
	}
}

// decodeHeader 解码 RFC 2047 编码的邮件头，失败时原样返回
func decodeHeader(header string) string {
	decoder := mime.WordDecoder{CharsetReader: charsetReader}
	decoded, err := decoder.DecodeHeader(header)
	if err != nil {
		return header
	}
	return decoded
}

// charsetReader 站点邮件常见 GBK/GB2312 编码
func charsetReader(charset string, input io.Reader) (io.Reader, error) {
	switch strings.ToLower(charset) {
	case "gbk", "gb2312":
		return transform.NewReader(input, simplifiedchinese.GBK.NewDecoder()), nil
	default:
		return input, nil
	}
}

// selectStationMails 主题包含 keyword 且带站点附件的邮件，新邮件在前
func selectStationMails(emails []*Email, keyword string) []*Email {
	var selected []*Email
	for _, email := range emails {
		if strings.Contains(email.Subject, keyword) && len(email.Attachments) > 0 {
			selected = append(selected, email)
		}
	}
	sort.SliceStable(selected, func(i, j int) bool {
		return selected[i].Date.After(selected[j].Date)
	})
	return selected
}

// CollectStationMails 连接邮箱取回待处理的站点邮件，结束后断开
func CollectStationMails(inbox Inbox, keyword string, logger *storage.Logger) ([]*Email, error) {
	start := time.Now()
	logger.Info("开始检查邮箱...")

	if err := inbox.Connect(); err != nil {
		return nil, fmt.Errorf("连接失败: %w", err)
	}
	defer inbox.Disconnect()

	emails, err := inbox.FetchStationMails(keyword)
	if err != nil {
		return nil, fmt.Errorf("获取邮件失败: %w", err)
	}
	if len(emails) == 0 {
		logger.Info("没有新的站点数据邮件")
		return nil, nil
	}

	logger.Info(fmt.Sprintf("找到 %d 封站点数据邮件，耗时: %v", len(emails), time.Since(start)))
	return emails, nil
}
