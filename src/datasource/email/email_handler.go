// email_handler.go
package email

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"AirQualityDashboard/src/datasource/file"
	"AirQualityDashboard/src/storage"
)

// AttachmentHandler 把目标邮件中的站点附件(.csv/.xlsx)保存到数据目录，
// 数据目录的文件监控随后触发重新渲染
type AttachmentHandler struct {
	TargetSubject string            // 目标邮件主题关键词
	DataDir       string            // 附件保存目录
	Pattern       string            // 站点文件匹配模式，与数据目录的读取规则一致
	Mapper        file.ColumnMapper // 表头别名，校验附件时使用
	logger        *storage.Logger
	processedUIDs map[uint32]bool // 已处理邮件UID记录
	mu            sync.RWMutex    // 保护processedUIDs的读写锁
}

func NewAttachmentHandler(subject, dataDir, pattern string, mapper file.ColumnMapper, logger *storage.Logger) *AttachmentHandler {
	return &AttachmentHandler{
		TargetSubject: subject,
		DataDir:       dataDir,
		Pattern:       pattern,
		Mapper:        mapper,
		logger:        logger,
		processedUIDs: make(map[uint32]bool),
	}
}

// isProcessed 检查邮件是否已处理过（线程安全）
func (h *AttachmentHandler) isProcessed(uid uint32) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.processedUIDs[uid]
}

// markAsProcessed 标记邮件为已处理（线程安全）
func (h *AttachmentHandler) markAsProcessed(uid uint32) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.processedUIDs[uid] = true
}

// Handle 处理单个邮件：附件先按站点表解析校验，通过后才写入数据目录。
// 无法解析的附件被跳过并记录，不影响同一邮件中的其他附件。
func (h *AttachmentHandler) Handle(email *Email) ([]string, error) {
	if h.isProcessed(email.UID) {
		return nil, nil
	}

	if !strings.Contains(email.Subject, h.TargetSubject) {
		h.info(fmt.Sprintf("跳过主题不匹配的邮件: %s", email.Subject))
		return nil, nil
	}

	h.info(fmt.Sprintf("处理邮件: %s 发件人: %s 日期: %s",
		email.Subject, email.From, email.Date.Format("2006-01-02 15:04:05")))

	if err := os.MkdirAll(h.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("创建目录失败: %w", err)
	}

	var saved []string
	for _, attachment := range email.Attachments {
		if !IsStationAttachment(attachment.Filename) {
			continue
		}
		// 不匹配的文件保存后也不会被读取
		if !file.MatchStationFile(h.Pattern, attachment.Filename) {
			h.warn(fmt.Sprintf("附件 %s 不匹配站点文件模式 %q，已跳过", attachment.Filename, h.Pattern))
			continue
		}

		df, err := ReadAttachment(attachment, "", h.Mapper)
		if err != nil {
			h.warn(fmt.Sprintf("附件 %s 不是有效的站点数据: %v", attachment.Filename, err))
			continue
		}

		// 只保留文件名，防止附件名中的路径跳出数据目录
		filePath := filepath.Join(h.DataDir, filepath.Base(attachment.Filename))
		if err := os.WriteFile(filePath, attachment.Content, 0644); err != nil {
			return saved, fmt.Errorf("保存附件失败: %w", err)
		}
		h.info(fmt.Sprintf("附件已保存到: %s (%d 行)", filePath, df.Nrow()))
		saved = append(saved, filePath)
	}

	if len(saved) > 0 {
		h.markAsProcessed(email.UID)
	}
	return saved, nil
}

// IsStationAttachment 附件是否为站点数据文件
func IsStationAttachment(name string) bool {
	return file.IsStationFile(name)
}

func (h *AttachmentHandler) info(msg string) {
	if h.logger != nil {
		h.logger.Info(msg)
	}
}

func (h *AttachmentHandler) warn(msg string) {
	if h.logger != nil {
		h.logger.Warning(msg)
	}
}
