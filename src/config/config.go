package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"

	"AirQualityDashboard/src/processor"
)

// EnvPrefix 环境变量前缀，例如 AQ_DATA_DIR、AQ_EMAIL_PASSWORD
const EnvPrefix = "AQ"

// Config 结构体定义了应用程序的运行配置
type Config struct {
	Email struct {
		Enabled       bool     `json:"enabled"`                                                      // 是否轮询邮箱获取站点文件
		Server        string   `json:"server" validate:"required_if=Enabled true"`                   // IMAP服务器地址
		Username      string   `json:"username" validate:"required_if=Enabled true"`                 // 邮箱用户名
		Password      string   `json:"password"`                                                     // 邮箱密码/授权码
		TargetSubject string   `json:"target_subject" split_words:"true"`                            // 需要匹配的邮件主题
		CheckInterval Duration `json:"check_interval" split_words:"true" validate:"required_if=Enabled true"` // 检查新邮件的间隔时间
	} `json:"email"`

	DataDir        string `json:"data_dir" split_words:"true" validate:"required"`        // 站点CSV文件目录
	StationPattern string `json:"station_pattern" split_words:"true"`                      // 站点文件匹配模式
	CoordinateFile string `json:"coordinate_file" split_words:"true" validate:"required"` // 站点经纬度工作簿
	SheetName      string `json:"sheet_name" split_words:"true"`                          // 经纬度工作表名称
	ExportFile     string `json:"export_file" split_words:"true"`                         // 结果导出工作簿，为空时不导出
	LogName        string `json:"log_name" split_words:"true" validate:"required"`
	LogMaxSize     string `json:"log_max_size" split_words:"true"` // 形如 "10 * 1024 * 1024"
	HTTPAddr       string `json:"http_addr" envconfig:"HTTP_ADDR" validate:"required"`
	Schedule       string `json:"schedule"` // cron表达式，为空时只在启动和文件变化时渲染
	Workers        int    `json:"workers" validate:"min=0"`

	SendEmail struct {
		Enabled       bool     `json:"enabled"`
		Server        string   `json:"server" validate:"required_if=Enabled true"`   // SMTP服务器地址
		Username      string   `json:"username" validate:"required_if=Enabled true"` // 发件人
		Password      string   `json:"password"`
		To            []string `json:"to" validate:"required_if=Enabled true,dive,email"` // 收件人
		TargetSubject string   `json:"target_subject" split_words:"true"`                 // 报告邮件主题
	} `json:"send_email" split_words:"true"`

	DingTalk struct {
		Enabled bool   `json:"enabled"`
		Webhook string `json:"webhook" validate:"required_if=Enabled true,omitempty,url"` // 群机器人地址，含 access_token
		Secret  string `json:"secret"`                                                   // 加签密钥
	} `json:"dingtalk"`
}

// DataConfig 数据处理参数
type DataConfig struct {
	MeanFields        []string          `json:"mean_fields" validate:"dive,required"`
	ModeFields        []string          `json:"mode_fields" validate:"dive,required"`
	CorrelationTarget string            `json:"correlation_target" validate:"required"`
	CorrelationWindow int               `json:"correlation_window" validate:"min=1"`
	StrictStations    *bool             `json:"strict_stations"`
	Columns           map[string]string `json:"columns"` // 原始表头 -> 标准列名
}

var (
	once               sync.Once
	instance           *Config
	dataConfigInstance *DataConfig
	mu                 sync.RWMutex
	validate           = validator.New()
)

// LoadConfig 加载配置，只在第一次调用时读取文件
func LoadConfig(jsonFolder, jsonFile, dataJsonFile string) (*Config, *DataConfig, error) {
	var err error
	once.Do(func() {
		instance, dataConfigInstance, err = loadConfigs(jsonFolder, jsonFile, dataJsonFile)
	})
	return instance, dataConfigInstance, err
}

func loadConfigs(jsonFolder, jsonFile, dataJsonFile string) (*Config, *DataConfig, error) {
	configFile := filepath.Join(jsonFolder, jsonFile)
	dataConfigFile := filepath.Join(jsonFolder, dataJsonFile)

	configData, err := readFile(configFile)
	if err != nil {
		return nil, nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	dataConfigData, err := readFile(dataConfigFile)
	if err != nil {
		return nil, nil, fmt.Errorf("读取数据配置文件失败: %w", err)
	}

	cfgChan := make(chan *Config, 1)
	dcfgChan := make(chan *DataConfig, 1)
	errChan := make(chan error, 2)

	go parseConfig(configData, cfgChan, errChan)
	go parseDataConfig(dataConfigData, dcfgChan, errChan)

	cfg, dcfg, err := waitForResults(cfgChan, dcfgChan, errChan)
	if err != nil {
		return nil, nil, err
	}

	// 环境变量覆盖文件中的值
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, nil, fmt.Errorf("读取环境变量失败: %w", err)
	}
	cfg.setDefaults()
	dcfg.setDefaults()

	if err := validate.Struct(cfg); err != nil {
		return nil, nil, fmt.Errorf("配置校验失败: %w", err)
	}
	if err := validate.Struct(dcfg); err != nil {
		return nil, nil, fmt.Errorf("数据配置校验失败: %w", err)
	}
	return cfg, dcfg, nil
}

func readFile(filePath string) ([]byte, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("无法读取文件 %s: %w", filePath, err)
	}
	return data, nil
}

func parseConfig(data []byte, resultChan chan<- *Config, errChan chan<- error) {
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		errChan <- fmt.Errorf("解析Config失败: %w", err)
		return
	}
	resultChan <- &cfg
}

func parseDataConfig(data []byte, resultChan chan<- *DataConfig, errChan chan<- error) {
	var dcfg DataConfig
	if err := json.Unmarshal(data, &dcfg); err != nil {
		errChan <- fmt.Errorf("解析DataConfig失败: %w", err)
		return
	}
	resultChan <- &dcfg
}

func waitForResults(
	cfgChan <-chan *Config,
	dcfgChan <-chan *DataConfig,
	errChan <-chan error,
) (*Config, *DataConfig, error) {
	var (
		cfg    *Config
		dcfg   *DataConfig
		errors []error
	)

	for i := 0; i < 2; i++ {
		select {
		case c := <-cfgChan:
			cfg = c
		case d := <-dcfgChan:
			dcfg = d
		case err := <-errChan:
			errors = append(errors, err)
		}
	}

	if len(errors) > 0 {
		return nil, nil, combineErrors(errors)
	}

	if cfg == nil || dcfg == nil {
		return nil, nil, fmt.Errorf("部分配置未加载成功")
	}

	return cfg, dcfg, nil
}

func combineErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}

	msg := "配置加载遇到多个错误:"
	for _, err := range errs {
		msg = fmt.Sprintf("%s\n- %v", msg, err)
	}
	return fmt.Errorf("%s", msg)
}

func (c *Config) setDefaults() {
	if c.StationPattern == "" {
		c.StationPattern = "*.csv"
	}
	if c.LogMaxSize == "" {
		c.LogMaxSize = "10 * 1024 * 1024"
	}
	if c.Email.TargetSubject == "" {
		c.Email.TargetSubject = "空气质量"
	}
}

func (dc *DataConfig) setDefaults() {
	def := processor.DefaultOptions()
	if dc.MeanFields == nil {
		dc.MeanFields = def.MeanFields
	}
	if dc.ModeFields == nil {
		dc.ModeFields = def.ModeFields
	}
	if dc.CorrelationTarget == "" {
		dc.CorrelationTarget = def.CorrelationTarget
	}
	if dc.CorrelationWindow == 0 {
		dc.CorrelationWindow = def.CorrelationWindow
	}
	if dc.StrictStations == nil {
		strict := def.StrictStations
		dc.StrictStations = &strict
	}
	if dc.Columns == nil {
		dc.Columns = make(map[string]string)
	}
}

// Options 转换为流水线参数
func (dc *DataConfig) Options() processor.Options {
	mu.RLock()
	defer mu.RUnlock()
	opts := processor.DefaultOptions()
	opts.MeanFields = append([]string{}, dc.MeanFields...)
	opts.ModeFields = append([]string{}, dc.ModeFields...)
	opts.CorrelationTarget = dc.CorrelationTarget
	opts.CorrelationWindow = dc.CorrelationWindow
	if dc.StrictStations != nil {
		opts.StrictStations = *dc.StrictStations
	}
	return opts
}

// GetColumn 原始表头对应的标准列名，没有别名时原样返回
func (dc *DataConfig) GetColumn(header string) string {
	mu.RLock()
	defer mu.RUnlock()
	if name, ok := dc.Columns[header]; ok {
		return name
	}
	return header
}

func (dc *DataConfig) SetColumn(header, name string) {
	mu.Lock()
	defer mu.Unlock()
	if dc.Columns == nil {
		dc.Columns = make(map[string]string)
	}
	dc.Columns[header] = name
}

// Duration 是time.Duration的自定义包装类型
// 用于支持JSON序列化和反序列化
type Duration time.Duration

// UnmarshalJSON 实现json.Unmarshaler接口
// 用于从JSON字符串解析Duration
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	return d.Decode(s)
}

// MarshalJSON 实现json.Marshaler接口
// 用于将Duration序列化为JSON字符串
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Decode 实现envconfig.Decoder接口，环境变量中使用同样的 "5m" 格式
func (d *Duration) Decode(value string) error {
	dur, err := time.ParseDuration(value)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}
