// =============================================================================
// 📦 meshypipe 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + .env 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("meshypipe.yaml").
//	    WithDotEnv(".env").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量（.env 只补充未设置的变量）
// =============================================================================
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是 meshypipe 的完整配置结构
type Config struct {
	Meshy     MeshyConfig     `yaml:"meshy" env:"MESHY"`
	Poll      PollConfig      `yaml:"poll" env:"POLL"`
	HTTP      HTTPConfig      `yaml:"http" env:"HTTP"`
	Log       LogConfig       `yaml:"log" env:"LOG"`
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
	Metrics   MetricsConfig   `yaml:"metrics" env:"METRICS"`

	// EnvFile 可选 dotenv 文件，不存在时忽略
	EnvFile string `yaml:"env_file" env:"ENV_FILE"`
}

// MeshyConfig 远端 API 与生成参数
type MeshyConfig struct {
	// API 根地址
	BaseURL string `yaml:"base_url" env:"BASE_URL"`
	// 保存 Bearer Token 的环境变量名
	APIKeyEnv string `yaml:"api_key_env" env:"API_KEY_ENV"`
	// 网格拓扑: triangle, quad
	Topology string `yaml:"topology" env:"TOPOLOGY"`
	// 生成模型: meshy-5, meshy-4
	AIModel string `yaml:"ai_model" env:"AI_MODEL"`
	// 是否生成贴图
	ShouldTexture bool `yaml:"should_texture" env:"SHOULD_TEXTURE"`
	// 绑骨身高提示（米）
	HeightMeters float64 `yaml:"height_meters" env:"HEIGHT_METERS"`
	// 下载目录
	OutputDir string `yaml:"output_dir" env:"OUTPUT_DIR"`
}

// PollConfig 轮询配置
type PollConfig struct {
	Interval time.Duration `yaml:"interval" env:"INTERVAL"`
	Timeout  time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// HTTPConfig HTTP 客户端配置
type HTTPConfig struct {
	// 单次 JSON 请求超时
	RequestTimeout time.Duration `yaml:"request_timeout" env:"REQUEST_TIMEOUT"`
	// 单次下载超时
	DownloadTimeout time.Duration `yaml:"download_timeout" env:"DOWNLOAD_TIMEOUT"`
	// 最大重试次数，0 表示不重试
	MaxRetries int `yaml:"max_retries" env:"MAX_RETRIES"`
	// 首次重试延迟
	RetryInitialDelay time.Duration `yaml:"retry_initial_delay" env:"RETRY_INITIAL_DELAY"`
	// 客户端限速，0 表示不限
	RequestsPerSecond float64 `yaml:"requests_per_second" env:"REQUESTS_PER_SECOND"`
	// 下载分块大小（字节）
	ChunkSize int `yaml:"chunk_size" env:"CHUNK_SIZE"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// 输出路径
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled" env:"ENABLED"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	ServiceName  string  `yaml:"service_name" env:"SERVICE_NAME"`
	SampleRate   float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// MetricsConfig Prometheus 指标配置
type MetricsConfig struct {
	Namespace string `yaml:"namespace" env:"NAMESPACE"`
	// 运行结束后写入的 textfile 路径，空表示不写
	TextfilePath string `yaml:"textfile_path" env:"TEXTFILE_PATH"`
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
	dotEnv     string
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{
		envPrefix: "MESHYPIPE",
	}
}

// WithConfigPath 设置配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithDotEnv 设置 dotenv 文件，覆盖 Config.EnvFile
func (l *Loader) WithDotEnv(path string) *Loader {
	l.dotEnv = path
	return l
}

// WithValidator 添加配置验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 加载配置
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	dotEnv := cfg.EnvFile
	if l.dotEnv != "" {
		dotEnv = l.dotEnv
	}
	if err := loadDotEnv(dotEnv); err != nil {
		return nil, err
	}

	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// loadFromFile 从 YAML 文件加载配置；显式指定的文件必须存在
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// loadDotEnv 将 dotenv 中尚未设置的变量写入进程环境
func loadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv 递归设置结构体字段
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

// setFieldValue 设置字段值
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// =============================================================================
// 🔍 校验
// =============================================================================

var (
	validTopologies = map[string]bool{"triangle": true, "quad": true}
	validAIModels   = map[string]bool{"meshy-5": true, "meshy-4": true}
	validLogLevels  = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
)

// Validate 验证配置
func (c *Config) Validate() error {
	var errs []string

	if c.Meshy.BaseURL == "" {
		errs = append(errs, "meshy.base_url is required")
	}
	if c.Meshy.APIKeyEnv == "" {
		errs = append(errs, "meshy.api_key_env is required")
	}
	if !validTopologies[c.Meshy.Topology] {
		errs = append(errs, fmt.Sprintf("invalid topology %q (choose from triangle, quad)", c.Meshy.Topology))
	}
	if !validAIModels[c.Meshy.AIModel] {
		errs = append(errs, fmt.Sprintf("invalid ai_model %q (choose from meshy-5, meshy-4)", c.Meshy.AIModel))
	}
	if c.Meshy.HeightMeters <= 0 {
		errs = append(errs, "height_meters must be positive")
	}
	if c.Poll.Interval <= 0 {
		errs = append(errs, "poll.interval must be positive")
	}
	if c.Poll.Timeout <= 0 {
		errs = append(errs, "poll.timeout must be positive")
	}
	if c.HTTP.MaxRetries < 0 {
		errs = append(errs, "http.max_retries must not be negative")
	}
	if c.HTTP.RequestsPerSecond < 0 {
		errs = append(errs, "http.requests_per_second must not be negative")
	}
	if c.HTTP.ChunkSize < 1024 {
		errs = append(errs, "http.chunk_size must be at least 1024 bytes")
	}
	if !validLogLevels[c.Log.Level] {
		errs = append(errs, fmt.Sprintf("invalid log level %q", c.Log.Level))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}
