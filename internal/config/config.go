package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"yqhp/orchestration-engine/pkg/logger"
	"yqhp/orchestration-engine/pkg/types"
)

// Config represents the complete configuration for the orchestration engine.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Logging   LoggingConfig   `yaml:"logging"`
	Engine    EngineConfig    `yaml:"engine"`
	Audit     AuditConfig     `yaml:"audit"`
	Broadcast BroadcastConfig `yaml:"broadcast"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Address      string        `yaml:"address" env:"FO_SERVER_ADDRESS"`
	ReadTimeout  time.Duration `yaml:"read_timeout" env:"FO_SERVER_READ_TIMEOUT"`
	WriteTimeout time.Duration `yaml:"write_timeout" env:"FO_SERVER_WRITE_TIMEOUT"`
	EnableCORS   bool          `yaml:"enable_cors" env:"FO_SERVER_ENABLE_CORS"`
}

// DatabaseConfig 持久化配置；driver 为 memory 时不连接数据库
type DatabaseConfig struct {
	Driver       string `yaml:"driver" env:"FO_DB_DRIVER"` // memory, sqlite, mysql, postgres
	DSN          string `yaml:"dsn" env:"FO_DB_DSN"`
	MaxIdleConns int    `yaml:"max_idle_conns" env:"FO_DB_MAX_IDLE_CONNS"`
	MaxOpenConns int    `yaml:"max_open_conns" env:"FO_DB_MAX_OPEN_CONNS"`
	AutoMigrate  bool   `yaml:"auto_migrate" env:"FO_DB_AUTO_MIGRATE"`
	ModelDir     string `yaml:"model_dir" env:"FO_DB_MODEL_DIR"`
}

// RedisConfig holds redis connection settings.
type RedisConfig struct {
	Addr     string `yaml:"addr" env:"FO_REDIS_ADDR"`
	Password string `yaml:"password" env:"FO_REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"FO_REDIS_DB"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `yaml:"level" env:"FO_LOG_LEVEL"`
	Format     string `yaml:"format" env:"FO_LOG_FORMAT"`
	Output     string `yaml:"output" env:"FO_LOG_OUTPUT"`
	FilePath   string `yaml:"file_path" env:"FO_LOG_FILE"`
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"`
}

// LoggerConfig converts to the logger package config.
func (c LoggingConfig) LoggerConfig() *logger.Config {
	return &logger.Config{
		Level:      c.Level,
		Format:     c.Format,
		Output:     c.Output,
		FilePath:   c.FilePath,
		MaxSize:    c.MaxSize,
		MaxBackups: c.MaxBackups,
		MaxAge:     c.MaxAge,
	}
}

// RetryConfig is the retry policy applied to actions that declare none.
type RetryConfig struct {
	MaxRetries        int           `yaml:"max_retries" env:"FO_RETRY_MAX_RETRIES"`
	RetryDelay        time.Duration `yaml:"retry_delay" env:"FO_RETRY_DELAY"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier" env:"FO_RETRY_BACKOFF_MULTIPLIER"`
	MaxRetryDelay     time.Duration `yaml:"max_retry_delay" env:"FO_RETRY_MAX_DELAY"`
}

// Policy converts to a types.RetryPolicy.
func (c RetryConfig) Policy() types.RetryPolicy {
	return types.RetryPolicy{
		MaxRetries:        c.MaxRetries,
		RetryDelay:        c.RetryDelay,
		BackoffMultiplier: c.BackoffMultiplier,
		MaxRetryDelay:     c.MaxRetryDelay,
	}
}

// EngineConfig 编排引擎配置
type EngineConfig struct {
	MaxHierarchyDepth   int           `yaml:"max_hierarchy_depth" env:"FO_ENGINE_MAX_HIERARCHY_DEPTH"`
	MaxConcurrent       int           `yaml:"max_concurrent" env:"FO_ENGINE_MAX_CONCURRENT"`
	ContinueOnError     bool          `yaml:"continue_on_error" env:"FO_ENGINE_CONTINUE_ON_ERROR"`
	Environments        []string      `yaml:"environments" env:"FO_ENGINE_ENVIRONMENTS"`
	EmergencyAccessMax  time.Duration `yaml:"emergency_access_max" env:"FO_ENGINE_EMERGENCY_ACCESS_MAX"`
	ExternalCallTimeout time.Duration `yaml:"external_call_timeout" env:"FO_ENGINE_EXTERNAL_CALL_TIMEOUT"`
	DefaultRetry        RetryConfig   `yaml:"default_retry"`
}

// AuditConfig holds audit pipeline configuration.
type AuditConfig struct {
	AppendRetries int           `yaml:"append_retries" env:"FO_AUDIT_APPEND_RETRIES"`
	RetryDelay    time.Duration `yaml:"retry_delay" env:"FO_AUDIT_RETRY_DELAY"`
}

// BroadcastConfig holds real-time broadcast configuration.
type BroadcastConfig struct {
	Driver        string `yaml:"driver" env:"FO_BROADCAST_DRIVER"` // memory, redis
	ChannelPrefix string `yaml:"channel_prefix" env:"FO_BROADCAST_CHANNEL_PREFIX"`
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Address:      ":8080",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			Driver:       "memory",
			MaxIdleConns: 10,
			MaxOpenConns: 100,
			AutoMigrate:  true,
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "console",
			Output:     "stdout",
			MaxSize:    100,
			MaxBackups: 5,
			MaxAge:     30,
		},
		Engine: EngineConfig{
			MaxHierarchyDepth:   10,
			MaxConcurrent:       10,
			ContinueOnError:     false,
			Environments:        []string{"development", "staging", "production"},
			EmergencyAccessMax:  15 * time.Minute,
			ExternalCallTimeout: 30 * time.Second,
			DefaultRetry: RetryConfig{
				MaxRetries:        0,
				RetryDelay:        time.Second,
				BackoffMultiplier: 2,
				MaxRetryDelay:     30 * time.Second,
			},
		},
		Audit: AuditConfig{
			AppendRetries: 3,
			RetryDelay:    100 * time.Millisecond,
		},
		Broadcast: BroadcastConfig{
			Driver:        "memory",
			ChannelPrefix: "fo:",
		},
	}
}

// Loader handles configuration loading from multiple sources.
type Loader struct {
	configPath string
	envPrefix  string
	cmdArgs    map[string]string
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{
		envPrefix: "FO_",
		cmdArgs:   make(map[string]string),
	}
}

// WithConfigPath sets the path to the YAML configuration file.
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix sets the prefix for environment variables. Tags are declared
// with FO_; a different prefix replaces it at lookup time.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithCmdArgs sets command-line arguments for configuration override.
func (l *Loader) WithCmdArgs(args map[string]string) *Loader {
	l.cmdArgs = args
	return l
}

// Load loads configuration from all sources with proper precedence:
// defaults < YAML file < environment variables < command-line flags
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("从文件加载配置失败: %w", err)
		}
	}

	if err := l.applyEnvToStruct(reflect.ValueOf(cfg).Elem()); err != nil {
		return nil, fmt.Errorf("应用环境变量覆盖失败: %w", err)
	}

	for key, value := range l.cmdArgs {
		if err := setConfigValue(cfg, key, value); err != nil {
			return nil, fmt.Errorf("设置配置值 %s 失败: %w", key, err)
		}
	}

	return cfg, nil
}

// loadFromFile loads configuration from a YAML file. A missing file keeps defaults.
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("读取配置文件失败: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("解析配置文件失败: %w", err)
	}
	return nil
}

// applyEnvToStruct recursively applies environment variables to struct fields.
func (l *Loader) applyEnvToStruct(v reflect.Value) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		if field.Kind() == reflect.Struct {
			if err := l.applyEnvToStruct(field); err != nil {
				return err
			}
			continue
		}

		envTag := fieldType.Tag.Get("env")
		if envTag == "" {
			continue
		}
		if l.envPrefix != "FO_" {
			envTag = l.envPrefix + strings.TrimPrefix(envTag, "FO_")
		}

		envValue := os.Getenv(envTag)
		if envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("从环境变量 %s 设置字段 %s 失败: %w", envTag, fieldType.Name, err)
		}
	}

	return nil
}

// setConfigValue sets a configuration value by dot-notation yaml path,
// e.g. "engine.max_hierarchy_depth".
func setConfigValue(cfg *Config, path, value string) error {
	parts := strings.Split(path, ".")
	v := reflect.ValueOf(cfg).Elem()

	for i, part := range parts {
		field, ok := fieldByYAMLName(v, part)
		if !ok {
			return fmt.Errorf("未知的配置路径: %s", path)
		}

		if i == len(parts)-1 {
			return setFieldValue(field, value)
		}

		if field.Kind() != reflect.Struct {
			return fmt.Errorf("期望 %s 是结构体，实际是 %s", part, field.Kind())
		}
		v = field
	}

	return nil
}

func fieldByYAMLName(v reflect.Value, name string) (reflect.Value, bool) {
	t := v.Type()
	flat := strings.ReplaceAll(name, "_", "")
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		tag := strings.Split(f.Tag.Get("yaml"), ",")[0]
		if tag == name || strings.EqualFold(f.Name, flat) {
			return v.Field(i), true
		}
	}
	return reflect.Value{}, false
}

// setFieldValue sets a reflect.Value from a string value.
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return fmt.Errorf("无法设置字段")
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return fmt.Errorf("无效的时间格式: %w", err)
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return fmt.Errorf("无效的整数: %w", err)
			}
			field.SetInt(i)
		}

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("无效的浮点数: %w", err)
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("无效的布尔值: %w", err)
		}
		field.SetBool(b)

	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("不支持的切片类型: %s", field.Type().Elem().Kind())
		}
		parts := strings.Split(value, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		field.Set(reflect.ValueOf(parts))

	default:
		return fmt.Errorf("不支持的字段类型: %s", field.Kind())
	}

	return nil
}

// Serialize serializes the configuration to YAML bytes.
func (c *Config) Serialize() ([]byte, error) {
	return yaml.Marshal(c)
}

// ParseConfig parses a YAML configuration from bytes on top of the defaults.
func ParseConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}
	return cfg, nil
}

// LoadFromFile loads configuration from a YAML file path.
func LoadFromFile(path string) (*Config, error) {
	return NewLoader().WithConfigPath(path).Load()
}
