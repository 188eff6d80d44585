package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/duke-git/lancet/v2/slice"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return fmt.Sprintf("configuration validation failed:\n  - %s", strings.Join(msgs, "\n  - "))
}

// HasErrors returns true if there are any validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Validator validates configuration values.
type Validator struct {
	errors ValidationErrors
}

// NewValidator creates a new configuration validator.
func NewValidator() *Validator {
	return &Validator{errors: make(ValidationErrors, 0)}
}

func (v *Validator) addError(field, message string) {
	v.errors = append(v.errors, ValidationError{Field: field, Message: message})
}

// Validate validates the entire configuration and returns any errors.
func (v *Validator) Validate(cfg *Config) error {
	v.errors = make(ValidationErrors, 0)

	v.validateServerConfig(&cfg.Server)
	v.validateDatabaseConfig(&cfg.Database)
	v.validateLoggingConfig(&cfg.Logging)
	v.validateEngineConfig(&cfg.Engine)
	v.validateAuditConfig(&cfg.Audit)
	v.validateBroadcastConfig(&cfg.Broadcast, &cfg.Redis)

	if v.errors.HasErrors() {
		return v.errors
	}
	return nil
}

func (v *Validator) validateServerConfig(cfg *ServerConfig) {
	if cfg.Address == "" {
		v.addError("server.address", "address is required")
	} else if !isValidAddress(cfg.Address) {
		v.addError("server.address", "invalid address format, expected host:port or :port")
	}
	if cfg.ReadTimeout < 0 {
		v.addError("server.read_timeout", "read timeout must be non-negative")
	}
	if cfg.WriteTimeout < 0 {
		v.addError("server.write_timeout", "write timeout must be non-negative")
	}
}

func (v *Validator) validateDatabaseConfig(cfg *DatabaseConfig) {
	drivers := []string{"memory", "sqlite", "mysql", "postgres"}
	if !slice.Contain(drivers, cfg.Driver) {
		v.addError("database.driver", fmt.Sprintf("must be one of %s", strings.Join(drivers, ", ")))
		return
	}
	if cfg.Driver != "memory" && cfg.DSN == "" {
		v.addError("database.dsn", "dsn is required for driver "+cfg.Driver)
	}
	if cfg.MaxIdleConns < 0 || cfg.MaxOpenConns < 0 {
		v.addError("database.max_open_conns", "connection pool sizes must be non-negative")
	}
}

func (v *Validator) validateLoggingConfig(cfg *LoggingConfig) {
	if !slice.Contain([]string{"debug", "info", "warn", "error"}, strings.ToLower(cfg.Level)) {
		v.addError("logging.level", "must be one of debug, info, warn, error")
	}
	if !slice.Contain([]string{"json", "console"}, strings.ToLower(cfg.Format)) {
		v.addError("logging.format", "must be one of json, console")
	}
	switch cfg.Output {
	case "", "stdout", "stderr":
	case "file", "both":
		if cfg.FilePath == "" {
			v.addError("logging.file_path", "file path is required when output includes file")
		}
	default:
		v.addError("logging.output", "must be one of stdout, stderr, file, both")
	}
}

func (v *Validator) validateEngineConfig(cfg *EngineConfig) {
	if cfg.MaxHierarchyDepth <= 0 {
		v.addError("engine.max_hierarchy_depth", "max hierarchy depth must be positive")
	}
	if cfg.MaxConcurrent <= 0 {
		v.addError("engine.max_concurrent", "max concurrent must be positive")
	}
	if len(cfg.Environments) == 0 {
		v.addError("engine.environments", "at least one environment is required")
	}
	if cfg.EmergencyAccessMax <= 0 || cfg.EmergencyAccessMax > time.Hour {
		v.addError("engine.emergency_access_max", "emergency access window must be within (0, 1h]")
	}
	if cfg.ExternalCallTimeout < 0 {
		v.addError("engine.external_call_timeout", "external call timeout must be non-negative")
	}

	r := cfg.DefaultRetry
	if r.MaxRetries < 0 {
		v.addError("engine.default_retry.max_retries", "max retries must be non-negative")
	}
	if r.RetryDelay < 0 {
		v.addError("engine.default_retry.retry_delay", "retry delay must be non-negative")
	}
	if r.BackoffMultiplier < 0 {
		v.addError("engine.default_retry.backoff_multiplier", "backoff multiplier must be non-negative")
	}
	if r.MaxRetryDelay > 0 && r.MaxRetryDelay < r.RetryDelay {
		v.addError("engine.default_retry.max_retry_delay", "max retry delay should be at least the retry delay")
	}
}

func (v *Validator) validateAuditConfig(cfg *AuditConfig) {
	if cfg.AppendRetries < 1 {
		v.addError("audit.append_retries", "append retries must be at least 1")
	}
	if cfg.RetryDelay < 0 {
		v.addError("audit.retry_delay", "retry delay must be non-negative")
	}
}

func (v *Validator) validateBroadcastConfig(cfg *BroadcastConfig, redis *RedisConfig) {
	switch cfg.Driver {
	case "memory":
	case "redis":
		if redis.Addr == "" {
			v.addError("redis.addr", "redis address is required for the redis broadcast driver")
		}
	default:
		v.addError("broadcast.driver", "must be one of memory, redis")
	}
}

// isValidAddress checks if the address is a valid host:port or :port format.
func isValidAddress(addr string) bool {
	host, port, err := net.SplitHostPort(addr)
	if err != nil || port == "" {
		return false
	}
	n, err := strconv.Atoi(port)
	if err != nil || n < 0 || n > 65535 {
		return false
	}
	return host == "" || !strings.ContainsAny(host, " /")
}

// Validate validates the configuration using the default validator.
func (c *Config) Validate() error {
	return NewValidator().Validate(c)
}

// LoadAndValidate loads configuration from a file and validates it.
func LoadAndValidate(path string, overrides map[string]string) (*Config, error) {
	cfg, err := NewLoader().WithConfigPath(path).WithCmdArgs(overrides).Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
