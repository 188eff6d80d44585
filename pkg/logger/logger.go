package logger

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	mu  sync.RWMutex
	log *zap.Logger
)

// Config 日志配置
type Config struct {
	Level      string `yaml:"level" env:"FO_LOG_LEVEL"`   // debug, info, warn, error
	Format     string `yaml:"format" env:"FO_LOG_FORMAT"` // json, console
	Output     string `yaml:"output" env:"FO_LOG_OUTPUT"` // stdout, stderr, file, both
	FilePath   string `yaml:"file_path" env:"FO_LOG_FILE"`
	MaxSize    int    `yaml:"max_size"` // MB
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"` // days
}

// DefaultConfig returns console output at info level.
func DefaultConfig() *Config {
	return &Config{
		Level:      "info",
		Format:     "console",
		Output:     "stdout",
		MaxSize:    100,
		MaxBackups: 5,
		MaxAge:     30,
	}
}

// Init 初始化日志；重复调用会替换全局实例
func Init(cfg *Config) {
	l := newLogger(cfg)
	mu.Lock()
	old := log
	log = l
	mu.Unlock()
	if old != nil {
		_ = old.Sync()
	}
}

// SetLogger replaces the global logger, mostly for tests (zaptest/observer).
func SetLogger(l *zap.Logger) {
	mu.Lock()
	log = l
	mu.Unlock()
}

func newLogger(cfg *Config) *zap.Logger {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	enc := newEncoder(cfg.Format)
	var cores []zapcore.Core
	for _, ws := range sinks(cfg) {
		cores = append(cores, zapcore.NewCore(enc, ws, level))
	}
	return zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddCallerSkip(1))
}

// newEncoder: json 用于采集，其余按控制台彩色输出
func newEncoder(format string) zapcore.Encoder {
	ec := zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.MillisDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
	if format == "json" {
		return zapcore.NewJSONEncoder(ec)
	}
	ec.EncodeLevel = zapcore.CapitalColorLevelEncoder
	return zapcore.NewConsoleEncoder(ec)
}

// sinks resolves cfg.Output to write targets; file output is rotated by
// lumberjack.
func sinks(cfg *Config) []zapcore.WriteSyncer {
	rotating := func() zapcore.WriteSyncer {
		return zapcore.AddSync(&lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
		})
	}
	switch cfg.Output {
	case "stderr":
		return []zapcore.WriteSyncer{zapcore.Lock(os.Stderr)}
	case "file":
		if cfg.FilePath != "" {
			return []zapcore.WriteSyncer{rotating()}
		}
	case "both":
		if cfg.FilePath != "" {
			return []zapcore.WriteSyncer{zapcore.Lock(os.Stdout), rotating()}
		}
	}
	return []zapcore.WriteSyncer{zapcore.Lock(os.Stdout)}
}

// L 获取日志实例
func L() *zap.Logger {
	mu.RLock()
	l := log
	mu.RUnlock()
	if l == nil {
		Init(nil)
		mu.RLock()
		l = log
		mu.RUnlock()
	}
	return l
}

// Named returns a component logger without the package-level caller skip.
func Named(component string) *zap.Logger {
	return L().WithOptions(zap.AddCallerSkip(-1)).Named(component)
}

// Debug 调试日志
func Debug(msg string, fields ...zap.Field) {
	L().Debug(msg, fields...)
}

// Info 信息日志
func Info(msg string, fields ...zap.Field) {
	L().Info(msg, fields...)
}

// Warn 警告日志
func Warn(msg string, fields ...zap.Field) {
	L().Warn(msg, fields...)
}

// Error 错误日志
func Error(msg string, fields ...zap.Field) {
	L().Error(msg, fields...)
}

// Fatal 致命错误日志
func Fatal(msg string, fields ...zap.Field) {
	L().Fatal(msg, fields...)
}

// Sync 同步日志
func Sync() {
	mu.RLock()
	l := log
	mu.RUnlock()
	if l != nil {
		_ = l.Sync()
	}
}
