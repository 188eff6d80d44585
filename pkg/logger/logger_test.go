package logger

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestSetLogger_CapturesFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	SetLogger(zap.New(core))
	t.Cleanup(func() { Init(nil) })

	Info("execution started", zap.String("executionId", "exec-1"))
	Named("audit").Warn("append failed")

	require.Equal(t, 2, logs.Len())
	entries := logs.All()
	assert.Equal(t, "execution started", entries[0].Message)
	assert.Equal(t, "exec-1", entries[0].ContextMap()["executionId"])
	assert.Equal(t, "audit", entries[1].LoggerName)
}

func TestInit_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.log")
	Init(&Config{Level: "debug", Format: "json", Output: "file", FilePath: path, MaxSize: 1})
	t.Cleanup(func() { Init(nil) })

	Debug("hello")
	Sync()
	assert.FileExists(t, path)
}

func TestInit_UnknownLevelFallsBackToInfo(t *testing.T) {
	l := newLogger(&Config{Level: "loud"})
	assert.True(t, l.Core().Enabled(zapcore.InfoLevel))
	assert.False(t, l.Core().Enabled(zapcore.DebugLevel))
}

func TestSinks(t *testing.T) {
	assert.Len(t, sinks(&Config{Output: "stdout"}), 1)
	assert.Len(t, sinks(&Config{Output: "stderr"}), 1)
	assert.Len(t, sinks(&Config{Output: "both", FilePath: filepath.Join(t.TempDir(), "x.log")}), 2)
	// 未配置文件路径时回退到 stdout
	assert.Len(t, sinks(&Config{Output: "file"}), 1)
}
