// internal/observability/logger_test.go
package observability

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xkilldash9x/sessiongate/internal/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// syncBuffer is a goroutine-safe sink for captured log output.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) Sync() error { return nil }

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestInitialize(t *testing.T) {
	t.Run("console format colorizes levels", func(t *testing.T) {
		ResetForTest()
		t.Cleanup(ResetForTest)
		var out syncBuffer

		Initialize(config.LoggerConfig{
			Level:       "debug",
			Format:      "console",
			ServiceName: "gate",
			Colors:      config.ColorConfig{Info: "green"},
		}, zapcore.AddSync(&out))

		GetLogger().Info("browser launched")
		Sync()

		s := out.String()
		assert.Contains(t, s, "browser launched")
		assert.Contains(t, s, colorMap["green"]+"INFO"+colorReset)
		assert.Contains(t, s, "gate.")
	})

	t.Run("json format", func(t *testing.T) {
		ResetForTest()
		t.Cleanup(ResetForTest)
		var out syncBuffer

		Initialize(config.LoggerConfig{Level: "info", Format: "json", ServiceName: "gate"}, zapcore.AddSync(&out))
		GetLogger().Warn("refresh failed", zap.Int("status", 502))
		Sync()

		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(out.String()), &entry))
		assert.Equal(t, "WARN", entry["level"])
		assert.Equal(t, "gate", entry["logger"])
		assert.Equal(t, "refresh failed", entry["msg"])
		assert.EqualValues(t, 502, entry["status"])
	})

	t.Run("writes to the rotated log file", func(t *testing.T) {
		ResetForTest()
		t.Cleanup(ResetForTest)
		logFile := filepath.Join(t.TempDir(), "gate.log")

		Initialize(config.LoggerConfig{Level: "debug", Format: "json", LogFile: logFile, MaxSize: 1}, zapcore.AddSync(&syncBuffer{}))
		GetLogger().Error("profile cleanup failed")
		Sync()

		content, err := os.ReadFile(logFile)
		require.NoError(t, err)
		assert.Contains(t, string(content), "profile cleanup failed")
	})

	t.Run("only the first call takes effect", func(t *testing.T) {
		ResetForTest()
		t.Cleanup(ResetForTest)
		var out syncBuffer

		Initialize(config.LoggerConfig{Level: "info", ServiceName: "first"}, zapcore.AddSync(&out))
		first := GetLogger()
		Initialize(config.LoggerConfig{Level: "debug", ServiceName: "second"}, zapcore.AddSync(&out))

		assert.Same(t, first, GetLogger())
		GetLogger().Info("hello")
		Sync()
		assert.Contains(t, out.String(), "first")
		assert.NotContains(t, out.String(), "second")
	})

	t.Run("unknown level falls back to info", func(t *testing.T) {
		var out syncBuffer
		logger := NewLogger(config.LoggerConfig{Level: "loud", Format: "json"}, zapcore.AddSync(&out))
		logger.Debug("hidden")
		logger.Info("shown")
		assert.NotContains(t, out.String(), "hidden")
		assert.Contains(t, out.String(), "shown")
	})
}

func TestGetLoggerFallback(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)
	assert.NotNil(t, GetLogger())
	assert.Nil(t, globalLogger.Load(), "fallback must not be stored globally")
}

func TestMask(t *testing.T) {
	assert.Equal(t, "", Mask(""))
	assert.Equal(t, "*****", Mask("abcde"))
	assert.Equal(t, "c1a2****(32)", Mask("c1a2b3c4d5e6f7a8b9c0d1e2f3a4b5c6"))
	assert.NotContains(t, Mask("supersecretvalue"), "secret")
}
