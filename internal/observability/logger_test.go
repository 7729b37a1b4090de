// internal/observability/logger_test.go
package observability

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"

	"github.com/oeb25/webgraph/internal/config"
)

// testSink is an in-memory WriteSyncer used to capture console output.
type testSink struct {
	strings.Builder
}

func (s *testSink) Sync() error { return nil }

// -- Test Cases --

func TestInitialize(t *testing.T) {
	t.Run("should initialize console logger", func(t *testing.T) {
		ResetForTest()
		sink := &testSink{}

		cfg := config.LoggerConfig{
			Level:       "debug",
			Format:      "console",
			ServiceName: "TestService",
		}
		Initialize(cfg, zapcore.Lock(zapcore.AddSync(sink)))
		logger := GetLogger()
		logger.Info("round completed")

		output := sink.String()
		assert.Contains(t, output, "INFO", "Output should contain the log level")
		assert.Contains(t, output, "round completed", "Output should contain the message")
		assert.Contains(t, output, "TestService.", "Output should contain the service name")
	})

	t.Run("should initialize json logger", func(t *testing.T) {
		ResetForTest()
		sink := &testSink{}

		cfg := config.LoggerConfig{
			Level:       "info",
			Format:      "json",
			ServiceName: "JSONTest",
		}
		Initialize(cfg, zapcore.Lock(zapcore.AddSync(sink)))
		GetLogger().Info("structured entry", zap.Int("round", 3))

		line := strings.TrimSpace(sink.String())
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry), "JSON format must emit parseable lines")
		assert.Equal(t, "structured entry", entry["msg"])
		assert.Equal(t, float64(3), entry["round"])
	})

	t.Run("should fall back to info on a bad level", func(t *testing.T) {
		ResetForTest()
		sink := &testSink{}

		cfg := config.LoggerConfig{Level: "shouting", Format: "json", ServiceName: "BadLevel"}
		Initialize(cfg, zapcore.Lock(zapcore.AddSync(sink)))

		GetLogger().Debug("hidden")
		GetLogger().Info("visible")

		output := sink.String()
		assert.NotContains(t, output, "hidden")
		assert.Contains(t, output, "visible")
	})

	t.Run("second Initialize is a no-op", func(t *testing.T) {
		ResetForTest()
		sink := &testSink{}

		Initialize(config.LoggerConfig{Level: "info", Format: "json", ServiceName: "First"}, zapcore.Lock(zapcore.AddSync(sink)))
		first := GetLogger()

		Initialize(config.LoggerConfig{Level: "debug", Format: "console", ServiceName: "Second"}, zapcore.Lock(zapcore.AddSync(&testSink{})))
		assert.Same(t, first, GetLogger(), "re-initialization must not replace the global logger")
	})
}

func TestGetLoggerFallback(t *testing.T) {
	ResetForTest()
	logger := GetLogger()
	require.NotNil(t, logger, "GetLogger must never return nil, even before Initialize")
}

func TestSyncWithoutInitialize(t *testing.T) {
	ResetForTest()
	// Must not panic with no logger installed.
	Sync()
}

func TestZaptestCompatibility(t *testing.T) {
	// Components take *zap.Logger directly; make sure the zaptest logger
	// satisfies the same surface used across the codebase.
	logger := zaptest.NewLogger(t)
	logger.Named("component").Debug("ok")
}
