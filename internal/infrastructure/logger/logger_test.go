package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	t.Run("builds json logger", func(t *testing.T) {
		log, err := New(&Config{
			Level:      "info",
			Format:     "json",
			Output:     "stdout",
			TimeFormat: "2006-01-02T15:04:05Z07:00",
		})
		require.NoError(t, err)
		assert.NotNil(t, log)
	})

	t.Run("builds console logger", func(t *testing.T) {
		log, err := New(&Config{
			Level:      "debug",
			Format:     "console",
			Output:     "stderr",
			TimeFormat: "2006-01-02T15:04:05Z07:00",
		})
		require.NoError(t, err)
		assert.NotNil(t, log)
	})

	t.Run("writes to a file sink", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "app.log")
		log, err := New(&Config{
			Level:      "info",
			Format:     "json",
			Output:     path,
			TimeFormat: "2006-01-02T15:04:05Z07:00",
		})
		require.NoError(t, err)

		log.Info("payment registered")
		_ = Sync(log)

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(data), "payment registered")
	})

	t.Run("fails when the file sink cannot be opened", func(t *testing.T) {
		_, err := New(&Config{
			Level:      "info",
			Format:     "json",
			Output:     filepath.Join(t.TempDir(), "missing", "nested", "app.log"),
			TimeFormat: "2006-01-02T15:04:05Z07:00",
		})
		assert.Error(t, err)
	})
}

func TestParseLevel(t *testing.T) {
	cases := []struct {
		level string
		want  zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{"DEBUG", zapcore.DebugLevel},
		{"info", zapcore.InfoLevel},
		{"warn", zapcore.WarnLevel},
		{"warning", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
		{"fatal", zapcore.FatalLevel},
		{"nonsense", zapcore.InfoLevel},
		{"", zapcore.InfoLevel},
	}
	for _, tc := range cases {
		t.Run(tc.level, func(t *testing.T) {
			assert.Equal(t, tc.want, parseLevel(tc.level))
		})
	}
}

func TestOpenSink(t *testing.T) {
	for _, output := range []string{"stdout", "STDOUT", "stderr", ""} {
		sink, err := openSink(output)
		require.NoError(t, err)
		assert.NotNil(t, sink)
	}
}

func TestJSONOutputShape(t *testing.T) {
	var buf bytes.Buffer
	core := zapcore.NewCore(
		buildEncoder(&Config{Format: "json", TimeFormat: "2006-01-02T15:04:05Z07:00"}),
		zapcore.AddSync(&buf),
		zapcore.InfoLevel,
	)
	log := zap.New(core)

	log.Info("charge order created", zap.String("order_number", "CO-20250101-00001"))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "charge order created", entry["msg"])
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "CO-20250101-00001", entry["order_number"])
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	core := zapcore.NewCore(
		buildEncoder(&Config{Format: "json", TimeFormat: "2006-01-02T15:04:05Z07:00"}),
		zapcore.AddSync(&buf),
		parseLevel("warn"),
	)
	log := zap.New(core)

	log.Info("suppressed")
	assert.Empty(t, buf.String())

	log.Warn("kept")
	assert.Contains(t, buf.String(), "kept")
}
