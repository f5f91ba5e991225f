package telemetry

import (
	"bytes"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogLevel(t *testing.T) {
	tests := []struct {
		env  string
		want slog.Level
	}{
		{"DEBUG", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"WARN", slog.LevelWarn},
		{"ERROR", slog.LevelError},
		{"", slog.LevelInfo},
		{"garbage", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run("LOG_LEVEL="+tt.env, func(t *testing.T) {
			t.Setenv("LOG_LEVEL", tt.env)
			assert.Equal(t, tt.want, LogLevel())
		})
	}
}

func TestNewLogger_JSONFormat(t *testing.T) {
	t.Setenv("LOG_FORMAT", "json")
	t.Setenv("LOG_LEVEL", "")

	var buf bytes.Buffer
	logger := NewLogger(&buf)
	logger.Info("scenario started", "steps", 3)

	out := buf.String()
	assert.Contains(t, out, `"msg":"scenario started"`)
	assert.Contains(t, out, `"steps":3`)
}

func TestWithRun(t *testing.T) {
	t.Setenv("LOG_FORMAT", "")
	t.Setenv("LOG_LEVEL", "")

	var buf bytes.Buffer
	logger := WithRun(NewLogger(&buf), "run-1", "reindex_db_interleave")
	logger.Info("step finished")

	out := buf.String()
	assert.Contains(t, out, "run_id=run-1")
	assert.Contains(t, out, "scenario=reindex_db_interleave")
}

func TestMetrics_Observe(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.ObserveStep("pass", 100*time.Millisecond)
	m.ObserveStep("pass", 200*time.Millisecond)
	m.ObserveStep("fail", time.Second)
	m.ObservePolls(5)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.StepsTotal.WithLabelValues("pass")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StepsTotal.WithLabelValues("fail")))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.PollCycles))

	count, err := reg.Gather()
	require.NoError(t, err)
	assert.Len(t, count, 3)
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.ObserveStep("pass", time.Second)
	m.ObservePolls(3)
}
