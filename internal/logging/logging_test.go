package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spot-hedger/internal/models"
)

func decode(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	return out
}

func TestLogBreach(t *testing.T) {
	var buf bytes.Buffer
	logger := WithAccount(zerolog.New(&buf), "alice")

	LogBreach(logger, models.Breach{
		AccountID: "alice",
		Metric:    models.MetricDelta,
		Observed:  25,
		Limit:     10,
		Severity:  2.5,
	})

	entry := decode(t, &buf)
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "breach", entry["event"])
	assert.Equal(t, "portfolio", entry["scope"])
	assert.Equal(t, "alice", entry["account"])
	assert.Equal(t, 2.5, entry["severity"])
}

func TestLogRecommendation(t *testing.T) {
	var buf bytes.Buffer
	LogRecommendation(WithStrategy(zerolog.New(&buf), "collar"), &models.HedgeRecommendation{
		ID:       "r1",
		Strategy: "collar",
		Urgency:  models.UrgencyHigh,
	})

	entry := decode(t, &buf)
	assert.Equal(t, "HIGH", entry["urgency"])
	assert.Equal(t, "r1", entry["id"])
}

func TestLogStalePrice(t *testing.T) {
	var buf bytes.Buffer
	LogStalePrice(zerolog.New(&buf), "bob", "SOL", errors.New("no quote"))

	entry := decode(t, &buf)
	assert.Equal(t, "stale_price", entry["event"])
	assert.Equal(t, "SOL", entry["symbol"])
	assert.Equal(t, "no quote", entry["error"])
}

func TestNew_Level(t *testing.T) {
	var buf bytes.Buffer
	logger := New(LogConfig{Level: "warn", Out: &buf})

	logger.Info().Msg("hidden")
	assert.Zero(t, buf.Len())

	logger.Warn().Msg("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestNew_ConsoleToBufferHasNoColor(t *testing.T) {
	var buf bytes.Buffer
	logger := New(LogConfig{Level: "info", Console: true, Out: &buf})
	logger.Info().Msg("plain")

	assert.Contains(t, buf.String(), "plain")
	assert.NotContains(t, buf.String(), "\x1b[")
}

func TestNew_RotatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "hedger.log")
	logger := New(LogConfig{Level: "info", File: true, FilePath: path, MaxSize: 1})
	logger.Info().Str("account", "alice").Msg("to file")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"account":"alice"`)
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"WARNING", zerolog.WarnLevel},
		{" error ", zerolog.ErrorLevel},
		{"", zerolog.InfoLevel},
		{"verbose", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseLevel(tt.in), tt.in)
	}
}
