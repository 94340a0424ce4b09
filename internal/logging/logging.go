// Package logging builds the zerolog logger used across the hedger and the
// event helpers that give breaches and recommendations a stable log shape.
package logging

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"

	"spot-hedger/internal/models"
)

// LogConfig holds logging configuration.
type LogConfig struct {
	Level      string
	Console    bool
	File       bool
	FilePath   string
	MaxSize    int // megabytes
	MaxBackups int
	MaxAge     int // days

	// Out replaces stderr as the console destination.
	Out io.Writer
}

// New builds a logger writing to the console, a rotated file, or both.
// With neither enabled it writes JSON lines to Out.
func New(cfg LogConfig) zerolog.Logger {
	out := cfg.Out
	if out == nil {
		out = os.Stderr
	}

	var writers []io.Writer
	if cfg.Console {
		writers = append(writers, zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.RFC3339,
			NoColor:    !colorable(out),
		})
	}
	if cfg.File && cfg.FilePath != "" {
		if f := rotatingFile(cfg); f != nil {
			writers = append(writers, f)
		}
	}

	var w io.Writer
	switch len(writers) {
	case 0:
		w = out
	case 1:
		w = writers[0]
	default:
		w = zerolog.MultiLevelWriter(writers...)
	}

	return zerolog.New(w).Level(ParseLevel(cfg.Level)).With().Timestamp().Logger()
}

// rotatingFile returns nil when the log directory cannot be created; the
// console writer still works in that case.
func rotatingFile(cfg LogConfig) *lumberjack.Logger {
	if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0755); err != nil {
		return nil
	}
	return &lumberjack.Logger{
		Filename:   cfg.FilePath,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   true,
	}
}

func colorable(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && isatty.IsTerminal(f.Fd())
}

// ParseLevel maps a configured level name to a zerolog level. "warning"
// is accepted; unknown names fall back to info.
func ParseLevel(level string) zerolog.Level {
	level = strings.ToLower(strings.TrimSpace(level))
	if level == "warning" {
		level = "warn"
	}
	l, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		return zerolog.InfoLevel
	}
	return l
}

// WithAccount adds an account ID to the logger context.
func WithAccount(logger zerolog.Logger, accountID string) zerolog.Logger {
	return logger.With().Str("account", accountID).Logger()
}

// WithStrategy adds a strategy name to the logger context.
func WithStrategy(logger zerolog.Logger, strategy string) zerolog.Logger {
	return logger.With().Str("strategy", strategy).Logger()
}

// LogBreach logs a threshold breach.
func LogBreach(logger zerolog.Logger, b models.Breach) {
	logger.Warn().
		Str("event", "breach").
		Str("account", b.AccountID).
		Str("scope", b.Scope()).
		Str("metric", string(b.Metric)).
		Float64("observed", b.Observed).
		Float64("limit", b.Limit).
		Float64("severity", b.Severity).
		Msg("Risk threshold breached")
}

// LogRecommendation logs a computed hedge.
func LogRecommendation(logger zerolog.Logger, rec *models.HedgeRecommendation) {
	logger.Info().
		Str("event", "recommendation").
		Str("id", rec.ID).
		Str("account", rec.AccountID).
		Str("strategy", rec.Strategy).
		Str("underlying", rec.Underlying).
		Float64("size", rec.Size).
		Float64("estimated_cost", rec.EstimatedCost).
		Str("urgency", rec.Urgency.String()).
		Msg("Hedge recommended")
}

// LogStalePrice logs a position that could not be marked to market.
func LogStalePrice(logger zerolog.Logger, accountID, symbol string, err error) {
	logger.Warn().
		Str("event", "stale_price").
		Str("account", accountID).
		Str("symbol", symbol).
		Err(err).
		Msg("Price unavailable, position excluded")
}
