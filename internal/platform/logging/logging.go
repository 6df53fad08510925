package logging

import (
	"fmt"
	"log/slog"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/exp/zapslog"
	"go.uber.org/zap/zapcore"
)

// Logger pairs the slog front end used by application code with the zap
// core that encodes and writes records.
type Logger struct {
	*slog.Logger
	zap   *zap.Logger
	level zap.AtomicLevel
}

// New builds a JSON production logger at level ("debug", "info", "warn",
// "error"). An empty level means info.
func New(level string) (*Logger, error) {
	atomic, err := resolveLevel(level)
	if err != nil {
		return nil, err
	}

	cfg := zap.NewProductionConfig()
	cfg.Encoding = "json"
	cfg.Level = atomic
	cfg.DisableStacktrace = true
	cfg.EncoderConfig.TimeKey = "time"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder

	built, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build zap logger: %w", err)
	}
	return &Logger{
		Logger: slog.New(zapslog.NewHandler(built.Core())),
		zap:    built,
		level:  atomic,
	}, nil
}

// SetLevel changes the level of every logger derived from l.
func (l *Logger) SetLevel(level string) error {
	parsed, err := resolveLevel(level)
	if err != nil {
		return err
	}
	l.level.SetLevel(parsed.Level())
	return nil
}

// Sync flushes buffered entries. Errors from syncing a terminal are
// expected and ignored by callers.
func (l *Logger) Sync() error {
	if l == nil || l.zap == nil {
		return nil
	}
	return l.zap.Sync()
}

func resolveLevel(raw string) (zap.AtomicLevel, error) {
	value := strings.TrimSpace(strings.ToLower(raw))
	if value == "" {
		return zap.NewAtomicLevelAt(zapcore.InfoLevel), nil
	}
	var parsed zapcore.Level
	if err := parsed.Set(value); err != nil {
		return zap.AtomicLevel{}, fmt.Errorf("invalid log level %q: %w", raw, err)
	}
	return zap.NewAtomicLevelAt(parsed), nil
}
