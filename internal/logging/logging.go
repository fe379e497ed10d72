// Package logging builds the process logger and adapts it to the logger
// interface expected by go-pq-cdc.
package logging

import (
	"fmt"
	"strings"

	"github.com/Trendyol/go-pq-cdc/logger"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	FormatJSON    = "json"
	FormatConsole = "console"
)

func ParseLevel(level string) (zapcore.Level, error) {
	if level == "" {
		return zapcore.InfoLevel, nil
	}
	lvl, err := zapcore.ParseLevel(strings.ToLower(level))
	if err != nil {
		return lvl, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	return lvl, nil
}

// New returns a production (json) or development (console) logger at level.
func New(level, format string) (*zap.Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}

	var cfg zap.Config
	switch format {
	case "", FormatJSON:
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "time"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	case FormatConsole:
		cfg = zap.NewDevelopmentConfig()
	default:
		return nil, fmt.Errorf("invalid log format %q", format)
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}

type cdcLogger struct {
	s *zap.SugaredLogger
}

// CDC adapts l to go-pq-cdc. The key/value pairs passed by the library are
// kept as structured fields.
func CDC(l *zap.Logger) logger.Logger {
	return &cdcLogger{s: l.WithOptions(zap.AddCallerSkip(1)).Sugar()}
}

func (l *cdcLogger) Debug(msg string, args ...any) { l.s.Debugw(msg, args...) }
func (l *cdcLogger) Info(msg string, args ...any)  { l.s.Infow(msg, args...) }
func (l *cdcLogger) Warn(msg string, args ...any)  { l.s.Warnw(msg, args...) }
func (l *cdcLogger) Error(msg string, args ...any) { l.s.Errorw(msg, args...) }
