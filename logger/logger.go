// Package logger provides the leveled, printf-style logger shared by the
// WebSocket client and the run loop. It is a thin layer over zerolog.
package logger

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Interface is the logging surface used across the module.
type Interface interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// Logger implements Interface on top of a zerolog.Logger.
type Logger struct {
	zl zerolog.Logger
}

var _ Interface = (*Logger)(nil)

// New creates a console logger writing to w at the given level
// ("debug", "info", "warn", "error", "disabled").
//
// Returns an error if the level is unknown.
func New(level string, w io.Writer) (*Logger, error) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	if lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	out := zerolog.ConsoleWriter{Out: w, TimeFormat: time.TimeOnly}

	return &Logger{zl: zerolog.New(out).Level(lvl).With().Timestamp().Logger()}, nil
}

// NewJSON creates a logger emitting raw zerolog JSON lines, for log files.
func NewJSON(level string, w io.Writer) (*Logger, error) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	if lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	return &Logger{zl: zerolog.New(w).Level(lvl).With().Timestamp().Logger()}, nil
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{zl: zerolog.Nop()}
}

// With returns a child logger carrying an extra string field on every line.
func (l *Logger) With(key, value string) *Logger {
	return &Logger{zl: l.zl.With().Str(key, value).Logger()}
}

// Zerolog exposes the underlying zerolog.Logger.
func (l *Logger) Zerolog() zerolog.Logger {
	return l.zl
}

func (l *Logger) Debug(format string, args ...any) { l.zl.Debug().Msgf(format, args...) }
func (l *Logger) Info(format string, args ...any)  { l.zl.Info().Msgf(format, args...) }
func (l *Logger) Warn(format string, args ...any)  { l.zl.Warn().Msgf(format, args...) }
func (l *Logger) Error(format string, args ...any) { l.zl.Error().Msgf(format, args...) }
