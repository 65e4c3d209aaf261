// Package logger provides leveled structured logging.
package logger

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures the default logger.
type Options struct {
	Level  string
	Format string // json or text

	// File enables a rotating log file in addition to stderr.
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

var defaultLogger = zerolog.New(io.Discard)

// Configure initializes the default logger from opts.
func Configure(opts Options) {
	defaultLogger = New(opts, os.Stderr)
}

// New builds a logger writing to out and, if opts.File is set, to a rotating file.
func New(opts Options, out io.Writer) zerolog.Logger {
	var console io.Writer = out
	if strings.ToLower(opts.Format) == "text" {
		console = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	writers := []io.Writer{console}
	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err == nil {
			writers = append(writers, &lumberjack.Logger{
				Filename:   opts.File,
				MaxSize:    opts.MaxSizeMB,
				MaxBackups: opts.MaxBackups,
				MaxAge:     opts.MaxAgeDays,
				Compress:   opts.Compress,
			})
		}
	}

	var w io.Writer = writers[0]
	if len(writers) > 1 {
		w = zerolog.MultiLevelWriter(writers...)
	}

	return zerolog.New(w).
		Level(parseLevel(opts.Level)).
		With().
		Timestamp().
		Logger()
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// SetOutput replaces the default logger with one writing JSON to w. Used by tests.
func SetOutput(w io.Writer, level string) {
	defaultLogger = New(Options{Level: level, Format: "json"}, w)
}

// With returns a child of the default logger carrying key=value.
func With(key string, value interface{}) zerolog.Logger {
	return defaultLogger.With().Interface(key, value).Logger()
}

func Debug(format string, args ...interface{}) {
	defaultLogger.Debug().Msgf(format, args...)
}

func Info(format string, args ...interface{}) {
	defaultLogger.Info().Msgf(format, args...)
}

func Warn(format string, args ...interface{}) {
	defaultLogger.Warn().Msgf(format, args...)
}

func Error(format string, args ...interface{}) {
	defaultLogger.Error().Msgf(format, args...)
}

