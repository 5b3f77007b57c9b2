package app

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger is the app-wide logger type (slog).
type Logger = *slog.Logger

// NewLogger creates the process logger. JSON goes to stdout unless
// ESTATE_LOG_FORMAT=pretty; a configured log file receives the same records
// and is rotated by lumberjack. The returned closer flushes that file.
func NewLogger(cfg Config) (*slog.Logger, io.Closer) {
	var (
		out    io.Writer = os.Stdout
		closer io.Closer = nopCloser{}
	)
	if cfg.LogFile.Path != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.LogFile.Path,
			MaxSize:    cfg.LogFile.MaxSizeMB,
			MaxAge:     cfg.LogFile.MaxAgeDays,
			MaxBackups: cfg.LogFile.MaxBackups,
			Compress:   cfg.LogFile.Compress,
		}
		out = io.MultiWriter(os.Stdout, rotator)
		closer = rotator
	}

	opts := &slog.HandlerOptions{
		Level:     parseLogLevel(cfg.LogLevel),
		AddSource: true,
	}

	var h slog.Handler
	if cfg.LogFormat == "pretty" {
		// Colour only when nothing but a terminal reads the output.
		h = newPrettyHandler(out, opts, cfg.LogFile.Path == "" && isTerminal(os.Stdout))
	} else {
		h = slog.NewJSONHandler(out, opts)
	}

	log := slog.New(h)
	slog.SetDefault(log)
	return log, closer
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func isTerminal(f *os.File) bool {
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
