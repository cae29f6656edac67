package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

type Options struct {
	Level  string
	Format string
	// File, when set, receives the log through a rotating writer instead of
	// stderr.
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// New builds a logger and the writer behind it. Close the writer on shutdown
// when a log file is in use.
func New(opts Options) (*slog.Logger, io.WriteCloser, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, nil, err
	}
	var out io.WriteCloser = nopCloser{os.Stderr}
	if file := strings.TrimSpace(opts.File); file != "" {
		out = &lumberjack.Logger{
			Filename:   file,
			MaxSize:    positiveOr(opts.MaxSizeMB, 50),
			MaxBackups: positiveOr(opts.MaxBackups, 5),
			MaxAge:     positiveOr(opts.MaxAgeDays, 14),
			Compress:   true,
		}
	}
	logger, err := NewWithWriter(out, level, opts.Format)
	if err != nil {
		_ = out.Close()
		return nil, nil, err
	}
	return logger, out, nil
}

func NewWithWriter(w io.Writer, level slog.Level, format string) (*slog.Logger, error) {
	handlerOpts := &slog.HandlerOptions{Level: level}
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, handlerOpts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, handlerOpts)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
}

func ParseLevel(value string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", value)
	}
}

// Printer adapts a slog logger to the Printf-style logger the sync
// components accept.
type Printer struct {
	logger *slog.Logger
	level  slog.Level
	attrs  []any
}

func Printf(logger *slog.Logger, attrs ...any) *Printer {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Printer{logger: logger, level: slog.LevelInfo, attrs: attrs}
}

func (p *Printer) Printf(format string, args ...any) {
	p.logger.Log(context.Background(), p.level, fmt.Sprintf(format, args...), p.attrs...)
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }

func positiveOr(value, fallback int) int {
	if value > 0 {
		return value
	}
	return fallback
}
