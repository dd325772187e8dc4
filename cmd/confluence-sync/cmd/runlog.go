package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// teeHandler sends each record to every handler that accepts its level.
type teeHandler []slog.Handler

func (t teeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range t {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (t teeHandler) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range t {
		if h.Enabled(ctx, r.Level) {
			errs = append(errs, h.Handle(ctx, r.Clone()))
		}
	}
	return errors.Join(errs...)
}

func (t teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(teeHandler, len(t))
	for i, h := range t {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (t teeHandler) WithGroup(name string) slog.Handler {
	out := make(teeHandler, len(t))
	for i, h := range t {
		out[i] = h.WithGroup(name)
	}
	return out
}

// openRunLog tees the default logger into <dir>/<name>_YYYYMMDD_HHMMSS.log
// at Info level. The returned func restores the previous logger.
func openRunLog(dir, name string, now time.Time) (string, func(), error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", nil, fmt.Errorf("failed to create log dir: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("%s_%s.log", name, now.Format("20060102_150405")))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return "", nil, fmt.Errorf("failed to open log file: %w", err)
	}

	prev := slog.Default()
	fileHandler := slog.NewTextHandler(f, &slog.HandlerOptions{Level: min(slog.LevelInfo, logLevel())})
	slog.SetDefault(slog.New(teeHandler{prev.Handler(), fileHandler}))

	return path, func() {
		slog.SetDefault(prev)
		f.Close()
	}, nil
}
