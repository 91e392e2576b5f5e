package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// fanOutHandler is a slog.Handler that dispatches each record to two
// handlers. Used by NewConnectionLogger to write simultaneously to the
// global handler and a connection's dedicated log file.
type fanOutHandler struct {
	primary   slog.Handler
	secondary slog.Handler
}

func (h *fanOutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.primary.Enabled(ctx, level) || h.secondary.Enabled(ctx, level)
}

func (h *fanOutHandler) Handle(ctx context.Context, r slog.Record) error {
	// Check each handler's Enabled() individually so a DEBUG record isn't
	// sent to the primary handler when it only accepts INFO or above.
	if h.primary.Enabled(ctx, r.Level) {
		if err := h.primary.Handle(ctx, r); err != nil {
			return err
		}
	}
	// A write error on the connection file must not block the global log.
	if h.secondary.Enabled(ctx, r.Level) {
		_ = h.secondary.Handle(ctx, r)
	}
	return nil
}

func (h *fanOutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &fanOutHandler{
		primary:   h.primary.WithAttrs(attrs),
		secondary: h.secondary.WithAttrs(attrs),
	}
}

func (h *fanOutHandler) WithGroup(name string) slog.Handler {
	return &fanOutHandler{
		primary:   h.primary.WithGroup(name),
		secondary: h.secondary.WithGroup(name),
	}
}

// NewConnectionLogger creates a logger that writes both to baseLogger
// (global) and to a dedicated file for one connection, at:
//
//	{connectionLogDir}/{socketID}.log
//
// Useful when investigating one misbehaving peer without wading through
// every other connection's traffic. Returns the enriched logger, an
// io.Closer that must be called (defer) once the connection's worker
// exits, and the file's path (connectionLogDir joined with the file name).
//
// If connectionLogDir is empty, returns baseLogger unmodified (no-op).
func NewConnectionLogger(baseLogger *slog.Logger, connectionLogDir, socketID string) (*slog.Logger, io.Closer, string, error) {
	if connectionLogDir == "" {
		return baseLogger, io.NopCloser(nil), "", nil
	}

	if err := os.MkdirAll(connectionLogDir, 0755); err != nil {
		return nil, nil, "", fmt.Errorf("creating connection log directory %s: %w", connectionLogDir, err)
	}

	logPath := filepath.Join(connectionLogDir, socketID+".log")
	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, nil, "", fmt.Errorf("opening connection log file %s: %w", logPath, err)
	}

	// The connection file always uses JSON at DEBUG level for maximum capture.
	fileHandler := slog.NewJSONHandler(f, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	})

	combined := &fanOutHandler{
		primary:   baseLogger.Handler(),
		secondary: fileHandler,
	}

	return slog.New(combined), f, logPath, nil
}

// RemoveConnectionLog removes a finished connection's dedicated log file.
// No-op if connectionLogDir is empty or the file doesn't exist.
func RemoveConnectionLog(connectionLogDir, socketID string) {
	if connectionLogDir == "" {
		return
	}
	os.Remove(filepath.Join(connectionLogDir, socketID+".log"))
}
