// Package logging provides the structured slog logger used by cmd/hsmd,
// with a redaction helper that keeps raw secret bytes out of every log line.
package logging

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
)

// Level aliases slog.Level so callers don't need to import log/slog just
// to configure a logger.
type Level = slog.Level

// Log levels.
const (
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
)

// Format selects the slog handler used for output.
type Format int

const (
	// FormatText is human-readable, for an attached serial console.
	FormatText Format = iota
	// FormatJSON is for log aggregation when hsmd runs as a daemon.
	FormatJSON
)

// Config configures New.
type Config struct {
	Level     Level
	Format    Format
	Component string
}

// DefaultConfig returns an info-level, text-format Config for the "hsmd"
// component. cmd/hsmd builds its Config from [config.Config] instead.
func DefaultConfig() Config {
	return Config{Level: LevelInfo, Format: FormatText, Component: "hsmd"}
}

// New builds a *slog.Logger writing to w (os.Stderr when w is nil) per cfg.
func New(cfg Config, w *os.File) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: cfg.Level}

	var handler slog.Handler
	if cfg.Format == FormatJSON {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	logger := slog.New(handler)
	if cfg.Component != "" {
		logger = logger.With(slog.String("component", cfg.Component))
	}
	return logger
}

// SecretFingerprint summarizes secret for safe logging: its length and an
// 8-character hex prefix of its SHA-256 hash. It is never sufficient to
// recover or distinguish the secret's actual bytes, only to correlate two
// log lines that referenced the same value.
func SecretFingerprint(secret []byte) string {
	if len(secret) == 0 {
		return "empty"
	}
	sum := sha256.Sum256(secret)
	return fmt.Sprintf("len=%d fp=%s", len(secret), hex.EncodeToString(sum[:4]))
}

// WithRequestID returns a child of logger that adds a request_id attribute
// to every line it writes.
func WithRequestID(logger *slog.Logger, requestID string) *slog.Logger {
	return logger.With(slog.String("request_id", requestID))
}

type ctxKey struct{}

// IntoContext stores logger in ctx for retrieval by FromContext.
func IntoContext(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, logger)
}

// FromContext retrieves a logger stored by IntoContext, or slog.Default()
// if none was stored.
func FromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}
