// Package logger configures the process-wide slog logger and carries
// request-scoped attributes through contexts.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/config"
)

type ctxKey int

const (
	requestIDKey ctxKey = iota
	identityKey
	indexKey
)

// Setup installs the default logger described by cfg and returns it.
func Setup(cfg config.LoggingConfig) *slog.Logger {
	l := New(os.Stdout, cfg.Level, cfg.Format)
	slog.SetDefault(l)
	return l
}

// New builds a logger writing to w. Format "json" selects the JSON handler,
// anything else the text handler.
func New(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestID returns the request id stored in ctx, or "".
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// WithIdentity records the authenticated user name.
func WithIdentity(ctx context.Context, user string) context.Context {
	return context.WithValue(ctx, identityKey, user)
}

func Identity(ctx context.Context) string {
	user, _ := ctx.Value(identityKey).(string)
	return user
}

// WithIndex records the index a request operates on.
func WithIndex(ctx context.Context, indexName string) context.Context {
	return context.WithValue(ctx, indexKey, indexName)
}

// FromContext returns the default logger annotated with whatever request
// attributes ctx carries.
func FromContext(ctx context.Context) *slog.Logger {
	l := slog.Default()
	if id := RequestID(ctx); id != "" {
		l = l.With("request_id", id)
	}
	if user := Identity(ctx); user != "" {
		l = l.With("user", user)
	}
	if name, ok := ctx.Value(indexKey).(string); ok && name != "" {
		l = l.With("index", name)
	}
	return l
}
