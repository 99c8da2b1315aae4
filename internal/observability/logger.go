package observability

import (
	"context"
	"io"
	"log/slog"
	"strings"

	"github.com/askdb/askdb/internal/config"
)

type ctxKey string

const traceIDKey ctxKey = "trace_id"

const redacted = "[redacted]"

// NewLogger builds the process logger. Records logged with a context that
// carries a trace ID get a trace_id attribute, and attributes whose key
// names a credential are redacted.
func NewLogger(cfg config.Config, writer io.Writer) *slog.Logger {
	if writer == nil {
		writer = io.Discard
	}
	opts := &slog.HandlerOptions{Level: cfg.Observability.LogLevel, ReplaceAttr: redactSecrets}
	var handler slog.Handler
	if cfg.Observability.LogJSON {
		handler = slog.NewJSONHandler(writer, opts)
	} else {
		handler = slog.NewTextHandler(writer, opts)
	}
	return slog.New(traceHandler{Handler: handler}).With(
		slog.String("service", cfg.Service.Name),
		slog.String("profile", string(cfg.Profile)),
	)
}

// OrDiscard returns logger, or a logger that drops everything when nil.
func OrDiscard(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return logger
}

func ContextWithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

func TraceIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(traceIDKey).(string)
	return value
}

type traceHandler struct {
	slog.Handler
}

func (h traceHandler) Handle(ctx context.Context, record slog.Record) error {
	if traceID := TraceIDFromContext(ctx); traceID != "" {
		record.AddAttrs(slog.String("trace_id", traceID))
	}
	return h.Handler.Handle(ctx, record)
}

func (h traceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return traceHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h traceHandler) WithGroup(name string) slog.Handler {
	return traceHandler{Handler: h.Handler.WithGroup(name)}
}

func redactSecrets(_ []string, attr slog.Attr) slog.Attr {
	key := strings.ToLower(attr.Key)
	switch {
	case key == "api_key", key == "authorization", strings.Contains(key, "secret"), strings.Contains(key, "password"):
		return slog.String(attr.Key, redacted)
	}
	return attr
}
