package logging

import (
	"context"
	"log/slog"
	"os"
	"strings"
)

type contextKey string

const (
	RequestIDKey contextKey = "request_id"
	TenantIDKey  contextKey = "tenant_id"
)

// RedactingHandler rewrites attributes that may carry partner credentials
// before they reach the underlying handler.
type RedactingHandler struct {
	slog.Handler
}

func NewLogger(level slog.Level) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: level,
	}
	handler := slog.NewJSONHandler(os.Stdout, opts)
	return slog.New(&RedactingHandler{Handler: handler})
}

func (h *RedactingHandler) Handle(ctx context.Context, r slog.Record) error {
	newRecord := slog.NewRecord(r.Time, r.Level, r.Message, r.PC)
	if reqID, ok := ctx.Value(RequestIDKey).(string); ok {
		newRecord.AddAttrs(slog.String("request_id", reqID))
	}
	if tenantID, ok := ctx.Value(TenantIDKey).(string); ok && tenantID != "" {
		newRecord.AddAttrs(slog.String("tenant_id", tenantID))
	}

	r.Attrs(func(a slog.Attr) bool {
		newRecord.AddAttrs(h.redactAttr(a))
		return true
	})

	return h.Handler.Handle(ctx, newRecord)
}

func (h *RedactingHandler) redactAttr(a slog.Attr) slog.Attr {
	key := strings.ToLower(a.Key)

	switch {
	case key == "x-api-key" || key == "api_key" || key == "apikey":
		return slog.String(a.Key, redactToken(a.Value.String()))

	case key == "authorization":
		return slog.String(a.Key, redactToken(a.Value.String()))

	case key == "secret_key" || key == "secretkey" || key == "s3_secret_key" || key == "access_key_secret":
		return slog.String(a.Key, "***")

	case key == "image_data" || key == "data":
		val := a.Value.String()
		if len(val) > 50 {
			return slog.String(a.Key, val[:50]+"...")
		}
		return a
	}

	if a.Value.Kind() == slog.KindGroup {
		attrs := a.Value.Group()
		newAttrs := make([]slog.Attr, len(attrs))
		for i, attr := range attrs {
			newAttrs[i] = h.redactAttr(attr)
		}
		return slog.Group(a.Key, anySliceToAny(newAttrs)...)
	}

	return a
}

// redactToken keeps a short prefix so operators can still correlate keys
// against the provisioning CLI output.
func redactToken(val string) string {
	val = strings.TrimSpace(val)
	if len(val) <= 6 {
		return "***"
	}
	return val[:6] + "..."
}

func anySliceToAny(attrs []slog.Attr) []any {
	args := make([]any, len(attrs))
	for i, a := range attrs {
		args[i] = a
	}
	return args
}
