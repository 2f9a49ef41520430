package logger

import (
	"context"
	"log/slog"
)

type ctxKey struct{}

// ContextHandler is a slog.Handler wrapper that appends attributes
// carried by the context (see WithAttrs) to every record logged
// through the *Context methods. It lets the distributor tag an entire
// group's processing with the list key once instead of on each call.
type ContextHandler struct {
	slog.Handler
}

func NewContextHandler(handler slog.Handler) *ContextHandler {
	return &ContextHandler{Handler: handler}
}

func (h *ContextHandler) Handle(ctx context.Context, r slog.Record) error {
	if attrs, ok := ctx.Value(ctxKey{}).([]slog.Attr); ok {
		r.AddAttrs(attrs...)
	}

	return h.Handler.Handle(ctx, r)
}

// WithAttrs returns a child context carrying the given attributes in
// addition to any the parent already carries.
func WithAttrs(parent context.Context, attrs ...slog.Attr) context.Context {
	if parent == nil {
		parent = context.Background()
	}

	if v, ok := parent.Value(ctxKey{}).([]slog.Attr); ok {
		v = append(v, attrs...)
		return context.WithValue(parent, ctxKey{}, v)
	}

	return context.WithValue(parent, ctxKey{}, attrs)
}

// ReplaceAttr flattens error values to their string form so text
// output stays single-line.
func ReplaceAttr(_ []string, attr slog.Attr) slog.Attr {
	if attr.Value.Kind() == slog.KindAny {
		if err, ok := attr.Value.Any().(error); ok {
			attr.Value = slog.StringValue(err.Error())
		}
	}

	return attr
}
