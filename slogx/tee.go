package slogx

import (
	"context"
	"errors"
	"log/slog"
)

var _ slog.Handler = (*teeHandler)(nil)

type teeHandler struct {
	handlers []slog.Handler
}

// NewTeeHandler creates a [slog.Handler] that passes each record to every given handler that is enabled for its level.
// Nil handlers are ignored, and a single handler is returned as is.
func NewTeeHandler(handlers ...slog.Handler) slog.Handler {
	var nonNil []slog.Handler
	for _, h := range handlers {
		if h != nil {
			nonNil = append(nonNil, h)
		}
	}
	switch len(nonNil) {
	case 0:
		return slog.DiscardHandler
	case 1:
		return nonNil[0]
	default:
		return &teeHandler{handlers: nonNil}
	}
}

func (t *teeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range t.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (t *teeHandler) Handle(ctx context.Context, record slog.Record) error {
	var errs []error
	for _, h := range t.handlers {
		if !h.Enabled(ctx, record.Level) {
			continue
		}
		errs = append(errs, h.Handle(ctx, record.Clone()))
	}
	return errors.Join(errs...)
}

func (t *teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return t.derive(func(h slog.Handler) slog.Handler {
		return h.WithAttrs(attrs)
	})
}

func (t *teeHandler) WithGroup(name string) slog.Handler {
	return t.derive(func(h slog.Handler) slog.Handler {
		return h.WithGroup(name)
	})
}

func (t *teeHandler) derive(fn func(slog.Handler) slog.Handler) slog.Handler {
	derived := make([]slog.Handler, len(t.handlers))
	for i, h := range t.handlers {
		derived[i] = fn(h)
	}
	return &teeHandler{handlers: derived}
}
