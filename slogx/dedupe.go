package slogx

import (
	"context"
	"log/slog"
	"slices"
)

var _ slog.Handler = (*DedupeHandler)(nil)

// DedupeHandler wraps another [slog.Handler] so that each attribute key is written at most once per record.
// When the same key is added more than once, the most recent value wins while keeping the position of the first.
//
// This is useful when layered loggers add the same keys, like an event bus context logger and a dispatch logging processor both adding "key".
type DedupeHandler struct {
	group string
	attrs []slog.Attr
	index map[string]int
	impl  slog.Handler
}

func NewDedupeHandler(impl slog.Handler) slog.Handler {
	if impl == nil {
		panic("nil implementing handler")
	}
	return &DedupeHandler{
		index: map[string]int{},
		impl:  impl,
	}
}

func (h *DedupeHandler) clone() *DedupeHandler {
	index := make(map[string]int, len(h.index))
	for k, v := range h.index {
		index[k] = v
	}
	return &DedupeHandler{
		group: h.group,
		attrs: slices.Clone(h.attrs),
		index: index,
		impl:  h.impl,
	}
}

func (h *DedupeHandler) qualify(key string) string {
	if len(h.group) == 0 {
		return key
	}
	return h.group + "." + key
}

func (h *DedupeHandler) merge(attrs []slog.Attr) {
	for _, attr := range attrs {
		attr.Key = h.qualify(attr.Key)
		if i, ok := h.index[attr.Key]; ok {
			h.attrs[i] = attr
			continue
		}
		h.index[attr.Key] = len(h.attrs)
		h.attrs = append(h.attrs, attr)
	}
}

func (h *DedupeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.impl.Enabled(ctx, level)
}

func (h *DedupeHandler) Handle(ctx context.Context, record slog.Record) error {
	if record.NumAttrs() == 0 {
		return h.impl.WithAttrs(h.attrs).Handle(ctx, record)
	}
	recordAttrs := make([]slog.Attr, 0, record.NumAttrs())
	record.Attrs(func(attr slog.Attr) bool {
		recordAttrs = append(recordAttrs, attr)
		return true
	})
	merged := h.clone()
	merged.merge(recordAttrs)
	stripped := slog.NewRecord(record.Time, record.Level, record.Message, record.PC)
	return h.impl.WithAttrs(merged.attrs).Handle(ctx, stripped)
}

func (h *DedupeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	cp := h.clone()
	cp.merge(attrs)
	return cp
}

func (h *DedupeHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	cp := h.clone()
	cp.group = cp.qualify(name)
	return cp
}
