package slogx

import (
	"context"
	"github.com/saylorsolutions/eventx/patterns/eventbus"
	"log/slog"
	"time"
)

type startKey struct{}

// DispatchProcessor is an [eventbus.EventProcessor] that logs every dispatch once it completes.
type DispatchProcessor struct {
	logger *slog.Logger
	level  slog.Level
}

// Processor creates a [DispatchProcessor].
// Successful dispatches are logged at the given level, and failed dispatches are logged at [slog.LevelWarn] or the given level, whichever is higher.
func Processor(logger *slog.Logger, level slog.Level) *DispatchProcessor {
	if logger == nil {
		panic("nil logger")
	}
	return &DispatchProcessor{logger: logger, level: level}
}

func (p *DispatchProcessor) Before(ctx context.Context, _ *eventbus.Dispatch) (context.Context, error) {
	return context.WithValue(ctx, startKey{}, time.Now()), nil
}

func (p *DispatchProcessor) After(ctx context.Context, d *eventbus.Dispatch) error {
	level := p.level
	if d.Err != nil && level < slog.LevelWarn {
		level = slog.LevelWarn
	}
	if !p.logger.Enabled(ctx, level) {
		return nil
	}
	attrs := DispatchAttrs(d)
	if start, ok := ctx.Value(startKey{}).(time.Time); ok {
		attrs = append(attrs, slog.Duration("duration", time.Since(start)))
	}
	if d.Err != nil {
		attrs = append(attrs, slog.Any("error", d.Err))
		p.logger.LogAttrs(ctx, level, "Event dispatch failed", attrs...)
		return nil
	}
	p.logger.LogAttrs(ctx, level, "Event dispatched", attrs...)
	return nil
}

// DispatchAttrs describes a dispatch as log attributes.
func DispatchAttrs(d *eventbus.Dispatch) []slog.Attr {
	attrs := []slog.Attr{
		slog.String("key", d.Key.String()),
		slog.Bool("async", d.Async),
		slog.Int("depth", d.Depth),
	}
	if d.Context != nil {
		attrs = append(attrs, slog.String("context", d.Context.Name()))
	}
	if d.Registration != nil {
		attrs = append(attrs,
			slog.String("registration", d.Registration.ID().String()),
			slog.Int("order", d.Registration.Order()),
		)
	}
	return attrs
}
