package eventbus

import (
	"context"
	"errors"
)

// EventProcessor hooks into the dispatch of a single event to a single listener.
//
// Before is called before the listener, and may return a derived context that's passed to both the listener and After.
// A failure from Before aborts that dispatch: the listener and After are skipped, and the error is returned to the caller of the dispatch.
//
// After is always called once Before succeeded, whether the listener succeeded or not.
// The [Dispatch] given to After reflects only the current call, so [Dispatch.Err] is nil exactly when the listener and its spreading succeeded.
// A failure from After is returned to the caller of the dispatch.
type EventProcessor interface {
	Before(ctx context.Context, d *Dispatch) (context.Context, error)
	After(ctx context.Context, d *Dispatch) error
}

type noopProcessor struct{}

func (noopProcessor) Before(ctx context.Context, _ *Dispatch) (context.Context, error) {
	return ctx, nil
}

func (noopProcessor) After(context.Context, *Dispatch) error {
	return nil
}

// NoopProcessor is the default [EventProcessor]. It does nothing.
var NoopProcessor EventProcessor = noopProcessor{}

// ProcessorFuncs allows building an [EventProcessor] from functions.
// Either function may be nil.
type ProcessorFuncs struct {
	BeforeFunc func(ctx context.Context, d *Dispatch) (context.Context, error)
	AfterFunc  func(ctx context.Context, d *Dispatch) error
}

func (p ProcessorFuncs) Before(ctx context.Context, d *Dispatch) (context.Context, error) {
	if p.BeforeFunc == nil {
		return ctx, nil
	}
	return p.BeforeFunc(ctx, d)
}

func (p ProcessorFuncs) After(ctx context.Context, d *Dispatch) error {
	if p.AfterFunc == nil {
		return nil
	}
	return p.AfterFunc(ctx, d)
}

type chain []EventProcessor

func (c chain) Before(ctx context.Context, d *Dispatch) (context.Context, error) {
	for i, p := range c {
		next, err := p.Before(ctx, d)
		if err != nil {
			// Unwind the processors that already started, letting them see the failure.
			d.Err = err
			return ctx, errors.Join(err, c[:i].after(ctx, d))
		}
		ctx = next
	}
	return ctx, nil
}

func (c chain) After(ctx context.Context, d *Dispatch) error {
	return c.after(ctx, d)
}

func (c chain) after(ctx context.Context, d *Dispatch) error {
	var errs []error
	for i := len(c) - 1; i >= 0; i-- {
		errs = append(errs, c[i].After(ctx, d))
	}
	return errors.Join(errs...)
}

// Chain combines processors into one.
// Before runs in the given order and After runs in reverse order, so the first processor wraps all others.
// If a Before fails, then After is called for the processors that already ran.
func Chain(processors ...EventProcessor) EventProcessor {
	var c chain
	for _, p := range processors {
		if p != nil {
			c = append(c, p)
		}
	}
	switch len(c) {
	case 0:
		return NoopProcessor
	case 1:
		return c[0]
	default:
		return c
	}
}
