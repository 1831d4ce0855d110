package eventbus

import (
	"context"
	"github.com/google/uuid"
	"sync"
)

// ErrorHandler is called when dispatching to a listener fails.
// The failure may come from the listener itself, from spreading its result, or from a recovered panic.
//
// The fallback value is recorded in [Dispatch.Fallback] and is otherwise ignored by the dispatch loop.
// A non-nil returned error is propagated to whatever started the dispatch: the publisher for synchronous listeners, and the context's async error handler for asynchronous listeners.
type ErrorHandler func(ctx context.Context, d *Dispatch, err error) (fallback any, propagate error)

// DefaultErrorHandler wraps the failure in a [*ListenerError] and propagates it.
func DefaultErrorHandler(_ context.Context, d *Dispatch, err error) (any, error) {
	return nil, &ListenerError{
		Context:      d.contextName(),
		Key:          d.Key,
		Registration: d.Registration,
		Err:          err,
	}
}

// Swallow is an [ErrorHandler] that drops the failure.
// The failure is still available from [Registration.LastError] and [Dispatch.Err].
func Swallow(context.Context, *Dispatch, error) (any, error) {
	return nil, nil
}

// Fallback creates an [ErrorHandler] that records val as the fallback result and drops the failure.
func Fallback(val any) ErrorHandler {
	return func(context.Context, *Dispatch, error) (any, error) {
		return val, nil
	}
}

// Registration decorates a [Listener] with the metadata used to dispatch to it.
// Registrations are created with [NewRegistration] and are immutable apart from the last result and error diagnostics.
type Registration struct {
	id        uuid.UUID
	listener  Listener
	order     int
	async     bool
	spread    SpreadPattern
	processor EventProcessor
	onError   ErrorHandler

	mux        sync.RWMutex
	lastResult any
	lastErr    error
}

// ID is a unique identifier generated for the Registration, which is useful for logging.
func (r *Registration) ID() uuid.UUID {
	return r.id
}

func (r *Registration) Listener() Listener {
	return r.listener
}

// Order is the priority of the Registration. Lower values run first.
func (r *Registration) Order() int {
	return r.order
}

func (r *Registration) Async() bool {
	return r.async
}

func (r *Registration) SpreadPattern() SpreadPattern {
	return r.spread
}

func (r *Registration) Processor() EventProcessor {
	return r.processor
}

// LastResult is the non-nil result of the most recent successful dispatch.
//
// This and [Registration.LastError] are best-effort diagnostics.
// Overlapping dispatches of the same Registration overwrite each other, so use the [Dispatch] passed to processors and error handlers for per-call state.
func (r *Registration) LastResult() any {
	r.mux.RLock()
	defer r.mux.RUnlock()
	return r.lastResult
}

// LastError is the failure of the current or most recent dispatch.
// It's cleared whenever the Registration is selected for a new dispatch.
func (r *Registration) LastError() error {
	r.mux.RLock()
	defer r.mux.RUnlock()
	return r.lastErr
}

// Equal reports whether both registrations have the same order and the same listener.
func (r *Registration) Equal(other *Registration) bool {
	if r == nil || other == nil {
		return r == other
	}
	return r.order == other.order && sameListener(r.listener, other.listener)
}

func (r *Registration) setResult(result any) {
	r.mux.Lock()
	defer r.mux.Unlock()
	r.lastResult = result
}

func (r *Registration) setError(err error) {
	r.mux.Lock()
	defer r.mux.Unlock()
	r.lastErr = err
}

func registrationOrder(r *Registration) int {
	return r.order
}

// Builder configures a [Registration].
type Builder struct {
	reg Registration
}

// NewRegistration starts building a [Registration] for the listener.
// Defaults are order 0, synchronous dispatch, [Edge] spreading, [NoopProcessor] and [DefaultErrorHandler].
func NewRegistration(listener Listener) *Builder {
	return &Builder{reg: Registration{
		listener:  listener,
		spread:    Edge,
		processor: NoopProcessor,
		onError:   DefaultErrorHandler,
	}}
}

// Order sets the priority. Lower values run first, and equal values run in bind order.
func (b *Builder) Order(order int) *Builder {
	b.reg.order = order
	return b
}

// Async sets whether the listener runs in its own goroutine without blocking the publisher.
func (b *Builder) Async(async bool) *Builder {
	b.reg.async = async
	return b
}

// Spread sets the [SpreadPattern]. A nil pattern is ignored.
func (b *Builder) Spread(pattern SpreadPattern) *Builder {
	if pattern != nil {
		b.reg.spread = pattern
	}
	return b
}

// Processor sets the [EventProcessor]. A nil processor is ignored.
func (b *Builder) Processor(processor EventProcessor) *Builder {
	if processor != nil {
		b.reg.processor = processor
	}
	return b
}

// OnError sets the [ErrorHandler]. A nil handler is ignored.
func (b *Builder) OnError(handler ErrorHandler) *Builder {
	if handler != nil {
		b.reg.onError = handler
	}
	return b
}

// Build validates the listener and creates the [Registration].
// Each call creates a new Registration with a new ID.
func (b *Builder) Build() (*Registration, error) {
	if err := checkListener(b.reg.listener); err != nil {
		return nil, new(BindingError).Add(err).Result()
	}
	return &Registration{
		id:        uuid.New(),
		listener:  b.reg.listener,
		order:     b.reg.order,
		async:     b.reg.async,
		spread:    b.reg.spread,
		processor: b.reg.processor,
		onError:   b.reg.onError,
	}, nil
}
