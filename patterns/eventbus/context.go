package eventbus

import (
	"context"
	"errors"
	"fmt"
	"github.com/saylorsolutions/eventx/structures/ranked"
	"github.com/saylorsolutions/eventx/syncx"
	"golang.org/x/sync/semaphore"
	"log/slog"
	"slices"
	"strings"
	"sync"
)

// Context is a named, independent set of bindings from [Key] to ordered listener registrations.
// Each bound key also has a [ListeningPattern] that selects which registrations run when an event is published.
//
// A Context is safe for concurrent use.
// Listener selection always works on a snapshot, so binding and unbinding while publishing never corrupts a dispatch in progress.
type Context struct {
	name     string
	conf     config
	log      *slog.Logger
	sem      *semaphore.Weighted

	asyncMux sync.Mutex
	inflight int
	idle     chan struct{}

	mux      sync.RWMutex
	bindings map[Key]*ranked.Set[*Registration]
	patterns map[Key]ListeningPattern
}

// NewContext creates a standalone [Context].
// Most applications will use [Registry.Create] instead.
func NewContext(name string, opts ...ConfigFunc) (*Context, error) {
	conf, err := defaultConfig().apply(opts...)
	if err != nil {
		return nil, err
	}
	return newContext(name, conf), nil
}

func newContext(name string, conf config) *Context {
	c := &Context{
		name:     name,
		conf:     conf,
		log:      conf.logger.With("context", name),
		bindings: map[Key]*ranked.Set[*Registration]{},
		patterns: map[Key]ListeningPattern{},
	}
	if conf.maxAsync > 0 {
		c.sem = semaphore.NewWeighted(conf.maxAsync)
	}
	return c
}

func (c *Context) Name() string {
	return c.name
}

// Bind adds the registration to the set bound to key.
// If the key wasn't bound before, then its pattern is set to [Broadcast].
// Binding a registration equal to one already bound (same order and listener) does nothing.
func (c *Context) Bind(key Key, reg *Registration) error {
	errs := new(BindingError)
	if key.IsZero() {
		errs.Add(fmt.Errorf("%w: cannot bind the zero key", ErrInvalidKey))
	}
	if reg == nil {
		errs.Add(ErrNilListener)
	}
	if err := errs.Result(); err != nil {
		return err
	}
	added := syncx.LockFuncT(&c.mux, func() bool {
		set, ok := c.bindings[key]
		if !ok {
			set = ranked.New(registrationOrder, (*Registration).Equal)
			c.bindings[key] = set
		}
		if _, ok := c.patterns[key]; !ok {
			c.patterns[key] = Broadcast
		}
		return set.Add(reg)
	})
	if added {
		c.log.Debug("Bound listener", "key", key.String(), "registration", reg.ID().String(), "order", reg.Order(), "async", reg.Async())
	}
	return nil
}

// BindListener binds listener with default settings other than the processor, which may be nil.
func (c *Context) BindListener(key Key, listener Listener, processor EventProcessor) (*Registration, error) {
	reg, err := NewRegistration(listener).Processor(processor).Build()
	if err != nil {
		return nil, err
	}
	if err := c.Bind(key, reg); err != nil {
		return nil, err
	}
	return reg, nil
}

// Unbind removes the registration equal to reg (same order and listener) from key.
// When the last registration of a key is removed, the key's pattern is removed too, so a later bind starts over with [Broadcast].
// Unknown keys are ignored. True is returned if a registration was removed.
func (c *Context) Unbind(key Key, reg *Registration) bool {
	if reg == nil {
		return false
	}
	removed := syncx.LockFuncT(&c.mux, func() bool {
		set, ok := c.bindings[key]
		if !ok {
			return false
		}
		removed := set.Remove(reg)
		if set.Len() == 0 {
			delete(c.bindings, key)
			delete(c.patterns, key)
		}
		return removed
	})
	if removed {
		c.log.Debug("Unbound listener", "key", key.String(), "order", reg.Order())
	}
	return removed
}

// UnbindListener removes a listener that was bound with the default order of 0, like with [Context.BindListener].
func (c *Context) UnbindListener(key Key, listener Listener) bool {
	if listener == nil {
		return false
	}
	return c.Unbind(key, &Registration{listener: listener})
}

// UnbindAll removes every registration and the pattern for key.
func (c *Context) UnbindAll(key Key) {
	syncx.LockFunc(&c.mux, func() {
		delete(c.bindings, key)
		delete(c.patterns, key)
	})
	c.log.Debug("Unbound all listeners", "key", key.String())
}

// SetPattern sets the [ListeningPattern] for a bound key. A nil pattern resets it to [Broadcast].
// [ErrKeyNotBound] is returned if nothing is bound to key, since the pattern would be discarded anyway.
func (c *Context) SetPattern(key Key, pattern ListeningPattern) error {
	if pattern == nil {
		pattern = Broadcast
	}
	return syncx.LockFuncT(&c.mux, func() error {
		if _, ok := c.bindings[key]; !ok {
			return fmt.Errorf("%w: %s", ErrKeyNotBound, key)
		}
		c.patterns[key] = pattern
		return nil
	})
}

// Pattern returns the [ListeningPattern] for key, if it's bound.
func (c *Context) Pattern(key Key) (ListeningPattern, bool) {
	c.mux.RLock()
	defer c.mux.RUnlock()
	pattern, ok := c.patterns[key]
	return pattern, ok
}

// Keys returns the currently bound keys, sorted by their string form.
func (c *Context) Keys() []Key {
	c.mux.RLock()
	keys := make([]Key, 0, len(c.bindings))
	for key := range c.bindings {
		keys = append(keys, key)
	}
	c.mux.RUnlock()
	slices.SortFunc(keys, func(a, b Key) int {
		return strings.Compare(a.String(), b.String())
	})
	return keys
}

// Listeners returns the registrations that a publish to key would run right now, in dispatch order.
//
// The bound registrations are sorted by order, with bind order breaking ties, and passed to the key's [ListeningPattern].
// Only registrations that were passed to the pattern are kept from its selection, and each of them has its last error cleared.
func (c *Context) Listeners(key Key) []*Registration {
	c.mux.RLock()
	set, ok := c.bindings[key]
	pattern := c.patterns[key]
	c.mux.RUnlock()
	if !ok {
		return nil
	}
	if pattern == nil {
		pattern = Broadcast
	}

	candidates := set.Snapshot()
	if len(candidates) == 0 {
		return nil
	}
	ranked.SortStable(candidates, registrationOrder)
	members := make(map[*Registration]bool, len(candidates))
	for _, reg := range candidates {
		members[reg] = true
	}

	selected := pattern.Select(key, slices.Clone(candidates))
	listeners := make([]*Registration, 0, len(selected))
	for _, reg := range selected {
		if !members[reg] {
			continue
		}
		// Selected at most once, even if the pattern repeats a registration.
		members[reg] = false
		reg.setError(nil)
		listeners = append(listeners, reg)
	}
	ranked.SortStable(listeners, registrationOrder)
	return listeners
}

// Clear removes all bindings and patterns. The Context remains usable.
func (c *Context) Clear() {
	syncx.LockFunc(&c.mux, func() {
		c.bindings = map[Key]*ranked.Set[*Registration]{}
		c.patterns = map[Key]ListeningPattern{}
	})
	c.log.Debug("Cleared context")
}

// Publish dispatches event to the listeners bound to the event's runtime type, as given by [KeyFor].
// A listener bound to a key with type arguments can only be reached with [Context.PublishKey].
func (c *Context) Publish(ctx context.Context, event any) error {
	return c.PublishKey(ctx, KeyFor(event), event)
}

// PublishKey dispatches event to the listeners selected for key.
//
// Listeners are started in order. Synchronous listeners run on the calling goroutine, including their processors and any synchronous spreading.
// Asynchronous listeners are started in a new goroutine and the next listener starts without waiting for them.
//
// A failure in one listener never stops the others from running.
// Every failure is handed to the failing registration's [ErrorHandler], and the first error propagated by a synchronous dispatch is returned.
// Publishing a nil event does nothing.
func (c *Context) PublishKey(ctx context.Context, key Key, event any) error {
	if isNil(event) {
		return nil
	}
	depth := spreadDepth(ctx)
	if c.conf.maxSpreadDepth > 0 && depth > c.conf.maxSpreadDepth {
		return fmt.Errorf("%w: limit of %d reached publishing %s", ErrSpreadDepthExceeded, c.conf.maxSpreadDepth, key)
	}

	var first error
	for _, reg := range c.Listeners(key) {
		d := &Dispatch{
			Context:      c,
			Key:          key,
			Event:        event,
			Registration: reg,
			Async:        reg.Async(),
			Depth:        depth,
		}
		var err error
		if d.Async {
			err = c.dispatchAsync(ctx, d)
		} else {
			err = c.dispatch(ctx, d)
		}
		if err == nil {
			continue
		}
		if first == nil {
			first = err
			continue
		}
		c.log.Warn("Additional listener failure during publish", "key", key.String(), "registration", reg.ID().String(), "error", err)
	}
	return first
}

// Wait blocks until no asynchronous dispatches are running, or until ctx is done.
// Dispatches started while waiting, including those spread from running async listeners, are waited on too.
func (c *Context) Wait(ctx context.Context) error {
	idle := syncx.LockFuncT(&c.asyncMux, func() chan struct{} {
		if c.inflight == 0 {
			return nil
		}
		return c.idle
	})
	if idle == nil {
		return nil
	}
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Context) startAsync() {
	syncx.LockFunc(&c.asyncMux, func() {
		if c.inflight == 0 {
			c.idle = make(chan struct{})
		}
		c.inflight++
	})
}

func (c *Context) finishAsync() {
	syncx.LockFunc(&c.asyncMux, func() {
		c.inflight--
		if c.inflight == 0 {
			close(c.idle)
		}
	})
}

type asyncSlotKey struct{}

// holdsAsyncSlot reports whether ctx belongs to an async dispatch that is holding a slot of c's semaphore.
func holdsAsyncSlot(ctx context.Context, c *Context) bool {
	holder, _ := ctx.Value(asyncSlotKey{}).(*Context)
	return holder == c
}

func (c *Context) dispatchAsync(ctx context.Context, d *Dispatch) error {
	if c.sem != nil {
		if holdsAsyncSlot(ctx, c) {
			// Blocking here could wait on the slot held by this goroutine's own ancestor.
			if !c.sem.TryAcquire(1) {
				c.runAsync(ctx, d)
				return nil
			}
		} else if err := c.sem.Acquire(ctx, 1); err != nil {
			return fmt.Errorf("failed to start async listener %s: %w", d.Registration.ID(), err)
		}
	}
	c.startAsync()
	// The listener outlives the publish call, so it must not be cancelled with it.
	asyncCtx := context.WithoutCancel(ctx)
	if c.sem != nil {
		asyncCtx = context.WithValue(asyncCtx, asyncSlotKey{}, c)
	}
	go func() {
		defer c.finishAsync()
		if c.sem != nil {
			defer c.sem.Release(1)
		}
		c.runAsync(asyncCtx, d)
	}()
	return nil
}

// runAsync runs an async dispatch on the current goroutine, reporting failures to the [AsyncErrorHandler].
// It's used directly when the async limit is reached by a dispatch that already holds a slot.
func (c *Context) runAsync(ctx context.Context, d *Dispatch) {
	defer func() {
		if r := recover(); r != nil {
			c.conf.asyncErrors(d, fmt.Errorf("%w: %v", ErrListenerPanic, r))
		}
	}()
	if err := c.dispatch(ctx, d); err != nil {
		c.conf.asyncErrors(d, err)
	}
}

// dispatch runs one registration for one event, wrapped in the registration's processor.
func (c *Context) dispatch(ctx context.Context, d *Dispatch) (err error) {
	if isNil(d.Event) {
		return nil
	}
	reg := d.Registration
	ctx, err = reg.processor.Before(ctx, d)
	if err != nil {
		return err
	}
	var handlerErr error
	defer func() {
		err = errors.Join(handlerErr, reg.processor.After(ctx, d))
	}()

	d.Result, d.Err = c.run(ctx, d)
	if d.Err == nil {
		return nil
	}
	reg.setError(d.Err)
	d.Fallback, handlerErr = reg.onError(ctx, d, d.Err)
	return nil
}

// run invokes the listener and spreads its result, recovering panics from either.
func (c *Context) run(ctx context.Context, d *Dispatch) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrListenerPanic, r)
		}
	}()
	reg := d.Registration
	result, err = reg.listener.Listen(ctx, d.Event)
	if err != nil {
		return nil, err
	}
	if isNil(result) {
		return nil, nil
	}
	reg.setResult(result)
	d.Result = result
	if err := reg.spread.Spread(withSpreadDepth(ctx, d.Depth+1), c, result, d.Event); err != nil {
		return result, err
	}
	return result, nil
}
