package eventbus

import (
	"context"
	"errors"
	"fmt"
	"github.com/saylorsolutions/eventx/syncx"
	"maps"
	"slices"
	"sync"
)

// DefaultContext is the name of the [Context] created by [Instance].
const DefaultContext = "default"

// Registry is a set of named [Context], all created with the same configuration.
// Publishing to a name with no Context does nothing, while binding to a name creates the Context if needed.
type Registry struct {
	conf     config
	mux      sync.RWMutex
	contexts map[string]*Context
}

// NewRegistry creates a [Registry]. The options are validated immediately and applied to every [Context] it creates.
func NewRegistry(opts ...ConfigFunc) (*Registry, error) {
	conf, err := defaultConfig().apply(opts...)
	if err != nil {
		return nil, err
	}
	return &Registry{
		conf:     conf,
		contexts: map[string]*Context{},
	}, nil
}

// Create will return the [Context] with the given name, creating it first if it doesn't exist.
func (r *Registry) Create(name string) *Context {
	if c, ok := r.lookup(name); ok {
		return c
	}
	return syncx.LockFuncT(&r.mux, func() *Context {
		if c, ok := r.contexts[name]; ok {
			return c
		}
		c := newContext(name, r.conf)
		r.contexts[name] = c
		r.conf.logger.Debug("Created context", "context", name)
		return c
	})
}

// Get returns the named [Context], or [ErrContextNotFound].
func (r *Registry) Get(name string) (*Context, error) {
	c, ok := r.lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrContextNotFound, name)
	}
	return c, nil
}

// Remove takes the named [Context] out of the Registry and returns it.
// Asynchronous dispatches already running in the removed Context are not interrupted.
func (r *Registry) Remove(name string) (*Context, error) {
	r.mux.Lock()
	defer r.mux.Unlock()
	c, ok := r.contexts[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrContextNotFound, name)
	}
	delete(r.contexts, name)
	return c, nil
}

// Clear removes every binding from the named [Context], which stays in the Registry.
func (r *Registry) Clear(name string) error {
	c, err := r.Get(name)
	if err != nil {
		return err
	}
	c.Clear()
	return nil
}

// Names returns the sorted names of every [Context] in the Registry.
func (r *Registry) Names() []string {
	return syncx.RLockFuncT(&r.mux, func() []string {
		return slices.Sorted(maps.Keys(r.contexts))
	})
}

func (r *Registry) lookup(name string) (*Context, bool) {
	r.mux.RLock()
	defer r.mux.RUnlock()
	c, ok := r.contexts[name]
	return c, ok
}

// Publish will call [Context.Publish] on the named [Context], if it exists.
func (r *Registry) Publish(ctx context.Context, name string, event any) error {
	c, ok := r.lookup(name)
	if !ok {
		return nil
	}
	return c.Publish(ctx, event)
}

// PublishKey will call [Context.PublishKey] on the named [Context], if it exists.
func (r *Registry) PublishKey(ctx context.Context, name string, key Key, event any) error {
	c, ok := r.lookup(name)
	if !ok {
		return nil
	}
	return c.PublishKey(ctx, key, event)
}

func (r *Registry) Bind(name string, key Key, listener Listener, processor EventProcessor) (*Registration, error) {
	return r.Create(name).BindListener(key, listener, processor)
}

// BindRegistration builds the registration and binds it to key in the named [Context].
func (r *Registry) BindRegistration(name string, key Key, builder *Builder) (*Registration, error) {
	if builder == nil {
		return nil, new(BindingError).Add(ErrNilListener).Result()
	}
	reg, err := builder.Build()
	if err != nil {
		return nil, err
	}
	if err := r.Create(name).Bind(key, reg); err != nil {
		return nil, err
	}
	return reg, nil
}

// BindMethod calls [BindMethod] with the named [Context].
func (r *Registry) BindMethod(name string, host any, method string, spec MethodSpec) (*Registration, error) {
	return BindMethod(r.Create(name), host, method, spec)
}

func (r *Registry) Unbind(name string, key Key, reg *Registration) bool {
	c, ok := r.lookup(name)
	if !ok {
		return false
	}
	return c.Unbind(key, reg)
}

func (r *Registry) UnbindListener(name string, key Key, listener Listener) bool {
	c, ok := r.lookup(name)
	if !ok {
		return false
	}
	return c.UnbindListener(key, listener)
}

func (r *Registry) UnbindAll(name string, key Key) {
	if c, ok := r.lookup(name); ok {
		c.UnbindAll(key)
	}
}

// Wait will call [Context.Wait] for every [Context] in the Registry.
func (r *Registry) Wait(ctx context.Context) error {
	r.mux.RLock()
	contexts := slices.Collect(maps.Values(r.contexts))
	r.mux.RUnlock()
	var errs []error
	for _, c := range contexts {
		if err := c.Wait(ctx); err != nil {
			errs = append(errs, fmt.Errorf("context '%s': %w", c.Name(), err))
		}
	}
	return errors.Join(errs...)
}

var (
	instance     *Registry
	instanceOnce sync.Once
)

// Instance returns the process-wide [Registry], initializing it with default configuration if [InitInstance] hasn't been called.
// The [DefaultContext] is always present in it.
func Instance() *Registry {
	InitInstance()
	return instance
}

// InitInstance initializes the process-wide [Registry] with the given options.
// True is returned if this call initialized it, and false if it was already initialized.
// Invalid options are ignored in favor of the defaults, since there's no way to report them from [Instance].
func InitInstance(opts ...ConfigFunc) bool {
	var initialized bool
	instanceOnce.Do(func() {
		initialized = true
		reg, err := NewRegistry(opts...)
		if err != nil {
			reg, _ = NewRegistry()
		}
		reg.Create(DefaultContext)
		instance = reg
	})
	return initialized
}
