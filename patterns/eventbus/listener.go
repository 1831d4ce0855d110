package eventbus

import (
	"context"
	"fmt"
	"reflect"
)

// Listener is the minimal contract for something that reacts to an event.
// The returned result, if not nil, is handed to the registration's [SpreadPattern].
type Listener interface {
	Listen(ctx context.Context, event any) (any, error)
}

// Equaler may be implemented by a [Listener] to define its own identity.
// This is used to match registrations on unbind.
type Equaler interface {
	Equal(other Listener) bool
}

// ListenerFunc is the signature of a function that can be used as a [Listener] with [Func].
type ListenerFunc func(ctx context.Context, event any) (any, error)

type funcListener struct {
	fn ListenerFunc
}

func (l *funcListener) Listen(ctx context.Context, event any) (any, error) {
	return l.fn(ctx, event)
}

// Func wraps fn in a [Listener].
// Functions can't be compared, so every call to Func returns a distinct listener and the returned value must be kept to unbind it later.
func Func(fn ListenerFunc) Listener {
	if fn == nil {
		panic("nil listener function")
	}
	return &funcListener{fn: fn}
}

type typedListener[E any, R any] struct {
	fn func(ctx context.Context, event E) (R, error)
}

func (l *typedListener[E, R]) Listen(ctx context.Context, event any) (any, error) {
	typed, ok := event.(E)
	if !ok {
		var expected E
		return nil, fmt.Errorf("%w: expected %T, but got %T", ErrUnexpectedEvent, expected, event)
	}
	result, err := l.fn(ctx, typed)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Typed wraps a function that accepts a specific event type in a [Listener].
// Dispatching an event of any other type is a listener failure wrapping [ErrUnexpectedEvent].
// Like [Func], every call returns a distinct listener.
func Typed[E any, R any](fn func(ctx context.Context, event E) (R, error)) Listener {
	if fn == nil {
		panic("nil listener function")
	}
	return &typedListener[E, R]{fn: fn}
}

// Consumer wraps a function that doesn't produce a result, so nothing is ever spread from it.
func Consumer[E any](fn func(ctx context.Context, event E) error) Listener {
	if fn == nil {
		panic("nil listener function")
	}
	return &typedListener[E, any]{fn: func(ctx context.Context, event E) (any, error) {
		return nil, fn(ctx, event)
	}}
}

func checkListener(l Listener) error {
	if l == nil {
		return ErrNilListener
	}
	if _, ok := l.(Equaler); ok {
		return nil
	}
	if !reflect.TypeOf(l).Comparable() {
		return fmt.Errorf("%w: %T must be comparable or implement Equaler", ErrIncomparable, l)
	}
	return nil
}

// sameListener compares listener identity.
// Listeners are validated by checkListener before they are bound, so == can't panic for bound values.
func sameListener(a, b Listener) bool {
	if a == nil || b == nil {
		return a == b
	}
	if eq, ok := a.(Equaler); ok {
		return eq.Equal(b)
	}
	if !reflect.TypeOf(a).Comparable() || !reflect.TypeOf(b).Comparable() {
		return false
	}
	return a == b
}
