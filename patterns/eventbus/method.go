package eventbus

import (
	"context"
	"fmt"
	"math"
	"reflect"
)

var (
	ctxType = reflect.TypeFor[context.Context]()
	errType = reflect.TypeFor[error]()
)

type methodListener struct {
	host      any
	name      string
	fn        reflect.Value
	event     reflect.Type
	withCtx   bool
	hasResult bool
	hasErr    bool
}

// Method creates a [Listener] that forwards events to the named exported method of host.
//
// The method must accept the event, optionally preceded by a [context.Context], and may return a result, an error, or both in that order.
// All of these are valid:
//
//	func (h *Host) OnCreated(evt Created)
//	func (h *Host) OnCreated(ctx context.Context, evt Created) error
//	func (h *Host) OnCreated(evt Created) (Updated, error)
//
// Two listeners created by Method are equal if they have the same host and method name.
func Method(host any, name string) (Listener, error) {
	if isNil(host) {
		return nil, fmt.Errorf("%w: nil method host", ErrInvalidMethod)
	}
	fn := reflect.ValueOf(host).MethodByName(name)
	if !fn.IsValid() {
		return nil, fmt.Errorf("%w: %T has no exported method '%s'", ErrInvalidMethod, host, name)
	}
	l := &methodListener{host: host, name: name, fn: fn}
	ft := fn.Type()
	switch ft.NumIn() {
	case 1:
		l.event = ft.In(0)
	case 2:
		if ft.In(0) != ctxType {
			return nil, fmt.Errorf("%w: first parameter of %T.%s must be context.Context when there are two", ErrInvalidMethod, host, name)
		}
		l.withCtx = true
		l.event = ft.In(1)
	default:
		return nil, fmt.Errorf("%w: %T.%s must accept the event and an optional leading context", ErrInvalidMethod, host, name)
	}
	if ft.IsVariadic() {
		return nil, fmt.Errorf("%w: %T.%s must not be variadic", ErrInvalidMethod, host, name)
	}
	switch ft.NumOut() {
	case 0:
	case 1:
		if ft.Out(0) == errType {
			l.hasErr = true
		} else {
			l.hasResult = true
		}
	case 2:
		if ft.Out(1) != errType {
			return nil, fmt.Errorf("%w: second result of %T.%s must be error", ErrInvalidMethod, host, name)
		}
		l.hasResult = true
		l.hasErr = true
	default:
		return nil, fmt.Errorf("%w: %T.%s returns too many values", ErrInvalidMethod, host, name)
	}
	return l, nil
}

func (l *methodListener) Listen(ctx context.Context, event any) (any, error) {
	ev := reflect.ValueOf(event)
	if !ev.IsValid() || !ev.Type().AssignableTo(l.event) {
		return nil, fmt.Errorf("%w: %T.%s expects %s, but got %T", ErrUnexpectedEvent, l.host, l.name, l.event, event)
	}
	args := make([]reflect.Value, 0, 2)
	if l.withCtx {
		args = append(args, reflect.ValueOf(&ctx).Elem())
	}
	args = append(args, ev)
	out := l.fn.Call(args)

	var (
		result any
		err    error
	)
	if l.hasResult {
		result = out[0].Interface()
	}
	if l.hasErr {
		if e := out[len(out)-1].Interface(); e != nil {
			err = e.(error)
		}
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (l *methodListener) Equal(other Listener) bool {
	o, ok := other.(*methodListener)
	if !ok || l.name != o.name {
		return false
	}
	if reflect.TypeOf(l.host) != reflect.TypeOf(o.host) || !reflect.TypeOf(l.host).Comparable() {
		return false
	}
	return l.host == o.host
}

func (l *methodListener) String() string {
	return fmt.Sprintf("%T.%s", l.host, l.name)
}

// MethodSpec describes how a method listener is bound with [BindMethod].
type MethodSpec struct {
	// Order is the registration's priority. When nil, math.MinInt is used so method listeners run before other listeners by default.
	Order *int
	Async bool
	// Spread defaults to [Edge] when nil.
	Spread SpreadPattern
	// Processor defaults to [NoopProcessor] when nil.
	Processor EventProcessor
	// ErrorHandler is the name of a method on the same host that accepts a single error.
	// If the method returns an error, then it's propagated, and any other returned value is used as the fallback.
	// The [DefaultErrorHandler] is used if this is empty or names a method that doesn't exist.
	ErrorHandler string
	// TypeArgs are added to the method's event parameter type to create the binding [Key].
	TypeArgs []reflect.Type
}

// BindMethod binds a method of host as a listener in c, as configured by spec.
// The binding [Key] is the type of the method's event parameter with any type arguments from spec.
// All problems with the method, error handler, and key are reported together in a [*BindingError].
func BindMethod(c *Context, host any, name string, spec MethodSpec) (*Registration, error) {
	errs := new(BindingError)
	listener, err := Method(host, name)
	if err != nil {
		errs.Add(err)
	}
	var key Key
	if listener != nil {
		key, err = NewKey(listener.(*methodListener).event, spec.TypeArgs...)
		if err != nil {
			errs.Add(err)
		}
	}
	handler := DefaultErrorHandler
	if spec.ErrorHandler != "" && !isNil(host) {
		h, found, err := methodErrorHandler(host, spec.ErrorHandler)
		switch {
		case err != nil:
			errs.Add(err)
		case found:
			handler = h
		}
	}
	if err := errs.Result(); err != nil {
		return nil, err
	}

	order := math.MinInt
	if spec.Order != nil {
		order = *spec.Order
	}
	reg, err := NewRegistration(listener).
		Order(order).
		Async(spec.Async).
		Spread(spec.Spread).
		Processor(spec.Processor).
		OnError(handler).
		Build()
	if err != nil {
		return nil, err
	}
	if err := c.Bind(key, reg); err != nil {
		return nil, err
	}
	return reg, nil
}

func methodErrorHandler(host any, name string) (ErrorHandler, bool, error) {
	fn := reflect.ValueOf(host).MethodByName(name)
	if !fn.IsValid() {
		return nil, false, nil
	}
	ft := fn.Type()
	if ft.NumIn() != 1 || ft.IsVariadic() || !errType.AssignableTo(ft.In(0)) {
		return nil, false, fmt.Errorf("%w: error handler %T.%s must accept a single error", ErrInvalidMethod, host, name)
	}
	return func(_ context.Context, _ *Dispatch, err error) (any, error) {
		out := fn.Call([]reflect.Value{reflect.ValueOf(&err).Elem()})
		var (
			fallback  any
			propagate error
		)
		for _, val := range out {
			if val.Type() == errType {
				if e := val.Interface(); e != nil {
					propagate = e.(error)
				}
				continue
			}
			if fallback == nil {
				fallback = val.Interface()
			}
		}
		return fallback, propagate
	}, true, nil
}
