package eventbus

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidKey          = errors.New("invalid event key")
	ErrTypeArgArity        = errors.New("type argument arity mismatch")
	ErrNilListener         = errors.New("nil listener")
	ErrIncomparable        = errors.New("listener is not comparable")
	ErrKeyNotBound         = errors.New("key has no bound listeners")
	ErrContextNotFound     = errors.New("context not found")
	ErrListenerPanic       = errors.New("listener panicked")
	ErrUnexpectedEvent     = errors.New("unexpected event type")
	ErrSpreadDepthExceeded = errors.New("spread depth exceeded")
	ErrInvalidMethod       = errors.New("invalid listener method")
	ErrConfig              = errors.New("invalid configuration")
)

// BindingError collects every problem found while validating a binding.
// It's returned at bind time, so a bad key or listener is never deferred to publish time.
//
// A BindingError wraps each collected error, so [errors.Is] can identify the specific problems.
type BindingError struct {
	errs []error
}

// Add appends a potentially nil error.
// Nil errors will not be included.
func (e *BindingError) Add(err error) *BindingError {
	if err != nil {
		e.errs = append(e.errs, err)
	}
	return e
}

// Result returns nil if nothing was collected, otherwise it returns the BindingError itself.
func (e *BindingError) Result() error {
	if len(e.errs) > 0 {
		return e
	}
	return nil
}

func (e *BindingError) Error() string {
	var buf strings.Builder
	buf.WriteString("binding error: ")
	for i, err := range e.errs {
		if i > 0 {
			buf.WriteString("; ")
		}
		buf.WriteString(err.Error())
	}
	return buf.String()
}

func (e *BindingError) Unwrap() []error {
	return e.errs
}

// ListenerError is the default wrapping of a failure raised while dispatching an event to a listener.
// It covers failures from the listener itself, from spreading its result, and recovered panics.
type ListenerError struct {
	Context      string
	Key          Key
	Registration *Registration
	Err          error
}

func (e *ListenerError) Error() string {
	var id string
	if e.Registration != nil {
		id = e.Registration.ID().String()
	}
	return fmt.Sprintf("listener %s failed for key %s in context '%s': %v", id, e.Key, e.Context, e.Err)
}

func (e *ListenerError) Unwrap() error {
	return e.Err
}

func confErrf(msg string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfig, fmt.Sprintf(msg, args...))
}
