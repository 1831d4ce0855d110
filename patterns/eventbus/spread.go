package eventbus

import (
	"context"
	"fmt"
	"github.com/saylorsolutions/eventx/syncx"
	"reflect"
)

// SpreadPattern decides whether a listener's non-nil result is published as new events in the owning [Context].
// A returned error is treated like a failure of the listener itself.
type SpreadPattern interface {
	Spread(ctx context.Context, c *Context, result, event any) error
}

// SpreadFunc allows using a function as a [SpreadPattern].
type SpreadFunc func(ctx context.Context, c *Context, result, event any) error

func (f SpreadFunc) Spread(ctx context.Context, c *Context, result, event any) error {
	return f(ctx, c, result, event)
}

var (
	// NoSpread never publishes results.
	NoSpread SpreadPattern = SpreadFunc(func(context.Context, *Context, any, any) error {
		return nil
	})
	// Edge publishes a result as a new event unless it looks like the same kind of thing as the event that produced it.
	//
	// Results are unwrapped first:
	//   - A [syncx.Awaitable] is awaited and its value is spread instead. If that value is also an Awaitable, then it's awaited too, so a future handle is never published as an event.
	//   - Slices and arrays, other than []byte, spread each element individually.
	//   - Range-over-func iterators spread each yielded element individually.
	//
	// Each element that has the same concrete type as the original event, or is equal to it, is skipped.
	// Every other element is published with [Context.Publish], going through the whole pipeline again.
	//
	// Edge only stops immediate self loops.
	// Listeners that alternate types (A produces B, B produces A) will spread indefinitely, which is the caller's responsibility to avoid, or to limit with [MaxSpreadDepth].
	Edge SpreadPattern = SpreadFunc(edgeSpread)
)

func edgeSpread(ctx context.Context, c *Context, result, event any) error {
	elements, err := spreadElements(ctx, result)
	if err != nil {
		return err
	}
	eventType := reflect.TypeOf(event)
	for _, el := range elements {
		if isNil(el) {
			continue
		}
		if reflect.TypeOf(el) == eventType || reflect.DeepEqual(el, event) {
			continue
		}
		if err := c.Publish(ctx, el); err != nil {
			return err
		}
	}
	return nil
}

var byteType = reflect.TypeFor[byte]()

func spreadElements(ctx context.Context, result any) ([]any, error) {
	if awaitable, ok := result.(syncx.Awaitable); ok {
		val, err := awaitable.AwaitAny(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to await spread result: %w", err)
		}
		// Awaitables resolving to awaitables are awaited in turn.
		return spreadElements(ctx, val)
	}
	if isNil(result) {
		return nil, nil
	}
	v := reflect.ValueOf(result)
	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		if v.Type().Elem() == byteType {
			return []any{result}, nil
		}
		elements := make([]any, v.Len())
		for i := 0; i < v.Len(); i++ {
			elements[i] = v.Index(i).Interface()
		}
		return elements, nil
	case reflect.Func:
		if !v.Type().CanSeq() {
			return []any{result}, nil
		}
		var elements []any
		for el := range v.Seq() {
			elements = append(elements, el.Interface())
		}
		return elements, nil
	default:
		return []any{result}, nil
	}
}

// isNil reports whether v is nil or a typed nil that can't be dispatched.
func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Chan, reflect.Func, reflect.Interface:
		return rv.IsNil()
	default:
		return false
	}
}
