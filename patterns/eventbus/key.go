package eventbus

import (
	"fmt"
	"reflect"
	"strings"
	"sync"
)

// Key identifies the type of event that listeners are bound to.
// It's made up of a raw type and an optional, ordered list of type arguments, which allows distinguishing shapes like []any carrying ints from []any carrying strings.
//
// Keys are comparable, so two keys are == exactly when their raw types are the same and their type argument lists are element-wise the same.
// The zero Key matches nothing and can't be bound.
type Key struct {
	raw  reflect.Type
	args *argList
}

// KeyOf returns the [Key] for T without type arguments.
func KeyOf[T any]() Key {
	return Key{raw: reflect.TypeFor[T]()}
}

// KeyFor returns the [Key] for the runtime type of v without type arguments.
// This is the key used by [Context.Publish].
// A nil v produces the zero Key.
func KeyFor(v any) Key {
	if v == nil {
		return Key{}
	}
	return Key{raw: reflect.TypeOf(v)}
}

// ParamKey is a generic shortcut for [NewKey] with T as the raw type.
func ParamKey[T any](args ...reflect.Type) (Key, error) {
	return NewKey(reflect.TypeFor[T](), args...)
}

// NewKey creates a [Key] from a raw type and type arguments.
// A [*BindingError] is returned if the raw type is nil, an argument is nil, or the raw type's kind can't carry that many type arguments.
func NewKey(raw reflect.Type, args ...reflect.Type) (Key, error) {
	errs := new(BindingError)
	if raw == nil {
		errs.Add(fmt.Errorf("%w: nil raw type", ErrInvalidKey))
	} else if max := maxTypeArgs(raw); max >= 0 && len(args) > max {
		errs.Add(fmt.Errorf("%w: %s (kind %s) accepts at most %d type arguments, got %d", ErrTypeArgArity, raw, raw.Kind(), max, len(args)))
	}
	for i, arg := range args {
		if arg == nil {
			errs.Add(fmt.Errorf("%w: type argument %d is nil", ErrInvalidKey, i))
		}
	}
	if err := errs.Result(); err != nil {
		return Key{}, err
	}
	return Key{raw: raw, args: internArgs(args)}, nil
}

// MustKey is the same as [NewKey], but panics if the key is invalid.
func MustKey(raw reflect.Type, args ...reflect.Type) Key {
	key, err := NewKey(raw, args...)
	if err != nil {
		panic(err)
	}
	return key
}

// Raw returns the raw type of the Key.
func (k Key) Raw() reflect.Type {
	return k.raw
}

// Args returns a copy of the type arguments of the Key.
func (k Key) Args() []reflect.Type {
	if k.args == nil {
		return nil
	}
	args := make([]reflect.Type, len(k.args.types))
	copy(args, k.args.types)
	return args
}

// IsZero reports whether this is the zero Key.
func (k Key) IsZero() bool {
	return k.raw == nil
}

func (k Key) String() string {
	if k.raw == nil {
		return "<none>"
	}
	if k.args == nil {
		return k.raw.String()
	}
	var buf strings.Builder
	buf.WriteString(k.raw.String())
	buf.WriteByte('[')
	for i, arg := range k.args.types {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteString(arg.String())
	}
	buf.WriteByte(']')
	return buf.String()
}

// maxTypeArgs returns how many type arguments a kind can carry, or -1 for no limit.
func maxTypeArgs(t reflect.Type) int {
	switch t.Kind() {
	case reflect.Slice, reflect.Array, reflect.Chan, reflect.Pointer:
		return 1
	case reflect.Map:
		return 2
	case reflect.Struct, reflect.Interface, reflect.Func:
		return -1
	default:
		return 0
	}
}

// argList is an interned type argument sequence.
// Every distinct sequence maps to exactly one *argList, so pointer equality is sequence equality.
type argList struct {
	types []reflect.Type
	next  map[reflect.Type]*argList
}

var (
	argsMux  sync.Mutex
	argsRoot = &argList{}
)

func internArgs(args []reflect.Type) *argList {
	if len(args) == 0 {
		return nil
	}
	argsMux.Lock()
	defer argsMux.Unlock()
	node := argsRoot
	for i, arg := range args {
		if node.next == nil {
			node.next = map[reflect.Type]*argList{}
		}
		child, ok := node.next[arg]
		if !ok {
			types := make([]reflect.Type, i+1)
			copy(types, args[:i+1])
			child = &argList{types: types}
			node.next[arg] = child
		}
		node = child
	}
	return node
}
