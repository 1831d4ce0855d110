package eventbus

import "context"

// Dispatch describes a single delivery of an event to a single [Registration].
// A new Dispatch is created for every listener selected by a publish, so it's safe to read from processors and error handlers even when the same Registration is dispatched concurrently.
type Dispatch struct {
	Context      *Context
	Key          Key
	Event        any
	Registration *Registration
	// Async is true when the dispatch runs in its own goroutine.
	Async bool
	// Depth is the number of spreads that led to this dispatch. Top level publishes have a depth of 0.
	Depth int

	// Result is the listener's result, set once the listener returns successfully.
	Result any
	// Err is the failure of the listener or of spreading its result, if any.
	Err error
	// Fallback is the value returned by the registration's [ErrorHandler].
	Fallback any
}

func (d *Dispatch) contextName() string {
	if d.Context == nil {
		return ""
	}
	return d.Context.Name()
}

type depthKey struct{}

func spreadDepth(ctx context.Context) int {
	depth, _ := ctx.Value(depthKey{}).(int)
	return depth
}

func withSpreadDepth(ctx context.Context, depth int) context.Context {
	return context.WithValue(ctx, depthKey{}, depth)
}
