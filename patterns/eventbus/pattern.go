package eventbus

import (
	"sync/atomic"
)

// ListeningPattern selects which of the listeners bound to a [Key] run for a single publish.
//
// Select receives the bound registrations sorted by order, and must return a subset of them.
// It must not modify the candidates slice.
// Registrations that weren't in the candidates are dropped, and the selection is re-sorted by order before dispatch.
type ListeningPattern interface {
	Select(key Key, candidates []*Registration) []*Registration
}

// PatternFunc allows using a function as a [ListeningPattern].
type PatternFunc func(key Key, candidates []*Registration) []*Registration

func (f PatternFunc) Select(key Key, candidates []*Registration) []*Registration {
	return f(key, candidates)
}

var (
	// Broadcast runs every bound listener. This is the default pattern for a newly bound key.
	Broadcast ListeningPattern = PatternFunc(func(_ Key, candidates []*Registration) []*Registration {
		return candidates
	})
	// Exclusive runs only the highest priority listener, which is the first after sorting by order.
	Exclusive ListeningPattern = PatternFunc(func(_ Key, candidates []*Registration) []*Registration {
		if len(candidates) == 0 {
			return nil
		}
		return candidates[:1:1]
	})
)

// Filter creates a [ListeningPattern] that runs every listener accepted by the predicate.
func Filter(accept func(reg *Registration) bool) ListeningPattern {
	if accept == nil {
		panic("nil filter predicate")
	}
	return PatternFunc(func(_ Key, candidates []*Registration) []*Registration {
		var selected []*Registration
		for _, reg := range candidates {
			if accept(reg) {
				selected = append(selected, reg)
			}
		}
		return selected
	})
}

type roundRobin struct {
	next atomic.Uint64
}

func (r *roundRobin) Select(_ Key, candidates []*Registration) []*Registration {
	if len(candidates) == 0 {
		return nil
	}
	i := (r.next.Add(1) - 1) % uint64(len(candidates))
	return []*Registration{candidates[i]}
}

// RoundRobin creates a [ListeningPattern] that runs one listener per publish, rotating through the bound listeners in order.
// The returned pattern holds its own position, so it should be set on one key only.
func RoundRobin() ListeningPattern {
	return new(roundRobin)
}
