/*
Package syncx provides small concurrency helpers: futures for values that are resolved later, and closures that run under a lock.
*/
package syncx

import "sync"

// LockFunc runs fn while holding mux.
func LockFunc(mux sync.Locker, fn func()) {
	mux.Lock()
	defer mux.Unlock()
	fn()
}

// LockFuncT runs fn while holding mux and returns its result.
func LockFuncT[T any](mux sync.Locker, fn func() T) T {
	mux.Lock()
	defer mux.Unlock()
	return fn()
}

// RLocker is the read half of a [sync.RWMutex].
type RLocker interface {
	RLock()
	RUnlock()
}

// RLockFuncT runs fn while holding the read lock of mux and returns its result.
func RLockFuncT[T any](mux RLocker, fn func() T) T {
	mux.RLock()
	defer mux.RUnlock()
	return fn()
}
