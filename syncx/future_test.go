package syncx

import (
	"context"
	"errors"
	"github.com/stretchr/testify/assert"
	"sync"
	"testing"
	"time"
)

func TestFuture_Await(t *testing.T) {
	var (
		mux   sync.Mutex
		order = make([]int, 0, 4)
	)
	appendOrder := func(i int) {
		mux.Lock()
		defer mux.Unlock()
		order = append(order, i)
	}
	f := NewFuture[int]()
	appendOrder(1)
	go func() {
		time.Sleep(100 * time.Millisecond)
		appendOrder(2)
		f.Resolve(3)

		// Subsequent calls don't change anything.
		f.Resolve(5)
		f.Resolve(6)
	}()
	appendOrder(f.Await())
	assert.Equal(t, 3, f.Await(), "The same value should be returned again with Await")
	appendOrder(4)
	assert.Equal(t, []int{1, 2, 3, 4}, order, "Processing should happen in the expected order")
}

func TestFutureErr_AwaitErr_Timeout(t *testing.T) {
	f := NewFutureErr[int]()
	go func() {
		time.Sleep(150 * time.Millisecond)
		f.ResolveErr(5, nil)
	}()
	for i := 0; i < 3; i++ {
		val, err := f.AwaitErr(30 * time.Millisecond)
		assert.Equal(t, 0, val)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	}
	val, err := f.AwaitErr()
	assert.Equal(t, 5, val)
	assert.NoError(t, err)
}

func TestFutureErr_AwaitCtx_Cancelled(t *testing.T) {
	f := NewFutureErr[string]()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.AwaitCtx(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStaticFuture(t *testing.T) {
	f := StaticFuture("done")
	assert.Equal(t, "done", f.Await(time.Millisecond))
	val, err := f.AwaitAny(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, "done", val)
}

func TestGo(t *testing.T) {
	errBoom := errors.New("boom")
	ok := Go(func() (int, error) {
		return 42, nil
	})
	failed := Go(func() (int, error) {
		return 0, errBoom
	})

	val, err := ok.AwaitErr(time.Second)
	assert.NoError(t, err)
	assert.Equal(t, 42, val)

	var awaitable Awaitable = failed
	_, err = awaitable.AwaitAny(context.Background())
	assert.ErrorIs(t, err, errBoom)
}

func TestLockFuncT(t *testing.T) {
	var (
		mux   sync.RWMutex
		count int
		wg    sync.WaitGroup
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			LockFunc(&mux, func() {
				count++
			})
		}()
	}
	wg.Wait()
	assert.Equal(t, 20, RLockFuncT(&mux, func() int { return count }))
	assert.Equal(t, 21, LockFuncT(&mux, func() int {
		count++
		return count
	}))
}
