package eventbus

import (
	"context"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"sync"
	"testing"
)

func TestInitInstance(t *testing.T) {
	t.Cleanup(func() {
		instanceOnce = sync.Once{}
		instance = nil
	})
	result := InitInstance(MaxAsync(2))
	assert.True(t, result, "Should have configured the global instance")
	assert.Equal(t, int64(2), Instance().conf.maxAsync)
	assert.Equal(t, []string{DefaultContext}, Instance().Names())
	result = InitInstance(MaxAsync(4))
	assert.False(t, result, "Instance was already configured, shouldn't have happened again")
}

func TestInstance_InvalidOptions(t *testing.T) {
	t.Cleanup(func() {
		instanceOnce = sync.Once{}
		instance = nil
	})
	assert.True(t, InitInstance(MaxAsync(-1)))
	assert.Equal(t, int64(0), Instance().conf.maxAsync, "Invalid options should fall back to defaults")
}

func TestNewRegistry_InvalidConfig(t *testing.T) {
	_, err := NewRegistry(MaxSpreadDepth(-1))
	assert.ErrorIs(t, err, ErrConfig)
	_, err = NewRegistry(WithLogger(nil))
	assert.ErrorIs(t, err, ErrConfig)
}

func TestRegistry_Contexts(t *testing.T) {
	r, err := NewRegistry()
	require.NoError(t, err)

	_, err = r.Get("orders")
	assert.ErrorIs(t, err, ErrContextNotFound)
	assert.ErrorIs(t, r.Clear("orders"), ErrContextNotFound)
	_, err = r.Remove("orders")
	assert.ErrorIs(t, err, ErrContextNotFound)

	orders := r.Create("orders")
	assert.Same(t, orders, r.Create("orders"), "Create should return the existing context")
	r.Create("billing")
	assert.Equal(t, []string{"billing", "orders"}, r.Names())

	got, err := r.Get("orders")
	require.NoError(t, err)
	assert.Same(t, orders, got)
	assert.Equal(t, "orders", got.Name())

	removed, err := r.Remove("orders")
	require.NoError(t, err)
	assert.Same(t, orders, removed)
	assert.Equal(t, []string{"billing"}, r.Names())
}

func TestRegistry_Publish(t *testing.T) {
	var rec recorder
	r, err := NewRegistry()
	require.NoError(t, err)

	assert.NoError(t, r.Publish(context.Background(), "orders", orderCreated{}), "Publishing to an unknown context does nothing")
	assert.Empty(t, r.Names(), "Publishing should not create a context")
	assert.False(t, r.Unbind("orders", KeyOf[orderCreated](), nil))
	assert.False(t, r.UnbindListener("orders", KeyOf[orderCreated](), rec.listener("a", nil)))
	r.UnbindAll("orders", KeyOf[orderCreated]())
	assert.Empty(t, r.Names())

	l := rec.listener("bound", nil)
	_, err = r.Bind("orders", KeyOf[orderCreated](), l, nil)
	require.NoError(t, err)
	reg, err := r.BindRegistration("orders", KeyOf[orderShipped](), NewRegistration(rec.listener("shipped", nil)).Order(3))
	require.NoError(t, err)
	assert.Equal(t, []string{"orders"}, r.Names())

	require.NoError(t, r.Publish(context.Background(), "orders", orderCreated{}))
	require.NoError(t, r.PublishKey(context.Background(), "orders", KeyOf[orderShipped](), orderShipped{}))
	require.NoError(t, r.Publish(context.Background(), "billing", orderCreated{}))
	assert.Equal(t, []string{"bound", "shipped"}, rec.Calls())

	assert.True(t, r.UnbindListener("orders", KeyOf[orderCreated](), l))
	assert.True(t, r.Unbind("orders", KeyOf[orderShipped](), reg))
	require.NoError(t, r.Clear("orders"))
	require.NoError(t, r.Wait(context.Background()))
}

func TestRegistry_BindRegistration_Invalid(t *testing.T) {
	r, err := NewRegistry()
	require.NoError(t, err)
	_, err = r.BindRegistration("orders", KeyOf[orderCreated](), nil)
	assert.ErrorIs(t, err, ErrNilListener)
	_, err = r.BindRegistration("orders", KeyOf[orderCreated](), NewRegistration(sliceListener{}))
	assert.ErrorIs(t, err, ErrIncomparable)
}
