package eventbus

import (
	"bytes"
	"context"
	"errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"log/slog"
	"testing"
)

func TestConfigFuncs_InvalidInput(t *testing.T) {
	conf := defaultConfig()
	assert.ErrorIs(t, MaxAsync(-1)(&conf), ErrConfig)
	assert.ErrorIs(t, MaxSpreadDepth(-1)(&conf), ErrConfig)
	assert.ErrorIs(t, WithLogger(nil)(&conf), ErrConfig)
	assert.ErrorIs(t, OnAsyncError(nil)(&conf), ErrConfig)
	assert.Equal(t, int64(0), conf.maxAsync)
	assert.Equal(t, 0, conf.maxSpreadDepth)

	_, err := NewContext("invalid", MaxAsync(-1))
	assert.ErrorIs(t, err, ErrConfig)
}

func TestLoadEnvConfig(t *testing.T) {
	t.Setenv("EVENTX_MAX_ASYNC", "8")
	t.Setenv("EVENTX_MAX_SPREAD_DEPTH", "16")
	conf, err := LoadEnvConfig()
	require.NoError(t, err)
	assert.Equal(t, EnvConfig{MaxAsync: 8, MaxSpreadDepth: 16}, conf)

	opts, err := ConfigFromEnv()
	require.NoError(t, err)
	c, err := NewContext("env", opts...)
	require.NoError(t, err)
	assert.Equal(t, int64(8), c.conf.maxAsync)
	assert.Equal(t, 16, c.conf.maxSpreadDepth)
	assert.NotNil(t, c.sem)
}

func TestLoadEnvConfig_Invalid(t *testing.T) {
	t.Setenv("EVENTX_MAX_ASYNC", "many")
	_, err := LoadEnvConfig()
	assert.ErrorIs(t, err, ErrConfig)

	t.Setenv("EVENTX_MAX_ASYNC", "-1")
	opts, err := ConfigFromEnv()
	require.NoError(t, err)
	_, err = NewRegistry(opts...)
	assert.ErrorIs(t, err, ErrConfig, "Parsed values are still validated")
}

func TestWithLogger_AsyncErrors(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	c := testContext(t, WithLogger(logger))
	mustBind(t, c, KeyOf[orderCreated](), NewRegistration(Func(func(context.Context, any) (any, error) {
		return nil, errors.New("async failure")
	})).Async(true))

	require.NoError(t, c.Publish(context.Background(), orderCreated{}))
	require.NoError(t, c.Wait(context.Background()))
	assert.Contains(t, buf.String(), "Async listener failed")
	assert.Contains(t, buf.String(), "async failure")
}
