package eventbus

import (
	"context"
	"fmt"
	"github.com/caarlos0/env/v6"
	"log/slog"
)

// AsyncErrorHandler receives failures propagated by the error handler of an asynchronous listener, since there's no publisher waiting to receive them.
type AsyncErrorHandler func(d *Dispatch, err error)

type config struct {
	logger         *slog.Logger
	maxAsync       int64
	maxSpreadDepth int
	asyncErrors    AsyncErrorHandler
}

func defaultConfig() config {
	return config{
		logger: slog.New(slog.DiscardHandler),
	}
}

func (c config) apply(opts ...ConfigFunc) (config, error) {
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&c); err != nil {
			return c, err
		}
	}
	if c.asyncErrors == nil {
		logger := c.logger
		c.asyncErrors = func(d *Dispatch, err error) {
			logger.LogAttrs(context.Background(), slog.LevelError, "Async listener failed",
				slog.String("context", d.contextName()),
				slog.String("key", d.Key.String()),
				slog.String("registration", d.Registration.ID().String()),
				slog.Any("error", err),
			)
		}
	}
	return c, nil
}

// ConfigFunc configures a [Context], or every [Context] created by a [Registry].
type ConfigFunc func(conf *config) error

// WithLogger sets the logger used for context diagnostics and for the default [AsyncErrorHandler].
// By default, nothing is logged.
func WithLogger(logger *slog.Logger) ConfigFunc {
	return func(conf *config) error {
		if logger == nil {
			return confErrf("nil logger")
		}
		conf.logger = logger
		return nil
	}
}

// MaxAsync limits how many asynchronous dispatches may run at the same time in a [Context].
// When the limit is reached, publishing an event to an asynchronous listener blocks until a slot is free or the publisher's context is done.
// Events published from within a running asynchronous listener never block on the limit: if no slot is free, then the nested asynchronous dispatch runs on the listener's goroutine instead.
// Zero, the default, means no limit.
func MaxAsync(n int) ConfigFunc {
	return func(conf *config) error {
		if n < 0 {
			return confErrf("invalid max async dispatches %d", n)
		}
		conf.maxAsync = int64(n)
		return nil
	}
}

// MaxSpreadDepth limits how many times results may be spread in a chain starting from one top-level publish.
// Exceeding the limit fails the spread with [ErrSpreadDepthExceeded].
// Zero, the default, means no limit, so spreading cycles only end when the stack does.
func MaxSpreadDepth(n int) ConfigFunc {
	return func(conf *config) error {
		if n < 0 {
			return confErrf("invalid max spread depth %d", n)
		}
		conf.maxSpreadDepth = n
		return nil
	}
}

// OnAsyncError sets the [AsyncErrorHandler].
// By default, async failures are logged at error level.
func OnAsyncError(handler AsyncErrorHandler) ConfigFunc {
	return func(conf *config) error {
		if handler == nil {
			return confErrf("nil async error handler")
		}
		conf.asyncErrors = handler
		return nil
	}
}

// EnvConfig holds the settings that may be provided through environment variables.
type EnvConfig struct {
	MaxAsync       int `env:"EVENTX_MAX_ASYNC" envDefault:"0"`
	MaxSpreadDepth int `env:"EVENTX_MAX_SPREAD_DEPTH" envDefault:"0"`
}

// Options translates the EnvConfig into [ConfigFunc] values.
func (e EnvConfig) Options() []ConfigFunc {
	return []ConfigFunc{
		MaxAsync(e.MaxAsync),
		MaxSpreadDepth(e.MaxSpreadDepth),
	}
}

// LoadEnvConfig parses [EnvConfig] from the process environment.
func LoadEnvConfig(opts ...env.Options) (EnvConfig, error) {
	var conf EnvConfig
	if err := env.Parse(&conf, opts...); err != nil {
		return conf, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	return conf, nil
}

// ConfigFromEnv is a shortcut for loading [EnvConfig] and returning its options.
func ConfigFromEnv() ([]ConfigFunc, error) {
	conf, err := LoadEnvConfig()
	if err != nil {
		return nil, err
	}
	return conf.Options(), nil
}
