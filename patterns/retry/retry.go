package retry

import (
	"context"
	"errors"
	"fmt"
	"github.com/cenkalti/backoff/v4"
	"github.com/saylorsolutions/eventx/patterns/eventbus"
	"math"
	"time"
)

// Attempt is called for each iteration of a retry loop.
// The loop exits as soon as an Attempt returns nil.
type Attempt = func(ctx context.Context) error

// Settings defines the backoff behavior for [Loop] and [Listener].
type Settings struct {
	TimeBetweenRetries time.Duration // This sets the initial delay between retries.
	BackoffFactor      float64       // This value multiplies TimeBetweenRetries between loop iterations, and should be >= 1.
	MaxTries           int           // This defines the maximum number of tries, and should be > 1.
	// Retryable reports whether a failed attempt may be retried.
	// When nil, every failure is retried except for events a listener can't accept.
	Retryable func(err error) bool
}

var (
	ErrInvalidSettings = errors.New("invalid settings")
	ErrMaxRetries      = errors.New("max tries exceeded")
)

type maxRetriesError struct {
	loopErr error
}

func (e *maxRetriesError) Error() string {
	return fmt.Sprintf("%v: %v", ErrMaxRetries, e.loopErr)
}

func (e *maxRetriesError) Unwrap() []error {
	return []error{ErrMaxRetries, e.loopErr}
}

func (s Settings) validate() error {
	if s.MaxTries <= 1 {
		return fmt.Errorf("%w: max tries should be > 1", ErrInvalidSettings)
	}
	if s.BackoffFactor < 1 {
		return fmt.Errorf("%w: backoff factor should be >= 1", ErrInvalidSettings)
	}
	if s.TimeBetweenRetries < 0 {
		return fmt.Errorf("%w: time between retries should be >= 0", ErrInvalidSettings)
	}
	return nil
}

func (s Settings) retryable(err error) bool {
	if s.Retryable != nil {
		return s.Retryable(err)
	}
	return !errors.Is(err, eventbus.ErrUnexpectedEvent)
}

// Permanent marks err as not retryable, so the loop returns it immediately.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Do retries the given [Attempt] for a max of maxTries times.
// There is no delay between retries for this function.
func Do(ctx context.Context, maxTries int, attempt Attempt) error {
	return Loop(ctx, Settings{BackoffFactor: 1, MaxTries: maxTries}, attempt)
}

func (s Settings) backOff(ctx context.Context) backoff.BackOff {
	exp := &backoff.ExponentialBackOff{
		InitialInterval: s.TimeBetweenRetries,
		Multiplier:      s.BackoffFactor,
		MaxInterval:     time.Duration(math.MaxInt64),
		Stop:            backoff.Stop,
		Clock:           backoff.SystemClock,
	}
	exp.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(s.MaxTries-1)), ctx)
}

// Loop calls attempt until it succeeds, returns an error that isn't retryable, or the max tries has been reached.
// The delay between attempts is interrupted when ctx is done, returning the context's error.
func Loop(ctx context.Context, settings Settings, attempt Attempt) error {
	if err := settings.validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	var stopped bool
	err := backoff.Retry(func() error {
		err := attempt(ctx)
		if err == nil {
			return nil
		}
		var permanent *backoff.PermanentError
		if errors.As(err, &permanent) {
			stopped = true
			return err
		}
		if !settings.retryable(err) {
			stopped = true
			return backoff.Permanent(err)
		}
		return err
	}, settings.backOff(ctx))
	switch {
	case err == nil:
		return nil
	case stopped:
		return err
	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
		return err
	default:
		return &maxRetriesError{err}
	}
}

type retryListener struct {
	inner    eventbus.Listener
	settings Settings
}

// Listener wraps an [eventbus.Listener] so that failed deliveries are retried according to settings.
// The wrapped listener is called on the same goroutine as the dispatch, so retrying a synchronous listener delays the listeners after it.
func Listener(listener eventbus.Listener, settings Settings) (eventbus.Listener, error) {
	if listener == nil {
		return nil, eventbus.ErrNilListener
	}
	if err := settings.validate(); err != nil {
		return nil, err
	}
	return &retryListener{inner: listener, settings: settings}, nil
}

func (l *retryListener) Listen(ctx context.Context, event any) (any, error) {
	var result any
	err := Loop(ctx, l.settings, func(ctx context.Context) error {
		var err error
		result, err = l.inner.Listen(ctx, event)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
