// Package mutation wraps a fallible async operation with bounded retries,
// backoff, optional optimistic updates, and cooperative cancellation. The
// auth flows run their submissions through it so a double-tap or a flaky
// link never produces duplicate requests or stuck spinners.
package mutation

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	apperrors "github.com/civickit/go-civic-client/internal/errors"
)

// Status describes where the executor currently is.
type Status int

const (
	StatusIdle Status = iota
	StatusLoading
	StatusSuccess
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusLoading:
		return "loading"
	case StatusSuccess:
		return "success"
	case StatusError:
		return "error"
	}
	return "unknown"
}

// ErrBusy is returned when Mutate is called while a previous call is still in
// flight. The second call is a no-op; the underlying function is not invoked.
var ErrBusy = apperrors.New(apperrors.KindValidation, "mutation already in flight")

// Func is the operation being executed.
type Func[V, R any] func(ctx context.Context, vars V) (R, error)

// DelayFunc maps a zero-based attempt index to the pause before the next try.
type DelayFunc func(attempt int) time.Duration

// AuthBackoff is the executor's default delay curve: exponential, capped at
// five seconds.
func AuthBackoff(attempt int) time.Duration {
	delay := time.Second << attempt
	if delay > 5*time.Second || delay <= 0 {
		return 5 * time.Second
	}
	return delay
}

type settings[V any] struct {
	retries    int // extra attempts after the first; -1 means unbounded
	delayFn    DelayFunc
	optimistic func(V)
	rollback   func(V)
}

// Option defines a function type to modify executor settings.
type Option[V any] func(*settings[V])

// WithRetries bounds the automatic retries after the first attempt.
func WithRetries[V any](n int) Option[V] {
	return func(s *settings[V]) {
		if n < 0 {
			n = 0
		}
		s.retries = n
	}
}

// WithRetryForever retries until success, cancellation, or context death.
func WithRetryForever[V any]() Option[V] {
	return func(s *settings[V]) {
		s.retries = -1
	}
}

// WithRetryDelay uses a fixed pause between attempts.
func WithRetryDelay[V any](d time.Duration) Option[V] {
	return func(s *settings[V]) {
		s.delayFn = func(int) time.Duration { return d }
	}
}

// WithRetryDelayFunc computes the pause from the attempt index.
func WithRetryDelayFunc[V any](fn DelayFunc) Option[V] {
	return func(s *settings[V]) {
		s.delayFn = fn
	}
}

// WithOptimistic applies a local update before the first attempt and rolls it
// back if the operation ultimately fails. Both run synchronously on the
// calling goroutine.
func WithOptimistic[V any](apply, rollback func(V)) Option[V] {
	return func(s *settings[V]) {
		s.optimistic = apply
		s.rollback = rollback
	}
}

// State is a snapshot of the executor's observable state.
type State[R any] struct {
	Status   Status
	Data     R
	Err      error
	Attempts int
}

// Executor runs one mutation at a time. Concurrent Mutate calls while one is
// in flight are rejected, not queued.
type Executor[V, R any] struct {
	fn  Func[V, R]
	cfg settings[V]
	log zerolog.Logger

	mu        sync.Mutex
	state     State[R]
	inFlight  bool
	cancelled bool
}

// NewExecutor builds an executor around fn. Without options it makes a single
// attempt with no optimistic update.
func NewExecutor[V, R any](fn Func[V, R], logger zerolog.Logger, options ...Option[V]) *Executor[V, R] {
	cfg := settings[V]{delayFn: AuthBackoff}
	for _, opt := range options {
		opt(&cfg)
	}
	return &Executor[V, R]{fn: fn, cfg: cfg, log: logger}
}

// State returns a copy of the current observable state.
func (e *Executor[V, R]) State() State[R] {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Cancel flags the in-flight mutation as abandoned. The operation itself is
// not interrupted; its eventual result is discarded and no further state
// updates are observed. Idle executors are unaffected.
func (e *Executor[V, R]) Cancel() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.inFlight {
		return
	}
	e.cancelled = true
	e.state.Status = StatusIdle
	e.state.Err = nil
}

// Mutate executes the operation with the configured retry policy. The error
// returned after retries are exhausted is the one the final attempt produced;
// intermediate failures are only logged.
func (e *Executor[V, R]) Mutate(ctx context.Context, vars V) (R, error) {
	var zero R

	e.mu.Lock()
	if e.inFlight {
		e.mu.Unlock()
		e.log.Warn().Msg("mutation already in flight, ignoring duplicate call")
		return zero, ErrBusy
	}
	e.inFlight = true
	e.cancelled = false
	e.state = State[R]{Status: StatusLoading}
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.inFlight = false
		e.mu.Unlock()
	}()

	if e.cfg.optimistic != nil {
		e.cfg.optimistic(vars)
	}

	var lastErr error
	for attempt := 0; ; attempt++ {
		if e.abandoned() {
			return zero, apperrors.New(apperrors.KindCancelled, "mutation cancelled")
		}

		e.mu.Lock()
		e.state.Attempts = attempt + 1
		e.mu.Unlock()

		result, err := e.fn(ctx, vars)
		if e.abandoned() {
			// A result arriving after Cancel is dropped on the floor.
			return zero, apperrors.New(apperrors.KindCancelled, "mutation cancelled")
		}
		if err == nil {
			e.mu.Lock()
			e.state.Status = StatusSuccess
			e.state.Data = result
			e.mu.Unlock()
			return result, nil
		}

		lastErr = err
		if e.cfg.retries >= 0 && attempt >= e.cfg.retries {
			break
		}
		e.log.Debug().Err(err).Int("attempt", attempt+1).Msg("mutation attempt failed, retrying")

		select {
		case <-time.After(e.cfg.delayFn(attempt)):
		case <-ctx.Done():
			lastErr = apperrors.Wrap(apperrors.KindCancelled, ctx.Err(), "mutation context cancelled")
			goto done
		}
	}

done:
	if e.cfg.rollback != nil {
		e.cfg.rollback(vars)
	}
	if e.abandoned() {
		return zero, apperrors.New(apperrors.KindCancelled, "mutation cancelled")
	}
	e.mu.Lock()
	e.state.Status = StatusError
	e.state.Err = lastErr
	e.mu.Unlock()
	return zero, lastErr
}

func (e *Executor[V, R]) abandoned() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cancelled
}
