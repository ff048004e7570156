package retry

import (
	"context"
	"math/rand"
	"time"
)

// Decision tells the retrier whether to give up or wait before the next attempt.
type Decision struct {
	TimeToWait  time.Duration
	ReturnError bool
}

// Strategy decides how failed attempts are retried. Strategies carry per-call
// state and must not be shared between goroutines.
type Strategy interface {
	HandleError(err error) Decision
	HandleSuccess()
}

// Retrier re-runs an action while its errors are retryable.
type Retrier[T any] struct {
	newStrategy func() Strategy
	retryable   func(error) bool
	onRetry     func(ctx context.Context, attempt int, err error, wait time.Duration)
}

type Option[T any] func(*Retrier[T])

// WithRetryable limits retries to errors accepted by fn. By default every error is retried.
func WithRetryable[T any](fn func(error) bool) Option[T] {
	return func(r *Retrier[T]) { r.retryable = fn }
}

// WithOnRetry registers a hook invoked before each wait.
func WithOnRetry[T any](fn func(ctx context.Context, attempt int, err error, wait time.Duration)) Option[T] {
	return func(r *Retrier[T]) { r.onRetry = fn }
}

func New[T any](newStrategy func() Strategy, opts ...Option[T]) *Retrier[T] {
	r := &Retrier[T]{newStrategy: newStrategy}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Do runs action until it succeeds, returns a non-retryable error, the
// strategy gives up, or ctx is done.
func (r *Retrier[T]) Do(ctx context.Context, action func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	strategy := r.newStrategy()
	for attempt := 1; ; attempt++ {
		result, err := action(ctx)
		if err == nil {
			strategy.HandleSuccess()
			return result, nil
		}
		if r.retryable != nil && !r.retryable(err) {
			return zero, err
		}
		decision := strategy.HandleError(err)
		if decision.ReturnError {
			return zero, err
		}
		if r.onRetry != nil {
			r.onRetry(ctx, attempt, err, decision.TimeToWait)
		}

		timer := time.NewTimer(decision.TimeToWait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}
	}
}

// ExponentialBackoff doubles the delay after each failure up to maxDelay,
// applying +/- jitterPercentage/2 of randomness. maxRetries < 0 retries forever.
type ExponentialBackoff struct {
	maxRetries       int
	initialDelay     time.Duration
	maxDelay         time.Duration
	jitterPercentage float64

	retries   int
	nextDelay time.Duration
	rnd       *rand.Rand
}

func NewExponentialBackoff(maxRetries int, initialDelay time.Duration, jitterPercentage float64, maxDelay time.Duration) *ExponentialBackoff {
	return &ExponentialBackoff{
		maxRetries:       maxRetries,
		initialDelay:     initialDelay,
		maxDelay:         maxDelay,
		jitterPercentage: jitterPercentage,
		nextDelay:        initialDelay,
		rnd:              rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// ExponentialBackoffFactory returns a constructor suitable for New.
func ExponentialBackoffFactory(maxRetries int, initialDelay time.Duration, jitterPercentage float64, maxDelay time.Duration) func() Strategy {
	return func() Strategy {
		return NewExponentialBackoff(maxRetries, initialDelay, jitterPercentage, maxDelay)
	}
}

func (e *ExponentialBackoff) HandleError(error) Decision {
	if e.maxRetries >= 0 && e.retries >= e.maxRetries {
		return Decision{ReturnError: true}
	}
	e.retries++

	current := e.nextDelay
	next := e.nextDelay * 2
	if next > e.maxDelay {
		next = e.maxDelay
	}
	e.nextDelay = e.withJitter(next)
	return Decision{TimeToWait: current}
}

func (e *ExponentialBackoff) HandleSuccess() {
	e.retries = 0
	e.nextDelay = e.initialDelay
}

func (e *ExponentialBackoff) withJitter(d time.Duration) time.Duration {
	span := int64(float64(d) * e.jitterPercentage)
	if span <= 0 {
		return d
	}
	return d + time.Duration(e.rnd.Int63n(span)-span/2)
}

// Never gives up on the first error.
type Never struct{}

func (Never) HandleError(error) Decision { return Decision{ReturnError: true} }
func (Never) HandleSuccess()             {}
