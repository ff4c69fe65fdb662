package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Policy describes how many times an operation is attempted and how long to
// wait between attempts.
type Policy struct {
	MaxAttempts         int
	InitialInterval     time.Duration
	MaxInterval         time.Duration
	Multiplier          float64
	RandomizationFactor float64

	// OnRetry is called before each wait with the attempt that just failed.
	OnRetry func(attempt int, err error, wait time.Duration)
}

// DefaultPolicy returns the upstream fetch policy: 3 attempts, 500ms doubling
// up to 5s with 20% jitter.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:         3,
		InitialInterval:     500 * time.Millisecond,
		MaxInterval:         5 * time.Second,
		Multiplier:          2,
		RandomizationFactor: 0.2,
	}
}

// Operation is one attempt. attempt starts at 1.
type Operation func(ctx context.Context, attempt int) error

// Do runs op until it succeeds, returns a permanent error, the attempt cap is
// reached or ctx ends during a wait.
func (p Policy) Do(ctx context.Context, op Operation) error {
	p = p.withDefaults()
	curve := p.curve()

	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		err := op(ctx, attempt)
		if err == nil {
			return nil
		}

		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		lastErr = err

		if attempt == p.MaxAttempts {
			break
		}

		wait := curve.NextBackOff()
		var hinted interface{ RetryAfter() time.Duration }
		if errors.As(err, &hinted) && hinted.RetryAfter() > 0 {
			wait = min(hinted.RetryAfter(), p.MaxInterval)
		}

		if p.OnRetry != nil {
			p.OnRetry(attempt, err, wait)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Join(lastErr, ctx.Err())
		case <-timer.C:
		}
	}

	return lastErr
}

// Delays returns the nominal waits between attempts, ignoring jitter.
func (p Policy) Delays() []time.Duration {
	p = p.withDefaults()
	p.RandomizationFactor = 0
	curve := p.curve()

	delays := make([]time.Duration, 0, p.MaxAttempts-1)
	for i := 1; i < p.MaxAttempts; i++ {
		delays = append(delays, curve.NextBackOff())
	}
	return delays
}

func (p Policy) curve() *backoff.ExponentialBackOff {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     p.InitialInterval,
		RandomizationFactor: p.RandomizationFactor,
		Multiplier:          p.Multiplier,
		MaxInterval:         p.MaxInterval,
	}
	b.Reset()
	return b
}

func (p Policy) withDefaults() Policy {
	def := DefaultPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.InitialInterval <= 0 {
		p.InitialInterval = def.InitialInterval
	}
	if p.MaxInterval < p.InitialInterval {
		p.MaxInterval = p.InitialInterval
	}
	if p.Multiplier < 1 {
		p.Multiplier = def.Multiplier
	}
	if p.RandomizationFactor < 0 || p.RandomizationFactor >= 1 {
		p.RandomizationFactor = 0
	}
	return p
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. Do returns the wrapped error
// unchanged.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}
