// Package retry wraps fallible calls with capped, jittered exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/golang/glog"
)

// Policy describes how a call is retried.
type Policy struct {
	MaxAttempts int           // Total attempts including the first.
	Initial     time.Duration // Lower bound of every wait.
	Max         time.Duration // Upper bound of every wait.
	Multiplier  float64       // Growth factor of the wait ceiling per attempt.
	Jitter      bool          // Draw waits uniformly between Initial and the ceiling.

	// OnGiveUp is called once with the last error when all attempts failed.
	OnGiveUp func(attempts int, err error)

	// sleep is replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// Default is five attempts with random exponential waits between 1s and 10s.
func Default() Policy {
	return Policy{
		MaxAttempts: 5,
		Initial:     time.Second,
		Max:         10 * time.Second,
		Multiplier:  2,
		Jitter:      true,
	}
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// isPermanent reports whether err was marked with Permanent.
func isPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// ExhaustedError is returned when every attempt failed.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("giving up after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// Do calls fn until it succeeds, returns a permanent error, the attempts are
// used up, or ctx is done. The last error is returned wrapped in an
// *ExhaustedError unless it was permanent or a context error.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	sleep := p.sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	var err error
	for n := 1; n <= attempts; n++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if isPermanent(err) {
			return err
		}
		if n == attempts {
			break
		}

		wait := p.Backoff(n)
		glog.V(1).Infof("attempt %d/%d failed, retrying in %v: %v", n, attempts, wait, err)
		if serr := sleep(ctx, wait); serr != nil {
			return serr
		}
	}

	if p.OnGiveUp != nil {
		p.OnGiveUp(attempts, err)
	}
	return &ExhaustedError{Attempts: attempts, Err: err}
}

// Backoff returns the wait after the n-th failed attempt (n starts at 1).
// The ceiling grows as Initial*Multiplier^(n-1) and is capped at Max.
func (p Policy) Backoff(n int) time.Duration {
	mult := p.Multiplier
	if mult <= 0 {
		mult = 2
	}
	ceiling := float64(p.Initial)
	for i := 1; i < n; i++ {
		ceiling *= mult
		if p.Max > 0 && ceiling >= float64(p.Max) {
			break
		}
	}
	if p.Max > 0 && ceiling > float64(p.Max) {
		ceiling = float64(p.Max)
	}
	if !p.Jitter || ceiling <= float64(p.Initial) {
		return time.Duration(ceiling)
	}
	lo := float64(p.Initial)
	return time.Duration(lo + rand.Float64()*(ceiling-lo))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
