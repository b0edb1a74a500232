// Package retry implements the retrying wrapper used around every remote spreadsheet call.
package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/sheetsync/sheetsync/logging"
)

// Policy controls how often and how long a failing call is retried. The delay before retry n
// (n starting at 1) is
//
//	min(Cap, Base*2^(n-1)*(1 ± Spread) + U(0, Jitter))
//
// floored at Floor.
type Policy struct {
	MaxAttempts int
	Base        time.Duration
	Cap         time.Duration
	Jitter      time.Duration
	Spread      float64
	Floor       time.Duration

	// RetryUnknown also retries errors that Classify cannot place.
	RetryUnknown bool

	// Retryable, when set, replaces the Classify based decision.
	Retryable func(error) bool

	// Sleep defaults to a context aware timer.
	Sleep func(context.Context, time.Duration) error

	// Notify is invoked before every retry.
	Notify func(desc string, attempt int, delay time.Duration, err error)
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 6,
		Base:        1 * time.Second,
		Cap:         60 * time.Second,
		Jitter:      750 * time.Millisecond,
	}
}

// Delay returns the sleep before the retry that follows failed attempt n.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	d := float64(p.Base) * math.Pow(2, float64(attempt-1))
	if p.Spread > 0 {
		d *= 1 + p.Spread*(2*rand.Float64()-1)
	}

	if p.Jitter > 0 {
		d += float64(p.Jitter) * rand.Float64()
	}

	if p.Cap > 0 && d > float64(p.Cap) {
		d = float64(p.Cap)
	}

	if d < float64(p.Floor) {
		d = float64(p.Floor)
	}

	return time.Duration(d)
}

func (p Policy) retryable(err error) bool {
	if p.Retryable != nil {
		return p.Retryable(err)
	}

	switch Classify(err) {
	case Transient:
		return true
	case Unknown:
		return p.RetryUnknown
	default:
		return false
	}
}

func (p Policy) sleep(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}

	return Sleep(ctx, d)
}

// Sleep waits for d or until the context is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Do invokes op until it succeeds, fails permanently or the attempt budget is spent.
func Do(ctx context.Context, p Policy, desc string, op func(context.Context) error) error {
	_, err := DoValue(ctx, p, desc, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})

	return err
}

// DoValue is Do for operations that return a result.
func DoValue[T any](ctx context.Context, p Policy, desc string, op func(context.Context) (T, error)) (T, error) {
	var zero T

	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		v, err := op(ctx)
		if err == nil {
			return v, nil
		}

		if !p.retryable(err) {
			return zero, fmt.Errorf("%v (%w)", desc, err)
		}

		if attempt >= attempts {
			logging.Errorf("%v failed after %v attempts (%v)", desc, attempt, err)

			return zero, &ExhaustedError{Op: desc, Attempts: attempt, Err: err}
		}

		delay := p.Delay(attempt)

		logging.Warnf("%v: %v - retry %v/%v in %.1fs", desc, err, attempt, attempts-1, delay.Seconds())

		if p.Notify != nil {
			p.Notify(desc, attempt, delay, err)
		}

		if err := p.sleep(ctx, delay); err != nil {
			return zero, err
		}
	}
}
