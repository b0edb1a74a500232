// Package replica copies a source range to several destination spreadsheets, retrying each
// destination independently.
package replica

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sheetsync/sheetsync/logging"
	"github.com/sheetsync/sheetsync/metrics"
	"github.com/sheetsync/sheetsync/retry"
)

// DestinationError is returned when a destination could not be written after every attempt.
type DestinationError struct {
	Destination string
	Attempts    int
	Err         error
}

func (e *DestinationError) Error() string {
	return fmt.Sprintf("destination '%v' failed after %v attempts (%v)", e.Destination, e.Attempts, e.Err)
}

func (e *DestinationError) Unwrap() error {
	return e.Err
}

// DefaultPolicy retries every error 5 times, 5s, 10s, 20s and 40s apart.
func DefaultPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts: 5,
		Base:        5 * time.Second,
		Cap:         60 * time.Second,
		Retryable:   func(error) bool { return true },
	}
}

// Fanout applies one write operation to every destination. A destination that exhausts its
// attempts fails the whole run.
type Fanout struct {
	Policy      retry.Policy
	Concurrency int
	Gap         time.Duration
	Job         string
}

func (f Fanout) Run(ctx context.Context, destinations []Destination, write func(context.Context, Destination) error) error {
	if f.Concurrency > 1 {
		return f.parallel(ctx, destinations, write)
	}

	for i, d := range destinations {
		if i > 0 && f.Gap > 0 {
			if err := retry.Sleep(ctx, f.Gap); err != nil {
				return err
			}
		}

		if err := f.destination(ctx, d, write); err != nil {
			return err
		}
	}

	return nil
}

func (f Fanout) parallel(ctx context.Context, destinations []Destination, write func(context.Context, Destination) error) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(f.Concurrency)

	for _, d := range destinations {
		g.Go(func() error {
			return f.destination(ctx, d, write)
		})
	}

	return g.Wait()
}

func (f Fanout) destination(ctx context.Context, d Destination, write func(context.Context, Destination) error) error {
	attempts := 0
	policy := f.Policy

	err := retry.Do(ctx, policy, fmt.Sprintf("%v: replicate to %v", f.Job, d), func(ctx context.Context) error {
		attempts++

		err := write(ctx, d)
		metrics.RecordDestinationAttempt(f.Job, err == nil)

		return err
	})

	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		logging.Errorf("%v: %v FAILED after %v attempts (%v)", f.Job, d, attempts, err)

		return &DestinationError{Destination: d.String(), Attempts: attempts, Err: err}
	}

	logging.Infof("%v: %v replicated (%v attempts)", f.Job, d, attempts)

	return nil
}
