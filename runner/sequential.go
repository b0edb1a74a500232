package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/sheetsync/sheetsync/logging"
	"github.com/sheetsync/sheetsync/retry"
	"github.com/sheetsync/sheetsync/status"
)

// sequential runs the steps in order, retrying each with backoff before moving on.
func (r *Runner) sequential(ctx context.Context, stage Stage) (Report, error) {
	limit := maxAttempts(stage)
	report := Report{}
	skip := map[int]bool{}

	if checker, ok := r.Executor.(Checker); ok {
		missing := []string{}
		for i, step := range stage.Steps {
			if err := checker.Check(step); err != nil {
				if !stage.SkipMissing {
					missing = append(missing, fmt.Sprintf("%v (%v)", step, err))
					continue
				}

				logging.Warnf("%v: skipping (%v)", step, err)
				skip[i] = true
			}
		}

		if len(missing) > 0 {
			return report, fmt.Errorf("stage '%v': missing steps %v", stage.Name, missing)
		}
	}

	for _, step := range stage.Steps {
		report.Results = append(report.Results, Result{Step: step, Status: status.Pending})
	}

	for i, step := range stage.Steps {
		if skip[i] {
			report.Results[i].Skipped = true
			continue
		}

		result := &report.Results[i]

		for attempt := 1; attempt <= limit; attempt++ {
			if err := ctx.Err(); err != nil {
				return report, err
			}

			result.Attempts = attempt

			if r.attempt(ctx, stage, step, attempt) {
				result.Status = status.OK
				break
			}

			result.Status = status.Failed

			if attempt < limit {
				delay := stage.Backoff.Delay(attempt)

				logging.Warnf("%v: retry %v/%v in %.1fs", step, attempt, limit-1, delay.Seconds())

				if err := backoff(ctx, stage.Backoff, delay); err != nil {
					return report, err
				}
			}
		}

		if result.Status != status.OK {
			logging.Errorf("%v: failed after %v attempts", step, result.Attempts)

			if stage.StopOnFailure {
				logging.Warnf("stage '%v': stopping at first failure", stage.Name)
				break
			}
		}
	}

	if err := stageError(stage, report.Results); err != nil {
		return report, err
	}

	return report, nil
}

func backoff(ctx context.Context, policy retry.Policy, delay time.Duration) error {
	if policy.Sleep != nil {
		return policy.Sleep(ctx, delay)
	}

	return retry.Sleep(ctx, delay)
}
