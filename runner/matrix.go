package runner

import (
	"context"
	"fmt"

	"github.com/sheetsync/sheetsync/logging"
	"github.com/sheetsync/sheetsync/status"
)

// matrix runs every step once and then, after each pass, re-reads the status of all steps and
// re-runs those that are not OK and still have attempts left.
func (r *Runner) matrix(ctx context.Context, stage Stage) (Report, error) {
	limit := maxAttempts(stage)
	steps := stage.Steps
	keys := make([]status.Key, len(steps))
	seen := map[status.Key]bool{}

	for i, step := range steps {
		if step.Key <= 0 {
			return Report{}, fmt.Errorf("stage '%v': step %v has no status row", stage.Name, step)
		} else if seen[step.Key] {
			return Report{}, fmt.Errorf("stage '%v': duplicate status row %v", stage.Name, step.Key)
		}

		keys[i] = step.Key
		seen[step.Key] = true
	}

	if r.Store == nil {
		return Report{}, fmt.Errorf("stage '%v': matrix mode requires a status store", stage.Name)
	}

	attempts := make([]int, len(steps))
	warned := make([]bool, len(steps))

	for i, step := range steps {
		if err := ctx.Err(); err != nil {
			return results(steps, attempts, nil), err
		}

		attempts[i]++
		r.attempt(ctx, stage, step, attempts[i])
	}

	for {
		if err := ctx.Err(); err != nil {
			return results(steps, attempts, nil), err
		}

		statuses, err := r.Store.Statuses(ctx, keys)
		if err != nil {
			return results(steps, attempts, nil), fmt.Errorf("stage '%v': error reading step status (%w)", stage.Name, err)
		}

		rerun := false
		for i, step := range steps {
			if statuses[step.Key] == status.OK {
				continue
			}

			if attempts[i] >= limit {
				if !warned[i] {
					logging.Warnf("%v: maximum attempts (%v) reached - status is still %v", step, limit, statuses[step.Key])
					warned[i] = true
				}
				continue
			}

			if err := ctx.Err(); err != nil {
				return results(steps, attempts, statuses), err
			}

			attempts[i]++
			r.attempt(ctx, stage, step, attempts[i])
			rerun = true
		}

		if !rerun {
			report := results(steps, attempts, statuses)

			return report, stageError(stage, report.Results)
		}
	}
}

func results(steps []Step, attempts []int, statuses map[status.Key]status.Status) Report {
	report := Report{}
	for i, step := range steps {
		report.Results = append(report.Results, Result{
			Step:     step,
			Status:   statuses[step.Key],
			Attempts: attempts[i],
		})
	}

	return report
}
