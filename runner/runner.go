// Package runner executes pipeline stages of external steps, re-running failed steps until the
// status store shows every step OK or the attempt budget is spent.
package runner

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sheetsync/sheetsync/logging"
	"github.com/sheetsync/sheetsync/metrics"
	"github.com/sheetsync/sheetsync/retry"
	"github.com/sheetsync/sheetsync/status"
)

const DefaultMaxAttempts = 3

type Mode int

const (
	Matrix Mode = iota
	Sequential
)

func (m Mode) String() string {
	if m == Sequential {
		return "sequential"
	}

	return "matrix"
}

func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "matrix":
		return Matrix, nil
	case "sequential":
		return Sequential, nil
	default:
		return Matrix, fmt.Errorf("invalid stage mode '%v'", s)
	}
}

type Step struct {
	ID      string
	Name    string
	Command []string
	Dir     string
	Env     []string
	Key     status.Key
}

func (s Step) String() string {
	if s.Name != "" {
		return s.Name
	}

	return s.ID
}

type Stage struct {
	Name          string
	Mode          Mode
	Steps         []Step
	MaxAttempts   int
	Backoff       retry.Policy
	StopOnFailure bool
	SkipMissing   bool
	Stamp         string
}

type Result struct {
	Step     Step
	Status   status.Status
	Attempts int
	Skipped  bool
}

type Report struct {
	Stage   string
	Results []Result
	Elapsed time.Duration
}

func (r Report) OK() bool {
	for _, result := range r.Results {
		if !result.Skipped && result.Status != status.OK {
			return false
		}
	}

	return true
}

// Executor runs one attempt of a step and returns its exit code. An error means the step could
// not be started and counts as a failed attempt.
type Executor interface {
	Exec(ctx context.Context, step Step, attempt int) (int, error)
}

// Checker is implemented by executors that can tell up front whether a step is runnable.
type Checker interface {
	Check(step Step) error
}

// StageError lists the steps of a stage that did not finish OK.
type StageError struct {
	Stage  string
	Failed []string
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage '%v' failed: %v", e.Stage, strings.Join(e.Failed, ", "))
}

type Runner struct {
	Store    status.Store
	Executor Executor
	Now      func() time.Time
}

func (r *Runner) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}

	return time.Now()
}

// Run executes the stages in order. A failed stage stops the pipeline and later stages are not
// run. A stage that succeeds writes the current time to its Stamp cell.
func (r *Runner) Run(ctx context.Context, stages []Stage) ([]Report, error) {
	reports := []Report{}

	for _, stage := range stages {
		report, err := r.RunStage(ctx, stage)
		reports = append(reports, report)
		if err != nil {
			return reports, err
		}

		if stage.Stamp != "" && r.Store == nil {
			logging.Warnf("stage '%v': no status store - timestamp not written to %v", stage.Name, stage.Stamp)
		} else if stage.Stamp != "" {
			if err := r.Store.Stamp(ctx, stage.Stamp, r.now()); err != nil {
				logging.Warnf("stage '%v': error writing timestamp to %v (%v)", stage.Name, stage.Stamp, err)
			} else {
				logging.Infof("stage '%v': timestamp written to %v", stage.Name, stage.Stamp)
			}
		}
	}

	return reports, nil
}

func (r *Runner) RunStage(ctx context.Context, stage Stage) (Report, error) {
	start := time.Now()

	logging.Infof("stage '%v': %v steps (%v, max %v attempts)", stage.Name, len(stage.Steps), stage.Mode, maxAttempts(stage))

	var report Report
	var err error

	switch stage.Mode {
	case Sequential:
		report, err = r.sequential(ctx, stage)
	default:
		report, err = r.matrix(ctx, stage)
	}

	report.Stage = stage.Name
	report.Elapsed = time.Since(start)

	if err != nil {
		logging.Errorf("stage '%v' failed after %.1fs (%v)", stage.Name, report.Elapsed.Seconds(), err)
	} else {
		logging.Infof("stage '%v' completed in %.1fs", stage.Name, report.Elapsed.Seconds())
	}

	return report, err
}

func maxAttempts(stage Stage) int {
	if stage.MaxAttempts < 1 {
		return DefaultMaxAttempts
	}

	return stage.MaxAttempts
}

// attempt runs one attempt of a step and records the outcome in the status store.
func (r *Runner) attempt(ctx context.Context, stage Stage, step Step, attempt int) bool {
	limit := maxAttempts(stage)

	r.set(ctx, step, status.Running)

	logging.Infof("%v: starting (attempt %v/%v)", step, attempt, limit)

	start := time.Now()
	code, err := r.Executor.Exec(ctx, step, attempt)
	elapsed := time.Since(start)
	ok := err == nil && code == 0

	metrics.RecordStepAttempt(stage.Name, ok, elapsed)

	switch {
	case err != nil:
		logging.Errorf("%v: error starting step (%v) after %.1fs", step, err, elapsed.Seconds())
	case code != 0:
		logging.Errorf("%v: failed with exit code %v after %.1fs", step, code, elapsed.Seconds())
	default:
		logging.Infof("%v: completed in %.1fs", step, elapsed.Seconds())
	}

	if ok {
		r.set(ctx, step, status.OK)
	} else {
		r.set(ctx, step, status.Failed)
	}

	return ok
}

func (r *Runner) set(ctx context.Context, step Step, s status.Status) {
	if step.Key <= 0 || r.Store == nil {
		return
	}

	if err := r.Store.Set(ctx, step.Key, s); err != nil {
		logging.Warnf("%v: error writing status %v (%v)", step, s, err)
	}
}

func stageError(stage Stage, results []Result) error {
	failed := []string{}
	for _, result := range results {
		if !result.Skipped && result.Status != status.OK {
			failed = append(failed, result.Step.String())
		}
	}

	if len(failed) == 0 {
		return nil
	}

	return &StageError{Stage: stage.Name, Failed: failed}
}
