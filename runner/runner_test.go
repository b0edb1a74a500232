package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/sheetsync/sheetsync/retry"
	"github.com/sheetsync/sheetsync/status"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// scripted returns the exit codes listed for each step in turn, repeating the last one.
type scripted struct {
	sync.Mutex
	codes   map[string][]int
	missing map[string]bool
	calls   []string
}

func (s *scripted) Exec(ctx context.Context, step Step, attempt int) (int, error) {
	s.Lock()
	defer s.Unlock()

	s.calls = append(s.calls, step.ID)

	codes := s.codes[step.ID]
	if len(codes) == 0 {
		return 0, nil
	}

	if attempt <= len(codes) {
		return codes[attempt-1], nil
	}

	return codes[len(codes)-1], nil
}

func (s *scripted) Check(step Step) error {
	if s.missing[step.ID] {
		return fmt.Errorf("%v not found", step.ID)
	}

	return nil
}

func (s *scripted) count(id string) int {
	s.Lock()
	defer s.Unlock()

	n := 0
	for _, c := range s.calls {
		if c == id {
			n++
		}
	}

	return n
}

func steps(n int) []Step {
	list := []Step{}
	for i := 1; i <= n; i++ {
		list = append(list, Step{
			ID:      fmt.Sprintf("step-%v", i),
			Command: []string{"step"},
			Key:     status.Key(i + 1),
		})
	}

	return list
}

func noSleep() retry.Policy {
	return retry.Policy{
		Base:  5 * time.Second,
		Cap:   60 * time.Second,
		Sleep: func(context.Context, time.Duration) error { return nil },
	}
}

func TestMatrixRetriesOnlyFailedSteps(t *testing.T) {
	exec := scripted{
		codes: map[string][]int{
			"step-2": {1, 1, 0},
		},
	}

	store := status.NewMemoryStore()
	r := Runner{Store: store, Executor: &exec}

	report, err := r.RunStage(context.Background(), Stage{Name: "update", Steps: steps(4), MaxAttempts: 3})
	require.NoError(t, err)

	assert.True(t, report.OK())
	assert.Equal(t, 1, exec.count("step-1"))
	assert.Equal(t, 3, exec.count("step-2"))
	assert.Equal(t, 1, exec.count("step-3"))
	assert.Equal(t, 1, exec.count("step-4"))

	for _, result := range report.Results {
		assert.Equal(t, status.OK, result.Status, result.Step.ID)
	}

	statuses, _ := store.Statuses(context.Background(), []status.Key{2, 3, 4, 5})
	assert.Equal(t, map[status.Key]status.Status{2: status.OK, 3: status.OK, 4: status.OK, 5: status.OK}, statuses)
}

func TestMatrixStepThatNeverSucceeds(t *testing.T) {
	for _, budget := range []int{1, 2, 3, 5} {
		exec := scripted{
			codes: map[string][]int{
				"step-2": {7},
			},
		}

		r := Runner{Store: status.NewMemoryStore(), Executor: &exec}

		report, err := r.RunStage(context.Background(), Stage{Name: "update", Steps: steps(3), MaxAttempts: budget})

		var stageErr *StageError
		require.True(t, errors.As(err, &stageErr), "max attempts %v", budget)
		assert.Equal(t, []string{"step-2"}, stageErr.Failed)

		assert.Equal(t, budget, exec.count("step-2"))
		assert.Equal(t, budget, report.Results[1].Attempts)
		assert.Equal(t, status.Failed, report.Results[1].Status)
		assert.Equal(t, 1, exec.count("step-1"))
		assert.Equal(t, 1, exec.count("step-3"))
		assert.False(t, report.OK())
	}
}

func TestMatrixAllStepsSucceedWithinBudget(t *testing.T) {
	exec := scripted{
		codes: map[string][]int{
			"step-1": {1, 0},
			"step-2": {1, 1, 0},
			"step-3": {0},
		},
	}

	r := Runner{Store: status.NewMemoryStore(), Executor: &exec}

	report, err := r.RunStage(context.Background(), Stage{Name: "update", Steps: steps(3), MaxAttempts: 3})
	require.NoError(t, err)

	assert.Equal(t, []int{2, 3, 1}, []int{report.Results[0].Attempts, report.Results[1].Attempts, report.Results[2].Attempts})
}

// overwritten marks a key Failed the first time it is set OK, as a step writing its own
// status row would.
type overwritten struct {
	*status.MemoryStore
	key  status.Key
	done bool
}

func (o *overwritten) Set(ctx context.Context, key status.Key, s status.Status) error {
	if key == o.key && s == status.OK && !o.done {
		o.done = true
		s = status.Failed
	}

	return o.MemoryStore.Set(ctx, key, s)
}

func TestMatrixUsesStoredStatus(t *testing.T) {
	exec := scripted{}
	store := overwritten{MemoryStore: status.NewMemoryStore(), key: 4}
	r := Runner{Store: &store, Executor: &exec}

	_, err := r.RunStage(context.Background(), Stage{Name: "update", Steps: steps(3), MaxAttempts: 3})
	require.NoError(t, err)

	assert.Equal(t, 1, exec.count("step-1"))
	assert.Equal(t, 1, exec.count("step-2"))
	assert.Equal(t, 2, exec.count("step-3"))
}

func TestMatrixRequiresStatusRows(t *testing.T) {
	exec := scripted{}
	r := Runner{Store: status.NewMemoryStore(), Executor: &exec}

	list := steps(2)
	list[1].Key = 0

	_, err := r.RunStage(context.Background(), Stage{Name: "update", Steps: list})
	assert.Error(t, err)

	list[1].Key = list[0].Key

	_, err = r.RunStage(context.Background(), Stage{Name: "update", Steps: list})
	assert.Error(t, err)
	assert.Empty(t, exec.calls)
}

func TestMatrixWithCancelledContext(t *testing.T) {
	exec := scripted{}
	r := Runner{Store: status.NewMemoryStore(), Executor: &exec}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.RunStage(ctx, Stage{Name: "update", Steps: steps(3)})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, exec.calls)
}

func TestSequentialRetriesWithBackoff(t *testing.T) {
	exec := scripted{
		codes: map[string][]int{
			"step-1": {1, 2, 0},
		},
	}

	delays := []time.Duration{}
	backoff := noSleep()
	backoff.Sleep = func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}

	r := Runner{Store: status.NewMemoryStore(), Executor: &exec}

	report, err := r.RunStage(context.Background(), Stage{
		Name:        "replicas",
		Mode:        Sequential,
		Steps:       steps(2),
		MaxAttempts: 5,
		Backoff:     backoff,
	})

	require.NoError(t, err)
	assert.True(t, report.OK())
	assert.Equal(t, 3, report.Results[0].Attempts)
	assert.Equal(t, 1, report.Results[1].Attempts)
	assert.Equal(t, []time.Duration{5 * time.Second, 10 * time.Second}, delays)
	assert.Equal(t, []string{"step-1", "step-1", "step-1", "step-2"}, exec.calls)
}

func TestSequentialStopOnFailure(t *testing.T) {
	exec := scripted{
		codes: map[string][]int{
			"step-1": {1},
		},
	}

	r := Runner{Store: status.NewMemoryStore(), Executor: &exec}

	report, err := r.RunStage(context.Background(), Stage{
		Name:          "replicas",
		Mode:          Sequential,
		Steps:         steps(3),
		MaxAttempts:   2,
		Backoff:       noSleep(),
		StopOnFailure: true,
	})

	var stageErr *StageError
	require.True(t, errors.As(err, &stageErr))
	assert.Equal(t, []string{"step-1", "step-2", "step-3"}, stageErr.Failed)
	assert.Equal(t, []string{"step-1", "step-1"}, exec.calls)
	assert.Equal(t, status.Pending, report.Results[1].Status)
}

func TestSequentialContinuesAfterFailure(t *testing.T) {
	exec := scripted{
		codes: map[string][]int{
			"step-2": {1},
		},
	}

	r := Runner{Store: status.NewMemoryStore(), Executor: &exec}

	_, err := r.RunStage(context.Background(), Stage{
		Name:        "replicas",
		Mode:        Sequential,
		Steps:       steps(3),
		MaxAttempts: 2,
		Backoff:     noSleep(),
	})

	var stageErr *StageError
	require.True(t, errors.As(err, &stageErr))
	assert.Equal(t, []string{"step-2"}, stageErr.Failed)
	assert.Equal(t, 1, exec.count("step-3"))
}

func TestSequentialMissingSteps(t *testing.T) {
	exec := scripted{
		missing: map[string]bool{"step-2": true},
	}

	r := Runner{Executor: &exec}
	stage := Stage{Name: "replicas", Mode: Sequential, Steps: steps(3), Backoff: noSleep()}

	_, err := r.RunStage(context.Background(), stage)
	assert.Error(t, err)
	assert.Empty(t, exec.calls)

	stage.SkipMissing = true

	report, err := r.RunStage(context.Background(), stage)
	require.NoError(t, err)
	assert.True(t, report.Results[1].Skipped)
	assert.Equal(t, []string{"step-1", "step-3"}, exec.calls)
}

func TestPipelineStopsAtFailedStage(t *testing.T) {
	exec := scripted{
		codes: map[string][]int{
			"broken": {1},
		},
	}

	store := status.NewMemoryStore()
	now := time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)
	r := Runner{Store: store, Executor: &exec, Now: func() time.Time { return now }}

	stages := []Stage{
		{Name: "import", Steps: steps(2), MaxAttempts: 2, Stamp: "BD_Config!F1"},
		{Name: "update", Steps: []Step{{ID: "broken", Command: []string{"x"}, Key: 20}}, MaxAttempts: 2, Stamp: "BD_Config!F2"},
		{Name: "replicas", Steps: []Step{{ID: "never", Command: []string{"x"}, Key: 30}}},
	}

	reports, err := r.Run(context.Background(), stages)

	var stageErr *StageError
	require.True(t, errors.As(err, &stageErr))
	assert.Equal(t, "update", stageErr.Stage)
	assert.Len(t, reports, 2)
	assert.Equal(t, 0, exec.count("never"))

	stamped, ok := store.Stamped("BD_Config!F1")
	assert.True(t, ok)
	assert.Equal(t, now, stamped)

	_, ok = store.Stamped("BD_Config!F2")
	assert.False(t, ok)
}

func TestPipelineStampWithoutStore(t *testing.T) {
	exec := scripted{}
	r := Runner{Executor: &exec}

	stages := []Stage{
		{Name: "replicate", Mode: Sequential, Steps: steps(1), Backoff: noSleep(), Stamp: "BD_Config!F1"},
	}

	reports, err := r.Run(context.Background(), stages)

	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.True(t, reports[0].OK())
	assert.Equal(t, []string{"step-1"}, exec.calls)
}

func TestParseMode(t *testing.T) {
	mode, err := ParseMode("Sequential")
	require.NoError(t, err)
	assert.Equal(t, Sequential, mode)

	mode, err = ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, Matrix, mode)

	_, err = ParseMode("parallel")
	assert.Error(t, err)
}
