//go:build unix

package runner

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessExecutorExitCode(t *testing.T) {
	p := ProcessExecutor{RunID: "run-1"}

	code, err := p.Exec(context.Background(), Step{ID: "s1", Command: []string{"sh", "-c", "exit 3"}}, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, code)

	code, err = p.Exec(context.Background(), Step{ID: "s1", Command: []string{"sh", "-c", "exit 0"}}, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, code)
}

func TestProcessExecutorEnvironment(t *testing.T) {
	var stdout bytes.Buffer

	p := ProcessExecutor{RunID: "run-1", Stdout: &stdout}
	step := Step{
		ID:      "carteira",
		Command: []string{"sh", "-c", `echo "$SHEETSYNC_RUN_ID $SHEETSYNC_STEP $SHEETSYNC_ATTEMPT $JOB"`},
		Env:     []string{"JOB=replicate"},
	}

	code, err := p.Exec(context.Background(), step, 2)
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.Equal(t, "run-1 carteira 2 replicate\n", stdout.String())
}

func TestProcessExecutorWorkingDirectory(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "step.sh")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\nexit 5\n"), 0755))

	p := ProcessExecutor{}
	step := Step{ID: "local", Command: []string{"./step.sh"}, Dir: dir}

	require.NoError(t, p.Check(step))

	code, err := p.Exec(context.Background(), step, 1)
	require.NoError(t, err)
	assert.Equal(t, 5, code)
}

func TestProcessExecutorMissingCommand(t *testing.T) {
	p := ProcessExecutor{}
	step := Step{ID: "missing", Command: []string{"sheetsync-no-such-command"}}

	assert.Error(t, p.Check(step))

	code, err := p.Exec(context.Background(), step, 1)
	assert.Error(t, err)
	assert.Equal(t, -1, code)

	assert.Error(t, p.Check(Step{ID: "empty"}))
}

func TestProcessExecutorCancel(t *testing.T) {
	p := ProcessExecutor{WaitDelay: time.Second}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	code, _ := p.Exec(ctx, Step{ID: "slow", Command: []string{"sh", "-c", "sleep 10"}}, 1)

	assert.NotEqual(t, 0, code)
	assert.Less(t, time.Since(start), 5*time.Second)
}
