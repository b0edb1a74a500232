package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Self is the command name that resolves to the running sheetsync binary.
const Self = "self"

// ProcessExecutor runs each step as a child process.
type ProcessExecutor struct {
	RunID     string
	Env       []string
	Stdout    io.Writer
	Stderr    io.Writer
	WaitDelay time.Duration
}

func (p *ProcessExecutor) Exec(ctx context.Context, step Step, attempt int) (int, error) {
	path, err := p.resolve(step)
	if err != nil {
		return -1, err
	}

	cmd := exec.CommandContext(ctx, path, step.Command[1:]...)
	cmd.Dir = step.Dir
	cmd.Stdout = p.Stdout
	cmd.Stderr = p.Stderr
	cmd.WaitDelay = p.WaitDelay

	cmd.Env = append(os.Environ(), p.Env...)
	cmd.Env = append(cmd.Env, step.Env...)
	cmd.Env = append(cmd.Env,
		"SHEETSYNC_RUN_ID="+p.RunID,
		"SHEETSYNC_STEP="+step.ID,
		"SHEETSYNC_ATTEMPT="+strconv.Itoa(attempt))

	if cmd.Stdout == nil {
		cmd.Stdout = os.Stdout
	}

	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}

	setProcessGroup(cmd)

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitCode(), nil
		}

		return -1, err
	}

	return 0, nil
}

// Check verifies that the step's executable exists.
func (p *ProcessExecutor) Check(step Step) error {
	_, err := p.resolve(step)

	return err
}

func (p *ProcessExecutor) resolve(step Step) (string, error) {
	if len(step.Command) == 0 || step.Command[0] == "" {
		return "", fmt.Errorf("step %v has no command", step)
	}

	if step.Command[0] == Self {
		return os.Executable()
	}

	name := step.Command[0]
	if strings.ContainsRune(name, filepath.Separator) && !filepath.IsAbs(name) && step.Dir != "" {
		if _, err := os.Stat(filepath.Join(step.Dir, name)); err != nil {
			return "", err
		}

		return name, nil
	}

	return exec.LookPath(name)
}
