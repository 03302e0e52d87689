package evaluator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/signalnine/hypertune/internal/workspace"
)

// LogFile receives the evaluator's stdout and stderr inside the workspace.
const LogFile = "evaluator.log"

// Executor runs the staged evaluator against one trial workspace at a time.
// It is safe for concurrent use; every call spawns its own process.
type Executor struct {
	Binary     string
	ProblemID  int
	Iterations int
	// Timeout caps one invocation's wall-clock time. Zero disables the cap.
	Timeout time.Duration
	// Env entries (KEY=VALUE) are appended to the inherited environment.
	Env []string
}

// Args returns the evaluator argv for ws, without the binary itself.
func (e *Executor) Args(ws *workspace.Workspace) []string {
	return []string{
		strconv.Itoa(e.ProblemID),
		"--params", ws.ParamsPath,
		"--output", ws.OutputPath,
		"--quiet",
		"-n", strconv.Itoa(e.Iterations),
	}
}

// Run invokes the evaluator and blocks until it exits. Failures are returned
// in the Outcome, never as a panic or error, so a bad trial cannot abort the
// run.
func (e *Executor) Run(ctx context.Context, ws *workspace.Workspace) Outcome {
	if e.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}

	args := e.Args(ws)
	logrus.Debugf("trial %d: %s %v", ws.Number, e.Binary, args)

	logPath := filepath.Join(ws.Dir, LogFile)
	logFile, err := os.Create(logPath)
	if err != nil {
		return failed(fmt.Errorf("%w: creating log file: %w", ErrProcess, err), -1, 0)
	}
	defer logFile.Close()

	cmd := exec.CommandContext(ctx, e.Binary, args...)
	cmd.Dir = ws.Dir
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	if len(e.Env) > 0 {
		cmd.Env = append(os.Environ(), e.Env...)
	}

	start := time.Now()
	err = cmd.Run()
	elapsed := time.Since(start)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return failed(fmt.Errorf("%w: timed out after %s", ErrProcess, e.Timeout), -1, elapsed)
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return failed(fmt.Errorf("%w: %w (log: %s)", ErrProcess, err, logPath), exitErr.ExitCode(), elapsed)
		}
		return failed(fmt.Errorf("%w: launching %s: %w", ErrProcess, e.Binary, err), -1, elapsed)
	}

	score, err := ws.ReadScore()
	if err != nil {
		return failed(fmt.Errorf("%w: %w", ErrOutputParse, err), 0, elapsed)
	}
	return Outcome{Score: score, Duration: elapsed}
}
