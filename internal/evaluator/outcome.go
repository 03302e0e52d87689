// Package evaluator stages the external evaluator binary once per run and
// invokes it for individual trials.
package evaluator

import (
	"errors"
	"time"

	"github.com/signalnine/hypertune/internal/workspace"
)

var (
	// ErrBuild aborts a run before any trial is scheduled.
	ErrBuild = errors.New("evaluator build failed")
	// ErrProcess covers launch failures, nonzero exits and timeouts.
	ErrProcess = errors.New("evaluator process failed")
	// ErrOutputParse covers a missing or malformed output file.
	ErrOutputParse = errors.New("evaluator output unreadable")
)

// FailureScore is recorded for every trial whose evaluation failed.
const FailureScore = 0.0

// Outcome is the result of one evaluator invocation. Err is nil on success;
// otherwise Score is FailureScore and Err wraps ErrProcess or ErrOutputParse.
type Outcome struct {
	Score    float64
	Err      error
	ExitCode int
	Duration time.Duration
}

func (o Outcome) Failed() bool {
	return o.Err != nil
}

// Class names the outcome for logs and persisted trial records.
func (o Outcome) Class() string {
	return Classify(o.Err)
}

func Classify(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrProcess):
		return "process_failure"
	case errors.Is(err, ErrOutputParse):
		return "output_parse_failure"
	case errors.Is(err, workspace.ErrConflict):
		return "workspace_conflict"
	default:
		return "failure"
	}
}

func failed(err error, exitCode int, d time.Duration) Outcome {
	return Outcome{Score: FailureScore, Err: err, ExitCode: exitCode, Duration: d}
}
