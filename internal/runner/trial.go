package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/signalnine/hypertune/internal/evaluator"
	"github.com/signalnine/hypertune/internal/search"
	"github.com/signalnine/hypertune/internal/space"
	"github.com/signalnine/hypertune/internal/workspace"
)

// Executor runs one evaluation in a prepared workspace. *evaluator.Executor
// is the production implementation.
type Executor interface {
	Run(ctx context.Context, ws *workspace.Workspace) evaluator.Outcome
}

// Observer is told about every completed trial. Calls come from worker
// goroutines and must be safe for concurrent use.
type Observer interface {
	OnTrialComplete(t search.Trial)
}

type TrialOpts struct {
	Controller search.Controller
	Space      *space.Space
	Executor   Executor
	Root       string
	Observers  []Observer
}

// RunTrial performs one full trial lifecycle: propose, materialise, execute,
// report. Evaluation failures are recorded with the failure sentinel and do
// not produce an error. An error means the run itself is broken; the trial
// is still reported so that no trial is left running.
func RunTrial(ctx context.Context, opts *TrialOpts) (*search.Trial, error) {
	trial, err := opts.Controller.Propose()
	if err != nil {
		return nil, fmt.Errorf("proposing trial: %w", err)
	}

	ws, err := workspace.Create(opts.Root, trial.Number)
	if err != nil {
		abandon(opts, &trial, err)
		return &trial, fmt.Errorf("trial %d: %w", trial.Number, err)
	}
	if err := ws.WriteParams(opts.Space.Document(trial.Params)); err != nil {
		abandon(opts, &trial, err)
		return &trial, fmt.Errorf("trial %d: %w", trial.Number, err)
	}

	outcome := opts.Executor.Run(ctx, ws)
	if outcome.Failed() {
		logrus.Warnf("trial %d: %s: %v (scored %v)", trial.Number, outcome.Class(), outcome.Err, outcome.Score)
	}
	if err := opts.Controller.Report(trial.Number, outcome.Score, outcome.Err); err != nil {
		return &trial, fmt.Errorf("reporting trial %d: %w", trial.Number, err)
	}

	complete(&trial, outcome.Score, outcome.Err)
	logrus.Infof("trial %d finished: score=%v (%s, %s)", trial.Number, trial.Score, outcome.Class(), outcome.Duration.Round(time.Millisecond))

	if err := ws.WriteMeta(trial); err != nil {
		logrus.Warnf("trial %d: writing meta: %v", trial.Number, err)
	}
	notify(opts.Observers, trial)
	return &trial, nil
}

// abandon reports a trial that never reached the evaluator.
func abandon(opts *TrialOpts, trial *search.Trial, cause error) {
	if err := opts.Controller.Report(trial.Number, evaluator.FailureScore, cause); err != nil {
		logrus.Errorf("trial %d: reporting abandoned trial: %v", trial.Number, err)
		return
	}
	complete(trial, evaluator.FailureScore, cause)
	notify(opts.Observers, *trial)
}

func complete(trial *search.Trial, score float64, failure error) {
	trial.State = search.StateComplete
	trial.Score = score
	trial.Finished = time.Now()
	if failure != nil {
		trial.Failure = evaluator.Classify(failure)
		trial.Error = failure.Error()
	}
}

func notify(observers []Observer, trial search.Trial) {
	for _, o := range observers {
		o.OnTrialComplete(trial)
	}
}
