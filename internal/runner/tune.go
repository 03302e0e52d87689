package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/signalnine/hypertune/internal/search"
	"github.com/signalnine/hypertune/internal/space"
)

type TuneOpts struct {
	Controller search.Controller
	Space      *space.Space
	Executor   Executor
	// Root holds one workspace directory per trial.
	Root string
	// Trials is the total trial budget; exactly this many are dispatched.
	Trials int
	// Workers bounds the number of trials in flight.
	Workers   int
	Observers []Observer
}

type Summary struct {
	Trials     int
	Failed     int
	BestScore  float64
	BestParams space.Values
	Duration   time.Duration
}

// Tune runs opts.Trials trials over a pool of opts.Workers and returns once
// every dispatched trial has reported. Per-trial evaluation failures never
// fail the run; a broken trial lifecycle (for example a workspace conflict)
// stops further dispatch and is returned.
func Tune(ctx context.Context, opts *TuneOpts) (*Summary, error) {
	if opts.Trials < 1 {
		return nil, fmt.Errorf("trial budget must be at least 1, got %d", opts.Trials)
	}
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	var tally tallyObserver
	trialOpts := &TrialOpts{
		Controller: opts.Controller,
		Space:      opts.Space,
		Executor:   opts.Executor,
		Root:       opts.Root,
		Observers:  append([]Observer{&tally}, opts.Observers...),
	}

	logrus.Infof("Tuning: %d trials, %d workers", opts.Trials, opts.Workers)
	start := time.Now()

	jobs := make([]Job, opts.Trials)
	for i := range jobs {
		jobs[i] = func(ctx context.Context) error {
			_, err := RunTrial(ctx, trialOpts)
			if err != nil {
				cancel(err)
			}
			return err
		}
	}
	errs := RunPool(ctx, opts.Workers, jobs)

	if fatal := context.Cause(ctx); fatal != nil {
		return nil, fmt.Errorf("tuning aborted after %d trials: %w", tally.count(), fatal)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	best, err := opts.Controller.BestParams()
	if err != nil {
		return nil, fmt.Errorf("selecting best trial: %w", err)
	}
	return &Summary{
		Trials:     tally.count(),
		Failed:     tally.failed(),
		BestScore:  tally.max(),
		BestParams: best,
		Duration:   time.Since(start),
	}, nil
}

type tallyObserver struct {
	mu     sync.Mutex
	n      int
	nFail  int
	best   float64
	scored bool
}

func (o *tallyObserver) OnTrialComplete(t search.Trial) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.n++
	if t.Failure != "" {
		o.nFail++
	}
	if !o.scored || t.Score > o.best {
		o.best, o.scored = t.Score, true
	}
}

func (o *tallyObserver) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.n
}

func (o *tallyObserver) failed() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.nFail
}

func (o *tallyObserver) max() float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.best
}
