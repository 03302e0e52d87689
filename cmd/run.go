package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/signalnine/hypertune/internal/config"
	"github.com/signalnine/hypertune/internal/evaluator"
	"github.com/signalnine/hypertune/internal/gitops"
	"github.com/signalnine/hypertune/internal/result"
	"github.com/signalnine/hypertune/internal/runner"
	"github.com/signalnine/hypertune/internal/search"
	"github.com/signalnine/hypertune/internal/status"
	"github.com/signalnine/hypertune/internal/store"
)

var (
	flagTrials         int
	flagParallel       int
	flagIterations     int
	flagProblem        int
	flagQuick          bool
	flagStatusAddr     string
	flagDB             string
	flagKeepWorkspaces bool
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Tune the evaluator and publish the best parameters",
		Args:  cobra.NoArgs,
		RunE:  runTune,
	}
	cmd.Flags().IntVar(&flagTrials, "trials", 0, "override trial budget")
	cmd.Flags().IntVar(&flagParallel, "parallel", 0, "override max concurrent trials")
	cmd.Flags().IntVar(&flagIterations, "iterations", 0, "override evaluator iteration budget")
	cmd.Flags().IntVar(&flagProblem, "problem", -1, "override problem id")
	cmd.Flags().BoolVar(&flagQuick, "quick", false, "divide trial and iteration budgets by 10")
	cmd.Flags().StringVar(&flagStatusAddr, "status-addr", "", "serve the live status API on this address")
	cmd.Flags().StringVar(&flagDB, "db", "", "MySQL DSN for recording trials")
	cmd.Flags().BoolVar(&flagKeepWorkspaces, "keep-workspaces", false, "keep trial workspaces after the run")
	return cmd
}

func runTune(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	applyOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return tune(ctx, cfg, cmd.OutOrStdout())
}

func applyOverrides(cfg *config.Config) {
	if flagTrials > 0 {
		cfg.TrialBudget = flagTrials
	}
	if flagParallel > 0 {
		cfg.Concurrency = flagParallel
	}
	if flagIterations > 0 {
		cfg.IterationBudget = flagIterations
	}
	if flagProblem >= 0 {
		cfg.ProblemID = flagProblem
	}
	if flagStatusAddr != "" {
		cfg.Status.Addr = flagStatusAddr
	}
	if flagDB != "" {
		cfg.Database.DSN = flagDB
	}
	if flagQuick {
		cfg.Quick()
	}
}

func tune(ctx context.Context, cfg *config.Config, out io.Writer) error {
	sp, err := cfg.SearchSpace()
	if err != nil {
		return err
	}
	sampler, err := search.Get(cfg.Sampler.Name, cfg.SamplerOptions())
	if err != nil {
		return err
	}

	root, err := os.MkdirTemp("", "hypertune-")
	if err != nil {
		return fmt.Errorf("creating work root: %w", err)
	}
	if flagKeepWorkspaces {
		logrus.Infof("Trial workspaces kept in %s", root)
	} else {
		defer os.RemoveAll(root)
	}

	revision, err := gitops.Revision(cfg.Evaluator.SourceDir)
	if err != nil {
		logrus.Debugf("No evaluator revision: %v", err)
	}

	bin, err := evaluator.Stage(ctx, &evaluator.StageOpts{
		Name:         cfg.Evaluator.Name,
		SourceDir:    cfg.Evaluator.SourceDir,
		Prebuilt:     cfg.Evaluator.Binary,
		BuildCommand: cfg.Evaluator.Build.Command,
		Artifact:     cfg.Evaluator.Build.Artifact,
		Image:        cfg.Evaluator.Build.Image,
		BuildTimeout: cfg.Evaluator.Build.Timeout,
		Root:         root,
	})
	if err != nil {
		return err
	}

	exec := &evaluator.Executor{
		Binary:     bin.Path,
		ProblemID:  cfg.ProblemID,
		Iterations: cfg.IterationBudget,
		Timeout:    cfg.TrialTimeout,
	}
	if cfg.Evaluator.EnvFile != "" {
		env, err := evaluator.ParseEnvFile(cfg.Evaluator.EnvFile)
		if err != nil {
			return err
		}
		exec.Env = env
	}

	study := search.NewStudy(sp, sampler, cfg.Sampler.Seed)
	study.SetClassifier(evaluator.Classify)

	var observers []runner.Observer
	var recorder *store.Recorder
	if cfg.Database.DSN != "" {
		db, err := store.Open(cfg.Database.DSN)
		if err != nil {
			return err
		}
		defer db.Close()
		recorder, err = db.BeginRun(&store.TuningRun{
			ProblemID:       cfg.ProblemID,
			Evaluator:       cfg.Evaluator.Name,
			EvaluatorDigest: bin.Digest,
			Revision:        revision,
			Sampler:         sampler.Name(),
			Seed:            cfg.Sampler.Seed,
			TrialBudget:     cfg.TrialBudget,
			Concurrency:     cfg.Concurrency,
			IterationBudget: cfg.IterationBudget,
		})
		if err != nil {
			return err
		}
		observers = append(observers, recorder)
		logrus.Infof("Recording trials as run %d", recorder.RunID())
	}

	if cfg.Status.Addr != "" {
		srv := status.New(study, status.Info{
			ProblemID:   cfg.ProblemID,
			Evaluator:   cfg.Evaluator.Name,
			Sampler:     sampler.Name(),
			TrialBudget: cfg.TrialBudget,
			Concurrency: cfg.Concurrency,
		})
		if err := srv.Start(cfg.Status.Addr); err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Stop(shutdownCtx)
		}()
	}

	started := time.Now()
	summary, tuneErr := runner.Tune(ctx, &runner.TuneOpts{
		Controller: study,
		Space:      sp,
		Executor:   exec,
		Root:       root,
		Trials:     cfg.TrialBudget,
		Workers:    cfg.Concurrency,
		Observers:  observers,
	})

	trials := study.Trials()
	counts := study.Counts()
	best, hasBest := study.Best()
	var bestPtr *search.Trial
	if hasBest {
		bestPtr = &best
	}

	if recorder != nil {
		if err := recorder.FinishRun(counts.Complete, counts.Failed, bestPtr); err != nil {
			logrus.Warnf("%v", err)
		}
	}
	if cfg.Results.Dir != "" {
		runDir, err := result.CreateRunDir(cfg.Results.Dir)
		if err != nil {
			return errors.Join(tuneErr, err)
		}
		rec := &result.StudyRecord{
			Started:     started,
			Finished:    time.Now(),
			ProblemID:   cfg.ProblemID,
			Iterations:  cfg.IterationBudget,
			TrialBudget: cfg.TrialBudget,
			Concurrency: cfg.Concurrency,
			Sampler:     sampler.Name(),
			Seed:        cfg.Sampler.Seed,
			Evaluator: result.EvaluatorInfo{
				Name:     cfg.Evaluator.Name,
				Digest:   bin.Digest,
				Revision: revision,
			},
			Best:   bestPtr,
			Trials: trials,
		}
		if tuneErr == nil {
			rec.BestPath = cfg.ParamsPath()
		}
		if err := result.WriteStudy(runDir, rec); err != nil {
			return errors.Join(tuneErr, err)
		}
		logrus.Infof("Study written to %s", runDir)
	}
	if tuneErr != nil {
		return tuneErr
	}

	if err := bin.Verify(); err != nil {
		return fmt.Errorf("evaluator changed during the run: %w", err)
	}

	paramsPath := cfg.ParamsPath()
	if err := result.WriteBestParams(paramsPath, sp.Document(summary.BestParams)); err != nil {
		return err
	}

	fmt.Fprintf(out, "Trials: %d (%d failed) in %s\n", summary.Trials, summary.Failed, summary.Duration.Round(time.Second))
	fmt.Fprintf(out, "Best score: %.3f (trial %d)\n", summary.BestScore, best.Number)
	fmt.Fprintf(out, "Best params written to %s\n", paramsPath)
	return nil
}
