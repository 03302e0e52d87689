package result

import (
	"time"

	"github.com/signalnine/hypertune/internal/search"
)

// StudyRecord is the persisted account of one tuning run.
type StudyRecord struct {
	Started     time.Time      `json:"started"`
	Finished    time.Time      `json:"finished"`
	ProblemID   int            `json:"problem_id"`
	Iterations  int            `json:"iteration_budget"`
	TrialBudget int            `json:"trial_budget"`
	Concurrency int            `json:"concurrency"`
	Sampler     string         `json:"sampler"`
	Seed        int64          `json:"seed,omitempty"`
	Evaluator   EvaluatorInfo  `json:"evaluator"`
	BestPath    string         `json:"best_params_path"`
	Best        *search.Trial  `json:"best,omitempty"`
	Trials      []search.Trial `json:"trials"`
}

type EvaluatorInfo struct {
	Name     string `json:"name"`
	Digest   string `json:"sha256"`
	Revision string `json:"revision,omitempty"`
}
