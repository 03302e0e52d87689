package store

import (
	"encoding/json"
	"time"

	"gorm.io/gorm"

	"github.com/signalnine/hypertune/internal/search"
)

// TuningRun is one invocation of the tuner.
type TuningRun struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	ProblemID       int    `gorm:"index" json:"problem_id"`
	Evaluator       string `gorm:"type:varchar(100);not null" json:"evaluator"`
	EvaluatorDigest string `gorm:"type:char(64)" json:"evaluator_digest"`
	Revision        string `gorm:"type:varchar(64)" json:"revision"`
	Sampler         string `gorm:"type:varchar(20)" json:"sampler"`
	Seed            int64  `json:"seed"`
	TrialBudget     int    `json:"trial_budget"`
	Concurrency     int    `json:"concurrency"`
	IterationBudget int    `json:"iteration_budget"`

	FinishedAt *time.Time `json:"finished_at"`
	Trials     int        `json:"trials"`
	Failed     int        `json:"failed"`
	BestTrial  *int       `json:"best_trial"`
	BestScore  *float64   `json:"best_score"`
	BestParams string     `gorm:"type:text" json:"best_params"`
}

// TrialRecord is one completed trial of a run.
type TrialRecord struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	RunID      uint      `gorm:"not null;uniqueIndex:idx_run_trial" json:"run_id"`
	Number     int       `gorm:"not null;uniqueIndex:idx_run_trial" json:"number"`
	Score      float64   `json:"score"`
	Failure    string    `gorm:"type:varchar(40);index" json:"failure"`
	Error      string    `gorm:"type:text" json:"error"`
	Params     string    `gorm:"type:text" json:"params"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

func newTrialRecord(runID uint, t search.Trial) (*TrialRecord, error) {
	params, err := json.Marshal(t.Params)
	if err != nil {
		return nil, err
	}
	return &TrialRecord{
		RunID:      runID,
		Number:     t.Number,
		Score:      t.Score,
		Failure:    t.Failure,
		Error:      t.Error,
		Params:     string(params),
		StartedAt:  t.Started,
		FinishedAt: t.Finished,
	}, nil
}
