// Package store records tuning runs and their trials in MySQL. It only
// writes; nothing is read back to resume a run.
package store

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/signalnine/hypertune/internal/search"
)

type Store struct {
	db *gorm.DB
}

// Open connects with a go-sql-driver DSN and migrates the schema.
func Open(dsn string) (*Store, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	return New(db)
}

// New wraps an existing connection and migrates the schema.
func New(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&TuningRun{}, &TrialRecord{}); err != nil {
		return nil, fmt.Errorf("migrating database: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// BeginRun inserts run and returns a recorder for its trials.
func (s *Store) BeginRun(run *TuningRun) (*Recorder, error) {
	if err := s.db.Create(run).Error; err != nil {
		return nil, fmt.Errorf("recording run: %w", err)
	}
	return &Recorder{db: s.db, run: run}, nil
}

// Recorder inserts each completed trial. It satisfies runner.Observer.
type Recorder struct {
	db  *gorm.DB
	run *TuningRun

	mu     sync.Mutex
	errors int
}

func (r *Recorder) RunID() uint {
	return r.run.ID
}

// OnTrialComplete is called from worker goroutines. A failed insert is
// logged and counted; it never fails the trial.
func (r *Recorder) OnTrialComplete(t search.Trial) {
	rec, err := newTrialRecord(r.run.ID, t)
	if err == nil {
		err = r.db.Create(rec).Error
	}
	if err != nil {
		r.mu.Lock()
		r.errors++
		r.mu.Unlock()
		logrus.Warnf("Trial %d: recording to database: %v", t.Number, err)
	}
}

// Errors reports how many trial inserts failed.
func (r *Recorder) Errors() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.errors
}

// FinishRun stores the run totals and, when any trial completed, the best.
func (r *Recorder) FinishRun(trials, failed int, best *search.Trial) error {
	now := time.Now()
	updates := map[string]interface{}{
		"finished_at": &now,
		"trials":      trials,
		"failed":      failed,
	}
	if best != nil {
		params, err := json.Marshal(best.Params)
		if err != nil {
			return fmt.Errorf("encoding best params: %w", err)
		}
		updates["best_trial"] = best.Number
		updates["best_score"] = best.Score
		updates["best_params"] = string(params)
	}
	if err := r.db.Model(r.run).Updates(updates).Error; err != nil {
		return fmt.Errorf("finishing run %d: %w", r.run.ID, err)
	}
	return nil
}
