// Package search proposes candidate parameter sets and keeps the history of
// completed trials that future proposals learn from.
package search

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/signalnine/hypertune/internal/space"
)

var (
	ErrNoTrials        = errors.New("no completed trials")
	ErrUnknownTrial    = errors.New("unknown trial")
	ErrAlreadyReported = errors.New("trial already reported")
)

type State string

const (
	StateRunning  State = "running"
	StateComplete State = "complete"
)

// Trial is one attempted evaluation. Score is meaningful only once State is
// StateComplete; a failed evaluation completes with the failure sentinel and
// a non-empty Failure class.
type Trial struct {
	Number   int          `json:"number"`
	Params   space.Values `json:"params"`
	State    State        `json:"state"`
	Score    float64      `json:"score"`
	Failure  string       `json:"failure,omitempty"`
	Error    string       `json:"error,omitempty"`
	Started  time.Time    `json:"started"`
	Finished time.Time    `json:"finished,omitempty"`
}

func (t Trial) clone() Trial {
	t.Params = t.Params.Clone()
	return t
}

// Controller is the capability the scheduler drives. Implementations must be
// safe for concurrent use by every worker.
type Controller interface {
	// Propose assigns the next trial number and a parameter set inside the
	// declared domains.
	Propose() (Trial, error)
	// Report records the realised score of a proposed trial exactly once.
	// failure is nil for a successful evaluation.
	Report(number int, score float64, failure error) error
	// BestParams returns the parameters of the highest scoring trial.
	BestParams() (space.Values, error)
}

// Classifier names a failure for the trial record.
type Classifier func(error) string

// Study is the synchronized Controller: every Propose and Report serialises
// through one mutex, while evaluation happens outside it. Reports may arrive
// in any order. Among equal maximum scores the earliest trial wins.
type Study struct {
	mu       sync.Mutex
	space    *space.Space
	sampler  Sampler
	rng      *rand.Rand
	classify Classifier
	trials   []*Trial
	history  []Observation
	best     int
}

// NewStudy creates an empty study. A seed of 0 picks a random seed.
func NewStudy(sp *space.Space, sampler Sampler, seed int64) *Study {
	if seed == 0 {
		seed = rand.Int63()
	}
	return &Study{
		space:    sp,
		sampler:  sampler,
		rng:      rand.New(rand.NewSource(seed)),
		classify: func(err error) string { return "failure" },
		best:     -1,
	}
}

// SetClassifier controls the Failure label stored for failed reports.
func (s *Study) SetClassifier(c Classifier) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.classify = c
}

func (s *Study) Space() *space.Space {
	return s.space
}

func (s *Study) Propose() (Trial, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw := s.sampler.Sample(s.space, s.history, s.rng)
	params := make(space.Values, len(s.space.Params))
	for _, p := range s.space.Params {
		x, ok := raw[p.Name]
		if !ok {
			return Trial{}, fmt.Errorf("sampler %s did not propose %q", s.sampler.Name(), p.Name)
		}
		params[p.Name] = p.Snap(x)
	}

	t := &Trial{
		Number:  len(s.trials),
		Params:  params,
		State:   StateRunning,
		Started: time.Now(),
	}
	s.trials = append(s.trials, t)
	return t.clone(), nil
}

func (s *Study) Report(number int, score float64, failure error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if number < 0 || number >= len(s.trials) {
		return fmt.Errorf("%w: %d", ErrUnknownTrial, number)
	}
	t := s.trials[number]
	if t.State == StateComplete {
		return fmt.Errorf("%w: %d", ErrAlreadyReported, number)
	}
	t.State = StateComplete
	t.Score = score
	t.Finished = time.Now()
	if failure != nil {
		t.Failure = s.classify(failure)
		t.Error = failure.Error()
	}
	s.history = append(s.history, Observation{Params: t.Params, Score: score})

	if s.best < 0 || score > s.trials[s.best].Score ||
		(score == s.trials[s.best].Score && number < s.best) {
		s.best = number
	}
	return nil
}

func (s *Study) BestParams() (space.Values, error) {
	best, ok := s.Best()
	if !ok {
		return nil, ErrNoTrials
	}
	return best.Params, nil
}

// Best returns a copy of the highest scoring completed trial.
func (s *Study) Best() (Trial, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.best < 0 {
		return Trial{}, false
	}
	return s.trials[s.best].clone(), true
}

// Trial returns a copy of trial number.
func (s *Study) Trial(number int) (Trial, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if number < 0 || number >= len(s.trials) {
		return Trial{}, false
	}
	return s.trials[number].clone(), true
}

// Trials returns copies of every proposed trial ordered by number.
func (s *Study) Trials() []Trial {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Trial, len(s.trials))
	for i, t := range s.trials {
		out[i] = t.clone()
	}
	return out
}

type Counts struct {
	Proposed int `json:"proposed"`
	Running  int `json:"running"`
	Complete int `json:"complete"`
	Failed   int `json:"failed"`
}

func (s *Study) Counts() Counts {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := Counts{Proposed: len(s.trials)}
	for _, t := range s.trials {
		switch t.State {
		case StateRunning:
			c.Running++
		case StateComplete:
			c.Complete++
			if t.Failure != "" {
				c.Failed++
			}
		}
	}
	return c
}
