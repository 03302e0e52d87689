package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/signalnine/hypertune/internal/search"
	"github.com/signalnine/hypertune/internal/space"
	"gopkg.in/yaml.v3"
)

type Config struct {
	TrialBudget     int           `yaml:"trial_budget"`
	Concurrency     int           `yaml:"concurrency"`
	IterationBudget int           `yaml:"iteration_budget"`
	ProblemID       int           `yaml:"problem_id"`
	TrialTimeout    time.Duration `yaml:"trial_timeout"`
	Evaluator       Evaluator     `yaml:"evaluator"`
	Sampler         Sampler       `yaml:"sampler"`
	Space           []space.Param `yaml:"space"`
	Results         Results       `yaml:"results"`
	Status          Status        `yaml:"status"`
	Database        Database      `yaml:"database"`
}

type Evaluator struct {
	Name      string `yaml:"name"`
	SourceDir string `yaml:"source_dir"`
	Binary    string `yaml:"binary"`
	Build     Build  `yaml:"build"`
	EnvFile   string `yaml:"env_file"`
	ParamsOut string `yaml:"params_out"`
}

type Build struct {
	Command  []string      `yaml:"command"`
	Artifact string        `yaml:"artifact"`
	Image    string        `yaml:"image"`
	Timeout  time.Duration `yaml:"timeout"`
}

type Sampler struct {
	Name          string `yaml:"name"`
	Seed          int64  `yaml:"seed"`
	StartupTrials int    `yaml:"startup_trials"`
	EICandidates  int    `yaml:"ei_candidates"`
}

type Results struct {
	Dir string `yaml:"dir"`
}

type Status struct {
	Addr string `yaml:"addr"`
}

type Database struct {
	DSN string `yaml:"dsn"`
}

// Default mirrors the original tuning driver: 200 trials over 14 workers,
// five million solver iterations on problem 1.
func Default() *Config {
	return &Config{
		TrialBudget:     200,
		Concurrency:     14,
		IterationBudget: 5_000_000,
		ProblemID:       1,
		Evaluator: Evaluator{
			Name:      "upsolve-oka-solver",
			SourceDir: ".",
			Build: Build{
				Command:  []string{"cargo", "build", "-r", "--bin", "upsolve-oka-solver"},
				Artifact: "target/release/upsolve-oka-solver",
			},
			ParamsOut: "upsolve-oka-solver/params.json",
		},
		Sampler: Sampler{
			Name:          "tpe",
			StartupTrials: 10,
			EICandidates:  24,
		},
	}
}

// Load reads path over the defaults, so any key may be omitted.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// LoadOptional behaves like Load but falls back to the defaults when path
// does not exist.
func LoadOptional(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return Load(path)
}

func (c *Config) Validate() error {
	if c.TrialBudget < 1 {
		return fmt.Errorf("trial_budget must be at least 1")
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("concurrency must be at least 1")
	}
	if c.IterationBudget < 1 {
		return fmt.Errorf("iteration_budget must be at least 1")
	}
	if c.ProblemID < 0 {
		return fmt.Errorf("problem_id must not be negative")
	}
	if c.TrialTimeout < 0 {
		return fmt.Errorf("trial_timeout must not be negative")
	}

	e := &c.Evaluator
	if e.Name == "" {
		return fmt.Errorf("evaluator: name is required")
	}
	if strings.ContainsRune(e.Name, filepath.Separator) {
		return fmt.Errorf("evaluator: name %q must not contain a path separator", e.Name)
	}
	if e.SourceDir == "" {
		e.SourceDir = "."
	}
	if e.Binary == "" && (len(e.Build.Command) == 0 || e.Build.Artifact == "") {
		return fmt.Errorf("evaluator %q: binary or build.command and build.artifact are required", e.Name)
	}
	if e.ParamsOut == "" {
		return fmt.Errorf("evaluator %q: params_out is required", e.Name)
	}

	if _, err := search.Get(c.Sampler.Name, c.SamplerOptions()); err != nil {
		return fmt.Errorf("sampler: %w", err)
	}
	if c.Sampler.StartupTrials < 0 || c.Sampler.EICandidates < 0 {
		return fmt.Errorf("sampler: startup_trials and ei_candidates must not be negative")
	}

	if len(c.Space) > 0 {
		if _, err := space.New(c.Space); err != nil {
			return fmt.Errorf("space: %w", err)
		}
	}
	return nil
}

// SearchSpace returns the configured space, or the declared default when the
// config does not override it.
func (c *Config) SearchSpace() (*space.Space, error) {
	if len(c.Space) == 0 {
		return space.Default(), nil
	}
	return space.New(c.Space)
}

func (c *Config) SamplerOptions() search.Options {
	return search.Options{
		StartupTrials: c.Sampler.StartupTrials,
		EICandidates:  c.Sampler.EICandidates,
	}
}

// Quick scales the trial and iteration budgets down by ten for smoke runs.
func (c *Config) Quick() {
	c.TrialBudget = max(1, c.TrialBudget/10)
	c.IterationBudget = max(1, c.IterationBudget/10)
}

// ParamsPath is where the best parameters are published, resolved against
// the evaluator source dir.
func (c *Config) ParamsPath() string {
	p := c.Evaluator.ParamsOut
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.Evaluator.SourceDir, p)
}
