package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/signalnine/hypertune/internal/config"
	"github.com/signalnine/hypertune/internal/result"
	"github.com/signalnine/hypertune/internal/space"
)

// fakeSolver scores a trial with its "swap" parameter and fails whenever
// swap is 1.
const fakeSolver = `#!/bin/sh
params="$3"
output="$5"
swap=$(sed -n 's/.*"swap": *\([0-9]*\).*/\1/p' "$params")
if [ "$swap" = "1" ]; then
  echo "bad swap" >&2
  exit 3
fi
echo "{\"score\": $swap}" > "$output"
`

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func writeProject(t *testing.T) (dir, cfgPath string) {
	t.Helper()
	dir = t.TempDir()
	solver := filepath.Join(dir, "solver.sh")
	if err := os.WriteFile(solver, []byte(fakeSolver), 0o755); err != nil {
		t.Fatal(err)
	}
	cfg := `trial_budget: 12
concurrency: 3
iteration_budget: 1000
evaluator:
  name: fake-solver
  source_dir: ` + dir + `
  binary: solver.sh
  params_out: out/params.json
sampler:
  name: tpe
  seed: 3
  startup_trials: 4
space:
  - name: swap
    kind: int
    low: 1
    high: 6
  - name: temp_func_power
    kind: float
    low: 1
    high: 3
results:
  dir: ` + filepath.Join(dir, "results") + `
`
	cfgPath = filepath.Join(dir, "hypertune.yaml")
	if err := os.WriteFile(cfgPath, []byte(cfg), 0o644); err != nil {
		t.Fatal(err)
	}
	return dir, cfgPath
}

func TestRunPublishesBestParams(t *testing.T) {
	dir, cfgPath := writeProject(t)

	out, err := execute(t, "run", "--config", cfgPath, "--log", "warn")
	if err != nil {
		t.Fatalf("run failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Best params written to") {
		t.Errorf("missing summary in output:\n%s", out)
	}

	data, err := os.ReadFile(filepath.Join(dir, "out", "params.json"))
	if err != nil {
		t.Fatalf("best params not published: %v", err)
	}
	var best map[string]any
	if err := json.Unmarshal(data, &best); err != nil {
		t.Fatalf("best params not JSON: %v", err)
	}
	if len(best) != 2 {
		t.Errorf("expected 2 params, got %v", best)
	}
	if swap, _ := best["swap"].(float64); swap < 2 {
		t.Errorf("best swap should come from a successful trial, got %v", best["swap"])
	}
	if !strings.Contains(string(data), "\n    \"swap\": ") {
		t.Errorf("expected 4-space indentation:\n%s", data)
	}

	rec, err := result.ReadStudy(filepath.Join(dir, "results", "latest", result.StudyFile))
	if err != nil {
		t.Fatalf("study not persisted: %v", err)
	}
	if len(rec.Trials) != 12 {
		t.Errorf("expected 12 trials, got %d", len(rec.Trials))
	}
	for _, tr := range rec.Trials {
		if tr.Params["swap"] == 1 && (tr.Score != 0 || tr.Failure != "process_failure") {
			t.Errorf("trial %d with swap=1 should fail with sentinel score: %+v", tr.Number, tr)
		}
		if tr.Score > rec.Best.Score {
			t.Errorf("trial %d beats recorded best", tr.Number)
		}
	}

	out, err = execute(t, "report", "--config", cfgPath)
	if err != nil {
		t.Fatalf("report failed: %v", err)
	}
	if !strings.Contains(out, "fake-solver") {
		t.Errorf("report missing evaluator name:\n%s", out)
	}
}

func TestRunQuickDividesBudgets(t *testing.T) {
	dir, cfgPath := writeProject(t)
	if _, err := execute(t, "run", "--config", cfgPath, "--quick", "--log", "error"); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	rec, err := result.ReadStudy(filepath.Join(dir, "results", "latest", result.StudyFile))
	if err != nil {
		t.Fatal(err)
	}
	if rec.TrialBudget != 1 || rec.Iterations != 100 || len(rec.Trials) != 1 {
		t.Errorf("quick mode: budget %d, iterations %d, trials %d", rec.TrialBudget, rec.Iterations, len(rec.Trials))
	}
}

func TestRunMissingEvaluator(t *testing.T) {
	dir, cfgPath := writeProject(t)
	os.Remove(filepath.Join(dir, "solver.sh"))
	if _, err := execute(t, "run", "--config", cfgPath, "--log", "error"); err == nil {
		t.Fatal("expected build failure")
	}
	if _, err := os.Stat(filepath.Join(dir, "out", "params.json")); !os.IsNotExist(err) {
		t.Error("params must not be published when the evaluator cannot be staged")
	}
}

func TestApplyOverrides(t *testing.T) {
	NewRootCmd() // resets flag globals to their defaults
	flagTrials, flagParallel, flagIterations, flagProblem = 50, 4, 300, 7
	flagStatusAddr, flagDB = ":9090", "dsn"
	defer NewRootCmd()

	cfg := config.Default()
	applyOverrides(cfg)
	if cfg.TrialBudget != 50 || cfg.Concurrency != 4 || cfg.IterationBudget != 300 || cfg.ProblemID != 7 {
		t.Errorf("overrides not applied: %+v", cfg)
	}
	if cfg.Status.Addr != ":9090" || cfg.Database.DSN != "dsn" {
		t.Errorf("status/db overrides not applied: %+v", cfg)
	}

	flagQuick = true
	cfg = config.Default()
	applyOverrides(cfg)
	if cfg.TrialBudget != 5 || cfg.IterationBudget != 30 {
		t.Errorf("quick applies after overrides: got %d trials, %d iterations", cfg.TrialBudget, cfg.IterationBudget)
	}
}

func TestApplyOverridesKeepsConfigByDefault(t *testing.T) {
	NewRootCmd()
	cfg := config.Default()
	cfg.ProblemID = 9
	applyOverrides(cfg)
	if cfg.ProblemID != 9 || cfg.TrialBudget != 200 {
		t.Errorf("defaults should not override config: %+v", cfg)
	}
}

func TestValidateCommand(t *testing.T) {
	dir := t.TempDir()
	sp := space.Default()
	good := make(space.Values)
	for _, p := range sp.Params {
		good[p.Name] = p.Low
	}
	goodPath := filepath.Join(dir, "good.json")
	data, _ := json.Marshal(sp.Document(good))
	os.WriteFile(goodPath, data, 0o644)

	cfgPath := filepath.Join(dir, "absent.yaml")
	out, err := execute(t, "validate", goodPath, "--config", cfgPath)
	if err == nil {
		t.Fatal("an explicit --config that does not exist should fail")
	}

	out, err = execute(t, "validate", goodPath)
	if err != nil {
		t.Fatalf("valid params rejected: %v", err)
	}
	if !strings.Contains(out, "13 parameters OK") {
		t.Errorf("unexpected output: %s", out)
	}

	tests := []struct {
		name   string
		mutate func(space.Values)
	}{
		{"out of bounds", func(v space.Values) { v["swap"] = 11 }},
		{"unaligned", func(v space.Values) { v["important_musician_range"] = 205 }},
		{"missing", func(v space.Values) { delete(v, "max_temp") }},
		{"unknown", func(v space.Values) { v["cooling"] = 1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := good.Clone()
			tt.mutate(v)
			path := filepath.Join(dir, strings.ReplaceAll(tt.name, " ", "_")+".json")
			data, _ := json.Marshal(v)
			os.WriteFile(path, data, 0o644)
			if _, err := execute(t, "validate", path); err == nil {
				t.Error("expected validation failure")
			}
		})
	}
}

func TestSpaceCommand(t *testing.T) {
	out, err := execute(t, "space")
	if err != nil {
		t.Fatalf("space failed: %v", err)
	}
	for _, name := range space.Default().Names() {
		if !strings.Contains(out, name) {
			t.Errorf("missing %s in:\n%s", name, out)
		}
	}
}

func TestInvalidLogLevel(t *testing.T) {
	if _, err := execute(t, "space", "--log", "loud"); err == nil {
		t.Error("expected error for invalid log level")
	}
}
