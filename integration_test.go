//go:build integration

package main

import (
	"bytes"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/signalnine/hypertune/cmd"
	"github.com/signalnine/hypertune/internal/result"
)

const solverSource = `#!/bin/sh
# usage: solver <problem> --params <p> --output <o> --quiet -n <iters>
power=$(sed -n 's/.*"temp_func_power": *\([0-9.]*\).*/\1/p' "$3")
swap=$(sed -n 's/.*"swap": *\([0-9]*\).*/\1/p' "$3")
if [ "$swap" = "10" ]; then
  exit 1
fi
if [ "$swap" = "9" ]; then
  echo "not json" > "$5"
  exit 0
fi
echo "{\"score\": $(echo "$power * 100 + $swap" | bc)}" > "$5"
`

// createFixtureRepo creates a git repo holding an evaluator "source" and a
// build step that produces target/release/upsolve-oka-solver.
func createFixtureRepo(t *testing.T) string {
	t.Helper()
	if _, err := exec.LookPath("bc"); err != nil {
		t.Skip("bc not installed")
	}
	dir := t.TempDir()
	cmds := [][]string{
		{"git", "init"},
		{"git", "config", "user.email", "test@test.com"},
		{"git", "config", "user.name", "Test"},
	}
	for _, args := range cmds {
		c := exec.Command(args[0], args[1:]...)
		c.Dir = dir
		if out, err := c.CombinedOutput(); err != nil {
			t.Fatalf("%v: %s", err, out)
		}
	}
	os.WriteFile(filepath.Join(dir, "solver.sh"), []byte(solverSource), 0o644)
	os.WriteFile(filepath.Join(dir, "build.sh"), []byte("#!/bin/sh\nset -e\nmkdir -p target/release\ncp solver.sh target/release/upsolve-oka-solver\nchmod +x target/release/upsolve-oka-solver\n"), 0o755)
	os.WriteFile(filepath.Join(dir, ".gitignore"), []byte("target/\n"), 0o644)
	for _, args := range [][]string{
		{"git", "add", "."},
		{"git", "commit", "-m", "initial"},
	} {
		c := exec.Command(args[0], args[1:]...)
		c.Dir = dir
		if out, err := c.CombinedOutput(); err != nil {
			t.Fatalf("%v: %s", err, out)
		}
	}
	return dir
}

func writeConfig(t *testing.T, src, image string) string {
	t.Helper()
	cfg := `trial_budget: 30
concurrency: 6
iteration_budget: 10000
evaluator:
  source_dir: ` + src + `
  build:
    command: [sh, build.sh]
    artifact: target/release/upsolve-oka-solver
    image: "` + image + `"
results:
  dir: ` + filepath.Join(src, "results") + `
`
	path := filepath.Join(t.TempDir(), "hypertune.yaml")
	if err := os.WriteFile(path, []byte(cfg), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func runRoot(t *testing.T, args ...string) string {
	t.Helper()
	root := cmd.NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		t.Fatalf("%v: %v\n%s", args, err, out.String())
	}
	return out.String()
}

func checkRun(t *testing.T, src string) {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(src, "upsolve-oka-solver", "params.json"))
	if err != nil {
		t.Fatalf("best params not published: %v", err)
	}
	var best map[string]any
	if err := json.Unmarshal(data, &best); err != nil {
		t.Fatalf("best params not JSON: %v", err)
	}
	if len(best) != 13 {
		t.Errorf("expected 13 params, got %d", len(best))
	}
	if swap := best["swap"].(float64); swap == 9 || swap == 10 {
		t.Errorf("best params come from a failed trial: swap=%v", swap)
	}

	rec, err := result.ReadStudy(filepath.Join(src, "results", "latest", result.StudyFile))
	if err != nil {
		t.Fatalf("reading study: %v", err)
	}
	if len(rec.Trials) != 30 {
		t.Errorf("trials: got %d, want 30", len(rec.Trials))
	}
	if len(rec.Evaluator.Digest) != 64 {
		t.Errorf("evaluator digest not recorded: %q", rec.Evaluator.Digest)
	}
	if rec.Evaluator.Revision == "" {
		t.Error("evaluator revision not recorded")
	}
	for _, tr := range rec.Trials {
		switch tr.Params["swap"] {
		case 10:
			if tr.Failure != "process_failure" || tr.Score != 0 {
				t.Errorf("trial %d: want process_failure with score 0, got %q %v", tr.Number, tr.Failure, tr.Score)
			}
		case 9:
			if tr.Failure != "output_parse_failure" || tr.Score != 0 {
				t.Errorf("trial %d: want output_parse_failure with score 0, got %q %v", tr.Number, tr.Failure, tr.Score)
			}
		}
	}

	report := runRoot(t, "report", filepath.Join(src, "results", "latest"), "--format", "markdown")
	if !strings.Contains(report, "upsolve-oka-solver") {
		t.Errorf("report missing evaluator:\n%s", report)
	}
	runRoot(t, "validate", filepath.Join(src, "upsolve-oka-solver", "params.json"))
}

func TestTuneLocalBuild(t *testing.T) {
	src := createFixtureRepo(t)
	cfg := writeConfig(t, src, "")
	runRoot(t, "run", "--config", cfg, "--status-addr", "127.0.0.1:0")
	checkRun(t, src)
}

func TestTuneDockerBuild(t *testing.T) {
	if os.Getenv("HYPERTUNE_DOCKER_TESTS") == "" {
		t.Skip("set HYPERTUNE_DOCKER_TESTS=1 to run docker integration tests")
	}
	src := createFixtureRepo(t)
	cfg := writeConfig(t, src, "alpine:latest")
	runRoot(t, "run", "--config", cfg)
	checkRun(t, src)
}
