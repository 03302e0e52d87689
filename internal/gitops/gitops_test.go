package gitops_test

import (
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/signalnine/hypertune/internal/gitops"
)

func createTestRepo(t *testing.T) string {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "solver.rs"), []byte("fn main() {}"), 0o644)
	for _, args := range [][]string{
		{"git", "init"},
		{"git", "config", "user.email", "test@test.com"},
		{"git", "config", "user.name", "Test"},
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

var shaPattern = regexp.MustCompile(`^[0-9a-f]{40}$`)

func TestRevisionClean(t *testing.T) {
	repo := createTestRepo(t)
	rev, err := gitops.Revision(repo)
	if err != nil {
		t.Fatalf("Revision: %v", err)
	}
	if !shaPattern.MatchString(rev) {
		t.Errorf("revision %q is not a bare commit hash", rev)
	}
}

func TestRevisionDirty(t *testing.T) {
	repo := createTestRepo(t)
	os.WriteFile(filepath.Join(repo, "solver.rs"), []byte("fn main() { loop {} }"), 0o644)
	rev, err := gitops.Revision(repo)
	if err != nil {
		t.Fatalf("Revision: %v", err)
	}
	if !strings.HasSuffix(rev, "-dirty") {
		t.Errorf("expected -dirty suffix, got %q", rev)
	}
}

func TestUntrackedFilesAreNotDirty(t *testing.T) {
	repo := createTestRepo(t)
	os.WriteFile(filepath.Join(repo, "params.json"), []byte("{}"), 0o644)
	dirty, err := gitops.IsDirty(repo)
	if err != nil {
		t.Fatalf("IsDirty: %v", err)
	}
	if dirty {
		t.Error("untracked file should not mark the tree dirty")
	}
}

func TestRevisionOutsideRepo(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	if _, err := gitops.Revision(t.TempDir()); err == nil {
		t.Error("expected error outside a git repository")
	}
}
