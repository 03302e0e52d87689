package gitops

import (
	"fmt"
	"os/exec"
	"strings"
)

// Revision returns the HEAD commit of the repository containing dir, with a
// "-dirty" suffix when tracked files have uncommitted changes.
func Revision(dir string) (string, error) {
	rev := exec.Command("git", "rev-parse", "HEAD")
	rev.Dir = dir
	out, err := rev.Output()
	if err != nil {
		return "", fmt.Errorf("git rev-parse HEAD: %w", err)
	}
	head := strings.TrimSpace(string(out))

	dirty, err := IsDirty(dir)
	if err != nil {
		return "", err
	}
	if dirty {
		head += "-dirty"
	}
	return head, nil
}

// IsDirty reports whether tracked files under dir differ from HEAD.
func IsDirty(dir string) (bool, error) {
	status := exec.Command("git", "status", "--porcelain", "--untracked-files=no")
	status.Dir = dir
	out, err := status.Output()
	if err != nil {
		return false, fmt.Errorf("git status: %w", err)
	}
	return len(strings.TrimSpace(string(out))) > 0, nil
}
