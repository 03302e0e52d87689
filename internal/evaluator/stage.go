package evaluator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/signalnine/hypertune/internal/docker"
)

// DefaultBuildTimeout bounds a containerised build.
const DefaultBuildTimeout = 30 * time.Minute

type StageOpts struct {
	// Name is the staged file name under Root.
	Name string
	// SourceDir is where the build runs and where relative paths resolve.
	SourceDir string
	// Prebuilt, when set, is copied instead of building.
	Prebuilt     string
	BuildCommand []string
	Artifact     string
	// Image runs BuildCommand inside a docker container with SourceDir
	// mounted at /workspace. Empty builds on the host.
	Image        string
	BuildTimeout time.Duration
	Root         string
}

// Binary is the evaluator staged for one run. It is read-only and shared by
// every trial.
type Binary struct {
	Path   string
	Digest string
}

// Stage builds (unless a prebuilt binary is given) and copies the evaluator
// into Root. Every failure wraps ErrBuild.
func Stage(ctx context.Context, opts *StageOpts) (*Binary, error) {
	src := opts.Prebuilt
	if src == "" {
		if err := build(ctx, opts); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrBuild, err)
		}
		src = opts.Artifact
	}
	if !filepath.IsAbs(src) {
		src = filepath.Join(opts.SourceDir, src)
	}

	dest := filepath.Join(opts.Root, opts.Name)
	digest, err := copyExecutable(src, dest)
	if err != nil {
		return nil, fmt.Errorf("%w: staging %s: %w", ErrBuild, src, err)
	}
	logrus.Infof("Staged evaluator %s (sha256 %s)", dest, digest[:12])
	return &Binary{Path: dest, Digest: digest}, nil
}

// Verify checks that the staged file still matches the digest taken when it
// was staged.
func (b *Binary) Verify() error {
	f, err := os.Open(b.Path)
	if err != nil {
		return fmt.Errorf("opening staged evaluator: %w", err)
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return fmt.Errorf("hashing staged evaluator: %w", err)
	}
	if got := hex.EncodeToString(h.Sum(nil)); got != b.Digest {
		return fmt.Errorf("staged evaluator changed: sha256 %s, staged as %s", got, b.Digest)
	}
	return nil
}

func build(ctx context.Context, opts *StageOpts) error {
	if len(opts.BuildCommand) == 0 {
		return fmt.Errorf("no build command")
	}
	logrus.Infof("Building evaluator: %s", strings.Join(opts.BuildCommand, " "))
	if opts.Image != "" {
		return buildInContainer(ctx, opts)
	}
	cmd := exec.CommandContext(ctx, opts.BuildCommand[0], opts.BuildCommand[1:]...)
	cmd.Dir = opts.SourceDir
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%s: %s: %w", opts.BuildCommand[0], tail(out, 2000), err)
	}
	return nil
}

func buildInContainer(ctx context.Context, opts *StageOpts) error {
	sourceAbs, err := filepath.Abs(opts.SourceDir)
	if err != nil {
		return fmt.Errorf("resolving source dir: %w", err)
	}
	timeout := opts.BuildTimeout
	if timeout <= 0 {
		timeout = DefaultBuildTimeout
	}
	res, err := docker.RunContainer(ctx, &docker.RunOpts{
		Image:   opts.Image,
		Command: opts.BuildCommand,
		WorkDir: sourceAbs,
		Timeout: timeout,
		UserID:  fmt.Sprintf("%d:%d", os.Getuid(), os.Getgid()),
	})
	if err != nil {
		return fmt.Errorf("running build container: %w", err)
	}
	if res.TimedOut {
		return fmt.Errorf("build container timed out after %s", timeout)
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("build container exited with code %d: %s", res.ExitCode, tail(res.Logs, 2000))
	}
	return nil
}

func copyExecutable(src, dest string) (string, error) {
	in, err := os.Open(src)
	if err != nil {
		return "", err
	}
	defer in.Close()
	if info, err := in.Stat(); err != nil {
		return "", err
	} else if info.IsDir() {
		return "", fmt.Errorf("%s is a directory", src)
	}

	out, err := os.OpenFile(dest, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o755)
	if err != nil {
		return "", err
	}
	h := sha256.New()
	if _, err := io.Copy(io.MultiWriter(out, h), in); err != nil {
		out.Close()
		return "", err
	}
	if err := out.Close(); err != nil {
		return "", err
	}
	if err := os.Chmod(dest, 0o555); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func tail(b []byte, n int) string {
	s := strings.TrimSpace(string(b))
	if len(s) > n {
		s = "..." + s[len(s)-n:]
	}
	return s
}
