package sync

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// GitDestination commits the claims export into a local clone and pushes it,
// so auditors get a history of every export.
type GitDestination struct {
	repo   string // path to the local clone
	file   string // path of the export within the repo
	branch string
	now    func() time.Time
}

// NewGitDestination creates a git destination. repo is the path to an
// existing local clone with an "origin" remote.
func NewGitDestination(repo, file, branch string) *GitDestination {
	return &GitDestination{repo: repo, file: file, branch: branch, now: time.Now}
}

func (d *GitDestination) Name() string {
	return "git:" + filepath.Join(d.repo, d.file)
}

// GitError carries the combined output of a failed git invocation.
type GitError struct {
	Args   []string
	Output string
	Err    error
}

func (e *GitError) Error() string {
	msg := fmt.Sprintf("git %s: %v", strings.Join(e.Args, " "), e.Err)
	if e.Output != "" {
		msg += ": " + e.Output
	}
	return msg
}

func (e *GitError) Unwrap() error { return e.Err }

// Write replaces the export file, commits it when it changed, and pushes.
func (d *GitDestination) Write(ctx context.Context, data []byte) error {
	if err := d.git(ctx, "checkout", d.branch); err != nil {
		return err
	}
	// Fails harmlessly when the remote has no such branch yet.
	_ = d.git(ctx, "pull", "--ff-only", "origin", d.branch)

	path := filepath.Join(d.repo, d.file)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating export dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing export: %w", err)
	}
	if err := d.git(ctx, "add", "--", d.file); err != nil {
		return err
	}

	changed, err := d.staged(ctx)
	if err != nil || !changed {
		return err
	}

	msg := "paybridge: claims export " + d.now().UTC().Format(time.RFC3339)
	if err := d.git(ctx, "commit", "-m", msg); err != nil {
		return err
	}
	return d.git(ctx, "push", "origin", d.branch)
}

// staged reports whether the index differs from HEAD.
func (d *GitDestination) staged(ctx context.Context) (bool, error) {
	err := d.git(ctx, "diff", "--cached", "--quiet")
	if err == nil {
		return false, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
		return true, nil
	}
	return false, err
}

func (d *GitDestination) git(ctx context.Context, args ...string) error {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = d.repo
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return &GitError{Args: args, Output: strings.TrimSpace(out.String()), Err: err}
	}
	return nil
}
