package git

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
)

// Repo is the handle every other component operates through: a bound local
// worktree plus its remote binding on a single canonical branch.
type Repo interface {
	// Dir returns the root of the tracked worktree.
	Dir() string
	// Branch returns the canonical branch name.
	Branch() string
	// Pull merges the remote canonical branch into the worktree.
	Pull(ctx context.Context) error
	// Fetch updates remote tracking refs without touching the worktree.
	Fetch(ctx context.Context) error
	// ResetHard forces the worktree and branch to the given ref.
	ResetHard(ctx context.Context, ref string) error
	// AddAll stages every change in the worktree.
	AddAll(ctx context.Context) error
	// StageFile stages a single path.
	StageFile(ctx context.Context, path string) error
	// Commit records the staged changes with the given message.
	Commit(ctx context.Context, message string) error
	// HasHead reports whether a head commit exists.
	HasHead(ctx context.Context) bool
	// HasStagedChanges reports whether the index differs from the head.
	HasStagedChanges(ctx context.Context) (bool, error)
	// Head returns the current head commit hash.
	Head(ctx context.Context) (string, error)
	// Push sends the canonical branch to the remote.
	Push(ctx context.Context, force bool) error
	// LFSPush sends large-file content to the remote side-channel.
	LFSPush(ctx context.Context) error
	// LFSInstall installs the LFS hooks into the repository.
	LFSInstall(ctx context.Context) error
	// UntrackedAndModified lists paths that are untracked or modified but
	// not yet staged, relative to the worktree root.
	UntrackedAndModified(ctx context.Context) ([]string, error)
	// RemoteURL returns the origin URL.
	RemoteURL(ctx context.Context) (string, error)
	// Release drops any state the handle accumulated during a sync attempt.
	Release()
}

// ShellRepo implements Repo by shelling out to the git and git-lfs commands.
type ShellRepo struct {
	dir    string
	branch string
	token  string

	mu        sync.Mutex
	remoteURL string // cached origin URL, cleared by Release
}

// Open binds an existing worktree. The directory must contain a git
// repository; anything else is surfaced as KindNotARepo so the caller can
// tell the operator to recreate the local copy.
func Open(dir, branch, token string) (*ShellRepo, error) {
	if _, err := os.Stat(filepath.Join(dir, ".git")); err != nil {
		return nil, &Error{
			Op:   "open",
			Kind: KindNotARepo,
			Err:  fmt.Errorf("%s is not a git repository: %w", dir, err),
		}
	}
	return &ShellRepo{dir: dir, branch: branch, token: token}, nil
}

// Clone clones url into dir and returns a handle bound to it. The
// destination must be empty or absent.
func Clone(ctx context.Context, url, dir, branch, token string) (*ShellRepo, error) {
	if entries, err := os.ReadDir(dir); err == nil && len(entries) > 0 {
		return nil, fmt.Errorf("destination %s is not empty", dir)
	}
	if err := os.MkdirAll(filepath.Dir(dir), 0755); err != nil {
		return nil, fmt.Errorf("failed to create parent directory: %w", err)
	}

	cmd := exec.CommandContext(ctx, "git", "clone", "--branch", branch, url, dir)
	applyAuth(cmd, token)
	if out, err := cmd.CombinedOutput(); err != nil {
		return nil, classify("clone", out, err)
	}
	return &ShellRepo{dir: dir, branch: branch, token: token}, nil
}

// Dir returns the worktree root.
func (r *ShellRepo) Dir() string { return r.dir }

// Branch returns the canonical branch name.
func (r *ShellRepo) Branch() string { return r.branch }

// Pull merges origin/<branch> into the worktree.
func (r *ShellRepo) Pull(ctx context.Context) error {
	_, err := r.runAuthed(ctx, "pull", "pull", "--no-rebase", "origin", r.branch)
	return err
}

// Fetch updates remote tracking refs.
func (r *ShellRepo) Fetch(ctx context.Context) error {
	_, err := r.runAuthed(ctx, "fetch", "fetch", "origin")
	return err
}

// ResetHard forces the worktree to the given ref.
func (r *ShellRepo) ResetHard(ctx context.Context, ref string) error {
	_, err := r.run(ctx, "reset", "reset", "--hard", ref)
	return err
}

// AddAll stages the entire worktree.
func (r *ShellRepo) AddAll(ctx context.Context) error {
	_, err := r.run(ctx, "add", "add", "-A", ".")
	return err
}

// StageFile stages a single path.
func (r *ShellRepo) StageFile(ctx context.Context, path string) error {
	_, err := r.run(ctx, "add", "add", "--", path)
	return err
}

// Commit records the staged changes. Hook rejections come back as
// KindHookRejected so the caller can downgrade them.
func (r *ShellRepo) Commit(ctx context.Context, message string) error {
	_, err := r.run(ctx, "commit", "commit", "-m", message)
	return err
}

// HasHead reports whether the repository has any commit yet.
func (r *ShellRepo) HasHead(ctx context.Context) bool {
	_, err := r.run(ctx, "rev-parse", "rev-parse", "--verify", "HEAD")
	return err == nil
}

// HasStagedChanges reports whether the index differs from the head commit.
func (r *ShellRepo) HasStagedChanges(ctx context.Context) (bool, error) {
	cmd := exec.CommandContext(ctx, "git", "-C", r.dir, "diff", "--cached", "--quiet")
	err := cmd.Run()
	if err == nil {
		return false, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
		return true, nil
	}
	return false, fmt.Errorf("git diff --cached: %w", err)
}

// Head returns the current head commit hash.
func (r *ShellRepo) Head(ctx context.Context) (string, error) {
	out, err := r.run(ctx, "rev-parse", "rev-parse", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// Push sends the canonical branch to origin.
func (r *ShellRepo) Push(ctx context.Context, force bool) error {
	args := []string{"push", "origin", r.branch}
	if force {
		args = append(args, "--force")
	}
	_, err := r.runAuthed(ctx, "push", args...)
	return err
}

// LFSPush sends queued large-file objects ahead of the normal push.
func (r *ShellRepo) LFSPush(ctx context.Context) error {
	_, err := r.runAuthed(ctx, "lfs push", "lfs", "push", "origin", r.branch)
	return err
}

// LFSInstall installs the LFS hooks locally and disables lock verification,
// which the hosted large-file endpoint rejects for personal repositories.
func (r *ShellRepo) LFSInstall(ctx context.Context) error {
	if _, err := r.run(ctx, "lfs install", "lfs", "install", "--local"); err != nil {
		return err
	}
	url, err := r.RemoteURL(ctx)
	if err != nil {
		return err
	}
	key := fmt.Sprintf("lfs.%s/info/lfs.locksverify", strings.TrimSuffix(url, "/"))
	_, err = r.run(ctx, "config", "config", "--local", key, "false")
	return err
}

// UntrackedAndModified lists worktree paths that are untracked or modified
// but not staged. Deleted paths are skipped; they have no size to inspect.
func (r *ShellRepo) UntrackedAndModified(ctx context.Context) ([]string, error) {
	out, err := r.run(ctx, "status", "status", "--porcelain", "--untracked-files=all")
	if err != nil {
		return nil, err
	}

	var paths []string
	for _, line := range strings.Split(out, "\n") {
		if len(line) < 4 {
			continue
		}
		index, worktree := line[0], line[1]
		path := strings.TrimSpace(line[3:])
		if idx := strings.LastIndex(path, " -> "); idx >= 0 {
			path = path[idx+4:]
		}
		path = strings.Trim(path, `"`)

		switch {
		case index == '?':
			paths = append(paths, path)
		case worktree != ' ' && worktree != 'D':
			paths = append(paths, path)
		}
	}
	return paths, nil
}

// RemoteURL returns the origin URL, cached until Release.
func (r *ShellRepo) RemoteURL(ctx context.Context) (string, error) {
	r.mu.Lock()
	cached := r.remoteURL
	r.mu.Unlock()
	if cached != "" {
		return cached, nil
	}

	out, err := r.run(ctx, "remote", "remote", "get-url", "origin")
	if err != nil {
		return "", err
	}
	url := strings.TrimSpace(out)

	r.mu.Lock()
	r.remoteURL = url
	r.mu.Unlock()
	return url, nil
}

// Release drops cached handle state. Called on every terminal orchestrator
// outcome so a backend holding native resources keeps the same discipline.
func (r *ShellRepo) Release() {
	r.mu.Lock()
	r.remoteURL = ""
	r.mu.Unlock()
}

// run executes a git subcommand inside the worktree and classifies failures.
func (r *ShellRepo) run(ctx context.Context, op string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", append([]string{"-C", r.dir}, args...)...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return string(out), classify(op, out, err)
	}
	return string(out), nil
}

// runAuthed is run with token credentials wired in for remote operations.
func (r *ShellRepo) runAuthed(ctx context.Context, op string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", append([]string{"-C", r.dir}, args...)...)
	applyAuth(cmd, r.token)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return string(out), classify(op, out, err)
	}
	return string(out), nil
}

// applyAuth configures token authentication for HTTPS remotes. The token is
// passed via the environment and a credential helper rather than embedded in
// a command line.
func applyAuth(cmd *exec.Cmd, token string) {
	if cmd.Env == nil {
		cmd.Env = os.Environ()
	}
	cmd.Env = append(cmd.Env, "GIT_TERMINAL_PROMPT=0")
	if token == "" {
		return
	}
	cmd.Env = append(cmd.Env, "GITSYNCD_GIT_TOKEN="+token)
	cmd.Args = insertGitFlags(cmd.Args,
		"-c", `credential.helper=!f() { echo "username=oauth2"; echo "password=$GITSYNCD_GIT_TOKEN"; }; f`,
	)
}

// insertGitFlags inserts flags immediately after the "git" command name,
// before the subcommand (e.g. "clone", "push").
func insertGitFlags(args []string, flags ...string) []string {
	if len(args) == 0 {
		return flags
	}
	result := make([]string, 0, len(args)+len(flags))
	result = append(result, args[0])
	result = append(result, flags...)
	result = append(result, args[1:]...)
	return result
}

var _ Repo = (*ShellRepo)(nil)
