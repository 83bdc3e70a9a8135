// Package testutil provides real-git fixtures shared by the package tests.
package testutil

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"
)

// RequireGit skips the test when the git binary is not installed.
func RequireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git binary not available")
	}
}

// Git runs a git command in dir and fails the test on error.
func Git(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", append([]string{"-C", dir}, args...)...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("git %v: %v: %s", args, err, out)
	}
	return string(out)
}

// InitBareRemote creates a bare repository to act as the remote.
func InitBareRemote(t *testing.T, branch string) string {
	t.Helper()
	dir := t.TempDir()
	cmd := exec.Command("git", "init", "--bare", "-b", branch, dir)
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("git init --bare: %v: %s", err, out)
	}
	return dir
}

// InitWorkRepo creates a worktree repository with commit identity configured.
func InitWorkRepo(t *testing.T, branch string) string {
	t.Helper()
	dir := t.TempDir()
	cmd := exec.Command("git", "init", "-b", branch, dir)
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("git init: %v: %s", err, out)
	}
	Git(t, dir, "config", "user.email", "test@test.com")
	Git(t, dir, "config", "user.name", "Test")
	return dir
}

// CloneRepo clones remote into a fresh directory and configures identity.
func CloneRepo(t *testing.T, remote, branch string) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "clone")
	cmd := exec.Command("git", "clone", "--branch", branch, remote, dir)
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("git clone: %v: %s", err, out)
	}
	Git(t, dir, "config", "user.email", "test@test.com")
	Git(t, dir, "config", "user.name", "Test")
	return dir
}

// WriteFile writes content below the repository root.
func WriteFile(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

// CommitAll stages everything in dir and commits it.
func CommitAll(t *testing.T, dir, message string) {
	t.Helper()
	Git(t, dir, "add", "-A", ".")
	Git(t, dir, "commit", "-m", message)
}

// SeedRemote populates a bare remote with an initial commit on branch.
func SeedRemote(t *testing.T, remote, branch string, files map[string]string, message string) {
	t.Helper()
	work := CloneOrInit(t, remote, branch)
	for name, content := range files {
		WriteFile(t, work, name, content)
	}
	CommitAll(t, work, message)
	Git(t, work, "push", "origin", branch)
}

// CloneOrInit clones remote, or initializes a fresh worktree bound to it
// when the remote has no commits yet.
func CloneOrInit(t *testing.T, remote, branch string) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "work")
	cmd := exec.Command("git", "clone", "--branch", branch, remote, dir)
	if _, err := cmd.CombinedOutput(); err != nil {
		dir = InitWorkRepo(t, branch)
		Git(t, dir, "remote", "add", "origin", remote)
		return dir
	}
	Git(t, dir, "config", "user.email", "test@test.com")
	Git(t, dir, "config", "user.name", "Test")
	return dir
}
