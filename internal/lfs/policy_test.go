package lfs

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gitsyncd/internal/git"
	"gitsyncd/internal/notify"
)

// mockRepo implements git.Repo over a plain directory.
type mockRepo struct {
	dir       string
	dirty     []string
	staged    []string
	commits   []string
	pushes    []bool
	commitErr error
	pushErr   error
}

func (m *mockRepo) Dir() string    { return m.dir }
func (m *mockRepo) Branch() string { return "main" }

func (m *mockRepo) Pull(context.Context) error                  { return nil }
func (m *mockRepo) Fetch(context.Context) error                 { return nil }
func (m *mockRepo) ResetHard(context.Context, string) error     { return nil }
func (m *mockRepo) AddAll(context.Context) error                { return nil }
func (m *mockRepo) Commit(_ context.Context, msg string) error {
	if m.commitErr != nil {
		return m.commitErr
	}
	m.commits = append(m.commits, msg)
	return nil
}
func (m *mockRepo) HasHead(context.Context) bool                  { return true }
func (m *mockRepo) HasStagedChanges(context.Context) (bool, error) { return true, nil }
func (m *mockRepo) Head(context.Context) (string, error)          { return "deadbeef", nil }
func (m *mockRepo) LFSPush(context.Context) error                 { return nil }
func (m *mockRepo) LFSInstall(context.Context) error              { return nil }
func (m *mockRepo) RemoteURL(context.Context) (string, error)     { return "https://example.com/r.git", nil }
func (m *mockRepo) Release()                                      {}

func (m *mockRepo) StageFile(_ context.Context, path string) error {
	m.staged = append(m.staged, path)
	return nil
}

func (m *mockRepo) Push(_ context.Context, force bool) error {
	m.pushes = append(m.pushes, force)
	return m.pushErr
}

func (m *mockRepo) UntrackedAndModified(context.Context) ([]string, error) {
	return m.dirty, nil
}

var _ git.Repo = (*mockRepo)(nil)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func writeSized(t *testing.T, dir, name string, size int) {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, make([]byte, size), 0644); err != nil {
		t.Fatal(err)
	}
}

func readRules(t *testing.T, dir string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, AttributesFile))
	if err != nil {
		if os.IsNotExist(err) {
			return ""
		}
		t.Fatal(err)
	}
	return string(data)
}

const testThreshold = 64

func TestScan_TracksOversizedExtensionsOnce(t *testing.T) {
	ctx := context.Background()
	repo := &mockRepo{dir: t.TempDir()}

	writeSized(t, repo.dir, "assets/big.psd", testThreshold+1)
	writeSized(t, repo.dir, "notes.txt", testThreshold+1)  // deny-listed
	writeSized(t, repo.dir, "tiny.bin", testThreshold-1)   // under threshold
	writeSized(t, repo.dir, "clip.mp4", testThreshold+1)
	repo.dirty = []string{"assets/big.psd", "notes.txt", "tiny.bin", "clip.mp4"}

	policy := NewPolicy(repo, testLogger(), notify.Nop{}, testThreshold)
	if err := policy.Scan(ctx); err != nil {
		t.Fatalf("scan: %v", err)
	}

	rules := readRules(t, repo.dir)
	for _, want := range []string{"*.psd filter=lfs diff=lfs merge=lfs -text", "*.mp4 filter=lfs diff=lfs merge=lfs -text"} {
		if strings.Count(rules, want) != 1 {
			t.Errorf("expected exactly one %q line, got:\n%s", want, rules)
		}
	}
	if strings.Contains(rules, "*.txt") || strings.Contains(rules, "*.bin") {
		t.Errorf("unexpected rules present:\n%s", rules)
	}

	if len(repo.staged) != 1 || repo.staged[0] != AttributesFile {
		t.Errorf("staged = %v, want only %s", repo.staged, AttributesFile)
	}
	if len(repo.commits) != 1 {
		t.Fatalf("commits = %v, want one", repo.commits)
	}
	if len(repo.pushes) != 1 || repo.pushes[0] {
		t.Errorf("pushes = %v, want one non-force push", repo.pushes)
	}

	// Scanning again over the unchanged set adds nothing.
	if err := policy.Scan(ctx); err != nil {
		t.Fatalf("second scan: %v", err)
	}
	if got := readRules(t, repo.dir); got != rules {
		t.Errorf("second scan changed the rule file:\n%s", got)
	}
	if len(repo.commits) != 1 {
		t.Errorf("second scan created a commit: %v", repo.commits)
	}
}

func TestScan_NoCandidates(t *testing.T) {
	repo := &mockRepo{dir: t.TempDir()}
	policy := NewPolicy(repo, testLogger(), notify.Nop{}, testThreshold)

	if err := policy.Scan(context.Background()); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(repo.commits) != 0 {
		t.Errorf("unexpected commits: %v", repo.commits)
	}
	if readRules(t, repo.dir) != "" {
		t.Error("rule file should not exist")
	}
}

func TestScan_PushFailureIsNonFatal(t *testing.T) {
	repo := &mockRepo{dir: t.TempDir(), pushErr: errors.New("remote down")}
	writeSized(t, repo.dir, "big.blend", testThreshold+1)
	repo.dirty = []string{"big.blend"}

	policy := NewPolicy(repo, testLogger(), notify.Nop{}, testThreshold)
	if err := policy.Scan(context.Background()); err != nil {
		t.Fatalf("scan should tolerate a failing push: %v", err)
	}
	if !strings.Contains(readRules(t, repo.dir), "*.blend") {
		t.Error("rule should be locally effective despite the push failure")
	}
}

func TestScan_HookRejectionTolerated(t *testing.T) {
	repo := &mockRepo{
		dir:       t.TempDir(),
		commitErr: &git.Error{Op: "commit", Kind: git.KindHookRejected, Err: errors.New("exit status 1")},
	}
	writeSized(t, repo.dir, "big.iso", testThreshold+1)
	repo.dirty = []string{"big.iso"}

	policy := NewPolicy(repo, testLogger(), notify.Nop{}, testThreshold)
	if err := policy.Scan(context.Background()); err != nil {
		t.Fatalf("scan should tolerate a hook rejection: %v", err)
	}
}

func TestScan_OtherCommitFailureSurfaces(t *testing.T) {
	repo := &mockRepo{
		dir:       t.TempDir(),
		commitErr: &git.Error{Op: "commit", Kind: git.KindUnknown, Err: errors.New("exit status 128")},
	}
	writeSized(t, repo.dir, "big.iso", testThreshold+1)
	repo.dirty = []string{"big.iso"}

	policy := NewPolicy(repo, testLogger(), notify.Nop{}, testThreshold)
	if err := policy.Scan(context.Background()); err == nil {
		t.Fatal("expected non-hook commit failure to surface")
	}
}

func TestTrackRejected(t *testing.T) {
	ctx := context.Background()
	repo := &mockRepo{dir: t.TempDir()}
	policy := NewPolicy(repo, testLogger(), notify.Nop{}, testThreshold)

	changed, err := policy.TrackRejected(ctx, "big_asset.psd")
	if err != nil {
		t.Fatalf("track rejected: %v", err)
	}
	if !changed {
		t.Fatal("expected a rule to be added")
	}

	rules := readRules(t, repo.dir)
	if strings.Count(rules, "*.psd filter=lfs diff=lfs merge=lfs -text") != 1 {
		t.Errorf("expected exactly one .psd rule:\n%s", rules)
	}
	if len(repo.commits) != 1 {
		t.Fatalf("commits = %v, want one", repo.commits)
	}

	// Second rejection for the same cause must be a no-op, not a retry loop.
	changed, err = policy.TrackRejected(ctx, "another.psd")
	if err != nil {
		t.Fatalf("second track rejected: %v", err)
	}
	if changed {
		t.Error("expected no-op for an already-tracked extension")
	}
	if len(repo.commits) != 1 {
		t.Errorf("no-op path created a commit: %v", repo.commits)
	}
}

func TestTrackRejected_UnidentifiableFile(t *testing.T) {
	policy := NewPolicy(&mockRepo{dir: t.TempDir()}, testLogger(), notify.Nop{}, testThreshold)

	_, err := policy.TrackRejected(context.Background(), "no-extension-here")
	if !errors.Is(err, ErrUnidentifiableFile) {
		t.Errorf("err = %v, want ErrUnidentifiableFile", err)
	}
}

func TestSeed(t *testing.T) {
	repo := &mockRepo{dir: t.TempDir()}
	policy := NewPolicy(repo, testLogger(), notify.Nop{}, testThreshold)

	if err := policy.Seed(); err != nil {
		t.Fatalf("seed: %v", err)
	}
	rules := readRules(t, repo.dir)
	if !strings.Contains(rules, "*.psd filter=lfs diff=lfs merge=lfs -text") {
		t.Errorf("seed missing .psd rule:\n%s", rules)
	}

	// Seeding never overwrites an existing rule file.
	custom := "*.dat filter=lfs diff=lfs merge=lfs -text\n"
	if err := os.WriteFile(filepath.Join(repo.dir, AttributesFile), []byte(custom), 0644); err != nil {
		t.Fatal(err)
	}
	if err := policy.Seed(); err != nil {
		t.Fatalf("second seed: %v", err)
	}
	if got := readRules(t, repo.dir); got != custom {
		t.Errorf("seed overwrote existing rules: %q", got)
	}
}
