// Package lfs manages the repository's large-file tracking rules: which file
// extensions are routed through the LFS side-channel instead of the normal
// content history.
package lfs

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gitsyncd/internal/git"
	"gitsyncd/internal/notify"
)

// AttributesFile is the tracking rule file at the repository root. The
// engine only ever appends to it.
const AttributesFile = ".gitattributes"

// DefaultThreshold is the size above which a file's extension is routed
// through LFS preventively.
const DefaultThreshold = 10 * 1024 * 1024 // 10 MiB

const (
	scanCommitMessage     = "Track new large-file extensions with LFS"
	reactiveCommitMessage = "Track %s with LFS after push rejection"
)

// ErrUnidentifiableFile is returned when no extension can be derived from a
// failing-path hint, so no rule can be added.
var ErrUnidentifiableFile = errors.New("cannot identify the offending file's extension")

// skipExtensions are small or text formats never worth routing through LFS.
var skipExtensions = map[string]bool{
	".txt":  true,
	".md":   true,
	".json": true,
	".py":   true,
	".js":   true,
	".html": true,
	".css":  true,
}

// seedExtensions are routed from the start on fresh checkouts.
var seedExtensions = []string{
	".exe", ".zip", ".rar", ".7z", ".mp4", ".mov",
	".jpg", ".png", ".psd", ".ai", ".pdf", ".blend",
}

// Policy keeps the set of size-routed extensions ahead of push failures
// where possible, and reacts when they slip through anyway.
type Policy struct {
	repo      git.Repo
	logger    *slog.Logger
	events    notify.Sink
	threshold int64
}

// NewPolicy creates a policy manager bound to repo. A non-positive threshold
// selects DefaultThreshold.
func NewPolicy(repo git.Repo, logger *slog.Logger, events notify.Sink, threshold int64) *Policy {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Policy{
		repo:      repo,
		logger:    logger,
		events:    events,
		threshold: threshold,
	}
}

// Seed writes the default rule set when no tracking rule file exists yet.
// Used once after cloning a fresh checkout.
func (p *Policy) Seed() error {
	path := filepath.Join(p.repo.Dir(), AttributesFile)
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	var b strings.Builder
	for _, ext := range seedExtensions {
		b.WriteString(ruleLine(ext))
		b.WriteByte('\n')
	}
	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		return fmt.Errorf("failed to seed tracking rules: %w", err)
	}
	return nil
}

// Scan inspects untracked and modified-but-unstaged paths and preventively
// adds rules for oversized extensions before the content commit sees them.
// The rule update is committed and pushed as its own isolated changeset; a
// failing push is logged only, since the rule is already locally effective.
func (p *Policy) Scan(ctx context.Context) error {
	paths, err := p.repo.UntrackedAndModified(ctx)
	if err != nil {
		return fmt.Errorf("failed to list candidate paths: %w", err)
	}
	if len(paths) == 0 {
		return nil
	}

	tracked, err := p.trackedExtensions()
	if err != nil {
		return err
	}

	newExts := make(map[string]bool)
	for _, rel := range paths {
		ext := strings.ToLower(filepath.Ext(rel))
		if ext == "" || tracked[ext] || skipExtensions[ext] || newExts[ext] {
			continue
		}
		info, err := os.Stat(filepath.Join(p.repo.Dir(), rel))
		if err != nil {
			continue
		}
		if info.Size() > p.threshold {
			newExts[ext] = true
		}
	}
	if len(newExts) == 0 {
		return nil
	}

	exts := sortedKeys(newExts)
	p.logger.Info("detected new large-file extensions", "extensions", exts)

	if err := p.appendRules("Added preventively by gitsyncd", exts); err != nil {
		return err
	}
	if err := p.commitRuleFile(ctx, scanCommitMessage); err != nil {
		return err
	}
	notify.Publishf(p.events, notify.KindRulesUpdated, "large-file routing enabled for %s", strings.Join(exts, ", "))

	if err := p.repo.Push(ctx, false); err != nil {
		p.logger.Warn("failed to push tracking rule update", "error", err)
	}
	return nil
}

// TrackRejected reacts to a size-related push rejection. It derives the
// extension from the failing-path hint and appends its rule. It reports true
// when a rule was added (the caller should retry the attempt) and false when
// the rule already existed, so the same cause is never retried twice.
func (p *Policy) TrackRejected(ctx context.Context, pathHint string) (bool, error) {
	ext := strings.ToLower(filepath.Ext(filepath.Base(pathHint)))
	if ext == "" {
		return false, fmt.Errorf("%w: %q", ErrUnidentifiableFile, pathHint)
	}

	tracked, err := p.trackedExtensions()
	if err != nil {
		return false, err
	}
	if tracked[ext] {
		return false, nil
	}

	if err := p.appendRules("Added after push rejection", []string{ext}); err != nil {
		return false, err
	}
	if err := p.commitRuleFile(ctx, fmt.Sprintf(reactiveCommitMessage, ext)); err != nil {
		return false, err
	}

	notify.Publishf(p.events, notify.KindAutoCorrection, "auto-correction applied for extension %s", ext)
	return true, nil
}

// trackedExtensions parses the rule file into the set of routed extensions.
// A missing file means nothing is routed yet.
func (p *Policy) trackedExtensions() (map[string]bool, error) {
	f, err := os.Open(filepath.Join(p.repo.Dir(), AttributesFile))
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]bool{}, nil
		}
		return nil, fmt.Errorf("failed to read tracking rules: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()

	tracked := make(map[string]bool)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.Contains(line, "filter=lfs") {
			continue
		}
		pattern := strings.Fields(line)[0]
		ext := strings.ToLower(strings.TrimPrefix(pattern, "*"))
		if ext != "" {
			tracked[ext] = true
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read tracking rules: %w", err)
	}
	return tracked, nil
}

// appendRules appends one rule per extension under a comment header. Rules
// are only ever appended, never reordered or removed.
func (p *Policy) appendRules(header string, exts []string) error {
	f, err := os.OpenFile(filepath.Join(p.repo.Dir(), AttributesFile), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open tracking rules for append: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()

	var b strings.Builder
	b.WriteString("\n# ")
	b.WriteString(header)
	b.WriteByte('\n')
	for _, ext := range exts {
		b.WriteString(ruleLine(ext))
		b.WriteByte('\n')
	}
	if _, err := f.WriteString(b.String()); err != nil {
		return fmt.Errorf("failed to append tracking rules: %w", err)
	}
	return nil
}

// commitRuleFile stages only the rule file and commits it as an isolated
// changeset. A hook rejection is downgraded to a warning; the local rules
// still advance.
func (p *Policy) commitRuleFile(ctx context.Context, message string) error {
	if err := p.repo.StageFile(ctx, AttributesFile); err != nil {
		return err
	}
	if err := p.repo.Commit(ctx, message); err != nil {
		if git.KindOf(err) == git.KindHookRejected {
			p.logger.Warn("commit hook rejected tracking rule update, continuing", "error", err)
			return nil
		}
		return err
	}
	return nil
}

func ruleLine(ext string) string {
	return fmt.Sprintf("*%s filter=lfs diff=lfs merge=lfs -text", ext)
}

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
