// Package sync contains the synchronization core: the debounced change
// aggregator, the commit-and-push orchestrator, and the long-running watch
// session that ties them to the filesystem and a reconciliation timer.
package sync

import (
	"context"
	"log/slog"
	"strings"

	"gitsyncd/internal/git"
	"gitsyncd/internal/lfs"
	"gitsyncd/internal/notify"
)

// Outcome is the terminal result of one orchestrated synchronization run.
type Outcome int

const (
	// OutcomePushed means local history reached the remote.
	OutcomePushed Outcome = iota
	// OutcomeNoChanges means the worktree already matched the head commit.
	OutcomeNoChanges
	// OutcomeFailed means the run gave up after exhausting its attempts.
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomePushed:
		return "pushed"
	case OutcomeNoChanges:
		return "no-changes"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// maxAttempts bounds the attempt loop. One retry is enough: the only
// retryable cause is a size rejection, and the rule added in response either
// fixes it or the second rejection finds the rule already present.
const maxAttempts = 2

// MessageAutoSync is the commit message for runs triggered by filesystem
// activity rather than an explicit operator action.
const MessageAutoSync = "Auto-sync of local changes"

// MessageInitial marks the first synchronization of a fresh setup. A run
// carrying it never reports no-changes; a clean checkout still pushes its
// head so the remote binding is proven to work.
const MessageInitial = "Initial synchronization"

// Engine drives one full synchronization: converge on the remote, record
// local changes, push, and self-heal size rejections through the large-file
// policy.
type Engine struct {
	repo   git.Repo
	policy *lfs.Policy
	logger *slog.Logger
	events notify.Sink
}

// NewEngine creates an orchestrator bound to repo and its large-file policy.
func NewEngine(repo git.Repo, policy *lfs.Policy, logger *slog.Logger, events notify.Sink) *Engine {
	return &Engine{
		repo:   repo,
		policy: policy,
		logger: logger,
		events: events,
	}
}

// Run executes the attempt loop until a terminal outcome. It never panics on
// git failures; everything lands as a logged outcome. Cached repository state
// is released on every exit path.
func (e *Engine) Run(ctx context.Context, message string) Outcome {
	defer e.repo.Release()

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		outcome, retry := e.attempt(ctx, message, attempt)
		if !retry {
			return outcome
		}
	}

	notify.Publishf(e.events, notify.KindSyncFailed, "sync failed after %d attempts", maxAttempts)
	return OutcomeFailed
}

// attempt performs one pass of the pipeline. The second return value asks the
// loop for another attempt after a self-correction.
func (e *Engine) attempt(ctx context.Context, message string, attempt int) (Outcome, bool) {
	e.logger.Info("starting sync attempt", "attempt", attempt, "message", message)

	// Preventive large-file scan. A failure here never blocks the content
	// sync; the reactive path still catches what slips through.
	if err := e.policy.Scan(ctx); err != nil {
		e.logger.Warn("preventive large-file scan failed", "error", err)
	}

	if err := e.converge(ctx); err != nil {
		notify.Publishf(e.events, notify.KindSyncFailed, "sync failed: %v", err)
		return OutcomeFailed, false
	}

	if err := e.repo.AddAll(ctx); err != nil {
		e.logger.Error("failed to stage changes", "error", err)
		notify.Publishf(e.events, notify.KindSyncFailed, "sync failed: %v", err)
		return OutcomeFailed, false
	}

	hasHead := e.repo.HasHead(ctx)
	staged, err := e.repo.HasStagedChanges(ctx)
	if err != nil {
		e.logger.Error("failed to inspect index", "error", err)
		notify.Publishf(e.events, notify.KindSyncFailed, "sync failed: %v", err)
		return OutcomeFailed, false
	}

	switch {
	case !hasHead || staged:
		if err := e.repo.Commit(ctx, message); err != nil {
			if git.KindOf(err) == git.KindHookRejected {
				e.logger.Warn("commit hook rejected, continuing with existing head", "error", err)
			} else {
				e.logger.Error("commit failed", "error", err)
				notify.Publishf(e.events, notify.KindSyncFailed, "sync failed: %v", err)
				return OutcomeFailed, false
			}
		} else {
			notify.Publishf(e.events, notify.KindCommitCreated, "committed local changes: %s", message)
		}
	case attempt == 1 && message != MessageInitial:
		// Nothing new on the first attempt means the trigger was spurious.
		// A later attempt with a clean index still pushes: the content was
		// committed on the first attempt and only the push was rejected.
		e.logger.Info("no changes to synchronize")
		notify.Publishf(e.events, notify.KindNoChanges, "nothing to synchronize")
		return OutcomeNoChanges, false
	}

	// Large-file content travels on its own channel ahead of the branch
	// push. Failures surface on the branch push anyway.
	if err := e.repo.LFSPush(ctx); err != nil {
		e.logger.Warn("large-file push failed", "error", err)
	}

	if err := e.repo.Push(ctx, true); err != nil {
		return e.handlePushFailure(ctx, message, err)
	}

	e.logger.Info("sync complete", "attempt", attempt)
	notify.Publishf(e.events, notify.KindPushSucceeded, "local changes pushed to remote")
	return OutcomePushed, false
}

// converge brings the worktree in line with the remote before recording new
// local history. The local/remote divergence policy is remote-wins: a merge
// conflict forces the worktree back to the remote branch tip, after which the
// still-present local files are recommitted on top.
func (e *Engine) converge(ctx context.Context) error {
	err := e.repo.Pull(ctx)
	if err == nil {
		notify.Publishf(e.events, notify.KindPullSucceeded, "remote changes merged")
		return nil
	}

	switch git.KindOf(err) {
	case git.KindConflict:
		e.logger.Warn("pull conflict, forcing worktree to remote state", "error", err)
		if ferr := e.repo.Fetch(ctx); ferr != nil {
			return ferr
		}
		if rerr := e.repo.ResetHard(ctx, "origin/"+e.repo.Branch()); rerr != nil {
			return rerr
		}
		notify.Publishf(e.events, notify.KindConflictForced, "conflicting local history replaced with remote state")
		return nil
	case git.KindRemoteUnreachable:
		// Work offline; the push will fail loudly if the remote is still
		// gone by then.
		e.logger.Warn("remote unreachable during pull, continuing locally", "error", err)
		notify.Publishf(e.events, notify.KindWarning, "remote unreachable, syncing locally")
		return nil
	case git.KindNoRemoteRef:
		// Fresh remote with no branch yet. The push creates it.
		e.logger.Info("remote branch does not exist yet")
		return nil
	default:
		e.logger.Warn("pull failed, continuing with local state", "error", err)
		return nil
	}
}

// handlePushFailure inspects a rejected push. A size rejection feeds the
// reactive large-file policy and requests a retry when that added a new rule;
// anything else is terminal for the run.
func (e *Engine) handlePushFailure(ctx context.Context, message string, err error) (Outcome, bool) {
	if git.KindOf(err) == git.KindOversize {
		e.logger.Warn("push rejected for file size", "error", err)

		changed, terr := e.policy.TrackRejected(ctx, pathHintFromMessage(message))
		if terr != nil {
			e.logger.Error("reactive large-file correction failed", "error", terr)
		}
		if changed {
			e.logger.Info("tracking rule added, retrying sync")
			return OutcomeFailed, true
		}
	}

	e.logger.Error("push failed, probable conflict with remote history", "error", err)
	notify.Publishf(e.events, notify.KindSyncFailed, "push failed, probable conflict: %v", err)
	return OutcomeFailed, false
}

// pathHintFromMessage extracts the best-effort failing-path hint from a
// commit message of the form "Created : big_asset.psd". Without a colon the
// whole message is the hint.
func pathHintFromMessage(message string) string {
	if idx := strings.LastIndex(message, ":"); idx >= 0 {
		return strings.TrimSpace(message[idx+1:])
	}
	return strings.TrimSpace(message)
}
