package sync

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	gosync "sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/errgroup"

	"gitsyncd/internal/git"
	"gitsyncd/internal/lfs"
	"gitsyncd/internal/notify"
)

// runner is the orchestration entry point the session drives. Engine
// satisfies it.
type runner interface {
	Run(ctx context.Context, message string) Outcome
}

// Session is the long-running watch mode: a recursive filesystem watcher
// feeding the debouncer, a reconciliation timer pulling remote changes, and a
// gate serializing runs so at most one synchronization is in flight.
type Session struct {
	repo   git.Repo
	engine runner
	logger *slog.Logger
	events notify.Sink

	quietPeriod  time.Duration
	pollInterval time.Duration
	ignorePaths  map[string]bool

	debounce *Debouncer
	watcher  *fsnotify.Watcher

	// runCtx outlives the session context so an in-flight run completes
	// instead of leaving the repository half-synchronized on shutdown.
	runCtx context.Context

	mu          gosync.Mutex
	idle        *gosync.Cond // signalled when the run gate frees up
	syncRunning bool
	syncPending bool
}

// NewSession wires a session over repo and engine. ignorePaths are absolute
// paths whose changes never trigger a run, such as the configuration and
// token files when they live inside the tracked directory.
func NewSession(repo git.Repo, engine runner, logger *slog.Logger, events notify.Sink, quietPeriod, pollInterval time.Duration, ignorePaths ...string) *Session {
	ignored := make(map[string]bool, len(ignorePaths))
	for _, p := range ignorePaths {
		ignored[filepath.Clean(p)] = true
	}
	s := &Session{
		repo:         repo,
		engine:       engine,
		logger:       logger,
		events:       events,
		quietPeriod:  quietPeriod,
		pollInterval: pollInterval,
		ignorePaths:  ignored,
	}
	s.idle = gosync.NewCond(&s.mu)
	return s
}

// Start runs the session until ctx is cancelled. It blocks; run it from the
// command's main goroutine.
func (s *Session) Start(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	s.watcher = watcher
	defer func() {
		_ = watcher.Close()
	}()

	if err := s.watchTree(s.repo.Dir()); err != nil {
		return err
	}

	s.debounce = NewDebouncer(s.quietPeriod)

	s.runCtx = context.WithoutCancel(ctx)

	s.logger.Info("watching for changes",
		"dir", s.repo.Dir(),
		"quiet_period", s.quietPeriod,
		"poll_interval", s.pollInterval)
	notify.Publishf(s.events, notify.KindWatchStarted, "watching %s", s.repo.Dir())

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error { return s.eventLoop(gctx) })
	group.Go(func() error { return s.pollLoop(gctx) })
	err = group.Wait()

	// The loops are down and no new triggers can arm. An in-flight run
	// must complete before the session exits; interrupting it mid-push
	// would leave the repository half-synchronized.
	s.debounce.Stop()
	s.waitIdle()

	notify.Publishf(s.events, notify.KindWatchStopped, "stopped watching %s", s.repo.Dir())
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// watchTree registers dir and every subdirectory with the watcher, skipping
// the repository metadata directory.
func (s *Session) watchTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if d.Name() == ".git" {
			return filepath.SkipDir
		}
		return s.watcher.Add(path)
	})
}

// eventLoop turns qualifying filesystem events into debounced run triggers.
func (s *Session) eventLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return nil
			}
			s.handleEvent(ev)
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("filesystem watcher error", "error", err)
		}
	}
}

func (s *Session) handleEvent(ev fsnotify.Event) {
	// New directories must join the watch before anything inside them
	// changes, so this happens ahead of qualification.
	if ev.Op.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() && !insideGitDir(ev.Name) {
			if err := s.watchTree(ev.Name); err != nil {
				s.logger.Warn("failed to watch new directory", "dir", ev.Name, "error", err)
			}
		}
	}

	if !s.qualifies(ev) {
		return
	}

	s.logger.Debug("change detected", "path", ev.Name, "op", ev.Op.String())
	s.debounce.Trigger(func() {
		s.runSerialized(MessageAutoSync)
	})
}

// qualifies filters out events the engine itself causes or that carry no
// content change worth a run.
func (s *Session) qualifies(ev fsnotify.Event) bool {
	if ev.Op == fsnotify.Chmod {
		return false
	}
	path := filepath.Clean(ev.Name)
	if insideGitDir(path) {
		return false
	}
	if s.ignorePaths[path] {
		return false
	}
	// The tracking rule file is written by the engine mid-run; reacting to
	// it would re-trigger the run that produced it.
	if filepath.Base(path) == lfs.AttributesFile {
		return false
	}
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		return false
	}
	return true
}

func insideGitDir(path string) bool {
	sep := string(filepath.Separator)
	return strings.Contains(path, sep+".git"+sep) || strings.HasSuffix(path, sep+".git")
}

// pollLoop periodically pulls remote changes so edits made elsewhere land
// locally without any local trigger. Ticks that collide with a running sync
// are skipped; the sync pulls anyway.
func (s *Session) pollLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.pollOnce(ctx)
		}
	}
}

func (s *Session) pollOnce(ctx context.Context) {
	if !s.tryAcquire() {
		s.logger.Debug("sync in flight, skipping remote poll")
		return
	}

	if err := s.repo.Pull(ctx); err != nil {
		s.logger.Debug("remote poll failed", "error", err)
	} else {
		notify.Publishf(s.events, notify.KindRemoteRefreshed, "remote changes pulled")
	}

	if s.release() {
		// A trigger arrived during the poll; service it now.
		s.runSerialized(MessageAutoSync)
	}
}

// runSerialized enforces the single-flight rule: a trigger landing while a
// run is in flight sets a pending flag instead of starting a second run, and
// the current run loops once more before releasing the gate.
func (s *Session) runSerialized(message string) {
	if !s.tryAcquire() {
		s.logger.Debug("sync already running, queueing another run")
		return
	}

	for {
		s.engine.Run(s.runCtx, message)
		if !s.release() {
			return
		}
		if !s.tryAcquire() {
			return
		}
	}
}

// tryAcquire takes the run gate. If a run is already in flight it records a
// pending trigger instead and reports false.
func (s *Session) tryAcquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.syncRunning {
		s.syncPending = true
		return false
	}
	s.syncRunning = true
	return true
}

// release frees the run gate and reports whether a trigger queued up while it
// was held.
func (s *Session) release() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.syncRunning = false
	pending := s.syncPending
	s.syncPending = false
	s.idle.Broadcast()
	return pending
}

// waitIdle blocks until no run holds the gate and no trigger is queued.
func (s *Session) waitIdle() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for s.syncRunning || s.syncPending {
		s.idle.Wait()
	}
}
