// Package notify carries the engine's observational event stream. The core
// publishes what happened; displays, logs, and the journal subscribe.
package notify

import (
	"fmt"
	"log/slog"
	"time"
)

// Kind names a class of synchronization event.
type Kind string

const (
	KindPullSucceeded   Kind = "pull-succeeded"
	KindConflictForced  Kind = "conflict-forced-to-remote"
	KindCommitCreated   Kind = "commit-created"
	KindPushSucceeded   Kind = "push-succeeded"
	KindNoChanges       Kind = "no-changes"
	KindAutoCorrection  Kind = "auto-correction-applied"
	KindRulesUpdated    Kind = "tracking-rules-updated"
	KindSyncFailed      Kind = "sync-failed"
	KindWatchStarted    Kind = "watch-started"
	KindWatchStopped    Kind = "watch-stopped"
	KindRemoteRefreshed Kind = "remote-refreshed"
	KindWarning         Kind = "warning"
)

// Event is one entry in the stream.
type Event struct {
	Time    time.Time `json:"time"`
	Kind    Kind      `json:"kind"`
	Message string    `json:"message"`
}

// Sink receives published events. Publish must be safe for concurrent use
// and must not block the publisher for long.
type Sink interface {
	Publish(e Event)
}

// Publishf stamps and publishes a formatted event.
func Publishf(s Sink, kind Kind, format string, args ...any) {
	if s == nil {
		return
	}
	s.Publish(Event{
		Time:    time.Now(),
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
	})
}

// SlogSink writes events to a structured logger.
type SlogSink struct {
	Logger *slog.Logger
}

// Publish logs the event at info level (warn for warnings and failures).
func (s *SlogSink) Publish(e Event) {
	if e.Kind == KindWarning || e.Kind == KindSyncFailed {
		s.Logger.Warn(e.Message, "event", string(e.Kind))
		return
	}
	s.Logger.Info(e.Message, "event", string(e.Kind))
}

// Fanout publishes every event to all member sinks in order.
type Fanout []Sink

// Publish forwards the event to each sink.
func (f Fanout) Publish(e Event) {
	for _, s := range f {
		if s != nil {
			s.Publish(e)
		}
	}
}

// Nop discards every event.
type Nop struct{}

// Publish drops the event.
func (Nop) Publish(Event) {}
