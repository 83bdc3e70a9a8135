package notify

import (
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder collects published events for assertions.
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Publish(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) all() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func TestPublishf(t *testing.T) {
	rec := &recorder{}

	Publishf(rec, KindPushSucceeded, "pushed %d commits", 2)

	events := rec.all()
	require.Len(t, events, 1)
	assert.Equal(t, KindPushSucceeded, events[0].Kind)
	assert.Equal(t, "pushed 2 commits", events[0].Message)
	assert.WithinDuration(t, time.Now(), events[0].Time, time.Minute)
}

func TestPublishf_NilSink(t *testing.T) {
	assert.NotPanics(t, func() {
		Publishf(nil, KindNoChanges, "nothing to do")
	})
}

func TestFanout(t *testing.T) {
	first := &recorder{}
	second := &recorder{}
	fan := Fanout{first, nil, second}

	Publishf(fan, KindWarning, "heads up")

	require.Len(t, first.all(), 1)
	require.Len(t, second.all(), 1)
	assert.Equal(t, first.all()[0].Message, second.all()[0].Message)
}

func TestSlogSink(t *testing.T) {
	sink := &SlogSink{Logger: slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))}

	assert.NotPanics(t, func() {
		sink.Publish(Event{Time: time.Now(), Kind: KindPullSucceeded, Message: "pull succeeded"})
		sink.Publish(Event{Time: time.Now(), Kind: KindSyncFailed, Message: "push failed"})
	})
}
