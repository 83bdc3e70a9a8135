package journal

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitsyncd/internal/notify"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, j.Close())
	})
	return j
}

func TestAppendAndRecent(t *testing.T) {
	j := openTestJournal(t)

	base := time.Now().Truncate(time.Second)
	for i, kind := range []notify.Kind{notify.KindPullSucceeded, notify.KindCommitCreated, notify.KindPushSucceeded} {
		require.NoError(t, j.Append(notify.Event{
			Time:    base.Add(time.Duration(i) * time.Second),
			Kind:    kind,
			Message: string(kind),
		}))
	}

	events, err := j.Recent(2)
	require.NoError(t, err)
	require.Len(t, events, 2)

	// Newest first.
	assert.Equal(t, notify.KindPushSucceeded, events[0].Kind)
	assert.Equal(t, notify.KindCommitCreated, events[1].Kind)
}

func TestRecent_MoreThanStored(t *testing.T) {
	j := openTestJournal(t)

	require.NoError(t, j.Append(notify.Event{Time: time.Now(), Kind: notify.KindNoChanges, Message: "nothing to do"}))

	events, err := j.Recent(50)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestRecent_Empty(t *testing.T) {
	j := openTestJournal(t)

	events, err := j.Recent(10)
	require.NoError(t, err)
	assert.Empty(t, events)

	events, err = j.Recent(0)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestPublish_SwallowsErrors(t *testing.T) {
	j, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	require.NoError(t, j.Close())

	// Publishing after close must not panic; the sink is best-effort.
	assert.NotPanics(t, func() {
		j.Publish(notify.Event{Time: time.Now(), Kind: notify.KindWarning, Message: "late"})
	})
}
