// Package journal persists the synchronization event stream so past session
// activity can be inspected after the fact.
package journal

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"gitsyncd/internal/notify"
)

const bucketName = "events"

// Journal is a bbolt-backed, append-only event store. It implements
// notify.Sink so it can subscribe to the engine's event stream directly.
type Journal struct {
	db *bbolt.DB
}

// Open opens or creates the journal database at path. The open timeout
// prevents two processes from deadlocking on the same file.
func Open(path string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create journal bucket: %w", err)
	}

	return &Journal{db: db}, nil
}

// Close closes the underlying database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Append records one event under the next sequence number.
func (j *Journal) Append(e notify.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	return j.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, seq)
		return b.Put(key, data)
	})
}

// Publish implements notify.Sink. Persistence failures are swallowed; the
// journal is observational and must never stall a sync attempt.
func (j *Journal) Publish(e notify.Event) {
	_ = j.Append(e)
}

// Recent returns up to n events, newest first.
func (j *Journal) Recent(n int) ([]notify.Event, error) {
	if n <= 0 {
		return nil, nil
	}

	var events []notify.Event
	err := j.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(bucketName)).Cursor()
		for k, v := c.Last(); k != nil && len(events) < n; k, v = c.Prev() {
			var e notify.Event
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("failed to decode event %x: %w", k, err)
			}
			events = append(events, e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}

var _ notify.Sink = (*Journal)(nil)
