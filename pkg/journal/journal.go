// Package journal persists a broker-local record of finished queries. The
// journal is an audit log, not query state: dispatch never reads it, and a
// write failure never fails the query.
package journal

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucketQueries = []byte("queries")

// Outcome classifies how a request finished
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
	OutcomeTimedOut  Outcome = "timed_out"
)

// Entry is one finished request
type Entry struct {
	RequestID   int64     `json:"requestId"`
	Outcome     Outcome   `json:"outcome"`
	NumServers  int       `json:"numServers"`
	NumRows     int64     `json:"numRows"`
	ElapsedMs   int64     `json:"elapsedMs"`
	Error       string    `json:"error,omitempty"`
	CompletedAt time.Time `json:"completedAt"`
}

// Journal is a bbolt-backed query log
type Journal struct {
	db *bolt.DB
}

// Open opens (or creates) the journal under dataDir
func Open(dataDir string) (*Journal, error) {
	dbPath := filepath.Join(dataDir, "prism-queries.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketQueries)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create journal bucket: %w", err)
	}

	return &Journal{db: db}, nil
}

// Close closes the journal
func (j *Journal) Close() error {
	return j.db.Close()
}

// Record appends one finished-request entry, keyed by request id
func (j *Journal) Record(entry *Entry) error {
	if entry.CompletedAt.IsZero() {
		entry.CompletedAt = time.Now()
	}
	return j.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketQueries)
		data, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("failed to marshal journal entry: %w", err)
		}
		return b.Put(requestKey(entry.RequestID), data)
	})
}

// Get returns the entry for one request id, or nil if absent
func (j *Journal) Get(requestID int64) (*Entry, error) {
	var entry *Entry
	err := j.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketQueries).Get(requestKey(requestID))
		if data == nil {
			return nil
		}
		entry = &Entry{}
		return json.Unmarshal(data, entry)
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// List returns all recorded entries in request-id order
func (j *Journal) List() ([]*Entry, error) {
	var entries []*Entry
	err := j.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketQueries).ForEach(func(_, v []byte) error {
			var entry Entry
			if err := json.Unmarshal(v, &entry); err != nil {
				return err
			}
			entries = append(entries, &entry)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func requestKey(requestID int64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, uint64(requestID))
	return key
}
