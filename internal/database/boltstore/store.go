// Package boltstore provides persistent strike storage using BoltDB (bbolt).
// It implements strikes.Store with one bucket per relation plus secondary
// index buckets for per-user and per-expiry lookups.
package boltstore

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"strikekeeper/internal/database"

	bolt "go.etcd.io/bbolt"
)

// Bucket names for organizing data
var (
	// BucketStrikes stores every strike keyed by big-endian strike ID
	BucketStrikes = []byte("strikes")

	// BucketActiveByUser indexes active strikes: {user_id:strike_id} -> {}
	BucketActiveByUser = []byte("strikes_active_by_user")

	// BucketActiveByExpiry indexes active strikes: {expires_at:strike_id} -> {user_id}
	BucketActiveByExpiry = []byte("strikes_active_by_expiry")

	// BucketViolations stores one ViolationRecord per user keyed by user ID
	BucketViolations = []byte("violations")

	// BucketBotState stores operational state such as the summary anchor
	BucketBotState = []byte("bot_state")

	// BucketAuditLog stores the strike action audit trail
	BucketAuditLog = []byte("audit_log")
)

// Store wraps a BoltDB database and provides access to specialized stores.
type Store struct {
	db   *bolt.DB
	gate *database.WriteGate
	now  func() time.Time
}

// Options configures the BoltDB store.
type Options struct {
	// Path to the database file. Parent directories will be created if needed.
	Path string

	// Timeout for obtaining a file lock on the database.
	// If zero, a default of 5 seconds is used.
	Timeout time.Duration

	// LockTimeout bounds how long a mutation waits for the write gate.
	// If zero, database.DefaultLockTimeout is used.
	LockTimeout time.Duration

	// FileMode for creating the database file.
	// If zero, 0600 is used.
	FileMode os.FileMode

	// Now stamps new strikes. If nil, time.Now is used.
	Now func() time.Time
}

// DefaultOptions returns sensible defaults for development.
func DefaultOptions() Options {
	return Options{
		Path:        "strikes.db",
		Timeout:     5 * time.Second,
		LockTimeout: database.DefaultLockTimeout,
		FileMode:    0600,
	}
}

// Open creates or opens a BoltDB database at the specified path.
// It creates all necessary buckets if they don't exist.
func Open(opts Options) (*Store, error) {
	if opts.Path == "" {
		opts.Path = "strikes.db"
	}
	if opts.Timeout == 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.FileMode == 0 {
		opts.FileMode = 0600
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	dir := filepath.Dir(opts.Path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := bolt.Open(opts.Path, opts.FileMode, &bolt.Options{
		Timeout: opts.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			BucketStrikes,
			BucketActiveByUser,
			BucketActiveByExpiry,
			BucketViolations,
			BucketBotState,
			BucketAuditLog,
		}

		for _, bucket := range buckets {
			_, err := tx.CreateBucketIfNotExists(bucket)
			if err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}

		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{
		db:   db,
		gate: database.NewWriteGate(opts.LockTimeout),
		now:  opts.Now,
	}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// StrikeStore returns a strike store backed by this database.
func (s *Store) StrikeStore() *StrikeStore {
	return &StrikeStore{db: s.db, gate: s.gate, now: s.now}
}
