// Package boltstore provides persistent storage using BoltDB (bbolt).
// It implements moderation.Store and the replication outbox.
package boltstore

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

// Bucket names for organizing data
var (
	// BucketUsers stores accounts keyed by normalised email
	BucketUsers = []byte("users")

	// BucketBans stores ban records keyed by ID
	BucketBans = []byte("ban_records")

	// BucketBansByUser indexes ban records by user email
	BucketBansByUser = []byte("ban_records_by_user")

	// BucketEscalations stores escalation requests keyed by ID
	BucketEscalations = []byte("escalation_requests")

	// BucketMessages stores chat and direct messages keyed by ID
	BucketMessages = []byte("chat_messages")

	// BucketMessagesByRoom indexes messages by room
	BucketMessagesByRoom = []byte("chat_messages_by_room")

	// BucketAuditLog stores the moderation audit trail
	BucketAuditLog = []byte("moderation_audit_log")

	// BucketNotifications stores notifications keyed by recipient and ID
	BucketNotifications = []byte("notifications")

	// BucketOutbox stores changes waiting to be mirrored to the remote backend
	BucketOutbox = []byte("replication_outbox")
)

var allBuckets = [][]byte{
	BucketUsers,
	BucketBans,
	BucketBansByUser,
	BucketEscalations,
	BucketMessages,
	BucketMessagesByRoom,
	BucketAuditLog,
	BucketNotifications,
	BucketOutbox,
}

// Store wraps a BoltDB database and provides access to specialized stores.
type Store struct {
	db     *bolt.DB
	mirror bool
}

// Options configures the BoltDB store.
type Options struct {
	// Path to the database file. Parent directories will be created if needed.
	Path string

	// Timeout for obtaining a file lock on the database.
	// If zero, a default of 5 seconds is used.
	Timeout time.Duration

	// FileMode for creating the database file.
	// If zero, 0600 is used.
	FileMode os.FileMode

	// Mirror records every write in the replication outbox
	Mirror bool
}

// Open creates or opens a BoltDB database at the specified path.
// It creates all necessary buckets if they don't exist.
func Open(opts Options) (*Store, error) {
	if opts.Path == "" {
		opts.Path = "studyhall.db"
	}
	if opts.Timeout == 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.FileMode == 0 {
		opts.FileMode = 0600
	}

	// Ensure parent directory exists
	dir := filepath.Dir(opts.Path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	// Open the database
	db, err := bolt.Open(opts.Path, opts.FileMode, &bolt.Options{
		Timeout: opts.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Create buckets if they don't exist
	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range allBuckets {
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

	return &Store{db: db, mirror: opts.Mirror}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// ModerationStore returns a moderation store backed by this database.
func (s *Store) ModerationStore() *ModerationStore {
	return &ModerationStore{db: s.db, mirror: s.mirror}
}

// Outbox returns the replication outbox backed by this database.
func (s *Store) Outbox() *Outbox {
	return &Outbox{db: s.db}
}
