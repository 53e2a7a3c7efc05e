package database

import (
	"context"
	"fmt"
	"io"

	"studyhall/internal/database/boltstore"
	"studyhall/internal/database/sqlitestore"
	"studyhall/internal/moderation"
	"studyhall/internal/replication"
)

// Store is a moderation store that owns its underlying connection.
// This abstraction allows swapping BoltDB for SQLite without touching callers.
type Store interface {
	moderation.Store

	// Close the database connection
	Close() error
}

// Backend names accepted by Open
const (
	BackendBolt   = "bolt"
	BackendSQLite = "sqlite"
)

// Options selects and configures a backend
type Options struct {
	Backend string
	Path    string

	// Mirror records writes in the replication outbox. Only the bolt backend
	// supports it.
	Mirror bool
}

type closingStore struct {
	moderation.Store
	io.Closer
}

// Open opens the configured backend. The returned outbox is nil unless
// mirroring is enabled.
func Open(ctx context.Context, opts Options) (Store, replication.Outbox, error) {
	switch opts.Backend {
	case "", BackendBolt:
		db, err := boltstore.Open(boltstore.Options{Path: opts.Path, Mirror: opts.Mirror})
		if err != nil {
			return nil, nil, err
		}
		var outbox replication.Outbox
		if opts.Mirror {
			outbox = db.Outbox()
		}
		return closingStore{Store: db.ModerationStore(), Closer: db}, outbox, nil

	case BackendSQLite:
		if opts.Mirror {
			return nil, nil, fmt.Errorf("backend %q does not support mirroring", opts.Backend)
		}
		db, err := sqlitestore.Open(ctx, opts.Path)
		if err != nil {
			return nil, nil, err
		}
		return closingStore{Store: db.ModerationStore(), Closer: db}, nil, nil

	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", opts.Backend)
	}
}
