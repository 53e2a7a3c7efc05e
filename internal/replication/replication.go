// Package replication mirrors local store writes to a remote backend.
//
// Stores append a Change to an outbox in the same transaction as the write
// itself. A Worker drains the outbox into a Remote, retrying failed changes a
// bounded number of times. The local store stays authoritative: replication
// errors are logged and counted but never reach callers of the store.
package replication

import (
	"context"
	"encoding/json"
	"time"
)

// Op is the kind of change to mirror
type Op string

const (
	OpUpsert Op = "upsert"
	OpDelete Op = "delete"
)

// Collections mirrored to the remote backend
const (
	CollectionUsers         = "users"
	CollectionBans          = "ban_records"
	CollectionEscalations   = "escalation_requests"
	CollectionMessages      = "chat_messages"
	CollectionAuditLog      = "audit_log"
	CollectionNotifications = "notifications"
)

// Change is one pending write in the outbox
type Change struct {
	Seq        uint64          `json:"seq"`
	Collection string          `json:"collection"`
	Key        string          `json:"key"`
	Op         Op              `json:"op"`
	Doc        json.RawMessage `json:"doc,omitempty"`
	Attempts   int             `json:"attempts"`
	CreatedAt  time.Time       `json:"created_at"`
	LastError  string          `json:"last_error,omitempty"`
}

// Outbox is the durable queue of changes waiting to be mirrored
type Outbox interface {
	// Pending returns up to limit changes, oldest first
	Pending(ctx context.Context, limit int) ([]Change, error)
	// Ack removes a change once it has been applied or given up on
	Ack(ctx context.Context, seq uint64) error
	// Retry stores the updated attempt count and error for a change
	Retry(ctx context.Context, change Change) error
	// Depth returns the number of pending changes
	Depth(ctx context.Context) (int, error)
}

// Remote applies changes to the mirror backend. Apply must be idempotent.
type Remote interface {
	Apply(ctx context.Context, change Change) error
	Close(ctx context.Context) error
}
