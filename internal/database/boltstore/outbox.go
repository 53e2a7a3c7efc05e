package boltstore

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"studyhall/internal/replication"

	bolt "go.etcd.io/bbolt"
)

// Outbox is the bbolt-backed replication queue. Keys are big-endian
// sequence numbers so a cursor walk yields changes in commit order.
type Outbox struct {
	db *bolt.DB
}

var _ replication.Outbox = (*Outbox)(nil)

func seqKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}

// appendChange adds a change to the outbox inside an existing write transaction
func appendChange(tx *bolt.Tx, collection, key string, op replication.Op, doc any) error {
	b, err := bucket(tx, BucketOutbox)
	if err != nil {
		return err
	}

	seq, err := b.NextSequence()
	if err != nil {
		return err
	}

	change := replication.Change{
		Seq:        seq,
		Collection: collection,
		Key:        key,
		Op:         op,
		CreatedAt:  time.Now(),
	}
	if doc != nil {
		raw, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("failed to marshal %s change: %w", collection, err)
		}
		change.Doc = raw
	}

	data, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("failed to marshal change: %w", err)
	}
	return b.Put(seqKey(seq), data)
}

// Pending returns up to limit changes, oldest first.
func (o *Outbox) Pending(ctx context.Context, limit int) ([]replication.Change, error) {
	var changes []replication.Change

	err := o.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(BucketOutbox)
		if b == nil {
			return nil
		}

		cursor := b.Cursor()
		for k, v := cursor.First(); k != nil && (limit <= 0 || len(changes) < limit); k, v = cursor.Next() {
			var c replication.Change
			if err := json.Unmarshal(v, &c); err != nil {
				return err
			}
			changes = append(changes, c)
		}
		return nil
	})

	return changes, err
}

// Ack removes a change from the outbox.
func (o *Outbox) Ack(ctx context.Context, seq uint64) error {
	return o.db.Update(func(tx *bolt.Tx) error {
		b, err := bucket(tx, BucketOutbox)
		if err != nil {
			return err
		}
		return b.Delete(seqKey(seq))
	})
}

// Retry rewrites a change in place with its new attempt count.
func (o *Outbox) Retry(ctx context.Context, change replication.Change) error {
	return o.db.Update(func(tx *bolt.Tx) error {
		b, err := bucket(tx, BucketOutbox)
		if err != nil {
			return err
		}
		if b.Get(seqKey(change.Seq)) == nil {
			return nil
		}

		data, err := json.Marshal(change)
		if err != nil {
			return fmt.Errorf("failed to marshal change: %w", err)
		}
		return b.Put(seqKey(change.Seq), data)
	})
}

// Depth returns the number of pending changes.
func (o *Outbox) Depth(ctx context.Context) (int, error) {
	var n int
	err := o.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(BucketOutbox)
		if b == nil {
			return nil
		}
		n = b.Stats().KeyN
		return nil
	})
	return n, err
}
