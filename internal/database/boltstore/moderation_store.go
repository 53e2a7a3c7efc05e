package boltstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"studyhall/internal/moderation"
	"studyhall/internal/replication"

	bolt "go.etcd.io/bbolt"
)

// ModerationStore provides persistent storage for moderation data.
// Each mutating call runs in a single bbolt transaction. When mirroring is
// enabled the same transaction appends the change to the outbox.
type ModerationStore struct {
	db     *bolt.DB
	mirror bool
}

// Ensure ModerationStore implements the interface at compile time.
var _ moderation.Store = (*ModerationStore)(nil)

// indexKey joins an index prefix and a record id. NUL never appears in
// emails or room ids.
func indexKey(prefix, id string) []byte {
	return []byte(prefix + "\x00" + id)
}

func indexPrefix(prefix string) []byte {
	return []byte(prefix + "\x00")
}

// enqueue records a change for the replication worker
func (s *ModerationStore) enqueue(tx *bolt.Tx, collection, key string, op replication.Op, doc any) error {
	if !s.mirror {
		return nil
	}
	return appendChange(tx, collection, key, op, doc)
}

func bucket(tx *bolt.Tx, name []byte) (*bolt.Bucket, error) {
	b := tx.Bucket(name)
	if b == nil {
		return nil, fmt.Errorf("bucket not found: %s", name)
	}
	return b, nil
}

// ========== Users ==========

// CreateUser stores a new account with version 1.
func (s *ModerationStore) CreateUser(ctx context.Context, user moderation.User) error {
	user.Email = moderation.NormalizeEmail(user.Email)

	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := bucket(tx, BucketUsers)
		if err != nil {
			return err
		}
		if b.Get([]byte(user.Email)) != nil {
			return moderation.ErrConflict
		}

		user.Version = 1
		data, err := json.Marshal(user)
		if err != nil {
			return fmt.Errorf("failed to marshal user: %w", err)
		}
		if err := b.Put([]byte(user.Email), data); err != nil {
			return err
		}
		return s.enqueue(tx, replication.CollectionUsers, user.Email, replication.OpUpsert, user)
	})
}

// GetUser retrieves an account by email, case-insensitively.
func (s *ModerationStore) GetUser(ctx context.Context, email string) (*moderation.User, error) {
	var user *moderation.User

	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(BucketUsers)
		if b == nil {
			return nil
		}

		data := b.Get([]byte(moderation.NormalizeEmail(email)))
		if data == nil {
			return nil
		}

		user = &moderation.User{}
		return json.Unmarshal(data, user)
	})

	return user, err
}

// ListUsers returns all accounts ordered by email.
func (s *ModerationStore) ListUsers(ctx context.Context) ([]moderation.User, error) {
	var users []moderation.User

	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(BucketUsers)
		if b == nil {
			return nil
		}

		return b.ForEach(func(k, v []byte) error {
			var user moderation.User
			if err := json.Unmarshal(v, &user); err != nil {
				return err
			}
			users = append(users, user)
			return nil
		})
	})

	return users, err
}

// UpdateUser replaces an account if its stored version matches expectedVersion.
func (s *ModerationStore) UpdateUser(ctx context.Context, user moderation.User, expectedVersion uint64) error {
	user.Email = moderation.NormalizeEmail(user.Email)

	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := bucket(tx, BucketUsers)
		if err != nil {
			return err
		}

		data := b.Get([]byte(user.Email))
		if data == nil {
			return moderation.ErrNotFound
		}
		var current moderation.User
		if err := json.Unmarshal(data, &current); err != nil {
			return err
		}
		if current.Version != expectedVersion {
			return moderation.ErrVersionConflict
		}

		user.Version = expectedVersion + 1
		newData, err := json.Marshal(user)
		if err != nil {
			return fmt.Errorf("failed to marshal user: %w", err)
		}
		if err := b.Put([]byte(user.Email), newData); err != nil {
			return err
		}
		return s.enqueue(tx, replication.CollectionUsers, user.Email, replication.OpUpsert, user)
	})
}

// DeleteUser removes an account.
func (s *ModerationStore) DeleteUser(ctx context.Context, email string) error {
	email = moderation.NormalizeEmail(email)

	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := bucket(tx, BucketUsers)
		if err != nil {
			return err
		}
		if b.Get([]byte(email)) == nil {
			return moderation.ErrNotFound
		}
		if err := b.Delete([]byte(email)); err != nil {
			return err
		}
		return s.enqueue(tx, replication.CollectionUsers, email, replication.OpDelete, nil)
	})
}

// ========== Ban Records ==========

// AppendBan stores a ban record and indexes it by user.
func (s *ModerationStore) AppendBan(ctx context.Context, record moderation.BanRecord) error {
	record.UserEmail = moderation.NormalizeEmail(record.UserEmail)

	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := bucket(tx, BucketBans)
		if err != nil {
			return err
		}
		if b.Get([]byte(record.ID)) != nil {
			return moderation.ErrConflict
		}

		data, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("failed to marshal ban record: %w", err)
		}
		if err := b.Put([]byte(record.ID), data); err != nil {
			return err
		}

		// Index by user
		userIndex := tx.Bucket(BucketBansByUser)
		if userIndex != nil {
			if err := userIndex.Put(indexKey(record.UserEmail, record.ID), []byte(record.ID)); err != nil {
				return err
			}
		}

		return s.enqueue(tx, replication.CollectionBans, record.ID, replication.OpUpsert, record)
	})
}

// ListBans returns every ban record in id order.
func (s *ModerationStore) ListBans(ctx context.Context) ([]moderation.BanRecord, error) {
	var records []moderation.BanRecord

	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(BucketBans)
		if b == nil {
			return nil
		}

		return b.ForEach(func(k, v []byte) error {
			var record moderation.BanRecord
			if err := json.Unmarshal(v, &record); err != nil {
				return err
			}
			records = append(records, record)
			return nil
		})
	})

	return records, err
}

// ListBansForUser returns a user's ban records in id order.
func (s *ModerationStore) ListBansForUser(ctx context.Context, email string) ([]moderation.BanRecord, error) {
	var records []moderation.BanRecord

	err := s.db.View(func(tx *bolt.Tx) error {
		userIndex := tx.Bucket(BucketBansByUser)
		if userIndex == nil {
			return nil
		}
		bans := tx.Bucket(BucketBans)
		if bans == nil {
			return nil
		}

		cursor := userIndex.Cursor()
		prefix := indexPrefix(moderation.NormalizeEmail(email))

		for k, v := cursor.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = cursor.Next() {
			// v is the ban record ID
			data := bans.Get(v)
			if data == nil {
				continue
			}

			var record moderation.BanRecord
			if err := json.Unmarshal(data, &record); err != nil {
				return err
			}
			records = append(records, record)
		}

		return nil
	})

	return records, err
}

// ========== Escalations ==========

// CreateEscalation stores a new escalation request with version 1.
func (s *ModerationStore) CreateEscalation(ctx context.Context, req moderation.EscalationRequest) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := bucket(tx, BucketEscalations)
		if err != nil {
			return err
		}
		if b.Get([]byte(req.ID)) != nil {
			return moderation.ErrConflict
		}

		req.Version = 1
		data, err := json.Marshal(req)
		if err != nil {
			return fmt.Errorf("failed to marshal escalation: %w", err)
		}
		if err := b.Put([]byte(req.ID), data); err != nil {
			return err
		}
		return s.enqueue(tx, replication.CollectionEscalations, req.ID, replication.OpUpsert, req)
	})
}

// GetEscalation retrieves an escalation request by ID.
func (s *ModerationStore) GetEscalation(ctx context.Context, id string) (*moderation.EscalationRequest, error) {
	var req *moderation.EscalationRequest

	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(BucketEscalations)
		if b == nil {
			return nil
		}

		data := b.Get([]byte(id))
		if data == nil {
			return nil
		}

		req = &moderation.EscalationRequest{}
		return json.Unmarshal(data, req)
	})

	return req, err
}

// ListEscalations returns all escalation requests in id order.
func (s *ModerationStore) ListEscalations(ctx context.Context) ([]moderation.EscalationRequest, error) {
	var reqs []moderation.EscalationRequest

	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(BucketEscalations)
		if b == nil {
			return nil
		}

		return b.ForEach(func(k, v []byte) error {
			var req moderation.EscalationRequest
			if err := json.Unmarshal(v, &req); err != nil {
				return err
			}
			reqs = append(reqs, req)
			return nil
		})
	})

	return reqs, err
}

// UpdateEscalation replaces a request if its stored version matches expectedVersion.
func (s *ModerationStore) UpdateEscalation(ctx context.Context, req moderation.EscalationRequest, expectedVersion uint64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := bucket(tx, BucketEscalations)
		if err != nil {
			return err
		}

		data := b.Get([]byte(req.ID))
		if data == nil {
			return moderation.ErrNotFound
		}
		var current moderation.EscalationRequest
		if err := json.Unmarshal(data, &current); err != nil {
			return err
		}
		if current.Version != expectedVersion {
			return moderation.ErrVersionConflict
		}

		req.Version = expectedVersion + 1
		newData, err := json.Marshal(req)
		if err != nil {
			return fmt.Errorf("failed to marshal escalation: %w", err)
		}
		if err := b.Put([]byte(req.ID), newData); err != nil {
			return err
		}
		return s.enqueue(tx, replication.CollectionEscalations, req.ID, replication.OpUpsert, req)
	})
}

// ========== Messages ==========

// CreateMessage stores a message and indexes it by room.
func (s *ModerationStore) CreateMessage(ctx context.Context, msg moderation.Message) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := bucket(tx, BucketMessages)
		if err != nil {
			return err
		}
		if b.Get([]byte(msg.ID)) != nil {
			return moderation.ErrConflict
		}

		msg.Version = 1
		data, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("failed to marshal message: %w", err)
		}
		if err := b.Put([]byte(msg.ID), data); err != nil {
			return err
		}

		// Index by room
		roomIndex := tx.Bucket(BucketMessagesByRoom)
		if roomIndex != nil {
			if err := roomIndex.Put(indexKey(msg.RoomID, msg.ID), []byte(msg.ID)); err != nil {
				return err
			}
		}

		return s.enqueue(tx, replication.CollectionMessages, msg.ID, replication.OpUpsert, msg)
	})
}

// GetMessage retrieves a message by ID.
func (s *ModerationStore) GetMessage(ctx context.Context, id string) (*moderation.Message, error) {
	var msg *moderation.Message

	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(BucketMessages)
		if b == nil {
			return nil
		}

		data := b.Get([]byte(id))
		if data == nil {
			return nil
		}

		msg = &moderation.Message{}
		return json.Unmarshal(data, msg)
	})

	return msg, err
}

// ListMessages returns messages oldest first. An empty room matches all rooms
// and a zero since matches all times.
func (s *ModerationStore) ListMessages(ctx context.Context, roomID string, since time.Time) ([]moderation.Message, error) {
	var msgs []moderation.Message

	keep := func(data []byte) error {
		var msg moderation.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			return err
		}
		if since.IsZero() || msg.CreatedAt.After(since) {
			msgs = append(msgs, msg)
		}
		return nil
	}

	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(BucketMessages)
		if b == nil {
			return nil
		}

		if roomID == "" {
			return b.ForEach(func(k, v []byte) error {
				return keep(v)
			})
		}

		roomIndex := tx.Bucket(BucketMessagesByRoom)
		if roomIndex == nil {
			return nil
		}

		cursor := roomIndex.Cursor()
		prefix := indexPrefix(roomID)

		for k, v := cursor.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = cursor.Next() {
			// v is the message ID
			data := b.Get(v)
			if data == nil {
				continue
			}
			if err := keep(data); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(msgs, func(i, j int) bool {
		if msgs[i].CreatedAt.Equal(msgs[j].CreatedAt) {
			return msgs[i].ID < msgs[j].ID
		}
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})
	return msgs, nil
}

// UpdateMessage replaces a message if its stored version matches expectedVersion.
func (s *ModerationStore) UpdateMessage(ctx context.Context, msg moderation.Message, expectedVersion uint64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := bucket(tx, BucketMessages)
		if err != nil {
			return err
		}

		current, err := loadMessage(b, msg.ID)
		if err != nil {
			return err
		}
		if current.Version != expectedVersion {
			return moderation.ErrVersionConflict
		}

		// Room is fixed at creation so the index stays valid
		msg.RoomID = current.RoomID
		msg.Version = expectedVersion + 1
		data, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("failed to marshal message: %w", err)
		}
		if err := b.Put([]byte(msg.ID), data); err != nil {
			return err
		}
		return s.enqueue(tx, replication.CollectionMessages, msg.ID, replication.OpUpsert, msg)
	})
}

// DeleteMessage removes a message if its stored version matches expectedVersion.
func (s *ModerationStore) DeleteMessage(ctx context.Context, id string, expectedVersion uint64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := bucket(tx, BucketMessages)
		if err != nil {
			return err
		}

		current, err := loadMessage(b, id)
		if err != nil {
			return err
		}
		if current.Version != expectedVersion {
			return moderation.ErrVersionConflict
		}

		if err := b.Delete([]byte(id)); err != nil {
			return err
		}
		if roomIndex := tx.Bucket(BucketMessagesByRoom); roomIndex != nil {
			if err := roomIndex.Delete(indexKey(current.RoomID, id)); err != nil {
				return err
			}
		}
		return s.enqueue(tx, replication.CollectionMessages, id, replication.OpDelete, nil)
	})
}

func loadMessage(b *bolt.Bucket, id string) (*moderation.Message, error) {
	data := b.Get([]byte(id))
	if data == nil {
		return nil, moderation.ErrNotFound
	}
	var msg moderation.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// ========== Audit Log ==========

// LogAction stores a moderation action in the audit log.
func (s *ModerationStore) LogAction(ctx context.Context, entry moderation.AuditEntry) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := bucket(tx, BucketAuditLog)
		if err != nil {
			return err
		}

		data, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("failed to marshal audit entry: %w", err)
		}

		// Use timestamp-based key for chronological ordering
		// Format: timestamp:id for uniqueness
		key := fmt.Sprintf("%020d:%s", entry.Timestamp.UnixNano(), entry.ID)

		if err := b.Put([]byte(key), data); err != nil {
			return err
		}
		return s.enqueue(tx, replication.CollectionAuditLog, entry.ID, replication.OpUpsert, entry)
	})
}

// ListAuditLog returns the most recent audit log entries.
// Entries are returned in reverse chronological order (newest first).
func (s *ModerationStore) ListAuditLog(ctx context.Context, limit int) ([]moderation.AuditEntry, error) {
	var entries []moderation.AuditEntry

	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(BucketAuditLog)
		if b == nil {
			return nil
		}

		// Walk backwards from the newest key
		cursor := b.Cursor()
		for k, v := cursor.Last(); k != nil && (limit <= 0 || len(entries) < limit); k, v = cursor.Prev() {
			var entry moderation.AuditEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				continue // Skip malformed entries
			}
			entries = append(entries, entry)
		}

		return nil
	})

	return entries, err
}

// ========== Notifications ==========

// CreateNotification stores a notification under its recipient.
func (s *ModerationStore) CreateNotification(ctx context.Context, n moderation.Notification) error {
	n.RecipientEmail = moderation.NormalizeEmail(n.RecipientEmail)

	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := bucket(tx, BucketNotifications)
		if err != nil {
			return err
		}

		data, err := json.Marshal(n)
		if err != nil {
			return fmt.Errorf("failed to marshal notification: %w", err)
		}
		if err := b.Put(indexKey(n.RecipientEmail, n.ID), data); err != nil {
			return err
		}
		return s.enqueue(tx, replication.CollectionNotifications, n.ID, replication.OpUpsert, n)
	})
}

// ListNotifications returns a user's notifications, newest first.
func (s *ModerationStore) ListNotifications(ctx context.Context, email string, limit int) ([]moderation.Notification, error) {
	var all []moderation.Notification

	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(BucketNotifications)
		if b == nil {
			return nil
		}

		cursor := b.Cursor()
		prefix := indexPrefix(moderation.NormalizeEmail(email))

		for k, v := cursor.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = cursor.Next() {
			var n moderation.Notification
			if err := json.Unmarshal(v, &n); err != nil {
				continue // Skip malformed entries
			}
			all = append(all, n)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	// Reverse to get newest first
	notifications := make([]moderation.Notification, 0, len(all))
	for i := len(all) - 1; i >= 0 && (limit <= 0 || len(notifications) < limit); i-- {
		notifications = append(notifications, all[i])
	}
	return notifications, nil
}

// CountUnread returns how many of a user's notifications are unread.
func (s *ModerationStore) CountUnread(ctx context.Context, email string) (int, error) {
	var count int

	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(BucketNotifications)
		if b == nil {
			return nil
		}

		cursor := b.Cursor()
		prefix := indexPrefix(moderation.NormalizeEmail(email))

		for k, v := cursor.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = cursor.Next() {
			var n moderation.Notification
			if err := json.Unmarshal(v, &n); err != nil {
				continue
			}
			if !n.Read {
				count++
			}
		}

		return nil
	})

	return count, err
}

// MarkNotificationsRead marks every notification for a user as read.
func (s *ModerationStore) MarkNotificationsRead(ctx context.Context, email string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := bucket(tx, BucketNotifications)
		if err != nil {
			return err
		}

		prefix := indexPrefix(moderation.NormalizeEmail(email))
		updates := make(map[string]moderation.Notification)

		cursor := b.Cursor()
		for k, v := cursor.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = cursor.Next() {
			var n moderation.Notification
			if err := json.Unmarshal(v, &n); err != nil {
				continue
			}
			if !n.Read {
				n.Read = true
				updates[string(k)] = n
			}
		}

		// Writes happen after the cursor walk; bbolt cursors are invalidated by Put
		for key, n := range updates {
			data, err := json.Marshal(n)
			if err != nil {
				return fmt.Errorf("failed to marshal notification: %w", err)
			}
			if err := b.Put([]byte(key), data); err != nil {
				return err
			}
			if err := s.enqueue(tx, replication.CollectionNotifications, n.ID, replication.OpUpsert, n); err != nil {
				return err
			}
		}

		return nil
	})
}

// hasPrefix checks if a byte slice has a given prefix.
func hasPrefix(s, prefix []byte) bool {
	if len(s) < len(prefix) {
		return false
	}
	for i, b := range prefix {
		if s[i] != b {
			return false
		}
	}
	return true
}
