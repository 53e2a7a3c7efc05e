package moderation

import (
	"context"
	"time"
)

// Store defines the persistence interface for moderation data.
// Implementations must be safe for concurrent use.
//
// Create methods set Version to 1 and return ErrConflict for duplicate keys.
// Update and delete methods take the version the caller read; they return
// ErrVersionConflict when the stored version differs and ErrNotFound when the
// record is gone. Getters return (nil, nil) for missing records.
type Store interface {
	UserStore
	BanStore
	EscalationStore
	MessageStore
	AuditStore
	NotificationStore
}

type UserStore interface {
	CreateUser(ctx context.Context, user User) error
	GetUser(ctx context.Context, email string) (*User, error)
	ListUsers(ctx context.Context) ([]User, error)
	UpdateUser(ctx context.Context, user User, expectedVersion uint64) error
	DeleteUser(ctx context.Context, email string) error
}

type BanStore interface {
	AppendBan(ctx context.Context, record BanRecord) error
	ListBans(ctx context.Context) ([]BanRecord, error)
	ListBansForUser(ctx context.Context, email string) ([]BanRecord, error)
}

type EscalationStore interface {
	CreateEscalation(ctx context.Context, req EscalationRequest) error
	GetEscalation(ctx context.Context, id string) (*EscalationRequest, error)
	ListEscalations(ctx context.Context) ([]EscalationRequest, error)
	UpdateEscalation(ctx context.Context, req EscalationRequest, expectedVersion uint64) error
}

type MessageStore interface {
	CreateMessage(ctx context.Context, msg Message) error
	GetMessage(ctx context.Context, id string) (*Message, error)
	// ListMessages returns messages oldest first. An empty room matches all
	// rooms and a zero since matches all times.
	ListMessages(ctx context.Context, roomID string, since time.Time) ([]Message, error)
	UpdateMessage(ctx context.Context, msg Message, expectedVersion uint64) error
	DeleteMessage(ctx context.Context, id string, expectedVersion uint64) error
}

type AuditStore interface {
	LogAction(ctx context.Context, entry AuditEntry) error
	// ListAuditLog returns the most recent entries, newest first
	ListAuditLog(ctx context.Context, limit int) ([]AuditEntry, error)
}

type NotificationStore interface {
	CreateNotification(ctx context.Context, n Notification) error
	ListNotifications(ctx context.Context, email string, limit int) ([]Notification, error)
	CountUnread(ctx context.Context, email string) (int, error)
	MarkNotificationsRead(ctx context.Context, email string) error
}
