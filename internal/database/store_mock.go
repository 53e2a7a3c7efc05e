package database

import (
	"context"
	"time"

	"studyhall/internal/moderation"
)

// MockStore is a mock implementation of the Store interface for testing.
// Uses function fields to allow tests to inject custom behavior. Calls without
// a function set go to Fallback, or return zero values when it is nil.
type MockStore struct {
	Fallback moderation.Store

	// User operations
	CreateUserFunc func(ctx context.Context, user moderation.User) error
	GetUserFunc    func(ctx context.Context, email string) (*moderation.User, error)
	ListUsersFunc  func(ctx context.Context) ([]moderation.User, error)
	UpdateUserFunc func(ctx context.Context, user moderation.User, expectedVersion uint64) error
	DeleteUserFunc func(ctx context.Context, email string) error

	// Ban operations
	AppendBanFunc       func(ctx context.Context, record moderation.BanRecord) error
	ListBansFunc        func(ctx context.Context) ([]moderation.BanRecord, error)
	ListBansForUserFunc func(ctx context.Context, email string) ([]moderation.BanRecord, error)

	// Escalation operations
	CreateEscalationFunc func(ctx context.Context, req moderation.EscalationRequest) error
	GetEscalationFunc    func(ctx context.Context, id string) (*moderation.EscalationRequest, error)
	ListEscalationsFunc  func(ctx context.Context) ([]moderation.EscalationRequest, error)
	UpdateEscalationFunc func(ctx context.Context, req moderation.EscalationRequest, expectedVersion uint64) error

	// Message operations
	CreateMessageFunc func(ctx context.Context, msg moderation.Message) error
	GetMessageFunc    func(ctx context.Context, id string) (*moderation.Message, error)
	ListMessagesFunc  func(ctx context.Context, roomID string, since time.Time) ([]moderation.Message, error)
	UpdateMessageFunc func(ctx context.Context, msg moderation.Message, expectedVersion uint64) error
	DeleteMessageFunc func(ctx context.Context, id string, expectedVersion uint64) error

	// Audit operations
	LogActionFunc    func(ctx context.Context, entry moderation.AuditEntry) error
	ListAuditLogFunc func(ctx context.Context, limit int) ([]moderation.AuditEntry, error)

	// Notification operations
	CreateNotificationFunc    func(ctx context.Context, n moderation.Notification) error
	ListNotificationsFunc     func(ctx context.Context, email string, limit int) ([]moderation.Notification, error)
	CountUnreadFunc           func(ctx context.Context, email string) (int, error)
	MarkNotificationsReadFunc func(ctx context.Context, email string) error

	CloseFunc func() error
}

var _ Store = (*MockStore)(nil)

// CreateUser calls the mock function or the fallback store
func (m *MockStore) CreateUser(ctx context.Context, user moderation.User) error {
	if m.CreateUserFunc != nil {
		return m.CreateUserFunc(ctx, user)
	}
	if m.Fallback != nil {
		return m.Fallback.CreateUser(ctx, user)
	}
	return nil
}

// GetUser calls the mock function or the fallback store
func (m *MockStore) GetUser(ctx context.Context, email string) (*moderation.User, error) {
	if m.GetUserFunc != nil {
		return m.GetUserFunc(ctx, email)
	}
	if m.Fallback != nil {
		return m.Fallback.GetUser(ctx, email)
	}
	return nil, nil
}

// ListUsers calls the mock function or the fallback store
func (m *MockStore) ListUsers(ctx context.Context) ([]moderation.User, error) {
	if m.ListUsersFunc != nil {
		return m.ListUsersFunc(ctx)
	}
	if m.Fallback != nil {
		return m.Fallback.ListUsers(ctx)
	}
	return nil, nil
}

// UpdateUser calls the mock function or the fallback store
func (m *MockStore) UpdateUser(ctx context.Context, user moderation.User, expectedVersion uint64) error {
	if m.UpdateUserFunc != nil {
		return m.UpdateUserFunc(ctx, user, expectedVersion)
	}
	if m.Fallback != nil {
		return m.Fallback.UpdateUser(ctx, user, expectedVersion)
	}
	return nil
}

// DeleteUser calls the mock function or the fallback store
func (m *MockStore) DeleteUser(ctx context.Context, email string) error {
	if m.DeleteUserFunc != nil {
		return m.DeleteUserFunc(ctx, email)
	}
	if m.Fallback != nil {
		return m.Fallback.DeleteUser(ctx, email)
	}
	return nil
}

// AppendBan calls the mock function or the fallback store
func (m *MockStore) AppendBan(ctx context.Context, record moderation.BanRecord) error {
	if m.AppendBanFunc != nil {
		return m.AppendBanFunc(ctx, record)
	}
	if m.Fallback != nil {
		return m.Fallback.AppendBan(ctx, record)
	}
	return nil
}

// ListBans calls the mock function or the fallback store
func (m *MockStore) ListBans(ctx context.Context) ([]moderation.BanRecord, error) {
	if m.ListBansFunc != nil {
		return m.ListBansFunc(ctx)
	}
	if m.Fallback != nil {
		return m.Fallback.ListBans(ctx)
	}
	return nil, nil
}

// ListBansForUser calls the mock function or the fallback store
func (m *MockStore) ListBansForUser(ctx context.Context, email string) ([]moderation.BanRecord, error) {
	if m.ListBansForUserFunc != nil {
		return m.ListBansForUserFunc(ctx, email)
	}
	if m.Fallback != nil {
		return m.Fallback.ListBansForUser(ctx, email)
	}
	return nil, nil
}

// CreateEscalation calls the mock function or the fallback store
func (m *MockStore) CreateEscalation(ctx context.Context, req moderation.EscalationRequest) error {
	if m.CreateEscalationFunc != nil {
		return m.CreateEscalationFunc(ctx, req)
	}
	if m.Fallback != nil {
		return m.Fallback.CreateEscalation(ctx, req)
	}
	return nil
}

// GetEscalation calls the mock function or the fallback store
func (m *MockStore) GetEscalation(ctx context.Context, id string) (*moderation.EscalationRequest, error) {
	if m.GetEscalationFunc != nil {
		return m.GetEscalationFunc(ctx, id)
	}
	if m.Fallback != nil {
		return m.Fallback.GetEscalation(ctx, id)
	}
	return nil, nil
}

// ListEscalations calls the mock function or the fallback store
func (m *MockStore) ListEscalations(ctx context.Context) ([]moderation.EscalationRequest, error) {
	if m.ListEscalationsFunc != nil {
		return m.ListEscalationsFunc(ctx)
	}
	if m.Fallback != nil {
		return m.Fallback.ListEscalations(ctx)
	}
	return nil, nil
}

// UpdateEscalation calls the mock function or the fallback store
func (m *MockStore) UpdateEscalation(ctx context.Context, req moderation.EscalationRequest, expectedVersion uint64) error {
	if m.UpdateEscalationFunc != nil {
		return m.UpdateEscalationFunc(ctx, req, expectedVersion)
	}
	if m.Fallback != nil {
		return m.Fallback.UpdateEscalation(ctx, req, expectedVersion)
	}
	return nil
}

// CreateMessage calls the mock function or the fallback store
func (m *MockStore) CreateMessage(ctx context.Context, msg moderation.Message) error {
	if m.CreateMessageFunc != nil {
		return m.CreateMessageFunc(ctx, msg)
	}
	if m.Fallback != nil {
		return m.Fallback.CreateMessage(ctx, msg)
	}
	return nil
}

// GetMessage calls the mock function or the fallback store
func (m *MockStore) GetMessage(ctx context.Context, id string) (*moderation.Message, error) {
	if m.GetMessageFunc != nil {
		return m.GetMessageFunc(ctx, id)
	}
	if m.Fallback != nil {
		return m.Fallback.GetMessage(ctx, id)
	}
	return nil, nil
}

// ListMessages calls the mock function or the fallback store
func (m *MockStore) ListMessages(ctx context.Context, roomID string, since time.Time) ([]moderation.Message, error) {
	if m.ListMessagesFunc != nil {
		return m.ListMessagesFunc(ctx, roomID, since)
	}
	if m.Fallback != nil {
		return m.Fallback.ListMessages(ctx, roomID, since)
	}
	return nil, nil
}

// UpdateMessage calls the mock function or the fallback store
func (m *MockStore) UpdateMessage(ctx context.Context, msg moderation.Message, expectedVersion uint64) error {
	if m.UpdateMessageFunc != nil {
		return m.UpdateMessageFunc(ctx, msg, expectedVersion)
	}
	if m.Fallback != nil {
		return m.Fallback.UpdateMessage(ctx, msg, expectedVersion)
	}
	return nil
}

// DeleteMessage calls the mock function or the fallback store
func (m *MockStore) DeleteMessage(ctx context.Context, id string, expectedVersion uint64) error {
	if m.DeleteMessageFunc != nil {
		return m.DeleteMessageFunc(ctx, id, expectedVersion)
	}
	if m.Fallback != nil {
		return m.Fallback.DeleteMessage(ctx, id, expectedVersion)
	}
	return nil
}

// LogAction calls the mock function or the fallback store
func (m *MockStore) LogAction(ctx context.Context, entry moderation.AuditEntry) error {
	if m.LogActionFunc != nil {
		return m.LogActionFunc(ctx, entry)
	}
	if m.Fallback != nil {
		return m.Fallback.LogAction(ctx, entry)
	}
	return nil
}

// ListAuditLog calls the mock function or the fallback store
func (m *MockStore) ListAuditLog(ctx context.Context, limit int) ([]moderation.AuditEntry, error) {
	if m.ListAuditLogFunc != nil {
		return m.ListAuditLogFunc(ctx, limit)
	}
	if m.Fallback != nil {
		return m.Fallback.ListAuditLog(ctx, limit)
	}
	return nil, nil
}

// CreateNotification calls the mock function or the fallback store
func (m *MockStore) CreateNotification(ctx context.Context, n moderation.Notification) error {
	if m.CreateNotificationFunc != nil {
		return m.CreateNotificationFunc(ctx, n)
	}
	if m.Fallback != nil {
		return m.Fallback.CreateNotification(ctx, n)
	}
	return nil
}

// ListNotifications calls the mock function or the fallback store
func (m *MockStore) ListNotifications(ctx context.Context, email string, limit int) ([]moderation.Notification, error) {
	if m.ListNotificationsFunc != nil {
		return m.ListNotificationsFunc(ctx, email, limit)
	}
	if m.Fallback != nil {
		return m.Fallback.ListNotifications(ctx, email, limit)
	}
	return nil, nil
}

// CountUnread calls the mock function or the fallback store
func (m *MockStore) CountUnread(ctx context.Context, email string) (int, error) {
	if m.CountUnreadFunc != nil {
		return m.CountUnreadFunc(ctx, email)
	}
	if m.Fallback != nil {
		return m.Fallback.CountUnread(ctx, email)
	}
	return 0, nil
}

// MarkNotificationsRead calls the mock function or the fallback store
func (m *MockStore) MarkNotificationsRead(ctx context.Context, email string) error {
	if m.MarkNotificationsReadFunc != nil {
		return m.MarkNotificationsReadFunc(ctx, email)
	}
	if m.Fallback != nil {
		return m.Fallback.MarkNotificationsRead(ctx, email)
	}
	return nil
}

// Close calls the mock function or returns nil if not set
func (m *MockStore) Close() error {
	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return nil
}
