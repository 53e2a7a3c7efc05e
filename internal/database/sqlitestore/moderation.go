package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"studyhall/internal/moderation"
)

// timeLayout is fixed width so that text ordering matches time ordering
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// ModerationStore implements moderation.Store using SQLite.
// Versioned writes are single UPDATE statements guarded by the version column.
type ModerationStore struct {
	db *sql.DB
}

// NewModerationStore creates a ModerationStore backed by the given database.
// The database must already have the schema applied.
func NewModerationStore(db *sql.DB) *ModerationStore {
	return &ModerationStore{db: db}
}

// Ensure ModerationStore implements the interface at compile time.
var _ moderation.Store = (*ModerationStore)(nil)

type rowScanner interface {
	Scan(dest ...any) error
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}

func formatOptionalTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseOptionalTime(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t := parseTime(ns.String)
	return &t
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// checkCAS maps the result of a versioned write onto the store errors
func (s *ModerationStore) checkCAS(ctx context.Context, res sql.Result, table, key string, keyValue any) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}

	var exists int
	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM `+table+` WHERE `+key+` = ?`, keyValue).Scan(&exists)
	if err == sql.ErrNoRows {
		return moderation.ErrNotFound
	}
	if err != nil {
		return err
	}
	return moderation.ErrVersionConflict
}

func insertConflict(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return moderation.ErrConflict
	}
	return nil
}

// ========== Users ==========

const userColumns = `email, display_name, role, tier, banned_until, ban_reason, flagged_for_review, created_at, version`

func scanUser(row rowScanner) (*moderation.User, error) {
	var u moderation.User
	var bannedUntil sql.NullString
	var createdAt string
	var flagged int
	if err := row.Scan(&u.Email, &u.DisplayName, &u.Role, &u.Tier, &bannedUntil,
		&u.BanReason, &flagged, &createdAt, &u.Version); err != nil {
		return nil, err
	}
	u.BannedUntil = parseOptionalTime(bannedUntil)
	u.FlaggedForReview = flagged == 1
	u.CreatedAt = parseTime(createdAt)
	return &u, nil
}

func (s *ModerationStore) CreateUser(ctx context.Context, user moderation.User) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1)
		ON CONFLICT(email) DO NOTHING
	`, moderation.NormalizeEmail(user.Email), user.DisplayName, string(user.Role), string(user.Tier),
		formatOptionalTime(user.BannedUntil), user.BanReason, boolInt(user.FlaggedForReview),
		formatTime(user.CreatedAt))
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return insertConflict(res)
}

func (s *ModerationStore) GetUser(ctx context.Context, email string) (*moderation.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`,
		moderation.NormalizeEmail(email))
	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return u, err
}

func (s *ModerationStore) ListUsers(ctx context.Context) ([]moderation.User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY email`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []moderation.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

func (s *ModerationStore) UpdateUser(ctx context.Context, user moderation.User, expectedVersion uint64) error {
	email := moderation.NormalizeEmail(user.Email)
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET
			display_name       = ?,
			role               = ?,
			tier               = ?,
			banned_until       = ?,
			ban_reason         = ?,
			flagged_for_review = ?,
			version            = version + 1
		WHERE email = ? AND version = ?
	`, user.DisplayName, string(user.Role), string(user.Tier), formatOptionalTime(user.BannedUntil),
		user.BanReason, boolInt(user.FlaggedForReview), email, expectedVersion)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	return s.checkCAS(ctx, res, "users", "email", email)
}

func (s *ModerationStore) DeleteUser(ctx context.Context, email string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE email = ?`, moderation.NormalizeEmail(email))
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return moderation.ErrNotFound
	}
	return nil
}

// ========== Ban Records ==========

const banColumns = `id, user_email, issued_by, issuer_role, reason, created_at, expires_at, escalation_id, lift`

func (s *ModerationStore) AppendBan(ctx context.Context, r moderation.BanRecord) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO ban_records (`+banColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, r.ID, moderation.NormalizeEmail(r.UserEmail), r.IssuedBy, string(r.IssuerRole), r.Reason,
		formatTime(r.CreatedAt), formatTime(r.ExpiresAt), r.EscalationID, boolInt(r.Lift))
	if err != nil {
		return fmt.Errorf("append ban: %w", err)
	}
	return insertConflict(res)
}

func (s *ModerationStore) ListBans(ctx context.Context) ([]moderation.BanRecord, error) {
	return s.listBans(ctx, `ORDER BY created_at, id`)
}

func (s *ModerationStore) ListBansForUser(ctx context.Context, email string) ([]moderation.BanRecord, error) {
	return s.listBans(ctx, `WHERE user_email = ? ORDER BY created_at, id`, moderation.NormalizeEmail(email))
}

func (s *ModerationStore) listBans(ctx context.Context, clause string, args ...any) ([]moderation.BanRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+banColumns+` FROM ban_records `+clause, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []moderation.BanRecord
	for rows.Next() {
		var r moderation.BanRecord
		var createdAt, expiresAt string
		var lift int
		if err := rows.Scan(&r.ID, &r.UserEmail, &r.IssuedBy, &r.IssuerRole, &r.Reason,
			&createdAt, &expiresAt, &r.EscalationID, &lift); err != nil {
			return nil, err
		}
		r.CreatedAt = parseTime(createdAt)
		r.ExpiresAt = parseTime(expiresAt)
		r.Lift = lift == 1
		records = append(records, r)
	}
	return records, rows.Err()
}

// ========== Escalations ==========

const escalationColumns = `id, subject_email, requested_by, requester_role, target_role, reason, status, created_at, resolved_by, resolved_at, version`

func scanEscalation(row rowScanner) (*moderation.EscalationRequest, error) {
	var r moderation.EscalationRequest
	var createdAt string
	var resolvedAt sql.NullString
	if err := row.Scan(&r.ID, &r.SubjectEmail, &r.RequestedBy, &r.RequesterRole, &r.TargetRole,
		&r.Reason, &r.Status, &createdAt, &r.ResolvedBy, &resolvedAt, &r.Version); err != nil {
		return nil, err
	}
	r.CreatedAt = parseTime(createdAt)
	r.ResolvedAt = parseOptionalTime(resolvedAt)
	return &r, nil
}

func (s *ModerationStore) CreateEscalation(ctx context.Context, r moderation.EscalationRequest) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO escalation_requests (`+escalationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)
		ON CONFLICT(id) DO NOTHING
	`, r.ID, r.SubjectEmail, r.RequestedBy, string(r.RequesterRole), string(r.TargetRole), r.Reason,
		string(r.Status), formatTime(r.CreatedAt), r.ResolvedBy, formatOptionalTime(r.ResolvedAt))
	if err != nil {
		return fmt.Errorf("create escalation: %w", err)
	}
	return insertConflict(res)
}

func (s *ModerationStore) GetEscalation(ctx context.Context, id string) (*moderation.EscalationRequest, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+escalationColumns+` FROM escalation_requests WHERE id = ?`, id)
	r, err := scanEscalation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return r, err
}

func (s *ModerationStore) ListEscalations(ctx context.Context) ([]moderation.EscalationRequest, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+escalationColumns+` FROM escalation_requests ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reqs []moderation.EscalationRequest
	for rows.Next() {
		r, err := scanEscalation(rows)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, *r)
	}
	return reqs, rows.Err()
}

func (s *ModerationStore) UpdateEscalation(ctx context.Context, r moderation.EscalationRequest, expectedVersion uint64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE escalation_requests SET
			status      = ?,
			reason      = ?,
			resolved_by = ?,
			resolved_at = ?,
			version     = version + 1
		WHERE id = ? AND version = ?
	`, string(r.Status), r.Reason, r.ResolvedBy, formatOptionalTime(r.ResolvedAt), r.ID, expectedVersion)
	if err != nil {
		return fmt.Errorf("update escalation: %w", err)
	}
	return s.checkCAS(ctx, res, "escalation_requests", "id", r.ID)
}

// ========== Messages ==========

const messageColumns = `id, room_id, sender_email, body, created_at, flagged, flagged_by, flagged_at, version`

func scanMessage(row rowScanner) (*moderation.Message, error) {
	var m moderation.Message
	var createdAt string
	var flaggedAt sql.NullString
	var flagged int
	if err := row.Scan(&m.ID, &m.RoomID, &m.SenderEmail, &m.Text, &createdAt,
		&flagged, &m.FlaggedBy, &flaggedAt, &m.Version); err != nil {
		return nil, err
	}
	m.CreatedAt = parseTime(createdAt)
	m.Flagged = flagged == 1
	m.FlaggedAt = parseOptionalTime(flaggedAt)
	return &m, nil
}

func (s *ModerationStore) CreateMessage(ctx context.Context, m moderation.Message) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO chat_messages (`+messageColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1)
		ON CONFLICT(id) DO NOTHING
	`, m.ID, m.RoomID, m.SenderEmail, m.Text, formatTime(m.CreatedAt),
		boolInt(m.Flagged), m.FlaggedBy, formatOptionalTime(m.FlaggedAt))
	if err != nil {
		return fmt.Errorf("create message: %w", err)
	}
	return insertConflict(res)
}

func (s *ModerationStore) GetMessage(ctx context.Context, id string) (*moderation.Message, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM chat_messages WHERE id = ?`, id)
	m, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return m, err
}

func (s *ModerationStore) ListMessages(ctx context.Context, roomID string, since time.Time) ([]moderation.Message, error) {
	var where []string
	var args []any
	if roomID != "" {
		where = append(where, "room_id = ?")
		args = append(args, roomID)
	}
	if !since.IsZero() {
		where = append(where, "created_at > ?")
		args = append(args, formatTime(since))
	}

	query := `SELECT ` + messageColumns + ` FROM chat_messages`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []moderation.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, *m)
	}
	return msgs, rows.Err()
}

func (s *ModerationStore) UpdateMessage(ctx context.Context, m moderation.Message, expectedVersion uint64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE chat_messages SET
			body       = ?,
			flagged    = ?,
			flagged_by = ?,
			flagged_at = ?,
			version    = version + 1
		WHERE id = ? AND version = ?
	`, m.Text, boolInt(m.Flagged), m.FlaggedBy, formatOptionalTime(m.FlaggedAt), m.ID, expectedVersion)
	if err != nil {
		return fmt.Errorf("update message: %w", err)
	}
	return s.checkCAS(ctx, res, "chat_messages", "id", m.ID)
}

func (s *ModerationStore) DeleteMessage(ctx context.Context, id string, expectedVersion uint64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM chat_messages WHERE id = ? AND version = ?`, id, expectedVersion)
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return s.checkCAS(ctx, res, "chat_messages", "id", id)
}

// ========== Audit Log ==========

func (s *ModerationStore) LogAction(ctx context.Context, entry moderation.AuditEntry) error {
	details, err := json.Marshal(entry.Details)
	if err != nil {
		details = []byte("{}")
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO moderation_audit_log (id, action, actor_email, actor_name, target, reason, details, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, entry.ID, string(entry.Action), entry.ActorEmail, entry.ActorName, entry.Target, entry.Reason,
		string(details), formatTime(entry.Timestamp))
	if err != nil {
		return fmt.Errorf("log action: %w", err)
	}
	return nil
}

func (s *ModerationStore) ListAuditLog(ctx context.Context, limit int) ([]moderation.AuditEntry, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, action, actor_email, actor_name, target, reason, details, timestamp
		FROM moderation_audit_log ORDER BY timestamp DESC, id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []moderation.AuditEntry
	for rows.Next() {
		var e moderation.AuditEntry
		var timestampStr, detailsStr string
		if err := rows.Scan(&e.ID, &e.Action, &e.ActorEmail, &e.ActorName, &e.Target, &e.Reason,
			&detailsStr, &timestampStr); err != nil {
			continue
		}
		e.Timestamp = parseTime(timestampStr)
		_ = json.Unmarshal([]byte(detailsStr), &e.Details)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ========== Notifications ==========

func (s *ModerationStore) CreateNotification(ctx context.Context, n moderation.Notification) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (id, recipient_email, message, severity, link, created_at, is_read)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, n.ID, moderation.NormalizeEmail(n.RecipientEmail), n.Message, string(n.Severity), n.Link,
		formatTime(n.CreatedAt), boolInt(n.Read))
	if err != nil {
		return fmt.Errorf("create notification: %w", err)
	}
	return nil
}

func (s *ModerationStore) ListNotifications(ctx context.Context, email string, limit int) ([]moderation.Notification, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, recipient_email, message, severity, link, created_at, is_read
		FROM notifications WHERE recipient_email = ?
		ORDER BY created_at DESC, id DESC LIMIT ?
	`, moderation.NormalizeEmail(email), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	notifications := make([]moderation.Notification, 0)
	for rows.Next() {
		var n moderation.Notification
		var createdAt string
		var read int
		if err := rows.Scan(&n.ID, &n.RecipientEmail, &n.Message, &n.Severity, &n.Link, &createdAt, &read); err != nil {
			continue
		}
		n.CreatedAt = parseTime(createdAt)
		n.Read = read == 1
		notifications = append(notifications, n)
	}
	return notifications, rows.Err()
}

func (s *ModerationStore) CountUnread(ctx context.Context, email string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM notifications WHERE recipient_email = ? AND is_read = 0
	`, moderation.NormalizeEmail(email)).Scan(&count)
	return count, err
}

func (s *ModerationStore) MarkNotificationsRead(ctx context.Context, email string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE notifications SET is_read = 1 WHERE recipient_email = ? AND is_read = 0
	`, moderation.NormalizeEmail(email))
	if err != nil {
		return fmt.Errorf("mark notifications read: %w", err)
	}
	return nil
}
