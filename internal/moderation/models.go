package moderation

import (
	"sort"
	"strings"
	"time"
)

// Role is a user's authority role. Roles form a strict total order, see AuthorityOf.
type Role string

const (
	RoleStudent   Role = "student"
	RoleModerator Role = "moderator"
	RoleStaff     Role = "staff"
	RoleAdmin     Role = "admin"
)

// AllRoles returns every role ordered from lowest to highest authority
func AllRoles() []Role {
	return []Role{RoleStudent, RoleModerator, RoleStaff, RoleAdmin}
}

// AuthorityOf returns the position of a role in the authority order.
// Unknown roles return -1 and therefore never satisfy an authorization check.
func AuthorityOf(r Role) int {
	switch r {
	case RoleStudent:
		return 0
	case RoleModerator:
		return 1
	case RoleStaff:
		return 2
	case RoleAdmin:
		return 3
	default:
		return -1
	}
}

// Valid reports whether r is a known role
func (r Role) Valid() bool {
	return AuthorityOf(r) >= 0
}

// AtLeast reports whether r has the same or more authority than other
func (r Role) AtLeast(other Role) bool {
	return r.Valid() && other.Valid() && AuthorityOf(r) >= AuthorityOf(other)
}

// Above reports whether r has strictly more authority than other
func (r Role) Above(other Role) bool {
	return r.Valid() && other.Valid() && AuthorityOf(r) > AuthorityOf(other)
}

// Next returns the role one level up, which is where escalations from r go.
// Students and admins have no escalation target.
func (r Role) Next() (Role, bool) {
	switch r {
	case RoleModerator:
		return RoleStaff, true
	case RoleStaff:
		return RoleAdmin, true
	default:
		return "", false
	}
}

// ParseRole parses a role name, accepting the display names used in the UI
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "student":
		return RoleStudent, nil
	case "moderator":
		return RoleModerator, nil
	case "staff":
		return RoleStaff, nil
	case "admin", "administrator":
		return RoleAdmin, nil
	}
	return "", &ValidationError{Field: "role", Message: "unknown role: " + s}
}

// Tier is a user's subscription tier
type Tier string

const (
	TierFree    Tier = "free"
	TierPremium Tier = "premium"
)

// NormalizeEmail lower-cases and trims an email so lookups are case-insensitive
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// User is an account record. Email is the key.
type User struct {
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	Role        Role   `json:"role"`
	Tier        Tier   `json:"tier"`

	// BannedUntil and BanReason mirror the governing BanRecord for display.
	// Ban checks always go to the BanRecord collection.
	BannedUntil *time.Time `json:"banned_until,omitempty"`
	BanReason   string     `json:"ban_reason,omitempty"`

	FlaggedForReview bool      `json:"is_flagged_for_review"`
	CreatedAt        time.Time `json:"created_at"`
	Version          uint64    `json:"version"`
}

// BanRecord is an immutable ban decision
type BanRecord struct {
	ID           string    `json:"id"`
	UserEmail    string    `json:"user_email"`
	IssuedBy     string    `json:"issued_by"`
	IssuerRole   Role      `json:"issuer_role"`
	Reason       string    `json:"reason"`
	CreatedAt    time.Time `json:"created_at"`
	ExpiresAt    time.Time `json:"expires_at"`
	EscalationID string    `json:"escalation_id,omitempty"`

	// Lift marks a record that ends every earlier ban for the user
	Lift bool `json:"lift,omitempty"`
}

// ActiveAt reports whether the record bans its user at the given time
func (b BanRecord) ActiveAt(t time.Time) bool {
	return !b.Lift && b.ExpiresAt.After(t)
}

// EscalationStatus is the state of an escalation request
type EscalationStatus string

const (
	EscalationPending  EscalationStatus = "pending"
	EscalationApproved EscalationStatus = "approved"
	EscalationRejected EscalationStatus = "rejected"
)

// EscalationRequest hands a moderation case to the next role up
type EscalationRequest struct {
	ID            string           `json:"id"`
	SubjectEmail  string           `json:"subject_email"`
	RequestedBy   string           `json:"requested_by"`
	RequesterRole Role             `json:"requester_role"`
	TargetRole    Role             `json:"target_role"`
	Reason        string           `json:"reason"`
	Status        EscalationStatus `json:"status"`
	CreatedAt     time.Time        `json:"created_at"`
	ResolvedBy    string           `json:"resolved_by,omitempty"`
	ResolvedAt    *time.Time       `json:"resolved_at,omitempty"`
	Version       uint64           `json:"version"`
}

// Message is a community chat or direct message
type Message struct {
	ID          string     `json:"id"`
	RoomID      string     `json:"room_id"`
	SenderEmail string     `json:"sender_email"`
	Text        string     `json:"text"`
	CreatedAt   time.Time  `json:"created_at"`
	Flagged     bool       `json:"is_flagged"`
	FlaggedBy   string     `json:"flagged_by,omitempty"`
	FlaggedAt   *time.Time `json:"flagged_at,omitempty"`
	Version     uint64     `json:"version"`
}

// DirectRoomID returns the room id shared by two users' direct messages
func DirectRoomID(a, b string) string {
	pair := []string{NormalizeEmail(a), NormalizeEmail(b)}
	sort.Strings(pair)
	return "dm:" + pair[0] + "|" + pair[1]
}

// AuditAction is the kind of a logged moderation action
type AuditAction string

const (
	AuditActionUserRegistered       AuditAction = "USER_REGISTERED"
	AuditActionUserBanned           AuditAction = "USER_BANNED"
	AuditActionUserUnbanned         AuditAction = "USER_UNBANNED"
	AuditActionUserFlagged          AuditAction = "USER_FLAGGED"
	AuditActionApproveEscalation    AuditAction = "APPROVE_ESCALATION_BAN"
	AuditActionRejectEscalation     AuditAction = "REJECT_ESCALATION"
	AuditActionFlagMessage          AuditAction = "FLAG_MESSAGE"
	AuditActionUnflagMessage        AuditAction = "UNFLAG_MESSAGE"
	AuditActionDeleteFlaggedMessage AuditAction = "DELETE_FLAGGED_MESSAGE"
	AuditActionRoleChanged          AuditAction = "ROLE_CHANGED"
	AuditActionUserDeleted          AuditAction = "USER_DELETED"
)

// AuditEntry is an append-only record of a moderation action
type AuditEntry struct {
	ID         string            `json:"id"`
	Action     AuditAction       `json:"action"`
	ActorEmail string            `json:"actor_email"`
	ActorName  string            `json:"actor_name,omitempty"`
	Target     string            `json:"target"` // email or message id acted upon
	Reason     string            `json:"reason,omitempty"`
	Details    map[string]string `json:"details,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
}

// Severity grades a notification
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Notification is a message delivered to a single user
type Notification struct {
	ID             string    `json:"id"`
	RecipientEmail string    `json:"recipient_email"`
	Message        string    `json:"message"`
	Severity       Severity  `json:"severity"`
	Link           string    `json:"link,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	Read           bool      `json:"read"`
}

// Audience selects notification recipients: one user, or every user whose
// role is at least MinRole.
type Audience struct {
	Email   string
	MinRole Role
}

// ToUser addresses a single user
func ToUser(email string) Audience {
	return Audience{Email: NormalizeEmail(email)}
}

// ToRole addresses every user with at least the given role
func ToRole(r Role) Audience {
	return Audience{MinRole: r}
}
