package moderation

import "time"

// BanDuration is a named, role-gated ban length
type BanDuration struct {
	Key   string `json:"key"`
	Label string `json:"label"`

	years, months, days int
	span                time.Duration
	lift                bool
}

// Ban duration keys
const (
	DurationNone      = "none"
	DurationHour      = "1h"
	Duration12Hours   = "12h"
	DurationDay       = "1d"
	DurationWeek      = "1w"
	DurationMonth     = "1mo"
	Duration6Months   = "6mo"
	DurationYear      = "1y"
	DurationPermanent = "permanent"
)

// PermanentBanYears is how far in the future a permanent ban expires
const PermanentBanYears = 100

var (
	durNone      = BanDuration{Key: DurationNone, Label: "None (lift ban)", lift: true}
	durHour      = BanDuration{Key: DurationHour, Label: "1 hour", span: time.Hour}
	dur12Hours   = BanDuration{Key: Duration12Hours, Label: "12 hours", span: 12 * time.Hour}
	durDay       = BanDuration{Key: DurationDay, Label: "1 day", days: 1}
	durWeek      = BanDuration{Key: DurationWeek, Label: "1 week", days: 7}
	durMonth     = BanDuration{Key: DurationMonth, Label: "1 month", months: 1}
	dur6Months   = BanDuration{Key: Duration6Months, Label: "6 months", months: 6}
	durYear      = BanDuration{Key: DurationYear, Label: "1 year", years: 1}
	durPermanent = BanDuration{Key: DurationPermanent, Label: "Permanent", years: PermanentBanYears}
)

// Tiers are cumulative: each role gets everything the role below it has.
var (
	moderatorDurations = []BanDuration{durNone, durHour, dur12Hours, durDay, durWeek}
	staffDurations     = append(append([]BanDuration{}, moderatorDurations...), durMonth, dur6Months, durYear)
	adminDurations     = append(append([]BanDuration{}, staffDurations...), durPermanent)
)

// IsLift reports whether selecting this duration lifts an existing ban
func (d BanDuration) IsLift() bool {
	return d.lift
}

// ExpiresAt computes the expiry of a ban issued at now
func (d BanDuration) ExpiresAt(now time.Time) time.Time {
	if d.lift {
		return now
	}
	return now.AddDate(d.years, d.months, d.days).Add(d.span)
}

// AvailableBanDurations returns the durations a role may issue, shortest first.
// Students get an empty list.
func AvailableBanDurations(r Role) []BanDuration {
	var src []BanDuration
	switch r {
	case RoleModerator:
		src = moderatorDurations
	case RoleStaff:
		src = staffDurations
	case RoleAdmin:
		src = adminDurations
	default:
		return []BanDuration{}
	}
	out := make([]BanDuration, len(src))
	copy(out, src)
	return out
}

// LookupBanDuration finds a duration among those the role may issue
func LookupBanDuration(r Role, key string) (BanDuration, bool) {
	for _, d := range AvailableBanDurations(r) {
		if d.Key == key {
			return d, true
		}
	}
	return BanDuration{}, false
}

// EscalationBanYears is the fixed length of a ban applied by an approved escalation
const EscalationBanYears = 1

// EscalationBanExpiry returns the expiry of a ban created by approving an escalation at now
func EscalationBanExpiry(now time.Time) time.Time {
	return now.AddDate(EscalationBanYears, 0, 0)
}

// Policy holds the configurable moderation rules
type Policy struct {
	// AllowSelfFlag lets users flag their own messages
	AllowSelfFlag bool `json:"allow_self_flag"`

	// AllowSelfBan lets an issuer ban themselves
	AllowSelfBan bool `json:"allow_self_ban"`

	// AllowPeerBan lets an issuer ban a user of equal authority.
	// Users of higher authority can never be banned.
	AllowPeerBan bool `json:"allow_peer_ban"`

	// RoleChanges maps an actor role to the roles it may assign
	RoleChanges map[Role][]Role `json:"role_changes"`
}

// DefaultPolicy returns the rules used when no config file is present
func DefaultPolicy() *Policy {
	return &Policy{
		AllowSelfFlag: true,
		AllowSelfBan:  false,
		AllowPeerBan:  true,
		RoleChanges: map[Role][]Role{
			RoleAdmin: AllRoles(),
			RoleStaff: {RoleStudent, RoleModerator},
		},
	}
}

// Validate checks that the policy only references known roles
func (p *Policy) Validate() error {
	if p.RoleChanges == nil {
		p.RoleChanges = make(map[Role][]Role)
	}

	for actor, targets := range p.RoleChanges {
		if !actor.Valid() {
			return &ConfigError{
				Field:   "role_changes",
				Message: "unknown actor role: " + string(actor),
			}
		}
		for _, t := range targets {
			if !t.Valid() {
				return &ConfigError{
					Field:   "role_changes",
					Message: "role " + string(actor) + " references unknown role: " + string(t),
				}
			}
		}
	}

	return nil
}

// CanAssign reports whether an actor may move a user from role `from` to role `to`.
// Non-admins may only touch users strictly below them.
func (p *Policy) CanAssign(actor, from, to Role) bool {
	allowed := false
	for _, r := range p.RoleChanges[actor] {
		if r == to {
			allowed = true
			break
		}
	}
	if !allowed {
		return false
	}
	if actor == RoleAdmin {
		return true
	}
	return actor.Above(from) && actor.Above(to)
}

// CanBan reports whether issuer may ban target under this policy
func (p *Policy) CanBan(issuer, target *User) bool {
	if issuer.Email == target.Email {
		return p.AllowSelfBan
	}
	if target.Role.Above(issuer.Role) {
		return false
	}
	if target.Role == issuer.Role {
		return p.AllowPeerBan
	}
	return true
}
