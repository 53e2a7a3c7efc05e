package moderation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func durationKeys(ds []BanDuration) []string {
	keys := make([]string, len(ds))
	for i, d := range ds {
		keys[i] = d.Key
	}
	return keys
}

func TestAvailableBanDurations(t *testing.T) {
	tests := []struct {
		role Role
		want []string
	}{
		{RoleStudent, []string{}},
		{RoleModerator, []string{"none", "1h", "12h", "1d", "1w"}},
		{RoleStaff, []string{"none", "1h", "12h", "1d", "1w", "1mo", "6mo", "1y"}},
		{RoleAdmin, []string{"none", "1h", "12h", "1d", "1w", "1mo", "6mo", "1y", "permanent"}},
		{Role("janitor"), []string{}},
	}

	for _, tt := range tests {
		t.Run(string(tt.role), func(t *testing.T) {
			assert.Equal(t, tt.want, durationKeys(AvailableBanDurations(tt.role)))
		})
	}
}

func TestAvailableBanDurations_Cumulative(t *testing.T) {
	roles := AllRoles()
	for i := 1; i < len(roles); i++ {
		lower := durationKeys(AvailableBanDurations(roles[i-1]))
		higher := durationKeys(AvailableBanDurations(roles[i]))
		assert.Subset(t, higher, lower, "%s should include every %s duration", roles[i], roles[i-1])
	}
}

func TestAvailableBanDurations_ReturnsCopy(t *testing.T) {
	ds := AvailableBanDurations(RoleAdmin)
	ds[0] = BanDuration{Key: "tampered"}
	assert.Equal(t, DurationNone, AvailableBanDurations(RoleAdmin)[0].Key)
}

func TestLookupBanDuration(t *testing.T) {
	d, ok := LookupBanDuration(RoleStaff, Duration6Months)
	require.True(t, ok)
	assert.Equal(t, "6 months", d.Label)

	_, ok = LookupBanDuration(RoleModerator, DurationYear)
	assert.False(t, ok)

	_, ok = LookupBanDuration(RoleAdmin, "forever")
	assert.False(t, ok)
}

func TestBanDuration_ExpiresAt(t *testing.T) {
	now := time.Date(2026, 1, 31, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		key  string
		want time.Time
	}{
		{DurationNone, now},
		{DurationHour, now.Add(time.Hour)},
		{Duration12Hours, now.Add(12 * time.Hour)},
		{DurationDay, now.AddDate(0, 0, 1)},
		{DurationWeek, now.AddDate(0, 0, 7)},
		{DurationMonth, now.AddDate(0, 1, 0)},
		{Duration6Months, now.AddDate(0, 6, 0)},
		{DurationYear, now.AddDate(1, 0, 0)},
		{DurationPermanent, now.AddDate(100, 0, 0)},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			d, ok := LookupBanDuration(RoleAdmin, tt.key)
			require.True(t, ok)
			assert.True(t, tt.want.Equal(d.ExpiresAt(now)), "got %s", d.ExpiresAt(now))
			assert.Equal(t, tt.key == DurationNone, d.IsLift())
		})
	}
}

func TestEscalationBanExpiry(t *testing.T) {
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2027, 5, 1, 0, 0, 0, 0, time.UTC), EscalationBanExpiry(now))
}

func TestRoleOrder(t *testing.T) {
	assert.True(t, RoleAdmin.Above(RoleStaff))
	assert.True(t, RoleStaff.Above(RoleModerator))
	assert.True(t, RoleModerator.Above(RoleStudent))
	assert.False(t, RoleStudent.Above(RoleStudent))
	assert.True(t, RoleStudent.AtLeast(RoleStudent))
	assert.False(t, Role("ghost").AtLeast(RoleStudent))

	next, ok := RoleModerator.Next()
	assert.True(t, ok)
	assert.Equal(t, RoleStaff, next)
	next, ok = RoleStaff.Next()
	assert.True(t, ok)
	assert.Equal(t, RoleAdmin, next)
	_, ok = RoleAdmin.Next()
	assert.False(t, ok)
	_, ok = RoleStudent.Next()
	assert.False(t, ok)
}

func TestParseRole(t *testing.T) {
	r, err := ParseRole(" Administrator ")
	require.NoError(t, err)
	assert.Equal(t, RoleAdmin, r)

	_, err = ParseRole("owner")
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestPolicy_CanBan(t *testing.T) {
	student := &User{Email: "alice@example.com", Role: RoleStudent}
	mod := &User{Email: "bob@example.com", Role: RoleModerator}
	mod2 := &User{Email: "carol@example.com", Role: RoleModerator}
	staff := &User{Email: "charlie@example.com", Role: RoleStaff}

	p := DefaultPolicy()
	assert.True(t, p.CanBan(mod, student))
	assert.True(t, p.CanBan(mod, mod2), "peers can be banned by default")
	assert.False(t, p.CanBan(mod, staff), "higher roles can never be banned")
	assert.False(t, p.CanBan(mod, mod), "self bans are off by default")

	p.AllowPeerBan = false
	p.AllowSelfBan = true
	assert.False(t, p.CanBan(mod, mod2))
	assert.True(t, p.CanBan(mod, mod))
}

func TestPolicy_CanAssign(t *testing.T) {
	p := DefaultPolicy()

	assert.True(t, p.CanAssign(RoleAdmin, RoleStudent, RoleAdmin))
	assert.True(t, p.CanAssign(RoleAdmin, RoleAdmin, RoleStudent))
	assert.True(t, p.CanAssign(RoleStaff, RoleStudent, RoleModerator))
	assert.False(t, p.CanAssign(RoleStaff, RoleStudent, RoleStaff), "staff cannot promote to their own level")
	assert.False(t, p.CanAssign(RoleStaff, RoleStaff, RoleStudent), "staff cannot demote peers")
	assert.False(t, p.CanAssign(RoleModerator, RoleStudent, RoleStudent))
	assert.False(t, p.CanAssign(RoleStudent, RoleStudent, RoleModerator))
}

func TestPolicy_Validate(t *testing.T) {
	p := &Policy{}
	require.NoError(t, p.Validate())
	assert.NotNil(t, p.RoleChanges)

	p = &Policy{RoleChanges: map[Role][]Role{"owner": {RoleStudent}}}
	var cfgErr *ConfigError
	require.ErrorAs(t, p.Validate(), &cfgErr)
	assert.Equal(t, "role_changes", cfgErr.Field)

	p = &Policy{RoleChanges: map[Role][]Role{RoleAdmin: {"owner"}}}
	assert.ErrorContains(t, p.Validate(), "unknown role: owner")
}

func TestDirectRoomID(t *testing.T) {
	a := DirectRoomID("Bob@Example.com", "alice@example.com")
	b := DirectRoomID("alice@example.com", "bob@example.com")
	assert.Equal(t, "dm:alice@example.com|bob@example.com", a)
	assert.Equal(t, a, b)
	assert.True(t, IsDirectRoom(a))
	assert.True(t, directParticipant(a, "bob@example.com"))
	assert.False(t, directParticipant(a, "eve@example.com"))
	assert.False(t, IsDirectRoom("general"))
}

func TestBannedError(t *testing.T) {
	until := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	err := &BannedError{Email: "bob@example.com", Until: until, Reason: "spam"}
	assert.ErrorIs(t, err, ErrBanned)
	assert.Contains(t, err.Error(), "Mon, 01 Jun 2026 12:00:00 UTC")
	assert.Contains(t, err.Error(), "spam")
}

func TestBanNotice(t *testing.T) {
	until := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, "You have been banned until Mon, 01 Jun 2026 12:00:00 UTC. Reason: Not provided", BanNotice(until, ""))
}
