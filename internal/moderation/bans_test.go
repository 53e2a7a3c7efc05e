package moderation_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"studyhall/internal/database"
	"studyhall/internal/moderation"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyBan(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	rec, err := f.svc.ApplyBan(ctx, modEmail, studentEmail, moderation.DurationDay, "spamming the lounge")
	require.NoError(t, err)
	assert.Equal(t, studentEmail, rec.UserEmail)
	assert.Equal(t, modEmail, rec.IssuedBy)
	assert.Equal(t, moderation.RoleModerator, rec.IssuerRole)
	assert.Equal(t, baseTime.AddDate(0, 0, 1), rec.ExpiresAt)
	assert.False(t, rec.Lift)

	banned, err := f.svc.IsCurrentlyBanned(ctx, studentEmail)
	require.NoError(t, err)
	assert.True(t, banned)

	user, err := f.svc.GetUser(ctx, studentEmail)
	require.NoError(t, err)
	require.NotNil(t, user.BannedUntil)
	assert.True(t, rec.ExpiresAt.Equal(*user.BannedUntil))
	assert.Equal(t, "spamming the lounge", user.BanReason)

	assert.Equal(t, 1, countAction(f.auditActions(t), moderation.AuditActionUserBanned))

	ns := f.notifications(t, studentEmail)
	require.Len(t, ns, 1)
	assert.Equal(t, moderation.SeverityCritical, ns[0].Severity)
	assert.Equal(t, moderation.BanNotice(rec.ExpiresAt, "spamming the lounge"), ns[0].Message)
	assert.Equal(t, []string{studentEmail}, f.mailer.Sent())

	assert.Empty(t, f.notifications(t, modEmail), "issuer is not notified about their own ban")
}

func TestApplyBan_DefaultReason(t *testing.T) {
	f := newFixture(t, nil)

	rec, err := f.svc.ApplyBan(context.Background(), modEmail, studentEmail, moderation.DurationHour, "   ")
	require.NoError(t, err)
	assert.Equal(t, moderation.DefaultBanReason, rec.Reason)
}

func TestApplyBan_Authorization(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	tests := []struct {
		name     string
		issuer   string
		target   string
		duration string
		wantErr  error
	}{
		{"student cannot ban", studentEmail, student2, moderation.DurationHour, moderation.ErrUnauthorized},
		{"moderator cannot issue month", modEmail, studentEmail, moderation.DurationMonth, moderation.ErrUnauthorized},
		{"staff cannot issue permanent", staffEmail, studentEmail, moderation.DurationPermanent, moderation.ErrUnauthorized},
		{"moderator cannot ban staff", modEmail, staffEmail, moderation.DurationHour, moderation.ErrUnauthorized},
		{"staff cannot ban admin", staffEmail, adminEmail, moderation.DurationHour, moderation.ErrUnauthorized},
		{"no self ban", modEmail, modEmail, moderation.DurationHour, moderation.ErrUnauthorized},
		{"unknown duration", adminEmail, studentEmail, "forever", moderation.ErrUnauthorized},
		{"unknown target", modEmail, "ghost@example.com", moderation.DurationHour, moderation.ErrNotFound},
		{"unknown issuer", "ghost@example.com", studentEmail, moderation.DurationHour, moderation.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.ApplyBan(ctx, tt.issuer, tt.target, tt.duration, "reason")
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	banned, err := f.svc.IsCurrentlyBanned(ctx, studentEmail)
	require.NoError(t, err)
	assert.False(t, banned)
	assert.Empty(t, f.auditActions(t))
}

func TestApplyBan_Validation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	var verr *moderation.ValidationError
	_, err := f.svc.ApplyBan(ctx, adminEmail, "", moderation.DurationHour, "reason")
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "target", verr.Field)
}

func TestApplyBan_PeerBan(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.svc.ApplyBan(context.Background(), modEmail, mod2Email, moderation.DurationHour, "peer")
	assert.NoError(t, err)
}

func TestActiveBan_LatestExpiryWins(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	week, err := f.svc.ApplyBan(ctx, modEmail, studentEmail, moderation.DurationWeek, "first")
	require.NoError(t, err)
	f.clock.Advance(time.Minute)
	_, err = f.svc.ApplyBan(ctx, modEmail, studentEmail, moderation.DurationHour, "second")
	require.NoError(t, err)

	ban, err := f.svc.ActiveBan(ctx, studentEmail)
	require.NoError(t, err)
	require.NotNil(t, ban)
	assert.Equal(t, week.ID, ban.ID)

	f.clock.Advance(2 * time.Hour)
	ban, err = f.svc.ActiveBan(ctx, studentEmail)
	require.NoError(t, err)
	require.NotNil(t, ban)
	assert.Equal(t, week.ID, ban.ID)

	history, err := f.svc.BanHistory(ctx, studentEmail)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "first", history[0].Reason)
	assert.Equal(t, "second", history[1].Reason)
}

func TestActiveBan_Expires(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	_, err := f.svc.ApplyBan(ctx, modEmail, studentEmail, moderation.DurationHour, "cool off")
	require.NoError(t, err)

	f.clock.Advance(time.Hour)
	banned, err := f.svc.IsCurrentlyBanned(ctx, studentEmail)
	require.NoError(t, err)
	assert.False(t, banned, "a ban expiring exactly now is no longer active")
}

func TestLiftBan(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	_, err := f.svc.ApplyBan(ctx, modEmail, studentEmail, moderation.DurationWeek, "first")
	require.NoError(t, err)
	_, err = f.svc.ApplyBan(ctx, modEmail, studentEmail, moderation.DurationDay, "second")
	require.NoError(t, err)

	f.clock.Advance(time.Minute)
	lift, err := f.svc.ApplyBan(ctx, mod2Email, studentEmail, moderation.DurationNone, "appeal accepted")
	require.NoError(t, err)
	assert.True(t, lift.Lift)

	banned, err := f.svc.IsCurrentlyBanned(ctx, studentEmail)
	require.NoError(t, err)
	assert.False(t, banned, "a lift ends every earlier ban")

	user, err := f.svc.GetUser(ctx, studentEmail)
	require.NoError(t, err)
	assert.Nil(t, user.BannedUntil)
	assert.Empty(t, user.BanReason)

	assert.Equal(t, 1, countAction(f.auditActions(t), moderation.AuditActionUserUnbanned))

	// Bans issued after a lift count again
	f.clock.Advance(time.Minute)
	_, err = f.svc.ApplyBan(ctx, modEmail, studentEmail, moderation.DurationHour, "again")
	require.NoError(t, err)
	banned, err = f.svc.IsCurrentlyBanned(ctx, studentEmail)
	require.NoError(t, err)
	assert.True(t, banned)
}

func TestLiftBan_NothingToLift(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.svc.ApplyBan(context.Background(), modEmail, studentEmail, moderation.DurationNone, "")
	assert.ErrorIs(t, err, moderation.ErrNotFound)
}

func TestLiftBan_HigherIssuerBanStays(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	_, err := f.svc.ApplyBan(ctx, staffEmail, studentEmail, moderation.DurationMonth, "staff ban")
	require.NoError(t, err)

	_, err = f.svc.ApplyBan(ctx, modEmail, studentEmail, moderation.DurationNone, "")
	assert.ErrorIs(t, err, moderation.ErrUnauthorized)

	banned, err := f.svc.IsCurrentlyBanned(ctx, studentEmail)
	require.NoError(t, err)
	assert.True(t, banned)

	_, err = f.svc.ApplyBan(ctx, adminEmail, studentEmail, moderation.DurationNone, "")
	require.NoError(t, err)
	banned, err = f.svc.IsCurrentlyBanned(ctx, studentEmail)
	require.NoError(t, err)
	assert.False(t, banned)
}

func TestCheckLogin(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	user, err := f.svc.CheckLogin(ctx, "Alice@Example.com")
	require.NoError(t, err)
	assert.Equal(t, studentEmail, user.Email)

	rec, err := f.svc.ApplyBan(ctx, staffEmail, studentEmail, moderation.Duration6Months, "harassment")
	require.NoError(t, err)

	_, err = f.svc.CheckLogin(ctx, studentEmail)
	var banned *moderation.BannedError
	require.ErrorAs(t, err, &banned)
	assert.ErrorIs(t, err, moderation.ErrBanned)
	assert.True(t, rec.ExpiresAt.Equal(banned.Until))
	assert.Equal(t, "harassment", banned.Reason)

	_, err = f.svc.CheckLogin(ctx, "ghost@example.com")
	assert.ErrorIs(t, err, moderation.ErrNotFound)
}

func TestApplyBan_AuditFailureDoesNotFailBan(t *testing.T) {
	ctx := context.Background()
	mock := &database.MockStore{
		Fallback: newBoltStore(t),
		LogActionFunc: func(ctx context.Context, entry moderation.AuditEntry) error {
			return errors.New("disk full")
		},
	}
	f := newFixture(t, mock)

	_, err := f.svc.ApplyBan(ctx, modEmail, studentEmail, moderation.DurationDay, "spam")
	require.NoError(t, err)

	banned, err := f.svc.IsCurrentlyBanned(ctx, studentEmail)
	require.NoError(t, err)
	assert.True(t, banned)
}

func TestApplyBan_NotificationFailureDoesNotFailBan(t *testing.T) {
	ctx := context.Background()
	mock := &database.MockStore{
		Fallback: newBoltStore(t),
		CreateNotificationFunc: func(ctx context.Context, n moderation.Notification) error {
			return errors.New("notifications unavailable")
		},
	}
	f := newFixture(t, mock)

	_, err := f.svc.ApplyBan(ctx, modEmail, studentEmail, moderation.DurationDay, "spam")
	require.NoError(t, err)

	banned, err := f.svc.IsCurrentlyBanned(ctx, studentEmail)
	require.NoError(t, err)
	assert.True(t, banned)
	assert.Empty(t, f.mailer.Sent(), "no email without a stored notification")
}

func TestApplyBan_StoreFailure(t *testing.T) {
	ctx := context.Background()
	mock := &database.MockStore{
		Fallback: newBoltStore(t),
		AppendBanFunc: func(ctx context.Context, record moderation.BanRecord) error {
			return errors.New("write failed")
		},
	}
	f := newFixture(t, mock)

	_, err := f.svc.ApplyBan(ctx, modEmail, studentEmail, moderation.DurationDay, "spam")
	assert.ErrorContains(t, err, "write failed")
	assert.Empty(t, f.auditActions(t))
	assert.Empty(t, f.notifications(t, studentEmail))
}
