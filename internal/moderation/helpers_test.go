package moderation_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"studyhall/internal/database/boltstore"
	"studyhall/internal/moderation"

	"github.com/stretchr/testify/require"
)

const (
	adminEmail   = "dana@example.com"
	staffEmail   = "charlie@example.com"
	modEmail     = "bob@example.com"
	mod2Email    = "erin@example.com"
	studentEmail = "alice@example.com"
	student2     = "frank@example.com"
)

var baseTime = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (m *fakeMailer) Enabled() bool { return true }

func (m *fakeMailer) Send(to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, to)
	return m.err
}

func (m *fakeMailer) Sent() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.sent...)
}

type fixture struct {
	svc    *moderation.Service
	store  moderation.Store
	clock  *testClock
	mailer *fakeMailer
}

func newBoltStore(t *testing.T) *boltstore.ModerationStore {
	t.Helper()
	db, err := boltstore.Open(boltstore.Options{Path: filepath.Join(t.TempDir(), "test.db")})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db.ModerationStore()
}

// newFixture seeds one user per role plus a second moderator and student
func newFixture(t *testing.T, store moderation.Store) *fixture {
	t.Helper()
	if store == nil {
		store = newBoltStore(t)
	}

	ctx := context.Background()
	seed := []moderation.User{
		{Email: adminEmail, DisplayName: "Dana", Role: moderation.RoleAdmin},
		{Email: staffEmail, DisplayName: "Charlie", Role: moderation.RoleStaff},
		{Email: modEmail, DisplayName: "Bob", Role: moderation.RoleModerator},
		{Email: mod2Email, DisplayName: "Erin", Role: moderation.RoleModerator},
		{Email: studentEmail, DisplayName: "Alice", Role: moderation.RoleStudent},
		{Email: student2, DisplayName: "Frank", Role: moderation.RoleStudent},
	}
	for _, u := range seed {
		u.Tier = moderation.TierFree
		u.CreatedAt = baseTime
		require.NoError(t, store.CreateUser(ctx, u))
	}

	clock := &testClock{now: baseTime}
	mailer := &fakeMailer{}
	svc, err := moderation.NewService(store, moderation.Options{Now: clock.Now, Mailer: mailer})
	require.NoError(t, err)

	return &fixture{svc: svc, store: store, clock: clock, mailer: mailer}
}

func (f *fixture) notifications(t *testing.T, email string) []moderation.Notification {
	t.Helper()
	ns, err := f.svc.Notifications(context.Background(), email, 100)
	require.NoError(t, err)
	return ns
}

func (f *fixture) auditActions(t *testing.T) []moderation.AuditAction {
	t.Helper()
	entries, err := f.store.ListAuditLog(context.Background(), 1000)
	require.NoError(t, err)
	actions := make([]moderation.AuditAction, len(entries))
	for i, e := range entries {
		actions[i] = e.Action
	}
	return actions
}

func countAction(actions []moderation.AuditAction, want moderation.AuditAction) int {
	n := 0
	for _, a := range actions {
		if a == want {
			n++
		}
	}
	return n
}
