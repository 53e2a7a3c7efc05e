package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"studyhall/internal/database/boltstore"
	"studyhall/internal/middleware"
	"studyhall/internal/moderation"

	"github.com/stretchr/testify/require"
)

// Seeded test accounts, one per role
const (
	testAdmin   = "dana@example.com"
	testStaff   = "charlie@example.com"
	testMod     = "bob@example.com"
	testStudent = "alice@example.com"
)

// TestContext holds a handler over a real bolt store with seeded users
type TestContext struct {
	Handler *Handler
	Service *moderation.Service
	Store   *boltstore.ModerationStore
}

// NewTestContext opens a temporary database and seeds one user per role
func NewTestContext(t *testing.T) *TestContext {
	t.Helper()

	db, err := boltstore.Open(boltstore.Options{Path: filepath.Join(t.TempDir(), "handlers.db")})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	store := db.ModerationStore()

	users := []moderation.User{
		{Email: testAdmin, DisplayName: "Dana", Role: moderation.RoleAdmin},
		{Email: testStaff, DisplayName: "Charlie", Role: moderation.RoleStaff},
		{Email: testMod, DisplayName: "Bob", Role: moderation.RoleModerator},
		{Email: testStudent, DisplayName: "Alice", Role: moderation.RoleStudent},
	}
	for _, u := range users {
		u.Tier = moderation.TierFree
		u.CreatedAt = time.Now()
		require.NoError(t, store.CreateUser(context.Background(), u))
	}

	svc, err := moderation.NewService(store, moderation.Options{})
	require.NoError(t, err)

	return &TestContext{
		Handler: NewHandler(svc, Config{}),
		Service: svc,
		Store:   store,
	}
}

// NewAuthenticatedRequest builds a request acting as email with an optional JSON body
func NewAuthenticatedRequest(method, target, email string, body any) *http.Request {
	var r io.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, target, r)
	req.Header.Set("Content-Type", "application/json")
	if email != "" {
		req = req.WithContext(middleware.WithUserEmail(req.Context(), email))
	}
	return req
}

// decodeBody decodes a recorder's JSON body into v
func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}
