package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"studyhall/internal/moderation"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteError(t *testing.T) {
	until := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"validation", &moderation.ValidationError{Field: "reason", Message: "required"}, http.StatusBadRequest},
		{"unauthorized", fmt.Errorf("wrapped: %w", moderation.ErrUnauthorized), http.StatusForbidden},
		{"not found", moderation.ErrNotFound, http.StatusNotFound},
		{"already resolved", moderation.ErrAlreadyResolved, http.StatusConflict},
		{"conflict", moderation.ErrConflict, http.StatusConflict},
		{"no higher authority", moderation.ErrNoHigherAuthority, http.StatusUnprocessableEntity},
		{"banned", &moderation.BannedError{Email: testStudent, Until: until, Reason: "spam"}, http.StatusForbidden},
		{"unknown", errors.New("disk on fire"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			writeError(rec, httptest.NewRequest(http.MethodGet, "/", nil), tt.err)

			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

			var body errorResponse
			decodeBody(t, rec, &body)
			assert.Equal(t, "error", body.Status)
			assert.NotEmpty(t, body.Message)
		})
	}

	t.Run("banned carries expiry", func(t *testing.T) {
		rec := httptest.NewRecorder()
		writeError(rec, httptest.NewRequest(http.MethodGet, "/", nil), &moderation.BannedError{Until: until, Reason: "spam"})

		var body errorResponse
		decodeBody(t, rec, &body)
		require.NotNil(t, body.BannedUntil)
		assert.True(t, until.Equal(*body.BannedUntil))
		assert.Equal(t, "spam", body.Reason)
	})

	t.Run("internal errors are not leaked", func(t *testing.T) {
		rec := httptest.NewRecorder()
		writeError(rec, httptest.NewRequest(http.MethodGet, "/", nil), errors.New("secret dsn"))
		assert.NotContains(t, rec.Body.String(), "secret dsn")
	})
}

func TestRequiresAuthentication(t *testing.T) {
	tc := NewTestContext(t)

	handlers := map[string]http.HandlerFunc{
		"me":            tc.Handler.HandleMe,
		"bans":          tc.Handler.HandleApplyBan,
		"escalations":   tc.Handler.HandleListEscalations,
		"flagged":       tc.Handler.HandleListFlagged,
		"dashboard":     tc.Handler.HandleDashboard,
		"notifications": tc.Handler.HandleNotifications,
	}

	for name, handler := range handlers {
		t.Run(name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			handler(rec, NewAuthenticatedRequest(http.MethodGet, "/", "", nil))
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Contains(t, rec.Body.String(), "Authentication required")
		})
	}
}

func TestHandleRegisterAndLogin(t *testing.T) {
	tc := NewTestContext(t)

	rec := httptest.NewRecorder()
	tc.Handler.HandleRegister(rec, NewAuthenticatedRequest(http.MethodPost, "/api/users", "", map[string]string{
		"email": "Grace@Example.com",
	}))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var user moderation.User
	decodeBody(t, rec, &user)
	assert.Equal(t, "grace@example.com", user.Email)
	assert.Equal(t, moderation.RoleStudent, user.Role)

	rec = httptest.NewRecorder()
	tc.Handler.HandleRegister(rec, NewAuthenticatedRequest(http.MethodPost, "/api/users", "", map[string]string{
		"email": "grace@example.com",
	}))
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = httptest.NewRecorder()
	tc.Handler.HandleLogin(rec, NewAuthenticatedRequest(http.MethodPost, "/api/login", "", map[string]string{
		"email": "grace@example.com",
	}))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleRegister_InvalidJSON(t *testing.T) {
	tc := NewTestContext(t)

	req := httptest.NewRequest(http.MethodPost, "/api/users", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	tc.Handler.HandleRegister(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Invalid JSON body")
}

func TestHandleLogin_Banned(t *testing.T) {
	tc := NewTestContext(t)

	rec := httptest.NewRecorder()
	tc.Handler.HandleApplyBan(rec, NewAuthenticatedRequest(http.MethodPost, "/api/bans", testMod, banRequest{
		TargetEmail: testStudent,
		Duration:    moderation.DurationDay,
		Reason:      "spam",
	}))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var ban moderation.BanRecord
	decodeBody(t, rec, &ban)

	rec = httptest.NewRecorder()
	tc.Handler.HandleLogin(rec, NewAuthenticatedRequest(http.MethodPost, "/api/login", "", loginRequest{Email: testStudent}))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	var body errorResponse
	decodeBody(t, rec, &body)
	require.NotNil(t, body.BannedUntil)
	assert.True(t, ban.ExpiresAt.Equal(*body.BannedUntil))
	assert.Equal(t, "spam", body.Reason)
}

func TestHandleApplyBan_Errors(t *testing.T) {
	tc := NewTestContext(t)

	tests := []struct {
		name   string
		actor  string
		req    banRequest
		status int
	}{
		{"student cannot ban", testStudent, banRequest{TargetEmail: testMod, Duration: "1h"}, http.StatusForbidden},
		{"moderator duration cap", testMod, banRequest{TargetEmail: testStudent, Duration: "1y"}, http.StatusForbidden},
		{"unknown duration", testAdmin, banRequest{TargetEmail: testStudent, Duration: "2h"}, http.StatusForbidden},
		{"unknown target", testAdmin, banRequest{TargetEmail: "ghost@example.com", Duration: "1h"}, http.StatusNotFound},
		{"nothing to lift", testAdmin, banRequest{TargetEmail: testStudent, Duration: "none"}, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			tc.Handler.HandleApplyBan(rec, NewAuthenticatedRequest(http.MethodPost, "/api/bans", tt.actor, tt.req))
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}
}

func TestHandleActiveBan(t *testing.T) {
	tc := NewTestContext(t)

	rec := httptest.NewRecorder()
	tc.Handler.HandleApplyBan(rec, NewAuthenticatedRequest(http.MethodPost, "/api/bans", testStaff, banRequest{
		TargetEmail: testStudent,
		Duration:    moderation.DurationWeek,
	}))
	require.Equal(t, http.StatusCreated, rec.Code)

	lookup := func(actor string) *httptest.ResponseRecorder {
		req := NewAuthenticatedRequest(http.MethodGet, "/api/users/"+testStudent+"/ban", actor, nil)
		req.SetPathValue("email", testStudent)
		rec := httptest.NewRecorder()
		tc.Handler.HandleActiveBan(rec, req)
		return rec
	}

	rec = lookup(testStudent)
	require.Equal(t, http.StatusOK, rec.Code)
	var body activeBanResponse
	decodeBody(t, rec, &body)
	assert.True(t, body.Banned)
	require.NotNil(t, body.Ban)
	assert.Equal(t, moderation.DefaultBanReason, body.Ban.Reason)

	assert.Equal(t, http.StatusOK, lookup(testMod).Code)

	req := NewAuthenticatedRequest(http.MethodGet, "/api/users/"+testMod+"/ban", testStudent, nil)
	req.SetPathValue("email", testMod)
	rec = httptest.NewRecorder()
	tc.Handler.HandleActiveBan(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestHandleBanDurations(t *testing.T) {
	tc := NewTestContext(t)

	rec := httptest.NewRecorder()
	tc.Handler.HandleBanDurations(rec, NewAuthenticatedRequest(http.MethodGet, "/api/bans/durations", testMod, nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var durations []moderation.BanDuration
	decodeBody(t, rec, &durations)
	keys := make([]string, len(durations))
	for i, d := range durations {
		keys[i] = d.Key
	}
	assert.Equal(t, []string{"none", "1h", "12h", "1d", "1w"}, keys)

	rec = httptest.NewRecorder()
	tc.Handler.HandleBanDurations(rec, NewAuthenticatedRequest(http.MethodGet, "/api/bans/durations", testStudent, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestEscalationFlow(t *testing.T) {
	tc := NewTestContext(t)

	rec := httptest.NewRecorder()
	tc.Handler.HandleEscalate(rec, NewAuthenticatedRequest(http.MethodPost, "/api/escalations", testMod, escalateRequest{
		SubjectEmail: testStudent,
		Reason:       "threatening messages",
	}))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var escalation moderation.EscalationRequest
	decodeBody(t, rec, &escalation)
	assert.Equal(t, moderation.RoleStaff, escalation.TargetRole)

	rec = httptest.NewRecorder()
	tc.Handler.HandleListEscalations(rec, NewAuthenticatedRequest(http.MethodGet, "/api/escalations?status=pending", testStaff, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var pending []moderation.EscalationRequest
	decodeBody(t, rec, &pending)
	require.Len(t, pending, 1)
	assert.Equal(t, escalation.ID, pending[0].ID)

	resolve := func(actor string) *httptest.ResponseRecorder {
		req := NewAuthenticatedRequest(http.MethodPost, "/api/escalations/"+escalation.ID+"/resolve", actor, resolveEscalationRequest{Approve: true})
		req.SetPathValue("id", escalation.ID)
		rec := httptest.NewRecorder()
		tc.Handler.HandleResolveEscalation(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusForbidden, resolve(testMod).Code)

	rec = resolve(testStaff)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	decodeBody(t, rec, &escalation)
	assert.Equal(t, moderation.EscalationApproved, escalation.Status)

	assert.Equal(t, http.StatusConflict, resolve(testAdmin).Code)

	rec = httptest.NewRecorder()
	tc.Handler.HandleEscalate(rec, NewAuthenticatedRequest(http.MethodPost, "/api/escalations", testAdmin, escalateRequest{
		SubjectEmail: testStudent,
		Reason:       "x",
	}))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = httptest.NewRecorder()
	tc.Handler.HandleListEscalations(rec, NewAuthenticatedRequest(http.MethodGet, "/api/escalations?status=maybe", testStaff, nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMessageFlow(t *testing.T) {
	tc := NewTestContext(t)

	post := func(actor, room, text string) *httptest.ResponseRecorder {
		req := NewAuthenticatedRequest(http.MethodPost, "/api/rooms/"+room+"/messages", actor, postMessageRequest{Text: text})
		req.SetPathValue("room", room)
		rec := httptest.NewRecorder()
		tc.Handler.HandlePostMessage(rec, req)
		return rec
	}

	rec := post(testStudent, "general", "selling exam answers")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var msg moderation.Message
	decodeBody(t, rec, &msg)

	assert.Equal(t, http.StatusBadRequest, post(testStudent, "general", "").Code)

	req := NewAuthenticatedRequest(http.MethodGet, "/api/rooms/general/messages", testMod, nil)
	req.SetPathValue("room", "general")
	rec = httptest.NewRecorder()
	tc.Handler.HandleListMessages(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	var msgs []moderation.Message
	decodeBody(t, rec, &msgs)
	assert.Len(t, msgs, 1)

	req = NewAuthenticatedRequest(http.MethodGet, "/api/rooms/general/messages?since=yesterday", testMod, nil)
	req.SetPathValue("room", "general")
	rec = httptest.NewRecorder()
	tc.Handler.HandleListMessages(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req = NewAuthenticatedRequest(http.MethodPost, "/api/messages/"+msg.ID+"/flag", testMod, nil)
	req.SetPathValue("id", msg.ID)
	rec = httptest.NewRecorder()
	tc.Handler.HandleFlagMessage(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = httptest.NewRecorder()
	tc.Handler.HandleListFlagged(rec, NewAuthenticatedRequest(http.MethodGet, "/api/moderation/flagged", testStaff, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var flagged []moderation.Message
	decodeBody(t, rec, &flagged)
	require.Len(t, flagged, 1)
	assert.Equal(t, testMod, flagged[0].FlaggedBy)

	resolve := func(actor string, body any) *httptest.ResponseRecorder {
		req := NewAuthenticatedRequest(http.MethodPost, "/api/messages/"+msg.ID+"/resolve", actor, body)
		req.SetPathValue("id", msg.ID)
		rec := httptest.NewRecorder()
		tc.Handler.HandleResolveFlag(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusBadRequest, resolve(testStaff, resolveFlagRequest{Action: "shrug"}).Code)
	assert.Equal(t, http.StatusForbidden, resolve(testMod, resolveFlagRequest{Action: "delete"}).Code)
	assert.Equal(t, http.StatusOK, resolve(testStaff, resolveFlagRequest{Action: "delete"}).Code)
	assert.Equal(t, http.StatusNotFound, resolve(testStaff, resolveFlagRequest{Action: "delete"}).Code)
}

func TestHandleDashboard(t *testing.T) {
	tc := NewTestContext(t)

	_, err := tc.Service.Escalate(t.Context(), testMod, testStudent, "spam ring")
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	tc.Handler.HandleDashboard(rec, NewAuthenticatedRequest(http.MethodGet, "/api/moderation/dashboard", testStaff, nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var dash DashboardResponse
	decodeBody(t, rec, &dash)
	assert.Equal(t, moderation.RoleStaff, dash.Role)
	assert.Len(t, dash.PendingEscalations, 1)
	assert.Empty(t, dash.FlaggedMessages)
	require.Len(t, dash.RecentActions, 1)
	assert.Equal(t, moderation.AuditActionUserFlagged, dash.RecentActions[0].Action)

	rec = httptest.NewRecorder()
	tc.Handler.HandleDashboard(rec, NewAuthenticatedRequest(http.MethodGet, "/api/moderation/dashboard", testMod, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &dash)
	assert.Len(t, dash.PendingEscalations, 1, "moderators see the requests they filed")

	rec = httptest.NewRecorder()
	tc.Handler.HandleDashboard(rec, NewAuthenticatedRequest(http.MethodGet, "/api/moderation/dashboard", testStudent, nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestHandleAuditLog(t *testing.T) {
	tc := NewTestContext(t)

	rec := httptest.NewRecorder()
	tc.Handler.HandleAuditLog(rec, NewAuthenticatedRequest(http.MethodGet, "/api/audit", testStaff, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	rec = httptest.NewRecorder()
	tc.Handler.HandleAuditLog(rec, NewAuthenticatedRequest(http.MethodGet, "/api/audit?limit=0", testStaff, nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	tc.Handler.HandleAuditLog(rec, NewAuthenticatedRequest(http.MethodGet, "/api/audit", testMod, nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestUserManagement(t *testing.T) {
	tc := NewTestContext(t)

	req := NewAuthenticatedRequest(http.MethodPut, "/api/users/"+testStudent+"/role", testStaff, changeRoleRequest{Role: "Moderator"})
	req.SetPathValue("email", testStudent)
	rec := httptest.NewRecorder()
	tc.Handler.HandleChangeRole(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var user moderation.User
	decodeBody(t, rec, &user)
	assert.Equal(t, moderation.RoleModerator, user.Role)

	req = NewAuthenticatedRequest(http.MethodPut, "/api/users/"+testStudent+"/role", testStaff, changeRoleRequest{Role: "emperor"})
	req.SetPathValue("email", testStudent)
	rec = httptest.NewRecorder()
	tc.Handler.HandleChangeRole(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// The promoted user now sees one unread notification
	rec = httptest.NewRecorder()
	tc.Handler.HandleMe(rec, NewAuthenticatedRequest(http.MethodGet, "/api/me", testStudent, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var me meResponse
	decodeBody(t, rec, &me)
	assert.Equal(t, 1, me.UnreadNotifications)
	assert.Len(t, me.BanDurations, 5)

	rec = httptest.NewRecorder()
	tc.Handler.HandleNotificationsMarkRead(rec, NewAuthenticatedRequest(http.MethodPost, "/api/notifications/read", testStudent, nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	tc.Handler.HandleNotifications(rec, NewAuthenticatedRequest(http.MethodGet, "/api/notifications", testStudent, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var notes notificationsResponse
	decodeBody(t, rec, &notes)
	assert.Len(t, notes.Notifications, 1)
	assert.Equal(t, 0, notes.Unread)

	del := func(actor string) int {
		req := NewAuthenticatedRequest(http.MethodDelete, "/api/users/"+testStudent, actor, nil)
		req.SetPathValue("email", testStudent)
		rec := httptest.NewRecorder()
		tc.Handler.HandleDeleteUser(rec, req)
		return rec.Code
	}
	assert.Equal(t, http.StatusForbidden, del(testStaff))
	assert.Equal(t, http.StatusOK, del(testAdmin))
	assert.Equal(t, http.StatusNotFound, del(testAdmin))
}
