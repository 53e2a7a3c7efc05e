package handlers

import (
	"net/http"

	"studyhall/internal/moderation"
)

type registerRequest struct {
	Email       string          `json:"email"`
	DisplayName string          `json:"display_name"`
	Tier        moderation.Tier `json:"tier"`
}

// HandleRegister creates a student account
func (h *Handler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	user, err := h.svc.Register(r.Context(), req.Email, req.DisplayName, req.Tier)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, user, "user")
}

type loginRequest struct {
	Email string `json:"email"`
}

// HandleLogin admits a login attempt. Banned users get 403 with the ban expiry.
func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	user, err := h.svc.CheckLogin(r.Context(), req.Email)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, user, "user")
}

type meResponse struct {
	User                *moderation.User         `json:"user"`
	UnreadNotifications int                      `json:"unread_notifications"`
	BanDurations        []moderation.BanDuration `json:"ban_durations"`
}

// HandleMe returns the current user with their unread count and ban options
func (h *Handler) HandleMe(w http.ResponseWriter, r *http.Request) {
	email := requireUser(w, r)
	if email == "" {
		return
	}

	user, err := h.svc.GetUser(r.Context(), email)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, meResponse{
		User:                user,
		UnreadNotifications: h.svc.UnreadCount(r.Context(), email),
		BanDurations:        moderation.AvailableBanDurations(user.Role),
	}, "me")
}

type changeRoleRequest struct {
	Role string `json:"role"`
}

// HandleChangeRole assigns a new role to the user in the path
func (h *Handler) HandleChangeRole(w http.ResponseWriter, r *http.Request) {
	actor := requireUser(w, r)
	if actor == "" {
		return
	}

	var req changeRoleRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	role, err := moderation.ParseRole(req.Role)
	if err != nil {
		writeError(w, r, err)
		return
	}

	user, err := h.svc.ChangeRole(r.Context(), actor, r.PathValue("email"), role)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, user, "user")
}

// HandleDeleteUser removes the account in the path. Admin only.
func (h *Handler) HandleDeleteUser(w http.ResponseWriter, r *http.Request) {
	actor := requireUser(w, r)
	if actor == "" {
		return
	}

	if err := h.svc.DeleteUser(r.Context(), actor, r.PathValue("email")); err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w)
}
