package handlers

import (
	"net/http"

	"studyhall/internal/moderation"
)

// HandleBanDurations lists the ban durations the current user may issue
func (h *Handler) HandleBanDurations(w http.ResponseWriter, r *http.Request) {
	email := requireUser(w, r)
	if email == "" {
		return
	}

	user, err := h.svc.GetUser(r.Context(), email)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, moderation.AvailableBanDurations(user.Role), "ban durations")
}

type banRequest struct {
	TargetEmail string `json:"target_email"`
	Duration    string `json:"duration"`
	Reason      string `json:"reason"`
}

// HandleApplyBan bans a user, or lifts their ban for the "none" duration
func (h *Handler) HandleApplyBan(w http.ResponseWriter, r *http.Request) {
	issuer := requireUser(w, r)
	if issuer == "" {
		return
	}

	var req banRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	record, err := h.svc.ApplyBan(r.Context(), issuer, req.TargetEmail, req.Duration, req.Reason)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, record, "ban")
}

type activeBanResponse struct {
	Banned bool                  `json:"banned"`
	Ban    *moderation.BanRecord `json:"ban,omitempty"`
}

// HandleActiveBan reports the ban governing the user in the path.
// Users may look up themselves; looking up others needs moderator authority.
func (h *Handler) HandleActiveBan(w http.ResponseWriter, r *http.Request) {
	viewerEmail := requireUser(w, r)
	if viewerEmail == "" {
		return
	}
	target := moderation.NormalizeEmail(r.PathValue("email"))

	if target != viewerEmail {
		viewer, err := h.svc.GetUser(r.Context(), viewerEmail)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if !viewer.Role.AtLeast(moderation.RoleModerator) {
			writeError(w, r, moderation.ErrUnauthorized)
			return
		}
	}

	ban, err := h.svc.ActiveBan(r.Context(), target)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, activeBanResponse{Banned: ban != nil, Ban: ban}, "ban")
}
