package handlers

import (
	"net/http"
	"strconv"

	"studyhall/internal/moderation"

	"golang.org/x/sync/errgroup"
)

// DashboardResponse is the moderation dashboard. Staff sections are omitted
// for moderators.
type DashboardResponse struct {
	Role               moderation.Role                `json:"role"`
	PendingEscalations []moderation.EscalationRequest `json:"pending_escalations"`
	FlaggedMessages    []moderation.Message           `json:"flagged_messages,omitempty"`
	RecentActions      []moderation.AuditEntry        `json:"recent_actions,omitempty"`
	BanDurations       []moderation.BanDuration       `json:"ban_durations"`
}

// HandleDashboard gathers the moderation queues for the current user
func (h *Handler) HandleDashboard(w http.ResponseWriter, r *http.Request) {
	email := requireUser(w, r)
	if email == "" {
		return
	}

	viewer, err := h.svc.GetUser(r.Context(), email)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !viewer.Role.AtLeast(moderation.RoleModerator) {
		writeError(w, r, moderation.ErrUnauthorized)
		return
	}

	resp := DashboardResponse{
		Role:         viewer.Role,
		BanDurations: moderation.AvailableBanDurations(viewer.Role),
	}

	// Fetch the queues in parallel; the first error cancels the rest
	g, ctx := errgroup.WithContext(r.Context())

	g.Go(func() error {
		var err error
		resp.PendingEscalations, err = h.svc.ListEscalations(ctx, viewer.Email, moderation.EscalationPending)
		return err
	})

	if viewer.Role.AtLeast(moderation.RoleStaff) {
		g.Go(func() error {
			var err error
			resp.FlaggedMessages, err = h.svc.ListFlaggedMessages(ctx, viewer.Email)
			return err
		})
		g.Go(func() error {
			var err error
			resp.RecentActions, err = h.svc.ListAuditLog(ctx, viewer.Email, 10)
			return err
		})
	}

	if err := g.Wait(); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, resp, "dashboard")
}

// HandleAuditLog returns recent audit entries, ?limit= bounded
func (h *Handler) HandleAuditLog(w http.ResponseWriter, r *http.Request) {
	viewer := requireUser(w, r)
	if viewer == "" {
		return
	}

	limit := h.config.AuditPageSize
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 500 {
			writeError(w, r, &moderation.ValidationError{Field: "limit", Message: "must be between 1 and 500"})
			return
		}
		limit = n
	}

	entries, err := h.svc.ListAuditLog(r.Context(), viewer, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if entries == nil {
		entries = []moderation.AuditEntry{}
	}
	writeJSON(w, entries, "audit log")
}
