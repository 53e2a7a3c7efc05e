package handlers

import (
	"net/http"

	"studyhall/internal/moderation"
)

type escalateRequest struct {
	SubjectEmail string `json:"subject_email"`
	Reason       string `json:"reason"`
}

// HandleEscalate files an escalation to the role above the current user
func (h *Handler) HandleEscalate(w http.ResponseWriter, r *http.Request) {
	requester := requireUser(w, r)
	if requester == "" {
		return
	}

	var req escalateRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	escalation, err := h.svc.Escalate(r.Context(), requester, req.SubjectEmail, req.Reason)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, escalation, "escalation")
}

// HandleListEscalations lists escalations visible to the current user,
// optionally filtered by ?status=
func (h *Handler) HandleListEscalations(w http.ResponseWriter, r *http.Request) {
	viewer := requireUser(w, r)
	if viewer == "" {
		return
	}

	status := moderation.EscalationStatus(r.URL.Query().Get("status"))
	switch status {
	case "", moderation.EscalationPending, moderation.EscalationApproved, moderation.EscalationRejected:
	default:
		writeError(w, r, &moderation.ValidationError{Field: "status", Message: "unknown status: " + string(status)})
		return
	}

	escalations, err := h.svc.ListEscalations(r.Context(), viewer, status)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, escalations, "escalations")
}

type resolveEscalationRequest struct {
	Approve bool `json:"approve"`
}

// HandleResolveEscalation approves or rejects the escalation in the path
func (h *Handler) HandleResolveEscalation(w http.ResponseWriter, r *http.Request) {
	resolver := requireUser(w, r)
	if resolver == "" {
		return
	}

	var req resolveEscalationRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	escalation, err := h.svc.ResolveEscalation(r.Context(), resolver, r.PathValue("id"), req.Approve)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, escalation, "escalation")
}
