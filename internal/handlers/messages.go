package handlers

import (
	"net/http"
	"time"

	"studyhall/internal/moderation"
)

// HandleListMessages returns a room's messages, newer than ?since= when given
func (h *Handler) HandleListMessages(w http.ResponseWriter, r *http.Request) {
	viewer := requireUser(w, r)
	if viewer == "" {
		return
	}

	var since time.Time
	if raw := r.URL.Query().Get("since"); raw != "" {
		var err error
		since, err = time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			writeError(w, r, &moderation.ValidationError{Field: "since", Message: "must be an RFC3339 timestamp"})
			return
		}
	}

	messages, err := h.svc.ListMessages(r.Context(), viewer, r.PathValue("room"), since)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if messages == nil {
		messages = []moderation.Message{}
	}
	writeJSON(w, messages, "messages")
}

type postMessageRequest struct {
	Text string `json:"text"`
}

// HandlePostMessage posts to the room in the path
func (h *Handler) HandlePostMessage(w http.ResponseWriter, r *http.Request) {
	sender := requireUser(w, r)
	if sender == "" {
		return
	}

	var req postMessageRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	msg, err := h.svc.PostMessage(r.Context(), sender, r.PathValue("room"), req.Text)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, msg, "message")
}

// HandleFlagMessage flags the message in the path for review
func (h *Handler) HandleFlagMessage(w http.ResponseWriter, r *http.Request) {
	reporter := requireUser(w, r)
	if reporter == "" {
		return
	}

	msg, err := h.svc.FlagMessage(r.Context(), reporter, r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, msg, "message")
}

type resolveFlagRequest struct {
	Action string `json:"action"`
}

// HandleResolveFlag keeps or deletes a flagged message
func (h *Handler) HandleResolveFlag(w http.ResponseWriter, r *http.Request) {
	resolver := requireUser(w, r)
	if resolver == "" {
		return
	}

	var req resolveFlagRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	var keep bool
	switch req.Action {
	case "keep":
		keep = true
	case "delete":
	default:
		writeError(w, r, &moderation.ValidationError{Field: "action", Message: `must be "keep" or "delete"`})
		return
	}

	if err := h.svc.ResolveFlag(r.Context(), resolver, r.PathValue("id"), keep); err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w)
}

// HandleListFlagged returns the flagged message queue
func (h *Handler) HandleListFlagged(w http.ResponseWriter, r *http.Request) {
	viewer := requireUser(w, r)
	if viewer == "" {
		return
	}

	messages, err := h.svc.ListFlaggedMessages(r.Context(), viewer)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, messages, "flagged messages")
}
