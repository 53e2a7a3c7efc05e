package handlers

import (
	"net/http"

	"studyhall/internal/moderation"
)

type notificationsResponse struct {
	Notifications []moderation.Notification `json:"notifications"`
	Unread        int                       `json:"unread"`
}

// HandleNotifications lists the current user's notifications, newest first
func (h *Handler) HandleNotifications(w http.ResponseWriter, r *http.Request) {
	email := requireUser(w, r)
	if email == "" {
		return
	}

	notifications, err := h.svc.Notifications(r.Context(), email, h.config.NotificationPageSize)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if notifications == nil {
		notifications = []moderation.Notification{}
	}

	writeJSON(w, notificationsResponse{
		Notifications: notifications,
		Unread:        h.svc.UnreadCount(r.Context(), email),
	}, "notifications")
}

// HandleNotificationsMarkRead marks all notifications as read
func (h *Handler) HandleNotificationsMarkRead(w http.ResponseWriter, r *http.Request) {
	email := requireUser(w, r)
	if email == "" {
		return
	}

	if err := h.svc.MarkNotificationsRead(r.Context(), email); err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w)
}
