package moderation

import (
	"context"

	"studyhall/internal/metrics"

	"github.com/rs/zerolog/log"
)

// notify fans a notice out to the audience. Delivery is best effort: errors
// are logged and counted, never returned, and the triggering change stays.
// The actor is never notified about their own action.
func (s *Service) notify(ctx context.Context, aud Audience, actorEmail, message string, severity Severity, link string) {
	recipients, err := s.recipients(ctx, aud)
	if err != nil {
		metrics.NotificationFailuresTotal.Inc()
		log.Warn().Err(err).Str("min_role", string(aud.MinRole)).Msg("moderation: failed to resolve notification audience")
		return
	}

	for _, u := range recipients {
		if u.Email == actorEmail {
			continue
		}

		n := Notification{
			ID:             NewID(),
			RecipientEmail: u.Email,
			Message:        message,
			Severity:       severity,
			Link:           link,
			CreatedAt:      s.now(),
		}
		if err := s.store.CreateNotification(ctx, n); err != nil {
			metrics.NotificationFailuresTotal.Inc()
			log.Warn().Err(err).Str("recipient", u.Email).Msg("moderation: failed to store notification")
			continue
		}
		metrics.NotificationsTotal.WithLabelValues(string(severity)).Inc()

		if severity == SeverityCritical && s.mailer != nil && s.mailer.Enabled() {
			if err := s.mailer.Send(u.Email, "Studyhall account notice", message); err != nil {
				metrics.NotificationFailuresTotal.Inc()
				log.Warn().Err(err).Str("recipient", u.Email).Msg("moderation: failed to email notification")
			}
		}
	}
}

func (s *Service) recipients(ctx context.Context, aud Audience) ([]User, error) {
	if aud.Email != "" {
		u, err := s.store.GetUser(ctx, aud.Email)
		if err != nil {
			return nil, err
		}
		if u == nil {
			return nil, nil
		}
		return []User{*u}, nil
	}

	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	var out []User
	for _, u := range users {
		if u.Role.AtLeast(aud.MinRole) {
			out = append(out, u)
		}
	}
	return out, nil
}

// Notifications returns a user's notifications, newest first
func (s *Service) Notifications(ctx context.Context, email string, limit int) ([]Notification, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.store.ListNotifications(ctx, NormalizeEmail(email), limit)
}

// UnreadCount returns how many notifications the user has not read
func (s *Service) UnreadCount(ctx context.Context, email string) int {
	n, err := s.store.CountUnread(ctx, NormalizeEmail(email))
	if err != nil {
		log.Warn().Err(err).Str("email", email).Msg("moderation: failed to count unread notifications")
		return 0
	}
	return n
}

// MarkNotificationsRead marks all of a user's notifications read
func (s *Service) MarkNotificationsRead(ctx context.Context, email string) error {
	return s.store.MarkNotificationsRead(ctx, NormalizeEmail(email))
}
