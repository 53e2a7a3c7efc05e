package moderation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode"

	"studyhall/internal/metrics"
	"studyhall/internal/tracing"

	"github.com/rs/zerolog/log"
)

// MaxMessageLength bounds the text of a single chat message
const MaxMessageLength = 4000

// FlaggedLink returns the review queue path for a flagged message
func FlaggedLink(messageID string) string {
	return "/moderation/flagged#" + messageID
}

// validateRoomID rejects empty ids and control characters. Store indexes
// join the room and message id with a NUL separator.
func validateRoomID(roomID string) error {
	if roomID == "" {
		return validationErr("room", "room is required")
	}
	if strings.ContainsFunc(roomID, unicode.IsControl) {
		return validationErr("room", "room contains control characters")
	}
	return nil
}

// PostMessage appends a chat message. Banned senders are rejected with a
// *BannedError. Direct rooms only accept their two participants.
func (s *Service) PostMessage(ctx context.Context, senderEmail, roomID, text string) (*Message, error) {
	sender, err := s.GetUser(ctx, senderEmail)
	if err != nil {
		return nil, err
	}

	roomID = strings.TrimSpace(roomID)
	if err := validateRoomID(roomID); err != nil {
		return nil, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, validationErr("text", "message text is required")
	}
	if len(text) > MaxMessageLength {
		return nil, validationErr("text", fmt.Sprintf("message exceeds %d characters", MaxMessageLength))
	}
	if IsDirectRoom(roomID) && !directParticipant(roomID, sender.Email) {
		return nil, fmt.Errorf("%w: not a participant of %s", ErrUnauthorized, roomID)
	}

	ban, err := s.ActiveBan(ctx, sender.Email)
	if err != nil {
		return nil, err
	}
	if ban != nil {
		return nil, &BannedError{Email: sender.Email, Until: ban.ExpiresAt, Reason: ban.Reason}
	}

	msg := Message{
		ID:          NewID(),
		RoomID:      roomID,
		SenderEmail: sender.Email,
		Text:        text,
		CreatedAt:   s.now(),
	}
	if err := s.store.CreateMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("create message: %w", err)
	}
	msg.Version = 1
	return &msg, nil
}

// ListMessages returns a room's messages newer than since, oldest first.
// Direct rooms are visible to their participants and to staff.
func (s *Service) ListMessages(ctx context.Context, viewerEmail, roomID string, since time.Time) ([]Message, error) {
	viewer, err := s.GetUser(ctx, viewerEmail)
	if err != nil {
		return nil, err
	}
	roomID = strings.TrimSpace(roomID)
	if err := validateRoomID(roomID); err != nil {
		return nil, err
	}
	if IsDirectRoom(roomID) && !directParticipant(roomID, viewer.Email) && !viewer.Role.AtLeast(RoleStaff) {
		return nil, ErrUnauthorized
	}
	return s.store.ListMessages(ctx, roomID, since)
}

// FlagMessage marks a message for staff review. Any registered user may flag.
// Flagging an already flagged message is recorded in the audit log but does
// not rewrite the flag.
func (s *Service) FlagMessage(ctx context.Context, reporterEmail, messageID string) (msg *Message, err error) {
	ctx, span := tracing.ModerationSpan(ctx, "flag_message", reporterEmail)
	defer func() {
		tracing.EndWithError(span, err)
		span.End()
	}()

	reporter, err := s.GetUser(ctx, reporterEmail)
	if err != nil {
		return nil, err
	}

	current, err := s.loadMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if current.SenderEmail == reporter.Email && !s.currentPolicy().AllowSelfFlag {
		return nil, fmt.Errorf("%w: cannot flag your own message", ErrUnauthorized)
	}

	firstFlag := false
	for attempt := 0; attempt < 3 && !current.Flagged; attempt++ {
		now := s.now()
		updated := *current
		updated.Flagged = true
		updated.FlaggedBy = reporter.Email
		updated.FlaggedAt = &now

		err = s.store.UpdateMessage(ctx, updated, current.Version)
		if err == nil {
			updated.Version = current.Version + 1
			current = &updated
			firstFlag = true
			break
		}
		if !errors.Is(err, ErrVersionConflict) {
			return nil, fmt.Errorf("update message: %w", err)
		}
		if current, err = s.loadMessage(ctx, messageID); err != nil {
			return nil, err
		}
	}
	if !current.Flagged {
		return nil, fmt.Errorf("flag message %s: %w", messageID, ErrConflict)
	}

	s.audit(ctx, reporter, AuditActionFlagMessage, current.ID, "", map[string]string{
		"room_id":  current.RoomID,
		"sender":   current.SenderEmail,
		"reporter": reporter.Email,
	})

	if firstFlag {
		metrics.FlagsTotal.Inc()
		log.Info().
			Str("message_id", current.ID).
			Str("room", current.RoomID).
			Str("by", reporter.Email).
			Msg("moderation: message flagged")

		s.notify(ctx, ToRole(RoleStaff), reporter.Email,
			fmt.Sprintf("A message from %s in %s was flagged for review", current.SenderEmail, current.RoomID),
			SeverityWarning, FlaggedLink(current.ID))
	}

	return current, nil
}

// ResolveFlag closes a flag. keep clears the flag; otherwise the message is
// deleted. Resolving twice returns ErrNotFound.
func (s *Service) ResolveFlag(ctx context.Context, resolverEmail, messageID string, keep bool) (err error) {
	ctx, span := tracing.ModerationSpan(ctx, "resolve_flag", resolverEmail)
	defer func() {
		tracing.EndWithError(span, err)
		span.End()
	}()

	resolver, err := s.GetUser(ctx, resolverEmail)
	if err != nil {
		return err
	}
	if !resolver.Role.AtLeast(RoleStaff) {
		return fmt.Errorf("%w: resolving flags needs staff authority", ErrUnauthorized)
	}

	current, err := s.loadMessage(ctx, messageID)
	if err != nil {
		return err
	}

	for attempt := 0; ; attempt++ {
		// a cleared flag counts as already resolved
		if !current.Flagged {
			return fmt.Errorf("message %s has no open flag: %w", messageID, ErrNotFound)
		}
		if keep {
			updated := *current
			updated.Flagged = false
			updated.FlaggedBy = ""
			updated.FlaggedAt = nil
			err = s.store.UpdateMessage(ctx, updated, current.Version)
		} else {
			err = s.store.DeleteMessage(ctx, current.ID, current.Version)
		}

		if err == nil {
			break
		}
		if errors.Is(err, ErrNotFound) {
			return fmt.Errorf("message %s: %w", messageID, ErrNotFound)
		}
		if !errors.Is(err, ErrVersionConflict) || attempt > 0 {
			return fmt.Errorf("resolve flag: %w", err)
		}
		if current, err = s.loadMessage(ctx, messageID); err != nil {
			return err
		}
	}

	action := AuditActionUnflagMessage
	outcome := "kept"
	if !keep {
		action = AuditActionDeleteFlaggedMessage
		outcome = "deleted"
	}

	s.audit(ctx, resolver, action, current.ID, "", map[string]string{
		"room_id":    current.RoomID,
		"sender":     current.SenderEmail,
		"flagged_by": current.FlaggedBy,
	})
	metrics.FlagResolutionsTotal.WithLabelValues(outcome).Inc()

	log.Info().
		Str("message_id", current.ID).
		Str("by", resolver.Email).
		Str("outcome", outcome).
		Msg("moderation: flag resolved")

	if !keep {
		s.notify(ctx, ToUser(current.SenderEmail), resolver.Email,
			fmt.Sprintf("A message you posted in %s was removed by a moderator", current.RoomID),
			SeverityWarning, "")
	}

	return nil
}

// ListFlaggedMessages returns the review queue, most recently flagged first
func (s *Service) ListFlaggedMessages(ctx context.Context, viewerEmail string) ([]Message, error) {
	viewer, err := s.GetUser(ctx, viewerEmail)
	if err != nil {
		return nil, err
	}
	if !viewer.Role.AtLeast(RoleStaff) {
		return nil, ErrUnauthorized
	}

	all, err := s.store.ListMessages(ctx, "", time.Time{})
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}

	flagged := make([]Message, 0)
	for _, m := range all {
		if m.Flagged {
			flagged = append(flagged, m)
		}
	}
	sort.SliceStable(flagged, func(i, j int) bool {
		return flaggedAt(flagged[i]).After(flaggedAt(flagged[j]))
	})
	return flagged, nil
}

func (s *Service) loadMessage(ctx context.Context, id string) (*Message, error) {
	if strings.TrimSpace(id) == "" {
		return nil, validationErr("message", "message id is required")
	}
	msg, err := s.store.GetMessage(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load message: %w", err)
	}
	if msg == nil {
		return nil, fmt.Errorf("message %s: %w", id, ErrNotFound)
	}
	return msg, nil
}

func flaggedAt(m Message) time.Time {
	if m.FlaggedAt != nil {
		return *m.FlaggedAt
	}
	return m.CreatedAt
}

// IsDirectRoom reports whether a room id names a direct conversation
func IsDirectRoom(roomID string) bool {
	return strings.HasPrefix(roomID, "dm:")
}

func directParticipant(roomID, email string) bool {
	a, b, ok := strings.Cut(strings.TrimPrefix(roomID, "dm:"), "|")
	if !ok {
		return false
	}
	return a == email || b == email
}
