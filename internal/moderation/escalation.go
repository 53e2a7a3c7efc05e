package moderation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"studyhall/internal/metrics"
	"studyhall/internal/tracing"

	"github.com/rs/zerolog/log"
)

// EscalationLink returns the dashboard path of an escalation request
func EscalationLink(id string) string {
	return "/moderation/escalations/" + id
}

// Escalate hands a case about subject to the role one level above the requester
func (s *Service) Escalate(ctx context.Context, requesterEmail, subjectEmail, reason string) (req *EscalationRequest, err error) {
	ctx, span := tracing.ModerationSpan(ctx, "escalate", requesterEmail)
	defer func() {
		tracing.EndWithError(span, err)
		span.End()
	}()

	requester, err := s.GetUser(ctx, requesterEmail)
	if err != nil {
		return nil, err
	}
	if requester.Role == RoleAdmin {
		return nil, ErrNoHigherAuthority
	}
	target, ok := requester.Role.Next()
	if !ok {
		return nil, fmt.Errorf("%w: role %s cannot escalate", ErrUnauthorized, requester.Role)
	}

	subjectEmail = NormalizeEmail(subjectEmail)
	if subjectEmail == "" {
		return nil, validationErr("subject", "subject email is required")
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, validationErr("reason", "reason is required")
	}

	subject, err := s.GetUser(ctx, subjectEmail)
	if err != nil {
		return nil, err
	}

	record := EscalationRequest{
		ID:            NewID(),
		SubjectEmail:  subject.Email,
		RequestedBy:   requester.Email,
		RequesterRole: requester.Role,
		TargetRole:    target,
		Reason:        reason,
		Status:        EscalationPending,
		CreatedAt:     s.now(),
	}
	if err := s.store.CreateEscalation(ctx, record); err != nil {
		return nil, fmt.Errorf("create escalation: %w", err)
	}
	record.Version = 1

	if err := s.mutateUser(ctx, subject.Email, func(u *User) bool {
		if u.FlaggedForReview {
			return false
		}
		u.FlaggedForReview = true
		return true
	}); err != nil {
		log.Warn().Err(err).Str("subject", subject.Email).Msg("moderation: failed to flag user for review")
	}

	s.audit(ctx, requester, AuditActionUserFlagged, subject.Email, reason, map[string]string{
		"escalation_id": record.ID,
		"target_role":   string(target),
	})
	metrics.EscalationsTotal.Inc()

	log.Info().
		Str("id", record.ID).
		Str("subject", subject.Email).
		Str("by", requester.Email).
		Str("target_role", string(target)).
		Msg("moderation: escalation created")

	s.notify(ctx, ToRole(target), requester.Email,
		fmt.Sprintf("%s escalated %s for review: %s", displayName(requester), subject.Email, reason),
		SeverityWarning, EscalationLink(record.ID))

	return &record, nil
}

// ResolveEscalation approves or rejects a pending request. Approval bans the
// subject for one year. Exactly one resolver can win a pending request.
func (s *Service) ResolveEscalation(ctx context.Context, resolverEmail, id string, approve bool) (req *EscalationRequest, err error) {
	ctx, span := tracing.ModerationSpan(ctx, "resolve_escalation", resolverEmail)
	defer func() {
		tracing.EndWithError(span, err)
		span.End()
	}()

	resolver, err := s.GetUser(ctx, resolverEmail)
	if err != nil {
		return nil, err
	}

	current, err := s.store.GetEscalation(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load escalation: %w", err)
	}
	if current == nil {
		return nil, fmt.Errorf("escalation %s: %w", id, ErrNotFound)
	}
	if !resolver.Role.AtLeast(current.TargetRole) {
		return nil, fmt.Errorf("%w: escalation needs %s authority", ErrUnauthorized, current.TargetRole)
	}
	if current.Status != EscalationPending {
		return nil, ErrAlreadyResolved
	}
	if current.SubjectEmail == resolver.Email {
		return nil, fmt.Errorf("%w: cannot resolve an escalation about yourself", ErrUnauthorized)
	}
	if approve {
		subject, err := s.GetUser(ctx, current.SubjectEmail)
		if err != nil {
			return nil, err
		}
		if !s.currentPolicy().CanBan(resolver, subject) {
			return nil, fmt.Errorf("%w: %s cannot ban %s", ErrUnauthorized, resolver.Email, subject.Email)
		}
	}

	now := s.now()
	updated := *current
	updated.ResolvedBy = resolver.Email
	updated.ResolvedAt = &now
	updated.Status = EscalationRejected
	if approve {
		updated.Status = EscalationApproved
	}

	if err := s.store.UpdateEscalation(ctx, updated, current.Version); err != nil {
		if errors.Is(err, ErrVersionConflict) {
			return nil, ErrAlreadyResolved
		}
		return nil, fmt.Errorf("update escalation: %w", err)
	}
	updated.Version = current.Version + 1

	action := AuditActionRejectEscalation
	details := map[string]string{
		"escalation_id": updated.ID,
		"requested_by":  updated.RequestedBy,
	}

	if approve {
		ban := BanRecord{
			ID:           NewID(),
			UserEmail:    updated.SubjectEmail,
			IssuedBy:     resolver.Email,
			IssuerRole:   resolver.Role,
			Reason:       "Escalated: " + updated.Reason,
			CreatedAt:    now,
			ExpiresAt:    EscalationBanExpiry(now),
			EscalationID: updated.ID,
		}
		if err := s.store.AppendBan(ctx, ban); err != nil {
			s.reopenEscalation(ctx, updated)
			return nil, fmt.Errorf("append escalation ban: %w", err)
		}
		s.syncBanFields(ctx, updated.SubjectEmail)

		action = AuditActionApproveEscalation
		details["ban_id"] = ban.ID
		details["expires_at"] = ban.ExpiresAt.UTC().Format(time.RFC3339)

		s.notify(ctx, ToUser(updated.SubjectEmail), resolver.Email, BanNotice(ban.ExpiresAt, ban.Reason), SeverityCritical, "")
	}

	if err := s.clearReviewFlag(ctx, updated.SubjectEmail); err != nil {
		log.Warn().Err(err).Str("subject", updated.SubjectEmail).Msg("moderation: failed to clear review flag")
	}

	s.audit(ctx, resolver, action, updated.SubjectEmail, updated.Reason, details)
	metrics.EscalationsResolvedTotal.WithLabelValues(string(updated.Status)).Inc()

	log.Info().
		Str("id", updated.ID).
		Str("subject", updated.SubjectEmail).
		Str("by", resolver.Email).
		Str("status", string(updated.Status)).
		Msg("moderation: escalation resolved")

	s.notify(ctx, ToUser(updated.RequestedBy), resolver.Email,
		fmt.Sprintf("Your escalation about %s was %s by %s", updated.SubjectEmail, updated.Status, displayName(resolver)),
		SeverityInfo, EscalationLink(updated.ID))

	return &updated, nil
}

// reopenEscalation puts a request back to pending after its ban failed to persist
func (s *Service) reopenEscalation(ctx context.Context, req EscalationRequest) {
	reopened := req
	reopened.Status = EscalationPending
	reopened.ResolvedBy = ""
	reopened.ResolvedAt = nil
	if err := s.store.UpdateEscalation(ctx, reopened, req.Version); err != nil {
		log.Error().Err(err).Str("id", req.ID).Msg("moderation: failed to reopen escalation after ban write failed")
	}
}

// clearReviewFlag drops the review marker once the subject has no pending requests
func (s *Service) clearReviewFlag(ctx context.Context, email string) error {
	all, err := s.store.ListEscalations(ctx)
	if err != nil {
		return err
	}
	for _, r := range all {
		if r.SubjectEmail == email && r.Status == EscalationPending {
			return nil
		}
	}

	err = s.mutateUser(ctx, email, func(u *User) bool {
		if !u.FlaggedForReview {
			return false
		}
		u.FlaggedForReview = false
		return true
	})
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}

// ListEscalations returns requests the viewer can act on or filed, newest first.
// An empty status matches every status.
func (s *Service) ListEscalations(ctx context.Context, viewerEmail string, status EscalationStatus) ([]EscalationRequest, error) {
	viewer, err := s.GetUser(ctx, viewerEmail)
	if err != nil {
		return nil, err
	}
	if !viewer.Role.AtLeast(RoleModerator) {
		return nil, ErrUnauthorized
	}

	all, err := s.store.ListEscalations(ctx)
	if err != nil {
		return nil, fmt.Errorf("list escalations: %w", err)
	}

	out := make([]EscalationRequest, 0, len(all))
	for _, r := range all {
		if status != "" && r.Status != status {
			continue
		}
		if viewer.Role.AtLeast(r.TargetRole) || r.RequestedBy == viewer.Email {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func displayName(u *User) string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.Email
}
