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

// DefaultBanReason is recorded when the issuer gives no reason
const DefaultBanReason = "Not provided"

// ApplyBan bans target for the selected duration, or lifts their ban when the
// "none" tier is selected. The duration must be one the issuer's role may issue.
func (s *Service) ApplyBan(ctx context.Context, issuerEmail, targetEmail, durationKey, reason string) (rec *BanRecord, err error) {
	ctx, span := tracing.ModerationSpan(ctx, "apply_ban", issuerEmail)
	defer func() {
		tracing.EndWithError(span, err)
		span.End()
	}()

	targetEmail = NormalizeEmail(targetEmail)
	if targetEmail == "" {
		return nil, validationErr("target", "target email is required")
	}
	issuer, err := s.GetUser(ctx, issuerEmail)
	if err != nil {
		return nil, err
	}
	dur, ok := LookupBanDuration(issuer.Role, durationKey)
	if !ok {
		return nil, fmt.Errorf("%w: role %s cannot issue %q bans", ErrUnauthorized, issuer.Role, durationKey)
	}

	target, err := s.GetUser(ctx, targetEmail)
	if err != nil {
		return nil, err
	}
	if !s.currentPolicy().CanBan(issuer, target) {
		return nil, fmt.Errorf("%w: %s cannot ban %s", ErrUnauthorized, issuer.Email, target.Email)
	}

	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = DefaultBanReason
	}
	now := s.now()

	if dur.IsLift() {
		return s.liftBan(ctx, issuer, target, reason, now)
	}

	record := BanRecord{
		ID:         NewID(),
		UserEmail:  target.Email,
		IssuedBy:   issuer.Email,
		IssuerRole: issuer.Role,
		Reason:     reason,
		CreatedAt:  now,
		ExpiresAt:  dur.ExpiresAt(now),
	}
	if err := s.store.AppendBan(ctx, record); err != nil {
		return nil, fmt.Errorf("append ban record: %w", err)
	}

	s.syncBanFields(ctx, target.Email)

	s.audit(ctx, issuer, AuditActionUserBanned, target.Email, reason, map[string]string{
		"ban_id":      record.ID,
		"duration":    dur.Key,
		"issuer_role": string(issuer.Role),
		"expires_at":  record.ExpiresAt.UTC().Format(time.RFC3339),
	})
	metrics.BansTotal.WithLabelValues(dur.Key).Inc()

	log.Info().
		Str("target", target.Email).
		Str("by", issuer.Email).
		Str("duration", dur.Key).
		Time("expires_at", record.ExpiresAt).
		Msg("moderation: user banned")

	s.notify(ctx, ToUser(target.Email), issuer.Email, BanNotice(record.ExpiresAt, reason), SeverityCritical, "")

	return &record, nil
}

// BanNotice is the text sent to a user when they are banned
func BanNotice(expiresAt time.Time, reason string) string {
	if strings.TrimSpace(reason) == "" {
		reason = DefaultBanReason
	}
	return fmt.Sprintf("You have been banned until %s. Reason: %s",
		expiresAt.UTC().Format(time.RFC1123), reason)
}

// liftBan appends a lift record ending every current ban. Bans issued by a
// higher role than the lifter stay in place.
func (s *Service) liftBan(ctx context.Context, issuer, target *User, reason string, now time.Time) (*BanRecord, error) {
	records, err := s.store.ListBansForUser(ctx, target.Email)
	if err != nil {
		return nil, fmt.Errorf("list bans: %w", err)
	}
	active := activeRecords(records, now)
	if len(active) == 0 {
		return nil, fmt.Errorf("active ban for %s: %w", target.Email, ErrNotFound)
	}
	for _, r := range active {
		if r.IssuerRole.Above(issuer.Role) {
			return nil, fmt.Errorf("%w: ban was issued by %s", ErrUnauthorized, r.IssuerRole)
		}
	}

	record := BanRecord{
		ID:         NewID(),
		UserEmail:  target.Email,
		IssuedBy:   issuer.Email,
		IssuerRole: issuer.Role,
		Reason:     reason,
		CreatedAt:  now,
		ExpiresAt:  now,
		Lift:       true,
	}
	if err := s.store.AppendBan(ctx, record); err != nil {
		return nil, fmt.Errorf("append lift record: %w", err)
	}

	s.syncBanFields(ctx, target.Email)

	s.audit(ctx, issuer, AuditActionUserUnbanned, target.Email, reason, map[string]string{
		"ban_id":      record.ID,
		"lifted":      fmt.Sprintf("%d", len(active)),
		"issuer_role": string(issuer.Role),
	})
	metrics.BanLiftsTotal.Inc()

	log.Info().
		Str("target", target.Email).
		Str("by", issuer.Email).
		Msg("moderation: ban lifted")

	s.notify(ctx, ToUser(target.Email), issuer.Email, "Your ban has been lifted.", SeverityInfo, "")

	return &record, nil
}

// ActiveBan returns the ban currently governing the user, or nil.
// When several bans overlap the one with the latest expiry wins.
func (s *Service) ActiveBan(ctx context.Context, email string) (*BanRecord, error) {
	records, err := s.store.ListBansForUser(ctx, NormalizeEmail(email))
	if err != nil {
		return nil, fmt.Errorf("list bans: %w", err)
	}
	return governingBan(records, s.now()), nil
}

// IsCurrentlyBanned reports whether the user has an active ban
func (s *Service) IsCurrentlyBanned(ctx context.Context, email string) (bool, error) {
	ban, err := s.ActiveBan(ctx, email)
	if err != nil {
		return false, err
	}
	return ban != nil, nil
}

// BanHistory returns every ban record for a user, oldest first
func (s *Service) BanHistory(ctx context.Context, email string) ([]BanRecord, error) {
	records, err := s.store.ListBansForUser(ctx, NormalizeEmail(email))
	if err != nil {
		return nil, err
	}
	sortBans(records)
	return records, nil
}

// CheckLogin admits a login attempt. Banned users get a *BannedError carrying
// the expiry of the governing ban.
func (s *Service) CheckLogin(ctx context.Context, email string) (*User, error) {
	user, err := s.GetUser(ctx, email)
	if err != nil {
		metrics.LoginAttemptsTotal.WithLabelValues("unknown").Inc()
		return nil, err
	}

	ban, err := s.ActiveBan(ctx, user.Email)
	if err != nil {
		metrics.LoginAttemptsTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	if ban != nil {
		metrics.LoginAttemptsTotal.WithLabelValues("banned").Inc()
		log.Info().Str("email", user.Email).Time("until", ban.ExpiresAt).Msg("moderation: login rejected, user banned")
		return nil, &BannedError{Email: user.Email, Until: ban.ExpiresAt, Reason: ban.Reason}
	}

	metrics.LoginAttemptsTotal.WithLabelValues("ok").Inc()
	return user, nil
}

// syncBanFields refreshes the display copy of the governing ban on the user
// record. The ban records stay authoritative, so failures are only logged.
func (s *Service) syncBanFields(ctx context.Context, email string) {
	for attempt := 0; attempt < 3; attempt++ {
		user, err := s.store.GetUser(ctx, email)
		if err != nil || user == nil {
			log.Warn().Err(err).Str("email", email).Msg("moderation: cannot refresh ban fields")
			return
		}

		ban, err := s.ActiveBan(ctx, email)
		if err != nil {
			log.Warn().Err(err).Str("email", email).Msg("moderation: cannot refresh ban fields")
			return
		}

		updated := *user
		if ban != nil {
			until := ban.ExpiresAt
			updated.BannedUntil = &until
			updated.BanReason = ban.Reason
		} else {
			updated.BannedUntil = nil
			updated.BanReason = ""
		}

		err = s.store.UpdateUser(ctx, updated, user.Version)
		if err == nil {
			return
		}
		if !errors.Is(err, ErrVersionConflict) {
			log.Warn().Err(err).Str("email", email).Msg("moderation: failed to refresh ban fields")
			return
		}
	}
	log.Warn().Str("email", email).Msg("moderation: gave up refreshing ban fields after conflicts")
}

// activeRecords returns the bans in force at now, ignoring anything before
// the most recent lift
func activeRecords(records []BanRecord, now time.Time) []BanRecord {
	sorted := append([]BanRecord(nil), records...)
	sortBans(sorted)

	start := 0
	for i, r := range sorted {
		if r.Lift {
			start = i + 1
		}
	}

	var active []BanRecord
	for _, r := range sorted[start:] {
		if r.ActiveAt(now) {
			active = append(active, r)
		}
	}
	return active
}

func governingBan(records []BanRecord, now time.Time) *BanRecord {
	var best *BanRecord
	for _, r := range activeRecords(records, now) {
		if best == nil || r.ExpiresAt.After(best.ExpiresAt) {
			r := r
			best = &r
		}
	}
	return best
}

func sortBans(records []BanRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].ID < records[j].ID
		}
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})
}
