package moderation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"studyhall/internal/tracing"

	"github.com/rs/zerolog/log"
)

// Register creates a student account
func (s *Service) Register(ctx context.Context, email, displayName string, tier Tier) (*User, error) {
	email = NormalizeEmail(email)
	if email == "" || !strings.Contains(email, "@") {
		return nil, validationErr("email", "a valid email is required")
	}

	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		displayName, _, _ = strings.Cut(email, "@")
	}

	switch tier {
	case "":
		tier = TierFree
	case TierFree, TierPremium:
	default:
		return nil, validationErr("tier", "unknown tier: "+string(tier))
	}

	user := User{
		Email:       email,
		DisplayName: displayName,
		Role:        RoleStudent,
		Tier:        tier,
		CreatedAt:   s.now(),
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		if errors.Is(err, ErrConflict) {
			return nil, fmt.Errorf("user %s: %w", email, ErrConflict)
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	user.Version = 1

	s.audit(ctx, &user, AuditActionUserRegistered, user.Email, "", map[string]string{
		"tier": string(user.Tier),
	})

	log.Info().Str("email", user.Email).Msg("moderation: user registered")
	return &user, nil
}

// ChangeRole moves target to newRole if the policy lets the actor assign it.
// Nobody can change their own role.
func (s *Service) ChangeRole(ctx context.Context, actorEmail, targetEmail string, newRole Role) (user *User, err error) {
	ctx, span := tracing.ModerationSpan(ctx, "change_role", actorEmail)
	defer func() {
		tracing.EndWithError(span, err)
		span.End()
	}()

	if !newRole.Valid() {
		return nil, validationErr("role", "unknown role: "+string(newRole))
	}

	actor, err := s.GetUser(ctx, actorEmail)
	if err != nil {
		return nil, err
	}
	target, err := s.GetUser(ctx, targetEmail)
	if err != nil {
		return nil, err
	}
	if actor.Email == target.Email {
		return nil, fmt.Errorf("%w: cannot change your own role", ErrUnauthorized)
	}
	if !s.currentPolicy().CanAssign(actor.Role, target.Role, newRole) {
		return nil, fmt.Errorf("%w: %s cannot move %s from %s to %s", ErrUnauthorized, actor.Role, target.Email, target.Role, newRole)
	}
	if target.Role == newRole {
		return target, nil
	}

	updated := *target
	updated.Role = newRole
	if err := s.store.UpdateUser(ctx, updated, target.Version); err != nil {
		if errors.Is(err, ErrVersionConflict) {
			return nil, fmt.Errorf("user %s changed concurrently: %w", target.Email, ErrConflict)
		}
		return nil, fmt.Errorf("update user: %w", err)
	}
	updated.Version = target.Version + 1

	s.audit(ctx, actor, AuditActionRoleChanged, target.Email, "", map[string]string{
		"from": string(target.Role),
		"to":   string(newRole),
	})

	log.Info().
		Str("target", target.Email).
		Str("by", actor.Email).
		Str("from", string(target.Role)).
		Str("to", string(newRole)).
		Msg("moderation: role changed")

	s.notify(ctx, ToUser(target.Email), actor.Email,
		fmt.Sprintf("Your role was changed from %s to %s", target.Role, newRole), SeverityInfo, "")

	return &updated, nil
}

// DeleteUser removes an account. Admin only. Ban records and the audit trail
// for the account are kept.
func (s *Service) DeleteUser(ctx context.Context, adminEmail, targetEmail string) (err error) {
	ctx, span := tracing.ModerationSpan(ctx, "delete_user", adminEmail)
	defer func() {
		tracing.EndWithError(span, err)
		span.End()
	}()

	actor, err := s.GetUser(ctx, adminEmail)
	if err != nil {
		return err
	}
	if actor.Role != RoleAdmin {
		return fmt.Errorf("%w: deleting users needs admin authority", ErrUnauthorized)
	}
	target, err := s.GetUser(ctx, targetEmail)
	if err != nil {
		return err
	}
	if actor.Email == target.Email {
		return validationErr("email", "cannot delete your own account")
	}

	if err := s.store.DeleteUser(ctx, target.Email); err != nil {
		return fmt.Errorf("delete user: %w", err)
	}

	s.audit(ctx, actor, AuditActionUserDeleted, target.Email, "", map[string]string{
		"role": string(target.Role),
	})
	log.Info().Str("target", target.Email).Str("by", actor.Email).Msg("moderation: user deleted")
	return nil
}

// mutateUser applies fn to the stored user and writes it back with a version
// check, retrying on conflicts. fn returns false when no write is needed.
func (s *Service) mutateUser(ctx context.Context, email string, fn func(u *User) bool) error {
	for attempt := 0; attempt < 3; attempt++ {
		current, err := s.store.GetUser(ctx, email)
		if err != nil {
			return err
		}
		if current == nil {
			return fmt.Errorf("user %s: %w", email, ErrNotFound)
		}

		updated := *current
		if !fn(&updated) {
			return nil
		}

		err = s.store.UpdateUser(ctx, updated, current.Version)
		if err == nil || !errors.Is(err, ErrVersionConflict) {
			return err
		}
	}
	return ErrVersionConflict
}
