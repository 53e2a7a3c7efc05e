package moderation

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/bluesky-social/indigo/atproto/syntax"
	"github.com/rs/zerolog/log"
)

var idClock = syntax.NewTIDClock(0)

// NewID returns a time-ordered record identifier
func NewID() string {
	return idClock.Next().String()
}

// Mailer delivers critical notifications out of band
type Mailer interface {
	Enabled() bool
	Send(to, subject, body string) error
}

// Options configures a Service
type Options struct {
	// PolicyPath is a JSON policy file. Empty or missing means DefaultPolicy.
	PolicyPath string

	// Mailer is optional
	Mailer Mailer

	// Now overrides the clock in tests
	Now func() time.Time
}

// Service runs the ban, escalation and flag workflows against an injected Store
type Service struct {
	store  Store
	mailer Mailer
	now    func() time.Time

	mu         sync.RWMutex
	policy     *Policy
	policyPath string
}

// NewService creates a moderation service backed by store
func NewService(store Store, opts Options) (*Service, error) {
	s := &Service{
		store:      store,
		mailer:     opts.Mailer,
		now:        opts.Now,
		policy:     DefaultPolicy(),
		policyPath: opts.PolicyPath,
	}
	if s.now == nil {
		s.now = time.Now
	}

	if s.policyPath == "" {
		log.Info().Msg("moderation: no policy path provided, using defaults")
		return s, nil
	}

	if err := s.loadPolicy(); err != nil {
		return nil, fmt.Errorf("failed to load moderation policy: %w", err)
	}

	return s, nil
}

// loadPolicy reads and parses the policy file
func (s *Service) loadPolicy() error {
	data, err := os.ReadFile(s.policyPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Warn().Str("path", s.policyPath).Msg("moderation: policy file not found, using defaults")
			return nil
		}
		return fmt.Errorf("failed to read policy file: %w", err)
	}

	// role_changes replaces the default table rather than merging into it
	policy := DefaultPolicy()
	defaults := policy.RoleChanges
	policy.RoleChanges = nil
	if err := json.Unmarshal(data, policy); err != nil {
		return fmt.Errorf("failed to parse policy file: %w", err)
	}
	if policy.RoleChanges == nil {
		policy.RoleChanges = defaults
	}

	if err := policy.Validate(); err != nil {
		return fmt.Errorf("invalid policy: %w", err)
	}

	s.mu.Lock()
	s.policy = policy
	s.mu.Unlock()

	log.Info().
		Bool("allow_self_flag", policy.AllowSelfFlag).
		Bool("allow_self_ban", policy.AllowSelfBan).
		Bool("allow_peer_ban", policy.AllowPeerBan).
		Str("path", s.policyPath).
		Msg("moderation: policy loaded")

	return nil
}

// Reload reloads the policy from disk
func (s *Service) Reload() error {
	if s.policyPath == "" {
		return nil
	}
	return s.loadPolicy()
}

// Policy returns a copy of the active policy
func (s *Service) Policy() Policy {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p := *s.policy
	p.RoleChanges = make(map[Role][]Role, len(s.policy.RoleChanges))
	for k, v := range s.policy.RoleChanges {
		p.RoleChanges[k] = append([]Role(nil), v...)
	}
	return p
}

func (s *Service) currentPolicy() *Policy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.policy
}

// GetUser returns a user by email, or ErrNotFound
func (s *Service) GetUser(ctx context.Context, email string) (*User, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return nil, validationErr("email", "email is required")
	}
	u, err := s.store.GetUser(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("load user %s: %w", email, err)
	}
	if u == nil {
		return nil, fmt.Errorf("user %s: %w", email, ErrNotFound)
	}
	return u, nil
}

// ListUsers returns every account
func (s *Service) ListUsers(ctx context.Context) ([]User, error) {
	return s.store.ListUsers(ctx)
}

// ListAuditLog returns the newest audit entries for viewers with staff authority
func (s *Service) ListAuditLog(ctx context.Context, viewerEmail string, limit int) ([]AuditEntry, error) {
	viewer, err := s.GetUser(ctx, viewerEmail)
	if err != nil {
		return nil, err
	}
	if !viewer.Role.AtLeast(RoleStaff) {
		return nil, ErrUnauthorized
	}
	if limit <= 0 {
		limit = 50
	}
	return s.store.ListAuditLog(ctx, limit)
}

// audit appends exactly one entry for a completed action. Failures are
// logged and do not undo the action.
func (s *Service) audit(ctx context.Context, actor *User, action AuditAction, target, reason string, details map[string]string) {
	entry := AuditEntry{
		ID:        NewID(),
		Action:    action,
		Target:    target,
		Reason:    reason,
		Details:   details,
		Timestamp: s.now(),
	}
	if actor != nil {
		entry.ActorEmail = actor.Email
		entry.ActorName = actor.DisplayName
	}

	if err := s.store.LogAction(ctx, entry); err != nil {
		log.Error().Err(err).
			Str("action", string(action)).
			Str("target", target).
			Msg("moderation: failed to write audit entry")
	}
}
