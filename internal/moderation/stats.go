package moderation

import (
	"context"
	"fmt"
	"time"
)

// Stats is a point-in-time count of moderation state for dashboards and gauges
type Stats struct {
	Users              int          `json:"users"`
	UsersByRole        map[Role]int `json:"users_by_role"`
	ActiveBans         int          `json:"active_bans"`
	PendingEscalations int          `json:"pending_escalations"`
	FlaggedMessages    int          `json:"flagged_messages"`
}

// Stats counts users, bans in force, pending escalations and flagged messages
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	st := Stats{UsersByRole: make(map[Role]int, len(AllRoles()))}
	for _, r := range AllRoles() {
		st.UsersByRole[r] = 0
	}

	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("list users: %w", err)
	}
	st.Users = len(users)
	for _, u := range users {
		st.UsersByRole[u.Role]++
	}

	bans, err := s.store.ListBans(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("list bans: %w", err)
	}
	byUser := make(map[string][]BanRecord)
	for _, b := range bans {
		byUser[b.UserEmail] = append(byUser[b.UserEmail], b)
	}
	now := s.now()
	for _, records := range byUser {
		if governingBan(records, now) != nil {
			st.ActiveBans++
		}
	}

	escalations, err := s.store.ListEscalations(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("list escalations: %w", err)
	}
	for _, e := range escalations {
		if e.Status == EscalationPending {
			st.PendingEscalations++
		}
	}

	messages, err := s.store.ListMessages(ctx, "", time.Time{})
	if err != nil {
		return Stats{}, fmt.Errorf("list messages: %w", err)
	}
	for _, m := range messages {
		if m.Flagged {
			st.FlaggedMessages++
		}
	}

	return st, nil
}
