package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"studyhall/internal/moderation"

	"github.com/rs/zerolog/log"
)

// seedUser is one line of the seed file: "email role [display name]"
type seedUser struct {
	Email       string
	Role        moderation.Role
	DisplayName string
}

// loadSeedUsers reads accounts from a file, one per line.
// Blank lines and lines starting with # are ignored.
func loadSeedUsers(path string) ([]seedUser, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var users []seedUser
	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) < 2 {
			log.Warn().
				Int("line", lineNum).
				Str("content", line).
				Msg("Skipping seed line without a role")
			continue
		}

		email := moderation.NormalizeEmail(fields[0])
		if !strings.Contains(email, "@") {
			log.Warn().
				Int("line", lineNum).
				Str("content", line).
				Msg("Skipping seed line with invalid email")
			continue
		}

		role, err := moderation.ParseRole(fields[1])
		if err != nil {
			log.Warn().
				Int("line", lineNum).
				Str("role", fields[1]).
				Msg("Skipping seed line with unknown role")
			continue
		}

		name := strings.Join(fields[2:], " ")
		if name == "" {
			name, _, _ = strings.Cut(email, "@")
		}

		users = append(users, seedUser{Email: email, Role: role, DisplayName: name})
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}

	return users, nil
}

// seedUsers creates any seed accounts that do not exist yet. Existing
// accounts keep their current role.
func seedUsers(ctx context.Context, store moderation.Store, users []seedUser, now time.Time) (int, error) {
	created := 0
	for _, u := range users {
		err := store.CreateUser(ctx, moderation.User{
			Email:       u.Email,
			DisplayName: u.DisplayName,
			Role:        u.Role,
			Tier:        moderation.TierFree,
			CreatedAt:   now,
		})
		switch {
		case err == nil:
			created++
		case errors.Is(err, moderation.ErrConflict):
			log.Debug().Str("email", u.Email).Msg("Seed user already exists")
		default:
			return created, fmt.Errorf("seed user %s: %w", u.Email, err)
		}
	}
	return created, nil
}
