package moderation

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrUnauthorized means the actor's role does not allow the action
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNoHigherAuthority means an admin tried to escalate
	ErrNoHigherAuthority = errors.New("no higher authority to escalate to")

	// ErrAlreadyResolved means the escalation request is no longer pending
	ErrAlreadyResolved = errors.New("escalation already resolved")

	// ErrNotFound means the target record does not exist
	ErrNotFound = errors.New("not found")

	// ErrConflict means a record with the same key already exists
	ErrConflict = errors.New("already exists")

	// ErrVersionConflict is returned by stores when a versioned write lost a race
	ErrVersionConflict = errors.New("version conflict")

	// ErrBanned is matched by *BannedError
	ErrBanned = errors.New("user is banned")
)

// ValidationError reports a missing or malformed input field
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return "invalid " + e.Field + ": " + e.Message
}

// BannedError is returned when a banned user tries to log in or post
type BannedError struct {
	Email  string
	Until  time.Time
	Reason string
}

func (e *BannedError) Error() string {
	return fmt.Sprintf("%s is banned until %s (reason: %s)",
		e.Email, e.Until.UTC().Format(time.RFC1123), e.Reason)
}

// Is lets errors.Is(err, ErrBanned) match
func (e *BannedError) Is(target error) bool {
	return target == ErrBanned
}

// ConfigError represents a policy configuration validation error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "moderation config error in " + e.Field + ": " + e.Message
}

func validationErr(field, msg string) error {
	return &ValidationError{Field: field, Message: msg}
}
