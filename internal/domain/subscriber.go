package domain

import (
	"strings"
	"time"
)

// Subscriber is a person interested in positions matching their keywords.
type Subscriber struct {
	ID                string
	Email             string
	DisplayName       string
	InterestKeywords  []string
	TargetKeywords    []string
	ForbiddenKeywords []string
	// ChatID routes chat notifications; empty means the sender's default chat.
	ChatID string
	// ActiveUntil is the end of the subscription; zero means no expiry.
	ActiveUntil time.Time
}

// Active reports whether the subscription still runs at now.
func (s Subscriber) Active(now time.Time) bool {
	if s.ActiveUntil.IsZero() {
		return true
	}
	return !now.After(s.ActiveUntil)
}

// Validate rejects subscribers that cannot be keyed in the ledger.
func (s Subscriber) Validate() error {
	if strings.TrimSpace(s.ID) == "" {
		return &ValidationError{Kind: "subscriber", Ref: s.Email, Reason: "missing id"}
	}
	return nil
}

// Name returns the greeting name, falling back to the id.
func (s Subscriber) Name() string {
	if s.DisplayName != "" {
		return s.DisplayName
	}
	return s.ID
}
