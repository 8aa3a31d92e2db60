package domain

import (
	"strings"
	"time"
)

// Item is a position discovered by a source adapter.
type Item struct {
	Source      string
	ExternalID  string
	Title       string
	Body        string
	URL         string
	Deadline    string
	PublishedAt time.Time
}

// Validate reports a ValidationError when the item cannot be identified.
func (i Item) Validate() error {
	if strings.TrimSpace(i.Source) == "" {
		return &ValidationError{Kind: "item", Ref: i.ExternalID, Reason: "missing source"}
	}
	if strings.TrimSpace(i.ExternalID) == "" {
		return &ValidationError{Kind: "item", Ref: i.URL, Reason: "missing external id"}
	}
	return nil
}

// SourceProfile describes one origin of items and the title gating it applies.
type SourceProfile struct {
	Name              string
	Label             string
	TargetKeywords    []string
	ForbiddenKeywords []string
}

// DisplayName prefers the human label over the storage name.
func (s SourceProfile) DisplayName() string {
	if s.Label != "" {
		return s.Label
	}
	return s.Name
}
