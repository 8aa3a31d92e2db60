package directory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"PositionScanner/internal/domain"
	"PositionScanner/internal/ports"
)

// YAMLDirectory reads subscribers from a YAML file. The file is read on every
// call so edits apply to the next run without a restart.
type YAMLDirectory struct {
	path   string
	logger *slog.Logger
}

var _ ports.SubscriberDirectory = (*YAMLDirectory)(nil)

type fileSubscribers struct {
	Subscribers []subscriberEntry `yaml:"subscribers"`
}

type subscriberEntry struct {
	ID          string   `yaml:"id"`
	Name        string   `yaml:"name"`
	Email       string   `yaml:"email"`
	ChatID      string   `yaml:"chatId"`
	ActiveUntil string   `yaml:"activeUntil"`
	Keywords    []string `yaml:"keywords"`
	Target      []string `yaml:"target"`
	Forbidden   []string `yaml:"forbidden"`
}

// NewYAMLDirectory points the directory at path.
func NewYAMLDirectory(path string, logger *slog.Logger) *YAMLDirectory {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &YAMLDirectory{path: path, logger: logger}
}

// ListSubscribers parses the file. An entry without id uses its email as id.
// Malformed entries are logged and left out; only an unreadable file fails.
func (d *YAMLDirectory) ListSubscribers(ctx context.Context) ([]domain.Subscriber, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(d.path)
	if err != nil {
		return nil, fmt.Errorf("read subscribers: %w", err)
	}
	subs, rejected, err := parse(data)
	if err != nil {
		return nil, err
	}
	for _, r := range rejected {
		d.logger.Warn("skip subscriber", "path", d.path, "error", r)
	}
	return subs, nil
}

// Parse decodes a subscribers document. Entries that cannot be read are
// skipped; the valid subscribers are returned together with the joined
// *domain.ValidationError of each skipped entry.
func Parse(data []byte) ([]domain.Subscriber, error) {
	subs, rejected, err := parse(data)
	if err != nil {
		return nil, err
	}
	return subs, errors.Join(rejected...)
}

func parse(data []byte) ([]domain.Subscriber, []error, error) {
	var doc fileSubscribers
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, nil, fmt.Errorf("decode subscribers: %w", err)
	}

	var rejected []error
	subs := make([]domain.Subscriber, 0, len(doc.Subscribers))
	for i, e := range doc.Subscribers {
		until, err := parseActiveUntil(e.ActiveUntil)
		if err != nil {
			ref := strings.TrimSpace(e.ID)
			if ref == "" {
				ref = strings.TrimSpace(e.Email)
			}
			if ref == "" {
				ref = fmt.Sprintf("#%d", i)
			}
			rejected = append(rejected, &domain.ValidationError{Kind: "subscriber", Ref: ref, Reason: err.Error()})
			continue
		}
		id := strings.TrimSpace(e.ID)
		if id == "" {
			id = strings.ToLower(strings.TrimSpace(e.Email))
		}
		subs = append(subs, domain.Subscriber{
			ID:                id,
			Email:             strings.TrimSpace(e.Email),
			DisplayName:       strings.TrimSpace(e.Name),
			InterestKeywords:  e.Keywords,
			TargetKeywords:    e.Target,
			ForbiddenKeywords: e.Forbidden,
			ChatID:            strings.TrimSpace(e.ChatID),
			ActiveUntil:       until,
		})
	}
	return subs, rejected, nil
}

// parseActiveUntil accepts RFC 3339 or a bare date; a bare date covers the
// whole day in UTC.
func parseActiveUntil(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	day, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("activeUntil %q: want YYYY-MM-DD or RFC 3339", raw)
	}
	return day.Add(24*time.Hour - time.Nanosecond), nil
}
