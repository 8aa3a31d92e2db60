package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"PositionScanner/internal/domain"
	"PositionScanner/internal/ports"
)

// SubscribersTable lists subscribers from the subscribers table.
type SubscribersTable struct {
	pool  *pgxpool.Pool
	table string
}

var _ ports.SubscriberDirectory = (*SubscribersTable)(nil)

// NewSubscribersTable binds the directory to table, "subscribers" when empty.
func NewSubscribersTable(db *DB, table string) (*SubscribersTable, error) {
	if db == nil || db.Pool == nil {
		return nil, errNoPool
	}
	if table == "" {
		table = "subscribers"
	}
	if !tableNamePattern.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &SubscribersTable{pool: db.Pool, table: table}, nil
}

func (t *SubscribersTable) ListSubscribers(ctx context.Context) ([]domain.Subscriber, error) {
	query, args, err := psql.Select(
		"id",
		"email",
		"display_name",
		"COALESCE(interest_keywords, '{}')",
		"COALESCE(target_keywords, '{}')",
		"COALESCE(forbidden_keywords, '{}')",
		"chat_id",
		"active_until",
	).
		From(quoteTable(t.table)).
		OrderBy("id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	rows, err := t.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query subscribers: %w", err)
	}
	defer rows.Close()

	var subs []domain.Subscriber
	for rows.Next() {
		var (
			s     domain.Subscriber
			until *time.Time
		)
		if err := rows.Scan(&s.ID, &s.Email, &s.DisplayName,
			&s.InterestKeywords, &s.TargetKeywords, &s.ForbiddenKeywords, &s.ChatID, &until); err != nil {
			return nil, fmt.Errorf("scan subscriber: %w", err)
		}
		if until != nil {
			s.ActiveUntil = *until
		}
		subs = append(subs, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows subscribers: %w", err)
	}
	return subs, nil
}

// PutSubscriber inserts or replaces a subscriber row.
func (t *SubscribersTable) PutSubscriber(ctx context.Context, s domain.Subscriber) error {
	if err := s.Validate(); err != nil {
		return err
	}
	var until *time.Time
	if !s.ActiveUntil.IsZero() {
		u := s.ActiveUntil.UTC()
		until = &u
	}
	query, args, err := psql.Insert(quoteTable(t.table)).
		Columns("id", "email", "display_name", "interest_keywords", "target_keywords", "forbidden_keywords", "chat_id", "active_until").
		Values(s.ID, s.Email, s.DisplayName, nonNil(s.InterestKeywords), nonNil(s.TargetKeywords), nonNil(s.ForbiddenKeywords), s.ChatID, until).
		Suffix(`ON CONFLICT (id) DO UPDATE SET
			email = EXCLUDED.email,
			display_name = EXCLUDED.display_name,
			interest_keywords = EXCLUDED.interest_keywords,
			target_keywords = EXCLUDED.target_keywords,
			forbidden_keywords = EXCLUDED.forbidden_keywords,
			chat_id = EXCLUDED.chat_id,
			active_until = EXCLUDED.active_until`).
		ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	if _, err := t.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("put subscriber %s: %w", s.ID, err)
	}
	return nil
}

func nonNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}
