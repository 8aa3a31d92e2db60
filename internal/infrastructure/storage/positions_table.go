package storage

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"PositionScanner/internal/domain"
	"PositionScanner/internal/ports"
)

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// PositionsTable reads positions written by a crawler into a per-source table
// with columns id, title, url, description and date.
type PositionsTable struct {
	pool   *pgxpool.Pool
	source string
	table  string
}

var _ ports.ItemSource = (*PositionsTable)(nil)

// NewPositionsTable validates the table name and binds it to source.
func NewPositionsTable(db *DB, source, table string) (*PositionsTable, error) {
	if !tableNamePattern.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	if db == nil || db.Pool == nil {
		return nil, errNoPool
	}
	return &PositionsTable{pool: db.Pool, source: source, table: table}, nil
}

// FetchItems returns every row in id order. Rows scanned before a failure are
// returned together with the error.
func (t *PositionsTable) FetchItems(ctx context.Context) ([]domain.Item, error) {
	query, args, err := psql.Select(
		"CAST(id AS TEXT)",
		"COALESCE(title, '')",
		"COALESCE(url, '')",
		"COALESCE(description, '')",
		"COALESCE(CAST(date AS TEXT), '')",
	).
		From(quoteTable(t.table)).
		OrderBy("id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	rows, err := t.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", t.table, err)
	}
	defer rows.Close()

	var items []domain.Item
	for rows.Next() {
		item := domain.Item{Source: t.source}
		if err := rows.Scan(&item.ExternalID, &item.Title, &item.URL, &item.Body, &item.Deadline); err != nil {
			return items, fmt.Errorf("scan %s: %w", t.table, err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return items, fmt.Errorf("rows %s: %w", t.table, err)
	}
	return items, nil
}

func quoteTable(name string) string {
	return pgx.Identifier(strings.SplitN(name, ".", 2)).Sanitize()
}
