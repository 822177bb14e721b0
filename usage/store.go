package usage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/mattn/go-sqlite3"

	"github.com/switchboard-llm/switchboard/llm"
)

// Store persists per-turn usage rows to SQLite. It implements
// orchestrator.Ledger.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the usage database at path.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open usage database: %w", err)
	}
	return db, nil
}

// NewStore creates a store over an already-migrated database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// TurnRecord is one persisted usage row.
type TurnRecord struct {
	TurnID       string
	Provider     string
	Model        string
	InputTokens  int64
	OutputTokens int64
	Cost         float64
	CreatedAt    time.Time
}

// Totals aggregates usage across turns for one provider.
type Totals struct {
	Turns        int64
	InputTokens  int64
	OutputTokens int64
	Cost         float64
}

// RecordTurn saves the usage of one completed turn. A turn records at most
// once; replays after a crash are ignored.
func (s *Store) RecordTurn(ctx context.Context, turnID, provider, model string, u llm.Usage, cost float64) error {
	query := sq.Insert("usage_turns").
		Columns("turn_id", "provider", "model", "input_tokens", "output_tokens", "cost", "created_at").
		Values(turnID, provider, model, u.InputTokens, u.OutputTokens, cost, time.Now().Unix())

	queryStr, args, err := query.ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}

	// The unique index on turn_id makes replays no-ops.
	queryStr = strings.Replace(queryStr, "INSERT INTO", "INSERT OR IGNORE INTO", 1)

	_, err = s.db.ExecContext(ctx, queryStr, args...)
	return err
}

// ProviderTotals returns the aggregate usage for one provider.
func (s *Store) ProviderTotals(ctx context.Context, provider string) (Totals, error) {
	query := sq.Select(
		"COUNT(*)",
		"COALESCE(SUM(input_tokens), 0)",
		"COALESCE(SUM(output_tokens), 0)",
		"COALESCE(SUM(cost), 0)",
	).From("usage_turns").Where(sq.Eq{"provider": provider})

	queryStr, args, err := query.ToSql()
	if err != nil {
		return Totals{}, fmt.Errorf("build query: %w", err)
	}

	var t Totals
	row := s.db.QueryRowContext(ctx, queryStr, args...)
	if err := row.Scan(&t.Turns, &t.InputTokens, &t.OutputTokens, &t.Cost); err != nil {
		return Totals{}, err
	}
	return t, nil
}

// Recent returns the most recent usage rows, newest first.
func (s *Store) Recent(ctx context.Context, limit uint64) ([]TurnRecord, error) {
	if limit == 0 {
		limit = 20
	}
	query := sq.Select("turn_id", "provider", "model", "input_tokens", "output_tokens", "cost", "created_at").
		From("usage_turns").
		OrderBy("created_at DESC", "id DESC").
		Limit(limit)

	queryStr, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, queryStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []TurnRecord
	for rows.Next() {
		var rec TurnRecord
		var created int64
		if err := rows.Scan(&rec.TurnID, &rec.Provider, &rec.Model, &rec.InputTokens, &rec.OutputTokens, &rec.Cost, &created); err != nil {
			return nil, err
		}
		rec.CreatedAt = time.Unix(created, 0)
		records = append(records, rec)
	}
	return records, rows.Err()
}
