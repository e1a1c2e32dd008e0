package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/levyprotocol/levyd/internal/domain"
)

// LevyEventStore implements domain.LevyEventStore using PostgreSQL.
type LevyEventStore struct {
	pool *pgxpool.Pool
}

// NewLevyEventStore creates a new LevyEventStore backed by the given connection pool.
func NewLevyEventStore(pool *pgxpool.Pool) *LevyEventStore {
	return &LevyEventStore{pool: pool}
}

const eventSelectCols = `id, kind, at, from_addr, amount_a, amount_b`

func scanEventRows(rows pgx.Rows) ([]domain.LevyEvent, error) {
	var events []domain.LevyEvent
	for rows.Next() {
		var (
			ev         domain.LevyEvent
			from       string
			amtA, amtB string
		)
		if err := rows.Scan(&ev.ID, &ev.Kind, &ev.At, &from, &amtA, &amtB); err != nil {
			return nil, err
		}
		ev.From = common.HexToAddress(from)
		var err error
		if ev.AmountA, err = uint256.FromDecimal(amtA); err != nil {
			return nil, fmt.Errorf("parse amount_a %q: %w", amtA, err)
		}
		if ev.AmountB, err = uint256.FromDecimal(amtB); err != nil {
			return nil, fmt.Errorf("parse amount_b %q: %w", amtB, err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// Insert persists one levy observation.
func (s *LevyEventStore) Insert(ctx context.Context, ev domain.LevyEvent) error {
	const query = `
		INSERT INTO levy_events (id, kind, at, from_addr, amount_a, amount_b)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING`

	_, err := s.pool.Exec(ctx, query,
		ev.ID, ev.Kind, ev.At, ev.From.Hex(),
		ev.AmountA.Dec(), ev.AmountB.Dec(),
	)
	if err != nil {
		return fmt.Errorf("postgres: insert levy event: %w", err)
	}
	return nil
}

// List returns observations of the given kind, most recent first. An empty
// kind matches all kinds.
func (s *LevyEventStore) List(ctx context.Context, kind domain.LevyEventKind, opts domain.ListOpts) ([]domain.LevyEvent, error) {
	query := `SELECT ` + eventSelectCols + ` FROM levy_events WHERE ($1 = '' OR kind = $1)`
	args := []any{string(kind)}
	query, args = appendTimeFilters(query, args, opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list levy events: %w", err)
	}
	defer rows.Close()

	events, err := scanEventRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan levy events: %w", err)
	}
	return events, nil
}

// ListBefore returns all observations recorded strictly before the given time (for archiving).
func (s *LevyEventStore) ListBefore(ctx context.Context, before time.Time) ([]domain.LevyEvent, error) {
	query := `SELECT ` + eventSelectCols + ` FROM levy_events WHERE at < $1 ORDER BY at ASC`
	rows, err := s.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list levy events before: %w", err)
	}
	defer rows.Close()
	return scanEventRows(rows)
}

// DeleteBefore deletes all observations recorded before the given time. Returns the number deleted.
func (s *LevyEventStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM levy_events WHERE at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete levy events before: %w", err)
	}
	return tag.RowsAffected(), nil
}
