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

// TransferStore implements domain.TransferStore using PostgreSQL.
type TransferStore struct {
	pool *pgxpool.Pool
}

// NewTransferStore creates a new TransferStore backed by the given connection pool.
func NewTransferStore(pool *pgxpool.Pool) *TransferStore {
	return &TransferStore{pool: pool}
}

const transferSelectCols = `id, at, kind, from_addr, to_addr,
	gross, net, tax, taxed, in_window`

func scanTransferRows(rows pgx.Rows) ([]domain.TransferRecord, error) {
	var recs []domain.TransferRecord
	for rows.Next() {
		var (
			rec             domain.TransferRecord
			from, to        string
			gross, net, tax string
		)
		if err := rows.Scan(
			&rec.ID, &rec.At, &rec.Kind, &from, &to,
			&gross, &net, &tax, &rec.Taxed, &rec.Window,
		); err != nil {
			return nil, err
		}
		rec.From = common.HexToAddress(from)
		rec.To = common.HexToAddress(to)
		var err error
		if rec.Gross, err = uint256.FromDecimal(gross); err != nil {
			return nil, fmt.Errorf("parse gross %q: %w", gross, err)
		}
		if rec.Net, err = uint256.FromDecimal(net); err != nil {
			return nil, fmt.Errorf("parse net %q: %w", net, err)
		}
		if rec.Tax, err = uint256.FromDecimal(tax); err != nil {
			return nil, fmt.Errorf("parse tax %q: %w", tax, err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// Insert persists one settled transfer record. Amounts are stored as NUMERIC
// so the full 256-bit range survives the round trip.
func (s *TransferStore) Insert(ctx context.Context, rec domain.TransferRecord) error {
	const query = `
		INSERT INTO transfers (
			id, at, kind, from_addr, to_addr,
			gross, net, tax, taxed, in_window
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING`

	_, err := s.pool.Exec(ctx, query,
		rec.ID, rec.At, rec.Kind,
		rec.From.Hex(), rec.To.Hex(),
		rec.Gross.Dec(), rec.Net.Dec(), rec.Tax.Dec(),
		rec.Taxed, rec.Window,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert transfer: %w", err)
	}
	return nil
}

// List returns transfer records with pagination and optional time filtering,
// most recent first.
func (s *TransferStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.TransferRecord, error) {
	query := `SELECT ` + transferSelectCols + ` FROM transfers WHERE TRUE`
	args := []any{}
	query, args = appendTimeFilters(query, args, opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list transfers: %w", err)
	}
	defer rows.Close()

	recs, err := scanTransferRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan transfers: %w", err)
	}
	return recs, nil
}

// ListByHolder returns transfers where the holder appears as sender or
// recipient, with pagination and optional time filtering.
func (s *TransferStore) ListByHolder(ctx context.Context, holder common.Address, opts domain.ListOpts) ([]domain.TransferRecord, error) {
	query := `SELECT ` + transferSelectCols + ` FROM transfers WHERE (from_addr = $1 OR to_addr = $1)`
	args := []any{holder.Hex()}
	query, args = appendTimeFilters(query, args, opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list transfers by holder: %w", err)
	}
	defer rows.Close()

	recs, err := scanTransferRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan transfers by holder: %w", err)
	}
	return recs, nil
}

// ListBefore returns all transfers settled strictly before the given time (for archiving).
func (s *TransferStore) ListBefore(ctx context.Context, before time.Time) ([]domain.TransferRecord, error) {
	query := `SELECT ` + transferSelectCols + ` FROM transfers WHERE at < $1 ORDER BY at ASC`
	rows, err := s.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list transfers before: %w", err)
	}
	defer rows.Close()
	return scanTransferRows(rows)
}

// DeleteBefore deletes all transfers settled before the given time. Returns the number deleted.
func (s *TransferStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM transfers WHERE at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete transfers before: %w", err)
	}
	return tag.RowsAffected(), nil
}

// appendTimeFilters adds Since/Until/Limit/Offset clauses shared by the list
// queries. The base query must already contain a WHERE clause.
func appendTimeFilters(query string, args []any, opts domain.ListOpts) (string, []any) {
	argIdx := len(args) + 1

	if opts.Since != nil {
		query += fmt.Sprintf(" AND at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}
	return query, args
}
