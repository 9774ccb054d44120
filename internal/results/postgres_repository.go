package results

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRepository is a PostgreSQL implementation of Repository.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgreSQL result store.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// Save stores a result, replacing any result with the same id.
func (r *PostgresRepository) Save(ctx context.Context, res Result) error {
	if err := res.validate(); err != nil {
		return err
	}
	query := `
		INSERT INTO optimization_results (id, kind, status, error, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			error = EXCLUDED.error,
			payload = EXCLUDED.payload
	`
	_, err := r.pool.Exec(ctx, query,
		res.ID, string(res.Kind), string(res.Status), res.Error, []byte(res.Payload), res.CreatedAt)
	if err != nil {
		return fmt.Errorf("upsert result: %w", err)
	}
	return nil
}

const selectResult = `SELECT id, kind, status, error, payload, created_at FROM optimization_results`

// Get retrieves a result by id.
func (r *PostgresRepository) Get(ctx context.Context, id string) (*Result, error) {
	return scanOne(r.pool.QueryRow(ctx, selectResult+` WHERE id = $1`, id))
}

// Latest retrieves the most recent result of a kind.
func (r *PostgresRepository) Latest(ctx context.Context, kind Kind) (*Result, error) {
	return scanOne(r.pool.QueryRow(ctx,
		selectResult+` WHERE kind = $1 ORDER BY created_at DESC, id DESC LIMIT 1`, string(kind)))
}

// List returns up to limit results of a kind, newest first.
func (r *PostgresRepository) List(ctx context.Context, kind Kind, limit int) ([]Result, error) {
	query := selectResult + ` WHERE kind = $1 ORDER BY created_at DESC, id DESC`
	args := []any{string(kind)}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Result
	for rows.Next() {
		res, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *res)
	}
	return out, rows.Err()
}

func scan(row pgx.Row) (*Result, error) {
	var (
		res          Result
		kind, status string
		payload      []byte
	)
	if err := row.Scan(&res.ID, &kind, &status, &res.Error, &payload, &res.CreatedAt); err != nil {
		return nil, err
	}
	res.Kind, res.Status, res.Payload = Kind(kind), Status(status), payload
	return &res, nil
}

func scanOne(row pgx.Row) (*Result, error) {
	res, err := scan(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return res, err
}

var _ Repository = (*PostgresRepository)(nil)
