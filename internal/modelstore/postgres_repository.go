package modelstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRepository is a PostgreSQL implementation of Repository.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgreSQL model store.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// Save stores a new version.
func (r *PostgresRepository) Save(ctx context.Context, rec Record) error {
	if err := rec.validate(); err != nil {
		return err
	}
	query := `
		INSERT INTO model_artifacts (name, version, payload, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := r.pool.Exec(ctx, query, rec.Name, rec.Version, rec.Payload, rec.Metadata, rec.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrVersionExists
		}
		return fmt.Errorf("insert model artifact: %w", err)
	}
	return nil
}

// Load retrieves a version, or the latest one when version is empty.
func (r *PostgresRepository) Load(ctx context.Context, name, version string) (*Record, error) {
	var row pgx.Row
	if version == "" {
		row = r.pool.QueryRow(ctx, `
			SELECT name, version, payload, metadata, created_at
			FROM model_artifacts
			WHERE name = $1
			ORDER BY created_at DESC
			LIMIT 1
		`, name)
	} else {
		row = r.pool.QueryRow(ctx, `
			SELECT name, version, payload, metadata, created_at
			FROM model_artifacts
			WHERE name = $1 AND version = $2
		`, name, version)
	}

	var rec Record
	if err := row.Scan(&rec.Name, &rec.Version, &rec.Payload, &rec.Metadata, &rec.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &rec, nil
}

// Versions lists stored versions newest first.
func (r *PostgresRepository) Versions(ctx context.Context, name string) ([]VersionInfo, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT name, version, metadata, octet_length(payload), created_at
		FROM model_artifacts
		WHERE name = $1
		ORDER BY created_at DESC
	`, name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []VersionInfo
	for rows.Next() {
		var v VersionInfo
		if err := rows.Scan(&v.Name, &v.Version, &v.Metadata, &v.Size, &v.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

var _ Repository = (*PostgresRepository)(nil)
