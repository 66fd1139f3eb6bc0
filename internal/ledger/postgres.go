package ledger

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jonathan/outreach-agent/internal/types"
)

const postgresSchema = `CREATE TABLE IF NOT EXISTS outreach_companies (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	status     TEXT NOT NULL,
	record     JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_outreach_companies_status ON outreach_companies(status);`

// PostgresStore wraps a PostgreSQL connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// ConnectPostgres establishes a connection pool and applies the schema.
func ConnectPostgres(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	if databaseURL == "" {
		return nil, &Error{Op: "open", Message: "database url is required for the postgres ledger"}
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, &Error{Op: "open", Message: "failed to connect to database", Cause: err}
	}

	// Verify connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, &Error{Op: "open", Message: "failed to ping database", Cause: err}
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, &Error{Op: "open", Message: "failed to apply schema", Cause: err}
	}
	return &PostgresStore{pool: pool}, nil
}

// LoadAll returns every record ordered by id.
func (s *PostgresStore) LoadAll(ctx context.Context) ([]*types.CompanyRecord, error) {
	rows, err := s.pool.Query(ctx, `SELECT record FROM outreach_companies ORDER BY id`)
	if err != nil {
		return nil, &Error{Op: "load", Message: "failed to query records", Cause: err}
	}
	defer rows.Close()

	var out []*types.CompanyRecord
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, &Error{Op: "load", Message: "failed to scan record", Cause: err}
		}
		rec, err := decodeRecord("", string(raw))
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, &Error{Op: "load", Message: "failed to iterate records", Cause: err}
	}
	return out, nil
}

// Get retrieves a record by id, or nil.
func (s *PostgresStore) Get(ctx context.Context, id string) (*types.CompanyRecord, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT record FROM outreach_companies WHERE id = $1`, id).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, &Error{Op: "get", ID: id, Message: "failed to read record", Cause: err}
	}
	return decodeRecord(id, string(raw))
}

// Upsert inserts or replaces rec.
func (s *PostgresStore) Upsert(ctx context.Context, rec *types.CompanyRecord) error {
	if err := validateRecord(rec); err != nil {
		return err
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return &Error{Op: "upsert", ID: rec.ID, Message: "failed to encode record", Cause: err}
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO outreach_companies (id, name, status, record, updated_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO UPDATE SET name = $2, status = $3, record = $4, updated_at = $5`,
		rec.ID, rec.Name, string(rec.Status), payload, rec.UpdatedAt,
	)
	if err != nil {
		return &Error{Op: "upsert", ID: rec.ID, Message: "failed to write record", Cause: err}
	}
	return nil
}

// Close closes the connection pool.
func (s *PostgresStore) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}
