package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "modernc.org/sqlite"

	"github.com/jonathan/outreach-agent/internal/types"
)

const sqliteSchema = `CREATE TABLE IF NOT EXISTS companies (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	status     TEXT NOT NULL,
	record     TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_companies_status ON companies(status);`

// SQLiteStore keeps one row per company with the full record as JSON.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at path and applies the schema.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if path == "" {
		path = "outreach_ledger.db"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, &Error{Op: "open", Message: "failed to open sqlite ledger", Cause: err}
	}
	// SQLite serializes writers anyway; one connection avoids SQLITE_BUSY between our own goroutines.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, &Error{Op: "open", Message: "failed to ping sqlite ledger", Cause: err}
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, &Error{Op: "open", Message: "failed to apply schema", Cause: err}
	}
	return &SQLiteStore{db: db}, nil
}

// LoadAll returns every record ordered by id.
func (s *SQLiteStore) LoadAll(ctx context.Context) ([]*types.CompanyRecord, error) {
	query, args, err := sq.Select("record").From("companies").OrderBy("id").ToSql()
	if err != nil {
		return nil, &Error{Op: "load", Message: "failed to build query", Cause: err}
	}
	return s.queryRecords(ctx, query, args...)
}

// ListByStatus returns the records in any of the given statuses, ordered by id.
func (s *SQLiteStore) ListByStatus(ctx context.Context, statuses ...types.Status) ([]*types.CompanyRecord, error) {
	values := make([]string, len(statuses))
	for i, status := range statuses {
		values[i] = string(status)
	}
	query, args, err := sq.Select("record").From("companies").
		Where(sq.Eq{"status": values}).
		OrderBy("id").
		ToSql()
	if err != nil {
		return nil, &Error{Op: "load", Message: "failed to build query", Cause: err}
	}
	return s.queryRecords(ctx, query, args...)
}

// Get returns the record for id, or nil.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*types.CompanyRecord, error) {
	query, args, err := sq.Select("record").From("companies").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, &Error{Op: "get", ID: id, Message: "failed to build query", Cause: err}
	}

	var raw string
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, &Error{Op: "get", ID: id, Message: "failed to read record", Cause: err}
	}
	return decodeRecord(id, raw)
}

// Upsert inserts or replaces rec in a single statement.
func (s *SQLiteStore) Upsert(ctx context.Context, rec *types.CompanyRecord) error {
	if err := validateRecord(rec); err != nil {
		return err
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return &Error{Op: "upsert", ID: rec.ID, Message: "failed to encode record", Cause: err}
	}

	query, args, err := sq.Insert("companies").
		Columns("id", "name", "status", "record", "updated_at").
		Values(rec.ID, rec.Name, string(rec.Status), string(payload), rec.UpdatedAt.UTC().Format(time.RFC3339Nano)).
		Suffix(`ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			status = excluded.status,
			record = excluded.record,
			updated_at = excluded.updated_at`).
		ToSql()
	if err != nil {
		return &Error{Op: "upsert", ID: rec.ID, Message: "failed to build query", Cause: err}
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return &Error{Op: "upsert", ID: rec.ID, Message: "failed to write record", Cause: err}
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) queryRecords(ctx context.Context, query string, args ...any) ([]*types.CompanyRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &Error{Op: "load", Message: "failed to query records", Cause: err}
	}
	defer rows.Close()

	var out []*types.CompanyRecord
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, &Error{Op: "load", Message: "failed to scan record", Cause: err}
		}
		rec, err := decodeRecord("", raw)
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

func decodeRecord(id, raw string) (*types.CompanyRecord, error) {
	var rec types.CompanyRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, &Error{Op: "decode", ID: id, Message: "corrupt record", Cause: err}
	}
	return &rec, nil
}
