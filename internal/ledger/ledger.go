// Package ledger provides durable storage for per-company outreach progress.
//
// Three backends share the Store contract: a JSON file (default), SQLite and PostgreSQL.
// Every Upsert replaces one whole record atomically; a failed write leaves the previous
// version intact and is reported as a Fatal error.
package ledger

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/jonathan/outreach-agent/internal/types"
)

// Store is the persisted id -> CompanyRecord mapping.
type Store interface {
	// LoadAll returns every record ordered by id.
	LoadAll(ctx context.Context) ([]*types.CompanyRecord, error)
	// Get returns the record for id, or nil when it does not exist.
	Get(ctx context.Context, id string) (*types.CompanyRecord, error)
	// Upsert inserts or replaces one record atomically.
	Upsert(ctx context.Context, rec *types.CompanyRecord) error
	Close() error
}

// Backend names accepted by Open.
const (
	BackendFile     = "file"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// Config selects and locates a ledger backend.
type Config struct {
	Backend     string `json:"backend" yaml:"backend"`
	Path        string `json:"path,omitempty" yaml:"path,omitempty"`
	DatabaseURL string `json:"database_url,omitempty" yaml:"database_url,omitempty"`
}

// Open connects to the configured backend.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch strings.ToLower(cfg.Backend) {
	case "", BackendFile:
		return OpenFile(cfg.Path)
	case BackendSQLite:
		return OpenSQLite(ctx, cfg.Path)
	case BackendPostgres:
		return ConnectPostgres(ctx, cfg.DatabaseURL)
	default:
		return nil, &Error{Op: "open", Message: fmt.Sprintf("unknown ledger backend %q", cfg.Backend)}
	}
}

// CountByStatus tallies records per status.
func CountByStatus(records []*types.CompanyRecord) map[types.Status]int {
	counts := make(map[types.Status]int, len(types.AllStatuses))
	for _, rec := range records {
		counts[rec.Status]++
	}
	return counts
}

func sortByID(records []*types.CompanyRecord) {
	sort.Slice(records, func(i, j int) bool {
		return records[i].ID < records[j].ID
	})
}
