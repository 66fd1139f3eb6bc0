package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jonathan/outreach-agent/internal/types"
)

// DefaultFilePath is where the file ledger lives when no path is configured.
const DefaultFilePath = "outreach_ledger.json"

const fileFormatVersion = 1

// fileDocument is the on-disk layout of the file ledger.
type fileDocument struct {
	Version   int                    `json:"version"`
	UpdatedAt time.Time              `json:"updated_at"`
	Companies []*types.CompanyRecord `json:"companies"`
}

// FileStore keeps the ledger in a single JSON document that is rewritten through
// a temp file and rename on every upsert.
type FileStore struct {
	path    string
	mu      sync.Mutex
	records map[string]*types.CompanyRecord
}

// OpenFile loads the ledger at path, creating an empty one if the file does not exist.
func OpenFile(path string) (*FileStore, error) {
	if path == "" {
		path = DefaultFilePath
	}
	s := &FileStore{
		path:    path,
		records: make(map[string]*types.CompanyRecord),
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, &Error{Op: "open", Message: "failed to read " + path, Cause: err}
	}
	if len(data) == 0 {
		return s, nil
	}

	var doc fileDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, &Error{Op: "open", Message: "failed to parse " + path, Cause: err}
	}
	if doc.Version > fileFormatVersion {
		return nil, &Error{Op: "open", Message: fmt.Sprintf("unsupported ledger version %d", doc.Version)}
	}
	for _, rec := range doc.Companies {
		if rec == nil || rec.ID == "" {
			continue
		}
		s.records[rec.ID] = rec
	}
	return s, nil
}

// Path returns the ledger file location.
func (s *FileStore) Path() string {
	return s.path
}

// LoadAll returns copies of every record ordered by id.
func (s *FileStore) LoadAll(ctx context.Context) ([]*types.CompanyRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*types.CompanyRecord, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec.Clone())
	}
	sortByID(out)
	return out, nil
}

// Get returns a copy of the record for id, or nil.
func (s *FileStore) Get(ctx context.Context, id string) (*types.CompanyRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records[id].Clone(), nil
}

// Upsert stores rec and flushes the whole document. On a failed flush the in-memory
// state is rolled back so memory and disk never disagree.
func (s *FileStore) Upsert(ctx context.Context, rec *types.CompanyRecord) error {
	if err := validateRecord(rec); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return &Error{Op: "upsert", ID: rec.ID, Message: "cancelled", Cause: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	previous, existed := s.records[rec.ID]
	s.records[rec.ID] = rec.Clone()

	if err := s.flush(); err != nil {
		if existed {
			s.records[rec.ID] = previous
		} else {
			delete(s.records, rec.ID)
		}
		return &Error{Op: "upsert", ID: rec.ID, Message: "failed to write ledger", Cause: err}
	}
	return nil
}

// Close is a no-op; every upsert is already durable.
func (s *FileStore) Close() error {
	return nil
}

// flush writes the document to a temp file in the same directory and renames it into place.
// Callers must hold s.mu.
func (s *FileStore) flush() error {
	doc := fileDocument{
		Version:   fileFormatVersion,
		UpdatedAt: time.Now().UTC(),
		Companies: make([]*types.CompanyRecord, 0, len(s.records)),
	}
	for _, rec := range s.records {
		doc.Companies = append(doc.Companies, rec)
	}
	sortByID(doc.Companies)

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create ledger directory: %w", err)
	}

	tempFile, err := os.CreateTemp(dir, ".ledger-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp ledger file: %w", err)
	}
	tempPath := tempFile.Name()

	encoder := json.NewEncoder(tempFile)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(doc); err != nil {
		tempFile.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to encode ledger: %w", err)
	}
	if err := tempFile.Sync(); err != nil {
		tempFile.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to sync ledger: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to close temp ledger file: %w", err)
	}
	if err := os.Rename(tempPath, s.path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename ledger file: %w", err)
	}
	return nil
}
