package jsonfile

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"

	"finman/internal/core"
	"finman/internal/ledger"
)

// Store is the ledger document kept as one JSON file mapping each username
// to its list of records.
type Store struct {
	doc *Document
}

// Ensure interface conformance
var (
	_ ledger.Store      = (*Store)(nil)
	_ ledger.UserLister = (*Store)(nil)
)

// NewStore returns a ledger store on the file at path.
func NewStore(path string) *Store {
	return &Store{doc: NewDocument(path)}
}

// LoadUser implements ledger.Store
func (s *Store) LoadUser(ctx context.Context, userID string) ([]core.Record, error) {
	if err := core.ValidateUserID(userID); err != nil {
		return nil, err
	}
	entries, err := s.doc.Read(ctx)
	if err != nil {
		return nil, err
	}
	raw, ok := entries[userID]
	if !ok {
		return []core.Record{}, nil
	}
	records, err := core.DecodeRecords(raw)
	if err != nil {
		return nil, fmt.Errorf("user %q: %w", userID, err)
	}
	return records, nil
}

// SaveUser implements ledger.Store
func (s *Store) SaveUser(ctx context.Context, userID string, records []core.Record) error {
	if err := core.ValidateUserID(userID); err != nil {
		return err
	}
	data, err := core.EncodeRecords(records)
	if err != nil {
		return fmt.Errorf("%w: encode records: %v", core.ErrPersistFailed, err)
	}
	err = s.doc.Update(ctx, func(entries Entries) error {
		entries[userID] = json.RawMessage(data)
		return nil
	})
	if err != nil {
		return err
	}

	slog.DebugContext(ctx, "Ledger saved to file",
		"user", userID,
		"records", len(records),
		"path", s.doc.Path())
	return nil
}

// Users implements ledger.UserLister
func (s *Store) Users(ctx context.Context) ([]string, error) {
	entries, err := s.doc.Read(ctx)
	if err != nil {
		return nil, err
	}
	users := make([]string, 0, len(entries))
	for u := range entries {
		users = append(users, u)
	}
	sort.Strings(users)
	return users, nil
}

// Close implements ledger.Store. The file is not held open between calls.
func (s *Store) Close() error {
	return nil
}
