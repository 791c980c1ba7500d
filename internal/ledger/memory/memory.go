package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"

	"finman/internal/core"
	"finman/internal/ledger"
)

// Store keeps every user's ledger in process memory. Nothing survives a
// restart; it backs tests and demo runs.
type Store struct {
	mu    sync.Mutex
	users map[string][]core.Record
}

// Ensure interface conformance
var (
	_ ledger.Store      = (*Store)(nil)
	_ ledger.UserLister = (*Store)(nil)
)

func New() *Store {
	return &Store{users: map[string][]core.Record{}}
}

// NewFromFile seeds the store from a ledger document. A missing file gives
// an empty store; a malformed one is an error.
func NewFromFile(path string) (*Store, error) {
	s := New()
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read seed %s: %w", path, err)
	}
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: seed %s: %v", core.ErrCorruptStore, path, err)
	}
	for user, raw := range doc {
		records, err := core.DecodeRecords(raw)
		if err != nil {
			return nil, fmt.Errorf("seed user %q: %w", user, err)
		}
		s.users[user] = records
	}
	return s, nil
}

// LoadUser returns a copy of the user's records.
func (s *Store) LoadUser(ctx context.Context, userID string) ([]core.Record, error) {
	if err := core.ValidateUserID(userID); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.Record{}, s.users[userID]...), nil
}

// SaveUser replaces the user's records with a copy of records.
func (s *Store) SaveUser(ctx context.Context, userID string, records []core.Record) error {
	if err := core.ValidateUserID(userID); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[userID] = append([]core.Record{}, records...)
	return nil
}

// Users returns the known users in lexical order.
func (s *Store) Users(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.users))
	for u := range s.users {
		out = append(out, u)
	}
	sort.Strings(out)
	return out, nil
}

func (s *Store) Close() error { return nil }
