package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"finman/internal/core"
	"finman/internal/ledger"
	"finman/internal/log"
)

// ChangeNotifier is told about every mutation after it has been persisted.
type ChangeNotifier interface {
	LedgerChanged(ctx context.Context, change core.LedgerChange) error
}

// RecordStore holds one user's ledger in memory and writes the whole list
// through the persistence adapter on every mutation. Mutations are applied
// to a copy and only committed once the adapter accepted it, so a failed
// write leaves the in-memory ledger as it was.
type RecordStore struct {
	store ledger.Store
	user  string

	mu      sync.Mutex
	records []core.Record
	rev     int64

	now      func() time.Time
	notifier ChangeNotifier
	logger   *log.Logger
}

// Option configures a RecordStore.
type Option func(*RecordStore)

// WithClock sets the clock used to stamp records added without a timestamp.
func WithClock(now func() time.Time) Option {
	return func(s *RecordStore) { s.now = now }
}

// WithNotifier registers a change notifier.
func WithNotifier(n ChangeNotifier) Option {
	return func(s *RecordStore) { s.notifier = n }
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(s *RecordStore) { s.logger = l }
}

// OpenRecordStore loads userID's records from store.
func OpenRecordStore(ctx context.Context, store ledger.Store, userID string, opts ...Option) (*RecordStore, error) {
	if err := core.ValidateUserID(userID); err != nil {
		return nil, err
	}
	s := &RecordStore{
		store: store,
		user:  userID,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = log.FromContext(ctx).WithComponent(log.ComponentLedger)
	}

	if err := s.Reload(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// User returns the owner of the ledger.
func (s *RecordStore) User() string {
	return s.user
}

// Reload replaces the in-memory records with what the adapter holds.
func (s *RecordStore) Reload(ctx context.Context) error {
	records, err := s.store.LoadUser(ctx, s.user)
	if err != nil {
		return fmt.Errorf("load ledger for %q: %w", s.user, err)
	}
	s.mu.Lock()
	s.records = records
	s.mu.Unlock()

	s.logger.DebugContext(ctx, "Ledger loaded",
		log.FieldUser, s.user,
		log.FieldRecords, len(records))
	return nil
}

// Add appends r and persists the ledger. A zero timestamp is replaced by
// the store clock. The stored record is returned.
func (s *RecordStore) Add(ctx context.Context, r core.Record) (core.Record, error) {
	if err := core.CheckAmount(r.Amount, core.StoredFractionDigits); err != nil {
		return core.Record{}, err
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = s.now()
	}

	s.mu.Lock()
	next := make([]core.Record, len(s.records), len(s.records)+1)
	copy(next, s.records)
	next = append(next, r)
	change, err := s.commit(ctx, core.OperationAdd, len(next)-1, next)
	s.mu.Unlock()
	if err != nil {
		return core.Record{}, err
	}

	s.notify(ctx, change)
	return r, nil
}

// Delete removes the record at index and persists the ledger. It returns
// core.ErrEmptyResult when there is nothing to delete.
func (s *RecordStore) Delete(ctx context.Context, index int) (core.Record, error) {
	s.mu.Lock()
	if err := core.CheckIndex(index, len(s.records)); err != nil {
		s.mu.Unlock()
		return core.Record{}, err
	}
	removed := s.records[index]
	next := make([]core.Record, 0, len(s.records)-1)
	next = append(next, s.records[:index]...)
	next = append(next, s.records[index+1:]...)
	change, err := s.commit(ctx, core.OperationDelete, index, next)
	s.mu.Unlock()
	if err != nil {
		return core.Record{}, err
	}

	s.notify(ctx, change)
	return removed, nil
}

// Update applies patch to the record at index and persists the ledger.
func (s *RecordStore) Update(ctx context.Context, index int, patch core.RecordPatch) (core.Record, error) {
	s.mu.Lock()
	if err := core.CheckIndex(index, len(s.records)); err != nil {
		s.mu.Unlock()
		return core.Record{}, err
	}
	next := make([]core.Record, len(s.records))
	copy(next, s.records)
	next[index] = patch.Apply(next[index])
	updated := next[index]
	if err := core.CheckAmount(updated.Amount, core.StoredFractionDigits); err != nil {
		s.mu.Unlock()
		return core.Record{}, err
	}
	change, err := s.commit(ctx, core.OperationUpdate, index, next)
	s.mu.Unlock()
	if err != nil {
		return core.Record{}, err
	}

	s.notify(ctx, change)
	return updated, nil
}

// List returns a copy of the records in insertion order.
func (s *RecordStore) List() []core.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.Record{}, s.records...)
}

// Len returns the number of records.
func (s *RecordStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Revision counts the mutations committed since the store was opened.
func (s *RecordStore) Revision() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rev
}

// Report aggregates the in-memory records.
func (s *RecordStore) Report() (core.Report, error) {
	return BuildReport(s.List())
}

// ReportWithRevision aggregates the in-memory records and returns the
// revision they were read at.
func (s *RecordStore) ReportWithRevision() (core.Report, int64, error) {
	s.mu.Lock()
	records := append([]core.Record{}, s.records...)
	rev := s.rev
	s.mu.Unlock()

	report, err := BuildReport(records)
	return report, rev, err
}

// commit must be called with s.mu held.
func (s *RecordStore) commit(ctx context.Context, op string, index int, next []core.Record) (core.LedgerChange, error) {
	if err := s.store.SaveUser(ctx, s.user, next); err != nil {
		s.logger.LogError(ctx, "Failed to persist ledger", err, op,
			log.NewFields().WithUser(s.user).WithIndex(index))
		if !errors.Is(err, core.ErrPersistFailed) && !errors.Is(err, core.ErrCorruptStore) {
			err = fmt.Errorf("%w: %v", core.ErrPersistFailed, err)
		}
		return core.LedgerChange{}, err
	}
	s.records = next
	s.rev++

	s.logger.InfoContext(ctx, "Ledger updated",
		log.FieldOperation, op,
		log.FieldUser, s.user,
		log.FieldIndex, index,
		log.FieldRecords, len(next),
		log.FieldRevision, s.rev)

	return core.LedgerChange{
		User:      s.user,
		Operation: op,
		Index:     index,
		Records:   len(next),
		Revision:  s.rev,
		Timestamp: s.now(),
	}, nil
}

func (s *RecordStore) notify(ctx context.Context, change core.LedgerChange) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.LedgerChanged(ctx, change); err != nil {
		s.logger.WarnContext(ctx, "Failed to publish ledger change",
			log.FieldUser, change.User,
			log.FieldOperation, change.Operation,
			log.FieldError, err)
	}
}
