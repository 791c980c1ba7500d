package services

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"finman/internal/core"
	"finman/internal/ledger/jsonfile"
	"finman/internal/ledger/memory"
	"finman/internal/log"
)

var fixedNow = time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)

func fixedClock() time.Time { return fixedNow }

// failingStore wraps a memory store and fails saves on demand.
type failingStore struct {
	*memory.Store
	failSave bool
	saves    int
}

func (f *failingStore) SaveUser(ctx context.Context, userID string, records []core.Record) error {
	f.saves++
	if f.failSave {
		return errors.New("disk full")
	}
	return f.Store.SaveUser(ctx, userID, records)
}

type recordingNotifier struct {
	mu      sync.Mutex
	changes []core.LedgerChange
	err     error
}

func (n *recordingNotifier) LedgerChanged(_ context.Context, c core.LedgerChange) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.changes = append(n.changes, c)
	return n.err
}

func openStore(t *testing.T, opts ...Option) (*RecordStore, *failingStore) {
	t.Helper()
	backing := &failingStore{Store: memory.New()}
	opts = append([]Option{WithClock(fixedClock), WithLogger(log.Nop())}, opts...)
	s, err := OpenRecordStore(context.Background(), backing, "alice", opts...)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	return s, backing
}

func rec(desc string, amount int64, category string) core.Record {
	return core.Record{Description: desc, Amount: decimal.NewFromInt(amount), Category: category}
}

func TestOpenRecordStoreRejectsEmptyUser(t *testing.T) {
	_, err := OpenRecordStore(context.Background(), memory.New(), "  ", WithLogger(log.Nop()))
	if !errors.Is(err, core.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestAddAppendsInOrder(t *testing.T) {
	s, backing := openStore(t)
	ctx := context.Background()

	for _, r := range []core.Record{rec("salary", 100, "job"), rec("lunch", -12, "food"), rec("bus", -3, "travel")} {
		if _, err := s.Add(ctx, r); err != nil {
			t.Fatalf("add %s: %v", r.Description, err)
		}
	}

	got := s.List()
	want := []string{"salary", "lunch", "bus"}
	if len(got) != len(want) {
		t.Fatalf("expected %d records, got %d", len(want), len(got))
	}
	for i, d := range want {
		if got[i].Description != d {
			t.Fatalf("record %d: expected %q, got %q", i, d, got[i].Description)
		}
		if !got[i].Timestamp.Equal(fixedNow) {
			t.Fatalf("record %d: expected clock timestamp, got %v", i, got[i].Timestamp)
		}
	}

	persisted, _ := backing.LoadUser(ctx, "alice")
	if len(persisted) != 3 || persisted[2].Description != "bus" {
		t.Fatalf("ledger not persisted: %+v", persisted)
	}
	if s.Revision() != 3 {
		t.Fatalf("expected revision 3, got %d", s.Revision())
	}
}

func TestAddKeepsExplicitTimestamp(t *testing.T) {
	s, _ := openStore(t)
	ts := time.Date(2020, 1, 2, 3, 4, 5, 6, time.UTC)
	r := rec("old", -1, "misc")
	r.Timestamp = ts
	stored, err := s.Add(context.Background(), r)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if !stored.Timestamp.Equal(ts) {
		t.Fatalf("timestamp overwritten: %v", stored.Timestamp)
	}
}

func TestAddZeroAmountIsLegal(t *testing.T) {
	s, _ := openStore(t)
	if _, err := s.Add(context.Background(), rec("nothing", 0, "misc")); err != nil {
		t.Fatalf("zero amount should be accepted: %v", err)
	}
}

func TestOversizedAmountIsRejectedBeforePersist(t *testing.T) {
	s, backing := openStore(t)
	ctx := context.Background()
	huge := decimal.New(1, 50000000)

	if _, err := s.Add(ctx, core.Record{Description: "x", Amount: huge}); !errors.Is(err, core.ErrValidation) {
		t.Fatalf("expected validation error on add, got %v", err)
	}
	if _, err := s.Add(ctx, rec("salary", 100, "job")); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := s.Update(ctx, 0, core.RecordPatch{Amount: &huge}); !errors.Is(err, core.ErrValidation) {
		t.Fatalf("expected validation error on update, got %v", err)
	}
	if backing.saves != 1 || s.Revision() != 1 {
		t.Fatalf("rejected amounts must not persist: saves=%d revision=%d", backing.saves, s.Revision())
	}
	if got := s.List()[0].Amount; !got.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("record changed: %s", got)
	}
}

func TestDeletePreservesOrder(t *testing.T) {
	s, _ := openStore(t)
	ctx := context.Background()
	for _, d := range []string{"a", "b", "c", "d"} {
		if _, err := s.Add(ctx, rec(d, -1, "x")); err != nil {
			t.Fatalf("add: %v", err)
		}
	}

	removed, err := s.Delete(ctx, 1)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if removed.Description != "b" {
		t.Fatalf("removed wrong record: %q", removed.Description)
	}
	got := s.List()
	if len(got) != 3 || got[0].Description != "a" || got[1].Description != "c" || got[2].Description != "d" {
		t.Fatalf("unexpected remaining records: %+v", got)
	}
}

func TestDeleteAndUpdateErrors(t *testing.T) {
	s, backing := openStore(t)
	ctx := context.Background()

	if _, err := s.Delete(ctx, 0); !errors.Is(err, core.ErrEmptyResult) {
		t.Fatalf("delete on empty ledger: expected ErrEmptyResult, got %v", err)
	}
	if _, err := s.Update(ctx, 0, core.RecordPatch{}); !errors.Is(err, core.ErrEmptyResult) {
		t.Fatalf("update on empty ledger: expected ErrEmptyResult, got %v", err)
	}

	if _, err := s.Add(ctx, rec("a", 1, "x")); err != nil {
		t.Fatalf("add: %v", err)
	}
	saves := backing.saves

	tests := []int{-1, 1, 42}
	for _, idx := range tests {
		if _, err := s.Delete(ctx, idx); !errors.Is(err, core.ErrOutOfRange) {
			t.Fatalf("delete(%d): expected ErrOutOfRange, got %v", idx, err)
		}
		if _, err := s.Update(ctx, idx, core.RecordPatch{}); !errors.Is(err, core.ErrOutOfRange) {
			t.Fatalf("update(%d): expected ErrOutOfRange, got %v", idx, err)
		}
	}
	if backing.saves != saves {
		t.Fatalf("rejected mutations must not persist")
	}
	if s.Len() != 1 {
		t.Fatalf("ledger changed by rejected mutations")
	}
}

func TestUpdateWithEmptyPatchLeavesRecord(t *testing.T) {
	s, _ := openStore(t)
	ctx := context.Background()
	orig, err := s.Add(ctx, rec("rent", -500, "home"))
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	empty := ""
	updated, err := s.Update(ctx, 0, core.RecordPatch{Description: &empty, Category: &empty})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !updated.Equal(orig) || !s.List()[0].Equal(orig) {
		t.Fatalf("expected unchanged record, got %+v", updated)
	}
}

func TestUpdateAppliesFields(t *testing.T) {
	s, backing := openStore(t)
	ctx := context.Background()
	if _, err := s.Add(ctx, rec("rent", -500, "home")); err != nil {
		t.Fatalf("add: %v", err)
	}

	cat := "housing"
	amt := decimal.RequireFromString("-512.25")
	updated, err := s.Update(ctx, 0, core.RecordPatch{Category: &cat, Amount: &amt})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Description != "rent" || updated.Category != "housing" || !updated.Amount.Equal(amt) {
		t.Fatalf("unexpected update result: %+v", updated)
	}
	if !updated.Timestamp.Equal(fixedNow) {
		t.Fatalf("timestamp should be kept: %v", updated.Timestamp)
	}
	persisted, _ := backing.LoadUser(ctx, "alice")
	if !persisted[0].Equal(updated) {
		t.Fatalf("update not persisted: %+v", persisted[0])
	}
}

func TestPersistFailureKeepsMemoryState(t *testing.T) {
	s, backing := openStore(t)
	ctx := context.Background()
	if _, err := s.Add(ctx, rec("keep", 10, "job")); err != nil {
		t.Fatalf("add: %v", err)
	}
	backing.failSave = true

	if _, err := s.Add(ctx, rec("lost", -1, "x")); !errors.Is(err, core.ErrPersistFailed) {
		t.Fatalf("add: expected ErrPersistFailed, got %v", err)
	}
	if _, err := s.Delete(ctx, 0); !errors.Is(err, core.ErrPersistFailed) {
		t.Fatalf("delete: expected ErrPersistFailed, got %v", err)
	}
	desc := "changed"
	if _, err := s.Update(ctx, 0, core.RecordPatch{Description: &desc}); !errors.Is(err, core.ErrPersistFailed) {
		t.Fatalf("update: expected ErrPersistFailed, got %v", err)
	}

	got := s.List()
	if len(got) != 1 || got[0].Description != "keep" {
		t.Fatalf("memory diverged from disk: %+v", got)
	}
	if s.Revision() != 1 {
		t.Fatalf("revision advanced on failure: %d", s.Revision())
	}
}

func TestListReturnsCopy(t *testing.T) {
	s, _ := openStore(t)
	if _, err := s.Add(context.Background(), rec("a", 1, "x")); err != nil {
		t.Fatalf("add: %v", err)
	}
	l := s.List()
	l[0].Description = "mutated"
	if s.List()[0].Description != "a" {
		t.Fatalf("List should return a copy")
	}
}

func TestNotifierReceivesChanges(t *testing.T) {
	n := &recordingNotifier{err: errors.New("broker down")}
	s, _ := openStore(t, WithNotifier(n))
	ctx := context.Background()

	if _, err := s.Add(ctx, rec("a", 1, "x")); err != nil {
		t.Fatalf("notifier failure must not fail the mutation: %v", err)
	}
	if _, err := s.Delete(ctx, 0); err != nil {
		t.Fatalf("delete: %v", err)
	}

	if len(n.changes) != 2 {
		t.Fatalf("expected 2 notifications, got %d", len(n.changes))
	}
	first, second := n.changes[0], n.changes[1]
	if first.Operation != core.OperationAdd || first.Revision != 1 || first.Records != 1 || first.User != "alice" {
		t.Fatalf("unexpected add change: %+v", first)
	}
	if second.Operation != core.OperationDelete || second.Revision != 2 || second.Records != 0 {
		t.Fatalf("unexpected delete change: %+v", second)
	}
}

func TestReloadAndReport(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "finances.json")
	backing := jsonfile.NewStore(path)

	s, err := OpenRecordStore(ctx, backing, "alice", WithClock(fixedClock), WithLogger(log.Nop()))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := s.Report(); !errors.Is(err, core.ErrEmptyResult) {
		t.Fatalf("expected ErrEmptyResult for empty ledger, got %v", err)
	}
	if _, err := s.Add(ctx, rec("pay", 100, "job")); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := s.Add(ctx, rec("food", -40, "food")); err != nil {
		t.Fatalf("add: %v", err)
	}

	reopened, err := OpenRecordStore(ctx, jsonfile.NewStore(path), "alice", WithLogger(log.Nop()))
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if reopened.Len() != 2 {
		t.Fatalf("expected 2 records after reopen, got %d", reopened.Len())
	}
	report, err := reopened.Report()
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if !report.TotalIncome.Equal(decimal.NewFromInt(100)) || !report.TotalExpense.Equal(decimal.NewFromInt(40)) {
		t.Fatalf("unexpected totals: %+v", report)
	}

	other, err := OpenRecordStore(ctx, backing, "bob", WithLogger(log.Nop()))
	if err != nil {
		t.Fatalf("open bob: %v", err)
	}
	if _, err := other.Add(ctx, rec("gift", 5, "misc")); err != nil {
		t.Fatalf("add bob: %v", err)
	}
	if err := s.Reload(ctx); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if s.Len() != 2 {
		t.Fatalf("bob's save changed alice's ledger: %d records", s.Len())
	}
}
