package cache

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"finman/internal/core"
)

type fakeClock struct{ t time.Time }

func (f *fakeClock) now() time.Time { return f.t }

func TestLRUCacheEviction(t *testing.T) {
	c := NewLRUCache[int](2, time.Minute)
	c.Set("a", 1)
	c.Set("b", 2)
	if _, ok := c.Get("a"); !ok {
		t.Fatal("expected a")
	}
	c.Set("c", 3) // evicts b, the least recently used

	if _, ok := c.Get("b"); ok {
		t.Fatal("b should have been evicted")
	}
	if v, ok := c.Get("a"); !ok || v != 1 {
		t.Fatalf("a: got %d, %v", v, ok)
	}
	if c.Size() != 2 {
		t.Fatalf("expected size 2, got %d", c.Size())
	}

	c.Set("a", 10)
	if v, _ := c.Get("a"); v != 10 {
		t.Fatalf("overwrite failed: %d", v)
	}
}

func TestLRUCacheTTL(t *testing.T) {
	clock := &fakeClock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := NewLRUCache[string](10, time.Minute)
	c.now = clock.now

	c.Set("k", "v")
	c.Set("other", "v")
	clock.t = clock.t.Add(2 * time.Minute)

	if _, ok := c.Get("k"); ok {
		t.Fatal("expired entry returned")
	}
	if n := c.CleanExpired(); n != 1 {
		t.Fatalf("expected 1 cleaned, got %d", n)
	}
	if c.Size() != 0 {
		t.Fatalf("expected empty cache, got %d", c.Size())
	}

	stats := c.Stats()
	if stats.Misses != 1 || stats.Hits != 0 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestLRUCacheDeletePrefix(t *testing.T) {
	c := NewLRUCache[int](10, time.Minute)
	c.Set("alice\x00pie", 1)
	c.Set("alice\x00bar", 2)
	c.Set("alicia\x00pie", 3)

	if n := c.DeletePrefix("alice\x00"); n != 2 {
		t.Fatalf("expected 2 deleted, got %d", n)
	}
	if _, ok := c.Get("alicia\x00pie"); !ok {
		t.Fatal("unrelated key removed")
	}
}

func TestReportCacheInvalidate(t *testing.T) {
	c := NewReportCache(4, time.Minute)
	r := core.Report{TotalIncome: decimal.NewFromInt(5)}

	c.PutReport("alice", 1, r)
	c.PutChart("alice", "pie", 1, []byte("png"))
	c.PutReport("bob", 1, r)

	if got, ok := c.Report("alice", 1); !ok || !got.TotalIncome.Equal(r.TotalIncome) {
		t.Fatalf("expected cached report, got %+v %v", got, ok)
	}

	c.Invalidate("alice")

	if _, ok := c.Report("alice", 1); ok {
		t.Fatal("alice's report should be gone")
	}
	if _, ok := c.Chart("alice", "pie", 1); ok {
		t.Fatal("alice's chart should be gone")
	}
	if _, ok := c.Report("bob", 1); !ok {
		t.Fatal("bob's report should survive")
	}
}

func TestReportCacheServesOnlyMatchingRevision(t *testing.T) {
	c := NewReportCache(4, time.Minute)
	stale := core.Report{TotalIncome: decimal.NewFromInt(5)}
	fresh := core.Report{TotalIncome: decimal.NewFromInt(9)}

	// a reader that built at revision 1 stores after the ledger moved to 2
	c.PutReport("alice", 1, stale)
	c.PutChart("alice", "pie", 1, []byte("old"))
	if _, ok := c.Report("alice", 2); ok {
		t.Fatal("report from an older revision served")
	}
	if _, ok := c.Chart("alice", "pie", 2); ok {
		t.Fatal("chart from an older revision served")
	}

	c.PutReport("alice", 2, fresh)
	c.PutReport("alice", 1, stale)
	got, ok := c.Report("alice", 2)
	if !ok || !got.TotalIncome.Equal(fresh.TotalIncome) {
		t.Fatalf("newer entry replaced by older one: %+v %v", got, ok)
	}
}

func TestManagerCleanNow(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	lru := NewLRUCache[int](4, time.Second)
	lru.now = clock.now
	lru.Set("x", 1)
	clock.t = clock.t.Add(time.Hour)

	m := NewManager(nil)
	m.Register(lru)
	if n := m.CleanNow(); n != 1 {
		t.Fatalf("expected 1 cleaned, got %d", n)
	}

	m.StartCleanup(time.Millisecond)
	m.Stop()
	m.Stop()
}
