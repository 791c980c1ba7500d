package cache

import (
	"time"

	"finman/internal/core"
)

// ReportCache keeps per-user reports and rendered charts. Every entry is
// tagged with the ledger revision it was built from and is only served for
// that revision, so an entry stored after a newer mutation is never read.
type ReportCache struct {
	reports *LRUCache[revisioned[core.Report]]
	charts  *LRUCache[revisioned[[]byte]]
}

type revisioned[T any] struct {
	rev  int64
	data T
}

var _ Cleaner = (*ReportCache)(nil)

func NewReportCache(maxUsers int, ttl time.Duration) *ReportCache {
	return &ReportCache{
		reports: NewLRUCache[revisioned[core.Report]](maxUsers, ttl),
		// two chart kinds per user
		charts: NewLRUCache[revisioned[[]byte]](maxUsers*2, ttl),
	}
}

func userKey(user string) string {
	return user + "\x00"
}

// Report returns the user's report when it was built at revision rev.
func (c *ReportCache) Report(user string, rev int64) (core.Report, bool) {
	e, ok := c.reports.Get(userKey(user))
	if !ok || e.rev != rev {
		return core.Report{}, false
	}
	return e.data, true
}

func (c *ReportCache) PutReport(user string, rev int64, r core.Report) {
	if e, ok := c.reports.Get(userKey(user)); ok && e.rev > rev {
		return
	}
	c.reports.Set(userKey(user), revisioned[core.Report]{rev: rev, data: r})
}

// Chart returns a rendered chart when it was built at revision rev.
func (c *ReportCache) Chart(user, kind string, rev int64) ([]byte, bool) {
	e, ok := c.charts.Get(userKey(user) + kind)
	if !ok || e.rev != rev {
		return nil, false
	}
	return e.data, true
}

func (c *ReportCache) PutChart(user, kind string, rev int64, png []byte) {
	if e, ok := c.charts.Get(userKey(user) + kind); ok && e.rev > rev {
		return
	}
	c.charts.Set(userKey(user)+kind, revisioned[[]byte]{rev: rev, data: png})
}

// Invalidate drops everything cached for user.
func (c *ReportCache) Invalidate(user string) {
	c.reports.Delete(userKey(user))
	c.charts.DeletePrefix(userKey(user))
}

func (c *ReportCache) CleanExpired() int {
	return c.reports.CleanExpired() + c.charts.CleanExpired()
}

// Stats returns the report cache counters.
func (c *ReportCache) Stats() Stats {
	return c.reports.Stats()
}
