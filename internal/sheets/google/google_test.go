package google

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"finman/internal/core"
	"finman/internal/log"
)

// fakeSheets is a minimal stand-in for the Sheets REST API.
type fakeSheets struct {
	mu      sync.Mutex
	titles  []string
	added   []string
	cleared []string
	updates map[string]*gsheet.ValueRange
	fail    bool
}

func (f *fakeSheets) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.fail {
		http.Error(w, `{"error":{"code":500,"message":"backend error"}}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	path := r.URL.Path
	switch {
	case r.Method == http.MethodGet && strings.HasSuffix(path, "/spreadsheets/sid"):
		ss := gsheet.Spreadsheet{SpreadsheetId: "sid"}
		for _, title := range f.titles {
			ss.Sheets = append(ss.Sheets, &gsheet.Sheet{Properties: &gsheet.SheetProperties{Title: title}})
		}
		json.NewEncoder(w).Encode(ss)

	case r.Method == http.MethodPost && strings.HasSuffix(path, ":batchUpdate"):
		var req gsheet.BatchUpdateSpreadsheetRequest
		json.NewDecoder(r.Body).Decode(&req)
		for _, rq := range req.Requests {
			if rq.AddSheet != nil {
				f.added = append(f.added, rq.AddSheet.Properties.Title)
				f.titles = append(f.titles, rq.AddSheet.Properties.Title)
			}
		}
		json.NewEncoder(w).Encode(gsheet.BatchUpdateSpreadsheetResponse{SpreadsheetId: "sid"})

	case r.Method == http.MethodPost && strings.HasSuffix(path, ":clear"):
		rng := path[strings.Index(path, "/values/")+len("/values/") : len(path)-len(":clear")]
		f.cleared = append(f.cleared, rng)
		json.NewEncoder(w).Encode(gsheet.ClearValuesResponse{SpreadsheetId: "sid", ClearedRange: rng})

	case r.Method == http.MethodPut && strings.Contains(path, "/values/"):
		rng := path[strings.Index(path, "/values/")+len("/values/"):]
		var vr gsheet.ValueRange
		json.NewDecoder(r.Body).Decode(&vr)
		if r.URL.Query().Get("valueInputOption") != "RAW" {
			http.Error(w, `{"error":{"code":400,"message":"bad input option"}}`, http.StatusBadRequest)
			return
		}
		f.updates[rng] = &vr
		json.NewEncoder(w).Encode(gsheet.UpdateValuesResponse{SpreadsheetId: "sid", UpdatedRows: int64(len(vr.Values))})

	default:
		http.NotFound(w, r)
	}
}

func newFakeClient(t *testing.T, fake *fakeSheets) *Client {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	svc, err := gsheet.NewService(context.Background(),
		goption.WithEndpoint(srv.URL+"/"),
		goption.WithHTTPClient(srv.Client()),
		goption.WithoutAuthentication())
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return New(svc, "sid", "Ledger").WithLogger(log.Nop())
}

func sampleLedger() ([]core.Record, core.Report) {
	ts := time.Date(2025, 1, 10, 9, 0, 0, 0, time.UTC)
	records := []core.Record{
		{Description: "pay", Amount: decimal.NewFromInt(100), Category: "job", Timestamp: ts},
		{Description: "lunch", Amount: decimal.NewFromInt(-15), Category: "food", Timestamp: ts},
	}
	report := core.Report{
		TotalIncome:   decimal.NewFromInt(100),
		TotalExpense:  decimal.NewFromInt(15),
		CategorySpend: []core.CategorySpend{{Category: "food", Total: decimal.NewFromInt(15)}},
		MonthlyTrend:  []core.MonthlyNet{{Month: core.MonthOf(ts), Net: decimal.NewFromInt(85)}},
	}
	return records, report
}

func TestExportLedgerCreatesSheetAndWritesRows(t *testing.T) {
	fake := &fakeSheets{titles: []string{"Sheet1"}, updates: map[string]*gsheet.ValueRange{}}
	c := newFakeClient(t, fake)
	records, report := sampleLedger()

	if err := c.ExportLedger(context.Background(), "alice", records, report); err != nil {
		t.Fatalf("export: %v", err)
	}
	if err := c.ExportLedger(context.Background(), "alice", records, report); err != nil {
		t.Fatalf("second export: %v", err)
	}

	if len(fake.added) != 1 || fake.added[0] != "Ledger alice" {
		t.Fatalf("expected one sheet to be created, got %v", fake.added)
	}
	if len(fake.cleared) != 2 || fake.cleared[0] != "'Ledger alice'!A:Z" {
		t.Fatalf("unexpected clears %v", fake.cleared)
	}
	vr, ok := fake.updates["'Ledger alice'!A1"]
	if !ok {
		t.Fatalf("no rows written, updates: %v", fake.updates)
	}
	if len(vr.Values) < 3 || vr.Values[1][2] != "pay" || vr.Values[2][4] != -15.0 {
		t.Fatalf("unexpected rows %v", vr.Values)
	}
}

func TestExportLedgerAPIError(t *testing.T) {
	fake := &fakeSheets{fail: true, updates: map[string]*gsheet.ValueRange{}}
	c := newFakeClient(t, fake)
	records, report := sampleLedger()

	err := c.ExportLedger(context.Background(), "alice", records, report)
	if err == nil || !strings.Contains(err.Error(), "get spreadsheet") {
		t.Fatalf("expected spreadsheet error, got %v", err)
	}
}

func TestSheetTitleAndQuoting(t *testing.T) {
	c := &Client{sheetPrefix: "Ledger"}
	if got := c.SheetTitle("bob"); got != "Ledger bob" {
		t.Fatalf("unexpected title %q", got)
	}
	long := strings.Repeat("x", 200)
	if got := c.SheetTitle(long); len([]rune(got)) != maxSheetTitle {
		t.Fatalf("title not truncated: %d", len(got))
	}
	if got := quoteRange("O'Brien", "A1"); got != "'O''Brien'!A1" {
		t.Fatalf("unexpected quoting %q", got)
	}
}

func TestNewFromConfigValidation(t *testing.T) {
	ctx := context.Background()
	if _, err := NewFromConfig(ctx, Config{}); err == nil || !strings.Contains(err.Error(), "spreadsheet ID") {
		t.Fatalf("expected missing ID error, got %v", err)
	}
	if _, err := NewFromConfig(ctx, Config{SpreadsheetID: "sid"}); err == nil || !strings.Contains(err.Error(), "credentials") {
		t.Fatalf("expected missing credentials error, got %v", err)
	}
	_, err := NewFromConfig(ctx, Config{SpreadsheetID: "sid", ServiceAccountFile: "/nonexistent/sa.json"})
	if err == nil || !strings.Contains(err.Error(), "read service account file") {
		t.Fatalf("expected file error, got %v", err)
	}
}

func TestExportLedgerWithoutService(t *testing.T) {
	c := &Client{}
	if err := c.ExportLedger(context.Background(), "alice", nil, core.Report{}); err == nil {
		t.Fatal("expected error without service")
	}
}
