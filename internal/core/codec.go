package core

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// legacyDateLayouts are the naive ISO-8601 forms written by older ledger
// files; they carry no zone and are read in local time.
var legacyDateLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// recordJSON is the persisted shape of a Record.
type recordJSON struct {
	Description string      `json:"description"`
	Amount      json.Number `json:"amount"`
	Category    string      `json:"category"`
	Date        string      `json:"date"`
}

// MarshalJSON writes the amount as an exact JSON number and the timestamp
// as RFC 3339 with nanoseconds.
func (r Record) MarshalJSON() ([]byte, error) {
	return json.Marshal(recordJSON{
		Description: r.Description,
		Amount:      json.Number(r.Amount.String()),
		Category:    r.Category,
		Date:        FormatTimestamp(r.Timestamp),
	})
}

func (r *Record) UnmarshalJSON(data []byte) error {
	var raw recordJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.Amount == "" {
		return fmt.Errorf("record %q: missing amount", raw.Description)
	}
	amount, err := decimal.NewFromString(raw.Amount.String())
	if err != nil {
		return fmt.Errorf("record %q: amount: %w", raw.Description, err)
	}
	if err := CheckAmount(amount, StoredFractionDigits); err != nil {
		return fmt.Errorf("record %q: %w", raw.Description, err)
	}
	ts, err := ParseTimestamp(raw.Date)
	if err != nil {
		return fmt.Errorf("record %q: %w", raw.Description, err)
	}
	*r = Record{
		Description: raw.Description,
		Amount:      amount,
		Category:    raw.Category,
		Timestamp:   ts,
	}
	return nil
}

// FormatTimestamp renders t as an ISO-8601 string without precision loss.
func FormatTimestamp(t time.Time) string {
	return t.Format(time.RFC3339Nano)
}

// ParseTimestamp accepts RFC 3339 timestamps and the legacy naive layouts.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty date")
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	for _, layout := range legacyDateLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q", s)
}

// EncodeRecords serializes a user's record list.
func EncodeRecords(records []Record) ([]byte, error) {
	if records == nil {
		records = []Record{}
	}
	return json.Marshal(records)
}

// DecodeRecords parses a record list; any malformed entry makes the whole
// list unreadable and is reported as ErrCorruptStore.
func DecodeRecords(data []byte) ([]Record, error) {
	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptStore, err)
	}
	if records == nil {
		records = []Record{}
	}
	return records, nil
}
