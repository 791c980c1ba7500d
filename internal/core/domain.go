package core

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type (
	// Record is a single income or expense entry of a user's ledger.
	// A positive Amount is income, a negative Amount is an expense.
	Record struct {
		Description string
		Amount      decimal.Decimal
		Category    string
		Timestamp   time.Time
	}

	// RecordPatch carries the optional fields of an update. A nil pointer or
	// an empty string keeps the current value.
	RecordPatch struct {
		Description *string
		Amount      *decimal.Decimal
		Category    *string
		Timestamp   *time.Time
	}
)

// Error taxonomy shared by the record store, the persistence adapters and
// the report engine. Callers match them with errors.Is.
var (
	ErrValidation    = errors.New("validation error")
	ErrOutOfRange    = errors.New("index out of range")
	ErrPersistFailed = errors.New("persist failed")
	ErrCorruptStore  = errors.New("corrupt store")
	ErrEmptyResult   = errors.New("no records")
)

var ErrEmptyUser = fmt.Errorf("%w: empty user id", ErrValidation)

// IsIncome reports whether the record adds money to the ledger.
func (r Record) IsIncome() bool {
	return r.Amount.IsPositive()
}

// IsExpense reports whether the record takes money out of the ledger.
func (r Record) IsExpense() bool {
	return r.Amount.IsNegative()
}

// Equal compares all four fields, timestamps by instant.
func (r Record) Equal(o Record) bool {
	return r.Description == o.Description &&
		r.Amount.Equal(o.Amount) &&
		r.Category == o.Category &&
		r.Timestamp.Equal(o.Timestamp)
}

// Apply returns a copy of r with the non-empty fields of p applied.
func (p RecordPatch) Apply(r Record) Record {
	if p.Description != nil && *p.Description != "" {
		r.Description = *p.Description
	}
	if p.Amount != nil {
		r.Amount = *p.Amount
	}
	if p.Category != nil && *p.Category != "" {
		r.Category = *p.Category
	}
	if p.Timestamp != nil && !p.Timestamp.IsZero() {
		r.Timestamp = *p.Timestamp
	}
	return r
}

// IsEmpty reports whether applying the patch would change nothing.
func (p RecordPatch) IsEmpty() bool {
	return (p.Description == nil || *p.Description == "") &&
		p.Amount == nil &&
		(p.Category == nil || *p.Category == "") &&
		(p.Timestamp == nil || p.Timestamp.IsZero())
}

// ValidateUserID rejects blank user identifiers.
func ValidateUserID(userID string) error {
	if strings.TrimSpace(userID) == "" {
		return ErrEmptyUser
	}
	return nil
}

// CheckIndex validates a 0-based position against a ledger of length n.
func CheckIndex(index, n int) error {
	if n == 0 {
		return ErrEmptyResult
	}
	if index < 0 || index >= n {
		return fmt.Errorf("%w: %d not in [0, %d)", ErrOutOfRange, index, n)
	}
	return nil
}
