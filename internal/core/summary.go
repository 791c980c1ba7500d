package core

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// CategorySpend is the absolute expense total of one category.
type CategorySpend struct {
	Category string          `json:"category"`
	Total    decimal.Decimal `json:"total"`
}

// Month identifies a calendar month.
type Month struct {
	Year  int        `json:"year"`
	Month time.Month `json:"month"`
}

// MonthOf returns the calendar month of t in t's own location.
func MonthOf(t time.Time) Month {
	return Month{Year: t.Year(), Month: t.Month()}
}

// Before orders months chronologically.
func (m Month) Before(o Month) bool {
	if m.Year != o.Year {
		return m.Year < o.Year
	}
	return m.Month < o.Month
}

// String renders the month as YYYY-MM.
func (m Month) String() string {
	return fmt.Sprintf("%04d-%02d", m.Year, int(m.Month))
}

// MonthlyNet is the signed sum of all records of a month.
type MonthlyNet struct {
	Month Month           `json:"month"`
	Net   decimal.Decimal `json:"net"`
}

// Report is the aggregate view of a ledger.
type Report struct {
	TotalIncome   decimal.Decimal `json:"total_income"`
	TotalExpense  decimal.Decimal `json:"total_expense"`
	CategorySpend []CategorySpend `json:"category_spend"`
	MonthlyTrend  []MonthlyNet    `json:"monthly_trend"`
}

// Net is income minus expense.
func (r Report) Net() decimal.Decimal {
	return r.TotalIncome.Sub(r.TotalExpense)
}
