package sheets

import (
	"github.com/shopspring/decimal"

	"finman/internal/core"
)

// Header is the first row of an exported ledger.
var Header = []any{"#", "Date", "Description", "Category", "Amount"}

// BuildRows lays out records followed by a summary block. Amounts are
// written as numbers so that the sheet can sum them; dates use RFC 3339.
// An empty report (no records) yields the header row only.
func BuildRows(records []core.Record, report core.Report) [][]any {
	rows := make([][]any, 0, len(records)+8+len(report.CategorySpend)+len(report.MonthlyTrend))
	rows = append(rows, Header)
	for i, r := range records {
		rows = append(rows, []any{
			i + 1,
			core.FormatTimestamp(r.Timestamp),
			r.Description,
			r.Category,
			number(r.Amount),
		})
	}
	if len(records) == 0 {
		return rows
	}

	rows = append(rows,
		[]any{},
		[]any{"Total income", number(report.TotalIncome)},
		[]any{"Total expense", number(report.TotalExpense)},
		[]any{"Net", number(report.Net())},
	)
	if len(report.CategorySpend) > 0 {
		rows = append(rows, []any{}, []any{"Category", "Spent"})
		for _, c := range report.CategorySpend {
			rows = append(rows, []any{c.Category, number(c.Total)})
		}
	}
	rows = append(rows, []any{}, []any{"Month", "Net"})
	for _, m := range report.MonthlyTrend {
		rows = append(rows, []any{m.Month.String(), number(m.Net)})
	}
	return rows
}

func number(d decimal.Decimal) float64 {
	return d.InexactFloat64()
}
