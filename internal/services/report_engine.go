package services

import (
	"sort"

	"github.com/shopspring/decimal"

	"finman/internal/core"
)

// BuildReport aggregates records into totals, a category spend ranking and
// a monthly net trend. An empty input returns core.ErrEmptyResult together
// with a zero Report.
func BuildReport(records []core.Record) (core.Report, error) {
	if len(records) == 0 {
		return core.Report{}, core.ErrEmptyResult
	}

	income := decimal.Zero
	expense := decimal.Zero

	// Categories and months keep their first-appearance order so that the
	// stable sorts below break ties predictably.
	var categories []core.CategorySpend
	categoryIdx := map[string]int{}
	var months []core.MonthlyNet
	monthIdx := map[core.Month]int{}

	for _, r := range records {
		switch {
		case r.IsIncome():
			income = income.Add(r.Amount)
		case r.IsExpense():
			spent := r.Amount.Abs()
			expense = expense.Add(spent)
			i, ok := categoryIdx[r.Category]
			if !ok {
				i = len(categories)
				categoryIdx[r.Category] = i
				categories = append(categories, core.CategorySpend{Category: r.Category, Total: decimal.Zero})
			}
			categories[i].Total = categories[i].Total.Add(spent)
		}

		m := core.MonthOf(r.Timestamp)
		i, ok := monthIdx[m]
		if !ok {
			i = len(months)
			monthIdx[m] = i
			months = append(months, core.MonthlyNet{Month: m, Net: decimal.Zero})
		}
		months[i].Net = months[i].Net.Add(r.Amount)
	}

	sort.SliceStable(categories, func(i, j int) bool {
		return categories[i].Total.GreaterThan(categories[j].Total)
	})
	sort.Slice(months, func(i, j int) bool {
		return months[i].Month.Before(months[j].Month)
	})

	if categories == nil {
		categories = []core.CategorySpend{}
	}

	return core.Report{
		TotalIncome:   income,
		TotalExpense:  expense,
		CategorySpend: categories,
		MonthlyTrend:  months,
	}, nil
}
