// Package chart renders ledger reports as PNG images.
package chart

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"

	"finman/internal/core"
	"finman/internal/ledger/jsonfile"
)

// Chart kinds, also used as file names without extension.
const (
	KindCategorySpend = "category_spend"
	KindMonthlyTrend  = "monthly_trend"
)

// ErrNoChartData is returned when a report has nothing to draw for a kind.
var ErrNoChartData = errors.New("no data to chart")

var (
	incomeColor  = drawing.ColorFromHex("2e7d32")
	expenseColor = drawing.ColorFromHex("c62828")
)

// Renderer draws report charts using a currency symbol for labels.
type Renderer struct {
	Symbol string
	Width  int
	Height int
}

func NewRenderer(symbol string) *Renderer {
	return &Renderer{Symbol: symbol, Width: 1000, Height: 600}
}

// Kinds lists the charts Render understands.
func Kinds() []string {
	return []string{KindCategorySpend, KindMonthlyTrend}
}

// Render dispatches on kind.
func (r *Renderer) Render(kind string, report core.Report) ([]byte, error) {
	switch kind {
	case KindCategorySpend:
		return r.CategorySpend(report)
	case KindMonthlyTrend:
		return r.MonthlyTrend(report)
	default:
		return nil, fmt.Errorf("%w: unknown chart kind %q", core.ErrValidation, kind)
	}
}

// CategorySpend renders the expense breakdown as a pie chart.
func (r *Renderer) CategorySpend(report core.Report) ([]byte, error) {
	if len(report.CategorySpend) == 0 {
		return nil, ErrNoChartData
	}

	total := report.TotalExpense.InexactFloat64()
	values := make([]chart.Value, 0, len(report.CategorySpend))
	for _, c := range report.CategorySpend {
		amount := c.Total.InexactFloat64()
		label := fmt.Sprintf("%s: %s", c.Category, core.FormatAmount(r.Symbol, c.Total))
		if total > 0 {
			label = fmt.Sprintf("%s (%.1f%%)", label, amount/total*100)
		}
		values = append(values, chart.Value{
			Label: label,
			Value: amount,
			Style: chart.Style{
				FontSize:  11,
				FontColor: chart.ColorBlack,
			},
		})
	}

	pie := chart.PieChart{
		Title:  "Spending by category",
		Width:  r.Width,
		Height: r.Height,
		Values: values,
		Background: chart.Style{
			Padding:   chart.Box{Top: 50, Left: 50, Right: 50, Bottom: 50},
			FillColor: chart.ColorWhite,
		},
	}

	var buf bytes.Buffer
	if err := pie.Render(chart.PNG, &buf); err != nil {
		return nil, fmt.Errorf("render category chart: %w", err)
	}
	return buf.Bytes(), nil
}

// MonthlyTrend renders the signed monthly totals as a bar chart around zero.
func (r *Renderer) MonthlyTrend(report core.Report) ([]byte, error) {
	if len(report.MonthlyTrend) == 0 {
		return nil, ErrNoChartData
	}

	bars := make([]chart.Value, 0, len(report.MonthlyTrend))
	lo, hi := 0.0, 0.0
	for _, m := range report.MonthlyTrend {
		v := m.Net.InexactFloat64()
		lo, hi = math.Min(lo, v), math.Max(hi, v)
		color := incomeColor
		if v < 0 {
			color = expenseColor
		}
		bars = append(bars, chart.Value{
			Label: m.Month.String(),
			Value: v,
			Style: chart.Style{
				FillColor:   color,
				StrokeColor: color,
			},
		})
	}
	if hi == lo {
		hi = lo + 1
	}

	width := r.Width
	if need := 100 + 70*len(bars); need > width {
		width = need
	}

	graph := chart.BarChart{
		Title:        "Monthly net",
		Width:        width,
		Height:       r.Height,
		BarWidth:     40,
		UseBaseValue: true,
		BaseValue:    0,
		Background: chart.Style{
			Padding:   chart.Box{Top: 50, Left: 20, Right: 20, Bottom: 20},
			FillColor: chart.ColorWhite,
		},
		YAxis: chart.YAxis{
			Range: &chart.ContinuousRange{Min: lo, Max: hi},
			ValueFormatter: func(v interface{}) string {
				if f, ok := v.(float64); ok {
					return fmt.Sprintf("%s%.0f", r.Symbol, f)
				}
				return ""
			},
		},
		Bars: bars,
	}

	var buf bytes.Buffer
	if err := graph.Render(chart.PNG, &buf); err != nil {
		return nil, fmt.Errorf("render monthly chart: %w", err)
	}
	return buf.Bytes(), nil
}

// WriteReport renders every chart with data into dir/<user>/<kind>.png and
// returns the written paths. Charts without data are removed so that a stale
// image never outlives the records it was drawn from.
func (r *Renderer) WriteReport(dir, user string, report core.Report) ([]string, error) {
	userDir := filepath.Join(dir, SafeName(user))
	var written []string
	for _, kind := range Kinds() {
		path := filepath.Join(userDir, kind+".png")
		png, err := r.Render(kind, report)
		if errors.Is(err, ErrNoChartData) {
			if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
				return written, fmt.Errorf("remove stale chart %s: %w", path, rmErr)
			}
			continue
		}
		if err != nil {
			return written, err
		}
		if err := jsonfile.WriteFileAtomic(path, png, 0o644); err != nil {
			return written, fmt.Errorf("write chart: %w", err)
		}
		written = append(written, path)
	}
	return written, nil
}

// SafeName maps a user name to a single path element. The mapping is
// reversible, so distinct users never share a directory.
func SafeName(user string) string {
	switch user {
	case "":
		return "%"
	case ".", "..":
		return strings.Repeat("%2E", len(user))
	}
	return url.PathEscape(user)
}
