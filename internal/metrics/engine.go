// Package metrics computes every derived view the dashboard shows: totals,
// per-category aggregation, the rolling daily/cumulative series, and the
// budget pacing figures. All functions are pure and deterministic given
// (expenses, budget, now); there is no I/O and no hidden state.
package metrics

import (
	"time"

	"github.com/jinzhu/now"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/spendwise/internal/domain"
)

// DefaultWindowDays is the rolling window of the daily series. A 7-day
// variant is supported through the window argument.
const DefaultWindowDays = 14

// Status classifies budget usage against the fixed thresholds.
type Status string

const (
	StatusOK      Status = "ok"
	StatusWarning Status = "warning"
	StatusOver    Status = "over"
)

const (
	warningThreshold = 80.0
	overThreshold    = 100.0
)

// CategoryTotal is one row of the category breakdown.
type CategoryTotal struct {
	Category domain.Category `json:"category"`
	Total    float64         `json:"total"`
}

// SeriesPoint is one calendar day of the rolling spend series. Cumulative is
// the running sum over the window; TargetPace is the linear
// budget-consumption target for that day of the month.
type SeriesPoint struct {
	Date       string  `json:"date"`
	Daily      float64 `json:"daily"`
	Cumulative float64 `json:"cumulative"`
	TargetPace float64 `json:"targetPace"`
}

// Snapshot is the full dashboard payload derived from one evaluation.
type Snapshot struct {
	TotalSpent       float64         `json:"totalSpent"`
	BudgetLimit      float64         `json:"budgetLimit"`
	BudgetUsage      float64         `json:"budgetUsage"`
	Status           Status          `json:"status"`
	IsOverPacing     bool            `json:"isOverPacing"`
	BurnRate         float64         `json:"burnRate"`
	RecommendedDaily float64         `json:"recommendedDaily"`
	Categories       []CategoryTotal `json:"categories"`
	Series           []SeriesPoint   `json:"series"`
}

// TotalSpent sums the amount over the full collection.
func TotalSpent(expenses []domain.Expense) float64 {
	total := decimal.Zero
	for _, e := range expenses {
		total = total.Add(decimal.NewFromFloat(e.Amount))
	}
	f, _ := total.Float64()
	return f
}

// CategoryTotals groups the collection by category and returns per-category
// sums sorted by descending total. Ties keep first-encountered order, so the
// sort must be stable with respect to the order categories first appear in
// the input.
func CategoryTotals(expenses []domain.Expense) []CategoryTotal {
	sums := make(map[domain.Category]decimal.Decimal)
	var order []domain.Category

	for _, e := range expenses {
		if _, seen := sums[e.Category]; !seen {
			order = append(order, e.Category)
		}
		sums[e.Category] = sums[e.Category].Add(decimal.NewFromFloat(e.Amount))
	}

	result := make([]CategoryTotal, 0, len(order))
	for _, c := range order {
		f, _ := sums[c].Float64()
		result = append(result, CategoryTotal{Category: c, Total: f})
	}

	// Insertion sort keeps first-seen order among equal totals.
	for i := 1; i < len(result); i++ {
		for j := i; j > 0 && result[j].Total > result[j-1].Total; j-- {
			result[j], result[j-1] = result[j-1], result[j]
		}
	}

	return result
}

// BudgetUsage returns the raw percentage of the budget consumed. The value
// is intentionally not clamped: readings above 100 drive the "over" status.
// A non-positive limit yields 0 rather than infinity.
func BudgetUsage(totalSpent float64, budget domain.Budget) float64 {
	if budget.Limit <= 0 {
		return 0
	}
	usage := decimal.NewFromFloat(totalSpent).
		Div(decimal.NewFromFloat(budget.Limit)).
		Mul(decimal.NewFromInt(100))
	f, _ := usage.Float64()
	return f
}

// Classify maps a raw usage percentage onto a status. Boundary values sit
// with the lower bucket: exactly 80 is still "ok", exactly 100 is still
// "warning".
func Classify(usage float64) Status {
	switch {
	case usage > overThreshold:
		return StatusOver
	case usage > warningThreshold:
		return StatusWarning
	default:
		return StatusOK
	}
}

// DailySeries produces one point per calendar day for the window ending at
// (and including) the evaluation day, oldest first. Days with no matching
// expense contribute 0, so the series length always equals windowDays.
// Cumulative is the running sum over the window and TargetPace is
// limit/daysInMonth scaled by each point's day of month.
func DailySeries(expenses []domain.Expense, budget domain.Budget, at time.Time, windowDays int) []SeriesPoint {
	if windowDays <= 0 {
		windowDays = DefaultWindowDays
	}

	daily := make(map[string]decimal.Decimal, windowDays)
	days := make([]time.Time, 0, windowDays)
	for i := windowDays - 1; i >= 0; i-- {
		d := at.AddDate(0, 0, -i)
		days = append(days, d)
		daily[d.Format(domain.DateLayout)] = decimal.Zero
	}

	for _, e := range expenses {
		key := e.Date
		if sum, ok := daily[key]; ok {
			daily[key] = sum.Add(decimal.NewFromFloat(e.Amount))
		}
	}

	step := decimal.Zero
	if budget.Limit > 0 {
		step = decimal.NewFromFloat(budget.Limit).
			Div(decimal.NewFromInt(int64(daysInMonth(at))))
	}

	series := make([]SeriesPoint, 0, windowDays)
	cumulative := decimal.Zero
	for _, d := range days {
		key := d.Format(domain.DateLayout)
		cumulative = cumulative.Add(daily[key])

		dayAmount, _ := daily[key].Float64()
		cum, _ := cumulative.Float64()
		target, _ := step.Mul(decimal.NewFromInt(int64(d.Day()))).Float64()

		series = append(series, SeriesPoint{
			Date:       key,
			Daily:      dayAmount,
			Cumulative: cum,
			TargetPace: target,
		})
	}

	return series
}

// TargetPace is the linear budget-consumption target as of the evaluation
// day: limit/daysInMonth * dayOfMonth.
func TargetPace(budget domain.Budget, at time.Time) float64 {
	if budget.Limit <= 0 {
		return 0
	}
	pace := decimal.NewFromFloat(budget.Limit).
		Div(decimal.NewFromInt(int64(daysInMonth(at)))).
		Mul(decimal.NewFromInt(int64(dayOfMonth(at))))
	f, _ := pace.Float64()
	return f
}

// IsOverPacing reports whether cumulative spend exceeds the linear target
// pace as of the evaluation day.
func IsOverPacing(totalSpent float64, budget domain.Budget, at time.Time) bool {
	return totalSpent > TargetPace(budget, at)
}

// BurnRate is the average spend per elapsed day of the current month.
func BurnRate(totalSpent float64, at time.Time) float64 {
	rate := decimal.NewFromFloat(totalSpent).
		Div(decimal.NewFromInt(int64(dayOfMonth(at))))
	f, _ := rate.Float64()
	return f
}

// RecommendedDaily is the remaining budget spread over the days left in the
// month, including today. The divisor is guarded so the last day of the
// month never divides by zero.
func RecommendedDaily(totalSpent float64, budget domain.Budget, at time.Time) float64 {
	remainingDays := daysInMonth(at) - dayOfMonth(at) + 1
	if remainingDays < 1 {
		remainingDays = 1
	}
	rec := decimal.NewFromFloat(budget.Limit).
		Sub(decimal.NewFromFloat(totalSpent)).
		Div(decimal.NewFromInt(int64(remainingDays)))
	f, _ := rec.Float64()
	return f
}

// Compute assembles the full dashboard snapshot for one evaluation instant.
func Compute(expenses []domain.Expense, budget domain.Budget, at time.Time, windowDays int) Snapshot {
	total := TotalSpent(expenses)
	usage := BudgetUsage(total, budget)

	return Snapshot{
		TotalSpent:       total,
		BudgetLimit:      budget.Limit,
		BudgetUsage:      usage,
		Status:           Classify(usage),
		IsOverPacing:     IsOverPacing(total, budget, at),
		BurnRate:         BurnRate(total, at),
		RecommendedDaily: RecommendedDaily(total, budget, at),
		Categories:       CategoryTotals(expenses),
		Series:           DailySeries(expenses, budget, at, windowDays),
	}
}

func daysInMonth(at time.Time) int {
	return now.With(at).EndOfMonth().Day()
}

// dayOfMonth guards the current day to a minimum of 1 in case the
// environment ever yields 0.
func dayOfMonth(at time.Time) int {
	d := at.Day()
	if d < 1 {
		d = 1
	}
	return d
}
