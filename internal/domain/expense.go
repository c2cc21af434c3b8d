package domain

import (
	"fmt"
	"strings"
	"time"
)

// DateLayout is the calendar-date format used everywhere in the system.
// Expense dates are plain calendar days, never instants.
const DateLayout = "2006-01-02"

// LocalIDPrefix marks records that were accepted into memory but never
// durably persisted. The reconciler must resolve them (confirm or drop)
// once connectivity is established.
const LocalIDPrefix = "local-"

// Category is the closed classification label for an expense.
// The set is fixed at compile time and is not user-extensible.
type Category string

const (
	CategoryFood          Category = "Food & Dining"
	CategoryTransport     Category = "Transportation"
	CategoryUtilities     Category = "Utilities"
	CategoryEntertainment Category = "Entertainment"
	CategoryShopping      Category = "Shopping"
	CategoryHealth        Category = "Health & Wellness"
	CategoryHousing       Category = "Housing"
	CategoryEducation     Category = "Education"
	CategoryOther         Category = "Other"
)

// Categories lists every valid category in display order.
func Categories() []Category {
	return []Category{
		CategoryFood,
		CategoryTransport,
		CategoryUtilities,
		CategoryEntertainment,
		CategoryShopping,
		CategoryHealth,
		CategoryHousing,
		CategoryEducation,
		CategoryOther,
	}
}

// Valid reports whether c is a member of the closed category set.
func (c Category) Valid() bool {
	for _, known := range Categories() {
		if c == known {
			return true
		}
	}
	return false
}

// ParseCategory maps an arbitrary string onto the closed category set.
// Comparison is case-insensitive on trimmed input; anything that does not
// match is coerced to CategoryOther. The second return reports whether the
// input matched a real member, so callers that must treat out-of-set values
// as absent (the AI boundary) can distinguish coercion from a match.
func ParseCategory(s string) (Category, bool) {
	needle := strings.ToLower(strings.TrimSpace(s))
	for _, known := range Categories() {
		if needle == strings.ToLower(string(known)) {
			return known, true
		}
	}
	return CategoryOther, false
}

// Expense is one spending transaction.
//
// ID is either the store-assigned opaque token or a locally generated
// placeholder carrying LocalIDPrefix. CreatedAt (epoch milliseconds) is used
// only for insertion-order tie-breaking; all business date logic runs on
// Date, the calendar day.
type Expense struct {
	ID          string   `json:"id"`
	Amount      float64  `json:"amount"`
	Date        string   `json:"date"`
	Category    Category `json:"category"`
	Description string   `json:"description"`
	CreatedAt   int64    `json:"createdAt"`
}

// IsLocal reports whether the record has never been durably persisted.
func (e Expense) IsLocal() bool {
	return strings.HasPrefix(e.ID, LocalIDPrefix)
}

// Day returns the expense's calendar day as a time.Time at midnight UTC.
func (e Expense) Day() (time.Time, error) {
	return time.Parse(DateLayout, e.Date)
}

// Validate checks the invariants a record must satisfy before it may be
// accepted into the collection or sent to the store.
func (e Expense) Validate() error {
	if e.Amount < 0 {
		return fmt.Errorf("expense amount must be non-negative, got %v", e.Amount)
	}
	if _, err := time.Parse(DateLayout, e.Date); err != nil {
		return fmt.Errorf("expense date %q is not a valid %s date: %w", e.Date, DateLayout, err)
	}
	if !e.Category.Valid() {
		return fmt.Errorf("expense category %q is not in the known category set", e.Category)
	}
	return nil
}

// NewExpense carries the caller-supplied fields of a record that has no
// identity yet; the store (or the local fallback path) assigns ID and
// CreatedAt.
type NewExpense struct {
	Amount      float64  `json:"amount"`
	Date        string   `json:"date"`
	Category    Category `json:"category"`
	Description string   `json:"description"`
}

// Validate applies the same invariants as Expense.Validate.
func (n NewExpense) Validate() error {
	return Expense{
		Amount:   n.Amount,
		Date:     n.Date,
		Category: n.Category,
	}.Validate()
}

// Budget is the session-scoped spending limit. Period is currently always
// "monthly"; the budget is never persisted remotely.
type Budget struct {
	Limit  float64 `json:"limit"`
	Period string  `json:"period"`
}

// DefaultBudget returns a monthly budget with the given limit.
func DefaultBudget(limit float64) Budget {
	return Budget{Limit: limit, Period: "monthly"}
}

// TopCategoryNone is the sentinel used by insights when there is no data.
const TopCategoryNone = "N/A"

// SpendingInsight is the AI-generated summary over the current collection.
// It is ephemeral: never persisted, regenerated on demand.
type SpendingInsight struct {
	Summary             string   `json:"summary"`
	Suggestions         []string `json:"suggestions"`
	TopSpendingCategory string   `json:"topSpendingCategory"`
	ForecastedTotal     *float64 `json:"forecastedTotal,omitempty"`
	Anomalies           []string `json:"anomalies,omitempty"`
}

// ParsedExpense is the partial record produced by free-text parsing.
// Every field is optional; absent fields leave the caller's form state
// untouched.
type ParsedExpense struct {
	Amount      *float64  `json:"amount,omitempty"`
	Category    *Category `json:"category,omitempty"`
	Description *string   `json:"description,omitempty"`
	Date        *string   `json:"date,omitempty"`
}
