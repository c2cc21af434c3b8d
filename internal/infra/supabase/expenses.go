package supabase

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/supabase-community/postgrest-go"

	"github.com/dvloznov/spendwise/internal/domain"
)

// numeric accepts a JSON number or a numeric string. PostgREST serializes
// the NUMERIC column as a string depending on precision, so the amount must
// be coerced either way.
type numeric float64

func (n *numeric) UnmarshalJSON(data []byte) error {
	if len(data) == 0 || string(data) == "null" {
		*n = 0
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("numeric: parsing %q: %w", s, err)
		}
		*n = numeric(f)
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*n = numeric(f)
	return nil
}

// expenseRow mirrors the expenses table as PostgREST returns it.
type expenseRow struct {
	ID          string  `json:"id"`
	Amount      numeric `json:"amount"`
	Date        string  `json:"date"`
	Category    string  `json:"category"`
	Description *string `json:"description"`
	CreatedAt   *string `json:"created_at"`
}

// toDomain converts a row into the domain record, coercing the category to
// the closed set and deriving CreatedAt from the server timestamp when it
// parses, else from now.
func (r expenseRow) toDomain(fallback time.Time) domain.Expense {
	category, _ := domain.ParseCategory(r.Category)

	description := ""
	if r.Description != nil {
		description = *r.Description
	}

	createdAt := fallback.UnixMilli()
	if r.CreatedAt != nil {
		if ts, err := time.Parse(time.RFC3339, *r.CreatedAt); err == nil {
			createdAt = ts.UnixMilli()
		}
	}

	return domain.Expense{
		ID:          r.ID,
		Amount:      float64(r.Amount),
		Date:        r.Date,
		Category:    category,
		Description: description,
		CreatedAt:   createdAt,
	}
}

// insertRow is the payload for a new record: no id, no created_at, both are
// assigned by the store.
type insertRow struct {
	Amount      float64 `json:"amount"`
	Date        string  `json:"date"`
	Category    string  `json:"category"`
	Description string  `json:"description"`
}

// FetchExpenses returns all records ordered by date descending. Any fetch
// error degrades to an empty slice; the caller keeps whatever it already
// holds (stale state beats a wiped screen).
func (s *Store) FetchExpenses(ctx context.Context) []domain.Expense {
	raw, _, err := s.rest.From(expensesTable).
		Select("*", "", false).
		Order("date", &postgrest.OrderOpts{Ascending: false}).
		ExecuteWithContext(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("Fetching expenses failed, returning empty set")
		return []domain.Expense{}
	}

	var rows []expenseRow
	if err := json.Unmarshal(raw, &rows); err != nil {
		s.log.Warn().Err(err).Msg("Decoding expenses response failed, returning empty set")
		return []domain.Expense{}
	}

	fallback := time.Now()
	expenses := make([]domain.Expense, 0, len(rows))
	for _, row := range rows {
		expenses = append(expenses, row.toDomain(fallback))
	}
	return expenses
}

// InsertExpense persists a new record and returns the store-assigned
// version, or nil if persistence failed. The caller decides whether nil
// means "alert the user" or "fall back to a local-only record".
func (s *Store) InsertExpense(ctx context.Context, e domain.NewExpense) *domain.Expense {
	payload := insertRow{
		Amount:      e.Amount,
		Date:        e.Date,
		Category:    string(e.Category),
		Description: e.Description,
	}

	raw, _, err := s.rest.From(expensesTable).
		Insert(payload, false, "", "representation", "").
		Single().
		ExecuteWithContext(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("Inserting expense failed")
		return nil
	}

	var row expenseRow
	if err := json.Unmarshal(raw, &row); err != nil {
		s.log.Warn().Err(err).Msg("Decoding insert response failed")
		return nil
	}

	stored := row.toDomain(time.Now())
	s.log.Debug().Str("expense_id", stored.ID).Msg("Expense persisted")
	return &stored
}

// RemoveExpense deletes by id. Local-only ids never reach this method; the
// reconciler strips them from memory without a remote call.
func (s *Store) RemoveExpense(ctx context.Context, id string) bool {
	_, _, err := s.rest.From(expensesTable).
		Delete("", "").
		Eq("id", id).
		ExecuteWithContext(ctx)
	if err != nil {
		s.log.Warn().Err(err).Str("expense_id", id).Msg("Deleting expense failed")
		return false
	}
	return true
}
