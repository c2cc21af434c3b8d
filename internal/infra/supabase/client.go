// Package supabase implements store.ExpenseStore against a hosted Supabase
// project: CRUD through the PostgREST API and change notifications through
// the realtime websocket.
package supabase

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/supabase-community/postgrest-go"

	"github.com/dvloznov/spendwise/internal/store"
)

const expensesTable = "expenses"

// RemediationSQL is the script surfaced to the user when the probe detects
// that the expenses table has not been created in their project yet.
const RemediationSQL = `CREATE TABLE expenses (
  id uuid primary key default uuid_generate_v4(),
  amount numeric not null,
  date text not null,
  category text not null,
  description text,
  created_at timestamp with time zone default now()
);`

// Store talks to one Supabase project. Construct it once and inject it;
// there is no package-level singleton.
type Store struct {
	rest       *postgrest.Client
	projectURL string
	anonKey    string
	log        zerolog.Logger
}

// New builds a Store for the given project URL and anon key.
func New(projectURL, anonKey string, log zerolog.Logger) (*Store, error) {
	restURL := strings.TrimSuffix(projectURL, "/") + "/rest/v1"
	client := postgrest.NewClient(restURL, "public", map[string]string{
		"apikey":        anonKey,
		"Authorization": "Bearer " + anonKey,
	})
	if client.ClientError != nil {
		return nil, fmt.Errorf("supabase.New: creating postgrest client: %w", client.ClientError)
	}

	return &Store{
		rest:       client,
		projectURL: projectURL,
		anonKey:    anonKey,
		log:        log,
	}, nil
}

// CheckConnection issues a minimal read against the expenses table and
// classifies the outcome. The schema-missing case is recognized from the
// PostgREST error body (undefined_table, SQLSTATE 42P01); matching on the
// error text is fragile by construction but postgrest-go exposes nothing
// more structured. See DESIGN.md.
func (s *Store) CheckConnection(ctx context.Context) store.ConnectionCheck {
	_, _, err := s.rest.From(expensesTable).
		Select("id", "", false).
		Limit(1, "").
		ExecuteWithContext(ctx)
	if err == nil {
		return store.ConnectionCheck{Connected: true}
	}

	if isSchemaMissing(err) {
		return store.ConnectionCheck{
			Connected:      false,
			Err:            "The 'expenses' table is missing from your database.",
			RemediationSQL: RemediationSQL,
		}
	}

	return store.ConnectionCheck{Connected: false, Err: err.Error()}
}

// isSchemaMissing recognizes the PostgREST undefined_table error.
func isSchemaMissing(err error) bool {
	msg := err.Error()
	if strings.Contains(msg, "42P01") {
		return true
	}
	return strings.Contains(msg, `relation "public.expenses" does not exist`) ||
		strings.Contains(msg, `relation "expenses" does not exist`)
}
