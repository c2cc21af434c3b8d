// Package store defines the contract between the reconciler and whatever
// backend persists expense records. Implementations live under
// internal/infra; the reconciler and the HTTP layer only see this interface.
package store

import (
	"context"
	"errors"

	"github.com/dvloznov/spendwise/internal/domain"
)

// ErrNoRealtime is returned by Subscribe when the backend has no push
// channel. The caller then simply never receives change notifications.
var ErrNoRealtime = errors.New("store: backend does not support change notifications")

// ConnectionCheck is the classified outcome of a connectivity probe.
//
// The schema-missing case is distinguished from a generic failure so the UI
// can show the corrective script instead of a useless generic message.
type ConnectionCheck struct {
	Connected bool `json:"connected"`

	// Err is a human-readable failure description, empty when connected.
	Err string `json:"error,omitempty"`

	// RemediationSQL carries the schema-creation script when the probe
	// detected that the expected table does not exist.
	RemediationSQL string `json:"remediationSql,omitempty"`
}

// SchemaMissing reports whether the probe failed because the expenses table
// has not been created yet.
func (c ConnectionCheck) SchemaMissing() bool {
	return !c.Connected && c.RemediationSQL != ""
}

// ChangeType identifies a remote mutation delivered by a subscription.
type ChangeType string

const (
	ChangeInsert ChangeType = "INSERT"
	ChangeUpdate ChangeType = "UPDATE"
	ChangeDelete ChangeType = "DELETE"
)

// ChangeEvent is one remote mutation on the expenses table. Consumers treat
// any event as "remote truth moved" and trigger a full reload; the record
// payload is informational.
type ChangeEvent struct {
	Type   ChangeType
	Record *domain.Expense
}

// ExpenseStore is the persistence capability the reconciler drives.
//
// The failure semantics are deliberate (silent degradation at this
// boundary): FetchExpenses returns an empty slice on any error so callers
// keep whatever they already hold, InsertExpense returns nil on failure so
// the caller can fall back to a local-only record, and RemoveExpense reports
// plain success/failure.
type ExpenseStore interface {
	// CheckConnection issues a minimal read and classifies the outcome.
	CheckConnection(ctx context.Context) ConnectionCheck

	// FetchExpenses returns all records ordered by date descending.
	FetchExpenses(ctx context.Context) []domain.Expense

	// InsertExpense persists a record lacking id/createdAt and returns the
	// store-assigned version, or nil if persistence failed.
	InsertExpense(ctx context.Context, e domain.NewExpense) *domain.Expense

	// RemoveExpense deletes by id. Callers must never pass local-only ids.
	RemoveExpense(ctx context.Context, id string) bool

	// Subscribe delivers remote change events to fn until ctx is done.
	// Implementations without a push channel return ErrNoRealtime.
	Subscribe(ctx context.Context, fn func(ChangeEvent)) error
}
