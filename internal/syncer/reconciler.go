// Package syncer bridges the in-memory expense collection to the backing
// store and back. It owns the collection, the connection status machine,
// and the merge policy for optimistic local-only records.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dvloznov/spendwise/internal/domain"
	"github.com/dvloznov/spendwise/internal/store"
)

// State is the connection status machine: checking -> connected | error.
// It is re-evaluated on every reload and on explicit retry, never cached
// indefinitely.
type State string

const (
	StateChecking  State = "checking"
	StateConnected State = "connected"
	StateError     State = "error"
)

// ErrNotFound is returned by Remove when the id is not in the collection.
var ErrNotFound = errors.New("syncer: expense not found")

// Status is the externally visible connection state, carrying remediation
// instructions when the store schema is missing.
type Status struct {
	State          State  `json:"state"`
	Err            string `json:"error,omitempty"`
	RemediationSQL string `json:"remediationSql,omitempty"`
}

// Reconciler owns the session's expense collection. The store is the sole
// external truth; local-only records are the one concession to offline
// tolerance.
//
// Mutations follow last-write-wins: whichever asynchronous completion lands
// last is what the session shows. The mutex below only keeps the slice swap
// itself consistent; no lock spans a remote call, so the accepted race
// between a change-triggered reload and a concurrent user action is
// preserved, not "fixed".
type Reconciler struct {
	store store.ExpenseStore
	log   zerolog.Logger

	mu         sync.RWMutex
	expenses   []domain.Expense
	budget     domain.Budget
	status     Status
	generation uint64
	closed     bool

	clock func() time.Time // swappable in tests
}

// New builds a Reconciler over the given store. The session starts in the
// checking state with an empty collection.
func New(st store.ExpenseStore, budget domain.Budget, log zerolog.Logger) *Reconciler {
	return &Reconciler{
		store:  st,
		log:    log,
		budget: budget,
		status: Status{State: StateChecking},
		clock:  time.Now,
	}
}

// Expenses returns a copy of the current collection.
func (r *Reconciler) Expenses() []domain.Expense {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Expense, len(r.expenses))
	copy(out, r.expenses)
	return out
}

// Status returns the current connection status.
func (r *Reconciler) Status() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status
}

// Budget returns the session budget.
func (r *Reconciler) Budget() domain.Budget {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.budget
}

// SetBudget replaces the session budget. The budget is session-scoped and
// never persisted remotely.
func (r *Reconciler) SetBudget(b domain.Budget) error {
	if b.Limit <= 0 {
		return fmt.Errorf("budget limit must be positive, got %v", b.Limit)
	}
	if b.Period == "" {
		b.Period = "monthly"
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.budget = b
	return nil
}

// Load probes the store and, when connected, replaces the collection with
// remote truth. Local-only records absent from the reload are re-appended
// so an unconfirmed entry is never silently dropped by a change-triggered
// refresh. On a failed probe the stale collection is kept.
func (r *Reconciler) Load(ctx context.Context) {
	gen := r.currentGeneration()

	check := r.store.CheckConnection(ctx)
	if !check.Connected {
		r.setStatus(Status{State: StateError, Err: check.Err, RemediationSQL: check.RemediationSQL})
		r.log.Warn().Str("error", check.Err).Msg("Store unreachable, keeping in-memory collection")
		return
	}

	fetched := r.store.FetchExpenses(ctx)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.generation != gen || r.closed {
		// A newer reload or teardown won the race; this completion is stale.
		r.log.Debug().Uint64("generation", gen).Msg("Discarding stale reload completion")
		return
	}

	merged := make([]domain.Expense, 0, len(fetched)+4)
	for _, e := range r.expenses {
		if e.IsLocal() {
			merged = append(merged, e)
		}
	}
	merged = append(merged, fetched...)

	r.expenses = merged
	r.status = Status{State: StateConnected}
	r.generation++
	r.log.Info().Int("count", len(merged)).Msg("Collection reloaded from store")
}

// Retry is the explicit user-triggered connectivity re-check.
func (r *Reconciler) Retry(ctx context.Context) Status {
	r.setStatus(Status{State: StateChecking})
	r.Load(ctx)
	return r.Status()
}

// Add validates and persists a new expense. Validation failures reject the
// input before any network call and mutate nothing. When the store declines
// the insert, a local-only record is synthesized so the entry is not lost;
// either way the record is prepended optimistically.
func (r *Reconciler) Add(ctx context.Context, n domain.NewExpense) (*domain.Expense, error) {
	if err := n.Validate(); err != nil {
		return nil, err
	}

	gen := r.currentGeneration()
	stored := r.store.InsertExpense(ctx, n)

	var record domain.Expense
	if stored != nil {
		record = *stored
	} else {
		record = domain.Expense{
			ID:          domain.LocalIDPrefix + uuid.NewString(),
			Amount:      n.Amount,
			Date:        n.Date,
			Category:    n.Category,
			Description: n.Description,
			CreatedAt:   r.clock().UnixMilli(),
		}
		r.log.Warn().Str("expense_id", record.ID).Msg("Store insert failed, keeping local-only record")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		r.log.Debug().Str("expense_id", record.ID).Msg("Discarding insert completion after teardown")
		return nil, nil
	}
	if stored != nil && r.generation != gen {
		// The collection was replaced while the insert was in flight. The
		// persisted record is (or will be) delivered by reload; applying the
		// completion now could duplicate an id. A local-only record has no
		// such hazard and no reload can resurrect it, so it is never
		// discarded on this path.
		r.log.Debug().Str("expense_id", record.ID).Msg("Discarding stale insert completion")
		return nil, nil
	}

	r.expenses = append([]domain.Expense{record}, r.expenses...)
	return &record, nil
}

// Remove deletes a record. Local-only records are stripped from memory
// without contacting the store; they were never persisted. Returns
// ErrNotFound for a local-only id that is no longer in the collection, and
// a plain error when the store declines the delete.
func (r *Reconciler) Remove(ctx context.Context, id string) error {
	if isLocalID(id) {
		if !r.removeFromMemory(id) {
			return ErrNotFound
		}
		return nil
	}

	if !r.store.RemoveExpense(ctx, id) {
		return fmt.Errorf("Remove: store declined delete of %q", id)
	}

	// Remote delete succeeded; the record may already be gone locally when
	// a reload raced ahead. Still a success from the caller's view.
	r.removeFromMemory(id)
	return nil
}

func (r *Reconciler) removeFromMemory(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, e := range r.expenses {
		if e.ID == id {
			r.expenses = append(r.expenses[:i], r.expenses[i+1:]...)
			return true
		}
	}
	return false
}

// Listen subscribes to store change notifications and answers every event
// with a full reload. Blocks until ctx is done. Stores without a push
// channel are not an error, and neither is a cancelled context; the session
// simply never self-refreshes.
func (r *Reconciler) Listen(ctx context.Context) error {
	err := r.store.Subscribe(ctx, func(ev store.ChangeEvent) {
		r.log.Debug().Str("change", string(ev.Type)).Msg("Remote change received, reloading")
		r.Load(ctx)
	})
	if errors.Is(err, store.ErrNoRealtime) {
		r.log.Info().Msg("Store has no change feed, skipping realtime sync")
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

// Close tears the session down. In-flight completions observing the closed
// flag are discarded rather than applied to a dead session.
func (r *Reconciler) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	r.generation++
}

func (r *Reconciler) currentGeneration() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.generation
}

func (r *Reconciler) setStatus(s Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = s
}

func isLocalID(id string) bool {
	return domain.Expense{ID: id}.IsLocal()
}
