package syncer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/spendwise/internal/domain"
	"github.com/dvloznov/spendwise/internal/store"
)

// mockStore is a call-counting test double for store.ExpenseStore.
type mockStore struct {
	check        store.ConnectionCheck
	fetchResult  []domain.Expense
	insertResult *domain.Expense
	removeOK     bool

	checkCalls  int
	fetchCalls  int
	insertCalls int
	removeCalls int

	onInsert     func() // runs before the insert result is returned
	subscribeErr error
}

func (m *mockStore) CheckConnection(ctx context.Context) store.ConnectionCheck {
	m.checkCalls++
	return m.check
}

func (m *mockStore) FetchExpenses(ctx context.Context) []domain.Expense {
	m.fetchCalls++
	return m.fetchResult
}

func (m *mockStore) InsertExpense(ctx context.Context, e domain.NewExpense) *domain.Expense {
	m.insertCalls++
	if m.onInsert != nil {
		m.onInsert()
	}
	return m.insertResult
}

func (m *mockStore) RemoveExpense(ctx context.Context, id string) bool {
	m.removeCalls++
	return m.removeOK
}

func (m *mockStore) Subscribe(ctx context.Context, fn func(store.ChangeEvent)) error {
	if m.subscribeErr != nil {
		return m.subscribeErr
	}
	return store.ErrNoRealtime
}

func connectedStore() *mockStore {
	return &mockStore{check: store.ConnectionCheck{Connected: true}, removeOK: true}
}

func newReconciler(st store.ExpenseStore) *Reconciler {
	r := New(st, domain.DefaultBudget(1000), zerolog.Nop())
	r.clock = func() time.Time {
		return time.Date(2026, time.August, 28, 10, 0, 0, 0, time.UTC)
	}
	return r
}

func validNew() domain.NewExpense {
	return domain.NewExpense{
		Amount:      12.50,
		Date:        "2026-08-28",
		Category:    domain.CategoryFood,
		Description: "lunch",
	}
}

func TestAddValidationFailureMutatesNothing(t *testing.T) {
	st := connectedStore()
	r := newReconciler(st)

	_, err := r.Add(context.Background(), domain.NewExpense{
		Amount:   -5,
		Date:     "2026-08-28",
		Category: domain.CategoryFood,
	})
	if err == nil {
		t.Fatal("expected validation error")
	}
	if st.insertCalls != 0 {
		t.Errorf("insert called %d times before validation, want 0", st.insertCalls)
	}
	if len(r.Expenses()) != 0 {
		t.Error("collection mutated by rejected input")
	}
}

func TestAddPersistedRecord(t *testing.T) {
	st := connectedStore()
	st.insertResult = &domain.Expense{
		ID:        "srv-1",
		Amount:    12.50,
		Date:      "2026-08-28",
		Category:  domain.CategoryFood,
		CreatedAt: 1787000000000,
	}
	r := newReconciler(st)

	added, err := r.Add(context.Background(), validNew())
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if added == nil || added.ID != "srv-1" {
		t.Fatalf("Add returned %+v, want store-assigned record", added)
	}
	if added.IsLocal() {
		t.Error("persisted record must not be local-only")
	}
	if got := r.Expenses(); len(got) != 1 || got[0].ID != "srv-1" {
		t.Errorf("collection = %+v, want the persisted record", got)
	}
}

func TestAddFallsBackToLocalOnlyRecord(t *testing.T) {
	st := connectedStore()
	st.insertResult = nil // store declines the insert
	r := newReconciler(st)

	added, err := r.Add(context.Background(), validNew())
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if added == nil {
		t.Fatal("expected an optimistic local record")
	}
	if !added.IsLocal() {
		t.Errorf("fallback record id %q lacks the local prefix", added.ID)
	}
	if added.CreatedAt != r.clock().UnixMilli() {
		t.Errorf("CreatedAt = %d, want the insertion instant", added.CreatedAt)
	}
	if got := r.Expenses(); len(got) != 1 || !got[0].IsLocal() {
		t.Errorf("collection = %+v, want the local-only record", got)
	}
}

func TestRemoveLocalOnlyNeverCallsStore(t *testing.T) {
	st := connectedStore()
	st.insertResult = nil
	r := newReconciler(st)

	added, _ := r.Add(context.Background(), validNew())
	if err := r.Remove(context.Background(), added.ID); err != nil {
		t.Fatalf("removing a local-only record failed: %v", err)
	}

	if st.removeCalls != 0 {
		t.Errorf("remote delete called %d times for a local-only record, want 0", st.removeCalls)
	}
	if len(r.Expenses()) != 0 {
		t.Error("local-only record still present after remove")
	}
}

func TestRemoveRemoteRecord(t *testing.T) {
	st := connectedStore()
	st.fetchResult = []domain.Expense{{ID: "srv-9", Amount: 3, Date: "2026-08-01", Category: domain.CategoryOther}}
	r := newReconciler(st)
	r.Load(context.Background())

	if err := r.Remove(context.Background(), "srv-9"); err != nil {
		t.Fatalf("remove of remote record failed: %v", err)
	}
	if st.removeCalls != 1 {
		t.Errorf("remote delete called %d times, want 1", st.removeCalls)
	}
	if len(r.Expenses()) != 0 {
		t.Error("record still present after remove")
	}

	st.removeOK = false
	st.fetchResult = []domain.Expense{{ID: "srv-10", Amount: 1, Date: "2026-08-02", Category: domain.CategoryOther}}
	r.Load(context.Background())
	err := r.Remove(context.Background(), "srv-10")
	if err == nil {
		t.Error("remove reported success although the store declined")
	}
	if errors.Is(err, ErrNotFound) {
		t.Error("store failure misreported as not-found")
	}
	if len(r.Expenses()) != 1 {
		t.Error("record dropped from memory although the store declined")
	}
}

func TestRemoveUnknownLocalIDIsNotFound(t *testing.T) {
	st := connectedStore()
	r := newReconciler(st)

	err := r.Remove(context.Background(), domain.LocalIDPrefix+"gone")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if st.removeCalls != 0 {
		t.Errorf("remote delete called %d times for a local-only id, want 0", st.removeCalls)
	}
}

func TestLoadKeepsLocalOnlyRecords(t *testing.T) {
	st := connectedStore()
	st.insertResult = nil
	r := newReconciler(st)

	added, _ := r.Add(context.Background(), validNew())

	// A change-triggered full reload replaces the collection with remote
	// truth; the unconfirmed local record must survive it.
	st.fetchResult = []domain.Expense{
		{ID: "srv-1", Amount: 8, Date: "2026-08-20", Category: domain.CategoryShopping},
	}
	r.Load(context.Background())

	got := r.Expenses()
	if len(got) != 2 {
		t.Fatalf("collection length = %d, want 2 (local + remote)", len(got))
	}
	if got[0].ID != added.ID {
		t.Errorf("local-only record not re-appended ahead of remote set: %+v", got)
	}
	if got[1].ID != "srv-1" {
		t.Errorf("remote record missing after reload: %+v", got)
	}
}

func TestLoadKeepsStaleStateWhenDisconnected(t *testing.T) {
	st := connectedStore()
	st.fetchResult = []domain.Expense{{ID: "srv-1", Amount: 8, Date: "2026-08-20", Category: domain.CategoryShopping}}
	r := newReconciler(st)
	r.Load(context.Background())

	st.check = store.ConnectionCheck{Connected: false, Err: "network down"}
	st.fetchResult = nil
	r.Load(context.Background())

	if got := r.Expenses(); len(got) != 1 {
		t.Errorf("stale collection lost on failed reload: %+v", got)
	}
	status := r.Status()
	if status.State != StateError || status.Err != "network down" {
		t.Errorf("status = %+v, want error state", status)
	}
}

func TestStatusMachine(t *testing.T) {
	st := connectedStore()
	r := newReconciler(st)

	if got := r.Status().State; got != StateChecking {
		t.Errorf("initial state = %q, want checking", got)
	}

	r.Load(context.Background())
	if got := r.Status().State; got != StateConnected {
		t.Errorf("state after load = %q, want connected", got)
	}

	st.check = store.ConnectionCheck{
		Connected:      false,
		Err:            "The 'expenses' table is missing from your database.",
		RemediationSQL: "CREATE TABLE expenses (...)",
	}
	status := r.Retry(context.Background())
	if status.State != StateError {
		t.Errorf("state after failed retry = %q, want error", status.State)
	}
	if status.RemediationSQL == "" {
		t.Error("schema-missing status must carry the remediation script")
	}

	st.check = store.ConnectionCheck{Connected: true}
	if status := r.Retry(context.Background()); status.State != StateConnected {
		t.Errorf("state after successful retry = %q, want connected", status.State)
	}
}

func TestStaleInsertCompletionDiscarded(t *testing.T) {
	st := connectedStore()
	st.insertResult = &domain.Expense{ID: "srv-1", Amount: 12.50, Date: "2026-08-28", Category: domain.CategoryFood}
	r := newReconciler(st)

	// A reload completes while the insert is in flight; the reload already
	// carries the persisted record. Applying the completion on top would
	// duplicate the id.
	st.fetchResult = []domain.Expense{*st.insertResult}
	st.onInsert = func() { r.Load(context.Background()) }

	added, err := r.Add(context.Background(), validNew())
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if added != nil {
		t.Errorf("stale completion applied: %+v", added)
	}

	got := r.Expenses()
	if len(got) != 1 || got[0].ID != "srv-1" {
		t.Errorf("collection = %+v, want exactly one srv-1 record", got)
	}
}

func TestLocalFallbackSurvivesConcurrentReload(t *testing.T) {
	st := connectedStore()
	st.insertResult = nil // store declines the insert
	r := newReconciler(st)

	// A reload completes while the declined insert is in flight. The
	// synthesized local-only record has no remote copy a reload could ever
	// deliver, so discarding it would lose the user's entry outright.
	st.fetchResult = []domain.Expense{
		{ID: "srv-1", Amount: 8, Date: "2026-08-20", Category: domain.CategoryShopping},
	}
	st.onInsert = func() { r.Load(context.Background()) }

	added, err := r.Add(context.Background(), validNew())
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if added == nil {
		t.Fatal("local-only fallback discarded by a concurrent reload")
	}
	if !added.IsLocal() {
		t.Errorf("fallback record id %q lacks the local prefix", added.ID)
	}

	got := r.Expenses()
	if len(got) != 2 {
		t.Fatalf("collection = %+v, want local fallback plus srv-1", got)
	}
	if got[0].ID != added.ID || got[1].ID != "srv-1" {
		t.Errorf("collection order = %+v, want local record first", got)
	}
}

func TestListenCleanShutdown(t *testing.T) {
	st := connectedStore()
	st.subscribeErr = context.Canceled
	r := newReconciler(st)

	if err := r.Listen(context.Background()); err != nil {
		t.Errorf("Listen after cancellation = %v, want nil", err)
	}
}

func TestCompletionAfterCloseDiscarded(t *testing.T) {
	st := connectedStore()
	st.insertResult = &domain.Expense{ID: "srv-1", Amount: 12.50, Date: "2026-08-28", Category: domain.CategoryFood}
	r := newReconciler(st)

	st.onInsert = func() { r.Close() }

	added, err := r.Add(context.Background(), validNew())
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if added != nil {
		t.Error("completion applied to a torn-down session")
	}
}

func TestSetBudget(t *testing.T) {
	r := newReconciler(connectedStore())

	if err := r.SetBudget(domain.Budget{Limit: 0}); err == nil {
		t.Error("expected rejection of non-positive limit")
	}
	if err := r.SetBudget(domain.Budget{Limit: 1500}); err != nil {
		t.Fatalf("SetBudget: %v", err)
	}
	b := r.Budget()
	if b.Limit != 1500 || b.Period != "monthly" {
		t.Errorf("budget = %+v, want limit 1500 monthly", b)
	}
}
