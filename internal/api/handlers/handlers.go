package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/spendwise/internal/ai"
	"github.com/dvloznov/spendwise/internal/api/middleware"
	"github.com/dvloznov/spendwise/internal/domain"
	"github.com/dvloznov/spendwise/internal/metrics"
	"github.com/dvloznov/spendwise/internal/syncer"
)

// ExpensesHandler handles the expense collection endpoints.
type ExpensesHandler struct {
	rec *syncer.Reconciler
	log zerolog.Logger
}

// NewExpensesHandler creates a new expenses handler.
func NewExpensesHandler(rec *syncer.Reconciler, log zerolog.Logger) *ExpensesHandler {
	return &ExpensesHandler{rec: rec, log: log}
}

// List handles GET /api/expenses with optional filtering and sorting:
// ?category=<label>, ?q=<search>, ?sort=date|amount.
func (h *ExpensesHandler) List(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	expenses := filterExpenses(h.rec.Expenses(), query.Get("category"), query.Get("q"))
	sortExpenses(expenses, query.Get("sort"))

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"expenses": expenses,
		"count":    len(expenses),
	})
}

// Create handles POST /api/expenses. Validation failures are rejected
// before any store call.
func (h *ExpensesHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req domain.NewExpense
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	added, err := h.rec.Add(r.Context(), req)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if added == nil {
		// The completion lost a race against a reload; the record is (or
		// will be) visible through the refreshed collection.
		w.WriteHeader(http.StatusAccepted)
		return
	}

	h.log.Info().
		Str("expense_id", added.ID).
		Bool("local_only", added.IsLocal()).
		Msg("Expense added")
	middleware.WriteJSON(w, http.StatusCreated, added)
}

// Delete handles DELETE /api/expenses/{id}.
func (h *ExpensesHandler) Delete(w http.ResponseWriter, r *http.Request, id string) {
	if err := h.rec.Remove(r.Context(), id); err != nil {
		if errors.Is(err, syncer.ErrNotFound) {
			middleware.WriteError(w, http.StatusNotFound, "Expense not found")
			return
		}
		middleware.WriteError(w, http.StatusBadGateway, "Failed to delete expense")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]string{"id": id, "status": "deleted"})
}

// filterExpenses applies the list view's category filter and free-text
// search over description and category.
func filterExpenses(expenses []domain.Expense, category, q string) []domain.Expense {
	q = strings.ToLower(strings.TrimSpace(q))

	out := make([]domain.Expense, 0, len(expenses))
	for _, e := range expenses {
		if category != "" && category != "All" && string(e.Category) != category {
			continue
		}
		if q != "" &&
			!strings.Contains(strings.ToLower(e.Description), q) &&
			!strings.Contains(strings.ToLower(string(e.Category)), q) {
			continue
		}
		out = append(out, e)
	}
	return out
}

// sortExpenses orders the list view: newest first by default, highest
// amount first for sort=amount. Date ties fall back to insertion order
// (CreatedAt descending).
func sortExpenses(expenses []domain.Expense, key string) {
	switch key {
	case "amount":
		sort.SliceStable(expenses, func(i, j int) bool {
			return expenses[i].Amount > expenses[j].Amount
		})
	default:
		sort.SliceStable(expenses, func(i, j int) bool {
			if expenses[i].Date != expenses[j].Date {
				return expenses[i].Date > expenses[j].Date
			}
			return expenses[i].CreatedAt > expenses[j].CreatedAt
		})
	}
}

// MetricsHandler serves the dashboard snapshot.
type MetricsHandler struct {
	rec *syncer.Reconciler
	log zerolog.Logger
}

// NewMetricsHandler creates a new metrics handler.
func NewMetricsHandler(rec *syncer.Reconciler, log zerolog.Logger) *MetricsHandler {
	return &MetricsHandler{rec: rec, log: log}
}

// Get handles GET /api/metrics?window=14.
func (h *MetricsHandler) Get(w http.ResponseWriter, r *http.Request) {
	window := metrics.DefaultWindowDays
	if raw := r.URL.Query().Get("window"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 90 {
			middleware.WriteError(w, http.StatusBadRequest, "Invalid window")
			return
		}
		window = parsed
	}

	snapshot := metrics.Compute(h.rec.Expenses(), h.rec.Budget(), time.Now(), window)
	middleware.WriteJSON(w, http.StatusOK, snapshot)
}

// AIHandler serves the two model-backed operations.
type AIHandler struct {
	rec *syncer.Reconciler
	svc *ai.Service
	log zerolog.Logger
}

// NewAIHandler creates a new AI handler.
func NewAIHandler(rec *syncer.Reconciler, svc *ai.Service, log zerolog.Logger) *AIHandler {
	return &AIHandler{rec: rec, svc: svc, log: log}
}

// Insights handles GET /api/insights.
func (h *AIHandler) Insights(w http.ResponseWriter, r *http.Request) {
	insight := h.svc.AnalyzeSpending(r.Context(), h.rec.Expenses())
	middleware.WriteJSON(w, http.StatusOK, insight)
}

// Parse handles POST /api/parse.
func (h *AIHandler) Parse(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Input string `json:"input"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.Input) == "" {
		middleware.WriteError(w, http.StatusBadRequest, "Input is required")
		return
	}

	parsed := h.svc.ParseRawExpense(r.Context(), req.Input)
	middleware.WriteJSON(w, http.StatusOK, parsed)
}

// StatusHandler serves the connection status machine.
type StatusHandler struct {
	rec *syncer.Reconciler
	log zerolog.Logger
}

// NewStatusHandler creates a new status handler.
func NewStatusHandler(rec *syncer.Reconciler, log zerolog.Logger) *StatusHandler {
	return &StatusHandler{rec: rec, log: log}
}

// Get handles GET /api/status.
func (h *StatusHandler) Get(w http.ResponseWriter, r *http.Request) {
	middleware.WriteJSON(w, http.StatusOK, h.rec.Status())
}

// Retry handles POST /api/status/retry, the explicit user-triggered
// connectivity re-check.
func (h *StatusHandler) Retry(w http.ResponseWriter, r *http.Request) {
	status := h.rec.Retry(r.Context())
	h.log.Info().Str("state", string(status.State)).Msg("Connection retry completed")
	middleware.WriteJSON(w, http.StatusOK, status)
}

// BudgetHandler serves the session budget.
type BudgetHandler struct {
	rec *syncer.Reconciler
	log zerolog.Logger
}

// NewBudgetHandler creates a new budget handler.
func NewBudgetHandler(rec *syncer.Reconciler, log zerolog.Logger) *BudgetHandler {
	return &BudgetHandler{rec: rec, log: log}
}

// Get handles GET /api/budget.
func (h *BudgetHandler) Get(w http.ResponseWriter, r *http.Request) {
	middleware.WriteJSON(w, http.StatusOK, h.rec.Budget())
}

// Put handles PUT /api/budget.
func (h *BudgetHandler) Put(w http.ResponseWriter, r *http.Request) {
	var req domain.Budget
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := h.rec.SetBudget(req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	middleware.WriteJSON(w, http.StatusOK, h.rec.Budget())
}
