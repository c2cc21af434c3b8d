package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dvloznov/spendwise/internal/ai"
	"github.com/dvloznov/spendwise/internal/api/handlers"
	"github.com/dvloznov/spendwise/internal/api/middleware"
	"github.com/dvloznov/spendwise/internal/config"
	"github.com/dvloznov/spendwise/internal/domain"
	"github.com/dvloznov/spendwise/internal/infra/sqlitestore"
	"github.com/dvloznov/spendwise/internal/infra/supabase"
	"github.com/dvloznov/spendwise/internal/logger"
	"github.com/dvloznov/spendwise/internal/store"
	"github.com/dvloznov/spendwise/internal/syncer"
)

func main() {
	log := logger.New()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	ctx := context.Background()

	// Pick the expense store: hosted Postgres when Supabase credentials are
	// configured, an embedded SQLite file otherwise.
	var st store.ExpenseStore
	if cfg.UseSupabase() {
		st, err = supabase.New(cfg.SupabaseURL, cfg.SupabaseAnonKey, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create Supabase store")
		}
		log.Info().Msg("Using Supabase expense store")
	} else {
		st, err = sqlitestore.New(cfg.DBPath, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to open local database")
		}
		log.Info().Str("path", cfg.DBPath).Msg("Using local SQLite expense store")
	}

	var gen ai.Generator
	if cfg.GeminiAPIKey == "" {
		log.Warn().Msg("No Gemini API key configured - parsing and insights will be degraded")
		gen = ai.Disabled()
	} else {
		gen, err = ai.NewGeminiGenerator(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create Gemini client")
		}
	}
	aiService := ai.NewService(gen, log)

	rec := syncer.New(st, domain.DefaultBudget(cfg.BudgetLimit), log)
	rec.Load(ctx)
	defer rec.Close()

	// Follow remote changes for as long as the server runs. Stores without a
	// push channel make this a no-op.
	listenCtx, cancelListen := context.WithCancel(ctx)
	defer cancelListen()
	go func() {
		if err := rec.Listen(listenCtx); err != nil {
			log.Error().Err(err).Msg("Change listener stopped with error")
		}
	}()

	expensesHandler := handlers.NewExpensesHandler(rec, log)
	metricsHandler := handlers.NewMetricsHandler(rec, log)
	aiHandler := handlers.NewAIHandler(rec, aiService, log)
	statusHandler := handlers.NewStatusHandler(rec, log)
	budgetHandler := handlers.NewBudgetHandler(rec, log)

	mux := http.NewServeMux()

	mux.HandleFunc("/api/expenses", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			expensesHandler.List(w, r)
		case http.MethodPost:
			expensesHandler.Create(w, r)
		default:
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/expenses/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodDelete {
			id := strings.TrimPrefix(r.URL.Path, "/api/expenses/")
			if id == "" {
				middleware.WriteError(w, http.StatusBadRequest, "Expense ID is required")
				return
			}
			expensesHandler.Delete(w, r, id)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/metrics", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			metricsHandler.Get(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/insights", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			aiHandler.Insights(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/parse", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			aiHandler.Parse(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/status", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			statusHandler.Get(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/status/retry", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			statusHandler.Retry(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/budget", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			budgetHandler.Get(w, r)
		case http.MethodPut:
			budgetHandler.Put(w, r)
		default:
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	// Health check endpoint
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteJSON(w, http.StatusOK, map[string]string{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		})
	})

	// Apply middleware
	handler := middleware.Recovery(log)(
		middleware.Logger(log)(
			middleware.RequestID(
				middleware.CORS(mux),
			),
		),
	)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Info().Str("port", cfg.Port).Msg("Starting API server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	cancelListen()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
}
