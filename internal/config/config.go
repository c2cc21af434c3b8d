// Package config loads the service configuration from the environment.
// A .env file in the working directory is honored when present.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// DefaultBudgetLimit is the session budget used when BUDGET_LIMIT is unset.
const DefaultBudgetLimit = 1000.0

// Config is the full service configuration.
//
// When SupabaseURL is empty the service runs in the local, no-backend
// variant: expenses persist to the SQLite file at DBPath and there is no
// realtime change feed.
type Config struct {
	Port string

	SupabaseURL     string
	SupabaseAnonKey string

	GeminiAPIKey string
	GeminiModel  string

	DBPath string

	BudgetLimit float64
}

// Load reads the configuration from the environment, preloading a .env
// file if one exists.
func Load() (*Config, error) {
	// Missing .env is fine; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg := &Config{
		Port:            getenv("PORT", "8080"),
		SupabaseURL:     os.Getenv("SUPABASE_URL"),
		SupabaseAnonKey: os.Getenv("SUPABASE_ANON_KEY"),
		GeminiAPIKey:    os.Getenv("GEMINI_API_KEY"),
		GeminiModel:     os.Getenv("GEMINI_MODEL"),
		DBPath:          getenv("SPENDWISE_DB_PATH", "spendwise.db"),
		BudgetLimit:     DefaultBudgetLimit,
	}

	if raw := os.Getenv("BUDGET_LIMIT"); raw != "" {
		limit, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("config.Load: parsing BUDGET_LIMIT %q: %w", raw, err)
		}
		if limit <= 0 {
			return nil, fmt.Errorf("config.Load: BUDGET_LIMIT must be positive, got %v", limit)
		}
		cfg.BudgetLimit = limit
	}

	if cfg.SupabaseURL != "" && cfg.SupabaseAnonKey == "" {
		return nil, fmt.Errorf("config.Load: SUPABASE_URL is set but SUPABASE_ANON_KEY is not")
	}

	return cfg, nil
}

// UseSupabase reports whether the hosted store variant is configured.
func (c *Config) UseSupabase() bool {
	return c.SupabaseURL != ""
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
