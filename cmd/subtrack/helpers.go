package main

import (
	"context"
	"fmt"

	"github.com/spf13/viper"

	"github.com/tmetzger/subtrack/internal/advisor"
	"github.com/tmetzger/subtrack/internal/assist"
	"github.com/tmetzger/subtrack/internal/config"
	"github.com/tmetzger/subtrack/internal/service"
	"github.com/tmetzger/subtrack/internal/storage"
)

// initStorage initializes the storage service with proper path expansion.
func initStorage(ctx context.Context) (service.Storage, error) {
	// Get database path from config
	dbPath := viper.GetString("database.path")
	if dbPath == "" {
		dbPath = config.DefaultDatabasePath()
	}

	// Expand tilde and environment variables
	dbPath = config.ExpandPath(dbPath)

	// Initialize storage
	store, err := storage.NewSQLiteStorage(dbPath)
	if err != nil {
		return nil, err
	}

	// Run migrations
	if err := store.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, nil
}

// ownerID returns the owner whose data commands operate on.
func ownerID() string {
	if owner := viper.GetString("owner"); owner != "" {
		return owner
	}
	return "local"
}

// newAdvisor builds the recommendation backend from configuration. With no
// provider configured this falls back to the offline rules engine.
func newAdvisor() (advisor.Advisor, error) {
	cfg := advisor.Config{
		Provider:    viper.GetString("advisor.provider"),
		APIKey:      viper.GetString("advisor.api_key"),
		Model:       viper.GetString("advisor.model"),
		MaxRetries:  viper.GetInt("advisor.max_retries"),
		RetryDelay:  viper.GetDuration("advisor.retry_delay"),
		RateLimit:   viper.GetInt("advisor.rate_limit"),
		Temperature: viper.GetFloat64("advisor.temperature"),
		MaxTokens:   viper.GetInt("advisor.max_tokens"),
	}

	return advisor.New(cfg)
}

// newAssistService wires an assistant service against the configured backend.
// The caller owns both returned values and should Close the advisor when done.
func newAssistService(store service.Storage) (*assist.Service, advisor.Advisor, error) {
	adv, err := newAdvisor()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize advisor: %w", err)
	}

	cfg := assist.Config{BackendTimeout: viper.GetDuration("advisor.timeout")}
	return assist.NewWithConfig(store, adv, cfg), adv, nil
}

// assistErrorHint rewraps assistant errors with a usage hint where one helps.
func assistErrorHint(err error) error {
	switch {
	case err == nil:
		return nil
	case assist.IsPermissionDenied(err):
		return fmt.Errorf("%w\n\nRun 'subtrack assist enable' to opt in first", err)
	case assist.IsNotFound(err):
		return fmt.Errorf("%w\n\nList IDs with 'subtrack assist proposals' or 'subtrack assist patches'", err)
	case assist.IsConflict(err):
		return fmt.Errorf("%w\n\nThe record moved on since you loaded it; 'subtrack assist proposals' shows current statuses", err)
	case assist.IsValidation(err):
		return fmt.Errorf("%w\n\nSee 'subtrack assist explain --help' and 'subtrack assist propose --help' for accepted values", err)
	default:
		return err
	}
}
