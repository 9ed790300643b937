package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// SetAssistEnabled records whether the assistant may act for this owner.
func (s *SQLiteStorage) SetAssistEnabled(ctx context.Context, ownerID string, enabled bool) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(ownerID, "ownerID"); err != nil {
		return err
	}
	return s.setAssistEnabledTx(ctx, s.db, ownerID, enabled)
}

func (s *SQLiteStorage) setAssistEnabledTx(ctx context.Context, q queryable, ownerID string, enabled bool) error {
	query := `
		INSERT INTO assist_settings (owner_id, enabled, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(owner_id) DO UPDATE SET enabled = excluded.enabled, updated_at = excluded.updated_at`

	if _, err := q.ExecContext(ctx, query, ownerID, enabled, time.Now()); err != nil {
		return fmt.Errorf("failed to set assist enabled: %w", err)
	}

	slog.Debug("updated assist setting", "owner", ownerID, "enabled", enabled)
	return nil
}

// GetAssistEnabled reports whether the assistant may act for this owner.
// Owners with no recorded setting default to disabled.
func (s *SQLiteStorage) GetAssistEnabled(ctx context.Context, ownerID string) (bool, error) {
	if err := validateContext(ctx); err != nil {
		return false, err
	}
	if err := validateString(ownerID, "ownerID"); err != nil {
		return false, err
	}
	return s.getAssistEnabledTx(ctx, s.db, ownerID)
}

func (s *SQLiteStorage) getAssistEnabledTx(ctx context.Context, q queryable, ownerID string) (bool, error) {
	var enabled bool
	err := q.QueryRowContext(ctx,
		`SELECT enabled FROM assist_settings WHERE owner_id = ?`, ownerID).Scan(&enabled)
	if err == sql.ErrNoRows {
		return false, nil // Disabled until explicitly enabled
	}
	if err != nil {
		return false, fmt.Errorf("failed to query assist setting: %w", err)
	}
	return enabled, nil
}
