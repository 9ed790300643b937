package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tmetzger/subtrack/internal/model"
)

// defaultLogLimit bounds log reads when the caller passes no limit.
const defaultLogLimit = 50

// AppendActionLog writes one action log entry. The log is append-only;
// output summaries are truncated to the storage limit here so every caller
// gets the same bound.
func (s *SQLiteStorage) AppendActionLog(ctx context.Context, entry *model.ActionLogEntry) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateActionLogEntry(entry); err != nil {
		return err
	}
	return s.appendActionLogTx(ctx, s.db, entry)
}

func (s *SQLiteStorage) appendActionLogTx(ctx context.Context, q queryable, entry *model.ActionLogEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	entry.OutputSummary = model.TruncateOutput(entry.OutputSummary)

	query := `
		INSERT INTO action_log (owner_id, action_type, topic, input_summary, output_summary,
			confidence, provider, success, latency_ms, error_reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	result, err := q.ExecContext(ctx, query,
		entry.OwnerID, string(entry.ActionType), entry.Topic, entry.InputSummary,
		entry.OutputSummary, entry.Confidence, entry.Provider, entry.Success,
		entry.LatencyMS, entry.ErrorReason, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append action log: %w", err)
	}

	if id, idErr := result.LastInsertId(); idErr == nil {
		entry.ID = id
	}
	return nil
}

// GetActionLog returns the owner's most recent action log entries, newest
// first. A non-positive limit falls back to a sensible default.
func (s *SQLiteStorage) GetActionLog(ctx context.Context, ownerID string, limit int) ([]model.ActionLogEntry, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(ownerID, "ownerID"); err != nil {
		return nil, err
	}
	return s.getActionLogTx(ctx, s.db, ownerID, limit)
}

func (s *SQLiteStorage) getActionLogTx(ctx context.Context, q queryable, ownerID string, limit int) ([]model.ActionLogEntry, error) {
	if limit <= 0 {
		limit = defaultLogLimit
	}

	query := `
		SELECT id, owner_id, action_type, topic, input_summary, output_summary,
			confidence, provider, success, latency_ms, error_reason, created_at
		FROM action_log
		WHERE owner_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`

	rows, err := q.QueryContext(ctx, query, ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query action log: %w", err)
	}
	defer rows.Close()

	var entries []model.ActionLogEntry
	for rows.Next() {
		var entry model.ActionLogEntry
		var actionType string
		var confidence sql.NullFloat64
		var errorReason sql.NullString

		if err := rows.Scan(&entry.ID, &entry.OwnerID, &actionType, &entry.Topic,
			&entry.InputSummary, &entry.OutputSummary, &confidence, &entry.Provider,
			&entry.Success, &entry.LatencyMS, &errorReason, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan action log entry: %w", err)
		}

		entry.ActionType = model.ActionType(actionType)
		if confidence.Valid {
			entry.Confidence = &confidence.Float64
		}
		if errorReason.Valid {
			entry.ErrorReason = errorReason.String
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating action log: %w", err)
	}
	return entries, nil
}

// AppendAudit writes one audit trail entry.
func (s *SQLiteStorage) AppendAudit(ctx context.Context, entry *model.AuditEntry) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateAuditEntry(entry); err != nil {
		return err
	}
	return s.appendAuditTx(ctx, s.db, entry)
}

func (s *SQLiteStorage) appendAuditTx(ctx context.Context, q queryable, entry *model.AuditEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	var metadata any
	if entry.Metadata != nil {
		encoded, err := json.Marshal(entry.Metadata)
		if err != nil {
			return fmt.Errorf("failed to encode audit metadata: %w", err)
		}
		metadata = string(encoded)
	}

	result, err := q.ExecContext(ctx,
		`INSERT INTO audit_log (owner_id, action, metadata, created_at) VALUES (?, ?, ?, ?)`,
		entry.OwnerID, entry.Action, metadata, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}

	if id, idErr := result.LastInsertId(); idErr == nil {
		entry.ID = id
	}
	return nil
}

// GetAuditTrail returns the owner's most recent audit entries, newest first.
func (s *SQLiteStorage) GetAuditTrail(ctx context.Context, ownerID string, limit int) ([]model.AuditEntry, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(ownerID, "ownerID"); err != nil {
		return nil, err
	}
	return s.getAuditTrailTx(ctx, s.db, ownerID, limit)
}

func (s *SQLiteStorage) getAuditTrailTx(ctx context.Context, q queryable, ownerID string, limit int) ([]model.AuditEntry, error) {
	if limit <= 0 {
		limit = defaultLogLimit
	}

	query := `
		SELECT id, owner_id, action, metadata, created_at
		FROM audit_log
		WHERE owner_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`

	rows, err := q.QueryContext(ctx, query, ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit trail: %w", err)
	}
	defer rows.Close()

	var entries []model.AuditEntry
	for rows.Next() {
		var entry model.AuditEntry
		var metadata sql.NullString

		if err := rows.Scan(&entry.ID, &entry.OwnerID, &entry.Action, &metadata, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		if metadata.Valid && metadata.String != "" {
			if err := json.Unmarshal([]byte(metadata.String), &entry.Metadata); err != nil {
				return nil, fmt.Errorf("failed to decode audit metadata: %w", err)
			}
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit trail: %w", err)
	}
	return entries, nil
}
