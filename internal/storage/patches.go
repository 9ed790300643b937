package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/tmetzger/subtrack/internal/model"
)

const patchColumns = `id, proposal_id, owner_id, type, status, forward_patch,
	rollback_patch, applied_at, rolled_back_at`

// SavePatch inserts a new patch.
func (s *SQLiteStorage) SavePatch(ctx context.Context, patch *model.Patch) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validatePatch(patch); err != nil {
		return err
	}
	return s.savePatchTx(ctx, s.db, patch)
}

func (s *SQLiteStorage) savePatchTx(ctx context.Context, q queryable, patch *model.Patch) error {
	forward, err := json.Marshal(patch.ForwardPatch)
	if err != nil {
		return fmt.Errorf("failed to encode forward patch: %w", err)
	}
	rollback, err := json.Marshal(patch.RollbackPatch)
	if err != nil {
		return fmt.Errorf("failed to encode rollback patch: %w", err)
	}

	query := `
		INSERT INTO patches (id, proposal_id, owner_id, type, status, forward_patch,
			rollback_patch, applied_at, rolled_back_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = q.ExecContext(ctx, query,
		patch.ID, patch.ProposalID, patch.OwnerID, string(patch.Type), string(patch.Status),
		string(forward), string(rollback), patch.AppliedAt, patch.RolledBackAt)
	if err != nil {
		return fmt.Errorf("failed to save patch: %w", err)
	}

	slog.Debug("saved patch", "id", patch.ID, "proposal", patch.ProposalID)
	return nil
}

// GetPatch returns one patch by id, or nil if the owner has no such patch.
func (s *SQLiteStorage) GetPatch(ctx context.Context, ownerID, id string) (*model.Patch, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(ownerID, "ownerID"); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}
	return s.getPatchTx(ctx, s.db, ownerID, id)
}

func (s *SQLiteStorage) getPatchTx(ctx context.Context, q queryable, ownerID, id string) (*model.Patch, error) {
	query := fmt.Sprintf(`SELECT %s FROM patches WHERE owner_id = ? AND id = ?`, patchColumns)

	patch, err := scanPatch(q.QueryRowContext(ctx, query, ownerID, id))
	if err == sql.ErrNoRows {
		return nil, nil // Patch not found
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query patch: %w", err)
	}
	return patch, nil
}

// GetPatches returns the owner's patches, newest first.
func (s *SQLiteStorage) GetPatches(ctx context.Context, ownerID string) ([]model.Patch, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(ownerID, "ownerID"); err != nil {
		return nil, err
	}
	return s.getPatchesTx(ctx, s.db, ownerID)
}

func (s *SQLiteStorage) getPatchesTx(ctx context.Context, q queryable, ownerID string) ([]model.Patch, error) {
	query := fmt.Sprintf(`SELECT %s FROM patches WHERE owner_id = ? ORDER BY applied_at DESC, id`, patchColumns)

	rows, err := q.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query patches: %w", err)
	}
	defer rows.Close()

	var patches []model.Patch
	for rows.Next() {
		patch, err := scanPatch(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan patch: %w", err)
		}
		patches = append(patches, *patch)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating patches: %w", err)
	}
	return patches, nil
}

// MarkPatchRolledBack transitions an APPLIED patch to ROLLED_BACK. The
// update is guarded on the current status; a patch already rolled back
// yields ErrStatusConflict.
func (s *SQLiteStorage) MarkPatchRolledBack(ctx context.Context, ownerID, id string, at time.Time) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(ownerID, "ownerID"); err != nil {
		return err
	}
	if err := validateString(id, "id"); err != nil {
		return err
	}
	return s.markPatchRolledBackTx(ctx, s.db, ownerID, id, at)
}

func (s *SQLiteStorage) markPatchRolledBackTx(ctx context.Context, q queryable, ownerID, id string, at time.Time) error {
	result, err := q.ExecContext(ctx,
		`UPDATE patches SET status = ?, rolled_back_at = ? WHERE owner_id = ? AND id = ? AND status = ?`,
		string(model.PatchRolledBack), at, ownerID, id, string(model.PatchApplied))
	if err != nil {
		return fmt.Errorf("failed to mark patch rolled back: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if affected == 0 {
		existing, lookupErr := s.getPatchTx(ctx, q, ownerID, id)
		if lookupErr != nil {
			return lookupErr
		}
		if existing == nil {
			return fmt.Errorf("%w: patch %s", ErrNotFound, id)
		}
		return fmt.Errorf("%w: patch %s is %s, expected %s", ErrStatusConflict, id, existing.Status, model.PatchApplied)
	}

	slog.Debug("marked patch rolled back", "id", id)
	return nil
}

func scanPatch(row scanner) (*model.Patch, error) {
	var patch model.Patch
	var typ, status, forward, rollback string
	var rolledBackAt sql.NullTime

	err := row.Scan(&patch.ID, &patch.ProposalID, &patch.OwnerID, &typ, &status,
		&forward, &rollback, &patch.AppliedAt, &rolledBackAt)
	if err != nil {
		return nil, err
	}

	patch.Type = model.ProposalType(typ)
	patch.Status = model.PatchStatus(status)
	if rolledBackAt.Valid {
		patch.RolledBackAt = &rolledBackAt.Time
	}
	if err := json.Unmarshal([]byte(forward), &patch.ForwardPatch); err != nil {
		return nil, fmt.Errorf("failed to decode forward patch: %w", err)
	}
	if err := json.Unmarshal([]byte(rollback), &patch.RollbackPatch); err != nil {
		return nil, fmt.Errorf("failed to decode rollback patch: %w", err)
	}
	return &patch, nil
}
