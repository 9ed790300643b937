package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tmetzger/subtrack/internal/model"
)

const proposalColumns = `id, owner_id, type, status, title, summary, payload,
	confidence, provider, created_at, expires_at`

// SaveProposal inserts a new proposal.
func (s *SQLiteStorage) SaveProposal(ctx context.Context, proposal *model.Proposal) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateProposal(proposal); err != nil {
		return err
	}
	return s.saveProposalTx(ctx, s.db, proposal)
}

func (s *SQLiteStorage) saveProposalTx(ctx context.Context, q queryable, proposal *model.Proposal) error {
	query := `
		INSERT INTO proposals (id, owner_id, type, status, title, summary, payload,
			confidence, provider, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := q.ExecContext(ctx, query,
		proposal.ID, proposal.OwnerID, string(proposal.Type), string(proposal.Status),
		proposal.Title, proposal.Summary, string(proposal.Payload),
		proposal.Confidence, proposal.Provider, proposal.CreatedAt, proposal.ExpiresAt)
	if err != nil {
		return fmt.Errorf("failed to save proposal: %w", err)
	}

	slog.Debug("saved proposal", "id", proposal.ID, "type", proposal.Type)
	return nil
}

// GetProposal returns one proposal by id, or nil if the owner has no such
// proposal.
func (s *SQLiteStorage) GetProposal(ctx context.Context, ownerID, id string) (*model.Proposal, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(ownerID, "ownerID"); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}
	return s.getProposalTx(ctx, s.db, ownerID, id)
}

func (s *SQLiteStorage) getProposalTx(ctx context.Context, q queryable, ownerID, id string) (*model.Proposal, error) {
	query := fmt.Sprintf(`SELECT %s FROM proposals WHERE owner_id = ? AND id = ?`, proposalColumns)

	proposal, err := scanProposal(q.QueryRowContext(ctx, query, ownerID, id))
	if err == sql.ErrNoRows {
		return nil, nil // Proposal not found
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query proposal: %w", err)
	}
	return proposal, nil
}

// GetProposals returns the owner's proposals, newest first, optionally
// filtered to the given statuses.
func (s *SQLiteStorage) GetProposals(ctx context.Context, ownerID string, statuses []model.ProposalStatus) ([]model.Proposal, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(ownerID, "ownerID"); err != nil {
		return nil, err
	}
	return s.getProposalsTx(ctx, s.db, ownerID, statuses)
}

func (s *SQLiteStorage) getProposalsTx(ctx context.Context, q queryable, ownerID string, statuses []model.ProposalStatus) ([]model.Proposal, error) {
	query := fmt.Sprintf(`SELECT %s FROM proposals WHERE owner_id = ?`, proposalColumns)
	args := []any{ownerID}

	if len(statuses) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(statuses)), ",")
		query += fmt.Sprintf(" AND status IN (%s)", placeholders)
		for _, status := range statuses {
			args = append(args, string(status))
		}
	}
	query += " ORDER BY created_at DESC, id"

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query proposals: %w", err)
	}
	defer rows.Close()

	var proposals []model.Proposal
	for rows.Next() {
		proposal, err := scanProposal(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan proposal: %w", err)
		}
		proposals = append(proposals, *proposal)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating proposals: %w", err)
	}
	return proposals, nil
}

// UpdateProposalStatus transitions a proposal from one status to another.
// The update is guarded on the expected current status so concurrent writers
// cannot double-apply: if the proposal exists but its status already moved,
// ErrStatusConflict is returned.
func (s *SQLiteStorage) UpdateProposalStatus(ctx context.Context, ownerID, id string, from, to model.ProposalStatus) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(ownerID, "ownerID"); err != nil {
		return err
	}
	if err := validateString(id, "id"); err != nil {
		return err
	}
	return s.updateProposalStatusTx(ctx, s.db, ownerID, id, from, to)
}

func (s *SQLiteStorage) updateProposalStatusTx(ctx context.Context, q queryable, ownerID, id string, from, to model.ProposalStatus) error {
	if !from.CanTransitionTo(to) {
		return fmt.Errorf("%w: cannot move proposal from %s to %s", ErrInvalidProposal, from, to)
	}

	result, err := q.ExecContext(ctx,
		`UPDATE proposals SET status = ? WHERE owner_id = ? AND id = ? AND status = ?`,
		string(to), ownerID, id, string(from))
	if err != nil {
		return fmt.Errorf("failed to update proposal status: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if affected == 0 {
		// Distinguish a missing proposal from a lost status race.
		existing, lookupErr := s.getProposalTx(ctx, q, ownerID, id)
		if lookupErr != nil {
			return lookupErr
		}
		if existing == nil {
			return fmt.Errorf("%w: proposal %s", ErrNotFound, id)
		}
		return fmt.Errorf("%w: proposal %s is %s, expected %s", ErrStatusConflict, id, existing.Status, from)
	}

	slog.Debug("updated proposal status", "id", id, "from", from, "to", to)
	return nil
}

// ExpireProposals flips the owner's ACTIVE proposals whose deadline has
// passed to EXPIRED and reports how many moved. Expiry is evaluated lazily;
// every proposal read path calls this first.
func (s *SQLiteStorage) ExpireProposals(ctx context.Context, ownerID string, now time.Time) (int64, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}
	if err := validateString(ownerID, "ownerID"); err != nil {
		return 0, err
	}
	return s.expireProposalsTx(ctx, s.db, ownerID, now)
}

func (s *SQLiteStorage) expireProposalsTx(ctx context.Context, q queryable, ownerID string, now time.Time) (int64, error) {
	result, err := q.ExecContext(ctx,
		`UPDATE proposals SET status = ? WHERE owner_id = ? AND status = ? AND expires_at <= ?`,
		string(model.ProposalExpired), ownerID, string(model.ProposalActive), now)
	if err != nil {
		return 0, fmt.Errorf("failed to expire proposals: %w", err)
	}

	expired, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to check expiry result: %w", err)
	}
	if expired > 0 {
		slog.Debug("expired proposals", "owner", ownerID, "count", expired)
	}
	return expired, nil
}

func scanProposal(row scanner) (*model.Proposal, error) {
	var proposal model.Proposal
	var typ, status, payload string
	var confidence sql.NullFloat64

	err := row.Scan(&proposal.ID, &proposal.OwnerID, &typ, &status, &proposal.Title,
		&proposal.Summary, &payload, &confidence, &proposal.Provider,
		&proposal.CreatedAt, &proposal.ExpiresAt)
	if err != nil {
		return nil, err
	}

	proposal.Type = model.ProposalType(typ)
	proposal.Status = model.ProposalStatus(status)
	proposal.Payload = json.RawMessage(payload)
	if confidence.Valid {
		proposal.Confidence = &confidence.Float64
	}
	return &proposal, nil
}
