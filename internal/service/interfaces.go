// Package service defines the interfaces for all application services.
package service

import (
	"context"
	"time"

	"github.com/tmetzger/subtrack/internal/model"
)

// Storage defines the contract for our persistence layer. All reads and
// writes are scoped to an owner; a record belonging to another owner is
// indistinguishable from a missing one.
type Storage interface {
	// Subscription operations
	CreateSubscription(ctx context.Context, sub *model.Subscription) error
	GetSubscription(ctx context.Context, ownerID, id string) (*model.Subscription, error)
	GetSubscriptions(ctx context.Context, ownerID string) ([]model.Subscription, error)
	GetSubscriptionsByIDs(ctx context.Context, ownerID string, ids []string) ([]model.Subscription, error)
	UpdateSubscription(ctx context.Context, sub *model.Subscription) error
	UpdateSubscriptionCategory(ctx context.Context, ownerID, id string, category *string) error
	DeleteSubscription(ctx context.Context, ownerID, id string) error
	GetSpendSummary(ctx context.Context, ownerID string) (*SpendSummary, error)

	// Proposal operations
	SaveProposal(ctx context.Context, proposal *model.Proposal) error
	GetProposal(ctx context.Context, ownerID, id string) (*model.Proposal, error)
	GetProposals(ctx context.Context, ownerID string, statuses []model.ProposalStatus) ([]model.Proposal, error)
	UpdateProposalStatus(ctx context.Context, ownerID, id string, from, to model.ProposalStatus) error
	ExpireProposals(ctx context.Context, ownerID string, now time.Time) (int64, error)

	// Patch operations
	SavePatch(ctx context.Context, patch *model.Patch) error
	GetPatch(ctx context.Context, ownerID, id string) (*model.Patch, error)
	GetPatches(ctx context.Context, ownerID string) ([]model.Patch, error)
	MarkPatchRolledBack(ctx context.Context, ownerID, id string, at time.Time) error

	// Action log operations (append-only)
	AppendActionLog(ctx context.Context, entry *model.ActionLogEntry) error
	GetActionLog(ctx context.Context, ownerID string, limit int) ([]model.ActionLogEntry, error)

	// Audit trail operations (append-only)
	AppendAudit(ctx context.Context, entry *model.AuditEntry) error
	GetAuditTrail(ctx context.Context, ownerID string, limit int) ([]model.AuditEntry, error)

	// Assistant settings
	SetAssistEnabled(ctx context.Context, ownerID string, enabled bool) error
	GetAssistEnabled(ctx context.Context, ownerID string) (bool, error)

	// Database management
	Migrate(ctx context.Context) error
	BeginTx(ctx context.Context) (Transaction, error)
	Close() error
}

// Transaction represents a database transaction.
type Transaction interface {
	Commit() error
	Rollback() error
	// Include all Storage methods for use within transaction
	Storage
}

// TransactionSource is a bank-data backend that can list accounts and fetch
// raw transactions for a date window.
type TransactionSource interface {
	GetAccounts(ctx context.Context) ([]string, error)
	GetTransactions(ctx context.Context, startDate, endDate time.Time) ([]model.Transaction, error)
}

// CategorySummary contains aggregated statistics for a category.
type CategorySummary struct {
	Count        int
	MonthlyTotal float64
}

// SpendSummary aggregates an owner's subscription spend, normalized to
// monthly figures.
type SpendSummary struct {
	ByCategory    map[string]CategorySummary
	Subscriptions int
	Uncategorized int
	MonthlyTotal  float64
	YearlyTotal   float64
}

// RetryOptions configures retry behavior for operations.
type RetryOptions struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}
