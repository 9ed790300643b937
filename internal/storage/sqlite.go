package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/tmetzger/subtrack/internal/model"
	"github.com/tmetzger/subtrack/internal/service"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteStorage implements the Storage interface using SQLite.
type SQLiteStorage struct {
	db     *sql.DB
	dbPath string
}

// NewSQLiteStorage creates a new SQLite storage instance.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	// Validate input
	if err := validateString(dbPath, "dbPath"); err != nil {
		return nil, err
	}

	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// Open database
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(1) // SQLite doesn't benefit from multiple connections
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// Test connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &SQLiteStorage{
		db:     db,
		dbPath: dbPath,
	}, nil
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// BeginTx starts a new database transaction.
func (s *SQLiteStorage) BeginTx(ctx context.Context) (service.Transaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	return &sqliteTransaction{
		tx:      tx,
		storage: s,
	}, nil
}

// queryable is an interface satisfied by both *sql.DB and *sql.Tx.
type queryable interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// sqliteTransaction wraps sql.Tx to implement service.Transaction.
type sqliteTransaction struct {
	tx      *sql.Tx
	storage *SQLiteStorage
}

func (t *sqliteTransaction) Commit() error {
	return t.tx.Commit()
}

func (t *sqliteTransaction) Rollback() error {
	return t.tx.Rollback()
}

// Transaction methods delegate to the main storage with the transaction.
func (t *sqliteTransaction) CreateSubscription(ctx context.Context, sub *model.Subscription) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateSubscription(sub); err != nil {
		return err
	}
	return t.storage.createSubscriptionTx(ctx, t.tx, sub)
}

func (t *sqliteTransaction) GetSubscription(ctx context.Context, ownerID, id string) (*model.Subscription, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(ownerID, "ownerID"); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}
	return t.storage.getSubscriptionTx(ctx, t.tx, ownerID, id)
}

func (t *sqliteTransaction) GetSubscriptions(ctx context.Context, ownerID string) ([]model.Subscription, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(ownerID, "ownerID"); err != nil {
		return nil, err
	}
	return t.storage.getSubscriptionsTx(ctx, t.tx, ownerID)
}

func (t *sqliteTransaction) GetSubscriptionsByIDs(ctx context.Context, ownerID string, ids []string) ([]model.Subscription, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(ownerID, "ownerID"); err != nil {
		return nil, err
	}
	return t.storage.getSubscriptionsByIDsTx(ctx, t.tx, ownerID, ids)
}

func (t *sqliteTransaction) UpdateSubscription(ctx context.Context, sub *model.Subscription) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateSubscription(sub); err != nil {
		return err
	}
	return t.storage.updateSubscriptionTx(ctx, t.tx, sub)
}

func (t *sqliteTransaction) UpdateSubscriptionCategory(ctx context.Context, ownerID, id string, category *string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(ownerID, "ownerID"); err != nil {
		return err
	}
	if err := validateString(id, "id"); err != nil {
		return err
	}
	return t.storage.updateSubscriptionCategoryTx(ctx, t.tx, ownerID, id, category)
}

func (t *sqliteTransaction) DeleteSubscription(ctx context.Context, ownerID, id string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(ownerID, "ownerID"); err != nil {
		return err
	}
	if err := validateString(id, "id"); err != nil {
		return err
	}
	return t.storage.deleteSubscriptionTx(ctx, t.tx, ownerID, id)
}

func (t *sqliteTransaction) GetSpendSummary(ctx context.Context, ownerID string) (*service.SpendSummary, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(ownerID, "ownerID"); err != nil {
		return nil, err
	}
	return t.storage.getSpendSummaryTx(ctx, t.tx, ownerID)
}

func (t *sqliteTransaction) SaveProposal(ctx context.Context, proposal *model.Proposal) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateProposal(proposal); err != nil {
		return err
	}
	return t.storage.saveProposalTx(ctx, t.tx, proposal)
}

func (t *sqliteTransaction) GetProposal(ctx context.Context, ownerID, id string) (*model.Proposal, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(ownerID, "ownerID"); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}
	return t.storage.getProposalTx(ctx, t.tx, ownerID, id)
}

func (t *sqliteTransaction) GetProposals(ctx context.Context, ownerID string, statuses []model.ProposalStatus) ([]model.Proposal, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(ownerID, "ownerID"); err != nil {
		return nil, err
	}
	return t.storage.getProposalsTx(ctx, t.tx, ownerID, statuses)
}

func (t *sqliteTransaction) UpdateProposalStatus(ctx context.Context, ownerID, id string, from, to model.ProposalStatus) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(ownerID, "ownerID"); err != nil {
		return err
	}
	if err := validateString(id, "id"); err != nil {
		return err
	}
	return t.storage.updateProposalStatusTx(ctx, t.tx, ownerID, id, from, to)
}

func (t *sqliteTransaction) ExpireProposals(ctx context.Context, ownerID string, now time.Time) (int64, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}
	if err := validateString(ownerID, "ownerID"); err != nil {
		return 0, err
	}
	return t.storage.expireProposalsTx(ctx, t.tx, ownerID, now)
}

func (t *sqliteTransaction) SavePatch(ctx context.Context, patch *model.Patch) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validatePatch(patch); err != nil {
		return err
	}
	return t.storage.savePatchTx(ctx, t.tx, patch)
}

func (t *sqliteTransaction) GetPatch(ctx context.Context, ownerID, id string) (*model.Patch, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(ownerID, "ownerID"); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}
	return t.storage.getPatchTx(ctx, t.tx, ownerID, id)
}

func (t *sqliteTransaction) GetPatches(ctx context.Context, ownerID string) ([]model.Patch, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(ownerID, "ownerID"); err != nil {
		return nil, err
	}
	return t.storage.getPatchesTx(ctx, t.tx, ownerID)
}

func (t *sqliteTransaction) MarkPatchRolledBack(ctx context.Context, ownerID, id string, at time.Time) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(ownerID, "ownerID"); err != nil {
		return err
	}
	if err := validateString(id, "id"); err != nil {
		return err
	}
	return t.storage.markPatchRolledBackTx(ctx, t.tx, ownerID, id, at)
}

func (t *sqliteTransaction) AppendActionLog(ctx context.Context, entry *model.ActionLogEntry) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateActionLogEntry(entry); err != nil {
		return err
	}
	return t.storage.appendActionLogTx(ctx, t.tx, entry)
}

func (t *sqliteTransaction) GetActionLog(ctx context.Context, ownerID string, limit int) ([]model.ActionLogEntry, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(ownerID, "ownerID"); err != nil {
		return nil, err
	}
	return t.storage.getActionLogTx(ctx, t.tx, ownerID, limit)
}

func (t *sqliteTransaction) AppendAudit(ctx context.Context, entry *model.AuditEntry) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateAuditEntry(entry); err != nil {
		return err
	}
	return t.storage.appendAuditTx(ctx, t.tx, entry)
}

func (t *sqliteTransaction) GetAuditTrail(ctx context.Context, ownerID string, limit int) ([]model.AuditEntry, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(ownerID, "ownerID"); err != nil {
		return nil, err
	}
	return t.storage.getAuditTrailTx(ctx, t.tx, ownerID, limit)
}

func (t *sqliteTransaction) SetAssistEnabled(ctx context.Context, ownerID string, enabled bool) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(ownerID, "ownerID"); err != nil {
		return err
	}
	return t.storage.setAssistEnabledTx(ctx, t.tx, ownerID, enabled)
}

func (t *sqliteTransaction) GetAssistEnabled(ctx context.Context, ownerID string) (bool, error) {
	if err := validateContext(ctx); err != nil {
		return false, err
	}
	if err := validateString(ownerID, "ownerID"); err != nil {
		return false, err
	}
	return t.storage.getAssistEnabledTx(ctx, t.tx, ownerID)
}

func (t *sqliteTransaction) Migrate(_ context.Context) error {
	// Migrations should not be run within a transaction
	return fmt.Errorf("migrations cannot be run within a transaction")
}

func (t *sqliteTransaction) BeginTx(_ context.Context) (service.Transaction, error) {
	// Nested transactions not supported
	return nil, fmt.Errorf("nested transactions not supported")
}

func (t *sqliteTransaction) Close() error {
	// Transactions should be committed or rolled back, not closed
	return fmt.Errorf("transactions must be committed or rolled back, not closed")
}
