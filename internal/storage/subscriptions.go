package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tmetzger/subtrack/internal/model"
	"github.com/tmetzger/subtrack/internal/service"
)

const subscriptionColumns = `id, owner_id, name, amount, currency, billing_interval,
	next_billing_date, category, is_trial, notes, created_at, updated_at`

// CreateSubscription inserts a new subscription.
func (s *SQLiteStorage) CreateSubscription(ctx context.Context, sub *model.Subscription) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateSubscription(sub); err != nil {
		return err
	}
	return s.createSubscriptionTx(ctx, s.db, sub)
}

func (s *SQLiteStorage) createSubscriptionTx(ctx context.Context, q queryable, sub *model.Subscription) error {
	now := time.Now()
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = now
	}
	sub.UpdatedAt = now

	query := `
		INSERT INTO subscriptions (id, owner_id, name, amount, currency, billing_interval,
			next_billing_date, category, is_trial, notes, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := q.ExecContext(ctx, query,
		sub.ID, sub.OwnerID, sub.Name, sub.Amount, sub.Currency, string(sub.Interval),
		sub.NextBillingDate, sub.Category, sub.IsTrial, sub.Notes, sub.CreatedAt, sub.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create subscription: %w", err)
	}

	slog.Debug("created subscription", "id", sub.ID, "name", sub.Name)
	return nil
}

// GetSubscription returns one subscription by id, or nil if the owner has no
// such subscription.
func (s *SQLiteStorage) GetSubscription(ctx context.Context, ownerID, id string) (*model.Subscription, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(ownerID, "ownerID"); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}
	return s.getSubscriptionTx(ctx, s.db, ownerID, id)
}

func (s *SQLiteStorage) getSubscriptionTx(ctx context.Context, q queryable, ownerID, id string) (*model.Subscription, error) {
	query := fmt.Sprintf(`SELECT %s FROM subscriptions WHERE owner_id = ? AND id = ?`, subscriptionColumns)

	sub, err := scanSubscription(q.QueryRowContext(ctx, query, ownerID, id))
	if err == sql.ErrNoRows {
		return nil, nil // Subscription not found
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query subscription: %w", err)
	}
	return sub, nil
}

// GetSubscriptions returns all of an owner's subscriptions sorted by name.
func (s *SQLiteStorage) GetSubscriptions(ctx context.Context, ownerID string) ([]model.Subscription, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(ownerID, "ownerID"); err != nil {
		return nil, err
	}
	return s.getSubscriptionsTx(ctx, s.db, ownerID)
}

func (s *SQLiteStorage) getSubscriptionsTx(ctx context.Context, q queryable, ownerID string) ([]model.Subscription, error) {
	query := fmt.Sprintf(`SELECT %s FROM subscriptions WHERE owner_id = ? ORDER BY name COLLATE NOCASE`, subscriptionColumns)

	rows, err := q.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query subscriptions: %w", err)
	}
	defer rows.Close()

	return collectSubscriptions(rows)
}

// GetSubscriptionsByIDs returns the owner's subscriptions matching the given
// ids. Missing ids are simply absent from the result; the caller decides
// whether that is an error.
func (s *SQLiteStorage) GetSubscriptionsByIDs(ctx context.Context, ownerID string, ids []string) ([]model.Subscription, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(ownerID, "ownerID"); err != nil {
		return nil, err
	}
	return s.getSubscriptionsByIDsTx(ctx, s.db, ownerID, ids)
}

func (s *SQLiteStorage) getSubscriptionsByIDsTx(ctx context.Context, q queryable, ownerID string, ids []string) ([]model.Subscription, error) {
	if len(ids) == 0 {
		return []model.Subscription{}, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	query := fmt.Sprintf(`SELECT %s FROM subscriptions WHERE owner_id = ? AND id IN (%s)`,
		subscriptionColumns, placeholders)

	args := make([]any, 0, len(ids)+1)
	args = append(args, ownerID)
	for _, id := range ids {
		args = append(args, id)
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query subscriptions by ids: %w", err)
	}
	defer rows.Close()

	return collectSubscriptions(rows)
}

// UpdateSubscription rewrites a subscription's mutable fields.
func (s *SQLiteStorage) UpdateSubscription(ctx context.Context, sub *model.Subscription) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateSubscription(sub); err != nil {
		return err
	}
	return s.updateSubscriptionTx(ctx, s.db, sub)
}

func (s *SQLiteStorage) updateSubscriptionTx(ctx context.Context, q queryable, sub *model.Subscription) error {
	sub.UpdatedAt = time.Now()

	query := `
		UPDATE subscriptions
		SET name = ?, amount = ?, currency = ?, billing_interval = ?,
			next_billing_date = ?, category = ?, is_trial = ?, notes = ?, updated_at = ?
		WHERE owner_id = ? AND id = ?`

	result, err := q.ExecContext(ctx, query,
		sub.Name, sub.Amount, sub.Currency, string(sub.Interval),
		sub.NextBillingDate, sub.Category, sub.IsTrial, sub.Notes, sub.UpdatedAt,
		sub.OwnerID, sub.ID)
	if err != nil {
		return fmt.Errorf("failed to update subscription: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: subscription %s", ErrNotFound, sub.ID)
	}
	return nil
}

// UpdateSubscriptionCategory sets a subscription's category. A nil category
// clears it back to uncategorized.
func (s *SQLiteStorage) UpdateSubscriptionCategory(ctx context.Context, ownerID, id string, category *string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(ownerID, "ownerID"); err != nil {
		return err
	}
	if err := validateString(id, "id"); err != nil {
		return err
	}
	return s.updateSubscriptionCategoryTx(ctx, s.db, ownerID, id, category)
}

func (s *SQLiteStorage) updateSubscriptionCategoryTx(ctx context.Context, q queryable, ownerID, id string, category *string) error {
	query := `UPDATE subscriptions SET category = ?, updated_at = ? WHERE owner_id = ? AND id = ?`

	result, err := q.ExecContext(ctx, query, category, time.Now(), ownerID, id)
	if err != nil {
		return fmt.Errorf("failed to update subscription category: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: subscription %s", ErrNotFound, id)
	}
	return nil
}

// DeleteSubscription removes a subscription.
func (s *SQLiteStorage) DeleteSubscription(ctx context.Context, ownerID, id string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(ownerID, "ownerID"); err != nil {
		return err
	}
	if err := validateString(id, "id"); err != nil {
		return err
	}
	return s.deleteSubscriptionTx(ctx, s.db, ownerID, id)
}

func (s *SQLiteStorage) deleteSubscriptionTx(ctx context.Context, q queryable, ownerID, id string) error {
	result, err := q.ExecContext(ctx, `DELETE FROM subscriptions WHERE owner_id = ? AND id = ?`, ownerID, id)
	if err != nil {
		return fmt.Errorf("failed to delete subscription: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check delete result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: subscription %s", ErrNotFound, id)
	}

	slog.Debug("deleted subscription", "id", id)
	return nil
}

// GetSpendSummary aggregates the owner's subscription spend normalized to
// monthly figures.
func (s *SQLiteStorage) GetSpendSummary(ctx context.Context, ownerID string) (*service.SpendSummary, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(ownerID, "ownerID"); err != nil {
		return nil, err
	}
	return s.getSpendSummaryTx(ctx, s.db, ownerID)
}

func (s *SQLiteStorage) getSpendSummaryTx(ctx context.Context, q queryable, ownerID string) (*service.SpendSummary, error) {
	summary := &service.SpendSummary{
		ByCategory: make(map[string]service.CategorySummary),
	}

	query := `
		SELECT COALESCE(category, ''), COUNT(*),
			COALESCE(SUM(CASE WHEN billing_interval = 'YEARLY' THEN amount / 12.0 ELSE amount END), 0)
		FROM subscriptions
		WHERE owner_id = ?
		GROUP BY COALESCE(category, '')`

	rows, err := q.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query spend summary: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var category string
		var count int
		var monthly float64
		if err := rows.Scan(&category, &count, &monthly); err != nil {
			return nil, fmt.Errorf("failed to scan spend summary: %w", err)
		}

		summary.Subscriptions += count
		summary.MonthlyTotal += monthly
		if category == "" {
			summary.Uncategorized = count
		} else {
			summary.ByCategory[category] = service.CategorySummary{Count: count, MonthlyTotal: monthly}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating spend summary: %w", err)
	}

	summary.YearlyTotal = summary.MonthlyTotal * 12
	return summary, nil
}

// scanner abstracts sql.Row and sql.Rows for single-record scans.
type scanner interface {
	Scan(dest ...any) error
}

func scanSubscription(row scanner) (*model.Subscription, error) {
	var sub model.Subscription
	var interval string
	var category sql.NullString
	var nextBilling sql.NullTime

	err := row.Scan(&sub.ID, &sub.OwnerID, &sub.Name, &sub.Amount, &sub.Currency, &interval,
		&nextBilling, &category, &sub.IsTrial, &sub.Notes, &sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		return nil, err
	}

	sub.Interval = model.BillingInterval(interval)
	if category.Valid {
		sub.Category = &category.String
	}
	if nextBilling.Valid {
		sub.NextBillingDate = nextBilling.Time
	}
	return &sub, nil
}

func collectSubscriptions(rows *sql.Rows) ([]model.Subscription, error) {
	var subs []model.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan subscription: %w", err)
		}
		subs = append(subs, *sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating subscriptions: %w", err)
	}
	return subs, nil
}
