// Package model defines the core domain models used throughout the application.
package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// BillingInterval is how often a subscription renews.
type BillingInterval string

// Billing interval constants.
const (
	IntervalMonthly BillingInterval = "MONTHLY"
	IntervalYearly  BillingInterval = "YEARLY"
)

// Valid reports whether the interval is a known billing interval.
func (b BillingInterval) Valid() bool {
	switch b {
	case IntervalMonthly, IntervalYearly:
		return true
	default:
		return false
	}
}

// Subscription represents a recurring paid service tracked for one owner.
type Subscription struct {
	CreatedAt       time.Time
	UpdatedAt       time.Time
	NextBillingDate time.Time
	ID              string
	OwnerID         string
	Name            string
	Currency        string
	Notes           string
	Category        *string // nil means uncategorized
	Interval        BillingInterval
	Amount          float64
	IsTrial         bool
}

// Validate checks that the subscription is internally consistent.
func (s *Subscription) Validate() error {
	if s == nil {
		return errors.New("subscription is nil")
	}
	if strings.TrimSpace(s.Name) == "" {
		return errors.New("subscription name cannot be empty")
	}
	if s.Amount < 0 {
		return fmt.Errorf("subscription amount cannot be negative: %f", s.Amount)
	}
	if len(s.Currency) != 3 {
		return fmt.Errorf("currency must be a 3-letter ISO code, got %q", s.Currency)
	}
	if !s.Interval.Valid() {
		return fmt.Errorf("invalid billing interval: %q", s.Interval)
	}
	if s.Category != nil && strings.TrimSpace(*s.Category) == "" {
		return errors.New("category cannot be blank; use nil for uncategorized")
	}
	return nil
}

// MonthlyAmount normalizes the subscription cost to a per-month figure.
func (s *Subscription) MonthlyAmount() float64 {
	if s.Interval == IntervalYearly {
		return s.Amount / 12
	}
	return s.Amount
}

// SubscriptionSummary is the redacted view of a subscription that may be
// shared with a recommendation backend. It carries billing facts only; no
// owner or account identifiers ever appear here.
type SubscriptionSummary struct {
	NextBillingDate time.Time
	SubscriptionID  string
	Name            string
	Currency        string
	Category        *string
	Interval        BillingInterval
	Amount          float64
	IsTrial         bool
}

// Summarize produces the redacted backend view of a subscription.
func (s *Subscription) Summarize() SubscriptionSummary {
	return SubscriptionSummary{
		SubscriptionID:  s.ID,
		Name:            s.Name,
		Amount:          s.Amount,
		Currency:        s.Currency,
		Interval:        s.Interval,
		NextBillingDate: s.NextBillingDate,
		Category:        s.Category,
		IsTrial:         s.IsTrial,
	}
}
