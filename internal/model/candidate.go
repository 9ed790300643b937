package model

import "time"

// SubscriptionCandidate is a recurring charge pattern detected during
// import, not yet confirmed as a tracked subscription. Occurrences counts
// the matched charges; CategoryGuess comes from source hints or merchant
// keywords and may be empty.
type SubscriptionCandidate struct {
	FirstSeen       time.Time
	LastSeen        time.Time
	NextBillingDate time.Time
	Name            string
	Currency        string
	CategoryGuess   string
	Source          string // "ofx", "plaid", or "simplefin"
	AccountID       string
	Interval        BillingInterval
	Amount          float64
	Occurrences     int
}

// ToSubscription converts an accepted candidate into a subscription for the
// given owner. The category guess becomes the category when present.
func (c *SubscriptionCandidate) ToSubscription(ownerID string) Subscription {
	sub := Subscription{
		OwnerID:         ownerID,
		Name:            c.Name,
		Amount:          c.Amount,
		Currency:        c.Currency,
		Interval:        c.Interval,
		NextBillingDate: c.NextBillingDate,
	}
	if c.CategoryGuess != "" {
		guess := c.CategoryGuess
		sub.Category = &guess
	}
	return sub
}
