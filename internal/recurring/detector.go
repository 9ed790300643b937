// Package recurring detects recurring charges in imported transaction feeds.
//
// The detector groups transactions by merchant and account, then looks for
// runs of near-identical amounts spaced at a monthly or yearly cadence.
// Irregular runs are dropped rather than guessed at; a missed signal costs
// one manual `subscription add`, a false one pollutes the tracker.
package recurring

import (
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/tmetzger/subtrack/internal/model"
)

const (
	// Cadence windows, in days between consecutive charges. Billing dates
	// drift around month boundaries and weekends, so the windows are wide.
	monthlyGapMin = 25
	monthlyGapMax = 35
	yearlyGapMin  = 330
	yearlyGapMax  = 400

	// A candidate needs enough charges to rule out coincidence. Yearly
	// charges are rare enough that two matching gaps a year apart suffice.
	minMonthlyOccurrences = 3
	minYearlyOccurrences  = 2

	// Amounts in a run may wobble by small fees or a price change.
	amountTolerancePct = 0.02
	amountToleranceAbs = 0.50
)

// Detector finds subscription candidates in raw transactions.
type Detector struct {
	logger *slog.Logger
}

// NewDetector creates a detector that logs with the default logger.
func NewDetector() *Detector {
	return &Detector{
		logger: slog.Default().With("component", "recurring"),
	}
}

type groupKey struct {
	merchant  string
	accountID string
}

// Detect scans transactions for recurring charge patterns and returns the
// candidates it is confident about, sorted by name. The source tag is
// carried onto each candidate so imports can be traced later.
func (d *Detector) Detect(transactions []model.Transaction, source string) []model.SubscriptionCandidate {
	groups := d.groupByMerchant(transactions)

	candidates := make([]model.SubscriptionCandidate, 0)
	for key, txns := range groups {
		candidate, ok := d.analyzeGroup(key, txns, source)
		if !ok {
			continue
		}
		candidates = append(candidates, candidate)
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Name != candidates[j].Name {
			return candidates[i].Name < candidates[j].Name
		}
		return candidates[i].AccountID < candidates[j].AccountID
	})

	d.logger.Info("Recurring charge scan complete",
		"transactions", len(transactions),
		"merchants", len(groups),
		"candidates", len(candidates))

	return candidates
}

// groupByMerchant groups transactions by normalized merchant name and
// account. The same merchant billed to two accounts is two potential
// subscriptions.
func (d *Detector) groupByMerchant(transactions []model.Transaction) map[groupKey][]model.Transaction {
	groups := make(map[groupKey][]model.Transaction)

	for _, txn := range transactions {
		merchant := txn.MerchantName
		if merchant == "" {
			merchant = txn.Name // Fallback to raw name
		}
		merchant = strings.TrimSpace(merchant)
		if merchant == "" {
			continue
		}

		key := groupKey{
			merchant:  strings.ToUpper(merchant),
			accountID: txn.AccountID,
		}
		groups[key] = append(groups[key], txn)
	}

	return groups
}

// analyzeGroup decides whether one merchant's charges form a subscription.
func (d *Detector) analyzeGroup(key groupKey, txns []model.Transaction, source string) (model.SubscriptionCandidate, bool) {
	txns = dedupeByHash(txns)
	if len(txns) < minYearlyOccurrences {
		return model.SubscriptionCandidate{}, false
	}

	sort.Slice(txns, func(i, j int) bool {
		return txns[i].Date.Before(txns[j].Date)
	})

	interval, ok := inferInterval(txns)
	if !ok {
		d.logger.Debug("Skipping irregular charge run",
			"merchant", key.merchant,
			"occurrences", len(txns))
		return model.SubscriptionCandidate{}, false
	}

	if !amountsStable(txns) {
		d.logger.Debug("Skipping variable-amount charge run",
			"merchant", key.merchant,
			"occurrences", len(txns))
		return model.SubscriptionCandidate{}, false
	}

	latest := txns[len(txns)-1]

	name := latest.MerchantName
	if name == "" {
		name = latest.Name
	}
	name = strings.TrimSpace(name)

	currency := latest.Currency
	if currency == "" {
		currency = "USD"
	}

	next := latest.Date.AddDate(0, 1, 0)
	if interval == model.IntervalYearly {
		next = latest.Date.AddDate(1, 0, 0)
	}

	return model.SubscriptionCandidate{
		FirstSeen:       txns[0].Date,
		LastSeen:        latest.Date,
		NextBillingDate: next,
		Name:            name,
		Currency:        currency,
		CategoryGuess:   guessCategory(txns, key.merchant),
		Source:          source,
		AccountID:       key.accountID,
		Interval:        interval,
		Amount:          latest.Amount,
		Occurrences:     len(txns),
	}, true
}

// dedupeByHash drops duplicate charges. Overlapping OFX exports routinely
// contain the same transaction twice.
func dedupeByHash(txns []model.Transaction) []model.Transaction {
	seen := make(map[string]bool, len(txns))
	out := make([]model.Transaction, 0, len(txns))
	for _, txn := range txns {
		hash := txn.Hash
		if hash == "" {
			hash = txn.GenerateHash()
		}
		if seen[hash] {
			continue
		}
		seen[hash] = true
		out = append(out, txn)
	}
	return out
}

// inferInterval classifies the gaps between consecutive charges. Every gap
// must land in the same cadence window; one outlier disqualifies the run.
func inferInterval(txns []model.Transaction) (model.BillingInterval, bool) {
	if len(txns) < 2 {
		return "", false
	}

	monthly := true
	yearly := true
	for i := 1; i < len(txns); i++ {
		gap := txns[i].Date.Sub(txns[i-1].Date).Hours() / 24
		if gap < monthlyGapMin || gap > monthlyGapMax {
			monthly = false
		}
		if gap < yearlyGapMin || gap > yearlyGapMax {
			yearly = false
		}
	}

	switch {
	case monthly && len(txns) >= minMonthlyOccurrences:
		return model.IntervalMonthly, true
	case yearly && len(txns) >= minYearlyOccurrences:
		return model.IntervalYearly, true
	default:
		return "", false
	}
}

// amountsStable reports whether the run's amounts stay within tolerance of
// each other.
func amountsStable(txns []model.Transaction) bool {
	minAmount := txns[0].Amount
	maxAmount := txns[0].Amount
	for _, txn := range txns[1:] {
		if txn.Amount < minAmount {
			minAmount = txn.Amount
		}
		if txn.Amount > maxAmount {
			maxAmount = txn.Amount
		}
	}

	tolerance := maxAmount * amountTolerancePct
	if tolerance < amountToleranceAbs {
		tolerance = amountToleranceAbs
	}
	return maxAmount-minAmount <= tolerance
}

// categoryKeywords maps merchant name fragments to category guesses. The
// source feed's own category hint always wins over this table.
var categoryKeywords = []struct {
	keyword  string
	category string
}{
	{"NETFLIX", "Entertainment"},
	{"HULU", "Entertainment"},
	{"DISNEY", "Entertainment"},
	{"HBO", "Entertainment"},
	{"PARAMOUNT", "Entertainment"},
	{"SPOTIFY", "Music"},
	{"PANDORA", "Music"},
	{"AUDIBLE", "Books"},
	{"KINDLE", "Books"},
	{"ICLOUD", "Cloud Storage"},
	{"DROPBOX", "Cloud Storage"},
	{"BACKBLAZE", "Cloud Storage"},
	{"GOOGLE STORAGE", "Cloud Storage"},
	{"GITHUB", "Software"},
	{"JETBRAINS", "Software"},
	{"ADOBE", "Software"},
	{"1PASSWORD", "Software"},
	{"NYTIMES", "News"},
	{"WSJ", "News"},
	{"ECONOMIST", "News"},
	{"PELOTON", "Fitness"},
	{"STRAVA", "Fitness"},
	{"GYM", "Fitness"},
}

// guessCategory picks a category for the run. Feed-provided hints are
// preferred; otherwise the merchant name is matched against keywords.
func guessCategory(txns []model.Transaction, merchant string) string {
	for _, txn := range txns {
		if len(txn.Category) > 0 {
			return txn.Category[len(txn.Category)-1]
		}
	}

	for _, entry := range categoryKeywords {
		if strings.Contains(merchant, entry.keyword) {
			return entry.category
		}
	}
	return ""
}
