package recurring

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmetzger/subtrack/internal/model"
)

func txn(date, merchant string, amount float64, account string) model.Transaction {
	d, err := time.Parse("2006-01-02", date)
	if err != nil {
		panic(err)
	}
	t := model.Transaction{
		Date:         d,
		ID:           merchant + "-" + date,
		Name:         merchant,
		MerchantName: merchant,
		AccountID:    account,
		Currency:     "USD",
		Amount:       amount,
	}
	t.Hash = t.GenerateHash()
	return t
}

func TestDetect_MonthlySubscription(t *testing.T) {
	detector := NewDetector()

	transactions := []model.Transaction{
		txn("2026-01-15", "Netflix", 15.99, "acct-1"),
		txn("2026-02-15", "Netflix", 15.99, "acct-1"),
		txn("2026-03-15", "Netflix", 15.99, "acct-1"),
		txn("2026-04-15", "Netflix", 15.99, "acct-1"),
	}

	candidates := detector.Detect(transactions, "ofx")
	require.Len(t, candidates, 1)

	c := candidates[0]
	assert.Equal(t, "Netflix", c.Name)
	assert.Equal(t, model.IntervalMonthly, c.Interval)
	assert.InDelta(t, 15.99, c.Amount, 0.001)
	assert.Equal(t, "USD", c.Currency)
	assert.Equal(t, "acct-1", c.AccountID)
	assert.Equal(t, "ofx", c.Source)
	assert.Equal(t, 4, c.Occurrences)
	assert.Equal(t, "Entertainment", c.CategoryGuess)
	assert.Equal(t, time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC), c.FirstSeen)
	assert.Equal(t, time.Date(2026, 4, 15, 0, 0, 0, 0, time.UTC), c.LastSeen)
	assert.Equal(t, time.Date(2026, 5, 15, 0, 0, 0, 0, time.UTC), c.NextBillingDate)
}

func TestDetect_YearlySubscription(t *testing.T) {
	detector := NewDetector()

	// Unsorted on purpose
	transactions := []model.Transaction{
		txn("2026-03-01", "Backblaze", 99.00, "acct-1"),
		txn("2025-03-01", "Backblaze", 99.00, "acct-1"),
	}

	candidates := detector.Detect(transactions, "ofx")
	require.Len(t, candidates, 1)

	c := candidates[0]
	assert.Equal(t, model.IntervalYearly, c.Interval)
	assert.Equal(t, 2, c.Occurrences)
	assert.Equal(t, "Cloud Storage", c.CategoryGuess)
	assert.Equal(t, time.Date(2027, 3, 1, 0, 0, 0, 0, time.UTC), c.NextBillingDate)
}

func TestDetect_TooFewMonthlyOccurrences(t *testing.T) {
	detector := NewDetector()

	transactions := []model.Transaction{
		txn("2026-01-15", "Spotify", 10.99, "acct-1"),
		txn("2026-02-15", "Spotify", 10.99, "acct-1"),
	}

	candidates := detector.Detect(transactions, "ofx")
	assert.Empty(t, candidates)
}

func TestDetect_IrregularGaps(t *testing.T) {
	detector := NewDetector()

	transactions := []model.Transaction{
		txn("2026-01-15", "Corner Cafe", 12.50, "acct-1"),
		txn("2026-02-15", "Corner Cafe", 12.50, "acct-1"),
		txn("2026-02-27", "Corner Cafe", 12.50, "acct-1"),
	}

	candidates := detector.Detect(transactions, "ofx")
	assert.Empty(t, candidates)
}

func TestDetect_VariableAmounts(t *testing.T) {
	detector := NewDetector()

	// Monthly cadence but wildly different amounts, like a utility bill
	transactions := []model.Transaction{
		txn("2026-01-10", "City Power", 42.00, "acct-1"),
		txn("2026-02-10", "City Power", 88.50, "acct-1"),
		txn("2026-03-10", "City Power", 61.25, "acct-1"),
	}

	candidates := detector.Detect(transactions, "ofx")
	assert.Empty(t, candidates)
}

func TestDetect_SmallPriceChangeTolerated(t *testing.T) {
	detector := NewDetector()

	transactions := []model.Transaction{
		txn("2026-01-20", "Hulu", 15.49, "acct-1"),
		txn("2026-02-20", "Hulu", 15.49, "acct-1"),
		txn("2026-03-20", "Hulu", 15.79, "acct-1"),
	}

	candidates := detector.Detect(transactions, "ofx")
	require.Len(t, candidates, 1)
	assert.InDelta(t, 15.79, candidates[0].Amount, 0.001)
}

func TestDetect_DuplicateChargesCollapsed(t *testing.T) {
	detector := NewDetector()

	duplicate := txn("2026-01-15", "Netflix", 15.99, "acct-1")
	duplicate.ID = "other-export-id"

	transactions := []model.Transaction{
		txn("2026-01-15", "Netflix", 15.99, "acct-1"),
		duplicate,
		txn("2026-02-15", "Netflix", 15.99, "acct-1"),
		txn("2026-03-15", "Netflix", 15.99, "acct-1"),
	}

	candidates := detector.Detect(transactions, "ofx")
	require.Len(t, candidates, 1)
	assert.Equal(t, 3, candidates[0].Occurrences)
}

func TestDetect_AccountsTrackedSeparately(t *testing.T) {
	detector := NewDetector()

	transactions := []model.Transaction{
		txn("2026-01-05", "Spotify", 10.99, "acct-1"),
		txn("2026-02-05", "Spotify", 10.99, "acct-1"),
		txn("2026-03-05", "Spotify", 10.99, "acct-1"),
		txn("2026-01-05", "Spotify", 10.99, "acct-2"),
		txn("2026-02-05", "Spotify", 10.99, "acct-2"),
		txn("2026-03-05", "Spotify", 10.99, "acct-2"),
	}

	candidates := detector.Detect(transactions, "ofx")
	require.Len(t, candidates, 2)
	assert.Equal(t, "acct-1", candidates[0].AccountID)
	assert.Equal(t, "acct-2", candidates[1].AccountID)
}

func TestDetect_FeedCategoryHintWins(t *testing.T) {
	detector := NewDetector()

	transactions := []model.Transaction{
		txn("2026-01-15", "Netflix", 15.99, "acct-1"),
		txn("2026-02-15", "Netflix", 15.99, "acct-1"),
		txn("2026-03-15", "Netflix", 15.99, "acct-1"),
	}
	transactions[1].Category = []string{"Service", "Streaming Services"}

	candidates := detector.Detect(transactions, "ofx")
	require.Len(t, candidates, 1)
	assert.Equal(t, "Streaming Services", candidates[0].CategoryGuess)
}

func TestDetect_CurrencyCarriedFromLatestCharge(t *testing.T) {
	detector := NewDetector()

	transactions := []model.Transaction{
		txn("2026-01-12", "Disney Plus", 11.99, "acct-1"),
		txn("2026-02-12", "Disney Plus", 11.99, "acct-1"),
		txn("2026-03-12", "Disney Plus", 11.99, "acct-1"),
	}
	for i := range transactions {
		transactions[i].Currency = "EUR"
	}

	candidates := detector.Detect(transactions, "ofx")
	require.Len(t, candidates, 1)
	assert.Equal(t, "EUR", candidates[0].Currency)
}

func TestDetect_EmptyInput(t *testing.T) {
	detector := NewDetector()
	assert.Empty(t, detector.Detect(nil, "ofx"))
}

func TestInferInterval(t *testing.T) {
	dates := func(ds ...string) []model.Transaction {
		txns := make([]model.Transaction, len(ds))
		for i, date := range ds {
			txns[i] = txn(date, "Merchant", 9.99, "acct-1")
		}
		return txns
	}

	tests := []struct {
		name   string
		txns   []model.Transaction
		want   model.BillingInterval
		wantOK bool
	}{
		{"clean monthly", dates("2026-01-01", "2026-02-01", "2026-03-01"), model.IntervalMonthly, true},
		{"monthly with drift", dates("2026-01-03", "2026-01-31", "2026-03-02"), model.IntervalMonthly, true},
		{"two charges only", dates("2026-01-01", "2026-02-01"), "", false},
		{"yearly pair", dates("2025-06-15", "2026-06-15"), model.IntervalYearly, true},
		{"weekly cadence", dates("2026-01-01", "2026-01-08", "2026-01-15"), "", false},
		{"one outlier gap", dates("2026-01-01", "2026-02-01", "2026-02-10"), "", false},
		{"single charge", dates("2026-01-01"), "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := inferInterval(tt.txns)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAmountsStable(t *testing.T) {
	amounts := func(as ...float64) []model.Transaction {
		txns := make([]model.Transaction, len(as))
		for i, a := range as {
			txns[i] = txn("2026-01-01", "Merchant", a, "acct-1")
		}
		return txns
	}

	assert.True(t, amountsStable(amounts(9.99, 9.99, 9.99)))
	assert.True(t, amountsStable(amounts(9.99, 10.29)))
	assert.True(t, amountsStable(amounts(200.00, 203.00)))
	assert.False(t, amountsStable(amounts(9.99, 19.99)))
	assert.False(t, amountsStable(amounts(200.00, 210.00)))
}
