// Package simplefin fetches bank transactions over the SimpleFIN protocol.
// A one-time setup token is claimed for a long-lived access URL, which is
// then polled for account data.
package simplefin

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tmetzger/subtrack/internal/model"
	"github.com/tmetzger/subtrack/internal/service"
)

// Client fetches transactions from a SimpleFIN bridge.
type Client struct {
	accessURL  string
	httpClient *http.Client
}

// Ensure Client can serve as an import source.
var _ service.TransactionSource = (*Client)(nil)

// SimpleFIN wire types. Amounts arrive as decimal strings ("-12.99").
type accountSet struct {
	Accounts []account `json:"accounts"`
}

type account struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	Currency     string        `json:"currency"`
	Balance      string        `json:"balance"`
	Transactions []transaction `json:"transactions"`
}

type transaction struct {
	ID          string `json:"id"`
	Posted      int64  `json:"posted"`
	Amount      string `json:"amount"`
	Description string `json:"description"`
	Payee       string `json:"payee"`
	Pending     bool   `json:"pending"`
}

// NewClient creates a SimpleFIN client. The setup token is claimed on first
// use; afterwards the saved access URL is reused and the token may be empty.
func NewClient(token string) (*Client, error) {
	auth, err := LoadOrClaimAuth(token)
	if err != nil {
		return nil, err
	}

	return &Client{
		accessURL: auth.AccessURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}, nil
}

// claimToken exchanges a one-time setup token for a long-lived access URL.
// Setup tokens are base64-encoded claim URLs.
func claimToken(token string) (string, error) {
	decoded, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		decoded, err = base64.StdEncoding.DecodeString(token)
		if err != nil {
			return "", fmt.Errorf("failed to decode SimpleFIN token: %w", err)
		}
	}

	claimURL := strings.TrimSpace(string(decoded))
	if !strings.HasPrefix(claimURL, "http://") && !strings.HasPrefix(claimURL, "https://") {
		return "", fmt.Errorf("decoded token is not a claim URL: %s", claimURL)
	}

	httpClient := &http.Client{Timeout: 30 * time.Second}

	req, err := http.NewRequest(http.MethodPost, claimURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create claim request: %w", err)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to claim access URL: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("SimpleFIN claim failed: %d - %s", resp.StatusCode, string(body))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read access URL: %w", err)
	}

	accessURL := strings.TrimSpace(string(body))
	if !strings.HasPrefix(accessURL, "http://") && !strings.HasPrefix(accessURL, "https://") {
		return "", fmt.Errorf("invalid access URL received: %s", accessURL)
	}

	return accessURL, nil
}

// GetTransactions fetches posted transactions in the date range across every
// account behind the access URL.
func (c *Client) GetTransactions(ctx context.Context, startDate, endDate time.Time) ([]model.Transaction, error) {
	query := url.Values{}
	query.Set("start-date", strconv.FormatInt(startDate.Unix(), 10))
	// end-date is exclusive, so extend by a day to include endDate itself
	query.Set("end-date", strconv.FormatInt(endDate.AddDate(0, 0, 1).Unix(), 10))

	slog.Debug("Requesting SimpleFIN transactions",
		"start_date", startDate.Format("2006-01-02"),
		"end_date", endDate.Format("2006-01-02"))

	set, err := c.fetchAccounts(ctx, query)
	if err != nil {
		return nil, err
	}

	var transactions []model.Transaction
	for _, acct := range set.Accounts {
		for _, tx := range acct.Transactions {
			if tx.Pending {
				continue
			}

			date := time.Unix(tx.Posted, 0)
			if date.Before(startDate) || date.After(endDate) {
				continue
			}

			amount, err := parseAmount(tx.Amount)
			if err != nil {
				return nil, fmt.Errorf("failed to parse amount %q: %w", tx.Amount, err)
			}

			modelTx := model.Transaction{
				ID:           fmt.Sprintf("%s_%s", acct.ID, tx.ID),
				Date:         date,
				Name:         tx.Description,
				MerchantName: cleanMerchant(tx.Payee, tx.Description),
				Amount:       amount,
				AccountID:    acct.ID,
				Currency:     acct.Currency,
			}
			modelTx.Hash = modelTx.GenerateHash()

			transactions = append(transactions, modelTx)
		}
	}

	return transactions, nil
}

// GetAccounts returns the account IDs visible behind the access URL.
func (c *Client) GetAccounts(ctx context.Context) ([]string, error) {
	// balances-only omits transaction lists; we only want account metadata
	set, err := c.fetchAccounts(ctx, url.Values{"balances-only": {"1"}})
	if err != nil {
		return nil, err
	}

	var accountIDs []string
	for _, acct := range set.Accounts {
		accountIDs = append(accountIDs, acct.ID)
	}

	return accountIDs, nil
}

func (c *Client) fetchAccounts(ctx context.Context, query url.Values) (*accountSet, error) {
	u, err := url.Parse(c.accessURL + "/accounts")
	if err != nil {
		return nil, fmt.Errorf("failed to parse access URL: %w", err)
	}
	u.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch data: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("SimpleFIN API error: %d - %s", resp.StatusCode, string(body))
	}

	var set accountSet
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return &set, nil
}

// parseAmount converts a SimpleFIN decimal amount string to a positive
// float64. Debits arrive negative; the recurring scanner expects charge
// amounts to be positive.
func parseAmount(amountStr string) (float64, error) {
	amount, err := strconv.ParseFloat(strings.TrimSpace(amountStr), 64)
	if err != nil {
		return 0, err
	}
	if amount < 0 {
		amount = -amount
	}
	return amount, nil
}

// cleanMerchant picks the best merchant name and strips corporate suffixes.
func cleanMerchant(payee, description string) string {
	merchant := strings.TrimSpace(payee)
	if merchant == "" {
		merchant = strings.TrimSpace(description)
	}

	upper := strings.ToUpper(merchant)
	for _, suffix := range []string{" LLC", " INC", " CORP", " LTD"} {
		if strings.HasSuffix(upper, suffix) {
			merchant = strings.TrimSpace(merchant[:len(merchant)-len(suffix)])
			break
		}
	}

	return strings.Join(strings.Fields(merchant), " ")
}
