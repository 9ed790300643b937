package model

import (
	"crypto/sha256"
	"fmt"
	"time"
)

// Transaction is a single raw bank charge from an import source (OFX file,
// Plaid, or SimpleFIN). Imports fold recurring charges into subscription
// candidates; transactions themselves are not persisted.
type Transaction struct {
	Date         time.Time
	ID           string
	Name         string // Raw statement description
	MerchantName string // Cleaned merchant name
	AccountID    string
	Currency     string // ISO code from the source, may be empty
	Hash         string
	Amount       float64

	// Optional hints that may be available depending on source
	Category []string // Category hints from source (e.g., Plaid categories)
	Type     string   // Transaction type (e.g., DEBIT, PAYMENT)
}

// GenerateHash creates a unique hash for duplicate detection.
func (t *Transaction) GenerateHash() string {
	data := fmt.Sprintf("%s:%.2f:%s:%s",
		t.Date.Format("2006-01-02"),
		t.Amount,
		t.MerchantName,
		t.AccountID)
	hash := sha256.Sum256([]byte(data))
	return fmt.Sprintf("%x", hash)
}
