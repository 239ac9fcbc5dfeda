package model

import (
	"crypto/sha256"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Transaction is the record the engine classifies. It is supplied by the
// caller and never mutated by the engine.
type Transaction struct {
	Date         time.Time
	Amount       decimal.Decimal
	ID           string // Optional caller correlation key
	MerchantName string
	Description  string
}

// SearchText joins merchant and description for keyword style matching.
func (t *Transaction) SearchText() string {
	switch {
	case t.MerchantName == "":
		return t.Description
	case t.Description == "":
		return t.MerchantName
	}
	return t.MerchantName + " " + t.Description
}

// DisplayName returns the best human label for the transaction.
func (t *Transaction) DisplayName() string {
	if name := strings.TrimSpace(t.MerchantName); name != "" {
		return name
	}
	return strings.TrimSpace(t.Description)
}

// GenerateHash creates a stable key for the record, used when the caller did
// not provide an ID.
func (t *Transaction) GenerateHash() string {
	data := fmt.Sprintf("%s:%s:%s:%s",
		t.Date.Format(time.RFC3339),
		t.Amount.StringFixed(2),
		t.MerchantName,
		t.Description)
	hash := sha256.Sum256([]byte(data))
	return fmt.Sprintf("%x", hash)
}
