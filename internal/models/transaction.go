package models

import (
	"encoding/json"
	"time"
)

// Transaction directions
const (
	DirectionCredit = "CREDIT"
	DirectionDebit  = "DEBIT"
)

// Transaction categories
const (
	CategoryVoting        = "voting"
	CategorySpinning      = "spinning"
	CategoryCasino        = "casino"
	CategoryStorePurchase = "store_purchase"
	CategoryAdjustment    = "adjustment"
	CategoryRefund        = "refund"
)

// Metadata is the free-form JSON blob attached to a transaction.
type Metadata map[string]any

// Value marshals metadata for storage in a JSONB column.
func (m Metadata) Value() ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

// Transaction is one immutable entry in the append-only transaction log.
// BalanceAfter always equals BalanceBefore + Amount, and an account's current
// balance equals its latest transaction's BalanceAfter.
type Transaction struct {
	ID            string    `json:"id" db:"id"`
	AccountID     string    `json:"account_id" db:"account_id"`
	Direction     string    `json:"direction" db:"direction"` // CREDIT or DEBIT
	Category      string    `json:"category" db:"category"`
	Amount        int64     `json:"amount" db:"amount"` // signed, smallest coin unit
	BalanceBefore int64     `json:"balance_before" db:"balance_before"`
	BalanceAfter  int64     `json:"balance_after" db:"balance_after"`
	Description   string    `json:"description" db:"description"`
	Metadata      Metadata  `json:"metadata,omitempty" db:"metadata"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

// ValidCategory reports whether c is a known transaction category.
func ValidCategory(c string) bool {
	switch c {
	case CategoryVoting, CategorySpinning, CategoryCasino,
		CategoryStorePurchase, CategoryAdjustment, CategoryRefund:
		return true
	}
	return false
}
