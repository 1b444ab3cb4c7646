package models

import "time"

// Account holds the authoritative coin balance for one platform account.
// Rows are created lazily on the first ledger mutation and never deleted.
type Account struct {
	ID             string    `json:"id" db:"id"`
	Balance        int64     `json:"balance" db:"balance"` // smallest coin unit, never negative
	LifetimeEarned int64     `json:"lifetime_earned" db:"lifetime_earned"`
	LifetimeSpent  int64     `json:"lifetime_spent" db:"lifetime_spent"`
	Version        int       `json:"version" db:"version"` // for optimistic locking
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
}
