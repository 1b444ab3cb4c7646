package models

import "time"

// Quota subject types
const (
	SubjectAccount = "account"
	SubjectNetwork = "network"
)

// QuotaWindow tracks usage of one action tier by one subject inside one time
// window. Rows are created lazily and abandoned when the window key rolls over;
// retention cleanup is out-of-band housekeeping.
type QuotaWindow struct {
	ID          int64     `json:"id" db:"id"`
	Subject     string    `json:"subject" db:"subject"` // account id or network address
	SubjectType string    `json:"subject_type" db:"subject_type"`
	WindowKey   string    `json:"window_key" db:"window_key"` // e.g. 2025-03-14 or 2025-W11
	ActionType  string    `json:"action_type" db:"action_type"`
	Tier        string    `json:"tier" db:"tier"`
	CountUsed   int       `json:"count_used" db:"count_used"`
	Limit       int       `json:"limit" db:"usage_limit"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// Reservation is a booked slot in a quota tier. Counting is pessimistic: the
// slot is consumed at check time, before the rewarded action runs.
type Reservation struct {
	Tier             string   `json:"tier"`
	RewardMultiplier int64    `json:"reward_multiplier"`
	BonusAmount      int64    `json:"bonus_amount"`
	Paid             bool     `json:"paid"`
	EntryCost        int64    `json:"entry_cost,omitempty"`
	WindowKey        string   `json:"window_key"`
	ActionType       string   `json:"action_type"`
	Subjects         []string `json:"-"`
}
