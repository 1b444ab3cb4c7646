package models

import "time"

// Prize categories
const (
	PrizeFlatMultiplier = "flat-multiplier"
	PrizeJackpot        = "jackpot"
)

// TotalWeightBP is the fixed weight space for a prize table. A prize's weight
// IS its win probability in basis points (1 bp = 0.01%), so an active table's
// weights must sum to at most 10000; the remainder is the implicit "no win"
// band.
const TotalWeightBP = 10000

// PrizeTemplate describes one entry of the weighted prize table. Templates are
// soft-deactivated, never deleted, because historical transactions reference
// them through metadata.
type PrizeTemplate struct {
	ID                  int64     `json:"id" db:"id"`
	DisplayName         string    `json:"display_name" db:"display_name" validate:"required,max=80"`
	Category            string    `json:"category" db:"category" validate:"required,oneof=flat-multiplier jackpot"`
	BaseValue           int64     `json:"base_value" db:"base_value" validate:"gte=0"`
	WinProbabilityBP    int64     `json:"win_probability_bp" db:"win_probability_bp" validate:"required,gt=0,lte=10000"`
	PayoutMultiplierMin int64     `json:"payout_multiplier_min" db:"payout_multiplier_min" validate:"gte=0"`
	PayoutMultiplierMax int64     `json:"payout_multiplier_max" db:"payout_multiplier_max" validate:"gtefield=PayoutMultiplierMin"`
	Active              bool      `json:"active" db:"active"`
	CreatedAt           time.Time `json:"created_at" db:"created_at"`
	UpdatedAt           time.Time `json:"updated_at" db:"updated_at"`
}

// AverageMultiplier returns the midpoint of the payout multiplier range,
// doubled to stay in integer math (i.e. 2*avg).
func (p *PrizeTemplate) AverageMultiplierX2() int64 {
	return p.PayoutMultiplierMin + p.PayoutMultiplierMax
}

// Outcome is the authoritative result of one weighted draw. Clients animate
// toward this result; it is never recomputed client-side.
type Outcome struct {
	PrizeTemplateID int64  `json:"prize_template_id,omitempty"` // 0 means no win
	PrizeName       string `json:"prize_name,omitempty"`
	Won             bool   `json:"won"`
	Multiplier      int64  `json:"multiplier"`
	PayoutAmount    int64  `json:"payout_amount"`
	Draw            int64  `json:"-"` // raw draw in [1, TotalWeightBP], kept for audit metadata
}
