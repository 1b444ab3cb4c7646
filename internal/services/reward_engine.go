package services

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/playvault/backend/internal/config"
	"github.com/playvault/backend/internal/models"
)

// SettingMaxRTP is the economy settings key for the expected-return cap.
const SettingMaxRTP = "casino.max_rtp_bp"

// PrizeTable is one validated, immutable snapshot of the active prizes with
// their cumulative weight bounds laid out in prize id order. A draw d in
// [1, TotalWeightBP] wins the first prize whose bound >= d; a draw above the
// last bound lands in the implicit no-win band.
type PrizeTable struct {
	Prizes        []models.PrizeTemplate
	bounds        []int64
	TotalBP       int64 // sum of prize weights, <= models.TotalWeightBP
	ExpectedRTPBP int64 // basis points of each wager expected back
	LoadedAt      time.Time
}

// RewardEngine resolves one outcome per wager, server-side, before any client
// animation. Resolution is stateless and lock-free per call; only the table
// swap takes the write lock.
type RewardEngine struct {
	db       *sql.DB
	cfg      *config.EconomyConfig
	settings *SettingsService

	mu    sync.RWMutex
	table *PrizeTable

	// draw returns a uniform value in [0, n). Replaced in tests.
	draw func(n int64) int64
}

func NewRewardEngine(db *sql.DB, cfg *config.EconomyConfig, settings *SettingsService) *RewardEngine {
	return &RewardEngine{
		db:       db,
		cfg:      cfg,
		settings: settings,
		draw:     rand.Int63n,
	}
}

// LoadPrizeTable reads the active prizes and swaps in a new table snapshot.
// A table that fails probability or house-edge validation is rejected with
// ErrInvalidConfiguration and the previously loaded table stays active.
func (e *RewardEngine) LoadPrizeTable(ctx context.Context) error {
	rows, err := e.db.QueryContext(ctx, `
		SELECT id, display_name, category, base_value, win_probability_bp,
		       payout_multiplier_min, payout_multiplier_max, active
		FROM prize_templates
		WHERE active = TRUE
		ORDER BY id`)
	if err != nil {
		return err
	}
	defer rows.Close()

	var prizes []models.PrizeTemplate
	for rows.Next() {
		var p models.PrizeTemplate
		if err := rows.Scan(&p.ID, &p.DisplayName, &p.Category, &p.BaseValue,
			&p.WinProbabilityBP, &p.PayoutMultiplierMin, &p.PayoutMultiplierMax, &p.Active); err != nil {
			return err
		}
		prizes = append(prizes, p)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	maxRTPBP := e.cfg.MaxRTPBP
	if e.settings != nil {
		maxRTPBP = e.settings.GetInt64(ctx, SettingMaxRTP, e.cfg.MaxRTPBP)
	}

	table, err := BuildPrizeTable(prizes, maxRTPBP)
	if err != nil {
		log.Printf("[REWARD] Rejecting prize table: %v", err)
		return err
	}

	e.mu.Lock()
	e.table = table
	e.mu.Unlock()
	log.Printf("[REWARD] Loaded prize table: %d prizes, %d/10000 bp allocated, expected RTP %d bp",
		len(table.Prizes), table.TotalBP, table.ExpectedRTPBP)
	return nil
}

// BuildPrizeTable validates a candidate prize set and lays out its cumulative
// bounds. The weight-to-probability mapping is direct: a prize's weight is its
// win probability in basis points, over a fixed 10000-point space.
//
// Two checks gate activation:
//   - the weights of the active set sum to at most 10000
//   - the expected payout ratio, sum(probability x average multiplier), stays
//     at or below maxRTPBP
func BuildPrizeTable(prizes []models.PrizeTemplate, maxRTPBP int64) (*PrizeTable, error) {
	var (
		totalBP int64
		rtpBPx2 int64
		bounds  = make([]int64, len(prizes))
	)
	for i, p := range prizes {
		if p.WinProbabilityBP <= 0 {
			return nil, fmt.Errorf("%w: prize %d has non-positive probability", ErrInvalidConfiguration, p.ID)
		}
		if p.PayoutMultiplierMax < p.PayoutMultiplierMin || p.PayoutMultiplierMin < 0 {
			return nil, fmt.Errorf("%w: prize %d has invalid multiplier range", ErrInvalidConfiguration, p.ID)
		}
		totalBP += p.WinProbabilityBP
		rtpBPx2 += p.WinProbabilityBP * p.AverageMultiplierX2()
		bounds[i] = totalBP
	}

	if totalBP > models.TotalWeightBP {
		return nil, fmt.Errorf("%w: prize probabilities sum to %d bp, exceeding %d",
			ErrInvalidConfiguration, totalBP, models.TotalWeightBP)
	}
	if rtpBPx2 > 2*maxRTPBP {
		return nil, fmt.Errorf("%w: expected RTP %d bp exceeds configured cap %d bp",
			ErrInvalidConfiguration, rtpBPx2/2, maxRTPBP)
	}

	return &PrizeTable{
		Prizes:        prizes,
		bounds:        bounds,
		TotalBP:       totalBP,
		ExpectedRTPBP: rtpBPx2 / 2,
		LoadedAt:      time.Now().UTC(),
	}, nil
}

// Table returns the currently active snapshot, nil before the first
// successful load.
func (e *RewardEngine) Table() *PrizeTable {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.table
}

// Resolve draws one outcome for the wager against the active table. The
// return value is final: client animations land on it, never recompute it.
func (e *RewardEngine) Resolve(wager int64) (*models.Outcome, error) {
	table := e.Table()
	if table == nil {
		return nil, fmt.Errorf("%w: no prize table loaded", ErrInvalidConfiguration)
	}
	return e.ResolveAgainst(wager, table), nil
}

// ListPrizes returns every prize template, active and soft-deactivated, in id
// order for the admin surface.
func (e *RewardEngine) ListPrizes(ctx context.Context) ([]models.PrizeTemplate, error) {
	rows, err := e.db.QueryContext(ctx, `
		SELECT id, display_name, category, base_value, win_probability_bp,
		       payout_multiplier_min, payout_multiplier_max, active, created_at, updated_at
		FROM prize_templates
		ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var prizes []models.PrizeTemplate
	for rows.Next() {
		var p models.PrizeTemplate
		if err := rows.Scan(&p.ID, &p.DisplayName, &p.Category, &p.BaseValue,
			&p.WinProbabilityBP, &p.PayoutMultiplierMin, &p.PayoutMultiplierMax,
			&p.Active, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		prizes = append(prizes, p)
	}
	return prizes, rows.Err()
}

// ReplacePrizes swaps the active prize set. The candidate set is validated
// before anything is written, so a rejected table leaves both the store and
// the loaded snapshot untouched. Prizes absent from the new set are
// soft-deactivated, never deleted, because history references them.
func (e *RewardEngine) ReplacePrizes(ctx context.Context, prizes []models.PrizeTemplate) error {
	maxRTPBP := e.cfg.MaxRTPBP
	if e.settings != nil {
		maxRTPBP = e.settings.GetInt64(ctx, SettingMaxRTP, e.cfg.MaxRTPBP)
	}
	if _, err := BuildPrizeTable(prizes, maxRTPBP); err != nil {
		return err
	}

	dbTx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer dbTx.Rollback()

	if _, err := dbTx.Exec(`UPDATE prize_templates SET active = FALSE, updated_at = NOW()`); err != nil {
		return err
	}

	for i := range prizes {
		p := &prizes[i]
		if p.ID == 0 {
			err = dbTx.QueryRow(`
				INSERT INTO prize_templates
				(display_name, category, base_value, win_probability_bp, payout_multiplier_min, payout_multiplier_max, active, created_at, updated_at)
				VALUES ($1, $2, $3, $4, $5, $6, TRUE, NOW(), NOW())
				RETURNING id`,
				p.DisplayName, p.Category, p.BaseValue, p.WinProbabilityBP,
				p.PayoutMultiplierMin, p.PayoutMultiplierMax).Scan(&p.ID)
		} else {
			_, err = dbTx.Exec(`
				UPDATE prize_templates
				SET display_name = $2, category = $3, base_value = $4, win_probability_bp = $5,
				    payout_multiplier_min = $6, payout_multiplier_max = $7, active = TRUE, updated_at = NOW()
				WHERE id = $1`,
				p.ID, p.DisplayName, p.Category, p.BaseValue, p.WinProbabilityBP,
				p.PayoutMultiplierMin, p.PayoutMultiplierMax)
		}
		if err != nil {
			return err
		}
	}

	if err := dbTx.Commit(); err != nil {
		return err
	}

	return e.LoadPrizeTable(ctx)
}

// ResolveAgainst runs the weighted draw against an explicit table snapshot.
func (e *RewardEngine) ResolveAgainst(wager int64, table *PrizeTable) *models.Outcome {
	draw := 1 + e.draw(models.TotalWeightBP)

	outcome := &models.Outcome{Draw: draw}
	for i, bound := range table.bounds {
		if draw <= bound {
			prize := table.Prizes[i]
			multiplier := prize.PayoutMultiplierMin
			if spread := prize.PayoutMultiplierMax - prize.PayoutMultiplierMin; spread > 0 {
				multiplier += e.draw(spread + 1)
			}
			payout := wager * multiplier
			if prize.Category == models.PrizeJackpot {
				payout += prize.BaseValue
			}
			outcome.PrizeTemplateID = prize.ID
			outcome.PrizeName = prize.DisplayName
			outcome.Won = true
			outcome.Multiplier = multiplier
			outcome.PayoutAmount = payout
			return outcome
		}
	}

	// Draw landed in the unallocated remainder: no win.
	return outcome
}
