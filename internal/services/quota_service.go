package services

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/playvault/backend/internal/config"
	"github.com/playvault/backend/internal/models"
)

// QuotaService answers "is this free action allowed now" and books the usage
// in the same breath. Counting is pessimistic: the slot is consumed at check
// time so two concurrent requests by the same subject cannot both pass a
// limit-1 tier. Every tier is keyed by the account AND the network address,
// which defeats both multi-accounting and address rotation.
type QuotaService struct {
	db  *sql.DB
	cfg *config.EconomyConfig
}

func NewQuotaService(db *sql.DB, cfg *config.EconomyConfig) *QuotaService {
	return &QuotaService{db: db, cfg: cfg}
}

// CheckAndReserve walks the action's tier list in priority order and books the
// first tier with headroom for both subjects. When every free tier is
// exhausted it returns the paid tier if the action has one, otherwise a
// QuotaExceededError carrying the next window start.
func (s *QuotaService) CheckAndReserve(ctx context.Context, accountID, networkAddr, actionType string, now time.Time) (*models.Reservation, error) {
	tiers, ok := s.cfg.Tiers[actionType]
	if !ok {
		return nil, fmt.Errorf("%w: unknown action type %q", ErrNotFound, actionType)
	}

	var nextAvailable time.Time
	for _, tier := range tiers {
		if tier.Paid {
			// Paid tiers have no quota; admission is the entry cost, which the
			// caller debits through the ledger.
			return &models.Reservation{
				Tier:             tier.Name,
				RewardMultiplier: tier.RewardMultiplier,
				Paid:             true,
				EntryCost:        tier.EntryCost,
				ActionType:       actionType,
			}, nil
		}

		windowKey := WindowKey(tier.Window, now)
		booked, err := s.reserveTier(ctx, accountID, networkAddr, actionType, tier, windowKey)
		if err != nil {
			return nil, err
		}
		if booked {
			return &models.Reservation{
				Tier:             tier.Name,
				RewardMultiplier: tier.RewardMultiplier,
				BonusAmount:      tier.BonusAmount,
				WindowKey:        windowKey,
				ActionType:       actionType,
				Subjects:         []string{accountID, networkAddr},
			}, nil
		}

		windowEnd := NextWindowStart(tier.Window, now)
		if nextAvailable.IsZero() || windowEnd.Before(nextAvailable) {
			nextAvailable = windowEnd
		}
	}

	return nil, &QuotaExceededError{ActionType: actionType, NextAvailableAt: nextAvailable}
}

// reserveTier books one slot for both subjects atomically: both conditional
// increments run in a single store transaction, so a full counter on either
// side rolls the whole reservation back.
func (s *QuotaService) reserveTier(ctx context.Context, accountID, networkAddr, actionType string, tier config.QuotaTier, windowKey string) (bool, error) {
	dbTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer dbTx.Rollback()

	subjects := []struct {
		value string
		kind  string
	}{
		{accountID, models.SubjectAccount},
		{networkAddr, models.SubjectNetwork},
	}

	for _, subject := range subjects {
		if subject.value == "" {
			continue
		}
		booked, err := s.incrementIfBelowLimit(dbTx, subject.value, subject.kind, windowKey, actionType, tier)
		if err != nil {
			return false, err
		}
		if !booked {
			log.Printf("[QUOTA] Tier %s full for %s %s (action %s, window %s)",
				tier.Name, subject.kind, subject.value, actionType, windowKey)
			return false, nil
		}
	}

	if err := dbTx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

// incrementIfBelowLimit is the single atomic check-and-increment: the upsert's
// WHERE clause makes "count < limit" and "count++" one statement, so there is
// no read-modify-write window to race through.
func (s *QuotaService) incrementIfBelowLimit(dbTx *sql.Tx, subject, subjectType, windowKey, actionType string, tier config.QuotaTier) (bool, error) {
	result, err := dbTx.Exec(`
		INSERT INTO quota_windows (subject, subject_type, window_key, action_type, tier, count_used, usage_limit, updated_at)
		VALUES ($1, $2, $3, $4, $5, 1, $6, NOW())
		ON CONFLICT (subject, window_key, action_type, tier)
		DO UPDATE SET count_used = quota_windows.count_used + 1, updated_at = NOW()
		WHERE quota_windows.count_used < quota_windows.usage_limit`,
		subject, subjectType, windowKey, actionType, tier.Name, tier.Limit)
	if err != nil {
		return false, err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rowsAffected > 0, nil
}

// Release returns a booked slot, used when the rewarded action fails after
// admission so the subject is not charged quota for nothing.
func (s *QuotaService) Release(ctx context.Context, reservation *models.Reservation) error {
	if reservation == nil || reservation.Paid {
		return nil
	}
	for _, subject := range reservation.Subjects {
		if subject == "" {
			continue
		}
		_, err := s.db.ExecContext(ctx, `
			UPDATE quota_windows
			SET count_used = count_used - 1, updated_at = NOW()
			WHERE subject = $1 AND window_key = $2 AND action_type = $3 AND tier = $4 AND count_used > 0`,
			subject, reservation.WindowKey, reservation.ActionType, reservation.Tier)
		if err != nil {
			return err
		}
	}
	return nil
}

// Usage reports the remaining headroom per free tier for dashboard display.
func (s *QuotaService) Usage(ctx context.Context, accountID, actionType string, now time.Time) (map[string]int, error) {
	tiers, ok := s.cfg.Tiers[actionType]
	if !ok {
		return nil, fmt.Errorf("%w: unknown action type %q", ErrNotFound, actionType)
	}

	remaining := make(map[string]int)
	for _, tier := range tiers {
		if tier.Paid {
			continue
		}
		var used int
		err := s.db.QueryRowContext(ctx, `
			SELECT count_used FROM quota_windows
			WHERE subject = $1 AND window_key = $2 AND action_type = $3 AND tier = $4`,
			accountID, WindowKey(tier.Window, now), actionType, tier.Name).Scan(&used)
		if err == sql.ErrNoRows {
			used = 0
		} else if err != nil {
			return nil, err
		}
		headroom := tier.Limit - used
		if headroom < 0 {
			headroom = 0
		}
		remaining[tier.Name] = headroom
	}
	return remaining, nil
}

// WindowKey renders the window identifier for a point in time, UTC.
func WindowKey(window string, t time.Time) string {
	t = t.UTC()
	switch window {
	case config.WindowISOWeek:
		year, week := t.ISOWeek()
		return fmt.Sprintf("%d-W%02d", year, week)
	default:
		return t.Format("2006-01-02")
	}
}

// NextWindowStart returns when the current window rolls over, UTC.
func NextWindowStart(window string, t time.Time) time.Time {
	t = t.UTC()
	switch window {
	case config.WindowISOWeek:
		daysUntilMonday := (8 - int(t.Weekday())) % 7
		if daysUntilMonday == 0 {
			daysUntilMonday = 7
		}
		next := t.AddDate(0, 0, daysUntilMonday)
		return time.Date(next.Year(), next.Month(), next.Day(), 0, 0, 0, 0, time.UTC)
	default:
		next := t.AddDate(0, 0, 1)
		return time.Date(next.Year(), next.Month(), next.Day(), 0, 0, 0, 0, time.UTC)
	}
}
