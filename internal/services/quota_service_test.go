package services

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/playvault/backend/internal/config"
	"github.com/playvault/backend/internal/models"
)

func quotaTestConfig() *config.EconomyConfig {
	return &config.EconomyConfig{
		Tiers: map[string][]config.QuotaTier{
			config.ActionDailyVote: {
				{Name: "daily-free", Window: config.WindowDay, Limit: 1, RewardMultiplier: 1, BonusAmount: 25},
				{Name: "weekly-bonus", Window: config.WindowISOWeek, Limit: 3, RewardMultiplier: 2},
			},
			config.ActionWheelSpin: {
				{Name: "daily-free", Window: config.WindowDay, Limit: 1, RewardMultiplier: 1},
				{Name: "paid-premium", Paid: true, EntryCost: 20},
			},
		},
	}
}

func newQuotaWithMock(t *testing.T) (*QuotaService, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	return NewQuotaService(db, quotaTestConfig()), mock, func() { db.Close() }
}

// expectQuotaUpsert mocks one conditional increment; affected=0 means the
// counter was already at its limit.
func expectQuotaUpsert(mock sqlmock.Sqlmock, affected int64) {
	mock.ExpectExec("INSERT INTO quota_windows").
		WillReturnResult(sqlmock.NewResult(0, affected))
}

func TestQuotaService_CheckAndReserve(t *testing.T) {
	now := time.Date(2026, 8, 31, 15, 4, 0, 0, time.UTC)

	t.Run("first tier with headroom books both subjects", func(t *testing.T) {
		svc, mock, cleanup := newQuotaWithMock(t)
		defer cleanup()

		mock.ExpectBegin()
		expectQuotaUpsert(mock, 1) // account
		expectQuotaUpsert(mock, 1) // network address
		mock.ExpectCommit()

		reservation, err := svc.CheckAndReserve(context.Background(),
			"discord:1094", "203.0.113.7", config.ActionDailyVote, now)

		require.NoError(t, err)
		assert.Equal(t, "daily-free", reservation.Tier)
		assert.Equal(t, int64(1), reservation.RewardMultiplier)
		assert.Equal(t, int64(25), reservation.BonusAmount)
		assert.Equal(t, "2026-08-31", reservation.WindowKey)
		assert.False(t, reservation.Paid)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("full first tier falls through to the next", func(t *testing.T) {
		svc, mock, cleanup := newQuotaWithMock(t)
		defer cleanup()

		mock.ExpectBegin()
		expectQuotaUpsert(mock, 0) // daily-free full for the account
		mock.ExpectRollback()

		mock.ExpectBegin()
		expectQuotaUpsert(mock, 1)
		expectQuotaUpsert(mock, 1)
		mock.ExpectCommit()

		reservation, err := svc.CheckAndReserve(context.Background(),
			"discord:1094", "203.0.113.7", config.ActionDailyVote, now)

		require.NoError(t, err)
		assert.Equal(t, "weekly-bonus", reservation.Tier)
		assert.Equal(t, int64(2), reservation.RewardMultiplier)
		assert.Equal(t, "2026-W36", reservation.WindowKey)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("network address at its limit blocks a fresh account", func(t *testing.T) {
		svc, mock, cleanup := newQuotaWithMock(t)
		defer cleanup()

		// Both tiers admit the account but reject the shared address, so the
		// whole reservation rolls back each time.
		for i := 0; i < 2; i++ {
			mock.ExpectBegin()
			expectQuotaUpsert(mock, 1) // account side
			expectQuotaUpsert(mock, 0) // network side full
			mock.ExpectRollback()
		}

		reservation, err := svc.CheckAndReserve(context.Background(),
			"discord:9999", "203.0.113.7", config.ActionDailyVote, now)

		assert.Nil(t, reservation)
		assert.ErrorIs(t, err, ErrQuotaExceeded)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("exhausted tiers report the earliest rollover", func(t *testing.T) {
		svc, mock, cleanup := newQuotaWithMock(t)
		defer cleanup()

		for i := 0; i < 2; i++ {
			mock.ExpectBegin()
			expectQuotaUpsert(mock, 0)
			mock.ExpectRollback()
		}

		_, err := svc.CheckAndReserve(context.Background(),
			"discord:1094", "203.0.113.7", config.ActionDailyVote, now)

		var quotaErr *QuotaExceededError
		require.ErrorAs(t, err, &quotaErr)
		assert.Equal(t, config.ActionDailyVote, quotaErr.ActionType)
		// Daily window rolls over before the ISO week does.
		assert.Equal(t, time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC), quotaErr.NextAvailableAt)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("paid tier admits without booking quota", func(t *testing.T) {
		svc, mock, cleanup := newQuotaWithMock(t)
		defer cleanup()

		mock.ExpectBegin()
		expectQuotaUpsert(mock, 0) // free spin already used
		mock.ExpectRollback()

		reservation, err := svc.CheckAndReserve(context.Background(),
			"discord:1094", "203.0.113.7", config.ActionWheelSpin, now)

		require.NoError(t, err)
		assert.True(t, reservation.Paid)
		assert.Equal(t, "paid-premium", reservation.Tier)
		assert.Equal(t, int64(20), reservation.EntryCost)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown action type", func(t *testing.T) {
		svc, _, cleanup := newQuotaWithMock(t)
		defer cleanup()

		_, err := svc.CheckAndReserve(context.Background(),
			"discord:1094", "203.0.113.7", "treasure_hunt", now)

		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("empty network address books the account side only", func(t *testing.T) {
		svc, mock, cleanup := newQuotaWithMock(t)
		defer cleanup()

		mock.ExpectBegin()
		expectQuotaUpsert(mock, 1)
		mock.ExpectCommit()

		reservation, err := svc.CheckAndReserve(context.Background(),
			"discord:1094", "", config.ActionDailyVote, now)

		require.NoError(t, err)
		assert.Equal(t, "daily-free", reservation.Tier)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestQuotaService_Release(t *testing.T) {
	svc, mock, cleanup := newQuotaWithMock(t)
	defer cleanup()

	t.Run("decrements both booked subjects", func(t *testing.T) {
		mock.ExpectExec("UPDATE quota_windows").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("UPDATE quota_windows").
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := svc.Release(context.Background(), &reservationFixture)

		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("paid reservations have nothing to release", func(t *testing.T) {
		paid := reservationFixture
		paid.Paid = true

		err := svc.Release(context.Background(), &paid)

		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("nil reservation is a no-op", func(t *testing.T) {
		assert.NoError(t, svc.Release(context.Background(), nil))
	})
}

func TestQuotaService_Usage(t *testing.T) {
	svc, mock, cleanup := newQuotaWithMock(t)
	defer cleanup()

	now := time.Date(2026, 8, 31, 15, 4, 0, 0, time.UTC)

	t.Run("reports headroom per free tier, skipping paid", func(t *testing.T) {
		mock.ExpectQuery("SELECT count_used FROM quota_windows").
			WillReturnRows(sqlmock.NewRows([]string{"count_used"}).AddRow(1))

		remaining, err := svc.Usage(context.Background(), "discord:1094", config.ActionWheelSpin, now)

		require.NoError(t, err)
		assert.Equal(t, map[string]int{"daily-free": 0}, remaining)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestWindowKey(t *testing.T) {
	t.Run("day window", func(t *testing.T) {
		at := time.Date(2026, 8, 31, 23, 59, 59, 0, time.UTC)
		assert.Equal(t, "2026-08-31", WindowKey(config.WindowDay, at))
	})

	t.Run("iso week window spans the year boundary correctly", func(t *testing.T) {
		// 2027-01-01 is a Friday and belongs to ISO week 53 of 2026.
		at := time.Date(2027, 1, 1, 10, 0, 0, 0, time.UTC)
		assert.Equal(t, "2026-W53", WindowKey(config.WindowISOWeek, at))
	})

	t.Run("non-utc times are normalized", func(t *testing.T) {
		loc := time.FixedZone("UTC+13", 13*3600)
		at := time.Date(2026, 9, 1, 0, 30, 0, 0, loc) // still Aug 31 in UTC
		assert.Equal(t, "2026-08-31", WindowKey(config.WindowDay, at))
	})
}

func TestNextWindowStart(t *testing.T) {
	t.Run("day rolls over at the next UTC midnight", func(t *testing.T) {
		at := time.Date(2026, 8, 31, 15, 4, 0, 0, time.UTC)
		assert.Equal(t, time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC),
			NextWindowStart(config.WindowDay, at))
	})

	t.Run("iso week rolls over on the next Monday", func(t *testing.T) {
		// 2026-08-31 is itself a Monday; rollover is the one after.
		at := time.Date(2026, 8, 31, 15, 4, 0, 0, time.UTC)
		assert.Equal(t, time.Date(2026, 9, 7, 0, 0, 0, 0, time.UTC),
			NextWindowStart(config.WindowISOWeek, at))
	})

	t.Run("mid-week iso rollover", func(t *testing.T) {
		at := time.Date(2026, 9, 2, 8, 0, 0, 0, time.UTC) // Wednesday
		assert.Equal(t, time.Date(2026, 9, 7, 0, 0, 0, 0, time.UTC),
			NextWindowStart(config.WindowISOWeek, at))
	})
}

var reservationFixture = models.Reservation{
	Tier:             "daily-free",
	RewardMultiplier: 1,
	BonusAmount:      25,
	WindowKey:        "2026-08-31",
	ActionType:       config.ActionDailyVote,
	Subjects:         []string{"discord:1094", "203.0.113.7"},
}
