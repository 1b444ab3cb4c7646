package config

import (
	"os"
	"strconv"
	"time"
)

// Quota windows
const (
	WindowDay     = "day"
	WindowISOWeek = "iso-week"
)

// Action types accepted by the earn/wager surface.
const (
	ActionDailyVote = "daily_vote"
	ActionWheelSpin = "wheel_spin"
	ActionCasino    = "casino"
)

// QuotaTier is one ordered reward-eligibility bucket. Free tiers are consulted
// in priority order; a Paid tier never books quota and instead debits
// EntryCost from the account.
type QuotaTier struct {
	Name             string
	Window           string // day or iso-week
	Limit            int
	RewardMultiplier int64
	BonusAmount      int64
	Paid             bool
	EntryCost        int64
}

type EconomyConfig struct {
	BaseRewards map[string]int64       // action type -> base coins per grant
	Tiers       map[string][]QuotaTier // action type -> ordered tier list
	MinBet      int64
	MaxBet      int64
	MaxRTPBP    int64 // expected-return cap for prize tables, basis points
	DedupTTL    time.Duration
}

// Load builds the static economy configuration from the environment. Values
// that operators tune at runtime live in the economy settings store instead.
func Load() *EconomyConfig {
	return &EconomyConfig{
		BaseRewards: map[string]int64{
			ActionDailyVote: getEnvAsInt64("ECONOMY_VOTE_BASE_REWARD", 5),
			ActionWheelSpin: getEnvAsInt64("ECONOMY_SPIN_BASE_REWARD", 10),
		},
		Tiers: map[string][]QuotaTier{
			ActionDailyVote: {
				{
					Name:             "daily-free",
					Window:           WindowDay,
					Limit:            getEnvAsInt("ECONOMY_VOTE_DAILY_LIMIT", 1),
					RewardMultiplier: 1,
					BonusAmount:      getEnvAsInt64("ECONOMY_VOTE_DAILY_BONUS", 25),
				},
				{
					Name:             "weekly-bonus",
					Window:           WindowISOWeek,
					Limit:            getEnvAsInt("ECONOMY_VOTE_WEEKLY_LIMIT", 3),
					RewardMultiplier: 2,
				},
			},
			ActionWheelSpin: {
				{
					Name:             "daily-free",
					Window:           WindowDay,
					Limit:            getEnvAsInt("ECONOMY_SPIN_DAILY_LIMIT", 1),
					RewardMultiplier: 1,
				},
				{
					Name:      "paid-premium",
					Paid:      true,
					EntryCost: getEnvAsInt64("ECONOMY_SPIN_ENTRY_COST", 20),
					// Paid spins earn no base reward; the wheel outcome is the reward.
				},
			},
		},
		MinBet:   getEnvAsInt64("ECONOMY_MIN_BET", 1),
		MaxBet:   getEnvAsInt64("ECONOMY_MAX_BET", 10000),
		MaxRTPBP: getEnvAsInt64("ECONOMY_MAX_RTP_BP", 9700),
		DedupTTL: getEnvAsDuration("ECONOMY_DEDUP_TTL", 24*time.Hour),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsInt64(key string, defaultVal int64) int64 {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.ParseInt(val, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if duration, err := time.ParseDuration(val); err == nil {
			return duration
		}
	}
	return defaultVal
}
