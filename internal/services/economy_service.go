package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/playvault/backend/internal/audit"
	"github.com/playvault/backend/internal/config"
	"github.com/playvault/backend/internal/models"
)

// Settings keys consulted per decision.
const (
	SettingMinBet = "economy.min_bet"
	SettingMaxBet = "economy.max_bet"
)

// EconomyService is the synchronous API surface over the economy core. Every
// request flows admission (quota) -> decision (reward engine) -> mutation
// (ledger) -> response; the ledger mutation and the decision always derive
// from one consistent unit, never from two independently racing ones.
type EconomyService struct {
	db        *sql.DB
	redis     *redis.Client
	ledger    *LedgerService
	quota     *QuotaService
	engine    *RewardEngine
	settings  *SettingsService
	cfg       *config.EconomyConfig
	audit     *audit.Logger
	validator *ValidationHelper
}

func NewEconomyService(db *sql.DB, redisClient *redis.Client, ledger *LedgerService,
	quota *QuotaService, engine *RewardEngine, settings *SettingsService,
	cfg *config.EconomyConfig) *EconomyService {
	return &EconomyService{
		db:        db,
		redis:     redisClient,
		ledger:    ledger,
		quota:     quota,
		engine:    engine,
		settings:  settings,
		cfg:       cfg,
		audit:     audit.NewLogger(),
		validator: NewValidationHelper(),
	}
}

// CategoryForAction maps an earn/wager action type to its ledger category.
func CategoryForAction(actionType string) string {
	switch actionType {
	case config.ActionDailyVote:
		return models.CategoryVoting
	case config.ActionWheelSpin:
		return models.CategorySpinning
	case config.ActionCasino:
		return models.CategoryCasino
	}
	return ""
}

type earnRequest struct {
	AccountID      string `json:"account_id" validate:"required,max=64"`
	ActionType     string `json:"action_type" validate:"required,oneof=daily_vote wheel_spin"`
	NetworkAddress string `json:"network_address" validate:"omitempty,max=64"`
}

type earnResponse struct {
	Granted        bool   `json:"granted"`
	Tier           string `json:"tier"`
	AmountCredited int64  `json:"amount_credited"`
	AmountDebited  int64  `json:"amount_debited,omitempty"`
	NewBalance     int64  `json:"new_balance"`
}

// Earn grants a free reward action
// @Summary Earn coins for a reward action
// @Description Checks quota tiers in priority order and credits the reward for the first available tier; falls through to the paid tier's entry cost when all free tiers are exhausted
// @Tags economy
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body earnRequest true "Earn request"
// @Success 200 {object} earnResponse
// @Failure 400 {object} ErrorResponse
// @Failure 429 {object} map[string]string
// @Router /economy/earn [post]
func (s *EconomyService) Earn(w http.ResponseWriter, r *http.Request) {
	var req earnRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if req.NetworkAddress == "" {
		req.NetworkAddress = clientNetworkAddress(r)
	}

	resp, err := s.earn(r.Context(), req, time.Now())
	if err != nil {
		writeEconomyError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (s *EconomyService) earn(ctx context.Context, req earnRequest, now time.Time) (*earnResponse, error) {
	reservation, err := s.quota.CheckAndReserve(ctx, req.AccountID, req.NetworkAddress, req.ActionType, now)
	if err != nil {
		return nil, err
	}

	category := CategoryForAction(req.ActionType)
	meta := models.Metadata{
		"action_type": req.ActionType,
		"tier":        reservation.Tier,
	}

	if reservation.Paid {
		// No free tier left: the paid tier charges an entry cost instead of
		// granting a reward.
		txn, err := s.ledger.Debit(ctx, req.AccountID, reservation.EntryCost, category,
			fmt.Sprintf("Paid entry for %s", req.ActionType), meta)
		if err != nil {
			return nil, err
		}
		log.Printf("[EARN] Account %s entered %s via paid tier %s, cost %d",
			req.AccountID, req.ActionType, reservation.Tier, reservation.EntryCost)
		return &earnResponse{
			Granted:       true,
			Tier:          reservation.Tier,
			AmountDebited: reservation.EntryCost,
			NewBalance:    txn.BalanceAfter,
		}, nil
	}

	amount := s.cfg.BaseRewards[req.ActionType]*reservation.RewardMultiplier + reservation.BonusAmount
	txn, err := s.ledger.Credit(ctx, req.AccountID, amount, category,
		fmt.Sprintf("Reward for %s (%s tier)", req.ActionType, reservation.Tier), meta)
	if err != nil {
		// The slot was booked pessimistically; hand it back so a failed credit
		// does not burn the subject's quota.
		if releaseErr := s.quota.Release(ctx, reservation); releaseErr != nil {
			log.Printf("[EARN] Failed to release reservation for %s: %v", req.AccountID, releaseErr)
		}
		return nil, err
	}

	log.Printf("[EARN] Account %s earned %d via %s tier %s", req.AccountID, amount, req.ActionType, reservation.Tier)
	return &earnResponse{
		Granted:        true,
		Tier:           reservation.Tier,
		AmountCredited: amount,
		NewBalance:     txn.BalanceAfter,
	}, nil
}

type wagerRequest struct {
	AccountID  string `json:"account_id" validate:"required,max=64"`
	ActionType string `json:"action_type" validate:"required,oneof=casino wheel_spin"`
	BetAmount  int64  `json:"bet_amount" validate:"required,gt=0"`
	RequestID  string `json:"request_id" validate:"omitempty,uuid4"`
}

type wagerResponse struct {
	Outcome    *models.Outcome `json:"outcome"`
	Payout     int64           `json:"payout"`
	NewBalance int64           `json:"new_balance"`
	Replayed   bool            `json:"replayed,omitempty"`
}

// Wager places a bet against the active prize table
// @Summary Wager coins on a weighted draw
// @Description Debits the bet, resolves one outcome server-side and credits the payout as a single atomic unit; replaying the same request id returns the recorded result without double-debiting
// @Tags economy
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body wagerRequest true "Wager request"
// @Success 200 {object} wagerResponse
// @Failure 400 {object} ErrorResponse
// @Failure 402 {object} map[string]string
// @Failure 409 {object} map[string]string
// @Router /economy/wager [post]
func (s *EconomyService) Wager(w http.ResponseWriter, r *http.Request) {
	var req wagerRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}

	resp, err := s.wager(r.Context(), req)
	if err != nil {
		writeEconomyError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (s *EconomyService) wager(ctx context.Context, req wagerRequest) (*wagerResponse, error) {
	minBet := s.settings.GetInt64(ctx, SettingMinBet, s.cfg.MinBet)
	maxBet := s.settings.GetInt64(ctx, SettingMaxBet, s.cfg.MaxBet)
	if req.BetAmount < minBet || req.BetAmount > maxBet {
		return nil, fmt.Errorf("%w: bet %d outside [%d, %d]", ErrInvalidConfiguration, req.BetAmount, minBet, maxBet)
	}

	// Fast dedup path. Redis is advisory; the wagers table's unique request id
	// is the durable guard.
	if s.redis != nil {
		acquired, err := s.redis.SetNX(ctx, "wager:dedup:"+req.RequestID, req.AccountID, s.cfg.DedupTTL).Result()
		if err == nil && !acquired {
			if recorded, found, lookupErr := s.findRecordedWager(ctx, req.RequestID); lookupErr == nil && found {
				return recorded, nil
			}
		}
	}

	var lastErr error
	for attempt := 1; attempt <= maxMutationAttempts; attempt++ {
		resp, err := s.wagerOnce(ctx, req)
		if err == nil {
			return resp, nil
		}
		if !isRetryableConflict(err) {
			return nil, err
		}
		lastErr = err
		log.Printf("[WAGER] Conflict for account %s (attempt %d/%d): %v", req.AccountID, attempt, maxMutationAttempts, err)
		if attempt < maxMutationAttempts {
			backoff := time.Duration(attempt)*retryBackoffBase + time.Duration(rand.Int63n(int64(retryBackoffBase)))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	return nil, fmt.Errorf("%w: %v", ErrTransientConflict, lastErr)
}

// wagerOnce runs debit -> resolve -> credit inside one store transaction. The
// debit failing short-circuits before any resolve; no error path leaves a
// partial balance behind.
func (s *EconomyService) wagerOnce(ctx context.Context, req wagerRequest) (*wagerResponse, error) {
	dbTx, err := s.ledger.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer dbTx.Rollback()

	// Durable replay guard, checked under the transaction.
	if recorded, found, err := s.findRecordedWagerTx(dbTx, req.RequestID); err != nil {
		return nil, err
	} else if found {
		return recorded, nil
	}

	category := CategoryForAction(req.ActionType)
	meta := models.Metadata{"request_id": req.RequestID, "action_type": req.ActionType}

	debitTxn, err := s.ledger.ApplyTx(dbTx, req.AccountID, -req.BetAmount,
		models.DirectionDebit, category, fmt.Sprintf("%s bet", req.ActionType), meta)
	if err != nil {
		return nil, err
	}

	outcome, err := s.engine.Resolve(req.BetAmount)
	if err != nil {
		return nil, err
	}

	newBalance := debitTxn.BalanceAfter
	if outcome.PayoutAmount > 0 {
		creditMeta := models.Metadata{
			"request_id":        req.RequestID,
			"action_type":       req.ActionType,
			"prize_template_id": outcome.PrizeTemplateID,
			"multiplier":        outcome.Multiplier,
			"draw":              outcome.Draw,
		}
		creditTxn, err := s.ledger.ApplyTx(dbTx, req.AccountID, outcome.PayoutAmount,
			models.DirectionCredit, category, fmt.Sprintf("%s payout: %s", req.ActionType, outcome.PrizeName), creditMeta)
		if err != nil {
			return nil, err
		}
		newBalance = creditTxn.BalanceAfter
	}

	if err := s.recordWager(dbTx, req, outcome, newBalance); err != nil {
		return nil, err
	}

	if err := dbTx.Commit(); err != nil {
		return nil, err
	}

	s.audit.LogMutation(debitTxn.ID, req.AccountID, req.BetAmount, "WAGER", "SUCCESS")
	log.Printf("[WAGER] Account %s bet %d on %s: won=%t payout=%d balance=%d",
		req.AccountID, req.BetAmount, req.ActionType, outcome.Won, outcome.PayoutAmount, newBalance)

	return &wagerResponse{
		Outcome:    outcome,
		Payout:     outcome.PayoutAmount,
		NewBalance: newBalance,
	}, nil
}

func (s *EconomyService) recordWager(dbTx *sql.Tx, req wagerRequest, outcome *models.Outcome, newBalance int64) error {
	outcomeJSON, err := json.Marshal(outcome)
	if err != nil {
		return err
	}
	_, err = dbTx.Exec(`
		INSERT INTO wagers (request_id, account_id, action_type, bet_amount, payout, new_balance, outcome, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		req.RequestID, req.AccountID, req.ActionType, req.BetAmount,
		outcome.PayoutAmount, newBalance, outcomeJSON, time.Now().UTC())
	return err
}

func (s *EconomyService) findRecordedWager(ctx context.Context, requestID string) (*wagerResponse, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT payout, new_balance, outcome FROM wagers WHERE request_id = $1`, requestID)
	return scanRecordedWager(row)
}

func (s *EconomyService) findRecordedWagerTx(dbTx *sql.Tx, requestID string) (*wagerResponse, bool, error) {
	row := dbTx.QueryRow(
		`SELECT payout, new_balance, outcome FROM wagers WHERE request_id = $1`, requestID)
	return scanRecordedWager(row)
}

func scanRecordedWager(row *sql.Row) (*wagerResponse, bool, error) {
	var (
		payout, newBalance int64
		outcomeJSON        []byte
	)
	err := row.Scan(&payout, &newBalance, &outcomeJSON)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	outcome := &models.Outcome{}
	if err := json.Unmarshal(outcomeJSON, outcome); err != nil {
		return nil, false, err
	}
	return &wagerResponse{
		Outcome:    outcome,
		Payout:     payout,
		NewBalance: newBalance,
		Replayed:   true,
	}, true, nil
}

// Balance returns the current balance
// @Summary Get account balance
// @Description Unknown accounts read as zero because accounts exist only once they transact
// @Tags accounts
// @Produce json
// @Security BearerAuth
// @Param accountId path string true "Account ID"
// @Success 200 {object} map[string]interface{}
// @Router /accounts/{accountId}/balance [get]
func (s *EconomyService) Balance(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountId")
	balance, err := s.ledger.GetBalance(r.Context(), accountID)
	if err != nil {
		SendErrorResponse(w, "Failed to fetch balance", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"account_id": accountID,
		"balance":    balance,
	})
}

// History returns one page of the transaction log
// @Summary List account transactions
// @Description Keyset-paginated transaction history, newest first; pass the returned cursor to resume
// @Tags accounts
// @Produce json
// @Security BearerAuth
// @Param accountId path string true "Account ID"
// @Param cursor query int false "Cursor from the previous page"
// @Param limit query int false "Page size (default 50, max 100)"
// @Success 200 {object} map[string]interface{}
// @Router /accounts/{accountId}/transactions [get]
func (s *EconomyService) History(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountId")
	cursor := parseInt64Query(r, "cursor", 0)
	limit := int(parseInt64Query(r, "limit", 50))

	page, next, err := s.ledger.GetHistory(r.Context(), accountID, cursor, limit)
	if err != nil {
		log.Printf("[HISTORY] Failed to fetch history for %s: %v", accountID, err)
		SendErrorResponse(w, "Failed to fetch transactions", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"transactions": page,
		"count":        len(page),
		"next_cursor":  next,
	})
}

type adjustmentRequest struct {
	AccountID string `json:"account_id" validate:"required,max=64"`
	Amount    int64  `json:"amount" validate:"required"`
	Category  string `json:"category" validate:"required,oneof=adjustment refund"`
	Reason    string `json:"reason" validate:"required,max=200"`
}

// Adjust applies a privileged manual credit or debit
// @Summary Apply an admin adjustment or refund
// @Tags admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body adjustmentRequest true "Adjustment request"
// @Success 200 {object} models.Transaction
// @Failure 400 {object} ErrorResponse
// @Router /admin/adjustments [post]
func (s *EconomyService) Adjust(w http.ResponseWriter, r *http.Request) {
	var req adjustmentRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	adminID, _ := r.Context().Value("adminID").(string)
	meta := models.Metadata{"changed_by": adminID, "reason": req.Reason}

	var (
		txn *models.Transaction
		err error
	)
	if req.Amount >= 0 {
		txn, err = s.ledger.Credit(r.Context(), req.AccountID, req.Amount, req.Category, req.Reason, meta)
	} else {
		txn, err = s.ledger.Debit(r.Context(), req.AccountID, -req.Amount, req.Category, req.Reason, meta)
	}
	if err != nil {
		writeEconomyError(w, err)
		return
	}

	log.Printf("[ADMIN] %s applied %s of %d to account %s", adminID, req.Category, req.Amount, req.AccountID)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(txn)
}

// decodeBody reads, bounds, decodes and validates a JSON request body,
// writing the error response itself when the body is unusable.
func (s *EconomyService) decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return false
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return false
	}
	if err := s.validator.ValidateStruct(dst); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return false
	}
	return true
}

// writeEconomyError maps core error kinds to HTTP responses.
func writeEconomyError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")

	var quotaErr *QuotaExceededError
	switch {
	case errors.Is(err, ErrInsufficientFunds):
		w.WriteHeader(http.StatusPaymentRequired)
		json.NewEncoder(w).Encode(map[string]string{"error": "insufficient funds"})
	case errors.As(err, &quotaErr):
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]string{
			"error":             "quota exceeded",
			"next_available_at": quotaErr.NextAvailableAt.UTC().Format(time.RFC3339),
		})
	case errors.Is(err, ErrQuotaExceeded):
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]string{"error": "quota exceeded"})
	case errors.Is(err, ErrTransientConflict):
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]string{"error": "concurrent update conflict, retry"})
	case errors.Is(err, ErrInvalidConfiguration):
		w.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
	case errors.Is(err, ErrNotFound):
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
	default:
		log.Printf("[ECONOMY] Internal error: %v", err)
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]string{"error": "internal error"})
	}
}

func parseInt64Query(r *http.Request, key string, def int64) int64 {
	val := r.URL.Query().Get(key)
	if val == "" {
		return def
	}
	parsed, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return def
	}
	return parsed
}

func clientNetworkAddress(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
