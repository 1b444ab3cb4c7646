package services

import (
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/playvault/backend/internal/config"
	"github.com/playvault/backend/internal/models"
)

// WalletService is the read-only aggregation surface for dashboards. It
// consumes the ledger tables for display and never mutates a balance.
type WalletService struct {
	db     *sql.DB
	ledger *LedgerService
	quota  *QuotaService
}

func NewWalletService(db *sql.DB, ledger *LedgerService, quota *QuotaService) *WalletService {
	return &WalletService{db: db, ledger: ledger, quota: quota}
}

type walletSummary struct {
	AccountID      string               `json:"account_id"`
	Balance        int64                `json:"balance"`
	LifetimeEarned int64                `json:"lifetime_earned"`
	LifetimeSpent  int64                `json:"lifetime_spent"`
	ByCategory     map[string]int64     `json:"by_category"`
	QuotaRemaining map[string]int       `json:"quota_remaining"`
	Recent         []models.Transaction `json:"recent_transactions"`
}

// Summary renders the dashboard wallet view
// @Summary Get wallet summary
// @Description Balance, lifetime totals, per-category totals, quota headroom and recent transactions for one account
// @Tags wallet
// @Produce json
// @Security BearerAuth
// @Param accountId path string true "Account ID"
// @Success 200 {object} walletSummary
// @Failure 500 {object} ErrorResponse
// @Router /wallet/{accountId} [get]
func (s *WalletService) Summary(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountId")
	summary := &walletSummary{
		AccountID:      accountID,
		ByCategory:     map[string]int64{},
		QuotaRemaining: map[string]int{},
	}

	account, err := s.ledger.GetAccount(r.Context(), accountID)
	switch err {
	case nil:
		summary.Balance = account.Balance
		summary.LifetimeEarned = account.LifetimeEarned
		summary.LifetimeSpent = account.LifetimeSpent
	case ErrNotFound:
		// Not-yet-created account: an all-zero wallet, not a 404.
	default:
		log.Printf("[WALLET] Failed to load account %s: %v", accountID, err)
		SendErrorResponse(w, "Failed to load wallet", http.StatusInternalServerError, nil)
		return
	}

	if err := s.loadCategoryTotals(r, accountID, summary); err != nil {
		log.Printf("[WALLET] Failed to load category totals for %s: %v", accountID, err)
		SendErrorResponse(w, "Failed to load wallet", http.StatusInternalServerError, nil)
		return
	}

	recent, _, err := s.ledger.GetHistory(r.Context(), accountID, 0, 10)
	if err != nil {
		log.Printf("[WALLET] Failed to load recent transactions for %s: %v", accountID, err)
		SendErrorResponse(w, "Failed to load wallet", http.StatusInternalServerError, nil)
		return
	}
	summary.Recent = recent

	now := time.Now()
	for _, action := range []string{config.ActionDailyVote, config.ActionWheelSpin} {
		remaining, err := s.quota.Usage(r.Context(), accountID, action, now)
		if err != nil {
			continue
		}
		for tier, headroom := range remaining {
			summary.QuotaRemaining[action+"/"+tier] = headroom
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(summary)
}

func (s *WalletService) loadCategoryTotals(r *http.Request, accountID string, summary *walletSummary) error {
	rows, err := s.db.QueryContext(r.Context(), `
		SELECT category, COALESCE(SUM(amount), 0)
		FROM transactions
		WHERE account_id = $1
		GROUP BY category`, accountID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			category string
			total    int64
		)
		if err := rows.Scan(&category, &total); err != nil {
			return err
		}
		summary.ByCategory[category] = total
	}
	return rows.Err()
}
