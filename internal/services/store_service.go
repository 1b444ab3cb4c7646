package services

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/playvault/backend/internal/models"
)

// StoreService sells store items against the coin ledger. Real-currency
// top-ups are a placeholder integration only.
type StoreService struct {
	ledger    *LedgerService
	settings  *SettingsService
	validator *ValidationHelper
}

func NewStoreService(ledger *LedgerService, settings *SettingsService) *StoreService {
	return &StoreService{
		ledger:    ledger,
		settings:  settings,
		validator: NewValidationHelper(),
	}
}

type purchaseRequest struct {
	AccountID string `json:"account_id" validate:"required,max=64"`
	ItemID    string `json:"item_id" validate:"required,max=64"`
	ItemName  string `json:"item_name" validate:"required,max=120"`
	Price     int64  `json:"price" validate:"required,gt=0"`
	Quantity  int64  `json:"quantity" validate:"omitempty,gt=0,lte=100"`
}

// Purchase debits a store purchase
// @Summary Buy a store item with coins
// @Tags store
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body purchaseRequest true "Purchase request"
// @Success 200 {object} models.Transaction
// @Failure 400 {object} ErrorResponse
// @Failure 402 {object} map[string]string
// @Router /store/purchase [post]
func (s *StoreService) Purchase(w http.ResponseWriter, r *http.Request) {
	var req purchaseRequest
	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}
	if req.Quantity == 0 {
		req.Quantity = 1
	}

	total := req.Price * req.Quantity
	meta := models.Metadata{
		"item_id":   req.ItemID,
		"item_name": req.ItemName,
		"quantity":  req.Quantity,
	}
	txn, err := s.ledger.Debit(r.Context(), req.AccountID, total, models.CategoryStorePurchase,
		fmt.Sprintf("Store purchase: %s x%d", req.ItemName, req.Quantity), meta)
	if err != nil {
		writeEconomyError(w, err)
		return
	}

	log.Printf("[STORE] Account %s bought %s x%d for %d", req.AccountID, req.ItemID, req.Quantity, total)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(txn)
}

// TopUp is the real-currency purchase placeholder
// @Summary Top up coins with real currency (not implemented)
// @Tags store
// @Produce json
// @Security BearerAuth
// @Failure 501 {object} map[string]string
// @Router /store/topup [post]
func (s *StoreService) TopUp(w http.ResponseWriter, r *http.Request) {
	// Payment-provider integration is out of scope for the economy core.
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusNotImplemented)
	json.NewEncoder(w).Encode(map[string]string{
		"error": "real-currency top-up is not available",
	})
}
