package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/playvault/backend/internal/models"
	"github.com/playvault/backend/internal/services"
)

// ConfigHandler is the privileged configuration surface: versioned economy
// settings with an audit trail, and prize-table administration. Every route
// sits behind the admin auth middleware.
type ConfigHandler struct {
	settings  *services.SettingsService
	engine    *services.RewardEngine
	validator *services.ValidationHelper
}

func NewConfigHandler(settings *services.SettingsService, engine *services.RewardEngine) *ConfigHandler {
	return &ConfigHandler{
		settings:  settings,
		engine:    engine,
		validator: services.NewValidationHelper(),
	}
}

// GetSetting reads one economy setting
// @Summary Get an economy setting
// @Tags config
// @Produce json
// @Security BearerAuth
// @Param key path string true "Setting key"
// @Success 200 {object} models.EconomySetting
// @Failure 404 {object} map[string]string
// @Router /config/{key} [get]
func (h *ConfigHandler) GetSetting(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	setting, err := h.settings.Get(r.Context(), key)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			services.SendErrorResponse(w, "Setting not found", http.StatusNotFound, nil)
			return
		}
		services.SendErrorResponse(w, "Failed to fetch setting", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(setting)
}

type putSettingRequest struct {
	Value     string `json:"value" validate:"required,max=500"`
	ValueType string `json:"value_type" validate:"required,oneof=string int bool duration"`
	Scope     string `json:"scope" validate:"omitempty,max=40"`
}

// PutSetting writes one economy setting
// @Summary Set an economy setting
// @Description Writes the value with type coercion, bumps the version and appends an audit entry
// @Tags config
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param key path string true "Setting key"
// @Param request body putSettingRequest true "Setting value"
// @Success 200 {object} models.EconomySetting
// @Failure 400 {object} services.ErrorResponse
// @Failure 422 {object} map[string]string
// @Router /config/{key} [put]
func (h *ConfigHandler) PutSetting(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	var req putSettingRequest
	if !h.decodeBody(w, r, &req) {
		return
	}
	if req.Scope == "" {
		req.Scope = "global"
	}

	adminID, _ := r.Context().Value("adminID").(string)
	setting, err := h.settings.Set(r.Context(), key, req.Value, req.ValueType, req.Scope, adminID)
	if err != nil {
		if errors.Is(err, services.ErrInvalidConfiguration) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnprocessableEntity)
			json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
			return
		}
		services.SendErrorResponse(w, "Failed to store setting", http.StatusInternalServerError, nil)
		return
	}

	log.Printf("[CONFIG] %s set %s = %s (v%d)", adminID, key, req.Value, setting.Version)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(setting)
}

// SettingHistory returns the audit trail for one key
// @Summary Get the change history of a setting
// @Tags config
// @Produce json
// @Security BearerAuth
// @Param key path string true "Setting key"
// @Success 200 {array} models.SettingAudit
// @Router /config/{key}/history [get]
func (h *ConfigHandler) SettingHistory(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	entries, err := h.settings.History(r.Context(), key, 20)
	if err != nil {
		services.SendErrorResponse(w, "Failed to fetch history", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"key":     key,
		"history": entries,
	})
}

// ListPrizes returns every prize template
// @Summary List prize templates
// @Tags config
// @Produce json
// @Security BearerAuth
// @Success 200 {array} models.PrizeTemplate
// @Router /config/prizes [get]
func (h *ConfigHandler) ListPrizes(w http.ResponseWriter, r *http.Request) {
	prizes, err := h.engine.ListPrizes(r.Context())
	if err != nil {
		services.SendErrorResponse(w, "Failed to fetch prizes", http.StatusInternalServerError, nil)
		return
	}

	var table any
	if snapshot := h.engine.Table(); snapshot != nil {
		table = map[string]any{
			"allocated_bp":    snapshot.TotalBP,
			"expected_rtp_bp": snapshot.ExpectedRTPBP,
			"loaded_at":       snapshot.LoadedAt,
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"prizes":       prizes,
		"active_table": table,
	})
}

type replacePrizesRequest struct {
	Prizes []models.PrizeTemplate `json:"prizes" validate:"required,min=1,dive"`
}

// ReplacePrizes swaps in a new prize table
// @Summary Replace the active prize table
// @Description Validates probability and house-edge bounds before activation; a rejected table leaves the prior configuration active. Prizes missing from the new set are soft-deactivated
// @Tags config
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body replacePrizesRequest true "New prize set"
// @Success 200 {object} map[string]interface{}
// @Failure 422 {object} map[string]string
// @Router /config/prizes [put]
func (h *ConfigHandler) ReplacePrizes(w http.ResponseWriter, r *http.Request) {
	var req replacePrizesRequest
	if !h.decodeBody(w, r, &req) {
		return
	}

	if err := h.engine.ReplacePrizes(r.Context(), req.Prizes); err != nil {
		if errors.Is(err, services.ErrInvalidConfiguration) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnprocessableEntity)
			json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
			return
		}
		services.SendErrorResponse(w, "Failed to replace prizes", http.StatusInternalServerError, nil)
		return
	}

	adminID, _ := r.Context().Value("adminID").(string)
	snapshot := h.engine.Table()
	log.Printf("[CONFIG] %s replaced prize table: %d prizes, expected RTP %d bp",
		adminID, len(snapshot.Prizes), snapshot.ExpectedRTPBP)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"prizes":          len(snapshot.Prizes),
		"allocated_bp":    snapshot.TotalBP,
		"expected_rtp_bp": snapshot.ExpectedRTPBP,
	})
}

func (h *ConfigHandler) decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return false
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		services.SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return false
	}
	if err := h.validator.ValidateStruct(dst); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return false
	}
	return true
}
