package services

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
)

func TestValidationHelper_ValidateStruct(t *testing.T) {
	vh := NewValidationHelper()

	t.Run("valid earn request", func(t *testing.T) {
		valid := earnRequest{
			AccountID:      "discord:1094",
			ActionType:     "daily_vote",
			NetworkAddress: "203.0.113.7",
		}

		err := vh.ValidateStruct(&valid)
		assert.NoError(t, err)
	})

	t.Run("invalid earn request - missing required fields", func(t *testing.T) {
		invalid := earnRequest{
			ActionType: "tuesday_vote", // not a known action
			// AccountID missing
		}

		err := vh.ValidateStruct(&invalid)
		assert.Error(t, err)

		validationErrors, ok := err.(validator.ValidationErrors)
		assert.True(t, ok)
		assert.Len(t, validationErrors, 2) // AccountID, ActionType errors
	})

	t.Run("invalid wager request id format", func(t *testing.T) {
		invalid := wagerRequest{
			AccountID:  "discord:1094",
			ActionType: "casino",
			BetAmount:  500,
			RequestID:  "not-a-uuid",
		}

		err := vh.ValidateStruct(&invalid)
		assert.Error(t, err)

		validationErrors, ok := err.(validator.ValidationErrors)
		assert.True(t, ok)
		assert.Len(t, validationErrors, 1)
		assert.Equal(t, "RequestID", validationErrors[0].Field())
		assert.Equal(t, "uuid4", validationErrors[0].Tag())
	})

	t.Run("wager bet amount must be positive", func(t *testing.T) {
		invalid := wagerRequest{
			AccountID:  "discord:1094",
			ActionType: "casino",
			BetAmount:  -500,
		}

		err := vh.ValidateStruct(&invalid)
		assert.Error(t, err)

		validationErrors, ok := err.(validator.ValidationErrors)
		assert.True(t, ok)
		assert.Len(t, validationErrors, 1)
		assert.Equal(t, "BetAmount", validationErrors[0].Field())
	})
}

func TestSendErrorResponse(t *testing.T) {
	t.Run("error response without validation errors", func(t *testing.T) {
		w := httptest.NewRecorder()

		SendErrorResponse(w, "Something went wrong", http.StatusInternalServerError, nil)

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

		var response ErrorResponse
		err := json.Unmarshal(w.Body.Bytes(), &response)
		assert.NoError(t, err)
		assert.Equal(t, "Something went wrong", response.Error)
		assert.Nil(t, response.Details)
	})

	t.Run("error response with validation errors", func(t *testing.T) {
		vh := NewValidationHelper()
		invalid := purchaseRequest{
			AccountID: "discord:1094",
			Price:     -5,
			Quantity:  500,
		}

		validationErr := vh.ValidateStruct(&invalid)
		assert.Error(t, validationErr)

		w := httptest.NewRecorder()
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, validationErr)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

		var response ErrorResponse
		err := json.Unmarshal(w.Body.Bytes(), &response)
		assert.NoError(t, err)
		assert.Equal(t, "Validation failed", response.Error)
		assert.NotNil(t, response.Details)
		assert.Contains(t, response.Details, "ItemID")
		assert.Contains(t, response.Details, "Price")
		assert.Contains(t, response.Details, "Quantity")
	})

	t.Run("payment required error", func(t *testing.T) {
		w := httptest.NewRecorder()

		SendErrorResponse(w, "insufficient funds", http.StatusPaymentRequired, nil)

		assert.Equal(t, http.StatusPaymentRequired, w.Code)

		var response ErrorResponse
		err := json.Unmarshal(w.Body.Bytes(), &response)
		assert.NoError(t, err)
		assert.Equal(t, "insufficient funds", response.Error)
	})
}

func TestNewValidationHelper(t *testing.T) {
	vh := NewValidationHelper()
	assert.NotNil(t, vh)
	assert.NotNil(t, vh.validator)
}
