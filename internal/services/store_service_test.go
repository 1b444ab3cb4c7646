package services

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/playvault/backend/internal/models"
)

func TestStoreService_Purchase(t *testing.T) {
	newStore := func(t *testing.T) (*StoreService, sqlmock.Sqlmock, func()) {
		ledger, mock, cleanup := newLedgerWithMock(t)
		return NewStoreService(ledger, nil), mock, cleanup
	}

	t.Run("debits price times quantity", func(t *testing.T) {
		svc, mock, cleanup := newStore(t)
		defer cleanup()

		mock.ExpectBegin()
		expectAccountLock(mock, "discord:1094", 500, 3)
		mock.ExpectExec("INSERT INTO transactions").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("UPDATE accounts").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		body := bytes.NewBufferString(`{
			"account_id": "discord:1094",
			"item_id": "role-color",
			"item_name": "Custom Role Color",
			"price": 75,
			"quantity": 2
		}`)
		r := httptest.NewRequest(http.MethodPost, "/store/purchase", body)
		w := httptest.NewRecorder()

		svc.Purchase(w, r)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"amount":-150`)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("insufficient balance is a 402, nothing debited", func(t *testing.T) {
		svc, mock, cleanup := newStore(t)
		defer cleanup()

		mock.ExpectBegin()
		expectAccountLock(mock, "discord:1094", 40, 3)
		mock.ExpectRollback()

		body := bytes.NewBufferString(`{
			"account_id": "discord:1094",
			"item_id": "role-color",
			"item_name": "Custom Role Color",
			"price": 75
		}`)
		r := httptest.NewRequest(http.MethodPost, "/store/purchase", body)
		w := httptest.NewRecorder()

		svc.Purchase(w, r)

		assert.Equal(t, http.StatusPaymentRequired, w.Code)
		assert.Contains(t, w.Body.String(), "insufficient funds")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejects malformed bodies before touching the ledger", func(t *testing.T) {
		svc, mock, cleanup := newStore(t)
		defer cleanup()

		r := httptest.NewRequest(http.MethodPost, "/store/purchase",
			bytes.NewBufferString(`{"account_id": "discord:1094", "surprise": true}`))
		w := httptest.NewRecorder()

		svc.Purchase(w, r)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("quantity defaults to one", func(t *testing.T) {
		svc, mock, cleanup := newStore(t)
		defer cleanup()

		mock.ExpectBegin()
		expectAccountLock(mock, "discord:1094", 500, 3)
		mock.ExpectExec("INSERT INTO transactions").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("UPDATE accounts").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		body := bytes.NewBufferString(`{
			"account_id": "discord:1094",
			"item_id": "role-color",
			"item_name": "Custom Role Color",
			"price": 75
		}`)
		r := httptest.NewRequest(http.MethodPost, "/store/purchase", body)
		w := httptest.NewRecorder()

		svc.Purchase(w, r)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"amount":-75`)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestStoreService_TopUp(t *testing.T) {
	svc := NewStoreService(nil, nil)

	r := httptest.NewRequest(http.MethodPost, "/store/topup", nil)
	w := httptest.NewRecorder()

	svc.TopUp(w, r)

	assert.Equal(t, http.StatusNotImplemented, w.Code)
	assert.Contains(t, w.Body.String(), "not available")
}

func TestModels_ValidCategory(t *testing.T) {
	for _, category := range []string{
		models.CategoryVoting, models.CategorySpinning, models.CategoryCasino,
		models.CategoryStorePurchase, models.CategoryAdjustment, models.CategoryRefund,
	} {
		assert.True(t, models.ValidCategory(category), category)
	}
	assert.False(t, models.ValidCategory("mystery"))
	assert.False(t, models.ValidCategory(""))
}

func TestModels_MetadataValue(t *testing.T) {
	t.Run("nil metadata stores an empty object", func(t *testing.T) {
		var meta models.Metadata
		val, err := meta.Value()
		require.NoError(t, err)
		assert.Equal(t, []byte("{}"), val)
	})

	t.Run("populated metadata marshals to JSON", func(t *testing.T) {
		meta := models.Metadata{"tier": "daily-free"}
		val, err := meta.Value()
		require.NoError(t, err)
		assert.JSONEq(t, `{"tier":"daily-free"}`, string(val))
	})
}
