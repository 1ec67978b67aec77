package yookassa

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pkorchagin/skyfare/config"
	"github.com/pkorchagin/skyfare/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client := NewClient(config.ProviderConfig{
		ShopID:    "shop-1",
		SecretKey: "secret",
		BaseURL:   srv.URL,
	})
	return client, srv
}

func TestCreatePayment(t *testing.T) {
	var gotAuthUser, gotIdemKey string
	var gotBody createPaymentRequest

	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/payments", r.URL.Path)
		gotAuthUser, _, _ = r.BasicAuth()
		gotIdemKey = r.Header.Get("Idempotence-Key")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		json.NewEncoder(w).Encode(PaymentObject{
			ID:           "pay-123",
			Status:       "pending",
			Amount:       Amount{Value: "26250.00", Currency: "RUB"},
			Confirmation: &Confirmation{Type: "embedded", ConfirmationToken: "ct-token"},
		})
	})

	obj, err := client.CreatePayment(context.Background(), decimal.NewFromInt(26250), "RUB", "booking X", "idem-1", map[string]string{"booking": "abc"})
	require.NoError(t, err)

	assert.Equal(t, "pay-123", obj.ID)
	assert.Equal(t, "ct-token", obj.Confirmation.ConfirmationToken)
	assert.Equal(t, "shop-1", gotAuthUser)
	assert.Equal(t, "idem-1", gotIdemKey)
	assert.Equal(t, "26250.00", gotBody.Amount.Value)
	assert.False(t, gotBody.Capture, "two-phase flow authorizes without capture")
	assert.Equal(t, "embedded", gotBody.Confirmation.Type)
}

func TestCapture(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/payments/pay-123/capture", r.URL.Path)
		var body captureRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "100.50", body.Amount.Value)

		json.NewEncoder(w).Encode(PaymentObject{ID: "pay-123", Status: "succeeded", Paid: true})
	})

	obj, err := client.Capture(context.Background(), "pay-123", decimal.RequireFromString("100.5"), "RUB", "idem-2")
	require.NoError(t, err)
	assert.Equal(t, "succeeded", obj.Status)
	assert.True(t, obj.Paid)
}

func TestCreateRefund(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/refunds", r.URL.Path)
		var body refundRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "pay-123", body.PaymentID)
		assert.Equal(t, "14500.00", body.Amount.Value)

		json.NewEncoder(w).Encode(RefundObject{ID: "rf-1", PaymentID: "pay-123", Status: "succeeded"})
	})

	obj, err := client.CreateRefund(context.Background(), "pay-123", decimal.NewFromInt(14500), "RUB", "idem-3")
	require.NoError(t, err)
	assert.Equal(t, "rf-1", obj.ID)
	assert.Equal(t, "succeeded", obj.Status)
}

func TestErrorKinds(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/payments/boom":
			w.WriteHeader(http.StatusBadGateway)
		default:
			w.WriteHeader(http.StatusUnprocessableEntity)
		}
	})

	_, err := client.GetPayment(context.Background(), "boom")
	assert.Equal(t, domain.KindTransient, domain.KindOf(err), "5xx must be retriable")

	_, err = client.GetPayment(context.Background(), "rejected")
	assert.Equal(t, domain.KindConflict, domain.KindOf(err), "4xx is a terminal rejection")
}
