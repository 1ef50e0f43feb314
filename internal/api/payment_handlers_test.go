package api

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conexhealth/oncall-service/internal/payment"
)

// chiRequest builds a request carrying a chi URL parameter, the way the
// router would hand it to the handler.
func chiRequest(method, target, paramKey, paramValue, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(paramKey, paramValue)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func signWebhook(secret, ts, requestID, dataID string) string {
	manifest := fmt.Sprintf("id:%s;request-id:%s;ts:%s;", dataID, requestID, ts)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(manifest))
	return fmt.Sprintf("ts=%s,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

// The webhook service is only reached for signed payment events; these cases
// all short-circuit before business logic, so no service is wired.
func TestPaymentWebhookHandler(t *testing.T) {
	const secret = "webhook-secret"

	t.Run("unsigned call is rejected before anything else", func(t *testing.T) {
		handler := paymentWebhookHandler(nil, payment.NewSignatureValidator(secret, false))

		req := httptest.NewRequest(http.MethodPost, "/payments/webhook?id=123&topic=payment", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("bad signature is rejected", func(t *testing.T) {
		handler := paymentWebhookHandler(nil, payment.NewSignatureValidator(secret, false))

		req := httptest.NewRequest(http.MethodPost, "/payments/webhook?id=123&topic=payment", nil)
		req.Header.Set("x-signature", "ts=1,v1=deadbeef")
		req.Header.Set("x-request-id", "req-1")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("non-payment topics are acknowledged without processing", func(t *testing.T) {
		handler := paymentWebhookHandler(nil, payment.NewSignatureValidator(secret, false))

		req := httptest.NewRequest(http.MethodPost, "/payments/webhook?id=123&topic=merchant_order", nil)
		req.Header.Set("x-signature", signWebhook(secret, "1724900000", "req-1", "123"))
		req.Header.Set("x-request-id", "req-1")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)

		var resp WebhookResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.True(t, resp.Received)
	})

	t.Run("payment id may arrive as data.id", func(t *testing.T) {
		validator := payment.NewSignatureValidator(secret, false)
		handler := paymentWebhookHandler(nil, validator)

		// Signed over the data.id value but carrying an unrelated type, so
		// the handler acknowledges without touching the service.
		req := httptest.NewRequest(http.MethodPost, "/payments/webhook?data.id=456&type=test", nil)
		req.Header.Set("x-signature", signWebhook(secret, "1724900000", "req-2", "456"))
		req.Header.Set("x-request-id", "req-2")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("missing payment id is acknowledged", func(t *testing.T) {
		handler := paymentWebhookHandler(nil, payment.NewSignatureValidator(secret, true))

		req := httptest.NewRequest(http.MethodPost, "/payments/webhook?topic=payment", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestCardPaymentValidation(t *testing.T) {
	handler := createCardPaymentHandler(nil)

	post := func(body string) *httptest.ResponseRecorder {
		r := chiRequest(http.MethodPost, "/payments/proposal/{id}/process", "id", "8b7f9f3e-2f68-4f5a-9f8e-1c2d3e4f5a6b", body)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, r)
		return rec
	}

	t.Run("missing token is rejected", func(t *testing.T) {
		rec := post(`{"payment_method_id":"visa","payer":{"email":"a@b.com"}}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("missing payer email is rejected", func(t *testing.T) {
		rec := post(`{"token":"tok","payment_method_id":"visa","payer":{}}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("malformed body is rejected", func(t *testing.T) {
		rec := post(`{not json`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}
