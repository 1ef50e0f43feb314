package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conexhealth/oncall-service/internal/catalog"
)

const testSecret = "test-secret"

func mintToken(t *testing.T, secret string, accountID uuid.UUID, accountType catalog.AccountType) string {
	t.Helper()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"accountId":   accountID.String(),
		"accountType": string(accountType),
		"exp":         time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestAuthMiddleware(t *testing.T) {
	accountID := uuid.New()

	var gotID uuid.UUID
	var gotOK bool
	var gotType catalog.AccountType
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotID, gotOK = CallerAccountID(r.Context())
		gotType = CallerAccountType(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	handler := AuthMiddleware(testSecret)(next)

	t.Run("bearer token is accepted", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/on-call/requests/open", nil)
		req.Header.Set("Authorization", "Bearer "+mintToken(t, testSecret, accountID, catalog.AccountPatient))
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.True(t, gotOK)
		assert.Equal(t, accountID, gotID)
		assert.Equal(t, catalog.AccountPatient, gotType)
	})

	t.Run("cookie token is accepted", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/on-call/requests/open", nil)
		req.AddCookie(&http.Cookie{Name: "accessToken", Value: mintToken(t, testSecret, accountID, catalog.AccountProfessional)})
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, catalog.AccountProfessional, gotType)
	})

	t.Run("missing token is unauthorized", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/on-call/requests/open", nil)
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("token signed with another secret is unauthorized", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/on-call/requests/open", nil)
		req.Header.Set("Authorization", "Bearer "+mintToken(t, "wrong-secret", accountID, catalog.AccountPatient))
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("token without an account id is unauthorized", func(t *testing.T) {
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"exp": time.Now().Add(time.Hour).Unix(),
		})
		signed, err := token.SignedString([]byte(testSecret))
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodGet, "/on-call/requests/open", nil)
		req.Header.Set("Authorization", "Bearer "+signed)
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("expired token is unauthorized", func(t *testing.T) {
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"accountId": accountID.String(),
			"exp":       time.Now().Add(-time.Hour).Unix(),
		})
		signed, err := token.SignedString([]byte(testSecret))
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodGet, "/on-call/requests/open", nil)
		req.Header.Set("Authorization", "Bearer "+signed)
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestRequestIDMiddleware(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, GetRequestID(r.Context()))
		w.WriteHeader(http.StatusOK)
	})
	handler := RequestIDMiddleware(next)

	t.Run("generates an id", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	})

	t.Run("keeps the caller's id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Request-ID", "abc-123")
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)
		assert.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"))
	})
}

func TestParseTime(t *testing.T) {
	t.Run("RFC 3339 with offset", func(t *testing.T) {
		parsed, err := parseTime("2026-09-10T11:00:00-03:00")
		require.NoError(t, err)
		assert.True(t, parsed.Equal(time.Date(2026, 9, 10, 14, 0, 0, 0, time.UTC)))
	})

	t.Run("rejects other formats", func(t *testing.T) {
		for _, s := range []string{"2026-09-10", "10/09/2026 14:00", "tomorrow", ""} {
			_, err := parseTime(s)
			assert.Error(t, err, "input %q", s)
		}
	})
}
