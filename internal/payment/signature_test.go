package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func signHeader(secret, ts, requestID, dataID string) string {
	manifest := fmt.Sprintf("id:%s;request-id:%s;ts:%s;", dataID, requestID, ts)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(manifest))
	return fmt.Sprintf("ts=%s,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func TestSignatureValidator(t *testing.T) {
	const (
		secret    = "topsecret"
		requestID = "req-abc-123"
		dataID    = "4567890"
		ts        = "1724900000"
	)

	t.Run("valid signature passes", func(t *testing.T) {
		v := NewSignatureValidator(secret, false)
		header := signHeader(secret, ts, requestID, dataID)
		assert.NoError(t, v.Verify(header, requestID, dataID))
	})

	t.Run("signature over different data fails", func(t *testing.T) {
		v := NewSignatureValidator(secret, false)
		header := signHeader(secret, ts, requestID, "other-payment")
		assert.ErrorIs(t, v.Verify(header, requestID, dataID), ErrInvalidSignature)
	})

	t.Run("wrong secret fails", func(t *testing.T) {
		v := NewSignatureValidator(secret, false)
		header := signHeader("someoneelse", ts, requestID, dataID)
		assert.ErrorIs(t, v.Verify(header, requestID, dataID), ErrInvalidSignature)
	})

	t.Run("tampered timestamp fails", func(t *testing.T) {
		v := NewSignatureValidator(secret, false)
		header := signHeader(secret, ts, requestID, dataID)
		tampered := "ts=1724999999," + header[len("ts="+ts+","):]
		assert.ErrorIs(t, v.Verify(tampered, requestID, dataID), ErrInvalidSignature)
	})

	t.Run("missing header is rejected by default", func(t *testing.T) {
		v := NewSignatureValidator(secret, false)
		assert.ErrorIs(t, v.Verify("", requestID, dataID), ErrMissingSignature)
	})

	t.Run("missing header passes when unsigned calls are allowed", func(t *testing.T) {
		v := NewSignatureValidator(secret, true)
		assert.NoError(t, v.Verify("", requestID, dataID))
	})

	t.Run("allowing unsigned calls does not skip validation of present headers", func(t *testing.T) {
		v := NewSignatureValidator(secret, true)
		assert.ErrorIs(t, v.Verify("ts=1,v1=deadbeef", requestID, dataID), ErrInvalidSignature)
	})

	t.Run("malformed headers fail", func(t *testing.T) {
		v := NewSignatureValidator(secret, false)
		for _, header := range []string{
			"garbage",
			"ts=123",
			"v1=deadbeef",
			"ts=,v1=",
		} {
			assert.ErrorIs(t, v.Verify(header, requestID, dataID), ErrInvalidSignature, "header %q", header)
		}
	})

	t.Run("spaces around parts are tolerated", func(t *testing.T) {
		v := NewSignatureValidator(secret, false)
		manifest := fmt.Sprintf("id:%s;request-id:%s;ts:%s;", dataID, requestID, ts)
		mac := hmac.New(sha256.New, []byte(secret))
		mac.Write([]byte(manifest))
		header := fmt.Sprintf("ts=%s, v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
		assert.NoError(t, v.Verify(header, requestID, dataID))
	})
}
