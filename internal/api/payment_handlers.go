package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/conexhealth/oncall-service/internal/oncall"
	"github.com/conexhealth/oncall-service/internal/payment"
)

func createCardPaymentHandler(svc *payment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		proposalID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_proposal_id", "id must be a valid UUID")
			return
		}

		var req CardPaymentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		if req.Token == "" || req.PaymentMethodID == "" || req.Payer.Email == "" {
			writeError(w, http.StatusBadRequest, "invalid_input", "token, payment_method_id and payer.email are required")
			return
		}
		if req.Installments <= 0 {
			req.Installments = 1
		}

		result, err := svc.CreateCardPayment(r.Context(), proposalID, payment.CardPaymentInput{
			CardToken:    req.Token,
			Method:       req.PaymentMethodID,
			Installments: req.Installments,
			Payer:        payerFromPayload(req.Payer),
		})
		if err != nil {
			handlePaymentError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, CardPaymentResponse{
			ID:              result.ExternalPaymentID,
			Status:          result.Status,
			StatusDetail:    result.StatusDetail,
			ProposalID:      result.ProposalID,
			PaymentRecordID: result.PaymentRecordID,
		})
	}
}

func createPixPaymentHandler(svc *payment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		proposalID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_proposal_id", "id must be a valid UUID")
			return
		}

		var req PixPaymentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		if req.Payer.Email == "" {
			writeError(w, http.StatusBadRequest, "invalid_input", "payer.email is required")
			return
		}

		result, err := svc.CreatePixPayment(r.Context(), proposalID, payerFromPayload(req.Payer))
		if err != nil {
			handlePaymentError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, PixPaymentResponse{
			ID:              result.ExternalPaymentID,
			Status:          result.Status,
			QRCode:          result.QRCode,
			QRCodeBase64:    result.QRCodeBase64,
			TicketURL:       result.TicketURL,
			ProposalID:      result.ProposalID,
			PaymentRecordID: result.PaymentRecordID,
			Simulated:       result.Simulated,
		})
	}
}

// paymentWebhookHandler authenticates the processor's callback before any
// business logic runs, then reconciles the referenced payment. The handler
// always answers {received:true} on success; replays are harmless.
func paymentWebhookHandler(svc *payment.Service, validator *payment.SignatureValidator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		paymentID := r.URL.Query().Get("id")
		if paymentID == "" {
			paymentID = r.URL.Query().Get("data.id")
		}

		err := validator.Verify(
			r.Header.Get("x-signature"),
			r.Header.Get("x-request-id"),
			paymentID,
		)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid_signature", "webhook signature rejected")
			return
		}

		topic := r.URL.Query().Get("topic")
		if topic == "" {
			topic = r.URL.Query().Get("type")
		}
		if topic != "payment" || paymentID == "" {
			// Not a payment event; acknowledge so the processor stops retrying.
			writeJSON(w, http.StatusOK, WebhookResponse{Received: true})
			return
		}

		if err := svc.HandleWebhook(r.Context(), paymentID); err != nil {
			handlePaymentError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, WebhookResponse{Received: true})
	}
}

func manualReconcileHandler(svc *payment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		paymentID := chi.URLParam(r, "paymentId")
		if paymentID == "" {
			writeError(w, http.StatusBadRequest, "invalid_payment_id", "payment id is required")
			return
		}

		if err := svc.ManualReconcile(r.Context(), paymentID); err != nil {
			handlePaymentError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, WebhookResponse{Received: true})
	}
}

func payerFromPayload(p PayerPayload) payment.Payer {
	return payment.Payer{
		Email:     p.Email,
		FirstName: p.FirstName,
		LastName:  p.LastName,
		DocType:   p.Identification.Type,
		DocNumber: p.Identification.Number,
	}
}

func handlePaymentError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, oncall.ErrProposalNotFound):
		writeError(w, http.StatusNotFound, "proposal_not_found", err.Error())
	case errors.Is(err, payment.ErrPaymentNotFound):
		writeError(w, http.StatusNotFound, "payment_not_found", err.Error())
	case errors.Is(err, payment.ErrPaymentFailed):
		writeError(w, http.StatusPaymentRequired, "payment_failed", err.Error())
	case errors.Is(err, payment.ErrMissingSignature),
		errors.Is(err, payment.ErrInvalidSignature):
		writeError(w, http.StatusUnauthorized, "invalid_signature", "webhook signature rejected")
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected error")
	}
}
