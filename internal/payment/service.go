package payment

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/conexhealth/oncall-service/internal/catalog"
	"github.com/conexhealth/oncall-service/internal/config"
	"github.com/conexhealth/oncall-service/internal/notify"
	"github.com/conexhealth/oncall-service/internal/oncall"
)

// simulatedQRPayload is the static PIX payload handed out when SIMULATE_PIX
// is on and the real processor cannot issue test QR codes.
const simulatedQRPayload = "00020126360014br.gov.bcb.pix0114+55119999999990204000053039865802BR5913Teste Usuario6009SAO PAULO62070503***63041D3D"

type CardPaymentInput struct {
	CardToken    string
	Method       string // payment_method_id from the card tokenizer
	Installments int
	Payer        Payer
}

type Service struct {
	repo      Repository
	processor Processor
	oncall    *oncall.Service
	catalog   catalog.Repository
	notifier  oncall.Notifier
	cfg       config.Config
	log       zerolog.Logger
}

func NewService(repo Repository, processor Processor, oncallSvc *oncall.Service, cat catalog.Repository, notifier oncall.Notifier, cfg config.Config, log zerolog.Logger) *Service {
	return &Service{
		repo:      repo,
		processor: processor,
		oncall:    oncallSvc,
		catalog:   cat,
		notifier:  notifier,
		cfg:       cfg,
		log:       log.With().Str("component", "payment").Logger(),
	}
}

// CreateCardPayment charges the proposal's price on a tokenized card. It
// persists the attempt but never confirms the proposal itself; confirmation
// waits for the processor's approval callback.
func (s *Service) CreateCardPayment(ctx context.Context, proposalID uuid.UUID, in CardPaymentInput) (*CardPaymentResult, error) {
	proposal, description, err := s.loadChargeContext(ctx, proposalID)
	if err != nil {
		return nil, err
	}

	charge, err := s.processor.CreateCharge(ctx, CreateChargeInput{
		Amount:       proposal.Price,
		Description:  description,
		Method:       in.Method,
		CardToken:    in.CardToken,
		Installments: in.Installments,
		Payer:        in.Payer,
		ProposalID:   proposalID,
	})
	if err != nil {
		if errors.Is(err, ErrPaymentFailed) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrPaymentFailed, err)
	}

	var paidAt *time.Time
	status := mapProcessorStatus(charge.Status)
	if status == StatusApproved {
		now := time.Now()
		paidAt = &now
	}

	record, err := s.repo.CreatePayment(ctx, &Payment{
		ProposalID:        proposalID,
		ExternalPaymentID: charge.ID,
		Amount:            proposal.Price,
		Status:            status,
		PaymentMethod:     in.Method,
		Installments:      in.Installments,
		PayerEmail:        in.Payer.Email,
		PayerDocType:      in.Payer.DocType,
		PayerDocNumber:    in.Payer.DocNumber,
		StatusDetail:      charge.StatusDetail,
		PaidAt:            paidAt,
	})
	if err != nil {
		return nil, fmt.Errorf("persist payment: %w", err)
	}

	s.log.Info().
		Str("proposal_id", proposalID.String()).
		Str("external_payment_id", charge.ID).
		Str("status", charge.Status).
		Msg("card payment created")

	return &CardPaymentResult{
		ExternalPaymentID: charge.ID,
		Status:            charge.Status,
		StatusDetail:      charge.StatusDetail,
		ProposalID:        proposalID,
		PaymentRecordID:   record.ID,
	}, nil
}

// CreatePixPayment issues a PIX QR code for the proposal's price. With
// SIMULATE_PIX on, a synthetic payload is fabricated and persisted without
// contacting the processor.
func (s *Service) CreatePixPayment(ctx context.Context, proposalID uuid.UUID, payer Payer) (*PixPaymentResult, error) {
	proposal, description, err := s.loadChargeContext(ctx, proposalID)
	if err != nil {
		return nil, err
	}

	if s.cfg.SimulatePix {
		return s.createSimulatedPix(ctx, proposal, payer)
	}

	charge, err := s.processor.CreateCharge(ctx, CreateChargeInput{
		Amount:      proposal.Price,
		Description: description,
		Method:      "pix",
		Payer:       payer,
		ProposalID:  proposalID,
	})
	if err != nil {
		if errors.Is(err, ErrPaymentFailed) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrPaymentFailed, err)
	}

	record, err := s.repo.CreatePayment(ctx, &Payment{
		ProposalID:        proposalID,
		ExternalPaymentID: charge.ID,
		Amount:            proposal.Price,
		Status:            mapProcessorStatus(charge.Status),
		PaymentMethod:     "pix",
		Installments:      1,
		PayerEmail:        payer.Email,
		PayerDocType:      payer.DocType,
		PayerDocNumber:    payer.DocNumber,
		StatusDetail:      charge.StatusDetail,
	})
	if err != nil {
		return nil, fmt.Errorf("persist payment: %w", err)
	}

	s.log.Info().
		Str("proposal_id", proposalID.String()).
		Str("external_payment_id", charge.ID).
		Msg("pix payment created")

	return &PixPaymentResult{
		ExternalPaymentID: charge.ID,
		Status:            charge.Status,
		QRCode:            charge.QRCode,
		QRCodeBase64:      charge.QRCodeBase64,
		TicketURL:         charge.TicketURL,
		ProposalID:        proposalID,
		PaymentRecordID:   record.ID,
	}, nil
}

func (s *Service) createSimulatedPix(ctx context.Context, proposal *oncall.Proposal, payer Payer) (*PixPaymentResult, error) {
	externalID := fmt.Sprintf("sim-%d", time.Now().UnixMilli())

	record, err := s.repo.CreatePayment(ctx, &Payment{
		ProposalID:        proposal.ID,
		ExternalPaymentID: externalID,
		Amount:            proposal.Price,
		Status:            StatusPending,
		PaymentMethod:     "pix",
		Installments:      1,
		PayerEmail:        payer.Email,
		PayerDocType:      payer.DocType,
		PayerDocNumber:    payer.DocNumber,
		StatusDetail:      "pending_waiting_payment",
	})
	if err != nil {
		return nil, fmt.Errorf("persist simulated payment: %w", err)
	}

	s.log.Info().
		Str("proposal_id", proposal.ID.String()).
		Str("external_payment_id", externalID).
		Msg("simulated pix payment created")

	return &PixPaymentResult{
		ExternalPaymentID: externalID,
		Status:            "pending",
		QRCode:            simulatedQRPayload,
		QRCodeBase64:      base64.StdEncoding.EncodeToString([]byte(simulatedQRPayload)),
		TicketURL:         fmt.Sprintf("https://www.mercadopago.com.br/payments/%s/ticket", externalID),
		ProposalID:        proposal.ID,
		PaymentRecordID:   record.ID,
		Simulated:         true,
	}, nil
}

// HandleWebhook reconciles an asynchronous status callback. It re-fetches
// the charge from the processor (the callback body is never trusted for
// state), updates the local payment row, and on approval runs the idempotent
// proposal confirmation. Replayed callbacks are no-ops.
func (s *Service) HandleWebhook(ctx context.Context, externalPaymentID string) error {
	charge, err := s.processor.GetCharge(ctx, externalPaymentID)
	if err != nil {
		return fmt.Errorf("fetch charge %s: %w", externalPaymentID, err)
	}

	status := mapProcessorStatus(charge.Status)

	var paidAt *time.Time
	if status == StatusApproved {
		now := time.Now()
		paidAt = &now
	}

	if err := s.repo.UpdateStatusByExternalID(ctx, externalPaymentID, status, charge.StatusDetail, paidAt); err != nil {
		if !errors.Is(err, ErrPaymentNotFound) {
			return fmt.Errorf("update payment %s: %w", externalPaymentID, err)
		}
		s.log.Warn().
			Str("external_payment_id", externalPaymentID).
			Msg("webhook for unknown payment, continuing with processor metadata")
	}

	if status != StatusApproved || charge.ProposalID == "" {
		return nil
	}

	proposalID, err := uuid.Parse(charge.ProposalID)
	if err != nil {
		return fmt.Errorf("invalid proposal metadata on payment %s: %w", externalPaymentID, err)
	}

	outcome, err := s.oncall.ConfirmProposalFromPayment(ctx, proposalID)
	if err != nil {
		return fmt.Errorf("confirm proposal %s from payment: %w", proposalID, err)
	}

	if outcome.ConfirmedNow {
		s.notifier.Notify(outcome.PatientAccountID, notify.EventPaymentApproved, "your payment was approved", map[string]any{
			"paymentId":  externalPaymentID,
			"proposalId": proposalID.String(),
			"amount":     charge.Amount,
		})
	}

	return nil
}

// ManualReconcile is the administrative escape hatch: it runs the exact
// webhook path for a payment id supplied by an operator.
func (s *Service) ManualReconcile(ctx context.Context, externalPaymentID string) error {
	return s.HandleWebhook(ctx, externalPaymentID)
}

func (s *Service) loadChargeContext(ctx context.Context, proposalID uuid.UUID) (*oncall.Proposal, string, error) {
	proposal, err := s.oncall.GetProposal(ctx, proposalID)
	if err != nil {
		return nil, "", err
	}

	description := "on-call visit"
	if detail, err := s.oncall.GetRequest(ctx, proposal.RequestID); err == nil {
		description = detail.ActivityName
	}
	if acc, err := s.catalog.GetAccountByID(ctx, proposal.DoctorAccountID); err == nil {
		description = fmt.Sprintf("%s - Dr(a). %s", description, acc.Name)
	}

	return proposal, description, nil
}
