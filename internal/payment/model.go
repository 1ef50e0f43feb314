package payment

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusApproved  Status = "APPROVED"
	StatusRejected  Status = "REJECTED"
	StatusCancelled Status = "CANCELLED"
	StatusRefunded  Status = "REFUNDED"
)

// processorStatusMap translates the processor's status vocabulary into the
// internal enumeration. Anything unrecognized stays PENDING; external
// strings never pass through into internal state.
var processorStatusMap = map[string]Status{
	"approved":  StatusApproved,
	"pending":   StatusPending,
	"rejected":  StatusRejected,
	"cancelled": StatusCancelled,
	"refunded":  StatusRefunded,
}

func mapProcessorStatus(s string) Status {
	if mapped, ok := processorStatusMap[s]; ok {
		return mapped
	}
	return StatusPending
}

// Payment is one attempt to pay for a proposal. A proposal may carry several
// attempts (retried PIX); amount always equals the proposal's price at
// creation time.
type Payment struct {
	ID                uuid.UUID
	ProposalID        uuid.UUID
	ExternalPaymentID string
	Amount            float64
	Status            Status
	PaymentMethod     string
	Installments      int
	PayerEmail        string
	PayerDocType      string
	PayerDocNumber    string
	StatusDetail      string
	PaidAt            *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Payer identifies who is paying.
type Payer struct {
	Email     string
	FirstName string
	LastName  string
	DocType   string
	DocNumber string
}

// CardPaymentResult is what the card flow returns to the caller.
type CardPaymentResult struct {
	ExternalPaymentID string
	Status            string
	StatusDetail      string
	ProposalID        uuid.UUID
	PaymentRecordID   uuid.UUID
}

// PixPaymentResult carries the QR payload the payer scans or copies.
type PixPaymentResult struct {
	ExternalPaymentID string
	Status            string
	QRCode            string
	QRCodeBase64      string
	TicketURL         string
	ProposalID        uuid.UUID
	PaymentRecordID   uuid.UUID
	Simulated         bool
}
