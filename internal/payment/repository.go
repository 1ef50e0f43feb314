package payment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrPaymentNotFound = errors.New("payment not found")

type Repository interface {
	CreatePayment(ctx context.Context, p *Payment) (*Payment, error)
	GetByExternalID(ctx context.Context, externalID string) (*Payment, error)
	UpdateStatusByExternalID(ctx context.Context, externalID string, status Status, statusDetail string, paidAt *time.Time) error
	ListByProposal(ctx context.Context, proposalID uuid.UUID) ([]Payment, error)
}
