package oncall

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrRequestNotFound  = errors.New("request not found")
	ErrProposalNotFound = errors.New("proposal not found")

	// state conflicts
	ErrRequestClosed       = errors.New("request is already closed")
	ErrProposalUnavailable = errors.New("proposal is no longer available")
)

type RequestFilter struct {
	Status           *RequestStatus
	PatientAccountID *uuid.UUID
}

// Repository contains all DB interactions needed by the service.
type Repository interface {
	CreateRequest(ctx context.Context, patientAccountID, activityID uuid.UUID, radius float64) (*Request, error)
	GetRequestByID(ctx context.Context, id uuid.UUID) (*Request, error)
	GetRequestDetail(ctx context.Context, id uuid.UUID) (*RequestDetail, error)
	ListRequests(ctx context.Context, filter RequestFilter) ([]RequestDetail, error)
	DeleteRequest(ctx context.Context, id uuid.UUID) error

	CreateProposal(ctx context.Context, requestID, doctorAccountID, locationID uuid.UUID, price float64, availableTimes []time.Time) (*Proposal, error)
	GetProposalByID(ctx context.Context, id uuid.UUID) (*Proposal, error)
	DeleteProposal(ctx context.Context, id uuid.UUID) error

	// ConfirmProposal applies the acceptance atomically: close the parent
	// request, confirm this proposal, cancel every sibling still in
	// PROPOSAL_SENT. A request that is no longer OPEN yields
	// ErrRequestClosed; a proposal that already left PROPOSAL_SENT yields
	// ErrProposalUnavailable. Either aborts the whole transaction.
	ConfirmProposal(ctx context.Context, proposalID, requestID uuid.UUID) (*Proposal, error)

	// CancelProposal moves PROPOSAL_SENT -> CANCELLED, failing with
	// ErrProposalUnavailable if the proposal already left PROPOSAL_SENT.
	CancelProposal(ctx context.Context, id uuid.UUID) (*Proposal, error)

	// Expiry worker
	FindStaleOpenRequests(ctx context.Context, cutoff time.Time) ([]Request, error)
	CloseExpiredRequest(ctx context.Context, requestID uuid.UUID) error

	// Event logging
	InsertEvent(ctx context.Context, ev EventLog) error
}
