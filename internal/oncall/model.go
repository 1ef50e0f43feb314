package oncall

import (
	"time"

	"github.com/google/uuid"
)

type RequestStatus string

const (
	RequestOpen   RequestStatus = "OPEN"
	RequestClosed RequestStatus = "CLOSED"
)

type ProposalStatus string

const (
	ProposalSent      ProposalStatus = "PROPOSAL_SENT"
	ProposalConfirmed ProposalStatus = "CONFIRMED"
	ProposalCancelled ProposalStatus = "CANCELLED"
)

// Request is a patient's open call for an on-demand service matching an
// activity, within a search radius. OPEN -> CLOSED is the only transition.
type Request struct {
	ID               uuid.UUID
	PatientAccountID uuid.UUID
	ActivityID       uuid.UUID
	Radius           float64
	Status           RequestStatus
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Proposal is a doctor's priced offer against an open request. Once it
// leaves PROPOSAL_SENT it is terminal.
type Proposal struct {
	ID                 uuid.UUID
	RequestID          uuid.UUID
	DoctorAccountID    uuid.UUID
	PracticeLocationID uuid.UUID
	Price              float64
	AvailableTimes     []time.Time
	Status             ProposalStatus
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

type ProposalDetail struct {
	Proposal
	DoctorName   string
	LocationCity string
}

type RequestDetail struct {
	Request
	ActivityName  string
	SpecialtyName string
	Proposals     []ProposalDetail
}

type EventLog struct {
	ID        int64
	EventType string
	RequestID *uuid.UUID
	Payload   []byte
	CreatedAt time.Time
}
