package oncall

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/conexhealth/oncall-service/internal/catalog"
	"github.com/conexhealth/oncall-service/internal/config"
	"github.com/conexhealth/oncall-service/internal/notify"
	redisclient "github.com/conexhealth/oncall-service/internal/redis"
)

const (
	EventRequestCreated   = "REQUEST_CREATED"
	EventProposalSent     = "PROPOSAL_SENT"
	EventProposalAccepted = "PROPOSAL_ACCEPTED"
	EventProposalRejected = "PROPOSAL_REJECTED"
	EventRequestExpired   = "REQUEST_EXPIRED"
)

var (
	ErrInvalidRadius    = errors.New("radius must not be negative")
	ErrInvalidPrice     = errors.New("price must not be negative")
	ErrNoAvailableTimes = errors.New("at least one available time is required")
	ErrTimeNotAvailable = errors.New("selected time is not available")

	ErrLocationNotOwned = errors.New("practice location does not belong to this doctor")
	ErrNotRequestOwner  = errors.New("caller does not own this request")

	ErrAcceptInProgress = errors.New("request is currently being accepted, please retry")
)

// Notifier pushes events to connected parties, best effort. Implemented by
// notify.Hub.
type Notifier interface {
	Notify(accountID uuid.UUID, event notify.EventType, message string, data any)
	BroadcastToRole(role catalog.AccountType, event notify.EventType, message string, data any)
}

type Service struct {
	repo     Repository
	catalog  catalog.Repository
	locker   redisclient.Locker
	notifier Notifier
	cfg      config.Config
	log      zerolog.Logger
}

func NewService(repo Repository, cat catalog.Repository, locker redisclient.Locker, notifier Notifier, cfg config.Config, log zerolog.Logger) *Service {
	return &Service{
		repo:     repo,
		catalog:  cat,
		locker:   locker,
		notifier: notifier,
		cfg:      cfg,
		log:      log.With().Str("component", "oncall").Logger(),
	}
}

// CreateRequest opens a new on-call request for a patient and alerts every
// doctor linked to the requested activity. When no doctor carries the link,
// the request is broadcast to all connected professionals instead.
func (s *Service) CreateRequest(ctx context.Context, patientAccountID, activityID uuid.UUID, radius float64) (*Request, error) {
	if radius < 0 {
		return nil, ErrInvalidRadius
	}

	activity, err := s.catalog.GetActivityByID(ctx, activityID)
	if err != nil {
		if errors.Is(err, catalog.ErrActivityNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load activity: %w", err)
	}

	req, err := s.repo.CreateRequest(ctx, patientAccountID, activityID, radius)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	s.logEvent(ctx, req.ID, EventRequestCreated, map[string]any{
		"patient_account_id": patientAccountID.String(),
		"activity_id":        activityID.String(),
		"radius":             radius,
	})

	data := map[string]any{
		"requestId":     req.ID.String(),
		"activityName":  activity.Name,
		"specialtyName": activity.SpecialtyName,
		"radius":        radius,
	}

	doctors, err := s.catalog.ListDoctorAccountsByActivity(ctx, activityID)
	if err != nil {
		s.log.Error().Err(err).Str("activity_id", activityID.String()).Msg("list doctors for fan-out")
		doctors = nil
	}

	if len(doctors) == 0 {
		s.notifier.BroadcastToRole(catalog.AccountProfessional, notify.EventNewRequest, "new on-call request available", data)
	} else {
		for _, doctorAccountID := range doctors {
			s.notifier.Notify(doctorAccountID, notify.EventNewRequest, "new on-call request available", data)
		}
	}

	return req, nil
}

// CreateProposal submits a doctor's priced offer against an open request.
// Preconditions are checked in a fixed order so callers get stable failures:
// location exists, doctor profile exists, location ownership, request
// exists, request still open.
func (s *Service) CreateProposal(ctx context.Context, doctorAccountID, requestID, locationID uuid.UUID, price float64, availableTimes []time.Time) (*Proposal, error) {
	if price < 0 {
		return nil, ErrInvalidPrice
	}
	if len(availableTimes) == 0 {
		return nil, ErrNoAvailableTimes
	}

	location, err := s.catalog.GetPracticeLocationByID(ctx, locationID)
	if err != nil {
		if errors.Is(err, catalog.ErrLocationNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load practice location: %w", err)
	}

	profile, err := s.catalog.GetDoctorProfileByAccountID(ctx, doctorAccountID)
	if err != nil {
		if errors.Is(err, catalog.ErrDoctorProfileNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load doctor profile: %w", err)
	}

	if location.DoctorProfileID != profile.ID {
		return nil, ErrLocationNotOwned
	}

	req, err := s.repo.GetRequestByID(ctx, requestID)
	if err != nil {
		if errors.Is(err, ErrRequestNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load request: %w", err)
	}

	if req.Status != RequestOpen {
		return nil, ErrRequestClosed
	}

	proposal, err := s.repo.CreateProposal(ctx, requestID, doctorAccountID, locationID, price, availableTimes)
	if err != nil {
		return nil, fmt.Errorf("create proposal: %w", err)
	}

	s.logEvent(ctx, requestID, EventProposalSent, map[string]any{
		"proposal_id":       proposal.ID.String(),
		"doctor_account_id": doctorAccountID.String(),
		"price":             price,
	})

	doctorName := ""
	if acc, err := s.catalog.GetAccountByID(ctx, doctorAccountID); err == nil {
		doctorName = acc.Name
	}

	s.notifier.Notify(req.PatientAccountID, notify.EventNewProposal, "you received a new proposal", map[string]any{
		"proposalId": proposal.ID.String(),
		"doctorName": doctorName,
		"price":      price,
		"location":   location.City,
	})

	return proposal, nil
}

// AcceptProposal confirms a proposal on behalf of the owning patient without
// a time selection.
func (s *Service) AcceptProposal(ctx context.Context, proposalID, patientAccountID uuid.UUID) (*Proposal, error) {
	return s.accept(ctx, proposalID, &patientAccountID, nil)
}

// AcceptProposalWithTime confirms a proposal for one of its offered times.
// The selected time must match an entry of the proposal's availableTimes by
// instant (format and zone differences do not matter).
func (s *Service) AcceptProposalWithTime(ctx context.Context, proposalID, patientAccountID uuid.UUID, selectedTime time.Time) (*Proposal, error) {
	return s.accept(ctx, proposalID, &patientAccountID, &selectedTime)
}

// accept is the single acceptance routine behind both public variants:
// ownership-checked when a patient id is supplied, time-checked when a
// selection is supplied. The three status writes happen inside one database
// transaction, additionally serialized by a per-request Redis lock, so out
// of N sibling proposals at most one can ever reach CONFIRMED.
func (s *Service) accept(ctx context.Context, proposalID uuid.UUID, patientAccountID *uuid.UUID, selectedTime *time.Time) (*Proposal, error) {
	proposal, err := s.repo.GetProposalByID(ctx, proposalID)
	if err != nil {
		if errors.Is(err, ErrProposalNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load proposal: %w", err)
	}

	req, err := s.repo.GetRequestByID(ctx, proposal.RequestID)
	if err != nil {
		return nil, fmt.Errorf("load request: %w", err)
	}

	if patientAccountID != nil && req.PatientAccountID != *patientAccountID {
		return nil, ErrNotRequestOwner
	}
	if req.Status != RequestOpen {
		return nil, ErrRequestClosed
	}
	if proposal.Status != ProposalSent {
		return nil, ErrProposalUnavailable
	}
	if selectedTime != nil && !timeOffered(*selectedTime, proposal.AvailableTimes) {
		return nil, ErrTimeNotAvailable
	}

	var confirmed *Proposal
	err = s.locker.WithRequestLock(ctx, req.ID, func(lockCtx context.Context) error {
		var txErr error
		confirmed, txErr = s.repo.ConfirmProposal(lockCtx, proposalID, req.ID)
		return txErr
	})
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrAcceptInProgress
		}
		return nil, err
	}

	payload := map[string]any{"proposal_id": proposalID.String()}
	if selectedTime != nil {
		payload["selected_time"] = selectedTime.UTC().Format(time.RFC3339)
	}
	s.logEvent(ctx, req.ID, EventProposalAccepted, payload)

	data := map[string]any{"proposalId": proposalID.String()}
	if selectedTime != nil {
		data["selectedTime"] = selectedTime.UTC().Format(time.RFC3339)
	}
	s.notifier.Notify(proposal.DoctorAccountID, notify.EventProposalAccepted, "your proposal was accepted", data)

	return confirmed, nil
}

// RejectProposal cancels a single pending proposal. The parent request stays
// OPEN: other proposals may still be accepted.
func (s *Service) RejectProposal(ctx context.Context, proposalID uuid.UUID, patientAccountID *uuid.UUID) (*Proposal, error) {
	proposal, err := s.repo.GetProposalByID(ctx, proposalID)
	if err != nil {
		if errors.Is(err, ErrProposalNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load proposal: %w", err)
	}

	req, err := s.repo.GetRequestByID(ctx, proposal.RequestID)
	if err != nil {
		return nil, fmt.Errorf("load request: %w", err)
	}

	if patientAccountID != nil && req.PatientAccountID != *patientAccountID {
		return nil, ErrNotRequestOwner
	}
	if req.Status != RequestOpen {
		return nil, ErrRequestClosed
	}
	if proposal.Status != ProposalSent {
		return nil, ErrProposalUnavailable
	}

	cancelled, err := s.repo.CancelProposal(ctx, proposalID)
	if err != nil {
		return nil, err
	}

	s.logEvent(ctx, req.ID, EventProposalRejected, map[string]any{
		"proposal_id": proposalID.String(),
	})

	s.notifier.Notify(proposal.DoctorAccountID, notify.EventProposalRejected, "your proposal was rejected", map[string]any{
		"proposalId": proposalID.String(),
	})

	return cancelled, nil
}

// PaymentConfirmation is the outcome of a payment-driven confirmation.
type PaymentConfirmation struct {
	Proposal         *Proposal
	PatientAccountID uuid.UUID
	ConfirmedNow     bool
}

// ConfirmProposalFromPayment runs the acceptance transaction on behalf of an
// approved payment. Webhooks replay, so an already confirmed proposal or an
// already closed request is a no-op, never an error.
func (s *Service) ConfirmProposalFromPayment(ctx context.Context, proposalID uuid.UUID) (*PaymentConfirmation, error) {
	proposal, err := s.repo.GetProposalByID(ctx, proposalID)
	if err != nil {
		if errors.Is(err, ErrProposalNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load proposal: %w", err)
	}

	req, err := s.repo.GetRequestByID(ctx, proposal.RequestID)
	if err != nil {
		return nil, fmt.Errorf("load request: %w", err)
	}

	outcome := &PaymentConfirmation{
		Proposal:         proposal,
		PatientAccountID: req.PatientAccountID,
	}

	if proposal.Status == ProposalConfirmed || req.Status != RequestOpen {
		return outcome, nil
	}
	if proposal.Status != ProposalSent {
		s.log.Warn().
			Str("proposal_id", proposalID.String()).
			Str("status", string(proposal.Status)).
			Msg("approved payment for cancelled proposal, skipping confirmation")
		return outcome, nil
	}

	err = s.locker.WithRequestLock(ctx, req.ID, func(lockCtx context.Context) error {
		confirmed, txErr := s.repo.ConfirmProposal(lockCtx, proposalID, req.ID)
		if txErr != nil {
			// Lost the race to another acceptance: still a no-op for the
			// webhook path.
			if errors.Is(txErr, ErrRequestClosed) || errors.Is(txErr, ErrProposalUnavailable) {
				return nil
			}
			return txErr
		}
		outcome.Proposal = confirmed
		outcome.ConfirmedNow = true
		return nil
	})
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrAcceptInProgress
		}
		return nil, err
	}

	if outcome.ConfirmedNow {
		s.logEvent(ctx, req.ID, EventProposalAccepted, map[string]any{
			"proposal_id": proposalID.String(),
			"trigger":     "payment",
		})
		s.notifier.Notify(proposal.DoctorAccountID, notify.EventProposalAccepted, "your proposal was accepted", map[string]any{
			"proposalId": proposalID.String(),
		})
	}

	return outcome, nil
}

// ExpireStaleRequests closes OPEN requests older than the configured TTL and
// cancels their pending proposals. With no TTL configured it does nothing;
// requests live until accepted or removed.
func (s *Service) ExpireStaleRequests(ctx context.Context) error {
	if s.cfg.RequestTTL <= 0 {
		return nil
	}

	cutoff := time.Now().Add(-s.cfg.RequestTTL)
	stale, err := s.repo.FindStaleOpenRequests(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("find stale open requests: %w", err)
	}

	for _, req := range stale {
		if err := s.repo.CloseExpiredRequest(ctx, req.ID); err != nil {
			s.log.Error().Err(err).Str("request_id", req.ID.String()).Msg("expire request")
			continue
		}
		s.logEvent(ctx, req.ID, EventRequestExpired, map[string]any{
			"reason": "worker",
			"ttl":    s.cfg.RequestTTL.String(),
		})
	}

	return nil
}

func (s *Service) GetRequest(ctx context.Context, id uuid.UUID) (*RequestDetail, error) {
	detail, err := s.repo.GetRequestDetail(ctx, id)
	if err != nil {
		if errors.Is(err, ErrRequestNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("get request: %w", err)
	}
	return detail, nil
}

func (s *Service) GetProposal(ctx context.Context, id uuid.UUID) (*Proposal, error) {
	proposal, err := s.repo.GetProposalByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrProposalNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("get proposal: %w", err)
	}
	return proposal, nil
}

func (s *Service) ListOpenRequests(ctx context.Context) ([]RequestDetail, error) {
	status := RequestOpen
	return s.repo.ListRequests(ctx, RequestFilter{Status: &status})
}

func (s *Service) ListClosedRequests(ctx context.Context) ([]RequestDetail, error) {
	status := RequestClosed
	return s.repo.ListRequests(ctx, RequestFilter{Status: &status})
}

func (s *Service) ListRequestsByPatient(ctx context.Context, patientAccountID uuid.UUID, status *RequestStatus) ([]RequestDetail, error) {
	return s.repo.ListRequests(ctx, RequestFilter{Status: status, PatientAccountID: &patientAccountID})
}

// RemoveRequest is an administrative escape hatch, not part of the normal
// lifecycle.
func (s *Service) RemoveRequest(ctx context.Context, id uuid.UUID) error {
	return s.repo.DeleteRequest(ctx, id)
}

func (s *Service) RemoveProposal(ctx context.Context, id uuid.UUID) error {
	return s.repo.DeleteProposal(ctx, id)
}

// timeOffered reports whether selected matches any offered time by instant.
func timeOffered(selected time.Time, offered []time.Time) bool {
	for _, t := range offered {
		if selected.Equal(t) {
			return true
		}
	}
	return false
}

func (s *Service) logEvent(ctx context.Context, requestID uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Error().Err(err).Str("event", eventType).Msg("marshal event payload")
		data = nil
	}

	reqID := requestID

	ev := EventLog{
		EventType: eventType,
		RequestID: &reqID,
		Payload:   data,
		CreatedAt: time.Now(),
	}

	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		s.log.Error().Err(err).Str("event", eventType).Str("request_id", requestID.String()).Msg("insert event log")
	}
}
