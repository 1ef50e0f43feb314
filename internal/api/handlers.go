package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/conexhealth/oncall-service/internal/catalog"
	"github.com/conexhealth/oncall-service/internal/oncall"
	redisclient "github.com/conexhealth/oncall-service/internal/redis"
)

func createRequestHandler(svc *oncall.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		callerID, ok := CallerAccountID(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "missing_credentials", "no authenticated account")
			return
		}

		var req CreateRequestRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		activityID, err := uuid.Parse(req.ActivityID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_activity_id", "activity_id must be a valid UUID")
			return
		}

		created, err := svc.CreateRequest(r.Context(), callerID, activityID, req.Radius)
		if err != nil {
			handleOnCallError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, requestResponse(created))
	}
}

func listOpenRequestsHandler(svc *oncall.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		details, err := svc.ListOpenRequests(r.Context())
		if err != nil {
			handleOnCallError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, detailListResponse(details))
	}
}

func listClosedRequestsHandler(svc *oncall.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		details, err := svc.ListClosedRequests(r.Context())
		if err != nil {
			handleOnCallError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, detailListResponse(details))
	}
}

func listMyRequestsHandler(svc *oncall.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		callerID, ok := CallerAccountID(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "missing_credentials", "no authenticated account")
			return
		}

		var status *oncall.RequestStatus
		if s := r.URL.Query().Get("status"); s != "" {
			parsed := oncall.RequestStatus(s)
			if parsed != oncall.RequestOpen && parsed != oncall.RequestClosed {
				writeError(w, http.StatusBadRequest, "invalid_status", "status must be OPEN or CLOSED")
				return
			}
			status = &parsed
		}

		details, err := svc.ListRequestsByPatient(r.Context(), callerID, status)
		if err != nil {
			handleOnCallError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, detailListResponse(details))
	}
}

func getRequestHandler(svc *oncall.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_id", "id must be a valid UUID")
			return
		}

		detail, err := svc.GetRequest(r.Context(), id)
		if err != nil {
			handleOnCallError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, requestDetailResponse(detail))
	}
}

func deleteRequestHandler(svc *oncall.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_id", "id must be a valid UUID")
			return
		}

		if err := svc.RemoveRequest(r.Context(), id); err != nil {
			handleOnCallError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func createProposalHandler(svc *oncall.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		callerID, ok := CallerAccountID(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "missing_credentials", "no authenticated account")
			return
		}

		var req CreateProposalRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		requestID, err := uuid.Parse(req.RequestID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_id", "request_id must be a valid UUID")
			return
		}

		locationID, err := uuid.Parse(req.PracticeLocationID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_location_id", "practice_location_id must be a valid UUID")
			return
		}

		times, err := parseTimes(req.AvailableTimes)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_available_times", err.Error())
			return
		}

		created, err := svc.CreateProposal(r.Context(), callerID, requestID, locationID, req.Price, times)
		if err != nil {
			handleOnCallError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, proposalResponse(created))
	}
}

func getProposalHandler(svc *oncall.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_proposal_id", "id must be a valid UUID")
			return
		}

		proposal, err := svc.GetProposal(r.Context(), id)
		if err != nil {
			handleOnCallError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, proposalResponse(proposal))
	}
}

func acceptProposalHandler(svc *oncall.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		callerID, ok := CallerAccountID(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "missing_credentials", "no authenticated account")
			return
		}

		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_proposal_id", "id must be a valid UUID")
			return
		}

		var req AcceptProposalRequest
		if r.Body != nil && r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
				return
			}
		}

		var confirmed *oncall.Proposal
		if req.SelectedTime != "" {
			selected, err := parseTime(req.SelectedTime)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_selected_time", err.Error())
				return
			}
			confirmed, err = svc.AcceptProposalWithTime(r.Context(), id, callerID, selected)
			if err != nil {
				handleOnCallError(w, err)
				return
			}
		} else {
			confirmed, err = svc.AcceptProposal(r.Context(), id, callerID)
			if err != nil {
				handleOnCallError(w, err)
				return
			}
		}

		writeJSON(w, http.StatusOK, proposalResponse(confirmed))
	}
}

func rejectProposalHandler(svc *oncall.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		callerID, ok := CallerAccountID(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "missing_credentials", "no authenticated account")
			return
		}

		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_proposal_id", "id must be a valid UUID")
			return
		}

		// Only the owning patient may reject through this endpoint;
		// professionals go through the administrative delete.
		owner := &callerID
		if CallerAccountType(r.Context()) == catalog.AccountProfessional {
			owner = nil
		}

		cancelled, err := svc.RejectProposal(r.Context(), id, owner)
		if err != nil {
			handleOnCallError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, proposalResponse(cancelled))
	}
}

func detailListResponse(details []oncall.RequestDetail) []RequestResponse {
	result := make([]RequestResponse, 0, len(details))
	for i := range details {
		result = append(result, requestDetailResponse(&details[i]))
	}
	return result
}

func parseTimes(raw []string) ([]time.Time, error) {
	times := make([]time.Time, 0, len(raw))
	for _, s := range raw {
		t, err := parseTime(s)
		if err != nil {
			return nil, err
		}
		times = append(times, t)
	}
	return times, nil
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, errors.New("timestamps must be RFC 3339")
	}
	return t, nil
}

func handleOnCallError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, oncall.ErrInvalidRadius),
		errors.Is(err, oncall.ErrInvalidPrice),
		errors.Is(err, oncall.ErrNoAvailableTimes),
		errors.Is(err, oncall.ErrTimeNotAvailable):
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
	case errors.Is(err, catalog.ErrActivityNotFound):
		writeError(w, http.StatusNotFound, "activity_not_found", err.Error())
	case errors.Is(err, catalog.ErrLocationNotFound):
		writeError(w, http.StatusNotFound, "location_not_found", err.Error())
	case errors.Is(err, catalog.ErrDoctorProfileNotFound):
		writeError(w, http.StatusNotFound, "doctor_profile_not_found", err.Error())
	case errors.Is(err, oncall.ErrRequestNotFound):
		writeError(w, http.StatusNotFound, "request_not_found", err.Error())
	case errors.Is(err, oncall.ErrProposalNotFound):
		writeError(w, http.StatusNotFound, "proposal_not_found", err.Error())
	case errors.Is(err, oncall.ErrLocationNotOwned),
		errors.Is(err, oncall.ErrNotRequestOwner):
		writeError(w, http.StatusForbidden, "not_owner", err.Error())
	case errors.Is(err, oncall.ErrRequestClosed):
		writeError(w, http.StatusConflict, "request_closed", err.Error())
	case errors.Is(err, oncall.ErrProposalUnavailable):
		writeError(w, http.StatusConflict, "proposal_unavailable", err.Error())
	case errors.Is(err, oncall.ErrAcceptInProgress),
		errors.Is(err, redisclient.ErrLockNotAcquired):
		writeError(w, http.StatusConflict, "accept_in_progress", "request is currently being accepted, please retry shortly")
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected error")
	}
}
