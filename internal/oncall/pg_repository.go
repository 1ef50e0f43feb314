package oncall

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// Helpers

const requestColumns = `id, patient_account_id, activity_id, radius, status, created_at, updated_at`

func scanRequest(row pgx.Row) (*Request, error) {
	var r Request

	err := row.Scan(
		&r.ID,
		&r.PatientAccountID,
		&r.ActivityID,
		&r.Radius,
		&r.Status,
		&r.CreatedAt,
		&r.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRequestNotFound
		}
		return nil, err
	}

	return &r, nil
}

const proposalColumns = `id, request_id, doctor_account_id, practice_location_id, price, available_times, status, created_at, updated_at`

func scanProposal(row pgx.Row) (*Proposal, error) {
	var p Proposal

	err := row.Scan(
		&p.ID,
		&p.RequestID,
		&p.DoctorAccountID,
		&p.PracticeLocationID,
		&p.Price,
		&p.AvailableTimes,
		&p.Status,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProposalNotFound
		}
		return nil, err
	}

	return &p, nil
}

// Interface methods

func (r *PgRepository) CreateRequest(ctx context.Context, patientAccountID, activityID uuid.UUID, radius float64) (*Request, error) {
	id := uuid.New()

	row := r.pool.QueryRow(ctx, `
		INSERT INTO on_call_requests (id, patient_account_id, activity_id, radius, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 'OPEN', now(), now())
		RETURNING `+requestColumns+`
	`, id, patientAccountID, activityID, radius)

	return scanRequest(row)
}

func (r *PgRepository) GetRequestByID(ctx context.Context, id uuid.UUID) (*Request, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+requestColumns+`
		FROM on_call_requests
		WHERE id = $1
	`, id)
	return scanRequest(row)
}

// DeleteRequest purges a request with everything hanging off it, payment
// attempts included; partial deletes would trip the proposal and payment
// foreign keys.
func (r *PgRepository) DeleteRequest(ctx context.Context, id uuid.UUID) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		DELETE FROM payments
		WHERE proposal_id IN (SELECT id FROM on_call_proposals WHERE request_id = $1)
	`, id); err != nil {
		return fmt.Errorf("delete payments for request: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM on_call_proposals WHERE request_id = $1`, id); err != nil {
		return fmt.Errorf("delete proposals for request: %w", err)
	}

	tag, err := tx.Exec(ctx, `DELETE FROM on_call_requests WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete request: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRequestNotFound
	}

	return tx.Commit(ctx)
}

func (r *PgRepository) CreateProposal(ctx context.Context, requestID, doctorAccountID, locationID uuid.UUID, price float64, availableTimes []time.Time) (*Proposal, error) {
	id := uuid.New()

	row := r.pool.QueryRow(ctx, `
		INSERT INTO on_call_proposals (id, request_id, doctor_account_id, practice_location_id, price, available_times, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, 'PROPOSAL_SENT', now(), now())
		RETURNING `+proposalColumns+`
	`, id, requestID, doctorAccountID, locationID, price, availableTimes)

	return scanProposal(row)
}

func (r *PgRepository) GetProposalByID(ctx context.Context, id uuid.UUID) (*Proposal, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+proposalColumns+`
		FROM on_call_proposals
		WHERE id = $1
	`, id)
	return scanProposal(row)
}

func (r *PgRepository) DeleteProposal(ctx context.Context, id uuid.UUID) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM payments WHERE proposal_id = $1`, id); err != nil {
		return fmt.Errorf("delete payments for proposal: %w", err)
	}

	tag, err := tx.Exec(ctx, `DELETE FROM on_call_proposals WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete proposal: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrProposalNotFound
	}

	return tx.Commit(ctx)
}

// ConfirmProposal runs the three acceptance writes in one transaction.
// Closing the request first takes its row lock, so a concurrent acceptance
// on a sibling proposal blocks here and then matches zero rows once the
// first transaction commits.
func (r *PgRepository) ConfirmProposal(ctx context.Context, proposalID, requestID uuid.UUID) (*Proposal, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin confirm tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var closedID uuid.UUID
	err = tx.QueryRow(ctx, `
		UPDATE on_call_requests
		SET status = 'CLOSED',
		    updated_at = now()
		WHERE id = $1
		  AND status = 'OPEN'
		RETURNING id
	`, requestID).Scan(&closedID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRequestClosed
		}
		return nil, fmt.Errorf("close request: %w", err)
	}

	row := tx.QueryRow(ctx, `
		UPDATE on_call_proposals
		SET status = 'CONFIRMED',
		    updated_at = now()
		WHERE id = $1
		  AND request_id = $2
		  AND status = 'PROPOSAL_SENT'
		RETURNING `+proposalColumns+`
	`, proposalID, requestID)

	confirmed, err := scanProposal(row)
	if err != nil {
		if errors.Is(err, ErrProposalNotFound) {
			return nil, ErrProposalUnavailable
		}
		return nil, fmt.Errorf("confirm proposal: %w", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE on_call_proposals
		SET status = 'CANCELLED',
		    updated_at = now()
		WHERE request_id = $1
		  AND id <> $2
		  AND status = 'PROPOSAL_SENT'
	`, requestID, proposalID)
	if err != nil {
		return nil, fmt.Errorf("cancel sibling proposals: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit confirm tx: %w", err)
	}

	return confirmed, nil
}

func (r *PgRepository) CancelProposal(ctx context.Context, id uuid.UUID) (*Proposal, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE on_call_proposals
		SET status = 'CANCELLED',
		    updated_at = now()
		WHERE id = $1
		  AND status = 'PROPOSAL_SENT'
		RETURNING `+proposalColumns+`
	`, id)

	p, err := scanProposal(row)
	if err != nil {
		if errors.Is(err, ErrProposalNotFound) {
			return nil, ErrProposalUnavailable
		}
		return nil, err
	}
	return p, nil
}

func (r *PgRepository) FindStaleOpenRequests(ctx context.Context, cutoff time.Time) ([]Request, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+requestColumns+`
		FROM on_call_requests
		WHERE status = 'OPEN'
		  AND created_at < $1
	`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *req)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

// CloseExpiredRequest closes a request without confirming anything and
// cancels every pending proposal. A request that already left OPEN is left
// alone.
func (r *PgRepository) CloseExpiredRequest(ctx context.Context, requestID uuid.UUID) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin expire tx: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE on_call_requests
		SET status = 'CLOSED',
		    updated_at = now()
		WHERE id = $1
		  AND status = 'OPEN'
	`, requestID)
	if err != nil {
		return fmt.Errorf("expire request: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil
	}

	_, err = tx.Exec(ctx, `
		UPDATE on_call_proposals
		SET status = 'CANCELLED',
		    updated_at = now()
		WHERE request_id = $1
		  AND status = 'PROPOSAL_SENT'
	`, requestID)
	if err != nil {
		return fmt.Errorf("cancel proposals of expired request: %w", err)
	}

	return tx.Commit(ctx)
}

func (r *PgRepository) GetRequestDetail(ctx context.Context, id uuid.UUID) (*RequestDetail, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT r.id, r.patient_account_id, r.activity_id, r.radius, r.status, r.created_at, r.updated_at,
		       a.name, s.name
		FROM on_call_requests r
		JOIN activities a ON a.id = r.activity_id
		JOIN specialties s ON s.id = a.specialty_id
		WHERE r.id = $1
	`, id)

	var d RequestDetail
	err := row.Scan(
		&d.ID,
		&d.PatientAccountID,
		&d.ActivityID,
		&d.Radius,
		&d.Status,
		&d.CreatedAt,
		&d.UpdatedAt,
		&d.ActivityName,
		&d.SpecialtyName,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRequestNotFound
		}
		return nil, err
	}

	proposals, err := r.listProposalDetails(ctx, []uuid.UUID{d.ID})
	if err != nil {
		return nil, err
	}
	d.Proposals = proposals[d.ID]

	return &d, nil
}

func (r *PgRepository) ListRequests(ctx context.Context, filter RequestFilter) ([]RequestDetail, error) {
	query := `
		SELECT r.id, r.patient_account_id, r.activity_id, r.radius, r.status, r.created_at, r.updated_at,
		       a.name, s.name
		FROM on_call_requests r
		JOIN activities a ON a.id = r.activity_id
		JOIN specialties s ON s.id = a.specialty_id
		WHERE 1=1
	`
	args := []any{}

	if filter.Status != nil {
		args = append(args, *filter.Status)
		query += fmt.Sprintf(" AND r.status = $%d", len(args))
	}
	if filter.PatientAccountID != nil {
		args = append(args, *filter.PatientAccountID)
		query += fmt.Sprintf(" AND r.patient_account_id = $%d", len(args))
	}

	// Patient listings show OPEN before CLOSED; status-filtered listings
	// just order by recency.
	if filter.PatientAccountID != nil {
		query += " ORDER BY r.status ASC, r.created_at DESC"
	} else if filter.Status != nil && *filter.Status == RequestClosed {
		query += " ORDER BY r.updated_at DESC"
	} else {
		query += " ORDER BY r.created_at DESC"
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var details []RequestDetail
	var ids []uuid.UUID
	for rows.Next() {
		var d RequestDetail
		err := rows.Scan(
			&d.ID,
			&d.PatientAccountID,
			&d.ActivityID,
			&d.Radius,
			&d.Status,
			&d.CreatedAt,
			&d.UpdatedAt,
			&d.ActivityName,
			&d.SpecialtyName,
		)
		if err != nil {
			return nil, err
		}
		details = append(details, d)
		ids = append(ids, d.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(ids) == 0 {
		return details, nil
	}

	proposals, err := r.listProposalDetails(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range details {
		details[i].Proposals = proposals[details[i].ID]
	}

	return details, nil
}

func (r *PgRepository) listProposalDetails(ctx context.Context, requestIDs []uuid.UUID) (map[uuid.UUID][]ProposalDetail, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT p.id, p.request_id, p.doctor_account_id, p.practice_location_id, p.price, p.available_times, p.status, p.created_at, p.updated_at,
		       acc.name, pl.city
		FROM on_call_proposals p
		JOIN accounts acc ON acc.id = p.doctor_account_id
		JOIN practice_locations pl ON pl.id = p.practice_location_id
		WHERE p.request_id = ANY($1)
		ORDER BY p.created_at DESC
	`, requestIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[uuid.UUID][]ProposalDetail)
	for rows.Next() {
		var d ProposalDetail
		err := rows.Scan(
			&d.ID,
			&d.RequestID,
			&d.DoctorAccountID,
			&d.PracticeLocationID,
			&d.Price,
			&d.AvailableTimes,
			&d.Status,
			&d.CreatedAt,
			&d.UpdatedAt,
			&d.DoctorName,
			&d.LocationCity,
		)
		if err != nil {
			return nil, err
		}
		result[d.RequestID] = append(result[d.RequestID], d)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO event_logs (event_type, request_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.RequestID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
