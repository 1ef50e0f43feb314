package payment

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

const paymentColumns = `id, proposal_id, external_payment_id, amount, status, payment_method, installments, payer_email, payer_doc_type, payer_doc_number, status_detail, paid_at, created_at, updated_at`

func scanPayment(row pgx.Row) (*Payment, error) {
	var p Payment
	var externalID, docType, docNumber, statusDetail *string

	err := row.Scan(
		&p.ID,
		&p.ProposalID,
		&externalID,
		&p.Amount,
		&p.Status,
		&p.PaymentMethod,
		&p.Installments,
		&p.PayerEmail,
		&docType,
		&docNumber,
		&statusDetail,
		&p.PaidAt,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}

	if externalID != nil {
		p.ExternalPaymentID = *externalID
	}
	if docType != nil {
		p.PayerDocType = *docType
	}
	if docNumber != nil {
		p.PayerDocNumber = *docNumber
	}
	if statusDetail != nil {
		p.StatusDetail = *statusDetail
	}

	return &p, nil
}

func (r *PgRepository) CreatePayment(ctx context.Context, p *Payment) (*Payment, error) {
	id := uuid.New()

	row := r.pool.QueryRow(ctx, `
		INSERT INTO payments (id, proposal_id, external_payment_id, amount, status, payment_method, installments, payer_email, payer_doc_type, payer_doc_number, status_detail, paid_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, now(), now())
		RETURNING `+paymentColumns+`
	`, id, p.ProposalID, nullableString(p.ExternalPaymentID), p.Amount, p.Status, p.PaymentMethod,
		p.Installments, p.PayerEmail, nullableString(p.PayerDocType), nullableString(p.PayerDocNumber),
		nullableString(p.StatusDetail), p.PaidAt)

	return scanPayment(row)
}

func (r *PgRepository) GetByExternalID(ctx context.Context, externalID string) (*Payment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE external_payment_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`, externalID)
	return scanPayment(row)
}

func (r *PgRepository) UpdateStatusByExternalID(ctx context.Context, externalID string, status Status, statusDetail string, paidAt *time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE payments
		SET status = $2,
		    status_detail = $3,
		    paid_at = COALESCE(paid_at, $4),
		    updated_at = now()
		WHERE external_payment_id = $1
	`, externalID, status, nullableString(statusDetail), paidAt)
	if err != nil {
		return fmt.Errorf("update payment status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrPaymentNotFound
	}
	return nil
}

func (r *PgRepository) ListByProposal(ctx context.Context, proposalID uuid.UUID) ([]Payment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE proposal_id = $1
		ORDER BY created_at DESC
	`, proposalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *p)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
