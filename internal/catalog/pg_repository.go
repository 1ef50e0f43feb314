package catalog

import (
	"context"
	"errors"

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

func (r *PgRepository) GetAccountByID(ctx context.Context, id uuid.UUID) (*Account, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, email, account_type, created_at, updated_at
		FROM accounts
		WHERE id = $1
	`, id)

	var a Account
	err := row.Scan(&a.ID, &a.Name, &a.Email, &a.Type, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &a, nil
}

func (r *PgRepository) GetActivityByID(ctx context.Context, id uuid.UUID) (*Activity, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT a.id, a.specialty_id, a.name, s.name, a.created_at
		FROM activities a
		JOIN specialties s ON s.id = a.specialty_id
		WHERE a.id = $1
	`, id)

	var a Activity
	err := row.Scan(&a.ID, &a.SpecialtyID, &a.Name, &a.SpecialtyName, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrActivityNotFound
		}
		return nil, err
	}
	return &a, nil
}

func (r *PgRepository) GetDoctorProfileByAccountID(ctx context.Context, accountID uuid.UUID) (*DoctorProfile, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, account_id, crm, created_at, updated_at
		FROM doctor_profiles
		WHERE account_id = $1
	`, accountID)

	var d DoctorProfile
	err := row.Scan(&d.ID, &d.AccountID, &d.CRM, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDoctorProfileNotFound
		}
		return nil, err
	}
	return &d, nil
}

func (r *PgRepository) GetPracticeLocationByID(ctx context.Context, id uuid.UUID) (*PracticeLocation, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, doctor_profile_id, street, city, state, created_at, updated_at
		FROM practice_locations
		WHERE id = $1
	`, id)

	var l PracticeLocation
	err := row.Scan(&l.ID, &l.DoctorProfileID, &l.Street, &l.City, &l.State, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrLocationNotFound
		}
		return nil, err
	}
	return &l, nil
}

func (r *PgRepository) ListDoctorAccountsByActivity(ctx context.Context, activityID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT DISTINCT dp.account_id
		FROM activity_doctor_locations adl
		JOIN doctor_profiles dp ON dp.id = adl.doctor_profile_id
		WHERE adl.activity_id = $1
		  AND adl.visible
	`, activityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		result = append(result, id)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}
