package catalog

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrAccountNotFound       = errors.New("account not found")
	ErrActivityNotFound      = errors.New("activity not found")
	ErrDoctorProfileNotFound = errors.New("doctor profile not found")
	ErrLocationNotFound      = errors.New("practice location not found")
)

// Repository is the read-only lookup surface the on-call core needs to
// validate ownership and resolve pricing/notification context.
type Repository interface {
	GetAccountByID(ctx context.Context, id uuid.UUID) (*Account, error)
	GetActivityByID(ctx context.Context, id uuid.UUID) (*Activity, error)
	GetDoctorProfileByAccountID(ctx context.Context, accountID uuid.UUID) (*DoctorProfile, error)
	GetPracticeLocationByID(ctx context.Context, id uuid.UUID) (*PracticeLocation, error)

	// ListDoctorAccountsByActivity returns the account ids of every doctor
	// with a visible activity link, for new-request fan-out.
	ListDoctorAccountsByActivity(ctx context.Context, activityID uuid.UUID) ([]uuid.UUID, error)
}
