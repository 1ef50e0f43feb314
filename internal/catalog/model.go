package catalog

import (
	"time"

	"github.com/google/uuid"
)

type AccountType string

const (
	AccountPatient      AccountType = "PATIENT"
	AccountProfessional AccountType = "PROFESSIONAL"
)

type Account struct {
	ID        uuid.UUID
	Name      string
	Email     string
	Type      AccountType
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Activity struct {
	ID            uuid.UUID
	SpecialtyID   uuid.UUID
	Name          string
	SpecialtyName string
	CreatedAt     time.Time
}

type DoctorProfile struct {
	ID        uuid.UUID
	AccountID uuid.UUID
	CRM       *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type PracticeLocation struct {
	ID              uuid.UUID
	DoctorProfileID uuid.UUID
	Street          string
	City            string
	State           string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
