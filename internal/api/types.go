package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/conexhealth/oncall-service/internal/oncall"
)

type CreateRequestRequest struct {
	ActivityID string  `json:"activity_id"`
	Radius     float64 `json:"radius"`
}

type CreateProposalRequest struct {
	RequestID          string   `json:"request_id"`
	PracticeLocationID string   `json:"practice_location_id"`
	Price              float64  `json:"price"`
	AvailableTimes     []string `json:"available_times"`
}

type AcceptProposalRequest struct {
	SelectedTime string `json:"selected_time,omitempty"`
}

type RequestResponse struct {
	ID               uuid.UUID          `json:"id"`
	PatientAccountID uuid.UUID          `json:"patient_account_id"`
	ActivityID       uuid.UUID          `json:"activity_id"`
	ActivityName     string             `json:"activity_name,omitempty"`
	SpecialtyName    string             `json:"specialty_name,omitempty"`
	Radius           float64            `json:"radius"`
	Status           string             `json:"status"`
	Proposals        []ProposalResponse `json:"proposals,omitempty"`
	CreatedAt        time.Time          `json:"created_at"`
	UpdatedAt        time.Time          `json:"updated_at"`
}

type ProposalResponse struct {
	ID                 uuid.UUID   `json:"id"`
	RequestID          uuid.UUID   `json:"request_id"`
	DoctorAccountID    uuid.UUID   `json:"doctor_account_id"`
	DoctorName         string      `json:"doctor_name,omitempty"`
	PracticeLocationID uuid.UUID   `json:"practice_location_id"`
	LocationCity       string      `json:"location_city,omitempty"`
	Price              float64     `json:"price"`
	AvailableTimes     []time.Time `json:"available_times"`
	Status             string      `json:"status"`
	CreatedAt          time.Time   `json:"created_at"`
	UpdatedAt          time.Time   `json:"updated_at"`
}

type CardPaymentRequest struct {
	Token           string       `json:"token"`
	PaymentMethodID string       `json:"payment_method_id"`
	Installments    int          `json:"installments"`
	Payer           PayerPayload `json:"payer"`
}

type PixPaymentRequest struct {
	Payer PayerPayload `json:"payer"`
}

type PayerPayload struct {
	Email          string `json:"email"`
	FirstName      string `json:"first_name,omitempty"`
	LastName       string `json:"last_name,omitempty"`
	Identification struct {
		Type   string `json:"type"`
		Number string `json:"number"`
	} `json:"identification"`
}

type CardPaymentResponse struct {
	ID              string    `json:"id"`
	Status          string    `json:"status"`
	StatusDetail    string    `json:"status_detail,omitempty"`
	ProposalID      uuid.UUID `json:"proposal_id"`
	PaymentRecordID uuid.UUID `json:"payment_record_id"`
}

type PixPaymentResponse struct {
	ID              string    `json:"id"`
	Status          string    `json:"status"`
	QRCode          string    `json:"qr_code"`
	QRCodeBase64    string    `json:"qr_code_base64"`
	TicketURL       string    `json:"ticket_url,omitempty"`
	ProposalID      uuid.UUID `json:"proposal_id"`
	PaymentRecordID uuid.UUID `json:"payment_record_id"`
	Simulated       bool      `json:"simulated,omitempty"`
}

type WebhookResponse struct {
	Received bool `json:"received"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func requestResponse(r *oncall.Request) RequestResponse {
	return RequestResponse{
		ID:               r.ID,
		PatientAccountID: r.PatientAccountID,
		ActivityID:       r.ActivityID,
		Radius:           r.Radius,
		Status:           string(r.Status),
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
	}
}

func requestDetailResponse(d *oncall.RequestDetail) RequestResponse {
	resp := requestResponse(&d.Request)
	resp.ActivityName = d.ActivityName
	resp.SpecialtyName = d.SpecialtyName
	for i := range d.Proposals {
		p := proposalResponse(&d.Proposals[i].Proposal)
		p.DoctorName = d.Proposals[i].DoctorName
		p.LocationCity = d.Proposals[i].LocationCity
		resp.Proposals = append(resp.Proposals, p)
	}
	return resp
}

func proposalResponse(p *oncall.Proposal) ProposalResponse {
	return ProposalResponse{
		ID:                 p.ID,
		RequestID:          p.RequestID,
		DoctorAccountID:    p.DoctorAccountID,
		PracticeLocationID: p.PracticeLocationID,
		Price:              p.Price,
		AvailableTimes:     p.AvailableTimes,
		Status:             string(p.Status),
		CreatedAt:          p.CreatedAt,
		UpdatedAt:          p.UpdatedAt,
	}
}
