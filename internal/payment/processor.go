package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
)

var ErrPaymentFailed = errors.New("payment processor rejected the request")

// CreateChargeInput is everything the processor needs to create a charge.
type CreateChargeInput struct {
	Amount          float64
	Description     string
	Method          string // card payment_method_id, or "pix"
	CardToken       string
	Installments    int
	Payer           Payer
	ProposalID      uuid.UUID // reconciliation metadata
	NotificationURL string
}

// Charge is the processor's view of a payment.
type Charge struct {
	ID           string
	Status       string
	StatusDetail string
	Amount       float64
	ProposalID   string // echoed back from metadata
	QRCode       string
	QRCodeBase64 string
	TicketURL    string
}

// Processor is the external payment gateway.
type Processor interface {
	CreateCharge(ctx context.Context, in CreateChargeInput) (*Charge, error)
	GetCharge(ctx context.Context, id string) (*Charge, error)
}

// MercadoPagoClient talks to the Mercado Pago payments API over HTTP.
type MercadoPagoClient struct {
	baseURL     string
	accessToken string
	http        *http.Client
}

func NewMercadoPagoClient(baseURL, accessToken string) *MercadoPagoClient {
	return &MercadoPagoClient{
		baseURL:     baseURL,
		accessToken: accessToken,
		http:        &http.Client{Timeout: 10 * time.Second},
	}
}

type mpIdentification struct {
	Type   string `json:"type,omitempty"`
	Number string `json:"number,omitempty"`
}

type mpPayer struct {
	Email          string           `json:"email"`
	FirstName      string           `json:"first_name,omitempty"`
	LastName       string           `json:"last_name,omitempty"`
	Identification mpIdentification `json:"identification,omitempty"`
}

type mpCreateRequest struct {
	TransactionAmount float64           `json:"transaction_amount"`
	Description       string            `json:"description"`
	PaymentMethodID   string            `json:"payment_method_id"`
	Token             string            `json:"token,omitempty"`
	Installments      int               `json:"installments,omitempty"`
	Payer             mpPayer           `json:"payer"`
	NotificationURL   string            `json:"notification_url,omitempty"`
	ExternalReference string            `json:"external_reference,omitempty"`
	Metadata          map[string]string `json:"metadata,omitempty"`
}

type mpTransactionData struct {
	QRCode       string `json:"qr_code"`
	QRCodeBase64 string `json:"qr_code_base64"`
	TicketURL    string `json:"ticket_url"`
}

type mpPaymentResponse struct {
	ID                 json.Number       `json:"id"`
	Status             string            `json:"status"`
	StatusDetail       string            `json:"status_detail"`
	TransactionAmount  float64           `json:"transaction_amount"`
	Metadata           map[string]string `json:"metadata"`
	PointOfInteraction struct {
		TransactionData mpTransactionData `json:"transaction_data"`
	} `json:"point_of_interaction"`
	Message string `json:"message"`
}

func (c *MercadoPagoClient) CreateCharge(ctx context.Context, in CreateChargeInput) (*Charge, error) {
	body := mpCreateRequest{
		TransactionAmount: in.Amount,
		Description:       in.Description,
		PaymentMethodID:   in.Method,
		Token:             in.CardToken,
		Installments:      in.Installments,
		Payer: mpPayer{
			Email:     in.Payer.Email,
			FirstName: in.Payer.FirstName,
			LastName:  in.Payer.LastName,
			Identification: mpIdentification{
				Type:   in.Payer.DocType,
				Number: in.Payer.DocNumber,
			},
		},
		NotificationURL:   in.NotificationURL,
		ExternalReference: in.ProposalID.String(),
		Metadata: map[string]string{
			"proposal_id": in.ProposalID.String(),
		},
	}

	resp, err := c.do(ctx, http.MethodPost, "/v1/payments", body)
	if err != nil {
		return nil, err
	}

	return chargeFromResponse(resp), nil
}

func (c *MercadoPagoClient) GetCharge(ctx context.Context, id string) (*Charge, error) {
	resp, err := c.do(ctx, http.MethodGet, "/v1/payments/"+id, nil)
	if err != nil {
		return nil, err
	}

	return chargeFromResponse(resp), nil
}

func (c *MercadoPagoClient) do(ctx context.Context, method, path string, body any) (*mpPaymentResponse, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal processor request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build processor request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Idempotency-Key", uuid.NewString())
	}

	httpResp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPaymentFailed, err)
	}
	defer httpResp.Body.Close()

	var parsed mpPaymentResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode processor response: %w", err)
	}

	if httpResp.StatusCode >= 400 {
		detail := parsed.Message
		if detail == "" {
			detail = httpResp.Status
		}
		return nil, fmt.Errorf("%w: %s", ErrPaymentFailed, detail)
	}

	return &parsed, nil
}

func chargeFromResponse(resp *mpPaymentResponse) *Charge {
	return &Charge{
		ID:           resp.ID.String(),
		Status:       resp.Status,
		StatusDetail: resp.StatusDetail,
		Amount:       resp.TransactionAmount,
		ProposalID:   resp.Metadata["proposal_id"],
		QRCode:       resp.PointOfInteraction.TransactionData.QRCode,
		QRCodeBase64: resp.PointOfInteraction.TransactionData.QRCodeBase64,
		TicketURL:    resp.PointOfInteraction.TransactionData.TicketURL,
	}
}
