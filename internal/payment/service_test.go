package payment

import (
	"context"
	"encoding/base64"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conexhealth/oncall-service/internal/catalog"
	"github.com/conexhealth/oncall-service/internal/config"
	"github.com/conexhealth/oncall-service/internal/notify"
	"github.com/conexhealth/oncall-service/internal/oncall"
)

// fakeProcessor scripts the gateway: created charges come back as nextCharge,
// GetCharge serves the charges map.
type fakeProcessor struct {
	mu          sync.Mutex
	createCalls int
	createErr   error
	nextCharge  *Charge
	lastInput   CreateChargeInput
	charges     map[string]*Charge
}

func (p *fakeProcessor) CreateCharge(_ context.Context, in CreateChargeInput) (*Charge, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.createCalls++
	p.lastInput = in
	if p.createErr != nil {
		return nil, p.createErr
	}
	out := *p.nextCharge
	return &out, nil
}

func (p *fakeProcessor) GetCharge(_ context.Context, id string) (*Charge, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	charge, ok := p.charges[id]
	if !ok {
		return nil, ErrPaymentFailed
	}
	out := *charge
	return &out, nil
}

type memPaymentRepo struct {
	mu         sync.Mutex
	byExternal map[string]*Payment
}

func newMemPaymentRepo() *memPaymentRepo {
	return &memPaymentRepo{byExternal: make(map[string]*Payment)}
}

func (r *memPaymentRepo) CreatePayment(_ context.Context, p *Payment) (*Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored := *p
	stored.ID = uuid.New()
	stored.CreatedAt = time.Now()
	stored.UpdatedAt = stored.CreatedAt
	r.byExternal[stored.ExternalPaymentID] = &stored

	out := stored
	return &out, nil
}

func (r *memPaymentRepo) GetByExternalID(_ context.Context, externalID string) (*Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.byExternal[externalID]
	if !ok {
		return nil, ErrPaymentNotFound
	}
	out := *p
	return &out, nil
}

func (r *memPaymentRepo) UpdateStatusByExternalID(_ context.Context, externalID string, status Status, statusDetail string, paidAt *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.byExternal[externalID]
	if !ok {
		return ErrPaymentNotFound
	}
	p.Status = status
	p.StatusDetail = statusDetail
	if p.PaidAt == nil {
		p.PaidAt = paidAt
	}
	p.UpdatedAt = time.Now()
	return nil
}

func (r *memPaymentRepo) ListByProposal(_ context.Context, proposalID uuid.UUID) ([]Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var result []Payment
	for _, p := range r.byExternal {
		if p.ProposalID == proposalID {
			result = append(result, *p)
		}
	}
	return result, nil
}

// stubOncallRepo backs the wired oncall.Service with just enough state for
// the confirmation path.
type stubOncallRepo struct {
	mu        sync.Mutex
	requests  map[uuid.UUID]*oncall.Request
	proposals map[uuid.UUID]*oncall.Proposal
}

func newStubOncallRepo() *stubOncallRepo {
	return &stubOncallRepo{
		requests:  make(map[uuid.UUID]*oncall.Request),
		proposals: make(map[uuid.UUID]*oncall.Proposal),
	}
}

func (r *stubOncallRepo) CreateRequest(_ context.Context, _, _ uuid.UUID, _ float64) (*oncall.Request, error) {
	return nil, errors.New("not used")
}

func (r *stubOncallRepo) GetRequestByID(_ context.Context, id uuid.UUID) (*oncall.Request, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.requests[id]
	if !ok {
		return nil, oncall.ErrRequestNotFound
	}
	out := *req
	return &out, nil
}

func (r *stubOncallRepo) GetRequestDetail(_ context.Context, id uuid.UUID) (*oncall.RequestDetail, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.requests[id]
	if !ok {
		return nil, oncall.ErrRequestNotFound
	}
	return &oncall.RequestDetail{Request: *req, ActivityName: "Home visit"}, nil
}

func (r *stubOncallRepo) ListRequests(_ context.Context, _ oncall.RequestFilter) ([]oncall.RequestDetail, error) {
	return nil, nil
}

func (r *stubOncallRepo) DeleteRequest(_ context.Context, _ uuid.UUID) error { return nil }

func (r *stubOncallRepo) CreateProposal(_ context.Context, _, _, _ uuid.UUID, _ float64, _ []time.Time) (*oncall.Proposal, error) {
	return nil, errors.New("not used")
}

func (r *stubOncallRepo) GetProposalByID(_ context.Context, id uuid.UUID) (*oncall.Proposal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.proposals[id]
	if !ok {
		return nil, oncall.ErrProposalNotFound
	}
	out := *p
	return &out, nil
}

func (r *stubOncallRepo) DeleteProposal(_ context.Context, _ uuid.UUID) error { return nil }

func (r *stubOncallRepo) ConfirmProposal(_ context.Context, proposalID, requestID uuid.UUID) (*oncall.Proposal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	req, ok := r.requests[requestID]
	if !ok || req.Status != oncall.RequestOpen {
		return nil, oncall.ErrRequestClosed
	}
	p, ok := r.proposals[proposalID]
	if !ok || p.Status != oncall.ProposalSent {
		return nil, oncall.ErrProposalUnavailable
	}

	req.Status = oncall.RequestClosed
	p.Status = oncall.ProposalConfirmed
	for _, sibling := range r.proposals {
		if sibling.RequestID == requestID && sibling.ID != proposalID && sibling.Status == oncall.ProposalSent {
			sibling.Status = oncall.ProposalCancelled
		}
	}

	out := *p
	return &out, nil
}

func (r *stubOncallRepo) CancelProposal(_ context.Context, _ uuid.UUID) (*oncall.Proposal, error) {
	return nil, errors.New("not used")
}

func (r *stubOncallRepo) FindStaleOpenRequests(_ context.Context, _ time.Time) ([]oncall.Request, error) {
	return nil, nil
}

func (r *stubOncallRepo) CloseExpiredRequest(_ context.Context, _ uuid.UUID) error { return nil }

func (r *stubOncallRepo) InsertEvent(_ context.Context, _ oncall.EventLog) error { return nil }

type stubCatalog struct {
	accounts map[uuid.UUID]*catalog.Account
}

func (c *stubCatalog) GetAccountByID(_ context.Context, id uuid.UUID) (*catalog.Account, error) {
	if acc, ok := c.accounts[id]; ok {
		return acc, nil
	}
	return nil, catalog.ErrAccountNotFound
}

func (c *stubCatalog) GetActivityByID(_ context.Context, _ uuid.UUID) (*catalog.Activity, error) {
	return nil, catalog.ErrActivityNotFound
}

func (c *stubCatalog) GetDoctorProfileByAccountID(_ context.Context, _ uuid.UUID) (*catalog.DoctorProfile, error) {
	return nil, catalog.ErrDoctorProfileNotFound
}

func (c *stubCatalog) GetPracticeLocationByID(_ context.Context, _ uuid.UUID) (*catalog.PracticeLocation, error) {
	return nil, catalog.ErrLocationNotFound
}

func (c *stubCatalog) ListDoctorAccountsByActivity(_ context.Context, _ uuid.UUID) ([]uuid.UUID, error) {
	return nil, nil
}

type passLocker struct{}

func (passLocker) WithRequestLock(ctx context.Context, _ uuid.UUID, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []notify.EventType
	to   []uuid.UUID
}

func (n *recordingNotifier) Notify(accountID uuid.UUID, event notify.EventType, _ string, _ any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, event)
	n.to = append(n.to, accountID)
}

func (n *recordingNotifier) BroadcastToRole(_ catalog.AccountType, _ notify.EventType, _ string, _ any) {
}

func (n *recordingNotifier) count(event notify.EventType) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, e := range n.sent {
		if e == event {
			c++
		}
	}
	return c
}

type paymentFixture struct {
	repo       *memPaymentRepo
	processor  *fakeProcessor
	oncallRepo *stubOncallRepo
	notifier   *recordingNotifier
	svc        *Service

	patientID  uuid.UUID
	doctorID   uuid.UUID
	requestID  uuid.UUID
	proposalID uuid.UUID
	price      float64
}

func newPaymentFixture(t *testing.T, cfg config.Config) *paymentFixture {
	t.Helper()

	f := &paymentFixture{
		repo:       newMemPaymentRepo(),
		processor:  &fakeProcessor{charges: make(map[string]*Charge)},
		oncallRepo: newStubOncallRepo(),
		notifier:   &recordingNotifier{},
		patientID:  uuid.New(),
		doctorID:   uuid.New(),
		requestID:  uuid.New(),
		proposalID: uuid.New(),
		price:      250,
	}

	f.oncallRepo.requests[f.requestID] = &oncall.Request{
		ID:               f.requestID,
		PatientAccountID: f.patientID,
		Status:           oncall.RequestOpen,
	}
	f.oncallRepo.proposals[f.proposalID] = &oncall.Proposal{
		ID:              f.proposalID,
		RequestID:       f.requestID,
		DoctorAccountID: f.doctorID,
		Price:           f.price,
		Status:          oncall.ProposalSent,
	}

	cat := &stubCatalog{accounts: map[uuid.UUID]*catalog.Account{
		f.doctorID: {ID: f.doctorID, Name: "Ana Souza", Type: catalog.AccountProfessional},
	}}

	oncallSvc := oncall.NewService(f.oncallRepo, cat, passLocker{}, f.notifier, cfg, zerolog.Nop())
	f.svc = NewService(f.repo, f.processor, oncallSvc, cat, f.notifier, cfg, zerolog.Nop())

	return f
}

func TestCreateCardPayment(t *testing.T) {
	ctx := context.Background()

	t.Run("approved charge is persisted as paid", func(t *testing.T) {
		f := newPaymentFixture(t, config.Config{})
		f.processor.nextCharge = &Charge{ID: "100", Status: "approved", StatusDetail: "accredited"}

		result, err := f.svc.CreateCardPayment(ctx, f.proposalID, CardPaymentInput{
			CardToken:    "tok_abc",
			Method:       "visa",
			Installments: 3,
			Payer:        Payer{Email: "pat@example.com", DocType: "CPF", DocNumber: "12345678900"},
		})
		require.NoError(t, err)
		assert.Equal(t, "100", result.ExternalPaymentID)
		assert.Equal(t, "approved", result.Status)
		assert.Equal(t, f.proposalID, result.ProposalID)

		record, err := f.repo.GetByExternalID(ctx, "100")
		require.NoError(t, err)
		assert.Equal(t, StatusApproved, record.Status)
		assert.Equal(t, f.price, record.Amount, "charge amount comes from the proposal, never the caller")
		assert.Equal(t, 3, record.Installments)
		require.NotNil(t, record.PaidAt)

		assert.Equal(t, f.price, f.processor.lastInput.Amount)
		assert.Equal(t, "Home visit - Dr(a). Ana Souza", f.processor.lastInput.Description)
		assert.Equal(t, f.proposalID, f.processor.lastInput.ProposalID)
	})

	t.Run("pending charge has no paid timestamp", func(t *testing.T) {
		f := newPaymentFixture(t, config.Config{})
		f.processor.nextCharge = &Charge{ID: "101", Status: "in_process", StatusDetail: "pending_review"}

		_, err := f.svc.CreateCardPayment(ctx, f.proposalID, CardPaymentInput{Method: "visa", Installments: 1})
		require.NoError(t, err)

		record, err := f.repo.GetByExternalID(ctx, "101")
		require.NoError(t, err)
		assert.Equal(t, StatusPending, record.Status)
		assert.Nil(t, record.PaidAt)
	})

	t.Run("processor failure surfaces as payment failure", func(t *testing.T) {
		f := newPaymentFixture(t, config.Config{})
		f.processor.createErr = errors.New("gateway timeout")

		_, err := f.svc.CreateCardPayment(ctx, f.proposalID, CardPaymentInput{Method: "visa"})
		assert.ErrorIs(t, err, ErrPaymentFailed)
		assert.Empty(t, f.repo.byExternal, "failed charges are not persisted")
	})

	t.Run("unknown proposal", func(t *testing.T) {
		f := newPaymentFixture(t, config.Config{})
		_, err := f.svc.CreateCardPayment(ctx, uuid.New(), CardPaymentInput{Method: "visa"})
		assert.ErrorIs(t, err, oncall.ErrProposalNotFound)
	})
}

func TestCreatePixPayment(t *testing.T) {
	ctx := context.Background()

	t.Run("issues a QR code from the processor", func(t *testing.T) {
		f := newPaymentFixture(t, config.Config{})
		f.processor.nextCharge = &Charge{
			ID:           "200",
			Status:       "pending",
			StatusDetail: "pending_waiting_transfer",
			QRCode:       "qr-payload",
			QRCodeBase64: "cXItcGF5bG9hZA==",
			TicketURL:    "https://example.com/ticket",
		}

		result, err := f.svc.CreatePixPayment(ctx, f.proposalID, Payer{Email: "pat@example.com"})
		require.NoError(t, err)
		assert.Equal(t, "qr-payload", result.QRCode)
		assert.Equal(t, "https://example.com/ticket", result.TicketURL)
		assert.False(t, result.Simulated)

		record, err := f.repo.GetByExternalID(ctx, "200")
		require.NoError(t, err)
		assert.Equal(t, "pix", record.PaymentMethod)
		assert.Equal(t, 1, record.Installments)
		assert.Equal(t, StatusPending, record.Status)

		assert.Equal(t, "pix", f.processor.lastInput.Method)
	})

	t.Run("simulation mode never calls the processor", func(t *testing.T) {
		f := newPaymentFixture(t, config.Config{SimulatePix: true})

		result, err := f.svc.CreatePixPayment(ctx, f.proposalID, Payer{Email: "pat@example.com"})
		require.NoError(t, err)
		assert.True(t, result.Simulated)
		assert.Equal(t, 0, f.processor.createCalls)

		assert.Equal(t, simulatedQRPayload, result.QRCode)
		decoded, err := base64.StdEncoding.DecodeString(result.QRCodeBase64)
		require.NoError(t, err)
		assert.Equal(t, simulatedQRPayload, string(decoded))

		assert.True(t, len(result.ExternalPaymentID) > 4 && result.ExternalPaymentID[:4] == "sim-")

		record, err := f.repo.GetByExternalID(ctx, result.ExternalPaymentID)
		require.NoError(t, err)
		assert.Equal(t, StatusPending, record.Status)
		assert.Equal(t, f.price, record.Amount)
	})
}

func TestHandleWebhook(t *testing.T) {
	ctx := context.Background()

	seed := func(t *testing.T, f *paymentFixture, externalID, status string) {
		t.Helper()
		_, err := f.repo.CreatePayment(ctx, &Payment{
			ProposalID:        f.proposalID,
			ExternalPaymentID: externalID,
			Amount:            f.price,
			Status:            StatusPending,
			PaymentMethod:     "pix",
		})
		require.NoError(t, err)
		f.processor.charges[externalID] = &Charge{
			ID:         externalID,
			Status:     status,
			Amount:     f.price,
			ProposalID: f.proposalID.String(),
		}
	}

	t.Run("approval confirms the proposal and notifies the patient", func(t *testing.T) {
		f := newPaymentFixture(t, config.Config{})
		seed(t, f, "777", "approved")

		require.NoError(t, f.svc.HandleWebhook(ctx, "777"))

		record, err := f.repo.GetByExternalID(ctx, "777")
		require.NoError(t, err)
		assert.Equal(t, StatusApproved, record.Status)
		require.NotNil(t, record.PaidAt)

		proposal, err := f.oncallRepo.GetProposalByID(ctx, f.proposalID)
		require.NoError(t, err)
		assert.Equal(t, oncall.ProposalConfirmed, proposal.Status)

		request, err := f.oncallRepo.GetRequestByID(ctx, f.requestID)
		require.NoError(t, err)
		assert.Equal(t, oncall.RequestClosed, request.Status)

		assert.Equal(t, 1, f.notifier.count(notify.EventPaymentApproved))
	})

	t.Run("replayed callback is a no-op", func(t *testing.T) {
		f := newPaymentFixture(t, config.Config{})
		seed(t, f, "777", "approved")

		require.NoError(t, f.svc.HandleWebhook(ctx, "777"))
		require.NoError(t, f.svc.HandleWebhook(ctx, "777"))
		require.NoError(t, f.svc.HandleWebhook(ctx, "777"))

		assert.Equal(t, 1, f.notifier.count(notify.EventPaymentApproved), "replay must not notify again")

		proposal, err := f.oncallRepo.GetProposalByID(ctx, f.proposalID)
		require.NoError(t, err)
		assert.Equal(t, oncall.ProposalConfirmed, proposal.Status)
	})

	t.Run("non-approved status never confirms", func(t *testing.T) {
		f := newPaymentFixture(t, config.Config{})
		seed(t, f, "888", "rejected")

		require.NoError(t, f.svc.HandleWebhook(ctx, "888"))

		record, err := f.repo.GetByExternalID(ctx, "888")
		require.NoError(t, err)
		assert.Equal(t, StatusRejected, record.Status)
		assert.Nil(t, record.PaidAt)

		proposal, err := f.oncallRepo.GetProposalByID(ctx, f.proposalID)
		require.NoError(t, err)
		assert.Equal(t, oncall.ProposalSent, proposal.Status)
		assert.Equal(t, 0, f.notifier.count(notify.EventPaymentApproved))
	})

	t.Run("unknown local payment still confirms via processor metadata", func(t *testing.T) {
		f := newPaymentFixture(t, config.Config{})
		f.processor.charges["999"] = &Charge{
			ID:         "999",
			Status:     "approved",
			ProposalID: f.proposalID.String(),
		}

		require.NoError(t, f.svc.HandleWebhook(ctx, "999"))

		proposal, err := f.oncallRepo.GetProposalByID(ctx, f.proposalID)
		require.NoError(t, err)
		assert.Equal(t, oncall.ProposalConfirmed, proposal.Status)
	})

	t.Run("charge without proposal metadata stops after the status update", func(t *testing.T) {
		f := newPaymentFixture(t, config.Config{})
		seed(t, f, "555", "approved")
		f.processor.charges["555"].ProposalID = ""

		require.NoError(t, f.svc.HandleWebhook(ctx, "555"))
		assert.Equal(t, 0, f.notifier.count(notify.EventPaymentApproved))
	})

	t.Run("malformed proposal metadata errors", func(t *testing.T) {
		f := newPaymentFixture(t, config.Config{})
		seed(t, f, "556", "approved")
		f.processor.charges["556"].ProposalID = "not-a-uuid"

		assert.Error(t, f.svc.HandleWebhook(ctx, "556"))
	})

	t.Run("unfetchable charge errors", func(t *testing.T) {
		f := newPaymentFixture(t, config.Config{})
		assert.Error(t, f.svc.HandleWebhook(ctx, "missing"))
	})
}

func TestManualReconcile(t *testing.T) {
	ctx := context.Background()

	f := newPaymentFixture(t, config.Config{})
	_, err := f.repo.CreatePayment(ctx, &Payment{
		ProposalID:        f.proposalID,
		ExternalPaymentID: "321",
		Amount:            f.price,
		Status:            StatusPending,
		PaymentMethod:     "pix",
	})
	require.NoError(t, err)
	f.processor.charges["321"] = &Charge{ID: "321", Status: "approved", ProposalID: f.proposalID.String()}

	require.NoError(t, f.svc.ManualReconcile(ctx, "321"))

	proposal, err := f.oncallRepo.GetProposalByID(ctx, f.proposalID)
	require.NoError(t, err)
	assert.Equal(t, oncall.ProposalConfirmed, proposal.Status)
}

func TestMapProcessorStatus(t *testing.T) {
	cases := map[string]Status{
		"approved":   StatusApproved,
		"pending":    StatusPending,
		"rejected":   StatusRejected,
		"cancelled":  StatusCancelled,
		"refunded":   StatusRefunded,
		"in_process": StatusPending,
		"":           StatusPending,
		"APPROVED":   StatusPending,
	}

	for input, expected := range cases {
		assert.Equal(t, expected, mapProcessorStatus(input), "input %q", input)
	}
}
