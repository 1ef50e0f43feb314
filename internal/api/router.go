package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/conexhealth/oncall-service/internal/notify"
	"github.com/conexhealth/oncall-service/internal/oncall"
	"github.com/conexhealth/oncall-service/internal/payment"
)

type RouterConfig struct {
	OnCall        *oncall.Service
	Payments      *payment.Service
	Notifications *notify.Handler
	Validator     *payment.SignatureValidator
	PgPool        *pgxpool.Pool
	Redis         *redis.Client
	JWTSecret     string
	Env           string
	Version       string
	Logger        zerolog.Logger
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))

	// Health endpoints
	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	// Processor callbacks authenticate by signature, not session token.
	r.Post("/payments/webhook", paymentWebhookHandler(cfg.Payments, cfg.Validator))

	// WebSocket handshake carries its own credential.
	r.Get("/ws/notifications", cfg.Notifications.ServeHTTP)

	// Everything else requires an authenticated account.
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.JWTSecret))

		r.Route("/on-call", func(r chi.Router) {
			r.Post("/requests", createRequestHandler(cfg.OnCall))
			r.Get("/requests/open", listOpenRequestsHandler(cfg.OnCall))
			r.Get("/requests/closed", listClosedRequestsHandler(cfg.OnCall))
			r.Get("/requests/mine", listMyRequestsHandler(cfg.OnCall))
			r.Get("/requests/{id}", getRequestHandler(cfg.OnCall))
			r.Delete("/requests/{id}", deleteRequestHandler(cfg.OnCall))

			r.Post("/proposals", createProposalHandler(cfg.OnCall))
			r.Get("/proposals/{id}", getProposalHandler(cfg.OnCall))
			r.Post("/proposals/{id}/accept", acceptProposalHandler(cfg.OnCall))
			r.Post("/proposals/{id}/reject", rejectProposalHandler(cfg.OnCall))
		})

		r.Route("/payments", func(r chi.Router) {
			r.Post("/proposal/{id}/process", createCardPaymentHandler(cfg.Payments))
			r.Post("/proposal/{id}/process-pix", createPixPaymentHandler(cfg.Payments))
			r.Post("/manual-process/{paymentId}", manualReconcileHandler(cfg.Payments))
		})
	})

	return r
}
