package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/conexhealth/oncall-service/internal/api"
	"github.com/conexhealth/oncall-service/internal/catalog"
	"github.com/conexhealth/oncall-service/internal/config"
	"github.com/conexhealth/oncall-service/internal/db"
	"github.com/conexhealth/oncall-service/internal/notify"
	"github.com/conexhealth/oncall-service/internal/oncall"
	"github.com/conexhealth/oncall-service/internal/payment"
	redisclient "github.com/conexhealth/oncall-service/internal/redis"
)

const version = "0.3.0"

func main() {
	log := zerolog.New(os.Stdout).With().Timestamp().Str("service", "api-server").Logger()
	log.Info().Msg("api-server starting up")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load error")
	}

	log.Info().Str("env", cfg.Env).Str("http_port", cfg.HTTPPort).Msg("configuration loaded")
	if cfg.AllowUnsignedWebhooks {
		log.Warn().Msg("ALLOW_UNSIGNED_WEBHOOKS is enabled, webhook signature checks are bypassed")
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect Postgres
	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		log.Fatal().Err(err).Msg("postgres connection error")
	}
	defer pgPool.Close()
	log.Info().Msg("connected to Postgres")

	if err := db.Migrate(rootCtx, pgPool); err != nil {
		log.Fatal().Err(err).Msg("schema migration error")
	}

	// Connect Redis
	rdb, err := redisclient.NewClient(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("redis connection error")
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			log.Error().Err(err).Msg("error closing redis")
		}
	}()
	log.Info().Msg("connected to Redis")

	catalogRepo := catalog.NewPgRepository(pgPool)
	oncallRepo := oncall.NewPgRepository(pgPool)
	paymentRepo := payment.NewPgRepository(pgPool)

	locker := redisclient.NewRedisRequestLocker(rdb, cfg.LockTTL)
	hub := notify.NewHub(log)
	wsHandler := notify.NewHandler(hub, catalogRepo, cfg.JWTSecret)

	oncallSvc := oncall.NewService(oncallRepo, catalogRepo, locker, hub, cfg, log)

	processor := payment.NewMercadoPagoClient(cfg.MPBaseURL, cfg.MPAccessToken)
	paymentSvc := payment.NewService(paymentRepo, processor, oncallSvc, catalogRepo, hub, cfg, log)
	validator := payment.NewSignatureValidator(cfg.MPWebhookSecret, cfg.AllowUnsignedWebhooks)

	router := api.NewRouter(api.RouterConfig{
		OnCall:        oncallSvc,
		Payments:      paymentSvc,
		Notifications: wsHandler,
		Validator:     validator,
		PgPool:        pgPool,
		Redis:         rdb,
		JWTSecret:     cfg.JWTSecret,
		Env:           cfg.Env,
		Version:       version,
		Logger:        log,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  90 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server error")
		}
	}()

	<-rootCtx.Done()
	log.Info().Msg("shutting down api-server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown error")
	}
}
