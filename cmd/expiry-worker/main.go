package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/conexhealth/oncall-service/internal/catalog"
	"github.com/conexhealth/oncall-service/internal/config"
	"github.com/conexhealth/oncall-service/internal/db"
	"github.com/conexhealth/oncall-service/internal/notify"
	"github.com/conexhealth/oncall-service/internal/oncall"
	redisclient "github.com/conexhealth/oncall-service/internal/redis"
)

func main() {
	log := zerolog.New(os.Stdout).With().Timestamp().Str("service", "expiry-worker").Logger()
	log.Info().Msg("expiry-worker starting up")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load error")
	}

	if cfg.RequestTTL <= 0 {
		log.Info().Msg("REQUEST_TTL is not set, open requests never expire; exiting")
		return
	}

	log.Info().
		Str("env", cfg.Env).
		Dur("interval", cfg.WorkerInterval).
		Dur("request_ttl", cfg.RequestTTL).
		Msg("running expiry worker")

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
	locker := redisclient.NewRedisRequestLocker(rdb, cfg.LockTTL)

	// The worker has no live connections; its hub exists only to satisfy
	// the service wiring and every notification is dropped.
	hub := notify.NewHub(log)

	svc := oncall.NewService(oncallRepo, catalogRepo, locker, hub, cfg, log)

	// Run once at startup
	runOnce(rootCtx, svc, log)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			log.Info().Msg("shutdown signal received, stopping expiry worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, svc, log)
		}
	}
}

func runOnce(ctx context.Context, svc *oncall.Service, log zerolog.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	if err := svc.ExpireStaleRequests(runCtx); err != nil {
		log.Error().Err(err).Msg("expiry run error")
		return
	}
	log.Info().Dur("took", time.Since(start)).Msg("expiry run complete")
}
