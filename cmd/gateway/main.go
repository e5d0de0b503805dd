package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/medtrack/field-gateway/internal/api"
	"github.com/medtrack/field-gateway/internal/api/metrics"
	"github.com/medtrack/field-gateway/internal/core/domain"
	"github.com/medtrack/field-gateway/internal/core/ports"
	"github.com/medtrack/field-gateway/internal/core/service"
	"github.com/medtrack/field-gateway/internal/infrastructure/backend"
	mongodb "github.com/medtrack/field-gateway/internal/infrastructure/db/mongo"
	redisdb "github.com/medtrack/field-gateway/internal/infrastructure/db/redis"
	"github.com/medtrack/field-gateway/internal/infrastructure/queue"
	"github.com/medtrack/field-gateway/internal/pkg/config"
	"github.com/medtrack/field-gateway/pkg/logger"
)

const shutdownTimeout = 10 * time.Second

// @title        MedTrack Field Gateway API
// @version      1.0
// @description  Session and visit lifecycle gateway in front of the MedTrack backend.
// @BasePath     /
//
// @securityDefinitions.apikey  SessionID
// @in                          header
// @name                        X-Session-ID
func main() {
	cfg := config.Load()

	log := logger.Init(logger.Options{
		Level:   cfg.LogLevel,
		Pretty:  !cfg.IsProduction(),
		Service: "field-gateway",
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mongoClient, db, err := mongodb.Connect(ctx, mongodb.Config{
		URI:      cfg.Mongo.URI,
		Database: cfg.Mongo.Database,
		Timeout:  cfg.Mongo.Timeout,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to mongodb")
	}
	rdb, err := redisdb.Connect(ctx, redisdb.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		Timeout:  cfg.Redis.Timeout,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}

	eventRepo := mongodb.NewVisitEventRepository(db)
	if err := eventRepo.EnsureIndexes(ctx); err != nil {
		log.Warn().Err(err).Msg("could not ensure visit_events indexes")
	}

	dispatcher := queue.NewDispatcher(cfg.Audit.Workers, eventRepo, log)
	dispatcher.OnDrop(func(ev domain.VisitEvent) {
		metrics.AuditEventsDroppedTotal.WithLabelValues(string(ev.Type)).Inc()
	})
	dispatcher.Start(ctx)

	client := backend.NewClient(cfg.Backend, log)
	sessions := service.NewSessionService(client, redisdb.NewSessionStore(rdb, cfg.Session.KeyPrefix), log)
	guard := redisdb.NewStartGuard(rdb, cfg.Session.KeyPrefix, cfg.Session.StartGuardTTL)
	visits := service.NewVisitService(client, guard, dispatcher, log)

	e := api.NewRouter(api.Dependencies{
		Sessions: sessions,
		Visits:   visits,
		Entities: client,
		Health: map[string]ports.Pinger{
			"mongodb": mongodb.NewPinger(mongoClient),
			"redis":   redisdb.NewPinger(rdb),
			"backend": client,
		},
		Logger:       log,
		SecureCookie: cfg.IsProduction(),
	})

	go func() {
		log.Info().Str("port", cfg.Port).Str("backend", cfg.Backend.BaseURL).Msg("gateway listening")
		if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("http server stopped unexpectedly")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	dispatcher.Close()
	if err := rdb.Close(); err != nil {
		log.Error().Err(err).Msg("redis close")
	}
	if err := mongoClient.Disconnect(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("mongo disconnect")
	}
}
