package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mossy-p/consult-signaling/config"
	"github.com/mossy-p/consult-signaling/internal/handlers"
	"github.com/mossy-p/consult-signaling/internal/logging"
	"github.com/mossy-p/consult-signaling/internal/records"
	"github.com/mossy-p/consult-signaling/internal/redis"
	"github.com/mossy-p/consult-signaling/internal/registry"
	"github.com/mossy-p/consult-signaling/internal/signaling"
	"github.com/mossy-p/consult-signaling/internal/translate"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

func main() {
	// Load configuration
	cfg := config.Load()
	logging.Init(cfg.Environment, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := newStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to set up room registry")
	}
	defer closeStore()

	reg := registry.New(store)
	relay := signaling.NewRelay(reg)

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := handlers.NewRouter(handlers.Deps{
		AllowedOrigins: cfg.AllowedOrigins,
		JWTSecret:      cfg.JWTSecret,
		Relay:          relay,
		Rooms:          reg,
		Records:        records.New(cfg.Records.BaseURL, cfg.Records.Timeout),
		Translator:     translate.New(cfg.Translate.Endpoint, cfg.Translate.Timeout),
	})

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("port", cfg.Port).Str("registry", cfg.Registry.Backend).Msg("Starting consultation signaling server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down server...")

		relay.Shutdown()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Fatal().Err(err).Msg("Server stopped with error")
	}
	log.Info().Msg("Server exited")
}

func newStore(ctx context.Context, cfg *config.Config) (registry.Store, func(), error) {
	switch cfg.Registry.Backend {
	case "redis":
		client, err := redis.Connect(ctx, cfg.Redis)
		if err != nil {
			return nil, nil, err
		}
		log.Info().Str("host", cfg.Redis.Host).Msg("Redis connection established")
		return registry.NewRedisStore(client), func() { client.Close() }, nil
	default:
		return registry.NewMemoryStore(), func() {}, nil
	}
}
