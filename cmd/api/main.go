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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"qrattend/internal/attendance"
	"qrattend/internal/config"
	"qrattend/internal/httpapi"
	"qrattend/internal/logging"
	"qrattend/internal/metrics"
	"qrattend/internal/queue"
	"qrattend/internal/store"
	"qrattend/internal/worker"
)

func main() {
	cfg := config.Load()
	logging.Setup(cfg.LogLevel, cfg.LogPretty)

	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := run(cfg); err != nil {
		log.Fatal().Err(err).Msg("api server failed")
	}
}

func run(cfg config.App) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if _, ok := os.LookupEnv("JWT_SIGNING_KEY"); !ok {
		if cfg.Production() {
			return errors.New("JWT_SIGNING_KEY must be set in production")
		}
		log.Warn().Msg("JWT_SIGNING_KEY not set, using the development key")
	}

	metrics.Register(prometheus.DefaultRegisterer)

	st, err := store.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := st.Close(closeCtx); err != nil {
			log.Warn().Err(err).Msg("store close failed")
		}
	}()

	health := map[string]httpapi.HealthCheck{}

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(256)
		// nothing outside this process can drain it, so audit here
		go func() {
			if err := worker.New(q, st).Run(ctx); err != nil {
				log.Error().Err(err).Msg("in-process worker failed")
			}
		}()
	} else {
		redisClient := store.NewRedis(cfg.RedisAddr)
		defer closeRedis(redisClient)
		q = queue.NewRedisQueue(redisClient, queue.DefaultKey)
		health["redis"] = func(ctx context.Context) bool { return store.RedisHealthy(ctx, redisClient) }
	}

	registry := attendance.NewRegistry(st, st, cfg.SessionDefaultMinutes)
	coordinator := attendance.NewCoordinator(st, st, registry, queue.NewEventPublisher(q), cfg.CredentialTTL)

	router := httpapi.NewRouter(httpapi.Deps{
		Registry:        registry,
		Coordinator:     coordinator,
		SigningKey:      cfg.JWTSigningKey,
		Issuer:          cfg.JWTIssuer,
		RateLimitPerMin: cfg.RateLimitPerMin,
		Health:          health,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("port", cfg.HTTPPort).Str("store", cfg.StoreBackend).Str("queue", cfg.QueueBackend).Msg("starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}
	log.Info().Msg("shutting down server")

	// Give outstanding requests 10 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("server forced shutdown")
	}
	log.Info().Msg("server exited")
	return nil
}

func closeRedis(c *redis.Client) {
	if err := c.Close(); err != nil {
		log.Warn().Err(err).Msg("redis close failed")
	}
}
