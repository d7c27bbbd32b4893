package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"qrattend/internal/config"
	"qrattend/internal/logging"
	"qrattend/internal/metrics"
	"qrattend/internal/queue"
	"qrattend/internal/store"
	"qrattend/internal/worker"
)

// Worker consumes attendance events from Redis and appends them to the audit trail.
func main() {
	cfg := config.Load()
	logging.Setup(cfg.LogLevel, cfg.LogPretty)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.QueueBackend == "memory" {
		log.Fatal().Msg("QUEUE_BACKEND=memory is drained inside the api process; the worker needs redis")
	}

	metrics.Register(prometheus.DefaultRegisterer)

	st, err := store.Open(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("store open failed")
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = st.Close(closeCtx)
	}()

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer redisClient.Close()
	if !store.RedisHealthy(ctx, redisClient) {
		log.Warn().Str("addr", cfg.RedisAddr).Msg("redis not reachable yet, will keep retrying")
	}

	// metrics only; the worker has no other HTTP surface
	metricsSrv := &http.Server{Addr: ":" + cfg.HTTPPort, Handler: promhttp.Handler(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn().Err(err).Msg("metrics listener failed")
		}
	}()

	q := queue.NewRedisQueue(redisClient, queue.DefaultKey)
	if err := worker.New(q, st).Run(ctx); err != nil {
		log.Error().Err(err).Msg("worker failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = metricsSrv.Shutdown(shutdownCtx)
}
