package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"alarm-pipeline/internal/app"
	"alarm-pipeline/internal/infra/config"
	applog "alarm-pipeline/internal/infra/log"
	"alarm-pipeline/internal/infra/metrics"
	"alarm-pipeline/internal/usecase/synth"
)

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv, cfg.LogLevel)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.StartServer(ctx, logger.With().Str("component", "metrics").Logger(), cfg.MetricsAddr)

	application, err := app.New(ctx, cfg, logger, app.Options{})
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: не удалось собрать приложение")
	}
	defer application.Close()

	if application.Queue == nil {
		logger.Fatal().Msg("worker: очередь этапов не настроена (QUEUE_DRIVER, REDIS_ADDR или RABBITMQ_URL)")
	}

	logger.Info().Str("queue", cfg.Queues.Driver).Msg("worker: запущен")
	synth.NewWorker(application.Queue, application.Script, application.Audio, logger).Run(ctx)
	logger.Info().Msg("worker: остановлен")
}
