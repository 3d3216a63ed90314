package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"alarm-pipeline/internal/adapters/httpapi"
	"alarm-pipeline/internal/app"
	"alarm-pipeline/internal/infra/config"
	httpinfra "alarm-pipeline/internal/infra/http"
	applog "alarm-pipeline/internal/infra/log"
	"alarm-pipeline/internal/infra/metrics"
)

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv, cfg.LogLevel)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, logger, app.Options{})
	if err != nil {
		logger.Fatal().Err(err).Msg("api: не удалось собрать приложение")
	}
	defer application.Close()

	// прогоны чистки длятся дольше обычного запроса
	server := httpinfra.NewServer(logger.With().Str("component", "http").Logger(), cfg.Reclaim.RunTimeout+time.Minute)
	httpapi.NewHandler(application.Runner, application.Blocks, application.Notifier, logger).Routes(server.Router)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("api: ошибка остановки HTTP сервера")
		}
	}()

	if err := server.Start(fmt.Sprintf(":%d", cfg.Port), cfg.Reclaim.RunTimeout+time.Minute); err != nil {
		logger.Fatal().Err(err).Msg("api: HTTP сервер остановлен с ошибкой")
	}
	logger.Info().Msg("api: остановлен")
}
