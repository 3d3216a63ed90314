package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"

	"alarm-pipeline/internal/app"
	"alarm-pipeline/internal/infra/config"
	applog "alarm-pipeline/internal/infra/log"
	"alarm-pipeline/internal/infra/metrics"
	"alarm-pipeline/internal/usecase/reclaim"
	"alarm-pipeline/internal/usecase/synth"
	"alarm-pipeline/internal/usecase/trigger"
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
		logger.Fatal().Err(err).Msg("scheduler: не удалось собрать приложение")
	}
	defer application.Close()

	scheduler := trigger.NewScheduler(ctx, application.Runner, []cron.Option{cron.WithLocation(cfg.Location())}, logger)
	jobs := []struct{ spec, name string }{
		{cfg.Schedule.Stuck, reclaim.JobStuck},
		{cfg.Schedule.Expiration, reclaim.JobExpiration},
		{cfg.Schedule.Script, synth.JobScript},
		{cfg.Schedule.Audio, synth.JobAudio},
	}
	for _, j := range jobs {
		if err := scheduler.Add(j.spec, j.name); err != nil {
			logger.Fatal().Err(err).Msg("scheduler: некорректное расписание")
		}
	}
	scheduler.Start()
	logger.Info().Int("jobs", scheduler.Entries()).Str("tz", cfg.TZ).Msg("scheduler: запущен")

	<-ctx.Done()
	scheduler.Stop()
	logger.Info().Msg("scheduler: остановлен")
}
