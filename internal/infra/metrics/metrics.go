package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	SweepRunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_runs_total",
		Help: "Количество прогонов чисток и этапов по итогу",
	}, []string{"job", "outcome"})

	SweepDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pipeline_run_duration_seconds",
		Help:    "Длительность прогона чистки или этапа",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})

	SweepBlocksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_blocks_total",
		Help: "Блоки, обработанные прогонами, по результату",
	}, []string{"job", "result"})

	StatusTransitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "content_status_transitions_total",
		Help: "Применённые переходы статусов",
	}, []string{"from", "to"})

	ConcurrencyMissesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "content_concurrency_misses_total",
		Help: "Условные записи, не затронувшие ни одной строки",
	}, []string{"from", "to"})

	StorageCleanupErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "storage_cleanup_errors_total",
		Help: "Ошибки удаления аудио из хранилища",
	})

	TTSBytesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tts_audio_bytes_total",
		Help: "Объём синтезированного аудио",
	}, []string{"voice"})

	NetworkRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "network_request_duration_seconds",
		Help:    "Длительность сетевых запросов",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 15, 20, 30, 45, 60, 90, 120},
	}, []string{"component", "operation", "target", "status"})

	NetworkRequestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "network_request_total",
		Help: "Количество сетевых запросов",
	}, []string{"component", "operation", "target", "status"})

	LLMGenerationDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "llm_generation_duration_seconds",
		Help:    "Длительность генерации ответа LLM",
		Buckets: prometheus.DefBuckets,
	}, []string{"model"})

	LLMTokensTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "llm_tokens_total",
		Help: "Количество токенов, использованных LLM",
	}, []string{"model", "type"})
)

// MustRegister регистрирует метрики.
func MustRegister(registerer prometheus.Registerer) {
	registerer.MustRegister(
		SweepRunsTotal,
		SweepDuration,
		SweepBlocksTotal,
		StatusTransitionsTotal,
		ConcurrencyMissesTotal,
		StorageCleanupErrors,
		TTSBytesTotal,
		NetworkRequestDuration,
		NetworkRequestTotal,
		LLMGenerationDuration,
		LLMTokensTotal,
	)
}

// StartServer запускает HTTP сервер с эндпоинтом /metrics.
func StartServer(ctx context.Context, logger zerolog.Logger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	shutdownCtx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-ctx.Done():
		case <-shutdownCtx.Done():
		}
		shutdownTimeout, timeoutCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer timeoutCancel()
		if err := srv.Shutdown(shutdownTimeout); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: graceful shutdown failed")
		}
	}()

	go func() {
		logger.Info().Str("addr", addr).Msg("metrics: server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: server stopped")
		}
		cancel()
	}()
}

// ObserveNetworkRequest записывает длительность и статус сетевого запроса.
func ObserveNetworkRequest(component, operation, target string, start time.Time, err error) {
	if component == "" {
		component = "unknown"
	}
	if operation == "" {
		operation = "unknown"
	}
	if target == "" {
		target = "unknown"
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	duration := time.Since(start).Seconds()
	NetworkRequestDuration.WithLabelValues(component, operation, target, status).Observe(duration)
	NetworkRequestTotal.WithLabelValues(component, operation, target, status).Inc()
}

// ObserveLLMGeneration записывает длительность и токены генерации LLM.
func ObserveLLMGeneration(model string, duration time.Duration, promptTokens, completionTokens, totalTokens int) {
	if model == "" {
		model = "unknown"
	}
	LLMGenerationDuration.WithLabelValues(model).Observe(duration.Seconds())
	if promptTokens > 0 {
		LLMTokensTotal.WithLabelValues(model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		LLMTokensTotal.WithLabelValues(model, "completion").Add(float64(completionTokens))
	}
	if totalTokens <= 0 {
		totalTokens = promptTokens + completionTokens
	}
	if totalTokens > 0 {
		LLMTokensTotal.WithLabelValues(model, "total").Add(float64(totalTokens))
	}
}

// ObserveRun записывает итог прогона.
func ObserveRun(job, outcome string, duration time.Duration, processed, skipped, failed int) {
	SweepRunsTotal.WithLabelValues(job, outcome).Inc()
	SweepDuration.WithLabelValues(job).Observe(duration.Seconds())
	if processed > 0 {
		SweepBlocksTotal.WithLabelValues(job, "processed").Add(float64(processed))
	}
	if skipped > 0 {
		SweepBlocksTotal.WithLabelValues(job, "skipped").Add(float64(skipped))
	}
	if failed > 0 {
		SweepBlocksTotal.WithLabelValues(job, "failed").Add(float64(failed))
	}
}

// ObserveTransition учитывает условную запись: применённую или промах.
func ObserveTransition(from, to string, applied bool) {
	if applied {
		StatusTransitionsTotal.WithLabelValues(from, to).Inc()
		return
	}
	ConcurrencyMissesTotal.WithLabelValues(from, to).Inc()
}
