package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"alarm-pipeline/internal/adapters/blob"
	"alarm-pipeline/internal/adapters/repo"
	"alarm-pipeline/internal/adapters/script"
	"alarm-pipeline/internal/adapters/speech"
	"alarm-pipeline/internal/adapters/telegram"
	"alarm-pipeline/internal/domain"
	"alarm-pipeline/internal/infra/cache"
	"alarm-pipeline/internal/infra/config"
	"alarm-pipeline/internal/infra/db"
	"alarm-pipeline/internal/infra/openai"
	"alarm-pipeline/internal/infra/queue"
	"alarm-pipeline/internal/infra/retry"
	"alarm-pipeline/internal/usecase/audit"
	"alarm-pipeline/internal/usecase/lifecycle"
	"alarm-pipeline/internal/usecase/reclaim"
	"alarm-pipeline/internal/usecase/synth"
	"alarm-pipeline/internal/usecase/trigger"
)

// Store объединяет хранилище блоков и журнал аудита.
type Store interface {
	domain.ContentRepo
	domain.AuditRepo
}

// App собирает зависимости процессов api, scheduler и worker.
type App struct {
	Config   config.AppConfig
	Log      zerolog.Logger
	Store    Store
	Blocks   *lifecycle.Service
	Runner   *trigger.Runner
	Script   *synth.ScriptStage
	Audio    *synth.AudioStage
	Queue    domain.StageQueue
	Notifier *synth.Notifier

	closers []func()
}

// Options задаёт зависимости, которые тесты подменяют без сети.
type Options struct {
	Store  Store
	Blobs  domain.BlobStorage
	Script domain.ScriptGenerator
	Speech domain.SpeechSynthesizer
}

// New собирает приложение по конфигурации.
func New(ctx context.Context, cfg config.AppConfig, logger zerolog.Logger, opts Options) (*App, error) {
	a := &App{Config: cfg, Log: logger}
	var err error

	a.Store = opts.Store
	if a.Store == nil {
		if a.Store, err = a.openStore(ctx); err != nil {
			a.Close()
			return nil, err
		}
	}

	var stageCache domain.Cache
	if a.Queue, stageCache, err = a.openQueue(ctx); err != nil {
		a.Close()
		return nil, err
	}

	blobs := opts.Blobs
	if blobs == nil {
		if blobs, err = blob.NewS3(ctx, blob.Config{
			Bucket:        cfg.Storage.Bucket,
			Region:        cfg.Storage.Region,
			Endpoint:      cfg.Storage.Endpoint,
			PublicBaseURL: cfg.Storage.PublicBaseURL,
			AccessKey:     cfg.Storage.AccessKey,
			SecretKey:     cfg.Storage.SecretKey,
			UsePathStyle:  cfg.Storage.UsePathStyle,
		}); err != nil {
			a.Close()
			return nil, err
		}
	}

	aiClient := openai.NewClient(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, cfg.OpenAI.Timeout)
	generator := opts.Script
	if generator == nil {
		if cfg.OpenAI.APIKey != "" {
			generator = script.NewOpenAI(aiClient, cfg.OpenAI.Model, cfg.OpenAI.Timeout)
		} else {
			logger.Warn().Msg("app: OPENAI_API_KEY не задан, сценарии собираются по шаблону")
			generator = script.NewTemplate()
		}
	}
	synthesizer := opts.Speech
	if synthesizer == nil {
		if cfg.OpenAI.APIKey == "" {
			logger.Warn().Msg("app: OPENAI_API_KEY не задан, синтез речи будет завершаться ошибкой")
		}
		synthesizer = speech.NewOpenAI(aiClient, speech.Options{
			Model:        cfg.OpenAI.TTSModel,
			DefaultVoice: cfg.OpenAI.DefaultVoice,
			Timeout:      cfg.OpenAI.TTSTimeout,
			RPS:          cfg.OpenAI.TTSRPS,
		})
	}

	var alerter domain.Alerter
	if cfg.Alerts.TelegramToken != "" {
		tg, err := telegram.NewAlerter(cfg.Alerts.TelegramToken, cfg.Alerts.ChatID)
		if err != nil {
			logger.Warn().Err(err).Msg("app: оповещения в Telegram отключены")
		} else {
			alerter = tg
		}
	}

	tr := lifecycle.NewTransitioner(a.Store, logger)
	recorder := audit.NewRecorder(a.Store, logger)
	policy := retry.Policy{MaxAttempts: cfg.Retry.MaxAttempts, BaseDelay: cfg.Retry.BaseDelay, MaxDelay: cfg.Retry.MaxDelay}

	a.Notifier = synth.NewNotifier(a.Queue, stageCache, cfg.Queues.DedupTTL, logger)
	a.Blocks = lifecycle.NewService(a.Store, tr, recorder, lifecycle.Config{
		MaxRetries:    cfg.Reclaim.MaxRetries,
		RetentionDays: cfg.Reclaim.RetentionDays,
	}, logger)
	a.Script = synth.NewScriptStage(a.Store, tr, generator, recorder, a.Notifier,
		synth.ScriptConfig{BatchSize: cfg.Stages.ScriptBatch, Retry: policy}, logger)
	a.Audio = synth.NewAudioStage(a.Store, tr, synthesizer, blobs, recorder, synth.AudioConfig{
		BatchSize:      cfg.Stages.AudioBatch,
		Concurrency:    cfg.OpenAI.TTSConcurrency,
		DefaultVoice:   cfg.OpenAI.DefaultVoice,
		StorageTimeout: cfg.Storage.Timeout,
		Retry:          policy,
	}, logger)

	stuck := reclaim.NewStuckReclaimer(a.Store, tr, recorder, reclaim.StuckConfig{
		Threshold: cfg.Reclaim.StuckThreshold,
		BatchSize: cfg.Reclaim.StuckBatch,
	}, logger)
	expiration := reclaim.NewExpirationReclaimer(a.Store, blobs, tr, recorder, reclaim.ExpirationConfig{
		BatchSize:     cfg.Reclaim.ExpirationBatch,
		Location:      cfg.Location(),
		DeleteTimeout: cfg.Storage.Timeout,
	}, logger)

	a.Runner = trigger.NewRunner(cfg.Reclaim.RunTimeout, alerter, logger)
	a.Runner.Register(reclaim.JobStuck, stuck)
	a.Runner.Register(reclaim.JobExpiration, expiration)
	a.Runner.Register(synth.JobScript, a.Script)
	a.Runner.Register(synth.JobAudio, a.Audio)
	return a, nil
}

func (a *App) openStore(ctx context.Context) (Store, error) {
	cfg := a.Config.Store
	switch strings.ToLower(cfg.Driver) {
	case "postgres", "":
		if cfg.PGDSN == "" {
			return nil, errors.New("app: PG_DSN is required for the postgres store")
		}
		pool, err := db.Connect(ctx, cfg.PGDSN)
		if err != nil {
			return nil, fmt.Errorf("app: connect postgres: %w", err)
		}
		a.closers = append(a.closers, pool.Close)
		if cfg.MigrateOnStart {
			if err := db.Migrate(pool, a.Log); err != nil {
				return nil, err
			}
		}
		return repo.NewPostgres(pool), nil
	case "sqlite":
		sqlDB, err := repo.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = sqlDB.Close() })
		if err := repo.MigrateSQLite(sqlDB); err != nil {
			return nil, err
		}
		return repo.NewSQLite(sqlDB), nil
	case "memory":
		a.Log.Warn().Msg("app: хранилище в памяти, данные не переживут перезапуск")
		return repo.NewMemory(), nil
	default:
		return nil, fmt.Errorf("app: unknown store driver %q", cfg.Driver)
	}
}

func (a *App) openQueue(ctx context.Context) (domain.StageQueue, domain.Cache, error) {
	cfg := a.Config
	switch strings.ToLower(cfg.Queues.Driver) {
	case "rabbitmq", "rabbit":
		if cfg.RabbitURL == "" {
			return nil, nil, errors.New("app: RABBITMQ_URL is required for the rabbitmq queue")
		}
		q, err := queue.NewRabbitStageQueue(cfg.RabbitURL, cfg.Queues.Stage)
		if err != nil {
			return nil, nil, fmt.Errorf("app: connect rabbitmq: %w", err)
		}
		a.closers = append(a.closers, func() { _ = q.Close() })
		var dedupe domain.Cache
		if cfg.RedisAddr != "" {
			client, err := a.openRedis(ctx)
			if err != nil {
				return nil, nil, err
			}
			dedupe = cache.NewRedis(client, "alarm")
		}
		return q, dedupe, nil
	case "redis":
		if cfg.RedisAddr == "" {
			a.Log.Warn().Msg("app: REDIS_ADDR не задан, этапы запускаются только по расписанию")
			return nil, nil, nil
		}
		client, err := a.openRedis(ctx)
		if err != nil {
			return nil, nil, err
		}
		return queue.NewRedisStageQueue(client, cfg.Queues.Stage), cache.NewRedis(client, "alarm"), nil
	case "none", "":
		return nil, nil, nil
	default:
		return nil, nil, fmt.Errorf("app: unknown queue driver %q", cfg.Queues.Driver)
	}
}

func (a *App) openRedis(ctx context.Context) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: a.Config.RedisAddr})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("app: connect redis: %w", err)
	}
	a.closers = append(a.closers, func() { _ = client.Close() })
	return client, nil
}

// Close освобождает подключения в обратном порядке.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
