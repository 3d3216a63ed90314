package synth

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"alarm-pipeline/internal/domain"
	"alarm-pipeline/internal/infra/metrics"
	"alarm-pipeline/internal/infra/retry"
	"alarm-pipeline/internal/usecase/audit"
	"alarm-pipeline/internal/usecase/lifecycle"
)

// JobAudio — имя прогона синтеза речи.
const JobAudio = "audio"

var audioSpec = stageSpec{
	job:          JobAudio,
	ready:        domain.StatusScriptGenerated,
	working:      domain.StatusAudioGenerating,
	failed:       domain.StatusAudioFailed,
	done:         domain.StatusReady,
	successEvent: domain.AuditEventAudioGenerated,
	failureEvent: domain.AuditEventAudioFailed,
}

// AudioConfig задаёт размер батча, потолок одновременных запросов TTS и голос по умолчанию.
type AudioConfig struct {
	BatchSize      int
	Concurrency    int
	DefaultVoice   string
	StorageTimeout time.Duration
	Retry          retry.Policy
}

// AudioStage синтезирует речь по сценарию и загружает аудио в хранилище.
type AudioStage struct {
	runner
	speech         domain.SpeechSynthesizer
	blobs          domain.BlobStorage
	voice          string
	batch          int
	storageTimeout time.Duration
}

// NewAudioStage создаёт этап. Батч не превышает потолок одновременных запросов TTS.
func NewAudioStage(repo domain.ContentRepo, tr *lifecycle.Transitioner, speech domain.SpeechSynthesizer, blobs domain.BlobStorage, recorder *audit.Recorder, cfg AudioConfig, logger zerolog.Logger) *AudioStage {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 5
	}
	if cfg.Concurrency > 0 && cfg.BatchSize > cfg.Concurrency {
		cfg.BatchSize = cfg.Concurrency
	}
	if cfg.DefaultVoice == "" {
		cfg.DefaultVoice = "alloy"
	}
	if cfg.StorageTimeout <= 0 {
		cfg.StorageTimeout = 30 * time.Second
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = retry.DefaultPolicy()
	}
	return &AudioStage{
		runner: runner{
			repo:  repo,
			tr:    tr,
			audit: recorder,
			log:   logger.With().Str("component", "audio-stage").Logger(),
			now:   func() time.Time { return time.Now().UTC() },
			retry: cfg.Retry,
		},
		speech:         speech,
		blobs:          blobs,
		voice:          cfg.DefaultVoice,
		batch:          cfg.BatchSize,
		storageTimeout: cfg.StorageTimeout,
	}
}

// Run обрабатывает батч блоков script_generated и retry_pending, ожидающих аудио.
func (a *AudioStage) Run(ctx context.Context) domain.RunReport {
	return a.run(ctx, audioSpec, a.batch, a.synthesize, nil)
}

// ProcessBlock обрабатывает один блок по задаче из очереди.
func (a *AudioStage) ProcessBlock(ctx context.Context, id string) (domain.RunReport, error) {
	return a.runOne(ctx, audioSpec, id, a.synthesize, nil)
}

// AudioPath строит путь объекта: тип, блок, голос и время исключают коллизии между воркерами.
func AudioPath(block domain.ContentBlock, voice string, at time.Time) string {
	return fmt.Sprintf("audio/%s/%s/%s-%d.mp3", block.Type, block.ID, voice, at.UnixNano())
}

func (a *AudioStage) synthesize(ctx context.Context, block domain.ContentBlock) (result, error) {
	script := strings.TrimSpace(block.Script)
	if script == "" {
		return result{}, retry.Permanent(fmt.Errorf("%w: block has no script", domain.ErrInvalidBlock))
	}
	voice := block.Voice
	if voice == "" {
		voice = a.voice
	}
	speech, err := a.speech.Synthesize(ctx, script, voice)
	if err != nil {
		return result{}, err
	}
	if len(speech.Audio) == 0 {
		return result{}, retry.Permanent(fmt.Errorf("synthesizer returned no audio"))
	}
	metrics.TTSBytesTotal.WithLabelValues(voice).Add(float64(len(speech.Audio)))

	now := a.now()
	path := AudioPath(block, voice, now)
	contentType := speech.ContentType
	if contentType == "" {
		contentType = "audio/mpeg"
	}
	uploadCtx, cancel := context.WithTimeout(ctx, a.storageTimeout)
	url, err := a.blobs.Upload(uploadCtx, path, speech.Audio, contentType)
	cancel()
	if err != nil {
		return result{}, fmt.Errorf("upload %s: %w", path, err)
	}
	duration := int(math.Round(speech.DurationSeconds))
	return result{
		update: domain.StatusUpdate{
			At:               now,
			AudioURL:         &url,
			Voice:            &voice,
			DurationSeconds:  &duration,
			AudioGeneratedAt: &now,
			Parameters: map[string]any{
				"audio_path":  path,
				"audio_bytes": len(speech.Audio),
			},
		},
		metadata: map[string]any{
			"content_type":     string(block.Type),
			"voice":            voice,
			"audio_url":        url,
			"duration_seconds": duration,
		},
		rollback: func(ctx context.Context) {
			ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.storageTimeout)
			defer cancel()
			if err := a.blobs.Delete(ctx, path); err != nil {
				a.log.Warn().Err(err).Str("path", path).Msg("audio-stage: не удалось удалить осиротевший объект")
			}
		},
	}, nil
}
