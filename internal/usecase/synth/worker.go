package synth

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"alarm-pipeline/internal/domain"
)

type blockProcessor interface {
	ProcessBlock(ctx context.Context, id string) (domain.RunReport, error)
}

// recoverer возвращает в очередь задачи, не подтверждённые упавшим воркером.
type recoverer interface {
	Recover(ctx context.Context) (int, error)
}

// Worker читает задачи этапов из очереди и обрабатывает по одному блоку.
type Worker struct {
	queue  domain.StageQueue
	stages map[domain.Stage]blockProcessor
	log    zerolog.Logger
	pause  time.Duration
}

// NewWorker создаёт обработчик очереди для этапов сценария и аудио.
func NewWorker(queue domain.StageQueue, script *ScriptStage, audio *AudioStage, logger zerolog.Logger) *Worker {
	return &Worker{
		queue: queue,
		stages: map[domain.Stage]blockProcessor{
			domain.StageScript: script,
			domain.StageAudio:  audio,
		},
		log:   logger.With().Str("component", "stage-worker").Logger(),
		pause: time.Second,
	}
}

// Run обрабатывает задачи до отмены ctx. При старте возвращает в очередь
// задачи, оставшиеся неподтверждёнными, если очередь это умеет.
func (w *Worker) Run(ctx context.Context) {
	if r, ok := w.queue.(recoverer); ok {
		moved, err := r.Recover(ctx)
		if err != nil {
			w.log.Error().Err(err).Msg("stage-worker: не удалось вернуть неподтверждённые задачи")
		} else if moved > 0 {
			w.log.Warn().Int("jobs", moved).Msg("stage-worker: неподтверждённые задачи возвращены в очередь")
		}
	}
	for {
		job, ack, err := w.queue.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			w.log.Error().Err(err).Msg("stage-worker: ошибка чтения очереди")
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.pause):
			}
			continue
		}
		if !w.handle(ctx, job, ack) {
			// хранилище недоступно: не забираем следующую задачу сразу
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.pause):
			}
		}
	}
}

// handle возвращает false, если задача возвращена в очередь.
func (w *Worker) handle(ctx context.Context, job domain.StageJob, ack domain.AckFunc) bool {
	jobLog := w.log.With().Str("job_id", job.ID).Str("block_id", job.BlockID).Str("stage", string(job.Stage)).Logger()
	stage, ok := w.stages[job.Stage]
	if !ok || job.BlockID == "" {
		jobLog.Error().Msg("stage-worker: некорректная задача, подтверждаем и пропускаем")
		if err := ack(true); err != nil {
			jobLog.Error().Err(err).Msg("stage-worker: не удалось подтвердить задачу")
		}
		return true
	}
	report, err := stage.ProcessBlock(ctx, job.BlockID)
	if err != nil {
		jobLog.Error().Err(err).Msg("stage-worker: сбой хранилища, задача вернётся в очередь")
		if ackErr := ack(false); ackErr != nil {
			jobLog.Error().Err(ackErr).Msg("stage-worker: не удалось вернуть задачу")
		}
		return false
	}
	jobLog.Debug().Str("outcome", string(report.Outcome)).Int("processed", report.Processed).
		Int("skipped", report.Skipped).Msg("stage-worker: задача обработана")
	if err := ack(true); err != nil {
		jobLog.Error().Err(err).Msg("stage-worker: не удалось подтвердить задачу")
	}
	return true
}
