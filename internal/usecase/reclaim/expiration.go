package reclaim

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"alarm-pipeline/internal/domain"
	"alarm-pipeline/internal/infra/metrics"
	"alarm-pipeline/internal/usecase/audit"
	"alarm-pipeline/internal/usecase/lifecycle"
)

// JobExpiration — имя прогона чистки истёкших блоков.
const JobExpiration = "expiration"

// ExpirationConfig задаёт размер страницы и часовой пояс, в котором считается «сегодня».
type ExpirationConfig struct {
	BatchSize     int
	Location      *time.Location
	DeleteTimeout time.Duration
}

// ExpirationReclaimer удаляет аудио истёкших блоков и переводит их в expired.
// Удаление из хранилища — best effort: ошибка попадает в отчёт, но статус всё равно меняется.
type ExpirationReclaimer struct {
	repo  domain.ContentRepo
	blobs domain.BlobStorage
	tr    *lifecycle.Transitioner
	audit *audit.Recorder
	cfg   ExpirationConfig
	log   zerolog.Logger
	now   func() time.Time
}

// NewExpirationReclaimer создаёт чистку с дефолтами: батч 50, UTC.
func NewExpirationReclaimer(repo domain.ContentRepo, blobs domain.BlobStorage, tr *lifecycle.Transitioner, recorder *audit.Recorder, cfg ExpirationConfig, logger zerolog.Logger) *ExpirationReclaimer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.DeleteTimeout <= 0 {
		cfg.DeleteTimeout = 30 * time.Second
	}
	return &ExpirationReclaimer{
		repo:  repo,
		blobs: blobs,
		tr:    tr,
		audit: recorder,
		cfg:   cfg,
		log:   logger.With().Str("component", "expiration-reclaimer").Logger(),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Run обходит истёкшие блоки страницами по (expiration_date, id) до исчерпания.
func (e *ExpirationReclaimer) Run(ctx context.Context) domain.RunReport {
	now := e.now()
	report := domain.NewRunReport(JobExpiration, now)
	today := domain.DateOf(now.In(e.cfg.Location))

	var cursor domain.ExpirationCursor
	for page := 0; ; page++ {
		if err := ctx.Err(); err != nil {
			report.AddError(fmt.Sprintf("прогон прерван: %v", err))
			break
		}
		blocks, err := e.repo.ListExpired(ctx, today, cursor, e.cfg.BatchSize)
		if err != nil {
			e.log.Error().Err(err).Int("page", page).Msg("expiration-reclaimer: не удалось выбрать истёкшие блоки")
			if page == 0 {
				report.Abort(e.now(), fmt.Errorf("list expired blocks: %w", err))
				report.AddAuditError(e.audit.Record(ctx, audit.RunEntry(domain.AuditEventExpirationSweep, report)))
				return report
			}
			report.AddError(fmt.Sprintf("страница %d: %v", page, err))
			break
		}
		report.Selected += len(blocks)
		interrupted := false
		for _, block := range blocks {
			if err := ctx.Err(); err != nil {
				report.AddError(fmt.Sprintf("прогон прерван: %v", err))
				interrupted = true
				break
			}
			cursor = domain.ExpirationCursor{ExpirationDate: block.ExpirationDate, ID: block.ID}
			e.expire(ctx, now, block, &report)
		}
		if interrupted || len(blocks) < e.cfg.BatchSize {
			break
		}
	}

	report.Finish(e.now())
	if report.Selected == 0 && report.Outcome == domain.OutcomeSucceeded {
		report.AddAuditError(e.audit.Record(ctx, domain.AuditEntry{
			EventType: domain.AuditEventExpirationNoop,
			Status:    domain.AuditStatusInfo,
			Message:   "истёкших блоков не найдено",
			Metadata:  map[string]any{"today": today.Format(domain.DateLayout)},
		}))
		return report
	}
	e.log.Info().
		Int("selected", report.Selected).
		Int("expired", report.Processed).
		Int("skipped", report.Skipped).
		Int("failed", report.Failed).
		Str("outcome", string(report.Outcome)).
		Msg("expiration-reclaimer: прогон завершён")
	report.AddAuditError(e.audit.Record(ctx, audit.RunEntry(domain.AuditEventExpirationSweep, report)))
	return report
}

func (e *ExpirationReclaimer) expire(ctx context.Context, now time.Time, block domain.ContentBlock, report *domain.RunReport) {
	audioURL := ""
	if block.AudioURL != nil {
		audioURL = *block.AudioURL
	}
	storageErr := e.deleteAudio(ctx, audioURL)
	if storageErr != nil {
		metrics.StorageCleanupErrors.Inc()
		e.log.Warn().Err(storageErr).Str("block_id", block.ID).Str("audio_url", audioURL).
			Msg("expiration-reclaimer: не удалось удалить аудио, статус всё равно обновляется")
		report.AddError(fmt.Sprintf("%s: storage: %v", block.ID, storageErr))
		report.AddAuditError(e.audit.Record(ctx, audit.BlockEntry(
			domain.AuditEventStorageCleanupFailed,
			domain.AuditStatusError,
			fmt.Sprintf("не удалось удалить аудио блока %s", block.ID),
			block.ID,
			map[string]any{"audio_url": audioURL, "error": storageErr.Error()},
		)))
	}

	update := domain.StatusUpdate{
		ID:         block.ID,
		From:       block.Status,
		At:         now,
		ClearAudio: true,
		Parameters: map[string]any{
			"expired_at":      now.Format(time.RFC3339),
			"storage_deleted": storageErr == nil,
		},
	}
	event := domain.AuditEventContentExpired
	var (
		applied bool
		err     error
	)
	if domain.CanTransition(block.Status, domain.StatusExpired) {
		update.To = domain.StatusExpired
		applied, err = e.tr.Apply(ctx, update)
	} else {
		event = domain.AuditEventStorageReclaimed
		applied, err = e.tr.Touch(ctx, update)
	}
	if err != nil {
		e.log.Error().Err(err).Str("block_id", block.ID).Msg("expiration-reclaimer: не удалось обновить блок")
		report.AddError(fmt.Sprintf("%s: %v", block.ID, err))
		return
	}
	if !applied {
		report.Skipped++
		return
	}
	report.Processed++
	report.ByStatus[block.Status]++
	report.AddAuditError(e.audit.Record(ctx, audit.BlockEntry(
		event,
		domain.AuditStatusSuccess,
		fmt.Sprintf("аудио блока %s освобождено", block.ID),
		block.ID,
		map[string]any{
			"block_id":        block.ID,
			"content_type":    string(block.Type),
			"previous_status": string(block.Status),
			"expiration_date": block.ExpirationDate.Format(domain.DateLayout),
			"audio_url":       audioURL,
			"storage_deleted": storageErr == nil,
		},
	)))
}

func (e *ExpirationReclaimer) deleteAudio(ctx context.Context, audioURL string) error {
	path, err := e.blobs.PathFromURL(audioURL)
	if err != nil {
		return fmt.Errorf("resolve path: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, e.cfg.DeleteTimeout)
	defer cancel()
	return e.blobs.Delete(ctx, path)
}
