package reclaim

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"alarm-pipeline/internal/domain"
	"alarm-pipeline/internal/usecase/audit"
	"alarm-pipeline/internal/usecase/lifecycle"
)

// JobStuck — имя прогона чистки зависших блоков.
const JobStuck = "stuck-content"

// StuckConfig задаёт порог и размер батча.
type StuckConfig struct {
	Threshold time.Duration
	BatchSize int
}

// StuckReclaimer переводит блоки, зависшие в рабочих статусах, в статус ошибки этапа.
type StuckReclaimer struct {
	repo  domain.ContentRepo
	tr    *lifecycle.Transitioner
	audit *audit.Recorder
	cfg   StuckConfig
	log   zerolog.Logger
	now   func() time.Time
}

// NewStuckReclaimer создаёт чистку с дефолтами: порог 1 час, батч 50.
func NewStuckReclaimer(repo domain.ContentRepo, tr *lifecycle.Transitioner, recorder *audit.Recorder, cfg StuckConfig, logger zerolog.Logger) *StuckReclaimer {
	if cfg.Threshold <= 0 {
		cfg.Threshold = time.Hour
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	return &StuckReclaimer{
		repo:  repo,
		tr:    tr,
		audit: recorder,
		cfg:   cfg,
		log:   logger.With().Str("component", "stuck-reclaimer").Logger(),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Run выполняет один прогон. Ошибка выборки завершает прогон с итогом failed,
// ошибки отдельных блоков собираются в отчёт.
func (s *StuckReclaimer) Run(ctx context.Context) domain.RunReport {
	now := s.now()
	report := domain.NewRunReport(JobStuck, now)
	cutoff := now.Add(-s.cfg.Threshold)

	blocks, err := s.repo.ListStuck(ctx, domain.InProgressStatuses(), cutoff, s.cfg.BatchSize)
	if err != nil {
		s.log.Error().Err(err).Msg("stuck-reclaimer: не удалось выбрать зависшие блоки")
		report.Abort(s.now(), fmt.Errorf("list stuck blocks: %w", err))
		report.AddAuditError(s.audit.Record(ctx, audit.RunEntry(domain.AuditEventStuckSweep, report)))
		return report
	}
	report.Selected = len(blocks)

	if len(blocks) == 0 {
		report.Finish(s.now())
		report.AddAuditError(s.audit.Record(ctx, domain.AuditEntry{
			EventType: domain.AuditEventStuckNoop,
			Status:    domain.AuditStatusInfo,
			Message:   "зависших блоков не найдено",
			Metadata: map[string]any{
				"threshold_seconds": int(s.cfg.Threshold.Seconds()),
				"cutoff":            cutoff.Format(time.RFC3339),
			},
		}))
		return report
	}

	for _, block := range blocks {
		if err := ctx.Err(); err != nil {
			report.AddError(fmt.Sprintf("прогон прерван: %v", err))
			break
		}
		s.reclaim(ctx, now, block, &report)
	}

	report.Finish(s.now())
	s.log.Info().
		Int("selected", report.Selected).
		Int("reclaimed", report.Processed).
		Int("skipped", report.Skipped).
		Int("failed", report.Failed).
		Str("outcome", string(report.Outcome)).
		Msg("stuck-reclaimer: прогон завершён")
	report.AddAuditError(s.audit.Record(ctx, audit.RunEntry(domain.AuditEventStuckSweep, report)))
	return report
}

func (s *StuckReclaimer) reclaim(ctx context.Context, now time.Time, block domain.ContentBlock, report *domain.RunReport) {
	failure := domain.FailureStatusFor(block.Status)
	stuckFor := now.Sub(block.UpdatedAt)
	applied, err := s.tr.Apply(ctx, domain.StatusUpdate{
		ID:    block.ID,
		From:  block.Status,
		To:    failure,
		At:    now,
		Retry: domain.RetryReset,
		Parameters: map[string]any{
			domain.ParamLastError: fmt.Sprintf("stuck in %s for %s", block.Status, stuckFor.Round(time.Second)),
			domain.ParamErrorKind: "stuck",
			domain.ParamFailedAt:  now.Format(time.RFC3339),
		},
	})
	if err != nil {
		s.log.Error().Err(err).Str("block_id", block.ID).Msg("stuck-reclaimer: не удалось перевести блок")
		report.AddError(fmt.Sprintf("%s: %v", block.ID, err))
		return
	}
	if !applied {
		report.Skipped++
		return
	}
	report.Processed++
	report.ByStatus[block.Status]++
	report.AddAuditError(s.audit.Record(ctx, audit.BlockEntry(
		domain.AuditEventStuckReclaimed,
		domain.AuditStatusWarning,
		fmt.Sprintf("блок %s завис в %s, переведён в %s", block.ID, block.Status, failure),
		block.ID,
		map[string]any{
			"block_id":               block.ID,
			"content_type":           string(block.Type),
			"stuck_status":           string(block.Status),
			"failure_status":         string(failure),
			"stuck_duration_seconds": int64(stuckFor.Seconds()),
			"original_updated_at":    block.UpdatedAt.Format(time.RFC3339),
		},
	)))
}
