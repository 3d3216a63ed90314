package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"alarm-pipeline/internal/domain"
)

// Recorder пишет записи аудита в журнал и в лог.
// Ошибка журнала возвращается вызывающему как побочный результат и не прерывает основную операцию.
type Recorder struct {
	repo domain.AuditRepo
	log  zerolog.Logger
	now  func() time.Time
}

// NewRecorder создаёт Recorder; repo может быть nil, тогда записи уходят только в лог.
func NewRecorder(repo domain.AuditRepo, logger zerolog.Logger) *Recorder {
	return &Recorder{
		repo: repo,
		log:  logger.With().Str("component", "audit").Logger(),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// Record сохраняет запись. Возвращённая ошибка предназначена для отчёта, а не для отмены операции.
func (r *Recorder) Record(ctx context.Context, entry domain.AuditEntry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = r.now()
	}
	ev := r.event(entry.Status).
		Str("event_type", entry.EventType).
		Str("status", entry.Status)
	if entry.RelatedBlockID != nil {
		ev = ev.Str("block_id", *entry.RelatedBlockID)
	}
	if len(entry.Metadata) > 0 {
		ev = ev.Interface("metadata", entry.Metadata)
	}
	ev.Msg(entry.Message)

	if r.repo == nil {
		return nil
	}
	if err := r.repo.AppendAudit(ctx, entry); err != nil {
		r.log.Warn().Err(err).Str("event_type", entry.EventType).Msg("audit: не удалось сохранить запись")
		return fmt.Errorf("audit %s: %w", entry.EventType, err)
	}
	return nil
}

func (r *Recorder) event(status string) *zerolog.Event {
	switch status {
	case domain.AuditStatusError:
		return r.log.Error()
	case domain.AuditStatusWarning:
		return r.log.Warn()
	default:
		return r.log.Info()
	}
}

// BlockEntry собирает запись, привязанную к блоку.
func BlockEntry(eventType, status, message, blockID string, metadata map[string]any) domain.AuditEntry {
	id := blockID
	return domain.AuditEntry{
		EventType:      eventType,
		Status:         status,
		Message:        message,
		Metadata:       metadata,
		RelatedBlockID: &id,
	}
}

// RunEntry собирает итоговую запись прогона.
func RunEntry(eventType string, report domain.RunReport) domain.AuditEntry {
	status := domain.AuditStatusSuccess
	switch report.Outcome {
	case domain.OutcomePartial:
		status = domain.AuditStatusWarning
	case domain.OutcomeFailed:
		status = domain.AuditStatusError
	}
	byStatus := make(map[string]int, len(report.ByStatus))
	for s, n := range report.ByStatus {
		byStatus[string(s)] = n
	}
	return domain.AuditEntry{
		EventType: eventType,
		Status:    status,
		Message:   fmt.Sprintf("%s: %s, обработано %d из %d", report.Job, report.Outcome, report.Processed, report.Selected),
		Metadata: map[string]any{
			"job":         report.Job,
			"outcome":     string(report.Outcome),
			"selected":    report.Selected,
			"processed":   report.Processed,
			"skipped":     report.Skipped,
			"failed":      report.Failed,
			"by_status":   byStatus,
			"errors":      report.Errors,
			"duration_ms": report.Duration().Milliseconds(),
		},
		Timestamp: report.FinishedAt,
	}
}
