package domain

import (
	"context"
	"time"
)

// AuditEntry — запись журнала аудита (таблица system_logs).
type AuditEntry struct {
	EventType      string
	Status         string
	Message        string
	Metadata       map[string]any
	RelatedBlockID *string
	Timestamp      time.Time
}

const (
	// AuditEventStuckReclaimed фиксирует перевод зависшего блока в статус ошибки.
	AuditEventStuckReclaimed = "stuck_content_reclaimed"
	// AuditEventStuckSweep — итог прогона чистки зависших блоков.
	AuditEventStuckSweep = "stuck_content_sweep"
	// AuditEventStuckNoop — зависших блоков не найдено.
	AuditEventStuckNoop = "stuck_content_noop"
	// AuditEventContentExpired фиксирует истечение блока и очистку аудио.
	AuditEventContentExpired = "content_expired"
	// AuditEventStorageReclaimed фиксирует очистку аудио без смены статуса.
	AuditEventStorageReclaimed = "storage_reclaimed"
	// AuditEventStorageCleanupFailed — не удалось удалить объект из хранилища.
	AuditEventStorageCleanupFailed = "storage_cleanup_failed"
	// AuditEventExpirationSweep — итог прогона чистки истёкших блоков.
	AuditEventExpirationSweep = "expiration_sweep"
	// AuditEventExpirationNoop — истёкших блоков не найдено.
	AuditEventExpirationNoop = "expiration_noop"
	// AuditEventScriptGenerated фиксирует успешную генерацию сценария.
	AuditEventScriptGenerated = "script_generated"
	// AuditEventScriptFailed фиксирует ошибку генерации сценария.
	AuditEventScriptFailed = "script_failed"
	// AuditEventAudioGenerated фиксирует готовое аудио.
	AuditEventAudioGenerated = "audio_generated"
	// AuditEventAudioFailed фиксирует ошибку синтеза речи.
	AuditEventAudioFailed = "audio_failed"
	// AuditEventBlockRequeued фиксирует ручной повтор или отказ от блока.
	AuditEventBlockRequeued = "content_requeued"
	// AuditEventStageRun — итог прогона этапа синтеза.
	AuditEventStageRun = "stage_run"
)

const (
	AuditStatusInfo    = "info"
	AuditStatusSuccess = "success"
	AuditStatusWarning = "warning"
	AuditStatusError   = "error"
)

// AuditRepo сохраняет записи аудита.
type AuditRepo interface {
	AppendAudit(ctx context.Context, entry AuditEntry) error
}
