package domain

import (
	"fmt"
	"strings"
)

// ContentStatus — состояние блока в конвейере.
type ContentStatus string

const (
	StatusPending           ContentStatus = "pending"
	StatusContentGenerating ContentStatus = "content_generating"
	StatusContentReady      ContentStatus = "content_ready"
	StatusContentFailed     ContentStatus = "content_failed"
	StatusScriptGenerating  ContentStatus = "script_generating"
	StatusScriptGenerated   ContentStatus = "script_generated"
	StatusScriptFailed      ContentStatus = "script_failed"
	StatusAudioGenerating   ContentStatus = "audio_generating"
	StatusReady             ContentStatus = "ready"
	StatusAudioFailed       ContentStatus = "audio_failed"
	StatusFailed            ContentStatus = "failed"
	StatusExpired           ContentStatus = "expired"
	StatusRetryPending      ContentStatus = "retry_pending"
)

// Ключи parameters, которые пишет конвейер.
const (
	ParamRetryTarget = "retry_target"
	ParamLastError   = "last_error"
	ParamErrorKind   = "error_kind"
	ParamFailedAt    = "failed_at"
)

// transitions — единственная таблица допустимых переходов.
var transitions = map[ContentStatus][]ContentStatus{
	StatusPending:           {StatusContentGenerating, StatusContentReady, StatusContentFailed},
	StatusContentGenerating: {StatusContentReady, StatusContentFailed},
	StatusContentReady:      {StatusScriptGenerating, StatusContentFailed},
	StatusContentFailed:     {StatusRetryPending, StatusFailed},
	StatusScriptGenerating:  {StatusScriptGenerated, StatusScriptFailed},
	StatusScriptGenerated:   {StatusAudioGenerating, StatusAudioFailed},
	StatusScriptFailed:      {StatusRetryPending, StatusFailed},
	StatusAudioGenerating:   {StatusReady, StatusAudioFailed},
	StatusReady:             {StatusExpired},
	StatusAudioFailed:       {StatusRetryPending, StatusFailed},
	StatusRetryPending:      {StatusContentGenerating, StatusScriptGenerating, StatusAudioGenerating, StatusFailed},
	StatusFailed:            {},
	StatusExpired:           {},
}

var allStatuses = []ContentStatus{
	StatusPending,
	StatusContentGenerating,
	StatusContentReady,
	StatusContentFailed,
	StatusScriptGenerating,
	StatusScriptGenerated,
	StatusScriptFailed,
	StatusAudioGenerating,
	StatusReady,
	StatusAudioFailed,
	StatusFailed,
	StatusExpired,
	StatusRetryPending,
}

var inProgressStatuses = []ContentStatus{
	StatusContentGenerating,
	StatusScriptGenerating,
	StatusAudioGenerating,
	StatusRetryPending,
}

// Statuses возвращает все статусы в порядке конвейера.
func Statuses() []ContentStatus {
	return append([]ContentStatus(nil), allStatuses...)
}

// InProgressStatuses возвращает статусы, в которых блок «принадлежит» воркеру.
func InProgressStatuses() []ContentStatus {
	return append([]ContentStatus(nil), inProgressStatuses...)
}

// ParseStatus разбирает строковое значение статуса.
func ParseStatus(raw string) (ContentStatus, error) {
	s := ContentStatus(strings.ToLower(strings.TrimSpace(raw)))
	if !s.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, raw)
	}
	return s, nil
}

// Valid сообщает, входит ли статус в перечисление.
func (s ContentStatus) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// IsTerminal возвращает true для статусов без исходящих переходов.
func (s ContentStatus) IsTerminal() bool {
	return s == StatusFailed || s == StatusExpired
}

// IsInProgress возвращает true для статусов, которые может забрать чистка зависших блоков.
func (s ContentStatus) IsInProgress() bool {
	for _, st := range inProgressStatuses {
		if s == st {
			return true
		}
	}
	return false
}

// CanTransition — тотальная функция проверки перехода.
func CanTransition(from, to ContentStatus) bool {
	allowed, ok := transitions[from]
	if !ok || !to.Valid() {
		return false
	}
	for _, candidate := range allowed {
		if candidate == to {
			return true
		}
	}
	return false
}

// AllowedTransitions возвращает копию списка допустимых целевых статусов.
func AllowedTransitions(from ContentStatus) []ContentStatus {
	return append([]ContentStatus(nil), transitions[from]...)
}

// ValidateTransition проверяет переход до любой записи в хранилище.
func ValidateTransition(from, to ContentStatus) error {
	switch {
	case !from.Valid():
		return &TransitionError{From: from, To: to, Err: ErrInvalidStatus}
	case !to.Valid():
		return &TransitionError{From: from, To: to, Err: ErrInvalidStatus}
	case from.IsTerminal():
		return &TransitionError{From: from, To: to, Err: ErrTerminalStatus}
	case !CanTransition(from, to):
		return &TransitionError{From: from, To: to, Err: ErrIllegalTransition}
	}
	return nil
}

// FailureStatusFor возвращает статус ошибки для зависшего статуса.
func FailureStatusFor(stuck ContentStatus) ContentStatus {
	switch stuck {
	case StatusScriptGenerating:
		return StatusScriptFailed
	case StatusAudioGenerating:
		return StatusAudioFailed
	case StatusContentGenerating:
		return StatusContentFailed
	default:
		return StatusFailed
	}
}

// ResumeStatusFor возвращает этап, с которого продолжается блок после retry_pending.
// Второе значение false, если статус не является ошибкой этапа.
func ResumeStatusFor(failure ContentStatus) (ContentStatus, bool) {
	switch failure {
	case StatusContentFailed:
		return StatusContentGenerating, true
	case StatusScriptFailed:
		return StatusScriptGenerating, true
	case StatusAudioFailed:
		return StatusAudioGenerating, true
	default:
		return "", false
	}
}

// IsStageFailure сообщает, является ли статус ошибкой отдельного этапа.
func (s ContentStatus) IsStageFailure() bool {
	_, ok := ResumeStatusFor(s)
	return ok
}
