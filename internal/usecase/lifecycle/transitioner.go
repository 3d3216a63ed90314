package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"alarm-pipeline/internal/domain"
	"alarm-pipeline/internal/infra/metrics"
)

// Transitioner — единственный путь изменения статуса блока.
// Переход проверяется по таблице до записи, запись условна по текущему статусу.
type Transitioner struct {
	repo domain.ContentRepo
	log  zerolog.Logger
	now  func() time.Time
}

// NewTransitioner создаёт Transitioner.
func NewTransitioner(repo domain.ContentRepo, logger zerolog.Logger) *Transitioner {
	return &Transitioner{
		repo: repo,
		log:  logger.With().Str("component", "lifecycle").Logger(),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// Apply выполняет переход From -> To. false без ошибки означает, что блок уже
// перешёл в другой статус и обрабатывать его в этом проходе не нужно.
func (t *Transitioner) Apply(ctx context.Context, u domain.StatusUpdate) (bool, error) {
	if err := domain.ValidateTransition(u.From, u.To); err != nil {
		return false, err
	}
	switch {
	case u.To == domain.StatusFailed:
		u.Retry = domain.RetryReset
	case u.Retry == domain.RetryReset && !u.To.IsStageFailure():
		return false, fmt.Errorf("%w: retry counter can only be reset when a block is abandoned", domain.ErrInvalidBlock)
	}
	return t.write(ctx, u)
}

// Touch обновляет поля блока без смены статуса (например, очищает аудио у failed-блока).
// Запись так же условна: статус должен остаться равным From.
func (t *Transitioner) Touch(ctx context.Context, u domain.StatusUpdate) (bool, error) {
	if !u.From.Valid() {
		return false, &domain.TransitionError{From: u.From, To: u.From, Err: domain.ErrInvalidStatus}
	}
	if u.To != "" && u.To != u.From {
		return false, &domain.TransitionError{From: u.From, To: u.To, Err: domain.ErrIllegalTransition}
	}
	if u.Retry != domain.RetryKeep {
		return false, fmt.Errorf("%w: touch cannot change retry counter", domain.ErrInvalidBlock)
	}
	u.To = u.From
	return t.write(ctx, u)
}

// Refresh перечитывает блок перед записью после долгой внешней операции.
// Второе значение false, если блок уже не в ожидаемом статусе.
func (t *Transitioner) Refresh(ctx context.Context, id string, expected domain.ContentStatus) (domain.ContentBlock, bool, error) {
	block, err := t.repo.GetBlock(ctx, id)
	if err != nil {
		return domain.ContentBlock{}, false, err
	}
	return block, block.Status == expected, nil
}

func (t *Transitioner) write(ctx context.Context, u domain.StatusUpdate) (bool, error) {
	if u.ID == "" {
		return false, fmt.Errorf("%w: block id is empty", domain.ErrInvalidBlock)
	}
	if u.At.IsZero() {
		u.At = t.now()
	}
	applied, err := t.repo.UpdateStatus(ctx, u)
	if err != nil {
		return false, fmt.Errorf("update %s %s->%s: %w", u.ID, u.From, u.To, err)
	}
	metrics.ObserveTransition(string(u.From), string(u.To), applied)
	if !applied {
		t.log.Debug().Str("block_id", u.ID).Str("from", string(u.From)).Str("to", string(u.To)).
			Msg("lifecycle: условная запись не применилась, блок обработан другим воркером")
	}
	return applied, nil
}
