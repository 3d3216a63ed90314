package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"alarm-pipeline/internal/domain"
	"alarm-pipeline/internal/usecase/audit"
)

// Config задаёт параметры сервиса блоков.
type Config struct {
	MaxRetries    int
	RetentionDays int
}

// NewBlock — входные данные продюсера.
type NewBlock struct {
	OwnerID        *string
	Type           domain.ContentType
	Date           time.Time
	RawContent     string
	Status         domain.ContentStatus
	Voice          string
	Priority       int
	ExpirationDate *time.Time
	Parameters     map[string]any
}

// RequeueResult описывает итог ручного повтора.
type RequeueResult struct {
	Block domain.ContentBlock
	From  domain.ContentStatus
	To    domain.ContentStatus
}

// Service отвечает за приём блоков и ручное восстановление.
type Service struct {
	repo  domain.ContentRepo
	tr    *Transitioner
	audit *audit.Recorder
	cfg   Config
	log   zerolog.Logger
	now   func() time.Time
}

// NewService создаёт сервис.
func NewService(repo domain.ContentRepo, tr *Transitioner, recorder *audit.Recorder, cfg Config, logger zerolog.Logger) *Service {
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 2
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	return &Service{
		repo:  repo,
		tr:    tr,
		audit: recorder,
		cfg:   cfg,
		log:   logger.With().Str("component", "blocks").Logger(),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

var initialStatuses = map[domain.ContentStatus]bool{
	domain.StatusPending:           true,
	domain.StatusContentGenerating: true,
	domain.StatusContentReady:      true,
}

// CreateBlock проверяет и сохраняет новый блок.
func (s *Service) CreateBlock(ctx context.Context, in NewBlock) (domain.ContentBlock, error) {
	status := in.Status
	if status == "" {
		status = domain.StatusPending
		if strings.TrimSpace(in.RawContent) != "" {
			status = domain.StatusContentReady
		}
	}
	if !initialStatuses[status] {
		return domain.ContentBlock{}, fmt.Errorf("%w: block cannot be created in status %q", domain.ErrInvalidBlock, status)
	}
	if status == domain.StatusContentReady && strings.TrimSpace(in.RawContent) == "" {
		return domain.ContentBlock{}, fmt.Errorf("%w: content_ready requires raw content", domain.ErrInvalidBlock)
	}
	if in.Date.IsZero() {
		return domain.ContentBlock{}, fmt.Errorf("%w: date is required", domain.ErrInvalidBlock)
	}
	date := domain.DateOf(in.Date)
	expiration := date.AddDate(0, 0, s.cfg.RetentionDays)
	if in.ExpirationDate != nil {
		expiration = domain.DateOf(*in.ExpirationDate)
	}
	now := s.now()
	params := in.Parameters
	if params == nil {
		params = map[string]any{}
	}
	block := domain.ContentBlock{
		ID:             uuid.NewString(),
		OwnerID:        in.OwnerID,
		Type:           in.Type,
		Date:           date,
		RawContent:     in.RawContent,
		Status:         status,
		Voice:          in.Voice,
		Priority:       in.Priority,
		ExpirationDate: expiration,
		Parameters:     params,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := block.Validate(); err != nil {
		return domain.ContentBlock{}, err
	}
	created, err := s.repo.CreateBlock(ctx, block)
	if err != nil {
		return domain.ContentBlock{}, fmt.Errorf("create block: %w", err)
	}
	s.log.Info().Str("block_id", created.ID).Str("type", string(created.Type)).Str("status", string(created.Status)).
		Msg("blocks: блок создан")
	return created, nil
}

// GetBlock возвращает блок по идентификатору.
func (s *Service) GetBlock(ctx context.Context, id string) (domain.ContentBlock, error) {
	if _, err := uuid.Parse(id); err != nil {
		return domain.ContentBlock{}, domain.ErrBlockNotFound
	}
	return s.repo.GetBlock(ctx, id)
}

// Requeue возвращает блок с ошибкой этапа в повтор или окончательно отказывается от него,
// если лимит попыток исчерпан.
func (s *Service) Requeue(ctx context.Context, id string) (RequeueResult, error) {
	block, err := s.GetBlock(ctx, id)
	if err != nil {
		return RequeueResult{}, err
	}
	resume, ok := domain.ResumeStatusFor(block.Status)
	if !ok {
		return RequeueResult{}, fmt.Errorf("%w: status %s", domain.ErrNotRequeueable, block.Status)
	}
	now := s.now()
	update := domain.StatusUpdate{ID: block.ID, From: block.Status, At: now}
	if block.RetryCount < s.cfg.MaxRetries {
		update.To = domain.StatusRetryPending
		update.Parameters = map[string]any{
			domain.ParamRetryTarget: string(resume),
			"requeued_at":           now.Format(time.RFC3339),
		}
	} else {
		update.To = domain.StatusFailed
		update.Parameters = map[string]any{
			"abandoned_reason":   "max_retries_exceeded",
			domain.ParamFailedAt: now.Format(time.RFC3339),
		}
	}
	applied, err := s.tr.Apply(ctx, update)
	if err != nil {
		return RequeueResult{}, err
	}
	if !applied {
		return RequeueResult{}, domain.ErrConcurrentUpdate
	}
	result := RequeueResult{From: block.Status, To: update.To}
	result.Block, err = s.repo.GetBlock(ctx, id)
	if err != nil {
		return RequeueResult{}, err
	}
	if aerr := s.audit.Record(ctx, audit.BlockEntry(domain.AuditEventBlockRequeued, domain.AuditStatusInfo,
		fmt.Sprintf("блок %s: %s -> %s", id, block.Status, update.To), id, map[string]any{
			"from":        string(block.Status),
			"to":          string(update.To),
			"retry_count": block.RetryCount,
			"max_retries": s.cfg.MaxRetries,
		})); aerr != nil {
		s.log.Warn().Err(aerr).Str("block_id", id).Msg("blocks: аудит повтора не сохранён")
	}
	return result, nil
}

// IsNotFound сообщает, что блок отсутствует.
func IsNotFound(err error) bool {
	return errors.Is(err, domain.ErrBlockNotFound)
}
