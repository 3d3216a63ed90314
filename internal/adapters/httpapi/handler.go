package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	chi "github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"alarm-pipeline/internal/domain"
	infrahttp "alarm-pipeline/internal/infra/http"
	"alarm-pipeline/internal/usecase/lifecycle"
	"alarm-pipeline/internal/usecase/trigger"
)

type sweepRunner interface {
	Run(ctx context.Context, name string) (domain.RunReport, error)
}

type blockService interface {
	CreateBlock(ctx context.Context, in lifecycle.NewBlock) (domain.ContentBlock, error)
	GetBlock(ctx context.Context, id string) (domain.ContentBlock, error)
	Requeue(ctx context.Context, id string) (lifecycle.RequeueResult, error)
}

type stagePublisher interface {
	Publish(ctx context.Context, stage domain.Stage, blockID string) error
}

// Handler — HTTP-поверхность запуска прогонов и приёма блоков.
type Handler struct {
	runner    sweepRunner
	blocks    blockService
	publisher stagePublisher
	log       zerolog.Logger
}

// NewHandler создаёт обработчики; publisher может быть nil.
func NewHandler(runner sweepRunner, blocks blockService, publisher stagePublisher, logger zerolog.Logger) *Handler {
	return &Handler{
		runner:    runner,
		blocks:    blocks,
		publisher: publisher,
		log:       logger.With().Str("component", "httpapi").Logger(),
	}
}

// Routes регистрирует маршруты /api/v1.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/sweeps/{job}", h.runSweep)
		r.Post("/blocks", h.createBlock)
		r.Get("/blocks/{id}", h.getBlock)
		r.Post("/blocks/{id}/requeue", h.requeueBlock)
	})
}

type countsResponse struct {
	Selected  int `json:"selected"`
	Processed int `json:"processed"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

// SweepResponse — тело ответа на запуск прогона.
type SweepResponse struct {
	Success     bool           `json:"success"`
	Job         string         `json:"job"`
	Outcome     string         `json:"outcome"`
	Counts      countsResponse `json:"counts"`
	ByStatus    map[string]int `json:"by_status"`
	Errors      []string       `json:"errors"`
	AuditErrors []string       `json:"audit_errors"`
	StartedAt   time.Time      `json:"started_at"`
	FinishedAt  time.Time      `json:"finished_at"`
	DurationMS  int64          `json:"duration_ms"`
}

func newSweepResponse(report domain.RunReport) SweepResponse {
	byStatus := make(map[string]int, len(report.ByStatus))
	for status, n := range report.ByStatus {
		byStatus[string(status)] = n
	}
	errs := report.Errors
	if errs == nil {
		errs = []string{}
	}
	auditErrs := report.AuditErrors
	if auditErrs == nil {
		auditErrs = []string{}
	}
	return SweepResponse{
		Success: report.Outcome == domain.OutcomeSucceeded,
		Job:     report.Job,
		Outcome: string(report.Outcome),
		Counts: countsResponse{
			Selected:  report.Selected,
			Processed: report.Processed,
			Skipped:   report.Skipped,
			Failed:    report.Failed,
		},
		ByStatus:    byStatus,
		Errors:      errs,
		AuditErrors: auditErrs,
		StartedAt:   report.StartedAt,
		FinishedAt:  report.FinishedAt,
		DurationMS:  report.Duration().Milliseconds(),
	}
}

// outcomeStatus: 200 — без ошибок, 207 — частично, 500 — прогон не выполнен.
func outcomeStatus(outcome domain.RunOutcome) int {
	switch outcome {
	case domain.OutcomeSucceeded:
		return http.StatusOK
	case domain.OutcomePartial:
		return http.StatusMultiStatus
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) runSweep(w http.ResponseWriter, r *http.Request) {
	job := chi.URLParam(r, "job")
	report, err := h.runner.Run(r.Context(), job)
	if err != nil {
		if errors.Is(err, trigger.ErrUnknownJob) {
			infrahttp.WriteError(w, r, http.StatusNotFound, err)
			return
		}
		infrahttp.WriteError(w, r, http.StatusInternalServerError, err)
		return
	}
	infrahttp.WriteJSON(w, outcomeStatus(report.Outcome), newSweepResponse(report))
}

// BlockResponse — представление блока в API.
type BlockResponse struct {
	ID                string         `json:"id"`
	OwnerID           *string        `json:"owner_id"`
	ContentType       string         `json:"content_type"`
	Date              string         `json:"date"`
	RawContent        string         `json:"raw_content,omitempty"`
	Script            string         `json:"script,omitempty"`
	AudioURL          *string        `json:"audio_url"`
	Status            string         `json:"status"`
	Voice             string         `json:"voice,omitempty"`
	DurationSeconds   *int           `json:"duration_seconds"`
	RetryCount        int            `json:"retry_count"`
	Priority          int            `json:"priority"`
	ExpirationDate    string         `json:"expiration_date"`
	Parameters        map[string]any `json:"parameters"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
	ScriptGeneratedAt *time.Time     `json:"script_generated_at,omitempty"`
	AudioGeneratedAt  *time.Time     `json:"audio_generated_at,omitempty"`
}

func newBlockResponse(b domain.ContentBlock) BlockResponse {
	return BlockResponse{
		ID:                b.ID,
		OwnerID:           b.OwnerID,
		ContentType:       string(b.Type),
		Date:              b.Date.Format(domain.DateLayout),
		RawContent:        b.RawContent,
		Script:            b.Script,
		AudioURL:          b.AudioURL,
		Status:            string(b.Status),
		Voice:             b.Voice,
		DurationSeconds:   b.DurationSeconds,
		RetryCount:        b.RetryCount,
		Priority:          b.Priority,
		ExpirationDate:    b.ExpirationDate.Format(domain.DateLayout),
		Parameters:        b.Parameters,
		CreatedAt:         b.CreatedAt,
		UpdatedAt:         b.UpdatedAt,
		ScriptGeneratedAt: b.ScriptGeneratedAt,
		AudioGeneratedAt:  b.AudioGeneratedAt,
	}
}

type createBlockRequest struct {
	OwnerID        *string        `json:"owner_id"`
	ContentType    string         `json:"content_type"`
	Date           string         `json:"date"`
	RawContent     string         `json:"raw_content"`
	Status         string         `json:"status"`
	Voice          string         `json:"voice"`
	Priority       int            `json:"priority"`
	ExpirationDate string         `json:"expiration_date"`
	Parameters     map[string]any `json:"parameters"`
}

func (req createBlockRequest) toNewBlock() (lifecycle.NewBlock, error) {
	contentType, err := domain.ParseContentType(req.ContentType)
	if err != nil {
		return lifecycle.NewBlock{}, err
	}
	date, err := time.Parse(domain.DateLayout, req.Date)
	if err != nil {
		return lifecycle.NewBlock{}, fmt.Errorf("%w: date must be YYYY-MM-DD", domain.ErrInvalidBlock)
	}
	in := lifecycle.NewBlock{
		OwnerID:    req.OwnerID,
		Type:       contentType,
		Date:       date,
		RawContent: req.RawContent,
		Voice:      req.Voice,
		Priority:   req.Priority,
		Parameters: req.Parameters,
	}
	if req.Status != "" {
		status, err := domain.ParseStatus(req.Status)
		if err != nil {
			return lifecycle.NewBlock{}, err
		}
		in.Status = status
	}
	if req.ExpirationDate != "" {
		exp, err := time.Parse(domain.DateLayout, req.ExpirationDate)
		if err != nil {
			return lifecycle.NewBlock{}, fmt.Errorf("%w: expiration_date must be YYYY-MM-DD", domain.ErrInvalidBlock)
		}
		in.ExpirationDate = &exp
	}
	return in, nil
}

func (h *Handler) createBlock(w http.ResponseWriter, r *http.Request) {
	var req createBlockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		infrahttp.WriteError(w, r, http.StatusBadRequest, fmt.Errorf("decode body: %w", err))
		return
	}
	in, err := req.toNewBlock()
	if err != nil {
		infrahttp.WriteError(w, r, http.StatusBadRequest, err)
		return
	}
	block, err := h.blocks.CreateBlock(r.Context(), in)
	if err != nil {
		h.writeBlockError(w, r, err)
		return
	}
	if block.Status == domain.StatusContentReady {
		h.publish(r.Context(), domain.StageScript, block.ID)
	}
	infrahttp.WriteJSON(w, http.StatusCreated, newBlockResponse(block))
}

func (h *Handler) getBlock(w http.ResponseWriter, r *http.Request) {
	block, err := h.blocks.GetBlock(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeBlockError(w, r, err)
		return
	}
	infrahttp.WriteJSON(w, http.StatusOK, newBlockResponse(block))
}

type requeueResponse struct {
	From  string        `json:"from"`
	To    string        `json:"to"`
	Block BlockResponse `json:"block"`
}

func (h *Handler) requeueBlock(w http.ResponseWriter, r *http.Request) {
	res, err := h.blocks.Requeue(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeBlockError(w, r, err)
		return
	}
	if res.To == domain.StatusRetryPending {
		target, _ := res.Block.Parameters[domain.ParamRetryTarget].(string)
		switch domain.ContentStatus(target) {
		case domain.StatusScriptGenerating:
			h.publish(r.Context(), domain.StageScript, res.Block.ID)
		case domain.StatusAudioGenerating:
			h.publish(r.Context(), domain.StageAudio, res.Block.ID)
		}
	}
	infrahttp.WriteJSON(w, http.StatusOK, requeueResponse{
		From:  string(res.From),
		To:    string(res.To),
		Block: newBlockResponse(res.Block),
	})
}

func (h *Handler) publish(ctx context.Context, stage domain.Stage, id string) {
	if h.publisher == nil {
		return
	}
	if err := h.publisher.Publish(ctx, stage, id); err != nil {
		h.log.Warn().Err(err).Str("block_id", id).Msg("httpapi: задача этапа не поставлена")
	}
}

func (h *Handler) writeBlockError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrBlockNotFound):
		infrahttp.WriteError(w, r, http.StatusNotFound, err)
	case errors.Is(err, domain.ErrNotRequeueable), errors.Is(err, domain.ErrConcurrentUpdate):
		infrahttp.WriteError(w, r, http.StatusConflict, err)
	case errors.Is(err, domain.ErrInvalidBlock), errors.Is(err, domain.ErrInvalidContentType),
		errors.Is(err, domain.ErrInvalidStatus), errors.Is(err, domain.ErrIllegalTransition):
		infrahttp.WriteError(w, r, http.StatusBadRequest, err)
	default:
		h.log.Error().Err(err).Str("request_id", infrahttp.RequestID(r)).Msg("httpapi: ошибка обработки запроса")
		infrahttp.WriteError(w, r, http.StatusInternalServerError, err)
	}
}
