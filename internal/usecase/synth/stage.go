package synth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"alarm-pipeline/internal/domain"
	"alarm-pipeline/internal/infra/retry"
	"alarm-pipeline/internal/usecase/audit"
	"alarm-pipeline/internal/usecase/lifecycle"
)

// stageSpec описывает статусы одного этапа.
type stageSpec struct {
	job          string
	ready        domain.ContentStatus
	working      domain.ContentStatus
	failed       domain.ContentStatus
	done         domain.ContentStatus
	successEvent string
	failureEvent string
}

// result — то, что этап записывает при успехе.
type result struct {
	update   domain.StatusUpdate
	metadata map[string]any
	// rollback убирает побочные эффекты, если итоговая запись не применилась.
	rollback func(ctx context.Context)
}

type work func(ctx context.Context, block domain.ContentBlock) (result, error)

// runner содержит общий для этапов цикл: захват, работа, перечитывание, условная запись.
type runner struct {
	repo  domain.ContentRepo
	tr    *lifecycle.Transitioner
	audit *audit.Recorder
	log   zerolog.Logger
	now   func() time.Time
	timer retry.Timer
	retry retry.Policy
}

// eligible сообщает, может ли этап взять блок.
func (s stageSpec) eligible(block domain.ContentBlock) bool {
	if block.Status == s.ready {
		return true
	}
	if block.Status != domain.StatusRetryPending {
		return false
	}
	target, _ := block.Parameters[domain.ParamRetryTarget].(string)
	return target == string(s.working)
}

func (r *runner) selectBatch(ctx context.Context, spec stageSpec, limit int, report *domain.RunReport) ([]domain.ContentBlock, error) {
	blocks, err := r.repo.ListByStatus(ctx, spec.ready, limit)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", spec.ready, err)
	}
	if len(blocks) < limit {
		retries, err := r.repo.ListRetryPending(ctx, spec.working, limit-len(blocks))
		if err != nil {
			report.AddError(fmt.Sprintf("list retry_pending: %v", err))
		} else {
			blocks = append(blocks, retries...)
		}
	}
	return blocks, nil
}

func (r *runner) run(ctx context.Context, spec stageSpec, limit int, do work, after func(ctx context.Context, block domain.ContentBlock)) domain.RunReport {
	report := domain.NewRunReport(spec.job, r.now())
	blocks, err := r.selectBatch(ctx, spec, limit, &report)
	if err != nil {
		r.log.Error().Err(err).Msg(spec.job + ": не удалось выбрать блоки")
		report.Abort(r.now(), err)
		report.AddAuditError(r.audit.Record(ctx, audit.RunEntry(domain.AuditEventStageRun, report)))
		return report
	}
	report.Selected = len(blocks)
	for _, block := range blocks {
		if err := ctx.Err(); err != nil {
			report.AddError(fmt.Sprintf("прогон прерван: %v", err))
			break
		}
		r.process(ctx, spec, block, do, after, &report)
	}
	report.Finish(r.now())
	if report.Selected > 0 || report.Outcome != domain.OutcomeSucceeded {
		r.log.Info().
			Int("selected", report.Selected).
			Int("processed", report.Processed).
			Int("skipped", report.Skipped).
			Int("failed", report.Failed).
			Str("outcome", string(report.Outcome)).
			Msg(spec.job + ": прогон завершён")
		report.AddAuditError(r.audit.Record(ctx, audit.RunEntry(domain.AuditEventStageRun, report)))
	}
	return report
}

// runOne обрабатывает один блок по задаче из очереди. Ошибка возвращается только
// для сбоев хранилища: тогда задачу стоит доставить повторно.
func (r *runner) runOne(ctx context.Context, spec stageSpec, id string, do work, after func(ctx context.Context, block domain.ContentBlock)) (domain.RunReport, error) {
	report := domain.NewRunReport(spec.job, r.now())
	block, err := r.repo.GetBlock(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrBlockNotFound) {
			report.Skipped++
			report.Finish(r.now())
			return report, nil
		}
		report.Abort(r.now(), err)
		return report, fmt.Errorf("get block %s: %w", id, err)
	}
	report.Selected = 1
	if !spec.eligible(block) {
		report.Skipped++
		report.Finish(r.now())
		return report, nil
	}
	r.process(ctx, spec, block, do, after, &report)
	report.Finish(r.now())
	return report, nil
}

func (r *runner) process(ctx context.Context, spec stageSpec, block domain.ContentBlock, do work, after func(ctx context.Context, block domain.ContentBlock), report *domain.RunReport) {
	origin := block.Status
	claimed, err := r.tr.Apply(ctx, domain.StatusUpdate{ID: block.ID, From: origin, To: spec.working})
	if err != nil {
		report.AddError(fmt.Sprintf("%s: claim: %v", block.ID, err))
		return
	}
	if !claimed {
		report.Skipped++
		return
	}
	block.Status = spec.working

	var res result
	workErr := retry.Do(ctx, r.retry, r.timer, func(ctx context.Context) error {
		var err error
		res, err = do(ctx, block)
		return err
	}, func(err error, attempt int, delay time.Duration) {
		r.log.Warn().Err(err).Str("block_id", block.ID).Int("attempt", attempt).Dur("delay", delay).
			Msg(spec.job + ": временная ошибка, повтор")
	})

	current, owned, err := r.tr.Refresh(ctx, block.ID, spec.working)
	if err != nil {
		if workErr == nil && res.rollback != nil {
			res.rollback(ctx)
		}
		report.AddError(fmt.Sprintf("%s: refresh: %v", block.ID, err))
		return
	}
	if !owned {
		r.log.Info().Str("block_id", block.ID).Str("status", string(current.Status)).
			Msg(spec.job + ": блок забрал другой процесс, результат отброшен")
		if workErr == nil && res.rollback != nil {
			res.rollback(ctx)
		}
		report.Skipped++
		return
	}

	if workErr != nil {
		r.fail(ctx, spec, block, workErr, report)
		return
	}

	update := res.update
	update.ID, update.From, update.To = block.ID, spec.working, spec.done
	if update.At.IsZero() {
		update.At = r.now()
	}
	applied, err := r.tr.Apply(ctx, update)
	if err != nil || !applied {
		if res.rollback != nil {
			res.rollback(ctx)
		}
		if err != nil {
			report.AddError(fmt.Sprintf("%s: %v", block.ID, err))
			return
		}
		report.Skipped++
		return
	}
	report.Processed++
	report.ByStatus[origin]++
	report.AddAuditError(r.audit.Record(ctx, audit.BlockEntry(spec.successEvent, domain.AuditStatusSuccess,
		fmt.Sprintf("блок %s: %s", block.ID, spec.done), block.ID, res.metadata)))
	if after != nil {
		after(ctx, block)
	}
}

func (r *runner) fail(ctx context.Context, spec stageSpec, block domain.ContentBlock, cause error, report *domain.RunReport) {
	kind := "permanent"
	if retry.IsTransient(cause) {
		kind = "transient"
	}
	now := r.now()
	applied, err := r.tr.Apply(ctx, domain.StatusUpdate{
		ID:    block.ID,
		From:  spec.working,
		To:    spec.failed,
		At:    now,
		Retry: domain.RetryIncrement,
		Parameters: map[string]any{
			domain.ParamLastError: cause.Error(),
			domain.ParamErrorKind: kind,
			domain.ParamFailedAt:  now.Format(time.RFC3339),
		},
	})
	switch {
	case err != nil:
		report.AddError(fmt.Sprintf("%s: %v (after %v)", block.ID, err, cause))
		return
	case !applied:
		report.Skipped++
		return
	}
	r.log.Warn().Err(cause).Str("block_id", block.ID).Str("error_kind", kind).
		Msg(spec.job + ": блок переведён в статус ошибки")
	report.AddError(fmt.Sprintf("%s: %v", block.ID, cause))
	report.AddAuditError(r.audit.Record(ctx, audit.BlockEntry(spec.failureEvent, domain.AuditStatusError,
		fmt.Sprintf("блок %s: %s", block.ID, spec.failed), block.ID, map[string]any{
			"error":       cause.Error(),
			"error_kind":  kind,
			"retry_count": block.RetryCount + 1,
		})))
}
