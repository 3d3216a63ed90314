package domain

import "time"

// RunOutcome — итог одного прогона чистки или этапа.
type RunOutcome string

const (
	// OutcomeSucceeded — все блоки обработаны без ошибок.
	OutcomeSucceeded RunOutcome = "succeeded"
	// OutcomePartial — прогон завершён, но список ошибок не пуст.
	OutcomePartial RunOutcome = "partial"
	// OutcomeFailed — прогон не удалось выполнить (например, хранилище недоступно).
	OutcomeFailed RunOutcome = "failed"
)

// RunReport — структурированный итог прогона.
type RunReport struct {
	Job         string
	Outcome     RunOutcome
	Selected    int
	Processed   int
	Skipped     int
	Failed      int
	ByStatus    map[ContentStatus]int
	Errors      []string
	AuditErrors []string
	StartedAt   time.Time
	FinishedAt  time.Time
}

// NewRunReport создаёт пустой отчёт.
func NewRunReport(job string, startedAt time.Time) RunReport {
	return RunReport{
		Job:       job,
		ByStatus:  map[ContentStatus]int{},
		StartedAt: startedAt,
	}
}

// AddError добавляет ошибку обработки блока.
func (r *RunReport) AddError(msg string) {
	r.Failed++
	r.Errors = append(r.Errors, msg)
}

// AddAuditError сохраняет ошибку журнала отдельно от ошибок обработки.
func (r *RunReport) AddAuditError(err error) {
	if err == nil {
		return
	}
	r.AuditErrors = append(r.AuditErrors, err.Error())
}

// Finish вычисляет итог по списку ошибок.
func (r *RunReport) Finish(at time.Time) {
	r.FinishedAt = at
	if r.Outcome == OutcomeFailed {
		return
	}
	if len(r.Errors) == 0 {
		r.Outcome = OutcomeSucceeded
		return
	}
	r.Outcome = OutcomePartial
}

// Abort помечает прогон как невыполненный.
func (r *RunReport) Abort(at time.Time, err error) {
	r.FinishedAt = at
	r.Outcome = OutcomeFailed
	if err != nil {
		r.Errors = append(r.Errors, err.Error())
	}
}

// Duration возвращает длительность прогона.
func (r RunReport) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
