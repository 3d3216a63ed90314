package trigger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"alarm-pipeline/internal/domain"
	"alarm-pipeline/internal/infra/metrics"
)

// ErrUnknownJob возвращается для незарегистрированного имени прогона.
var ErrUnknownJob = errors.New("unknown job")

// Job — один прогон чистки или этапа.
type Job interface {
	Run(ctx context.Context) domain.RunReport
}

// JobFunc адаптирует функцию к Job.
type JobFunc func(ctx context.Context) domain.RunReport

// Run реализует Job.
func (f JobFunc) Run(ctx context.Context) domain.RunReport { return f(ctx) }

// Runner запускает зарегистрированные прогоны по имени.
type Runner struct {
	mu      sync.RWMutex
	jobs    map[string]Job
	timeout time.Duration
	alerter domain.Alerter
	log     zerolog.Logger
}

// NewRunner создаёт реестр; alerter может быть nil.
func NewRunner(timeout time.Duration, alerter domain.Alerter, logger zerolog.Logger) *Runner {
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &Runner{
		jobs:    map[string]Job{},
		timeout: timeout,
		alerter: alerter,
		log:     logger.With().Str("component", "trigger").Logger(),
	}
}

// Register добавляет прогон под именем name.
func (r *Runner) Register(name string, job Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[name] = job
}

// Names возвращает имена зарегистрированных прогонов по алфавиту.
func (r *Runner) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.jobs))
	for name := range r.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Run выполняет прогон с таймаутом, пишет метрики и оповещает о неуспешном итоге.
func (r *Runner) Run(ctx context.Context, name string) (domain.RunReport, error) {
	r.mu.RLock()
	job, ok := r.jobs[name]
	r.mu.RUnlock()
	if !ok {
		return domain.RunReport{}, fmt.Errorf("%w: %q", ErrUnknownJob, name)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	report := job.Run(ctx)
	if report.Job == "" {
		report.Job = name
	}

	metrics.ObserveRun(name, string(report.Outcome), report.Duration(), report.Processed, report.Skipped, report.Failed)
	event := r.log.Info()
	if report.Outcome != domain.OutcomeSucceeded {
		event = r.log.Warn()
	}
	event.Str("job", name).
		Str("outcome", string(report.Outcome)).
		Int("selected", report.Selected).
		Int("processed", report.Processed).
		Int("skipped", report.Skipped).
		Int("failed", report.Failed).
		Int("audit_errors", len(report.AuditErrors)).
		Dur("duration", report.Duration()).
		Msg("trigger: прогон завершён")

	if report.Outcome != domain.OutcomeSucceeded && r.alerter != nil {
		if err := r.alerter.Alert(context.WithoutCancel(ctx), AlertText(report)); err != nil {
			report.AddAuditError(fmt.Errorf("alert: %w", err))
		}
	}
	return report, nil
}

const maxAlertErrors = 5

// AlertText формирует оповещение для операторов.
func AlertText(report domain.RunReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "⚠️ %s: %s\n", report.Job, report.Outcome)
	fmt.Fprintf(&b, "обработано %d, пропущено %d, ошибок %d\n", report.Processed, report.Skipped, report.Failed)
	for i, e := range report.Errors {
		if i == maxAlertErrors {
			fmt.Fprintf(&b, "… и ещё %d\n", len(report.Errors)-maxAlertErrors)
			break
		}
		fmt.Fprintf(&b, "• %s\n", e)
	}
	return strings.TrimRight(b.String(), "\n")
}
