package trigger

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Scheduler запускает прогоны Runner по cron-расписанию.
// Следующий тик пропускается, пока предыдущий прогон того же задания не завершён.
type Scheduler struct {
	runner *Runner
	cron   *cron.Cron
	parser cron.Parser
	log    zerolog.Logger
	ctx    context.Context
}

// NewScheduler создаёт планировщик для cron-выражений из 5 полей; часовой пояс задаётся через cron.WithLocation.
func NewScheduler(ctx context.Context, runner *Runner, opts []cron.Option, logger zerolog.Logger) *Scheduler {
	log := logger.With().Str("component", "scheduler").Logger()
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	cl := cronLogger{log: log}
	opts = append([]cron.Option{
		cron.WithParser(parser),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	}, opts...)
	return &Scheduler{
		runner: runner,
		cron:   cron.New(opts...),
		parser: parser,
		log:    log,
		ctx:    ctx,
	}
}

// Add планирует прогон name; пустое выражение отключает задание.
func (s *Scheduler) Add(spec, name string) error {
	if spec == "" {
		s.log.Info().Str("job", name).Msg("scheduler: задание отключено")
		return nil
	}
	if _, err := s.parser.Parse(spec); err != nil {
		return fmt.Errorf("schedule %s: %w", name, err)
	}
	_, err := s.cron.AddFunc(spec, func() {
		if _, err := s.runner.Run(s.ctx, name); err != nil {
			s.log.Error().Err(err).Str("job", name).Msg("scheduler: не удалось запустить прогон")
		}
	})
	if err != nil {
		return fmt.Errorf("schedule %s: %w", name, err)
	}
	s.log.Info().Str("job", name).Str("spec", spec).Msg("scheduler: задание добавлено")
	return nil
}

// Start запускает планировщик в фоне.
func (s *Scheduler) Start() { s.cron.Start() }

// Stop останавливает планировщик и ждёт завершения текущих прогонов.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// Entries возвращает число запланированных заданий.
func (s *Scheduler) Entries() int { return len(s.cron.Entries()) }

// cronLogger направляет журнал cron в zerolog.
type cronLogger struct{ log zerolog.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg("scheduler: " + msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg("scheduler: " + msg)
}
