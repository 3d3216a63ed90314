package synth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"alarm-pipeline/internal/domain"
	"alarm-pipeline/internal/infra/retry"
	"alarm-pipeline/internal/usecase/audit"
	"alarm-pipeline/internal/usecase/lifecycle"
)

// JobScript — имя прогона генерации сценариев.
const JobScript = "script"

var scriptSpec = stageSpec{
	job:          JobScript,
	ready:        domain.StatusContentReady,
	working:      domain.StatusScriptGenerating,
	failed:       domain.StatusScriptFailed,
	done:         domain.StatusScriptGenerated,
	successEvent: domain.AuditEventScriptGenerated,
	failureEvent: domain.AuditEventScriptFailed,
}

// ScriptConfig задаёт размер батча и политику повторов.
type ScriptConfig struct {
	BatchSize int
	Retry     retry.Policy
}

// ScriptStage превращает собранный контекст блока в сценарий.
type ScriptStage struct {
	runner
	gen      domain.ScriptGenerator
	notifier *Notifier
	batch    int
}

// NewScriptStage создаёт этап; notifier может быть nil.
func NewScriptStage(repo domain.ContentRepo, tr *lifecycle.Transitioner, gen domain.ScriptGenerator, recorder *audit.Recorder, notifier *Notifier, cfg ScriptConfig, logger zerolog.Logger) *ScriptStage {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = retry.DefaultPolicy()
	}
	return &ScriptStage{
		runner: runner{
			repo:  repo,
			tr:    tr,
			audit: recorder,
			log:   logger.With().Str("component", "script-stage").Logger(),
			now:   func() time.Time { return time.Now().UTC() },
			retry: cfg.Retry,
		},
		gen:      gen,
		notifier: notifier,
		batch:    cfg.BatchSize,
	}
}

// Run обрабатывает батч блоков content_ready и retry_pending, ожидающих сценария.
func (s *ScriptStage) Run(ctx context.Context) domain.RunReport {
	return s.run(ctx, scriptSpec, s.batch, s.generate, s.publish)
}

// ProcessBlock обрабатывает один блок по задаче из очереди.
func (s *ScriptStage) ProcessBlock(ctx context.Context, id string) (domain.RunReport, error) {
	return s.runOne(ctx, scriptSpec, id, s.generate, s.publish)
}

func (s *ScriptStage) generate(ctx context.Context, block domain.ContentBlock) (result, error) {
	if strings.TrimSpace(block.RawContent) == "" {
		return result{}, retry.Permanent(fmt.Errorf("%w: block has no raw content", domain.ErrInvalidBlock))
	}
	script, err := s.gen.GenerateScript(ctx, block)
	if err != nil {
		return result{}, err
	}
	text := strings.TrimSpace(script.Text)
	if text == "" {
		return result{}, retry.Permanent(fmt.Errorf("generator returned an empty script"))
	}
	now := s.now()
	return result{
		update: domain.StatusUpdate{
			At:                now,
			Script:            &text,
			ScriptGeneratedAt: &now,
			Parameters: map[string]any{
				"script_model":      script.Model,
				"prompt_tokens":     script.PromptTokens,
				"completion_tokens": script.CompletionTokens,
			},
		},
		metadata: map[string]any{
			"content_type": string(block.Type),
			"model":        script.Model,
			"words":        len(strings.Fields(text)),
		},
	}, nil
}

func (s *ScriptStage) publish(ctx context.Context, block domain.ContentBlock) {
	_ = s.notifier.Publish(ctx, domain.StageAudio, block.ID)
}
