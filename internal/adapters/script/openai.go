package script

import (
	"context"
	"fmt"
	"strings"
	"time"

	"alarm-pipeline/internal/domain"
	openai "alarm-pipeline/internal/infra/openai"
)

type chatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAI генерирует сценарий через Chat Completions.
type OpenAI struct {
	client  chatClient
	model   string
	timeout time.Duration
}

// NewOpenAI создаёт генератор сценариев.
func NewOpenAI(client chatClient, model string, timeout time.Duration) *OpenAI {
	if model == "" {
		model = "gpt-4.1-mini"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &OpenAI{client: client, model: model, timeout: timeout}
}

const systemPrompt = "You write short spoken segments for a morning alarm. " +
	"Plain sentences only: no markdown, no lists, no stage directions. Keep facts from the input and do not invent new ones."

var typeHints = map[domain.ContentType]string{
	domain.ContentTypeWakeUp:        "a warm personal greeting that mentions the date",
	domain.ContentTypeWeather:       "today's weather with the temperature range and anything worth preparing for",
	domain.ContentTypeHeadlines:     "the three most important headlines, one sentence each",
	domain.ContentTypeSports:        "last night's results and today's notable games",
	domain.ContentTypeMarkets:       "how the major indices and the user's tickers moved",
	domain.ContentTypeEncouragement: "one encouraging thought for the day",
	domain.ContentTypeBanana:        "a light, playful fact to end the alarm with",
	domain.ContentTypeUserReminders: "the user's reminders for today in time order",
	domain.ContentTypeHolidays:      "holidays and observances happening today",
}

// GenerateScript реализует domain.ScriptGenerator.
func (s *OpenAI) GenerateScript(ctx context.Context, block domain.ContentBlock) (domain.Script, error) {
	raw := strings.TrimSpace(block.RawContent)
	if raw == "" {
		return domain.Script{}, fmt.Errorf("%w: block %s has no raw content", domain.ErrInvalidBlock, block.ID)
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	hint := typeHints[block.Type]
	if hint == "" {
		hint = "a short spoken summary"
	}
	userPrompt := fmt.Sprintf(`Write %s for %s. Aim for %d to %d words.
Input data:
%s`, hint, block.Date.Format("Monday, January 2"), minWords(block.Type), maxWords(block.Type), clipRunes(raw, 6000))

	req := openai.ChatCompletionRequest{
		Model:       s.model,
		Temperature: 0.6,
		MaxTokens:   600,
		Messages: []openai.ChatMessage{
			{Role: openai.RoleSystem, Content: systemPrompt},
			{Role: openai.RoleUser, Content: userPrompt},
		},
	}
	resp, err := s.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return domain.Script{}, fmt.Errorf("openai completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return domain.Script{}, fmt.Errorf("openai completion: пустой ответ")
	}
	text := cleanScript(resp.Choices[0].Message.Content)
	if text == "" {
		return domain.Script{}, fmt.Errorf("openai completion: пустой сценарий")
	}
	out := domain.Script{Text: text, Model: s.model}
	if resp.Usage != nil {
		out.PromptTokens = resp.Usage.PromptTokens
		out.CompletionTokens = resp.Usage.CompletionTokens
	}
	return out, nil
}

func minWords(t domain.ContentType) int {
	if t == domain.ContentTypeHeadlines || t == domain.ContentTypeUserReminders {
		return 60
	}
	return 25
}

func maxWords(t domain.ContentType) int {
	return minWords(t) * 3
}

// cleanScript убирает разметку, которую модель иногда добавляет вопреки инструкции.
func cleanScript(text string) string {
	lines := strings.Split(strings.TrimSpace(text), "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		line = strings.TrimLeft(line, "#*-• ")
		line = strings.ReplaceAll(line, "**", "")
		if line == "" {
			continue
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}

func clipRunes(text string, limit int) string {
	if limit <= 0 {
		return text
	}
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit])
}
