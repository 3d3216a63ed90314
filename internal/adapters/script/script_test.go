package script

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"alarm-pipeline/internal/domain"
	openai "alarm-pipeline/internal/infra/openai"
)

type stubChat struct {
	req  openai.ChatCompletionRequest
	resp openai.ChatCompletionResponse
	err  error
}

func (s *stubChat) CreateChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	s.req = req
	return s.resp, s.err
}

func weatherBlock() domain.ContentBlock {
	return domain.ContentBlock{
		ID:         "b1",
		Type:       domain.ContentTypeWeather,
		Date:       time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC),
		RawContent: `{"high_c":21,"low_c":12,"summary":"sunny"}`,
	}
}

func TestOpenAIGenerateScript(t *testing.T) {
	chat := &stubChat{resp: openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{Message: openai.ChatMessage{Content: "## Weather\n**Sunny** today, up to 21 degrees."}}},
		Usage:   &openai.ChatCompletionUsage{PromptTokens: 40, CompletionTokens: 12},
	}}
	gen := NewOpenAI(chat, "gpt-test", time.Second)
	out, err := gen.GenerateScript(context.Background(), weatherBlock())
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if out.Text != "Weather\nSunny today, up to 21 degrees." {
		t.Fatalf("разметка не очищена: %q", out.Text)
	}
	if out.PromptTokens != 40 || out.Model != "gpt-test" {
		t.Fatalf("неожиданные метаданные: %+v", out)
	}
	if !strings.Contains(chat.req.Messages[1].Content, "Tuesday, March 10") {
		t.Fatalf("в запросе нет даты: %s", chat.req.Messages[1].Content)
	}
}

func TestOpenAIPropagatesClientError(t *testing.T) {
	apiErr := &openai.APIError{StatusCode: 503}
	gen := NewOpenAI(&stubChat{err: apiErr}, "", 0)
	_, err := gen.GenerateScript(context.Background(), weatherBlock())
	var got *openai.APIError
	if !errors.As(err, &got) || got.StatusCode != 503 {
		t.Fatalf("ожидали APIError 503, получили %v", err)
	}
}

func TestOpenAIRejectsEmptyContent(t *testing.T) {
	gen := NewOpenAI(&stubChat{}, "", 0)
	block := weatherBlock()
	block.RawContent = "  "
	if _, err := gen.GenerateScript(context.Background(), block); !errors.Is(err, domain.ErrInvalidBlock) {
		t.Fatalf("ожидали ErrInvalidBlock, получили %v", err)
	}
}

func TestTemplateFlattensJSON(t *testing.T) {
	out, err := NewTemplate().GenerateScript(context.Background(), weatherBlock())
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	want := "Here is your weather. high c: 21. low c: 12. summary: sunny."
	if out.Text != want {
		t.Fatalf("want %q, got %q", want, out.Text)
	}
}

func TestTemplatePlainText(t *testing.T) {
	block := weatherBlock()
	block.Type = domain.ContentTypeEncouragement
	block.RawContent = "You   have\ngot this."
	out, err := NewTemplate().GenerateScript(context.Background(), block)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if out.Text != "A thought for today. You have got this." {
		t.Fatalf("неожиданный текст: %q", out.Text)
	}
}
