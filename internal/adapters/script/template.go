package script

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"alarm-pipeline/internal/domain"
)

// Template строит сценарий без LLM: используется, когда ключ OpenAI не задан.
type Template struct{}

// NewTemplate создаёт генератор.
func NewTemplate() *Template {
	return &Template{}
}

var intros = map[domain.ContentType]string{
	domain.ContentTypeWakeUp:        "Good morning.",
	domain.ContentTypeWeather:       "Here is your weather.",
	domain.ContentTypeHeadlines:     "Here are today's headlines.",
	domain.ContentTypeSports:        "In sports.",
	domain.ContentTypeMarkets:       "A quick look at the markets.",
	domain.ContentTypeEncouragement: "A thought for today.",
	domain.ContentTypeBanana:        "And finally.",
	domain.ContentTypeUserReminders: "Your reminders for today.",
	domain.ContentTypeHolidays:      "Today is special.",
}

// GenerateScript реализует domain.ScriptGenerator.
func (t *Template) GenerateScript(_ context.Context, block domain.ContentBlock) (domain.Script, error) {
	raw := strings.TrimSpace(block.RawContent)
	if raw == "" {
		return domain.Script{}, fmt.Errorf("%w: block %s has no raw content", domain.ErrInvalidBlock, block.ID)
	}
	body := flatten(raw)
	parts := []string{}
	if intro := intros[block.Type]; intro != "" {
		parts = append(parts, intro)
	}
	parts = append(parts, truncate(body, 1200))
	return domain.Script{Text: strings.Join(parts, " "), Model: "template"}, nil
}

// flatten превращает JSON-объект в фразы «ключ: значение», остальной текст возвращает как есть.
func flatten(raw string) string {
	var obj map[string]any
	if err := json.Unmarshal([]byte(raw), &obj); err != nil || len(obj) == 0 {
		return strings.Join(strings.Fields(raw), " ")
	}
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	phrases := make([]string, 0, len(keys))
	for _, k := range keys {
		label := strings.ReplaceAll(k, "_", " ")
		switch v := obj[k].(type) {
		case string:
			phrases = append(phrases, fmt.Sprintf("%s: %s.", label, v))
		case float64, bool:
			phrases = append(phrases, fmt.Sprintf("%s: %v.", label, v))
		}
	}
	return strings.Join(phrases, " ")
}

func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit]) + "…"
}
