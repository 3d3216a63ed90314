package telegram

import (
	"context"
	"errors"
	"strings"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type fakeSender struct {
	texts []string
	err   error
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	msg, ok := c.(tgbotapi.MessageConfig)
	if !ok {
		return tgbotapi.Message{}, errors.New("unexpected chattable")
	}
	f.texts = append(f.texts, msg.Text)
	return tgbotapi.Message{}, f.err
}

func TestAlertSplitsLongText(t *testing.T) {
	fake := &fakeSender{}
	a := &Alerter{bot: fake, chatID: 42}
	text := strings.Repeat("строка журнала\n", 600)
	if err := a.Alert(context.Background(), text); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(fake.texts) < 2 {
		t.Fatalf("ожидали несколько сообщений, получили %d", len(fake.texts))
	}
	for _, part := range fake.texts {
		if n := len([]rune(part)); n > messageLimit {
			t.Fatalf("сообщение длиннее лимита: %d", n)
		}
	}
}

func TestAlertReturnsSendError(t *testing.T) {
	a := &Alerter{bot: &fakeSender{err: errors.New("forbidden")}, chatID: 42}
	if err := a.Alert(context.Background(), "stuck-content: failed"); err == nil {
		t.Fatalf("ожидали ошибку отправки")
	}
}

func TestNewAlerterRequiresConfig(t *testing.T) {
	if _, err := NewAlerter("", 1); err == nil {
		t.Fatalf("ожидали ошибку без токена")
	}
}
