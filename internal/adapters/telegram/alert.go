package telegram

import (
	"context"
	"errors"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"alarm-pipeline/internal/domain"
	"alarm-pipeline/internal/infra/metrics"
	"alarm-pipeline/internal/textsplit"
)

const messageLimit = 4096

type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Alerter отправляет оповещения операторам в чат Telegram.
type Alerter struct {
	bot    sender
	chatID int64
}

var _ domain.Alerter = (*Alerter)(nil)

// NewAlerter подключается к Bot API; token и chatID обязательны.
func NewAlerter(token string, chatID int64) (*Alerter, error) {
	if token == "" || chatID == 0 {
		return nil, errors.New("telegram: token and chat id are required")
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	return &Alerter{bot: bot, chatID: chatID}, nil
}

// Alert реализует domain.Alerter. Длинный текст отправляется несколькими сообщениями.
func (a *Alerter) Alert(ctx context.Context, text string) error {
	chat := strconv.FormatInt(a.chatID, 10)
	for _, part := range textsplit.Split(text, messageLimit) {
		if err := ctx.Err(); err != nil {
			return err
		}
		msg := tgbotapi.NewMessage(a.chatID, part)
		msg.DisableWebPagePreview = true
		start := time.Now()
		_, err := a.bot.Send(msg)
		metrics.ObserveNetworkRequest("telegram_bot", "send_message", chat, start, err)
		if err != nil {
			return err
		}
	}
	return nil
}
