package domain

import (
	"fmt"
	"strings"
	"time"
)

// ContentType задаёт тип контент-блока.
type ContentType string

const (
	ContentTypeWakeUp        ContentType = "wake_up"
	ContentTypeWeather       ContentType = "weather"
	ContentTypeHeadlines     ContentType = "headlines"
	ContentTypeSports        ContentType = "sports"
	ContentTypeMarkets       ContentType = "markets"
	ContentTypeEncouragement ContentType = "encouragement"
	ContentTypeBanana        ContentType = "banana"
	ContentTypeUserReminders ContentType = "user_reminders"
	ContentTypeHolidays      ContentType = "holidays"
)

var contentTypes = []ContentType{
	ContentTypeWakeUp,
	ContentTypeWeather,
	ContentTypeHeadlines,
	ContentTypeSports,
	ContentTypeMarkets,
	ContentTypeEncouragement,
	ContentTypeBanana,
	ContentTypeUserReminders,
	ContentTypeHolidays,
}

// ContentTypes возвращает полный список поддерживаемых типов.
func ContentTypes() []ContentType {
	return append([]ContentType(nil), contentTypes...)
}

// Valid сообщает, входит ли тип в фиксированный набор.
func (t ContentType) Valid() bool {
	for _, known := range contentTypes {
		if t == known {
			return true
		}
	}
	return false
}

// ParseContentType разбирает строковое значение типа.
func ParseContentType(raw string) (ContentType, error) {
	t := ContentType(strings.ToLower(strings.TrimSpace(raw)))
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidContentType, raw)
	}
	return t, nil
}

// ContentBlock — единица работы конвейера.
// OwnerID == nil означает общий контент (например, заголовки новостей),
// AudioURL == nil означает, что аудио ещё нет или оно уже удалено.
type ContentBlock struct {
	ID                string
	OwnerID           *string
	Type              ContentType
	Date              time.Time
	RawContent        string
	Script            string
	AudioURL          *string
	Status            ContentStatus
	Voice             string
	DurationSeconds   *int
	RetryCount        int
	Priority          int
	ExpirationDate    time.Time
	Parameters        map[string]any
	CreatedAt         time.Time
	UpdatedAt         time.Time
	ScriptGeneratedAt *time.Time
	AudioGeneratedAt  *time.Time
}

// HasAudio сообщает, указывает ли блок на аудиофайл.
func (b ContentBlock) HasAudio() bool {
	return b.AudioURL != nil && strings.TrimSpace(*b.AudioURL) != ""
}

// Validate проверяет инварианты блока перед записью.
func (b ContentBlock) Validate() error {
	if !b.Type.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidContentType, b.Type)
	}
	if !b.Status.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, b.Status)
	}
	if b.Date.IsZero() {
		return fmt.Errorf("%w: date is required", ErrInvalidBlock)
	}
	if b.ExpirationDate.IsZero() {
		return fmt.Errorf("%w: expiration date is required", ErrInvalidBlock)
	}
	if DateOf(b.ExpirationDate).Before(DateOf(b.Date)) {
		return fmt.Errorf("%w: expiration date %s is before date %s", ErrInvalidBlock, DateOf(b.ExpirationDate).Format(DateLayout), DateOf(b.Date).Format(DateLayout))
	}
	if b.RetryCount < 0 {
		return fmt.Errorf("%w: negative retry count", ErrInvalidBlock)
	}
	return nil
}

// DateLayout — формат календарной даты блока.
const DateLayout = "2006-01-02"

// DateOf отбрасывает время суток и приводит значение к UTC-полуночи.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
