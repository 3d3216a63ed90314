package domain

import (
	"context"
	"time"
)

// RetryChange описывает изменение счётчика попыток при переходе.
type RetryChange int

const (
	// RetryKeep оставляет счётчик без изменений.
	RetryKeep RetryChange = iota
	// RetryIncrement увеличивает счётчик на единицу.
	RetryIncrement
	// RetryReset обнуляет счётчик (только при отказе от блока).
	RetryReset
)

// StatusUpdate — условная запись: применяется, только если текущий статус равен From.
// Поля-указатели nil не изменяют соответствующие колонки.
type StatusUpdate struct {
	ID                string
	From              ContentStatus
	To                ContentStatus
	At                time.Time
	Script            *string
	ScriptGeneratedAt *time.Time
	AudioURL          *string
	ClearAudio        bool
	Voice             *string
	DurationSeconds   *int
	AudioGeneratedAt  *time.Time
	Retry             RetryChange
	Parameters        map[string]any
}

// ExpirationCursor — позиция постраничного обхода истёкших блоков.
// Нулевое значение означает начало выборки.
type ExpirationCursor struct {
	ExpirationDate time.Time
	ID             string
}

// IsZero сообщает, указывает ли курсор на начало выборки.
func (c ExpirationCursor) IsZero() bool {
	return c.ID == "" && c.ExpirationDate.IsZero()
}

// ContentRepo — хранилище контент-блоков с построчной условной записью.
type ContentRepo interface {
	CreateBlock(ctx context.Context, block ContentBlock) (ContentBlock, error)
	GetBlock(ctx context.Context, id string) (ContentBlock, error)
	// ListStuck возвращает блоки в указанных статусах с updated_at < olderThan, старые первыми.
	ListStuck(ctx context.Context, statuses []ContentStatus, olderThan time.Time, limit int) ([]ContentBlock, error)
	// ListExpired возвращает блоки с expiration_date < before, непустым аудио и статусом не expired,
	// по возрастанию (expiration_date, id) строго после курсора.
	ListExpired(ctx context.Context, before time.Time, after ExpirationCursor, limit int) ([]ContentBlock, error)
	// ListByStatus возвращает блоки в статусе по приоритету и дате обновления.
	ListByStatus(ctx context.Context, status ContentStatus, limit int) ([]ContentBlock, error)
	// ListRetryPending возвращает блоки retry_pending, ожидающие указанного этапа.
	ListRetryPending(ctx context.Context, target ContentStatus, limit int) ([]ContentBlock, error)
	// UpdateStatus выполняет условную запись и возвращает false, если ни одна строка не изменилась.
	UpdateStatus(ctx context.Context, update StatusUpdate) (bool, error)
}

// BlobStorage хранит аудиофайлы.
type BlobStorage interface {
	Upload(ctx context.Context, path string, data []byte, contentType string) (string, error)
	PublicURL(path string) string
	// Delete удаляет объект; отсутствие объекта не является ошибкой.
	Delete(ctx context.Context, path string) error
	PathFromURL(url string) (string, error)
}

// Script — результат генерации сценария.
type Script struct {
	Text             string
	Model            string
	PromptTokens     int
	CompletionTokens int
}

// ScriptGenerator превращает собранный контекст блока в текст для озвучки.
type ScriptGenerator interface {
	GenerateScript(ctx context.Context, block ContentBlock) (Script, error)
}

// Speech — результат синтеза одного фрагмента.
type Speech struct {
	Audio           []byte
	ContentType     string
	DurationSeconds float64
}

// SpeechSynthesizer синтезирует речь.
type SpeechSynthesizer interface {
	Synthesize(ctx context.Context, text, voice string) (Speech, error)
}

// Alerter отправляет оповещения операторам.
type Alerter interface {
	Alert(ctx context.Context, text string) error
}

// Cache используется для простых TTL-хранилищ.
type Cache interface {
	Once(ctx context.Context, key string, ttl time.Duration, fn func() error) error
}
