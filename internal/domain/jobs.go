package domain

import (
	"context"
	"time"
)

// Stage — этап синтеза, который можно запустить по событию.
type Stage string

const (
	// StageScript — генерация сценария через LLM.
	StageScript Stage = "script"
	// StageAudio — синтез речи и загрузка аудио.
	StageAudio Stage = "audio"
)

// StageJob — задача на обработку одного блока этапом.
type StageJob struct {
	ID          string    `json:"job_id"`
	BlockID     string    `json:"block_id"`
	Stage       Stage     `json:"stage"`
	RequestedAt time.Time `json:"requested_at"`
}

// StageQueue описывает очередь задач этапов.
type StageQueue interface {
	Enqueue(ctx context.Context, job StageJob) error
	Receive(ctx context.Context) (StageJob, AckFunc, error)
}

// AckFunc подтверждает успешную обработку или запрашивает повтор доставки задачи.
type AckFunc func(success bool) error
