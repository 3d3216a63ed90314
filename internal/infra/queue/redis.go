package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"alarm-pipeline/internal/domain"
	"alarm-pipeline/internal/infra/metrics"
)

// RedisStageQueue реализует очередь задач этапов на Redis lists.
// Полученная задача перекладывается в список <key>:processing до подтверждения.
// Задачи, оставшиеся там после падения воркера, возвращает Recover.
type RedisStageQueue struct {
	client     *redis.Client
	key        string
	processing string
	wait       time.Duration
}

// NewRedisStageQueue создаёт очередь по указанному ключу.
func NewRedisStageQueue(client *redis.Client, key string) *RedisStageQueue {
	return &RedisStageQueue{client: client, key: key, processing: key + ":processing", wait: time.Second}
}

// Enqueue публикует задачу в очередь.
func (q *RedisStageQueue) Enqueue(ctx context.Context, job domain.StageJob) error {
	payload, err := encodeJob(job)
	if err != nil {
		return err
	}
	start := time.Now()
	err = q.client.LPush(ctx, q.key, payload).Err()
	metrics.ObserveNetworkRequest("redis", "lpush", q.key, start, err)
	if err != nil {
		return fmt.Errorf("push job: %w", err)
	}
	return nil
}

// Receive блокирующе читает задачу. Ack(true) удаляет её, Ack(false) ставит в конец очереди.
func (q *RedisStageQueue) Receive(ctx context.Context) (domain.StageJob, domain.AckFunc, error) {
	for {
		if err := ctx.Err(); err != nil {
			return domain.StageJob{}, nil, err
		}
		raw, err := q.client.BLMove(ctx, q.key, q.processing, "RIGHT", "LEFT", q.wait).Result()
		if err != nil {
			if ctx.Err() != nil {
				return domain.StageJob{}, nil, ctx.Err()
			}
			if errors.Is(err, redis.Nil) {
				continue
			}
			return domain.StageJob{}, nil, err
		}
		job, err := decodeJob([]byte(raw))
		if err != nil {
			_ = q.client.LRem(context.Background(), q.processing, 1, raw).Err()
			return domain.StageJob{}, nil, err
		}
		return job, q.ackFunc(raw), nil
	}
}

// Recover возвращает в конец очереди все неподтверждённые задачи из <key>:processing.
// Повторная доставка безопасна: этап забирает блок условной записью.
func (q *RedisStageQueue) Recover(ctx context.Context) (int, error) {
	moved := 0
	for {
		start := time.Now()
		err := q.client.LMove(ctx, q.processing, q.key, "RIGHT", "LEFT").Err()
		if errors.Is(err, redis.Nil) {
			return moved, nil
		}
		metrics.ObserveNetworkRequest("redis", "lmove", q.processing, start, err)
		if err != nil {
			return moved, fmt.Errorf("recover jobs: %w", err)
		}
		moved++
	}
}

// Len возвращает число задач, ожидающих обработки.
func (q *RedisStageQueue) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.key).Result()
}

func (q *RedisStageQueue) ackFunc(raw string) domain.AckFunc {
	return func(success bool) error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		pipe := q.client.TxPipeline()
		pipe.LRem(ctx, q.processing, 1, raw)
		if !success {
			// в хвост, за уже ожидающими задачами
			pipe.LPush(ctx, q.key, raw)
		}
		_, err := pipe.Exec(ctx)
		return err
	}
}

func encodeJob(job domain.StageJob) ([]byte, error) {
	if job.BlockID == "" {
		return nil, errors.New("stage job: block id is empty")
	}
	if job.Stage != domain.StageScript && job.Stage != domain.StageAudio {
		return nil, fmt.Errorf("stage job: unknown stage %q", job.Stage)
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("marshal job: %w", err)
	}
	return payload, nil
}

func decodeJob(payload []byte) (domain.StageJob, error) {
	var job domain.StageJob
	if err := json.Unmarshal(payload, &job); err != nil {
		return domain.StageJob{}, fmt.Errorf("decode job: %w", err)
	}
	if job.BlockID == "" {
		return domain.StageJob{}, errors.New("decode job: block id is empty")
	}
	return job, nil
}
