package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"alarm-pipeline/internal/domain"
	"alarm-pipeline/internal/infra/metrics"
)

// RabbitStageQueue реализует очередь задач этапов через AMQP.
type RabbitStageQueue struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string

	mu         sync.Mutex
	deliveries <-chan amqp.Delivery
}

// NewRabbitStageQueue подключается к брокеру и объявляет durable-очередь.
func NewRabbitStageQueue(amqpURL, queue string) (*RabbitStageQueue, error) {
	if amqpURL == "" {
		return nil, errors.New("amqp url is empty")
	}
	if queue == "" {
		return nil, errors.New("queue name is empty")
	}
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}
	if err := ch.Qos(1, 0, false); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("set qos: %w", err)
	}
	return &RabbitStageQueue{conn: conn, ch: ch, queue: queue}, nil
}

// Enqueue публикует задачу в очередь.
func (q *RabbitStageQueue) Enqueue(ctx context.Context, job domain.StageJob) error {
	payload, err := encodeJob(job)
	if err != nil {
		return err
	}
	start := time.Now()
	err = q.ch.PublishWithContext(ctx, "", q.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    job.ID,
		Timestamp:    job.RequestedAt,
		Body:         payload,
	})
	metrics.ObserveNetworkRequest("rabbitmq", "publish", q.queue, start, err)
	if err != nil {
		return fmt.Errorf("publish job: %w", err)
	}
	return nil
}

// Receive ждёт следующую доставку. Ack(false) возвращает сообщение брокеру.
func (q *RabbitStageQueue) Receive(ctx context.Context) (domain.StageJob, domain.AckFunc, error) {
	deliveries, err := q.consume()
	if err != nil {
		return domain.StageJob{}, nil, err
	}
	for {
		select {
		case <-ctx.Done():
			return domain.StageJob{}, nil, ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return domain.StageJob{}, nil, errors.New("rabbitmq: delivery channel closed")
			}
			job, err := decodeJob(d.Body)
			if err != nil {
				_ = d.Reject(false)
				return domain.StageJob{}, nil, err
			}
			return job, deliveryAck(d), nil
		}
	}
}

func (q *RabbitStageQueue) consume() (<-chan amqp.Delivery, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.deliveries != nil {
		return q.deliveries, nil
	}
	deliveries, err := q.ch.Consume(q.queue, "", false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("consume: %w", err)
	}
	q.deliveries = deliveries
	return deliveries, nil
}

// Close закрывает канал и соединение.
func (q *RabbitStageQueue) Close() error {
	_ = q.ch.Close()
	return q.conn.Close()
}

type acknowledger interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
}

func deliveryAck(d acknowledger) domain.AckFunc {
	return func(success bool) error {
		if success {
			return d.Ack(false)
		}
		return d.Nack(false, true)
	}
}
