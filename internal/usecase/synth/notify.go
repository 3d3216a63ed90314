package synth

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"alarm-pipeline/internal/domain"
)

// Notifier публикует задачу следующего этапа. Повторная публикация для того же
// блока в пределах TTL подавляется через Cache.Once.
type Notifier struct {
	queue domain.StageQueue
	cache domain.Cache
	ttl   time.Duration
	log   zerolog.Logger
	now   func() time.Time
}

// NewNotifier создаёт Notifier; cache может быть nil.
func NewNotifier(queue domain.StageQueue, cache domain.Cache, ttl time.Duration, logger zerolog.Logger) *Notifier {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Notifier{
		queue: queue,
		cache: cache,
		ttl:   ttl,
		log:   logger.With().Str("component", "stage-notifier").Logger(),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Publish ставит задачу этапа stage для блока.
func (n *Notifier) Publish(ctx context.Context, stage domain.Stage, blockID string) error {
	if n == nil || n.queue == nil {
		return nil
	}
	job := domain.StageJob{
		ID:          uuid.NewString(),
		BlockID:     blockID,
		Stage:       stage,
		RequestedAt: n.now(),
	}
	enqueue := func() error { return n.queue.Enqueue(ctx, job) }
	var err error
	if n.cache != nil {
		err = n.cache.Once(ctx, fmt.Sprintf("stage:%s:%s", stage, blockID), n.ttl, enqueue)
	} else {
		err = enqueue()
	}
	if err != nil {
		n.log.Warn().Err(err).Str("block_id", blockID).Str("stage", string(stage)).
			Msg("stage-notifier: не удалось поставить задачу, блок подхватит плановый прогон")
		return err
	}
	return nil
}
