package app

import (
	"context"
	"log"
	"time"

	"github.com/transfa/ledger-service/internal/store"
	"github.com/transfa/ledger-service/pkg/rabbitmq"
)

const (
	defaultBatchSize       = 50
	defaultPollInterval    = 1200 * time.Millisecond
	defaultStaleProcessing = 2 * time.Minute
	defaultMaxAttempts     = 12
)

// OutboxDispatcher drains the event outbox into RabbitMQ. It is the delivery
// half of the outbox pattern: the ledger commits event intents together with
// state changes, and the dispatcher guarantees at-least-once publication.
//
// Delivery failures reschedule the row with capped exponential backoff. A row
// whose attempt count reaches maxAttempts is parked as dead instead of being
// retried forever.
type OutboxDispatcher struct {
	repo                store.Repository
	producer            rabbitmq.Publisher
	batchSize           int
	pollInterval        time.Duration
	staleProcessingTime time.Duration
	maxAttempts         int
}

func NewOutboxDispatcher(repo store.Repository, producer rabbitmq.Publisher) *OutboxDispatcher {
	return &OutboxDispatcher{
		repo:                repo,
		producer:            producer,
		batchSize:           defaultBatchSize,
		pollInterval:        defaultPollInterval,
		staleProcessingTime: defaultStaleProcessing,
		maxAttempts:         defaultMaxAttempts,
	}
}

// Configure overrides the dispatch knobs; zero values keep the defaults.
func (d *OutboxDispatcher) Configure(batchSize int, pollInterval time.Duration, maxAttempts int) {
	if batchSize > 0 {
		d.batchSize = batchSize
	}
	if pollInterval > 0 {
		d.pollInterval = pollInterval
	}
	if maxAttempts > 0 {
		d.maxAttempts = maxAttempts
	}
}

// Run polls the outbox until ctx is cancelled.
func (d *OutboxDispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := d.flushOnce(ctx); err != nil {
				log.Printf("level=error component=outbox_dispatcher msg=\"flush failed\" err=%v", err)
			}
		}
	}
}

func (d *OutboxDispatcher) flushOnce(ctx context.Context) error {
	staleAfterSeconds := int(d.staleProcessingTime.Seconds())
	messages, err := d.repo.ClaimOutboxMessages(ctx, d.batchSize, staleAfterSeconds)
	if err != nil {
		return err
	}

	for _, message := range messages {
		if err := d.producer.PublishRaw(ctx, message.RoutingKey, message.Payload); err != nil {
			if message.Attempts >= d.maxAttempts {
				log.Printf("level=error component=outbox_dispatcher msg=\"event dead-lettered\" outbox_id=%d attempts=%d err=%v", message.ID, message.Attempts, err)
				if deadErr := d.repo.MarkOutboxDead(ctx, message.ID, err.Error()); deadErr != nil {
					log.Printf("level=error component=outbox_dispatcher msg=\"failed to dead-letter outbox row\" outbox_id=%d err=%v", message.ID, deadErr)
				}
				continue
			}
			retryAfter := retryDelaySeconds(message.Attempts)
			if failErr := d.repo.MarkOutboxFailed(ctx, message.ID, retryAfter, err.Error()); failErr != nil {
				log.Printf("level=error component=outbox_dispatcher msg=\"failed to reschedule outbox row\" outbox_id=%d err=%v", message.ID, failErr)
			}
			continue
		}
		if err := d.repo.MarkOutboxPublished(ctx, message.ID); err != nil {
			log.Printf("level=error component=outbox_dispatcher msg=\"failed to mark outbox row published\" outbox_id=%d err=%v", message.ID, err)
		}
	}
	return nil
}

func retryDelaySeconds(attempt int) int {
	if attempt < 1 {
		return 1
	}
	delay := 1 << minInt(attempt, 8)
	if delay > 300 {
		return 300
	}
	return delay
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
