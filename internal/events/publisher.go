package events

import (
	"context"
	"encoding/json"
	"sync"

	"cloud.google.com/go/pubsub/v2"
	"github.com/anonto42/nano-midea/notifications/internal/models"
	"github.com/anonto42/nano-midea/notifications/pkg/broker"
	"github.com/rs/zerolog"
)

// Topic is the publishing side of a Pub/Sub topic; *pubsub.Publisher satisfies it.
type Topic interface {
	Publish(ctx context.Context, msg *pubsub.Message) *pubsub.PublishResult
	Stop()
}

// Publisher enqueues notification events without making the caller wait for the broker.
type Publisher struct {
	topic      Topic
	routingKey string
	logger     zerolog.Logger
	wg         sync.WaitGroup
}

func NewPublisher(topic Topic, routingKey string, logger zerolog.Logger) *Publisher {
	return &Publisher{
		topic:      topic,
		routingKey: routingKey,
		logger:     logger.With().Str("component", "EventPublisher").Logger(),
	}
}

// Publish hands event to the broker and returns immediately. Failures are logged, never returned,
// so the user action that triggered the event always succeeds.
func (p *Publisher) Publish(ctx context.Context, event models.NotificationEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		p.logger.Error().Err(err).Str("kind", string(event.Kind)).Msg("Failed to marshal notification event.")
		return
	}

	// The request may finish before the broker confirms.
	ctx = context.WithoutCancel(ctx)
	res := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: map[string]string{broker.RoutingKeyAttribute: p.routingKey},
	})

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		id, err := res.Get(ctx)
		if err != nil {
			p.logger.Error().Err(err).
				Str("kind", string(event.Kind)).
				Uint("sender", event.SenderID).
				Uint("target", event.TargetID).
				Msg("Failed to publish notification event.")
			return
		}
		p.logger.Debug().Str("message_id", id).Str("kind", string(event.Kind)).Msg("Notification event published.")
	}()
}

// Stop flushes pending messages and waits for their confirmations.
func (p *Publisher) Stop() {
	p.topic.Stop()
	p.wg.Wait()
}
