// Package notify forwards search outcomes to other services over NATS.
package notify

import (
	"context"

	"sales-intel-be/internal/pkg/logger"
	"sales-intel-be/pkg/events"
	pktNats "sales-intel-be/pkg/nats"
)

// Publisher abstracts outcome publishing.
type Publisher interface {
	PublishSearchOutcome(ctx context.Context, outcome events.SearchOutcome) error
}

// NatsPublisher implements Publisher on JetStream. A nil underlying
// publisher turns every call into a no-op, so the service runs without NATS.
type NatsPublisher struct {
	publisher *pktNats.Publisher
	logger    logger.ILogger
}

func NewNatsPublisher(publisher *pktNats.Publisher, logger logger.ILogger) *NatsPublisher {
	return &NatsPublisher{
		publisher: publisher,
		logger:    logger,
	}
}

// PublishSearchOutcome emits SEARCH_COMPLETED or SEARCH_FAILED.
func (p *NatsPublisher) PublishSearchOutcome(ctx context.Context, outcome events.SearchOutcome) error {
	if p.publisher == nil {
		return nil
	}

	evt := outcome.Event()
	if err := p.publisher.Publish(ctx, evt); err != nil {
		p.logger.Error("NOTIFY", "Failed to publish "+evt.EventType()+" event", map[string]interface{}{
			"error":      err.Error(),
			"request_id": outcome.RequestID,
		})
		return err
	}
	return nil
}
