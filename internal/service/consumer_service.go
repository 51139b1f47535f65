package service

import (
	"context"
	"encoding/json"

	"github.com/ThreeDotsLabs/watermill/message"

	"sales-intel-be/internal/pkg/logger"
	"sales-intel-be/pkg/events"
	"sales-intel-be/pkg/notify"
)

const consumerModule = "ConsumerService"

type IConsumerService interface {
	Consume(ctx context.Context) error
}

// consumerService moves search outcomes from the in-process bus to NATS so
// publishing never runs on a controller's hook path.
type consumerService struct {
	subscriber message.Subscriber
	topicName  string
	publisher  notify.Publisher
	logger     logger.ILogger
}

func NewConsumerService(
	subscriber message.Subscriber,
	topicName string,
	publisher notify.Publisher,
	log logger.ILogger,
) IConsumerService {
	return &consumerService{
		subscriber: subscriber,
		topicName:  topicName,
		publisher:  publisher,
		logger:     log,
	}
}

func (cs *consumerService) Consume(ctx context.Context) error {
	messages, err := cs.subscriber.Subscribe(ctx, cs.topicName)
	if err != nil {
		return err
	}

	go func() {
		for msg := range messages {
			cs.processMessage(ctx, msg)
		}
	}()

	return nil
}

func (cs *consumerService) processMessage(ctx context.Context, msg *message.Message) {
	var outcome events.SearchOutcome
	if err := json.Unmarshal(msg.Payload, &outcome); err != nil {
		cs.logger.Error(consumerModule, "Failed to unmarshal search outcome", map[string]interface{}{"error": err.Error()})
		msg.Ack() // undecodable, retrying cannot help
		return
	}

	// Outcome events are best effort: a NATS failure is logged by the
	// publisher and the message is still acked.
	_ = cs.publisher.PublishSearchOutcome(ctx, outcome)

	cs.logger.Debug(consumerModule, "Search outcome forwarded", map[string]interface{}{
		"user_id":    outcome.UserID,
		"request_id": outcome.RequestID,
		"event":      outcome.EventType(),
	})
	msg.Ack()
}
