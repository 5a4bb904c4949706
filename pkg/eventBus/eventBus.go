package eventBus

import (
	"sync/atomic"

	"github.com/Layr-Labs/unichain-indexer/pkg/eventBus/eventBusTypes"
	"go.uber.org/zap"
)

// EventBus fans pipeline notifications out to subscribers. Publishing never blocks: a consumer
// whose channel is full misses the event.
type EventBus struct {
	consumers *eventBusTypes.ConsumerList
	logger    *zap.Logger
	dropped   atomic.Uint64
}

func NewEventBus(l *zap.Logger) *EventBus {
	return &EventBus{
		consumers: eventBusTypes.NewConsumerList(),
		logger:    l,
	}
}

func (eb *EventBus) Subscribe(consumer *eventBusTypes.Consumer) {
	eb.consumers.Add(consumer)
	eb.logger.Sugar().Debugw("Subscribed consumer", zap.String("consumerId", string(consumer.Id)))
}

func (eb *EventBus) Unsubscribe(consumer *eventBusTypes.Consumer) {
	eb.consumers.Remove(consumer)
	eb.logger.Sugar().Infow("Unsubscribed consumer", zap.String("consumerId", string(consumer.Id)))
}

func (eb *EventBus) Publish(event *eventBusTypes.Event) {
	eb.logger.Sugar().Debugw("Publishing event", zap.String("eventName", event.Name))
	for _, consumer := range eb.consumers.GetAll() {
		if !consumer.Wants(event.Name) {
			continue
		}
		if consumer.Context != nil && consumer.Context.Err() != nil {
			continue
		}
		if consumer.Channel == nil {
			eb.logger.Sugar().Debugw("Consumer channel is nil", zap.String("consumerId", string(consumer.Id)))
			continue
		}
		select {
		case consumer.Channel <- event:
		default:
			eb.dropped.Add(1)
			eb.logger.Sugar().Debugw("No receiver available, or channel is full",
				zap.String("consumerId", string(consumer.Id)),
				zap.String("eventName", event.Name),
			)
		}
	}
}

// Dropped counts deliveries skipped because a consumer channel was full.
func (eb *EventBus) Dropped() uint64 {
	return eb.dropped.Load()
}
