package rabbitmq

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Layr-Labs/unichain-indexer/pkg/eventBus/eventBusTypes"
	"github.com/pkg/errors"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

type Publisher interface {
	Publish(ctx context.Context, exchangeName string, routingKey string, publishing amqp.Publishing) error
}

// Notifier forwards event bus notifications to a RabbitMQ exchange as JSON messages.
// Publish failures are logged and dropped; the indexer never waits on the broker.
type Notifier struct {
	publisher Publisher
	exchange  string
	consumer  *eventBusTypes.Consumer
	logger    *zap.Logger
}

func NewNotifier(ctx context.Context, publisher Publisher, exchange string, bufferSize int, l *zap.Logger) *Notifier {
	if exchange == "" {
		exchange = Exchange_indexerEvents
	}
	return &Notifier{
		publisher: publisher,
		exchange:  exchange,
		consumer:  eventBusTypes.NewConsumer(ctx, bufferSize),
		logger:    l,
	}
}

func (n *Notifier) Consumer() *eventBusTypes.Consumer {
	return n.consumer
}

// Run publishes until the consumer context is done.
func (n *Notifier) Run() {
	for {
		select {
		case <-n.consumer.Context.Done():
			return
		case event := <-n.consumer.Channel:
			if err := n.forward(n.consumer.Context, event); err != nil {
				n.logger.Sugar().Warnw("Failed to publish notification",
					zap.String("event", event.Name),
					zap.Error(err),
				)
			}
		}
	}
}

func (n *Notifier) forward(ctx context.Context, event *eventBusTypes.Event) error {
	routingKey, ok := routingKeys[event.Name]
	if !ok {
		return nil
	}
	message, err := toMessage(event)
	if err != nil {
		return err
	}
	body, err := json.Marshal(message)
	if err != nil {
		return errors.Wrap(err, "failed to encode notification")
	}
	return n.publisher.Publish(ctx, n.exchange, routingKey, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Type:         event.Name,
		Body:         body,
	})
}

func toMessage(event *eventBusTypes.Event) (any, error) {
	switch data := event.Data.(type) {
	case *eventBusTypes.EventCommittedData:
		return &EventCommittedMessage{
			ChainId:     data.Coordinates.ChainId,
			BlockNumber: data.Coordinates.BlockNumber,
			LogIndex:    data.Coordinates.LogIndex,
			ChangeRoot:  data.ChangeRoot,
			Changes:     data.Changes,
		}, nil
	case *eventBusTypes.EventRolledBackData:
		return &EventRolledBackMessage{
			ChainId:     data.Coordinates.ChainId,
			BlockNumber: data.Coordinates.BlockNumber,
			LogIndex:    data.Coordinates.LogIndex,
			Reason:      data.Reason,
		}, nil
	case *eventBusTypes.EventFailedData:
		return &EventFailedMessage{
			ChainId:     data.Coordinates.ChainId,
			BlockNumber: data.Coordinates.BlockNumber,
			LogIndex:    data.Coordinates.LogIndex,
			Error:       data.Error,
		}, nil
	case *eventBusTypes.ReorgHandledData:
		return &ReorgHandledMessage{
			ChainId:   data.Reorg.ChainId,
			FromBlock: data.Reorg.FromBlock,
			ToBlock:   data.Reorg.ToBlock,
			Reverted:  data.Reverted,
		}, nil
	default:
		return nil, errors.Errorf("unexpected payload %T for %s", event.Data, event.Name)
	}
}
