package eventBusTypes

import (
	"context"
	"slices"
	"sync"

	"github.com/Layr-Labs/unichain-indexer/pkg/events"
	"github.com/google/uuid"
)

const (
	EventName_EventCommitted  = "event_committed"
	EventName_EventRolledBack = "event_rolled_back"
	EventName_EventFailed     = "event_failed"
	EventName_ReorgHandled    = "reorg_handled"
)

type Event struct {
	Name string
	Data any
}

type ConsumerId string

type Consumer struct {
	Id      ConsumerId
	Context context.Context
	Channel chan *Event
	// Names limits delivery to these event names. Empty receives everything.
	Names []string
}

func NewConsumer(ctx context.Context, bufferSize int, names ...string) *Consumer {
	return &Consumer{
		Id:      ConsumerId(uuid.NewString()),
		Context: ctx,
		Channel: make(chan *Event, bufferSize),
		Names:   names,
	}
}

func (c *Consumer) Wants(name string) bool {
	return len(c.Names) == 0 || slices.Contains(c.Names, name)
}

type ConsumerList struct {
	mu        sync.Mutex
	consumers []*Consumer
}

func NewConsumerList() *ConsumerList {
	return &ConsumerList{
		consumers: make([]*Consumer, 0),
	}
}

func (cl *ConsumerList) Add(consumer *Consumer) {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	cl.consumers = append(cl.consumers, consumer)
}

func (cl *ConsumerList) Remove(consumer *Consumer) {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	cl.consumers = slices.DeleteFunc(cl.consumers, func(c *Consumer) bool {
		return c.Id == consumer.Id
	})
}

// GetAll returns a snapshot of the current consumers.
func (cl *ConsumerList) GetAll() []*Consumer {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	return slices.Clone(cl.consumers)
}

type IEventBus interface {
	Subscribe(consumer *Consumer)
	Unsubscribe(consumer *Consumer)
	Publish(event *Event)
}

type EventCommittedData struct {
	Coordinates events.Coordinates
	ChangeRoot  string
	Changes     int
}

type EventRolledBackData struct {
	Coordinates events.Coordinates
	Reason      string
}

type EventFailedData struct {
	Coordinates events.Coordinates
	Error       string
}

type ReorgHandledData struct {
	Reorg    events.Reorg
	Reverted []events.Coordinates
}
