package rabbitmq

import (
	"github.com/Layr-Labs/unichain-indexer/pkg/eventBus/eventBusTypes"
	"github.com/Layr-Labs/unichain-indexer/pkg/events"
)

const (
	Exchange_indexerEvents = "unichain-indexer.events"

	RoutingKey_eventCommitted  = "event.committed"
	RoutingKey_eventRolledBack = "event.rolled_back"
	RoutingKey_eventFailed     = "event.failed"
	RoutingKey_reorgHandled    = "reorg.handled"
)

var routingKeys = map[string]string{
	eventBusTypes.EventName_EventCommitted:  RoutingKey_eventCommitted,
	eventBusTypes.EventName_EventRolledBack: RoutingKey_eventRolledBack,
	eventBusTypes.EventName_EventFailed:     RoutingKey_eventFailed,
	eventBusTypes.EventName_ReorgHandled:    RoutingKey_reorgHandled,
}

// GetExchanges returns the exchanges the notifier publishes to. Consumers bind their own queues.
func GetExchanges(name string) []*RabbitMQExchange {
	if name == "" {
		name = Exchange_indexerEvents
	}
	return []*RabbitMQExchange{
		{
			Name:       name,
			Durable:    true,
			AutoDelete: false,
			Kind:       "topic",
		},
	}
}

type EventCommittedMessage struct {
	ChainId     uint64 `json:"chainId"`
	BlockNumber uint64 `json:"blockNumber"`
	LogIndex    uint64 `json:"logIndex"`
	ChangeRoot  string `json:"changeRoot"`
	Changes     int    `json:"changes"`
}

type EventRolledBackMessage struct {
	ChainId     uint64 `json:"chainId"`
	BlockNumber uint64 `json:"blockNumber"`
	LogIndex    uint64 `json:"logIndex"`
	Reason      string `json:"reason"`
}

type EventFailedMessage struct {
	ChainId     uint64 `json:"chainId"`
	BlockNumber uint64 `json:"blockNumber"`
	LogIndex    uint64 `json:"logIndex"`
	Error       string `json:"error"`
}

type ReorgHandledMessage struct {
	ChainId   uint64               `json:"chainId"`
	FromBlock uint64               `json:"fromBlock"`
	ToBlock   uint64               `json:"toBlock"`
	Reverted  []events.Coordinates `json:"reverted"`
}
