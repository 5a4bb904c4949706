package eventBus

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/Layr-Labs/unichain-indexer/internal/tests"
	"github.com/Layr-Labs/unichain-indexer/pkg/eventBus/eventBusTypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_EventBus(t *testing.T) {
	l := tests.GetLogger()

	t.Run("Should deliver events until the consumer unsubscribes", func(t *testing.T) {
		eb := NewEventBus(l)
		consumer := eventBusTypes.NewConsumer(context.Background(), 1000)

		receivedCount := atomic.Uint64{}
		wg := sync.WaitGroup{}
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-consumer.Channel:
					if receivedCount.Add(1) == 3 {
						eb.Unsubscribe(consumer)
						return
					}
				case <-consumer.Context.Done():
					return
				}
			}
		}()
		eb.Subscribe(consumer)

		for i := 0; i < 3; i++ {
			eb.Publish(&eventBusTypes.Event{Name: eventBusTypes.EventName_EventCommitted})
		}
		wg.Wait()
		eb.Publish(&eventBusTypes.Event{Name: eventBusTypes.EventName_EventCommitted})

		assert.Equal(t, uint64(3), receivedCount.Load())
		assert.Empty(t, consumer.Channel)
	})
	t.Run("Should only deliver the names a consumer asked for", func(t *testing.T) {
		eb := NewEventBus(l)
		consumer := eventBusTypes.NewConsumer(context.Background(), 10, eventBusTypes.EventName_ReorgHandled)
		eb.Subscribe(consumer)

		eb.Publish(&eventBusTypes.Event{Name: eventBusTypes.EventName_EventCommitted})
		eb.Publish(&eventBusTypes.Event{Name: eventBusTypes.EventName_ReorgHandled})

		require.Len(t, consumer.Channel, 1)
		assert.Equal(t, eventBusTypes.EventName_ReorgHandled, (<-consumer.Channel).Name)
	})
	t.Run("Should drop instead of blocking on a full channel", func(t *testing.T) {
		eb := NewEventBus(l)
		consumer := eventBusTypes.NewConsumer(context.Background(), 1)
		eb.Subscribe(consumer)

		eb.Publish(&eventBusTypes.Event{Name: "a"})
		eb.Publish(&eventBusTypes.Event{Name: "b"})
		assert.Equal(t, uint64(1), eb.Dropped())
	})
	t.Run("Should skip consumers whose context is done", func(t *testing.T) {
		eb := NewEventBus(l)
		ctx, cancel := context.WithCancel(context.Background())
		consumer := eventBusTypes.NewConsumer(ctx, 1)
		eb.Subscribe(consumer)
		cancel()

		eb.Publish(&eventBusTypes.Event{Name: "a"})
		assert.Empty(t, consumer.Channel)
		assert.NotEqual(t, eventBusTypes.NewConsumer(ctx, 1).Id, consumer.Id)
	})
}
