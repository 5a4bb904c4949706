// Package feed defines the ordered inbound sequence of decoded events and reorg notifications.
package feed

import (
	"context"
	"io"
	"sync"

	"github.com/Layr-Labs/unichain-indexer/pkg/events"
)

// Feed yields items in order. A finite feed returns io.EOF once exhausted.
type Feed interface {
	Next(ctx context.Context) (*events.FeedItem, error)
}

type SliceFeed struct {
	mu    sync.Mutex
	items []*events.FeedItem
	pos   int
}

func NewSliceFeed(items ...*events.FeedItem) *SliceFeed {
	return &SliceFeed{items: items}
}

func (f *SliceFeed) Next(ctx context.Context) (*events.FeedItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pos >= len(f.items) {
		return nil, io.EOF
	}
	item := f.items[f.pos]
	f.pos++
	return item, nil
}

// Consumed returns how many items have been handed out.
func (f *SliceFeed) Consumed() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pos
}

// ChannelFeed adapts a channel. Closing the channel ends the feed.
type ChannelFeed struct {
	items <-chan *events.FeedItem
}

func NewChannelFeed(items <-chan *events.FeedItem) *ChannelFeed {
	return &ChannelFeed{items: items}
}

func (f *ChannelFeed) Next(ctx context.Context) (*events.FeedItem, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case item, ok := <-f.items:
		if !ok {
			return nil, io.EOF
		}
		return item, nil
	}
}

func EventItem(e *events.Event) *events.FeedItem {
	return &events.FeedItem{Event: e}
}

func ReorgItem(chainId uint64, fromBlock uint64, toBlock uint64) *events.FeedItem {
	return &events.FeedItem{Reorg: &events.Reorg{ChainId: chainId, FromBlock: fromBlock, ToBlock: toBlock}}
}
