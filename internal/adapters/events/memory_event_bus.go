package events

import (
	"context"
	"sync"

	"github.com/zatekoja/keywordclusters/internal/domain/entities"
	"github.com/zatekoja/keywordclusters/internal/domain/providers"
)

// MemoryEventBus is an in-process EventBus for single-node deployments.
type MemoryEventBus struct {
	local     *fanout
	done      chan struct{}
	closeOnce sync.Once
}

// NewMemoryEventBus creates an in-process event bus
func NewMemoryEventBus() providers.EventBus {
	return &MemoryEventBus{local: newFanout(), done: make(chan struct{})}
}

// Publish delivers the event to every current subscriber without blocking.
func (b *MemoryEventBus) Publish(_ context.Context, channel string, event *entities.ClusterEvent) error {
	if b.local.isClosed() {
		return ErrBusClosed
	}
	b.local.deliver(channel, event)
	return nil
}

// Subscribe returns a channel that is closed when ctx ends or the bus closes.
func (b *MemoryEventBus) Subscribe(ctx context.Context, channel string) (<-chan *entities.ClusterEvent, error) {
	sub, _, err := b.local.add(channel)
	if err != nil {
		return nil, err
	}
	go func() {
		select {
		case <-ctx.Done():
			b.local.remove(channel, sub)
		case <-b.done:
		}
	}()
	return sub, nil
}

// Unsubscribe closes every subscriber of a channel
func (b *MemoryEventBus) Unsubscribe(_ context.Context, channel string) error {
	b.local.drop(channel)
	return nil
}

// Close closes all subscriptions
func (b *MemoryEventBus) Close() error {
	b.closeOnce.Do(func() {
		b.local.close()
		close(b.done)
	})
	return nil
}
