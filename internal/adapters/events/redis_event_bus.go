package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/zatekoja/keywordclusters/internal/domain/entities"
	"github.com/zatekoja/keywordclusters/internal/domain/providers"
	redisclient "github.com/zatekoja/keywordclusters/internal/infrastructure/clients/redis"
)

// RedisEventBus implements EventBus over Redis Pub/Sub. All channels share
// one Pub/Sub connection; a Redis channel is subscribed while at least one
// local subscriber wants it, so per-site streams only receive their site's
// traffic.
type RedisEventBus struct {
	client *redisclient.Client
	local  *fanout

	// subMu orders local registration with the matching SUBSCRIBE and
	// UNSUBSCRIBE commands.
	subMu  sync.Mutex
	pubsub *redis.PubSub

	ctx    context.Context
	cancel context.CancelFunc
}

// NewRedisEventBus creates a new Redis-based event bus
func NewRedisEventBus(client *redisclient.Client) providers.EventBus {
	ctx, cancel := context.WithCancel(context.Background())
	return &RedisEventBus{
		client: client,
		local:  newFanout(),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Publish sends the event to every process subscribed to the channel.
func (b *RedisEventBus) Publish(ctx context.Context, channel string, event *entities.ClusterEvent) error {
	if b.local.isClosed() {
		return ErrBusClosed
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	receivers, err := b.client.Client().Publish(ctx, channel, data).Result()
	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	log.Debug().
		Str("channel", channel).
		Str("event_id", event.ID).
		Str("event_type", string(event.EventType)).
		Int64("receivers", receivers).
		Msg("Published cluster event")
	return nil
}

// Subscribe returns a channel that is closed when ctx ends, the channel is
// unsubscribed, or the bus closes.
func (b *RedisEventBus) Subscribe(ctx context.Context, channel string) (<-chan *entities.ClusterEvent, error) {
	b.subMu.Lock()
	sub, first, err := b.local.add(channel)
	if err != nil {
		b.subMu.Unlock()
		return nil, err
	}
	if first {
		if err := b.listen(ctx, channel); err != nil {
			b.local.remove(channel, sub)
			b.subMu.Unlock()
			return nil, err
		}
	}
	b.subMu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			b.leave(channel, sub)
		case <-b.ctx.Done():
		}
	}()
	return sub, nil
}

// listen adds channel to the shared connection, opening it on first use.
// Callers hold subMu.
func (b *RedisEventBus) listen(ctx context.Context, channel string) error {
	if b.pubsub != nil {
		if err := b.pubsub.Subscribe(ctx, channel); err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", channel, err)
		}
		return nil
	}

	pubsub := b.client.Client().Subscribe(b.ctx, channel)
	// the first reply confirms the connection works
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("failed to subscribe to %s: %w", channel, err)
	}
	b.pubsub = pubsub
	go b.receive(pubsub.Channel())
	log.Info().Str("channel", channel).Msg("Opened event subscription connection")
	return nil
}

// unlisten drops channel from the shared connection. Callers hold subMu.
func (b *RedisEventBus) unlisten(channel string) error {
	if b.pubsub == nil {
		return nil
	}
	if err := b.pubsub.Unsubscribe(context.Background(), channel); err != nil {
		return fmt.Errorf("failed to unsubscribe from %s: %w", channel, err)
	}
	return nil
}

func (b *RedisEventBus) leave(channel string, sub chan *entities.ClusterEvent) {
	b.subMu.Lock()
	defer b.subMu.Unlock()
	if b.local.remove(channel, sub) {
		if err := b.unlisten(channel); err != nil {
			log.Warn().Err(err).Str("channel", channel).Msg("Failed to release channel")
		}
	}
}

// receive routes messages from the shared connection until it closes.
func (b *RedisEventBus) receive(messages <-chan *redis.Message) {
	for {
		select {
		case <-b.ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			event := &entities.ClusterEvent{}
			if err := json.Unmarshal([]byte(msg.Payload), event); err != nil {
				log.Warn().Err(err).Str("channel", msg.Channel).Msg("Dropping malformed event")
				continue
			}
			b.local.deliver(msg.Channel, event)
		}
	}
}

// Unsubscribe closes every local subscriber of a channel
func (b *RedisEventBus) Unsubscribe(ctx context.Context, channel string) error {
	b.subMu.Lock()
	defer b.subMu.Unlock()
	if !b.local.drop(channel) {
		return nil
	}
	if err := b.unlisten(channel); err != nil {
		return err
	}
	log.Info().Str("channel", channel).Msg("Unsubscribed from channel")
	return nil
}

// Close closes every subscriber and the shared connection
func (b *RedisEventBus) Close() error {
	b.cancel()

	b.subMu.Lock()
	defer b.subMu.Unlock()
	channels := b.local.close()
	if b.pubsub == nil {
		return nil
	}
	err := b.pubsub.Close()
	b.pubsub = nil
	if err != nil {
		return fmt.Errorf("errors closing event bus: %w", err)
	}

	log.Info().Int("channels", len(channels)).Msg("Event bus closed")
	return nil
}
