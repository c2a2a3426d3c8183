package providers

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"github.com/zatekoja/keywordclusters/internal/domain/entities"
)

// EventBus defines the interface for publishing and subscribing to events
type EventBus interface {
	// Publish publishes an event to all subscribers
	Publish(ctx context.Context, channel string, event *entities.ClusterEvent) error

	// Subscribe subscribes to events on a channel
	Subscribe(ctx context.Context, channel string) (<-chan *entities.ClusterEvent, error)

	// Unsubscribe unsubscribes from a channel
	Unsubscribe(ctx context.Context, channel string) error

	// Close closes the event bus and all subscriptions
	Close() error
}

// EventChannelClusterUpdates carries every cluster and coverage change.
const EventChannelClusterUpdates = "clusters:updates"

// SiteEventChannel is the channel carrying only one site's changes. Events
// are published to it in addition to EventChannelClusterUpdates.
func SiteEventChannel(userID, siteURL string) string {
	sum := sha256.Sum256([]byte(userID + "\n" + siteURL))
	return EventChannelClusterUpdates + ":" + hex.EncodeToString(sum[:12])
}
