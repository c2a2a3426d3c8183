package events

import (
	"errors"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/zatekoja/keywordclusters/internal/domain/entities"
)

// ErrBusClosed is returned by Publish and Subscribe after Close.
var ErrBusClosed = errors.New("event bus closed")

const subscriberBuffer = 100

// fanout is the process-local side of a bus: the subscriber channels of each
// bus channel. Delivery never blocks; a full subscriber misses the event.
type fanout struct {
	mu     sync.RWMutex
	subs   map[string]map[chan *entities.ClusterEvent]struct{}
	closed bool
}

func newFanout() *fanout {
	return &fanout{subs: make(map[string]map[chan *entities.ClusterEvent]struct{})}
}

// add registers a subscriber and reports whether it is the channel's first.
func (f *fanout) add(channel string) (chan *entities.ClusterEvent, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, false, ErrBusClosed
	}
	first := len(f.subs[channel]) == 0
	if first {
		f.subs[channel] = make(map[chan *entities.ClusterEvent]struct{})
	}
	sub := make(chan *entities.ClusterEvent, subscriberBuffer)
	f.subs[channel][sub] = struct{}{}
	return sub, first, nil
}

// remove closes one subscriber and reports whether the channel has none left.
func (f *fanout) remove(channel string, sub chan *entities.ClusterEvent) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.subs[channel][sub]; !ok {
		return false
	}
	delete(f.subs[channel], sub)
	close(sub)
	if len(f.subs[channel]) == 0 {
		delete(f.subs, channel)
		return true
	}
	return false
}

// drop closes every subscriber of a channel and reports whether it had any.
func (f *fanout) drop(channel string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	subs, ok := f.subs[channel]
	for sub := range subs {
		close(sub)
	}
	delete(f.subs, channel)
	return ok
}

// deliver hands the event to the channel's subscribers and returns how many
// took it.
func (f *fanout) deliver(channel string, event *entities.ClusterEvent) int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	n := 0
	for sub := range f.subs[channel] {
		select {
		case sub <- event:
			n++
		default:
			log.Warn().Str("channel", channel).Str("event_id", event.ID).Msg("Subscriber channel full, skipping event")
		}
	}
	return n
}

func (f *fanout) isClosed() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.closed
}

// close closes every subscriber and returns the channels that had any.
// Later calls return nil.
func (f *fanout) close() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	channels := make([]string, 0, len(f.subs))
	for channel, subs := range f.subs {
		for sub := range subs {
			close(sub)
		}
		channels = append(channels, channel)
	}
	f.subs = make(map[string]map[chan *entities.ClusterEvent]struct{})
	return channels
}
