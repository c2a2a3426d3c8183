package services

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/zatekoja/keywordclusters/internal/domain/entities"
	"github.com/zatekoja/keywordclusters/internal/domain/providers"
)

// CacheInvalidationService drops cached cluster read models when a site's
// clusters or coverage change. Every API replica runs one.
type CacheInvalidationService struct {
	cache    providers.CacheProvider
	eventBus providers.EventBus
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	started  atomic.Bool
	warmer   atomic.Pointer[CacheWarmingService]
}

// NewCacheInvalidationService creates a new cache invalidation service
func NewCacheInvalidationService(cache providers.CacheProvider, eventBus providers.EventBus) *CacheInvalidationService {
	ctx, cancel := context.WithCancel(context.Background())
	return &CacheInvalidationService{
		cache:    cache,
		eventBus: eventBus,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
}

// SetWarmer makes the service rebuild a site's views after dropping them.
func (s *CacheInvalidationService) SetWarmer(w *CacheWarmingService) {
	s.warmer.Store(w)
}

// Start begins listening for events and invalidating cache
func (s *CacheInvalidationService) Start() error {
	eventChan, err := s.eventBus.Subscribe(s.ctx, providers.EventChannelClusterUpdates)
	if err != nil {
		return fmt.Errorf("failed to subscribe to cluster updates: %w", err)
	}

	s.started.Store(true)
	go s.processEvents(eventChan)
	log.Info().Msg("Cache invalidation service started")
	return nil
}

// Stop stops the cache invalidation service
func (s *CacheInvalidationService) Stop() {
	s.cancel()
	if s.started.Load() {
		<-s.done
	}
	log.Info().Msg("Cache invalidation service stopped")
}

func (s *CacheInvalidationService) processEvents(eventChan <-chan *entities.ClusterEvent) {
	defer close(s.done)
	for {
		select {
		case <-s.ctx.Done():
			return
		case event, ok := <-eventChan:
			if !ok {
				return
			}
			if event == nil {
				continue
			}
			s.handleEvent(event)
		}
	}
}

func (s *CacheInvalidationService) handleEvent(event *entities.ClusterEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	switch event.EventType {
	case entities.ClusterEventGenerationReplaced, entities.ClusterEventCoverageRecomputed:
	default:
		log.Debug().Str("event_type", string(event.EventType)).Msg("Ignoring cluster event")
		return
	}

	if err := s.InvalidateSite(ctx, event.UserID, event.SiteURL); err != nil {
		log.Warn().Err(err).
			Str("event_id", event.ID).
			Str("user_id", event.UserID).
			Str("site_url", event.SiteURL).
			Msg("Failed to invalidate cluster cache")
		return
	}

	if w := s.warmer.Load(); w != nil {
		if err := w.WarmSite(context.Background(), event.UserID, event.SiteURL); err != nil {
			log.Warn().Err(err).Str("event_id", event.ID).Msg("Failed to warm cluster cache")
		}
	}
}

// InvalidateSite removes every cached cluster view and search result of a site.
func (s *CacheInvalidationService) InvalidateSite(ctx context.Context, userID, siteURL string) error {
	pattern := providers.ClusterCachePattern(userID, siteURL)
	if err := s.cache.DeletePattern(ctx, pattern); err != nil {
		return fmt.Errorf("failed to invalidate %s: %w", pattern, err)
	}
	log.Debug().Str("user_id", userID).Str("site_url", siteURL).Msg("Invalidated cluster cache")
	return nil
}
