package services

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// SiteViewLoader builds a site's cluster views through the read cache.
type SiteViewLoader interface {
	WarmClusterViews(ctx context.Context, userID, siteURL string) (int, error)
}

// CacheWarmingService repopulates cluster views right after they are
// invalidated so the first dashboard read after a run is served from cache.
type CacheWarmingService struct {
	loader  SiteViewLoader
	timeout time.Duration
}

// NewCacheWarmingService creates a new cache warming service
func NewCacheWarmingService(loader SiteViewLoader, timeout time.Duration) *CacheWarmingService {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &CacheWarmingService{loader: loader, timeout: timeout}
}

// WarmSite loads and caches the cluster views of one site.
func (s *CacheWarmingService) WarmSite(ctx context.Context, userID, siteURL string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	count, err := s.loader.WarmClusterViews(ctx, userID, siteURL)
	if err != nil {
		return fmt.Errorf("failed to warm cluster views for %s: %w", siteURL, err)
	}

	log.Debug().
		Str("user_id", userID).
		Str("site_url", siteURL).
		Int("clusters", count).
		Dur("duration", time.Since(start)).
		Msg("Warmed cluster view cache")
	return nil
}
