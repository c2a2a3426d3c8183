package adapters

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/zatekoja/keywordclusters/internal/domain/providers"
)

// QueryCacheAdapter stores query results as JSON in the domain CacheProvider.
type QueryCacheAdapter struct {
	provider providers.CacheProvider
}

// NewQueryCacheAdapter creates a new query cache adapter
func NewQueryCacheAdapter(provider providers.CacheProvider) *QueryCacheAdapter {
	return &QueryCacheAdapter{provider: provider}
}

// Get decodes the cached value into dest. It reports false on a miss.
func (a *QueryCacheAdapter) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	data, err := a.provider.Get(ctx, key)
	if err != nil {
		if errors.Is(err, providers.ErrCacheMiss) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return false, err
	}
	return true, nil
}

// Set marshals the value to JSON and stores it in cache
func (a *QueryCacheAdapter) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return a.provider.Set(ctx, key, data, int(ttl.Seconds()))
}

// Delete removes a value from cache
func (a *QueryCacheAdapter) Delete(ctx context.Context, key string) error {
	return a.provider.Delete(ctx, key)
}
