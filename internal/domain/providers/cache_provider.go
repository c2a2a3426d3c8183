package providers

import (
	"context"
	"errors"
	"strings"
)

// ErrCacheMiss is returned by Get when the key does not exist.
var ErrCacheMiss = errors.New("cache miss")

// CacheProvider defines the interface for caching operations
type CacheProvider interface {
	// Get retrieves a value from cache
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value in cache with expiration
	Set(ctx context.Context, key string, value []byte, expirationSeconds int) error

	// Delete removes a value from cache
	Delete(ctx context.Context, key string) error

	// DeletePattern removes every key matching a glob pattern
	DeletePattern(ctx context.Context, pattern string) error

	// Exists checks if a key exists in cache
	Exists(ctx context.Context, key string) (bool, error)
}

const clusterCachePrefix = "clusters:v1:"

// ClusterCacheKey builds a cache key for a site's cluster read model.
func ClusterCacheKey(userID, siteURL string, parts ...string) string {
	key := clusterCachePrefix + userID + ":" + siteURL
	for _, p := range parts {
		key += ":" + p
	}
	return key
}

// ClusterCachePattern matches every cluster cache key of a site.
func ClusterCachePattern(userID, siteURL string) string {
	return escapeGlob(clusterCachePrefix+userID+":"+siteURL) + ":*"
}

func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteRune('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
