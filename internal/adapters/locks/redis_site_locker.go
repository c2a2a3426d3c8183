package locks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/zatekoja/keywordclusters/internal/domain/providers"
	redisclient "github.com/zatekoja/keywordclusters/internal/infrastructure/clients/redis"
)

// releaseScript deletes the lock only if this holder still owns it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisSiteLocker implements SiteLocker with SET NX PX so the single-writer
// guarantee holds across API replicas.
type RedisSiteLocker struct {
	client *redisclient.Client
}

// NewRedisSiteLocker creates a Redis-backed site locker
func NewRedisSiteLocker(client *redisclient.Client) providers.SiteLocker {
	return &RedisSiteLocker{client: client}
}

// Acquire takes the lock or returns providers.ErrLockHeld.
func (l *RedisSiteLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.New().String()
	ok, err := l.client.Client().SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, providers.ErrLockHeld
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			if err := releaseScript.Run(ctx, l.client.Client(), []string{key}, token).Err(); err != nil {
				log.Warn().Err(err).Str("lock", key).Msg("Failed to release site lock; it will expire after its TTL")
			}
		})
	}
	return release, nil
}
