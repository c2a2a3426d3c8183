package locks

import (
	"context"
	"sync"
	"time"

	"github.com/zatekoja/keywordclusters/internal/domain/providers"
)

// LocalSiteLocker is an in-process SiteLocker used when Redis is unavailable.
// It only serializes runs inside one process.
type LocalSiteLocker struct {
	mu    sync.Mutex
	held  map[string]time.Time
	clock func() time.Time
}

// NewLocalSiteLocker creates an in-process site locker
func NewLocalSiteLocker() *LocalSiteLocker {
	return &LocalSiteLocker{
		held:  make(map[string]time.Time),
		clock: time.Now,
	}
}

// Acquire takes the lock or returns providers.ErrLockHeld. Expired holds are
// reclaimed.
func (l *LocalSiteLocker) Acquire(_ context.Context, key string, ttl time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock()
	if expiry, ok := l.held[key]; ok && now.Before(expiry) {
		return nil, providers.ErrLockHeld
	}
	expiry := now.Add(ttl)
	l.held[key] = expiry

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			// a reclaimed lock belongs to someone else now
			if l.held[key].Equal(expiry) {
				delete(l.held, key)
			}
		})
	}, nil
}
