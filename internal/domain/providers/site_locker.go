package providers

import (
	"context"
	"errors"
	"time"
)

// ErrLockHeld is returned when another run already holds the site lock.
var ErrLockHeld = errors.New("site lock is held by another run")

// SiteLocker enforces a single writer per (user, site).
type SiteLocker interface {
	// Acquire takes the lock for key or returns ErrLockHeld. The returned
	// release func is safe to call more than once.
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), err error)
}

// SiteLockKey builds the lock key for a site.
func SiteLockKey(userID, siteURL string) string {
	return "lock:clustering:" + userID + ":" + siteURL
}
