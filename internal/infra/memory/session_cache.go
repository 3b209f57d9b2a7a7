package memory

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"classroom-live/internal/domain"
	"golang.org/x/sync/singleflight"
)

// SessionLoader fetches a session from its backing store.
type SessionLoader interface {
	Get(ctx context.Context, code string) (domain.Session, error)
}

// SessionCache answers "is this room provisioned and active" with a TTL cache
// in front of the session store, collapsing concurrent misses per code.
type SessionCache struct {
	loader SessionLoader
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group
	rnd    *rand.Rand
	rndMu  sync.Mutex

	mu    sync.RWMutex
	cache map[string]cachedSession
}

type cachedSession struct {
	active    bool
	expiresAt time.Time
}

func NewSessionCache(loader SessionLoader, ttl time.Duration) *SessionCache {
	return &SessionCache{
		loader: loader,
		ttl:    ttl,
		clock:  time.Now,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
		cache:  make(map[string]cachedSession),
	}
}

func (c *SessionCache) SessionActive(ctx context.Context, code string) (bool, error) {
	now := c.clock()

	c.mu.RLock()
	if entry, ok := c.cache[code]; ok && entry.expiresAt.After(now) {
		c.mu.RUnlock()
		return entry.active, nil
	}
	c.mu.RUnlock()

	result, err, _ := c.sf.Do(code, func() (interface{}, error) {
		now := c.clock()
		c.mu.RLock()
		if entry, ok := c.cache[code]; ok && entry.expiresAt.After(now) {
			c.mu.RUnlock()
			return entry.active, nil
		}
		c.mu.RUnlock()

		session, err := c.loader.Get(ctx, code)
		if err != nil {
			return false, err
		}

		c.mu.Lock()
		c.cache[code] = cachedSession{
			active:    session.Active,
			expiresAt: now.Add(c.ttlWithJitter()),
		}
		c.mu.Unlock()
		return session.Active, nil
	})
	if err != nil {
		return false, err
	}
	return result.(bool), nil
}

// Invalidate forgets a cached code, e.g. after its session ended.
func (c *SessionCache) Invalidate(_ context.Context, code string) {
	c.mu.Lock()
	delete(c.cache, code)
	c.mu.Unlock()
}

func (c *SessionCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	// add up to 10% jitter to spread expirations
	jitterMax := int64(c.ttl) / 10
	c.rndMu.Lock()
	defer c.rndMu.Unlock()
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}
