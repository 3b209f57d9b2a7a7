package redis

import (
	"context"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"classroom-live/internal/domain"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// SessionLoader fetches a session from the system of record.
type SessionLoader interface {
	Get(ctx context.Context, code string) (domain.Session, error)
}

// SessionCache caches session liveness in Redis and falls back to a loader on miss.
// Active flags are stored as: SET room:{code}:session 1|0 EX ttl
// Rooms with live connections are marked as: SET room:{code}:live {members} EX ttl
type SessionCache struct {
	client *redis.Client
	loader SessionLoader
	ttl    time.Duration
	sf     singleflight.Group
	rnd    *rand.Rand
	rndMu  sync.Mutex
}

func NewSessionCache(client *redis.Client, loader SessionLoader, ttl time.Duration) *SessionCache {
	return &SessionCache{
		client: client,
		loader: loader,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (c *SessionCache) SessionActive(ctx context.Context, code string) (bool, error) {
	if v, err := c.client.Get(ctx, sessionKey(code)).Result(); err == nil {
		return v == "1", nil
	}

	result, err, _ := c.sf.Do(code, func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		if v, err := c.client.Get(ctx, sessionKey(code)).Result(); err == nil {
			return v == "1", nil
		}

		session, err := c.loader.Get(ctx, code)
		if err != nil {
			return false, err
		}
		flag := "0"
		if session.Active {
			flag = "1"
		}
		// best-effort: a failed write only costs another load
		_ = c.client.Set(ctx, sessionKey(code), flag, c.ttlWithJitter()).Err()
		return session.Active, nil
	})
	if err != nil {
		return false, err
	}
	return result.(bool), nil
}

// Invalidate drops the cached flag so the next lookup reloads it.
func (c *SessionCache) Invalidate(ctx context.Context, code string) {
	_ = c.client.Del(ctx, sessionKey(code)).Err()
}

// Touch marks a room as having live connections on this deployment.
func (c *SessionCache) Touch(ctx context.Context, code string, members int) {
	_ = c.client.Set(ctx, liveKey(code), strconv.Itoa(members), c.ttl).Err()
}

// Release clears the liveness marker once the last connection left.
func (c *SessionCache) Release(ctx context.Context, code string) {
	_ = c.client.Del(ctx, liveKey(code)).Err()
}

// Live reports how many members the room had when it was last touched.
func (c *SessionCache) Live(ctx context.Context, code string) (int, bool) {
	v, err := c.client.Get(ctx, liveKey(code)).Int()
	if err != nil {
		return 0, false
	}
	return v, true
}

func sessionKey(code string) string {
	return "room:" + code + ":session"
}

func liveKey(code string) string {
	return "room:" + code + ":live"
}

func (c *SessionCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	jitterMax := int64(c.ttl) / 10
	c.rndMu.Lock()
	defer c.rndMu.Unlock()
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}
