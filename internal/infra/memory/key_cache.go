package memory

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"wedding-bet-service/internal/app"
	"wedding-bet-service/internal/domain"
)

// KeyCache caches the active answer key with TTL to avoid repeated store hits.
type KeyCache struct {
	loader app.KeyReader
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group
	rnd    *rand.Rand

	mu     sync.RWMutex
	cached *cachedKey
	gen    uint64 // bumped by Invalidate
}

type cachedKey struct {
	key       domain.AnswerKey
	expiresAt time.Time
}

func NewKeyCache(loader app.KeyReader, ttl time.Duration) *KeyCache {
	return &KeyCache{
		loader: loader,
		ttl:    ttl,
		clock:  time.Now,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (c *KeyCache) ActiveKey(ctx context.Context) (domain.AnswerKey, error) {
	if key, ok := c.fresh(); ok {
		return key, nil
	}

	result, err, _ := c.sf.Do("active", func() (interface{}, error) {
		if key, ok := c.fresh(); ok {
			return key, nil
		}

		now := c.clock()
		c.mu.RLock()
		gen := c.gen
		c.mu.RUnlock()

		key, err := c.loader.ActiveKey(ctx)
		if err != nil {
			return domain.AnswerKey{}, err
		}

		c.mu.Lock()
		if gen == c.gen {
			c.cached = &cachedKey{key: cloneKey(key), expiresAt: now.Add(c.ttlWithJitter())}
		}
		c.mu.Unlock()
		return key, nil
	})
	if err != nil {
		return domain.AnswerKey{}, err
	}
	return result.(domain.AnswerKey), nil
}

// Invalidate drops the cached key so the next read goes to the loader.
func (c *KeyCache) Invalidate(_ context.Context) error {
	c.mu.Lock()
	c.cached = nil
	c.gen++
	c.mu.Unlock()
	c.sf.Forget("active")
	return nil
}

func (c *KeyCache) fresh() (domain.AnswerKey, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.cached != nil && c.cached.expiresAt.After(c.clock()) {
		return cloneKey(c.cached.key), true
	}
	return domain.AnswerKey{}, false
}

func (c *KeyCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	// add up to 10% jitter to spread expirations
	jitterMax := int64(c.ttl) / 10
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}
