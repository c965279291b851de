package redis

import (
	"context"
	"errors"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"wedding-bet-service/internal/app"
	"wedding-bet-service/internal/domain"
)

const (
	answersKey = "keys:active:answers"
	metaKey    = "keys:active:meta"
	genKey     = "keys:active:gen"
)

// KeyCache caches the active answer key in Redis and falls back to a loader on miss.
// Answers are stored as: HSET keys:active:answers {betID} {answer}
// Metadata is stored as: HSET keys:active:meta id {keyID} submittedBy {userID} submittedAt {unix nanos}
// keys:active:gen is bumped on every invalidation; a load only writes back if
// the generation it started with is still current.
type KeyCache struct {
	client *redis.Client
	loader app.KeyReader
	ttl    time.Duration
	sf     singleflight.Group

	mu  sync.Mutex
	rnd *rand.Rand
}

func NewKeyCache(client *redis.Client, loader app.KeyReader, ttl time.Duration) *KeyCache {
	return &KeyCache{
		client: client,
		loader: loader,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (c *KeyCache) ActiveKey(ctx context.Context) (domain.AnswerKey, error) {
	if key, ok := c.cached(ctx); ok {
		return key, nil
	}

	result, err, _ := c.sf.Do("active", func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		if key, ok := c.cached(ctx); ok {
			return key, nil
		}

		gen, genErr := c.generation(ctx, c.client)
		key, err := c.loader.ActiveKey(ctx)
		if err != nil {
			return domain.AnswerKey{}, err
		}

		// best-effort: a failed or skipped write only costs a reload next time
		if genErr == nil {
			_ = c.store(ctx, key, gen)
		}

		return key, nil
	})
	if err != nil {
		return domain.AnswerKey{}, err
	}
	return result.(domain.AnswerKey), nil
}

// Invalidate removes the cached key from Redis and fences off in-flight loads.
func (c *KeyCache) Invalidate(ctx context.Context) error {
	c.sf.Forget("active")
	if err := c.client.Incr(ctx, genKey).Err(); err != nil {
		return err
	}
	return c.client.Del(ctx, answersKey, metaKey).Err()
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (c *KeyCache) generation(ctx context.Context, cmd getter) (int64, error) {
	gen, err := cmd.Get(ctx, genKey).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

// store writes key under WATCH so a concurrent Invalidate wins.
func (c *KeyCache) store(ctx context.Context, key domain.AnswerKey, gen int64) error {
	ttl := c.ttlWithJitter()
	return c.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := c.generation(ctx, tx)
		if err != nil {
			return err
		}
		if current != gen {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, answersKey, metaKey)
			for betID, answer := range key.Answers {
				pipe.HSet(ctx, answersKey, betID, answer)
			}
			pipe.HSet(ctx, metaKey,
				"id", key.ID,
				"submittedBy", key.SubmittedBy,
				"submittedAt", key.SubmittedAt.UnixNano(),
			)
			if ttl > 0 {
				pipe.Expire(ctx, answersKey, ttl)
				pipe.Expire(ctx, metaKey, ttl)
			}
			return nil
		})
		return err
	}, genKey)
}

func (c *KeyCache) cached(ctx context.Context) (domain.AnswerKey, bool) {
	answers, err := c.client.HGetAll(ctx, answersKey).Result()
	if err != nil || len(answers) == 0 {
		return domain.AnswerKey{}, false
	}
	meta, _ := c.client.HGetAll(ctx, metaKey).Result()
	return buildKeyFromCache(answers, meta), true
}

func buildKeyFromCache(answers map[string]string, meta map[string]string) domain.AnswerKey {
	key := domain.AnswerKey{
		ID:          meta["id"],
		SubmittedBy: meta["submittedBy"],
		Answers:     answers,
		Active:      true,
	}
	if raw, ok := meta["submittedAt"]; ok {
		if nanos, err := strconv.ParseInt(raw, 10, 64); err == nil && nanos > 0 {
			key.SubmittedAt = time.Unix(0, nanos).UTC()
		}
	}
	return key
}

func (c *KeyCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	jitterMax := int64(c.ttl) / 10
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}
