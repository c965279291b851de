package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"wedding-bet-service/internal/domain"
)

// SessionStore keeps signed-in principals in Redis so every instance sees
// the same sessions. Entries expire after ttl.
type SessionStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewSessionStore(client *redis.Client, ttl time.Duration) *SessionStore {
	return &SessionStore{client: client, ttl: ttl}
}

func (s *SessionStore) Save(ctx context.Context, principal domain.Principal) error {
	data, err := json.Marshal(principal)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	return s.client.Set(ctx, s.key(principal.Token), data, s.ttl).Err()
}

func (s *SessionStore) Load(ctx context.Context, token string) (domain.Principal, error) {
	raw, err := s.client.Get(ctx, s.key(token)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Principal{}, domain.ErrUnauthenticated
	}
	if err != nil {
		return domain.Principal{}, fmt.Errorf("load session: %w", err)
	}
	var principal domain.Principal
	if err := json.Unmarshal(raw, &principal); err != nil {
		return domain.Principal{}, fmt.Errorf("unmarshal session: %w", err)
	}
	principal.Token = token
	return principal, nil
}

func (s *SessionStore) Delete(ctx context.Context, token string) error {
	return s.client.Del(ctx, s.key(token)).Err()
}

func (s *SessionStore) key(token string) string {
	return "session:" + token
}
