package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sumire/career/internal/identity"
)

// DefaultSessionTTL bounds how long an untouched session is kept.
const DefaultSessionTTL = 30 * 24 * time.Hour

// RedisStore keeps sessions in Redis as JSON values.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

var _ identity.SessionStore = (*RedisStore)(nil)

// NewRedisStore creates a Redis-backed session store. A zero ttl uses
// DefaultSessionTTL.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &RedisStore{
		client: client,
		prefix: "career:session:",
		ttl:    ttl,
	}
}

// Connect parses a redis:// URL and verifies the server is reachable.
func Connect(ctx context.Context, rawURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func (s *RedisStore) key(k string) string {
	return s.prefix + k
}

func (s *RedisStore) Load(ctx context.Context, key string) (identity.SessionRecord, bool, error) {
	val, err := s.client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return identity.SessionRecord{}, false, nil
	}
	if err != nil {
		return identity.SessionRecord{}, false, fmt.Errorf("store: get session: %w", err)
	}

	var rec identity.SessionRecord
	if err := json.Unmarshal(val, &rec); err != nil {
		return identity.SessionRecord{}, false, fmt.Errorf("store: failed to unmarshal: %w", err)
	}
	return rec, true, nil
}

func (s *RedisStore) Save(ctx context.Context, key string, rec identity.SessionRecord) error {
	if key == "" || rec.UID == "" {
		return fmt.Errorf("store: missing key or uid")
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("store: failed to marshal: %w", err)
	}
	if err := s.client.Set(ctx, s.key(key), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("store: set session: %w", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("store: delete session: %w", err)
	}
	return nil
}
