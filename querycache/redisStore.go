package querycache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/mmdatafocus/tradedocs/config"
	"github.com/redis/go-redis/v9"
)

// Store is an optional second-level cache behind the in-memory entries.
type Store interface {
	Get(ctx context.Context, key Key, dest any) (savedAt time.Time, found bool, err error)
	Set(ctx context.Context, key Key, value any) error
	Invalidate(ctx context.Context, prefix Key) error
	Clear(ctx context.Context) error
}

type storedValue struct {
	SavedAt time.Time       `json:"saved_at"`
	Value   json.RawMessage `json:"value"`
}

// RedisStore keeps query results in redis under a namespace, tracking its keys in a set
// so prefix invalidation does not need SCAN.
type RedisStore struct {
	client    redis.Cmdable
	namespace string
	ttl       time.Duration
	now       func() time.Time
}

func NewRedisStore(client redis.Cmdable, namespace string, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, namespace: namespace, ttl: ttl, now: time.Now}
}

func (s *RedisStore) redisKey(key Key) string {
	return s.namespace + ":query:" + key.String()
}

func (s *RedisStore) indexKey() string {
	return s.namespace + ":query-keys"
}

func (s *RedisStore) Get(ctx context.Context, key Key, dest any) (time.Time, bool, error) {
	var sv storedValue
	found, err := config.GetRedisObject(ctx, s.client, s.redisKey(key), &sv)
	if err != nil || !found {
		return time.Time{}, false, err
	}
	if err := json.Unmarshal(sv.Value, dest); err != nil {
		return time.Time{}, false, err
	}
	return sv.SavedAt, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key Key, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if err := config.SetRedisObject(ctx, s.client, s.redisKey(key), storedValue{SavedAt: s.now(), Value: raw}, s.ttl); err != nil {
		return err
	}
	return config.AddRedisSet(ctx, s.client, s.indexKey(), key.String())
}

func (s *RedisStore) Invalidate(ctx context.Context, prefix Key) error {
	members, err := config.GetRedisSetMembers(ctx, s.client, s.indexKey())
	if err != nil {
		return err
	}
	for _, m := range members {
		if !ParseKey(m).HasPrefix(prefix) {
			continue
		}
		if err := config.RemoveRedisKey(ctx, s.client, s.redisKey(ParseKey(m))); err != nil {
			return err
		}
		if err := config.RemoveRedisSetMember(ctx, s.client, s.indexKey(), m); err != nil {
			return err
		}
	}
	return nil
}

func (s *RedisStore) Clear(ctx context.Context) error {
	members, err := config.GetRedisSetMembers(ctx, s.client, s.indexKey())
	if err != nil {
		return err
	}
	keys := make([]string, 0, len(members)+1)
	for _, m := range members {
		keys = append(keys, s.redisKey(ParseKey(m)))
	}
	keys = append(keys, s.indexKey())
	return config.RemoveRedisKey(ctx, s.client, keys...)
}
