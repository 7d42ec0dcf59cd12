package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// GetJSON attempts to get the key from Redis and unmarshal into dest.
// Returns (true, nil) if found and unmarshaled, (false, nil) if not found.
func GetJSON(ctx context.Context, rdb *redis.Client, key string, dest any) (bool, error) {
	if rdb == nil {
		return false, nil
	}
	s, err := rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal([]byte(s), dest); err != nil {
		return false, err
	}
	return true, nil
}

// SetJSON marshals v and sets the key with TTL.
func SetJSON(ctx context.Context, rdb *redis.Client, key string, v any, ttl time.Duration) error {
	if rdb == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return rdb.Set(ctx, key, b, ttl).Err()
}

// Invalidate removes keys from the cache.
func Invalidate(ctx context.Context, rdb *redis.Client, keys ...string) error {
	if rdb == nil || len(keys) == 0 {
		return nil
	}
	return rdb.Del(ctx, keys...).Err()
}

// setIfNewer stores ARGV[1] under KEYS[1] and the version ARGV[2] under KEYS[2]
// unless the cached version is already higher.
var setIfNewer = redis.NewScript(`
local cur = redis.call('GET', KEYS[2])
if cur and tonumber(cur) > tonumber(ARGV[2]) then
  return 0
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[3])
redis.call('SET', KEYS[2], ARGV[2], 'PX', ARGV[3])
return 1
`)

// VersionKey is the companion key holding the version of the value cached at key.
func VersionKey(key string) string {
	return key + ":version"
}

// SetJSONVersioned stores v like SetJSON, but never replaces a value cached with
// a higher version. It reports whether v was stored.
func SetJSONVersioned(ctx context.Context, rdb *redis.Client, key string, v any, version int64, ttl time.Duration) (bool, error) {
	if rdb == nil {
		return false, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return false, err
	}
	stored, err := setIfNewer.Run(ctx, rdb, []string{key, VersionKey(key)}, b, version, ttl.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return stored == 1, nil
}

// Aside tries Redis first; on a miss or a Redis failure it calls fetch, which must
// populate dest and return its version, then stores the result with ttl. A reader
// that loaded an older version than the cached one leaves the cache alone. Cache
// writes are best-effort.
func Aside(ctx context.Context, rdb *redis.Client, key string, dest any, ttl time.Duration, fetch func() (int64, error)) error {
	found, err := GetJSON(ctx, rdb, key, dest)
	if err == nil && found {
		return nil
	}

	version, err := fetch()
	if err != nil {
		return err
	}

	_, _ = SetJSONVersioned(ctx, rdb, key, dest, version, ttl)
	return nil
}
