package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// loads collapses concurrent misses on the same key into one fetch.
var loads singleflight.Group

// GetJSON decodes key into dest. A miss or nil client reports false.
func GetJSON(ctx context.Context, rdb *redis.Client, key string, dest any) (bool, error) {
	if rdb == nil {
		return false, nil
	}
	raw, err := rdb.Get(ctx, key).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return false, nil
	case err != nil:
		return false, err
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

func SetJSON(ctx context.Context, rdb *redis.Client, key string, v any, ttl time.Duration) error {
	if rdb == nil {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return rdb.Set(ctx, key, raw, ttl).Err()
}

// Aside serves dest from Redis, or runs fetch to fill it and caches the
// result for ttl. Redis failures fall through to fetch; write-back is best
// effort. Callers racing on one key share a single fetch.
func Aside(ctx context.Context, rdb *redis.Client, key string, dest any, ttl time.Duration, fetch func() error) error {
	if hit, err := GetJSON(ctx, rdb, key, dest); err == nil && hit {
		return nil
	}

	leader := false
	v, err, _ := loads.Do(key, func() (any, error) {
		leader = true
		if err := fetch(); err != nil {
			return nil, err
		}
		raw, err := json.Marshal(dest)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", key, err)
		}
		if rdb != nil {
			_ = rdb.Set(ctx, key, raw, ttl).Err()
		}
		return raw, nil
	})
	if err != nil || leader {
		return err
	}
	return json.Unmarshal(v.([]byte), dest)
}
