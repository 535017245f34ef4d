package redisstore

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fullstackkit/authcore/core"
)

// KV is a Redis-backed implementation of the core storage capability, for
// server-side embeddings (e.g. a BFF keeping the token triple per browser
// session). Keys can be namespaced per end user with a prefix.
type KV struct {
	rdb    *redis.Client
	prefix string
}

var _ core.KV = (*KV)(nil)

func NewKV(rdb *redis.Client) *KV {
	return &KV{rdb: rdb}
}

// WithPrefix returns a view of the store that prepends prefix to every key,
// so several sessions can share one Redis database.
func (k *KV) WithPrefix(prefix string) *KV {
	return &KV{rdb: k.rdb, prefix: prefix}
}

func (k *KV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := k.rdb.Get(ctx, k.prefix+key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (k *KV) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return k.rdb.Set(ctx, k.prefix+key, value, ttl).Err()
}

func (k *KV) Del(ctx context.Context, key string) error {
	return k.rdb.Del(ctx, k.prefix+key).Err()
}
