package memorystore

import (
	"context"
	"sync"
	"time"

	"github.com/fullstackkit/authcore/core"
)

type entry struct {
	value   []byte
	expires time.Time
}

// KV is an in-process key-value store satisfying the core's storage
// capability. It backs tests and the dev server; real embeddings inject the
// platform store (localStorage, Keychain, EncryptedSharedPreferences) or the
// Redis-backed KV.
type KV struct {
	mu      sync.Mutex
	entries map[string]entry
}

var _ core.KV = (*KV)(nil)

func NewKV() *KV {
	return &KV{entries: make(map[string]entry)}
}

func (k *KV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	_ = ctx
	k.mu.Lock()
	defer k.mu.Unlock()
	e, ok := k.entries[key]
	if !ok {
		return nil, false, nil
	}
	if !e.expires.IsZero() && time.Now().After(e.expires) {
		delete(k.entries, key)
		return nil, false, nil
	}
	return e.value, true, nil
}

// Set stores value under key. ttl <= 0 keeps the entry until deleted, which
// is what token storage uses: liveness is judged from the token itself, not
// from storage expiry.
func (k *KV) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	_ = ctx
	k.mu.Lock()
	defer k.mu.Unlock()
	var exp time.Time
	if ttl > 0 {
		exp = time.Now().Add(ttl)
	}
	k.entries[key] = entry{value: append([]byte(nil), value...), expires: exp}
	return nil
}

func (k *KV) Del(ctx context.Context, key string) error {
	_ = ctx
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.entries, key)
	return nil
}
