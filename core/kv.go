package core

import (
	"context"
	"time"
)

// KV is the persistent key-value capability a platform embedding injects.
// Browser localStorage, iOS Keychain, Android EncryptedSharedPreferences and
// the bundled storage/memory and storage/redis packages all fit this shape.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, key string) error
}

// Clock supplies the current time. Injected so expiry decisions are
// deterministic under test; nil means time.Now.
type Clock func() time.Time
