package core

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Storage keys shared by every platform embedding.
const (
	keyAccessToken  = "auth_access_token"
	keyIDToken      = "auth_id_token"
	keyRefreshToken = "auth_refresh_token"
)

// TokenSet is the result of a successful code exchange. It is owned by the
// TokenStore: created on exchange, overwritten on re-login, destroyed on
// logout or when expiry is detected during load.
type TokenSet struct {
	AccessToken  string
	IDToken      string
	RefreshToken string // stored but never exchanged; expiry forces re-login
	ExpiresAt    int64  // unix seconds
}

// TokenStore persists the token triple through the injected KV capability and
// computes liveness from the access token's exp claim. All operations are
// serialized so a save and a clear for the same session never interleave.
type TokenStore struct {
	mu  sync.Mutex
	kv  KV
	now Clock
}

func NewTokenStore(kv KV, now Clock) *TokenStore {
	if now == nil {
		now = time.Now
	}
	return &TokenStore{kv: kv, now: now}
}

// Save writes the token triple. If any sub-write fails the already written
// keys are rolled back so a later load never sees a partial session.
func (s *TokenStore) Save(ctx context.Context, tokens TokenSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	writes := []struct {
		key   string
		value string
	}{
		{keyAccessToken, tokens.AccessToken},
		{keyIDToken, tokens.IDToken},
		{keyRefreshToken, tokens.RefreshToken},
	}
	for _, w := range writes {
		if w.value == "" {
			if err := s.kv.Del(ctx, w.key); err != nil {
				s.clearLocked(ctx)
				return fmt.Errorf("save %s: %w", w.key, err)
			}
			continue
		}
		if err := s.kv.Set(ctx, w.key, []byte(w.value), 0); err != nil {
			s.clearLocked(ctx)
			return fmt.Errorf("save %s: %w", w.key, err)
		}
	}
	return nil
}

// Load reads the stored triple. An absent or expired access token means "no
// session": all three keys are cleared proactively and nil is returned, so
// stale tokens never linger for a later ambiguous read.
func (s *TokenStore) Load(ctx context.Context) (*TokenSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	access, ok, err := s.get(ctx, keyAccessToken)
	if err != nil {
		return nil, err
	}
	if !ok || access == "" {
		s.clearLocked(ctx)
		return nil, nil
	}

	claims := DecodeClaims(access)
	if claims.ExpiredAt(s.now()) {
		s.clearLocked(ctx)
		return nil, nil
	}

	idToken, _, err := s.get(ctx, keyIDToken)
	if err != nil {
		return nil, err
	}
	refresh, _, err := s.get(ctx, keyRefreshToken)
	if err != nil {
		return nil, err
	}

	exp, _ := claims.ExpiresAt()
	return &TokenSet{
		AccessToken:  access,
		IDToken:      idToken,
		RefreshToken: refresh,
		ExpiresAt:    exp,
	}, nil
}

// Clear removes all three keys unconditionally. Idempotent.
func (s *TokenStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clearLocked(ctx)
}

// AccessToken returns the stored access token only when present and
// unexpired; embeddings use it to attach the bearer header to API calls.
func (s *TokenStore) AccessToken(ctx context.Context) (string, bool) {
	tokens, err := s.Load(ctx)
	if err != nil || tokens == nil {
		return "", false
	}
	return tokens.AccessToken, true
}

func (s *TokenStore) clearLocked(ctx context.Context) error {
	var firstErr error
	for _, key := range []string{keyAccessToken, keyIDToken, keyRefreshToken} {
		if err := s.kv.Del(ctx, key); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("clear %s: %w", key, err)
		}
	}
	return firstErr
}

func (s *TokenStore) get(ctx context.Context, key string) (string, bool, error) {
	b, ok, err := s.kv.Get(ctx, key)
	if err != nil {
		return "", false, fmt.Errorf("load %s: %w", key, err)
	}
	return string(b), ok, nil
}
