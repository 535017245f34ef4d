package authhttp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/fullstackkit/authcore/core"
)

// Verifier validates bearer JWTs against the issuer's published JWKS. This is
// the resource-server counterpart of the session core, which deliberately
// never verifies signatures client-side: verification happens exactly once,
// here, with the issuer's own key material.
type Verifier struct {
	issuer  string
	jwksURL string
	cache   *jwk.Cache
	skew    time.Duration
}

type VerifierOption func(*verifierConfig)

type verifierConfig struct {
	httpClient *http.Client
	jwksURL    string
	skew       time.Duration
}

// WithJWKSHTTPClient injects the transport used for JWKS fetches.
func WithJWKSHTTPClient(h *http.Client) VerifierOption {
	return func(c *verifierConfig) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// WithJWKSURL overrides the default {issuer}/.well-known/jwks.json location.
func WithJWKSURL(u string) VerifierOption {
	return func(c *verifierConfig) { c.jwksURL = u }
}

// WithSkew sets the acceptable clock skew for exp/nbf checks.
func WithSkew(d time.Duration) VerifierOption {
	return func(c *verifierConfig) { c.skew = d }
}

// NewVerifier registers the issuer's JWKS in an auto-refreshing cache and
// fetches it once eagerly so the first request does not pay the cold fetch.
func NewVerifier(ctx context.Context, issuer string, opts ...VerifierOption) (*Verifier, error) {
	if issuer == "" {
		return nil, errors.New("issuer is required")
	}
	cfg := verifierConfig{httpClient: http.DefaultClient, skew: time.Minute}
	for _, opt := range opts {
		opt(&cfg)
	}
	jwksURL := cfg.jwksURL
	if jwksURL == "" {
		jwksURL = issuer + "/.well-known/jwks.json"
	}

	cache := jwk.NewCache(ctx)
	if err := cache.Register(jwksURL, jwk.WithHTTPClient(cfg.httpClient)); err != nil {
		return nil, fmt.Errorf("register jwks %s: %w", jwksURL, err)
	}
	if _, err := cache.Refresh(ctx, jwksURL); err != nil {
		return nil, fmt.Errorf("fetch jwks %s: %w", jwksURL, err)
	}

	return &Verifier{issuer: issuer, jwksURL: jwksURL, cache: cache, skew: cfg.skew}, nil
}

// Verify parses and verifies a raw compact token, enforcing signature,
// expiry, issuer, and the provider's token_use claim. Audience is not
// enforced: the provider's access tokens carry none.
func (v *Verifier) Verify(ctx context.Context, raw string) (core.User, error) {
	keySet, err := v.cache.Get(ctx, v.jwksURL)
	if err != nil {
		return core.User{}, fmt.Errorf("jwks lookup: %w", err)
	}

	tok, err := jwt.ParseString(
		raw,
		jwt.WithKeySet(keySet, jws.WithInferAlgorithmFromKey(true)),
		jwt.WithValidate(true),
		jwt.WithIssuer(v.issuer),
		jwt.WithRequiredClaim("exp"),
		jwt.WithAcceptableSkew(v.skew),
	)
	if err != nil {
		return core.User{}, fmt.Errorf("invalid token: %w", err)
	}

	use, _ := tok.Get("token_use")
	switch use {
	case "id", "access":
	default:
		return core.User{}, errors.New("invalid token type")
	}

	user := core.User{ID: tok.Subject()}
	if email, ok := tok.Get("email"); ok {
		user.Email, _ = email.(string)
	}
	if name, ok := tok.Get("name"); ok {
		user.Name, _ = name.(string)
	}
	return user, nil
}
