package core

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// State is the controller's session state. Exactly one holds at any time.
type State int

const (
	StateUninitialized State = iota
	StateConfigurationMissing
	StateUnauthenticated
	StateExchangingCode
	StateAuthenticated
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateConfigurationMissing:
		return "configuration_missing"
	case StateUnauthenticated:
		return "unauthenticated"
	case StateExchangingCode:
		return "exchanging_code"
	case StateAuthenticated:
		return "authenticated"
	default:
		return "unknown"
	}
}

// Exchanger performs the authorization-code-for-tokens POST against the
// provider's token endpoint. Implemented by oidckit.Client.
type Exchanger interface {
	Exchange(ctx context.Context, code, redirectURI string) (TokenSet, error)
}

// URLBuilder constructs the provider's hosted-UI URLs. Implemented by
// oidckit.Client.
type URLBuilder interface {
	AuthorizeURL(redirectURI string) (string, error)
	LogoutURL(logoutURI string) (string, error)
}

// Controller owns the session state machine. It is the sole mutator of the
// TokenStore; presentation layers read state through it and never touch the
// stored tokens directly.
type Controller struct {
	cfg      Config
	store    *TokenStore
	urls     URLBuilder
	exchange Exchanger
	log      *slog.Logger

	mu     sync.Mutex
	state  State
	user   User
	gen    uint64 // bumped on Logout/Close so a late exchange result is discarded
	closed bool
}

type ControllerOption func(*Controller)

// WithLogger replaces the default slog logger.
func WithLogger(log *slog.Logger) ControllerOption {
	return func(c *Controller) {
		if log != nil {
			c.log = log
		}
	}
}

// NewController wires the capabilities together. The controller starts
// Uninitialized; call Restore to resolve the startup state.
func NewController(cfg Config, store *TokenStore, urls URLBuilder, exchange Exchanger, opts ...ControllerOption) *Controller {
	c := &Controller{
		cfg:      cfg,
		store:    store,
		urls:     urls,
		exchange: exchange,
		log:      slog.Default(),
		state:    StateUninitialized,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Restore resolves the startup transition: ConfigurationMissing when the
// config is incomplete, Authenticated when a live token set with a decodable
// identity token is stored, Unauthenticated otherwise. Calling it outside
// Uninitialized returns the current state unchanged.
func (c *Controller) Restore(ctx context.Context) State {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateUninitialized {
		return c.state
	}
	if !c.cfg.IsConfigured() {
		c.state = StateConfigurationMissing
		return c.state
	}

	tokens, err := c.store.Load(ctx)
	if err != nil {
		// Storage-read failures recover to a safe default: ask to sign in again.
		c.log.Warn("session restore failed, treating as unauthenticated", "error", err)
		c.state = StateUnauthenticated
		return c.state
	}
	if tokens == nil {
		c.state = StateUnauthenticated
		return c.state
	}

	user, ok := UserFromIDToken(tokens.IDToken)
	if !ok {
		// Live access token but no readable identity; drop the set entirely.
		_ = c.store.Clear(ctx)
		c.state = StateUnauthenticated
		return c.state
	}

	c.user = user
	c.state = StateAuthenticated
	return c.state
}

// State returns the current session state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// CurrentUser returns the identity projection of the active session. During
// an exchange it reports not-authenticated rather than blocking.
func (c *Controller) CurrentUser() (User, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateAuthenticated {
		return User{}, false
	}
	return c.user, true
}

// AccessToken yields the live access token for outbound API calls, or false
// when no valid session exists or an exchange is still in flight.
func (c *Controller) AccessToken(ctx context.Context) (string, bool) {
	c.mu.Lock()
	if c.state == StateExchangingCode || c.state == StateConfigurationMissing {
		c.mu.Unlock()
		return "", false
	}
	c.mu.Unlock()
	return c.store.AccessToken(ctx)
}

// Login hands the provider authorization URL to navigate (browser redirect,
// external tab, custom-scheme intent — out of core scope). When configuration
// is missing it logs a warning and performs no navigation.
func (c *Controller) Login(navigate func(url string)) {
	c.mu.Lock()
	missing := c.state == StateConfigurationMissing || !c.cfg.IsConfigured()
	c.mu.Unlock()

	if missing {
		c.log.Warn("login requested but auth is not configured")
		return
	}
	url, err := c.urls.AuthorizeURL(c.cfg.RedirectURI)
	if err != nil {
		c.log.Warn("login requested but authorization URL could not be built", "error", err)
		return
	}
	navigate(url)
}

// HandleCallback drives the inbound redirect carrying an authorization code.
// At most one exchange runs per controller: a duplicate delivery while one is
// in flight returns ErrExchangeInFlight and issues no second POST. On failure
// no token state is persisted and the error carries the provider's status and
// body for diagnostics. An empty redirectURI means the configured default.
func (c *Controller) HandleCallback(ctx context.Context, code, redirectURI string) (User, error) {
	if redirectURI == "" {
		redirectURI = c.cfg.RedirectURI
	}

	c.mu.Lock()
	switch {
	case c.closed:
		c.mu.Unlock()
		return User{}, ErrNotConfigured
	case c.state == StateConfigurationMissing:
		c.mu.Unlock()
		c.log.Warn("callback received but auth is not configured")
		return User{}, ErrNotConfigured
	case c.state == StateExchangingCode:
		c.mu.Unlock()
		c.log.Info("duplicate auth callback ignored, exchange already in flight")
		return User{}, ErrExchangeInFlight
	}
	c.state = StateExchangingCode
	gen := c.gen
	c.mu.Unlock()

	// Network I/O happens outside the lock so readers keep observing
	// "not yet authenticated" instead of blocking.
	tokens, err := c.exchange.Exchange(ctx, code, redirectURI)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.gen != gen || c.closed {
		// The embedding logged out or tore down while we were on the wire.
		c.log.Info("discarding exchange result, session was reset mid-flight")
		return User{}, ErrSessionReset
	}
	if err != nil {
		c.state = StateUnauthenticated
		c.log.Error("code exchange failed", "error", err)
		return User{}, fmt.Errorf("code exchange: %w", err)
	}

	if err := c.store.Save(ctx, tokens); err != nil {
		// Save rolls back partial writes itself; nothing half-written remains.
		c.state = StateUnauthenticated
		c.log.Error("persisting tokens failed", "error", err)
		return User{}, err
	}

	user, _ := UserFromIDToken(tokens.IDToken)
	c.user = user
	c.state = StateAuthenticated
	c.log.Info("session established", "sub", user.ID)
	return user, nil
}

// Logout clears the token store unconditionally, discards the in-memory user
// and returns the provider's logout URL (empty logoutURI means the configured
// redirect). The embedding decides whether to navigate there.
func (c *Controller) Logout(ctx context.Context, logoutURI string) (string, error) {
	c.mu.Lock()
	if c.state == StateConfigurationMissing {
		c.mu.Unlock()
		c.log.Warn("logout requested but auth is not configured")
		return "", ErrNotConfigured
	}
	c.gen++ // a concurrent exchange must not resurrect the session
	c.user = User{}
	c.state = StateUnauthenticated
	c.mu.Unlock()

	if err := c.store.Clear(ctx); err != nil {
		return "", err
	}
	if logoutURI == "" {
		logoutURI = c.cfg.RedirectURI
	}
	return c.urls.LogoutURL(logoutURI)
}

// Close marks the controller torn down. An exchange still on the wire will
// have its result discarded instead of mutating a destroyed controller.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.gen++
}
