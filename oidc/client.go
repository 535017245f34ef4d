package oidckit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/zitadel/oidc/v2/pkg/oidc"
	"golang.org/x/oauth2"

	"github.com/fullstackkit/authcore/core"
)

// Hosted-UI paths. The provider serves its login page on /login and the
// token grant on /oauth2/token (Cognito hosted-UI layout).
const (
	authorizePath = "/login"
	tokenPath     = "/oauth2/token"
	logoutPath    = "/logout"
)

// defaultExpiresIn applies when the token response omits expires_in.
const defaultExpiresIn = 3600

// Scopes requested on every authorization. Fixed set; the template's API
// only ever needs identity, not provider-specific grants.
var scopes = []string{"email", "openid", "profile"}

// Client builds hosted-UI URLs and exchanges authorization codes for tokens.
// It is a public OAuth client: no client secret is ever sent. It implements
// core.URLBuilder and core.Exchanger.
type Client struct {
	cfg  core.Config
	http *http.Client
	now  core.Clock
}

type Option func(*Client)

// WithHTTPClient injects the transport used for the token exchange. Timeouts
// are whatever the injected client carries; the exchange adds none of its own.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.http = h
		}
	}
}

// WithClock overrides the time source used to derive token expiry.
func WithClock(now core.Clock) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

func NewClient(cfg core.Config, opts ...Option) *Client {
	c := &Client{cfg: cfg, http: http.DefaultClient, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// AuthorizeURL returns the hosted-UI authorization URL. redirectURI may
// differ from the configured default so a mobile embedding can use its
// deep-link scheme; empty means the default. Fails with ErrNotConfigured
// when the provider settings are incomplete — check before showing any
// login affordance.
func (c *Client) AuthorizeURL(redirectURI string) (string, error) {
	if !c.cfg.IsConfigured() {
		return "", core.ErrNotConfigured
	}
	if redirectURI == "" {
		redirectURI = c.cfg.RedirectURI
	}
	oc := oauth2.Config{
		ClientID:    c.cfg.ClientID,
		RedirectURL: redirectURI,
		Scopes:      scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  c.cfg.AuthDomain + authorizePath,
			TokenURL: c.cfg.AuthDomain + tokenPath,
		},
	}
	return oc.AuthCodeURL(""), nil
}

// LogoutURL returns the provider-side logout URL that also terminates the
// hosted-UI session. logoutURI is where the provider sends the browser next.
func (c *Client) LogoutURL(logoutURI string) (string, error) {
	if !c.cfg.IsConfigured() {
		return "", core.ErrNotConfigured
	}
	q := url.Values{}
	q.Set("client_id", c.cfg.ClientID)
	q.Set("logout_uri", logoutURI)
	return c.cfg.AuthDomain + logoutPath + "?" + q.Encode(), nil
}

// Exchange posts the authorization code to the token endpoint and derives a
// TokenSet. redirectURI must match exactly what the code was issued against.
// Non-2xx responses and malformed bodies surface as *ExchangeError with the
// provider's status and body, which is what diagnoses the common real-world
// failures (replayed code, redirect-URI or client-id mismatch).
func (c *Client) Exchange(ctx context.Context, code, redirectURI string) (core.TokenSet, error) {
	if !c.cfg.IsConfigured() {
		return core.TokenSet{}, core.ErrNotConfigured
	}

	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("client_id", c.cfg.ClientID)
	form.Set("code", code)
	form.Set("redirect_uri", redirectURI)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.AuthDomain+tokenPath, strings.NewReader(form.Encode()))
	if err != nil {
		return core.TokenSet{}, fmt.Errorf("token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return core.TokenSet{}, fmt.Errorf("token endpoint: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return core.TokenSet{}, fmt.Errorf("token response: %w", err)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return core.TokenSet{}, &ExchangeError{Status: resp.StatusCode, Body: string(body)}
	}

	var tr oidc.AccessTokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return core.TokenSet{}, &ExchangeError{Status: resp.StatusCode, Body: string(body), Err: err}
	}

	expiresIn := int64(tr.ExpiresIn)
	if expiresIn == 0 {
		expiresIn = defaultExpiresIn
	}
	return core.TokenSet{
		AccessToken:  tr.AccessToken,
		IDToken:      tr.IDToken,
		RefreshToken: tr.RefreshToken,
		ExpiresAt:    c.now().Unix() + expiresIn,
	}, nil
}

// ExchangeError is a failed token-endpoint round trip. Status and Body come
// straight from the provider so a misconfigured redirect URI shows up in
// logs verbatim.
type ExchangeError struct {
	Status int
	Body   string
	Err    error // set when the body was not valid JSON
}

func (e *ExchangeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("token exchange: status %d: %v", e.Status, e.Err)
	}
	return fmt.Sprintf("token exchange: status %d: %s", e.Status, e.Body)
}

func (e *ExchangeError) Unwrap() error { return e.Err }
