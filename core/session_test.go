package core_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/fullstackkit/authcore/core"
	oidckit "github.com/fullstackkit/authcore/oidc"
	memorystore "github.com/fullstackkit/authcore/storage/memory"
)

var testConfig = core.Config{
	AuthDomain:  "https://auth.example.com",
	ClientID:    "client-123",
	RedirectURI: "https://app.example.com/auth/callback",
	APIBaseURL:  "https://api.example.com",
}

// fakeExchanger scripts the token endpoint without any HTTP.
type fakeExchanger struct {
	mu      sync.Mutex
	calls   int
	tokens  core.TokenSet
	err     error
	entered chan struct{} // closed on first call when non-nil
	release chan struct{} // blocks the call until closed when non-nil
}

func (f *fakeExchanger) Exchange(ctx context.Context, code, redirectURI string) (core.TokenSet, error) {
	f.mu.Lock()
	f.calls++
	first := f.calls == 1
	f.mu.Unlock()
	if first && f.entered != nil {
		close(f.entered)
	}
	if f.release != nil {
		<-f.release
	}
	return f.tokens, f.err
}

func (f *fakeExchanger) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newTestController(t *testing.T, cfg core.Config, exchange core.Exchanger) (*core.Controller, *core.TokenStore) {
	t.Helper()
	store := core.NewTokenStore(memorystore.NewKV(), nil)
	ctrl := core.NewController(cfg, store, oidckit.NewClient(cfg), exchange)
	return ctrl, store
}

func TestController_UnconfiguredIsInertNoOp(t *testing.T) {
	ctrl, _ := newTestController(t, core.Config{}, &fakeExchanger{})

	require.False(t, core.Config{}.IsConfigured())
	require.Equal(t, core.StateConfigurationMissing, ctrl.Restore(context.Background()))

	navigated := false
	ctrl.Login(func(string) { navigated = true })
	require.False(t, navigated, "login must not navigate when unconfigured")

	_, err := ctrl.HandleCallback(context.Background(), "abc123", "")
	require.ErrorIs(t, err, core.ErrNotConfigured)

	_, err = ctrl.Logout(context.Background(), "")
	require.ErrorIs(t, err, core.ErrNotConfigured)
}

func TestController_RestoreWithLiveTokens(t *testing.T) {
	ctx := context.Background()
	store := core.NewTokenStore(memorystore.NewKV(), nil)
	require.NoError(t, store.Save(ctx, liveTokenSet(t, time.Now())))

	ctrl := core.NewController(testConfig, store, oidckit.NewClient(testConfig), &fakeExchanger{})
	require.Equal(t, core.StateAuthenticated, ctrl.Restore(ctx))

	user, ok := ctrl.CurrentUser()
	require.True(t, ok)
	require.Equal(t, "user-1", user.ID)
	require.Equal(t, "jo@example.com", user.Email)
}

func TestController_RestoreWithoutTokens(t *testing.T) {
	ctrl, _ := newTestController(t, testConfig, &fakeExchanger{})
	require.Equal(t, core.StateUnauthenticated, ctrl.Restore(context.Background()))

	_, ok := ctrl.CurrentUser()
	require.False(t, ok)
}

func TestController_LoginNavigatesToHostedUI(t *testing.T) {
	ctrl, _ := newTestController(t, testConfig, &fakeExchanger{})
	ctrl.Restore(context.Background())

	var target string
	ctrl.Login(func(u string) { target = u })
	require.NotEmpty(t, target)

	parsed, err := url.Parse(target)
	require.NoError(t, err)
	require.Equal(t, "/login", parsed.Path)
	require.Equal(t, "client-123", parsed.Query().Get("client_id"))
	require.Equal(t, "code", parsed.Query().Get("response_type"))
	require.Equal(t, testConfig.RedirectURI, parsed.Query().Get("redirect_uri"))
}

// End-to-end success: real exchanger against a scripted token endpoint.
func TestController_CallbackEstablishesSession(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	exp := now.Add(time.Hour).Unix()
	accessToken := mintToken(t, jwt.MapClaims{"sub": "user-1", "token_use": "access", "exp": exp})
	idToken := mintToken(t, jwt.MapClaims{"sub": "user-1", "email": "jo@example.com", "exp": exp})

	var posts int
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		posts++
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/oauth2/token", r.URL.Path)
		require.NoError(t, r.ParseForm())
		require.Equal(t, "authorization_code", r.PostFormValue("grant_type"))
		require.Equal(t, "abc123", r.PostFormValue("code"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  accessToken,
			"id_token":      idToken,
			"refresh_token": "refresh-opaque",
			"expires_in":    3600,
		})
	}))
	defer provider.Close()

	cfg := testConfig
	cfg.AuthDomain = provider.URL
	kv := memorystore.NewKV()
	store := core.NewTokenStore(kv, nil)
	client := oidckit.NewClient(cfg, oidckit.WithHTTPClient(provider.Client()))
	ctrl := core.NewController(cfg, store, client, client)
	require.Equal(t, core.StateUnauthenticated, ctrl.Restore(ctx))

	user, err := ctrl.HandleCallback(ctx, "abc123", "")
	require.NoError(t, err)
	require.Equal(t, "jo@example.com", user.Email)
	require.Equal(t, core.StateAuthenticated, ctrl.State())
	require.Equal(t, 1, posts)

	for _, key := range []string{keyAccessToken, keyIDToken, keyRefreshToken} {
		_, ok, err := kv.Get(ctx, key)
		require.NoError(t, err)
		require.True(t, ok, "%s must be stored after login", key)
	}

	token, ok := ctrl.AccessToken(ctx)
	require.True(t, ok)
	require.Equal(t, accessToken, token)
}

// End-to-end failure: provider rejects the code, session stays signed out.
func TestController_CallbackExchangeFailure(t *testing.T) {
	ctx := context.Background()
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
	}))
	defer provider.Close()

	cfg := testConfig
	cfg.AuthDomain = provider.URL
	kv := memorystore.NewKV()
	store := core.NewTokenStore(kv, nil)
	client := oidckit.NewClient(cfg, oidckit.WithHTTPClient(provider.Client()))
	ctrl := core.NewController(cfg, store, client, client)
	ctrl.Restore(ctx)

	_, err := ctrl.HandleCallback(ctx, "abc123", "")
	require.Error(t, err)
	var exchErr *oidckit.ExchangeError
	require.ErrorAs(t, err, &exchErr)
	require.Equal(t, http.StatusBadRequest, exchErr.Status)
	require.Contains(t, exchErr.Body, "invalid_grant")

	require.Equal(t, core.StateUnauthenticated, ctrl.State())
	for _, key := range []string{keyAccessToken, keyIDToken, keyRefreshToken} {
		_, ok, err := kv.Get(ctx, key)
		require.NoError(t, err)
		require.False(t, ok, "%s must not be stored after failed exchange", key)
	}
}

func TestController_DuplicateCallbackIsSingleFlight(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	exchanger := &fakeExchanger{
		tokens:  liveTokenSet(t, now),
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	ctrl, _ := newTestController(t, testConfig, exchanger)
	ctrl.Restore(ctx)

	type result struct {
		user core.User
		err  error
	}
	done := make(chan result, 1)
	go func() {
		user, err := ctrl.HandleCallback(ctx, "abc123", "")
		done <- result{user, err}
	}()

	<-exchanger.entered
	require.Equal(t, core.StateExchangingCode, ctrl.State())

	// Readers during the exchange observe "not yet authenticated".
	_, ok := ctrl.CurrentUser()
	require.False(t, ok)
	_, ok = ctrl.AccessToken(ctx)
	require.False(t, ok)

	// Duplicate delivery of the same code while in flight: ignored, no POST.
	_, err := ctrl.HandleCallback(ctx, "abc123", "")
	require.ErrorIs(t, err, core.ErrExchangeInFlight)

	close(exchanger.release)
	first := <-done
	require.NoError(t, first.err)
	require.Equal(t, "user-1", first.user.ID)
	require.Equal(t, 1, exchanger.callCount(), "exactly one token-endpoint call")
	require.Equal(t, core.StateAuthenticated, ctrl.State())
}

func TestController_Logout(t *testing.T) {
	ctx := context.Background()
	store := core.NewTokenStore(memorystore.NewKV(), nil)
	require.NoError(t, store.Save(ctx, liveTokenSet(t, time.Now())))

	ctrl := core.NewController(testConfig, store, oidckit.NewClient(testConfig), &fakeExchanger{})
	require.Equal(t, core.StateAuthenticated, ctrl.Restore(ctx))

	logoutURL, err := ctrl.Logout(ctx, "")
	require.NoError(t, err)

	parsed, err := url.Parse(logoutURL)
	require.NoError(t, err)
	require.Equal(t, "/logout", parsed.Path)
	require.Equal(t, "client-123", parsed.Query().Get("client_id"))
	require.Equal(t, testConfig.RedirectURI, parsed.Query().Get("logout_uri"))

	require.Equal(t, core.StateUnauthenticated, ctrl.State())
	_, ok := ctrl.CurrentUser()
	require.False(t, ok)

	loaded, err := store.Load(ctx)
	require.NoError(t, err)
	require.Nil(t, loaded, "token store must be cleared on logout")
}

func TestController_CloseDiscardsInFlightExchange(t *testing.T) {
	ctx := context.Background()
	exchanger := &fakeExchanger{
		tokens:  liveTokenSet(t, time.Now()),
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	store := core.NewTokenStore(memorystore.NewKV(), nil)
	ctrl := core.NewController(testConfig, store, oidckit.NewClient(testConfig), exchanger)
	ctrl.Restore(ctx)

	done := make(chan error, 1)
	go func() {
		_, err := ctrl.HandleCallback(ctx, "abc123", "")
		done <- err
	}()

	<-exchanger.entered
	ctrl.Close()
	close(exchanger.release)

	require.ErrorIs(t, <-done, core.ErrSessionReset)

	loaded, err := store.Load(ctx)
	require.NoError(t, err)
	require.Nil(t, loaded, "discarded exchange must not persist tokens")
}
