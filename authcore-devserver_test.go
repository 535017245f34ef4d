package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/fullstackkit/authcore/core"
	oidckit "github.com/fullstackkit/authcore/oidc"
	memorystore "github.com/fullstackkit/authcore/storage/memory"
)

// fakeProvider scripts the hosted provider's token endpoint.
func fakeProvider(t *testing.T) (*httptest.Server, string) {
	t.Helper()
	exp := time.Now().Add(time.Hour).Unix()
	sign := func(claims jwt.MapClaims) string {
		s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
		require.NoError(t, err)
		return s
	}
	idToken := sign(jwt.MapClaims{"sub": "user-1", "email": "jo@example.com", "exp": exp})

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/oauth2/token", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": sign(jwt.MapClaims{"sub": "user-1", "token_use": "access", "exp": exp}),
			"id_token":     idToken,
			"expires_in":   3600,
		})
	}))
	t.Cleanup(server.Close)
	return server, idToken
}

func newTestApp(t *testing.T) (*core.Controller, *httptest.Server) {
	t.Helper()
	provider, _ := fakeProvider(t)

	cfg := core.Config{
		AuthDomain:      provider.URL,
		ClientID:        "client-123",
		RedirectURI:     "http://localhost:8080/auth/callback",
		UserPoolID:      "pool-1",
		RequireUserPool: true,
	}
	store := core.NewTokenStore(memorystore.NewKV(), nil)
	client := oidckit.NewClient(cfg, oidckit.WithHTTPClient(provider.Client()))
	ctrl := core.NewController(cfg, store, client, client, core.WithLogger(slog.Default()))
	ctrl.Restore(context.Background())
	t.Cleanup(ctrl.Close)
	return ctrl, provider
}

func TestDevserver_LoginRedirectsToProvider(t *testing.T) {
	ctrl, provider := newTestApp(t)

	w := httptest.NewRecorder()
	handleLogin(ctrl)(w, httptest.NewRequest(http.MethodGet, "/login", nil))

	require.Equal(t, http.StatusFound, w.Code)
	require.Contains(t, w.Header().Get("Location"), provider.URL+"/login")
}

func TestDevserver_LoginUnconfigured(t *testing.T) {
	store := core.NewTokenStore(memorystore.NewKV(), nil)
	client := oidckit.NewClient(core.Config{})
	ctrl := core.NewController(core.Config{}, store, client, client)
	ctrl.Restore(context.Background())

	w := httptest.NewRecorder()
	handleLogin(ctrl)(w, httptest.NewRequest(http.MethodGet, "/login", nil))

	require.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestDevserver_CallbackThenMeThenLogout(t *testing.T) {
	ctrl, _ := newTestApp(t)
	log := slog.Default()

	w := httptest.NewRecorder()
	handleCallback(ctrl, log)(w, httptest.NewRequest(http.MethodGet, "/auth/callback?code=abc123", nil))
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	handleMe(ctrl)(w, httptest.NewRequest(http.MethodGet, "/me", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var me struct {
		Data core.User `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &me))
	require.Equal(t, "jo@example.com", me.Data.Email)

	w = httptest.NewRecorder()
	handleLogout(ctrl)(w, httptest.NewRequest(http.MethodPost, "/logout", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var out struct {
		Data map[string]string `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	require.Contains(t, out.Data["logout_url"], "/logout?client_id=client-123")

	w = httptest.NewRecorder()
	handleMe(ctrl)(w, httptest.NewRequest(http.MethodGet, "/me", nil))
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestDevserver_CallbackWithProviderError(t *testing.T) {
	ctrl, _ := newTestApp(t)

	w := httptest.NewRecorder()
	handleCallback(ctrl, slog.Default())(w, httptest.NewRequest(http.MethodGet, "/auth/callback?error=access_denied&error_description=user+cancelled", nil))

	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Contains(t, w.Body.String(), "access_denied")
}

func TestDevserver_CallbackWithoutCode(t *testing.T) {
	ctrl, _ := newTestApp(t)

	w := httptest.NewRecorder()
	handleCallback(ctrl, slog.Default())(w, httptest.NewRequest(http.MethodGet, "/auth/callback", nil))

	require.Equal(t, http.StatusBadRequest, w.Code)
}
