// Command authcore-devserver is the web embedding of the session core: a
// small server that drives the hosted-UI login flow, keeps the token triple
// in a pluggable store, and proxies an example authenticated API call. The
// mobile embeddings wire the same core behind their own storage and
// navigation; this binary is the reference wiring.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	apiclient "github.com/fullstackkit/authcore/api"
	"github.com/fullstackkit/authcore/core"
	oidckit "github.com/fullstackkit/authcore/oidc"
	memorystore "github.com/fullstackkit/authcore/storage/memory"
	redisstore "github.com/fullstackkit/authcore/storage/redis"
)

type config struct {
	ListenAddr  string `env:"LISTEN_ADDR" envDefault:":8080"`
	AuthDomain  string `env:"AUTH_DOMAIN"`
	ClientID    string `env:"AUTH_CLIENT_ID"`
	RedirectURI string `env:"AUTH_REDIRECT_URI" envDefault:"http://localhost:8080/auth/callback"`
	UserPoolID  string `env:"AUTH_USER_POOL_ID"`
	APIBaseURL  string `env:"API_BASE_URL"`
	RedisAddr   string `env:"REDIS_ADDR"`
}

func main() {
	// A missing .env is fine; the environment may already be populated.
	_ = godotenv.Load()

	cfg, err := env.ParseAs[config]()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("devserver exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg config, log *slog.Logger) error {
	authCfg := core.Config{
		AuthDomain:      cfg.AuthDomain,
		ClientID:        cfg.ClientID,
		RedirectURI:     cfg.RedirectURI,
		APIBaseURL:      cfg.APIBaseURL,
		UserPoolID:      cfg.UserPoolID,
		RequireUserPool: true,
	}
	if !authCfg.IsConfigured() {
		// The server still starts: every auth route degrades to a clear
		// "not configured" answer instead of failing at boot.
		log.Warn("auth is not configured; login will be disabled",
			"auth_domain_set", cfg.AuthDomain != "",
			"client_id_set", cfg.ClientID != "",
			"user_pool_set", cfg.UserPoolID != "")
	}

	var kv core.KV = memorystore.NewKV()
	if cfg.RedisAddr != "" {
		kv = redisstore.NewKV(redis.NewClient(&redis.Options{Addr: cfg.RedisAddr}))
		log.Info("using redis token storage", "addr", cfg.RedisAddr)
	}

	store := core.NewTokenStore(kv, nil)
	oidcClient := oidckit.NewClient(authCfg, oidckit.WithHTTPClient(&http.Client{Timeout: 10 * time.Second}))
	ctrl := core.NewController(authCfg, store, oidcClient, oidcClient, core.WithLogger(log))
	defer ctrl.Close()

	startCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	state := ctrl.Restore(startCtx)
	cancel()
	log.Info("session restored", "state", state.String())

	items := apiclient.NewClient(cfg.APIBaseURL, ctrl,
		apiclient.WithHTTPClient(&http.Client{Timeout: 10 * time.Second}))

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": map[string]string{"status": "ok"}})
	})
	mux.HandleFunc("GET /login", handleLogin(ctrl))
	mux.HandleFunc("GET /auth/callback", handleCallback(ctrl, log))
	mux.HandleFunc("GET /me", handleMe(ctrl))
	mux.HandleFunc("POST /logout", handleLogout(ctrl))
	mux.HandleFunc("GET /items", handleItems(items))

	srv := &http.Server{Addr: cfg.ListenAddr, Handler: requestLog(log, mux)}

	errc := make(chan error, 1)
	go func() {
		log.Info("devserver listening", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt)
	select {
	case err := <-errc:
		return err
	case <-quit:
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}

func handleLogin(ctrl *core.Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		redirected := false
		ctrl.Login(func(url string) {
			redirected = true
			http.Redirect(w, r, url, http.StatusFound)
		})
		if !redirected {
			writeError(w, http.StatusServiceUnavailable, "Login is not configured")
		}
	}
}

func handleCallback(ctrl *core.Controller, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if msg := q.Get("error"); msg != "" {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("%s: %s", msg, q.Get("error_description")))
			return
		}
		code := q.Get("code")
		if code == "" {
			writeError(w, http.StatusBadRequest, "Missing authorization code")
			return
		}

		user, err := ctrl.HandleCallback(r.Context(), code, "")
		switch {
		case errors.Is(err, core.ErrExchangeInFlight):
			// Browser double-submit; the first delivery is still running.
			writeJSON(w, http.StatusAccepted, map[string]any{"success": true})
			return
		case errors.Is(err, core.ErrNotConfigured):
			writeError(w, http.StatusServiceUnavailable, "Login is not configured")
			return
		case err != nil:
			log.Warn("login failed", "error", err)
			writeError(w, http.StatusBadGateway, "Login failed, please try again")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": user})
	}
}

func handleMe(ctrl *core.Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := ctrl.CurrentUser()
		if !ok {
			writeError(w, http.StatusUnauthorized, "Not signed in")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": user})
	}
}

func handleLogout(ctrl *core.Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logoutURL, err := ctrl.Logout(r.Context(), "")
		if err != nil {
			writeError(w, http.StatusServiceUnavailable, "Logout is not configured")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": map[string]string{"logout_url": logoutURL}})
	}
}

func handleItems(items *apiclient.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := items.ListItems(r.Context(), 0)
		switch {
		case errors.Is(err, apiclient.ErrAuthenticationRequired):
			writeError(w, http.StatusUnauthorized, "Not signed in")
			return
		case err != nil:
			writeError(w, http.StatusBadGateway, "Items API unavailable")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": map[string]any{"items": list, "count": len(list)}})
	}
}

func requestLog(log *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		id := uuid.NewString()
		next.ServeHTTP(w, r)
		log.Info("request",
			"request_id", id,
			"method", r.Method,
			"path", r.URL.Path,
			"duration_ms", time.Since(start).Milliseconds())
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"success": false, "error": message})
}
