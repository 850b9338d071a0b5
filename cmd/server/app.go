package main

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kuitang/persona-notes/internal/api"
	"github.com/kuitang/persona-notes/internal/auth"
	"github.com/kuitang/persona-notes/internal/config"
	"github.com/kuitang/persona-notes/internal/db"
	"github.com/kuitang/persona-notes/internal/mcp"
	"github.com/kuitang/persona-notes/internal/metrics"
	"github.com/kuitang/persona-notes/internal/mongostore"
	"github.com/kuitang/persona-notes/internal/notes"
	"github.com/kuitang/persona-notes/internal/obs"
	"github.com/kuitang/persona-notes/internal/persona"
	"github.com/kuitang/persona-notes/internal/ratelimit"
	"github.com/kuitang/persona-notes/internal/rpc"
)

const (
	authRealm      = "persona-notes"
	connectTimeout = 10 * time.Second
)

// app owns every long-lived collaborator of the server.
type app struct {
	handler http.Handler
	closers []func(context.Context) error
}

// newApp initializes the store, the identity verifier and the persona
// client once. Any failure aborts startup.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{}
	ok := false
	defer func() {
		if !ok {
			a.close()
		}
	}()

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, closeStore)

	verifier, err := newVerifier(ctx, cfg)
	if err != nil {
		return nil, err
	}

	registry := metrics.NewRegistry()
	rpcMetrics, err := metrics.NewRPCMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	limiter := ratelimit.NewRateLimiter(cfg.RateLimitConfig)
	a.closers = append(a.closers, func(context.Context) error {
		limiter.Stop()
		return nil
	})

	personas := persona.NewClient(rpc.NewClient(cfg.PersonaServiceURL, cfg.InternalKey, cfg.RPCTimeout))
	service := notes.NewService(store, persona.NewGate(personas, rpcMetrics))

	a.handler = newHandler(handlerDeps{
		service:       service,
		authenticator: auth.NewAuthenticator(verifier, cfg.InternalKey),
		limiter:       limiter,
		metrics:       rpcMetrics,
		registry:      registry,
	})
	ok = true
	return a, nil
}

func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			obs.Pkg("main").Error("close_failed", "error", err)
		}
	}
	a.closers = nil
}

func openStore(ctx context.Context, cfg *config.Config) (notes.Store, func(context.Context) error, error) {
	switch cfg.StoreDriver {
	case config.StoreSQLite:
		store, err := db.Open(ctx, cfg.DatabasePath, cfg.DatabaseKey)
		if err != nil {
			return nil, nil, fmt.Errorf("open note database: %w", err)
		}
		return store, func(context.Context) error { return store.Close() }, nil
	default:
		connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
		defer cancel()
		store, err := mongostore.Connect(connectCtx, cfg.MongoURI, cfg.MongoDatabase, cfg.NoteCollection)
		if err != nil {
			return nil, nil, fmt.Errorf("connect note store: %w", err)
		}
		return store, store.Close, nil
	}
}

func newVerifier(ctx context.Context, cfg *config.Config) (auth.Verifier, error) {
	switch cfg.AuthMode {
	case config.AuthModeJWT:
		key, err := hex.DecodeString(cfg.JWTPublicKey)
		if err != nil || len(key) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("JWT_PUBLIC_KEY must be %d hex-encoded bytes", ed25519.PublicKeySize)
		}
		return auth.NewTokenVerifier(cfg.JWTIssuer, cfg.JWTAudience, ed25519.PublicKey(key)), nil
	default:
		verifier, err := auth.NewOIDCVerifier(ctx, cfg.OIDCIssuer, cfg.OIDCClientID)
		if err != nil {
			return nil, fmt.Errorf("discover OIDC issuer: %w", err)
		}
		return verifier, nil
	}
}

type handlerDeps struct {
	service       *notes.Service
	authenticator *auth.Authenticator
	limiter       *ratelimit.RateLimiter
	metrics       *metrics.RPCMetrics
	registry      *prometheus.Registry
}

// newHandler wires every route onto one mux.
func newHandler(d handlerDeps) http.Handler {
	mux := http.NewServeMux()

	rpcServer := rpc.NewServer(d.authenticator.Before,
		rpc.WithRateLimiter(d.limiter),
		rpc.WithMetrics(d.metrics),
	)
	rpcServer.Register(notes.ServiceName, notes.Methods(d.service))
	rpcServer.RegisterRoutes(mux)

	protected := func(next http.Handler) http.Handler {
		return d.authenticator.Middleware(authRealm)(ratelimit.Middleware(d.limiter, auth.RequestCallerKey)(next))
	}
	api.NewHandler(d.service).RegisterRoutes(mux, protected)

	mcpServer := mcp.NewServer(d.service)
	mountMCPRoute(mux, "/mcp", preflightOr(mcpServer, protected(mcpServer)))

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})
	mux.Handle("GET /metrics", metrics.Handler(d.registry))

	return obs.RequestContextMiddleware(obs.AccessLogMiddleware("http", mux))
}

// mountMCPRoute registers the Streamable HTTP methods for path.
func mountMCPRoute(mux *http.ServeMux, path string, handler http.Handler) {
	for _, method := range []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions} {
		mux.Handle(method+" "+path, handler)
	}
}

// preflightOr sends CORS preflight requests to open and everything else to
// protected.
func preflightOr(open, protected http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			open.ServeHTTP(w, r)
			return
		}
		protected.ServeHTTP(w, r)
	})
}
