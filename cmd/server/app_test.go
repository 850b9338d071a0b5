package main

import (
	"context"
	"encoding/hex"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/kuitang/persona-notes/internal/auth"
	"github.com/kuitang/persona-notes/internal/config"
	"github.com/kuitang/persona-notes/internal/errs"
	"github.com/kuitang/persona-notes/internal/metrics"
	"github.com/kuitang/persona-notes/internal/notes"
	"github.com/kuitang/persona-notes/internal/persona"
	"github.com/kuitang/persona-notes/internal/ratelimit"
	"github.com/kuitang/persona-notes/internal/rpc"
	"github.com/kuitang/persona-notes/internal/testdb"
)

const peerKey = "peer-key"

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type rejectAll struct{}

func (rejectAll) Verify(context.Context, string) (*auth.Identity, error) {
	return nil, auth.ErrInvalidSignature
}

type allowAll struct{}

func (allowAll) AssertOwnerExists(context.Context, string) error { return nil }

// denyingLookup refuses every persona and remembers whether the caller it
// saw was the system caller.
type denyingLookup struct {
	sawSystem atomic.Bool
}

func (l *denyingLookup) Show(ctx context.Context, _ string) error {
	if caller, ok := auth.CallerFromContext(ctx); ok && caller.System {
		l.sawSystem.Store(true)
	}
	return errs.New(errs.NotFound, "persona not found")
}

func newTestHandler(t *testing.T) (*httptest.Server, *prometheus.Registry) {
	t.Helper()
	return newGatedTestHandler(t, func(*metrics.RPCMetrics) notes.OwnerGate { return allowAll{} })
}

func newGatedTestHandler(t *testing.T, gate func(*metrics.RPCMetrics) notes.OwnerGate) (*httptest.Server, *prometheus.Registry) {
	t.Helper()
	store, err := testdb.NewNoteStoreInMemory(t.Name())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	registry := metrics.NewRegistry()
	rpcMetrics, err := metrics.NewRPCMetrics(registry)
	require.NoError(t, err)

	limiter := ratelimit.NewRateLimiter(ratelimit.DefaultConfig)
	t.Cleanup(limiter.Stop)

	ts := httptest.NewServer(newHandler(handlerDeps{
		service:       notes.NewService(store, gate(rpcMetrics)),
		authenticator: auth.NewAuthenticator(rejectAll{}, peerKey),
		limiter:       limiter,
		metrics:       rpcMetrics,
		registry:      registry,
	}))
	t.Cleanup(ts.Close)
	return ts, registry
}

func get(t *testing.T, url string) (*http.Response, string) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

func TestHandler_Healthz(t *testing.T) {
	ts, _ := newTestHandler(t)

	resp, body := get(t, ts.URL+"/healthz")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.JSONEq(t, `{"status":"ok"}`, body)
	require.NotEmpty(t, resp.Header.Get("X-Request-Id"))
}

func TestHandler_SystemRPCCallIsMetered(t *testing.T) {
	ts, _ := newTestHandler(t)
	client := rpc.NewClient(ts.URL, peerKey, 5*time.Second)
	system := auth.CallerContext{Type: auth.TypeSystem}

	var created notes.Note
	require.NoError(t, client.Call(context.Background(), notes.ServiceName, "create", system, &created,
		"persona-1", map[string]any{"title": "hello", "content": "world"}))
	require.Equal(t, "persona-1", created.PersonaID)

	var listed []notes.Note
	require.NoError(t, client.Call(context.Background(), notes.ServiceName, "list", system, &listed, "persona-1"))
	require.Len(t, listed, 1)

	resp, body := get(t, ts.URL+"/metrics")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, body, `notes_rpc_requests_total{code="ok",method="create",service="notes"} 1`)
}

func TestHandler_SystemRPCCallStillPassesOwnershipGate(t *testing.T) {
	lookup := &denyingLookup{}
	ts, registry := newGatedTestHandler(t, func(m *metrics.RPCMetrics) notes.OwnerGate {
		return persona.NewGate(lookup, m)
	})
	client := rpc.NewClient(ts.URL, peerKey, 5*time.Second)
	system := auth.CallerContext{Type: auth.TypeSystem}

	var created notes.Note
	err := client.Call(context.Background(), notes.ServiceName, "create", system, &created,
		"persona-1", map[string]any{"title": "hello", "content": "world"})
	require.Equal(t, errs.PermissionDenied, errs.CodeOf(err))
	require.Empty(t, created.ID)
	require.True(t, lookup.sawSystem.Load(), "the gate must run with the system caller")

	var listed []notes.Note
	err = client.Call(context.Background(), notes.ServiceName, "list", system, &listed, "persona-1")
	require.Equal(t, errs.PermissionDenied, errs.CodeOf(err))

	denied, err := testutil.GatherAndCount(registry, "notes_ownership_checks_total")
	require.NoError(t, err)
	require.Equal(t, 1, denied)
}

func TestHandler_RESTRequiresCredential(t *testing.T) {
	ts, _ := newTestHandler(t)

	resp, _ := get(t, ts.URL+"/personas/p1/notes")
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Contains(t, resp.Header.Get("WWW-Authenticate"), `realm="persona-notes"`)
}

func TestHandler_MCPPreflightSkipsAuthentication(t *testing.T) {
	ts, _ := newTestHandler(t)

	req, err := http.NewRequest(http.MethodOptions, ts.URL+"/mcp", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	post, err := http.Post(ts.URL+"/mcp", "application/json",
		strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`))
	require.NoError(t, err)
	post.Body.Close()
	require.Equal(t, http.StatusUnauthorized, post.StatusCode)
}

func TestOpenStore_SQLite(t *testing.T) {
	cfg := &config.Config{
		StoreDriver:  config.StoreSQLite,
		DatabasePath: filepath.Join(t.TempDir(), "nested", "notes.db"),
		DatabaseKey:  hex.EncodeToString(make([]byte, 32)),
	}
	store, closeStore, err := openStore(context.Background(), cfg)
	require.NoError(t, err)
	defer func() { require.NoError(t, closeStore(context.Background())) }()

	created, err := store.Insert(context.Background(), notes.Note{PersonaID: "p", Title: "t"})
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)
}

func TestOpenStore_SQLiteRejectsBadKey(t *testing.T) {
	cfg := &config.Config{
		StoreDriver:  config.StoreSQLite,
		DatabasePath: filepath.Join(t.TempDir(), "notes.db"),
		DatabaseKey:  "abc",
	}
	_, _, err := openStore(context.Background(), cfg)
	require.Error(t, err)
}

func TestNewVerifier_JWTKeyMustBeEd25519(t *testing.T) {
	_, err := newVerifier(context.Background(), &config.Config{
		AuthMode:     config.AuthModeJWT,
		JWTPublicKey: "00ff",
	})
	require.ErrorContains(t, err, "JWT_PUBLIC_KEY")

	verifier, err := newVerifier(context.Background(), &config.Config{
		AuthMode:     config.AuthModeJWT,
		JWTIssuer:    "issuer",
		JWTAudience:  "persona-notes",
		JWTPublicKey: hex.EncodeToString(make([]byte, 32)),
	})
	require.NoError(t, err)
	require.NotNil(t, verifier)
}
