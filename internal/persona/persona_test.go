package persona

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/kuitang/persona-notes/internal/auth"
	"github.com/kuitang/persona-notes/internal/errs"
	"github.com/kuitang/persona-notes/internal/metrics"
	"github.com/kuitang/persona-notes/internal/rpc"
)

type recordingCaller struct {
	err   error
	calls []recordedCall
}

type recordedCall struct {
	service, method string
	cc              auth.CallerContext
	params          []any
}

func (r *recordingCaller) Call(_ context.Context, service, method string, cc auth.CallerContext, _ any, params ...any) error {
	r.calls = append(r.calls, recordedCall{service: service, method: method, cc: cc, params: params})
	return r.err
}

func userContext(credential string) context.Context {
	caller := auth.UserCaller(&auth.Identity{Subject: "alice"}, credential)
	return auth.WithCaller(context.Background(), caller)
}

func TestClient_ForwardsUserCredential(t *testing.T) {
	t.Parallel()
	rec := &recordingCaller{}
	client := NewClient(rec)

	require.NoError(t, client.Show(userContext("Bearer abc"), "p-1"))
	require.Len(t, rec.calls, 1)
	call := rec.calls[0]
	require.Equal(t, ServiceName, call.service)
	require.Equal(t, ShowMethod, call.method)
	require.Equal(t, auth.CallerContext{Authorization: "Bearer abc"}, call.cc)
	require.Equal(t, []any{"p-1"}, call.params)
}

func TestClient_ForwardsSystemContext(t *testing.T) {
	t.Parallel()
	rec := &recordingCaller{}
	ctx := auth.WithCaller(context.Background(), auth.SystemCaller())

	require.NoError(t, NewClient(rec).Show(ctx, "p-1"))
	require.True(t, rec.calls[0].cc.IsSystem())
}

func TestClient_RequiresCaller(t *testing.T) {
	t.Parallel()
	rec := &recordingCaller{}
	err := NewClient(rec).Show(context.Background(), "p-1")
	require.ErrorIs(t, err, ErrNoCaller)
	require.Empty(t, rec.calls)
}

type lookupFunc func(ctx context.Context, personaID string) error

func (f lookupFunc) Show(ctx context.Context, personaID string) error { return f(ctx, personaID) }

func testGate_AnyLookupFailureIsPermissionDenied(t *rapid.T) {
	code := rapid.SampledFrom([]errs.Code{
		errs.NotFound, errs.PermissionDenied, errs.Unauthenticated, errs.Unavailable, errs.Internal,
	}).Draw(t, "code")
	cause := errs.New(code, rapid.StringMatching(`[a-z ]{1,20}`).Draw(t, "message"))
	personaID := rapid.StringMatching(`[a-z0-9]{1,24}`).Draw(t, "personaID")

	gate := NewGate(lookupFunc(func(context.Context, string) error { return cause }), nil)
	err := gate.AssertOwnerExists(context.Background(), personaID)

	if errs.CodeOf(err) != errs.PermissionDenied {
		t.Fatalf("lookup failure %q surfaced as %q", code, errs.CodeOf(err))
	}
	if errs.MessageOf(err) != "persona not accessible" {
		t.Fatalf("unexpected message %q", errs.MessageOf(err))
	}
	if !errors.Is(err, cause) {
		t.Fatal("cause must be retained")
	}
}

func TestGate_AnyLookupFailureIsPermissionDenied(t *testing.T) {
	t.Parallel()
	rapid.Check(t, testGate_AnyLookupFailureIsPermissionDenied)
}

func FuzzGate_AnyLookupFailureIsPermissionDenied(f *testing.F) {
	f.Fuzz(rapid.MakeFuzz(testGate_AnyLookupFailureIsPermissionDenied))
}

func TestGate_EmptyPersonaIDSkipsLookup(t *testing.T) {
	t.Parallel()
	called := false
	gate := NewGate(lookupFunc(func(context.Context, string) error {
		called = true
		return nil
	}), nil)

	err := gate.AssertOwnerExists(context.Background(), "")
	require.Equal(t, errs.InvalidArgument, errs.CodeOf(err))
	require.Equal(t, "personaId", errs.FieldOf(err))
	require.False(t, called)
}

func TestGate_NoCaching(t *testing.T) {
	t.Parallel()
	calls := 0
	gate := NewGate(lookupFunc(func(context.Context, string) error {
		calls++
		return nil
	}), nil)

	for i := 0; i < 3; i++ {
		require.NoError(t, gate.AssertOwnerExists(context.Background(), "p-1"))
	}
	require.Equal(t, 3, calls)
}

func TestGate_RecordsOutcomes(t *testing.T) {
	t.Parallel()
	m, err := metrics.NewRPCMetrics(prometheus.NewRegistry())
	require.NoError(t, err)

	allowed := NewGate(lookupFunc(func(context.Context, string) error { return nil }), m)
	denied := NewGate(lookupFunc(func(context.Context, string) error { return errors.New("gone") }), m)

	require.NoError(t, allowed.AssertOwnerExists(context.Background(), "p-1"))
	require.Error(t, denied.AssertOwnerExists(context.Background(), "p-2"))
	require.Error(t, denied.AssertOwnerExists(context.Background(), "p-3"))

	expected := `
# HELP notes_ownership_checks_total Total number of persona ownership checks
# TYPE notes_ownership_checks_total counter
notes_ownership_checks_total{result="allowed"} 1
notes_ownership_checks_total{result="denied"} 2
`
	require.NoError(t, testutil.CollectAndCompare(m, strings.NewReader(expected), "notes_ownership_checks_total"))
}

// Runs the gate against a real persona RPC endpoint.
func TestGate_OverRPC(t *testing.T) {
	t.Parallel()
	owned := map[string]string{"p-alice": "alice"}

	verifier := verifierFunc(func(_ context.Context, token string) (*auth.Identity, error) {
		return &auth.Identity{Subject: token}, nil
	})
	server := rpc.NewServer(auth.NewAuthenticator(verifier, "peer-key").Before)
	server.Register(ServiceName, map[string]rpc.Method{
		ShowMethod: func(ctx context.Context, params rpc.Params) (any, error) {
			if err := params.Expect(1); err != nil {
				return nil, err
			}
			id, err := params.String(0, "personaId")
			if err != nil {
				return nil, err
			}
			caller, _ := auth.CallerFromContext(ctx)
			if owner, ok := owned[id]; !ok || (!caller.System && owner != caller.Subject) {
				return nil, errs.New(errs.NotFound, "persona not found")
			}
			return map[string]string{"id": id}, nil
		},
	})
	mux := http.NewServeMux()
	server.RegisterRoutes(mux)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	gate := NewGate(NewClient(rpc.NewClient(ts.URL, "peer-key", 5*time.Second)), nil)

	alice := auth.WithCaller(context.Background(), auth.UserCaller(&auth.Identity{Subject: "alice"}, "Bearer alice"))
	bob := auth.WithCaller(context.Background(), auth.UserCaller(&auth.Identity{Subject: "bob"}, "Bearer bob"))
	system := auth.WithCaller(context.Background(), auth.SystemCaller())

	require.NoError(t, gate.AssertOwnerExists(alice, "p-alice"))
	require.NoError(t, gate.AssertOwnerExists(system, "p-alice"))
	require.Equal(t, errs.PermissionDenied, errs.CodeOf(gate.AssertOwnerExists(bob, "p-alice")))
	require.Equal(t, errs.PermissionDenied, errs.CodeOf(gate.AssertOwnerExists(alice, "p-missing")))
}

type verifierFunc func(ctx context.Context, token string) (*auth.Identity, error)

func (f verifierFunc) Verify(ctx context.Context, token string) (*auth.Identity, error) {
	return f(ctx, token)
}
