// Package persona confirms persona ownership by asking the persona service.
package persona

import (
	"context"
	"errors"

	"github.com/kuitang/persona-notes/internal/auth"
	"github.com/kuitang/persona-notes/internal/errs"
	"github.com/kuitang/persona-notes/internal/metrics"
	"github.com/kuitang/persona-notes/internal/notes"
	"github.com/kuitang/persona-notes/internal/obs"
)

// ServiceName and ShowMethod address the persona lookup.
const (
	ServiceName = "personas"
	ShowMethod  = "show"
)

// ErrNoCaller is returned when a lookup runs outside an authenticated request.
var ErrNoCaller = errors.New("persona: no caller in context")

// Lookup resolves a persona for the current caller. Any error means the
// caller may not act on it.
type Lookup interface {
	Show(ctx context.Context, personaID string) error
}

// Caller is the subset of rpc.Client the lookup needs.
type Caller interface {
	Call(ctx context.Context, service, method string, cc auth.CallerContext, out any, params ...any) error
}

// Client looks personas up over RPC, forwarding the caller's own context so
// the persona service applies its own access rules.
type Client struct {
	rpc Caller
}

// NewClient creates a Client.
func NewClient(caller Caller) *Client {
	return &Client{rpc: caller}
}

// Show calls personas.show(personaID) as the current caller.
func (c *Client) Show(ctx context.Context, personaID string) error {
	caller, ok := auth.CallerFromContext(ctx)
	if !ok {
		return ErrNoCaller
	}
	return c.rpc.Call(ctx, ServiceName, ShowMethod, caller.Forward(), nil, personaID)
}

// Gate implements notes.OwnerGate on top of a Lookup. It is consulted on
// every request and never caches.
type Gate struct {
	lookup  Lookup
	metrics *metrics.RPCMetrics
}

var _ notes.OwnerGate = (*Gate)(nil)

// NewGate creates a Gate. m may be nil.
func NewGate(lookup Lookup, m *metrics.RPCMetrics) *Gate {
	return &Gate{lookup: lookup, metrics: m}
}

// AssertOwnerExists fails with permission_denied unless the persona is
// visible to the current caller.
func (g *Gate) AssertOwnerExists(ctx context.Context, personaID string) error {
	if personaID == "" {
		return errs.Invalid(notes.FieldPersonaID, "is required")
	}

	if err := g.lookup.Show(ctx, personaID); err != nil {
		g.metrics.RecordOwnershipCheck(false)
		obs.From(ctx).Info("ownership_denied", "pkg", "persona", "persona_id", personaID, "error", err)
		return errs.Wrap(errs.PermissionDenied, "persona not accessible", err)
	}

	g.metrics.RecordOwnershipCheck(true)
	return nil
}
