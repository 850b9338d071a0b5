// Package auth resolves who is calling the notes service: either the
// privileged system context used by peer services, or an end user holding a
// verified bearer credential.
package auth

import (
	"context"
	"time"
)

// TypeSystem marks a caller context as coming from a trusted peer service.
const TypeSystem = "system"

// CallerContext is the caller description carried with every request and
// forwarded verbatim to downstream services.
type CallerContext struct {
	Type          string `json:"type,omitempty"`
	Authorization string `json:"authorization,omitempty"`
}

// IsSystem reports whether the context claims system privileges.
func (c CallerContext) IsSystem() bool {
	return c.Type == TypeSystem
}

// Identity is what a Verifier learned from a credential.
type Identity struct {
	Subject   string
	Issuer    string
	Email     string
	ExpiresAt time.Time
}

// Verifier checks an opaque credential and returns the identity it proves.
type Verifier interface {
	Verify(ctx context.Context, token string) (*Identity, error)
}

// Caller is the authenticated principal of a request.
type Caller struct {
	System     bool
	Subject    string
	credential string
}

// SystemCaller returns the privileged caller used for trusted peer calls.
func SystemCaller() *Caller {
	return &Caller{System: true, Subject: TypeSystem}
}

// UserCaller returns a caller for a verified identity. credential is the
// authorization value exactly as presented, kept for forwarding.
func UserCaller(identity *Identity, credential string) *Caller {
	return &Caller{Subject: identity.Subject, credential: credential}
}

// Forward returns the caller context to send to downstream services.
func (c *Caller) Forward() CallerContext {
	if c.System {
		return CallerContext{Type: TypeSystem}
	}
	return CallerContext{Authorization: c.credential}
}

// LogValue identifies the caller without exposing its credential.
func (c *Caller) LogValue() string {
	if c.System {
		return TypeSystem
	}
	return "user:" + c.Subject
}

type callerContextKey struct{}

// WithCaller stores the authenticated caller on ctx.
func WithCaller(ctx context.Context, caller *Caller) context.Context {
	return context.WithValue(ctx, callerContextKey{}, caller)
}

// CallerFromContext returns the caller stored by WithCaller.
func CallerFromContext(ctx context.Context) (*Caller, bool) {
	caller, ok := ctx.Value(callerContextKey{}).(*Caller)
	return caller, ok && caller != nil
}
