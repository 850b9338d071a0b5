package auth

import (
	"context"
	"crypto/subtle"
	"strings"

	"github.com/kuitang/persona-notes/internal/errs"
	"github.com/kuitang/persona-notes/internal/obs"
)

// Authenticator is the pre-dispatch hook shared by every transport.
type Authenticator struct {
	verifier    Verifier
	internalKey string
}

// NewAuthenticator creates an Authenticator. An empty internalKey disables
// system contexts entirely.
func NewAuthenticator(verifier Verifier, internalKey string) *Authenticator {
	return &Authenticator{
		verifier:    verifier,
		internalKey: internalKey,
	}
}

// Before resolves cc to a Caller and returns ctx carrying it. presentedKey
// is the internal key the transport received alongside cc; it is only
// consulted for system contexts.
func (a *Authenticator) Before(ctx context.Context, cc CallerContext, presentedKey string) (context.Context, error) {
	if cc.IsSystem() {
		if !a.trustedPeer(presentedKey) {
			return ctx, errs.New(errs.Unauthenticated, "system context not permitted")
		}
		obs.From(ctx).Debug("called by system context", "pkg", "auth")
		caller := SystemCaller()
		return WithCaller(obs.WithCaller(ctx, caller.LogValue()), caller), nil
	}

	token := bearerValue(cc.Authorization)
	if token == "" {
		return ctx, errs.Wrap(errs.Unauthenticated, "missing credential", ErrNoToken)
	}

	identity, err := a.verifier.Verify(ctx, token)
	if err != nil {
		obs.From(ctx).Info("credential_rejected", "pkg", "auth", "error", err)
		return ctx, errs.Wrap(errs.Unauthenticated, "invalid credential", err)
	}

	caller := UserCaller(identity, cc.Authorization)
	return WithCaller(obs.WithCaller(ctx, caller.LogValue()), caller), nil
}

func (a *Authenticator) trustedPeer(presentedKey string) bool {
	if a.internalKey == "" || presentedKey == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a.internalKey), []byte(presentedKey)) == 1
}

// bearerValue strips an optional, case-insensitive "Bearer" scheme.
func bearerValue(authorization string) string {
	value := strings.TrimSpace(authorization)
	scheme := strings.TrimSpace(bearerPrefix)
	if len(value) >= len(scheme) && strings.EqualFold(value[:len(scheme)], scheme) &&
		(len(value) == len(scheme) || value[len(scheme)] == ' ') {
		value = strings.TrimSpace(value[len(scheme):])
	}
	return value
}
