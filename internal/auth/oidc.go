package auth

import (
	"context"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
)

// OIDCVerifier verifies OpenID Connect ID tokens, such as those issued by
// Google or Firebase, for a single client id.
type OIDCVerifier struct {
	verifier *oidc.IDTokenVerifier
}

var _ Verifier = (*OIDCVerifier)(nil)

// NewOIDCVerifier discovers issuer's configuration and keys. It makes a
// network call and should run once at startup.
func NewOIDCVerifier(ctx context.Context, issuer, clientID string) (*OIDCVerifier, error) {
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to create OIDC provider: %w", err)
	}
	return &OIDCVerifier{
		verifier: provider.Verifier(&oidc.Config{ClientID: clientID}),
	}, nil
}

// NewOIDCVerifierWithKeySet builds a verifier without discovery.
func NewOIDCVerifierWithKeySet(issuer, clientID string, keySet oidc.KeySet) *OIDCVerifier {
	return &OIDCVerifier{
		verifier: oidc.NewVerifier(issuer, keySet, &oidc.Config{ClientID: clientID}),
	}
}

// Verify checks the ID token's signature, issuer, audience and expiry.
func (v *OIDCVerifier) Verify(ctx context.Context, rawIDToken string) (*Identity, error) {
	idToken, err := v.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("id_token verification failed: %w", err)
	}

	var claims struct {
		Email string `json:"email"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("failed to parse claims: %w", err)
	}
	if idToken.Subject == "" {
		return nil, ErrMissingSubject
	}

	return &Identity{
		Subject:   idToken.Subject,
		Issuer:    idToken.Issuer,
		Email:     claims.Email,
		ExpiresAt: idToken.Expiry,
	}, nil
}
