package auth

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"time"

	"github.com/go-jose/go-jose/v3/jwt"
)

// Token verification errors.
var (
	ErrNoToken          = errors.New("auth: no credential provided")
	ErrMalformedToken   = errors.New("auth: malformed token")
	ErrInvalidSignature = errors.New("auth: invalid token signature")
	ErrTokenExpired     = errors.New("auth: token expired")
	ErrTokenNotYetValid = errors.New("auth: token not yet valid")
	ErrInvalidIssuer    = errors.New("auth: invalid token issuer")
	ErrInvalidAudience  = errors.New("auth: invalid token audience")
	ErrMissingSubject   = errors.New("auth: token has no subject")
)

// clockSkew is how far in the future an iat claim may be.
const clockSkew = time.Minute

// TokenVerifier verifies Ed25519-signed service JWTs.
type TokenVerifier struct {
	issuer    string
	audience  string
	publicKey ed25519.PublicKey
	now       func() time.Time
}

var _ Verifier = (*TokenVerifier)(nil)

// NewTokenVerifier creates a verifier that accepts tokens signed by
// publicKey with the given iss and an aud containing audience.
func NewTokenVerifier(issuer, audience string, publicKey ed25519.PublicKey) *TokenVerifier {
	return &TokenVerifier{
		issuer:    issuer,
		audience:  audience,
		publicKey: publicKey,
		now:       time.Now,
	}
}

// Verify checks, in order: signature, issuer, audience, expiry, issued-at
// and subject.
func (v *TokenVerifier) Verify(_ context.Context, token string) (*Identity, error) {
	parsedToken, err := jwt.ParseSigned(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}

	var rawClaims struct {
		jwt.Claims
		Email string `json:"email,omitempty"`
	}
	if err := parsedToken.Claims(v.publicKey, &rawClaims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	now := v.now()

	if rawClaims.Issuer != v.issuer {
		return nil, fmt.Errorf("%w: expected %q, got %q", ErrInvalidIssuer, v.issuer, rawClaims.Issuer)
	}

	if !rawClaims.Audience.Contains(v.audience) {
		return nil, fmt.Errorf("%w: expected %q in audience", ErrInvalidAudience, v.audience)
	}

	if rawClaims.Expiry == nil {
		return nil, fmt.Errorf("%w: missing exp claim", ErrMalformedToken)
	}
	expiresAt := rawClaims.Expiry.Time()
	if now.After(expiresAt) {
		return nil, fmt.Errorf("%w: expired at %v", ErrTokenExpired, expiresAt)
	}

	if rawClaims.IssuedAt != nil {
		if issuedAt := rawClaims.IssuedAt.Time(); issuedAt.After(now.Add(clockSkew)) {
			return nil, fmt.Errorf("%w: issued at %v", ErrTokenNotYetValid, issuedAt)
		}
	}

	if rawClaims.Subject == "" {
		return nil, ErrMissingSubject
	}

	return &Identity{
		Subject:   rawClaims.Subject,
		Issuer:    rawClaims.Issuer,
		Email:     rawClaims.Email,
		ExpiresAt: expiresAt,
	}, nil
}
