package auth

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/go-jose/go-jose/v3"
	"github.com/go-jose/go-jose/v3/jwt"
	"github.com/oauth2-proxy/mockoidc"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

const (
	testIssuer   = "https://issuer.example.test"
	testClientID = "persona-notes-client"
)

func signIDToken(t *testing.T, key *rsa.PrivateKey, issuer, audience, subject string, expiresAt time.Time) string {
	t.Helper()
	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.RS256, Key: key}, nil)
	require.NoError(t, err)

	claims := struct {
		jwt.Claims
		Email string `json:"email"`
	}{
		Claims: jwt.Claims{
			Issuer:   issuer,
			Subject:  subject,
			Audience: jwt.Audience{audience},
			IssuedAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
			Expiry:   jwt.NewNumericDate(expiresAt),
		},
		Email: subject + "@example.test",
	}
	token, err := jwt.Signed(signer).Claims(claims).CompactSerialize()
	require.NoError(t, err)
	return token
}

func staticVerifier(t *testing.T) (*OIDCVerifier, *rsa.PrivateKey) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	keySet := &oidc.StaticKeySet{PublicKeys: []crypto.PublicKey{&key.PublicKey}}
	return NewOIDCVerifierWithKeySet(testIssuer, testClientID, keySet), key
}

func TestOIDCVerifier_AcceptsValidIDToken(t *testing.T) {
	t.Parallel()
	verifier, key := staticVerifier(t)

	identity, err := verifier.Verify(context.Background(),
		signIDToken(t, key, testIssuer, testClientID, "google-sub-1", time.Now().Add(time.Hour)))
	require.NoError(t, err)
	require.Equal(t, "google-sub-1", identity.Subject)
	require.Equal(t, testIssuer, identity.Issuer)
	require.Equal(t, "google-sub-1@example.test", identity.Email)
}

func TestOIDCVerifier_Rejections(t *testing.T) {
	t.Parallel()
	verifier, key := staticVerifier(t)
	otherKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	future := time.Now().Add(time.Hour)

	cases := map[string]string{
		"wrong audience": signIDToken(t, key, testIssuer, "someone-else", "sub", future),
		"wrong issuer":   signIDToken(t, key, "https://evil.example.test", testClientID, "sub", future),
		"expired":        signIDToken(t, key, testIssuer, testClientID, "sub", time.Now().Add(-time.Hour)),
		"wrong key":      signIDToken(t, otherKey, testIssuer, testClientID, "sub", future),
		"not a jwt":      "definitely-not-a-token",
	}
	for name, token := range cases {
		_, err := verifier.Verify(context.Background(), token)
		require.Error(t, err, name)
	}
}

// Runs a full authorization-code flow against a local mock provider and
// verifies the resulting ID token through discovery.
func TestOIDCVerifier_MockProviderFlow(t *testing.T) {
	t.Parallel()
	m, err := mockoidc.Run()
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Shutdown() })

	m.QueueUser(&mockoidc.MockUser{
		Subject:       "mock-subject-42",
		Email:         "owner@example.test",
		EmailVerified: true,
	})

	ctx := context.Background()
	verifier, err := NewOIDCVerifier(ctx, m.Issuer(), m.ClientID)
	require.NoError(t, err)

	provider, err := oidc.NewProvider(ctx, m.Issuer())
	require.NoError(t, err)
	oauthConfig := oauth2.Config{
		ClientID:     m.ClientID,
		ClientSecret: m.ClientSecret,
		RedirectURL:  "http://127.0.0.1/callback",
		Endpoint:     provider.Endpoint(),
		Scopes:       []string{oidc.ScopeOpenID, "email"},
	}

	client := &http.Client{
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	resp, err := client.Get(oauthConfig.AuthCodeURL("state-123"))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusFound, resp.StatusCode)

	callback, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	code := callback.Query().Get("code")
	require.NotEmpty(t, code)

	token, err := oauthConfig.Exchange(ctx, code)
	require.NoError(t, err)
	rawIDToken, ok := token.Extra("id_token").(string)
	require.True(t, ok, "token response must carry an id_token")

	identity, err := verifier.Verify(ctx, rawIDToken)
	require.NoError(t, err)
	require.Equal(t, "mock-subject-42", identity.Subject)
	require.Equal(t, "owner@example.test", identity.Email)

	a := NewAuthenticator(verifier, "")
	authed, err := a.Before(ctx, CallerContext{Authorization: "Bearer " + rawIDToken}, "")
	require.NoError(t, err)
	caller, ok := CallerFromContext(authed)
	require.True(t, ok)
	require.Equal(t, "mock-subject-42", caller.Subject)
}
