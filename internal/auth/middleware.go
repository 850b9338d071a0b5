package auth

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/kuitang/persona-notes/internal/errs"
)

const bearerPrefix = "Bearer "

// InternalKeyHeader carries the shared secret that lets peer services use
// the system context.
const InternalKeyHeader = "X-Internal-Key"

// Middleware authenticates HTTP requests that carry their credential in the
// Authorization header. On success the Caller is available through
// CallerFromContext.
//
// A request with no Authorization header but a valid X-Internal-Key is
// treated as a system call.
func (a *Authenticator) Middleware(realm string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cc, err := callerContextFromRequest(r)
			if err != nil {
				writeWWWAuthenticate(w, realm, "invalid_request", err.Error())
				return
			}

			ctx, err := a.Before(r.Context(), cc, r.Header.Get(InternalKeyHeader))
			if err != nil {
				writeWWWAuthenticate(w, realm, "invalid_token", errs.MessageOf(err))
				return
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func callerContextFromRequest(r *http.Request) (CallerContext, error) {
	if r.Header.Get("Authorization") == "" && r.Header.Get(InternalKeyHeader) != "" {
		return CallerContext{Type: TypeSystem}, nil
	}
	token, err := extractBearerToken(r)
	if err != nil {
		return CallerContext{}, err
	}
	return CallerContext{Authorization: bearerPrefix + token}, nil
}

// extractBearerToken extracts the Bearer token from the Authorization header.
func extractBearerToken(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", ErrNoToken
	}

	if !strings.HasPrefix(authHeader, bearerPrefix) {
		return "", fmt.Errorf("%w: expected Bearer scheme", ErrMalformedToken)
	}

	token := strings.TrimPrefix(authHeader, bearerPrefix)
	if token == "" {
		return "", ErrNoToken
	}

	return token, nil
}

// writeWWWAuthenticate writes a 401 with an RFC 6750 challenge.
func writeWWWAuthenticate(w http.ResponseWriter, realm, errorType, errorDesc string) {
	challenge := fmt.Sprintf(`Bearer realm="%s", error="%s", error_description="%s"`,
		realm, errorType, strings.ReplaceAll(errorDesc, `"`, `'`))
	w.Header().Set("WWW-Authenticate", challenge)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error": errorDesc,
		"code":  string(errs.Unauthenticated),
	})
}

// RequestCallerKey identifies the authenticated caller of r for rate
// limiting. It returns an empty key when Middleware has not run.
func RequestCallerKey(r *http.Request) (string, bool) {
	caller, ok := CallerFromContext(r.Context())
	if !ok {
		return "", false
	}
	return caller.LogValue(), caller.System
}
