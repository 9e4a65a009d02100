package middleware

import (
	"context"
	"net/http"
	"strings"

	goIdentity "github.com/MrEthical07/goIdentity"
)

// AccessValidator is satisfied by *goIdentity.Engine.
type AccessValidator interface {
	ValidateAccess(ctx context.Context, token string) (*goIdentity.Claims, error)
}

type claimsContextKey struct{}

func ClaimsFromContext(ctx context.Context) (*goIdentity.Claims, bool) {
	claims, ok := ctx.Value(claimsContextKey{}).(*goIdentity.Claims)
	return claims, ok
}

// WithClaims stores claims in ctx. Handlers under test use it to skip the
// guard.
func WithClaims(ctx context.Context, claims *goIdentity.Claims) context.Context {
	return context.WithValue(ctx, claimsContextKey{}, claims)
}

// Guard rejects requests without a valid access token with 401.
func Guard(engine AccessValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				unauthorized(w)
				return
			}

			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				unauthorized(w)
				return
			}

			claims, err := engine.ValidateAccess(r.Context(), token)
			if err != nil {
				unauthorized(w)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="api"`)
	http.Error(w, "unauthorized", http.StatusUnauthorized)
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if len(value) < len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}

	return token, true
}
