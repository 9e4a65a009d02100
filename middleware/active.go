package middleware

import (
	"context"
	"net/http"

	goIdentity "github.com/MrEthical07/goIdentity"
)

// AccountLoader is satisfied by *goIdentity.Engine.
type AccountLoader interface {
	AccessValidator
	Profile(ctx context.Context, userID string) (*goIdentity.User, error)
}

type userContextKey struct{}

func UserFromContext(ctx context.Context) (*goIdentity.User, bool) {
	u, ok := ctx.Value(userContextKey{}).(*goIdentity.User)
	return u, ok
}

// RequireActiveUser runs Guard, then loads the token's account. Unknown or
// deactivated accounts get 401 even while their access token is unexpired.
func RequireActiveUser(engine AccountLoader) func(http.Handler) http.Handler {
	guard := Guard(engine)
	return func(next http.Handler) http.Handler {
		return guard(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, _ := ClaimsFromContext(r.Context())
			user, err := engine.Profile(r.Context(), claims.UID)
			if err != nil || user == nil || !user.Active {
				unauthorized(w)
				return
			}
			ctx := context.WithValue(r.Context(), userContextKey{}, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		}))
	}
}
