package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/pixora-labs/pixora/internal/api"
)

type contextKey string

const identityKey contextKey = "identity"

// Identity is what the rest of the service knows about the caller.
type Identity struct {
	ID       string
	Tier     string
	Timezone string
}

func Middleware(jwtManager *JWTManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				api.HandleError(w, api.ErrUnauthorized)
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
				api.HandleError(w, api.ErrUnauthorized)
				return
			}

			claims, err := jwtManager.ValidateAccessToken(parts[1])
			if err != nil {
				api.HandleError(w, api.ErrInvalidToken)
				return
			}

			ctx := WithIdentity(r.Context(), Identity{
				ID:       claims.Subject,
				Tier:     claims.Tier,
				Timezone: claims.Timezone,
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// CurrentUser returns the authenticated caller, if any.
func CurrentUser(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey).(Identity)
	return id, ok
}
