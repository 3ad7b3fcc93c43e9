package chi

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/kailas-cloud/cceval/internal/domain/role"
	"github.com/kailas-cloud/cceval/internal/logger"
)

type roleKey struct{}

// exemptPaths are routes that bypass authentication (health, metrics).
var exemptPaths = map[string]struct{}{
	"/health":  {},
	"/metrics": {},
}

// ContextWithRole stores the authenticated role.
func ContextWithRole(ctx context.Context, r role.Role) context.Context {
	return context.WithValue(ctx, roleKey{}, r)
}

// RoleFromContext returns the authenticated role, if any.
func RoleFromContext(ctx context.Context) (role.Role, bool) {
	r, ok := ctx.Value(roleKey{}).(role.Role)
	return r, ok && r.Valid()
}

// BearerAuthMiddleware resolves the Bearer token to a role and stores it in
// the request context.
func BearerAuthMiddleware(auth Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := exemptPaths[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}

			header := r.Header.Get("Authorization")
			if header == "" {
				writeError(w, http.StatusUnauthorized, ErrorResponseCodeUnauthorized, "missing authorization header")
				return
			}

			const bearerPrefix = "Bearer "
			if !strings.HasPrefix(header, bearerPrefix) {
				writeError(w, http.StatusUnauthorized,
					ErrorResponseCodeUnauthorized, "authorization header must use Bearer scheme")
				return
			}

			rl, err := auth.Authenticate(header[len(bearerPrefix):])
			if err != nil {
				writeError(w, http.StatusUnauthorized, ErrorResponseCodeUnauthorized, "invalid token")
				return
			}

			ctx := ContextWithRole(r.Context(), rl)
			ctx = logger.WithFields(ctx, zap.String("role", rl.String()))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
