package httpapi

import (
	"net/http"
	"strings"

	"motolog.org/internal/auth"
)

const authHeader = "Authorization"

var publicPaths = []string{
	"/metrics",
	"/healthz",
	"/readyz",
	"/v1/info",
}
var publicPrefixes = []string{
	"/v1/auth/",
}

func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		header := r.Header.Get(authHeader)
		userID, err := a.auth.AuthenticateRequest(r.Context(), header)
		if err != nil {
			handleAuthError(w, r, err)
			return
		}

		ctx := auth.ContextWithUser(r.Context(), userID)
		if token, err := auth.ExtractBearerToken(header); err == nil {
			ctx = auth.ContextWithToken(ctx, token)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	for _, prefix := range publicPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// currentUser returns the id placed in the context by withAuth.
func currentUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		handleAuthError(w, r, auth.ErrMissingToken)
		return "", false
	}
	return userID, true
}
