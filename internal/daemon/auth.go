package daemon

import (
	"net/http"
	"strings"

	"clawgate/internal/types"
)

// TokenAuthMiddleware enforces a bearer token on the /v1 surface. /health
// stays open for probes. An empty configured token disables auth.
func TokenAuthMiddleware(token string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if token == "" || !strings.HasPrefix(r.URL.Path, "/v1/") {
			next.ServeHTTP(w, r)
			return
		}

		auth := r.Header.Get("Authorization")
		const prefix = "Bearer "
		if !strings.HasPrefix(auth, prefix) || strings.TrimSpace(auth[len(prefix):]) != token {
			writeJSON(w, http.StatusUnauthorized, types.ErrorEnvelope{Error: types.ErrorBody{
				Message: "invalid or missing bearer token",
				Type:    "invalid_request_error",
			}})
			return
		}

		next.ServeHTTP(w, r)
	})
}
