package billing

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/dmitrymomot/competitorwatch/pkg/logger"
)

// bearer rejects requests whose Authorization header does not carry secret.
// An empty secret rejects everything.
func (h *routes) bearer(scope, secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if secret == "" || !ok || subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
				h.logger.WarnContext(r.Context(), "unauthorized request",
					slog.String("scope", scope),
					slog.String("path", r.URL.Path),
					slog.Bool("secret_configured", secret != ""),
					logger.Component("auth"),
				)
				_ = errorResponse(http.StatusUnauthorized, "Unauthorized").Render(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
