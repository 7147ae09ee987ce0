// internal/api/middleware.go
package api

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	stderrors "funding-engine/internal/common/errors"
	"funding-engine/internal/common/logger"

	"github.com/gorilla/mux"
)

// BearerAuth rejects requests whose bearer token does not match token. An
// empty token rejects everything with 500: the route is misconfigured and must
// not accept unauthenticated lender events.
func BearerAuth(token string, log logger.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				log.Error("webhook bearer token not configured, rejecting request", map[string]interface{}{
					"path": r.URL.Path,
				})
				writeError(w, http.StatusInternalServerError, &stderrors.StandardError{
					Code:      "WEBHOOK_NOT_CONFIGURED",
					Message:   "Webhook authentication is not configured",
					Timestamp: time.Now().UTC(),
				})
				return
			}

			presented, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(strings.TrimSpace(presented)), []byte(token)) != 1 {
				log.Warn("webhook rejected: bad credential", map[string]interface{}{
					"path":       r.URL.Path,
					"remoteAddr": r.RemoteAddr,
				})
				writeError(w, http.StatusUnauthorized, stderrors.NewWebhookUnauthorizedError())
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// RequestLogging logs one line per request.
func RequestLogging(log logger.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			log.Info("http request", map[string]interface{}{
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      rec.status,
				"duration_ms": time.Since(start).Milliseconds(),
			})
		})
	}
}
