// internal/api/router.go
package api

import (
	"net/http"
	"time"

	"funding-engine/internal/common/logger"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type RouterConfig struct {
	WebhookToken   string
	WebhookMaxBody int64
	SubmitTimeout  time.Duration
	ReadyTimeout   time.Duration
}

type RouterDeps struct {
	Submitter Submitter
	Webhook   WebhookDeps
	// Ready lists the dependencies /ready pings, by name.
	Ready map[string]Pinger
}

// NewRouter mounts the submission, webhook, health and metrics routes.
func NewRouter(cfg RouterConfig, deps RouterDeps, log logger.Logger) *mux.Router {
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = 2 * time.Second
	}

	r := mux.NewRouter()
	r.Use(RequestLogging(log))

	r.HandleFunc("/health", healthHandler).Methods(http.MethodGet)
	r.HandleFunc("/ready", readyHandler(deps.Ready, cfg.ReadyTimeout)).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	r.Handle("/api/funding-applications/{id}/submit",
		NewSubmitHandler(deps.Submitter, cfg.SubmitTimeout, log)).Methods(http.MethodPost)

	webhooks := r.PathPrefix("/webhooks").Subrouter()
	webhooks.Use(BearerAuth(cfg.WebhookToken, log))
	webhooks.Handle("/lenders", NewWebhookHandler(deps.Webhook, cfg.WebhookMaxBody, log)).Methods(http.MethodPost)

	return r
}
