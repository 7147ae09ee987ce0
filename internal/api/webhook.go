// internal/api/webhook.go
package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	stderrors "funding-engine/internal/common/errors"
	"funding-engine/internal/common/logger"
	"funding-engine/internal/common/metrics"
	"funding-engine/internal/models"
	"funding-engine/internal/reconcile"
	"funding-engine/internal/tasks"
)

const (
	TaskKindEventAudit = "event-audit"

	defaultMaxWebhookBody = 256 << 10
	dispositionDuplicate  = "duplicate_delivery"
)

// Reconciler applies lender events to stored state.
type Reconciler interface {
	Apply(ctx context.Context, ev reconcile.Event, source string) (reconcile.Outcome, error)
}

// EventRecorder keeps a copy of every authenticated inbound event.
type EventRecorder interface {
	RecordEvent(ctx context.Context, ev reconcile.Event, source string) error
}

type Enqueuer interface {
	Enqueue(t tasks.Task) error
}

type webhookEnvelope struct {
	Event         string          `json:"event"`
	UUID          string          `json:"uuid"`
	Timestamp     json.RawMessage `json:"timestamp"`
	ApplicationID json.RawMessage `json:"applicationId"`
	Data          json.RawMessage `json:"data"`
}

type webhookResponse struct {
	Received    bool   `json:"received"`
	Disposition string `json:"disposition"`
}

type WebhookDeps struct {
	Reconciler Reconciler
	Deduper    Deduper
	Recorder   EventRecorder
	Queue      Enqueuer
}

type WebhookHandler struct {
	reconciler Reconciler
	deduper    Deduper
	recorder   EventRecorder
	queue      Enqueuer
	maxBody    int64
	logger     logger.Logger
	now        func() time.Time
}

func NewWebhookHandler(deps WebhookDeps, maxBody int64, log logger.Logger) *WebhookHandler {
	if maxBody <= 0 {
		maxBody = defaultMaxWebhookBody
	}
	return &WebhookHandler{
		reconciler: deps.Reconciler,
		deduper:    deps.Deduper,
		recorder:   deps.Recorder,
		queue:      deps.Queue,
		maxBody:    maxBody,
		logger:     log.WithFields(map[string]interface{}{"handler": "lender-webhook"}),
		now:        time.Now,
	}
}

// ServeHTTP acknowledges every authenticated, parseable event with 200. Only
// a transient store failure returns 500 so the lender redelivers.
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err != nil {
		h.reject(w, "body unreadable or too large")
		return
	}

	result, err := webhookEnvelopeSchema.Validate(raw)
	if err != nil {
		h.reject(w, "body is not valid JSON")
		return
	}
	if !result.Valid {
		h.reject(w, strings.Join(result.GetErrorMessages(), "; "))
		return
	}

	var env webhookEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		h.reject(w, err.Error())
		return
	}

	reference := lenderReference(env.ApplicationID)
	ev := reconcile.Event{
		Type:       models.ParseEvent(env.Event),
		Name:       env.Event,
		UUID:       env.UUID,
		Reference:  reference,
		OccurredAt: h.parseTimestamp(env.Timestamp),
		Data:       env.Data,
	}
	log := h.logger.WithFields(map[string]interface{}{
		"event":           env.Event,
		"eventUuid":       env.UUID,
		"lenderReference": reference,
	})

	h.record(ev, log)

	ctx := r.Context()
	claimed := false
	if ev.UUID != "" && h.deduper != nil {
		first, err := h.deduper.Claim(ctx, ev.UUID)
		switch {
		case err != nil:
			// state-machine guards still hold without the cache
			log.Warn("webhook dedupe unavailable, processing event", map[string]interface{}{
				"error": err.Error(),
			})
		case !first:
			log.Info("duplicate webhook delivery acknowledged", nil)
			h.respond(w, ev, dispositionDuplicate)
			return
		default:
			claimed = true
		}
	}

	outcome, err := h.reconciler.Apply(ctx, ev, reconcile.SourceWebhook)
	if err != nil {
		if claimed {
			if relErr := h.deduper.Release(context.Background(), ev.UUID); relErr != nil {
				log.Error("failed to release webhook dedupe key", map[string]interface{}{
					"error": relErr.Error(),
				})
			}
		}
		log.Error("webhook processing failed, lender will retry", map[string]interface{}{
			"error": err.Error(),
		})
		metrics.WebhookEventsTotal.WithLabelValues(ev.Type.String(), "error").Inc()
		writeError(w, http.StatusInternalServerError, &stderrors.StandardError{
			Code:      stderrors.ErrCodeQueryExecutionFailed,
			Message:   "Event could not be processed, retry later",
			Retryable: true,
			Timestamp: h.now().UTC(),
		})
		return
	}

	log.Info("webhook processed", map[string]interface{}{
		"disposition":         outcome.Disposition,
		"lenderApplicationId": outcome.LenderApplicationID,
		"status":              outcome.Status,
	})
	h.respond(w, ev, string(outcome.Disposition))
}

func (h *WebhookHandler) reject(w http.ResponseWriter, details string) {
	h.logger.Warn("webhook payload rejected", map[string]interface{}{"details": details})
	metrics.WebhookEventsTotal.WithLabelValues("unparseable", "rejected").Inc()
	writeError(w, http.StatusBadRequest, stderrors.NewWebhookPayloadInvalidError(details))
}

func (h *WebhookHandler) respond(w http.ResponseWriter, ev reconcile.Event, disposition string) {
	metrics.WebhookEventsTotal.WithLabelValues(ev.Type.String(), disposition).Inc()
	writeJSON(w, http.StatusOK, webhookResponse{Received: true, Disposition: disposition})
}

// record hands the raw event to the audit trail without waiting for it.
func (h *WebhookHandler) record(ev reconcile.Event, log logger.Logger) {
	if h.recorder == nil || h.queue == nil {
		return
	}
	err := h.queue.Enqueue(tasks.Task{
		Kind: TaskKindEventAudit,
		Run: func(ctx context.Context) error {
			return h.recorder.RecordEvent(ctx, ev, reconcile.SourceWebhook)
		},
	})
	if err != nil {
		log.Warn("webhook audit not queued", map[string]interface{}{"error": err.Error()})
	}
}

// lenderReference renders applicationId as text. Lenders send it as a string
// or a bare number; batch-level events omit it.
func lenderReference(raw json.RawMessage) string {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return ""
	}
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		return strings.TrimSpace(str)
	}
	return s
}

// parseTimestamp accepts RFC 3339 strings and unix seconds or milliseconds.
// Anything else falls back to the receive time.
func (h *WebhookHandler) parseTimestamp(raw json.RawMessage) time.Time {
	s := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	if s == "" || s == "null" {
		return h.now().UTC()
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC()
	}
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		if n > 1e12 {
			return time.UnixMilli(int64(n)).UTC()
		}
		return time.Unix(int64(n), 0).UTC()
	}
	return h.now().UTC()
}
