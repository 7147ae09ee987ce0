// internal/reconcile/reconciler.go
package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	stderrors "funding-engine/internal/common/errors"
	"funding-engine/internal/common/logger"
	"funding-engine/internal/common/metrics"
	"funding-engine/internal/lenders"
	"funding-engine/internal/models"
	"funding-engine/internal/store"
)

// Event sources.
const (
	SourceWebhook = "webhook"
	SourcePoll    = "poll"
)

// Disposition describes what Apply did with an event.
type Disposition string

const (
	DispositionApplied   Disposition = "applied"
	DispositionNoChange  Disposition = "no_change"
	DispositionDuplicate Disposition = "duplicate"
	DispositionTerminal  Disposition = "terminal"
	DispositionStale     Disposition = "stale"
	DispositionOrphan    Disposition = "orphan"
	DispositionIgnored   Disposition = "ignored"
	DispositionUnknown   Disposition = "unknown"
)

// Event is a lender lifecycle event resolved from a webhook body or a poll.
type Event struct {
	Type       models.EventType
	Name       string
	UUID       string
	Reference  string
	OccurredAt time.Time
	Data       json.RawMessage
}

// Outcome is returned for every event Apply accepts.
type Outcome struct {
	Disposition         Disposition
	LenderApplicationID string
	Status              models.LenderApplicationStatus
}

// Transition is emitted after a status change is stored.
type Transition struct {
	LenderApplicationID  string
	FundingApplicationID string
	LenderReference      string
	LenderType           models.LenderType
	Event                models.EventType
	From                 models.LenderApplicationStatus
	To                   models.LenderApplicationStatus
	Source               string
	At                   time.Time
}

// Listener observes applied transitions. Implementations must not block.
type Listener interface {
	OnTransition(ctx context.Context, t Transition)
}

// AnomalyReporter is told about events that reference no known application.
type AnomalyReporter interface {
	ReportOrphan(ctx context.Context, ev Event, source string)
}

// Store is the persistence the reconciler needs.
type Store interface {
	GetByReference(ctx context.Context, lenderReference string) (*models.LenderApplication, error)
	UpdateStatus(ctx context.Context, lenderReference string, status models.LenderApplicationStatus, extra *store.StatusUpdate) (store.UpdateResult, error)
	RecordDisbursement(ctx context.Context, lenderReference string) (store.UpdateResult, bool, error)
	HasOffers(ctx context.Context, lenderApplicationID string) (bool, error)
	InsertOffers(ctx context.Context, lenderApplicationID string, offers []models.Offer) (int, error)
}

// ClientSource resolves the lender client for a row.
type ClientSource interface {
	Get(lenderType models.LenderType) (lenders.Client, error)
}

var statusForEvent = map[models.EventType]models.LenderApplicationStatus{
	models.EventApplicationReceived:  models.StatusSubmitted,
	models.EventApplicationDeclined:  models.StatusRejected,
	models.EventContractReady:        models.StatusContractReady,
	models.EventContractSigned:       models.StatusContractSigned,
	models.EventContractFailed:       models.StatusContractFailed,
	models.EventLoanDisbursed:        models.StatusDisbursed,
	models.EventApplicationWithdrawn: models.StatusWithdrawn,
}

// Reconciler applies lender lifecycle events to stored lender applications.
// Webhooks and polls share it, so both paths get the same terminal guard,
// never-regress guard and offer idempotency.
type Reconciler struct {
	store     Store
	clients   ClientSource
	listeners []Listener
	anomalies AnomalyReporter
	logger    logger.Logger
	now       func() time.Time
}

func New(st Store, clients ClientSource, log logger.Logger) *Reconciler {
	return &Reconciler{
		store:   st,
		clients: clients,
		logger:  log.WithFields(map[string]interface{}{"component": "reconciler"}),
		now:     time.Now,
	}
}

// WithListener registers l for applied transitions.
func (r *Reconciler) WithListener(l Listener) *Reconciler {
	r.listeners = append(r.listeners, l)
	return r
}

// WithAnomalyReporter sets where orphan events are reported.
func (r *Reconciler) WithAnomalyReporter(a AnomalyReporter) *Reconciler {
	r.anomalies = a
	return r
}

// Apply runs ev through the state machine. The returned error is non-nil only
// for transient failures worth a redelivery; every other case, including
// unknown events and orphans, is reported through Outcome.
func (r *Reconciler) Apply(ctx context.Context, ev Event, source string) (Outcome, error) {
	fields := map[string]interface{}{
		"event":           ev.Type.String(),
		"eventUuid":       ev.UUID,
		"lenderReference": ev.Reference,
		"source":          source,
	}

	switch ev.Type {
	case models.EventUnknown:
		fields["eventName"] = ev.Name
		r.logger.Warn("unrecognised lender event acknowledged", fields)
		return Outcome{Disposition: DispositionUnknown}, nil
	case models.EventOffersUpdated, models.EventBatchCompleted:
		r.logger.Info("lender event logged without state change", fields)
		return Outcome{Disposition: DispositionIgnored}, nil
	}

	if ev.Reference == "" {
		r.logger.Warn("lender event without reference", fields)
		if r.anomalies != nil {
			r.anomalies.ReportOrphan(ctx, ev, source)
		}
		return Outcome{Disposition: DispositionOrphan}, nil
	}

	la, err := r.store.GetByReference(ctx, ev.Reference)
	if errors.Is(err, store.ErrNotFound) {
		r.logger.Warn("lender event for unknown reference", fields)
		if r.anomalies != nil {
			r.anomalies.ReportOrphan(ctx, ev, source)
		}
		return Outcome{Disposition: DispositionOrphan}, nil
	}
	if err != nil {
		return Outcome{}, err
	}

	fields["lenderApplicationId"] = la.ID
	fields["currentStatus"] = la.Status

	if la.Status.IsTerminal() {
		r.logger.Debug("lender application is terminal, event ignored", fields)
		return Outcome{Disposition: DispositionTerminal, LenderApplicationID: la.ID, Status: la.Status}, nil
	}

	if ev.Type == models.EventOffersCreated {
		return r.applyOffers(ctx, la, ev, source, fields)
	}

	target, ok := statusForEvent[ev.Type]
	if !ok {
		r.logger.Warn("lender event has no transition", fields)
		return Outcome{Disposition: DispositionUnknown, LenderApplicationID: la.ID, Status: la.Status}, nil
	}
	return r.transition(ctx, la, ev, target, nil, source, fields)
}

func (r *Reconciler) transition(
	ctx context.Context,
	la *models.LenderApplication,
	ev Event,
	target models.LenderApplicationStatus,
	extra *store.StatusUpdate,
	source string,
	fields map[string]interface{},
) (Outcome, error) {
	fields["targetStatus"] = target

	if target == la.Status {
		return Outcome{Disposition: DispositionNoChange, LenderApplicationID: la.ID, Status: la.Status}, nil
	}
	if !target.IsTerminal() && target.Rank() < la.Status.Rank() {
		r.logger.Info("stale lender event ignored", fields)
		return Outcome{Disposition: DispositionStale, LenderApplicationID: la.ID, Status: la.Status}, nil
	}

	var (
		res       store.UpdateResult
		disbursed bool
		err       error
	)
	if target == models.StatusDisbursed {
		res, disbursed, err = r.store.RecordDisbursement(ctx, la.LenderReference)
	} else {
		res, err = r.store.UpdateStatus(ctx, la.LenderReference, target, extra)
	}
	if err != nil {
		return Outcome{}, err
	}

	switch res.Outcome {
	case store.UpdateSkippedTerminal:
		return Outcome{Disposition: DispositionTerminal, LenderApplicationID: la.ID, Status: la.Status}, nil
	case store.UpdateNotFound:
		return Outcome{Disposition: DispositionOrphan}, nil
	}

	metrics.StatusTransitionsTotal.WithLabelValues(string(target), source).Inc()
	fields["fundingApplicationDisbursed"] = disbursed
	r.logger.Info("lender application transitioned", fields)

	t := Transition{
		LenderApplicationID:  la.ID,
		FundingApplicationID: la.FundingApplicationID,
		LenderReference:      la.LenderReference,
		LenderType:           la.LenderType,
		Event:                ev.Type,
		From:                 la.Status,
		To:                   target,
		Source:               source,
		At:                   r.now().UTC(),
	}
	for _, l := range r.listeners {
		l.OnTransition(ctx, t)
	}

	return Outcome{Disposition: DispositionApplied, LenderApplicationID: la.ID, Status: target}, nil
}

// applyOffers ingests the lender's offer set once per lender application.
func (r *Reconciler) applyOffers(ctx context.Context, la *models.LenderApplication, ev Event, source string, fields map[string]interface{}) (Outcome, error) {
	if models.StatusOffersReceived.Rank() < la.Status.Rank() {
		r.logger.Info("stale lender event ignored", fields)
		return Outcome{Disposition: DispositionStale, LenderApplicationID: la.ID, Status: la.Status}, nil
	}

	exists, err := r.store.HasOffers(ctx, la.ID)
	if err != nil {
		return Outcome{}, err
	}
	if exists {
		r.logger.Info("offers already ingested, duplicate delivery skipped", fields)
		return Outcome{Disposition: DispositionDuplicate, LenderApplicationID: la.ID, Status: la.Status}, nil
	}

	client, err := r.clients.Get(la.LenderType)
	if err != nil {
		return r.offerFailure(ctx, la, ev, err, source, fields)
	}

	result, err := client.FetchOffers(ctx, la.LenderReference)
	if err != nil {
		return r.offerFailure(ctx, la, ev, stderrors.NewOfferFetchFailedError(string(la.LenderType), err), source, fields)
	}

	if len(result.Offers) == 0 {
		return r.transition(ctx, la, ev, models.StatusNoOffers, &store.StatusUpdate{ClearError: true}, source, fields)
	}

	inserted, err := r.store.InsertOffers(ctx, la.ID, result.Offers)
	if err != nil {
		return r.offerFailure(ctx, la, ev, err, source, fields)
	}
	fields["offersInserted"] = inserted

	return r.transition(ctx, la, ev, models.StatusOffersReceived, &store.StatusUpdate{ClearError: true}, source, fields)
}

func (r *Reconciler) offerFailure(ctx context.Context, la *models.LenderApplication, ev Event, cause error, source string, fields map[string]interface{}) (Outcome, error) {
	fields["error"] = cause.Error()
	r.logger.Error("offer ingestion failed", fields)

	details := &models.ErrorDetails{
		Code:       string(stderrors.ErrCodeOfferFetchFailed),
		Message:    cause.Error(),
		Source:     source,
		OccurredAt: r.now().UTC(),
	}
	if stdErr, ok := stderrors.As(cause); ok {
		details.Code = string(stdErr.Code)
	}
	return r.transition(ctx, la, ev, models.StatusOfferProcessingFailed, &store.StatusUpdate{ErrorDetails: details}, source, fields)
}
