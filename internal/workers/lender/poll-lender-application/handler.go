// internal/workers/lender/poll-lender-application/handler.go
package polllenderapplication

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	stderrors "funding-engine/internal/common/errors"
	"funding-engine/internal/common/logger"
	"funding-engine/internal/common/metrics"
	"funding-engine/internal/lenders"
	"funding-engine/internal/models"
	"funding-engine/internal/reconcile"
	"funding-engine/internal/store"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const (
	TaskType = "poll-lender-application"
)

const (
	DispositionNoReference = "no_reference"
	DispositionNoEvent     = "no_event"
)

// Store is the persistence the poll needs.
type Store interface {
	GetByID(ctx context.Context, id string) (*models.LenderApplication, error)
	SetNextPoll(ctx context.Context, lenderApplicationID string, next *time.Time) error
}

// ClientSource resolves the lender client for a row.
type ClientSource interface {
	Get(lenderType models.LenderType) (lenders.Client, error)
}

// Applier runs an event through the reconciliation state machine.
type Applier interface {
	Apply(ctx context.Context, ev reconcile.Event, source string) (reconcile.Outcome, error)
}

type Handler struct {
	config       *Config
	store        Store
	clients      ClientSource
	reconciler   Applier
	errorHandler *stderrors.ErrorHandler
	logger       logger.Logger
	now          func() time.Time
}

func NewHandler(config *Config, st Store, clients ClientSource, reconciler Applier, log logger.Logger) *Handler {
	l := log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:       config,
		store:        st,
		clients:      clients,
		reconciler:   reconciler,
		errorHandler: stderrors.NewErrorHandler(l),
		logger:       l,
		now:          time.Now,
	}
}

func (h *Handler) Handle(client worker.JobClient, job entities.Job) {
	start := time.Now()
	defer func() {
		metrics.WorkerJobDuration.WithLabelValues(TaskType).Observe(time.Since(start).Seconds())
	}()

	h.logger.Info("processing job", map[string]interface{}{
		"jobKey":      job.Key,
		"workflowKey": job.ProcessInstanceKey,
	})

	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	var input Input
	if err := json.Unmarshal([]byte(job.Variables), &input); err != nil {
		h.fail(client, job, stderrors.NewValidationError(fmt.Sprintf("parse input: %v", err)))
		return
	}

	output, err := h.execute(ctx, &input)
	if err != nil {
		h.fail(client, job, err)
		return
	}

	h.completeJob(client, job, output)
}

func (h *Handler) execute(ctx context.Context, input *Input) (*Output, error) {
	if input.LenderApplicationID == "" {
		return nil, stderrors.NewValidationError("lenderApplicationId is required")
	}

	la, err := h.store.GetByID(ctx, input.LenderApplicationID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, stderrors.NewLenderApplicationNotFoundError(input.LenderApplicationID)
	}
	if err != nil {
		return nil, stderrors.NewQueryExecutionFailedError("get lender application", err)
	}

	output := &Output{
		LenderApplicationID: la.ID,
		Status:              string(la.Status),
	}

	if la.Status.IsTerminal() {
		output.Disposition = string(reconcile.DispositionTerminal)
		return output, nil
	}
	if la.LenderReference == "" {
		output.Disposition = DispositionNoReference
		return output, nil
	}

	client, err := h.clients.Get(la.LenderType)
	if err != nil {
		return nil, err
	}

	result, err := client.CheckStatus(ctx, la.LenderReference)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, stderrors.NewLenderTimeoutError(string(la.LenderType), h.config.Timeout)
		}
		return nil, stderrors.NewLenderStatusFailedError(string(la.LenderType), err)
	}

	status := la.Status
	output.Disposition = DispositionNoEvent
	if result.Event != "" {
		output.LenderEvent = result.Event
		outcome, err := h.reconciler.Apply(ctx, reconcile.Event{
			Type:       models.ParseEvent(result.Event),
			Name:       result.Event,
			Reference:  la.LenderReference,
			OccurredAt: h.now().UTC(),
		}, reconcile.SourcePoll)
		if err != nil {
			return nil, stderrors.NewPollFailedError(la.ID, err)
		}
		output.Disposition = string(outcome.Disposition)
		if outcome.Status != "" {
			status = outcome.Status
		}
	}
	output.Status = string(status)

	if !status.IsTerminal() {
		next := h.now().Add(h.config.PollInterval).UTC()
		if err := h.store.SetNextPoll(ctx, la.ID, &next); err != nil {
			h.logger.Warn("next poll not stored, sweeper lease will retry", map[string]interface{}{
				"lenderApplicationId": la.ID,
				"error":               err.Error(),
			})
		} else {
			output.NextPollAt = next.Format(time.RFC3339)
		}
	}

	h.logger.Info("lender application polled", map[string]interface{}{
		"lenderApplicationId": la.ID,
		"lenderEvent":         output.LenderEvent,
		"disposition":         output.Disposition,
		"status":              output.Status,
	})
	return output, nil
}

func (h *Handler) fail(client worker.JobClient, job entities.Job, err error) {
	stdErr := stderrors.Normalize(err)
	metrics.WorkerJobsFailed.WithLabelValues(TaskType, string(stdErr.Code)).Inc()
	h.errorHandler.HandleJobError(context.Background(), client, job, stdErr)
}

func (h *Handler) completeJob(client worker.JobClient, job entities.Job, output *Output) {
	cmd, err := client.NewCompleteJobCommand().
		JobKey(job.Key).
		VariablesFromObject(output)
	if err != nil {
		h.logger.Error("failed to create complete job command", map[string]interface{}{
			"error": err,
		})
		return
	}
	_, err = cmd.Send(context.Background())
	if err != nil {
		h.logger.Error("failed to send complete job command", map[string]interface{}{
			"error": err,
		})
		return
	}
	metrics.WorkerJobsCompleted.WithLabelValues(TaskType).Inc()
	h.logger.Info("job completed successfully", map[string]interface{}{
		"jobKey": job.Key,
	})
}

func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	return h.execute(ctx, input)
}
