// internal/submission/coordinator.go
package submission

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"funding-engine/internal/common/config"
	stderrors "funding-engine/internal/common/errors"
	"funding-engine/internal/common/logger"
	"funding-engine/internal/common/metrics"
	"funding-engine/internal/lenders"
	"funding-engine/internal/models"
	"funding-engine/internal/store"
	"funding-engine/internal/tasks"
)

const (
	TaskKindDocumentUpload = "document-upload"
	TaskKindOpsAlert       = "ops-alert"
)

// Store is the persistence the coordinator needs.
type Store interface {
	MarkFundingApplicationSubmitted(ctx context.Context, fundingApplicationID string) (bool, error)
	FindExisting(ctx context.Context, fundingApplicationID, lenderID string) (*models.LenderApplication, error)
	Create(ctx context.Context, p store.CreateParams) (*models.LenderApplication, error)
	MarkResubmitted(ctx context.Context, id, lenderReference string, nextPollAt *time.Time) (bool, error)
	RecordFailedAttempt(ctx context.Context, id string, details *models.ErrorDetails) error
	RecordDocumentUpload(ctx context.Context, lenderApplicationID, documentID, status, externalReference, uploadErr string) error
}

type LenderRegistry interface {
	EligibleLenders(ctx context.Context, fundingType string) ([]models.Lender, error)
}

type DocumentProvider interface {
	ListForCompany(ctx context.Context, companyID string, limit int) ([]models.Document, error)
}

type ClientSource interface {
	Get(lenderType models.LenderType) (lenders.Client, error)
}

type PollScheduler interface {
	SchedulePoll(ctx context.Context, lenderApplicationID string)
}

type Enqueuer interface {
	Enqueue(t tasks.Task) error
}

// FailureAlerter is told when a submission reached no lender at all.
type FailureAlerter interface {
	SubmissionFailed(ctx context.Context, fundingApplicationID string, errs []LenderError) error
}

type Config struct {
	MaxDocuments  int
	LenderTimeout time.Duration
	UploadTimeout time.Duration
	PollInterval  time.Duration
}

func ConfigFrom(cfg *config.Config) *Config {
	return &Config{
		MaxDocuments:  cfg.Submission.MaxDocuments,
		LenderTimeout: config.GetDuration(cfg.Submission.LenderTimeout),
		UploadTimeout: config.GetDuration(cfg.Submission.UploadTimeout),
		PollInterval:  config.GetDuration(cfg.Polling.Interval),
	}
}

// Coordinator fans one funding application out to every eligible lender.
type Coordinator struct {
	config    *Config
	store     Store
	registry  LenderRegistry
	documents DocumentProvider
	clients   ClientSource
	polls     PollScheduler
	queue     Enqueuer
	alerter   FailureAlerter
	logger    logger.Logger
	now       func() time.Time
}

type Deps struct {
	Store     Store
	Registry  LenderRegistry
	Documents DocumentProvider
	Clients   ClientSource
	Polls     PollScheduler
	Queue     Enqueuer
	Alerter   FailureAlerter
}

func NewCoordinator(config *Config, deps Deps, log logger.Logger) *Coordinator {
	if config.LenderTimeout <= 0 {
		config.LenderTimeout = 30 * time.Second
	}
	if config.UploadTimeout <= 0 {
		config.UploadTimeout = time.Minute
	}
	if config.PollInterval <= 0 {
		config.PollInterval = 15 * time.Minute
	}
	return &Coordinator{
		config:    config,
		store:     deps.Store,
		registry:  deps.Registry,
		documents: deps.Documents,
		clients:   deps.Clients,
		polls:     deps.Polls,
		queue:     deps.Queue,
		alerter:   deps.Alerter,
		logger:    log.WithFields(map[string]interface{}{"component": "submission-coordinator"}),
		now:       time.Now,
	}
}

// Validate checks the request before anything is read or written.
func Validate(req *Request) error {
	var problems []string
	if strings.TrimSpace(req.FundingApplicationID) == "" {
		problems = append(problems, "fundingApplicationId is required")
	}
	if strings.TrimSpace(req.CompanyID) == "" {
		problems = append(problems, "companyId is required")
	}
	if strings.TrimSpace(req.FundingType) == "" {
		problems = append(problems, "fundingType is required")
	}
	if !req.Amount.IsPositive() {
		problems = append(problems, "amount must be greater than 0")
	}
	if req.TermMonths != nil && *req.TermMonths <= 0 {
		problems = append(problems, "termMonths must be greater than 0")
	}
	if len(problems) > 0 {
		return stderrors.NewValidationError(strings.Join(problems, "; "))
	}
	return nil
}

// lenderJob is one lender the fork-join will contact.
type lenderJob struct {
	lender   models.Lender
	existing *models.LenderApplication
}

// Submit validates req, marks the funding application submitted and submits to
// every eligible lender concurrently. Per-lender failures are reported in the
// Result; only validation, a missing funding application, or a failure before
// the fan-out is returned as an error.
func (c *Coordinator) Submit(ctx context.Context, req *Request) (*Result, error) {
	if err := Validate(req); err != nil {
		return nil, err
	}

	log := c.logger.WithFields(map[string]interface{}{
		"fundingApplicationId": req.FundingApplicationID,
		"companyId":            req.CompanyID,
		"userId":               req.UserID,
	})

	if _, err := c.store.MarkFundingApplicationSubmitted(ctx, req.FundingApplicationID); err != nil {
		if errors.Is(err, store.ErrFundingApplicationNotFound) {
			return nil, stderrors.NewFundingApplicationNotFoundError(req.FundingApplicationID)
		}
		return nil, queryFailed(ctx, "mark funding application submitted", err)
	}

	eligible, err := c.registry.EligibleLenders(ctx, req.FundingType)
	if err != nil {
		return nil, queryFailed(ctx, "eligible lenders", err)
	}

	result := &Result{
		FundingApplicationID: req.FundingApplicationID,
		Created:              []CreatedApplication{},
		Errors:               []LenderError{},
		Skipped:              []SkippedLender{},
	}

	var jobs []lenderJob
	for _, lender := range eligible {
		existing, err := c.store.FindExisting(ctx, req.FundingApplicationID, lender.ID)
		if err != nil {
			return nil, queryFailed(ctx, "find existing lender application", err)
		}
		if existing != nil && existing.Status != models.StatusPending {
			result.Skipped = append(result.Skipped, SkippedLender{
				LenderID:            lender.ID,
				LenderName:          lender.Name,
				LenderApplicationID: existing.ID,
				Status:              string(existing.Status),
			})
			continue
		}
		jobs = append(jobs, lenderJob{lender: lender, existing: existing})
	}

	var docs []models.Document
	if len(jobs) > 0 {
		docs = c.fetchDocuments(ctx, req, log)
	}

	result.Attempted = len(jobs)
	c.fanOut(ctx, req, jobs, docs, result, log)

	for _, created := range result.Created {
		c.polls.SchedulePoll(ctx, created.LenderApplicationID)
	}

	result.finalize()
	metrics.SubmissionsTotal.WithLabelValues(string(result.Outcome())).Inc()

	if result.Outcome() == OutcomeFailed {
		c.alertTotalFailure(req.FundingApplicationID, result.Errors, log)
	}

	log.Info("submission finished", map[string]interface{}{
		"eligible":  len(eligible),
		"attempted": result.Attempted,
		"succeeded": result.Succeeded,
		"errors":    len(result.Errors),
		"skipped":   len(result.Skipped),
		"outcome":   result.Outcome(),
	})
	return result, nil
}

// fetchDocuments loads the company's documents once for every lender. A
// failure is logged and the submission continues without documents.
func (c *Coordinator) fetchDocuments(ctx context.Context, req *Request, log logger.Logger) []models.Document {
	docs, err := c.documents.ListForCompany(ctx, req.CompanyID, c.config.MaxDocuments)
	if err != nil {
		stdErr := stderrors.NewDocumentFetchFailedError(err)
		log.Warn("document fetch failed, submitting without documents", map[string]interface{}{
			"errorCode": string(stdErr.Code),
			"error":     stdErr.Details,
		})
		return nil
	}
	return docs
}

// queryFailed reports a deadline hit while querying as a timeout rather than
// a generic query failure.
func queryFailed(ctx context.Context, queryType string, err error) *stderrors.StandardError {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return stderrors.NewQueryTimeoutError(queryType)
	}
	return stderrors.NewQueryExecutionFailedError(queryType, err)
}

func (c *Coordinator) fanOut(ctx context.Context, req *Request, jobs []lenderJob, docs []models.Document, result *Result, log logger.Logger) {
	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)

	for _, job := range jobs {
		wg.Add(1)
		go func(job lenderJob) {
			defer wg.Done()

			created, lenderErr := c.runUnit(ctx, req, job, docs, log)

			mu.Lock()
			defer mu.Unlock()
			if lenderErr != nil {
				result.Errors = append(result.Errors, *lenderErr)
				return
			}
			result.Succeeded++
			result.Created = append(result.Created, *created)
		}(job)
	}

	wg.Wait()

	// goroutine completion order is not meaningful to callers
	sort.Slice(result.Created, func(i, j int) bool { return result.Created[i].LenderName < result.Created[j].LenderName })
	sort.Slice(result.Errors, func(i, j int) bool { return result.Errors[i].LenderName < result.Errors[j].LenderName })
}

// runUnit keeps a panic inside one lender's submission from taking down the
// sibling units or the process.
func (c *Coordinator) runUnit(ctx context.Context, req *Request, job lenderJob, docs []models.Document, log logger.Logger) (created *CreatedApplication, lenderErr *LenderError) {
	defer func() {
		if r := recover(); r != nil {
			stdErr := stderrors.NewLenderSubmissionFailedError(string(job.lender.Type), fmt.Errorf("submission panicked: %v", r))
			log.Error("lender submission panicked", map[string]interface{}{
				"lenderId": job.lender.ID,
				"panic":    fmt.Sprint(r),
			})
			created = nil
			lenderErr = &LenderError{
				LenderID:   job.lender.ID,
				LenderName: job.lender.Name,
				Code:       string(stdErr.Code),
				Message:    stdErr.Message,
			}
		}
	}()
	return c.submitToLender(ctx, req, job, docs, log)
}

type submitReply struct {
	res *lenders.Result
	err error
}

func (c *Coordinator) submitToLender(ctx context.Context, req *Request, job lenderJob, docs []models.Document, log logger.Logger) (*CreatedApplication, *LenderError) {
	lender := job.lender
	log = log.WithFields(map[string]interface{}{
		"lenderId":   lender.ID,
		"lenderType": lender.Type,
	})

	client, err := c.clients.Get(lender.Type)
	if err != nil {
		return nil, c.recordFailure(ctx, req, job, err, log)
	}

	subReq := &lenders.SubmitRequest{
		FundingApplicationID: req.FundingApplicationID,
		CompanyID:            req.CompanyID,
		Amount:               req.Amount,
		TermMonths:           req.TermMonths,
		FundingType:          req.FundingType,
		Applicant:            req.Applicant,
	}
	if !client.RequiresSeparateDocuments() {
		subReq.Documents = docs
	}

	callCtx, cancel := context.WithTimeout(ctx, c.config.LenderTimeout)
	defer cancel()

	replies := make(chan submitReply, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				replies <- submitReply{err: fmt.Errorf("lender client panicked: %v", r)}
			}
		}()
		res, err := client.Submit(callCtx, subReq)
		replies <- submitReply{res: res, err: err}
	}()

	var reply submitReply
	select {
	case reply = <-replies:
	case <-callCtx.Done():
		reply = submitReply{err: callCtx.Err()}
	}

	if reply.err == nil && (reply.res == nil || reply.res.Reference == "") {
		reply.err = fmt.Errorf("%w: lender returned no reference", lenders.ErrSubmissionRejected)
	}
	if reply.err != nil {
		if errors.Is(reply.err, context.DeadlineExceeded) {
			return nil, c.recordFailure(ctx, req, job, stderrors.NewLenderTimeoutError(string(lender.Type), c.config.LenderTimeout), log)
		}
		return nil, c.recordFailure(ctx, req, job, stderrors.NewLenderSubmissionFailedError(string(lender.Type), reply.err), log)
	}

	reference := reply.res.Reference
	nextPoll := c.now().Add(c.config.PollInterval).UTC()

	var laID string
	if job.existing != nil {
		ok, err := c.store.MarkResubmitted(ctx, job.existing.ID, reference, &nextPoll)
		if err != nil {
			return nil, c.storeFailure(lender, reference, err, log)
		}
		if !ok {
			log.Warn("pending lender application changed during resubmission", map[string]interface{}{
				"lenderApplicationId": job.existing.ID,
				"lenderReference":     reference,
			})
		}
		laID = job.existing.ID
	} else {
		la, err := c.store.Create(ctx, store.CreateParams{
			FundingApplicationID: req.FundingApplicationID,
			LenderID:             lender.ID,
			LenderType:           lender.Type,
			LenderReference:      reference,
			Status:               models.StatusSubmitted,
			NextPollAt:           &nextPoll,
		})
		if err != nil {
			return nil, c.storeFailure(lender, reference, err, log)
		}
		laID = la.ID
	}

	if client.RequiresSeparateDocuments() {
		c.enqueueUploads(client, laID, reference, docs, log)
	}

	log.Info("submitted to lender", map[string]interface{}{
		"lenderApplicationId": laID,
		"lenderReference":     reference,
	})
	return &CreatedApplication{
		LenderID:            lender.ID,
		LenderName:          lender.Name,
		LenderApplicationID: laID,
		LenderReference:     reference,
	}, nil
}

// recordFailure keeps a pending row with the error so a later submission
// retries this lender instead of skipping it.
func (c *Coordinator) recordFailure(ctx context.Context, req *Request, job lenderJob, cause error, log logger.Logger) *LenderError {
	stdErr := stderrors.Normalize(cause)
	details := &models.ErrorDetails{
		Code:       string(stdErr.Code),
		Message:    stdErr.Message,
		Source:     "submission",
		OccurredAt: c.now().UTC(),
	}

	log.Warn("lender submission failed", map[string]interface{}{
		"errorCode": stdErr.Code,
		"error":     stdErr.Error(),
	})

	var err error
	if job.existing != nil {
		err = c.store.RecordFailedAttempt(ctx, job.existing.ID, details)
	} else {
		_, err = c.store.Create(ctx, store.CreateParams{
			FundingApplicationID: req.FundingApplicationID,
			LenderID:             job.lender.ID,
			LenderType:           job.lender.Type,
			Status:               models.StatusPending,
			ErrorDetails:         details,
		})
	}
	if err != nil {
		log.Error("failed to record lender submission failure", map[string]interface{}{
			"error": err.Error(),
		})
	}

	return &LenderError{
		LenderID:   job.lender.ID,
		LenderName: job.lender.Name,
		Code:       string(stdErr.Code),
		Message:    stdErr.Message,
	}
}

// storeFailure reports a lender that accepted the application but whose row
// could not be written. The reference is logged so the row can be repaired.
func (c *Coordinator) storeFailure(lender models.Lender, reference string, err error, log logger.Logger) *LenderError {
	log.Error("lender accepted application but row was not stored", map[string]interface{}{
		"lenderReference": reference,
		"error":           err.Error(),
	})
	stdErr := stderrors.NewDatabaseInsertFailedError(err)
	return &LenderError{
		LenderID:   lender.ID,
		LenderName: lender.Name,
		Code:       string(stdErr.Code),
		Message:    stdErr.Message,
	}
}

func (c *Coordinator) enqueueUploads(client lenders.Client, lenderApplicationID, reference string, docs []models.Document, log logger.Logger) {
	for _, doc := range docs {
		doc := doc
		err := c.queue.Enqueue(tasks.Task{
			Kind:    TaskKindDocumentUpload,
			Timeout: c.config.UploadTimeout,
			Run: func(ctx context.Context) error {
				return c.uploadDocument(ctx, client, lenderApplicationID, reference, doc)
			},
		})
		if err != nil {
			log.Warn("document upload not queued", map[string]interface{}{
				"lenderApplicationId": lenderApplicationID,
				"documentId":          doc.ID,
				"error":               err.Error(),
			})
		}
	}
}

func (c *Coordinator) uploadDocument(ctx context.Context, client lenders.Client, lenderApplicationID, reference string, doc models.Document) error {
	res, err := client.UploadDocument(ctx, reference, doc)
	if err != nil {
		if recErr := c.store.RecordDocumentUpload(ctx, lenderApplicationID, doc.ID, models.UploadStatusFailed, "", err.Error()); recErr != nil {
			c.logger.Error("failed to record document upload failure", map[string]interface{}{
				"lenderApplicationId": lenderApplicationID,
				"documentId":          doc.ID,
				"error":               recErr.Error(),
			})
		}
		return stderrors.NewDocumentUploadFailedError(doc.ID, err)
	}
	return c.store.RecordDocumentUpload(ctx, lenderApplicationID, doc.ID, models.UploadStatusUploaded, res.Reference, "")
}

func (c *Coordinator) alertTotalFailure(fundingApplicationID string, errs []LenderError, log logger.Logger) {
	if c.alerter == nil {
		return
	}
	snapshot := append([]LenderError(nil), errs...)
	err := c.queue.Enqueue(tasks.Task{
		Kind: TaskKindOpsAlert,
		Run: func(ctx context.Context) error {
			return c.alerter.SubmissionFailed(ctx, fundingApplicationID, snapshot)
		},
	})
	if err != nil {
		log.Warn("total failure alert not queued", map[string]interface{}{"error": err.Error()})
	}
}
