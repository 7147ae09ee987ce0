// internal/lenders/client.go
package lenders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"funding-engine/internal/common/config"
	stderrors "funding-engine/internal/common/errors"
	"funding-engine/internal/common/logger"
	"funding-engine/internal/common/metrics"
	"funding-engine/internal/common/observability"
	"funding-engine/internal/models"

	"github.com/shopspring/decimal"
)

var (
	ErrSubmissionRejected = errors.New("LENDER_SUBMISSION_REJECTED")
	ErrUploadNotSupported = errors.New("DOCUMENT_UPLOAD_NOT_SUPPORTED")
	ErrUnknownReference   = errors.New("LENDER_REFERENCE_UNKNOWN")
)

// SubmitRequest is the lender-agnostic application payload.
type SubmitRequest struct {
	FundingApplicationID string
	CompanyID            string
	Amount               decimal.Decimal
	TermMonths           *int
	FundingType          string
	Applicant            models.Applicant
	// Documents is populated only for lenders that take them inline.
	Documents []models.Document
}

// Result is the uniform envelope every lender call returns.
type Result struct {
	Reference string
	// Event is the lifecycle event a status check resolved to; empty means
	// the lender reports no change worth applying.
	Event  string
	Offers []models.Offer
}

// Client is implemented once per lender type.
type Client interface {
	Type() models.LenderType
	// RequiresSeparateDocuments reports whether documents go through
	// UploadDocument after Submit instead of inline.
	RequiresSeparateDocuments() bool
	Submit(ctx context.Context, req *SubmitRequest) (*Result, error)
	FetchOffers(ctx context.Context, reference string) (*Result, error)
	UploadDocument(ctx context.Context, reference string, doc models.Document) (*Result, error)
	CheckStatus(ctx context.Context, reference string) (*Result, error)
}

// Factory selects a Client by lender type.
type Factory struct {
	clients map[models.LenderType]Client
}

func NewFactory(clients ...Client) *Factory {
	f := &Factory{clients: make(map[models.LenderType]Client, len(clients))}
	for _, c := range clients {
		f.clients[c.Type()] = c
	}
	return f
}

// Get returns the client for lenderType or a LENDER_TYPE_UNSUPPORTED error.
func (f *Factory) Get(lenderType models.LenderType) (Client, error) {
	if c, ok := f.clients[lenderType]; ok {
		return c, nil
	}
	return nil, stderrors.NewLenderTypeUnsupportedError(string(lenderType))
}

// Types lists the registered lender types.
func (f *Factory) Types() []models.LenderType {
	out := make([]models.LenderType, 0, len(f.clients))
	for t := range f.clients {
		out = append(out, t)
	}
	return out
}

// BuildFactory constructs instrumented clients for every enabled lender in config.
func BuildFactory(lenders map[string]config.LenderConfig, obs *observability.Observability, log logger.Logger) (*Factory, error) {
	clients := make([]Client, 0, len(lenders))
	for key, lcfg := range config.EnabledLendersFrom(lenders) {
		timeout := config.GetDuration(lcfg.Timeout)

		var c Client
		switch models.LenderType(key) {
		case models.LenderTypeDirectLine:
			c = NewDirectLineClient(lcfg.BaseURL, lcfg.APIKey, timeout)
		case models.LenderTypeStagedCredit:
			c = NewStagedCreditClient(lcfg.BaseURL, lcfg.APIKey, timeout)
		case models.LenderTypeSandbox:
			c = NewSandboxClient(SandboxOptions{})
		default:
			return nil, fmt.Errorf("lender %q: %w", key, stderrors.NewLenderTypeUnsupportedError(key))
		}

		clients = append(clients, Instrument(c, obs))
		log.Info("lender client registered", map[string]interface{}{
			"lenderType": key,
			"timeout_ms": lcfg.Timeout,
		})
	}
	return NewFactory(clients...), nil
}

// Instrument wraps c so every call is counted and timed.
func Instrument(c Client, obs *observability.Observability) Client {
	return &instrumented{next: c, obs: obs}
}

type instrumented struct {
	next Client
	obs  *observability.Observability
}

func (i *instrumented) Type() models.LenderType         { return i.next.Type() }
func (i *instrumented) RequiresSeparateDocuments() bool { return i.next.RequiresSeparateDocuments() }

func (i *instrumented) record(ctx context.Context, op string, start time.Time, err error) {
	result := "success"
	if err != nil {
		result = "error"
		if errors.Is(err, context.DeadlineExceeded) {
			result = "timeout"
		}
	}
	lenderType := string(i.next.Type())
	metrics.LenderCallsTotal.WithLabelValues(lenderType, op, result).Inc()
	i.obs.RecordLenderCall(ctx, lenderType, op, result, time.Since(start))
}

func (i *instrumented) Submit(ctx context.Context, req *SubmitRequest) (*Result, error) {
	start := time.Now()
	res, err := i.next.Submit(ctx, req)
	i.record(ctx, "submit", start, err)
	return res, err
}

func (i *instrumented) FetchOffers(ctx context.Context, reference string) (*Result, error) {
	start := time.Now()
	res, err := i.next.FetchOffers(ctx, reference)
	i.record(ctx, "fetch_offers", start, err)
	return res, err
}

func (i *instrumented) UploadDocument(ctx context.Context, reference string, doc models.Document) (*Result, error) {
	start := time.Now()
	res, err := i.next.UploadDocument(ctx, reference, doc)
	i.record(ctx, "upload_document", start, err)
	return res, err
}

func (i *instrumented) CheckStatus(ctx context.Context, reference string) (*Result, error) {
	start := time.Now()
	res, err := i.next.CheckStatus(ctx, reference)
	i.record(ctx, "check_status", start, err)
	return res, err
}
