// internal/lenders/sandbox.go
package lenders

import (
	"context"
	"fmt"
	"sync"
	"time"

	"funding-engine/internal/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SandboxOptions shapes the behaviour of the in-memory lender.
type SandboxOptions struct {
	// Delay is applied before every call and honours ctx cancellation.
	Delay time.Duration
	// FailSubmit makes Submit return this error.
	FailSubmit error
	// FailOffers makes FetchOffers return this error.
	FailOffers error
	// NoOffers makes FetchOffers return an empty list.
	NoOffers bool
}

var sandboxFeeRate = decimal.NewFromFloat(0.02)

type sandboxApplication struct {
	amount decimal.Decimal
	checks int
	docs   []string
}

// SandboxClient is an in-memory lender used for local runs and tests.
type SandboxClient struct {
	opts SandboxOptions

	mu   sync.Mutex
	apps map[string]*sandboxApplication
}

func NewSandboxClient(opts SandboxOptions) *SandboxClient {
	return &SandboxClient{
		opts: opts,
		apps: make(map[string]*sandboxApplication),
	}
}

func (c *SandboxClient) Type() models.LenderType         { return models.LenderTypeSandbox }
func (c *SandboxClient) RequiresSeparateDocuments() bool { return true }

func (c *SandboxClient) wait(ctx context.Context) error {
	if c.opts.Delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(c.opts.Delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (c *SandboxClient) lookup(reference string) (*sandboxApplication, error) {
	app, ok := c.apps[reference]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownReference, reference)
	}
	return app, nil
}

func (c *SandboxClient) Submit(ctx context.Context, req *SubmitRequest) (*Result, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	if c.opts.FailSubmit != nil {
		return nil, c.opts.FailSubmit
	}

	ref := "sbx-" + uuid.New().String()
	c.mu.Lock()
	c.apps[ref] = &sandboxApplication{amount: req.Amount}
	c.mu.Unlock()
	return &Result{Reference: ref}, nil
}

func (c *SandboxClient) FetchOffers(ctx context.Context, reference string) (*Result, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	if c.opts.FailOffers != nil {
		return nil, c.opts.FailOffers
	}

	c.mu.Lock()
	app, err := c.lookup(reference)
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}

	res := &Result{Reference: reference, Offers: []models.Offer{}}
	if c.opts.NoOffers {
		return res, nil
	}
	for _, term := range []int{12, 24} {
		res.Offers = append(res.Offers, models.Offer{
			ExternalReference: fmt.Sprintf("%s-%dm", reference, term),
			Product:           "term-loan",
			TermMonths:        term,
			Amount:            app.amount,
			Fee:               app.amount.Mul(sandboxFeeRate).Round(2),
			Status:            models.OfferStatusAvailable,
		})
	}
	return res, nil
}

func (c *SandboxClient) UploadDocument(ctx context.Context, reference string, doc models.Document) (*Result, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	app, err := c.lookup(reference)
	if err != nil {
		return nil, err
	}
	app.docs = append(app.docs, doc.ID)
	return &Result{Reference: reference + "/" + doc.ID}, nil
}

// CheckStatus reports applicationReceived on the first check and
// offersCreated on every later one.
func (c *SandboxClient) CheckStatus(ctx context.Context, reference string) (*Result, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	app, err := c.lookup(reference)
	if err != nil {
		return nil, err
	}
	app.checks++

	event := models.EventApplicationReceived
	if app.checks > 1 {
		event = models.EventOffersCreated
	}
	return &Result{Reference: reference, Event: event.String()}, nil
}

// Documents returns the ids uploaded against reference.
func (c *SandboxClient) Documents(reference string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	app, ok := c.apps[reference]
	if !ok {
		return nil
	}
	return append([]string(nil), app.docs...)
}
