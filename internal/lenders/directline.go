// internal/lenders/directline.go
package lenders

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	httpclient "funding-engine/internal/common/http"
	"funding-engine/internal/models"

	"github.com/shopspring/decimal"
)

// DirectLineClient talks to lenders that accept documents inline with the
// application payload and expose a single status field.
type DirectLineClient struct {
	baseURL string
	http    *httpclient.Client
}

func NewDirectLineClient(baseURL, apiKey string, timeout time.Duration) *DirectLineClient {
	return &DirectLineClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpclient.NewClient(timeout).WithHeader("Authorization", "Bearer "+apiKey),
	}
}

func (c *DirectLineClient) Type() models.LenderType         { return models.LenderTypeDirectLine }
func (c *DirectLineClient) RequiresSeparateDocuments() bool { return false }

type directLineDocument struct {
	Name        string `json:"name"`
	ContentType string `json:"contentType"`
	Data        string `json:"data"`
}

type directLineApplication struct {
	ExternalID  string               `json:"externalId"`
	CompanyID   string               `json:"companyId"`
	Amount      decimal.Decimal      `json:"amount"`
	TermMonths  *int                 `json:"termMonths,omitempty"`
	Product     string               `json:"product"`
	Applicant   models.Applicant     `json:"applicant"`
	Attachments []directLineDocument `json:"attachments,omitempty"`
}

type directLineCreated struct {
	ApplicationID string `json:"applicationId"`
	Accepted      bool   `json:"accepted"`
	Reason        string `json:"reason,omitempty"`
}

type directLineOffer struct {
	OfferID    string          `json:"offerId"`
	Product    string          `json:"product"`
	TermMonths int             `json:"termMonths"`
	Amount     decimal.Decimal `json:"amount"`
	Fee        decimal.Decimal `json:"fee"`
}

func (c *DirectLineClient) Submit(ctx context.Context, req *SubmitRequest) (*Result, error) {
	payload := directLineApplication{
		ExternalID: req.FundingApplicationID,
		CompanyID:  req.CompanyID,
		Amount:     req.Amount,
		TermMonths: req.TermMonths,
		Product:    req.FundingType,
		Applicant:  req.Applicant,
	}
	for _, doc := range req.Documents {
		payload.Attachments = append(payload.Attachments, directLineDocument{
			Name:        doc.Name,
			ContentType: doc.ContentType,
			Data:        base64.StdEncoding.EncodeToString(doc.Content),
		})
	}

	var created directLineCreated
	if err := c.http.DoJSON(ctx, http.MethodPost, c.baseURL+"/applications", payload, &created); err != nil {
		return nil, fmt.Errorf("direct-line submit: %w", err)
	}
	if !created.Accepted || created.ApplicationID == "" {
		return nil, fmt.Errorf("%w: %s", ErrSubmissionRejected, created.Reason)
	}
	return &Result{Reference: created.ApplicationID}, nil
}

func (c *DirectLineClient) FetchOffers(ctx context.Context, reference string) (*Result, error) {
	var body struct {
		Offers []directLineOffer `json:"offers"`
	}
	if err := c.http.DoJSON(ctx, http.MethodGet, c.applicationURL(reference)+"/offers", nil, &body); err != nil {
		return nil, fmt.Errorf("direct-line offers: %w", err)
	}

	res := &Result{Reference: reference, Offers: make([]models.Offer, 0, len(body.Offers))}
	for _, o := range body.Offers {
		res.Offers = append(res.Offers, models.Offer{
			ExternalReference: o.OfferID,
			Product:           o.Product,
			TermMonths:        o.TermMonths,
			Amount:            o.Amount,
			Fee:               o.Fee,
			Status:            models.OfferStatusAvailable,
		})
	}
	return res, nil
}

func (c *DirectLineClient) UploadDocument(ctx context.Context, reference string, doc models.Document) (*Result, error) {
	return nil, fmt.Errorf("%w: direct-line takes documents inline", ErrUploadNotSupported)
}

var directLineEvents = map[string]string{
	"received":        "applicationReceived",
	"declined":        "applicationDeclined",
	"offered":         "offersCreated",
	"contract_issued": "contractReady",
	"contract_signed": "contractSigned",
	"contract_failed": "contractFailed",
	"funded":          "loanDisbursed",
	"withdrawn":       "applicationWithdrawn",
}

func (c *DirectLineClient) CheckStatus(ctx context.Context, reference string) (*Result, error) {
	var body struct {
		Status string `json:"status"`
	}
	if err := c.http.DoJSON(ctx, http.MethodGet, c.applicationURL(reference), nil, &body); err != nil {
		return nil, fmt.Errorf("direct-line status: %w", err)
	}
	return &Result{Reference: reference, Event: directLineEvents[body.Status]}, nil
}

func (c *DirectLineClient) applicationURL(reference string) string {
	return c.baseURL + "/applications/" + url.PathEscape(reference)
}
