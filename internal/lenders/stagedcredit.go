// internal/lenders/stagedcredit.go
package lenders

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	httpclient "funding-engine/internal/common/http"
	"funding-engine/internal/models"

	"github.com/shopspring/decimal"
)

// StagedCreditClient talks to lenders that take the application first and
// documents afterwards as separate multipart uploads.
type StagedCreditClient struct {
	baseURL string
	http    *httpclient.Client
}

func NewStagedCreditClient(baseURL, apiKey string, timeout time.Duration) *StagedCreditClient {
	return &StagedCreditClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpclient.NewClient(timeout).WithHeader("X-Api-Key", apiKey),
	}
}

func (c *StagedCreditClient) Type() models.LenderType         { return models.LenderTypeStagedCredit }
func (c *StagedCreditClient) RequiresSeparateDocuments() bool { return true }

type stagedCreditApplication struct {
	Reference      string          `json:"clientReference"`
	Borrower       stagedBorrower  `json:"borrower"`
	LoanAmount     decimal.Decimal `json:"loanAmount"`
	LoanTermMonths *int            `json:"loanTermMonths,omitempty"`
	FacilityType   string          `json:"facilityType"`
}

type stagedBorrower struct {
	CompanyID string `json:"companyId"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	Phone     string `json:"phone,omitempty"`
}

type stagedQuote struct {
	QuoteRef    string          `json:"quoteRef"`
	Facility    string          `json:"facility"`
	Months      int             `json:"months"`
	Principal   decimal.Decimal `json:"principal"`
	Arrangement decimal.Decimal `json:"arrangementFee"`
}

func (c *StagedCreditClient) Submit(ctx context.Context, req *SubmitRequest) (*Result, error) {
	payload := stagedCreditApplication{
		Reference: req.FundingApplicationID,
		Borrower: stagedBorrower{
			CompanyID: req.CompanyID,
			FirstName: req.Applicant.FirstName,
			LastName:  req.Applicant.LastName,
			Email:     req.Applicant.Email,
			Phone:     req.Applicant.Phone,
		},
		LoanAmount:     req.Amount,
		LoanTermMonths: req.TermMonths,
		FacilityType:   req.FundingType,
	}

	var created struct {
		Reference string `json:"reference"`
	}
	if err := c.http.DoJSON(ctx, http.MethodPost, c.baseURL+"/v2/applications", payload, &created); err != nil {
		return nil, fmt.Errorf("staged-credit submit: %w", err)
	}
	if created.Reference == "" {
		return nil, fmt.Errorf("%w: empty reference", ErrSubmissionRejected)
	}
	return &Result{Reference: created.Reference}, nil
}

func (c *StagedCreditClient) FetchOffers(ctx context.Context, reference string) (*Result, error) {
	var body struct {
		Quotes []stagedQuote `json:"quotes"`
	}
	if err := c.http.DoJSON(ctx, http.MethodGet, c.applicationURL(reference)+"/quotes", nil, &body); err != nil {
		return nil, fmt.Errorf("staged-credit quotes: %w", err)
	}

	res := &Result{Reference: reference, Offers: make([]models.Offer, 0, len(body.Quotes))}
	for _, q := range body.Quotes {
		res.Offers = append(res.Offers, models.Offer{
			ExternalReference: q.QuoteRef,
			Product:           q.Facility,
			TermMonths:        q.Months,
			Amount:            q.Principal,
			Fee:               q.Arrangement,
			Status:            models.OfferStatusAvailable,
		})
	}
	return res, nil
}

func (c *StagedCreditClient) UploadDocument(ctx context.Context, reference string, doc models.Document) (*Result, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, doc.Name))
	header.Set("Content-Type", doc.ContentType)

	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, fmt.Errorf("staged-credit upload: %w", err)
	}
	if _, err := part.Write(doc.Content); err != nil {
		return nil, fmt.Errorf("staged-credit upload: %w", err)
	}
	if err := writer.WriteField("documentId", doc.ID); err != nil {
		return nil, fmt.Errorf("staged-credit upload: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("staged-credit upload: %w", err)
	}

	var uploaded struct {
		DocumentRef string `json:"documentRef"`
	}
	if err := c.http.DoRaw(ctx, http.MethodPost, c.applicationURL(reference)+"/documents",
		writer.FormDataContentType(), &buf, &uploaded); err != nil {
		return nil, fmt.Errorf("staged-credit upload: %w", err)
	}
	return &Result{Reference: uploaded.DocumentRef}, nil
}

var stagedCreditEvents = map[string]string{
	"ACKNOWLEDGED":     "applicationReceived",
	"DECLINED":         "applicationDeclined",
	"QUOTED":           "offersCreated",
	"AGREEMENT_READY":  "contractReady",
	"AGREEMENT_SIGNED": "contractSigned",
	"AGREEMENT_VOID":   "contractFailed",
	"PAID_OUT":         "loanDisbursed",
	"CANCELLED":        "applicationWithdrawn",
}

func (c *StagedCreditClient) CheckStatus(ctx context.Context, reference string) (*Result, error) {
	var body struct {
		State string `json:"state"`
	}
	if err := c.http.DoJSON(ctx, http.MethodGet, c.applicationURL(reference)+"/state", nil, &body); err != nil {
		return nil, fmt.Errorf("staged-credit status: %w", err)
	}
	return &Result{Reference: reference, Event: stagedCreditEvents[body.State]}, nil
}

func (c *StagedCreditClient) applicationURL(reference string) string {
	return c.baseURL + "/v2/applications/" + url.PathEscape(reference)
}
