// internal/models/funding.go
package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// FundingApplicationStatus values the engine reads or writes.
const (
	FundingStatusDraft     = "draft"
	FundingStatusSubmitted = "submitted"
	FundingStatusDisbursed = "disbursed"
)

type FundingApplication struct {
	ID          string          `json:"id" db:"id"`
	CompanyID   string          `json:"companyId" db:"company_id"`
	Amount      decimal.Decimal `json:"amount" db:"amount"`
	TermMonths  *int            `json:"termMonths,omitempty" db:"term_months"`
	FundingType string          `json:"fundingType" db:"funding_type"`
	Status      string          `json:"status" db:"status"`
	CreatedAt   time.Time       `json:"createdAt" db:"created_at"`
	UpdatedAt   time.Time       `json:"updatedAt" db:"updated_at"`
}

// Applicant is the borrower identity forwarded to lenders.
type Applicant struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	Phone     string `json:"phone,omitempty"`
}

// Document is a company document owned by the document store.
type Document struct {
	ID          string    `json:"id" db:"id"`
	CompanyID   string    `json:"companyId" db:"company_id"`
	Name        string    `json:"name" db:"name"`
	ContentType string    `json:"contentType" db:"content_type"`
	Content     []byte    `json:"-" db:"content"`
	CreatedAt   time.Time `json:"createdAt" db:"created_at"`
}

// Document upload states tracked per lender application.
const (
	UploadStatusUploaded = "uploaded"
	UploadStatusFailed   = "failed"
)
