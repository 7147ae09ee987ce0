// internal/models/lender_application.go
package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// LenderApplicationStatus is a state of the per-lender lifecycle.
type LenderApplicationStatus string

const (
	StatusPending               LenderApplicationStatus = "pending"
	StatusSubmitted             LenderApplicationStatus = "submitted"
	StatusOffersReceived        LenderApplicationStatus = "offers_received"
	StatusNoOffers              LenderApplicationStatus = "no_offers"
	StatusOfferProcessingFailed LenderApplicationStatus = "offer_processing_failed"
	StatusContractReady         LenderApplicationStatus = "contract_ready"
	StatusContractSigned        LenderApplicationStatus = "contract_signed"
	StatusContractFailed        LenderApplicationStatus = "contract_failed"
	StatusDisbursed             LenderApplicationStatus = "disbursed"
	StatusRejected              LenderApplicationStatus = "rejected"
	StatusWithdrawn             LenderApplicationStatus = "withdrawn"
)

// TerminalStatuses never transition again.
var TerminalStatuses = []LenderApplicationStatus{
	StatusDisbursed,
	StatusRejected,
	StatusWithdrawn,
	StatusContractFailed,
}

func (s LenderApplicationStatus) IsTerminal() bool {
	for _, terminal := range TerminalStatuses {
		if s == terminal {
			return true
		}
	}
	return false
}

// Rank orders the forward path. The three offer outcomes share a rank so a
// lender can move between them; terminal branches are handled separately.
func (s LenderApplicationStatus) Rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusSubmitted:
		return 1
	case StatusOffersReceived, StatusNoOffers, StatusOfferProcessingFailed:
		return 2
	case StatusContractReady:
		return 3
	case StatusContractSigned:
		return 4
	case StatusContractFailed, StatusDisbursed, StatusRejected, StatusWithdrawn:
		return 5
	}
	return -1
}

func (s LenderApplicationStatus) Valid() bool {
	return s.Rank() >= 0
}

// TerminalStatusStrings is TerminalStatuses as plain strings, for SQL arrays.
func TerminalStatusStrings() []string {
	out := make([]string, len(TerminalStatuses))
	for i, s := range TerminalStatuses {
		out[i] = string(s)
	}
	return out
}

// ErrorDetails is the structured error stored on a lender application.
type ErrorDetails struct {
	Code       string    `json:"code"`
	Message    string    `json:"message"`
	Source     string    `json:"source,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}

type LenderApplication struct {
	ID                   string                  `json:"id" db:"id"`
	FundingApplicationID string                  `json:"fundingApplicationId" db:"funding_application_id"`
	LenderID             string                  `json:"lenderId" db:"lender_id"`
	LenderType           LenderType              `json:"lenderType" db:"lender_type"`
	LenderReference      string                  `json:"lenderReference" db:"lender_reference"`
	Status               LenderApplicationStatus `json:"status" db:"status"`
	NextPollAt           *time.Time              `json:"nextPollAt,omitempty" db:"next_poll_at"`
	ErrorDetails         *ErrorDetails           `json:"errorDetails,omitempty" db:"error_details"`
	CreatedAt            time.Time               `json:"createdAt" db:"created_at"`
	UpdatedAt            time.Time               `json:"updatedAt" db:"updated_at"`
}

// Offer statuses.
const (
	OfferStatusAvailable = "available"
	OfferStatusExpired   = "expired"
	OfferStatusAccepted  = "accepted"
)

type Offer struct {
	ID                  string          `json:"id" db:"id"`
	LenderApplicationID string          `json:"lenderApplicationId" db:"lender_application_id"`
	ExternalReference   string          `json:"externalReference" db:"external_reference"`
	Product             string          `json:"product" db:"product"`
	TermMonths          int             `json:"termMonths" db:"term_months"`
	Amount              decimal.Decimal `json:"amount" db:"amount"`
	Fee                 decimal.Decimal `json:"fee" db:"fee"`
	Status              string          `json:"status" db:"status"`
	CreatedAt           time.Time       `json:"createdAt" db:"created_at"`
}
