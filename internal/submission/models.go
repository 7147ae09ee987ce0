// internal/submission/models.go
package submission

import (
	"fmt"

	"funding-engine/internal/models"

	"github.com/shopspring/decimal"
)

type Request struct {
	FundingApplicationID string           `json:"fundingApplicationId"`
	CompanyID            string           `json:"companyId"`
	UserID               string           `json:"userId"`
	Amount               decimal.Decimal  `json:"amount"`
	TermMonths           *int             `json:"termMonths,omitempty"`
	FundingType          string           `json:"fundingType"`
	Applicant            models.Applicant `json:"applicant"`
}

// LenderError is one lender's failure, safe to show to the borrower.
type LenderError struct {
	LenderID   string `json:"lenderId"`
	LenderName string `json:"lenderName"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

type SkippedLender struct {
	LenderID            string `json:"lenderId"`
	LenderName          string `json:"lenderName"`
	LenderApplicationID string `json:"lenderApplicationId"`
	Status              string `json:"status"`
}

type CreatedApplication struct {
	LenderID            string `json:"lenderId"`
	LenderName          string `json:"lenderName"`
	LenderApplicationID string `json:"lenderApplicationId"`
	LenderReference     string `json:"lenderReference"`
}

// Outcome classifies a Result.
type Outcome string

const (
	OutcomeSuccess     Outcome = "success"
	OutcomePartial     Outcome = "partial"
	OutcomeFailed      Outcome = "failed"
	OutcomeNoLenders   Outcome = "no_eligible_lenders"
	OutcomeNothingToDo Outcome = "all_skipped"
)

type Result struct {
	FundingApplicationID string               `json:"fundingApplicationId"`
	Success              bool                 `json:"success"`
	PartialSuccess       bool                 `json:"partialSuccess"`
	Attempted            int                  `json:"attempted"`
	Succeeded            int                  `json:"succeeded"`
	Created              []CreatedApplication `json:"created"`
	Errors               []LenderError        `json:"errors"`
	Skipped              []SkippedLender      `json:"skipped"`
	Message              string               `json:"message"`
}

// Outcome derives the classification from the counters.
func (r *Result) Outcome() Outcome {
	switch {
	case r.Attempted == 0 && len(r.Skipped) == 0:
		return OutcomeNoLenders
	case r.Attempted == 0:
		return OutcomeNothingToDo
	case len(r.Errors) == 0:
		return OutcomeSuccess
	case r.Succeeded > 0:
		return OutcomePartial
	}
	return OutcomeFailed
}

func (r *Result) finalize() {
	r.Success = len(r.Errors) == 0
	r.PartialSuccess = r.Attempted > 0 && len(r.Errors) > 0 && r.Succeeded > 0

	switch r.Outcome() {
	case OutcomeNoLenders:
		r.Message = "no eligible lenders"
	case OutcomeNothingToDo:
		r.Message = "already submitted to all eligible lenders"
	case OutcomeSuccess:
		r.Message = fmt.Sprintf("submitted successfully to %d lenders", r.Succeeded)
	case OutcomePartial:
		r.Message = "submitted with errors to some lenders"
	default:
		r.Message = "submission failed to all lenders"
	}
}
