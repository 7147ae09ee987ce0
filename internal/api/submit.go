// internal/api/submit.go
package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	stderrors "funding-engine/internal/common/errors"
	"funding-engine/internal/common/logger"
	"funding-engine/internal/models"
	"funding-engine/internal/submission"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
)

const maxSubmitBody = 1 << 20

// Submitter runs a funding application submission.
type Submitter interface {
	Submit(ctx context.Context, req *submission.Request) (*submission.Result, error)
}

type submitBody struct {
	CompanyID   string           `json:"companyId"`
	UserID      string           `json:"userId"`
	Amount      decimal.Decimal  `json:"amount"`
	TermMonths  *int             `json:"termMonths"`
	FundingType string           `json:"fundingType"`
	Applicant   models.Applicant `json:"applicant"`
}

type SubmitHandler struct {
	submitter Submitter
	timeout   time.Duration
	logger    logger.Logger
}

func NewSubmitHandler(submitter Submitter, timeout time.Duration, log logger.Logger) *SubmitHandler {
	return &SubmitHandler{
		submitter: submitter,
		timeout:   timeout,
		logger:    log.WithFields(map[string]interface{}{"handler": "submit"}),
	}
}

func (h *SubmitHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	fundingApplicationID := strings.TrimSpace(mux.Vars(r)["id"])

	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxSubmitBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, stderrors.NewValidationError("request body unreadable or too large"))
		return
	}

	result, err := submitRequestSchema.Validate(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, stderrors.NewValidationError("request body is not valid JSON"))
		return
	}
	if !result.Valid {
		writeError(w, http.StatusBadRequest, stderrors.NewValidationError(strings.Join(result.GetErrorMessages(), "; ")))
		return
	}

	var body submitBody
	if err := json.Unmarshal(raw, &body); err != nil {
		writeError(w, http.StatusBadRequest, stderrors.NewValidationError("amount: "+err.Error()))
		return
	}

	ctx := r.Context()
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	res, err := h.submitter.Submit(ctx, &submission.Request{
		FundingApplicationID: fundingApplicationID,
		CompanyID:            body.CompanyID,
		UserID:               body.UserID,
		Amount:               body.Amount,
		TermMonths:           body.TermMonths,
		FundingType:          body.FundingType,
		Applicant:            body.Applicant,
	})
	if err != nil {
		stdErr := stderrors.Normalize(err)
		status := statusForError(stdErr)
		if status >= http.StatusInternalServerError {
			h.logger.Error("submission failed", map[string]interface{}{
				"fundingApplicationId": fundingApplicationID,
				"errorCode":            stdErr.Code,
				"error":                stdErr.Details,
			})
			stdErr = &stderrors.StandardError{
				Code:      stdErr.Code,
				Message:   stdErr.Message,
				Retryable: stdErr.Retryable,
				Timestamp: stdErr.Timestamp,
			}
		}
		writeError(w, status, stdErr)
		return
	}

	writeJSON(w, statusForOutcome(res.Outcome()), res)
}

func statusForOutcome(o submission.Outcome) int {
	switch o {
	case submission.OutcomePartial:
		return http.StatusMultiStatus
	case submission.OutcomeFailed:
		return http.StatusBadGateway
	default:
		return http.StatusOK
	}
}
