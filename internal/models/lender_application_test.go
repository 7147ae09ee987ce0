package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLenderApplicationStatus_IsTerminal(t *testing.T) {
	terminal := []LenderApplicationStatus{StatusDisbursed, StatusRejected, StatusWithdrawn, StatusContractFailed}
	for _, s := range terminal {
		assert.True(t, s.IsTerminal(), string(s))
	}

	open := []LenderApplicationStatus{StatusPending, StatusSubmitted, StatusOffersReceived, StatusNoOffers,
		StatusOfferProcessingFailed, StatusContractReady, StatusContractSigned}
	for _, s := range open {
		assert.False(t, s.IsTerminal(), string(s))
	}
}

func TestLenderApplicationStatus_Rank(t *testing.T) {
	assert.Less(t, StatusSubmitted.Rank(), StatusOffersReceived.Rank())
	assert.Equal(t, StatusOffersReceived.Rank(), StatusNoOffers.Rank())
	assert.Less(t, StatusContractReady.Rank(), StatusContractSigned.Rank())
	assert.Equal(t, -1, LenderApplicationStatus("bogus").Rank())
	assert.False(t, LenderApplicationStatus("bogus").Valid())
}

func TestLender_Supports(t *testing.T) {
	l := Lender{IsActive: true, FundingCategories: []string{"term_loan", "invoice_finance"}}
	assert.True(t, l.Supports("term_loan"))
	assert.False(t, l.Supports("merchant_cash_advance"))

	l.IsActive = false
	assert.False(t, l.Supports("term_loan"))
}

func TestLenderType_Valid(t *testing.T) {
	assert.True(t, LenderTypeSandbox.Valid())
	assert.False(t, LenderType("carrier-pigeon").Valid())
}

func TestParseEvent(t *testing.T) {
	for _, name := range []string{
		"applicationReceived", "applicationDeclined", "offersCreated", "offersUpdated",
		"contractReady", "contractSigned", "contractFailed", "loanDisbursed",
		"applicationWithdrawn", "batchCompleted",
	} {
		ev := ParseEvent(name)
		assert.NotEqual(t, EventUnknown, ev, name)
		assert.Equal(t, name, ev.String())
	}

	assert.Equal(t, EventUnknown, ParseEvent("loanRepaid"))
	assert.Equal(t, EventUnknown, ParseEvent(""))
	assert.Equal(t, "unknown", EventUnknown.String())
}
