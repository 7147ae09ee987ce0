package store

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"funding-engine/internal/common/logger"
	"funding-engine/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ==========================
// Test Helpers
// ==========================

type testLogger struct {
	t     *testing.T
	warns []string
}

func (tl *testLogger) Debug(msg string, fields map[string]interface{}) {
	tl.t.Logf("DEBUG: %s %v", msg, fields)
}

func (tl *testLogger) Info(msg string, fields map[string]interface{}) {
	tl.t.Logf("INFO: %s %v", msg, fields)
}

func (tl *testLogger) Warn(msg string, fields map[string]interface{}) {
	tl.warns = append(tl.warns, msg)
	tl.t.Logf("WARN: %s %v", msg, fields)
}

func (tl *testLogger) Error(msg string, fields map[string]interface{}) {
	tl.t.Logf("ERROR: %s %v", msg, fields)
}

func (tl *testLogger) WithFields(fields map[string]interface{}) logger.Logger {
	return tl
}

func (tl *testLogger) WithError(err error) logger.Logger {
	return tl
}

func (tl *testLogger) With(fields map[string]interface{}) logger.Logger {
	return tl
}

var laColumns = []string{
	"id", "funding_application_id", "lender_id", "type",
	"lender_reference", "status", "next_poll_at",
	"error_details", "created_at", "updated_at",
}

func newStore(t *testing.T) (*Store, sqlmock.Sqlmock, *testLogger) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	log := &testLogger{t: t}
	return New(db, log), mock, log
}

// ==========================
// FindExisting / Create
// ==========================

func TestFindExisting_ReturnsLatestRow(t *testing.T) {
	s, mock, _ := newStore(t)
	now := time.Now()

	mock.ExpectQuery(`FROM lender_applications la\s+JOIN lenders l`).
		WithArgs("fa-1", "lender-1").
		WillReturnRows(sqlmock.NewRows(laColumns).AddRow(
			"la-1", "fa-1", "lender-1", "sandbox",
			"ref-1", "offers_received", nil,
			nil, now, now,
		))

	la, err := s.FindExisting(context.Background(), "fa-1", "lender-1")

	require.NoError(t, err)
	require.NotNil(t, la)
	assert.Equal(t, models.StatusOffersReceived, la.Status)
	assert.Equal(t, models.LenderTypeSandbox, la.LenderType)
	assert.Nil(t, la.NextPollAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindExisting_NoneIsNotAnError(t *testing.T) {
	s, mock, _ := newStore(t)

	mock.ExpectQuery(`FROM lender_applications la`).
		WithArgs("fa-1", "lender-1").
		WillReturnRows(sqlmock.NewRows(laColumns))

	la, err := s.FindExisting(context.Background(), "fa-1", "lender-1")

	assert.NoError(t, err)
	assert.Nil(t, la)
}

func TestFindExisting_DecodesErrorDetails(t *testing.T) {
	s, mock, _ := newStore(t)
	now := time.Now()
	poll := now.Add(time.Minute)

	mock.ExpectQuery(`FROM lender_applications la`).
		WillReturnRows(sqlmock.NewRows(laColumns).AddRow(
			"la-1", "fa-1", "lender-1", "direct-line",
			"", "pending", poll,
			[]byte(`{"code":"LENDER_TIMEOUT","message":"slow"}`), now, now,
		))

	la, err := s.FindExisting(context.Background(), "fa-1", "lender-1")

	require.NoError(t, err)
	require.NotNil(t, la.ErrorDetails)
	assert.Equal(t, "LENDER_TIMEOUT", la.ErrorDetails.Code)
	require.NotNil(t, la.NextPollAt)
	assert.True(t, poll.Equal(*la.NextPollAt))
}

func TestFindExisting_QueryError(t *testing.T) {
	s, mock, _ := newStore(t)

	mock.ExpectQuery(`FROM lender_applications la`).
		WillReturnError(errors.New("connection refused"))

	_, err := s.FindExisting(context.Background(), "fa-1", "lender-1")

	assert.True(t, errors.Is(err, ErrQueryFailed))
}

func TestCreate_InsertsSubmittedRow(t *testing.T) {
	s, mock, _ := newStore(t)
	now := time.Now()
	poll := now.Add(15 * time.Minute)

	mock.ExpectQuery(`INSERT INTO lender_applications`).
		WithArgs(sqlmock.AnyArg(), "fa-1", "lender-1", "ref-9", "submitted", sqlmock.AnyArg(), nil).
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))

	la, err := s.Create(context.Background(), CreateParams{
		FundingApplicationID: "fa-1",
		LenderID:             "lender-1",
		LenderType:           models.LenderTypeSandbox,
		LenderReference:      "ref-9",
		Status:               models.StatusSubmitted,
		NextPollAt:           &poll,
	})

	require.NoError(t, err)
	assert.NotEmpty(t, la.ID)
	assert.Equal(t, models.StatusSubmitted, la.Status)
	assert.Equal(t, now, la.CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreate_InsertError(t *testing.T) {
	s, mock, _ := newStore(t)

	mock.ExpectQuery(`INSERT INTO lender_applications`).
		WillReturnError(errors.New("duplicate key"))

	_, err := s.Create(context.Background(), CreateParams{FundingApplicationID: "fa-1", LenderID: "l"})

	assert.True(t, errors.Is(err, ErrInsertFailed))
}

func TestMarkResubmitted(t *testing.T) {
	s, mock, _ := newStore(t)

	mock.ExpectExec(`UPDATE lender_applications`).
		WithArgs("la-1", "ref-2", "submitted", sqlmock.AnyArg(), "pending").
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := s.MarkResubmitted(context.Background(), "la-1", "ref-2", nil)

	require.NoError(t, err)
	assert.True(t, ok)
}

// ==========================
// UpdateStatus
// ==========================

func TestUpdateStatus_Applied(t *testing.T) {
	s, mock, _ := newStore(t)

	mock.ExpectQuery(`UPDATE lender_applications`).
		WithArgs("ref-1", "contract_ready", false, nil, false, nil, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "funding_application_id"}).AddRow("la-1", "fa-1"))

	res, err := s.UpdateStatus(context.Background(), "ref-1", models.StatusContractReady, nil)

	require.NoError(t, err)
	assert.Equal(t, UpdateApplied, res.Outcome)
	assert.Equal(t, "la-1", res.LenderApplicationID)
	assert.Equal(t, "fa-1", res.FundingApplicationID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateStatus_TerminalTargetClearsPolling(t *testing.T) {
	s, mock, _ := newStore(t)

	mock.ExpectQuery(`UPDATE lender_applications`).
		WithArgs("ref-1", "rejected", true, nil, false, nil, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "funding_application_id"}).AddRow("la-1", "fa-1"))

	res, err := s.UpdateStatus(context.Background(), "ref-1", models.StatusRejected, nil)

	require.NoError(t, err)
	assert.Equal(t, UpdateApplied, res.Outcome)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateStatus_TerminalRowIsNotOverwritten(t *testing.T) {
	s, mock, _ := newStore(t)

	mock.ExpectQuery(`UPDATE lender_applications`).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(`SELECT id, funding_application_id, status FROM lender_applications`).
		WithArgs("ref-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "funding_application_id", "status"}).AddRow("la-1", "fa-1", "disbursed"))

	res, err := s.UpdateStatus(context.Background(), "ref-1", models.StatusContractReady, nil)

	require.NoError(t, err)
	assert.Equal(t, UpdateSkippedTerminal, res.Outcome)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateStatus_UnknownReferenceIsLoggedAnomaly(t *testing.T) {
	s, mock, log := newStore(t)

	mock.ExpectQuery(`UPDATE lender_applications`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "funding_application_id"}))
	mock.ExpectQuery(`SELECT id, funding_application_id, status FROM lender_applications`).
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"id", "funding_application_id", "status"}))

	res, err := s.UpdateStatus(context.Background(), "ghost", models.StatusSubmitted, nil)

	require.NoError(t, err)
	assert.Equal(t, UpdateNotFound, res.Outcome)
	assert.Contains(t, log.warns, "status update for unknown lender reference")
}

func TestUpdateStatus_DatabaseError(t *testing.T) {
	s, mock, _ := newStore(t)

	mock.ExpectQuery(`UPDATE lender_applications`).
		WillReturnError(errors.New("connection reset"))

	_, err := s.UpdateStatus(context.Background(), "ref-1", models.StatusSubmitted, nil)

	assert.True(t, errors.Is(err, ErrQueryFailed))
}

func TestGetByReference_NotFound(t *testing.T) {
	s, mock, _ := newStore(t)

	mock.ExpectQuery(`WHERE la.lender_reference = `).
		WithArgs("nope").
		WillReturnRows(sqlmock.NewRows(laColumns))

	_, err := s.GetByReference(context.Background(), "nope")

	assert.True(t, errors.Is(err, ErrNotFound))
}

// ==========================
// Offers
// ==========================

func TestHasOffers(t *testing.T) {
	s, mock, _ := newStore(t)

	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs("la-1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	exists, err := s.HasOffers(context.Background(), "la-1")

	require.NoError(t, err)
	assert.True(t, exists)
}

func TestInsertOffers_SkipsDuplicateReferences(t *testing.T) {
	s, mock, _ := newStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO offers`).
		WithArgs(sqlmock.AnyArg(), "la-1", "off-1", "term_loan", 12, "10000.00", "250.00", "available").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO offers`).
		WithArgs(sqlmock.AnyArg(), "la-1", "off-1", "term_loan", 12, "10000.00", "250.00", "available").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	offer := models.Offer{
		ExternalReference: "off-1",
		Product:           "term_loan",
		TermMonths:        12,
		Amount:            decimal.NewFromInt(10000),
		Fee:               decimal.NewFromInt(250),
	}

	inserted, err := s.InsertOffers(context.Background(), "la-1", []models.Offer{offer, offer})

	require.NoError(t, err)
	assert.Equal(t, 1, inserted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertOffers_RollsBackOnError(t *testing.T) {
	s, mock, _ := newStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO offers`).WillReturnError(errors.New("boom"))
	mock.ExpectRollback()

	_, err := s.InsertOffers(context.Background(), "la-1", []models.Offer{{ExternalReference: "x"}})

	assert.True(t, errors.Is(err, ErrInsertFailed))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertOffers_EmptyIsNoop(t *testing.T) {
	s, mock, _ := newStore(t)

	inserted, err := s.InsertOffers(context.Background(), "la-1", nil)

	assert.NoError(t, err)
	assert.Zero(t, inserted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// ==========================
// Funding application boundary writes
// ==========================

func TestMarkFundingApplicationSubmitted_Applies(t *testing.T) {
	s, mock, _ := newStore(t)

	mock.ExpectExec(`UPDATE funding_applications`).
		WithArgs("fa-1", "submitted", "disbursed").
		WillReturnResult(sqlmock.NewResult(0, 1))

	applied, err := s.MarkFundingApplicationSubmitted(context.Background(), "fa-1")

	require.NoError(t, err)
	assert.True(t, applied)
}

func TestMarkFundingApplicationSubmitted_AlreadySubmitted(t *testing.T) {
	s, mock, _ := newStore(t)

	mock.ExpectExec(`UPDATE funding_applications`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs("fa-1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	applied, err := s.MarkFundingApplicationSubmitted(context.Background(), "fa-1")

	require.NoError(t, err)
	assert.False(t, applied)
}

func TestMarkFundingApplicationSubmitted_Missing(t *testing.T) {
	s, mock, _ := newStore(t)

	mock.ExpectExec(`UPDATE funding_applications`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT EXISTS`).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	_, err := s.MarkFundingApplicationSubmitted(context.Background(), "fa-404")

	assert.True(t, errors.Is(err, ErrFundingApplicationNotFound))
}

func TestRecordDisbursement_WritesFundingStatusInSameTransaction(t *testing.T) {
	s, mock, _ := newStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE lender_applications`).
		WithArgs("ref-1", "disbursed", true, nil, false, nil, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "funding_application_id"}).AddRow("la-1", "fa-1"))
	mock.ExpectExec(`UPDATE funding_applications`).
		WithArgs("fa-1", "disbursed").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	res, disbursed, err := s.RecordDisbursement(context.Background(), "ref-1")

	require.NoError(t, err)
	assert.Equal(t, UpdateApplied, res.Outcome)
	assert.True(t, disbursed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordDisbursement_RedeliveryWritesNothing(t *testing.T) {
	s, mock, _ := newStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE lender_applications`).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(`SELECT id, funding_application_id, status FROM lender_applications`).
		WithArgs("ref-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "funding_application_id", "status"}).AddRow("la-1", "fa-1", "disbursed"))
	mock.ExpectCommit()

	res, disbursed, err := s.RecordDisbursement(context.Background(), "ref-1")

	require.NoError(t, err)
	assert.Equal(t, UpdateSkippedTerminal, res.Outcome)
	assert.False(t, disbursed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordDisbursement_RollsBackWhenFundingWriteFails(t *testing.T) {
	s, mock, _ := newStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE lender_applications`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "funding_application_id"}).AddRow("la-1", "fa-1"))
	mock.ExpectExec(`UPDATE funding_applications`).
		WillReturnError(errors.New("deadlock detected"))
	mock.ExpectRollback()

	_, disbursed, err := s.RecordDisbursement(context.Background(), "ref-1")

	assert.ErrorIs(t, err, ErrQueryFailed)
	assert.False(t, disbursed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// ==========================
// Polling
// ==========================

func TestClaimDuePolls(t *testing.T) {
	s, mock, _ := newStore(t)
	now := time.Now()

	mock.ExpectQuery(`FOR UPDATE SKIP LOCKED`).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), 50).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("la-1").AddRow("la-2"))

	ids, err := s.ClaimDuePolls(context.Background(), now, now.Add(time.Minute), 50)

	require.NoError(t, err)
	assert.Equal(t, []string{"la-1", "la-2"}, ids)
}

func TestSetNextPoll_NilStopsPolling(t *testing.T) {
	s, mock, _ := newStore(t)

	mock.ExpectExec(`SET next_poll_at = `).
		WithArgs("la-1", nil, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.SetNextPoll(context.Background(), "la-1", nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordDocumentUpload(t *testing.T) {
	s, mock, _ := newStore(t)

	mock.ExpectExec(`INSERT INTO lender_application_documents`).
		WithArgs("la-1", "doc-1", "uploaded", "ext-1", nil).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.RecordDocumentUpload(context.Background(), "la-1", "doc-1", models.UploadStatusUploaded, "ext-1", "")

	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
