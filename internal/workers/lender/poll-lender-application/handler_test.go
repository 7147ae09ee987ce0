package polllenderapplication

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	stderrors "funding-engine/internal/common/errors"
	"funding-engine/internal/common/logger"
	"funding-engine/internal/lenders"
	"funding-engine/internal/models"
	"funding-engine/internal/reconcile"
	"funding-engine/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ==========================
// Test Helper Functions
// ==========================

type testLogger struct {
	t *testing.T
}

func (tl *testLogger) Debug(msg string, fields map[string]interface{}) {
	tl.t.Logf("DEBUG: %s %v", msg, fields)
}

func (tl *testLogger) Info(msg string, fields map[string]interface{}) {
	tl.t.Logf("INFO: %s %v", msg, fields)
}

func (tl *testLogger) Warn(msg string, fields map[string]interface{}) {
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

type fakeStore struct {
	rows      map[string]*models.LenderApplication
	getErr    error
	nextPolls map[string]*time.Time
	setErr    error
}

func (f *fakeStore) GetByID(ctx context.Context, id string) (*models.LenderApplication, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	la, ok := f.rows[id]
	if !ok {
		return nil, fmt.Errorf("%w: id %s", store.ErrNotFound, id)
	}
	return la, nil
}

func (f *fakeStore) SetNextPoll(ctx context.Context, id string, next *time.Time) error {
	if f.setErr != nil {
		return f.setErr
	}
	if f.nextPolls == nil {
		f.nextPolls = map[string]*time.Time{}
	}
	f.nextPolls[id] = next
	return nil
}

type statusClient struct {
	lenders.Client
	event string
	err   error
	refs  []string
}

func (c *statusClient) Type() models.LenderType { return models.LenderTypeStagedCredit }

func (c *statusClient) CheckStatus(ctx context.Context, ref string) (*lenders.Result, error) {
	c.refs = append(c.refs, ref)
	if c.err != nil {
		return nil, c.err
	}
	return &lenders.Result{Reference: ref, Event: c.event}, nil
}

type fakeApplier struct {
	events  []reconcile.Event
	outcome reconcile.Outcome
	err     error
}

func (f *fakeApplier) Apply(ctx context.Context, ev reconcile.Event, source string) (reconcile.Outcome, error) {
	f.events = append(f.events, ev)
	return f.outcome, f.err
}

var fixedNow = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

func submittedRow() *models.LenderApplication {
	return &models.LenderApplication{
		ID:              "la-1",
		LenderType:      models.LenderTypeStagedCredit,
		LenderReference: "sc-7",
		Status:          models.StatusSubmitted,
	}
}

func newHandler(t *testing.T, st Store, client lenders.Client, applier Applier) *Handler {
	h := NewHandler(&Config{Timeout: time.Second, PollInterval: 15 * time.Minute},
		st, lenders.NewFactory(client), applier, &testLogger{t: t})
	h.now = func() time.Time { return fixedNow }
	return h
}

// ==========================
// Core Functionality Tests
// ==========================

func TestHandler_Execute_AppliesLenderEvent(t *testing.T) {
	st := &fakeStore{rows: map[string]*models.LenderApplication{"la-1": submittedRow()}}
	client := &statusClient{event: "contractReady"}
	applier := &fakeApplier{outcome: reconcile.Outcome{
		Disposition: reconcile.DispositionApplied,
		Status:      models.StatusContractReady,
	}}

	output, err := newHandler(t, st, client, applier).Execute(context.Background(), &Input{LenderApplicationID: "la-1"})

	require.NoError(t, err)
	assert.Equal(t, []string{"sc-7"}, client.refs)
	require.Len(t, applier.events, 1)
	assert.Equal(t, models.EventContractReady, applier.events[0].Type)
	assert.Equal(t, "sc-7", applier.events[0].Reference)
	assert.Equal(t, "applied", output.Disposition)
	assert.Equal(t, "contract_ready", output.Status)

	require.NotNil(t, st.nextPolls["la-1"])
	assert.Equal(t, fixedNow.Add(15*time.Minute), *st.nextPolls["la-1"])
	assert.Equal(t, "2026-05-04T09:15:00Z", output.NextPollAt)
}

func TestHandler_Execute_TerminalOutcomeStopsRescheduling(t *testing.T) {
	st := &fakeStore{rows: map[string]*models.LenderApplication{"la-1": submittedRow()}}
	applier := &fakeApplier{outcome: reconcile.Outcome{
		Disposition: reconcile.DispositionApplied,
		Status:      models.StatusRejected,
	}}

	output, err := newHandler(t, st, &statusClient{event: "applicationDeclined"}, applier).
		Execute(context.Background(), &Input{LenderApplicationID: "la-1"})

	require.NoError(t, err)
	assert.Equal(t, "rejected", output.Status)
	assert.Empty(t, output.NextPollAt)
	assert.Nil(t, st.nextPolls)
}

func TestHandler_Execute_NoEventStillReschedules(t *testing.T) {
	st := &fakeStore{rows: map[string]*models.LenderApplication{"la-1": submittedRow()}}
	applier := &fakeApplier{}

	output, err := newHandler(t, st, &statusClient{event: ""}, applier).
		Execute(context.Background(), &Input{LenderApplicationID: "la-1"})

	require.NoError(t, err)
	assert.Equal(t, DispositionNoEvent, output.Disposition)
	assert.Empty(t, applier.events)
	assert.NotNil(t, st.nextPolls["la-1"])
}

func TestHandler_Execute_TerminalRowSkipsLender(t *testing.T) {
	row := submittedRow()
	row.Status = models.StatusDisbursed
	st := &fakeStore{rows: map[string]*models.LenderApplication{"la-1": row}}
	client := &statusClient{event: "loanDisbursed"}

	output, err := newHandler(t, st, client, &fakeApplier{}).
		Execute(context.Background(), &Input{LenderApplicationID: "la-1"})

	require.NoError(t, err)
	assert.Equal(t, "terminal", output.Disposition)
	assert.Empty(t, client.refs)
}

func TestHandler_Execute_PendingRowWithoutReference(t *testing.T) {
	row := submittedRow()
	row.Status = models.StatusPending
	row.LenderReference = ""
	st := &fakeStore{rows: map[string]*models.LenderApplication{"la-1": row}}
	client := &statusClient{}

	output, err := newHandler(t, st, client, &fakeApplier{}).
		Execute(context.Background(), &Input{LenderApplicationID: "la-1"})

	require.NoError(t, err)
	assert.Equal(t, DispositionNoReference, output.Disposition)
	assert.Empty(t, client.refs)
}

func TestHandler_Execute_NextPollErrorIsNotFatal(t *testing.T) {
	st := &fakeStore{
		rows:   map[string]*models.LenderApplication{"la-1": submittedRow()},
		setErr: errors.New("db down"),
	}

	output, err := newHandler(t, st, &statusClient{}, &fakeApplier{}).
		Execute(context.Background(), &Input{LenderApplicationID: "la-1"})

	require.NoError(t, err)
	assert.Empty(t, output.NextPollAt)
}

// ==========================
// Error Handling Tests
// ==========================

func TestHandler_Execute_Errors(t *testing.T) {
	tests := []struct {
		name    string
		input   *Input
		store   *fakeStore
		client  *statusClient
		applier *fakeApplier
		code    stderrors.ErrorCode
	}{
		{
			name:  "missing id",
			input: &Input{},
			store: &fakeStore{},
			code:  stderrors.ErrCodeValidationFailed,
		},
		{
			name:  "unknown lender application",
			input: &Input{LenderApplicationID: "ghost"},
			store: &fakeStore{rows: map[string]*models.LenderApplication{}},
			code:  stderrors.ErrCodeLenderApplicationNotFound,
		},
		{
			name:  "store failure",
			input: &Input{LenderApplicationID: "la-1"},
			store: &fakeStore{getErr: store.ErrQueryFailed},
			code:  stderrors.ErrCodeQueryExecutionFailed,
		},
		{
			name:   "lender status failure",
			input:  &Input{LenderApplicationID: "la-1"},
			store:  &fakeStore{rows: map[string]*models.LenderApplication{"la-1": submittedRow()}},
			client: &statusClient{err: errors.New("502 bad gateway")},
			code:   stderrors.ErrCodeLenderStatusFailed,
		},
		{
			name:   "lender timeout",
			input:  &Input{LenderApplicationID: "la-1"},
			store:  &fakeStore{rows: map[string]*models.LenderApplication{"la-1": submittedRow()}},
			client: &statusClient{err: fmt.Errorf("staged-credit status: %w", context.DeadlineExceeded)},
			code:   stderrors.ErrCodeLenderTimeout,
		},
		{
			name:    "reconcile failure",
			input:   &Input{LenderApplicationID: "la-1"},
			store:   &fakeStore{rows: map[string]*models.LenderApplication{"la-1": submittedRow()}},
			client:  &statusClient{event: "contractSigned"},
			applier: &fakeApplier{err: store.ErrQueryFailed},
			code:    stderrors.ErrCodePollFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := tt.client
			if client == nil {
				client = &statusClient{}
			}
			applier := tt.applier
			if applier == nil {
				applier = &fakeApplier{}
			}

			_, err := newHandler(t, tt.store, client, applier).Execute(context.Background(), tt.input)

			require.Error(t, err)
			stdErr, ok := stderrors.As(err)
			require.True(t, ok)
			assert.Equal(t, tt.code, stdErr.Code)
		})
	}
}
