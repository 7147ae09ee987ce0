package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	awsclients "funding-engine/internal/common/aws"
	stderrors "funding-engine/internal/common/errors"
	"funding-engine/internal/common/logger"
	"funding-engine/internal/models"
	"funding-engine/internal/reconcile"
	"funding-engine/internal/submission"
	"funding-engine/internal/tasks"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ==========================
// Test doubles
// ==========================

type fakeSES struct {
	inputs []*ses.SendEmailInput
	err    error
}

func (f *fakeSES) SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error) {
	f.inputs = append(f.inputs, params)
	if f.err != nil {
		return nil, f.err
	}
	return &ses.SendEmailOutput{MessageId: aws.String("ses-1")}, nil
}

type fakeSNS struct {
	inputs []*sns.PublishInput
	err    error
}

func (f *fakeSNS) Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error) {
	f.inputs = append(f.inputs, params)
	if f.err != nil {
		return nil, f.err
	}
	return &sns.PublishOutput{MessageId: aws.String("sns-1")}, nil
}

type recordingQueue struct {
	tasks []tasks.Task
	err   error
}

func (q *recordingQueue) Enqueue(t tasks.Task) error {
	if q.err != nil {
		return q.err
	}
	q.tasks = append(q.tasks, t)
	return nil
}

func disbursedTransition() reconcile.Transition {
	return reconcile.Transition{
		LenderApplicationID:  "la-1",
		FundingApplicationID: "fa-1",
		LenderReference:      "dl-42",
		LenderType:           models.LenderTypeDirectLine,
		Event:                models.EventLoanDisbursed,
		From:                 models.StatusContractSigned,
		To:                   models.StatusDisbursed,
		Source:               reconcile.SourceWebhook,
		At:                   time.Date(2026, 5, 4, 9, 45, 0, 0, time.UTC),
	}
}

// ==========================
// Status publisher
// ==========================

func TestStatusPublisher_Deliver(t *testing.T) {
	api := &fakeSNS{}
	pub := NewStatusPublisher(awsclients.NewSNSClientWithAPI(api, "arn:aws:sns:eu-west-1:123:lender-status"), logger.NewNoOpLogger())

	require.NoError(t, pub.Deliver(context.Background(), disbursedTransition()))

	require.Len(t, api.inputs, 1)
	in := api.inputs[0]
	assert.Equal(t, "arn:aws:sns:eu-west-1:123:lender-status", aws.ToString(in.TopicArn))
	assert.Equal(t, "disbursed", aws.ToString(in.MessageAttributes["status"].StringValue))
	assert.Equal(t, "direct-line", aws.ToString(in.MessageAttributes["lenderType"].StringValue))

	var msg StatusChanged
	require.NoError(t, json.Unmarshal([]byte(aws.ToString(in.Message)), &msg))
	assert.Equal(t, StatusChangedType, msg.Type)
	assert.Equal(t, "contract_signed", msg.FromStatus)
	assert.Equal(t, "disbursed", msg.ToStatus)
	assert.Equal(t, "loanDisbursed", msg.Event)
	assert.True(t, msg.Terminal)
}

func TestStatusPublisher_DeliverError(t *testing.T) {
	api := &fakeSNS{err: errors.New("throttled")}
	pub := NewStatusPublisher(awsclients.NewSNSClientWithAPI(api, "arn"), logger.NewNoOpLogger())

	err := pub.Deliver(context.Background(), disbursedTransition())

	stdErr, ok := stderrors.As(err)
	require.True(t, ok)
	assert.Equal(t, stderrors.ErrCodeNotificationSendFailed, stdErr.Code)
}

func TestNoopSink(t *testing.T) {
	assert.NoError(t, NewNoopSink(logger.NewNoOpLogger()).Deliver(context.Background(), disbursedTransition()))
}

// ==========================
// Ops alerts
// ==========================

func TestOpsAlerter_ReportOrphanIsQueued(t *testing.T) {
	api := &fakeSES{}
	queue := &recordingQueue{}
	alerter := NewOpsAlerter(awsclients.NewSESClientWithAPI(api, "engine@example.com"), "ops@example.com", queue, logger.NewNoOpLogger())

	alerter.ReportOrphan(context.Background(), reconcile.Event{
		Type:      models.EventOffersCreated,
		Name:      "offersCreated",
		UUID:      "evt-7",
		Reference: "ghost",
	}, reconcile.SourceWebhook)

	assert.Empty(t, api.inputs)
	require.Len(t, queue.tasks, 1)
	assert.Equal(t, TaskKindOrphanAlert, queue.tasks[0].Kind)

	require.NoError(t, queue.tasks[0].Run(context.Background()))
	require.Len(t, api.inputs, 1)
	in := api.inputs[0]
	assert.Equal(t, []string{"ops@example.com"}, in.Destination.ToAddresses)
	assert.Equal(t, "engine@example.com", aws.ToString(in.Source))
	assert.Contains(t, aws.ToString(in.Message.Subject.Data), "ghost")
	assert.Contains(t, aws.ToString(in.Message.Body.Text.Data), "evt-7")
}

func TestOpsAlerter_ReportOrphanQueueFull(t *testing.T) {
	api := &fakeSES{}
	alerter := NewOpsAlerter(awsclients.NewSESClientWithAPI(api, "engine@example.com"), "ops@example.com",
		&recordingQueue{err: errors.New("task queue full")}, logger.NewNoOpLogger())

	assert.NotPanics(t, func() {
		alerter.ReportOrphan(context.Background(), reconcile.Event{Reference: "ghost"}, reconcile.SourcePoll)
	})
	assert.Empty(t, api.inputs)
}

func TestOpsAlerter_SubmissionFailed(t *testing.T) {
	api := &fakeSES{}
	alerter := NewOpsAlerter(awsclients.NewSESClientWithAPI(api, "engine@example.com"), "ops@example.com", &recordingQueue{}, logger.NewNoOpLogger())

	err := alerter.SubmissionFailed(context.Background(), "fa-1", []submission.LenderError{
		{LenderID: "l-1", LenderName: "Alpha", Code: "LENDER_TIMEOUT", Message: "Lender did not respond in time"},
		{LenderID: "l-2", LenderName: "Beta", Code: "LENDER_SUBMISSION_FAILED", Message: "Lender rejected the submission"},
	})

	require.NoError(t, err)
	require.Len(t, api.inputs, 1)
	body := aws.ToString(api.inputs[0].Message.Body.Text.Data)
	assert.Contains(t, body, "fa-1")
	assert.Contains(t, body, "Alpha (l-1): LENDER_TIMEOUT")
	assert.Contains(t, body, "Beta (l-2): LENDER_SUBMISSION_FAILED")
}

func TestOpsAlerter_SendError(t *testing.T) {
	api := &fakeSES{err: errors.New("message rejected")}
	alerter := NewOpsAlerter(awsclients.NewSESClientWithAPI(api, "engine@example.com"), "ops@example.com", &recordingQueue{}, logger.NewNoOpLogger())

	err := alerter.SubmissionFailed(context.Background(), "fa-1", nil)

	stdErr, ok := stderrors.As(err)
	require.True(t, ok)
	assert.Equal(t, stderrors.ErrCodeNotificationSendFailed, stdErr.Code)
}

func TestLogAlerter(t *testing.T) {
	l := NewLogAlerter(logger.NewNoOpLogger())
	l.ReportOrphan(context.Background(), reconcile.Event{Reference: "ghost"}, reconcile.SourceWebhook)
	assert.NoError(t, l.SubmissionFailed(context.Background(), "fa-1", nil))
}
