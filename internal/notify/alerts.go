// internal/notify/alerts.go
package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	stderrors "funding-engine/internal/common/errors"
	"funding-engine/internal/common/logger"
	"funding-engine/internal/reconcile"
	"funding-engine/internal/submission"
	"funding-engine/internal/tasks"
)

const TaskKindOrphanAlert = "orphan-alert"

// Mailer sends a plain-text email.
type Mailer interface {
	SendText(ctx context.Context, to, subject, body string) (string, error)
}

type Enqueuer interface {
	Enqueue(t tasks.Task) error
}

// OpsAlerter emails the operations mailbox about conditions a person has to
// look at: events for unknown references and submissions no lender accepted.
type OpsAlerter struct {
	mailer Mailer
	to     string
	queue  Enqueuer
	logger logger.Logger
}

func NewOpsAlerter(mailer Mailer, to string, queue Enqueuer, log logger.Logger) *OpsAlerter {
	return &OpsAlerter{
		mailer: mailer,
		to:     to,
		queue:  queue,
		logger: log.WithFields(map[string]interface{}{"component": "ops-alerter"}),
	}
}

// ReportOrphan queues the alert so the webhook is acknowledged without waiting
// on SES.
func (a *OpsAlerter) ReportOrphan(_ context.Context, ev reconcile.Event, source string) {
	subject := fmt.Sprintf("Orphan lender event %s for %s", ev.Type, ev.Reference)
	body := fmt.Sprintf(
		"A lender event referenced no known lender application.\n\nEvent: %s\nEvent name: %s\nEvent id: %s\nLender reference: %s\nSource: %s\nOccurred at: %s\n",
		ev.Type, ev.Name, ev.UUID, ev.Reference, source, ev.OccurredAt.UTC().Format(time.RFC3339),
	)

	err := a.queue.Enqueue(tasks.Task{
		Kind: TaskKindOrphanAlert,
		Run: func(ctx context.Context) error {
			return a.send(ctx, subject, body)
		},
	})
	if err != nil {
		a.logger.Warn("orphan alert not queued", map[string]interface{}{
			"lenderReference": ev.Reference,
			"error":           err.Error(),
		})
	}
}

func (a *OpsAlerter) SubmissionFailed(ctx context.Context, fundingApplicationID string, errs []submission.LenderError) error {
	var b strings.Builder
	fmt.Fprintf(&b, "Funding application %s was not accepted by any lender.\n\n", fundingApplicationID)
	for _, e := range errs {
		fmt.Fprintf(&b, "- %s (%s): %s %s\n", e.LenderName, e.LenderID, e.Code, e.Message)
	}
	return a.send(ctx, "Submission failed for funding application "+fundingApplicationID, b.String())
}

func (a *OpsAlerter) send(ctx context.Context, subject, body string) error {
	messageID, err := a.mailer.SendText(ctx, a.to, subject, body)
	if err != nil {
		return stderrors.NewNotificationSendFailedError("ses", err)
	}
	a.logger.Info("ops alert sent", map[string]interface{}{
		"subject":   subject,
		"messageId": messageID,
	})
	return nil
}

// LogAlerter only logs; used when SES is disabled.
type LogAlerter struct {
	logger logger.Logger
}

func NewLogAlerter(log logger.Logger) *LogAlerter {
	return &LogAlerter{logger: log.WithFields(map[string]interface{}{"component": "ops-alerter"})}
}

func (l *LogAlerter) ReportOrphan(_ context.Context, ev reconcile.Event, source string) {
	l.logger.Warn("orphan lender event", map[string]interface{}{
		"event":           ev.Type.String(),
		"eventUuid":       ev.UUID,
		"lenderReference": ev.Reference,
		"source":          source,
	})
}

func (l *LogAlerter) SubmissionFailed(_ context.Context, fundingApplicationID string, errs []submission.LenderError) error {
	l.logger.Error("submission failed for every lender", map[string]interface{}{
		"fundingApplicationId": fundingApplicationID,
		"lenders":              len(errs),
	})
	return nil
}
