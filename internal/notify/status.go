// internal/notify/status.go
package notify

import (
	"context"
	"time"

	stderrors "funding-engine/internal/common/errors"
	"funding-engine/internal/common/logger"
	"funding-engine/internal/reconcile"
)

const StatusChangedType = "lender_application.status_changed"

// Publisher sends a JSON message to a topic.
type Publisher interface {
	PublishJSON(ctx context.Context, subject string, payload interface{}, attrs map[string]string) (string, error)
}

// StatusChanged is the message published for every applied transition.
type StatusChanged struct {
	Type                 string    `json:"type"`
	LenderApplicationID  string    `json:"lenderApplicationId"`
	FundingApplicationID string    `json:"fundingApplicationId"`
	LenderReference      string    `json:"lenderReference"`
	LenderType           string    `json:"lenderType"`
	Event                string    `json:"event"`
	FromStatus           string    `json:"fromStatus"`
	ToStatus             string    `json:"toStatus"`
	Terminal             bool      `json:"terminal"`
	Source               string    `json:"source"`
	OccurredAt           time.Time `json:"occurredAt"`
}

// StatusPublisher fans applied transitions out to an SNS topic.
type StatusPublisher struct {
	publisher Publisher
	logger    logger.Logger
}

func NewStatusPublisher(p Publisher, log logger.Logger) *StatusPublisher {
	return &StatusPublisher{
		publisher: p,
		logger:    log.WithFields(map[string]interface{}{"component": "status-publisher"}),
	}
}

func (s *StatusPublisher) Deliver(ctx context.Context, t reconcile.Transition) error {
	msg := StatusChanged{
		Type:                 StatusChangedType,
		LenderApplicationID:  t.LenderApplicationID,
		FundingApplicationID: t.FundingApplicationID,
		LenderReference:      t.LenderReference,
		LenderType:           string(t.LenderType),
		Event:                t.Event.String(),
		FromStatus:           string(t.From),
		ToStatus:             string(t.To),
		Terminal:             t.To.IsTerminal(),
		Source:               t.Source,
		OccurredAt:           t.At.UTC(),
	}

	messageID, err := s.publisher.PublishJSON(ctx, "Lender application "+string(t.To), msg, map[string]string{
		"type":       StatusChangedType,
		"status":     string(t.To),
		"lenderType": string(t.LenderType),
	})
	if err != nil {
		return stderrors.NewNotificationSendFailedError("sns", err)
	}

	s.logger.Debug("status change published", map[string]interface{}{
		"lenderApplicationId": t.LenderApplicationID,
		"status":              t.To,
		"messageId":           messageID,
	})
	return nil
}

// NoopSink logs transitions when no topic is configured.
type NoopSink struct {
	logger logger.Logger
}

func NewNoopSink(log logger.Logger) *NoopSink {
	return &NoopSink{logger: log}
}

func (n *NoopSink) Deliver(ctx context.Context, t reconcile.Transition) error {
	n.logger.Debug("status change not published, sns disabled", map[string]interface{}{
		"lenderApplicationId": t.LenderApplicationID,
		"status":              t.To,
	})
	return nil
}
