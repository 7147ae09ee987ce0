// internal/scheduler/poll.go
package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"funding-engine/internal/common/camunda"
	"funding-engine/internal/common/logger"
	"funding-engine/internal/tasks"
)

const TaskKindPollTrigger = "poll-trigger"

// MessagePublisher publishes correlation messages to the workflow engine.
type MessagePublisher interface {
	PublishMessage(ctx context.Context, msg camunda.Message) error
}

// Enqueuer accepts fire-and-forget tasks.
type Enqueuer interface {
	Enqueue(t tasks.Task) error
}

type Config struct {
	MessageName string
	MessageTTL  time.Duration
	// DedupeWindow buckets message ids so repeated triggers for the same
	// application inside one window collapse at the broker.
	DedupeWindow   time.Duration
	PublishTimeout time.Duration
}

// PollScheduler turns "check this lender application now" into a broker
// message published from the task queue.
type PollScheduler struct {
	config    *Config
	publisher MessagePublisher
	queue     Enqueuer
	logger    logger.Logger
	now       func() time.Time
}

func NewPollScheduler(config *Config, publisher MessagePublisher, queue Enqueuer, log logger.Logger) *PollScheduler {
	if config.MessageName == "" {
		config.MessageName = "lender-application-check"
	}
	if config.DedupeWindow <= 0 {
		config.DedupeWindow = time.Minute
	}
	if config.PublishTimeout <= 0 {
		config.PublishTimeout = 30 * time.Second
	}
	return &PollScheduler{
		config:    config,
		publisher: publisher,
		queue:     queue,
		logger:    log.WithFields(map[string]interface{}{"component": "poll-scheduler"}),
		now:       time.Now,
	}
}

// SchedulePoll queues a poll trigger for lenderApplicationID. It never fails
// the caller: enqueue and publish errors are logged.
func (p *PollScheduler) SchedulePoll(ctx context.Context, lenderApplicationID string) {
	msg := p.message(lenderApplicationID)

	err := p.queue.Enqueue(tasks.Task{
		Kind:    TaskKindPollTrigger,
		Timeout: p.config.PublishTimeout,
		Run: func(ctx context.Context) error {
			return p.publish(ctx, msg)
		},
	})
	if err != nil {
		p.logger.Warn("poll trigger not queued", map[string]interface{}{
			"lenderApplicationId": lenderApplicationID,
			"error":               err.Error(),
		})
	}
}

func (p *PollScheduler) message(lenderApplicationID string) camunda.Message {
	bucket := p.now().UTC().Truncate(p.config.DedupeWindow).Unix()
	return camunda.Message{
		Name:           p.config.MessageName,
		CorrelationKey: lenderApplicationID,
		MessageID:      fmt.Sprintf("%s:%d", lenderApplicationID, bucket),
		TTL:            p.config.MessageTTL,
		Variables: map[string]interface{}{
			"lenderApplicationId": lenderApplicationID,
		},
	}
}

func (p *PollScheduler) publish(ctx context.Context, msg camunda.Message) error {
	err := p.publisher.PublishMessage(ctx, msg)
	if err == nil {
		p.logger.Debug("poll trigger published", map[string]interface{}{
			"lenderApplicationId": msg.CorrelationKey,
			"messageId":           msg.MessageID,
		})
		return nil
	}
	if isDuplicateMessage(err) {
		p.logger.Debug("poll trigger already published in this window", map[string]interface{}{
			"messageId": msg.MessageID,
		})
		return nil
	}
	return fmt.Errorf("publish %s for %s: %w", msg.Name, msg.CorrelationKey, err)
}

func isDuplicateMessage(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "already_exists") || strings.Contains(msg, "already published")
}
