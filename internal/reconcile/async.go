// internal/reconcile/async.go
package reconcile

import (
	"context"

	"funding-engine/internal/common/logger"
	"funding-engine/internal/tasks"
)

// Sink is a synchronous transition consumer (audit index, status topic).
type Sink interface {
	Deliver(ctx context.Context, t Transition) error
}

// Enqueuer accepts fire-and-forget tasks.
type Enqueuer interface {
	Enqueue(t tasks.Task) error
}

type asyncListener struct {
	kind   string
	queue  Enqueuer
	sink   Sink
	logger logger.Logger
}

// AsyncListener adapts sink into a Listener that delivers from the task queue,
// so a slow sink never holds up the webhook or poll that caused the transition.
func AsyncListener(kind string, queue Enqueuer, sink Sink, log logger.Logger) Listener {
	return &asyncListener{kind: kind, queue: queue, sink: sink, logger: log}
}

func (a *asyncListener) OnTransition(_ context.Context, t Transition) {
	err := a.queue.Enqueue(tasks.Task{
		Kind: a.kind,
		Run: func(ctx context.Context) error {
			return a.sink.Deliver(ctx, t)
		},
	})
	if err != nil {
		a.logger.Warn("transition delivery not queued", map[string]interface{}{
			"kind":                a.kind,
			"lenderApplicationId": t.LenderApplicationID,
			"error":               err.Error(),
		})
	}
}
