// internal/tasks/dispatcher.go
package tasks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"funding-engine/internal/common/logger"
	"funding-engine/internal/common/metrics"
)

var ErrDispatcherClosed = errors.New("TASK_DISPATCHER_CLOSED")

// Task is one unit of fire-and-forget work.
type Task struct {
	Kind string
	// Timeout bounds Run; zero means the dispatcher default.
	Timeout time.Duration
	Run     func(ctx context.Context) error
}

// Failure is delivered on the Errors channel when a task returns an error.
type Failure struct {
	Kind string
	Err  error
	At   time.Time
}

type Config struct {
	Workers        int
	BufferSize     int
	DefaultTimeout time.Duration
}

// Dispatcher runs tasks on a fixed worker pool fed by a bounded queue.
// Enqueue never blocks the caller; task errors are reported on Errors()
// instead of being returned.
type Dispatcher struct {
	config *Config
	logger logger.Logger

	queue chan Task
	errs  chan Failure

	mu     sync.RWMutex
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewDispatcher(config *Config, log logger.Logger) *Dispatcher {
	if config.Workers <= 0 {
		config.Workers = 4
	}
	if config.BufferSize <= 0 {
		config.BufferSize = 256
	}
	if config.DefaultTimeout <= 0 {
		config.DefaultTimeout = time.Minute
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		config: config,
		logger: log.WithFields(map[string]interface{}{"component": "task-dispatcher"}),
		queue:  make(chan Task, config.BufferSize),
		errs:   make(chan Failure, config.BufferSize),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start launches the worker pool.
func (d *Dispatcher) Start() {
	for i := 0; i < d.config.Workers; i++ {
		d.wg.Add(1)
		go d.work()
	}
	d.logger.Info("task dispatcher started", map[string]interface{}{
		"workers":    d.config.Workers,
		"bufferSize": d.config.BufferSize,
	})
}

// Enqueue queues t. It returns ErrDispatcherClosed after Shutdown and a
// queue-full error when the buffer is saturated; the task is dropped in both cases.
func (d *Dispatcher) Enqueue(t Task) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return ErrDispatcherClosed
	}

	select {
	case d.queue <- t:
		metrics.TaskQueueDepth.Set(float64(len(d.queue)))
		return nil
	default:
		metrics.TasksFailed.WithLabelValues(t.Kind).Inc()
		d.logger.Warn("task queue full, dropping task", map[string]interface{}{
			"kind": t.Kind,
		})
		return fmt.Errorf("task queue full: dropped %s", t.Kind)
	}
}

// Errors exposes task failures. Failures are dropped when nobody drains it.
func (d *Dispatcher) Errors() <-chan Failure {
	return d.errs
}

func (d *Dispatcher) work() {
	defer d.wg.Done()
	for t := range d.queue {
		metrics.TaskQueueDepth.Set(float64(len(d.queue)))
		d.run(t)
	}
}

func (d *Dispatcher) run(t Task) {
	timeout := t.Timeout
	if timeout <= 0 {
		timeout = d.config.DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(d.ctx, timeout)
	defer cancel()

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("task panicked: %v", r)
			}
		}()
		return t.Run(ctx)
	}()
	if err == nil {
		return
	}

	metrics.TasksFailed.WithLabelValues(t.Kind).Inc()
	select {
	case d.errs <- Failure{Kind: t.Kind, Err: err, At: time.Now().UTC()}:
	default:
		d.logger.Error("task failed and error channel is full", map[string]interface{}{
			"kind":  t.Kind,
			"error": err.Error(),
		})
	}
}

// Shutdown stops accepting tasks and waits for queued ones to finish. When ctx
// expires first, in-flight tasks are cancelled and ctx.Err() is returned.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		close(d.errs)
		d.logger.Info("task dispatcher drained", nil)
		return nil
	case <-ctx.Done():
		d.cancel()
		<-done
		close(d.errs)
		return ctx.Err()
	}
}

// LogFailures drains Errors() into log until the channel closes.
func LogFailures(d *Dispatcher, log logger.Logger) {
	for f := range d.Errors() {
		log.Error("async task failed", map[string]interface{}{
			"kind":  f.Kind,
			"error": f.Err.Error(),
			"at":    f.At,
		})
	}
}
