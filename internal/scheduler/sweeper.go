// internal/scheduler/sweeper.go
package scheduler

import (
	"context"
	"time"

	"funding-engine/internal/common/logger"
)

// DuePollClaimer hands out lender applications whose next poll is due.
type DuePollClaimer interface {
	ClaimDuePolls(ctx context.Context, now, leaseUntil time.Time, limit int) ([]string, error)
}

// Scheduler is the subset of PollScheduler the sweeper needs.
type Scheduler interface {
	SchedulePoll(ctx context.Context, lenderApplicationID string)
}

type SweeperConfig struct {
	Interval  time.Duration
	Lease     time.Duration
	BatchSize int
}

// Sweeper is the recurring poll source: on every tick it claims due rows and
// schedules a poll for each.
type Sweeper struct {
	config    *SweeperConfig
	store     DuePollClaimer
	scheduler Scheduler
	logger    logger.Logger
	now       func() time.Time
}

func NewSweeper(config *SweeperConfig, store DuePollClaimer, scheduler Scheduler, log logger.Logger) *Sweeper {
	if config.Interval <= 0 {
		config.Interval = time.Minute
	}
	if config.Lease <= 0 {
		config.Lease = 15 * time.Minute
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 100
	}
	return &Sweeper{
		config:    config,
		store:     store,
		scheduler: scheduler,
		logger:    log.WithFields(map[string]interface{}{"component": "poll-sweeper"}),
		now:       time.Now,
	}
}

// Run sweeps until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	s.logger.Info("poll sweeper started", map[string]interface{}{
		"interval_ms": s.config.Interval.Milliseconds(),
		"batchSize":   s.config.BatchSize,
	})

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("poll sweeper stopped", nil)
			return
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil {
				s.logger.Error("poll sweep failed", map[string]interface{}{"error": err.Error()})
			}
		}
	}
}

// SweepOnce claims one batch of due rows and schedules them. A full batch is
// followed immediately by another until the backlog is drained.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	total := 0
	for {
		now := s.now()
		ids, err := s.store.ClaimDuePolls(ctx, now, now.Add(s.config.Lease), s.config.BatchSize)
		if err != nil {
			return total, err
		}

		for _, id := range ids {
			s.scheduler.SchedulePoll(ctx, id)
		}
		total += len(ids)

		if len(ids) < s.config.BatchSize || ctx.Err() != nil {
			break
		}
	}

	if total > 0 {
		s.logger.Info("due polls scheduled", map[string]interface{}{"count": total})
	}
	return total, nil
}
