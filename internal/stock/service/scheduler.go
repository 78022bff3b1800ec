package service

import (
	"context"
	"time"

	"github.com/stockflow/stockflow-backend/pkg/actor"
	"github.com/stockflow/stockflow-backend/pkg/logger"
)

const scanLockKey = "stock:low-stock-scan"

// LeaderLock lets a single replica run a periodic job
type LeaderLock interface {
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool, err error)
}

// LowStockScheduler runs the low stock scan periodically.
// With a leader lock only the replica holding it scans in a given cycle.
type LowStockScheduler struct {
	workflow *ShortageWorkflow
	leader   LeaderLock
	interval time.Duration
	logger   *logger.Logger
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewLowStockScheduler creates a new low stock scheduler. leader may be nil.
func NewLowStockScheduler(workflow *ShortageWorkflow, leader LeaderLock, interval time.Duration, log *logger.Logger) *LowStockScheduler {
	return &LowStockScheduler{
		workflow: workflow,
		leader:   leader,
		interval: interval,
		logger:   log.WithComponent("low_stock_scheduler"),
	}
}

// Start starts the scheduler in a background goroutine
func (s *LowStockScheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(actor.WithActor(ctx, actor.SystemActor()))
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		s.logger.Info().Dur("interval", s.interval).Msg("low stock scheduler started")

		// Run an initial scan immediately
		s.runScanCycle(ctx)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.logger.Info().Msg("low stock scheduler stopped")
				return
			case <-ticker.C:
				s.runScanCycle(ctx)
			}
		}
	}()
}

// Stop stops the scheduler goroutine and waits for the running cycle
func (s *LowStockScheduler) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
}

func (s *LowStockScheduler) runScanCycle(ctx context.Context) {
	if s.leader != nil {
		release, ok, err := s.leader.TryAcquire(ctx, scanLockKey, s.interval)
		if err != nil {
			s.logger.Error().Err(err).Msg("failed to acquire scan lock")
			return
		}
		if !ok {
			s.logger.Debug().Msg("another replica is scanning, skipping cycle")
			return
		}
		defer release()
	}

	start := time.Now()
	created, err := s.workflow.ScanLowStock(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("low stock scan failed")
		return
	}

	s.logger.Info().
		Dur("duration", time.Since(start)).
		Int("created", created).
		Msg("low stock scan cycle completed")
}
