package scheduler

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"

	"github.com/ledgerkit/bank-sync/internal/adapter"
	"github.com/ledgerkit/bank-sync/internal/config"
	"github.com/ledgerkit/bank-sync/internal/domain"
	"github.com/ledgerkit/bank-sync/internal/logger"
	"github.com/ledgerkit/bank-sync/internal/messaging"
	"github.com/ledgerkit/bank-sync/internal/store"
	"github.com/ledgerkit/bank-sync/internal/webhook"
)

// Scheduler periodically scans for connections whose next sync is due and
// enqueues a sync request for each. Actual sync work happens in the workers,
// so a slow provider cannot stall the scan loop.
type Scheduler struct {
	store     store.Store
	publisher messaging.Publisher
	clock     adapter.Clock
	cfg       config.SchedulerConfig
}

// NewScheduler creates a scheduler
func NewScheduler(s store.Store, publisher messaging.Publisher, clock adapter.Clock, cfg config.SchedulerConfig) *Scheduler {
	return &Scheduler{
		store:     s,
		publisher: publisher,
		clock:     clock,
		cfg:       cfg,
	}
}

// Run scans on the configured interval until the context is canceled
func (s *Scheduler) Run(ctx context.Context) error {
	logger.Info("scheduler started",
		zap.Duration("scanInterval", s.cfg.ScanInterval),
		zap.Int("batchLimit", s.cfg.BatchLimit))

	// first scan happens immediately, the ticker paces the rest
	s.scan(ctx)

	ticker := s.clock.NewTicker(s.cfg.ScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.publisher.CloseChan():
			return fmt.Errorf("publisher closed")
		case <-ticker.Chan():
			s.scan(ctx)
		}
	}
}

// scan enqueues one sync request per due connection. Publish failures leave
// next_sync_at untouched so the connection is retried on the next scan.
func (s *Scheduler) scan(ctx context.Context) {
	now := s.clock.Now()
	due, err := s.store.ListConnectionsDue(ctx, now, s.cfg.BatchLimit)
	if err != nil {
		logger.ErrorCtx(ctx, fmt.Errorf("failed to list due connections: %w", err))
		return
	}
	if len(due) == 0 {
		return
	}

	logger.InfoCtx(ctx, "due connections found", zap.Int("count", len(due)))

	enqueued := 0
	for _, conn := range due {
		opts := domain.DefaultSyncOptions()
		event := webhook.NewSyncRequestEvent(conn.ID, conn.TenantID, conn.ProviderID, opts)
		if err := s.publisher.PublishSyncRequest(ctx, event); err != nil {
			logger.ErrorCtx(ctx, fmt.Errorf("failed to enqueue sync request: %w", err),
				zap.String("connectionID", conn.ID))
			continue
		}

		// push next_sync_at forward so overlapping scans do not double-enqueue;
		// jitter of up to 10% spreads a fleet enrolled at the same time
		jitter := time.Duration(rand.Float64() * 0.1 * float64(s.cfg.DefaultSyncInterval)) //nolint:gosec,G404
		next := now.Add(s.cfg.DefaultSyncInterval + jitter)
		conn.NextSyncAt = &next
		if err := s.store.UpdateConnection(ctx, conn); err != nil {
			logger.WarnCtx(ctx, "failed to advance next sync time",
				zap.String("connectionID", conn.ID), zap.Error(err))
		}
		enqueued++
	}

	logger.InfoCtx(ctx, "scan finished", zap.Int("enqueued", enqueued))
}
