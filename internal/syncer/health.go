package syncer

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ledgerkit/bank-sync/internal/adapter"
	"github.com/ledgerkit/bank-sync/internal/logger"
	"github.com/ledgerkit/bank-sync/internal/store"
	"github.com/ledgerkit/bank-sync/internal/store/schema"
)

const (
	healthWindow        = 30 * 24 * time.Hour
	healthRecentWindow  = 7 * 24 * time.Hour
	recentWeight        = 0.7
	historicalWeight    = 0.3
	failurePenalty      = 0.05
	failurePenaltyDepth = 5

	// errorStatusThreshold is the consecutive-failure count at which a
	// connection is transitioned to error status
	errorStatusThreshold = 3
)

// HealthTracker derives a 0..1 reliability score from a connection's recent
// job history and maintains its failure-driven lifecycle status.
type HealthTracker struct {
	store store.Store
	clock adapter.Clock
}

// NewHealthTracker creates a health tracker
func NewHealthTracker(s store.Store, clock adapter.Clock) *HealthTracker {
	return &HealthTracker{store: s, clock: clock}
}

// CalculateHealthScore scores the last 30 days of jobs. Jobs within 7 days
// weigh 0.7, older ones 0.3, each bucket scored by its completed fraction.
// Every failed job among the 5 most recent in the recent bucket subtracts an
// extra penalty. An empty bucket counts as healthy. The result is clamped
// to [0, 1].
func CalculateHealthScore(jobs []*schema.IngestionJob, now time.Time) float64 {
	recentCutoff := now.Add(-healthRecentWindow)

	var recent, historical []*schema.IngestionJob
	for _, job := range jobs {
		if !job.Status.IsTerminal() {
			continue
		}
		if job.StartedAt.After(recentCutoff) {
			recent = append(recent, job)
		} else {
			historical = append(historical, job)
		}
	}

	score := recentWeight*completedFraction(recent) + historicalWeight*completedFraction(historical)

	// ListJobsSince returns most recent first
	depth := min(len(recent), failurePenaltyDepth)
	for _, job := range recent[:depth] {
		if job.Status == schema.JobStatusFailed {
			score -= failurePenalty
		}
	}

	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

func completedFraction(jobs []*schema.IngestionJob) float64 {
	if len(jobs) == 0 {
		return 1
	}
	completed := 0
	for _, job := range jobs {
		if job.Status == schema.JobStatusCompleted || job.Status == schema.JobStatusCompletedWithErrors {
			completed++
		}
	}
	return float64(completed) / float64(len(jobs))
}

// RecordSyncSuccess resets the failure counter, recovers an errored
// connection back to active and recomputes the health score. The caller
// persists the connection.
func (t *HealthTracker) RecordSyncSuccess(ctx context.Context, conn *schema.Connection) {
	conn.ConsecutiveFailures = 0
	conn.LastError = nil
	if conn.Status == schema.ConnectionStatusError {
		conn.Status = schema.ConnectionStatusActive
	}
	t.rescore(ctx, conn)
}

// RecordSyncFailure increments the failure counter, stores the error message
// and transitions the connection to error status once failures accumulate.
// The caller persists the connection.
func (t *HealthTracker) RecordSyncFailure(ctx context.Context, conn *schema.Connection, syncErr error) {
	conn.ConsecutiveFailures++
	msg := syncErr.Error()
	conn.LastError = &msg
	if conn.ConsecutiveFailures >= errorStatusThreshold && conn.Status == schema.ConnectionStatusActive {
		conn.Status = schema.ConnectionStatusError
		logger.WarnCtx(ctx, "connection transitioned to error status",
			zap.String("connectionID", conn.ID),
			zap.Int("consecutiveFailures", conn.ConsecutiveFailures))
	}
	t.rescore(ctx, conn)
}

func (t *HealthTracker) rescore(ctx context.Context, conn *schema.Connection) {
	now := t.clock.Now()
	jobs, err := t.store.ListJobsSince(ctx, conn.ID, now.Add(-healthWindow))
	if err != nil {
		logger.WarnCtx(ctx, "failed to load job history for health score",
			zap.String("connectionID", conn.ID), zap.Error(err))
		return
	}
	conn.HealthScore = CalculateHealthScore(jobs, now)
}
