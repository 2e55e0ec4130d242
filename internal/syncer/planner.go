package syncer

import (
	"fmt"
	"time"

	"github.com/ledgerkit/bank-sync/internal/config"
	"github.com/ledgerkit/bank-sync/internal/domain"
	"github.com/ledgerkit/bank-sync/internal/store/schema"
)

// Planner decides the transaction fetch window for one account based on its
// sync cursor and the options of the attempt.
type Planner struct {
	defaultLookback time.Duration
	overlap         time.Duration
	minInterval     time.Duration
}

// NewPlanner creates a planner from the sync configuration
func NewPlanner(cfg config.SyncConfig) *Planner {
	return &Planner{
		defaultLookback: time.Duration(cfg.DefaultLookbackDays) * 24 * time.Hour,
		overlap:         time.Duration(cfg.OverlapDays) * 24 * time.Hour,
		minInterval:     cfg.MinSyncInterval,
	}
}

// PlanWindow computes the fetch window for an account. Explicit dates in the
// options are honored verbatim (manual backfill). Never-synced accounts get
// the default lookback. Incremental syncs start a few days before the last
// cursor so late-posting transactions are re-fetched; the natural-key upsert
// makes the overlap idempotent. Accounts synced within the minimum interval
// return ErrSyncSkipped unless the attempt is forced.
func (p *Planner) PlanWindow(account *schema.Account, opts domain.SyncOptions, now time.Time) (domain.SyncWindow, error) {
	if opts.TransactionStartDate != nil {
		end := now
		if opts.TransactionEndDate != nil {
			end = *opts.TransactionEndDate
		}
		if !opts.TransactionStartDate.Before(end) {
			return domain.SyncWindow{}, fmt.Errorf("invalid sync window: start %s is not before end %s",
				opts.TransactionStartDate.Format(time.RFC3339), end.Format(time.RFC3339))
		}
		return domain.SyncWindow{Start: *opts.TransactionStartDate, End: end}, nil
	}

	if account.LastSyncedAt == nil {
		lookback := p.defaultLookback
		if opts.TransactionDaysBack > 0 {
			lookback = time.Duration(opts.TransactionDaysBack) * 24 * time.Hour
		}
		return domain.SyncWindow{Start: now.Add(-lookback), End: now}, nil
	}

	if !opts.ForceSync && now.Sub(*account.LastSyncedAt) < p.minInterval {
		return domain.SyncWindow{}, fmt.Errorf("account %s synced at %s: %w",
			account.ExternalID, account.LastSyncedAt.Format(time.RFC3339), domain.ErrSyncSkipped)
	}

	start := account.LastSyncedAt.Add(-p.overlap)
	if opts.ModifiedSince != nil {
		if hinted := opts.ModifiedSince.Add(-p.overlap); hinted.After(start) {
			start = hinted
		}
	}
	return domain.SyncWindow{Start: start, End: now}, nil
}
