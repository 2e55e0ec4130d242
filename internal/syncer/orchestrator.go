package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/ledgerkit/bank-sync/internal/adapter"
	"github.com/ledgerkit/bank-sync/internal/config"
	"github.com/ledgerkit/bank-sync/internal/domain"
	"github.com/ledgerkit/bank-sync/internal/logger"
	"github.com/ledgerkit/bank-sync/internal/providers"
	"github.com/ledgerkit/bank-sync/internal/store"
	"github.com/ledgerkit/bank-sync/internal/store/schema"
	"github.com/ledgerkit/bank-sync/internal/token"
)

// Orchestrator runs one sync attempt for a connection end to end: job
// lifecycle, credential resolution, account listing, per-account transaction
// fetches and the final seal.
type Orchestrator struct {
	store    store.Store
	registry *providers.Registry
	tokens   *token.Manager
	planner  *Planner
	batch    *BatchEngine
	health   *HealthTracker
	clock    adapter.Clock
	json     adapter.JSON

	accountConcurrency int
	nextSyncInterval   time.Duration
}

// NewOrchestrator creates an orchestrator. nextSyncInterval is how far ahead
// the connection's next scheduled sync is pushed after each attempt.
func NewOrchestrator(
	s store.Store,
	registry *providers.Registry,
	tokens *token.Manager,
	clock adapter.Clock,
	json adapter.JSON,
	cfg config.SyncConfig,
	nextSyncInterval time.Duration,
) *Orchestrator {
	concurrency := cfg.AccountConcurrency
	if concurrency <= 0 {
		concurrency = 3
	}
	return &Orchestrator{
		store:              s,
		registry:           registry,
		tokens:             tokens,
		planner:            NewPlanner(cfg),
		batch:              NewBatchEngine(s, json, cfg.BatchSize),
		health:             NewHealthTracker(s, clock),
		clock:              clock,
		json:               json,
		accountConcurrency: concurrency,
		nextSyncInterval:   nextSyncInterval,
	}
}

// PerformSync creates a new ingestion job for the connection and runs it
func (o *Orchestrator) PerformSync(ctx context.Context, connectionID, tenantID string, opts domain.SyncOptions) (*domain.SyncResult, error) {
	return o.run(ctx, "", connectionID, tenantID, opts)
}

// ExecuteJob runs a pre-created pending job (async API requests publish the
// job id with the sync request). Re-delivery of an already sealed job returns
// its recorded outcome without re-syncing.
func (o *Orchestrator) ExecuteJob(ctx context.Context, jobID, connectionID, tenantID string, opts domain.SyncOptions) (*domain.SyncResult, error) {
	return o.run(ctx, jobID, connectionID, tenantID, opts)
}

func (o *Orchestrator) run(ctx context.Context, jobID, connectionID, tenantID string, opts domain.SyncOptions) (*domain.SyncResult, error) {
	now := o.clock.Now()
	if opts.Trigger == "" {
		opts.Trigger = domain.SyncTriggerManual
	}

	conn, err := o.store.GetConnection(ctx, connectionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load connection: %w", err)
	}
	if conn == nil || (tenantID != "" && conn.TenantID != tenantID) {
		return nil, domain.ErrConnectionNotFound
	}

	job, sealed, err := o.claimJob(ctx, jobID, conn, opts, now)
	if err != nil {
		return nil, err
	}
	if sealed != nil {
		return sealed, nil
	}

	logger.InfoCtx(ctx, "sync started",
		zap.String("jobID", job.ID),
		zap.String("connectionID", conn.ID),
		zap.String("provider", string(conn.ProviderID)),
		zap.String("trigger", string(opts.Trigger)))

	summary := domain.SyncSummary{StartedAt: now}
	var firstErr error
	fail := func(err error) {
		summary.Errors = append(summary.Errors, err.Error())
		if firstErr == nil {
			firstErr = err
		}
	}

	provider, err := o.registry.Get(conn.ProviderID)
	if err != nil {
		fail(err)
		return o.seal(ctx, conn, job, &summary, firstErr)
	}

	creds, err := o.tokens.Credentials(ctx, conn.ID, provider)
	if err != nil {
		fail(fmt.Errorf("failed to resolve credentials: %w", err))
		return o.seal(ctx, conn, job, &summary, firstErr)
	}

	if opts.SyncAccounts {
		if err := o.syncAccounts(ctx, provider, creds, conn, &summary); err != nil {
			fail(err)
			if domain.RequiresReconnect(err) {
				return o.seal(ctx, conn, job, &summary, firstErr)
			}
		}
	}

	if opts.SyncTransactions {
		fetched := o.syncTransactions(ctx, provider, creds, conn, opts, now, &summary, fail)
		job.RecordsFetched = fetched
	}

	return o.seal(ctx, conn, job, &summary, firstErr)
}

// claimJob creates a fresh running job, or transitions a pre-created pending
// job to running. A job already sealed by a previous delivery is returned as
// its recorded result.
func (o *Orchestrator) claimJob(ctx context.Context, jobID string, conn *schema.Connection, opts domain.SyncOptions, now time.Time) (*schema.IngestionJob, *domain.SyncResult, error) {
	if jobID == "" {
		job := &schema.IngestionJob{
			ID:           uuid.NewString(),
			ConnectionID: conn.ID,
			TenantID:     conn.TenantID,
			Trigger:      opts.Trigger,
			Status:       schema.JobStatusRunning,
			StartedAt:    now,
		}
		if err := o.store.CreateIngestionJob(ctx, job); err != nil {
			return nil, nil, fmt.Errorf("failed to create ingestion job: %w", err)
		}
		return job, nil, nil
	}

	job, err := o.store.GetIngestionJob(ctx, jobID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load ingestion job: %w", err)
	}
	if job == nil {
		return nil, nil, fmt.Errorf("ingestion job %s not found", jobID)
	}
	if job.Status.IsTerminal() {
		logger.WarnCtx(ctx, "skipping already sealed job", zap.String("jobID", job.ID), zap.String("status", string(job.Status)))
		var summary domain.SyncSummary
		if len(job.Summary) > 0 {
			if err := o.json.Unmarshal(job.Summary, &summary); err != nil {
				logger.WarnCtx(ctx, "failed to decode sealed job summary", zap.String("jobID", job.ID), zap.Error(err))
			}
		}
		return nil, &domain.SyncResult{JobID: job.ID, Status: string(job.Status), Summary: summary}, nil
	}

	job.Status = schema.JobStatusRunning
	job.StartedAt = now
	if err := o.store.UpdateIngestionJob(ctx, job); err != nil {
		return nil, nil, fmt.Errorf("failed to claim ingestion job: %w", err)
	}
	return job, nil, nil
}

func (o *Orchestrator) syncAccounts(ctx context.Context, provider providers.Provider, creds domain.Credentials, conn *schema.Connection, summary *domain.SyncSummary) error {
	listed, err := provider.FetchAccounts(ctx, creds)
	if err != nil {
		return fmt.Errorf("failed to fetch accounts: %w", err)
	}

	result, err := o.batch.UpsertAccounts(ctx, conn, listed)
	if err != nil {
		return fmt.Errorf("failed to store accounts: %w", err)
	}

	summary.AccountsSynced = result.Synced
	summary.AccountsCreated = result.Created
	summary.AccountsUpdated = result.Updated
	summary.Warnings = append(summary.Warnings, result.Warnings...)
	if result.Closed > 0 {
		summary.Warnings = append(summary.Warnings, fmt.Sprintf("%d accounts closed, missing from provider listing", result.Closed))
	}
	return nil
}

type accountOutcome struct {
	externalID string
	fetched    int
	result     *TransactionsResult
	skipped    string
	err        error
}

// syncTransactions fans the per-account work out over a bounded pool. Each
// account plans its own window, fetches, upserts and advances its cursor
// independently so one failing account cannot block the rest.
func (o *Orchestrator) syncTransactions(
	ctx context.Context,
	provider providers.Provider,
	creds domain.Credentials,
	conn *schema.Connection,
	opts domain.SyncOptions,
	now time.Time,
	summary *domain.SyncSummary,
	fail func(error),
) int {
	accounts, err := o.store.ListSyncEnabledAccounts(ctx, conn.ID)
	if err != nil {
		fail(fmt.Errorf("failed to list accounts: %w", err))
		return 0
	}

	pool := pond.NewResultPool[*accountOutcome](o.accountConcurrency)
	defer pool.StopAndWait()

	tasks := make([]pond.Result[*accountOutcome], 0, len(accounts))
	for _, account := range accounts {
		tasks = append(tasks, pool.Submit(func() *accountOutcome {
			return o.syncAccountTransactions(ctx, provider, creds, conn, account, opts, now)
		}))
	}

	fetched := 0
	for _, task := range tasks {
		outcome, err := task.Wait()
		if err != nil {
			fail(fmt.Errorf("account sync task: %w", err))
			continue
		}
		if outcome.skipped != "" {
			summary.Warnings = append(summary.Warnings, outcome.skipped)
			continue
		}
		if outcome.err != nil {
			fail(fmt.Errorf("account %s: %w", outcome.externalID, outcome.err))
			continue
		}
		fetched += outcome.fetched
		summary.TransactionsSynced += outcome.result.Imported
		summary.TransactionsCreated += outcome.result.Created
		summary.TransactionsUpdated += outcome.result.Updated
		summary.Warnings = append(summary.Warnings, outcome.result.Warnings...)
	}
	return fetched
}

func (o *Orchestrator) syncAccountTransactions(
	ctx context.Context,
	provider providers.Provider,
	creds domain.Credentials,
	conn *schema.Connection,
	account *schema.Account,
	opts domain.SyncOptions,
	now time.Time,
) *accountOutcome {
	outcome := &accountOutcome{externalID: account.ExternalID}

	window, err := o.planner.PlanWindow(account, opts, now)
	if err != nil {
		if errors.Is(err, domain.ErrSyncSkipped) {
			outcome.skipped = err.Error()
			return outcome
		}
		outcome.err = err
		return outcome
	}

	txns, err := provider.FetchTransactions(ctx, creds, account.ExternalID, domain.TransactionQuery{
		StartDate: window.Start,
		EndDate:   window.End,
		Limit:     opts.TransactionLimit,
	})
	if err != nil {
		outcome.err = err
		return outcome
	}
	outcome.fetched = len(txns)

	result, err := o.batch.UpsertTransactions(ctx, conn, account, txns)
	if err != nil {
		outcome.err = err
		return outcome
	}
	outcome.result = result

	if err := o.store.UpdateAccountLastSynced(ctx, account.ID, window.End); err != nil {
		logger.WarnCtx(ctx, "failed to advance account sync cursor",
			zap.String("connectionID", conn.ID),
			zap.String("accountExternalID", account.ExternalID),
			zap.Error(err))
	}

	logger.DebugCtx(ctx, "account transactions synced",
		zap.String("accountExternalID", account.ExternalID),
		zap.Time("windowStart", window.Start),
		zap.Time("windowEnd", window.End),
		zap.Int("fetched", outcome.fetched))
	return outcome
}

// seal writes the terminal job status and updates the connection's health.
// Attempts that imported at least one record complete even when some records
// errored; attempts that imported nothing and errored fail.
func (o *Orchestrator) seal(ctx context.Context, conn *schema.Connection, job *schema.IngestionJob, summary *domain.SyncSummary, firstErr error) (*domain.SyncResult, error) {
	completedAt := o.clock.Now()
	summary.CompletedAt = &completedAt
	summary.SyncDurationMs = completedAt.Sub(summary.StartedAt).Milliseconds()

	imported := summary.AccountsSynced + summary.TransactionsSynced
	switch {
	case imported > 0 && len(summary.Errors) > 0:
		job.Status = schema.JobStatusCompletedWithErrors
	case imported == 0 && len(summary.Errors) > 0:
		job.Status = schema.JobStatusFailed
	default:
		job.Status = schema.JobStatusCompleted
	}

	job.RecordsImported = imported
	job.RecordsFailed = len(summary.Errors)
	if job.RecordsFetched < imported {
		job.RecordsFetched = imported
	}
	job.CompletedAt = &completedAt

	encoded, err := o.json.Marshal(summary)
	if err != nil {
		logger.ErrorCtx(ctx, fmt.Errorf("failed to encode sync summary: %w", err), zap.String("jobID", job.ID))
	} else {
		job.Summary = datatypes.JSON(encoded)
	}

	if err := o.store.UpdateIngestionJob(ctx, job); err != nil {
		logger.ErrorCtx(ctx, fmt.Errorf("failed to seal ingestion job: %w", err), zap.String("jobID", job.ID))
	}

	if job.Status == schema.JobStatusFailed {
		o.health.RecordSyncFailure(ctx, conn, firstErr)
	} else {
		o.health.RecordSyncSuccess(ctx, conn)
	}
	conn.LastSyncAt = &completedAt
	next := completedAt.Add(o.nextSyncInterval)
	conn.NextSyncAt = &next
	if encoded != nil {
		conn.LastSyncSummary = datatypes.JSON(encoded)
	}
	if err := o.store.UpdateConnection(ctx, conn); err != nil {
		logger.ErrorCtx(ctx, fmt.Errorf("failed to update connection after sync: %w", err), zap.String("connectionID", conn.ID))
	}

	logger.InfoCtx(ctx, "sync sealed",
		zap.String("jobID", job.ID),
		zap.String("connectionID", conn.ID),
		zap.String("status", string(job.Status)),
		zap.Int("imported", imported),
		zap.Int("errors", len(summary.Errors)),
		zap.Float64("healthScore", conn.HealthScore))

	result := &domain.SyncResult{JobID: job.ID, Status: string(job.Status), Summary: *summary}
	if job.Status == schema.JobStatusFailed {
		return result, firstErr
	}
	return result, nil
}
