package rest

import (
	"encoding/json"
	"time"

	"github.com/ledgerkit/bank-sync/internal/domain"
	"github.com/ledgerkit/bank-sync/internal/store/schema"
)

// SyncRequest is the body of POST /api/v1/connections/:provider/sync
type SyncRequest struct {
	ConnectionID         string     `json:"connectionId" binding:"required"`
	TenantID             string     `json:"tenantId" binding:"required"`
	SyncAccounts         *bool      `json:"syncAccounts"`
	SyncTransactions     *bool      `json:"syncTransactions"`
	TransactionLimit     int        `json:"transactionLimit"`
	TransactionDaysBack  int        `json:"transactionDaysBack"`
	TransactionStartDate *time.Time `json:"transactionStartDate"`
	TransactionEndDate   *time.Time `json:"transactionEndDate"`
	ForceSync            bool       `json:"forceSync"`
}

// Options converts the request into sync options. Phases left out of the
// body default to enabled.
func (r *SyncRequest) Options() domain.SyncOptions {
	opts := domain.SyncOptions{
		SyncAccounts:         true,
		SyncTransactions:     true,
		TransactionLimit:     r.TransactionLimit,
		TransactionDaysBack:  r.TransactionDaysBack,
		TransactionStartDate: r.TransactionStartDate,
		TransactionEndDate:   r.TransactionEndDate,
		ForceSync:            r.ForceSync,
		Trigger:              domain.SyncTriggerManual,
	}
	if r.SyncAccounts != nil {
		opts.SyncAccounts = *r.SyncAccounts
	}
	if r.SyncTransactions != nil {
		opts.SyncTransactions = *r.SyncTransactions
	}
	return opts
}

// SyncResponse is the 202 body of a sync trigger
type SyncResponse struct {
	Success bool               `json:"success"`
	JobID   string             `json:"jobId"`
	Summary domain.SyncSummary `json:"summary"`
}

// ConnectResponse carries the provider authorization URL for the connect flow
type ConnectResponse struct {
	Success bool   `json:"success"`
	URL     string `json:"url"`
	State   string `json:"state"`
}

// ConnectionResponse is the external representation of a connection
type ConnectionResponse struct {
	ID                  string          `json:"id"`
	TenantID            string          `json:"tenantId"`
	Provider            string          `json:"provider"`
	Status              string          `json:"status"`
	ExternalOrgID       *string         `json:"externalOrgId,omitempty"`
	HealthScore         float64         `json:"healthScore"`
	ConsecutiveFailures int             `json:"consecutiveFailures"`
	LastSyncAt          *time.Time      `json:"lastSyncAt,omitempty"`
	NextSyncAt          *time.Time      `json:"nextSyncAt,omitempty"`
	LastError           *string         `json:"lastError,omitempty"`
	LastSyncSummary     json.RawMessage `json:"lastSyncSummary,omitempty"`
	CreatedAt           time.Time       `json:"createdAt"`
}

func toConnectionResponse(conn *schema.Connection) ConnectionResponse {
	return ConnectionResponse{
		ID:                  conn.ID,
		TenantID:            conn.TenantID,
		Provider:            string(conn.ProviderID),
		Status:              string(conn.Status),
		ExternalOrgID:       conn.ExternalOrgID,
		HealthScore:         conn.HealthScore,
		ConsecutiveFailures: conn.ConsecutiveFailures,
		LastSyncAt:          conn.LastSyncAt,
		NextSyncAt:          conn.NextSyncAt,
		LastError:           conn.LastError,
		LastSyncSummary:     json.RawMessage(conn.LastSyncSummary),
		CreatedAt:           conn.CreatedAt,
	}
}

// ConnectionHealthResponse is the body of GET /api/v1/connections/:id/health
type ConnectionHealthResponse struct {
	ConnectionID        string  `json:"connectionId"`
	Status              string  `json:"status"`
	HealthScore         float64 `json:"healthScore"`
	ConsecutiveFailures int     `json:"consecutiveFailures"`
	LastError           *string `json:"lastError,omitempty"`
	JobsTotal           int     `json:"jobsTotal"`
	JobsCompleted       int     `json:"jobsCompleted"`
	JobsFailed          int     `json:"jobsFailed"`
}

// JobResponse is the external representation of an ingestion job
type JobResponse struct {
	ID              string          `json:"id"`
	ConnectionID    string          `json:"connectionId"`
	TenantID        string          `json:"tenantId"`
	Trigger         string          `json:"trigger"`
	Status          string          `json:"status"`
	RecordsFetched  int             `json:"recordsFetched"`
	RecordsImported int             `json:"recordsImported"`
	RecordsFailed   int             `json:"recordsFailed"`
	Summary         json.RawMessage `json:"summary,omitempty"`
	StartedAt       time.Time       `json:"startedAt"`
	CompletedAt     *time.Time      `json:"completedAt,omitempty"`
}

func toJobResponse(job *schema.IngestionJob) JobResponse {
	return JobResponse{
		ID:              job.ID,
		ConnectionID:    job.ConnectionID,
		TenantID:        job.TenantID,
		Trigger:         string(job.Trigger),
		Status:          string(job.Status),
		RecordsFetched:  job.RecordsFetched,
		RecordsImported: job.RecordsImported,
		RecordsFailed:   job.RecordsFailed,
		Summary:         json.RawMessage(job.Summary),
		StartedAt:       job.StartedAt,
		CompletedAt:     job.CompletedAt,
	}
}
