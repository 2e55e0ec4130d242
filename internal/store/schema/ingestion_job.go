package schema

import (
	"time"

	"gorm.io/datatypes"

	"github.com/ledgerkit/bank-sync/internal/domain"
)

// JobStatus represents the status of an ingestion job
type JobStatus string

const (
	// JobStatusPending is a job created but not yet started
	JobStatusPending JobStatus = "pending"
	// JobStatusRunning is a job currently executing
	JobStatusRunning JobStatus = "running"
	// JobStatusCompleted is a job that finished without errors
	JobStatusCompleted JobStatus = "completed"
	// JobStatusCompletedWithErrors is a job that imported at least one record
	// but accumulated account- or transaction-level errors
	JobStatusCompletedWithErrors JobStatus = "completed_with_errors"
	// JobStatusFailed is a job that imported nothing
	JobStatusFailed JobStatus = "failed"
)

// IsTerminal reports whether the status seals the job
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusCompletedWithErrors || s == JobStatusFailed
}

// IngestionJob represents the ingestion_jobs table - one record per sync
// attempt. Created at sync start, sealed at sync end, immutable afterwards.
type IngestionJob struct {
	// ID is the job identifier (UUID), returned to API callers
	ID string `gorm:"column:id;primaryKey;type:uuid"`
	// ConnectionID is the connection this attempt synced
	ConnectionID string `gorm:"column:connection_id;not null;type:uuid;index:idx_ingestion_jobs_connection"`
	// TenantID scopes the job to one tenant
	TenantID string `gorm:"column:tenant_id;not null;index:idx_ingestion_jobs_tenant"`
	// Trigger identifies what initiated the attempt (scheduled, manual, webhook)
	Trigger domain.SyncTrigger `gorm:"column:trigger;not null;type:text"`
	// Status is the job lifecycle status
	Status JobStatus `gorm:"column:status;not null;default:'pending';type:text"`
	// RecordsFetched counts records returned by the provider
	RecordsFetched int `gorm:"column:records_fetched;not null;default:0"`
	// RecordsImported counts records actually upserted
	RecordsImported int `gorm:"column:records_imported;not null;default:0"`
	// RecordsFailed counts records that could not be imported
	RecordsFailed int `gorm:"column:records_failed;not null;default:0"`
	// Summary is the structured SyncSummary snapshot
	Summary datatypes.JSON `gorm:"column:summary"`
	// StartedAt is the timestamp when the sync attempt started
	StartedAt time.Time `gorm:"column:started_at;not null;index:idx_ingestion_jobs_started"`
	// CompletedAt is the timestamp when the job was sealed
	CompletedAt *time.Time `gorm:"column:completed_at"`
	// CreatedAt is the timestamp when the record was created
	CreatedAt time.Time `gorm:"column:created_at;not null;default:now()"`
	// UpdatedAt is the timestamp of the last mutation
	UpdatedAt time.Time `gorm:"column:updated_at;not null;default:now()"`
}

// TableName specifies the table name for the IngestionJob model
func (IngestionJob) TableName() string {
	return "ingestion_jobs"
}
