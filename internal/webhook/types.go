package webhook

import (
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/ledgerkit/bank-sync/internal/domain"
)

// SyncRequestEvent is the message published to the sync-request stream.
// Producers are the webhook ingress, the manual sync endpoint and the
// scheduler; the sync worker consumes it.
type SyncRequestEvent struct {
	// EventID is a unique identifier for this event (ULID for time-sortable uniqueness)
	EventID string `json:"event_id"`
	// JobID is the pre-created ingestion job, when the producer made one
	JobID string `json:"job_id,omitempty"`
	// ConnectionID identifies the connection to sync
	ConnectionID string `json:"connection_id"`
	// TenantID is the owning tenant
	TenantID string `json:"tenant_id"`
	// Provider is the connection's provider id
	Provider string `json:"provider"`
	// Options controls the sync attempt
	Options domain.SyncOptions `json:"options"`
	// Timestamp is when the event was produced
	Timestamp time.Time `json:"timestamp"`
}

// NewSyncRequestEvent builds a sync request event with a fresh event id
func NewSyncRequestEvent(connectionID, tenantID string, provider domain.ProviderID, opts domain.SyncOptions) SyncRequestEvent {
	return SyncRequestEvent{
		EventID:      ulid.Make().String(),
		ConnectionID: connectionID,
		TenantID:     tenantID,
		Provider:     string(provider),
		Options:      opts,
		Timestamp:    time.Now().UTC(),
	}
}
