package domain

import (
	"time"
)

// ProviderID identifies an external financial data provider
type ProviderID string

const (
	// ProviderQuickBooks is the QuickBooks Online accounting platform
	ProviderQuickBooks ProviderID = "quickbooks"
	// ProviderPlaid is the Plaid open-banking aggregator
	ProviderPlaid ProviderID = "plaid"
	// ProviderStarling is the Starling direct bank API
	ProviderStarling ProviderID = "starling"
)

// IsValidProvider checks if a provider id is one of the supported providers
func IsValidProvider(p ProviderID) bool {
	return p == ProviderQuickBooks || p == ProviderPlaid || p == ProviderStarling
}

// AccountStatus represents the lifecycle status of a normalized account
type AccountStatus string

const (
	AccountStatusActive   AccountStatus = "active"
	AccountStatusInactive AccountStatus = "inactive"
	AccountStatusClosed   AccountStatus = "closed"
)

// TransactionType represents the direction of a normalized transaction
type TransactionType string

const (
	TransactionTypeCredit TransactionType = "credit"
	TransactionTypeDebit  TransactionType = "debit"
)

// SyncTrigger identifies what initiated a sync attempt
type SyncTrigger string

const (
	SyncTriggerScheduled SyncTrigger = "scheduled"
	SyncTriggerManual    SyncTrigger = "manual"
	SyncTriggerWebhook   SyncTrigger = "webhook"
)

// Token holds an OAuth token set as returned by a provider
type Token struct {
	// AccessToken is the bearer token used for API calls
	AccessToken string
	// RefreshToken is the token used to obtain a new access token.
	// Some providers omit it on refresh; the previous one is then kept.
	RefreshToken string
	// ExpiresAt is the access token expiry timestamp
	ExpiresAt time.Time
	// Scopes are the granted OAuth scopes
	Scopes []string
	// Metadata carries provider-specific token context
	// (e.g. the QuickBooks realm id or a Plaid item id)
	Metadata map[string]string
}

// Credentials is what a provider adapter needs to call its API on behalf of a connection
type Credentials struct {
	// AccessToken is the valid bearer token
	AccessToken string
	// Metadata carries provider-specific context copied from the stored token
	Metadata map[string]string
}

// ProviderAccount is the raw account shape reported by a provider,
// already filtered to transactable, non-archived accounts
type ProviderAccount struct {
	// ExternalID is the provider's identifier for the account
	ExternalID string
	// Name is the display name reported by the provider
	Name string
	// Type is the provider-reported account type (checking, savings, credit_card, ...)
	Type string
	// Currency is the ISO 4217 currency code of the account
	Currency string
	// Balance is the current balance reported by the provider
	Balance float64
	// Status is the normalized lifecycle status
	Status AccountStatus
	// Raw is the opaque provider payload kept as metadata
	Raw map[string]interface{}
}

// NormalizedTransaction is the canonical transaction shape produced by a provider adapter.
// Amounts are signed credit-positive / debit-negative.
type NormalizedTransaction struct {
	// ExternalID is the provider's identifier for the transaction
	ExternalID string
	// AccountExternalID links the transaction to its provider account
	AccountExternalID string
	// Amount is the signed amount (credit positive, debit negative)
	Amount float64
	// Currency is the ISO 4217 currency code. Empty means "use the account currency".
	Currency string
	// Description is the free-form transaction description
	Description string
	// Type is credit or debit, consistent with the sign of Amount
	Type TransactionType
	// Date is the transaction date
	Date time.Time
	// Metadata is the opaque provider payload
	Metadata map[string]interface{}
}

// TransactionQuery bounds a provider transaction fetch
type TransactionQuery struct {
	StartDate time.Time
	EndDate   time.Time
	// Limit caps the total number of transactions fetched across pages (0 = no cap)
	Limit int
}

// SyncWindow is the date range planned for one account's transaction fetch
type SyncWindow struct {
	Start time.Time
	End   time.Time
}

// SyncOptions controls one sync attempt
type SyncOptions struct {
	// SyncAccounts enables the account listing/upsert phase
	SyncAccounts bool `json:"sync_accounts"`
	// SyncTransactions enables the per-account transaction phase
	SyncTransactions bool `json:"sync_transactions"`
	// TransactionLimit caps transactions fetched per account (0 = provider default)
	TransactionLimit int `json:"transaction_limit,omitempty"`
	// TransactionDaysBack overrides the default lookback for never-synced accounts
	TransactionDaysBack int `json:"transaction_days_back,omitempty"`
	// TransactionStartDate/TransactionEndDate request an explicit window (manual backfill)
	TransactionStartDate *time.Time `json:"transaction_start_date,omitempty"`
	TransactionEndDate   *time.Time `json:"transaction_end_date,omitempty"`
	// ForceSync bypasses the minimum-interval skip check
	ForceSync bool `json:"force_sync,omitempty"`
	// ModifiedSince is a hint derived from a webhook event timestamp
	ModifiedSince *time.Time `json:"modified_since,omitempty"`
	// Trigger identifies what initiated this attempt
	Trigger SyncTrigger `json:"trigger"`
}

// DefaultSyncOptions returns options for a full scheduled sync
func DefaultSyncOptions() SyncOptions {
	return SyncOptions{
		SyncAccounts:     true,
		SyncTransactions: true,
		Trigger:          SyncTriggerScheduled,
	}
}

// WebhookEvent is the normalized shape of a provider webhook notification
type WebhookEvent struct {
	// Provider is the provider that sent the event
	Provider ProviderID
	// ExternalOrgID identifies the provider-side organization (realm id,
	// item id, account holder uid) used to locate the connection
	ExternalOrgID string
	// EventType is the provider-reported event name
	EventType string
	// EventTime is when the change happened on the provider side
	EventTime time.Time
}

// SyncSummary is the denormalized outcome snapshot embedded in the job and the connection
type SyncSummary struct {
	AccountsSynced      int        `json:"accounts_synced"`
	AccountsCreated     int        `json:"accounts_created"`
	AccountsUpdated     int        `json:"accounts_updated"`
	TransactionsSynced  int        `json:"transactions_synced"`
	TransactionsCreated int        `json:"transactions_created"`
	TransactionsUpdated int        `json:"transactions_updated"`
	Errors              []string   `json:"errors,omitempty"`
	Warnings            []string   `json:"warnings,omitempty"`
	StartedAt           time.Time  `json:"started_at"`
	CompletedAt         *time.Time `json:"completed_at,omitempty"`
	SyncDurationMs      int64      `json:"sync_duration_ms"`
}

// SyncResult is returned by the orchestrator for one sync attempt
type SyncResult struct {
	JobID   string
	Status  string
	Summary SyncSummary
}
