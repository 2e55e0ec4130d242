package syncer

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/ledgerkit/bank-sync/internal/adapter"
	"github.com/ledgerkit/bank-sync/internal/domain"
	"github.com/ledgerkit/bank-sync/internal/logger"
	"github.com/ledgerkit/bank-sync/internal/store"
	"github.com/ledgerkit/bank-sync/internal/store/schema"
)

// BatchEngine persists normalized provider records in batches. When a batch
// write fails it retries the records one by one so a single malformed record
// cannot sink the rest of its batch; the per-record failures surface as
// warnings on the sync summary.
type BatchEngine struct {
	store     store.Store
	json      adapter.JSON
	batchSize int
}

// NewBatchEngine creates a batch engine
func NewBatchEngine(s store.Store, json adapter.JSON, batchSize int) *BatchEngine {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &BatchEngine{store: s, json: json, batchSize: batchSize}
}

// AccountsResult is the outcome of one account listing upsert
type AccountsResult struct {
	Synced   int
	Created  int
	Updated  int
	Failed   int
	Closed   int64
	Warnings []string
}

// TransactionsResult is the outcome of one account's transaction upsert
type TransactionsResult struct {
	Imported int
	Created  int
	Updated  int
	Failed   int
	Warnings []string
}

// UpsertAccounts persists a fresh provider listing for a connection: upserts
// canonical accounts on their natural key, keeps the raw listing rows and
// closes active accounts absent from the listing.
func (e *BatchEngine) UpsertAccounts(ctx context.Context, conn *schema.Connection, listed []domain.ProviderAccount) (*AccountsResult, error) {
	result := &AccountsResult{}

	externalIDs := make([]string, 0, len(listed))
	for _, acct := range listed {
		externalIDs = append(externalIDs, acct.ExternalID)
	}

	existing, err := e.store.ListAccountExternalIDs(ctx, conn.ID, externalIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to list existing accounts: %w", err)
	}
	known := make(map[string]struct{}, len(existing))
	for _, id := range existing {
		known[id] = struct{}{}
	}

	rows := make([]*schema.Account, 0, len(listed))
	sources := make([]*domain.ProviderAccount, 0, len(listed))
	for i := range listed {
		acct := &listed[i]
		row, err := e.toAccountRow(conn, acct)
		if err != nil {
			result.Failed++
			result.Warnings = append(result.Warnings, fmt.Sprintf("account %s: %s", acct.ExternalID, err))
			continue
		}
		rows = append(rows, row)
		sources = append(sources, acct)
	}

	for _, chunk := range chunks(rows, e.batchSize) {
		if err := e.store.UpsertAccounts(ctx, chunk); err != nil {
			logger.WarnCtx(ctx, "account batch upsert failed, retrying per record",
				zap.String("connectionID", conn.ID),
				zap.Int("batchSize", len(chunk)),
				zap.Error(err))
			for _, row := range chunk {
				if err := e.store.UpsertAccounts(ctx, []*schema.Account{row}); err != nil {
					result.Failed++
					result.Warnings = append(result.Warnings, fmt.Sprintf("account %s: %s", row.ExternalID, err))
					continue
				}
				e.countAccount(result, known, row.ExternalID)
			}
			continue
		}
		for _, row := range chunk {
			e.countAccount(result, known, row.ExternalID)
		}
	}

	// The upsert filled canonical ids on the rows it wrote; link each raw
	// listing payload to its canonical account before persisting it.
	rawRows := make([]*schema.ProviderAccount, 0, len(rows))
	for i, row := range rows {
		if row.ID == 0 {
			continue
		}
		payload, err := e.json.Marshal(sources[i].Raw)
		if err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("account %s: failed to marshal provider payload: %s", row.ExternalID, err))
			continue
		}
		accountID := row.ID
		rawRows = append(rawRows, &schema.ProviderAccount{
			ConnectionID: conn.ID,
			ExternalID:   row.ExternalID,
			AccountID:    &accountID,
			Payload:      datatypes.JSON(payload),
		})
	}

	for _, chunk := range chunks(rawRows, e.batchSize) {
		if err := e.store.UpsertProviderAccounts(ctx, chunk); err != nil {
			logger.WarnCtx(ctx, "provider account upsert failed",
				zap.String("connectionID", conn.ID), zap.Error(err))
		}
	}

	closed, err := e.store.MarkMissingAccountsClosed(ctx, conn.ID, externalIDs)
	if err != nil {
		result.Warnings = append(result.Warnings, fmt.Sprintf("failed to close missing accounts: %s", err))
	}
	result.Closed = closed

	return result, nil
}

func (e *BatchEngine) countAccount(result *AccountsResult, known map[string]struct{}, externalID string) {
	result.Synced++
	if _, ok := known[externalID]; ok {
		result.Updated++
	} else {
		result.Created++
	}
}

// UpsertTransactions persists one account's normalized transactions. The
// natural-key upsert makes replays of overlapping windows idempotent.
func (e *BatchEngine) UpsertTransactions(ctx context.Context, conn *schema.Connection, account *schema.Account, txns []domain.NormalizedTransaction) (*TransactionsResult, error) {
	result := &TransactionsResult{}
	if len(txns) == 0 {
		return result, nil
	}

	externalIDs := make([]string, 0, len(txns))
	for _, txn := range txns {
		externalIDs = append(externalIDs, txn.ExternalID)
	}
	existing, err := e.store.ListTransactionExternalIDs(ctx, conn.ID, externalIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to list existing transactions: %w", err)
	}
	known := make(map[string]struct{}, len(existing))
	for _, id := range existing {
		known[id] = struct{}{}
	}

	rows := make([]*schema.Transaction, 0, len(txns))
	for i := range txns {
		row, err := e.toTransactionRow(conn, account, &txns[i])
		if err != nil {
			result.Failed++
			result.Warnings = append(result.Warnings, fmt.Sprintf("transaction %s: %s", txns[i].ExternalID, err))
			continue
		}
		rows = append(rows, row)
	}

	for _, chunk := range chunks(rows, e.batchSize) {
		if err := e.store.UpsertTransactions(ctx, chunk); err != nil {
			logger.WarnCtx(ctx, "transaction batch upsert failed, retrying per record",
				zap.String("connectionID", conn.ID),
				zap.String("accountExternalID", account.ExternalID),
				zap.Int("batchSize", len(chunk)),
				zap.Error(err))
			for _, row := range chunk {
				if err := e.store.UpsertTransactions(ctx, []*schema.Transaction{row}); err != nil {
					result.Failed++
					result.Warnings = append(result.Warnings, fmt.Sprintf("transaction %s: %s", row.ExternalID, err))
					continue
				}
				e.countTransaction(result, known, row.ExternalID)
			}
			continue
		}
		for _, row := range chunk {
			e.countTransaction(result, known, row.ExternalID)
		}
	}

	return result, nil
}

func (e *BatchEngine) countTransaction(result *TransactionsResult, known map[string]struct{}, externalID string) {
	result.Imported++
	if _, ok := known[externalID]; ok {
		result.Updated++
	} else {
		result.Created++
	}
}

func (e *BatchEngine) toAccountRow(conn *schema.Connection, acct *domain.ProviderAccount) (*schema.Account, error) {
	if acct.ExternalID == "" {
		return nil, fmt.Errorf("missing external id")
	}
	status := acct.Status
	if status == "" {
		status = domain.AccountStatusActive
	}
	return &schema.Account{
		ConnectionID: conn.ID,
		ProviderID:   conn.ProviderID,
		ExternalID:   acct.ExternalID,
		Name:         acct.Name,
		Type:         acct.Type,
		Currency:     acct.Currency,
		Balance:      acct.Balance,
		Status:       status,
	}, nil
}

func (e *BatchEngine) toTransactionRow(conn *schema.Connection, account *schema.Account, txn *domain.NormalizedTransaction) (*schema.Transaction, error) {
	if txn.ExternalID == "" {
		return nil, fmt.Errorf("missing external id")
	}
	currency := txn.Currency
	if currency == "" {
		currency = account.Currency
	}
	metadata, err := e.json.Marshal(txn.Metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}
	return &schema.Transaction{
		ConnectionID: conn.ID,
		ProviderID:   conn.ProviderID,
		ExternalID:   txn.ExternalID,
		AccountID:    account.ID,
		Amount:       txn.Amount,
		Currency:     currency,
		Description:  txn.Description,
		Type:         txn.Type,
		Date:         txn.Date,
		Metadata:     datatypes.JSON(metadata),
	}, nil
}

// chunks splits rows into size-bounded slices
func chunks[T any](rows []T, size int) [][]T {
	var out [][]T
	for start := 0; start < len(rows); start += size {
		end := min(start+size, len(rows))
		out = append(out, rows[start:end])
	}
	return out
}
