package messaging

import (
	"context"

	"github.com/ledgerkit/bank-sync/internal/webhook"
)

// Publisher defines the interface for publishing sync requests to the message queue
//
//go:generate mockgen -source=publisher.go -destination=../mocks/publisher.go -package=mocks -mock_names=Publisher=MockPublisher
type Publisher interface {
	// PublishSyncRequest publishes a sync request event to the broker
	PublishSyncRequest(ctx context.Context, event webhook.SyncRequestEvent) error
	// Close closes the connection
	Close()
	// CloseChan returns a channel that is closed when the publisher is closed
	CloseChan() <-chan struct{}
}
