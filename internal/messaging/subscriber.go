package messaging

import (
	"context"

	"github.com/ledgerkit/bank-sync/internal/webhook"
)

// SyncRequestHandler is called for each received sync request.
// A nil return acks the message; a retryable error naks it for redelivery;
// a non-retryable error terminates it.
type SyncRequestHandler func(ctx context.Context, event *webhook.SyncRequestEvent) error

// Subscriber defines the interface for consuming sync requests from the message queue
//
//go:generate mockgen -source=subscriber.go -destination=../mocks/subscriber.go -package=mocks -mock_names=Subscriber=MockSubscriber
type Subscriber interface {
	// Subscribe starts consuming sync requests, invoking the handler per message.
	// It blocks until the context is canceled or the consumer fails.
	Subscribe(ctx context.Context, handler SyncRequestHandler) error

	// Close closes the connection and cleans up resources
	Close()
}
