package jetstream

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/ledgerkit/bank-sync/internal/adapter"
	"github.com/ledgerkit/bank-sync/internal/logger"
	"github.com/ledgerkit/bank-sync/internal/messaging"
	"github.com/ledgerkit/bank-sync/internal/webhook"
)

// Config holds the configuration for NATS JetStream connection
type Config struct {
	URL            string
	StreamName     string
	ConsumerName   string
	MaxReconnects  int
	ReconnectWait  time.Duration
	ConnectionName string
	AckWait        time.Duration
	MaxDeliver     int
}

// subjectRoot is the subject prefix for sync request messages.
// Subjects are sync.requests.{provider}.
const subjectRoot = "sync.requests"

func connect(cfg Config, natsJS adapter.NatsJetStream) (adapter.NatsConn, adapter.JetStream, error) {
	opts := []nats.Option{
		nats.Name(cfg.ConnectionName),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				logger.Error(err, zap.String("message", "Disconnected from NATS"))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("Reconnected to NATS", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logger.Info("NATS connection closed")
		}),
	}

	nc, js, err := natsJS.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to NATS and create JetStream: %w", err)
	}
	return nc, js, nil
}

func ensureStream(ctx context.Context, js adapter.JetStream, streamName string) error {
	return js.EnsureStream(ctx, jetstream.StreamConfig{
		Name:      streamName,
		Subjects:  []string{subjectRoot + ".>"},
		Retention: jetstream.WorkQueuePolicy,
		MaxAge:    24 * time.Hour,
		Storage:   jetstream.FileStorage,
	})
}

type publisher struct {
	nc         adapter.NatsConn
	js         adapter.JetStream
	streamName string
	json       adapter.JSON
	closeChan  chan struct{}
}

// NewPublisher creates a NATS JetStream publisher for sync requests and
// ensures the stream exists
func NewPublisher(ctx context.Context, cfg Config, natsJS adapter.NatsJetStream, jsonAdapter adapter.JSON) (messaging.Publisher, error) {
	nc, js, err := connect(cfg, natsJS)
	if err != nil {
		return nil, err
	}

	if err := ensureStream(ctx, js, cfg.StreamName); err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to ensure stream: %w", err)
	}

	return &publisher{
		nc:         nc,
		js:         js,
		streamName: cfg.StreamName,
		json:       jsonAdapter,
		closeChan:  make(chan struct{}),
	}, nil
}

// PublishSyncRequest publishes a sync request event to the work queue
func (p *publisher) PublishSyncRequest(ctx context.Context, event webhook.SyncRequestEvent) error {
	logger.DebugCtx(ctx, "publishing sync request",
		zap.String("eventID", event.EventID),
		zap.String("connectionID", event.ConnectionID),
		zap.String("provider", event.Provider))

	data, err := p.json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	subject := fmt.Sprintf("%s.%s", subjectRoot, event.Provider)

	// event id as message id deduplicates redeliveries at the stream level
	_, err = p.js.Publish(ctx, subject, data, jetstream.WithMsgID(event.EventID))
	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	return nil
}

// Close closes the NATS connection
func (p *publisher) Close() {
	select {
	case <-p.closeChan:
		return
	default:
	}
	close(p.closeChan)

	if p.nc != nil {
		p.nc.Close()
	}
}

// CloseChan returns a channel closed when the publisher is closed
func (p *publisher) CloseChan() <-chan struct{} {
	return p.closeChan
}
