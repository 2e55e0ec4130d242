package jetstream

import (
	"context"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/ledgerkit/bank-sync/internal/adapter"
	"github.com/ledgerkit/bank-sync/internal/domain"
	"github.com/ledgerkit/bank-sync/internal/logger"
	"github.com/ledgerkit/bank-sync/internal/messaging"
	"github.com/ledgerkit/bank-sync/internal/webhook"
)

type subscriber struct {
	nc   adapter.NatsConn
	js   adapter.JetStream
	json adapter.JSON
	cfg  Config
}

// NewSubscriber creates a NATS JetStream pull subscriber for sync requests
// and ensures the stream exists
func NewSubscriber(ctx context.Context, cfg Config, natsJS adapter.NatsJetStream, jsonAdapter adapter.JSON) (messaging.Subscriber, error) {
	nc, js, err := connect(cfg, natsJS)
	if err != nil {
		return nil, err
	}

	if err := ensureStream(ctx, js, cfg.StreamName); err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to ensure stream: %w", err)
	}

	return &subscriber{
		nc:   nc,
		js:   js,
		json: jsonAdapter,
		cfg:  cfg,
	}, nil
}

// Subscribe consumes sync requests until the context is canceled or the
// consumer stops. Handler errors decide the message fate: retryable errors
// nak for redelivery, anything else terminates the delivery.
func (s *subscriber) Subscribe(ctx context.Context, handler messaging.SyncRequestHandler) error {
	consumer, err := s.js.CreateOrUpdateConsumer(ctx, s.cfg.StreamName, jetstream.ConsumerConfig{
		Durable:       s.cfg.ConsumerName,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       s.cfg.AckWait,
		MaxDeliver:    s.cfg.MaxDeliver,
		FilterSubject: subjectRoot + ".>",
	})
	if err != nil {
		return fmt.Errorf("failed to create consumer: %w", err)
	}

	consumeCtx, err := consumer.Consume(func(msg adapter.Message) {
		s.handleMessage(ctx, msg, handler)
	})
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	logger.Info("sync request consumer started",
		zap.String("stream", s.cfg.StreamName),
		zap.String("consumer", s.cfg.ConsumerName))

	select {
	case <-ctx.Done():
		consumeCtx.Drain()
		return ctx.Err()
	case <-consumeCtx.Closed():
		return errors.New("consumer stopped unexpectedly")
	}
}

func (s *subscriber) handleMessage(ctx context.Context, msg adapter.Message, handler messaging.SyncRequestHandler) {
	var event webhook.SyncRequestEvent
	if err := s.json.Unmarshal(msg.Data(), &event); err != nil {
		logger.Error(fmt.Errorf("failed to decode sync request: %w", err))
		if err := msg.Term(); err != nil {
			logger.Error(fmt.Errorf("failed to terminate message: %w", err))
		}
		return
	}

	if err := handler(ctx, &event); err != nil {
		if domain.IsRetryable(err) {
			logger.Warn("sync request failed, scheduling redelivery",
				zap.String("eventID", event.EventID),
				zap.String("connectionID", event.ConnectionID),
				zap.Error(err))
			if err := msg.Nak(); err != nil {
				logger.Error(fmt.Errorf("failed to nak message: %w", err))
			}
			return
		}

		logger.Error(fmt.Errorf("sync request failed permanently: %w", err),
			zap.String("eventID", event.EventID),
			zap.String("connectionID", event.ConnectionID))
		if err := msg.Term(); err != nil {
			logger.Error(fmt.Errorf("failed to terminate message: %w", err))
		}
		return
	}

	if err := msg.Ack(); err != nil {
		logger.Error(fmt.Errorf("failed to ack message: %w", err))
	}
}

// Close closes the NATS connection
func (s *subscriber) Close() {
	if s.nc != nil {
		s.nc.Close()
	}
}
