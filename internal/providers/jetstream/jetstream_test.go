package jetstream_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	natsjs "github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerkit/bank-sync/internal/adapter"
	"github.com/ledgerkit/bank-sync/internal/domain"
	"github.com/ledgerkit/bank-sync/internal/logger"
	"github.com/ledgerkit/bank-sync/internal/mocks"
	"github.com/ledgerkit/bank-sync/internal/providers/jetstream"
	"github.com/ledgerkit/bank-sync/internal/webhook"
)

func TestMain(m *testing.M) {
	// Initialize logger for tests
	err := logger.Initialize(logger.Config{
		Debug: false,
	})
	if err != nil {
		panic(err)
	}

	os.Exit(m.Run())
}

func testJetstreamConfig() jetstream.Config {
	return jetstream.Config{
		URL:            "nats://localhost:4222",
		StreamName:     "SYNC_REQUESTS",
		ConsumerName:   "sync-worker",
		MaxReconnects:  5,
		ReconnectWait:  time.Second,
		ConnectionName: "test",
		AckWait:        5 * time.Minute,
		MaxDeliver:     3,
	}
}

func newConnected(t *testing.T, ctrl *gomock.Controller) (*mocks.MockNatsJetStream, *mocks.MockNatsConn, *mocks.MockJetStream) {
	t.Helper()
	natsJS := mocks.NewMockNatsJetStream(ctrl)
	nc := mocks.NewMockNatsConn(ctrl)
	js := mocks.NewMockJetStream(ctrl)
	natsJS.EXPECT().Connect("nats://localhost:4222", gomock.Any()).Return(nc, js, nil)
	return natsJS, nc, js
}

func TestPublishSyncRequest(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	natsJS, _, js := newConnected(t, ctrl)
	js.EXPECT().
		EnsureStream(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, cfg natsjs.StreamConfig) error {
			assert.Equal(t, "SYNC_REQUESTS", cfg.Name)
			assert.Equal(t, []string{"sync.requests.>"}, cfg.Subjects)
			return nil
		})

	pub, err := jetstream.NewPublisher(context.Background(), testJetstreamConfig(), natsJS, adapter.NewJSON())
	require.NoError(t, err)

	event := webhook.NewSyncRequestEvent("conn-1", "tenant-1", domain.ProviderPlaid, domain.DefaultSyncOptions())
	js.EXPECT().
		Publish(gomock.Any(), "sync.requests.plaid", gomock.Any(), gomock.Any()).
		Return(&natsjs.PubAck{}, nil)

	require.NoError(t, pub.PublishSyncRequest(context.Background(), event))
}

func TestPublisherClose(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	natsJS, nc, js := newConnected(t, ctrl)
	js.EXPECT().EnsureStream(gomock.Any(), gomock.Any()).Return(nil)
	nc.EXPECT().Close()

	pub, err := jetstream.NewPublisher(context.Background(), testJetstreamConfig(), natsJS, adapter.NewJSON())
	require.NoError(t, err)

	pub.Close()
	select {
	case <-pub.CloseChan():
	default:
		t.Fatal("close channel not closed")
	}

	// second close is a no-op
	pub.Close()
}

func TestSubscribe_MessageOutcomes(t *testing.T) {
	jsonCodec := adapter.NewJSON()
	event := webhook.NewSyncRequestEvent("conn-1", "tenant-1", domain.ProviderStarling, domain.DefaultSyncOptions())
	payload, err := jsonCodec.Marshal(event)
	require.NoError(t, err)

	tests := []struct {
		name       string
		data       []byte
		handlerErr error
		expect     func(msg *mocks.MockJetStreamMessage)
	}{
		{
			name:       "success acks",
			data:       payload,
			handlerErr: nil,
			expect: func(msg *mocks.MockJetStreamMessage) {
				msg.EXPECT().Ack().Return(nil)
			},
		},
		{
			name:       "retryable error naks",
			data:       payload,
			handlerErr: &domain.ProviderError{Kind: domain.ErrorKindTransient, Provider: "starling", Message: "upstream 503"},
			expect: func(msg *mocks.MockJetStreamMessage) {
				msg.EXPECT().Nak().Return(nil)
			},
		},
		{
			name:       "permanent error terminates",
			data:       payload,
			handlerErr: errors.New("connection not found"),
			expect: func(msg *mocks.MockJetStreamMessage) {
				msg.EXPECT().Term().Return(nil)
			},
		},
		{
			name:       "malformed payload terminates without handler",
			data:       []byte("{not json"),
			handlerErr: errors.New("handler must not run"),
			expect: func(msg *mocks.MockJetStreamMessage) {
				msg.EXPECT().Term().Return(nil)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			defer ctrl.Finish()

			natsJS, _, js := newConnected(t, ctrl)
			js.EXPECT().EnsureStream(gomock.Any(), gomock.Any()).Return(nil)

			msg := mocks.NewMockJetStreamMessage(ctrl)
			msg.EXPECT().Data().Return(tt.data).AnyTimes()
			tt.expect(msg)

			consumer := mocks.NewMockNatsConsumer(ctrl)
			consumeCtx := mocks.NewMockConsumeContext(ctrl)
			consumeCtx.EXPECT().Drain()
			consumeCtx.EXPECT().Closed().Return(make(chan struct{})).AnyTimes()

			handled := make(chan struct{})
			js.EXPECT().
				CreateOrUpdateConsumer(gomock.Any(), "SYNC_REQUESTS", gomock.Any()).
				DoAndReturn(func(_ context.Context, _ string, cfg natsjs.ConsumerConfig) (adapter.Consumer, error) {
					assert.Equal(t, "sync-worker", cfg.Durable)
					assert.Equal(t, 3, cfg.MaxDeliver)
					return consumer, nil
				})
			consumer.EXPECT().
				Consume(gomock.Any()).
				DoAndReturn(func(handler adapter.MessageHandler, _ ...natsjs.PullConsumeOpt) (adapter.ConsumeContext, error) {
					go func() {
						handler(msg)
						close(handled)
					}()
					return consumeCtx, nil
				})

			sub, err := jetstream.NewSubscriber(context.Background(), testJetstreamConfig(), natsJS, jsonCodec)
			require.NoError(t, err)

			ctx, cancel := context.WithCancel(context.Background())
			go func() {
				<-handled
				cancel()
			}()

			handlerCalled := false
			err = sub.Subscribe(ctx, func(_ context.Context, got *webhook.SyncRequestEvent) error {
				handlerCalled = true
				assert.Equal(t, event.EventID, got.EventID)
				return tt.handlerErr
			})

			assert.ErrorIs(t, err, context.Canceled)
			if tt.name == "malformed payload terminates without handler" {
				assert.False(t, handlerCalled)
			} else {
				assert.True(t, handlerCalled)
			}
		})
	}
}
