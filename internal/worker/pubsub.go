package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub/v2"
	"github.com/rs/zerolog"
)

// MessageHandler applies one location feed payload. *Dispatcher satisfies it.
type MessageHandler interface {
	Handle(ctx context.Context, data []byte, published time.Time) error
}

// PubSubHandler receives location feed messages from a Pub/Sub subscription.
type PubSubHandler struct {
	client           *pubsub.Client
	subscriber       *pubsub.Subscriber
	subscriptionName string
	handler          MessageHandler
	logger           zerolog.Logger
}

// PubSubConfig holds configuration for the Pub/Sub handler.
type PubSubConfig struct {
	ProjectID        string
	SubscriptionName string
	Handler          MessageHandler
	Receive          ReceiveConfig
	Logger           zerolog.Logger
}

// NewPubSubHandler creates a new Pub/Sub handler. PUBSUB_EMULATOR_HOST is
// honoured by the client library.
func NewPubSubHandler(ctx context.Context, cfg PubSubConfig) (*PubSubHandler, error) {
	if cfg.Handler == nil {
		return nil, errors.New("pubsub handler: message handler is required")
	}

	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}

	subscriber := client.Subscriber(cfg.SubscriptionName)

	rc := cfg.Receive.withDefaults()
	subscriber.ReceiveSettings.MaxOutstandingMessages = rc.MaxOutstandingMessages
	subscriber.ReceiveSettings.MaxExtension = rc.MaxExtension

	return &PubSubHandler{
		client:           client,
		subscriber:       subscriber,
		subscriptionName: cfg.SubscriptionName,
		handler:          cfg.Handler,
		logger:           cfg.Logger,
	}, nil
}

// Start processes messages until ctx is cancelled or receiving fails.
func (h *PubSubHandler) Start(ctx context.Context) error {
	h.logger.Info().
		Str("subscription", h.subscriptionName).
		Msg("starting location feed subscriber")

	err := h.subscriber.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		h.handleMessage(ctx, msg)
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("receiving from %s: %w", h.subscriptionName, err)
	}
	return nil
}

// Close closes the Pub/Sub client.
func (h *PubSubHandler) Close() error {
	return h.client.Close()
}

func (h *PubSubHandler) handleMessage(ctx context.Context, msg *pubsub.Message) {
	startTime := time.Now()

	logger := h.logger.With().
		Str("message_id", msg.ID).
		Str("publish_time", msg.PublishTime.Format(time.RFC3339)).
		Logger()

	logger.Debug().Msg("received location message")

	err := h.handler.Handle(ctx, msg.Data, msg.PublishTime)
	switch {
	case err == nil:
		logger.Debug().Dur("duration", time.Since(startTime)).Msg("location message applied")
	case errors.Is(err, ErrStaleMessage):
		logger.Debug().Err(err).Msg("dropping stale location message")
	case errors.Is(err, ErrMalformedMessage):
		logger.Warn().Err(err).Msg("dropping malformed location message")
	default:
		logger.Error().Err(err).Msg("location message failed, will be redelivered")
	}

	if ShouldAck(err) {
		msg.Ack()
		return
	}
	msg.Nack()
}

// ShouldAck reports whether a message handled with err is done. Messages
// that can never succeed are acknowledged so they are not redelivered.
func ShouldAck(err error) bool {
	return err == nil || errors.Is(err, ErrMalformedMessage) || errors.Is(err, ErrStaleMessage)
}
