package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"LendLedger/internal/engine"
)

// OutboundPublisher publishes applied events to NATS for downstream
// consumers. Subjects follow lend.ledger.events.{type}. A failed publish
// is non-fatal: consumers can always read the event log directly.
type OutboundPublisher struct {
	js        jetstream.JetStream
	inputChan <-chan engine.Output
	logger    zerolog.Logger
}

func NewOutboundPublisher(js jetstream.JetStream, inputChan <-chan engine.Output, logger zerolog.Logger) *OutboundPublisher {
	return &OutboundPublisher{
		js:        js,
		inputChan: inputChan,
		logger:    logger,
	}
}

// Run starts the outbound publisher loop.
func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case out, ok := <-op.inputChan:
			if !ok {
				return nil
			}

			if err := op.publish(ctx, out); err != nil {
				op.logger.Warn().
					Err(err).
					Int64("sequence", out.Envelope.Sequence).
					Msg("outbound publish failed")
			}
		}
	}
}

func (op *OutboundPublisher) publish(ctx context.Context, out engine.Output) error {
	data, err := json.Marshal(out.Envelope)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	// The envelope's dedup key doubles as the JetStream message ID, so a
	// republished event is dropped broker-side.
	_, err = op.js.Publish(ctx, out.Envelope.Subject(), data,
		jetstream.WithMsgID(out.Envelope.IdempotencyKey()))
	return err
}

// EnsureOutboundStream creates the outbound events stream.
func EnsureOutboundStream(ctx context.Context, js jetstream.JetStream, logger zerolog.Logger) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      "LEND_LEDGER_EVENTS",
		Subjects:  []string{"lend.ledger.events.>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create outbound stream: %w", err)
	}
	logger.Info().Str("stream", "LEND_LEDGER_EVENTS").Msg("ensured outbound stream")
	return nil
}
