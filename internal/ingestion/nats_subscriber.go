package ingestion

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"LendLedger/internal/engine"
)

// NATSSubscriber subscribes to NATS JetStream instruction subjects and
// feeds raw instructions into the pipeline channel. JetStream is the
// primary high-throughput ingestion surface; each operation has its own
// subject.
type NATSSubscriber struct {
	js        jetstream.JetStream
	instrChan chan<- RawInstruction
	consumers []jetstream.ConsumeContext
	logger    zerolog.Logger
}

// RawInstruction is an instruction as received from NATS, before parsing
// and validation.
type RawInstruction struct {
	Subject  string
	Op       engine.Op
	Data     []byte
	Received time.Time
	AckFunc  func() // ACK after the instruction reached the engine
	NakFunc  func() // NAK on transient failure (redelivered)
}

// SubjectConfig maps a NATS subject to a ledger operation.
type SubjectConfig struct {
	Subject      string
	Op           engine.Op
	ConsumerName string
	StreamName   string
}

// DefaultSubjects returns the standard instruction subject configuration.
func DefaultSubjects() []SubjectConfig {
	return []SubjectConfig{
		{Subject: "lend.instructions.deposit", Op: engine.OpDeposit, ConsumerName: "ledger-deposit", StreamName: "LEND_INSTRUCTIONS"},
		{Subject: "lend.instructions.borrow", Op: engine.OpBorrow, ConsumerName: "ledger-borrow", StreamName: "LEND_INSTRUCTIONS"},
		{Subject: "lend.instructions.repay", Op: engine.OpRepay, ConsumerName: "ledger-repay", StreamName: "LEND_INSTRUCTIONS"},
		{Subject: "lend.instructions.withdraw", Op: engine.OpWithdraw, ConsumerName: "ledger-withdraw", StreamName: "LEND_INSTRUCTIONS"},
	}
}

func NewNATSSubscriber(js jetstream.JetStream, instrChan chan<- RawInstruction, logger zerolog.Logger) *NATSSubscriber {
	return &NATSSubscriber{
		js:        js,
		instrChan: instrChan,
		logger:    logger,
	}
}

// Subscribe creates JetStream consumers for all configured subjects.
// Consumers use explicit ACK, max_deliver=5, ack_wait=30s.
func (ns *NATSSubscriber) Subscribe(ctx context.Context, subjects []SubjectConfig) error {
	for _, cfg := range subjects {
		cfg := cfg
		consumer, err := ns.js.CreateOrUpdateConsumer(ctx, cfg.StreamName, jetstream.ConsumerConfig{
			Durable:       cfg.ConsumerName,
			FilterSubject: cfg.Subject,
			AckPolicy:     jetstream.AckExplicitPolicy,
			AckWait:       30 * time.Second,
			MaxDeliver:    5,
			DeliverPolicy: jetstream.DeliverAllPolicy,
		})
		if err != nil {
			return fmt.Errorf("create consumer %s: %w", cfg.ConsumerName, err)
		}

		consumerContext, err := consumer.Consume(func(msg jetstream.Msg) {
			raw := RawInstruction{
				Subject:  msg.Subject(),
				Op:       cfg.Op,
				Data:     msg.Data(),
				Received: time.Now(),
				AckFunc:  func() { msg.Ack() },
				NakFunc:  func() { msg.Nak() },
			}

			select {
			case ns.instrChan <- raw:
			case <-ctx.Done():
				msg.Nak()
			}
		})
		if err != nil {
			return fmt.Errorf("consume %s: %w", cfg.ConsumerName, err)
		}

		ns.consumers = append(ns.consumers, consumerContext)
		ns.logger.Info().Str("subject", cfg.Subject).Str("consumer", cfg.ConsumerName).Msg("subscribed")
	}

	return nil
}

// EnsureStreams creates the instruction stream if it doesn't exist.
// FileStorage, retention=Limits, max_age=72h.
func EnsureStreams(ctx context.Context, js jetstream.JetStream, logger zerolog.Logger) error {
	streams := []jetstream.StreamConfig{
		{
			Name:      "LEND_INSTRUCTIONS",
			Subjects:  []string{"lend.instructions.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
	}

	for _, cfg := range streams {
		if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
			return fmt.Errorf("create stream %s: %w", cfg.Name, err)
		}
		logger.Info().Str("stream", cfg.Name).Msg("ensured stream")
	}

	return nil
}

// Stop gracefully stops all consumers.
func (ns *NATSSubscriber) Stop() {
	for _, cc := range ns.consumers {
		cc.Stop()
	}
	ns.logger.Info().Msg("NATS subscribers stopped")
}

// ConnectNATS establishes a NATS connection and returns a JetStream context.
func ConnectNATS(url string, logger zerolog.Logger) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info().Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}

	return nc, js, nil
}
