// Package events publishes transaction lifecycle outcomes so other merchant
// systems (reconciliation, notifications) can react without polling.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/boddenberg/pix-merchant-bfa-go/internal/domain"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"
)

const (
	// StreamName is the JetStream stream holding lifecycle events.
	StreamName = "TXLIFECYCLE"

	// StreamSubjects is the subject pattern for the stream.
	StreamSubjects = "txlifecycle.>"

	// StreamRetention is how long events are kept.
	StreamRetention = 7 * 24 * time.Hour
)

// Subject returns "txlifecycle.<kind>.<status>" for event.
func Subject(event *domain.LifecycleEvent) string {
	return fmt.Sprintf("txlifecycle.%s.%s",
		event.Transaction.Kind,
		strings.ToLower(string(event.Transaction.Status)),
	)
}

// JetStreamPublisher publishes lifecycle events to NATS JetStream.
type JetStreamPublisher struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	logger *zap.Logger
}

// NewJetStreamPublisher connects to NATS and makes sure the stream exists.
func NewJetStreamPublisher(ctx context.Context, natsURL string, logger *zap.Logger) (*JetStreamPublisher, error) {
	nc, err := nats.Connect(natsURL,
		nats.Name("pix-merchant-bfa"),
		nats.Timeout(10*time.Second),
		nats.ReconnectWait(time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Description: "PIX transaction lifecycle outcomes",
		Subjects:    []string{StreamSubjects},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      StreamRetention,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to ensure stream %s: %w", StreamName, err)
	}

	logger.Info("NATS lifecycle publisher initialized",
		zap.String("url", natsURL),
		zap.String("stream", StreamName),
	)
	return &JetStreamPublisher{nc: nc, js: js, logger: logger}, nil
}

// PublishLifecycle publishes event. The external id is used as the message
// id so JetStream drops duplicates of the same outcome.
func (p *JetStreamPublisher) PublishLifecycle(ctx context.Context, event *domain.LifecycleEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal lifecycle event: %w", err)
	}

	subject := Subject(event)
	msgID := event.Transaction.ExternalID + ":" + string(event.Transaction.Status)
	if _, err := p.js.Publish(ctx, subject, data, jetstream.WithMsgID(msgID)); err != nil {
		return fmt.Errorf("failed to publish lifecycle event: %w", err)
	}

	p.logger.Debug("published lifecycle event",
		zap.String("subject", subject),
		zap.String("external_id", event.Transaction.ExternalID),
	)
	return nil
}

// Close drains the NATS connection.
func (p *JetStreamPublisher) Close() error {
	if p.nc == nil {
		return nil
	}
	return p.nc.Drain()
}

// LogPublisher only logs events. It is used when no NATS URL is configured.
type LogPublisher struct {
	logger *zap.Logger
}

// NewLogPublisher creates a LogPublisher.
func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) PublishLifecycle(_ context.Context, event *domain.LifecycleEvent) error {
	p.logger.Info("lifecycle event",
		zap.String("subject", Subject(event)),
		zap.String("slot", event.Slot),
		zap.String("external_id", event.Transaction.ExternalID),
		zap.String("transaction_id", event.Transaction.RemoteID),
		zap.String("reason", event.Reason),
	)
	return nil
}
