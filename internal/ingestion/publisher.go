package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"liqengine/internal/event"
	"liqengine/internal/observability"
)

// EventPublisher publishes committed liquidation events to NATS for
// downstream consumers. Publishing is best-effort after commit: a failed
// publish is logged, never retried into the liquidation path, and
// downstream consumers can reconcile from the history table.
// Subjects follow the pattern liq.events.{type}.{ledger}.
type EventPublisher struct {
	js      jetstream.JetStream
	input   <-chan event.Envelope
	log     zerolog.Logger
	metrics *observability.Metrics
}

func NewEventPublisher(js jetstream.JetStream, input <-chan event.Envelope,
	log zerolog.Logger, metrics *observability.Metrics) *EventPublisher {
	return &EventPublisher{
		js:      js,
		input:   input,
		log:     log,
		metrics: metrics,
	}
}

// Run drains the input channel until ctx is cancelled or the channel closes.
func (p *EventPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case env, ok := <-p.input:
			if !ok {
				return nil
			}
			if err := p.publish(ctx, env); err != nil {
				p.log.Warn().
					Str("event_id", env.EventID.String()).
					Str("type", env.TypeName).
					Err(err).
					Msg("event publish failed")
				continue
			}
			if p.metrics != nil {
				p.metrics.EventsPublished.Inc()
			}
		}
	}
}

func (p *EventPublisher) publish(ctx context.Context, env event.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	subject := SubjectFor(env)
	// MsgId dedup: JetStream drops redeliveries of the same idempotency key.
	_, err = p.js.Publish(ctx, subject, data, jetstream.WithMsgID(env.IdempotencyKey))
	return err
}

// SubjectFor builds liq.events.{type}.{ledger}, lowercasing the type name.
func SubjectFor(env event.Envelope) string {
	subject := fmt.Sprintf("liq.events.%s", strings.ToLower(env.TypeName))
	if env.Ledger != "" {
		subject = fmt.Sprintf("%s.%s", subject, env.Ledger)
	}
	return subject
}

// EnsureEventStream creates the outbound events stream.
func EnsureEventStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      "LIQ_EVENTS",
		Subjects:  []string{"liq.events.>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create events stream: %w", err)
	}
	return nil
}
