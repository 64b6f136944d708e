package ingestion

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"liqengine/internal/asset"
	"liqengine/internal/observability"
	"liqengine/internal/oracle"
)

// PriceSubscriber consumes oracle quotes from JetStream and applies them
// to the converter, keeping valuations current between liquidation calls.
// Subjects follow liq.prices.{slot}.{symbol}, where slot is "primary" or
// "reserve" and the message body is the feed's quote payload.
type PriceSubscriber struct {
	js        jetstream.JetStream
	converter *oracle.Converter
	log       zerolog.Logger
	metrics   *observability.Metrics
	consumers []jetstream.ConsumeContext
}

func NewPriceSubscriber(js jetstream.JetStream, converter *oracle.Converter,
	log zerolog.Logger, metrics *observability.Metrics) *PriceSubscriber {
	return &PriceSubscriber{
		js:        js,
		converter: converter,
		log:       log,
		metrics:   metrics,
	}
}

// Subscribe creates a durable consumer over the price stream and starts
// delivery. Bad quotes are ACKed and dropped: redelivering a malformed
// payload can never make it parse.
func (ps *PriceSubscriber) Subscribe(ctx context.Context) error {
	consumer, err := ps.js.CreateOrUpdateConsumer(ctx, "LIQ_PRICES", jetstream.ConsumerConfig{
		Durable:       "liq-engine-prices",
		FilterSubject: "liq.prices.>",
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       30 * time.Second,
		MaxDeliver:    5,
		DeliverPolicy: jetstream.DeliverLastPerSubjectPolicy,
	})
	if err != nil {
		return fmt.Errorf("create price consumer: %w", err)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		if err := ps.handle(msg.Subject(), msg.Data()); err != nil {
			ps.log.Warn().Str("subject", msg.Subject()).Err(err).Msg("price quote dropped")
		} else if ps.metrics != nil {
			ps.metrics.PriceUpdatesApplied.Inc()
		}
		msg.Ack()
	})
	if err != nil {
		return fmt.Errorf("consume prices: %w", err)
	}

	ps.consumers = append(ps.consumers, cc)
	return nil
}

func (ps *PriceSubscriber) handle(subject string, data []byte) error {
	assetID, reserve, err := ParsePriceSubject(subject)
	if err != nil {
		return err
	}
	return ps.converter.ApplyUpdate(oracle.PriceUpdate{
		Asset:   assetID,
		Reserve: reserve,
		Payload: data,
	})
}

// Stop halts delivery on all consumers.
func (ps *PriceSubscriber) Stop() {
	for _, cc := range ps.consumers {
		cc.Stop()
	}
}

// ParsePriceSubject resolves liq.prices.{slot}.{symbol} to a registered
// asset and feed slot.
func ParsePriceSubject(subject string) (asset.ID, bool, error) {
	parts := strings.Split(subject, ".")
	if len(parts) != 4 || parts[0] != "liq" || parts[1] != "prices" {
		return 0, false, fmt.Errorf("malformed price subject %q", subject)
	}

	var reserve bool
	switch parts[2] {
	case "primary":
	case "reserve":
		reserve = true
	default:
		return 0, false, fmt.Errorf("unknown price slot %q in subject %q", parts[2], subject)
	}

	id, ok := asset.Lookup(parts[3])
	if !ok {
		return 0, false, fmt.Errorf("unknown asset %q in subject %q", parts[3], subject)
	}
	return id, reserve, nil
}

// EnsurePriceStream creates the inbound price stream.
func EnsurePriceStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      "LIQ_PRICES",
		Subjects:  []string{"liq.prices.>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    24 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create price stream: %w", err)
	}
	return nil
}
