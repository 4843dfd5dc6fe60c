package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"ForecastPool/internal/engine"
	"ForecastPool/internal/observability"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// Publisher drains the engine's publish channel and forwards envelopes to
// NATS for downstream consumers. Subjects follow the pattern
// forecast.pool.events.{event_type}.{market_id}.
//
// Publishing is best-effort: the channel feeding this worker drops under
// backpressure and a failed publish is logged, not retried. The event log
// is the durable record; consumers needing completeness replay it.
type Publisher struct {
	js      jetstream.JetStream
	input   <-chan engine.Output
	metrics *observability.Metrics
	log     zerolog.Logger
}

func NewPublisher(js jetstream.JetStream, input <-chan engine.Output, metrics *observability.Metrics, log zerolog.Logger) *Publisher {
	return &Publisher{js: js, input: input, metrics: metrics, log: log}
}

// Run blocks until ctx is cancelled or the input channel closes.
func (p *Publisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case out, ok := <-p.input:
			if !ok {
				return nil
			}
			if err := p.publish(ctx, out); err != nil {
				if p.metrics != nil {
					p.metrics.PublishErrors.Inc()
				}
				p.log.Warn().Err(err).Int64("sequence", out.Envelope.Sequence).
					Msg("outbound publish failed")
			} else if p.metrics != nil {
				p.metrics.PublishedTotal.Inc()
			}
		}
	}
}

func (p *Publisher) publish(ctx context.Context, out engine.Output) error {
	data, err := json.Marshal(out.Envelope)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	subject := fmt.Sprintf("forecast.pool.events.%s.%s",
		out.Envelope.Type, out.Envelope.MarketID)
	_, err = p.js.Publish(ctx, subject, data)
	return err
}

// EnsureStream creates or updates the outbound events stream.
func EnsureStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      "FORECAST_POOL_EVENTS",
		Subjects:  []string{"forecast.pool.events.>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create outbound stream: %w", err)
	}
	return nil
}
