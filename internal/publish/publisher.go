package publish

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"EscrowCore/internal/observability"
	"EscrowCore/internal/settlement"
)

// TransitionPublisher drains the orchestrator's transition feed into NATS
// for downstream consumers (notifications, analytics, marketplace views).
// Publishing is after-commit and best-effort: a failed publish is logged and
// dropped, the registry's transition log stays the durable history.
// Subjects follow the pattern: escrow.transitions.{event}.{escrow_id}
type TransitionPublisher struct {
	js      jetstream.JetStream
	feed    <-chan settlement.TransitionEvent
	log     zerolog.Logger
	metrics *observability.Metrics
}

func NewTransitionPublisher(js jetstream.JetStream, feed <-chan settlement.TransitionEvent,
	log zerolog.Logger, metrics *observability.Metrics) *TransitionPublisher {
	return &TransitionPublisher{
		js:      js,
		feed:    feed,
		log:     log,
		metrics: metrics,
	}
}

// Run starts the publisher loop. Returns when the context is cancelled or
// the feed channel closes.
func (p *TransitionPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-p.feed:
			if !ok {
				return nil
			}
			if err := p.publish(ctx, ev); err != nil {
				if p.metrics != nil {
					p.metrics.PublishErrors.Inc()
				}
				p.log.Warn().Err(err).
					Str("event", ev.Event).
					Str("escrow_id", ev.EscrowID.String()).
					Msg("transition publish failed")
			}
		}
	}
}

func (p *TransitionPublisher) publish(ctx context.Context, ev settlement.TransitionEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal transition: %w", err)
	}

	subject := fmt.Sprintf("escrow.transitions.%s.%s", ev.Event, ev.EscrowID)
	_, err = p.js.Publish(ctx, subject, data)
	return err
}
