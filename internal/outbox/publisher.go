// Package outbox drains the durable outbox table to the broker,
// decoupling a room mutation's commit from its fan-out. Delivery is
// at-least-once; consumers dedupe by event id.
package outbox

import (
	"context"
	"log/slog"
	"time"

	"relay/internal/broker"
	"relay/internal/observability/metrics"
	"relay/internal/store"
)

// attemptsWarnThreshold is where a stuck event starts getting logged
// each cycle. Retries stay unbounded; this only makes them visible.
const attemptsWarnThreshold = 10

type Publisher struct {
	store    *store.Store
	broker   broker.Publisher
	interval time.Duration
	batch    int
	now      func() time.Time
	logger   *slog.Logger
}

func NewPublisher(st *store.Store, br broker.Publisher, interval time.Duration, batch int, logger *slog.Logger) *Publisher {
	if interval <= 0 {
		interval = time.Second
	}
	if batch <= 0 {
		batch = 100
	}
	return &Publisher{
		store:    st,
		broker:   br,
		interval: interval,
		batch:    batch,
		now:      time.Now,
		logger:   logger,
	}
}

// Run polls on a fixed interval until ctx is cancelled. A failed cycle
// is fatal to that cycle only; the next tick retries.
func (p *Publisher) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.Cycle(ctx); err != nil {
				p.logger.Error("outbox cycle failed", "error", err)
			}
		}
	}
}

// Cycle fetches one batch of PENDING rows in insertion order and
// attempts each publish. Success marks the row SENT with a publish
// timestamp; failure leaves it PENDING with attempts incremented, to
// be retried next cycle.
func (p *Publisher) Cycle(ctx context.Context) error {
	events, err := p.store.Outbox().FetchPending(ctx, p.batch, p.now().UTC())
	if err != nil {
		return err
	}

	for _, event := range events {
		subject := broker.Subject(event.EventType, event.AggregateID)

		if err := p.broker.Publish(ctx, subject, event.Payload); err != nil {
			metrics.OutboxPublishedTotal.WithLabelValues("failure").Inc()
			if markErr := p.store.Outbox().MarkFailed(ctx, event.ID); markErr != nil {
				p.logger.Error("outbox mark failed", "event_id", event.ID, "error", markErr)
			}
			if event.Attempts+1 >= attemptsWarnThreshold {
				p.logger.Warn("outbox event stuck",
					"event_id", event.ID,
					"event_type", event.EventType,
					"attempts", event.Attempts+1,
					"error", err)
			} else {
				p.logger.Info("outbox publish failed, will retry",
					"event_id", event.ID, "subject", subject, "error", err)
			}
			continue
		}

		if err := p.store.Outbox().MarkSent(ctx, event.ID, p.now().UTC()); err != nil {
			// The broker has the message but the row stayed PENDING:
			// it will be republished. Consumers dedupe by event id.
			p.logger.Error("outbox mark sent failed", "event_id", event.ID, "error", err)
			continue
		}
		metrics.OutboxPublishedTotal.WithLabelValues("success").Inc()
	}
	return nil
}
