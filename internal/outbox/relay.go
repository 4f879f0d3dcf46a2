package outbox

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/punchamoorthee/walletsaga/internal/domain"
	"go.uber.org/zap"
)

var relayedMessages = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "wallet_outbox_messages_total",
	Help: "Outbox messages handled by the relay, labeled by result",
}, []string{"result"})

// Publisher delivers one message to the broker.
type Publisher interface {
	Publish(ctx context.Context, msg domain.OutboxMessage) error
}

type PublisherFunc func(ctx context.Context, msg domain.OutboxMessage) error

func (f PublisherFunc) Publish(ctx context.Context, msg domain.OutboxMessage) error {
	return f(ctx, msg)
}

// Source is the outbox side of the store the relay drains.
type Source interface {
	ListPendingOutbox(ctx context.Context, limit int) ([]domain.OutboxMessage, error)
	MarkOutboxDispatched(ctx context.Context, id uuid.UUID, at time.Time) error
	MarkOutboxFailed(ctx context.Context, id uuid.UUID, reason string) error
}

// Relay drains pending messages at least once. A message whose dispatch mark
// fails after publishing is published again on the next poll.
type Relay struct {
	source    Source
	publisher Publisher
	logger    *zap.Logger
	interval  time.Duration
	batchSize int
}

func NewRelay(source Source, publisher Publisher, logger *zap.Logger, interval time.Duration, batchSize int) *Relay {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = time.Second
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Relay{
		source:    source,
		publisher: publisher,
		logger:    logger,
		interval:  interval,
		batchSize: batchSize,
	}
}

// Run polls until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := r.DispatchOnce(ctx); err != nil {
				r.logger.Warn("outbox: list pending failed", zap.Error(err))
			}
		}
	}
}

// DispatchOnce publishes one batch in staging order and returns how many
// messages were dispatched.
func (r *Relay) DispatchOnce(ctx context.Context) (int, error) {
	msgs, err := r.source.ListPendingOutbox(ctx, r.batchSize)
	if err != nil {
		return 0, err
	}

	// An aggregate whose message failed is held back for the rest of the batch
	// so its later messages cannot overtake it.
	held := make(map[uuid.UUID]struct{})
	dispatched := 0
	for _, msg := range msgs {
		if _, ok := held[msg.AggregateID]; ok {
			continue
		}
		if err := r.publisher.Publish(ctx, msg); err != nil {
			held[msg.AggregateID] = struct{}{}
			relayedMessages.WithLabelValues("failed").Inc()
			r.logger.Warn("outbox: publish failed",
				zap.Stringer("id", msg.ID),
				zap.String("aggregate_type", msg.AggregateType),
				zap.Error(err))
			if merr := r.source.MarkOutboxFailed(ctx, msg.ID, truncate(err.Error(), 240)); merr != nil {
				r.logger.Warn("outbox: mark failed failed", zap.Stringer("id", msg.ID), zap.Error(merr))
			}
			continue
		}
		if err := r.source.MarkOutboxDispatched(ctx, msg.ID, time.Now().UTC()); err != nil {
			held[msg.AggregateID] = struct{}{}
			r.logger.Warn("outbox: mark dispatched failed", zap.Stringer("id", msg.ID), zap.Error(err))
			continue
		}
		relayedMessages.WithLabelValues("dispatched").Inc()
		dispatched++
	}
	return dispatched, nil
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
