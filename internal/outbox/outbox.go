// Package outbox stages saga notifications inside the unit of work that
// produced them and relays them to a broker afterwards.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/punchamoorthee/walletsaga/internal/domain"
	"github.com/punchamoorthee/walletsaga/internal/store"
)

// Stage writes a snapshot of record as a pending message on tx. It becomes
// visible to the relay only when tx commits.
func Stage(ctx context.Context, tx store.Tx, aggregateType, eventType string, aggregateID uuid.UUID, record any) (domain.OutboxMessage, error) {
	payload, err := json.Marshal(record)
	if err != nil {
		return domain.OutboxMessage{}, fmt.Errorf("outbox payload: %w", err)
	}

	msg := domain.OutboxMessage{
		ID:            uuid.New(),
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       payload,
		CreatedAt:     time.Now().UTC(),
	}
	if err := tx.InsertOutbox(ctx, msg); err != nil {
		return domain.OutboxMessage{}, err
	}
	return msg, nil
}
