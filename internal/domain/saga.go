package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending  Status = "PENDING"
	StatusApproved Status = "APPROVED"
	StatusRejected Status = "REJECTED"
)

// IsTerminal reports whether no forward action is pending on the record.
func (s Status) IsTerminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// Aggregate types, also used as the outbox aggregate type.
const (
	AggregatePlacement    = "placement"
	AggregateSettlement   = "settlement"
	AggregateRegistration = "registration"
)

// SagaRecord is the state shared by every saga hop.
type SagaRecord struct {
	EventID      uuid.UUID `json:"eventId"`
	CustomerID   uuid.UUID `json:"customerId"`
	Status       Status    `json:"status"`
	StatusDetail string    `json:"statusDetail,omitempty"`
	Origin       string    `json:"origin,omitempty"`
	Jurisdiction string    `json:"jurisdiction,omitempty"`
	Note         string    `json:"note,omitempty"`
}

func (r *SagaRecord) Header() *SagaRecord { return r }

// Approve marks the record approved by this service.
func (r *SagaRecord) Approve(detail string) {
	r.Status = StatusApproved
	r.StatusDetail = detail
	r.Origin = Origin
}

// Reject marks the record rejected by this service.
func (r *SagaRecord) Reject(detail string) {
	r.Status = StatusRejected
	r.StatusDetail = detail
	r.Origin = Origin
}

// Placement is a bet placement saga record; Stake is reserved from the customer.
type Placement struct {
	SagaRecord
	Stake Money `json:"stake"`
}

// Settlement is a bet settlement saga record; a zero Payout is a loss.
type Settlement struct {
	SagaRecord
	Payout Money `json:"payout"`
}

// Registration is a customer registration saga record.
type Registration struct {
	SagaRecord
	OperatorID *uuid.UUID `json:"operatorId,omitempty"`
	Name       string     `json:"name"`
	Email      string     `json:"email"`
}

// SagaEntry is the persisted form of a saga record, keyed by aggregate type and event id.
type SagaEntry struct {
	AggregateType string          `json:"aggregate_type"`
	EventID       uuid.UUID       `json:"event_id"`
	Status        Status          `json:"status"`
	Operation     string          `json:"operation"`
	Payload       json.RawMessage `json:"payload"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// OutboxMessage is a notification staged with the saga mutation it describes.
type OutboxMessage struct {
	ID            uuid.UUID       `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   uuid.UUID       `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	Dispatched    bool            `json:"dispatched"`
	Attempts      int             `json:"attempts"`
	LastError     string          `json:"last_error,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	DispatchedAt  *time.Time      `json:"dispatched_at,omitempty"`
}
