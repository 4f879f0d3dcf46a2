package models

import (
	"github.com/google/uuid"
	"github.com/punchamoorthee/walletsaga/internal/domain"
)

// SagaCommand carries the header fields shared by every inbound command.
type SagaCommand struct {
	EventID      uuid.UUID `json:"eventId"`
	CustomerID   uuid.UUID `json:"customerId"`
	Jurisdiction string    `json:"jurisdiction"`
	Note         string    `json:"note"`
	Origin       string    `json:"origin"`
}

func (c SagaCommand) record() domain.SagaRecord {
	return domain.SagaRecord{
		EventID:      c.EventID,
		CustomerID:   c.CustomerID,
		Status:       domain.StatusPending,
		Origin:       c.Origin,
		Jurisdiction: c.Jurisdiction,
		Note:         c.Note,
	}
}

// PlacementCommand is the payload of a reserve or reverse wager delivery.
type PlacementCommand struct {
	SagaCommand
	Stake domain.Money `json:"stake"`
}

func (c PlacementCommand) ToDomain() domain.Placement {
	return domain.Placement{SagaRecord: c.record(), Stake: c.Stake}
}

// SettlementCommand is the payload of a payout delivery.
type SettlementCommand struct {
	SagaCommand
	Payout domain.Money `json:"payout"`
}

func (c SettlementCommand) ToDomain() domain.Settlement {
	return domain.Settlement{SagaRecord: c.record(), Payout: c.Payout}
}

// RegistrationCommand is the payload of a create or reverse accounts delivery.
type RegistrationCommand struct {
	SagaCommand
	OperatorID *uuid.UUID `json:"operatorId,omitempty"`
	Name       string     `json:"name"`
	Email      string     `json:"email"`
}

func (c RegistrationCommand) ToDomain() domain.Registration {
	return domain.Registration{
		SagaRecord: c.record(),
		OperatorID: c.OperatorID,
		Name:       c.Name,
		Email:      c.Email,
	}
}

// ErrorResponse is the canonical error body.
type ErrorResponse struct {
	Error string `json:"error"`
}
