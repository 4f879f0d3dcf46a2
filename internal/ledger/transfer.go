package ledger

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/punchamoorthee/walletsaga/internal/domain"
	"github.com/shopspring/decimal"
)

// Builder assembles a Transfer leg by leg. Build validates it; the returned
// Transfer shares no memory with the builder.
type Builder struct {
	t domain.Transfer
}

func NewTransfer(id uuid.UUID, transactionType string) *Builder {
	return &Builder{t: domain.Transfer{
		ID:              id,
		TransactionType: transactionType,
		BookingDate:     today(time.Now()),
	}}
}

func (b *Builder) Jurisdiction(jurisdiction string) *Builder {
	b.t.Jurisdiction = jurisdiction
	return b
}

func (b *Builder) BookingDate(d time.Time) *Builder {
	b.t.BookingDate = today(d)
	return b
}

// Leg appends a signed movement on accountID.
func (b *Builder) Leg(accountID uuid.UUID, amount domain.Money, note string) *Builder {
	b.t.Legs = append(b.t.Legs, domain.Leg{AccountID: accountID, Amount: amount, Note: note})
	return b
}

// Credit appends a leg adding amount to accountID.
func (b *Builder) Credit(accountID uuid.UUID, amount domain.Money, note string) *Builder {
	return b.Leg(accountID, amount, note)
}

// Debit appends a leg removing amount from accountID.
func (b *Builder) Debit(accountID uuid.UUID, amount domain.Money, note string) *Builder {
	return b.Leg(accountID, amount.Negate(), note)
}

func (b *Builder) Build() (domain.Transfer, error) {
	t := b.t
	t.Legs = append([]domain.Leg(nil), b.t.Legs...)
	if err := Validate(t); err != nil {
		return domain.Transfer{}, err
	}
	return t, nil
}

// Validate checks the structural invariants of a transfer: an id, at least one
// leg, a single currency across legs and a leg sum of exactly zero.
func Validate(t domain.Transfer) error {
	if t.ID == uuid.Nil {
		return domain.ErrMissingTransferID
	}
	if len(t.Legs) == 0 {
		return domain.ErrEmptyTransfer
	}

	currency := t.Legs[0].Amount.Currency
	sum := decimal.Zero
	for _, leg := range t.Legs {
		if leg.Amount.Currency != currency {
			return fmt.Errorf("%w: transfer %s mixes %s and %s", domain.ErrCurrencyMismatch, t.ID, currency, leg.Amount.Currency)
		}
		if !leg.Amount.FitsScale() {
			return fmt.Errorf("%w: transfer %s leg %s", domain.ErrAmountPrecision, t.ID, leg.Amount.Amount.String())
		}
		sum = sum.Add(leg.Amount.Amount)
	}
	if !sum.IsZero() {
		return fmt.Errorf("%w: transfer %s legs sum to %s", domain.ErrUnbalancedTransfer, t.ID, sum.String())
	}
	return nil
}

// CompensationID derives the key of the transfer that compensates the forward
// transfer booked under eventID.
func CompensationID(eventID uuid.UUID, transactionType string) uuid.UUID {
	return uuid.NewSHA1(eventID, []byte(transactionType))
}

func today(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
