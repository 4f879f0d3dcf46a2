package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Origin is the origin tag this service writes onto every saga record it mutates.
const Origin = "wallet-service"

// AccountType distinguishes customer and operator accounts.
type AccountType string

const (
	AccountTypeCustomerExpense   AccountType = "CUSTOMER_EXPENSE"
	AccountTypeOperatorLiability AccountType = "OPERATOR_LIABILITY"
)

// Scale is the number of decimal places balances and legs are stored with.
const Scale = 2

// Money is an exact decimal amount in a single currency.
type Money struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

func NewMoney(amount string, currency string) (Money, error) {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return Money{}, err
	}
	return Money{Amount: d, Currency: currency}, nil
}

// MustMoney is NewMoney for constants; it panics on a malformed amount.
func MustMoney(amount string, currency string) Money {
	m, err := NewMoney(amount, currency)
	if err != nil {
		panic(err)
	}
	return m
}

func (m Money) Negate() Money {
	return Money{Amount: m.Amount.Neg(), Currency: m.Currency}
}

func (m Money) IsPositive() bool { return m.Amount.IsPositive() }
func (m Money) IsNegative() bool { return m.Amount.IsNegative() }

// FitsScale reports whether m has no digits beyond Scale.
func (m Money) FitsScale() bool { return m.Amount.Equal(m.Amount.Truncate(Scale)) }

func (m Money) String() string {
	return m.Amount.StringFixed(2) + " " + m.Currency
}

// Account holds a balance owned by a customer or an operator. Accounts are never deleted.
type Account struct {
	ID            uuid.UUID   `json:"id"`
	ForeignID     *uuid.UUID  `json:"foreign_id,omitempty"`
	OperatorID    *uuid.UUID  `json:"operator_id,omitempty"`
	Jurisdiction  string      `json:"jurisdiction"`
	Name          string      `json:"name"`
	Description   string      `json:"description,omitempty"`
	AccountType   AccountType `json:"account_type"`
	Balance       Money       `json:"balance"`
	AllowNegative bool        `json:"allow_negative"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// Transfer is an immutable, balanced set of legs. Its ID is the idempotency key.
// The sum of leg amounts must always equal 0.
type Transfer struct {
	ID              uuid.UUID `json:"id"`
	Jurisdiction    string    `json:"jurisdiction"`
	TransactionType string    `json:"transaction_type"`
	BookingDate     time.Time `json:"booking_date"`
	Legs            []Leg     `json:"legs"`
	CreatedAt       time.Time `json:"created_at"`
}

// Leg represents one signed movement on a single account.
type Leg struct {
	AccountID uuid.UUID `json:"account_id"`
	Amount    Money     `json:"amount"`
	Note      string    `json:"note"`
}
