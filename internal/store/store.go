package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/punchamoorthee/walletsaga/internal/domain"
	"github.com/shopspring/decimal"
)

var ErrNotFound = errors.New("record not found")

// AccountStore is the account lookup and creation contract consumed by the facades.
// Lookups return ErrNotFound when nothing matches.
type AccountStore interface {
	FindCustomerAccountByForeignID(ctx context.Context, foreignID uuid.UUID) (*domain.Account, error)
	FindOperatorAccountByID(ctx context.Context, id uuid.UUID) (*domain.Account, error)
	CreateCustomerAccount(ctx context.Context, acc domain.Account) (*domain.Account, error)
	CreateOperatorAccount(ctx context.Context, acc domain.Account) (*domain.Account, error)
}

// Tx is one atomic unit of work. Nothing written through it is visible outside
// until the surrounding InTx returns nil.
type Tx interface {
	AccountStore

	// LockAccounts locks the given accounts for update in the order given and
	// returns those that exist.
	LockAccounts(ctx context.Context, ids []uuid.UUID) ([]domain.Account, error)
	UpdateBalance(ctx context.Context, id uuid.UUID, balance decimal.Decimal) error

	// FindTransfer returns the transfer with all of its legs, never partially.
	FindTransfer(ctx context.Context, id uuid.UUID) (*domain.Transfer, error)
	InsertTransfer(ctx context.Context, t domain.Transfer) error

	// ClaimSaga inserts entry if no record exists for its key, then locks and
	// returns the stored record.
	ClaimSaga(ctx context.Context, entry domain.SagaEntry) (domain.SagaEntry, error)
	SaveSaga(ctx context.Context, entry domain.SagaEntry) error

	InsertOutbox(ctx context.Context, msg domain.OutboxMessage) error
}

// Store opens units of work and serves the read-side and relay queries.
type Store interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	GetAccount(ctx context.Context, id uuid.UUID) (*domain.Account, error)
	GetTransfer(ctx context.Context, id uuid.UUID) (*domain.Transfer, error)

	ListPendingOutbox(ctx context.Context, limit int) ([]domain.OutboxMessage, error)
	MarkOutboxDispatched(ctx context.Context, id uuid.UUID, at time.Time) error
	MarkOutboxFailed(ctx context.Context, id uuid.UUID, reason string) error
}

func prepareAccount(acc domain.Account, accountType domain.AccountType, now time.Time) domain.Account {
	if acc.ID == uuid.Nil {
		acc.ID = uuid.New()
	}
	acc.AccountType = accountType
	acc.CreatedAt = now
	acc.UpdatedAt = now
	return acc
}

var (
	_ Store = (*PostgresStore)(nil)
	_ Store = (*MemoryStore)(nil)
)
