// Package service holds the wallet saga facades: one forward and at most one
// compensating action per saga hop, each executed as a retried unit of work
// that books its transfer, updates the saga record and stages an outbox message.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/punchamoorthee/walletsaga/internal/domain"
	"github.com/punchamoorthee/walletsaga/internal/outbox"
	"github.com/punchamoorthee/walletsaga/internal/retry"
	"github.com/punchamoorthee/walletsaga/internal/store"
	"go.uber.org/zap"
)

// Operations, also used as outbox event types.
const (
	OpReserveWager    = "reserve-wager"
	OpReverseWager    = "reverse-wager"
	OpTransferPayout  = "transfer-payout"
	OpCreateAccounts  = "create-accounts"
	OpReverseAccounts = "reverse-accounts"
)

// Transaction type tags.
const (
	TxBetWager             = "bet-wager"
	TxBetWagerReversal     = "bet-wager-reversal"
	TxBetWagerPayout       = "bet-wager-payout"
	TxWelcomeBonus         = "welcome-bonus"
	TxWelcomeBonusReversal = "welcome-bonus-reversal"
)

// Status details.
const (
	DetailNoSuchCustomer       = "no such customer account"
	DetailInsufficientFunds    = "insufficient funds"
	DetailWagerWithdrawn       = "wager withdrawn"
	DetailWagerReversed        = "wager reversed"
	DetailWagerNotReversed     = "not reversed (same origin)"
	DetailPayoutApproved       = "payout approved"
	DetailNoPayout             = "no payout"
	DetailWelcomeBonusGranted  = "welcome bonus granted"
	DetailWelcomeBonusReversed = "welcome bonus reversed"
)

// WelcomeBonus is granted to every new customer by its operator.
var WelcomeBonus = domain.MustMoney("50.00", "USD")

// supersededBy maps a forward operation to the compensation that closes it.
// A forward delivery arriving after its compensation replays the stored record.
var supersededBy = map[string]string{
	OpReserveWager:   OpReverseWager,
	OpCreateAccounts: OpReverseAccounts,
}

var sagaCommands = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "wallet_saga_commands_total",
	Help: "Saga commands handled, labeled by outcome",
}, []string{"aggregate", "operation", "outcome"})

// Ledger books transfers inside a unit of work.
type Ledger interface {
	SubmitTransfer(ctx context.Context, tx store.Tx, t domain.Transfer) (domain.Transfer, error)
}

type Wallet struct {
	store  store.Store
	ledger Ledger
	retry  retry.Policy
	logger *zap.Logger
}

func NewWallet(st store.Store, ledger Ledger, policy retry.Policy, logger *zap.Logger) *Wallet {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Wallet{store: st, ledger: ledger, retry: policy, logger: logger}
}

type sagaRecord[T any] interface {
	*T
	Header() *domain.SagaRecord
}

type stepFunc[P any] func(ctx context.Context, tx store.Tx, rec P) error

// run composes the retry policy around one unit of work that claims the saga
// entry, replays a redelivered operation, or else runs step, saves the record
// and stages its outbox message.
func run[T any, P sagaRecord[T]](ctx context.Context, w *Wallet, aggregateType, operation string, cmd T, step stepFunc[P]) (T, error) {
	var result T
	var replayed bool

	err := w.retry.Do(ctx, operation, func(ctx context.Context) error {
		return w.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
			rec := cmd
			var err error
			replayed, err = unitOfWork[T, P](ctx, tx, aggregateType, operation, P(&rec), step)
			if err != nil {
				return err
			}
			result = rec
			return nil
		})
	})
	if err != nil {
		sagaCommands.WithLabelValues(aggregateType, operation, "FAILED").Inc()
		return result, err
	}

	outcome := string(P(&result).Header().Status)
	if replayed {
		outcome = "REPLAYED"
	}
	sagaCommands.WithLabelValues(aggregateType, operation, outcome).Inc()
	return result, nil
}

func unitOfWork[T any, P sagaRecord[T]](ctx context.Context, tx store.Tx, aggregateType, operation string, rec P, step stepFunc[P]) (bool, error) {
	hdr := rec.Header()
	if hdr.Status == "" {
		hdr.Status = domain.StatusPending
	}

	payload, err := json.Marshal(rec)
	if err != nil {
		return false, fmt.Errorf("saga payload: %w", err)
	}
	stored, err := tx.ClaimSaga(ctx, domain.SagaEntry{
		AggregateType: aggregateType,
		EventID:       hdr.EventID,
		Status:        hdr.Status,
		Payload:       payload,
	})
	if err != nil {
		return false, err
	}

	if isReplay(stored.Operation, operation) {
		if err := json.Unmarshal(stored.Payload, rec); err != nil {
			return false, fmt.Errorf("saga payload %s/%s: %w", aggregateType, hdr.EventID, err)
		}
		return true, nil
	}

	if err := step(ctx, tx, rec); err != nil {
		return false, err
	}

	payload, err = json.Marshal(rec)
	if err != nil {
		return false, fmt.Errorf("saga payload: %w", err)
	}
	if err := tx.SaveSaga(ctx, domain.SagaEntry{
		AggregateType: aggregateType,
		EventID:       hdr.EventID,
		Status:        hdr.Status,
		Operation:     operation,
		Payload:       payload,
	}); err != nil {
		return false, err
	}

	if _, err := outbox.Stage(ctx, tx, aggregateType, operation, hdr.EventID, rec); err != nil {
		return false, err
	}
	return false, nil
}

// isReplay reports whether the stored entry already reflects operation, either
// because it was the last writer or because its compensation already ran.
func isReplay(stored, operation string) bool {
	if stored == "" {
		return false
	}
	return stored == operation || supersededBy[operation] == stored
}

// customerAndOperator resolves both accounts of a compensating or payout step.
// Either one missing means an upstream invariant was broken.
func customerAndOperator(ctx context.Context, tx store.Tx, customerID uuid.UUID) (*domain.Account, *domain.Account, error) {
	customer, err := tx.FindCustomerAccountByForeignID(ctx, customerID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil, domain.MissingAccount("customer", customerID)
	}
	if err != nil {
		return nil, nil, err
	}
	operator, err := operatorOf(ctx, tx, customer)
	if err != nil {
		return nil, nil, err
	}
	return customer, operator, nil
}

func operatorOf(ctx context.Context, tx store.Tx, customer *domain.Account) (*domain.Account, error) {
	if customer.OperatorID == nil {
		return nil, domain.MissingAccount("operator of customer", customer.ID)
	}
	operator, err := tx.FindOperatorAccountByID(ctx, *customer.OperatorID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, domain.MissingAccount("operator", *customer.OperatorID)
	}
	return operator, err
}

func validateHeader(r domain.SagaRecord) error {
	if r.EventID == uuid.Nil {
		return fmt.Errorf("%w: eventId is required", domain.ErrMalformedCommand)
	}
	if r.CustomerID == uuid.Nil {
		return fmt.Errorf("%w: customerId is required", domain.ErrMalformedCommand)
	}
	return nil
}

// validateStake rejects a stake that is not a positive amount at ledger scale.
func validateStake(name string, m domain.Money) error {
	if !m.IsPositive() {
		return fmt.Errorf("%w: %s must be positive, got %s", domain.ErrMalformedCommand, name, m.Amount.String())
	}
	if !m.FitsScale() {
		return fmt.Errorf("%w: %s %s", domain.ErrAmountPrecision, name, m.Amount.String())
	}
	return nil
}

func recordFields(r domain.SagaRecord) []zap.Field {
	return []zap.Field{
		zap.Stringer("event_id", r.EventID),
		zap.Stringer("customer_id", r.CustomerID),
		zap.String("status", string(r.Status)),
		zap.String("status_detail", r.StatusDetail),
		zap.String("origin", r.Origin),
		zap.String("jurisdiction", r.Jurisdiction),
	}
}
