// Package ledger applies balanced multi-leg transfers to account balances.
package ledger

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/punchamoorthee/walletsaga/internal/domain"
	"github.com/punchamoorthee/walletsaga/internal/store"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var transfersBooked = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "wallet_ledger_transfers_total",
	Help: "Transfers booked by the ledger, labeled by transaction type",
}, []string{"transaction_type"})

type Engine struct {
	logger *zap.Logger
}

func NewEngine(logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{logger: logger}
}

// SubmitTransfer applies every leg of t inside tx, or none of them.
// A transfer id that is already booked is a no-op returning the stored transfer.
func (e *Engine) SubmitTransfer(ctx context.Context, tx store.Tx, t domain.Transfer) (domain.Transfer, error) {
	if err := Validate(t); err != nil {
		return domain.Transfer{}, err
	}

	// 1. Idempotency Check
	existing, err := tx.FindTransfer(ctx, t.ID)
	if err == nil {
		e.logger.Debug("transfer already booked", zap.Stringer("transfer_id", t.ID))
		return *existing, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return domain.Transfer{}, fmt.Errorf("transfer lookup failed: %w", err)
	}

	// 2. Deterministic Locking (Deadlock Prevention)
	deltas := make(map[uuid.UUID]decimal.Decimal, len(t.Legs))
	for _, leg := range t.Legs {
		deltas[leg.AccountID] = deltas[leg.AccountID].Add(leg.Amount.Amount)
	}
	ids := make([]uuid.UUID, 0, len(deltas))
	for id := range deltas {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return bytes.Compare(ids[i][:], ids[j][:]) < 0 })

	locked, err := tx.LockAccounts(ctx, ids)
	if err != nil {
		return domain.Transfer{}, err
	}
	accounts := make(map[uuid.UUID]domain.Account, len(locked))
	for _, acc := range locked {
		accounts[acc.ID] = acc
	}

	// 3. Business Logic Check, before anything is written
	currency := t.Legs[0].Amount.Currency
	balances := make(map[uuid.UUID]decimal.Decimal, len(ids))
	for _, id := range ids {
		acc, ok := accounts[id]
		if !ok {
			return domain.Transfer{}, fmt.Errorf("%w: %s", domain.ErrAccountNotFound, id)
		}
		if acc.Balance.Currency != currency {
			return domain.Transfer{}, fmt.Errorf("%w: account %s holds %s, transfer is in %s",
				domain.ErrCurrencyMismatch, id, acc.Balance.Currency, currency)
		}
		next := acc.Balance.Amount.Add(deltas[id])
		if !acc.AllowNegative && next.IsNegative() && deltas[id].IsNegative() {
			return domain.Transfer{}, fmt.Errorf("%w: account %s balance %s", domain.ErrInsufficientFunds, id, acc.Balance)
		}
		balances[id] = next
	}

	// 4. Execution: Insert Transfer & Legs, then Balances
	if err := tx.InsertTransfer(ctx, t); err != nil {
		return domain.Transfer{}, err
	}
	for _, id := range ids {
		if err := tx.UpdateBalance(ctx, id, balances[id]); err != nil {
			return domain.Transfer{}, err
		}
	}

	transfersBooked.WithLabelValues(t.TransactionType).Inc()
	e.logger.Debug("transfer booked",
		zap.Stringer("transfer_id", t.ID),
		zap.String("transaction_type", t.TransactionType),
		zap.Int("legs", len(t.Legs)))

	return t, nil
}
