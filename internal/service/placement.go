package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/punchamoorthee/walletsaga/internal/domain"
	"github.com/punchamoorthee/walletsaga/internal/ledger"
	"github.com/punchamoorthee/walletsaga/internal/store"
	"go.uber.org/zap"
)

// ReserveWager withdraws the stake from the customer into the operator account.
// An unknown customer or a short balance rejects the placement without touching
// the ledger.
func (w *Wallet) ReserveWager(ctx context.Context, p domain.Placement) (domain.Placement, error) {
	if err := validateHeader(p.SagaRecord); err != nil {
		return p, err
	}
	if err := validateStake("stake", p.Stake); err != nil {
		return p, err
	}

	out, err := run(ctx, w, domain.AggregatePlacement, OpReserveWager, p, w.reserveWager)
	if err != nil {
		return out, err
	}

	if out.Status == domain.StatusRejected {
		w.logger.Warn("placement rejected", recordFields(out.SagaRecord)...)
	} else {
		w.logger.Info("placement processed", append(recordFields(out.SagaRecord), zap.Stringer("stake", out.Stake))...)
	}
	return out, nil
}

func (w *Wallet) reserveWager(ctx context.Context, tx store.Tx, p *domain.Placement) error {
	customer, err := tx.FindCustomerAccountByForeignID(ctx, p.CustomerID)
	if errors.Is(err, store.ErrNotFound) {
		p.Reject(DetailNoSuchCustomer)
		return nil
	}
	if err != nil {
		return err
	}
	p.Jurisdiction = customer.Jurisdiction

	if p.Stake.Currency != customer.Balance.Currency {
		return fmt.Errorf("%w: stake in %s, account %s holds %s", domain.ErrCurrencyMismatch, p.Stake.Currency, customer.ID, customer.Balance.Currency)
	}
	if customer.Balance.Amount.Sub(p.Stake.Amount).IsNegative() && !customer.AllowNegative {
		p.Reject(DetailInsufficientFunds)
		return nil
	}

	operator, err := operatorOf(ctx, tx, customer)
	if err != nil {
		return err
	}

	t, err := ledger.NewTransfer(p.EventID, TxBetWager).
		Jurisdiction(customer.Jurisdiction).
		Debit(customer.ID, p.Stake, "Bet wager for "+p.Note).
		Credit(operator.ID, p.Stake, "Bet wager by "+customer.Name).
		Build()
	if err != nil {
		return err
	}
	if _, err := w.ledger.SubmitTransfer(ctx, tx, t); err != nil {
		if errors.Is(err, domain.ErrInsufficientFunds) {
			p.Reject(DetailInsufficientFunds)
			return nil
		}
		return err
	}

	p.Approve(DetailWagerWithdrawn)
	return nil
}

// ReverseWager compensates a reserved wager. A placement that last passed
// through this service is acknowledged without a ledger call.
func (w *Wallet) ReverseWager(ctx context.Context, p domain.Placement) (domain.Placement, error) {
	if err := validateHeader(p.SagaRecord); err != nil {
		return p, err
	}
	if err := validateStake("stake", p.Stake); err != nil {
		return p, err
	}

	out, err := run(ctx, w, domain.AggregatePlacement, OpReverseWager, p, w.reverseWager)
	if err != nil {
		return out, err
	}
	w.logger.Warn("placement reversed", recordFields(out.SagaRecord)...)
	return out, nil
}

func (w *Wallet) reverseWager(ctx context.Context, tx store.Tx, p *domain.Placement) error {
	customer, operator, err := customerAndOperator(ctx, tx, p.CustomerID)
	if err != nil {
		return err
	}

	detail := DetailWagerNotReversed
	if p.Origin != domain.Origin {
		t, err := ledger.NewTransfer(ledger.CompensationID(p.EventID, TxBetWagerReversal), TxBetWagerReversal).
			Jurisdiction(customer.Jurisdiction).
			Credit(customer.ID, p.Stake, "Bet wager reversal").
			Debit(operator.ID, p.Stake, "Bet wager reversal for "+customer.Name).
			Build()
		if err != nil {
			return err
		}
		if _, err := w.ledger.SubmitTransfer(ctx, tx, t); err != nil {
			return err
		}
		detail = DetailWagerReversed
	}

	p.Approve(detail)
	return nil
}
