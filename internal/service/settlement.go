package service

import (
	"context"
	"fmt"

	"github.com/punchamoorthee/walletsaga/internal/domain"
	"github.com/punchamoorthee/walletsaga/internal/ledger"
	"github.com/punchamoorthee/walletsaga/internal/store"
	"go.uber.org/zap"
)

// TransferPayout pays a winning settlement from the operator to the customer.
// A zero payout is a loss and is approved without a ledger call.
func (w *Wallet) TransferPayout(ctx context.Context, s domain.Settlement) (domain.Settlement, error) {
	if err := validateHeader(s.SagaRecord); err != nil {
		return s, err
	}
	if s.Payout.IsNegative() {
		return s, fmt.Errorf("%w: payout must not be negative, got %s", domain.ErrMalformedCommand, s.Payout)
	}
	if !s.Payout.FitsScale() {
		return s, fmt.Errorf("%w: payout %s", domain.ErrAmountPrecision, s.Payout.Amount.String())
	}

	out, err := run(ctx, w, domain.AggregateSettlement, OpTransferPayout, s, w.transferPayout)
	if err != nil {
		return out, err
	}
	w.logger.Info("settlement processed", append(recordFields(out.SagaRecord), zap.Stringer("payout", out.Payout))...)
	return out, nil
}

func (w *Wallet) transferPayout(ctx context.Context, tx store.Tx, s *domain.Settlement) error {
	if !s.Payout.IsPositive() {
		s.Approve(DetailNoPayout)
		return nil
	}

	customer, operator, err := customerAndOperator(ctx, tx, s.CustomerID)
	if err != nil {
		return err
	}

	t, err := ledger.NewTransfer(s.EventID, TxBetWagerPayout).
		Jurisdiction(customer.Jurisdiction).
		Credit(customer.ID, s.Payout, "Bet wager payout from "+operator.Name).
		Debit(operator.ID, s.Payout, "Bet win payout to "+customer.Name).
		Build()
	if err != nil {
		return err
	}
	if _, err := w.ledger.SubmitTransfer(ctx, tx, t); err != nil {
		return err
	}

	s.Approve(DetailPayoutApproved)
	return nil
}
