package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/punchamoorthee/walletsaga/internal/domain"
	"github.com/punchamoorthee/walletsaga/internal/ledger"
	"github.com/punchamoorthee/walletsaga/internal/store"
	"go.uber.org/zap"
)

// CreateAccounts opens the customer account, opening an implicit operator
// account first when the registration names none, and grants the welcome bonus.
func (w *Wallet) CreateAccounts(ctx context.Context, r domain.Registration) (domain.Registration, error) {
	if err := validateHeader(r.SagaRecord); err != nil {
		return r, err
	}
	if r.Jurisdiction == "" {
		return r, fmt.Errorf("%w: jurisdiction is required", domain.ErrMalformedCommand)
	}

	out, err := run(ctx, w, domain.AggregateRegistration, OpCreateAccounts, r, w.createAccounts)
	if err != nil {
		return out, err
	}

	fields := recordFields(out.SagaRecord)
	if out.OperatorID != nil {
		fields = append(fields, zap.Stringer("operator_id", *out.OperatorID))
	}
	w.logger.Info("registration processed", fields...)
	return out, nil
}

func (w *Wallet) createAccounts(ctx context.Context, tx store.Tx, r *domain.Registration) error {
	operator, err := w.operatorFor(ctx, tx, r)
	if err != nil {
		return err
	}

	customerID := r.CustomerID
	operatorID := operator.ID
	customer, err := tx.CreateCustomerAccount(ctx, domain.Account{
		ForeignID:     &customerID,
		OperatorID:    &operatorID,
		Jurisdiction:  r.Jurisdiction,
		Name:          r.Name,
		Description:   r.Email,
		Balance:       domain.Money{Currency: WelcomeBonus.Currency},
		AllowNegative: false,
	})
	if err != nil {
		return err
	}

	t, err := ledger.NewTransfer(r.EventID, TxWelcomeBonus).
		Jurisdiction(r.Jurisdiction).
		Credit(customer.ID, WelcomeBonus, "Welcome bonus from "+operator.Name).
		Debit(operator.ID, WelcomeBonus, "Welcome bonus grant to "+customer.Name).
		Build()
	if err != nil {
		return err
	}
	if _, err := w.ledger.SubmitTransfer(ctx, tx, t); err != nil {
		return err
	}

	r.OperatorID = &operatorID
	r.Approve(DetailWelcomeBonusGranted)
	return nil
}

// operatorFor returns the operator named by the registration, or creates an
// implicit one scoped to the registration's jurisdiction.
func (w *Wallet) operatorFor(ctx context.Context, tx store.Tx, r *domain.Registration) (*domain.Account, error) {
	if r.OperatorID != nil {
		operator, err := tx.FindOperatorAccountByID(ctx, *r.OperatorID)
		if err == nil {
			return operator, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		w.logger.Warn("operator not found, creating implicit operator",
			zap.Stringer("event_id", r.EventID),
			zap.Stringer("operator_id", *r.OperatorID))
	}

	return tx.CreateOperatorAccount(ctx, domain.Account{
		Jurisdiction:  r.Jurisdiction,
		Name:          fmt.Sprintf("operator-%s-implicit-for-%s", r.Jurisdiction, r.Email),
		Balance:       domain.Money{Currency: WelcomeBonus.Currency},
		AllowNegative: true,
	})
}

// ReverseAccounts takes the welcome bonus back. The accounts stay open.
func (w *Wallet) ReverseAccounts(ctx context.Context, r domain.Registration) (domain.Registration, error) {
	if err := validateHeader(r.SagaRecord); err != nil {
		return r, err
	}

	out, err := run(ctx, w, domain.AggregateRegistration, OpReverseAccounts, r, w.reverseAccounts)
	if err != nil {
		return out, err
	}
	w.logger.Warn("registration reversed", recordFields(out.SagaRecord)...)
	return out, nil
}

func (w *Wallet) reverseAccounts(ctx context.Context, tx store.Tx, r *domain.Registration) error {
	customer, err := tx.FindCustomerAccountByForeignID(ctx, r.CustomerID)
	if errors.Is(err, store.ErrNotFound) {
		return domain.MissingAccount("customer", r.CustomerID)
	}
	if err != nil {
		return err
	}

	var operatorID uuid.UUID
	switch {
	case r.OperatorID != nil:
		operatorID = *r.OperatorID
	case customer.OperatorID != nil:
		operatorID = *customer.OperatorID
	default:
		return domain.MissingAccount("operator of customer", customer.ID)
	}
	operator, err := tx.FindOperatorAccountByID(ctx, operatorID)
	if errors.Is(err, store.ErrNotFound) {
		return domain.MissingAccount("operator", operatorID)
	}
	if err != nil {
		return err
	}

	t, err := ledger.NewTransfer(ledger.CompensationID(r.EventID, TxWelcomeBonusReversal), TxWelcomeBonusReversal).
		Jurisdiction(customer.Jurisdiction).
		Debit(customer.ID, WelcomeBonus, "Welcome bonus redacted by "+operator.Name).
		Credit(operator.ID, WelcomeBonus, "Welcome bonus reversal for "+customer.Name).
		Build()
	if err != nil {
		return err
	}
	if _, err := w.ledger.SubmitTransfer(ctx, tx, t); err != nil {
		return err
	}

	r.OperatorID = &operatorID
	r.Approve(DetailWelcomeBonusReversed)
	return nil
}
