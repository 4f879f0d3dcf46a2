package store

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/punchamoorthee/walletsaga/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_RollbackLeavesNoTrace(t *testing.T) {
	s := NewMemoryStore()
	boom := errors.New("boom")
	var id uuid.UUID

	err := s.InTx(context.Background(), func(ctx context.Context, tx Tx) error {
		acc, err := tx.CreateOperatorAccount(ctx, domain.Account{Name: "op", Balance: domain.MustMoney("0", "USD")})
		require.NoError(t, err)
		id = acc.ID
		require.NoError(t, tx.InsertOutbox(ctx, domain.OutboxMessage{ID: uuid.New()}))
		return boom
	})

	require.ErrorIs(t, err, boom)
	_, err = s.GetAccount(context.Background(), id)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Empty(t, s.Outbox())
}

func TestMemoryStore_CustomerLookup(t *testing.T) {
	s := NewMemoryStore()
	foreign := uuid.New()

	err := s.InTx(context.Background(), func(ctx context.Context, tx Tx) error {
		op, err := tx.CreateOperatorAccount(ctx, domain.Account{Name: "op", Balance: domain.MustMoney("0", "USD")})
		if err != nil {
			return err
		}
		if _, err := tx.CreateCustomerAccount(ctx, domain.Account{ForeignID: &foreign, OperatorID: &op.ID, Balance: domain.MustMoney("0", "USD")}); err != nil {
			return err
		}

		cust, err := tx.FindCustomerAccountByForeignID(ctx, foreign)
		require.NoError(t, err)
		assert.Equal(t, domain.AccountTypeCustomerExpense, cust.AccountType)

		_, err = tx.FindOperatorAccountByID(ctx, cust.ID)
		assert.ErrorIs(t, err, ErrNotFound, "a customer is not an operator")

		_, err = tx.CreateCustomerAccount(ctx, domain.Account{ForeignID: &foreign})
		assert.ErrorIs(t, err, domain.ErrDataIntegrity)
		return nil
	})
	require.NoError(t, err)
}

func TestMemoryStore_ClaimSagaKeepsFirstEntry(t *testing.T) {
	s := NewMemoryStore()
	event := uuid.New()

	err := s.InTx(context.Background(), func(ctx context.Context, tx Tx) error {
		first, err := tx.ClaimSaga(ctx, domain.SagaEntry{AggregateType: domain.AggregatePlacement, EventID: event, Status: domain.StatusPending})
		require.NoError(t, err)
		assert.Empty(t, first.Operation)

		require.NoError(t, tx.SaveSaga(ctx, domain.SagaEntry{AggregateType: domain.AggregatePlacement, EventID: event, Status: domain.StatusApproved, Operation: "reserve-wager"}))

		again, err := tx.ClaimSaga(ctx, domain.SagaEntry{AggregateType: domain.AggregatePlacement, EventID: event, Status: domain.StatusPending})
		require.NoError(t, err)
		assert.Equal(t, domain.StatusApproved, again.Status)
		assert.Equal(t, "reserve-wager", again.Operation)

		other, err := tx.ClaimSaga(ctx, domain.SagaEntry{AggregateType: domain.AggregateSettlement, EventID: event, Status: domain.StatusPending})
		require.NoError(t, err)
		assert.Empty(t, other.Operation, "keys are scoped by aggregate type")
		return nil
	})
	require.NoError(t, err)
}

func TestMemoryStore_TransfersAreDetached(t *testing.T) {
	s := NewMemoryStore()
	id := uuid.New()
	legs := []domain.Leg{{AccountID: uuid.New(), Amount: domain.MustMoney("1", "USD")}}

	err := s.InTx(context.Background(), func(ctx context.Context, tx Tx) error {
		if err := tx.InsertTransfer(ctx, domain.Transfer{ID: id, Legs: legs}); err != nil {
			return err
		}
		assert.ErrorIs(t, tx.InsertTransfer(ctx, domain.Transfer{ID: id}), domain.ErrDataIntegrity)
		return nil
	})
	require.NoError(t, err)

	legs[0].Amount = domain.MustMoney("99", "USD")
	tr, err := s.GetTransfer(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, tr.Legs[0].Amount.Amount.Equal(decimal.NewFromInt(1)))
}

func TestMemoryStore_OutboxMarks(t *testing.T) {
	s := NewMemoryStore()
	id := uuid.New()
	require.NoError(t, s.InTx(context.Background(), func(ctx context.Context, tx Tx) error {
		return tx.InsertOutbox(ctx, domain.OutboxMessage{ID: id})
	}))

	require.NoError(t, s.MarkOutboxFailed(context.Background(), id, "broker down"))
	pending, err := s.ListPendingOutbox(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, 1, pending[0].Attempts)
	assert.Equal(t, "broker down", pending[0].LastError)

	require.NoError(t, s.MarkOutboxDispatched(context.Background(), id, s.now()))
	pending, err = s.ListPendingOutbox(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	assert.ErrorIs(t, s.MarkOutboxDispatched(context.Background(), uuid.New(), s.now()), ErrNotFound)
}

func TestMemoryStore_CancelledContext(t *testing.T) {
	s := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := s.InTx(ctx, func(ctx context.Context, tx Tx) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}
