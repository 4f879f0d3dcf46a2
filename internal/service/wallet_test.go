package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/punchamoorthee/walletsaga/internal/domain"
	"github.com/punchamoorthee/walletsaga/internal/ledger"
	"github.com/punchamoorthee/walletsaga/internal/retry"
	"github.com/punchamoorthee/walletsaga/internal/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func usd(amount string) domain.Money { return domain.MustMoney(amount, "USD") }

func newTestWallet(st store.Store) *Wallet {
	return NewWallet(st, ledger.NewEngine(nil), retry.Policy{MaxAttempts: 3}, nil)
}

type seeded struct {
	customerID uuid.UUID // foreign id carried on commands
	customer   uuid.UUID // account id
	operator   uuid.UUID
}

func seedCustomer(t *testing.T, st store.Store, balance string) seeded {
	t.Helper()
	var s seeded
	err := st.InTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		op, err := tx.CreateOperatorAccount(ctx, domain.Account{Name: "operator-uk", Jurisdiction: "UK", Balance: usd("0"), AllowNegative: true})
		if err != nil {
			return err
		}
		s.customerID = uuid.New()
		cust, err := tx.CreateCustomerAccount(ctx, domain.Account{
			ForeignID:    &s.customerID,
			OperatorID:   &op.ID,
			Name:         "alice",
			Jurisdiction: "UK",
			Balance:      usd(balance),
		})
		if err != nil {
			return err
		}
		s.customer, s.operator = cust.ID, op.ID
		return nil
	})
	require.NoError(t, err)
	return s
}

func balanceOf(t *testing.T, st store.Store, id uuid.UUID) decimal.Decimal {
	t.Helper()
	acc, err := st.GetAccount(context.Background(), id)
	require.NoError(t, err)
	return acc.Balance.Amount
}

func assertBalance(t *testing.T, st store.Store, id uuid.UUID, want string) {
	t.Helper()
	got := balanceOf(t, st, id)
	assert.True(t, got.Equal(decimal.RequireFromString(want)), "balance %s, want %s", got, want)
}

func placement(customerID uuid.UUID, stake string) domain.Placement {
	return domain.Placement{
		SagaRecord: domain.SagaRecord{
			EventID:    uuid.New(),
			CustomerID: customerID,
			Status:     domain.StatusPending,
			Origin:     "bet-service",
			Note:       "Arsenal v Spurs",
		},
		Stake: usd(stake),
	}
}

// flakyStore fails the outbox insert with a transient fault for the first
// `failures` units of work it opens.
type flakyStore struct {
	*store.MemoryStore
	failures int32
	calls    atomic.Int32
}

func (s *flakyStore) InTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	n := s.calls.Add(1)
	return s.MemoryStore.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if n <= s.failures {
			return fn(ctx, failingOutboxTx{Tx: tx})
		}
		return fn(ctx, tx)
	})
}

type failingOutboxTx struct {
	store.Tx
}

func (failingOutboxTx) InsertOutbox(ctx context.Context, msg domain.OutboxMessage) error {
	return domain.Transient(errors.New("could not serialize access"))
}

func TestRun_RetriesTransientFaults(t *testing.T) {
	st := &flakyStore{MemoryStore: store.NewMemoryStore(), failures: 2}
	s := seedCustomer(t, st, "100.00")
	w := newTestWallet(st)

	out, err := w.ReserveWager(context.Background(), placement(s.customerID, "20.00"))
	require.NoError(t, err)

	assert.Equal(t, domain.StatusApproved, out.Status)
	assert.EqualValues(t, 4, st.calls.Load(), "seed plus three attempts")
	assertBalance(t, st, s.customer, "80.00")
	assert.Len(t, st.Transfers(), 1)
	assert.Len(t, st.Outbox(), 1)
}

func TestRun_ExhaustedRetriesLeaveNoTrace(t *testing.T) {
	st := &flakyStore{MemoryStore: store.NewMemoryStore(), failures: 100}
	s := seedCustomer(t, st, "100.00")
	w := newTestWallet(st)

	_, err := w.ReserveWager(context.Background(), placement(s.customerID, "20.00"))
	require.ErrorIs(t, err, retry.ErrExhausted)
	assert.ErrorIs(t, err, domain.ErrTransient)

	assertBalance(t, st, s.customer, "100.00")
	assert.Empty(t, st.Transfers())
	assert.Empty(t, st.Outbox())
}

func TestRun_StagesOneOutboxMessagePerMutation(t *testing.T) {
	st := store.NewMemoryStore()
	s := seedCustomer(t, st, "100.00")
	w := newTestWallet(st)
	p := placement(s.customerID, "20.00")

	_, err := w.ReserveWager(context.Background(), p)
	require.NoError(t, err)
	_, err = w.ReserveWager(context.Background(), p)
	require.NoError(t, err)

	msgs := st.Outbox()
	require.Len(t, msgs, 1, "a replay stages nothing")
	msg := msgs[0]
	assert.Equal(t, domain.AggregatePlacement, msg.AggregateType)
	assert.Equal(t, OpReserveWager, msg.EventType)
	assert.Equal(t, p.EventID, msg.AggregateID)
	assert.False(t, msg.Dispatched)

	var staged domain.Placement
	require.NoError(t, json.Unmarshal(msg.Payload, &staged))
	assert.Equal(t, domain.StatusApproved, staged.Status)
	assert.Equal(t, DetailWagerWithdrawn, staged.StatusDetail)
	assert.True(t, staged.Stake.Amount.Equal(decimal.RequireFromString("20.00")))
}

func TestRun_MalformedCommands(t *testing.T) {
	st := store.NewMemoryStore()
	s := seedCustomer(t, st, "100.00")
	w := newTestWallet(st)

	noEvent := placement(s.customerID, "1.00")
	noEvent.EventID = uuid.Nil
	_, err := w.ReserveWager(context.Background(), noEvent)
	assert.ErrorIs(t, err, domain.ErrValidation)

	noCustomer := placement(uuid.Nil, "1.00")
	_, err = w.ReverseWager(context.Background(), noCustomer)
	assert.ErrorIs(t, err, domain.ErrValidation)

	assert.Empty(t, st.Outbox())
}

func TestIsReplay(t *testing.T) {
	tests := []struct {
		stored, operation string
		want              bool
	}{
		{"", OpReserveWager, false},
		{OpReserveWager, OpReserveWager, true},
		{OpReverseWager, OpReserveWager, true},
		{OpReserveWager, OpReverseWager, false},
		{OpReverseAccounts, OpCreateAccounts, true},
		{OpCreateAccounts, OpReverseAccounts, false},
		{OpTransferPayout, OpTransferPayout, true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, isReplay(tt.stored, tt.operation), "stored=%q operation=%q", tt.stored, tt.operation)
	}
}

// assertConcurrentDeliveriesSerialize delivers one placement from n goroutines
// at once and checks that exactly one of them booked it.
func assertConcurrentDeliveriesSerialize(t *testing.T, st store.Store, n int) {
	t.Helper()
	s := seedCustomer(t, st, "100.00")
	w := newTestWallet(st)
	p := placement(s.customerID, "20.00")

	var wg sync.WaitGroup
	outs := make([]domain.Placement, n)
	errs := make([]error, n)
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			outs[i], errs[i] = w.ReserveWager(context.Background(), p)
		}(i)
	}
	close(start)
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i], "delivery %d", i)
		assert.Equal(t, domain.StatusApproved, outs[i].Status, "delivery %d", i)
	}
	assertBalance(t, st, s.customer, "80.00")
	assertBalance(t, st, s.operator, "20.00")

	tr, err := st.GetTransfer(context.Background(), p.EventID)
	require.NoError(t, err)
	assert.Len(t, tr.Legs, 2)

	pending, err := st.ListPendingOutbox(context.Background(), 10000)
	require.NoError(t, err)
	staged := 0
	for _, msg := range pending {
		if msg.AggregateID == p.EventID {
			staged++
		}
	}
	assert.Equal(t, 1, staged, "one outbox message for the event")
}
