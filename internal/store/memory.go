package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/punchamoorthee/walletsaga/internal/domain"
	"github.com/shopspring/decimal"
)

type sagaKey struct {
	aggregateType string
	eventID       uuid.UUID
}

type memState struct {
	accounts  map[uuid.UUID]domain.Account
	transfers map[uuid.UUID]domain.Transfer
	sagas     map[sagaKey]domain.SagaEntry
	outbox    []domain.OutboxMessage
}

func newMemState() *memState {
	return &memState{
		accounts:  make(map[uuid.UUID]domain.Account),
		transfers: make(map[uuid.UUID]domain.Transfer),
		sagas:     make(map[sagaKey]domain.SagaEntry),
	}
}

func (s *memState) clone() *memState {
	c := &memState{
		accounts:  make(map[uuid.UUID]domain.Account, len(s.accounts)),
		transfers: make(map[uuid.UUID]domain.Transfer, len(s.transfers)),
		sagas:     make(map[sagaKey]domain.SagaEntry, len(s.sagas)),
		outbox:    make([]domain.OutboxMessage, len(s.outbox)),
	}
	for k, v := range s.accounts {
		c.accounts[k] = v
	}
	for k, v := range s.transfers {
		c.transfers[k] = v
	}
	for k, v := range s.sagas {
		c.sagas[k] = v
	}
	copy(c.outbox, s.outbox)
	return c
}

// MemoryStore keeps all state in process. Units of work run one at a time on a
// copy of the state that replaces the live state only on success.
type MemoryStore struct {
	mu    sync.Mutex
	state *memState
	now   func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: newMemState(), now: time.Now}
}

func (s *MemoryStore) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	work := s.state.clone()
	if err := fn(ctx, &memTx{st: work, now: s.now}); err != nil {
		return err
	}
	s.state = work
	return nil
}

func (s *MemoryStore) GetAccount(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.state.accounts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &acc, nil
}

func (s *MemoryStore) GetTransfer(ctx context.Context, id uuid.UUID) (*domain.Transfer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.state.transfers[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &t, nil
}

// Transfers returns every transfer booked so far, oldest first.
func (s *MemoryStore) Transfers() []domain.Transfer {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Transfer, 0, len(s.state.transfers))
	for _, t := range s.state.transfers {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Outbox returns every staged message, dispatched or not, in staging order.
func (s *MemoryStore) Outbox() []domain.OutboxMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.OutboxMessage, len(s.state.outbox))
	copy(out, s.state.outbox)
	return out
}

func (s *MemoryStore) ListPendingOutbox(ctx context.Context, limit int) ([]domain.OutboxMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.OutboxMessage
	for _, m := range s.state.outbox {
		if len(out) >= limit {
			break
		}
		if !m.Dispatched {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *MemoryStore) MarkOutboxDispatched(ctx context.Context, id uuid.UUID, at time.Time) error {
	return s.updateOutbox(id, func(m *domain.OutboxMessage) {
		m.Dispatched = true
		m.DispatchedAt = &at
	})
}

func (s *MemoryStore) MarkOutboxFailed(ctx context.Context, id uuid.UUID, reason string) error {
	return s.updateOutbox(id, func(m *domain.OutboxMessage) {
		m.Attempts++
		m.LastError = reason
	})
}

func (s *MemoryStore) updateOutbox(id uuid.UUID, fn func(m *domain.OutboxMessage)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.state.outbox {
		if s.state.outbox[i].ID == id {
			fn(&s.state.outbox[i])
			return nil
		}
	}
	return ErrNotFound
}

type memTx struct {
	st  *memState
	now func() time.Time
}

func (t *memTx) FindCustomerAccountByForeignID(ctx context.Context, foreignID uuid.UUID) (*domain.Account, error) {
	for _, acc := range t.st.accounts {
		if acc.AccountType == domain.AccountTypeCustomerExpense && acc.ForeignID != nil && *acc.ForeignID == foreignID {
			return &acc, nil
		}
	}
	return nil, ErrNotFound
}

func (t *memTx) FindOperatorAccountByID(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	acc, ok := t.st.accounts[id]
	if !ok || acc.AccountType != domain.AccountTypeOperatorLiability {
		return nil, ErrNotFound
	}
	return &acc, nil
}

func (t *memTx) CreateCustomerAccount(ctx context.Context, acc domain.Account) (*domain.Account, error) {
	if acc.ForeignID != nil {
		if _, err := t.FindCustomerAccountByForeignID(ctx, *acc.ForeignID); err == nil {
			return nil, fmt.Errorf("%w: customer account for foreign id %s exists", domain.ErrDataIntegrity, *acc.ForeignID)
		}
	}
	return t.insertAccount(prepareAccount(acc, domain.AccountTypeCustomerExpense, t.now()))
}

func (t *memTx) CreateOperatorAccount(ctx context.Context, acc domain.Account) (*domain.Account, error) {
	return t.insertAccount(prepareAccount(acc, domain.AccountTypeOperatorLiability, t.now()))
}

func (t *memTx) insertAccount(acc domain.Account) (*domain.Account, error) {
	if _, exists := t.st.accounts[acc.ID]; exists {
		return nil, fmt.Errorf("%w: account %s exists", domain.ErrDataIntegrity, acc.ID)
	}
	t.st.accounts[acc.ID] = acc
	return &acc, nil
}

func (t *memTx) LockAccounts(ctx context.Context, ids []uuid.UUID) ([]domain.Account, error) {
	out := make([]domain.Account, 0, len(ids))
	for _, id := range ids {
		if acc, ok := t.st.accounts[id]; ok {
			out = append(out, acc)
		}
	}
	return out, nil
}

func (t *memTx) UpdateBalance(ctx context.Context, id uuid.UUID, balance decimal.Decimal) error {
	acc, ok := t.st.accounts[id]
	if !ok {
		return ErrNotFound
	}
	acc.Balance.Amount = balance
	acc.UpdatedAt = t.now()
	t.st.accounts[id] = acc
	return nil
}

func (t *memTx) FindTransfer(ctx context.Context, id uuid.UUID) (*domain.Transfer, error) {
	tr, ok := t.st.transfers[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &tr, nil
}

func (t *memTx) InsertTransfer(ctx context.Context, tr domain.Transfer) error {
	if _, exists := t.st.transfers[tr.ID]; exists {
		return fmt.Errorf("%w: transfer %s exists", domain.ErrDataIntegrity, tr.ID)
	}
	tr.Legs = append([]domain.Leg(nil), tr.Legs...)
	if tr.CreatedAt.IsZero() {
		tr.CreatedAt = t.now()
	}
	t.st.transfers[tr.ID] = tr
	return nil
}

func (t *memTx) ClaimSaga(ctx context.Context, entry domain.SagaEntry) (domain.SagaEntry, error) {
	key := sagaKey{entry.AggregateType, entry.EventID}
	if stored, ok := t.st.sagas[key]; ok {
		return stored, nil
	}
	entry.UpdatedAt = t.now()
	t.st.sagas[key] = entry
	return entry, nil
}

func (t *memTx) SaveSaga(ctx context.Context, entry domain.SagaEntry) error {
	entry.UpdatedAt = t.now()
	t.st.sagas[sagaKey{entry.AggregateType, entry.EventID}] = entry
	return nil
}

func (t *memTx) InsertOutbox(ctx context.Context, msg domain.OutboxMessage) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = t.now()
	}
	t.st.outbox = append(t.st.outbox, msg)
	return nil
}
