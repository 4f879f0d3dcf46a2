package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/punchamoorthee/walletsaga/internal/domain"
	"github.com/shopspring/decimal"
)

//go:embed schema.sql
var Schema string

const accountColumns = "id, foreign_id, operator_id, jurisdiction, name, description, account_type, balance::text, currency, allow_negative, created_at, updated_at"

const outboxColumns = "id, aggregate_type, aggregate_id, event_type, payload, dispatched, attempts, last_error, created_at, dispatched_at"

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

type PostgresStore struct {
	Db *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return &PostgresStore{Db: pool}, nil
}

func (s *PostgresStore) Close() {
	s.Db.Close()
}

// Migrate applies the embedded schema. Every statement is idempotent.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.Db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("schema apply failed: %w", err)
	}
	return nil
}

// InTx runs fn in one read-committed transaction. Deadlocks, lock timeouts and
// dropped connections surface as transient faults for the retry policy.
func (s *PostgresStore) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := s.Db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return classify(fmt.Errorf("tx begin failed: %w", err))
	}
	defer tx.Rollback(ctx)

	if err := fn(ctx, &pgTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return classify(fmt.Errorf("tx commit failed: %w", err))
	}
	return nil
}

func (s *PostgresStore) GetAccount(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	return scanAccount(s.Db.QueryRow(ctx, "SELECT "+accountColumns+" FROM accounts WHERE id = $1", id))
}

func (s *PostgresStore) GetTransfer(ctx context.Context, id uuid.UUID) (*domain.Transfer, error) {
	return findTransfer(ctx, s.Db, id)
}

func (s *PostgresStore) ListPendingOutbox(ctx context.Context, limit int) ([]domain.OutboxMessage, error) {
	rows, err := s.Db.Query(ctx,
		"SELECT "+outboxColumns+" FROM outbox WHERE NOT dispatched ORDER BY created_at LIMIT $1",
		limit)
	if err != nil {
		return nil, classify(fmt.Errorf("outbox query failed: %w", err))
	}
	defer rows.Close()

	var out []domain.OutboxMessage
	for rows.Next() {
		var m domain.OutboxMessage
		if err := rows.Scan(&m.ID, &m.AggregateType, &m.AggregateID, &m.EventType, &m.Payload,
			&m.Dispatched, &m.Attempts, &m.LastError, &m.CreatedAt, &m.DispatchedAt); err != nil {
			return nil, fmt.Errorf("outbox scan failed: %w", err)
		}
		out = append(out, m)
	}
	return out, classify(rows.Err())
}

func (s *PostgresStore) MarkOutboxDispatched(ctx context.Context, id uuid.UUID, at time.Time) error {
	tag, err := s.Db.Exec(ctx, "UPDATE outbox SET dispatched = TRUE, dispatched_at = $1 WHERE id = $2", at, id)
	if err != nil {
		return classify(fmt.Errorf("outbox update failed: %w", err))
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) MarkOutboxFailed(ctx context.Context, id uuid.UUID, reason string) error {
	tag, err := s.Db.Exec(ctx, "UPDATE outbox SET attempts = attempts + 1, last_error = $1 WHERE id = $2", reason, id)
	if err != nil {
		return classify(fmt.Errorf("outbox update failed: %w", err))
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) FindCustomerAccountByForeignID(ctx context.Context, foreignID uuid.UUID) (*domain.Account, error) {
	return scanAccount(t.tx.QueryRow(ctx,
		"SELECT "+accountColumns+" FROM accounts WHERE foreign_id = $1 AND account_type = $2",
		foreignID, domain.AccountTypeCustomerExpense))
}

func (t *pgTx) FindOperatorAccountByID(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	return scanAccount(t.tx.QueryRow(ctx,
		"SELECT "+accountColumns+" FROM accounts WHERE id = $1 AND account_type = $2",
		id, domain.AccountTypeOperatorLiability))
}

func (t *pgTx) CreateCustomerAccount(ctx context.Context, acc domain.Account) (*domain.Account, error) {
	return t.insertAccount(ctx, prepareAccount(acc, domain.AccountTypeCustomerExpense, time.Now().UTC()))
}

func (t *pgTx) CreateOperatorAccount(ctx context.Context, acc domain.Account) (*domain.Account, error) {
	return t.insertAccount(ctx, prepareAccount(acc, domain.AccountTypeOperatorLiability, time.Now().UTC()))
}

func (t *pgTx) insertAccount(ctx context.Context, acc domain.Account) (*domain.Account, error) {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO accounts (id, foreign_id, operator_id, jurisdiction, name, description, account_type, balance, currency, allow_negative, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8::numeric, $9, $10, $11, $12)`,
		acc.ID, acc.ForeignID, acc.OperatorID, acc.Jurisdiction, acc.Name, acc.Description, acc.AccountType,
		acc.Balance.Amount.String(), acc.Balance.Currency, acc.AllowNegative, acc.CreatedAt, acc.UpdatedAt,
	)
	if err != nil {
		return nil, classify(fmt.Errorf("account insert failed: %w", err))
	}
	return &acc, nil
}

// LockAccounts acquires row locks one account at a time in the caller's order.
func (t *pgTx) LockAccounts(ctx context.Context, ids []uuid.UUID) ([]domain.Account, error) {
	out := make([]domain.Account, 0, len(ids))
	for _, id := range ids {
		acc, err := scanAccount(t.tx.QueryRow(ctx,
			"SELECT "+accountColumns+" FROM accounts WHERE id = $1 FOR UPDATE", id))
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("lock acquisition failed: %w", err)
		}
		out = append(out, *acc)
	}
	return out, nil
}

func (t *pgTx) UpdateBalance(ctx context.Context, id uuid.UUID, balance decimal.Decimal) error {
	tag, err := t.tx.Exec(ctx,
		"UPDATE accounts SET balance = $1::numeric, updated_at = now() WHERE id = $2",
		balance.String(), id)
	if err != nil {
		return classify(fmt.Errorf("balance update failed: %w", err))
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *pgTx) FindTransfer(ctx context.Context, id uuid.UUID) (*domain.Transfer, error) {
	return findTransfer(ctx, t.tx, id)
}

func (t *pgTx) InsertTransfer(ctx context.Context, tr domain.Transfer) error {
	_, err := t.tx.Exec(ctx,
		"INSERT INTO transfers (id, jurisdiction, transaction_type, booking_date) VALUES ($1, $2, $3, $4)",
		tr.ID, tr.Jurisdiction, tr.TransactionType, tr.BookingDate,
	)
	if err != nil {
		return classify(fmt.Errorf("transfer insert failed: %w", err))
	}

	batch := &pgx.Batch{}
	for i, leg := range tr.Legs {
		batch.Queue(
			"INSERT INTO transfer_legs (transfer_id, position, account_id, amount, currency, note) VALUES ($1, $2, $3, $4::numeric, $5, $6)",
			tr.ID, i, leg.AccountID, leg.Amount.Amount.String(), leg.Amount.Currency, leg.Note,
		)
	}
	if err := t.tx.SendBatch(ctx, batch).Close(); err != nil {
		return classify(fmt.Errorf("leg insert failed: %w", err))
	}
	return nil
}

func (t *pgTx) ClaimSaga(ctx context.Context, entry domain.SagaEntry) (domain.SagaEntry, error) {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO saga_records (aggregate_type, event_id, status, operation, payload)
		 VALUES ($1, $2, $3, $4, $5) ON CONFLICT (aggregate_type, event_id) DO NOTHING`,
		entry.AggregateType, entry.EventID, entry.Status, entry.Operation, entry.Payload,
	)
	if err != nil {
		return domain.SagaEntry{}, classify(fmt.Errorf("saga claim failed: %w", err))
	}

	var stored domain.SagaEntry
	err = t.tx.QueryRow(ctx,
		`SELECT aggregate_type, event_id, status, operation, payload, updated_at
		 FROM saga_records WHERE aggregate_type = $1 AND event_id = $2 FOR UPDATE`,
		entry.AggregateType, entry.EventID,
	).Scan(&stored.AggregateType, &stored.EventID, &stored.Status, &stored.Operation, &stored.Payload, &stored.UpdatedAt)
	if err != nil {
		return domain.SagaEntry{}, classify(fmt.Errorf("saga lock failed: %w", err))
	}
	return stored, nil
}

func (t *pgTx) SaveSaga(ctx context.Context, entry domain.SagaEntry) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE saga_records SET status = $1, operation = $2, payload = $3, updated_at = now()
		 WHERE aggregate_type = $4 AND event_id = $5`,
		entry.Status, entry.Operation, entry.Payload, entry.AggregateType, entry.EventID,
	)
	if err != nil {
		return classify(fmt.Errorf("saga update failed: %w", err))
	}
	return nil
}

func (t *pgTx) InsertOutbox(ctx context.Context, msg domain.OutboxMessage) error {
	_, err := t.tx.Exec(ctx,
		"INSERT INTO outbox (id, aggregate_type, aggregate_id, event_type, payload) VALUES ($1, $2, $3, $4, $5)",
		msg.ID, msg.AggregateType, msg.AggregateID, msg.EventType, msg.Payload,
	)
	if err != nil {
		return classify(fmt.Errorf("outbox insert failed: %w", err))
	}
	return nil
}

func scanAccount(row pgx.Row) (*domain.Account, error) {
	var acc domain.Account
	var balance string
	err := row.Scan(&acc.ID, &acc.ForeignID, &acc.OperatorID, &acc.Jurisdiction, &acc.Name, &acc.Description,
		&acc.AccountType, &balance, &acc.Balance.Currency, &acc.AllowNegative, &acc.CreatedAt, &acc.UpdatedAt)
	if err != nil {
		return nil, classify(err)
	}
	acc.Balance.Amount, err = decimal.NewFromString(balance)
	if err != nil {
		return nil, fmt.Errorf("account %s balance %q: %w", acc.ID, balance, err)
	}
	return &acc, nil
}

func findTransfer(ctx context.Context, q querier, id uuid.UUID) (*domain.Transfer, error) {
	var tr domain.Transfer
	err := q.QueryRow(ctx,
		"SELECT id, jurisdiction, transaction_type, booking_date, created_at FROM transfers WHERE id = $1", id,
	).Scan(&tr.ID, &tr.Jurisdiction, &tr.TransactionType, &tr.BookingDate, &tr.CreatedAt)
	if err != nil {
		return nil, classify(err)
	}

	rows, err := q.Query(ctx,
		"SELECT account_id, amount::text, currency, note FROM transfer_legs WHERE transfer_id = $1 ORDER BY position", id)
	if err != nil {
		return nil, classify(fmt.Errorf("leg query failed: %w", err))
	}
	defer rows.Close()

	for rows.Next() {
		var leg domain.Leg
		var amount string
		if err := rows.Scan(&leg.AccountID, &amount, &leg.Amount.Currency, &leg.Note); err != nil {
			return nil, fmt.Errorf("leg scan failed: %w", err)
		}
		if leg.Amount.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("leg amount %q: %w", amount, err)
		}
		tr.Legs = append(tr.Legs, leg)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return &tr, nil
}
