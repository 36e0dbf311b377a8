package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"payment-ledger/pkg/utils"
)

// PostgresStore keeps accounts and transactions in Postgres.
//
// Tables (see internal/migrations):
// - accounts (one row per user, balance CHECK >= 0)
// - ledger_transactions (append-only, UNIQUE transaction_code)
//
// Settle locks the transaction row, then the account row (always in that order), and the
// terminal UPDATE is conditioned on status = 'pending'.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const codeUniqueIndex = "ledger_transactions_code_key"

const txnColumns = `id, user_id, transaction_code, type, method, amount, status,
balance_before, balance_after, order_id, refund_id, description, failure_reason,
created_at, updated_at, settled_at`

func (s *PostgresStore) CreateAccount(ctx context.Context, userID string, now time.Time) (Account, error) {
	const q = `
INSERT INTO accounts (user_id, balance, version, created_at, updated_at)
VALUES ($1, 0, 0, $2, $2)
ON CONFLICT (user_id) DO NOTHING
`
	if _, err := s.db.ExecContext(ctx, q, userID, now); err != nil {
		return Account{}, err
	}
	return s.GetAccount(ctx, userID)
}

func (s *PostgresStore) GetAccount(ctx context.Context, userID string) (Account, error) {
	const q = `
SELECT user_id, balance, version, created_at, updated_at
FROM accounts
WHERE user_id = $1
`
	return scanAccount(s.db.QueryRowContext(ctx, q, userID), userID)
}

func (s *PostgresStore) InsertTransaction(ctx context.Context, t Transaction) error {
	const q = `
INSERT INTO ledger_transactions (` + txnColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
`
	_, err := s.db.ExecContext(ctx, q,
		t.ID,
		t.UserID,
		t.Code,
		string(t.Type),
		string(t.Method),
		t.Amount,
		string(t.Status),
		t.BalanceBefore,
		nullInt64(t.BalanceAfter),
		nullString(t.OrderID),
		nullString(t.RefundID),
		t.Description,
		t.FailureReason,
		t.CreatedAt,
		t.UpdatedAt,
		nullTime(t.SettledAt),
	)
	if utils.IsUniqueViolation(err, codeUniqueIndex) {
		return ErrDuplicateCode
	}
	return err
}

func (s *PostgresStore) GetTransactionByCode(ctx context.Context, code string) (Transaction, error) {
	q := `SELECT ` + txnColumns + ` FROM ledger_transactions WHERE transaction_code = $1`
	return scanTransaction(s.db.QueryRowContext(ctx, q, code), code)
}

func (s *PostgresStore) GetTransactionByID(ctx context.Context, id string) (Transaction, error) {
	q := `SELECT ` + txnColumns + ` FROM ledger_transactions WHERE id = $1`
	return scanTransaction(s.db.QueryRowContext(ctx, q, id), id)
}

func (s *PostgresStore) FindTransactionByRefund(ctx context.Context, refundID string) (Transaction, bool, error) {
	q := `SELECT ` + txnColumns + ` FROM ledger_transactions
WHERE refund_id = $1
ORDER BY created_at DESC
LIMIT 1`
	t, err := scanTransaction(s.db.QueryRowContext(ctx, q, refundID), refundID)
	if IsNotFound(err) {
		return Transaction{}, false, nil
	}
	if err != nil {
		return Transaction{}, false, err
	}
	return t, true, nil
}

func (s *PostgresStore) ListTransactions(ctx context.Context, f ListFilter) ([]Transaction, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.UserID != "" {
		add("user_id = $%d", f.UserID)
	}
	if f.Type != "" {
		add("type = $%d", string(f.Type))
	}
	if f.Status != "" {
		add("status = $%d", string(f.Status))
	}
	if !f.From.IsZero() {
		add("created_at >= $%d", f.From)
	}
	if !f.To.IsZero() {
		add("created_at < $%d", f.To)
	}

	q := `SELECT ` + txnColumns + ` FROM ledger_transactions`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, f.limit(), f.Offset)
	q += fmt.Sprintf(" ORDER BY created_at DESC, transaction_code DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Transaction, 0)
	for rows.Next() {
		t, err := scanTransaction(rows, "")
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Settle(ctx context.Context, code string, fn SettleFunc) (Transaction, Account, error) {
	var (
		outTxn  Transaction
		outAcct Account
	)
	err := utils.WithTx(ctx, s.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		t, err := lockTransaction(ctx, tx, code)
		if err != nil {
			return err
		}
		a, err := lockAccount(ctx, tx, t.UserID)
		if err != nil {
			return err
		}
		outTxn, outAcct = t, a
		if t.Status.Terminal() {
			return ErrAlreadyTerminal
		}

		nextTxn, nextAcct, err := fn(t, a)
		if err != nil {
			return err
		}
		if err := finishTransaction(ctx, tx, nextTxn); err != nil {
			return err
		}
		if nextAcct.Version != a.Version {
			if err := writeAccountBalance(ctx, tx, nextAcct); err != nil {
				return err
			}
		}
		outTxn, outAcct = nextTxn, nextAcct
		return nil
	})
	return outTxn, outAcct, err
}

func lockTransaction(ctx context.Context, tx *sql.Tx, code string) (Transaction, error) {
	q := `SELECT ` + txnColumns + ` FROM ledger_transactions WHERE transaction_code = $1 FOR UPDATE`
	return scanTransaction(tx.QueryRowContext(ctx, q, code), code)
}

func lockAccount(ctx context.Context, tx *sql.Tx, userID string) (Account, error) {
	const q = `
SELECT user_id, balance, version, created_at, updated_at
FROM accounts
WHERE user_id = $1
FOR UPDATE
`
	return scanAccount(tx.QueryRowContext(ctx, q, userID), userID)
}

// finishTransaction writes the terminal state. Zero rows means the row left pending
// under us, which the row lock should make impossible.
func finishTransaction(ctx context.Context, tx *sql.Tx, t Transaction) error {
	const q = `
UPDATE ledger_transactions
SET status = $2,
    balance_before = $3,
    balance_after = $4,
    failure_reason = $5,
    updated_at = $6,
    settled_at = $7
WHERE transaction_code = $1 AND status = 'pending'
`
	res, err := tx.ExecContext(ctx, q,
		t.Code,
		string(t.Status),
		t.BalanceBefore,
		nullInt64(t.BalanceAfter),
		t.FailureReason,
		t.UpdatedAt,
		nullTime(t.SettledAt),
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n != 1 {
		return ErrConflict
	}
	return nil
}

func writeAccountBalance(ctx context.Context, tx *sql.Tx, a Account) error {
	const q = `
UPDATE accounts
SET balance = $2, version = $3, updated_at = $4
WHERE user_id = $1
`
	_, err := tx.ExecContext(ctx, q, a.UserID, a.Balance, a.Version, a.UpdatedAt)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner, key string) (Account, error) {
	var a Account
	if err := row.Scan(&a.UserID, &a.Balance, &a.Version, &a.CreatedAt, &a.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Account{}, notFound("account", key)
		}
		return Account{}, err
	}
	return a, nil
}

func scanTransaction(row rowScanner, key string) (Transaction, error) {
	var (
		t            Transaction
		typ, method  string
		status       string
		balanceAfter sql.NullInt64
		orderID      sql.NullString
		refundID     sql.NullString
		settledAt    sql.NullTime
	)
	if err := row.Scan(
		&t.ID,
		&t.UserID,
		&t.Code,
		&typ,
		&method,
		&t.Amount,
		&status,
		&t.BalanceBefore,
		&balanceAfter,
		&orderID,
		&refundID,
		&t.Description,
		&t.FailureReason,
		&t.CreatedAt,
		&t.UpdatedAt,
		&settledAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Transaction{}, notFound("transaction", key)
		}
		return Transaction{}, err
	}
	t.Type = Type(typ)
	t.Method = Method(method)
	t.Status = Status(status)
	if balanceAfter.Valid {
		v := balanceAfter.Int64
		t.BalanceAfter = &v
	}
	t.OrderID = orderID.String
	t.RefundID = refundID.String
	if settledAt.Valid {
		v := settledAt.Time
		t.SettledAt = &v
	}
	return t, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func nullTime(v *time.Time) sql.NullTime {
	if v == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *v, Valid: true}
}
