package ledger

import (
	"context"
	"time"
)

// Store persists accounts and transactions.
//
// Implementations must guarantee:
// - InsertTransaction fails with ErrDuplicateCode when the code is taken (never overwrites).
// - Settle runs fn against the live transaction and account and commits the result atomically,
//   conditioned on the transaction still being pending. A transaction that is already terminal
//   is returned together with ErrAlreadyTerminal and fn is not called.
// - Account balances are written nowhere else.
type Store interface {
	CreateAccount(ctx context.Context, userID string, now time.Time) (Account, error)
	GetAccount(ctx context.Context, userID string) (Account, error)

	InsertTransaction(ctx context.Context, txn Transaction) error
	GetTransactionByCode(ctx context.Context, code string) (Transaction, error)
	GetTransactionByID(ctx context.Context, id string) (Transaction, error)
	// FindTransactionByRefund returns the most recent transaction linked to refundID.
	FindTransactionByRefund(ctx context.Context, refundID string) (Transaction, bool, error)
	ListTransactions(ctx context.Context, f ListFilter) ([]Transaction, error)

	Settle(ctx context.Context, code string, fn SettleFunc) (Transaction, Account, error)
}

// SettleFunc computes the terminal state of a pending transaction from the live account.
// It must be pure: stores may call it more than once when a conditional write loses a race.
type SettleFunc func(txn Transaction, acct Account) (Transaction, Account, error)

const defaultListLimit = 50

func (f ListFilter) limit() int {
	if f.Limit <= 0 || f.Limit > 500 {
		return defaultListLimit
	}
	return f.Limit
}

func (f ListFilter) matches(t Transaction) bool {
	if f.UserID != "" && t.UserID != f.UserID {
		return false
	}
	if f.Type != "" && t.Type != f.Type {
		return false
	}
	if f.Status != "" && t.Status != f.Status {
		return false
	}
	if !f.From.IsZero() && t.CreatedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !t.CreatedAt.Before(f.To) {
		return false
	}
	return true
}
