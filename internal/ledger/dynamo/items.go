package dynamo

import (
	"time"

	"payment-ledger/internal/ledger"
)

type accountItem struct {
	UserID    string    `dynamodbav:"user_id"`
	Balance   int64     `dynamodbav:"balance"`
	Version   int64     `dynamodbav:"version"`
	CreatedAt time.Time `dynamodbav:"created_at"`
	UpdatedAt time.Time `dynamodbav:"updated_at"`
}

func (a accountItem) toAccount() ledger.Account {
	return ledger.Account{UserID: a.UserID, Balance: a.Balance, Version: a.Version, CreatedAt: a.CreatedAt, UpdatedAt: a.UpdatedAt}
}

// txnItem omits empty optional attributes: GSI key attributes may not be empty strings.
type txnItem struct {
	Code          string     `dynamodbav:"transaction_code"`
	ID            string     `dynamodbav:"id"`
	UserID        string     `dynamodbav:"user_id"`
	Type          string     `dynamodbav:"type"`
	Method        string     `dynamodbav:"method"`
	Amount        int64      `dynamodbav:"amount"`
	Status        string     `dynamodbav:"status"`
	BalanceBefore int64      `dynamodbav:"balance_before"`
	BalanceAfter  *int64     `dynamodbav:"balance_after,omitempty"`
	OrderID       string     `dynamodbav:"order_id,omitempty"`
	RefundID      string     `dynamodbav:"refund_id,omitempty"`
	Description   string     `dynamodbav:"description,omitempty"`
	FailureReason string     `dynamodbav:"failure_reason,omitempty"`
	CreatedAt     time.Time  `dynamodbav:"created_at"`
	UpdatedAt     time.Time  `dynamodbav:"updated_at"`
	SettledAt     *time.Time `dynamodbav:"settled_at,omitempty"`
}

func fromTransaction(t ledger.Transaction) txnItem {
	return txnItem{
		Code:          t.Code,
		ID:            t.ID,
		UserID:        t.UserID,
		Type:          string(t.Type),
		Method:        string(t.Method),
		Amount:        t.Amount,
		Status:        string(t.Status),
		BalanceBefore: t.BalanceBefore,
		BalanceAfter:  t.BalanceAfter,
		OrderID:       t.OrderID,
		RefundID:      t.RefundID,
		Description:   t.Description,
		FailureReason: t.FailureReason,
		CreatedAt:     t.CreatedAt,
		UpdatedAt:     t.UpdatedAt,
		SettledAt:     t.SettledAt,
	}
}

func (i txnItem) toTransaction() ledger.Transaction {
	return ledger.Transaction{
		ID:            i.ID,
		UserID:        i.UserID,
		Code:          i.Code,
		Type:          ledger.Type(i.Type),
		Method:        ledger.Method(i.Method),
		Amount:        i.Amount,
		Status:        ledger.Status(i.Status),
		BalanceBefore: i.BalanceBefore,
		BalanceAfter:  i.BalanceAfter,
		OrderID:       i.OrderID,
		RefundID:      i.RefundID,
		Description:   i.Description,
		FailureReason: i.FailureReason,
		CreatedAt:     i.CreatedAt,
		UpdatedAt:     i.UpdatedAt,
		SettledAt:     i.SettledAt,
	}
}
