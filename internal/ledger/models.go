package ledger

import "time"

// Account holds a user's spendable balance in ledger units.
// Invariant: Balance >= 0, and it only changes inside a settlement (Store.Settle).
type Account struct {
	UserID  string `json:"user_id" db:"user_id"`
	Balance int64  `json:"balance" db:"balance"`

	// Version increments on every balance write (optimistic concurrency for non-SQL stores).
	Version int64 `json:"-" db:"version"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Transaction is an immutable record of one balance-affecting event.
//
// Invariants:
// - Code is globally unique and never reused.
// - Status only moves pending -> {success, failed, cancelled}; terminal states are absorbing.
// - BalanceAfter is written at the success commit and never changed afterwards.
// - Rows are never deleted.
type Transaction struct {
	ID     string `json:"id" db:"id"`
	UserID string `json:"user_id" db:"user_id"`
	Code   string `json:"transaction_code" db:"transaction_code"`

	Type   Type   `json:"type" db:"type"`
	Method Method `json:"method" db:"method"`
	Amount int64  `json:"amount" db:"amount"`
	Status Status `json:"status" db:"status"`

	BalanceBefore int64 `json:"balance_before" db:"balance_before"`
	// BalanceAfter is nil while a credit is unresolved.
	BalanceAfter *int64 `json:"balance_after,omitempty" db:"balance_after"`

	OrderID       string `json:"order_id,omitempty" db:"order_id"`
	RefundID      string `json:"refund_id,omitempty" db:"refund_id"`
	Description   string `json:"description,omitempty" db:"description"`
	FailureReason string `json:"failure_reason,omitempty" db:"failure_reason"`

	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt time.Time  `json:"updated_at" db:"updated_at"`
	SettledAt *time.Time `json:"settled_at,omitempty" db:"settled_at"`
}

// MaxAmount bounds a single transaction so gateway unit conversions cannot overflow int64.
const MaxAmount int64 = 1_000_000_000_000

type Type string

const (
	TypeDeposit    Type = "deposit"
	TypeWithdrawal Type = "withdrawal"
	TypePayment    Type = "payment"
	TypeRefund     Type = "refund"
)

// Debit reports whether the type removes funds from the account.
func (t Type) Debit() bool { return t == TypeWithdrawal || t == TypePayment }

func (t Type) Valid() bool {
	switch t {
	case TypeDeposit, TypeWithdrawal, TypePayment, TypeRefund:
		return true
	}
	return false
}

type Method string

const (
	MethodPayPal Method = "paypal"
	MethodVQR    Method = "vqr"
	MethodVNPay  Method = "vnpay"
	MethodNone   Method = "none"
)

func (m Method) Valid() bool {
	switch m {
	case MethodPayPal, MethodVQR, MethodVNPay, MethodNone:
		return true
	}
	return false
}

type Status string

const (
	StatusPending   Status = "pending"
	StatusSuccess   Status = "success"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

func (s Status) Terminal() bool { return s != StatusPending }

// Outcome is what a gateway says happened to a payment.
type Outcome string

const (
	OutcomeApproved Outcome = "approved"
	OutcomeDenied   Outcome = "denied"
	OutcomePending  Outcome = "pending"
)

// GatewayEvent is a verified, normalized notification. It is never persisted as-is.
type GatewayEvent struct {
	Code        string
	ProviderRef string
	Outcome     Outcome
	// Amount is the provider-reported amount in ledger units; 0 means not reported.
	Amount  int64
	Gateway Method

	Signature string
	Raw       []byte

	// Internal marks approvals originated by this service (no gateway involved).
	Internal bool
}

// InternalApproval builds the event used for wallet-funded payments and refunds.
func InternalApproval(code string) GatewayEvent {
	return GatewayEvent{Code: code, Outcome: OutcomeApproved, Gateway: MethodNone, Internal: true}
}

// CreateRequest describes a new pending transaction.
type CreateRequest struct {
	UserID      string
	Type        Type
	Method      Method
	Amount      int64
	Description string
	OrderID     string
	RefundID    string
}

// Result reports what ApplyEvent did.
type Result struct {
	Transaction Transaction `json:"transaction"`
	Balance     int64       `json:"balance"`

	// Applied is true when this call committed the terminal transition.
	Applied bool `json:"applied"`
	// Replayed is true when the transaction was already terminal; nothing changed.
	Replayed bool `json:"replayed"`

	Warning *AmountMismatchWarning `json:"warning,omitempty"`
}

// ListFilter narrows ListTransactions. Zero fields do not filter.
type ListFilter struct {
	UserID string
	Type   Type
	Status Status
	From   time.Time
	To     time.Time
	Limit  int
	Offset int
}

// SettlementEvent is published after a terminal transition commits.
type SettlementEvent struct {
	TransactionID string    `json:"transaction_id"`
	Code          string    `json:"transaction_code"`
	UserID        string    `json:"user_id"`
	Type          Type      `json:"type"`
	Method        Method    `json:"method"`
	Amount        int64     `json:"amount"`
	Status        Status    `json:"status"`
	BalanceAfter  *int64    `json:"balance_after,omitempty"`
	OrderID       string    `json:"order_id,omitempty"`
	RefundID      string    `json:"refund_id,omitempty"`
	SettledAt     time.Time `json:"settled_at"`
}
