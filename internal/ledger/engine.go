package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"payment-ledger/pkg/ids"
	"payment-ledger/pkg/logger"
)

// Auditor records amount mismatches for later review.
type Auditor interface {
	LogAmountMismatch(ctx context.Context, w AmountMismatchWarning) error
}

// Publisher announces committed terminal transitions to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, ev SettlementEvent) error
}

type Options struct {
	Codes     CodeGenerator
	Locker    Locker
	Auditor   Auditor
	Publisher Publisher
	Clock     func() time.Time

	// MismatchTolerance is the largest |reported - internal| accepted without a warning.
	MismatchTolerance int64
	// CodeAttempts bounds retries after ErrDuplicateCode.
	CodeAttempts int
}

func (o Options) withDefaults() Options {
	out := o
	if out.Codes == nil {
		out.Codes = NewRandomCodes(DefaultCodePrefix)
	}
	if out.Locker == nil {
		out.Locker = NewLocalLocker()
	}
	if out.Clock == nil {
		out.Clock = time.Now
	}
	if out.CodeAttempts <= 0 {
		out.CodeAttempts = 5
	}
	if out.MismatchTolerance < 0 {
		out.MismatchTolerance = 0
	}
	return out
}

// Engine is the only writer of account balances.
//
// Every terminal transition goes through Store.Settle under a per-code lock, so concurrent
// and duplicated notifications for the same code mutate the balance at most once. Codes are
// independent of each other; there is no cross-code ordering.
type Engine struct {
	store Store
	opts  Options
}

func NewEngine(store Store, opts Options) *Engine {
	return &Engine{store: store, opts: opts.withDefaults()}
}

// OpenAccount creates a zero-balance account, or returns the existing one.
func (e *Engine) OpenAccount(ctx context.Context, userID string) (Account, error) {
	if userID == "" {
		return Account{}, ErrInvalidArgument
	}
	return e.store.CreateAccount(ctx, userID, e.opts.Clock().UTC())
}

// CreatePending records a new pending transaction and returns it with its code.
//
// Withdrawals and payments require the current balance to cover the amount and record the
// projected BalanceAfter right away; deposits and refunds only snapshot BalanceBefore.
// No balance is moved here.
func (e *Engine) CreatePending(ctx context.Context, req CreateRequest) (Transaction, error) {
	if err := validateCreate(req); err != nil {
		return Transaction{}, err
	}

	acct, err := e.store.GetAccount(ctx, req.UserID)
	if err != nil {
		return Transaction{}, err
	}

	now := e.opts.Clock().UTC()
	txn := Transaction{
		ID:            ids.New(ids.PrefixTransaction),
		UserID:        req.UserID,
		Type:          req.Type,
		Method:        req.Method,
		Amount:        req.Amount,
		Status:        StatusPending,
		BalanceBefore: acct.Balance,
		OrderID:       req.OrderID,
		RefundID:      req.RefundID,
		Description:   req.Description,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if req.Type.Debit() {
		if acct.Balance < req.Amount {
			return Transaction{}, &InsufficientBalanceError{UserID: req.UserID, Balance: acct.Balance, Amount: req.Amount}
		}
		after := acct.Balance - req.Amount
		txn.BalanceAfter = &after
	}

	log := logger.From(ctx)
	for attempt := 1; ; attempt++ {
		code, err := e.opts.Codes.Next(ctx)
		if err != nil {
			return Transaction{}, err
		}
		txn.Code = code

		err = e.store.InsertTransaction(ctx, txn)
		if err == nil {
			log.Info("transaction created", "code", txn.Code, "user_id", txn.UserID, "type", txn.Type, "method", txn.Method, "amount", txn.Amount)
			return txn, nil
		}
		if !errors.Is(err, ErrDuplicateCode) {
			return Transaction{}, fmt.Errorf("insert transaction: %w", err)
		}
		if attempt >= e.opts.CodeAttempts {
			return Transaction{}, fmt.Errorf("insert transaction after %d attempts: %w", attempt, err)
		}
		log.Warn("transaction code collision, regenerating", "code", code, "attempt", attempt)
	}
}

// ApplyEvent reconciles a verified gateway event against its transaction.
//
//   - unknown code: *NotFoundError
//   - external event for a transaction its gateway does not own: *NotFoundError, no change
//   - transaction already terminal: Result.Replayed with the stored state, nothing changes
//   - approved: success, account balance becomes BalanceAfter
//   - denied: failed, no balance change
//   - pending: no change
//
// A reported amount that differs from the internal amount beyond the tolerance is accepted
// with Result.Warning set; the internal amount is always the one applied.
func (e *Engine) ApplyEvent(ctx context.Context, ev GatewayEvent) (Result, error) {
	if ev.Code == "" {
		return Result{}, fmt.Errorf("%w: empty transaction code", ErrInvalidArgument)
	}
	switch ev.Outcome {
	case OutcomeApproved, OutcomeDenied, OutcomePending:
	default:
		return Result{}, fmt.Errorf("%w: unknown outcome %q", ErrInvalidArgument, ev.Outcome)
	}

	unlock, err := e.opts.Locker.Lock(ctx, ev.Code)
	if err != nil {
		return Result{}, err
	}
	defer unlock()

	log := logger.From(ctx).With("code", ev.Code, "gateway", ev.Gateway, "outcome", ev.Outcome)

	// Type and method never change after creation, so this read stays valid under the lock.
	current, err := e.store.GetTransactionByCode(ctx, ev.Code)
	if err != nil {
		return Result{}, err
	}
	if !ev.Internal && !acceptsGatewayEvent(current, ev.Gateway) {
		log.Warn("gateway event names a transaction it does not own",
			"type", current.Type, "method", current.Method)
		return Result{}, notFound("transaction", ev.Code)
	}

	if ev.Outcome == OutcomePending {
		txn := current
		acct, err := e.store.GetAccount(ctx, txn.UserID)
		if err != nil {
			return Result{}, err
		}
		log.Debug("pending notification, nothing to apply", "status", txn.Status)
		return Result{Transaction: txn, Balance: acct.Balance, Replayed: txn.Status.Terminal()}, nil
	}

	now := e.opts.Clock().UTC()
	var warning *AmountMismatchWarning
	txn, acct, err := e.store.Settle(ctx, ev.Code, func(txn Transaction, acct Account) (Transaction, Account, error) {
		warning = nil
		if ev.Outcome == OutcomeApproved {
			warning = e.checkAmount(txn, ev)
		}
		return settleOutcome(txn, acct, ev.Outcome, now)
	})
	if errors.Is(err, ErrAlreadyTerminal) {
		log.Info("duplicate notification for settled transaction", "status", txn.Status)
		return Result{Transaction: txn, Balance: acct.Balance, Replayed: true}, nil
	}
	if err != nil {
		return Result{}, err
	}

	if warning != nil {
		log.Warn("gateway amount differs from transaction amount, keeping internal amount",
			"expected", warning.Expected, "reported", warning.Reported)
		if e.opts.Auditor != nil {
			if aerr := e.opts.Auditor.LogAmountMismatch(ctx, *warning); aerr != nil {
				log.Error("audit amount mismatch failed", "err", aerr)
			}
		}
	}
	log.Info("transaction settled", "status", txn.Status, "user_id", txn.UserID, "balance", acct.Balance)
	e.publish(ctx, txn)

	return Result{Transaction: txn, Balance: acct.Balance, Applied: true, Warning: warning}, nil
}

// acceptsGatewayEvent reports whether gateway may settle txn. Only deposits are confirmed
// externally, and only by the gateway they were created for; withdrawals, payments and
// refunds are authorized internally.
func acceptsGatewayEvent(txn Transaction, gateway Method) bool {
	return txn.Type == TypeDeposit && txn.Method != MethodNone && txn.Method == gateway
}

// Approve settles a transaction as approved without a gateway (wallet payments, refunds,
// manual admin approval).
func (e *Engine) Approve(ctx context.Context, code string) (Result, error) {
	return e.ApplyEvent(ctx, InternalApproval(code))
}

// Cancel moves a pending transaction to cancelled. Cancelling an already cancelled
// transaction returns it unchanged; any other terminal state yields ErrNotCancellable.
func (e *Engine) Cancel(ctx context.Context, code string) (Transaction, error) {
	if code == "" {
		return Transaction{}, ErrInvalidArgument
	}
	unlock, err := e.opts.Locker.Lock(ctx, code)
	if err != nil {
		return Transaction{}, err
	}
	defer unlock()

	now := e.opts.Clock().UTC()
	txn, _, err := e.store.Settle(ctx, code, func(txn Transaction, acct Account) (Transaction, Account, error) {
		return cancelPending(txn, acct, now)
	})
	if errors.Is(err, ErrAlreadyTerminal) {
		if txn.Status == StatusCancelled {
			return txn, nil
		}
		return txn, fmt.Errorf("%w: status is %s", ErrNotCancellable, txn.Status)
	}
	if err != nil {
		return Transaction{}, err
	}
	logger.From(ctx).Info("transaction cancelled", "code", code, "user_id", txn.UserID)
	e.publish(ctx, txn)
	return txn, nil
}

func (e *Engine) GetByCode(ctx context.Context, code string) (Transaction, error) {
	if code == "" {
		return Transaction{}, ErrInvalidArgument
	}
	return e.store.GetTransactionByCode(ctx, code)
}

func (e *Engine) GetByID(ctx context.Context, id string) (Transaction, error) {
	if id == "" {
		return Transaction{}, ErrInvalidArgument
	}
	return e.store.GetTransactionByID(ctx, id)
}

func (e *Engine) FindByRefund(ctx context.Context, refundID string) (Transaction, bool, error) {
	if refundID == "" {
		return Transaction{}, false, ErrInvalidArgument
	}
	return e.store.FindTransactionByRefund(ctx, refundID)
}

func (e *Engine) GetAccountBalance(ctx context.Context, userID string) (Account, error) {
	if userID == "" {
		return Account{}, ErrInvalidArgument
	}
	return e.store.GetAccount(ctx, userID)
}

func (e *Engine) ListTransactions(ctx context.Context, f ListFilter) ([]Transaction, error) {
	if f.Offset < 0 {
		return nil, ErrInvalidArgument
	}
	return e.store.ListTransactions(ctx, f)
}

func (e *Engine) checkAmount(txn Transaction, ev GatewayEvent) *AmountMismatchWarning {
	if ev.Internal || ev.Amount == 0 {
		return nil
	}
	diff := ev.Amount - txn.Amount
	if diff < 0 {
		diff = -diff
	}
	if diff <= e.opts.MismatchTolerance {
		return nil
	}
	return &AmountMismatchWarning{Code: txn.Code, Gateway: ev.Gateway, Expected: txn.Amount, Reported: ev.Amount}
}

// publish is best-effort: the settlement is already committed.
func (e *Engine) publish(ctx context.Context, txn Transaction) {
	if e.opts.Publisher == nil {
		return
	}
	settledAt := txn.UpdatedAt
	if txn.SettledAt != nil {
		settledAt = *txn.SettledAt
	}
	ev := SettlementEvent{
		TransactionID: txn.ID,
		Code:          txn.Code,
		UserID:        txn.UserID,
		Type:          txn.Type,
		Method:        txn.Method,
		Amount:        txn.Amount,
		Status:        txn.Status,
		BalanceAfter:  txn.BalanceAfter,
		OrderID:       txn.OrderID,
		RefundID:      txn.RefundID,
		SettledAt:     settledAt,
	}
	if err := e.opts.Publisher.Publish(ctx, ev); err != nil {
		logger.From(ctx).Error("publish settlement failed", "code", txn.Code, "err", err)
	}
}

func validateCreate(req CreateRequest) error {
	if req.UserID == "" {
		return fmt.Errorf("%w: user id is required", ErrInvalidArgument)
	}
	if !req.Type.Valid() {
		return fmt.Errorf("%w: unknown type %q", ErrInvalidArgument, req.Type)
	}
	if !req.Method.Valid() {
		return fmt.Errorf("%w: unknown method %q", ErrInvalidArgument, req.Method)
	}
	if req.Amount <= 0 {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidArgument)
	}
	if req.Amount > MaxAmount {
		return fmt.Errorf("%w: amount exceeds %d", ErrInvalidArgument, MaxAmount)
	}
	return nil
}
