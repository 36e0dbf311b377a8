package ledger

import "time"

const (
	reasonDenied               = "denied by gateway"
	reasonInsufficientAtSettle = "insufficient balance at settlement"
	reasonCancelled            = "cancelled before settlement"
)

// settleOutcome applies a gateway outcome to a pending transaction.
//
// Balances are taken from the live (locked) account, not the creation snapshot. When no other
// transaction settled in between both are equal and the result matches the snapshot exactly;
// otherwise the snapshot is rebased at this commit so that Account.Balance always equals the
// BalanceAfter of the last applied transaction.
func settleOutcome(txn Transaction, acct Account, outcome Outcome, now time.Time) (Transaction, Account, error) {
	if txn.Status.Terminal() {
		return txn, acct, ErrAlreadyTerminal
	}
	txn.UpdatedAt = now
	settled := now
	txn.SettledAt = &settled

	switch outcome {
	case OutcomeDenied:
		txn.Status = StatusFailed
		txn.FailureReason = reasonDenied
		return txn, acct, nil
	case OutcomeApproved:
	default:
		return txn, acct, ErrInvalidArgument
	}

	before := acct.Balance
	after := before + txn.Amount
	if txn.Type.Debit() {
		after = before - txn.Amount
		if after < 0 {
			txn.Status = StatusFailed
			txn.FailureReason = reasonInsufficientAtSettle
			return txn, acct, nil
		}
	}

	txn.Status = StatusSuccess
	txn.BalanceBefore = before
	txn.BalanceAfter = &after

	acct.Balance = after
	acct.Version++
	acct.UpdatedAt = now
	return txn, acct, nil
}

func cancelPending(txn Transaction, acct Account, now time.Time) (Transaction, Account, error) {
	if txn.Status.Terminal() {
		return txn, acct, ErrAlreadyTerminal
	}
	settled := now
	txn.Status = StatusCancelled
	txn.FailureReason = reasonCancelled
	txn.UpdatedAt = now
	txn.SettledAt = &settled
	return txn, acct, nil
}
