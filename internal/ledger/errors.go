package ledger

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrDuplicateCode is returned by stores when a transaction code is already taken.
	ErrDuplicateCode = errors.New("duplicate transaction code")

	// ErrAlreadyTerminal signals a settle attempt on a transaction that already left pending.
	// Engine callers see it as Result.Replayed, never as a failure.
	ErrAlreadyTerminal = errors.New("transaction already terminal")

	// ErrConflict means a conditional write lost a race; the operation may be retried.
	ErrConflict = errors.New("concurrent update conflict")

	ErrNotCancellable = errors.New("transaction is not cancellable")
)

// VerificationError is returned when an inbound notification cannot be trusted:
// bad or missing signature, malformed payload, or a failed/timed-out remote check.
type VerificationError struct {
	Gateway Method
	Reason  string
	Err     error
}

func (e *VerificationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s verification failed: %s: %v", e.Gateway, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s verification failed: %s", e.Gateway, e.Reason)
}

func (e *VerificationError) Unwrap() error { return e.Err }

// NotFoundError reports a missing account, transaction, order, refund or product.
type NotFoundError struct {
	Kind string
	Key  string
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("%s %q not found", e.Kind, e.Key) }

type InsufficientBalanceError struct {
	UserID  string
	Balance int64
	Amount  int64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: user %s has %d, needs %d", e.UserID, e.Balance, e.Amount)
}

// AmountMismatchWarning is informational: the internal amount is honoured.
type AmountMismatchWarning struct {
	Code     string
	Gateway  Method
	Expected int64
	Reported int64
}

func (w *AmountMismatchWarning) Error() string {
	return fmt.Sprintf("amount mismatch for %s: expected %d, gateway reported %d", w.Code, w.Expected, w.Reported)
}

// IsNotFound reports whether err (or anything it wraps) is a *NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsVerification reports whether err (or anything it wraps) is a *VerificationError.
func IsVerification(err error) bool {
	var ve *VerificationError
	return errors.As(err, &ve)
}

func IsInsufficientBalance(err error) bool {
	var ib *InsufficientBalanceError
	return errors.As(err, &ib)
}

func notFound(kind, key string) error { return &NotFoundError{Kind: kind, Key: key} }
