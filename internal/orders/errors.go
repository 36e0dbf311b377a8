package orders

import "errors"

var (
	ErrForbidden        = errors.New("order belongs to another user")
	ErrNotRefundable    = errors.New("order is not refundable")
	ErrRefundExists     = errors.New("an active refund already exists for this order")
	ErrRefundNotPending = errors.New("refund is not pending")

	// ErrRefundVoided means the refund's ledger transaction was cancelled or failed; the
	// refund was rejected and the order may be refunded again.
	ErrRefundVoided = errors.New("refund voided")

	// ErrPaymentFailed means the wallet payment did not settle; the order was cancelled.
	ErrPaymentFailed = errors.New("order payment failed")
)
