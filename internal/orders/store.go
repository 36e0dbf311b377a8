package orders

import "context"

// Store persists orders and refunds.
//
// Status changes are conditional: UpdateOrder and UpdateRefund only write when the stored
// status still equals expected, and return ledger.ErrConflict otherwise.
type Store interface {
	InsertOrder(ctx context.Context, o Order) error
	GetOrder(ctx context.Context, id string) (Order, error)
	UpdateOrder(ctx context.Context, o Order, expected OrderStatus) error
	ListOrders(ctx context.Context, userID string, limit, offset int) ([]Order, error)

	// InsertRefund returns ErrRefundExists when the order already has an active refund.
	InsertRefund(ctx context.Context, r Refund) error
	GetRefund(ctx context.Context, id string) (Refund, error)
	UpdateRefund(ctx context.Context, r Refund, expected RefundStatus) error
	ListRefunds(ctx context.Context, f RefundFilter) ([]Refund, error)
}
