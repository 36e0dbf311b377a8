package orders

import "time"

// Order is a purchase of one product paid from the wallet.
type Order struct {
	ID        string `json:"id" db:"id"`
	UserID    string `json:"user_id" db:"user_id"`
	ProductID string `json:"product_id" db:"product_id"`

	TotalAmount int64       `json:"total_amount" db:"total_amount"`
	Status      OrderStatus `json:"status" db:"status"`

	TransactionID   string `json:"transaction_id,omitempty" db:"transaction_id"`
	TransactionCode string `json:"transaction_code,omitempty" db:"transaction_code"`

	IsPaid bool       `json:"is_paid" db:"is_paid"`
	PaidAt *time.Time `json:"paid_at,omitempty" db:"paid_at"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusCompleted  OrderStatus = "completed"
	OrderStatusCancelled  OrderStatus = "cancelled"
	OrderStatusRefunded   OrderStatus = "refunded"
)

// Refund is a user's request to return a completed order's payment to the wallet.
type Refund struct {
	ID      string `json:"id" db:"id"`
	UserID  string `json:"user_id" db:"user_id"`
	OrderID string `json:"order_id" db:"order_id"`

	TransactionID   string `json:"transaction_id,omitempty" db:"transaction_id"`
	TransactionCode string `json:"transaction_code,omitempty" db:"transaction_code"`

	Amount int64        `json:"amount" db:"amount"`
	Status RefundStatus `json:"status" db:"status"`
	Reason string       `json:"reason" db:"reason"`

	AdminNotes  string     `json:"admin_notes,omitempty" db:"admin_notes"`
	ProcessedBy string     `json:"processed_by,omitempty" db:"processed_by"`
	ProcessedAt *time.Time `json:"processed_at,omitempty" db:"processed_at"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type RefundStatus string

const (
	RefundStatusPending   RefundStatus = "pending"
	RefundStatusApproved  RefundStatus = "approved"
	RefundStatusRejected  RefundStatus = "rejected"
	RefundStatusCompleted RefundStatus = "completed"
	// RefundStatusWithdrawn is a pending refund the requester took back.
	RefundStatusWithdrawn RefundStatus = "withdrawn"
)

// Active refunds block a new request for the same order.
func (s RefundStatus) Active() bool {
	return s != RefundStatusRejected && s != RefundStatusWithdrawn
}

// Entitlement is what a completed order unlocks.
type Entitlement struct {
	OrderID     string `json:"order_id"`
	DownloadURL string `json:"download_url"`
}

type PlaceOrderResult struct {
	Order       Order        `json:"order"`
	Entitlement *Entitlement `json:"entitlement,omitempty"`
	Balance     int64        `json:"balance"`
}

type RefundFilter struct {
	UserID string
	Status RefundStatus
	Limit  int
	Offset int
}

func pageLimit(limit int) int {
	switch {
	case limit <= 0:
		return 50
	case limit > 500:
		return 500
	}
	return limit
}
