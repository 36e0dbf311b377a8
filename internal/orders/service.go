package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"payment-ledger/internal/ledger"
	"payment-ledger/internal/pricing"
	"payment-ledger/pkg/ids"
	"payment-ledger/pkg/logger"
)

// Ledger is the part of *ledger.Engine the orchestrator drives.
type Ledger interface {
	CreatePending(ctx context.Context, req ledger.CreateRequest) (ledger.Transaction, error)
	Approve(ctx context.Context, code string) (ledger.Result, error)
	Cancel(ctx context.Context, code string) (ledger.Transaction, error)
	FindByRefund(ctx context.Context, refundID string) (ledger.Transaction, bool, error)
}

type Quoter interface {
	Quote(ctx context.Context, productID string) (pricing.Quote, error)
}

// RefundAuditor records admin refund decisions. Implemented by *audit.Service.
type RefundAuditor interface {
	LogRefundDecision(ctx context.Context, actorUserID, refundID, orderID, decision string) error
}

type Deps struct {
	Store   Store
	Ledger  Ledger
	Pricing Quoter
	Granter Granter

	// Locker serializes refund decisions per refund id. Defaults to an in-process locker.
	Locker ledger.Locker
	Audit  RefundAuditor
	Clock  func() time.Time
}

// Service orchestrates purchases and refunds on top of the ledger.
//
// It never touches balances directly: every money movement is a ledger transaction created
// with CreatePending and settled with Approve. Every step of ApproveRefund can be retried.
type Service struct {
	store   Store
	ledger  Ledger
	pricing Quoter
	granter Granter
	locker  ledger.Locker
	audit   RefundAuditor
	clock   func() time.Time
}

func NewService(d Deps) *Service {
	s := &Service{
		store:   d.Store,
		ledger:  d.Ledger,
		pricing: d.Pricing,
		granter: d.Granter,
		locker:  d.Locker,
		audit:   d.Audit,
		clock:   d.Clock,
	}
	if s.locker == nil {
		s.locker = ledger.NewLocalLocker()
	}
	if s.clock == nil {
		s.clock = time.Now
	}
	return s
}

// PlaceOrder buys productID from userID's wallet.
//
// The payment is created before the order, so an unaffordable product leaves nothing behind.
// A payment that fails at settlement cancels the order and returns ErrPaymentFailed.
func (s *Service) PlaceOrder(ctx context.Context, userID, productID string) (PlaceOrderResult, error) {
	if userID == "" || productID == "" {
		return PlaceOrderResult{}, fmt.Errorf("%w: user and product are required", ledger.ErrInvalidArgument)
	}
	log := logger.From(ctx).With("user_id", userID, "product_id", productID)

	quote, err := s.pricing.Quote(ctx, productID)
	if err != nil {
		return PlaceOrderResult{}, err
	}

	now := s.clock().UTC()
	order := Order{
		ID:          ids.New(ids.PrefixOrder),
		UserID:      userID,
		ProductID:   productID,
		TotalAmount: quote.Total,
		Status:      OrderStatusProcessing,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if quote.Total == 0 {
		order.Status = OrderStatusCompleted
		order.IsPaid = true
		order.PaidAt = &now
		if err := s.store.InsertOrder(ctx, order); err != nil {
			return PlaceOrderResult{}, fmt.Errorf("insert order: %w", err)
		}
		return s.completed(ctx, order, 0), nil
	}

	txn, err := s.ledger.CreatePending(ctx, ledger.CreateRequest{
		UserID:      userID,
		Type:        ledger.TypePayment,
		Method:      ledger.MethodNone,
		Amount:      quote.Total,
		OrderID:     order.ID,
		Description: "Order " + order.ID,
	})
	if err != nil {
		return PlaceOrderResult{}, err
	}
	order.TransactionID = txn.ID
	order.TransactionCode = txn.Code

	if err := s.store.InsertOrder(ctx, order); err != nil {
		if _, cerr := s.ledger.Cancel(ctx, txn.Code); cerr != nil {
			log.Error("cancel payment after failed order insert", "code", txn.Code, "err", cerr)
		}
		return PlaceOrderResult{}, fmt.Errorf("insert order: %w", err)
	}

	res, err := s.ledger.Approve(ctx, txn.Code)
	if err != nil {
		log.Error("order payment approval failed", "order_id", order.ID, "code", txn.Code, "err", err)
		return PlaceOrderResult{Order: order}, fmt.Errorf("approve order payment: %w", err)
	}

	next := order
	next.UpdatedAt = s.clock().UTC()
	if res.Transaction.Status != ledger.StatusSuccess {
		next.Status = OrderStatusCancelled
		if err := s.store.UpdateOrder(ctx, next, OrderStatusProcessing); err != nil {
			return PlaceOrderResult{Order: order}, fmt.Errorf("cancel order: %w", err)
		}
		log.Warn("order payment did not settle", "order_id", order.ID, "status", res.Transaction.Status, "reason", res.Transaction.FailureReason)
		return PlaceOrderResult{Order: next, Balance: res.Balance},
			fmt.Errorf("%w: %s", ErrPaymentFailed, res.Transaction.FailureReason)
	}

	next.Status = OrderStatusCompleted
	next.IsPaid = true
	next.PaidAt = res.Transaction.SettledAt
	if err := s.store.UpdateOrder(ctx, next, OrderStatusProcessing); err != nil {
		return PlaceOrderResult{Order: order}, fmt.Errorf("complete order: %w", err)
	}
	log.Info("order completed", "order_id", next.ID, "code", txn.Code, "total", next.TotalAmount)
	return s.completed(ctx, next, res.Balance), nil
}

func (s *Service) completed(ctx context.Context, o Order, balance int64) PlaceOrderResult {
	out := PlaceOrderResult{Order: o, Balance: balance}
	if s.granter == nil {
		return out
	}
	ent, err := s.granter.Grant(ctx, o)
	if err != nil {
		// The order is paid; the entitlement can be fetched again from GetOrder.
		logger.From(ctx).Error("grant entitlement failed", "order_id", o.ID, "err", err)
		return out
	}
	out.Entitlement = &ent
	return out
}

// Entitlement returns what a completed order unlocks.
func (s *Service) Entitlement(ctx context.Context, o Order) (Entitlement, error) {
	if o.Status != OrderStatusCompleted {
		return Entitlement{}, fmt.Errorf("%w: order is %s", ErrForbidden, o.Status)
	}
	if s.granter == nil {
		return Entitlement{OrderID: o.ID}, nil
	}
	return s.granter.Grant(ctx, o)
}

func (s *Service) RequestRefund(ctx context.Context, userID, orderID, reason string) (Refund, error) {
	if userID == "" || orderID == "" {
		return Refund{}, fmt.Errorf("%w: user and order are required", ledger.ErrInvalidArgument)
	}
	order, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return Refund{}, err
	}
	if order.UserID != userID {
		return Refund{}, ErrForbidden
	}
	if order.Status != OrderStatusCompleted {
		return Refund{}, fmt.Errorf("%w: order is %s", ErrNotRefundable, order.Status)
	}

	now := s.clock().UTC()
	r := Refund{
		ID:        ids.New(ids.PrefixRefund),
		UserID:    userID,
		OrderID:   orderID,
		Amount:    order.TotalAmount,
		Status:    RefundStatusPending,
		Reason:    reason,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.InsertRefund(ctx, r); err != nil {
		return Refund{}, err
	}
	logger.From(ctx).Info("refund requested", "refund_id", r.ID, "order_id", orderID, "user_id", userID)
	return r, nil
}

// ApproveRefund credits the order total back to the buyer.
//
// Each step checks what already happened (refund status, linked or existing refund
// transaction, order status), so a call interrupted at any point can simply be repeated.
// A completed refund is returned unchanged.
func (s *Service) ApproveRefund(ctx context.Context, refundID, adminID string) (Refund, error) {
	unlock, err := s.locker.Lock(ctx, "refund:"+refundID)
	if err != nil {
		return Refund{}, err
	}
	defer unlock()

	log := logger.From(ctx).With("refund_id", refundID, "admin_id", adminID)

	r, err := s.store.GetRefund(ctx, refundID)
	if err != nil {
		return Refund{}, err
	}
	switch r.Status {
	case RefundStatusCompleted:
		return r, nil
	case RefundStatusRejected, RefundStatusWithdrawn:
		return r, ErrRefundNotPending
	}

	order, err := s.store.GetOrder(ctx, r.OrderID)
	if err != nil {
		return r, err
	}

	if r.Status == RefundStatusPending {
		if order.Status == OrderStatusRefunded || order.Status == OrderStatusCancelled {
			return r, fmt.Errorf("%w: order is %s", ErrNotRefundable, order.Status)
		}
		now := s.clock().UTC()
		next := r
		next.Status = RefundStatusApproved
		next.ProcessedBy = adminID
		next.ProcessedAt = &now
		next.UpdatedAt = now
		if err := s.store.UpdateRefund(ctx, next, RefundStatusPending); err != nil {
			return r, fmt.Errorf("approve refund: %w", err)
		}
		r = next
		s.auditDecision(ctx, adminID, r, "approved")
	}

	if r.Amount > 0 {
		if r.TransactionCode == "" {
			txn, found, err := s.ledger.FindByRefund(ctx, r.ID)
			if err != nil {
				return r, err
			}
			if !found {
				txn, err = s.ledger.CreatePending(ctx, ledger.CreateRequest{
					UserID:      r.UserID,
					Type:        ledger.TypeRefund,
					Method:      ledger.MethodNone,
					Amount:      r.Amount,
					OrderID:     r.OrderID,
					RefundID:    r.ID,
					Description: "Refund for order " + r.OrderID,
				})
				if err != nil {
					return r, fmt.Errorf("create refund transaction: %w", err)
				}
			}
			linked := r
			linked.TransactionID = txn.ID
			linked.TransactionCode = txn.Code
			linked.UpdatedAt = s.clock().UTC()
			if err := s.store.UpdateRefund(ctx, linked, RefundStatusApproved); err != nil {
				return r, fmt.Errorf("link refund transaction: %w", err)
			}
			r = linked
		}

		res, err := s.ledger.Approve(ctx, r.TransactionCode)
		if err != nil {
			return r, fmt.Errorf("settle refund transaction: %w", err)
		}
		if res.Transaction.Status != ledger.StatusSuccess {
			return s.voidRefund(ctx, r, adminID, res.Transaction)
		}
	}

	done := r
	done.Status = RefundStatusCompleted
	done.UpdatedAt = s.clock().UTC()
	if err := s.store.UpdateRefund(ctx, done, RefundStatusApproved); err != nil {
		return r, fmt.Errorf("complete refund: %w", err)
	}

	if order.Status != OrderStatusRefunded {
		prev := order.Status
		order.Status = OrderStatusRefunded
		order.UpdatedAt = done.UpdatedAt
		if err := s.store.UpdateOrder(ctx, order, prev); err != nil {
			return done, fmt.Errorf("mark order refunded: %w", err)
		}
		if s.granter != nil {
			if err := s.granter.Revoke(ctx, order); err != nil {
				log.Error("revoke entitlement failed", "order_id", order.ID, "err", err)
			}
		}
	}

	log.Info("refund completed", "order_id", done.OrderID, "code", done.TransactionCode, "amount", done.Amount)
	return done, nil
}

// voidRefund closes an approved refund whose ledger transaction ended without a credit.
// Codes are never reused and a refund owns at most one transaction, so the refund is
// rejected instead; the buyer may request a new one.
func (s *Service) voidRefund(ctx context.Context, r Refund, adminID string, txn ledger.Transaction) (Refund, error) {
	next := r
	next.Status = RefundStatusRejected
	next.AdminNotes = fmt.Sprintf("refund transaction %s was %s", txn.Code, txn.Status)
	next.UpdatedAt = s.clock().UTC()
	if err := s.store.UpdateRefund(ctx, next, RefundStatusApproved); err != nil {
		return r, fmt.Errorf("void refund: %w", err)
	}
	logger.From(ctx).Warn("refund voided", "refund_id", r.ID, "order_id", r.OrderID, "code", txn.Code, "status", txn.Status)
	s.auditDecision(ctx, adminID, next, "voided")
	return next, fmt.Errorf("%w: refund transaction %s is %s", ErrRefundVoided, txn.Code, txn.Status)
}

// CancelRefund lets the requester withdraw a refund nobody has decided on yet.
func (s *Service) CancelRefund(ctx context.Context, userID, refundID string) (Refund, error) {
	if userID == "" || refundID == "" {
		return Refund{}, fmt.Errorf("%w: user and refund are required", ledger.ErrInvalidArgument)
	}
	unlock, err := s.locker.Lock(ctx, "refund:"+refundID)
	if err != nil {
		return Refund{}, err
	}
	defer unlock()

	r, err := s.store.GetRefund(ctx, refundID)
	if err != nil {
		return Refund{}, err
	}
	if r.UserID != userID {
		return Refund{}, ErrForbidden
	}
	if r.Status != RefundStatusPending {
		return r, ErrRefundNotPending
	}

	next := r
	next.Status = RefundStatusWithdrawn
	next.UpdatedAt = s.clock().UTC()
	if err := s.store.UpdateRefund(ctx, next, RefundStatusPending); err != nil {
		if errors.Is(err, ledger.ErrConflict) {
			return r, ErrRefundNotPending
		}
		return r, err
	}
	logger.From(ctx).Info("refund withdrawn", "refund_id", r.ID, "order_id", r.OrderID, "user_id", userID)
	return next, nil
}

func (s *Service) RejectRefund(ctx context.Context, refundID, adminID, notes string) (Refund, error) {
	unlock, err := s.locker.Lock(ctx, "refund:"+refundID)
	if err != nil {
		return Refund{}, err
	}
	defer unlock()

	r, err := s.store.GetRefund(ctx, refundID)
	if err != nil {
		return Refund{}, err
	}
	if r.Status != RefundStatusPending {
		return r, ErrRefundNotPending
	}

	now := s.clock().UTC()
	next := r
	next.Status = RefundStatusRejected
	next.AdminNotes = notes
	next.ProcessedBy = adminID
	next.ProcessedAt = &now
	next.UpdatedAt = now
	if err := s.store.UpdateRefund(ctx, next, RefundStatusPending); err != nil {
		if errors.Is(err, ledger.ErrConflict) {
			return r, ErrRefundNotPending
		}
		return r, err
	}
	s.auditDecision(ctx, adminID, next, "rejected")
	return next, nil
}

// GetOrder returns an order. A non-empty userID must own it.
func (s *Service) GetOrder(ctx context.Context, userID, orderID string) (Order, error) {
	o, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return Order{}, err
	}
	if userID != "" && o.UserID != userID {
		return Order{}, ErrForbidden
	}
	return o, nil
}

func (s *Service) ListOrders(ctx context.Context, userID string, limit, offset int) ([]Order, error) {
	return s.store.ListOrders(ctx, userID, limit, offset)
}

func (s *Service) ListRefunds(ctx context.Context, f RefundFilter) ([]Refund, error) {
	return s.store.ListRefunds(ctx, f)
}

func (s *Service) auditDecision(ctx context.Context, adminID string, r Refund, decision string) {
	if s.audit == nil {
		return
	}
	if err := s.audit.LogRefundDecision(ctx, adminID, r.ID, r.OrderID, decision); err != nil {
		logger.From(ctx).Error("audit refund decision failed", "refund_id", r.ID, "err", err)
	}
}
