package orders

import (
	"context"
	"errors"
	"sync"
	"testing"

	"payment-ledger/internal/ledger"
	"payment-ledger/internal/pricing"
)

type flakyStore struct {
	*MemoryStore
	failCompleteOnce bool
}

// UpdateRefund fails the first attempt to mark a refund completed.
func (f *flakyStore) UpdateRefund(ctx context.Context, r Refund, expected RefundStatus) error {
	if f.failCompleteOnce && r.Status == RefundStatusCompleted {
		f.failCompleteOnce = false
		return errors.New("connection reset")
	}
	return f.MemoryStore.UpdateRefund(ctx, r, expected)
}

// flakyLedger fails the first Approve call, then delegates.
type flakyLedger struct {
	Ledger
	failApproveOnce bool
}

func (f *flakyLedger) Approve(ctx context.Context, code string) (ledger.Result, error) {
	if f.failApproveOnce {
		f.failApproveOnce = false
		return ledger.Result{}, errors.New("lock wait timeout")
	}
	return f.Ledger.Approve(ctx, code)
}

type recordingDecisions struct {
	mu        sync.Mutex
	decisions []string
}

func (r *recordingDecisions) LogRefundDecision(_ context.Context, actor, refundID, orderID, decision string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decisions = append(r.decisions, decision)
	return nil
}

type fixture struct {
	svc       *Service
	store     Store
	engine    *ledger.Engine
	ledger    *ledger.MemoryStore
	decisions *recordingDecisions
}

func newFixture(t *testing.T, store Store, balances map[string]int64) fixture {
	t.Helper()
	ls := ledger.NewMemoryStore()
	for u, b := range balances {
		ls.SeedAccount(u, b)
	}
	engine := ledger.NewEngine(ls, ledger.Options{})
	catalog := pricing.NewMemoryRepo(
		pricing.Product{ID: "chair", Name: "Chair", Price: 30000, Status: pricing.ProductStatusActive, DownloadURL: "https://files.test/chair.zip"},
		pricing.Product{ID: "lamp", Name: "Lamp", Price: 100000, DiscountPercent: 20, Status: pricing.ProductStatusActive, DownloadURL: "https://files.test/lamp.zip"},
		pricing.Product{ID: "gift", Name: "Gift", Price: 5000, DiscountPercent: 100, Status: pricing.ProductStatusActive, DownloadURL: "https://files.test/gift.zip"},
	)
	decisions := &recordingDecisions{}
	svc := NewService(Deps{
		Store:   store,
		Ledger:  engine,
		Pricing: pricing.NewService(catalog),
		Granter: DownloadGranter{Products: catalog},
		Audit:   decisions,
	})
	return fixture{svc: svc, store: store, engine: engine, ledger: ls, decisions: decisions}
}

func (f fixture) balance(t *testing.T, userID string) int64 {
	t.Helper()
	acct, err := f.engine.GetAccountBalance(context.Background(), userID)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	return acct.Balance
}

func TestPlaceOrderPaysFromWalletAndGrants(t *testing.T) {
	f := newFixture(t, NewMemoryStore(), map[string]int64{"u1": 50000})
	ctx := context.Background()

	res, err := f.svc.PlaceOrder(ctx, "u1", "chair")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if res.Order.Status != OrderStatusCompleted || !res.Order.IsPaid || res.Order.PaidAt == nil {
		t.Fatalf("unexpected order %+v", res.Order)
	}
	if res.Entitlement == nil || res.Entitlement.DownloadURL != "https://files.test/chair.zip" {
		t.Fatalf("expected download entitlement, got %+v", res.Entitlement)
	}
	if res.Balance != 20000 || f.balance(t, "u1") != 20000 {
		t.Fatalf("expected balance 20000, got %d", f.balance(t, "u1"))
	}

	txn, err := f.engine.GetByCode(ctx, res.Order.TransactionCode)
	if err != nil {
		t.Fatalf("get payment: %v", err)
	}
	if txn.Type != ledger.TypePayment || txn.Status != ledger.StatusSuccess || txn.OrderID != res.Order.ID {
		t.Fatalf("unexpected payment %+v", txn)
	}
}

func TestPlaceOrderAppliesDiscount(t *testing.T) {
	f := newFixture(t, NewMemoryStore(), map[string]int64{"u1": 100000})
	res, err := f.svc.PlaceOrder(context.Background(), "u1", "lamp")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if res.Order.TotalAmount != 80000 || f.balance(t, "u1") != 20000 {
		t.Fatalf("expected 20%% discount, total=%d balance=%d", res.Order.TotalAmount, f.balance(t, "u1"))
	}
}

func TestPlaceOrderFreeProductSkipsLedger(t *testing.T) {
	f := newFixture(t, NewMemoryStore(), map[string]int64{"u1": 0})
	res, err := f.svc.PlaceOrder(context.Background(), "u1", "gift")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if res.Order.Status != OrderStatusCompleted || res.Order.TransactionCode != "" || res.Entitlement == nil {
		t.Fatalf("unexpected free order %+v", res)
	}
}

func TestPlaceOrderInsufficientBalanceCreatesNothing(t *testing.T) {
	store := NewMemoryStore()
	f := newFixture(t, store, map[string]int64{"u1": 10000})
	ctx := context.Background()

	_, err := f.svc.PlaceOrder(ctx, "u1", "chair")
	if !ledger.IsInsufficientBalance(err) {
		t.Fatalf("expected insufficient balance, got %v", err)
	}
	orders, _ := store.ListOrders(ctx, "u1", 0, 0)
	if len(orders) != 0 {
		t.Fatalf("expected no order, got %d", len(orders))
	}
	txns, _ := f.engine.ListTransactions(ctx, ledger.ListFilter{UserID: "u1"})
	if len(txns) != 0 {
		t.Fatalf("expected no transaction, got %d", len(txns))
	}
	if f.balance(t, "u1") != 10000 {
		t.Fatalf("balance must be unchanged")
	}
}

func TestPlaceOrderUnknownProduct(t *testing.T) {
	f := newFixture(t, NewMemoryStore(), map[string]int64{"u1": 10000})
	if _, err := f.svc.PlaceOrder(context.Background(), "u1", "sofa"); !errors.Is(err, pricing.ErrProductNotFound) {
		t.Fatalf("expected ErrProductNotFound, got %v", err)
	}
}

func placeCompleted(t *testing.T, f fixture, userID, productID string) Order {
	t.Helper()
	res, err := f.svc.PlaceOrder(context.Background(), userID, productID)
	if err != nil {
		t.Fatalf("place order: %v", err)
	}
	return res.Order
}

func TestRefundApprovedCreditsWallet(t *testing.T) {
	f := newFixture(t, NewMemoryStore(), map[string]int64{"u1": 50000})
	ctx := context.Background()
	order := placeCompleted(t, f, "u1", "chair")

	r, err := f.svc.RequestRefund(ctx, "u1", order.ID, "file is corrupted")
	if err != nil {
		t.Fatalf("request refund: %v", err)
	}
	if r.Status != RefundStatusPending || r.Amount != 30000 {
		t.Fatalf("unexpected refund %+v", r)
	}

	done, err := f.svc.ApproveRefund(ctx, r.ID, "admin1")
	if err != nil {
		t.Fatalf("approve refund: %v", err)
	}
	if done.Status != RefundStatusCompleted || done.TransactionCode == "" || done.ProcessedBy != "admin1" {
		t.Fatalf("unexpected refund %+v", done)
	}
	if got := f.balance(t, "u1"); got != 50000 {
		t.Fatalf("expected balance restored to 50000, got %d", got)
	}

	o, err := f.svc.GetOrder(ctx, "u1", order.ID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if o.Status != OrderStatusRefunded {
		t.Fatalf("expected order refunded, got %s", o.Status)
	}

	txn, err := f.engine.GetByCode(ctx, done.TransactionCode)
	if err != nil {
		t.Fatalf("get refund txn: %v", err)
	}
	if txn.Type != ledger.TypeRefund || txn.Status != ledger.StatusSuccess || txn.RefundID != r.ID {
		t.Fatalf("unexpected refund transaction %+v", txn)
	}

	again, err := f.svc.ApproveRefund(ctx, r.ID, "admin2")
	if err != nil || again.Status != RefundStatusCompleted {
		t.Fatalf("expected completed refund unchanged, got %+v %v", again, err)
	}
	if got := f.balance(t, "u1"); got != 50000 {
		t.Fatalf("second approval must not credit again, got %d", got)
	}
	if len(f.decisions.decisions) != 1 || f.decisions.decisions[0] != "approved" {
		t.Fatalf("expected one audited approval, got %v", f.decisions.decisions)
	}
}

func TestApproveRefundIsRetriable(t *testing.T) {
	store := &flakyStore{MemoryStore: NewMemoryStore(), failCompleteOnce: true}
	f := newFixture(t, store, map[string]int64{"u1": 50000})
	ctx := context.Background()
	order := placeCompleted(t, f, "u1", "chair")

	r, err := f.svc.RequestRefund(ctx, "u1", order.ID, "changed my mind")
	if err != nil {
		t.Fatalf("request refund: %v", err)
	}

	if _, err := f.svc.ApproveRefund(ctx, r.ID, "admin1"); err == nil {
		t.Fatalf("expected the first attempt to fail")
	}
	if got := f.balance(t, "u1"); got != 50000 {
		t.Fatalf("refund transaction settles before the failing step, got %d", got)
	}

	done, err := f.svc.ApproveRefund(ctx, r.ID, "admin1")
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if done.Status != RefundStatusCompleted {
		t.Fatalf("expected completed, got %s", done.Status)
	}
	if got := f.balance(t, "u1"); got != 50000 {
		t.Fatalf("retry must not credit twice, got %d", got)
	}

	txns, _ := f.engine.ListTransactions(ctx, ledger.ListFilter{UserID: "u1", Type: ledger.TypeRefund})
	if len(txns) != 1 {
		t.Fatalf("expected exactly one refund transaction, got %d", len(txns))
	}
}

func TestApproveRefundVoidsCancelledTransaction(t *testing.T) {
	f := newFixture(t, NewMemoryStore(), map[string]int64{"u1": 50000})
	ctx := context.Background()
	order := placeCompleted(t, f, "u1", "chair")

	r, err := f.svc.RequestRefund(ctx, "u1", order.ID, "wrong file")
	if err != nil {
		t.Fatalf("request refund: %v", err)
	}

	svc := NewService(Deps{Store: f.store, Ledger: &flakyLedger{Ledger: f.engine, failApproveOnce: true}, Audit: f.decisions})
	if _, err := svc.ApproveRefund(ctx, r.ID, "admin1"); err == nil {
		t.Fatalf("expected the first attempt to fail")
	}
	linked, err := f.store.GetRefund(ctx, r.ID)
	if err != nil || linked.Status != RefundStatusApproved || linked.TransactionCode == "" {
		t.Fatalf("expected approved refund with a linked transaction, got %+v %v", linked, err)
	}
	if _, err := f.engine.Cancel(ctx, linked.TransactionCode); err != nil {
		t.Fatalf("cancel refund transaction: %v", err)
	}

	voided, err := svc.ApproveRefund(ctx, r.ID, "admin1")
	if !errors.Is(err, ErrRefundVoided) {
		t.Fatalf("expected ErrRefundVoided, got %v", err)
	}
	if voided.Status != RefundStatusRejected || voided.AdminNotes == "" {
		t.Fatalf("expected rejected refund with a note, got %+v", voided)
	}
	for i := 0; i < 2; i++ {
		if _, err := svc.ApproveRefund(ctx, r.ID, "admin1"); !errors.Is(err, ErrRefundNotPending) {
			t.Fatalf("retry %d: expected ErrRefundNotPending, got %v", i, err)
		}
	}
	if got := f.balance(t, "u1"); got != 20000 {
		t.Fatalf("expected no credit from the voided refund, got %d", got)
	}
	o, _ := f.svc.GetOrder(ctx, "u1", order.ID)
	if o.Status != OrderStatusCompleted {
		t.Fatalf("order must stay completed, got %s", o.Status)
	}

	again, err := f.svc.RequestRefund(ctx, "u1", order.ID, "second try")
	if err != nil {
		t.Fatalf("a voided refund must not block a new request: %v", err)
	}
	done, err := f.svc.ApproveRefund(ctx, again.ID, "admin1")
	if err != nil || done.Status != RefundStatusCompleted {
		t.Fatalf("approve new refund: %+v %v", done, err)
	}
	if got := f.balance(t, "u1"); got != 50000 {
		t.Fatalf("expected balance 50000, got %d", got)
	}
	want := []string{"approved", "voided", "approved"}
	if len(f.decisions.decisions) != len(want) {
		t.Fatalf("expected decisions %v, got %v", want, f.decisions.decisions)
	}
	for i := range want {
		if f.decisions.decisions[i] != want[i] {
			t.Fatalf("expected decisions %v, got %v", want, f.decisions.decisions)
		}
	}
}

func TestApproveRefundRejectsClosedOrder(t *testing.T) {
	for _, status := range []OrderStatus{OrderStatusRefunded, OrderStatusCancelled} {
		t.Run(string(status), func(t *testing.T) {
			store := NewMemoryStore()
			f := newFixture(t, store, map[string]int64{"u1": 50000})
			ctx := context.Background()
			order := placeCompleted(t, f, "u1", "chair")

			r, err := f.svc.RequestRefund(ctx, "u1", order.ID, "late")
			if err != nil {
				t.Fatalf("request refund: %v", err)
			}
			closed := order
			closed.Status = status
			if err := store.UpdateOrder(ctx, closed, OrderStatusCompleted); err != nil {
				t.Fatalf("close order: %v", err)
			}

			if _, err := f.svc.ApproveRefund(ctx, r.ID, "admin1"); !errors.Is(err, ErrNotRefundable) {
				t.Fatalf("expected ErrNotRefundable, got %v", err)
			}
			got, _ := store.GetRefund(ctx, r.ID)
			if got.Status != RefundStatusPending || got.TransactionCode != "" {
				t.Fatalf("refund must stay untouched, got %+v", got)
			}
			if f.balance(t, "u1") != 20000 {
				t.Fatalf("no credit expected, got %d", f.balance(t, "u1"))
			}
		})
	}
}

func TestCancelRefund(t *testing.T) {
	f := newFixture(t, NewMemoryStore(), map[string]int64{"u1": 50000})
	ctx := context.Background()
	order := placeCompleted(t, f, "u1", "chair")

	r, err := f.svc.RequestRefund(ctx, "u1", order.ID, "oops")
	if err != nil {
		t.Fatalf("request refund: %v", err)
	}
	if _, err := f.svc.CancelRefund(ctx, "u2", r.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	withdrawn, err := f.svc.CancelRefund(ctx, "u1", r.ID)
	if err != nil || withdrawn.Status != RefundStatusWithdrawn {
		t.Fatalf("cancel refund: %+v %v", withdrawn, err)
	}
	if _, err := f.svc.CancelRefund(ctx, "u1", r.ID); !errors.Is(err, ErrRefundNotPending) {
		t.Fatalf("expected ErrRefundNotPending, got %v", err)
	}
	if _, err := f.svc.ApproveRefund(ctx, r.ID, "admin1"); !errors.Is(err, ErrRefundNotPending) {
		t.Fatalf("expected ErrRefundNotPending approving a withdrawn refund, got %v", err)
	}
	if _, err := f.svc.RejectRefund(ctx, r.ID, "admin1", ""); !errors.Is(err, ErrRefundNotPending) {
		t.Fatalf("expected ErrRefundNotPending rejecting a withdrawn refund, got %v", err)
	}

	next, err := f.svc.RequestRefund(ctx, "u1", order.ID, "for real")
	if err != nil {
		t.Fatalf("a withdrawn refund must not block a new request: %v", err)
	}
	if _, err := f.svc.ApproveRefund(ctx, next.ID, "admin1"); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if _, err := f.svc.CancelRefund(ctx, "u1", next.ID); !errors.Is(err, ErrRefundNotPending) {
		t.Fatalf("expected ErrRefundNotPending for a completed refund, got %v", err)
	}
}

func TestRequestRefundRules(t *testing.T) {
	f := newFixture(t, NewMemoryStore(), map[string]int64{"u1": 100000, "u2": 0})
	ctx := context.Background()
	order := placeCompleted(t, f, "u1", "chair")

	if _, err := f.svc.RequestRefund(ctx, "u2", order.ID, "not mine"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}

	first, err := f.svc.RequestRefund(ctx, "u1", order.ID, "first")
	if err != nil {
		t.Fatalf("request refund: %v", err)
	}
	if _, err := f.svc.RequestRefund(ctx, "u1", order.ID, "second"); !errors.Is(err, ErrRefundExists) {
		t.Fatalf("expected ErrRefundExists, got %v", err)
	}

	rejected, err := f.svc.RejectRefund(ctx, first.ID, "admin1", "works as described")
	if err != nil || rejected.Status != RefundStatusRejected || rejected.AdminNotes != "works as described" {
		t.Fatalf("reject: %+v %v", rejected, err)
	}
	if _, err := f.svc.ApproveRefund(ctx, first.ID, "admin1"); !errors.Is(err, ErrRefundNotPending) {
		t.Fatalf("expected ErrRefundNotPending for rejected refund, got %v", err)
	}
	if _, err := f.svc.RejectRefund(ctx, first.ID, "admin1", "again"); !errors.Is(err, ErrRefundNotPending) {
		t.Fatalf("expected ErrRefundNotPending, got %v", err)
	}

	second, err := f.svc.RequestRefund(ctx, "u1", order.ID, "after rejection")
	if err != nil {
		t.Fatalf("a rejected refund must not block a new request: %v", err)
	}
	if _, err := f.svc.ApproveRefund(ctx, second.ID, "admin1"); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if _, err := f.svc.RequestRefund(ctx, "u1", order.ID, "twice"); !errors.Is(err, ErrNotRefundable) {
		t.Fatalf("expected ErrNotRefundable for refunded order, got %v", err)
	}
}

func TestGetOrderOwnership(t *testing.T) {
	f := newFixture(t, NewMemoryStore(), map[string]int64{"u1": 50000})
	order := placeCompleted(t, f, "u1", "chair")

	if _, err := f.svc.GetOrder(context.Background(), "u2", order.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if _, err := f.svc.GetOrder(context.Background(), "", order.ID); err != nil {
		t.Fatalf("admin lookup: %v", err)
	}
	if _, err := f.svc.GetOrder(context.Background(), "u1", "ord_missing"); !ledger.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}
