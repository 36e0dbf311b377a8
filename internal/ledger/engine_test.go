package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type recordingAuditor struct {
	mu       sync.Mutex
	warnings []AmountMismatchWarning
}

func (a *recordingAuditor) LogAmountMismatch(_ context.Context, w AmountMismatchWarning) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.warnings = append(a.warnings, w)
	return nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []SettlementEvent
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, ev SettlementEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return p.err
}

// fixedCodes hands out codes in order, then fails.
type fixedCodes struct {
	mu    sync.Mutex
	codes []string
}

func (f *fixedCodes) Next(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.codes) == 0 {
		return "", errors.New("out of codes")
	}
	c := f.codes[0]
	f.codes = f.codes[1:]
	return c, nil
}

func newTestEngine(t *testing.T, balances map[string]int64) (*Engine, *MemoryStore, *recordingAuditor, *recordingPublisher) {
	t.Helper()
	store := NewMemoryStore()
	for u, b := range balances {
		store.SeedAccount(u, b)
	}
	aud := &recordingAuditor{}
	pub := &recordingPublisher{}
	e := NewEngine(store, Options{
		Auditor:   aud,
		Publisher: pub,
		Clock:     func() time.Time { return time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC) },
	})
	return e, store, aud, pub
}

func mustBalance(t *testing.T, e *Engine, userID string, want int64) {
	t.Helper()
	acct, err := e.GetAccountBalance(context.Background(), userID)
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if acct.Balance != want {
		t.Fatalf("expected balance %d, got %d", want, acct.Balance)
	}
}

func TestDepositApprovedThenDuplicate(t *testing.T) {
	ctx := context.Background()
	e, _, _, pub := newTestEngine(t, map[string]int64{"u1": 0})

	txn, err := e.CreatePending(ctx, CreateRequest{UserID: "u1", Type: TypeDeposit, Method: MethodVNPay, Amount: 100000})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if txn.Status != StatusPending || txn.BalanceBefore != 0 || txn.BalanceAfter != nil {
		t.Fatalf("unexpected pending txn: %+v", txn)
	}

	ev := GatewayEvent{Code: txn.Code, Outcome: OutcomeApproved, Amount: 100000, Gateway: MethodVNPay}
	res, err := e.ApplyEvent(ctx, ev)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if !res.Applied || res.Replayed {
		t.Fatalf("expected first apply to commit, got %+v", res)
	}
	if res.Transaction.Status != StatusSuccess || res.Transaction.BalanceAfter == nil || *res.Transaction.BalanceAfter != 100000 {
		t.Fatalf("unexpected settled txn: %+v", res.Transaction)
	}
	mustBalance(t, e, "u1", 100000)

	res, err = e.ApplyEvent(ctx, ev)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if !res.Replayed || res.Applied {
		t.Fatalf("expected replay, got %+v", res)
	}
	if res.Transaction.Status != StatusSuccess {
		t.Fatalf("expected stored success outcome, got %s", res.Transaction.Status)
	}
	mustBalance(t, e, "u1", 100000)

	if len(pub.events) != 1 {
		t.Fatalf("expected exactly one settlement event, got %d", len(pub.events))
	}
}

func TestDepositRaceSettlesOnce(t *testing.T) {
	ctx := context.Background()
	e, _, _, _ := newTestEngine(t, map[string]int64{"u1": 0})

	txn, err := e.CreatePending(ctx, CreateRequest{UserID: "u1", Type: TypeDeposit, Method: MethodVQR, Amount: 50000})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	const callers = 16
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		applied int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := e.ApplyEvent(ctx, GatewayEvent{Code: txn.Code, Outcome: OutcomeApproved, Amount: 50000, Gateway: MethodVQR})
			if err != nil {
				t.Errorf("apply: %v", err)
				return
			}
			if res.Applied {
				mu.Lock()
				applied++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if applied != 1 {
		t.Fatalf("expected exactly one applying caller, got %d", applied)
	}
	mustBalance(t, e, "u1", 50000)
}

func TestApprovedDeniedRaceSettlesOnce(t *testing.T) {
	ctx := context.Background()
	e, _, _, pub := newTestEngine(t, map[string]int64{"u1": 0})

	txn, err := e.CreatePending(ctx, CreateRequest{UserID: "u1", Type: TypeDeposit, Method: MethodVNPay, Amount: 40000})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	const callers = 16
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		applied  []Status
		statuses = map[Status]int{}
	)
	for i := 0; i < callers; i++ {
		outcome := OutcomeApproved
		if i%2 == 1 {
			outcome = OutcomeDenied
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := e.ApplyEvent(ctx, GatewayEvent{Code: txn.Code, Outcome: outcome, Amount: 40000, Gateway: MethodVNPay})
			if err != nil {
				t.Errorf("apply %s: %v", outcome, err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if res.Applied {
				applied = append(applied, res.Transaction.Status)
			}
			statuses[res.Transaction.Status]++
		}()
	}
	wg.Wait()

	if len(applied) != 1 {
		t.Fatalf("expected exactly one applying caller, got %d", len(applied))
	}
	if len(statuses) != 1 || statuses[applied[0]] != callers {
		t.Fatalf("expected every caller to observe %s, got %v", applied[0], statuses)
	}

	stored, err := e.GetByCode(ctx, txn.Code)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != applied[0] {
		t.Fatalf("stored status %s differs from applied %s", stored.Status, applied[0])
	}
	switch stored.Status {
	case StatusSuccess:
		mustBalance(t, e, "u1", 40000)
	case StatusFailed:
		mustBalance(t, e, "u1", 0)
	default:
		t.Fatalf("expected a terminal status, got %s", stored.Status)
	}
	if len(pub.events) != 1 {
		t.Fatalf("expected one settlement event, got %d", len(pub.events))
	}
}

func TestExternalEventOnlySettlesOwnDeposits(t *testing.T) {
	ctx := context.Background()
	e, _, _, pub := newTestEngine(t, map[string]int64{"u1": 100000})

	withdrawal, err := e.CreatePending(ctx, CreateRequest{UserID: "u1", Type: TypeWithdrawal, Method: MethodNone, Amount: 40000})
	if err != nil {
		t.Fatalf("create withdrawal: %v", err)
	}
	payment, err := e.CreatePending(ctx, CreateRequest{UserID: "u1", Type: TypePayment, Method: MethodNone, Amount: 10000})
	if err != nil {
		t.Fatalf("create payment: %v", err)
	}
	paypal, err := e.CreatePending(ctx, CreateRequest{UserID: "u1", Type: TypeDeposit, Method: MethodPayPal, Amount: 5000000})
	if err != nil {
		t.Fatalf("create deposit: %v", err)
	}

	for _, txn := range []Transaction{withdrawal, payment, paypal} {
		for _, outcome := range []Outcome{OutcomeApproved, OutcomeDenied, OutcomePending} {
			_, err := e.ApplyEvent(ctx, GatewayEvent{Code: txn.Code, Outcome: outcome, Amount: 1000, Gateway: MethodVQR})
			if !IsNotFound(err) {
				t.Fatalf("%s %s via vqr: expected NotFoundError, got %v", txn.Type, outcome, err)
			}
		}
		stored, err := e.GetByCode(ctx, txn.Code)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if stored.Status != StatusPending {
			t.Fatalf("%s must stay pending, got %s", txn.Type, stored.Status)
		}
	}
	mustBalance(t, e, "u1", 100000)
	if len(pub.events) != 0 {
		t.Fatalf("expected no settlement events, got %d", len(pub.events))
	}

	// The owning gateway and internal approvals still work.
	if res, err := e.ApplyEvent(ctx, GatewayEvent{Code: paypal.Code, Outcome: OutcomeApproved, Amount: 5000000, Gateway: MethodPayPal}); err != nil || !res.Applied {
		t.Fatalf("paypal approve: %+v, %v", res, err)
	}
	if res, err := e.Approve(ctx, withdrawal.Code); err != nil || !res.Applied {
		t.Fatalf("internal approve: %+v, %v", res, err)
	}
	mustBalance(t, e, "u1", 5060000)
}

func TestPaymentFromWallet(t *testing.T) {
	ctx := context.Background()
	e, _, _, _ := newTestEngine(t, map[string]int64{"u1": 50000})

	txn, err := e.CreatePending(ctx, CreateRequest{UserID: "u1", Type: TypePayment, Method: MethodNone, Amount: 30000})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if txn.BalanceBefore != 50000 || txn.BalanceAfter == nil || *txn.BalanceAfter != 20000 {
		t.Fatalf("expected projected balances 50000 -> 20000, got %+v", txn)
	}

	res, err := e.Approve(ctx, txn.Code)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if res.Transaction.Status != StatusSuccess || res.Balance != 20000 {
		t.Fatalf("unexpected result: %+v", res)
	}
	mustBalance(t, e, "u1", 20000)
}

func TestPaymentInsufficientBalanceCreatesNothing(t *testing.T) {
	ctx := context.Background()
	e, store, _, _ := newTestEngine(t, map[string]int64{"u1": 10000})

	_, err := e.CreatePending(ctx, CreateRequest{UserID: "u1", Type: TypePayment, Method: MethodNone, Amount: 30000})
	var ib *InsufficientBalanceError
	if !errors.As(err, &ib) {
		t.Fatalf("expected InsufficientBalanceError, got %v", err)
	}
	if ib.Balance != 10000 || ib.Amount != 30000 {
		t.Fatalf("unexpected error payload: %+v", ib)
	}
	txns, _ := store.ListTransactions(ctx, ListFilter{UserID: "u1"})
	if len(txns) != 0 {
		t.Fatalf("expected no transactions, got %d", len(txns))
	}
	mustBalance(t, e, "u1", 10000)
}

func TestDeniedThenLateApproval(t *testing.T) {
	ctx := context.Background()
	e, _, _, _ := newTestEngine(t, map[string]int64{"u1": 0})

	txn, err := e.CreatePending(ctx, CreateRequest{UserID: "u1", Type: TypeDeposit, Method: MethodPayPal, Amount: 10000})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	res, err := e.ApplyEvent(ctx, GatewayEvent{Code: txn.Code, Outcome: OutcomeDenied, Gateway: MethodPayPal})
	if err != nil {
		t.Fatalf("deny: %v", err)
	}
	if res.Transaction.Status != StatusFailed {
		t.Fatalf("expected failed, got %s", res.Transaction.Status)
	}

	res, err = e.ApplyEvent(ctx, GatewayEvent{Code: txn.Code, Outcome: OutcomeApproved, Amount: 10000, Gateway: MethodPayPal})
	if err != nil {
		t.Fatalf("late approve: %v", err)
	}
	if !res.Replayed || res.Transaction.Status != StatusFailed {
		t.Fatalf("expected failed to be absorbing, got %+v", res)
	}
	mustBalance(t, e, "u1", 0)
}

func TestUnknownCodeIsNotFound(t *testing.T) {
	e, _, _, _ := newTestEngine(t, map[string]int64{"u1": 0})
	_, err := e.ApplyEvent(context.Background(), GatewayEvent{Code: "TX20260304NOPE00", Outcome: OutcomeApproved})
	if !IsNotFound(err) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}

func TestAmountMismatchKeepsInternalAmount(t *testing.T) {
	ctx := context.Background()
	e, _, aud, _ := newTestEngine(t, map[string]int64{"u1": 0})

	txn, err := e.CreatePending(ctx, CreateRequest{UserID: "u1", Type: TypeDeposit, Method: MethodVNPay, Amount: 100000})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	res, err := e.ApplyEvent(ctx, GatewayEvent{Code: txn.Code, Outcome: OutcomeApproved, Amount: 90000, Gateway: MethodVNPay})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if res.Warning == nil || res.Warning.Expected != 100000 || res.Warning.Reported != 90000 {
		t.Fatalf("expected mismatch warning, got %+v", res.Warning)
	}
	mustBalance(t, e, "u1", 100000)
	if len(aud.warnings) != 1 {
		t.Fatalf("expected one audited mismatch, got %d", len(aud.warnings))
	}
}

func TestPendingEventChangesNothing(t *testing.T) {
	ctx := context.Background()
	e, _, _, _ := newTestEngine(t, map[string]int64{"u1": 0})

	txn, _ := e.CreatePending(ctx, CreateRequest{UserID: "u1", Type: TypeDeposit, Method: MethodPayPal, Amount: 5000})
	res, err := e.ApplyEvent(ctx, GatewayEvent{Code: txn.Code, Outcome: OutcomePending, Gateway: MethodPayPal})
	if err != nil {
		t.Fatalf("apply pending: %v", err)
	}
	if res.Applied || res.Transaction.Status != StatusPending {
		t.Fatalf("expected untouched pending txn, got %+v", res)
	}
}

func TestCancel(t *testing.T) {
	ctx := context.Background()
	e, _, _, _ := newTestEngine(t, map[string]int64{"u1": 0})

	txn, _ := e.CreatePending(ctx, CreateRequest{UserID: "u1", Type: TypeDeposit, Method: MethodVNPay, Amount: 20000})
	got, err := e.Cancel(ctx, txn.Code)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if got.Status != StatusCancelled {
		t.Fatalf("expected cancelled, got %s", got.Status)
	}
	if _, err := e.Cancel(ctx, txn.Code); err != nil {
		t.Fatalf("second cancel should be a no-op, got %v", err)
	}

	res, err := e.ApplyEvent(ctx, GatewayEvent{Code: txn.Code, Outcome: OutcomeApproved, Amount: 20000, Gateway: MethodVNPay})
	if err != nil || !res.Replayed {
		t.Fatalf("expected replay on cancelled txn, got %+v, %v", res, err)
	}
	mustBalance(t, e, "u1", 0)

	done, _ := e.CreatePending(ctx, CreateRequest{UserID: "u1", Type: TypeDeposit, Method: MethodVNPay, Amount: 1000})
	if _, err := e.Approve(ctx, done.Code); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if _, err := e.Cancel(ctx, done.Code); !errors.Is(err, ErrNotCancellable) {
		t.Fatalf("expected ErrNotCancellable, got %v", err)
	}
}

func TestCodeCollisionRetries(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	store.SeedAccount("u1", 0)
	codes := &fixedCodes{codes: []string{"TX20260304AAAAAA", "TX20260304AAAAAA", "TX20260304BBBBBB"}}
	e := NewEngine(store, Options{Codes: codes})

	first, err := e.CreatePending(ctx, CreateRequest{UserID: "u1", Type: TypeDeposit, Method: MethodVQR, Amount: 1})
	if err != nil {
		t.Fatalf("create first: %v", err)
	}
	second, err := e.CreatePending(ctx, CreateRequest{UserID: "u1", Type: TypeDeposit, Method: MethodVQR, Amount: 2})
	if err != nil {
		t.Fatalf("create second: %v", err)
	}
	if first.Code == second.Code {
		t.Fatalf("expected distinct codes")
	}
	if second.Code != "TX20260304BBBBBB" {
		t.Fatalf("expected regenerated code, got %s", second.Code)
	}
	stored, err := e.GetByCode(ctx, first.Code)
	if err != nil || stored.Amount != 1 {
		t.Fatalf("first transaction must not be overwritten: %+v, %v", stored, err)
	}
}

func TestConservationAcrossInterleavedSettlements(t *testing.T) {
	ctx := context.Background()
	e, _, _, _ := newTestEngine(t, map[string]int64{"u1": 50000})

	pay1, err := e.CreatePending(ctx, CreateRequest{UserID: "u1", Type: TypePayment, Method: MethodNone, Amount: 30000})
	if err != nil {
		t.Fatalf("create pay1: %v", err)
	}
	pay2, err := e.CreatePending(ctx, CreateRequest{UserID: "u1", Type: TypePayment, Method: MethodNone, Amount: 30000})
	if err != nil {
		t.Fatalf("create pay2: %v", err)
	}
	dep, _ := e.CreatePending(ctx, CreateRequest{UserID: "u1", Type: TypeDeposit, Method: MethodVNPay, Amount: 5000})

	if _, err := e.Approve(ctx, pay1.Code); err != nil {
		t.Fatalf("approve pay1: %v", err)
	}
	res, err := e.Approve(ctx, pay2.Code)
	if err != nil {
		t.Fatalf("approve pay2: %v", err)
	}
	if res.Transaction.Status != StatusFailed {
		t.Fatalf("expected second payment to fail at settlement, got %s", res.Transaction.Status)
	}
	if _, err := e.ApplyEvent(ctx, GatewayEvent{Code: dep.Code, Outcome: OutcomeApproved, Amount: 5000, Gateway: MethodVNPay}); err != nil {
		t.Fatalf("approve deposit: %v", err)
	}

	txns, err := e.ListTransactions(ctx, ListFilter{UserID: "u1", Status: StatusSuccess})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var sum int64 = 50000
	for _, tx := range txns {
		if tx.Type.Debit() {
			sum -= tx.Amount
		} else {
			sum += tx.Amount
		}
	}
	mustBalance(t, e, "u1", sum)
	mustBalance(t, e, "u1", 25000)
}

func TestCreatePendingValidation(t *testing.T) {
	e, _, _, _ := newTestEngine(t, map[string]int64{"u1": 0})
	ctx := context.Background()

	cases := []CreateRequest{
		{Type: TypeDeposit, Method: MethodVNPay, Amount: 1},
		{UserID: "u1", Type: "bonus", Method: MethodVNPay, Amount: 1},
		{UserID: "u1", Type: TypeDeposit, Method: "cash", Amount: 1},
		{UserID: "u1", Type: TypeDeposit, Method: MethodVNPay, Amount: 0},
		{UserID: "u1", Type: TypeDeposit, Method: MethodVNPay, Amount: MaxAmount + 1},
	}
	for _, c := range cases {
		if _, err := e.CreatePending(ctx, c); !errors.Is(err, ErrInvalidArgument) {
			t.Fatalf("expected ErrInvalidArgument for %+v, got %v", c, err)
		}
	}
	if _, err := e.CreatePending(ctx, CreateRequest{UserID: "ghost", Type: TypeDeposit, Method: MethodVNPay, Amount: 1}); !IsNotFound(err) {
		t.Fatalf("expected NotFoundError for unknown account, got %v", err)
	}
}

func TestPublishFailureDoesNotUndoSettlement(t *testing.T) {
	ctx := context.Background()
	e, _, _, pub := newTestEngine(t, map[string]int64{"u1": 0})
	pub.err = errors.New("queue down")

	txn, _ := e.CreatePending(ctx, CreateRequest{UserID: "u1", Type: TypeDeposit, Method: MethodVQR, Amount: 700})
	if _, err := e.ApplyEvent(ctx, GatewayEvent{Code: txn.Code, Outcome: OutcomeApproved, Gateway: MethodVQR}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	mustBalance(t, e, "u1", 700)
}

func TestFindByRefund(t *testing.T) {
	ctx := context.Background()
	e, _, _, _ := newTestEngine(t, map[string]int64{"u1": 0})

	if _, ok, err := e.FindByRefund(ctx, "rfd_x"); err != nil || ok {
		t.Fatalf("expected nothing found, got ok=%v err=%v", ok, err)
	}
	txn, _ := e.CreatePending(ctx, CreateRequest{UserID: "u1", Type: TypeRefund, Method: MethodNone, Amount: 10, RefundID: "rfd_x"})
	got, ok, err := e.FindByRefund(ctx, "rfd_x")
	if err != nil || !ok || got.Code != txn.Code {
		t.Fatalf("expected refund txn, got %+v ok=%v err=%v", got, ok, err)
	}
}
