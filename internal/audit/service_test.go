package audit

import (
	"context"
	"errors"
	"strings"
	"testing"

	"payment-ledger/internal/ledger"
)

func TestService_AppendRequiresTypeAndMessage(t *testing.T) {
	svc := NewService(NewMemoryRepo())

	if err := svc.Append(context.Background(), Event{Type: EventTypeAdminAction}); err == nil {
		t.Fatalf("expected error for missing message")
	}
	if err := svc.Append(context.Background(), Event{Message: "x"}); err == nil {
		t.Fatalf("expected error for missing type")
	}
	if err := NewService(nil).Append(context.Background(), Event{Type: EventTypeAdminAction, Message: "x"}); err == nil {
		t.Fatalf("expected error without repository")
	}
}

func TestService_LogAdminAction(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)

	err := svc.LogAdminAction(context.Background(), AdminAction{
		ActorUserID:     "admin1",
		ActorRole:       "admin",
		IPAddress:       "1.2.3.4",
		Message:         "manual approve",
		TransactionCode: "TX20260304000001",
	})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	evs := repo.Events()
	if len(evs) != 1 {
		t.Fatalf("expected 1 event")
	}
	if evs[0].IPAddress != "1.2.3.4" || evs[0].Type != EventTypeAdminAction {
		t.Fatalf("unexpected event: %+v", evs[0])
	}
	if !strings.HasPrefix(evs[0].ID, "aud_") {
		t.Fatalf("expected aud_ id, got %q", evs[0].ID)
	}
	if evs[0].CreatedAt.IsZero() {
		t.Fatalf("expected created_at set")
	}
}

func TestService_LogAmountMismatch(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)

	w := ledger.AmountMismatchWarning{Code: "TX1", Gateway: ledger.MethodVNPay, Expected: 100000, Reported: 90000}
	if err := svc.LogAmountMismatch(context.Background(), w); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	ev := repo.Events()[0]
	if ev.Type != EventTypeAmountMismatch || ev.TransactionCode != "TX1" || ev.Gateway != "vnpay" {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if ev.Metadata != `{"expected":100000,"reported":90000}` {
		t.Fatalf("unexpected metadata %s", ev.Metadata)
	}
}

func TestMemoryRepoIsAppendOnly(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)
	ctx := context.Background()

	if err := svc.LogVerificationFailure(ctx, "vqr", "10.0.0.1", "checksum mismatch"); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if err := svc.LogRefundDecision(ctx, "admin1", "rfd_1", "ord_1", "approved"); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	first := repo.Events()[0]
	if err := repo.Append(ctx, first); !errors.Is(err, ErrDuplicateEvent) {
		t.Fatalf("expected ErrDuplicateEvent, got %v", err)
	}

	failures := repo.ByType(EventTypeVerificationFailed)
	if len(failures) != 1 || failures[0].Gateway != "vqr" || failures[0].IPAddress != "10.0.0.1" {
		t.Fatalf("unexpected verification events %+v", failures)
	}
	decisions := repo.ByType(EventTypeRefundDecision)
	if len(decisions) != 1 || decisions[0].Message != "refund approved" || decisions[0].RefundID != "rfd_1" {
		t.Fatalf("unexpected refund events %+v", decisions)
	}
	if len(repo.Events()) != 2 {
		t.Fatalf("expected 2 events, got %d", len(repo.Events()))
	}
}
