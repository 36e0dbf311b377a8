package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"payment-ledger/internal/ledger"
	"payment-ledger/pkg/ids"
)

// Repository is the persistence contract for audit events. Append-only.
type Repository interface {
	Append(ctx context.Context, e Event) error
}

// Service records internal audit information. Records are for operators only.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

var _ ledger.Auditor = (*Service)(nil)

func (s *Service) Append(ctx context.Context, e Event) error {
	if s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.Type == "" || e.Message == "" {
		return ErrInvalidEvent
	}

	if e.ID == "" {
		e.ID = ids.New(ids.PrefixAudit)
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock().UTC()
	}
	return s.repo.Append(ctx, e)
}

func (s *Service) LogAdminAction(ctx context.Context, a AdminAction) error {
	if a.ActorUserID == "" {
		return ErrInvalidEvent
	}
	return s.Append(ctx, Event{
		Type:            EventTypeAdminAction,
		ActorUserID:     a.ActorUserID,
		ActorRole:       a.ActorRole,
		IPAddress:       a.IPAddress,
		TransactionCode: a.TransactionCode,
		OrderID:         a.OrderID,
		RefundID:        a.RefundID,
		Message:         a.Message,
	})
}

// LogAmountMismatch records a gateway-reported amount that differs from the ledger amount.
func (s *Service) LogAmountMismatch(ctx context.Context, w ledger.AmountMismatchWarning) error {
	meta, err := json.Marshal(map[string]int64{"expected": w.Expected, "reported": w.Reported})
	if err != nil {
		return err
	}
	return s.Append(ctx, Event{
		Type:            EventTypeAmountMismatch,
		TransactionCode: w.Code,
		Gateway:         string(w.Gateway),
		Message:         fmt.Sprintf("gateway reported %d, ledger amount %d kept", w.Reported, w.Expected),
		Metadata:        string(meta),
	})
}

// LogVerificationFailure records a rejected inbound notification. The reason is internal
// and never returned to the caller.
func (s *Service) LogVerificationFailure(ctx context.Context, gateway, ip, reason string) error {
	return s.Append(ctx, Event{
		Type:      EventTypeVerificationFailed,
		Gateway:   gateway,
		IPAddress: ip,
		Message:   reason,
	})
}

func (s *Service) LogRefundDecision(ctx context.Context, actorUserID, refundID, orderID, decision string) error {
	return s.Append(ctx, Event{
		Type:        EventTypeRefundDecision,
		ActorUserID: actorUserID,
		RefundID:    refundID,
		OrderID:     orderID,
		Message:     "refund " + decision,
	})
}
