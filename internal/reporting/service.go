package reporting

import (
	"context"
	"errors"
	"time"

	"payment-ledger/internal/ledger"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// pageSize is the largest page ListTransactions serves.
const pageSize = 500

// Source is the read side of the ledger. Reports only ever read transactions; they never
// touch balances.
type Source interface {
	ListTransactions(ctx context.Context, f ledger.ListFilter) ([]ledger.Transaction, error)
}

type Service struct {
	src   Source
	clock func() time.Time
}

func NewService(src Source) *Service { return &Service{src: src, clock: time.Now} }

// TransactionStats buckets successful transactions created in the trailing period by UTC day.
// Every day of the window is present, oldest first, even when empty.
func (s *Service) TransactionStats(ctx context.Context, period Period) (TransactionStats, error) {
	if s.src == nil {
		return TransactionStats{}, errors.New("reporting: source not configured")
	}
	period = period.Normalize()

	now := s.clock().UTC()
	end := now.Truncate(24 * time.Hour).AddDate(0, 0, 1)
	start := end.AddDate(0, 0, -period.days())

	out := TransactionStats{Period: period, Range: TimeRange{From: start, To: end}}
	index := make(map[string]int, period.days())
	for d := start; d.Before(end); d = d.AddDate(0, 0, 1) {
		key := d.Format(time.DateOnly)
		index[key] = len(out.Data)
		out.Data = append(out.Data, DailyStats{Date: key})
	}

	err := s.each(ctx, ledger.ListFilter{Status: ledger.StatusSuccess, From: start, To: end}, func(t ledger.Transaction) {
		i, ok := index[t.CreatedAt.UTC().Format(time.DateOnly)]
		if !ok {
			return
		}
		day := &out.Data[i]
		switch t.Type {
		case ledger.TypeDeposit:
			day.Deposit += t.Amount
		case ledger.TypePayment:
			day.Payment += t.Amount
		case ledger.TypeWithdrawal:
			day.Withdrawal += t.Amount
		case ledger.TypeRefund:
			day.Refund += t.Amount
		}
		day.Total += t.Amount
		day.Count++
	})
	if err != nil {
		return TransactionStats{}, err
	}
	return out, nil
}

// TotalSpent sums a user's successful payments.
func (s *Service) TotalSpent(ctx context.Context, userID string) (SpentSummary, error) {
	if userID == "" {
		return SpentSummary{}, ErrInvalidRequest
	}
	if s.src == nil {
		return SpentSummary{}, errors.New("reporting: source not configured")
	}
	out := SpentSummary{UserID: userID}
	err := s.each(ctx, ledger.ListFilter{UserID: userID, Type: ledger.TypePayment, Status: ledger.StatusSuccess}, func(t ledger.Transaction) {
		out.TotalSpent += t.Amount
		out.Payments++
	})
	if err != nil {
		return SpentSummary{}, err
	}
	return out, nil
}

func (s *Service) each(ctx context.Context, f ledger.ListFilter, fn func(ledger.Transaction)) error {
	f.Limit = pageSize
	for f.Offset = 0; ; f.Offset += pageSize {
		rows, err := s.src.ListTransactions(ctx, f)
		if err != nil {
			return err
		}
		for _, t := range rows {
			fn(t)
		}
		if len(rows) < pageSize {
			return nil
		}
	}
}
