package orders

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"payment-ledger/internal/ledger"
	"payment-ledger/pkg/utils"
)

const activeRefundIndex = "refunds_one_active_per_order"

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore { return &PostgresStore{db: db} }

const orderColumns = `id, user_id, product_id, total_amount, status, transaction_id, transaction_code, is_paid, paid_at, created_at, updated_at`

func (s *PostgresStore) InsertOrder(ctx context.Context, o Order) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO orders (`+orderColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		o.ID, o.UserID, o.ProductID, o.TotalAmount, string(o.Status),
		nullString(o.TransactionID), nullString(o.TransactionCode),
		o.IsPaid, nullTime(o.PaidAt), o.CreatedAt, o.UpdatedAt,
	)
	return err
}

func (s *PostgresStore) GetOrder(ctx context.Context, id string) (Order, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Order{}, &ledger.NotFoundError{Kind: "order", Key: id}
	}
	return o, err
}

func (s *PostgresStore) UpdateOrder(ctx context.Context, o Order, expected OrderStatus) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE orders
SET status = $2, transaction_id = $3, transaction_code = $4, is_paid = $5, paid_at = $6, updated_at = $7
WHERE id = $1 AND status = $8`,
		o.ID, string(o.Status), nullString(o.TransactionID), nullString(o.TransactionCode),
		o.IsPaid, nullTime(o.PaidAt), o.UpdatedAt, string(expected),
	)
	if err != nil {
		return err
	}
	return expectOneRow(res)
}

func (s *PostgresStore) ListOrders(ctx context.Context, userID string, limit, offset int) ([]Order, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT `+orderColumns+` FROM orders
WHERE ($1 = '' OR user_id = $1)
ORDER BY created_at DESC
LIMIT $2 OFFSET $3`, userID, pageLimit(limit), max(offset, 0))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

const refundColumns = `id, user_id, order_id, transaction_id, transaction_code, amount, status, reason, admin_notes, processed_by, processed_at, created_at, updated_at`

func (s *PostgresStore) InsertRefund(ctx context.Context, r Refund) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO refunds (`+refundColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		r.ID, r.UserID, r.OrderID, nullString(r.TransactionID), nullString(r.TransactionCode),
		r.Amount, string(r.Status), r.Reason, r.AdminNotes, nullString(r.ProcessedBy),
		nullTime(r.ProcessedAt), r.CreatedAt, r.UpdatedAt,
	)
	if utils.IsUniqueViolation(err, activeRefundIndex) {
		return ErrRefundExists
	}
	return err
}

func (s *PostgresStore) GetRefund(ctx context.Context, id string) (Refund, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+refundColumns+` FROM refunds WHERE id = $1`, id)
	r, err := scanRefund(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Refund{}, &ledger.NotFoundError{Kind: "refund", Key: id}
	}
	return r, err
}

func (s *PostgresStore) UpdateRefund(ctx context.Context, r Refund, expected RefundStatus) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE refunds
SET status = $2, transaction_id = $3, transaction_code = $4, admin_notes = $5,
    processed_by = $6, processed_at = $7, updated_at = $8
WHERE id = $1 AND status = $9`,
		r.ID, string(r.Status), nullString(r.TransactionID), nullString(r.TransactionCode),
		r.AdminNotes, nullString(r.ProcessedBy), nullTime(r.ProcessedAt), r.UpdatedAt, string(expected),
	)
	if err != nil {
		return err
	}
	return expectOneRow(res)
}

func (s *PostgresStore) ListRefunds(ctx context.Context, f RefundFilter) ([]Refund, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT `+refundColumns+` FROM refunds
WHERE ($1 = '' OR user_id = $1) AND ($2 = '' OR status = $2)
ORDER BY created_at DESC
LIMIT $3 OFFSET $4`, f.UserID, string(f.Status), pageLimit(f.Limit), max(f.Offset, 0))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Refund{}
	for rows.Next() {
		r, err := scanRefund(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (Order, error) {
	var (
		o       Order
		status  string
		txnID   sql.NullString
		txnCode sql.NullString
		paidAt  sql.NullTime
	)
	if err := row.Scan(&o.ID, &o.UserID, &o.ProductID, &o.TotalAmount, &status, &txnID, &txnCode,
		&o.IsPaid, &paidAt, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return Order{}, err
	}
	o.Status = OrderStatus(status)
	o.TransactionID = txnID.String
	o.TransactionCode = txnCode.String
	if paidAt.Valid {
		t := paidAt.Time
		o.PaidAt = &t
	}
	return o, nil
}

func scanRefund(row rowScanner) (Refund, error) {
	var (
		r           Refund
		status      string
		txnID       sql.NullString
		txnCode     sql.NullString
		processedBy sql.NullString
		processedAt sql.NullTime
	)
	if err := row.Scan(&r.ID, &r.UserID, &r.OrderID, &txnID, &txnCode, &r.Amount, &status, &r.Reason,
		&r.AdminNotes, &processedBy, &processedAt, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return Refund{}, err
	}
	r.Status = RefundStatus(status)
	r.TransactionID = txnID.String
	r.TransactionCode = txnCode.String
	r.ProcessedBy = processedBy.String
	if processedAt.Valid {
		t := processedAt.Time
		r.ProcessedAt = &t
	}
	return r, nil
}

func expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n != 1 {
		return fmt.Errorf("%w: status changed concurrently", ledger.ErrConflict)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
