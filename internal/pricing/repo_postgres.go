package pricing

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) FindProduct(ctx context.Context, id string) (Product, bool, error) {
	var p Product
	err := r.db.QueryRowContext(ctx, `
SELECT id, name, price, discount_percent, download_url, status, created_at, updated_at
FROM products WHERE id = $1`, id).Scan(
		&p.ID, &p.Name, &p.Price, &p.DiscountPercent, &p.DownloadURL, &p.Status, &p.CreatedAt, &p.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Product{}, false, nil
	}
	if err != nil {
		return Product{}, false, err
	}
	return p, true, nil
}

func (r *PostgresRepo) UpsertProduct(ctx context.Context, p Product) error {
	now := time.Now().UTC()
	_, err := r.db.ExecContext(ctx, `
INSERT INTO products (id, name, price, discount_percent, download_url, status, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
ON CONFLICT (id) DO UPDATE SET
	name = EXCLUDED.name,
	price = EXCLUDED.price,
	discount_percent = EXCLUDED.discount_percent,
	download_url = EXCLUDED.download_url,
	status = EXCLUDED.status,
	updated_at = EXCLUDED.updated_at`,
		p.ID, p.Name, p.Price, p.DiscountPercent, p.DownloadURL, p.Status, now,
	)
	return err
}
