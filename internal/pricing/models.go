package pricing

import "time"

// Amounts are ledger units (int64), the same units the ledger balances use.

// Product is a purchasable downloadable item.
type Product struct {
	ID   string `json:"id" db:"id" yaml:"id"`
	Name string `json:"name" db:"name" yaml:"name"`

	Price int64 `json:"price" db:"price" yaml:"price"`
	// DiscountPercent is 0..100; the payable total is Price less the discount, rounded half-up.
	DiscountPercent int `json:"discount_percent" db:"discount_percent" yaml:"discount_percent"`

	// DownloadURL is what a completed order unlocks. Never exposed before payment.
	DownloadURL string `json:"-" db:"download_url" yaml:"download_url"`

	Status ProductStatus `json:"status" db:"status" yaml:"status"`

	CreatedAt time.Time `json:"created_at" db:"created_at" yaml:"-"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at" yaml:"-"`
}

type ProductStatus string

const (
	ProductStatusActive   ProductStatus = "active"
	ProductStatusInactive ProductStatus = "inactive"
)

// Quote is the price a user pays for a product right now.
type Quote struct {
	ProductID       string `json:"product_id"`
	Price           int64  `json:"price"`
	DiscountPercent int    `json:"discount_percent"`
	Discount        int64  `json:"discount"`
	Total           int64  `json:"total"`
}
