package pricing

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// Service quotes product prices.
//
// Contract:
// - Pure calculation + repository lookups.
// - Inactive products cannot be quoted.
// - The discount is rounded half-up to whole ledger units; Total never goes below zero.
type Service struct {
	repo ProductRepository
}

func NewService(repo ProductRepository) *Service {
	return &Service{repo: repo}
}

var (
	ErrProductNotFound = errors.New("product not found")
	ErrInvalidProduct  = errors.New("invalid product")
)

// ProductRepository abstracts catalog persistence.
type ProductRepository interface {
	FindProduct(ctx context.Context, id string) (Product, bool, error)
}

// Product returns an active product by id.
func (s *Service) Product(ctx context.Context, id string) (Product, error) {
	if id == "" {
		return Product{}, ErrProductNotFound
	}
	p, ok, err := s.repo.FindProduct(ctx, id)
	if err != nil {
		return Product{}, err
	}
	if !ok || p.Status != ProductStatusActive {
		return Product{}, ErrProductNotFound
	}
	return p, nil
}

func (s *Service) Quote(ctx context.Context, productID string) (Quote, error) {
	p, err := s.Product(ctx, productID)
	if err != nil {
		return Quote{}, err
	}
	if err := validateProduct(p); err != nil {
		return Quote{}, err
	}
	discount := discountAmount(p.Price, p.DiscountPercent)
	return Quote{
		ProductID:       p.ID,
		Price:           p.Price,
		DiscountPercent: p.DiscountPercent,
		Discount:        discount,
		Total:           p.Price - discount,
	}, nil
}

func discountAmount(price int64, percent int) int64 {
	if percent <= 0 || price <= 0 {
		return 0
	}
	if percent >= 100 {
		return price
	}
	d := decimal.NewFromInt(price).Mul(decimal.NewFromInt(int64(percent))).Div(decimal.NewFromInt(100))
	return d.Round(0).IntPart()
}
