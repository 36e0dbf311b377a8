package pricing

import (
	"context"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

type catalogFile struct {
	Products []Product `yaml:"products"`
}

// LoadProductsYAML reads a product catalog:
//
//	products:
//	  - id: prod_chair
//	    name: Chair model
//	    price: 120000
//	    discount_percent: 10
//	    download_url: https://files.example.com/chair.zip
func LoadProductsYAML(r io.Reader) ([]Product, error) {
	var f catalogFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}

	seen := make(map[string]struct{}, len(f.Products))
	for i := range f.Products {
		p := &f.Products[i]
		if p.Status == "" {
			p.Status = ProductStatusActive
		}
		if err := validateProduct(*p); err != nil {
			return nil, fmt.Errorf("product %d: %w", i, err)
		}
		if _, dup := seen[p.ID]; dup {
			return nil, fmt.Errorf("product %q listed twice", p.ID)
		}
		seen[p.ID] = struct{}{}
	}
	return f.Products, nil
}

// ProductWriter is implemented by MemoryRepo and PostgresRepo.
type ProductWriter interface {
	UpsertProduct(ctx context.Context, p Product) error
}

// SeedProducts upserts every product; it stops at the first failure.
func SeedProducts(ctx context.Context, w ProductWriter, products []Product) (int, error) {
	for i, p := range products {
		if err := w.UpsertProduct(ctx, p); err != nil {
			return i, fmt.Errorf("upsert %q: %w", p.ID, err)
		}
	}
	return len(products), nil
}

func validateProduct(p Product) error {
	switch {
	case p.ID == "":
		return fmt.Errorf("%w: id is required", ErrInvalidProduct)
	case p.Price < 0:
		return fmt.Errorf("%w: negative price", ErrInvalidProduct)
	case p.DiscountPercent < 0 || p.DiscountPercent > 100:
		return fmt.Errorf("%w: discount_percent must be 0..100", ErrInvalidProduct)
	case p.Status != ProductStatusActive && p.Status != ProductStatusInactive:
		return fmt.Errorf("%w: unknown status %q", ErrInvalidProduct, p.Status)
	}
	return nil
}
