package orders

import (
	"context"
	"fmt"

	"payment-ledger/internal/pricing"
	"payment-ledger/pkg/logger"
)

// Granter unlocks and revokes what a completed order entitles the buyer to.
type Granter interface {
	Grant(ctx context.Context, o Order) (Entitlement, error)
	Revoke(ctx context.Context, o Order) error
}

// DownloadGranter hands out the product's download link. Access is gated by order status,
// so revocation only has to be recorded.
type DownloadGranter struct {
	Products pricing.ProductRepository
}

func (g DownloadGranter) Grant(ctx context.Context, o Order) (Entitlement, error) {
	p, ok, err := g.Products.FindProduct(ctx, o.ProductID)
	if err != nil {
		return Entitlement{}, err
	}
	if !ok {
		return Entitlement{}, fmt.Errorf("grant order %s: %w", o.ID, pricing.ErrProductNotFound)
	}
	return Entitlement{OrderID: o.ID, DownloadURL: p.DownloadURL}, nil
}

func (g DownloadGranter) Revoke(ctx context.Context, o Order) error {
	logger.From(ctx).Info("download entitlement revoked", "order_id", o.ID, "user_id", o.UserID)
	return nil
}
