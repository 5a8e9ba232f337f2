// Package offer allocates limited-offer units to order lines.
package offer

import (
	"context"
	"errors"
	"fmt"

	"storefront/internal/domain"
	"storefront/internal/pricing"
	"storefront/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Allocation is a successful claim of offer units for one line
type Allocation struct {
	ProductID     uuid.UUID
	Quantity      int
	OriginalPrice decimal.Decimal
	OfferPrice    decimal.Decimal
	Title         string
}

// DiscountAmount is (original - offer) × quantity
func (a *Allocation) DiscountAmount() decimal.Decimal {
	return a.OriginalPrice.Sub(a.OfferPrice).Mul(decimal.NewFromInt(int64(a.Quantity)))
}

// AppliedOffer is the record attached to the order line
func (a *Allocation) AppliedOffer() *domain.AppliedOffer {
	return &domain.AppliedOffer{
		Type:           domain.OfferTypeLimitedTime,
		OriginalPrice:  a.OriginalPrice,
		OfferPrice:     a.OfferPrice,
		DiscountAmount: a.DiscountAmount(),
		Title:          a.Title,
	}
}

// Tracker claims and returns offer units
type Tracker struct {
	pricing *pricing.Resolver
}

// NewTracker creates a Tracker that reads the clock from resolver
func NewTracker(resolver *pricing.Resolver) *Tracker {
	return &Tracker{pricing: resolver}
}

// TryAllocate claims quantity offer units for p, all or nothing.
// It returns nil without error when the line does not qualify, including when
// originalPrice (what the line costs without the offer) is already at or below
// the special price.
func (t *Tracker) TryAllocate(ctx context.Context, store repository.Store, p *domain.Product, originalPrice decimal.Decimal, quantity int) (*Allocation, error) {
	if p.LimitedOffer == nil || !p.LimitedOffer.SpecialPrice.LessThan(originalPrice) {
		return nil, nil
	}

	offer, err := store.Products().IncrementOfferUnits(ctx, p.ID, quantity, t.pricing.Now())
	if err != nil {
		if errors.Is(err, domain.ErrOfferCapExceeded) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to allocate offer units: %w", err)
	}

	return &Allocation{
		ProductID:     p.ID,
		Quantity:      quantity,
		OriginalPrice: originalPrice,
		OfferPrice:    offer.SpecialPrice,
		Title:         offer.Title,
	}, nil
}

// Release returns offer units taken by a cancelled line
func (t *Tracker) Release(ctx context.Context, store repository.Store, productID uuid.UUID, quantity int) error {
	if err := store.Products().DecrementOfferUnits(ctx, productID, quantity); err != nil {
		return fmt.Errorf("failed to release offer units: %w", err)
	}
	return nil
}
