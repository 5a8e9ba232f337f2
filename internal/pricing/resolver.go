package pricing

import (
	"time"

	"storefront/internal/domain"

	"github.com/shopspring/decimal"
)

// Resolver determines the unit price actually charged for a product.
// It has no side effects and depends only on product state and its clock.
type Resolver struct {
	now func() time.Time
}

// NewResolver creates a Resolver; a nil clock means time.Now
func NewResolver(now func() time.Time) *Resolver {
	if now == nil {
		now = time.Now
	}
	return &Resolver{now: now}
}

// Now returns the resolver's current time
func (r *Resolver) Now() time.Time {
	return r.now()
}

// IsOfferValid reports whether the product's limited offer applies right now
func (r *Resolver) IsOfferValid(p *domain.Product) bool {
	return p.LimitedOffer.ValidAt(r.now())
}

// EffectivePrice returns the offer's special price when the offer is valid, the catalog price otherwise
func (r *Resolver) EffectivePrice(p *domain.Product) decimal.Decimal {
	if r.IsOfferValid(p) {
		return p.LimitedOffer.SpecialPrice
	}
	return p.Price
}

// BasePrice is the non-promotional unit price, honouring a variant price override
func (r *Resolver) BasePrice(p *domain.Product, v *domain.Variant) decimal.Decimal {
	if v != nil && v.Price != nil {
		return *v.Price
	}
	return p.Price
}

// EffectiveVariantPrice is EffectivePrice for a specific variant. A valid offer
// replaces the base price only when it is cheaper.
func (r *Resolver) EffectiveVariantPrice(p *domain.Product, v *domain.Variant) decimal.Decimal {
	base := r.BasePrice(p, v)
	if r.IsOfferValid(p) && p.LimitedOffer.SpecialPrice.LessThan(base) {
		return p.LimitedOffer.SpecialPrice
	}
	return base
}

// RemainingOfferUnits returns max(0, maxUnits - unitsSold) while the offer is valid, else 0
func (r *Resolver) RemainingOfferUnits(p *domain.Product) int {
	return p.LimitedOffer.RemainingAt(r.now())
}
