package pricing

import (
	"testing"
	"time"

	"storefront/internal/domain"

	"github.com/google/uuid"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"
)

var fixedNow = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return fixedNow }

func productWithOffer(offer *domain.LimitedOffer) *domain.Product {
	return &domain.Product{
		ID:           uuid.New(),
		SKU:          "SKU-1",
		Name:         "Linen shirt",
		Price:        decimal.NewFromInt(100),
		Stock:        10,
		IsActive:     true,
		LimitedOffer: offer,
	}
}

func activeOffer(unitsSold, maxUnits int) *domain.LimitedOffer {
	return &domain.LimitedOffer{
		IsActive:     true,
		SpecialPrice: decimal.NewFromInt(80),
		MaxUnits:     maxUnits,
		UnitsSold:    unitsSold,
		StartsAt:     fixedNow.Add(-time.Hour),
		EndsAt:       fixedNow.Add(time.Hour),
		Title:        "Spring drop",
	}
}

func TestEffectivePrice(t *testing.T) {
	r := NewResolver(fixedClock)

	tests := []struct {
		name      string
		offer     *domain.LimitedOffer
		want      int64
		remaining int
	}{
		{name: "no offer", offer: nil, want: 100, remaining: 0},
		{name: "valid offer", offer: activeOffer(4, 5), want: 80, remaining: 1},
		{name: "offer sold out", offer: activeOffer(5, 5), want: 100, remaining: 0},
		{name: "inactive offer", offer: func() *domain.LimitedOffer { o := activeOffer(0, 5); o.IsActive = false; return o }(), want: 100},
		{name: "not started", offer: func() *domain.LimitedOffer { o := activeOffer(0, 5); o.StartsAt = fixedNow.Add(time.Minute); return o }(), want: 100},
		{name: "expired", offer: func() *domain.LimitedOffer { o := activeOffer(0, 5); o.EndsAt = fixedNow.Add(-time.Minute); return o }(), want: 100},
		{name: "window start is inclusive", offer: func() *domain.LimitedOffer { o := activeOffer(0, 5); o.StartsAt = fixedNow; return o }(), want: 80, remaining: 5},
		{name: "window end is inclusive", offer: func() *domain.LimitedOffer { o := activeOffer(2, 5); o.EndsAt = fixedNow; return o }(), want: 80, remaining: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := productWithOffer(tt.offer)
			if got := r.EffectivePrice(p); !got.Equal(decimal.NewFromInt(tt.want)) {
				t.Errorf("EffectivePrice = %s, want %d", got, tt.want)
			}
			if got := r.RemainingOfferUnits(p); got != tt.remaining {
				t.Errorf("RemainingOfferUnits = %d, want %d", got, tt.remaining)
			}
		})
	}
}

func TestEffectiveVariantPrice(t *testing.T) {
	r := NewResolver(fixedClock)
	override := decimal.NewFromInt(120)
	variant := &domain.Variant{Size: "M", Color: domain.Color{Name: "Red", Hex: "#FF0000"}, Stock: 2, Price: &override}

	p := productWithOffer(nil)
	if got := r.EffectiveVariantPrice(p, variant); !got.Equal(override) {
		t.Errorf("variant override should apply without an offer, got %s", got)
	}

	p.LimitedOffer = activeOffer(0, 5)
	if got := r.EffectiveVariantPrice(p, variant); !got.Equal(decimal.NewFromInt(80)) {
		t.Errorf("valid offer should win over variant override, got %s", got)
	}

	cheap := decimal.NewFromInt(60)
	cheapVariant := &domain.Variant{Size: "S", Color: domain.Color{Name: "Red", Hex: "#FF0000"}, Stock: 2, Price: &cheap}
	if got := r.EffectiveVariantPrice(p, cheapVariant); !got.Equal(cheap) {
		t.Errorf("override below the special price should be kept, got %s", got)
	}

	if got := r.BasePrice(p, nil); !got.Equal(p.Price) {
		t.Errorf("BasePrice without variant = %s, want %s", got, p.Price)
	}
}

// Feature: storefront-orders, Property 1: Effective price is idempotent
func TestProperty_EffectivePriceIsIdempotent(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("two reads with no mutation return the same price", prop.ForAll(
		func(unitsSold int, maxUnits int, active bool, offsetMinutes int) bool {
			offer := activeOffer(unitsSold, maxUnits)
			offer.IsActive = active
			offer.EndsAt = fixedNow.Add(time.Duration(offsetMinutes) * time.Minute)

			r := NewResolver(fixedClock)
			p := productWithOffer(offer)

			first := r.EffectivePrice(p)
			second := r.EffectivePrice(p)
			return first.Equal(second) && r.RemainingOfferUnits(p) == r.RemainingOfferUnits(p)
		},
		gen.IntRange(0, 20),
		gen.IntRange(0, 20),
		gen.Bool(),
		gen.IntRange(-120, 120),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}

// Feature: storefront-orders, Property 2: Offer price applies only while units remain
func TestProperty_OfferPriceRequiresRemainingUnits(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("special price is charged iff remaining units > 0", prop.ForAll(
		func(unitsSold int, maxUnits int) bool {
			r := NewResolver(fixedClock)
			p := productWithOffer(activeOffer(unitsSold, maxUnits))

			remaining := r.RemainingOfferUnits(p)
			if remaining < 0 {
				return false
			}
			if remaining > 0 {
				return r.EffectivePrice(p).Equal(p.LimitedOffer.SpecialPrice) && remaining == maxUnits-unitsSold
			}
			return r.EffectivePrice(p).Equal(p.Price)
		},
		gen.IntRange(0, 50),
		gen.IntRange(0, 50),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}
