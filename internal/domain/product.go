package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Color identifies the colour of a variant. Hex is the identifying half.
type Color struct {
	Name string `json:"name"`
	Hex  string `json:"hex"`
}

// Variant represents a size/color combination of a product with its own stock
type Variant struct {
	Size  string           `json:"size"`
	Color Color            `json:"color"`
	Stock int              `json:"stock"`
	Price *decimal.Decimal `json:"price,omitempty"`
	SKU   string           `json:"sku,omitempty"`
}

// Matches reports whether the variant is identified by (size, hex).
// Hex codes are compared case-insensitively.
func (v Variant) Matches(size, hex string) bool {
	return v.Size == size && strings.EqualFold(v.Color.Hex, hex)
}

// LimitedOffer is a time-boxed promotional price capped at MaxUnits sold units
type LimitedOffer struct {
	IsActive     bool            `json:"is_active"`
	SpecialPrice decimal.Decimal `json:"special_price"`
	MaxUnits     int             `json:"max_units"`
	UnitsSold    int             `json:"units_sold"`
	StartsAt     time.Time       `json:"starts_at"`
	EndsAt       time.Time       `json:"ends_at"`
	Title        string          `json:"offer_title"`
}

// ValidAt reports whether the offer is active, inside its window and under its cap at t.
// The window is inclusive on both ends.
func (o *LimitedOffer) ValidAt(t time.Time) bool {
	if o == nil || !o.IsActive {
		return false
	}
	if t.Before(o.StartsAt) || t.After(o.EndsAt) {
		return false
	}
	return o.UnitsSold < o.MaxUnits
}

// RemainingAt returns the units still sellable under the offer at t, 0 when the offer is not valid.
func (o *LimitedOffer) RemainingAt(t time.Time) int {
	if !o.ValidAt(t) {
		return 0
	}
	return max(0, o.MaxUnits-o.UnitsSold)
}

// Product represents a product in the catalog
type Product struct {
	ID           uuid.UUID       `json:"id"`
	SKU          string          `json:"sku"`
	Name         string          `json:"name"`
	Description  string          `json:"description"`
	Price        decimal.Decimal `json:"price"`
	Stock        int             `json:"stock"`
	IsActive     bool            `json:"is_active"`
	Variants     []Variant       `json:"variants"`
	LimitedOffer *LimitedOffer   `json:"limited_offer,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// FindVariant returns the variant identified by (size, hex)
func (p *Product) FindVariant(size, hex string) (*Variant, bool) {
	for i := range p.Variants {
		if p.Variants[i].Matches(size, hex) {
			return &p.Variants[i], true
		}
	}
	return nil, false
}

// VariantStockTotal sums the stock of all variants.
func (p *Product) VariantStockTotal() int {
	total := 0
	for _, v := range p.Variants {
		total += v.Stock
	}
	return total
}

// Clone returns a deep copy of the product
func (p *Product) Clone() *Product {
	if p == nil {
		return nil
	}
	cp := *p
	if p.Variants != nil {
		cp.Variants = make([]Variant, len(p.Variants))
		for i, v := range p.Variants {
			if v.Price != nil {
				price := *v.Price
				v.Price = &price
			}
			cp.Variants[i] = v
		}
	}
	if p.LimitedOffer != nil {
		offer := *p.LimitedOffer
		cp.LimitedOffer = &offer
	}
	return &cp
}
