// Package inventory reserves and releases product stock.
package inventory

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"storefront/internal/domain"
	"storefront/internal/repository"

	"github.com/google/uuid"
)

// Reservation records exactly which counters a line decremented, so release can reverse them
type Reservation struct {
	ProductID uuid.UUID
	Quantity  int
	Size      string
	ColorHex  string
}

// HasVariant reports whether the reservation touched variant stock
func (r Reservation) HasVariant() bool {
	return r.Size != "" && r.ColorHex != ""
}

// Compare orders reservations by product, then size, then case-folded color.
// Taking locks in this order keeps concurrent transactions from deadlocking.
func (r Reservation) Compare(o Reservation) int {
	if c := bytes.Compare(r.ProductID[:], o.ProductID[:]); c != 0 {
		return c
	}
	if c := strings.Compare(r.Size, o.Size); c != 0 {
		return c
	}
	return strings.Compare(strings.ToUpper(r.ColorHex), strings.ToUpper(o.ColorHex))
}

// ReservationForRequest is the reservation Reserve would make for req
func ReservationForRequest(req domain.LineItemRequest) Reservation {
	base := req.Base()
	res := Reservation{ProductID: base.ProductID, Quantity: base.Quantity}
	if v, ok := domain.AsVariant(req); ok {
		res.Size = v.Size
		res.ColorHex = v.Color.Hex
	}
	return res
}

// ReservationFor rebuilds the reservation a persisted order line made
func ReservationFor(item domain.OrderItem) Reservation {
	res := Reservation{ProductID: item.ProductID, Quantity: item.Quantity}
	if item.HasVariant() {
		res.Size = item.Size
		res.ColorHex = item.Color.Hex
	}
	return res
}

// Engine validates and reserves stock for order lines
type Engine struct{}

// NewEngine creates a stock reservation engine
func NewEngine() *Engine {
	return &Engine{}
}

// CheckAvailability is an advisory read-only check against a loaded product.
// Reserve remains the authority: stock can move between the two calls.
func (e *Engine) CheckAvailability(p *domain.Product, req domain.LineItemRequest) error {
	qty := req.Base().Quantity

	if v, ok := domain.AsVariant(req); ok {
		variant, found := p.FindVariant(v.Size, v.Color.Hex)
		if !found {
			return domain.ErrVariantNotFound
		}
		if variant.Stock < qty {
			return domain.ErrInsufficientStock
		}
		return nil
	}

	if p.Stock < qty {
		return domain.ErrInsufficientStock
	}
	return nil
}

// Reserve decrements the counters a line needs. Variant lines decrement the aggregate
// and then the variant, the same row order Release uses; both are conditional and
// either both apply or neither does.
func (e *Engine) Reserve(ctx context.Context, store repository.Store, req domain.LineItemRequest) (Reservation, error) {
	res := ReservationForRequest(req)

	err := store.WithTx(ctx, func(tx repository.Store) error {
		products := tx.Products()
		if err := products.DecrementStock(ctx, res.ProductID, res.Quantity); err != nil {
			return err
		}
		if res.HasVariant() {
			return products.DecrementVariantStock(ctx, res.ProductID, res.Size, res.ColorHex, res.Quantity)
		}
		return nil
	})
	if err != nil {
		return Reservation{}, err
	}

	return res, nil
}

// Release gives back everything a reservation took
func (e *Engine) Release(ctx context.Context, store repository.Store, res Reservation) error {
	return store.WithTx(ctx, func(tx repository.Store) error {
		products := tx.Products()
		if err := products.IncrementStock(ctx, res.ProductID, res.Quantity); err != nil {
			return fmt.Errorf("failed to release stock: %w", err)
		}
		if res.HasVariant() {
			if err := products.IncrementVariantStock(ctx, res.ProductID, res.Size, res.ColorHex, res.Quantity); err != nil {
				return fmt.Errorf("failed to release variant stock: %w", err)
			}
		}
		return nil
	})
}
