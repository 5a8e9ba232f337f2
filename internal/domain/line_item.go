package domain

import (
	"strings"

	"github.com/google/uuid"
)

// LineItemRequest is a requested order line, either a SimpleItem or a VariantItem.
// Optional size/color are resolved once at the API boundary by NewLineItemRequest.
type LineItemRequest interface {
	Base() SimpleItem
	lineItem()
}

// SimpleItem requests a quantity of a product against its aggregate stock
type SimpleItem struct {
	ProductID uuid.UUID
	Quantity  int
}

func (s SimpleItem) Base() SimpleItem { return s }
func (SimpleItem) lineItem()          {}

// VariantItem requests a quantity of one size/color variant of a product
type VariantItem struct {
	SimpleItem
	Size  string
	Color Color
}

func (v VariantItem) Base() SimpleItem { return v.SimpleItem }
func (VariantItem) lineItem()          {}

// AsVariant returns the variant half of a request, if any
func AsVariant(item LineItemRequest) (VariantItem, bool) {
	v, ok := item.(VariantItem)
	return v, ok
}

// NewLineItemRequest builds the request variant matching the supplied fields.
// Size and color must be given together or not at all.
func NewLineItemRequest(productID uuid.UUID, quantity int, size string, color *Color) (LineItemRequest, error) {
	if productID == uuid.Nil {
		return nil, InvalidInputf("product id is required")
	}
	if quantity < 1 {
		return nil, InvalidInputf("quantity must be at least 1")
	}

	size = strings.TrimSpace(size)
	hasColor := color != nil && strings.TrimSpace(color.Hex) != ""

	switch {
	case size == "" && !hasColor:
		return SimpleItem{ProductID: productID, Quantity: quantity}, nil
	case size != "" && hasColor:
		return VariantItem{
			SimpleItem: SimpleItem{ProductID: productID, Quantity: quantity},
			Size:       size,
			Color:      Color{Name: strings.TrimSpace(color.Name), Hex: strings.TrimSpace(color.Hex)},
		}, nil
	default:
		return nil, InvalidInputf("size and color must be supplied together")
	}
}
