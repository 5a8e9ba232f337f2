package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderStatus is the fulfilment state of an order
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusConfirmed  OrderStatus = "confirmed"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusCancelled  OrderStatus = "cancelled"
)

// forward lifecycle; cancellation is handled separately
var nextStatus = map[OrderStatus]OrderStatus{
	OrderStatusPending:    OrderStatusConfirmed,
	OrderStatusConfirmed:  OrderStatusProcessing,
	OrderStatusProcessing: OrderStatusShipped,
	OrderStatusShipped:    OrderStatusDelivered,
}

// Valid reports whether s is a known status
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusConfirmed, OrderStatusProcessing,
		OrderStatusShipped, OrderStatusDelivered, OrderStatusCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether no transition leaves s
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled
}

// CanAdvanceTo reports whether an operator may move an order from s to next
func (s OrderStatus) CanAdvanceTo(next OrderStatus) bool {
	to, ok := nextStatus[s]
	return ok && to == next
}

// CanCancel reports whether a customer may cancel an order in status s
func (s OrderStatus) CanCancel() bool {
	return s == OrderStatusPending
}

// PaymentStatus is set by the payment collaborator
type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "pending"
	PaymentStatusPaid     PaymentStatus = "paid"
	PaymentStatusFailed   PaymentStatus = "failed"
	PaymentStatusRefunded PaymentStatus = "refunded"
)

func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentStatusPending, PaymentStatusPaid, PaymentStatusFailed, PaymentStatusRefunded:
		return true
	}
	return false
}

// PaymentMethod chosen at checkout
type PaymentMethod string

const (
	PaymentMethodCard           PaymentMethod = "card"
	PaymentMethodCashOnDelivery PaymentMethod = "cash_on_delivery"
	PaymentMethodPayPal         PaymentMethod = "paypal"
	PaymentMethodBankTransfer   PaymentMethod = "bank_transfer"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodCard, PaymentMethodCashOnDelivery, PaymentMethodPayPal, PaymentMethodBankTransfer:
		return true
	}
	return false
}

// ShippingAddress is copied onto the order at checkout
type ShippingAddress struct {
	FullName   string `json:"full_name"`
	Phone      string `json:"phone"`
	Street     string `json:"street"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

// Validate checks the fields required to ship an order
func (a ShippingAddress) Validate() error {
	required := map[string]string{
		"full_name":   a.FullName,
		"street":      a.Street,
		"city":        a.City,
		"postal_code": a.PostalCode,
		"country":     a.Country,
	}
	for field, value := range required {
		if strings.TrimSpace(value) == "" {
			return InvalidInputf("shipping address %s is required", field)
		}
	}
	return nil
}

const OfferTypeLimitedTime = "limited_time"

// AppliedOffer records the promotion a line was charged under
type AppliedOffer struct {
	Type           string          `json:"type"`
	OriginalPrice  decimal.Decimal `json:"original_price"`
	OfferPrice     decimal.Decimal `json:"offer_price"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	Title          string          `json:"offer_title"`
}

// OrderItem is a point-in-time copy of the product at order time
type OrderItem struct {
	ProductID     uuid.UUID       `json:"product_id"`
	Name          string          `json:"name"`
	Price         decimal.Decimal `json:"price"`
	OriginalPrice decimal.Decimal `json:"original_price"`
	Quantity      int             `json:"quantity"`
	Size          string          `json:"size,omitempty"`
	Color         *Color          `json:"color,omitempty"`
	AppliedOffer  *AppliedOffer   `json:"applied_offer,omitempty"`
}

// IsWholeCents reports whether d fits the two-decimal scale money is stored at
func IsWholeCents(d decimal.Decimal) bool {
	return d.Equal(d.Round(2))
}

// LineTotal is price × quantity
func (i OrderItem) LineTotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// HasVariant reports whether the line reserved variant stock
func (i OrderItem) HasVariant() bool {
	return i.Size != "" && i.Color != nil
}

// Order aggregate
type Order struct {
	ID              uuid.UUID       `json:"id"`
	OrderNumber     string          `json:"order_number"`
	UserID          uuid.UUID       `json:"user_id"`
	Items           []OrderItem     `json:"items"`
	Subtotal        decimal.Decimal `json:"subtotal"`
	ShippingCost    decimal.Decimal `json:"shipping_cost"`
	TaxAmount       decimal.Decimal `json:"tax_amount"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	Status          OrderStatus     `json:"status"`
	PaymentStatus   PaymentStatus   `json:"payment_status"`
	PaymentMethod   PaymentMethod   `json:"payment_method"`
	ShippingAddress ShippingAddress `json:"shipping_address"`
	IdempotencyKey  string          `json:"-"`
	CancelledAt     *time.Time      `json:"cancelled_at,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Recalculate derives Subtotal and TotalAmount from the items and charges
func (o *Order) Recalculate() {
	subtotal := decimal.Zero
	for _, item := range o.Items {
		subtotal = subtotal.Add(item.LineTotal())
	}
	o.Subtotal = subtotal
	o.TotalAmount = subtotal.Add(o.ShippingCost).Add(o.TaxAmount)
}

// TotalsConsistent reports whether subtotal = Σ line totals and total = subtotal + shipping + tax
func (o *Order) TotalsConsistent() bool {
	subtotal := decimal.Zero
	for _, item := range o.Items {
		subtotal = subtotal.Add(item.LineTotal())
	}
	return subtotal.Equal(o.Subtotal) &&
		o.TotalAmount.Equal(o.Subtotal.Add(o.ShippingCost).Add(o.TaxAmount))
}

// Clone returns a deep copy of the order
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	cp := *o
	cp.Items = make([]OrderItem, len(o.Items))
	for i, item := range o.Items {
		if item.Color != nil {
			color := *item.Color
			item.Color = &color
		}
		if item.AppliedOffer != nil {
			offer := *item.AppliedOffer
			item.AppliedOffer = &offer
		}
		cp.Items[i] = item
	}
	if o.CancelledAt != nil {
		at := *o.CancelledAt
		cp.CancelledAt = &at
	}
	return &cp
}

// NewOrderNumber returns a human-readable order number: ORD-<yymmddHHMMSS>-<random suffix>
func NewOrderNumber(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:6])
	return fmt.Sprintf("ORD-%s-%s", now.UTC().Format("060102150405"), suffix)
}
