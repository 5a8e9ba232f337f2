package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	EventOrderCreated        = "order.created"
	EventOrderCancelled      = "order.cancelled"
	EventOrderStatusChanged  = "order.status_changed"
	EventOrderPaymentUpdated = "order.payment_updated"
)

// OrderEvent is handed to the notification collaborator through the outbox
type OrderEvent struct {
	EventID       string          `json:"event_id"`
	Type          string          `json:"type"`
	OrderID       uuid.UUID       `json:"order_id"`
	OrderNumber   string          `json:"order_number"`
	UserID        uuid.UUID       `json:"user_id"`
	Status        OrderStatus     `json:"status"`
	PaymentStatus PaymentStatus   `json:"payment_status"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Order         *Order          `json:"order,omitempty"`
}

// NewOrderEvent snapshots the order into an event of the given type
func NewOrderEvent(eventType string, order *Order, at time.Time) OrderEvent {
	evt := OrderEvent{
		EventID:       uuid.NewString(),
		Type:          eventType,
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		UserID:        order.UserID,
		Status:        order.Status,
		PaymentStatus: order.PaymentStatus,
		TotalAmount:   order.TotalAmount,
		OccurredAt:    at.UTC(),
	}
	if eventType == EventOrderCreated {
		evt.Order = order.Clone()
	}
	return evt
}
