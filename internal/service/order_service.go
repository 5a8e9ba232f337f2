package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"storefront/internal/domain"
	"storefront/internal/inventory"
	"storefront/internal/metrics"
	"storefront/internal/offer"
	"storefront/internal/pricing"
	"storefront/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100

	maxIdempotencyKeyLen = 255
)

// PlaceOrderInput carries a checkout request. Items are already resolved into
// simple or variant lines by the API boundary.
type PlaceOrderInput struct {
	UserID          uuid.UUID
	Items           []domain.LineItemRequest
	ShippingAddress domain.ShippingAddress
	PaymentMethod   domain.PaymentMethod
	ShippingCost    decimal.Decimal
	TaxAmount       decimal.Decimal
	IdempotencyKey  string
}

// OrderService defines the order lifecycle operations
type OrderService interface {
	PlaceOrder(ctx context.Context, in PlaceOrderInput) (*domain.Order, error)
	CancelOrder(ctx context.Context, orderID, userID uuid.UUID) (*domain.Order, error)
	GetOrder(ctx context.Context, orderID, userID uuid.UUID, isAdmin bool) (*domain.Order, error)
	ListOrders(ctx context.Context, userID uuid.UUID, page, pageSize int) ([]*domain.Order, int, error)
	AdvanceStatus(ctx context.Context, orderID uuid.UUID, to domain.OrderStatus) (*domain.Order, error)
	RecordPayment(ctx context.Context, orderID uuid.UUID, status domain.PaymentStatus) (*domain.Order, error)
}

type orderService struct {
	store       repository.Store
	pricing     *pricing.Resolver
	inventory   *inventory.Engine
	offers      *offer.Tracker
	metrics     *metrics.OrderMetrics
	logger      *zap.Logger
	eventsTopic string
}

// NewOrderService creates a new instance of OrderService
func NewOrderService(
	store repository.Store,
	resolver *pricing.Resolver,
	orderMetrics *metrics.OrderMetrics,
	logger *zap.Logger,
	eventsTopic string,
) OrderService {
	return &orderService{
		store:       store,
		pricing:     resolver,
		inventory:   inventory.NewEngine(),
		offers:      offer.NewTracker(resolver),
		metrics:     orderMetrics,
		logger:      logger,
		eventsTopic: eventsTopic,
	}
}

// PlaceOrder validates, reserves and persists an order in one transaction
func (s *orderService) PlaceOrder(ctx context.Context, in PlaceOrderInput) (*domain.Order, error) {
	if err := validatePlaceOrder(in); err != nil {
		s.metrics.Failed.WithLabelValues("invalid_input").Inc()
		return nil, err
	}

	if in.IdempotencyKey != "" {
		existing, err := s.store.Orders().FindByIdempotencyKey(ctx, in.UserID, in.IdempotencyKey)
		if err == nil {
			s.logger.Info("Replaying idempotent order",
				zap.String("order_id", existing.ID.String()),
				zap.String("user_id", in.UserID.String()),
			)
			return existing, nil
		}
		if !errors.Is(err, domain.ErrOrderNotFound) {
			return nil, fmt.Errorf("failed to check idempotency key: %w", err)
		}
	}

	// Advisory pass: reject obviously unfulfillable requests before opening a transaction
	products := make([]*domain.Product, len(in.Items))
	for i, item := range in.Items {
		p, err := s.loadOrderable(ctx, item.Base().ProductID)
		if err == nil {
			err = s.inventory.CheckAvailability(p, item)
		}
		if err != nil {
			return nil, s.lineFailure(i, item, err)
		}
		products[i] = p
	}

	now := s.pricing.Now().UTC()
	order := &domain.Order{
		ID:              uuid.New(),
		OrderNumber:     domain.NewOrderNumber(now),
		UserID:          in.UserID,
		Items:           make([]domain.OrderItem, 0, len(in.Items)),
		ShippingCost:    in.ShippingCost,
		TaxAmount:       in.TaxAmount,
		Status:          domain.OrderStatusPending,
		PaymentStatus:   domain.PaymentStatusPending,
		PaymentMethod:   in.PaymentMethod,
		ShippingAddress: in.ShippingAddress,
		IdempotencyKey:  in.IdempotencyKey,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	allocated := map[uuid.UUID]int{}
	reserved := 0
	err := s.store.WithTx(ctx, func(tx repository.Store) error {
		lines := make([]domain.OrderItem, len(in.Items))
		for _, i := range lockOrder(len(in.Items), func(i int) inventory.Reservation {
			return inventory.ReservationForRequest(in.Items[i])
		}) {
			line, alloc, err := s.reserveLine(ctx, tx, products[i], in.Items[i])
			if err != nil {
				return s.lineFailure(i, in.Items[i], err)
			}
			if alloc != nil {
				allocated[alloc.ProductID] += alloc.Quantity
			}
			reserved += line.Quantity
			lines[i] = line
		}
		order.Items = append(order.Items, lines...)

		order.Recalculate()

		if err := tx.Orders().Create(ctx, order); err != nil {
			return err
		}
		return s.enqueue(ctx, tx, domain.EventOrderCreated, order)
	})
	if err != nil {
		if errors.Is(err, repository.ErrDuplicateIdempotencyKey) {
			// lost a race with a concurrent request carrying the same key
			return s.store.Orders().FindByIdempotencyKey(ctx, in.UserID, in.IdempotencyKey)
		}
		var lineErr *domain.LineItemError
		if !errors.As(err, &lineErr) {
			s.metrics.Failed.WithLabelValues("error").Inc()
			return nil, fmt.Errorf("failed to place order: %w", err)
		}
		return nil, err
	}

	s.metrics.Placed.Inc()
	s.metrics.UnitsReserved.Add(float64(reserved))
	for productID, units := range allocated {
		s.metrics.OfferUnitsAllocated.WithLabelValues(productID.String()).Add(float64(units))
	}

	s.logger.Info("Order placed",
		zap.String("order_id", order.ID.String()),
		zap.String("order_number", order.OrderNumber),
		zap.String("user_id", order.UserID.String()),
		zap.String("total_amount", order.TotalAmount.StringFixed(2)),
		zap.Int("lines", len(order.Items)),
	)

	return order, nil
}

// reserveLine claims offer units and stock for one line and builds its snapshot.
// The charged price follows the allocation that actually happened.
func (s *orderService) reserveLine(ctx context.Context, tx repository.Store, p *domain.Product, item domain.LineItemRequest) (domain.OrderItem, *offer.Allocation, error) {
	base := item.Base()
	line := domain.OrderItem{
		ProductID: p.ID,
		Name:      p.Name,
		Quantity:  base.Quantity,
	}

	var variant *domain.Variant
	if v, ok := domain.AsVariant(item); ok {
		found, exists := p.FindVariant(v.Size, v.Color.Hex)
		if !exists {
			return line, nil, domain.ErrVariantNotFound
		}
		variant = found
		color := found.Color
		line.Size = found.Size
		line.Color = &color
	}

	basePrice := s.pricing.BasePrice(p, variant)
	line.Price = basePrice
	line.OriginalPrice = basePrice

	alloc, err := s.offers.TryAllocate(ctx, tx, p, basePrice, base.Quantity)
	if err != nil {
		return line, nil, err
	}
	if alloc != nil {
		line.Price = alloc.OfferPrice
		line.AppliedOffer = alloc.AppliedOffer()
	}

	if _, err := s.inventory.Reserve(ctx, tx, item); err != nil {
		return line, nil, err
	}

	return line, alloc, nil
}

// CancelOrder cancels a pending order owned by userID and gives back everything it reserved
func (s *orderService) CancelOrder(ctx context.Context, orderID, userID uuid.UUID) (*domain.Order, error) {
	var cancelled *domain.Order
	err := s.store.WithTx(ctx, func(tx repository.Store) error {
		order, err := tx.Orders().TransitionStatus(ctx, orderID, &userID, domain.OrderStatusPending, domain.OrderStatusCancelled)
		if err != nil {
			return err
		}

		for _, i := range lockOrder(len(order.Items), func(i int) inventory.Reservation {
			return inventory.ReservationFor(order.Items[i])
		}) {
			item := order.Items[i]
			if err := s.inventory.Release(ctx, tx, inventory.ReservationFor(item)); err != nil {
				return err
			}
			if item.AppliedOffer != nil {
				if err := s.offers.Release(ctx, tx, item.ProductID, item.Quantity); err != nil {
					return err
				}
			}
		}

		cancelled = order
		return s.enqueue(ctx, tx, domain.EventOrderCancelled, order)
	})
	if err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) || errors.Is(err, domain.ErrInvalidStateTransition) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to cancel order: %w", err)
	}

	s.metrics.Cancelled.Inc()
	s.logger.Info("Order cancelled",
		zap.String("order_id", cancelled.ID.String()),
		zap.String("order_number", cancelled.OrderNumber),
		zap.String("user_id", userID.String()),
	)

	return cancelled, nil
}

// GetOrder returns an order visible to the caller; other users' orders are reported as not found
func (s *orderService) GetOrder(ctx context.Context, orderID, userID uuid.UUID, isAdmin bool) (*domain.Order, error) {
	order, err := s.store.Orders().FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !isAdmin && order.UserID != userID {
		return nil, domain.ErrOrderNotFound
	}
	return order, nil
}

// ListOrders returns the caller's orders, newest first
func (s *orderService) ListOrders(ctx context.Context, userID uuid.UUID, page, pageSize int) ([]*domain.Order, int, error) {
	page, pageSize = NormalizePage(page, pageSize)
	return s.store.Orders().ListByUser(ctx, userID, page, pageSize)
}

// AdvanceStatus moves an order one step along pending → confirmed → processing → shipped → delivered
func (s *orderService) AdvanceStatus(ctx context.Context, orderID uuid.UUID, to domain.OrderStatus) (*domain.Order, error) {
	if !to.Valid() || to == domain.OrderStatusCancelled || to == domain.OrderStatusPending {
		return nil, domain.InvalidInputf("status %q cannot be set by an operator", to)
	}

	var updated *domain.Order
	err := s.store.WithTx(ctx, func(tx repository.Store) error {
		current, err := tx.Orders().FindByID(ctx, orderID)
		if err != nil {
			return err
		}
		if !current.Status.CanAdvanceTo(to) {
			return domain.ErrInvalidStateTransition
		}

		order, err := tx.Orders().TransitionStatus(ctx, orderID, nil, current.Status, to)
		if err != nil {
			return err
		}

		updated = order
		return s.enqueue(ctx, tx, domain.EventOrderStatusChanged, order)
	})
	if err != nil {
		return nil, err
	}

	s.metrics.StatusChanges.WithLabelValues(string(to)).Inc()
	s.logger.Info("Order status advanced",
		zap.String("order_id", updated.ID.String()),
		zap.String("status", string(updated.Status)),
	)

	return updated, nil
}

// RecordPayment applies a payment outcome; a successful payment confirms a pending order
func (s *orderService) RecordPayment(ctx context.Context, orderID uuid.UUID, status domain.PaymentStatus) (*domain.Order, error) {
	if !status.Valid() {
		return nil, domain.InvalidInputf("unknown payment status %q", status)
	}

	var updated *domain.Order
	err := s.store.WithTx(ctx, func(tx repository.Store) error {
		order, err := tx.Orders().UpdatePaymentStatus(ctx, orderID, status)
		if err != nil {
			return err
		}

		if status == domain.PaymentStatusPaid && order.Status == domain.OrderStatusPending {
			order, err = tx.Orders().TransitionStatus(ctx, orderID, nil, domain.OrderStatusPending, domain.OrderStatusConfirmed)
			if err != nil {
				return err
			}
		}

		updated = order
		return s.enqueue(ctx, tx, domain.EventOrderPaymentUpdated, order)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Payment recorded",
		zap.String("order_id", updated.ID.String()),
		zap.String("payment_status", string(updated.PaymentStatus)),
		zap.String("status", string(updated.Status)),
	)

	return updated, nil
}

func (s *orderService) loadOrderable(ctx context.Context, id uuid.UUID) (*domain.Product, error) {
	p, err := s.store.Products().FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !p.IsActive {
		return nil, domain.ErrProductNotFound
	}
	return p, nil
}

// lockOrder returns line indexes sorted by the rows they touch, so concurrent
// checkouts and cancellations take row locks in the same sequence
func lockOrder(n int, reservation func(i int) inventory.Reservation) []int {
	idx := make([]int, n)
	keys := make([]inventory.Reservation, n)
	for i := range idx {
		idx[i] = i
		keys[i] = reservation(i)
	}
	slices.SortStableFunc(idx, func(a, b int) int {
		return keys[a].Compare(keys[b])
	})
	return idx
}

func (s *orderService) lineFailure(index int, item domain.LineItemRequest, err error) error {
	lineErr := &domain.LineItemError{Index: index, ProductID: item.Base().ProductID, Err: err}
	if lineErr.Reason() == "error" {
		return fmt.Errorf("line %d: %w", index, err)
	}
	s.metrics.Failed.WithLabelValues(lineErr.Reason()).Inc()
	return lineErr
}

func (s *orderService) enqueue(ctx context.Context, tx repository.Store, eventType string, order *domain.Order) error {
	evt := domain.NewOrderEvent(eventType, order, s.pricing.Now())
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to encode %s event: %w", eventType, err)
	}

	return tx.Outbox().Insert(ctx, &repository.OutboxMessage{
		EventID: evt.EventID,
		Topic:   s.eventsTopic,
		Key:     order.ID.String(),
		Payload: payload,
	})
}

func validatePlaceOrder(in PlaceOrderInput) error {
	if in.UserID == uuid.Nil {
		return domain.InvalidInputf("user id is required")
	}
	if len(in.Items) == 0 {
		return domain.InvalidInputf("order must contain at least one item")
	}
	for i, item := range in.Items {
		if item == nil {
			return domain.InvalidInputf("item %d is empty", i)
		}
		base := item.Base()
		if base.ProductID == uuid.Nil {
			return domain.InvalidInputf("item %d: product id is required", i)
		}
		if base.Quantity < 1 {
			return domain.InvalidInputf("item %d: quantity must be at least 1", i)
		}
	}
	if err := in.ShippingAddress.Validate(); err != nil {
		return err
	}
	if !in.PaymentMethod.Valid() {
		return domain.InvalidInputf("unsupported payment method %q", in.PaymentMethod)
	}
	if in.ShippingCost.IsNegative() || !domain.IsWholeCents(in.ShippingCost) {
		return domain.InvalidInputf("shipping cost must be a non-negative amount in whole cents")
	}
	if in.TaxAmount.IsNegative() || !domain.IsWholeCents(in.TaxAmount) {
		return domain.InvalidInputf("tax amount must be a non-negative amount in whole cents")
	}
	if len(in.IdempotencyKey) > maxIdempotencyKeyLen {
		return domain.InvalidInputf("idempotency key must be at most %d characters", maxIdempotencyKeyLen)
	}
	return nil
}

// NormalizePage clamps pagination parameters to sane values
func NormalizePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	return page, pageSize
}
