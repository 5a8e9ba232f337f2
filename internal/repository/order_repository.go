package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"storefront/internal/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderRepository defines the interface for order data access
type OrderRepository interface {
	Create(ctx context.Context, order *domain.Order) error
	FindByID(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	FindByIdempotencyKey(ctx context.Context, userID uuid.UUID, key string) (*domain.Order, error)
	ListByUser(ctx context.Context, userID uuid.UUID, page, pageSize int) ([]*domain.Order, int, error)

	// TransitionStatus moves the order from `from` to `to` only if it is currently in `from`.
	// A non-nil owner scopes the update to that user's order.
	TransitionStatus(ctx context.Context, id uuid.UUID, owner *uuid.UUID, from, to domain.OrderStatus) (*domain.Order, error)
	UpdatePaymentStatus(ctx context.Context, id uuid.UUID, status domain.PaymentStatus) (*domain.Order, error)
}

type orderRepository struct {
	db DBTX
}

// NewOrderRepository creates a new instance of OrderRepository
func NewOrderRepository(db DBTX) OrderRepository {
	return &orderRepository{db: db}
}

const orderColumns = `
	id, order_number, user_id, subtotal, shipping_cost, tax_amount, total_amount,
	status, payment_status, payment_method, shipping_address, idempotency_key,
	cancelled_at, created_at, updated_at`

// Create inserts the order header and its line items
func (r *orderRepository) Create(ctx context.Context, order *domain.Order) error {
	address, err := json.Marshal(order.ShippingAddress)
	if err != nil {
		return fmt.Errorf("failed to encode shipping address: %w", err)
	}

	query := `
		INSERT INTO orders (id, order_number, user_id, subtotal, shipping_cost, tax_amount, total_amount,
			status, payment_status, payment_method, shipping_address, idempotency_key, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`
	_, err = r.db.ExecContext(
		ctx,
		query,
		order.ID,
		order.OrderNumber,
		order.UserID,
		order.Subtotal,
		order.ShippingCost,
		order.TaxAmount,
		order.TotalAmount,
		order.Status,
		order.PaymentStatus,
		order.PaymentMethod,
		address,
		sql.NullString{String: order.IdempotencyKey, Valid: order.IdempotencyKey != ""},
		order.CreatedAt,
		order.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err, "orders_user_idempotency_key") {
			return ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("failed to create order: %w", err)
	}

	itemQuery := `
		INSERT INTO order_items (order_id, position, product_id, name, price, original_price, quantity,
			size, color_name, color_hex,
			offer_type, offer_original_price, offer_price, offer_discount_amount, offer_title)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`
	for i, item := range order.Items {
		var (
			size, colorName, colorHex, offerType, offerTitle sql.NullString
			offerOriginal, offerPrice, offerDiscount         decimal.NullDecimal
		)
		if item.Size != "" {
			size = sql.NullString{String: item.Size, Valid: true}
		}
		if item.Color != nil {
			colorName = sql.NullString{String: item.Color.Name, Valid: true}
			colorHex = sql.NullString{String: item.Color.Hex, Valid: true}
		}
		if o := item.AppliedOffer; o != nil {
			offerType = sql.NullString{String: o.Type, Valid: true}
			offerOriginal = decimal.NullDecimal{Decimal: o.OriginalPrice, Valid: true}
			offerPrice = decimal.NullDecimal{Decimal: o.OfferPrice, Valid: true}
			offerDiscount = decimal.NullDecimal{Decimal: o.DiscountAmount, Valid: true}
			offerTitle = sql.NullString{String: o.Title, Valid: true}
		}

		_, err := r.db.ExecContext(ctx, itemQuery,
			order.ID, i, item.ProductID, item.Name, item.Price, item.OriginalPrice, item.Quantity,
			size, colorName, colorHex,
			offerType, offerOriginal, offerPrice, offerDiscount, offerTitle,
		)
		if err != nil {
			return fmt.Errorf("failed to create order item %d: %w", i, err)
		}
	}

	return nil
}

// FindByID retrieves an order with its items
func (r *orderRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	return r.findOne(ctx, query, id)
}

// FindByIdempotencyKey retrieves the order a user previously placed with key
func (r *orderRepository) FindByIdempotencyKey(ctx context.Context, userID uuid.UUID, key string) (*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE user_id = $1 AND idempotency_key = $2`
	return r.findOne(ctx, query, userID, key)
}

// ListByUser retrieves a user's orders, newest first
func (r *orderRepository) ListByUser(ctx context.Context, userID uuid.UUID, page, pageSize int) ([]*domain.Order, int, error) {
	var total int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM orders WHERE user_id = $1`, userID).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count orders: %w", err)
	}

	offset := (page - 1) * pageSize
	query := `SELECT ` + orderColumns + `
		FROM orders
		WHERE user_id = $1
		ORDER BY created_at DESC, id
		LIMIT $2 OFFSET $3`

	rows, err := r.db.QueryContext(ctx, query, userID, pageSize, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list orders: %w", err)
	}
	defer rows.Close()

	orders := []*domain.Order{}
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, order)
	}
	if err = rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating orders: %w", err)
	}

	for _, order := range orders {
		items, err := r.findItems(ctx, order.ID)
		if err != nil {
			return nil, 0, err
		}
		order.Items = items
	}

	return orders, total, nil
}

// TransitionStatus performs a compare-and-set on the order status
func (r *orderRepository) TransitionStatus(ctx context.Context, id uuid.UUID, owner *uuid.UUID, from, to domain.OrderStatus) (*domain.Order, error) {
	query := `
		UPDATE orders
		SET status = $3,
		    cancelled_at = CASE WHEN $3 = 'cancelled' THEN now() ELSE cancelled_at END,
		    updated_at = now()
		WHERE id = $1 AND status = $2 AND ($4::uuid IS NULL OR user_id = $4)
		RETURNING ` + orderColumns

	var ownerArg uuid.NullUUID
	if owner != nil {
		ownerArg = uuid.NullUUID{UUID: *owner, Valid: true}
	}

	order, err := scanOrder(r.db.QueryRowContext(ctx, query, id, from, to, ownerArg))
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("failed to transition order status: %w", err)
		}
		current, findErr := r.FindByID(ctx, id)
		if findErr != nil {
			return nil, findErr
		}
		if owner != nil && current.UserID != *owner {
			return nil, domain.ErrOrderNotFound
		}
		return nil, domain.ErrInvalidStateTransition
	}

	items, err := r.findItems(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	order.Items = items

	return order, nil
}

// UpdatePaymentStatus sets the payment axis independently of status
func (r *orderRepository) UpdatePaymentStatus(ctx context.Context, id uuid.UUID, status domain.PaymentStatus) (*domain.Order, error) {
	query := `
		UPDATE orders
		SET payment_status = $2, updated_at = now()
		WHERE id = $1
		RETURNING ` + orderColumns

	order, err := scanOrder(r.db.QueryRowContext(ctx, query, id, status))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrOrderNotFound
		}
		return nil, fmt.Errorf("failed to update payment status: %w", err)
	}

	items, err := r.findItems(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	order.Items = items

	return order, nil
}

func (r *orderRepository) findOne(ctx context.Context, query string, args ...any) (*domain.Order, error) {
	order, err := scanOrder(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrOrderNotFound
		}
		return nil, fmt.Errorf("failed to find order: %w", err)
	}

	items, err := r.findItems(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	order.Items = items

	return order, nil
}

func (r *orderRepository) findItems(ctx context.Context, orderID uuid.UUID) ([]domain.OrderItem, error) {
	query := `
		SELECT product_id, name, price, original_price, quantity, size, color_name, color_hex,
		       offer_type, offer_original_price, offer_price, offer_discount_amount, offer_title
		FROM order_items
		WHERE order_id = $1
		ORDER BY position
	`

	rows, err := r.db.QueryContext(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to list order items: %w", err)
	}
	defer rows.Close()

	items := []domain.OrderItem{}
	for rows.Next() {
		var (
			item                                             domain.OrderItem
			size, colorName, colorHex, offerType, offerTitle sql.NullString
			offerOriginal, offerPrice, offerDiscount         decimal.NullDecimal
		)
		err := rows.Scan(
			&item.ProductID, &item.Name, &item.Price, &item.OriginalPrice, &item.Quantity,
			&size, &colorName, &colorHex,
			&offerType, &offerOriginal, &offerPrice, &offerDiscount, &offerTitle,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order item: %w", err)
		}

		item.Size = size.String
		if colorHex.Valid {
			item.Color = &domain.Color{Name: colorName.String, Hex: colorHex.String}
		}
		if offerType.Valid {
			item.AppliedOffer = &domain.AppliedOffer{
				Type:           offerType.String,
				OriginalPrice:  offerOriginal.Decimal,
				OfferPrice:     offerPrice.Decimal,
				DiscountAmount: offerDiscount.Decimal,
				Title:          offerTitle.String,
			}
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating order items: %w", err)
	}

	return items, nil
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	var (
		order       domain.Order
		address     []byte
		key         sql.NullString
		cancelledAt sql.NullTime
	)

	err := row.Scan(
		&order.ID,
		&order.OrderNumber,
		&order.UserID,
		&order.Subtotal,
		&order.ShippingCost,
		&order.TaxAmount,
		&order.TotalAmount,
		&order.Status,
		&order.PaymentStatus,
		&order.PaymentMethod,
		&address,
		&key,
		&cancelledAt,
		&order.CreatedAt,
		&order.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(address, &order.ShippingAddress); err != nil {
		return nil, fmt.Errorf("failed to decode shipping address: %w", err)
	}
	order.IdempotencyKey = key.String
	if cancelledAt.Valid {
		at := cancelledAt.Time
		order.CancelledAt = &at
	}

	return &order, nil
}
