package transport

import (
	"net/http"
	"strings"

	"storefront/internal/domain"
	"storefront/internal/middleware"
	"storefront/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// IdempotencyKeyHeader lets clients retry a checkout without placing it twice
const IdempotencyKeyHeader = "Idempotency-Key"

// ColorRequest identifies a variant color
type ColorRequest struct {
	Name string `json:"name" validate:"max=64"`
	Hex  string `json:"hex" validate:"required,hexcolor"`
}

// LineItemRequest is one checkout line. Size and color select a variant.
type LineItemRequest struct {
	ProductID string        `json:"product_id" validate:"required,uuid"`
	Quantity  int           `json:"quantity" validate:"gte=1,lte=1000"`
	Size      string        `json:"size" validate:"max=32"`
	Color     *ColorRequest `json:"color"`
}

// ShippingAddressRequest represents the shipping address payload
type ShippingAddressRequest struct {
	FullName   string `json:"full_name" validate:"required,max=200"`
	Phone      string `json:"phone" validate:"max=32"`
	Street     string `json:"street" validate:"required,max=200"`
	City       string `json:"city" validate:"required,max=100"`
	State      string `json:"state" validate:"max=100"`
	PostalCode string `json:"postal_code" validate:"required,max=20"`
	Country    string `json:"country" validate:"required,max=100"`
}

// PlaceOrderRequest represents the checkout payload
type PlaceOrderRequest struct {
	Items           []LineItemRequest      `json:"items" validate:"required,min=1,max=100,dive"`
	ShippingAddress ShippingAddressRequest `json:"shipping_address"`
	PaymentMethod   string                 `json:"payment_method" validate:"required,oneof=card cash_on_delivery paypal bank_transfer"`
	ShippingCost    decimal.Decimal        `json:"shipping_cost"`
	TaxAmount       decimal.Decimal        `json:"tax_amount"`
}

// OrderHandler handles HTTP requests for customer order operations
type OrderHandler struct {
	orders service.OrderService
	logger *zap.Logger
}

// NewOrderHandler creates a new OrderHandler
func NewOrderHandler(orders service.OrderService, logger *zap.Logger) *OrderHandler {
	return &OrderHandler{
		orders: orders,
		logger: logger,
	}
}

// RegisterRoutes registers all order routes. checkoutLimiter guards order placement only.
func (h *OrderHandler) RegisterRoutes(r chi.Router, authMiddleware, checkoutLimiter func(http.Handler) http.Handler) {
	r.Route("/api/orders", func(r chi.Router) {
		r.Use(authMiddleware)
		r.With(checkoutLimiter).Post("/", h.PlaceOrder)
		r.Get("/", h.ListOrders)
		r.Get("/{orderID}", h.GetOrder)
		r.Post("/{orderID}/cancel", h.CancelOrder)
	})
}

// PlaceOrder handles checkout
func (h *OrderHandler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.GetPrincipal(r.Context())
	if !ok {
		middleware.RespondWithError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req PlaceOrderRequest
	if err := middleware.DecodeAndValidate(r, &req); err != nil {
		respondDecodeError(w, h.logger, err)
		return
	}

	in, err := req.toInput(principal.UserID, r.Header.Get(IdempotencyKeyHeader))
	if err != nil {
		respondServiceError(w, h.logger, "Place order", err)
		return
	}

	order, err := h.orders.PlaceOrder(r.Context(), in)
	if err != nil {
		respondServiceError(w, h.logger, "Place order", err)
		return
	}

	middleware.RespondWithJSON(w, http.StatusCreated, order)
}

// ListOrders returns the caller's orders
func (h *OrderHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.GetPrincipal(r.Context())
	if !ok {
		middleware.RespondWithError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	page, pageSize := pageParams(r)
	orders, total, err := h.orders.ListOrders(r.Context(), principal.UserID, page, pageSize)
	if err != nil {
		respondServiceError(w, h.logger, "List orders", err)
		return
	}

	middleware.RespondWithJSON(w, http.StatusOK, PageResponse[*domain.Order]{
		Items:    orders,
		Page:     page,
		PageSize: pageSize,
		Total:    total,
	})
}

// GetOrder returns one order; admins may read any order
func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.GetPrincipal(r.Context())
	if !ok {
		middleware.RespondWithError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	orderID, ok := idParam(w, r, "orderID")
	if !ok {
		return
	}

	order, err := h.orders.GetOrder(r.Context(), orderID, principal.UserID, principal.IsAdmin())
	if err != nil {
		respondServiceError(w, h.logger, "Get order", err)
		return
	}

	middleware.RespondWithJSON(w, http.StatusOK, order)
}

// CancelOrder cancels one of the caller's pending orders
func (h *OrderHandler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.GetPrincipal(r.Context())
	if !ok {
		middleware.RespondWithError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	orderID, ok := idParam(w, r, "orderID")
	if !ok {
		return
	}

	order, err := h.orders.CancelOrder(r.Context(), orderID, principal.UserID)
	if err != nil {
		respondServiceError(w, h.logger, "Cancel order", err)
		return
	}

	middleware.RespondWithJSON(w, http.StatusOK, order)
}

func (req PlaceOrderRequest) toInput(userID uuid.UUID, idempotencyKey string) (service.PlaceOrderInput, error) {
	items := make([]domain.LineItemRequest, 0, len(req.Items))
	for i, item := range req.Items {
		var color *domain.Color
		if item.Color != nil {
			color = &domain.Color{Name: item.Color.Name, Hex: item.Color.Hex}
		}
		line, err := domain.NewLineItemRequest(uuid.MustParse(item.ProductID), item.Quantity, item.Size, color)
		if err != nil {
			return service.PlaceOrderInput{}, &domain.LineItemError{Index: i, ProductID: uuid.MustParse(item.ProductID), Err: err}
		}
		items = append(items, line)
	}

	a := req.ShippingAddress
	return service.PlaceOrderInput{
		UserID: userID,
		Items:  items,
		ShippingAddress: domain.ShippingAddress{
			FullName:   a.FullName,
			Phone:      a.Phone,
			Street:     a.Street,
			City:       a.City,
			State:      a.State,
			PostalCode: a.PostalCode,
			Country:    a.Country,
		},
		PaymentMethod:  domain.PaymentMethod(req.PaymentMethod),
		ShippingCost:   req.ShippingCost,
		TaxAmount:      req.TaxAmount,
		IdempotencyKey: strings.TrimSpace(idempotencyKey),
	}, nil
}
