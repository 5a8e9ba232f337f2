package transport

import (
	"net/http"
	"time"

	"storefront/internal/domain"
	"storefront/internal/middleware"
	"storefront/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// VariantRequest describes one size/color combination
type VariantRequest struct {
	Size  string           `json:"size" validate:"required,max=32"`
	Color ColorRequest     `json:"color"`
	Stock int              `json:"stock" validate:"gte=0"`
	Price *decimal.Decimal `json:"price"`
	SKU   string           `json:"sku" validate:"max=64"`
}

// LimitedOfferRequest describes a time-boxed, unit-capped promotion
type LimitedOfferRequest struct {
	IsActive     bool            `json:"is_active"`
	SpecialPrice decimal.Decimal `json:"special_price"`
	MaxUnits     int             `json:"max_units" validate:"gte=1"`
	UnitsSold    int             `json:"units_sold" validate:"gte=0"`
	StartsAt     time.Time       `json:"starts_at" validate:"required"`
	EndsAt       time.Time       `json:"ends_at" validate:"required"`
	Title        string          `json:"offer_title" validate:"max=200"`
}

// CreateProductRequest represents the admin product payload
type CreateProductRequest struct {
	SKU          string               `json:"sku" validate:"required,max=64"`
	Name         string               `json:"name" validate:"required,max=200"`
	Description  string               `json:"description"`
	Price        decimal.Decimal      `json:"price"`
	Stock        int                  `json:"stock" validate:"gte=0"`
	Variants     []VariantRequest     `json:"variants" validate:"max=200,dive"`
	LimitedOffer *LimitedOfferRequest `json:"limited_offer"`
}

// AdvanceStatusRequest moves an order along its fulfilment lifecycle
type AdvanceStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=confirmed processing shipped delivered"`
}

// RecordPaymentRequest carries a payment collaborator outcome
type RecordPaymentRequest struct {
	PaymentStatus string `json:"payment_status" validate:"required,oneof=pending paid failed refunded"`
}

// AdminHandler handles catalog seeding and operator order actions
type AdminHandler struct {
	catalog service.CatalogService
	orders  service.OrderService
	logger  *zap.Logger
}

// NewAdminHandler creates a new AdminHandler
func NewAdminHandler(catalog service.CatalogService, orders service.OrderService, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{
		catalog: catalog,
		orders:  orders,
		logger:  logger,
	}
}

// RegisterRoutes registers all admin routes behind authentication and the admin role
func (h *AdminHandler) RegisterRoutes(r chi.Router, authMiddleware func(http.Handler) http.Handler) {
	r.Route("/api/admin", func(r chi.Router) {
		r.Use(authMiddleware)
		r.Use(middleware.RequireAdmin(h.logger))

		r.Post("/products", h.CreateProduct)
		r.Post("/orders/{orderID}/status", h.AdvanceStatus)
		r.Post("/orders/{orderID}/payment", h.RecordPayment)
	})
}

// CreateProduct seeds a catalog product
func (h *AdminHandler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var req CreateProductRequest
	if err := middleware.DecodeAndValidate(r, &req); err != nil {
		respondDecodeError(w, h.logger, err)
		return
	}

	product, err := h.catalog.CreateProduct(r.Context(), req.toInput())
	if err != nil {
		respondServiceError(w, h.logger, "Create product", err)
		return
	}

	middleware.RespondWithJSON(w, http.StatusCreated, product)
}

// AdvanceStatus moves an order one step forward
func (h *AdminHandler) AdvanceStatus(w http.ResponseWriter, r *http.Request) {
	orderID, ok := idParam(w, r, "orderID")
	if !ok {
		return
	}

	var req AdvanceStatusRequest
	if err := middleware.DecodeAndValidate(r, &req); err != nil {
		respondDecodeError(w, h.logger, err)
		return
	}

	order, err := h.orders.AdvanceStatus(r.Context(), orderID, domain.OrderStatus(req.Status))
	if err != nil {
		respondServiceError(w, h.logger, "Advance order status", err)
		return
	}

	middleware.RespondWithJSON(w, http.StatusOK, order)
}

// RecordPayment applies a payment outcome reported by the payment collaborator
func (h *AdminHandler) RecordPayment(w http.ResponseWriter, r *http.Request) {
	orderID, ok := idParam(w, r, "orderID")
	if !ok {
		return
	}

	var req RecordPaymentRequest
	if err := middleware.DecodeAndValidate(r, &req); err != nil {
		respondDecodeError(w, h.logger, err)
		return
	}

	order, err := h.orders.RecordPayment(r.Context(), orderID, domain.PaymentStatus(req.PaymentStatus))
	if err != nil {
		respondServiceError(w, h.logger, "Record payment", err)
		return
	}

	middleware.RespondWithJSON(w, http.StatusOK, order)
}

func (req CreateProductRequest) toInput() service.CreateProductInput {
	in := service.CreateProductInput{
		SKU:         req.SKU,
		Name:        req.Name,
		Description: req.Description,
		Price:       req.Price,
		Stock:       req.Stock,
	}
	for _, v := range req.Variants {
		in.Variants = append(in.Variants, domain.Variant{
			Size:  v.Size,
			Color: domain.Color{Name: v.Color.Name, Hex: v.Color.Hex},
			Stock: v.Stock,
			Price: v.Price,
			SKU:   v.SKU,
		})
	}
	if o := req.LimitedOffer; o != nil {
		in.LimitedOffer = &domain.LimitedOffer{
			IsActive:     o.IsActive,
			SpecialPrice: o.SpecialPrice,
			MaxUnits:     o.MaxUnits,
			UnitsSold:    o.UnitsSold,
			StartsAt:     o.StartsAt.UTC(),
			EndsAt:       o.EndsAt.UTC(),
			Title:        o.Title,
		}
	}
	return in
}
