package transport

import (
	"net/http"

	"storefront/internal/middleware"
	"storefront/internal/service"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// ProductHandler serves the public catalog
type ProductHandler struct {
	catalog service.CatalogService
	logger  *zap.Logger
}

// NewProductHandler creates a new ProductHandler
func NewProductHandler(catalog service.CatalogService, logger *zap.Logger) *ProductHandler {
	return &ProductHandler{
		catalog: catalog,
		logger:  logger,
	}
}

// RegisterRoutes registers all catalog routes
func (h *ProductHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/products", func(r chi.Router) {
		r.Get("/", h.ListProducts)
		r.Get("/{productID}", h.GetProduct)
	})
}

// ListProducts returns active products with their current effective price
func (h *ProductHandler) ListProducts(w http.ResponseWriter, r *http.Request) {
	page, pageSize := pageParams(r)
	products, total, err := h.catalog.ListProducts(r.Context(), page, pageSize)
	if err != nil {
		respondServiceError(w, h.logger, "List products", err)
		return
	}

	middleware.RespondWithJSON(w, http.StatusOK, PageResponse[*service.ProductView]{
		Items:    products,
		Page:     page,
		PageSize: pageSize,
		Total:    total,
	})
}

// GetProduct returns one product with its effective price and remaining offer units
func (h *ProductHandler) GetProduct(w http.ResponseWriter, r *http.Request) {
	productID, ok := idParam(w, r, "productID")
	if !ok {
		return
	}

	product, err := h.catalog.GetProduct(r.Context(), productID)
	if err != nil {
		respondServiceError(w, h.logger, "Get product", err)
		return
	}

	middleware.RespondWithJSON(w, http.StatusOK, product)
}
