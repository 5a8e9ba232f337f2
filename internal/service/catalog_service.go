package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"storefront/internal/domain"
	"storefront/internal/pricing"
	"storefront/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ProductView is a catalog product decorated with what a shopper would pay right now
type ProductView struct {
	*domain.Product
	EffectivePrice      decimal.Decimal `json:"effective_price"`
	OfferValid          bool            `json:"offer_valid"`
	RemainingOfferUnits int             `json:"remaining_offer_units"`
}

// CreateProductInput seeds a catalog product
type CreateProductInput struct {
	SKU          string
	Name         string
	Description  string
	Price        decimal.Decimal
	Stock        int
	Variants     []domain.Variant
	LimitedOffer *domain.LimitedOffer
}

// CatalogService defines catalog reads and admin seeding
type CatalogService interface {
	GetProduct(ctx context.Context, id uuid.UUID) (*ProductView, error)
	ListProducts(ctx context.Context, page, pageSize int) ([]*ProductView, int, error)
	CreateProduct(ctx context.Context, in CreateProductInput) (*ProductView, error)
	GetEffectivePrice(p *domain.Product) decimal.Decimal
	RemainingOfferUnits(p *domain.Product) int
}

type catalogService struct {
	store   repository.Store
	pricing *pricing.Resolver
	logger  *zap.Logger
}

// NewCatalogService creates a new instance of CatalogService
func NewCatalogService(store repository.Store, resolver *pricing.Resolver, logger *zap.Logger) CatalogService {
	return &catalogService{
		store:   store,
		pricing: resolver,
		logger:  logger,
	}
}

// GetProduct returns an active product; inactive products are not found
func (s *catalogService) GetProduct(ctx context.Context, id uuid.UUID) (*ProductView, error) {
	p, err := s.store.Products().FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !p.IsActive {
		return nil, domain.ErrProductNotFound
	}
	return s.view(p), nil
}

// ListProducts returns active products with pagination
func (s *catalogService) ListProducts(ctx context.Context, page, pageSize int) ([]*ProductView, int, error) {
	page, pageSize = NormalizePage(page, pageSize)

	products, total, err := s.store.Products().List(ctx, page, pageSize)
	if err != nil {
		return nil, 0, err
	}

	views := make([]*ProductView, 0, len(products))
	for _, p := range products {
		views = append(views, s.view(p))
	}
	return views, total, nil
}

// CreateProduct validates and stores a new product
func (s *catalogService) CreateProduct(ctx context.Context, in CreateProductInput) (*ProductView, error) {
	if err := validateProduct(&in); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	p := &domain.Product{
		ID:           uuid.New(),
		SKU:          strings.TrimSpace(in.SKU),
		Name:         strings.TrimSpace(in.Name),
		Description:  in.Description,
		Price:        in.Price,
		Stock:        in.Stock,
		IsActive:     true,
		Variants:     in.Variants,
		LimitedOffer: in.LimitedOffer,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if p.Variants == nil {
		p.Variants = []domain.Variant{}
	}

	// the product row and its variants land together
	err := s.store.WithTx(ctx, func(tx repository.Store) error {
		return tx.Products().Create(ctx, p)
	})
	if err != nil {
		if errors.Is(err, repository.ErrProductAlreadyExists) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to create product: %w", err)
	}

	s.logger.Info("Product created",
		zap.String("product_id", p.ID.String()),
		zap.String("sku", p.SKU),
		zap.Int("variants", len(p.Variants)),
	)

	return s.view(p), nil
}

func (s *catalogService) GetEffectivePrice(p *domain.Product) decimal.Decimal {
	return s.pricing.EffectivePrice(p)
}

func (s *catalogService) RemainingOfferUnits(p *domain.Product) int {
	return s.pricing.RemainingOfferUnits(p)
}

func (s *catalogService) view(p *domain.Product) *ProductView {
	return &ProductView{
		Product:             p,
		EffectivePrice:      s.pricing.EffectivePrice(p),
		OfferValid:          s.pricing.IsOfferValid(p),
		RemainingOfferUnits: s.pricing.RemainingOfferUnits(p),
	}
}

// validateProduct enforces catalog invariants. With variants, an unset aggregate
// stock is derived from them; a set one must match their sum. Amounts are limited
// to whole cents.
func validateProduct(in *CreateProductInput) error {
	if strings.TrimSpace(in.SKU) == "" || strings.TrimSpace(in.Name) == "" {
		return domain.InvalidInputf("sku and name are required")
	}
	if in.Price.IsNegative() || !domain.IsWholeCents(in.Price) {
		return domain.InvalidInputf("price must be a non-negative amount in whole cents")
	}
	if in.Stock < 0 {
		return domain.InvalidInputf("stock must not be negative")
	}

	seen := map[string]bool{}
	for i, v := range in.Variants {
		if strings.TrimSpace(v.Size) == "" || strings.TrimSpace(v.Color.Hex) == "" {
			return domain.InvalidInputf("variant %d: size and color are required", i)
		}
		if v.Stock < 0 {
			return domain.InvalidInputf("variant %d: stock must not be negative", i)
		}
		if v.Price != nil && (v.Price.IsNegative() || !domain.IsWholeCents(*v.Price)) {
			return domain.InvalidInputf("variant %d: price must be a non-negative amount in whole cents", i)
		}
		key := v.Size + "|" + strings.ToUpper(v.Color.Hex)
		if seen[key] {
			return domain.InvalidInputf("variant %d: duplicate size/color", i)
		}
		seen[key] = true
	}
	if len(in.Variants) > 0 {
		total := (&domain.Product{Variants: in.Variants}).VariantStockTotal()
		if in.Stock == 0 {
			in.Stock = total
		} else if in.Stock != total {
			return domain.InvalidInputf("stock %d does not match variant stock total %d", in.Stock, total)
		}
	}

	if o := in.LimitedOffer; o != nil {
		if !o.SpecialPrice.LessThan(in.Price) || o.SpecialPrice.IsNegative() || !domain.IsWholeCents(o.SpecialPrice) {
			return domain.InvalidInputf("offer special price must be below the price and in whole cents")
		}
		// an override the offer cannot undercut would make the offer a surcharge
		for i, v := range in.Variants {
			if v.Price != nil && !o.SpecialPrice.LessThan(*v.Price) {
				return domain.InvalidInputf("variant %d: price must be above the offer special price", i)
			}
		}
		if o.MaxUnits < 1 {
			return domain.InvalidInputf("offer max units must be at least 1")
		}
		if o.UnitsSold < 0 || o.UnitsSold > o.MaxUnits {
			return domain.InvalidInputf("offer units sold must be between 0 and max units")
		}
		if o.EndsAt.Before(o.StartsAt) {
			return domain.InvalidInputf("offer must not end before it starts")
		}
	}

	return nil
}
