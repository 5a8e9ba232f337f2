package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"storefront/internal/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var ErrProductAlreadyExists = errors.New("product with this sku already exists")

// ProductRepository is the catalog store. Every stock and offer mutation is a single
// conditional UPDATE so concurrent checkouts can never drive a counter out of bounds.
type ProductRepository interface {
	Create(ctx context.Context, product *domain.Product) error
	FindByID(ctx context.Context, id uuid.UUID) (*domain.Product, error)
	List(ctx context.Context, page, pageSize int) ([]*domain.Product, int, error)

	DecrementStock(ctx context.Context, id uuid.UUID, quantity int) error
	IncrementStock(ctx context.Context, id uuid.UUID, quantity int) error
	DecrementVariantStock(ctx context.Context, id uuid.UUID, size, colorHex string, quantity int) error
	IncrementVariantStock(ctx context.Context, id uuid.UUID, size, colorHex string, quantity int) error

	// IncrementOfferUnits allocates quantity offer units if the offer is valid at `at` and the cap holds.
	// It returns the offer as it stood after the allocation.
	IncrementOfferUnits(ctx context.Context, id uuid.UUID, quantity int, at time.Time) (*domain.LimitedOffer, error)
	DecrementOfferUnits(ctx context.Context, id uuid.UUID, quantity int) error
}

type productRepository struct {
	db DBTX
}

// NewProductRepository creates a new instance of ProductRepository
func NewProductRepository(db DBTX) ProductRepository {
	return &productRepository{db: db}
}

const productColumns = `
	id, sku, name, description, price, stock, is_active,
	offer_is_active, offer_special_price, offer_max_units, offer_units_sold,
	offer_starts_at, offer_ends_at, offer_title, created_at, updated_at`

// Create inserts a product and its variants
func (r *productRepository) Create(ctx context.Context, product *domain.Product) error {
	query := `
		INSERT INTO products (id, sku, name, description, price, stock, is_active,
			offer_is_active, offer_special_price, offer_max_units, offer_units_sold,
			offer_starts_at, offer_ends_at, offer_title, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`

	var (
		offerActive sql.NullBool
		special     decimal.NullDecimal
		maxUnits    sql.NullInt64
		unitsSold   sql.NullInt64
		startsAt    sql.NullTime
		endsAt      sql.NullTime
		title       sql.NullString
	)
	if o := product.LimitedOffer; o != nil {
		offerActive = sql.NullBool{Bool: o.IsActive, Valid: true}
		special = decimal.NullDecimal{Decimal: o.SpecialPrice, Valid: true}
		maxUnits = sql.NullInt64{Int64: int64(o.MaxUnits), Valid: true}
		unitsSold = sql.NullInt64{Int64: int64(o.UnitsSold), Valid: true}
		startsAt = sql.NullTime{Time: o.StartsAt, Valid: true}
		endsAt = sql.NullTime{Time: o.EndsAt, Valid: true}
		title = sql.NullString{String: o.Title, Valid: true}
	}

	_, err := r.db.ExecContext(
		ctx,
		query,
		product.ID,
		product.SKU,
		product.Name,
		product.Description,
		product.Price,
		product.Stock,
		product.IsActive,
		offerActive,
		special,
		maxUnits,
		unitsSold,
		startsAt,
		endsAt,
		title,
		product.CreatedAt,
		product.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err, "products_sku_key") {
			return ErrProductAlreadyExists
		}
		return fmt.Errorf("failed to create product: %w", err)
	}

	variantQuery := `
		INSERT INTO product_variants (product_id, position, size, color_name, color_hex, stock, price, sku)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	for i, v := range product.Variants {
		var price decimal.NullDecimal
		if v.Price != nil {
			price = decimal.NullDecimal{Decimal: *v.Price, Valid: true}
		}
		_, err := r.db.ExecContext(ctx, variantQuery,
			product.ID, i, v.Size, v.Color.Name, v.Color.Hex, v.Stock, price, sql.NullString{String: v.SKU, Valid: v.SKU != ""},
		)
		if err != nil {
			return fmt.Errorf("failed to create product variant %d: %w", i, err)
		}
	}

	return nil
}

// FindByID retrieves a product with its variants and limited offer
func (r *productRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE id = $1`

	product, err := scanProduct(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrProductNotFound
		}
		return nil, fmt.Errorf("failed to find product by ID: %w", err)
	}

	variants, err := r.findVariants(ctx, id)
	if err != nil {
		return nil, err
	}
	product.Variants = variants

	return product, nil
}

// List retrieves active products with pagination, newest first
func (r *productRepository) List(ctx context.Context, page, pageSize int) ([]*domain.Product, int, error) {
	var total int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM products WHERE is_active`).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count products: %w", err)
	}

	offset := (page - 1) * pageSize
	query := `SELECT ` + productColumns + `
		FROM products
		WHERE is_active
		ORDER BY created_at DESC, id
		LIMIT $1 OFFSET $2`

	rows, err := r.db.QueryContext(ctx, query, pageSize, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list products: %w", err)
	}
	defer rows.Close()

	products := []*domain.Product{}
	for rows.Next() {
		product, err := scanProduct(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan product: %w", err)
		}
		products = append(products, product)
	}
	if err = rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating products: %w", err)
	}

	for _, product := range products {
		variants, err := r.findVariants(ctx, product.ID)
		if err != nil {
			return nil, 0, err
		}
		product.Variants = variants
	}

	return products, total, nil
}

// DecrementStock removes quantity from aggregate stock only if enough remains
func (r *productRepository) DecrementStock(ctx context.Context, id uuid.UUID, quantity int) error {
	query := `
		UPDATE products
		SET stock = stock - $2, updated_at = now()
		WHERE id = $1 AND is_active AND stock >= $2
	`
	affected, err := r.exec(ctx, "decrement stock", query, id, quantity)
	if err != nil {
		return err
	}
	if affected == 0 {
		return r.conflictOrMissing(ctx, id)
	}
	return nil
}

// IncrementStock returns quantity to aggregate stock
func (r *productRepository) IncrementStock(ctx context.Context, id uuid.UUID, quantity int) error {
	query := `UPDATE products SET stock = stock + $2, updated_at = now() WHERE id = $1`

	affected, err := r.exec(ctx, "increment stock", query, id, quantity)
	if err != nil {
		return err
	}
	if affected == 0 {
		return domain.ErrProductNotFound
	}
	return nil
}

// DecrementVariantStock removes quantity from one variant only if enough remains
func (r *productRepository) DecrementVariantStock(ctx context.Context, id uuid.UUID, size, colorHex string, quantity int) error {
	query := `
		UPDATE product_variants
		SET stock = stock - $4
		WHERE product_id = $1 AND size = $2 AND upper(color_hex) = upper($3) AND stock >= $4
	`
	affected, err := r.exec(ctx, "decrement variant stock", query, id, size, colorHex, quantity)
	if err != nil {
		return err
	}
	if affected == 0 {
		exists, err := r.variantExists(ctx, id, size, colorHex)
		if err != nil {
			return err
		}
		if !exists {
			return domain.ErrVariantNotFound
		}
		return domain.ErrInsufficientStock
	}
	return nil
}

// IncrementVariantStock returns quantity to one variant
func (r *productRepository) IncrementVariantStock(ctx context.Context, id uuid.UUID, size, colorHex string, quantity int) error {
	query := `
		UPDATE product_variants
		SET stock = stock + $4
		WHERE product_id = $1 AND size = $2 AND upper(color_hex) = upper($3)
	`
	affected, err := r.exec(ctx, "increment variant stock", query, id, size, colorHex, quantity)
	if err != nil {
		return err
	}
	if affected == 0 {
		return domain.ErrVariantNotFound
	}
	return nil
}

// IncrementOfferUnits allocates offer units under the cap
func (r *productRepository) IncrementOfferUnits(ctx context.Context, id uuid.UUID, quantity int, at time.Time) (*domain.LimitedOffer, error) {
	query := `
		UPDATE products
		SET offer_units_sold = offer_units_sold + $2, updated_at = now()
		WHERE id = $1
		  AND offer_is_active
		  AND $3 BETWEEN offer_starts_at AND offer_ends_at
		  AND offer_units_sold + $2 <= offer_max_units
		RETURNING offer_is_active, offer_special_price, offer_max_units, offer_units_sold,
		          offer_starts_at, offer_ends_at, offer_title
	`

	offer := &domain.LimitedOffer{}
	err := r.db.QueryRowContext(ctx, query, id, quantity, at).Scan(
		&offer.IsActive,
		&offer.SpecialPrice,
		&offer.MaxUnits,
		&offer.UnitsSold,
		&offer.StartsAt,
		&offer.EndsAt,
		&offer.Title,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrOfferCapExceeded
		}
		return nil, fmt.Errorf("failed to increment offer units: %w", err)
	}

	return offer, nil
}

// DecrementOfferUnits gives quantity offer units back; units sold never drops below zero.
// A product whose offer has since been removed is left untouched.
func (r *productRepository) DecrementOfferUnits(ctx context.Context, id uuid.UUID, quantity int) error {
	query := `
		UPDATE products
		SET offer_units_sold = GREATEST(offer_units_sold - $2, 0), updated_at = now()
		WHERE id = $1 AND offer_units_sold IS NOT NULL
	`
	_, err := r.exec(ctx, "decrement offer units", query, id, quantity)
	return err
}

func (r *productRepository) exec(ctx context.Context, op, query string, args ...any) (int64, error) {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to %s: %w", op, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected, nil
}

// conflictOrMissing tells a failed stock predicate apart from a missing or deactivated product
func (r *productRepository) conflictOrMissing(ctx context.Context, id uuid.UUID) error {
	var active bool
	err := r.db.QueryRowContext(ctx, `SELECT is_active FROM products WHERE id = $1`, id).Scan(&active)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrProductNotFound
		}
		return fmt.Errorf("failed to check product: %w", err)
	}
	if !active {
		return domain.ErrProductNotFound
	}
	return domain.ErrInsufficientStock
}

func (r *productRepository) variantExists(ctx context.Context, id uuid.UUID, size, colorHex string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM product_variants
			WHERE product_id = $1 AND size = $2 AND upper(color_hex) = upper($3)
		)`, id, size, colorHex).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check variant: %w", err)
	}
	return exists, nil
}

func (r *productRepository) findVariants(ctx context.Context, id uuid.UUID) ([]domain.Variant, error) {
	query := `
		SELECT size, color_name, color_hex, stock, price, sku
		FROM product_variants
		WHERE product_id = $1
		ORDER BY position
	`

	rows, err := r.db.QueryContext(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list product variants: %w", err)
	}
	defer rows.Close()

	variants := []domain.Variant{}
	for rows.Next() {
		var (
			v     domain.Variant
			price decimal.NullDecimal
			sku   sql.NullString
		)
		if err := rows.Scan(&v.Size, &v.Color.Name, &v.Color.Hex, &v.Stock, &price, &sku); err != nil {
			return nil, fmt.Errorf("failed to scan product variant: %w", err)
		}
		if price.Valid {
			p := price.Decimal
			v.Price = &p
		}
		v.SKU = sku.String
		variants = append(variants, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating product variants: %w", err)
	}

	return variants, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (*domain.Product, error) {
	var (
		product     domain.Product
		offerActive sql.NullBool
		special     decimal.NullDecimal
		maxUnits    sql.NullInt64
		unitsSold   sql.NullInt64
		startsAt    sql.NullTime
		endsAt      sql.NullTime
		title       sql.NullString
	)

	err := row.Scan(
		&product.ID,
		&product.SKU,
		&product.Name,
		&product.Description,
		&product.Price,
		&product.Stock,
		&product.IsActive,
		&offerActive,
		&special,
		&maxUnits,
		&unitsSold,
		&startsAt,
		&endsAt,
		&title,
		&product.CreatedAt,
		&product.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if special.Valid {
		product.LimitedOffer = &domain.LimitedOffer{
			IsActive:     offerActive.Bool,
			SpecialPrice: special.Decimal,
			MaxUnits:     int(maxUnits.Int64),
			UnitsSold:    int(unitsSold.Int64),
			StartsAt:     startsAt.Time,
			EndsAt:       endsAt.Time,
			Title:        title.String,
		}
	}

	return &product, nil
}
