package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"

	"offline-pos/internal/events"
	"offline-pos/internal/models"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

const productColumns = `id, type, sku, name, category, price, is_active, stock_level, low_stock_threshold,
	is_composite, ingredients, duration_minutes, assigned_staff_id, created_at, updated_at`

// CreateProduct validates and inserts a product. Composite ingredients must
// already exist as non-composite retail products.
func (t *Tx) CreateProduct(ctx context.Context, p *models.Product) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if err := p.Validate(); err != nil {
		return err
	}
	if err := t.checkIngredients(ctx, p); err != nil {
		return err
	}

	now := t.now()
	p.CreatedAt, p.UpdatedAt = now, now
	if p.IsComposite {
		p.StockLevel = 0
	}

	_, err := t.tx.NamedExecContext(ctx, `
		INSERT INTO products (`+productColumns+`)
		VALUES (:id, :type, :sku, :name, :category, :price, :is_active, :stock_level, :low_stock_threshold,
			:is_composite, :ingredients, :duration_minutes, :assigned_staff_id, :created_at, :updated_at)`, p)
	if err != nil {
		return fmt.Errorf("failed to insert product: %w", err)
	}
	t.record(events.TableProducts, events.OpInsert, p.ID)
	return nil
}

// UpdateProduct rewrites descriptive fields. Stock is only changed through AddStock.
func (t *Tx) UpdateProduct(ctx context.Context, p *models.Product) error {
	existing, err := t.GetProduct(ctx, p.ID)
	if err != nil {
		return err
	}
	p.StockLevel = existing.StockLevel
	p.CreatedAt = existing.CreatedAt
	if p.IsComposite {
		p.StockLevel = 0
	}
	if err := p.Validate(); err != nil {
		return err
	}
	if err := t.checkIngredients(ctx, p); err != nil {
		return err
	}
	p.UpdatedAt = t.now()

	_, err = t.tx.NamedExecContext(ctx, `
		UPDATE products SET type = :type, sku = :sku, name = :name, category = :category, price = :price,
			is_active = :is_active, low_stock_threshold = :low_stock_threshold, is_composite = :is_composite,
			ingredients = :ingredients, duration_minutes = :duration_minutes,
			assigned_staff_id = :assigned_staff_id, updated_at = :updated_at
		WHERE id = :id`, p)
	if err != nil {
		return fmt.Errorf("failed to update product: %w", err)
	}
	t.record(events.TableProducts, events.OpUpdate, p.ID)
	return nil
}

func (t *Tx) checkIngredients(ctx context.Context, p *models.Product) error {
	for _, ing := range p.Ingredients {
		ingredient, err := t.GetProduct(ctx, ing.IngredientProductID)
		if err != nil {
			return fmt.Errorf("ingredient %s: %w", ing.IngredientProductID, err)
		}
		if ingredient.Type != models.ProductTypeRetail || ingredient.IsComposite {
			return fmt.Errorf("ingredient %s must be a simple retail product", ing.IngredientProductID)
		}
	}
	return nil
}

// GetProduct retrieves a product by ID
func (t *Tx) GetProduct(ctx context.Context, id string) (*models.Product, error) {
	var p models.Product
	err := t.tx.GetContext(ctx, &p, "SELECT "+productColumns+" FROM products WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("product", id)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// GetProductsByIDs retrieves multiple products keyed by id
func (t *Tx) GetProductsByIDs(ctx context.Context, ids []string) (map[string]*models.Product, error) {
	out := make(map[string]*models.Product, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	query, args, err := sqlx.In("SELECT "+productColumns+" FROM products WHERE id IN (?)", ids)
	if err != nil {
		return nil, err
	}
	var products []models.Product
	if err := t.tx.SelectContext(ctx, &products, t.tx.Rebind(query), args...); err != nil {
		return nil, err
	}
	for i := range products {
		out[products[i].ID] = &products[i]
	}
	return out, nil
}

// ListProducts retrieves all products ordered by name
func (t *Tx) ListProducts(ctx context.Context) ([]models.Product, error) {
	var products []models.Product
	err := t.tx.SelectContext(ctx, &products, "SELECT "+productColumns+" FROM products ORDER BY name, id")
	return products, err
}

// AddStock applies delta to the denormalized stock counter of a simple product.
func (t *Tx) AddStock(ctx context.Context, productID string, delta int) error {
	if delta == 0 {
		return nil
	}
	res, err := t.tx.ExecContext(ctx,
		"UPDATE products SET stock_level = stock_level + ?, updated_at = ? WHERE id = ? AND is_composite = 0",
		delta, t.now(), productID)
	if err != nil {
		return fmt.Errorf("failed to update stock for %s: %w", productID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("stock product", productID)
	}
	t.record(events.TableProducts, events.OpUpdate, productID)
	return nil
}

// Availability returns how many units of p can be sold right now. Composite
// availability is derived from ingredient stock; services return -1 (unlimited).
func (t *Tx) Availability(ctx context.Context, p *models.Product) (int, error) {
	if p.Type == models.ProductTypeService {
		return -1, nil
	}
	if !p.IsComposite {
		return p.StockLevel, nil
	}

	ids := make([]string, 0, len(p.Ingredients))
	for _, ing := range p.Ingredients {
		ids = append(ids, ing.IngredientProductID)
	}
	ingredients, err := t.GetProductsByIDs(ctx, ids)
	if err != nil {
		return 0, err
	}

	available := math.MaxInt
	for _, ing := range p.Ingredients {
		stock, ok := ingredients[ing.IngredientProductID]
		if !ok {
			return 0, notFound("ingredient", ing.IngredientProductID)
		}
		if n := stock.StockLevel / ing.QuantityPerUnit; n < available {
			available = n
		}
	}
	return available, nil
}

// ListProducts retrieves all products outside of any caller transaction.
func (s *Store) ListProducts(ctx context.Context) ([]models.Product, error) {
	var products []models.Product
	err := s.View(ctx, func(tx *Tx) error {
		var err error
		products, err = tx.ListProducts(ctx)
		return err
	})
	return products, err
}

// GetProduct retrieves a product outside of any caller transaction.
func (s *Store) GetProduct(ctx context.Context, id string) (*models.Product, error) {
	var p *models.Product
	err := s.View(ctx, func(tx *Tx) error {
		var err error
		p, err = tx.GetProduct(ctx, id)
		return err
	})
	return p, err
}
