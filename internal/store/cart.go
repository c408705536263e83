package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"offline-pos/internal/events"
	"offline-pos/internal/models"
)

// ListCartItems returns the active cart in insertion order.
func (t *Tx) ListCartItems(ctx context.Context) ([]models.CartItem, error) {
	var items []models.CartItem
	err := t.tx.SelectContext(ctx, &items,
		"SELECT product_id, name, type, category, quantity, price_at_sale FROM cart_items ORDER BY position")
	return items, err
}

// GetCartItem returns the cart line of a product, or nil when absent.
func (t *Tx) GetCartItem(ctx context.Context, productID string) (*models.CartItem, error) {
	var item models.CartItem
	err := t.tx.GetContext(ctx, &item,
		"SELECT product_id, name, type, category, quantity, price_at_sale FROM cart_items WHERE product_id = ?", productID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// UpsertCartItem writes a cart line. An existing line keeps its position and price_at_sale.
func (t *Tx) UpsertCartItem(ctx context.Context, item *models.CartItem) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO cart_items (product_id, name, type, category, quantity, price_at_sale, position)
		VALUES (?, ?, ?, ?, ?, ?, (SELECT COALESCE(MAX(position), 0) + 1 FROM cart_items))
		ON CONFLICT (product_id) DO UPDATE SET quantity = excluded.quantity`,
		item.ProductID, item.Name, item.Type, item.Category, item.Quantity, item.PriceAtSale)
	if err != nil {
		return fmt.Errorf("failed to write cart item: %w", err)
	}
	t.record(events.TableCartItems, events.OpUpdate, item.ProductID)
	return nil
}

func (t *Tx) DeleteCartItem(ctx context.Context, productID string) error {
	if _, err := t.tx.ExecContext(ctx, "DELETE FROM cart_items WHERE product_id = ?", productID); err != nil {
		return fmt.Errorf("failed to delete cart item: %w", err)
	}
	t.record(events.TableCartItems, events.OpDelete, productID)
	return nil
}

// ClearCart empties the cart without touching stock.
func (t *Tx) ClearCart(ctx context.Context) error {
	if _, err := t.tx.ExecContext(ctx, "DELETE FROM cart_items"); err != nil {
		return fmt.Errorf("failed to clear cart: %w", err)
	}
	t.record(events.TableCartItems, events.OpDelete, "")
	return nil
}
