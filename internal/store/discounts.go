package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"offline-pos/internal/events"
	"offline-pos/internal/models"

	"github.com/google/uuid"
)

const discountColumns = "id, name, type, value, is_statutory, valid_from, valid_until, is_active"

// CreateDiscount creates a new discount
func (t *Tx) CreateDiscount(ctx context.Context, d *models.Discount) error {
	if err := d.Validate(); err != nil {
		return err
	}
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	_, err := t.tx.NamedExecContext(ctx, `
		INSERT INTO discounts (`+discountColumns+`)
		VALUES (:id, :name, :type, :value, :is_statutory, :valid_from, :valid_until, :is_active)`, d)
	if err != nil {
		return fmt.Errorf("failed to insert discount: %w", err)
	}
	t.record(events.TableDiscounts, events.OpInsert, d.ID)
	return nil
}

// GetDiscount retrieves a discount by ID
func (t *Tx) GetDiscount(ctx context.Context, id string) (*models.Discount, error) {
	var d models.Discount
	err := t.tx.GetContext(ctx, &d, "SELECT "+discountColumns+" FROM discounts WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("discount", id)
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// ListDiscounts returns every discount, statutory ones first.
func (t *Tx) ListDiscounts(ctx context.Context) ([]models.Discount, error) {
	var discounts []models.Discount
	err := t.tx.SelectContext(ctx, &discounts,
		"SELECT "+discountColumns+" FROM discounts ORDER BY is_statutory DESC, name")
	return discounts, err
}

func (t *Tx) discountExists(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := t.tx.GetContext(ctx, &exists, "SELECT EXISTS(SELECT 1 FROM discounts WHERE name = ?)", name)
	return exists, err
}

func (s *Store) ListDiscounts(ctx context.Context) ([]models.Discount, error) {
	var discounts []models.Discount
	err := s.View(ctx, func(tx *Tx) error {
		var err error
		discounts, err = tx.ListDiscounts(ctx)
		return err
	})
	return discounts, err
}
