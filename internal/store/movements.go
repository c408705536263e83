package store

import (
	"context"
	"fmt"

	"offline-pos/internal/events"
	"offline-pos/internal/models"

	"github.com/google/uuid"
)

const movementColumns = "id, product_id, type, quantity_change, reason, reference_id, timestamp, synced"

// InsertMovement appends a ledger entry. It never touches stock_level; callers
// adjust the counter in the same transaction where required.
func (t *Tx) InsertMovement(ctx context.Context, m *models.StockMovement) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = t.now()
	}
	_, err := t.tx.NamedExecContext(ctx, `
		INSERT INTO stock_movements (`+movementColumns+`)
		VALUES (:id, :product_id, :type, :quantity_change, :reason, :reference_id, :timestamp, :synced)`, m)
	if err != nil {
		return fmt.Errorf("failed to insert stock movement: %w", err)
	}
	t.record(events.TableStockMovements, events.OpInsert, m.ID)
	return nil
}

// ListMovements returns the ledger of one product, or all products when productID is empty.
func (t *Tx) ListMovements(ctx context.Context, productID string) ([]models.StockMovement, error) {
	var movements []models.StockMovement
	var err error
	if productID == "" {
		err = t.tx.SelectContext(ctx, &movements,
			"SELECT "+movementColumns+" FROM stock_movements ORDER BY timestamp, id")
	} else {
		err = t.tx.SelectContext(ctx, &movements,
			"SELECT "+movementColumns+" FROM stock_movements WHERE product_id = ? ORDER BY timestamp, id", productID)
	}
	return movements, err
}

// MovementsByReference returns movements written for a sale or other document.
func (t *Tx) MovementsByReference(ctx context.Context, referenceID string) ([]models.StockMovement, error) {
	var movements []models.StockMovement
	err := t.tx.SelectContext(ctx, &movements,
		"SELECT "+movementColumns+" FROM stock_movements WHERE reference_id = ? ORDER BY timestamp, id", referenceID)
	return movements, err
}

// InsertStockAudit records a physical count.
func (t *Tx) InsertStockAudit(ctx context.Context, a *models.StockAudit) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	_, err := t.tx.NamedExecContext(ctx, `
		INSERT INTO stock_audits (id, product_id, expected, counted, variance, note, timestamp)
		VALUES (:id, :product_id, :expected, :counted, :variance, :note, :timestamp)`, a)
	if err != nil {
		return fmt.Errorf("failed to insert stock audit: %w", err)
	}
	t.record(events.TableStockAudits, events.OpInsert, a.ID)
	return nil
}

func (s *Store) ListMovements(ctx context.Context, productID string) ([]models.StockMovement, error) {
	var movements []models.StockMovement
	err := s.View(ctx, func(tx *Tx) error {
		var err error
		movements, err = tx.ListMovements(ctx, productID)
		return err
	})
	return movements, err
}
