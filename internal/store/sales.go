package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"offline-pos/internal/events"
	"offline-pos/internal/models"
)

const saleColumns = `id, invoice_number, items, subtotal_amount, discount_name, discount_amount, discount_info,
	tax_name, tax_rate_snapshot, is_tax_inclusive, tax_amount, service_charge_amount, total_amount,
	payment_method, customer_id, shift_id, status, timestamp, synced`

// NextInvoiceNumber returns the zero-padded successor of the highest invoice so far.
func (t *Tx) NextInvoiceNumber(ctx context.Context) (string, error) {
	var last int64
	err := t.tx.GetContext(ctx, &last, "SELECT COALESCE(MAX(CAST(invoice_number AS INTEGER)), 0) FROM sales")
	if err != nil {
		return "", fmt.Errorf("failed to read last invoice number: %w", err)
	}
	return fmt.Sprintf("%06d", last+1), nil
}

// InsertSale creates a new sale
func (t *Tx) InsertSale(ctx context.Context, sale *models.Sale) error {
	_, err := t.tx.NamedExecContext(ctx, `
		INSERT INTO sales (`+saleColumns+`)
		VALUES (:id, :invoice_number, :items, :subtotal_amount, :discount_name, :discount_amount, :discount_info,
			:tax_name, :tax_rate_snapshot, :is_tax_inclusive, :tax_amount, :service_charge_amount, :total_amount,
			:payment_method, :customer_id, :shift_id, :status, :timestamp, :synced)`, sale)
	if err != nil {
		return fmt.Errorf("failed to insert sale: %w", err)
	}
	t.record(events.TableSales, events.OpInsert, sale.ID)
	return nil
}

// GetSale retrieves a sale by ID
func (t *Tx) GetSale(ctx context.Context, id string) (*models.Sale, error) {
	var sale models.Sale
	err := t.tx.GetContext(ctx, &sale, "SELECT "+saleColumns+" FROM sales WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("sale", id)
	}
	if err != nil {
		return nil, err
	}
	return &sale, nil
}

// UpdateSaleStatus moves a sale to a new status. The sale is unsynced again
// so the new status reaches the remote side.
func (t *Tx) UpdateSaleStatus(ctx context.Context, id string, from, to models.SaleStatus) error {
	res, err := t.tx.ExecContext(ctx,
		"UPDATE sales SET status = ?, synced = 0 WHERE id = ? AND status = ?", to, id, from)
	if err != nil {
		return fmt.Errorf("failed to update sale status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("sale in status "+string(from), id)
	}
	t.record(events.TableSales, events.OpUpdate, id)
	return nil
}

// SaleFilter narrows ListSales. Zero values are ignored.
type SaleFilter struct {
	From   time.Time
	To     time.Time
	Status models.SaleStatus
	Limit  int
}

// ListSales retrieves sales newest first
func (t *Tx) ListSales(ctx context.Context, f SaleFilter) ([]models.Sale, error) {
	query := "SELECT " + saleColumns + " FROM sales WHERE 1 = 1"
	var args []interface{}
	if !f.From.IsZero() {
		query += " AND timestamp >= ?"
		args = append(args, f.From.UTC())
	}
	if !f.To.IsZero() {
		query += " AND timestamp < ?"
		args = append(args, f.To.UTC())
	}
	if f.Status != "" {
		query += " AND status = ?"
		args = append(args, f.Status)
	}
	query += " ORDER BY timestamp DESC, invoice_number DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	var sales []models.Sale
	err := t.tx.SelectContext(ctx, &sales, query, args...)
	return sales, err
}

func (s *Store) GetSale(ctx context.Context, id string) (*models.Sale, error) {
	var sale *models.Sale
	err := s.View(ctx, func(tx *Tx) error {
		var err error
		sale, err = tx.GetSale(ctx, id)
		return err
	})
	return sale, err
}

func (s *Store) ListSales(ctx context.Context, f SaleFilter) ([]models.Sale, error) {
	var sales []models.Sale
	err := s.View(ctx, func(tx *Tx) error {
		var err error
		sales, err = tx.ListSales(ctx, f)
		return err
	})
	return sales, err
}
