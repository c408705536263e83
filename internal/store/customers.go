package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"offline-pos/internal/events"
	"offline-pos/internal/models"

	"github.com/google/uuid"
)

// CreateCustomer creates a new customer
func (t *Tx) CreateCustomer(ctx context.Context, c *models.Customer) error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("customer name is required")
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	_, err := t.tx.NamedExecContext(ctx, `
		INSERT INTO customers (id, name, phone, total_spent, visit_count, last_visit)
		VALUES (:id, :name, :phone, :total_spent, :visit_count, :last_visit)`, c)
	if err != nil {
		return fmt.Errorf("failed to insert customer: %w", err)
	}
	t.record(events.TableCustomers, events.OpInsert, c.ID)
	return nil
}

// GetCustomer retrieves a customer by ID
func (t *Tx) GetCustomer(ctx context.Context, id string) (*models.Customer, error) {
	var c models.Customer
	err := t.tx.GetContext(ctx, &c,
		"SELECT id, name, phone, total_spent, visit_count, last_visit FROM customers WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("customer", id)
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// RecordVisit counts a purchase of amount as a visit.
func (t *Tx) RecordVisit(ctx context.Context, id string, amount float64) error {
	res, err := t.tx.ExecContext(ctx,
		"UPDATE customers SET total_spent = total_spent + ?, visit_count = visit_count + 1, last_visit = ? WHERE id = ?",
		amount, t.now(), id)
	return t.customerUpdated(id, res, err)
}

// ReverseSpend takes a voided or refunded purchase off the customer's
// lifetime spend. Visits are left as they are.
func (t *Tx) ReverseSpend(ctx context.Context, id string, amount float64) error {
	res, err := t.tx.ExecContext(ctx,
		"UPDATE customers SET total_spent = MAX(total_spent - ?, 0) WHERE id = ?", amount, id)
	return t.customerUpdated(id, res, err)
}

func (t *Tx) customerUpdated(id string, res sql.Result, err error) error {
	if err != nil {
		return fmt.Errorf("failed to update customer: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("customer", id)
	}
	t.record(events.TableCustomers, events.OpUpdate, id)
	return nil
}

func (s *Store) ListCustomers(ctx context.Context) ([]models.Customer, error) {
	var customers []models.Customer
	err := s.View(ctx, func(tx *Tx) error {
		return tx.tx.SelectContext(ctx, &customers,
			"SELECT id, name, phone, total_spent, visit_count, last_visit FROM customers ORDER BY name, id")
	})
	return customers, err
}
