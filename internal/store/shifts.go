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

const shiftColumns = "id, cashier, status, opening_cash, expected_cash, closing_cash, opened_at, closed_at, synced"

// ErrShiftAlreadyOpen is returned when a second shift would be opened.
var ErrShiftAlreadyOpen = errors.New("a shift is already open")

// OpenShift inserts a new OPEN shift. Only one shift may be open at a time.
func (t *Tx) OpenShift(ctx context.Context, sh *models.Shift) error {
	if open, err := t.GetOpenShift(ctx); err != nil {
		return err
	} else if open != nil {
		return fmt.Errorf("%w: %s", ErrShiftAlreadyOpen, open.ID)
	}

	if sh.ID == "" {
		sh.ID = uuid.NewString()
	}
	sh.Status = models.ShiftOpen
	sh.ExpectedCash = sh.OpeningCash
	sh.OpenedAt = t.now()
	sh.Synced = false

	_, err := t.tx.NamedExecContext(ctx, `
		INSERT INTO shifts (`+shiftColumns+`)
		VALUES (:id, :cashier, :status, :opening_cash, :expected_cash, :closing_cash, :opened_at, :closed_at, :synced)`, sh)
	if err != nil {
		return fmt.Errorf("failed to insert shift: %w", err)
	}
	t.record(events.TableShifts, events.OpInsert, sh.ID)
	return nil
}

// GetOpenShift returns the open shift, or nil when there is none.
func (t *Tx) GetOpenShift(ctx context.Context) (*models.Shift, error) {
	var sh models.Shift
	err := t.tx.GetContext(ctx, &sh, "SELECT "+shiftColumns+" FROM shifts WHERE status = ?", models.ShiftOpen)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sh, nil
}

// GetShift retrieves a shift by ID
func (t *Tx) GetShift(ctx context.Context, id string) (*models.Shift, error) {
	var sh models.Shift
	err := t.tx.GetContext(ctx, &sh, "SELECT "+shiftColumns+" FROM shifts WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("shift", id)
	}
	if err != nil {
		return nil, err
	}
	return &sh, nil
}

// AddExpectedCash moves the drawer expectation of a shift by amount.
func (t *Tx) AddExpectedCash(ctx context.Context, shiftID string, amount float64) error {
	res, err := t.tx.ExecContext(ctx,
		"UPDATE shifts SET expected_cash = expected_cash + ?, synced = 0 WHERE id = ?", amount, shiftID)
	if err != nil {
		return fmt.Errorf("failed to update expected cash: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("shift", shiftID)
	}
	t.record(events.TableShifts, events.OpUpdate, shiftID)
	return nil
}

// CloseShift records the counted drawer and closes the shift.
func (t *Tx) CloseShift(ctx context.Context, shiftID string, closingCash float64) (*models.Shift, error) {
	res, err := t.tx.ExecContext(ctx,
		"UPDATE shifts SET status = ?, closing_cash = ?, closed_at = ?, synced = 0 WHERE id = ? AND status = ?",
		models.ShiftClosed, closingCash, t.now(), shiftID, models.ShiftOpen)
	if err != nil {
		return nil, fmt.Errorf("failed to close shift: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, notFound("open shift", shiftID)
	}
	t.record(events.TableShifts, events.OpUpdate, shiftID)
	return t.GetShift(ctx, shiftID)
}

// InsertCashTransaction records a drawer movement.
func (t *Tx) InsertCashTransaction(ctx context.Context, ct *models.CashTransaction) error {
	if ct.ID == "" {
		ct.ID = uuid.NewString()
	}
	if ct.Timestamp.IsZero() {
		ct.Timestamp = t.now()
	}
	_, err := t.tx.NamedExecContext(ctx, `
		INSERT INTO cash_transactions (id, shift_id, type, amount, reason, timestamp)
		VALUES (:id, :shift_id, :type, :amount, :reason, :timestamp)`, ct)
	if err != nil {
		return fmt.Errorf("failed to insert cash transaction: %w", err)
	}
	t.record(events.TableCashTransactions, events.OpInsert, ct.ID)
	return nil
}

// ListCashTransactions returns the drawer movements of a shift in order.
func (t *Tx) ListCashTransactions(ctx context.Context, shiftID string) ([]models.CashTransaction, error) {
	var txs []models.CashTransaction
	err := t.tx.SelectContext(ctx, &txs,
		"SELECT id, shift_id, type, amount, reason, timestamp FROM cash_transactions WHERE shift_id = ? ORDER BY timestamp, id",
		shiftID)
	return txs, err
}

func (s *Store) GetOpenShift(ctx context.Context) (*models.Shift, error) {
	var sh *models.Shift
	err := s.View(ctx, func(tx *Tx) error {
		var err error
		sh, err = tx.GetOpenShift(ctx)
		return err
	})
	return sh, err
}
