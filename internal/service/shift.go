package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"offline-pos/internal/models"
	"offline-pos/internal/store"
	"offline-pos/internal/util"

	"go.uber.org/zap"
)

// ShiftService tracks the cash drawer across a cashier's shift.
type ShiftService struct {
	store    *store.Store
	terminal Terminal
	logger   *zap.Logger
}

func NewShiftService(store *store.Store, terminal Terminal) *ShiftService {
	return &ShiftService{
		store:    store,
		terminal: terminal,
		logger:   util.GetLogger(),
	}
}

// Open starts a shift with the counted opening float.
func (s *ShiftService) Open(ctx context.Context, cashier string, openingCash float64) (*models.Shift, error) {
	ctx, span := util.StartSpan(ctx, "ShiftService.Open")
	defer span.End()

	if strings.TrimSpace(cashier) == "" {
		return nil, invalid("cashier", "is required")
	}
	if openingCash < 0 {
		return nil, invalid("opening_cash", "must not be negative")
	}

	shift := &models.Shift{Cashier: cashier, OpeningCash: openingCash}
	err := s.store.WithTx(ctx, func(tx *store.Tx) error {
		if err := tx.OpenShift(ctx, shift); err != nil {
			return err
		}
		return tx.InsertAuditLog(ctx, &models.AuditLog{
			Actor:      ActorFrom(ctx),
			Action:     "SHIFT_OPENED",
			EntityType: "shift",
			EntityID:   shift.ID,
			Detail:     fmt.Sprintf("opening cash %.2f", openingCash),
		})
	})
	if errors.Is(err, store.ErrShiftAlreadyOpen) {
		return nil, invalidErr("shift", err)
	}
	if err != nil {
		return nil, err
	}

	s.logger.Info("Shift opened", zap.String("shift_id", shift.ID), zap.String("cashier", cashier))
	return shift, nil
}

// Current returns the open shift, or nil.
func (s *ShiftService) Current(ctx context.Context) (*models.Shift, error) {
	return s.store.GetOpenShift(ctx)
}

// RecordCash adds a CASH_IN or CASH_OUT to the open shift's drawer.
func (s *ShiftService) RecordCash(ctx context.Context, typ models.CashTransactionType, amount float64, reason string) (*models.CashTransaction, error) {
	ctx, span := util.StartSpan(ctx, "ShiftService.RecordCash")
	defer span.End()

	if typ != models.CashIn && typ != models.CashOut {
		return nil, invalid("type", "unknown cash transaction type %q", typ)
	}
	if amount <= 0 {
		return nil, invalid("amount", "must be positive")
	}

	var ct *models.CashTransaction
	err := s.store.WithTx(ctx, func(tx *store.Tx) error {
		shift, err := tx.GetOpenShift(ctx)
		if err != nil {
			return err
		}
		if shift == nil {
			return invalid("shift", "no shift is open")
		}

		delta := amount
		if typ == models.CashOut {
			delta = -amount
		}
		ct = &models.CashTransaction{ShiftID: shift.ID, Type: typ, Amount: amount, Reason: reason}
		if err := tx.InsertCashTransaction(ctx, ct); err != nil {
			return err
		}
		return tx.AddExpectedCash(ctx, shift.ID, delta)
	})
	if err != nil {
		return nil, err
	}
	return ct, nil
}

// Close closes the open shift with the counted drawer and queues it for sync.
func (s *ShiftService) Close(ctx context.Context, closingCash float64) (*models.Shift, error) {
	ctx, span := util.StartSpan(ctx, "ShiftService.Close")
	defer span.End()

	if closingCash < 0 {
		return nil, invalid("closing_cash", "must not be negative")
	}

	var closed *models.Shift
	err := s.store.WithTx(ctx, func(tx *store.Tx) error {
		open, err := tx.GetOpenShift(ctx)
		if err != nil {
			return err
		}
		if open == nil {
			return invalid("shift", "no shift is open")
		}
		if closed, err = tx.CloseShift(ctx, open.ID, closingCash); err != nil {
			return err
		}

		audit := models.AuditLog{
			Actor:      ActorFrom(ctx),
			Action:     "SHIFT_CLOSED",
			EntityType: "shift",
			EntityID:   closed.ID,
			Detail:     fmt.Sprintf("expected %.2f counted %.2f", closed.ExpectedCash, closingCash),
		}
		if err := tx.InsertAuditLog(ctx, &audit); err != nil {
			return err
		}

		packet := s.terminal.NewPacket(tx.Now())
		packet.Shifts = []models.Shift{*closed}
		packet.AuditLogs = []models.AuditLog{audit}
		return s.terminal.enqueue(ctx, tx, packet)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Shift closed",
		zap.String("shift_id", closed.ID),
		zap.Float64("expected_cash", closed.ExpectedCash),
		zap.Float64("closing_cash", closingCash))
	return closed, nil
}
