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

// StockService maintains the catalog and every stock change outside of sales.
// Each change writes a ledger entry next to the counter update.
type StockService struct {
	store    *store.Store
	terminal Terminal
	logger   *zap.Logger
}

func NewStockService(store *store.Store, terminal Terminal) *StockService {
	return &StockService{
		store:    store,
		terminal: terminal,
		logger:   util.GetLogger(),
	}
}

// CreateProduct adds a product. Opening stock of a simple retail product is
// recorded as a PURCHASE so the ledger sums to the counter.
func (s *StockService) CreateProduct(ctx context.Context, p *models.Product) error {
	ctx, span := util.StartSpan(ctx, "StockService.CreateProduct")
	defer span.End()

	if err := p.Validate(); err != nil {
		return invalidErr("product", err)
	}

	opening := p.StockLevel
	return s.store.WithTx(ctx, func(tx *store.Tx) error {
		p.StockLevel = 0
		if err := tx.CreateProduct(ctx, p); err != nil {
			return err
		}
		if opening == 0 || p.IsComposite {
			return nil
		}
		_, err := s.applyMovement(ctx, tx, p.ID, models.MovementPurchase, opening, "Opening stock")
		p.StockLevel = opening
		return err
	})
}

// UpdateProduct changes catalog fields of a product.
func (s *StockService) UpdateProduct(ctx context.Context, p *models.Product) error {
	return s.store.WithTx(ctx, func(tx *store.Tx) error {
		if err := tx.UpdateProduct(ctx, p); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return err
			}
			return invalidErr("product", err)
		}
		return nil
	})
}

// ReceivePurchase books incoming stock for a simple retail product.
func (s *StockService) ReceivePurchase(ctx context.Context, productID string, quantity int, reason string) (*models.StockMovement, error) {
	if quantity <= 0 {
		return nil, invalid("quantity", "must be positive")
	}
	if reason == "" {
		reason = "Purchase"
	}
	return s.change(ctx, productID, models.MovementPurchase, quantity, reason)
}

// Adjust corrects stock by a signed delta, e.g. for breakage.
func (s *StockService) Adjust(ctx context.Context, productID string, delta int, reason string) (*models.StockMovement, error) {
	if delta == 0 {
		return nil, invalid("quantity_change", "must not be zero")
	}
	if strings.TrimSpace(reason) == "" {
		return nil, invalid("reason", "is required for adjustments")
	}
	return s.change(ctx, productID, models.MovementAdjustment, delta, reason)
}

func (s *StockService) change(ctx context.Context, productID string, typ models.MovementType, delta int, reason string) (*models.StockMovement, error) {
	ctx, span := util.StartSpan(ctx, "StockService.change")
	defer span.End()

	var mv *models.StockMovement
	err := s.store.WithTx(ctx, func(tx *store.Tx) error {
		var err error
		mv, err = s.applyMovement(ctx, tx, productID, typ, delta, reason)
		if err != nil {
			return err
		}
		audit := models.AuditLog{
			Actor:      ActorFrom(ctx),
			Action:     "STOCK_" + string(typ),
			EntityType: "product",
			EntityID:   productID,
			Detail:     fmt.Sprintf("%+d %s", delta, reason),
		}
		if err := tx.InsertAuditLog(ctx, &audit); err != nil {
			return err
		}

		packet := s.terminal.NewPacket(tx.Now())
		packet.StockMovements = []models.StockMovement{*mv}
		packet.AuditLogs = []models.AuditLog{audit}
		return s.terminal.enqueue(ctx, tx, packet)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Stock changed",
		zap.String("product_id", productID),
		zap.String("type", string(typ)),
		zap.Int("delta", delta))
	return mv, nil
}

// Audit records a physical count and books any variance as an adjustment.
func (s *StockService) Audit(ctx context.Context, productID string, counted int, note string) (*models.StockAudit, error) {
	ctx, span := util.StartSpan(ctx, "StockService.Audit")
	defer span.End()

	if counted < 0 {
		return nil, invalid("counted", "must not be negative")
	}

	var audit *models.StockAudit
	err := s.store.WithTx(ctx, func(tx *store.Tx) error {
		product, err := tx.GetProduct(ctx, productID)
		if err != nil {
			return err
		}
		if err := stockTracked(product); err != nil {
			return err
		}

		audit = &models.StockAudit{
			ProductID: productID,
			Expected:  product.StockLevel,
			Counted:   counted,
			Variance:  counted - product.StockLevel,
			Note:      note,
			Timestamp: tx.Now(),
		}
		if err := tx.InsertStockAudit(ctx, audit); err != nil {
			return err
		}
		if audit.Variance == 0 {
			return nil
		}

		mv, err := s.applyMovement(ctx, tx, productID, models.MovementAdjustment, audit.Variance, "Stock audit: "+note)
		if err != nil {
			return err
		}
		packet := s.terminal.NewPacket(tx.Now())
		packet.StockMovements = []models.StockMovement{*mv}
		return s.terminal.enqueue(ctx, tx, packet)
	})
	if err != nil {
		return nil, err
	}
	return audit, nil
}

func (s *StockService) applyMovement(ctx context.Context, tx *store.Tx, productID string, typ models.MovementType, delta int, reason string) (*models.StockMovement, error) {
	product, err := tx.GetProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	if err := stockTracked(product); err != nil {
		return nil, err
	}
	if product.StockLevel+delta < 0 {
		return nil, &OutOfStockError{ProductID: productID, Available: product.StockLevel, Requested: -delta}
	}
	if err := tx.AddStock(ctx, productID, delta); err != nil {
		return nil, err
	}

	mv := &models.StockMovement{
		ProductID:      productID,
		Type:           typ,
		QuantityChange: delta,
		Reason:         reason,
	}
	if err := tx.InsertMovement(ctx, mv); err != nil {
		return nil, err
	}
	return mv, nil
}

func stockTracked(p *models.Product) error {
	if p.Type != models.ProductTypeRetail || p.IsComposite {
		return invalid("product", "%s does not hold its own stock", p.Name)
	}
	return nil
}
