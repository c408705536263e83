package service

import (
	"context"
	"time"

	"offline-pos/internal/models"
	"offline-pos/internal/store"
	"offline-pos/internal/util"

	"go.uber.org/zap"
)

// InventoryService reserves and releases stock as cart lines change.
type InventoryService struct {
	store  *store.Store
	logger *zap.Logger
}

// NewInventoryService creates a new inventory service
func NewInventoryService(store *store.Store) *InventoryService {
	return &InventoryService{
		store:  store,
		logger: util.GetLogger(),
	}
}

// Reserve moves stock by delta in its own transaction. A negative delta
// reserves and a positive delta releases.
func (s *InventoryService) Reserve(ctx context.Context, productID string, delta int) error {
	ctx, span := util.StartSpan(ctx, "InventoryService.Reserve")
	defer span.End()

	return s.store.WithTx(ctx, func(tx *store.Tx) error {
		return s.ReserveTx(ctx, tx, productID, delta)
	})
}

// ReserveTx is Reserve inside a caller's transaction.
func (s *InventoryService) ReserveTx(ctx context.Context, tx *store.Tx, productID string, delta int) error {
	if delta == 0 {
		return nil
	}

	start := time.Now()
	defer func() {
		util.InventoryReserveLatency.Observe(time.Since(start).Seconds())
	}()

	product, err := tx.GetProduct(ctx, productID)
	if err != nil {
		util.InventoryReservationsFailed.WithLabelValues("error").Inc()
		return err
	}

	switch {
	case product.Type == models.ProductTypeService:
		return nil
	case product.IsComposite:
		err = s.reserveComposite(ctx, tx, product, delta)
	default:
		err = s.reserveSimple(ctx, tx, product, delta)
	}

	if err != nil {
		reason := "error"
		if _, ok := err.(*OutOfStockError); ok {
			reason = "insufficient_stock"
		}
		util.InventoryReservationsFailed.WithLabelValues(reason).Inc()
		s.logger.Debug("Reservation rejected",
			zap.String("product_id", productID),
			zap.Int("delta", delta),
			zap.Error(err))
	}
	return err
}

func (s *InventoryService) reserveSimple(ctx context.Context, tx *store.Tx, p *models.Product, delta int) error {
	if delta < 0 && p.StockLevel+delta < 0 {
		return &OutOfStockError{ProductID: p.ID, Available: p.StockLevel, Requested: -delta}
	}
	return tx.AddStock(ctx, p.ID, delta)
}

// reserveComposite checks every ingredient for the full quantity before any
// ingredient is touched.
func (s *InventoryService) reserveComposite(ctx context.Context, tx *store.Tx, p *models.Product, delta int) error {
	ids := make([]string, 0, len(p.Ingredients))
	for _, ing := range p.Ingredients {
		ids = append(ids, ing.IngredientProductID)
	}
	stock, err := tx.GetProductsByIDs(ctx, ids)
	if err != nil {
		return err
	}

	if delta < 0 {
		// Need is summed per ingredient so a recipe naming one twice is checked as a whole.
		need := make(map[string]int, len(p.Ingredients))
		for _, ing := range p.Ingredients {
			need[ing.IngredientProductID] += -delta * ing.QuantityPerUnit
		}
		for _, ing := range p.Ingredients {
			id := ing.IngredientProductID
			ingredient, ok := stock[id]
			if !ok {
				return &OutOfStockError{ProductID: p.ID, IngredientID: id, Requested: need[id]}
			}
			if ingredient.StockLevel < need[id] {
				return &OutOfStockError{
					ProductID:    p.ID,
					IngredientID: id,
					Available:    ingredient.StockLevel,
					Requested:    need[id],
				}
			}
		}
	}

	for _, ing := range p.Ingredients {
		if err := tx.AddStock(ctx, ing.IngredientProductID, delta*ing.QuantityPerUnit); err != nil {
			return err
		}
	}
	return nil
}
