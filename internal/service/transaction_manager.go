package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"offline-pos/internal/models"
	"offline-pos/internal/pricing"
	"offline-pos/internal/store"
	"offline-pos/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Terminal identifies this device in every sync packet it produces.
type Terminal struct {
	ID             string
	Name           string
	OrganizationID string
	SyncEndpoint   string
}

// NewPacket starts an empty packet stamped with the terminal identity.
func (t Terminal) NewPacket(now time.Time) *models.SyncPacket {
	return &models.SyncPacket{
		ID:             uuid.NewString(),
		TerminalID:     t.ID,
		TerminalName:   t.Name,
		OrganizationID: t.OrganizationID,
		CreatedAt:      now,
	}
}

func (t Terminal) enqueue(ctx context.Context, tx *store.Tx, packet *models.SyncPacket) error {
	_, err := tx.Enqueue(ctx, t.SyncEndpoint, http.MethodPost, packet)
	return err
}

// TransactionManager turns a cart into a committed sale and reverses sales.
type TransactionManager struct {
	store    *store.Store
	terminal Terminal
	logger   *zap.Logger
}

// NewTransactionManager creates a new transaction manager
func NewTransactionManager(store *store.Store, terminal Terminal) *TransactionManager {
	return &TransactionManager{
		store:    store,
		terminal: terminal,
		logger:   util.GetLogger(),
	}
}

// CommitSale records the sale, its ledger entries, customer and shift totals,
// clears the cart and queues the sync packet in one transaction. Stock was
// already taken when the lines were reserved, so the committed lines are the
// cart rows read inside that transaction. cart.Items is the view the caller
// priced; the commit is rejected when it no longer matches those rows.
func (m *TransactionManager) CommitSale(ctx context.Context, cart *Cart, method models.PaymentMethod) (*models.Sale, error) {
	ctx, span := util.StartSpan(ctx, "TransactionManager.CommitSale")
	defer span.End()

	if cart == nil {
		cart = &Cart{}
	}
	if !method.Valid() {
		util.SalesFailedTotal.WithLabelValues("validation").Inc()
		return nil, invalid("payment_method", "unknown method %q", method)
	}
	if err := pricing.ValidateDiscount(cart.Discount, m.store.Now(), cart.DiscountInfo); err != nil {
		util.SalesFailedTotal.WithLabelValues("validation").Inc()
		return nil, invalidErr("discount", err)
	}

	start := time.Now()
	var sale *models.Sale
	err := m.store.WithTx(ctx, func(tx *store.Tx) error {
		items, err := tx.ListCartItems(ctx)
		if err != nil {
			return err
		}
		if err := checkLines(cart.Items, items); err != nil {
			return err
		}
		sale, err = m.commit(ctx, tx, cart, items, method)
		return err
	})
	util.SaleCommitLatency.Observe(time.Since(start).Seconds())

	if errors.Is(err, ErrValidation) {
		util.SalesFailedTotal.WithLabelValues("validation").Inc()
		return nil, err
	}
	if err != nil {
		util.SalesFailedTotal.WithLabelValues("rollback").Inc()
		m.logger.Error("Sale rolled back", zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrSaleNotSaved, err)
	}

	util.SalesCommittedTotal.WithLabelValues(string(method)).Inc()
	m.logger.Info("Sale committed",
		zap.String("sale_id", sale.ID),
		zap.String("invoice", sale.InvoiceNumber),
		zap.Float64("total", sale.TotalAmount))
	return sale, nil
}

// checkLines compares the priced lines with the reserved cart rows.
func checkLines(priced, reserved []models.CartItem) error {
	if len(reserved) == 0 {
		return invalid("cart", "is empty")
	}
	if len(priced) != len(reserved) {
		return invalid("cart", "changed since it was priced")
	}
	for i, it := range reserved {
		p := priced[i]
		if p.ProductID != it.ProductID || p.Quantity != it.Quantity || p.PriceAtSale != it.PriceAtSale {
			return invalid("cart", "changed since it was priced")
		}
		if it.Quantity < 1 || it.PriceAtSale < 0 {
			return invalid("items", "line %s has quantity %d and price %.2f", it.ProductID, it.Quantity, it.PriceAtSale)
		}
	}
	return nil
}

func (m *TransactionManager) commit(ctx context.Context, tx *store.Tx, cart *Cart, items []models.CartItem, method models.PaymentMethod) (*models.Sale, error) {
	invoice, err := tx.NextInvoiceNumber(ctx)
	if err != nil {
		return nil, err
	}
	cfg, err := tx.TaxConfig(ctx)
	if err != nil {
		return nil, err
	}
	totals := pricing.ComputeTotals(items, cart.Discount, cfg).Rounded()

	now := tx.Now()
	sale := &models.Sale{
		ID:                  uuid.NewString(),
		InvoiceNumber:       invoice,
		Items:               append(models.SaleItems(nil), items...),
		SubtotalAmount:      totals.RawSubtotal,
		DiscountAmount:      totals.DiscountAmount,
		TaxName:             cfg.TaxName,
		TaxRateSnapshot:     cfg.TaxRate,
		IsTaxInclusive:      cfg.TaxInclusive,
		TaxAmount:           totals.TaxAmount,
		ServiceChargeAmount: totals.ServiceCharge,
		TotalAmount:         totals.Total,
		PaymentMethod:       method,
		CustomerID:          cart.CustomerID,
		Status:              models.SaleStatusCompleted,
		Timestamp:           now,
	}
	if cart.Discount != nil {
		sale.DiscountName = cart.Discount.Name
		if cart.Discount.IsStatutory {
			sale.DiscountInfo = cart.DiscountInfo
		}
	}

	var shift *models.Shift
	if method == models.PaymentCash {
		if shift, err = tx.GetOpenShift(ctx); err != nil {
			return nil, err
		}
		if shift != nil {
			sale.ShiftID = &shift.ID
		}
	}

	if err := tx.InsertSale(ctx, sale); err != nil {
		return nil, err
	}

	movements, err := m.saleMovements(ctx, tx, sale)
	if err != nil {
		return nil, err
	}

	if sale.CustomerID != nil {
		if err := tx.RecordVisit(ctx, *sale.CustomerID, sale.TotalAmount); err != nil {
			return nil, err
		}
	}
	if shift != nil {
		if err := tx.AddExpectedCash(ctx, shift.ID, sale.TotalAmount); err != nil {
			return nil, err
		}
	}

	if err := tx.ClearCart(ctx); err != nil {
		return nil, err
	}

	packet := m.terminal.NewPacket(now)
	packet.Sales = []models.Sale{*sale}
	packet.StockMovements = movements
	if err := m.terminal.enqueue(ctx, tx, packet); err != nil {
		return nil, err
	}
	return sale, nil
}

// saleMovements writes the SALE ledger entries for stock already reserved.
// Composite lines are recorded against their ingredients; services carry no stock.
func (m *TransactionManager) saleMovements(ctx context.Context, tx *store.Tx, sale *models.Sale) ([]models.StockMovement, error) {
	ids := make([]string, 0, len(sale.Items))
	for _, it := range sale.Items {
		ids = append(ids, it.ProductID)
	}
	products, err := tx.GetProductsByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	var movements []models.StockMovement
	for _, it := range sale.Items {
		product, ok := products[it.ProductID]
		if !ok {
			return nil, fmt.Errorf("product %s: %w", it.ProductID, store.ErrNotFound)
		}
		if product.Type == models.ProductTypeService {
			continue
		}

		if !product.IsComposite {
			movements = append(movements, m.movement(sale, product.ID, models.MovementSale, -it.Quantity, "Sale"))
			continue
		}
		for _, ing := range product.Ingredients {
			movements = append(movements, m.movement(sale, ing.IngredientProductID, models.MovementSale,
				-ing.QuantityPerUnit*it.Quantity, "Sale: "+product.Name))
		}
	}

	for i := range movements {
		if err := tx.InsertMovement(ctx, &movements[i]); err != nil {
			return nil, err
		}
	}
	return movements, nil
}

func (m *TransactionManager) movement(sale *models.Sale, productID string, typ models.MovementType, qty int, reason string) models.StockMovement {
	ref := sale.ID
	return models.StockMovement{
		ID:             uuid.NewString(),
		ProductID:      productID,
		Type:           typ,
		QuantityChange: qty,
		Reason:         reason,
		ReferenceID:    &ref,
		Timestamp:      sale.Timestamp,
	}
}

// VoidSale cancels a completed sale and returns its stock.
func (m *TransactionManager) VoidSale(ctx context.Context, saleID, reason string) (*models.Sale, error) {
	return m.reverse(ctx, saleID, models.SaleStatusVoided, reason)
}

// RefundSale refunds a completed sale and returns its stock.
func (m *TransactionManager) RefundSale(ctx context.Context, saleID, reason string) (*models.Sale, error) {
	return m.reverse(ctx, saleID, models.SaleStatusRefunded, reason)
}

func (m *TransactionManager) reverse(ctx context.Context, saleID string, to models.SaleStatus, reason string) (*models.Sale, error) {
	ctx, span := util.StartSpan(ctx, "TransactionManager.reverse")
	defer span.End()

	var sale *models.Sale
	err := m.store.WithTx(ctx, func(tx *store.Tx) error {
		var err error
		sale, err = tx.GetSale(ctx, saleID)
		if err != nil {
			return err
		}
		if sale.Status != models.SaleStatusCompleted {
			return invalid("sale", "%s is %s", sale.InvoiceNumber, sale.Status)
		}
		if err := tx.UpdateSaleStatus(ctx, sale.ID, models.SaleStatusCompleted, to); err != nil {
			return err
		}
		sale.Status = to
		sale.Synced = false

		movements, err := m.returnStock(ctx, tx, sale, to)
		if err != nil {
			return err
		}

		if sale.CustomerID != nil {
			if err := tx.ReverseSpend(ctx, *sale.CustomerID, sale.TotalAmount); err != nil {
				return err
			}
		}
		if sale.PaymentMethod == models.PaymentCash && sale.ShiftID != nil {
			shift, err := tx.GetShift(ctx, *sale.ShiftID)
			if err != nil {
				return err
			}
			if shift.Status == models.ShiftOpen {
				if err := tx.AddExpectedCash(ctx, shift.ID, -sale.TotalAmount); err != nil {
					return err
				}
			}
		}

		audit := models.AuditLog{
			Actor:      ActorFrom(ctx),
			Action:     "SALE_" + string(to),
			EntityType: "sale",
			EntityID:   sale.ID,
			Detail:     reason,
		}
		if err := tx.InsertAuditLog(ctx, &audit); err != nil {
			return err
		}

		packet := m.terminal.NewPacket(tx.Now())
		packet.Sales = []models.Sale{*sale}
		packet.StockMovements = movements
		packet.AuditLogs = []models.AuditLog{audit}
		return m.terminal.enqueue(ctx, tx, packet)
	})
	if err != nil {
		return nil, err
	}

	util.SalesReversedTotal.WithLabelValues(string(to)).Inc()
	m.logger.Info("Sale reversed",
		zap.String("sale_id", sale.ID),
		zap.String("status", string(to)),
		zap.String("actor", ActorFrom(ctx)))
	return sale, nil
}

// returnStock puts the sold units back and records them as adjustments.
func (m *TransactionManager) returnStock(ctx context.Context, tx *store.Tx, sale *models.Sale, to models.SaleStatus) ([]models.StockMovement, error) {
	sold, err := tx.MovementsByReference(ctx, sale.ID)
	if err != nil {
		return nil, err
	}

	var movements []models.StockMovement
	for _, s := range sold {
		if s.Type != models.MovementSale {
			continue
		}
		mv := m.movement(sale, s.ProductID, models.MovementAdjustment, -s.QuantityChange,
			fmt.Sprintf("%s %s: %s", to, sale.InvoiceNumber, s.Reason))
		mv.Timestamp = tx.Now()
		if err := tx.AddStock(ctx, s.ProductID, mv.QuantityChange); err != nil {
			return nil, err
		}
		if err := tx.InsertMovement(ctx, &mv); err != nil {
			return nil, err
		}
		movements = append(movements, mv)
	}
	return movements, nil
}
