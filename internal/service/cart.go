package service

import (
	"context"
	"errors"
	"sync"

	"offline-pos/internal/models"
	"offline-pos/internal/pricing"
	"offline-pos/internal/store"
	"offline-pos/internal/util"

	"go.uber.org/zap"
)

// Cart is what a checkout commits: the lines plus the session's discount and customer.
type Cart struct {
	Items        []models.CartItem    `json:"items"`
	Discount     *models.Discount     `json:"discount,omitempty"`
	DiscountInfo *models.DiscountInfo `json:"discount_info,omitempty"`
	CustomerID   *string              `json:"customer_id,omitempty"`
}

// CartService owns the terminal's single active cart. Lines live in the store
// and every line change reserves or releases stock in the same transaction.
type CartService struct {
	store     *store.Store
	inventory *InventoryService
	txManager *TransactionManager
	logger    *zap.Logger

	mu           sync.Mutex
	discount     *models.Discount
	discountInfo *models.DiscountInfo
	customerID   *string
}

// NewCartService creates a new cart service
func NewCartService(store *store.Store, inventory *InventoryService, txManager *TransactionManager) *CartService {
	return &CartService{
		store:     store,
		inventory: inventory,
		txManager: txManager,
		logger:    util.GetLogger(),
	}
}

// AddItem adds quantity units of a product, reserving them first. Adding a
// product already in the cart grows the existing line at its original price.
func (s *CartService) AddItem(ctx context.Context, productID string, quantity int) (*models.CartItem, error) {
	ctx, span := util.StartSpan(ctx, "CartService.AddItem")
	defer span.End()

	if quantity < 1 {
		return nil, invalid("quantity", "must be at least 1")
	}

	var line *models.CartItem
	err := s.store.WithTx(ctx, func(tx *store.Tx) error {
		product, err := tx.GetProduct(ctx, productID)
		if err != nil {
			return err
		}
		if !product.IsActive {
			return invalid("product", "%s is not active", product.Name)
		}

		line, err = tx.GetCartItem(ctx, productID)
		if err != nil {
			return err
		}
		if line == nil {
			line = &models.CartItem{
				ProductID:   product.ID,
				Name:        product.Name,
				Type:        product.Type,
				Category:    product.Category,
				PriceAtSale: product.Price,
			}
		}

		if err := s.inventory.ReserveTx(ctx, tx, productID, -quantity); err != nil {
			return err
		}
		line.Quantity += quantity
		return tx.UpsertCartItem(ctx, line)
	})
	if err != nil {
		return nil, err
	}
	return line, nil
}

// UpdateQuantity sets a line to quantity, reserving or releasing the difference.
func (s *CartService) UpdateQuantity(ctx context.Context, productID string, quantity int) (*models.CartItem, error) {
	ctx, span := util.StartSpan(ctx, "CartService.UpdateQuantity")
	defer span.End()

	if quantity < 1 {
		return nil, invalid("quantity", "must be at least 1")
	}

	var line *models.CartItem
	err := s.store.WithTx(ctx, func(tx *store.Tx) error {
		var err error
		line, err = tx.GetCartItem(ctx, productID)
		if err != nil {
			return err
		}
		if line == nil {
			return invalid("product", "%s is not in the cart", productID)
		}
		if err := s.inventory.ReserveTx(ctx, tx, productID, line.Quantity-quantity); err != nil {
			return err
		}
		line.Quantity = quantity
		return tx.UpsertCartItem(ctx, line)
	})
	if err != nil {
		return nil, err
	}
	return line, nil
}

// RemoveItem drops a line and releases its stock.
func (s *CartService) RemoveItem(ctx context.Context, productID string) error {
	ctx, span := util.StartSpan(ctx, "CartService.RemoveItem")
	defer span.End()

	return s.store.WithTx(ctx, func(tx *store.Tx) error {
		line, err := tx.GetCartItem(ctx, productID)
		if err != nil || line == nil {
			return err
		}
		if err := s.inventory.ReserveTx(ctx, tx, productID, line.Quantity); err != nil {
			return err
		}
		return tx.DeleteCartItem(ctx, productID)
	})
}

// Clear abandons the cart, releasing everything it reserved.
func (s *CartService) Clear(ctx context.Context) error {
	ctx, span := util.StartSpan(ctx, "CartService.Clear")
	defer span.End()

	err := s.store.WithTx(ctx, func(tx *store.Tx) error {
		items, err := tx.ListCartItems(ctx)
		if err != nil {
			return err
		}
		for _, it := range items {
			if err := s.inventory.ReserveTx(ctx, tx, it.ProductID, it.Quantity); err != nil {
				return err
			}
		}
		return tx.ClearCart(ctx)
	})
	if err != nil {
		return err
	}
	s.resetSession()
	return nil
}

// Items returns the current cart lines.
func (s *CartService) Items(ctx context.Context) ([]models.CartItem, error) {
	var items []models.CartItem
	err := s.store.View(ctx, func(tx *store.Tx) error {
		var err error
		items, err = tx.ListCartItems(ctx)
		return err
	})
	return items, err
}

// ApplyDiscount attaches a discount after its apply-time checks pass. It
// replaces any discount already on the cart.
func (s *CartService) ApplyDiscount(ctx context.Context, discountID string, info *models.DiscountInfo) (*models.Discount, error) {
	var discount *models.Discount
	err := s.store.View(ctx, func(tx *store.Tx) error {
		var err error
		discount, err = tx.GetDiscount(ctx, discountID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if err := pricing.ValidateDiscount(discount, s.store.Now(), info); err != nil {
		return nil, invalidErr("discount", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.discount = discount
	s.discountInfo = nil
	if discount.IsStatutory {
		s.discountInfo = info
	}
	return discount, nil
}

func (s *CartService) RemoveDiscount() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.discount = nil
	s.discountInfo = nil
}

// SetCustomer attaches a customer to the cart; an empty id detaches.
func (s *CartService) SetCustomer(ctx context.Context, customerID string) error {
	if customerID != "" {
		err := s.store.View(ctx, func(tx *store.Tx) error {
			_, err := tx.GetCustomer(ctx, customerID)
			return err
		})
		if err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.customerID = nil
	if customerID != "" {
		s.customerID = &customerID
	}
	return nil
}

// Snapshot returns the cart as it would be committed now.
func (s *CartService) Snapshot(ctx context.Context) (*Cart, error) {
	items, err := s.Items(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return &Cart{
		Items:        items,
		Discount:     s.discount,
		DiscountInfo: s.discountInfo,
		CustomerID:   s.customerID,
	}, nil
}

// Totals prices the cart with the current tax settings.
func (s *CartService) Totals(ctx context.Context) (pricing.Totals, error) {
	cart, err := s.Snapshot(ctx)
	if err != nil {
		return pricing.Totals{}, err
	}
	var cfg pricing.TaxConfig
	err = s.store.View(ctx, func(tx *store.Tx) error {
		cfg, err = tx.TaxConfig(ctx)
		return err
	})
	if err != nil {
		return pricing.Totals{}, err
	}
	return pricing.ComputeTotals(cart.Items, cart.Discount, cfg), nil
}

// Checkout commits the cart as a sale and starts a fresh session on success.
func (s *CartService) Checkout(ctx context.Context, method models.PaymentMethod) (*models.Sale, error) {
	cart, err := s.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	sale, err := s.txManager.CommitSale(ctx, cart, method)
	if err != nil {
		if errors.Is(err, pricing.ErrDiscountExpired) {
			s.RemoveDiscount()
		}
		return nil, err
	}
	s.resetSession()
	return sale, nil
}

func (s *CartService) resetSession() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.discount = nil
	s.discountInfo = nil
	s.customerID = nil
}
