package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"offline-pos/internal/events"
	"offline-pos/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*Store, *events.Bus) {
	t.Helper()
	bus := events.NewBus()
	s, err := OpenMemory(context.Background(), bus)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, bus
}

func seedRetail(t *testing.T, s *Store, sku string, stock int) *models.Product {
	t.Helper()
	p := &models.Product{Type: models.ProductTypeRetail, SKU: sku, Name: sku, Price: 10, IsActive: true, StockLevel: stock}
	require.NoError(t, s.WithTx(context.Background(), func(tx *Tx) error {
		return tx.CreateProduct(context.Background(), p)
	}))
	return p
}

func TestOpenFileAndReset(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "data", "pos.db")

	s, err := Open(ctx, path, nil)
	require.NoError(t, err)
	seedRetail(t, s, "MILK", 3)
	require.NoError(t, s.Close())

	s, err = Open(ctx, path, nil)
	require.NoError(t, err)
	products, err := s.ListProducts(ctx)
	require.NoError(t, err)
	assert.Len(t, products, 1)
	require.NoError(t, s.Close())

	require.NoError(t, Reset(path))
	s, err = Open(ctx, path, nil)
	require.NoError(t, err)
	defer s.Close()
	products, err = s.ListProducts(ctx)
	require.NoError(t, err)
	assert.Empty(t, products)
}

func TestBootstrapIsIdempotent(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	opts := BootstrapOptions{AdminUsername: "admin", AdminPIN: "1234"}

	require.NoError(t, s.Bootstrap(ctx, opts))
	require.NoError(t, s.SetSetting(ctx, SettingTaxRate, "5"))
	require.NoError(t, s.Bootstrap(ctx, opts))

	discounts, err := s.ListDiscounts(ctx)
	require.NoError(t, err)
	assert.Len(t, discounts, 2)
	for _, d := range discounts {
		assert.True(t, d.IsStatutory)
		assert.Equal(t, 20.0, d.Value)
	}

	rate, err := s.GetSetting(ctx, SettingTaxRate)
	require.NoError(t, err)
	assert.Equal(t, "5", rate, "bootstrap must not overwrite existing settings")

	admin, err := s.GetUserByUsername(ctx, "admin")
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, admin.Role)
	assert.NotEqual(t, "1234", admin.PINHash)
}

func TestCreateProductValidation(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	milk := seedRetail(t, s, "MILK", 10)

	service := &models.Product{Type: models.ProductTypeService, Name: "Haircut", Price: 15, DurationMinutes: 30}
	composite := &models.Product{Type: models.ProductTypeRetail, SKU: "LATTE", Name: "Latte", Price: 4, IsComposite: true,
		Ingredients: models.Ingredients{{IngredientProductID: milk.ID, QuantityPerUnit: 2, UnitLabel: "ml"}}}

	tests := []struct {
		name    string
		product *models.Product
		wantErr bool
	}{
		{"negative price", &models.Product{Type: models.ProductTypeRetail, SKU: "X", Name: "X", Price: -1}, true},
		{"retail without sku", &models.Product{Type: models.ProductTypeRetail, Name: "X", Price: 1}, true},
		{"unknown ingredient", &models.Product{Type: models.ProductTypeRetail, SKU: "Y", Name: "Y", IsComposite: true,
			Ingredients: models.Ingredients{{IngredientProductID: "missing", QuantityPerUnit: 1}}}, true},
		{"repeated ingredient", &models.Product{Type: models.ProductTypeRetail, SKU: "Z", Name: "Z", IsComposite: true,
			Ingredients: models.Ingredients{
				{IngredientProductID: milk.ID, QuantityPerUnit: 2},
				{IngredientProductID: milk.ID, QuantityPerUnit: 3},
			}}, true},
		{"service with stock", &models.Product{Type: models.ProductTypeService, Name: "S", StockLevel: 3}, true},
		{"service", service, false},
		{"composite", composite, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.WithTx(ctx, func(tx *Tx) error { return tx.CreateProduct(ctx, tt.product) })
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}

	nested := &models.Product{Type: models.ProductTypeRetail, SKU: "NESTED", Name: "Nested", IsComposite: true,
		Ingredients: models.Ingredients{{IngredientProductID: composite.ID, QuantityPerUnit: 1}}}
	err := s.WithTx(ctx, func(tx *Tx) error { return tx.CreateProduct(ctx, nested) })
	assert.Error(t, err, "composite products cannot be ingredients")

	got, err := s.GetProduct(ctx, composite.ID)
	require.NoError(t, err)
	require.Len(t, got.Ingredients, 1)
	assert.Equal(t, 2, got.Ingredients[0].QuantityPerUnit)
}

func TestAvailability(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	milk := seedRetail(t, s, "MILK", 10)
	coffee := seedRetail(t, s, "COFFEE", 3)
	latte := &models.Product{Type: models.ProductTypeRetail, SKU: "LATTE", Name: "Latte", Price: 4, IsComposite: true,
		Ingredients: models.Ingredients{
			{IngredientProductID: milk.ID, QuantityPerUnit: 2},
			{IngredientProductID: coffee.ID, QuantityPerUnit: 1},
		}}
	service := &models.Product{Type: models.ProductTypeService, Name: "Massage", Price: 40}

	require.NoError(t, s.WithTx(ctx, func(tx *Tx) error {
		if err := tx.CreateProduct(ctx, latte); err != nil {
			return err
		}
		return tx.CreateProduct(ctx, service)
	}))

	require.NoError(t, s.View(ctx, func(tx *Tx) error {
		n, err := tx.Availability(ctx, latte)
		require.NoError(t, err)
		assert.Equal(t, 3, n)

		n, err = tx.Availability(ctx, milk)
		require.NoError(t, err)
		assert.Equal(t, 10, n)

		n, err = tx.Availability(ctx, service)
		require.NoError(t, err)
		assert.Equal(t, -1, n)
		return nil
	}))
}

func TestAddStockRejectsNegativeStock(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	milk := seedRetail(t, s, "MILK", 2)

	err := s.WithTx(ctx, func(tx *Tx) error { return tx.AddStock(ctx, milk.ID, -3) })
	assert.Error(t, err)

	got, err := s.GetProduct(ctx, milk.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.StockLevel)
}

func TestNextInvoiceNumber(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	for i, want := range []string{"000001", "000002", "000003"} {
		require.NoError(t, s.WithTx(ctx, func(tx *Tx) error {
			inv, err := tx.NextInvoiceNumber(ctx)
			require.NoError(t, err)
			assert.Equal(t, want, inv)
			return tx.InsertSale(ctx, &models.Sale{
				ID: want, InvoiceNumber: inv, Items: models.SaleItems{}, TotalAmount: float64(i),
				PaymentMethod: models.PaymentCash, Status: models.SaleStatusCompleted, Timestamp: tx.Now(),
			})
		}))
	}
}

func TestChangeEventsPublishedAfterCommitOnly(t *testing.T) {
	s, bus := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := bus.Subscribe(ctx, "test")

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(tx *Tx) error {
		require.NoError(t, tx.SetSetting(ctx, "k", "v"))
		return boom
	})
	assert.ErrorIs(t, err, boom)
	select {
	case evt := <-ch:
		t.Fatalf("unexpected event after rollback: %+v", evt)
	default:
	}

	require.NoError(t, s.SetSetting(ctx, "k", "v"))
	select {
	case evt := <-ch:
		assert.Equal(t, events.ChangeEvent{Table: events.TableSettings, Op: events.OpUpdate, EntityID: "k"}, evt)
	case <-time.After(time.Second):
		t.Fatal("expected settings change event")
	}
}

func enqueue(t *testing.T, s *Store, packet *models.SyncPacket) int64 {
	t.Helper()
	var id int64
	require.NoError(t, s.WithTx(context.Background(), func(tx *Tx) error {
		var err error
		id, err = tx.Enqueue(context.Background(), "http://sync", "POST", packet)
		return err
	}))
	return id
}

func TestOutboxLifecycle(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	first := enqueue(t, s, &models.SyncPacket{ID: "a"})
	second := enqueue(t, s, &models.SyncPacket{ID: "b"})
	assert.Less(t, first, second)

	items, err := s.ClaimBatch(ctx, 0, 1)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, first, items[0].ID)
	assert.Equal(t, models.QueueProcessing, items[0].Status)

	packet, err := items[0].Packet()
	require.NoError(t, err)
	assert.Equal(t, "a", packet.ID)

	// cursor skips the claimed row
	items, err = s.ClaimBatch(ctx, first, 5)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, second, items[0].ID)

	for i := 1; i <= 5; i++ {
		status, err := s.FailDelivery(ctx, first, "HTTP 500", 5, s.Now())
		require.NoError(t, err)
		if i < 5 {
			assert.Equal(t, models.QueuePending, status)
		} else {
			assert.Equal(t, models.QueueFailed, status)
		}
	}

	stats, err := s.QueueStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.QueueStats{Processing: 1, Failed: 1}, stats)

	failed, err := s.ListQueue(ctx, models.QueueFailed)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, 5, failed[0].RetryCount)
	assert.Equal(t, "HTTP 500", failed[0].LastError)

	n, err := s.RequeueStale(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	n, err = s.RetryAllFailed(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	pending, err := s.ListQueue(ctx, models.QueuePending)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Zero(t, pending[0].RetryCount)
	assert.ErrorIs(t, s.DismissFailed(ctx, first), ErrNotFound, "dismiss only applies to failed rows")
}

func TestFailDeliveryRespectsBackoff(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	id := enqueue(t, s, &models.SyncPacket{ID: "a"})

	_, err := s.ClaimBatch(ctx, 0, 5)
	require.NoError(t, err)
	_, err = s.FailDelivery(ctx, id, "timeout", 5, s.Now().Add(time.Hour))
	require.NoError(t, err)

	items, err := s.ClaimBatch(ctx, 0, 5)
	require.NoError(t, err)
	assert.Empty(t, items, "row is not due yet")

	s.SetClock(func() time.Time { return time.Now().Add(2 * time.Hour) })
	items, err = s.ClaimBatch(ctx, 0, 5)
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestDismissFailed(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	id := enqueue(t, s, &models.SyncPacket{ID: "a"})

	assert.ErrorIs(t, s.DismissFailed(ctx, id), ErrNotFound)

	_, err := s.FailDelivery(ctx, id, "rejected", 1, s.Now())
	require.NoError(t, err)
	require.NoError(t, s.DismissFailed(ctx, id))

	stats, err := s.QueueStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.QueueStats{}, stats)
}

func TestCompleteDeliveryMarksSynced(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	milk := seedRetail(t, s, "MILK", 5)

	sale := &models.Sale{ID: "sale-1", InvoiceNumber: "000001", Items: models.SaleItems{}, TotalAmount: 10,
		PaymentMethod: models.PaymentCash, Status: models.SaleStatusCompleted}
	ref := sale.ID
	movement := &models.StockMovement{ProductID: milk.ID, Type: models.MovementSale, QuantityChange: -1, Reason: "Sale", ReferenceID: &ref}

	var id int64
	require.NoError(t, s.WithTx(ctx, func(tx *Tx) error {
		sale.Timestamp = tx.Now()
		if err := tx.InsertSale(ctx, sale); err != nil {
			return err
		}
		if err := tx.InsertMovement(ctx, movement); err != nil {
			return err
		}
		var err error
		id, err = tx.Enqueue(ctx, "http://sync", "POST", &models.SyncPacket{
			ID: "p1", Sales: []models.Sale{*sale}, StockMovements: []models.StockMovement{*movement},
		})
		return err
	}))

	items, err := s.ClaimBatch(ctx, 0, 5)
	require.NoError(t, err)
	require.Len(t, items, 1)
	packet, err := items[0].Packet()
	require.NoError(t, err)

	require.NoError(t, s.CompleteDelivery(ctx, &items[0], packet))
	require.NoError(t, s.CompleteDelivery(ctx, &items[0], packet))

	got, err := s.GetSale(ctx, sale.ID)
	require.NoError(t, err)
	assert.True(t, got.Synced)

	movements, err := s.ListMovements(ctx, milk.ID)
	require.NoError(t, err)
	require.Len(t, movements, 1)
	assert.True(t, movements[0].Synced)

	queue, err := s.ListQueue(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, queue)
	assert.NotZero(t, id)
}

func TestSingleOpenShift(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	first := &models.Shift{Cashier: "ana", OpeningCash: 100}
	require.NoError(t, s.WithTx(ctx, func(tx *Tx) error { return tx.OpenShift(ctx, first) }))
	err := s.WithTx(ctx, func(tx *Tx) error { return tx.OpenShift(ctx, &models.Shift{Cashier: "ben"}) })
	assert.ErrorIs(t, err, ErrShiftAlreadyOpen)

	require.NoError(t, s.WithTx(ctx, func(tx *Tx) error {
		if err := tx.AddExpectedCash(ctx, first.ID, 25.5); err != nil {
			return err
		}
		closed, err := tx.CloseShift(ctx, first.ID, 120)
		require.NoError(t, err)
		assert.Equal(t, models.ShiftClosed, closed.Status)
		assert.InDelta(t, 125.5, closed.ExpectedCash, 1e-9)
		require.NotNil(t, closed.ClosingCash)
		assert.Equal(t, 120.0, *closed.ClosingCash)
		return nil
	}))

	open, err := s.GetOpenShift(ctx)
	require.NoError(t, err)
	assert.Nil(t, open)
}

func TestCartKeepsPriceAndOrder(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	a := seedRetail(t, s, "A", 5)
	b := seedRetail(t, s, "B", 5)

	require.NoError(t, s.WithTx(ctx, func(tx *Tx) error {
		require.NoError(t, tx.UpsertCartItem(ctx, &models.CartItem{ProductID: b.ID, Name: "B", Type: b.Type, Quantity: 1, PriceAtSale: 3}))
		require.NoError(t, tx.UpsertCartItem(ctx, &models.CartItem{ProductID: a.ID, Name: "A", Type: a.Type, Quantity: 1, PriceAtSale: 7}))
		return tx.UpsertCartItem(ctx, &models.CartItem{ProductID: b.ID, Name: "B", Type: b.Type, Quantity: 4, PriceAtSale: 99})
	}))

	require.NoError(t, s.View(ctx, func(tx *Tx) error {
		items, err := tx.ListCartItems(ctx)
		require.NoError(t, err)
		require.Len(t, items, 2)
		assert.Equal(t, b.ID, items[0].ProductID)
		assert.Equal(t, 4, items[0].Quantity)
		assert.Equal(t, 3.0, items[0].PriceAtSale)
		return nil
	}))
}
