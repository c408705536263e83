package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"offline-pos/internal/events"
	"offline-pos/internal/models"
	"offline-pos/internal/pricing"
	"offline-pos/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	store     *store.Store
	inventory *InventoryService
	tm        *TransactionManager
	cart      *CartService
	shifts    *ShiftService
	stock     *StockService
}

var testTerminal = Terminal{ID: "t-1", Name: "Front", OrganizationID: "org-1", SyncEndpoint: "http://sync.test/api/v1/sync"}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	s, err := store.OpenMemory(ctx, events.NewBus())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Bootstrap(ctx, store.BootstrapOptions{AdminUsername: "admin", AdminPIN: "1234"}))

	inventory := NewInventoryService(s)
	tm := NewTransactionManager(s, testTerminal)
	return &fixture{
		store:     s,
		inventory: inventory,
		tm:        tm,
		cart:      NewCartService(s, inventory, tm),
		shifts:    NewShiftService(s, testTerminal),
		stock:     NewStockService(s, testTerminal),
	}
}

func (f *fixture) retail(t *testing.T, name string, price float64, stock int) *models.Product {
	t.Helper()
	p := &models.Product{Type: models.ProductTypeRetail, SKU: name, Name: name, Price: price, IsActive: true, StockLevel: stock}
	require.NoError(t, f.stock.CreateProduct(context.Background(), p))
	return p
}

func (f *fixture) latte(t *testing.T) (latte, beans, milk *models.Product) {
	t.Helper()
	beans = f.retail(t, "Coffee Beans", 0, 100)
	milk = f.retail(t, "Milk", 0, 500)
	latte = &models.Product{Type: models.ProductTypeRetail, SKU: "LATTE", Name: "Latte", Price: 4.5, IsActive: true, IsComposite: true,
		Ingredients: models.Ingredients{
			{IngredientProductID: beans.ID, QuantityPerUnit: 18, UnitLabel: "g"},
			{IngredientProductID: milk.ID, QuantityPerUnit: 200, UnitLabel: "ml"},
		}}
	require.NoError(t, f.stock.CreateProduct(context.Background(), latte))
	return latte, beans, milk
}

func (f *fixture) stockOf(t *testing.T, id string) int {
	t.Helper()
	p, err := f.store.GetProduct(context.Background(), id)
	require.NoError(t, err)
	return p.StockLevel
}

func (f *fixture) ledgerSum(t *testing.T, id string) int {
	t.Helper()
	movements, err := f.store.ListMovements(context.Background(), id)
	require.NoError(t, err)
	sum := 0
	for _, m := range movements {
		sum += m.QuantityChange
	}
	return sum
}

func (f *fixture) queue(t *testing.T) []models.SyncQueueItem {
	t.Helper()
	items, err := f.store.ListQueue(context.Background(), "")
	require.NoError(t, err)
	return items
}

func TestCompositeReservationIsAllOrNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	latte, beans, milk := f.latte(t)

	err := f.inventory.Reserve(ctx, latte.ID, -3)
	require.ErrorIs(t, err, ErrOutOfStock)
	var oos *OutOfStockError
	require.ErrorAs(t, err, &oos)
	assert.Equal(t, milk.ID, oos.IngredientID)
	assert.Equal(t, 600, oos.Requested)
	assert.Equal(t, 100, f.stockOf(t, beans.ID))
	assert.Equal(t, 500, f.stockOf(t, milk.ID))

	require.NoError(t, f.inventory.Reserve(ctx, latte.ID, -2))
	assert.Equal(t, 64, f.stockOf(t, beans.ID))
	assert.Equal(t, 100, f.stockOf(t, milk.ID))

	require.NoError(t, f.inventory.Reserve(ctx, latte.ID, 2))
	assert.Equal(t, 100, f.stockOf(t, beans.ID))
	assert.Equal(t, 500, f.stockOf(t, milk.ID))
}

func TestRecipeWithRepeatedIngredientIsRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	syrup := f.retail(t, "Syrup", 0, 4)

	drink := &models.Product{Type: models.ProductTypeRetail, SKU: "SODA", Name: "Soda", Price: 3, IsActive: true, IsComposite: true,
		Ingredients: models.Ingredients{
			{IngredientProductID: syrup.ID, QuantityPerUnit: 2},
			{IngredientProductID: syrup.ID, QuantityPerUnit: 3},
		}}
	err := f.stock.CreateProduct(ctx, drink)
	require.ErrorIs(t, err, ErrValidation)

	products, err := f.store.ListProducts(ctx)
	require.NoError(t, err)
	assert.Len(t, products, 1)
	assert.Equal(t, 4, f.stockOf(t, syrup.ID))
}

func TestReserveSimpleAndService(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	soap := f.retail(t, "Soap", 2, 1)
	haircut := &models.Product{Type: models.ProductTypeService, Name: "Haircut", Price: 15, IsActive: true, DurationMinutes: 30}
	require.NoError(t, f.stock.CreateProduct(ctx, haircut))

	assert.ErrorIs(t, f.inventory.Reserve(ctx, soap.ID, -2), ErrOutOfStock)
	assert.Equal(t, 1, f.stockOf(t, soap.ID))
	require.NoError(t, f.inventory.Reserve(ctx, soap.ID, -1))
	assert.Equal(t, 0, f.stockOf(t, soap.ID))
	require.NoError(t, f.inventory.Reserve(ctx, soap.ID, 0))

	require.NoError(t, f.inventory.Reserve(ctx, haircut.ID, -100))
	assert.Equal(t, 0, f.stockOf(t, haircut.ID))
}

func TestCartReservesOnEveryChange(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	soap := f.retail(t, "Soap", 2, 10)

	_, err := f.cart.AddItem(ctx, soap.ID, 3)
	require.NoError(t, err)
	assert.Equal(t, 7, f.stockOf(t, soap.ID))

	line, err := f.cart.AddItem(ctx, soap.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, 5, line.Quantity)
	assert.Equal(t, 5, f.stockOf(t, soap.ID))

	_, err = f.cart.UpdateQuantity(ctx, soap.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, 9, f.stockOf(t, soap.ID))

	_, err = f.cart.UpdateQuantity(ctx, soap.ID, 11)
	assert.ErrorIs(t, err, ErrOutOfStock)
	assert.Equal(t, 9, f.stockOf(t, soap.ID))

	_, err = f.cart.AddItem(ctx, soap.ID, 0)
	assert.ErrorIs(t, err, ErrValidation)

	require.NoError(t, f.cart.Clear(ctx))
	assert.Equal(t, 10, f.stockOf(t, soap.ID))
	items, err := f.cart.Items(ctx)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestPriceAtSaleIsFixedWhenAdded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	soap := f.retail(t, "Soap", 2, 10)

	_, err := f.cart.AddItem(ctx, soap.ID, 1)
	require.NoError(t, err)

	soap.Price = 5
	require.NoError(t, f.stock.UpdateProduct(ctx, soap))

	line, err := f.cart.AddItem(ctx, soap.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, 2.0, line.PriceAtSale)
}

func TestCheckoutInclusiveTaxScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := f.retail(t, "Item", 10, 5)

	_, err := f.cart.AddItem(ctx, item.ID, 2)
	require.NoError(t, err)

	sale, err := f.cart.Checkout(ctx, models.PaymentCard)
	require.NoError(t, err)

	assert.Equal(t, "000001", sale.InvoiceNumber)
	assert.Equal(t, models.SaleStatusCompleted, sale.Status)
	assert.Equal(t, 20.0, sale.SubtotalAmount)
	assert.Equal(t, 2.14, sale.TaxAmount)
	assert.Equal(t, 20.0, sale.TotalAmount)
	assert.Zero(t, sale.ServiceChargeAmount)
	assert.True(t, sale.IsTaxInclusive)
	assert.Equal(t, "VAT", sale.TaxName)
	assert.False(t, sale.Synced)
	assert.Nil(t, sale.ShiftID)

	assert.Equal(t, 3, f.stockOf(t, item.ID), "commit must not take stock a second time")

	movements, err := f.store.ListMovements(ctx, item.ID)
	require.NoError(t, err)
	require.Len(t, movements, 2)
	var sold models.StockMovement
	for _, m := range movements {
		if m.Type == models.MovementSale {
			sold = m
		}
	}
	assert.Equal(t, -2, sold.QuantityChange)
	assert.Equal(t, "Sale", sold.Reason)
	require.NotNil(t, sold.ReferenceID)
	assert.Equal(t, sale.ID, *sold.ReferenceID)

	queue := f.queue(t)
	require.Len(t, queue, 1)
	packet, err := queue[0].Packet()
	require.NoError(t, err)
	assert.Equal(t, "t-1", packet.TerminalID)
	assert.Equal(t, "org-1", packet.OrganizationID)
	require.Len(t, packet.Sales, 1)
	assert.Equal(t, sale.ID, packet.Sales[0].ID)
	assert.Len(t, packet.StockMovements, 1)
	assert.Equal(t, testTerminal.SyncEndpoint, queue[0].URL)

	items, err := f.cart.Items(ctx)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestCompositeSaleWritesIngredientMovements(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	latte, beans, milk := f.latte(t)

	_, err := f.cart.AddItem(ctx, latte.ID, 2)
	require.NoError(t, err)
	sale, err := f.cart.Checkout(ctx, models.PaymentCash)
	require.NoError(t, err)

	var movements []models.StockMovement
	require.NoError(t, f.store.View(ctx, func(tx *store.Tx) error {
		movements, err = tx.MovementsByReference(ctx, sale.ID)
		return err
	}))
	require.Len(t, movements, 2)
	changes := map[string]int{}
	for _, m := range movements {
		assert.Equal(t, "Sale: Latte", m.Reason)
		changes[m.ProductID] = m.QuantityChange
	}
	assert.Equal(t, -36, changes[beans.ID])
	assert.Equal(t, -400, changes[milk.ID])
	assert.Equal(t, 64, f.stockOf(t, beans.ID))
	assert.Equal(t, 100, f.stockOf(t, milk.ID))
}

func TestInvoiceNumbersAreSequential(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := f.retail(t, "Item", 1, 100)

	for i := 1; i <= 12; i++ {
		_, err := f.cart.AddItem(ctx, item.ID, 1)
		require.NoError(t, err)
		sale, err := f.cart.Checkout(ctx, models.PaymentCash)
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("%06d", i), sale.InvoiceNumber)
	}
	assert.Equal(t, 88, f.stockOf(t, item.ID))
	assert.Equal(t, 88, f.ledgerSum(t, item.ID))
}

func TestCommitRejectsCartChangedAfterPricing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.retail(t, "A", 5, 10)
	b := f.retail(t, "B", 2, 10)

	_, err := f.cart.AddItem(ctx, a.ID, 1)
	require.NoError(t, err)
	priced, err := f.cart.Snapshot(ctx)
	require.NoError(t, err)
	_, err = f.cart.AddItem(ctx, b.ID, 3)
	require.NoError(t, err)

	_, err = f.tm.CommitSale(ctx, priced, models.PaymentCard)
	require.ErrorIs(t, err, ErrValidation)

	sales, err := f.store.ListSales(ctx, store.SaleFilter{})
	require.NoError(t, err)
	assert.Empty(t, sales)
	items, err := f.cart.Items(ctx)
	require.NoError(t, err)
	assert.Len(t, items, 2)
	assert.Equal(t, 7, f.stockOf(t, b.ID))

	sale, err := f.cart.Checkout(ctx, models.PaymentCard)
	require.NoError(t, err)
	assert.Len(t, sale.Items, 2)
	for _, p := range []*models.Product{a, b} {
		assert.Equal(t, f.stockOf(t, p.ID), f.ledgerSum(t, p.ID), p.Name)
	}
	assert.Equal(t, 7, f.ledgerSum(t, b.ID))
}

func TestCommitOnlySellsReservedLines(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := f.retail(t, "Item", 1, 10)

	_, err := f.tm.CommitSale(ctx, &Cart{Items: []models.CartItem{
		{ProductID: item.ID, Name: "Item", Type: models.ProductTypeRetail, Quantity: 50, PriceAtSale: 1},
	}}, models.PaymentCash)
	require.ErrorIs(t, err, ErrValidation)

	sales, err := f.store.ListSales(ctx, store.SaleFilter{})
	require.NoError(t, err)
	assert.Empty(t, sales)
	assert.Equal(t, 10, f.stockOf(t, item.ID))
	assert.Equal(t, 10, f.ledgerSum(t, item.ID))
	assert.Empty(t, f.queue(t))
}

func TestCommitRollsBackEverything(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := f.retail(t, "Item", 10, 5)
	_, err := f.shifts.Open(ctx, "ana", 100)
	require.NoError(t, err)

	_, err = f.cart.AddItem(ctx, item.ID, 2)
	require.NoError(t, err)
	cart, err := f.cart.Snapshot(ctx)
	require.NoError(t, err)
	missing := "no-such-customer"
	cart.CustomerID = &missing

	queueBefore := len(f.queue(t))
	_, err = f.tm.CommitSale(ctx, cart, models.PaymentCash)
	require.ErrorIs(t, err, ErrSaleNotSaved)

	sales, err := f.store.ListSales(ctx, store.SaleFilter{})
	require.NoError(t, err)
	assert.Empty(t, sales)

	movements, err := f.store.ListMovements(ctx, item.ID)
	require.NoError(t, err)
	assert.Len(t, movements, 1, "only the opening stock entry")

	shift, err := f.shifts.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, 100.0, shift.ExpectedCash)
	assert.Len(t, f.queue(t), queueBefore)

	items, err := f.cart.Items(ctx)
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestCommitValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.tm.CommitSale(ctx, &Cart{}, models.PaymentCash)
	assert.ErrorIs(t, err, ErrValidation)

	line := models.CartItem{ProductID: "x", Quantity: 1, PriceAtSale: 1}
	_, err = f.tm.CommitSale(ctx, &Cart{Items: []models.CartItem{line}}, "BARTER")
	assert.ErrorIs(t, err, ErrValidation)

	past := f.store.Now().Add(-time.Hour)
	expired := &models.Discount{Name: "Flash", Type: models.DiscountFixed, Value: 1, IsActive: true, ValidUntil: &past}
	_, err = f.tm.CommitSale(ctx, &Cart{Items: []models.CartItem{line}, Discount: expired}, models.PaymentCash)
	assert.ErrorIs(t, err, ErrValidation)
	assert.ErrorIs(t, err, pricing.ErrDiscountExpired)
	assert.Empty(t, f.queue(t))
}

func TestCustomerAndShiftTotals(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := f.retail(t, "Item", 25, 10)
	customer, err := NewCustomerService(f.store).Create(ctx, "Ana", "0917")
	require.NoError(t, err)
	shift, err := f.shifts.Open(ctx, "ana", 50)
	require.NoError(t, err)

	_, err = f.cart.AddItem(ctx, item.ID, 2)
	require.NoError(t, err)
	require.NoError(t, f.cart.SetCustomer(ctx, customer.ID))
	sale, err := f.cart.Checkout(ctx, models.PaymentCash)
	require.NoError(t, err)
	require.NotNil(t, sale.ShiftID)
	assert.Equal(t, shift.ID, *sale.ShiftID)

	_, err = f.cart.AddItem(ctx, item.ID, 1)
	require.NoError(t, err)
	_, err = f.cart.Checkout(ctx, models.PaymentCard)
	require.NoError(t, err)

	current, err := f.shifts.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, 100.0, current.ExpectedCash, "card payments do not touch the drawer")

	customers, err := NewCustomerService(f.store).List(ctx)
	require.NoError(t, err)
	require.Len(t, customers, 1)
	assert.Equal(t, 50.0, customers[0].TotalSpent, "customer is detached after checkout")
	assert.Equal(t, 1, customers[0].VisitCount)
	assert.NotNil(t, customers[0].LastVisit)
}

func TestVoidingFreeSaleIsNotAVisit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sample := f.retail(t, "Sample", 0, 10)
	customers := NewCustomerService(f.store)
	customer, err := customers.Create(ctx, "Ben", "0918")
	require.NoError(t, err)

	_, err = f.cart.AddItem(ctx, sample.ID, 1)
	require.NoError(t, err)
	require.NoError(t, f.cart.SetCustomer(ctx, customer.ID))
	sale, err := f.cart.Checkout(ctx, models.PaymentCash)
	require.NoError(t, err)
	require.Zero(t, sale.TotalAmount)

	list, err := customers.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.NotNil(t, list[0].LastVisit)
	visited := *list[0].LastVisit

	f.store.SetClock(func() time.Time { return visited.Add(time.Hour) })
	_, err = f.tm.VoidSale(ctx, sale.ID, "wrong customer")
	require.NoError(t, err)

	list, err = customers.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, list[0].VisitCount)
	assert.Zero(t, list[0].TotalSpent)
	require.NotNil(t, list[0].LastVisit)
	assert.True(t, visited.Equal(*list[0].LastVisit))
}

func TestStatutoryDiscountRequiresVerification(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := f.retail(t, "Item", 100, 10)

	discounts, err := f.store.ListDiscounts(ctx)
	require.NoError(t, err)
	senior := discounts[0]
	require.True(t, senior.IsStatutory)

	_, err = f.cart.ApplyDiscount(ctx, senior.ID, nil)
	assert.ErrorIs(t, err, pricing.ErrVerificationRequired)

	info := &models.DiscountInfo{HolderName: "Lola", IDNumber: "SC-1"}
	_, err = f.cart.ApplyDiscount(ctx, senior.ID, info)
	require.NoError(t, err)

	_, err = f.cart.AddItem(ctx, item.ID, 1)
	require.NoError(t, err)
	sale, err := f.cart.Checkout(ctx, models.PaymentCash)
	require.NoError(t, err)

	assert.Equal(t, 100.0, sale.SubtotalAmount)
	assert.Equal(t, 20.0, sale.DiscountAmount)
	assert.Equal(t, 80.0, sale.TotalAmount)
	require.NotNil(t, sale.DiscountInfo)
	assert.Equal(t, "SC-1", sale.DiscountInfo.IDNumber)

	stored, err := f.store.GetSale(ctx, sale.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.DiscountInfo)
	assert.Equal(t, "Lola", stored.DiscountInfo.HolderName)
}

func TestVoidSaleReturnsStock(t *testing.T) {
	f := newFixture(t)
	ctx := WithActor(context.Background(), "admin")
	latte, beans, milk := f.latte(t)
	shift, err := f.shifts.Open(ctx, "ana", 0)
	require.NoError(t, err)

	_, err = f.cart.AddItem(ctx, latte.ID, 1)
	require.NoError(t, err)
	sale, err := f.cart.Checkout(ctx, models.PaymentCash)
	require.NoError(t, err)

	voided, err := f.tm.VoidSale(ctx, sale.ID, "wrong order")
	require.NoError(t, err)
	assert.Equal(t, models.SaleStatusVoided, voided.Status)
	assert.Equal(t, 100, f.stockOf(t, beans.ID))
	assert.Equal(t, 500, f.stockOf(t, milk.ID))

	current, err := f.shifts.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, shift.ID, current.ID)
	assert.InDelta(t, 0, current.ExpectedCash, 1e-9)

	_, err = f.tm.RefundSale(ctx, sale.ID, "again")
	assert.ErrorIs(t, err, ErrValidation)

	queue := f.queue(t)
	require.Len(t, queue, 2)
	packet, err := queue[1].Packet()
	require.NoError(t, err)
	require.Len(t, packet.Sales, 1)
	assert.Equal(t, models.SaleStatusVoided, packet.Sales[0].Status)
	assert.Len(t, packet.StockMovements, 2)
	require.Len(t, packet.AuditLogs, 1)
	assert.Equal(t, "admin", packet.AuditLogs[0].Actor)
}

func TestShiftLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.shifts.RecordCash(ctx, models.CashIn, 10, "float")
	assert.ErrorIs(t, err, ErrValidation, "needs an open shift")

	_, err = f.shifts.Open(ctx, "ana", 100)
	require.NoError(t, err)
	_, err = f.shifts.Open(ctx, "ben", 100)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.shifts.RecordCash(ctx, models.CashIn, 20, "change")
	require.NoError(t, err)
	_, err = f.shifts.RecordCash(ctx, models.CashOut, 5, "ice")
	require.NoError(t, err)

	closed, err := f.shifts.Close(ctx, 110)
	require.NoError(t, err)
	assert.Equal(t, models.ShiftClosed, closed.Status)
	assert.Equal(t, 115.0, closed.ExpectedCash)

	queue := f.queue(t)
	require.Len(t, queue, 1)
	packet, err := queue[0].Packet()
	require.NoError(t, err)
	require.Len(t, packet.Shifts, 1)
	assert.Equal(t, closed.ID, packet.Shifts[0].ID)
}

func TestStockAuditBooksVariance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	soap := f.retail(t, "Soap", 2, 10)

	audit, err := f.stock.Audit(ctx, soap.ID, 7, "weekly count")
	require.NoError(t, err)
	assert.Equal(t, 10, audit.Expected)
	assert.Equal(t, -3, audit.Variance)
	assert.Equal(t, 7, f.stockOf(t, soap.ID))

	_, err = f.stock.ReceivePurchase(ctx, soap.ID, 5, "")
	require.NoError(t, err)
	_, err = f.stock.Adjust(ctx, soap.ID, -20, "broken")
	assert.ErrorIs(t, err, ErrOutOfStock)

	movements, err := f.store.ListMovements(ctx, soap.ID)
	require.NoError(t, err)
	sum := 0
	for _, m := range movements {
		sum += m.QuantityChange
	}
	assert.Equal(t, f.stockOf(t, soap.ID), sum, "ledger sums to the stock counter")
	assert.Len(t, f.queue(t), 2)
}

func TestLoginAndLicenseGate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	auth := NewAuthService(f.store)

	_, err := auth.Login(ctx, "admin", "0000")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = auth.Login(ctx, "nobody", "1234")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = auth.CreateUser(ctx, "cashier", "5678", models.RoleCashier)
	assert.ErrorIs(t, err, ErrValidation)

	user, err := auth.Login(ctx, "admin", "1234")
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, user.Role)

	_, err = auth.CreateUser(ctx, "cashier", "5678", models.RoleCashier)
	require.NoError(t, err)
	auth.Logout()
	assert.Nil(t, auth.CurrentUser())

	gate := NewSettingsLicenseGate(f.store)
	ok, err := gate.MaySync(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, f.store.SetSetting(ctx, store.SettingLicenseRevoked, "true"))
	ok, err = gate.MaySync(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestReceiptData(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := f.retail(t, "Item", 10, 5)
	_, err := f.cart.AddItem(ctx, item.ID, 1)
	require.NoError(t, err)
	sale, err := f.cart.Checkout(ctx, models.PaymentCash)
	require.NoError(t, err)

	receipt, err := NewReceiptSource(f.store, testTerminal).ReceiptData(ctx, sale.ID)
	require.NoError(t, err)
	assert.Equal(t, sale.InvoiceNumber, receipt.Sale.InvoiceNumber)
	assert.Equal(t, "VAT", receipt.TaxName)
	assert.Equal(t, "Thank you!", receipt.Footer)
	assert.Equal(t, "Front", receipt.TerminalName)
}
