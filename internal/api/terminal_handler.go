package api

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"time"

	"offline-pos/internal/events"
	"offline-pos/internal/models"
	"offline-pos/internal/service"
	"offline-pos/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// SyncControl is the part of the sync worker the terminal API drives.
type SyncControl interface {
	TriggerNow()
	RetryAllFailed(ctx context.Context) (int64, error)
	Online() bool
}

// TerminalHandler serves the local POS API used by the till front-end.
type TerminalHandler struct {
	store     *store.Store
	bus       *events.Bus
	auth      *service.AuthService
	cart      *service.CartService
	txManager *service.TransactionManager
	shifts    *service.ShiftService
	stock     *service.StockService
	customers *service.CustomerService
	receipts  *service.ReceiptSource
	sync      SyncControl
}

type TerminalDeps struct {
	Store     *store.Store
	Bus       *events.Bus
	Auth      *service.AuthService
	Cart      *service.CartService
	TxManager *service.TransactionManager
	Shifts    *service.ShiftService
	Stock     *service.StockService
	Customers *service.CustomerService
	Receipts  *service.ReceiptSource
	Sync      SyncControl
}

func NewTerminalHandler(d TerminalDeps) *TerminalHandler {
	return &TerminalHandler{
		store:     d.Store,
		bus:       d.Bus,
		auth:      d.Auth,
		cart:      d.Cart,
		txManager: d.TxManager,
		shifts:    d.Shifts,
		stock:     d.Stock,
		customers: d.Customers,
		receipts:  d.Receipts,
		sync:      d.Sync,
	}
}

// Router builds the terminal engine with every route registered.
func (h *TerminalHandler) Router(allowedOrigins []string) *gin.Engine {
	router := newRouter(allowedOrigins)
	h.SetupRoutes(router)
	return router
}

// SetupRoutes sets up HTTP routes
func (h *TerminalHandler) SetupRoutes(router *gin.Engine) {
	router.GET("/ready", h.readinessCheck)

	v1 := router.Group("/api/v1")
	v1.Use(h.actorMiddleware())
	{
		v1.POST("/auth/login", h.login)
		v1.POST("/auth/logout", h.logout)
		v1.GET("/auth/me", h.me)
		v1.POST("/users", h.createUser)

		v1.GET("/products", h.listProducts)
		v1.POST("/products", h.createProduct)
		v1.GET("/products/:id", h.getProduct)
		v1.PUT("/products/:id", h.updateProduct)
		v1.GET("/products/:id/movements", h.listMovements)
		v1.POST("/products/:id/purchases", h.receivePurchase)
		v1.POST("/products/:id/adjustments", h.adjustStock)
		v1.POST("/products/:id/audits", h.auditStock)

		v1.GET("/cart", h.getCart)
		v1.POST("/cart/items", h.addCartItem)
		v1.PUT("/cart/items/:product_id", h.updateCartItem)
		v1.DELETE("/cart/items/:product_id", h.removeCartItem)
		v1.DELETE("/cart", h.clearCart)
		v1.POST("/cart/discount", h.applyDiscount)
		v1.DELETE("/cart/discount", h.removeDiscount)
		v1.PUT("/cart/customer", h.setCustomer)
		v1.POST("/checkout", h.checkout)

		v1.GET("/sales", h.listSales)
		v1.GET("/sales/:id", h.getSale)
		v1.GET("/sales/:id/receipt", h.getReceipt)
		v1.POST("/sales/:id/void", h.voidSale)
		v1.POST("/sales/:id/refund", h.refundSale)

		v1.GET("/discounts", h.listDiscounts)
		v1.GET("/customers", h.listCustomers)
		v1.POST("/customers", h.createCustomer)

		v1.GET("/shifts/current", h.currentShift)
		v1.POST("/shifts/open", h.openShift)
		v1.POST("/shifts/cash", h.recordCash)
		v1.POST("/shifts/close", h.closeShift)

		v1.GET("/settings", h.getSettings)
		v1.PUT("/settings/:key", h.putSetting)
		v1.GET("/audit-logs", h.listAuditLogs)

		v1.GET("/sync/status", h.syncStatus)
		v1.GET("/sync/queue", h.syncQueue)
		v1.POST("/sync/trigger", h.syncTrigger)
		v1.POST("/sync/retry", h.syncRetry)
		v1.DELETE("/sync/queue/:id", h.syncDismiss)

		v1.GET("/events", h.streamEvents)
	}
}

// actorMiddleware stamps the signed-in user on the request context for audit logs.
func (h *TerminalHandler) actorMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if user := h.auth.CurrentUser(); user != nil {
			c.Request = c.Request.WithContext(service.WithActor(c.Request.Context(), user.Username))
		}
		c.Next()
	}
}

func (h *TerminalHandler) readinessCheck(c *gin.Context) {
	if _, err := h.store.QueueStats(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "not ready",
			"details": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	PIN      string `json:"pin" binding:"required"`
}

func (h *TerminalHandler) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	user, err := h.auth.Login(c.Request.Context(), req.Username, req.PIN)
	if err != nil {
		respondError(c, "Login failed", err)
		return
	}
	c.JSON(http.StatusOK, user)
}

func (h *TerminalHandler) logout(c *gin.Context) {
	h.auth.Logout()
	c.Status(http.StatusNoContent)
}

func (h *TerminalHandler) me(c *gin.Context) {
	user := h.auth.CurrentUser()
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Not signed in"})
		return
	}
	c.JSON(http.StatusOK, user)
}

type createUserRequest struct {
	Username string          `json:"username" binding:"required"`
	PIN      string          `json:"pin" binding:"required"`
	Role     models.UserRole `json:"role" binding:"required"`
}

func (h *TerminalHandler) createUser(c *gin.Context) {
	var req createUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	user, err := h.auth.CreateUser(c.Request.Context(), req.Username, req.PIN, req.Role)
	if err != nil {
		respondError(c, "Failed to create user", err)
		return
	}
	c.JSON(http.StatusCreated, user)
}

func (h *TerminalHandler) listProducts(c *gin.Context) {
	products, err := h.store.ListProducts(c.Request.Context())
	if err != nil {
		respondError(c, "Failed to list products", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"products": products})
}

func (h *TerminalHandler) getProduct(c *gin.Context) {
	ctx := c.Request.Context()
	var product *models.Product
	var available int
	err := h.store.View(ctx, func(tx *store.Tx) error {
		var err error
		if product, err = tx.GetProduct(ctx, c.Param("id")); err != nil {
			return err
		}
		available, err = tx.Availability(ctx, product)
		return err
	})
	if err != nil {
		respondError(c, "Product not found", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"product": product, "available": available})
}

func (h *TerminalHandler) createProduct(c *gin.Context) {
	var product models.Product
	if err := c.ShouldBindJSON(&product); err != nil {
		badRequest(c, err)
		return
	}
	if err := h.stock.CreateProduct(c.Request.Context(), &product); err != nil {
		respondError(c, "Failed to create product", err)
		return
	}
	c.JSON(http.StatusCreated, product)
}

func (h *TerminalHandler) updateProduct(c *gin.Context) {
	var product models.Product
	if err := c.ShouldBindJSON(&product); err != nil {
		badRequest(c, err)
		return
	}
	product.ID = c.Param("id")
	if err := h.stock.UpdateProduct(c.Request.Context(), &product); err != nil {
		respondError(c, "Failed to update product", err)
		return
	}
	c.JSON(http.StatusOK, product)
}

func (h *TerminalHandler) listMovements(c *gin.Context) {
	movements, err := h.store.ListMovements(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, "Failed to list movements", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"movements": movements})
}

type stockChangeRequest struct {
	Quantity int    `json:"quantity"`
	Reason   string `json:"reason"`
}

func (h *TerminalHandler) receivePurchase(c *gin.Context) {
	var req stockChangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	mv, err := h.stock.ReceivePurchase(c.Request.Context(), c.Param("id"), req.Quantity, req.Reason)
	if err != nil {
		respondError(c, "Failed to receive stock", err)
		return
	}
	c.JSON(http.StatusCreated, mv)
}

func (h *TerminalHandler) adjustStock(c *gin.Context) {
	var req stockChangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	mv, err := h.stock.Adjust(c.Request.Context(), c.Param("id"), req.Quantity, req.Reason)
	if err != nil {
		respondError(c, "Failed to adjust stock", err)
		return
	}
	c.JSON(http.StatusCreated, mv)
}

type auditRequest struct {
	Counted int    `json:"counted"`
	Note    string `json:"note"`
}

func (h *TerminalHandler) auditStock(c *gin.Context) {
	var req auditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	audit, err := h.stock.Audit(c.Request.Context(), c.Param("id"), req.Counted, req.Note)
	if err != nil {
		respondError(c, "Failed to record stock audit", err)
		return
	}
	c.JSON(http.StatusCreated, audit)
}

func (h *TerminalHandler) getCart(c *gin.Context) {
	ctx := c.Request.Context()
	cart, err := h.cart.Snapshot(ctx)
	if err != nil {
		respondError(c, "Failed to read cart", err)
		return
	}
	totals, err := h.cart.Totals(ctx)
	if err != nil {
		respondError(c, "Failed to price cart", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cart": cart, "totals": totals.Rounded()})
}

type cartItemRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

func (h *TerminalHandler) addCartItem(c *gin.Context) {
	var req cartItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	line, err := h.cart.AddItem(c.Request.Context(), req.ProductID, req.Quantity)
	if err != nil {
		respondError(c, "Failed to add item", err)
		return
	}
	c.JSON(http.StatusOK, line)
}

func (h *TerminalHandler) updateCartItem(c *gin.Context) {
	var req cartItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	line, err := h.cart.UpdateQuantity(c.Request.Context(), c.Param("product_id"), req.Quantity)
	if err != nil {
		respondError(c, "Failed to update item", err)
		return
	}
	c.JSON(http.StatusOK, line)
}

func (h *TerminalHandler) removeCartItem(c *gin.Context) {
	if err := h.cart.RemoveItem(c.Request.Context(), c.Param("product_id")); err != nil {
		respondError(c, "Failed to remove item", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *TerminalHandler) clearCart(c *gin.Context) {
	if err := h.cart.Clear(c.Request.Context()); err != nil {
		respondError(c, "Failed to clear cart", err)
		return
	}
	c.Status(http.StatusNoContent)
}

type discountRequest struct {
	DiscountID   string               `json:"discount_id" binding:"required"`
	DiscountInfo *models.DiscountInfo `json:"discount_info"`
}

func (h *TerminalHandler) applyDiscount(c *gin.Context) {
	var req discountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	discount, err := h.cart.ApplyDiscount(c.Request.Context(), req.DiscountID, req.DiscountInfo)
	if err != nil {
		respondError(c, "Failed to apply discount", err)
		return
	}
	c.JSON(http.StatusOK, discount)
}

func (h *TerminalHandler) removeDiscount(c *gin.Context) {
	h.cart.RemoveDiscount()
	c.Status(http.StatusNoContent)
}

func (h *TerminalHandler) setCustomer(c *gin.Context) {
	var req struct {
		CustomerID string `json:"customer_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := h.cart.SetCustomer(c.Request.Context(), req.CustomerID); err != nil {
		respondError(c, "Failed to set customer", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *TerminalHandler) checkout(c *gin.Context) {
	var req struct {
		PaymentMethod models.PaymentMethod `json:"payment_method" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	sale, err := h.cart.Checkout(c.Request.Context(), req.PaymentMethod)
	if err != nil {
		respondError(c, "Failed to complete sale", err)
		return
	}
	c.JSON(http.StatusCreated, sale)
}

func (h *TerminalHandler) listSales(c *gin.Context) {
	filter := store.SaleFilter{Status: models.SaleStatus(c.Query("status"))}
	if v := c.Query("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil {
			badRequest(c, err)
			return
		}
		filter.Limit = limit
	}
	for param, dst := range map[string]*time.Time{"from": &filter.From, "to": &filter.To} {
		if v := c.Query(param); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				badRequest(c, err)
				return
			}
			*dst = t
		}
	}

	sales, err := h.store.ListSales(c.Request.Context(), filter)
	if err != nil {
		respondError(c, "Failed to list sales", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sales": sales})
}

func (h *TerminalHandler) getSale(c *gin.Context) {
	sale, err := h.store.GetSale(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, "Sale not found", err)
		return
	}
	c.JSON(http.StatusOK, sale)
}

func (h *TerminalHandler) getReceipt(c *gin.Context) {
	receipt, err := h.receipts.ReceiptData(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, "Receipt not available", err)
		return
	}
	c.JSON(http.StatusOK, receipt)
}

type reverseRequest struct {
	Reason string `json:"reason"`
}

func (h *TerminalHandler) voidSale(c *gin.Context) {
	var req reverseRequest
	if err := c.ShouldBindJSON(&req); err != nil && err != io.EOF {
		badRequest(c, err)
		return
	}
	sale, err := h.txManager.VoidSale(c.Request.Context(), c.Param("id"), req.Reason)
	if err != nil {
		respondError(c, "Failed to void sale", err)
		return
	}
	c.JSON(http.StatusOK, sale)
}

func (h *TerminalHandler) refundSale(c *gin.Context) {
	var req reverseRequest
	if err := c.ShouldBindJSON(&req); err != nil && err != io.EOF {
		badRequest(c, err)
		return
	}
	sale, err := h.txManager.RefundSale(c.Request.Context(), c.Param("id"), req.Reason)
	if err != nil {
		respondError(c, "Failed to refund sale", err)
		return
	}
	c.JSON(http.StatusOK, sale)
}

func (h *TerminalHandler) listDiscounts(c *gin.Context) {
	discounts, err := h.store.ListDiscounts(c.Request.Context())
	if err != nil {
		respondError(c, "Failed to list discounts", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"discounts": discounts})
}

func (h *TerminalHandler) listCustomers(c *gin.Context) {
	customers, err := h.customers.List(c.Request.Context())
	if err != nil {
		respondError(c, "Failed to list customers", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"customers": customers})
}

func (h *TerminalHandler) createCustomer(c *gin.Context) {
	var req struct {
		Name  string `json:"name" binding:"required"`
		Phone string `json:"phone"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	customer, err := h.customers.Create(c.Request.Context(), req.Name, req.Phone)
	if err != nil {
		respondError(c, "Failed to create customer", err)
		return
	}
	c.JSON(http.StatusCreated, customer)
}

func (h *TerminalHandler) currentShift(c *gin.Context) {
	shift, err := h.shifts.Current(c.Request.Context())
	if err != nil {
		respondError(c, "Failed to read shift", err)
		return
	}
	if shift == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "No shift is open"})
		return
	}
	c.JSON(http.StatusOK, shift)
}

func (h *TerminalHandler) openShift(c *gin.Context) {
	var req struct {
		Cashier     string  `json:"cashier"`
		OpeningCash float64 `json:"opening_cash"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if req.Cashier == "" {
		if user := h.auth.CurrentUser(); user != nil {
			req.Cashier = user.Username
		}
	}
	shift, err := h.shifts.Open(c.Request.Context(), req.Cashier, req.OpeningCash)
	if err != nil {
		respondError(c, "Failed to open shift", err)
		return
	}
	c.JSON(http.StatusCreated, shift)
}

func (h *TerminalHandler) recordCash(c *gin.Context) {
	var req struct {
		Type   models.CashTransactionType `json:"type" binding:"required"`
		Amount float64                    `json:"amount"`
		Reason string                     `json:"reason"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	ct, err := h.shifts.RecordCash(c.Request.Context(), req.Type, req.Amount, req.Reason)
	if err != nil {
		respondError(c, "Failed to record cash", err)
		return
	}
	c.JSON(http.StatusCreated, ct)
}

func (h *TerminalHandler) closeShift(c *gin.Context) {
	var req struct {
		ClosingCash float64 `json:"closing_cash"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	shift, err := h.shifts.Close(c.Request.Context(), req.ClosingCash)
	if err != nil {
		respondError(c, "Failed to close shift", err)
		return
	}
	c.JSON(http.StatusOK, shift)
}

func (h *TerminalHandler) getSettings(c *gin.Context) {
	ctx := c.Request.Context()
	var settings map[string]string
	err := h.store.View(ctx, func(tx *store.Tx) error {
		var err error
		settings, err = tx.Settings(ctx)
		return err
	})
	if err != nil {
		respondError(c, "Failed to read settings", err)
		return
	}
	c.JSON(http.StatusOK, settings)
}

func (h *TerminalHandler) putSetting(c *gin.Context) {
	if user := h.auth.CurrentUser(); user == nil || user.Role != models.RoleAdmin {
		c.JSON(http.StatusForbidden, gin.H{"error": "Only an admin can change settings"})
		return
	}
	var req struct {
		Value string `json:"value"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := h.store.SetSetting(c.Request.Context(), c.Param("key"), req.Value); err != nil {
		respondError(c, "Failed to save setting", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *TerminalHandler) listAuditLogs(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	logs, err := h.store.ListAuditLogs(c.Request.Context(), limit)
	if err != nil {
		respondError(c, "Failed to list audit logs", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"audit_logs": logs})
}

func (h *TerminalHandler) syncStatus(c *gin.Context) {
	stats, err := h.store.QueueStats(c.Request.Context())
	if err != nil {
		respondError(c, "Failed to read sync queue", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"online": h.sync.Online(),
		"queue":  stats,
	})
}

func (h *TerminalHandler) syncQueue(c *gin.Context) {
	items, err := h.store.ListQueue(c.Request.Context(), models.QueueStatus(c.Query("status")))
	if err != nil {
		respondError(c, "Failed to list sync queue", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (h *TerminalHandler) syncTrigger(c *gin.Context) {
	h.sync.TriggerNow()
	c.Status(http.StatusAccepted)
}

func (h *TerminalHandler) syncRetry(c *gin.Context) {
	n, err := h.sync.RetryAllFailed(c.Request.Context())
	if err != nil {
		respondError(c, "Failed to retry sync queue", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"requeued": n})
}

func (h *TerminalHandler) syncDismiss(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid queue ID"})
		return
	}
	if err := h.store.DismissFailed(c.Request.Context(), id); err != nil {
		respondError(c, "Failed to dismiss queue item", err)
		return
	}
	c.Status(http.StatusNoContent)
}

// streamEvents pushes change events to the front-end as Server-Sent Events.
func (h *TerminalHandler) streamEvents(c *gin.Context) {
	ctx := c.Request.Context()
	changes := h.bus.Subscribe(ctx, "sse-"+uuid.NewString())

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	keepAlive := time.NewTicker(15 * time.Second)
	defer keepAlive.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-keepAlive.C:
			if _, err := io.WriteString(c.Writer, ": ping\n\n"); err != nil {
				return
			}
			c.Writer.Flush()
		case evt, ok := <-changes:
			if !ok {
				return
			}
			frame, err := events.FormatSSE(evt)
			if err != nil {
				continue
			}
			if _, err := io.WriteString(c.Writer, frame); err != nil {
				return
			}
			c.Writer.Flush()
		}
	}
}
