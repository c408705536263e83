package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"offline-pos/internal/events"
	"offline-pos/internal/ingest"
	"offline-pos/internal/models"
	"offline-pos/internal/service"
	"offline-pos/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeSync struct {
	triggered int
}

func (f *fakeSync) TriggerNow() { f.triggered++ }
func (f *fakeSync) RetryAllFailed(ctx context.Context) (int64, error) {
	return 0, nil
}
func (f *fakeSync) Online() bool { return true }

func newTerminal(t *testing.T) (*gin.Engine, *store.Store, *fakeSync) {
	t.Helper()
	ctx := context.Background()
	bus := events.NewBus()
	s, err := store.OpenMemory(ctx, bus)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Bootstrap(ctx, store.BootstrapOptions{AdminUsername: "admin", AdminPIN: "1234"}))

	terminal := service.Terminal{ID: "t-1", OrganizationID: "org-1", SyncEndpoint: "http://sync.test"}
	inventory := service.NewInventoryService(s)
	tm := service.NewTransactionManager(s, terminal)
	sync := &fakeSync{}
	h := NewTerminalHandler(TerminalDeps{
		Store:     s,
		Bus:       bus,
		Auth:      service.NewAuthService(s),
		Cart:      service.NewCartService(s, inventory, tm),
		TxManager: tm,
		Shifts:    service.NewShiftService(s, terminal),
		Stock:     service.NewStockService(s, terminal),
		Customers: service.NewCustomerService(s),
		Receipts:  service.NewReceiptSource(s, terminal),
		Sync:      sync,
	})
	return h.Router(nil), s, sync
}

func do(t *testing.T, router http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	router, _, _ := newTerminal(t)
	w := do(t, router, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(t, router, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCheckoutFlow(t *testing.T) {
	router, s, _ := newTerminal(t)

	w := do(t, router, http.MethodPost, "/api/v1/products", models.Product{
		Type: models.ProductTypeRetail, SKU: "SOAP", Name: "Soap", Price: 10, IsActive: true, StockLevel: 2,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var product models.Product
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &product))

	w = do(t, router, http.MethodPost, "/api/v1/cart/items", gin.H{"product_id": product.ID, "quantity": 3})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = do(t, router, http.MethodPost, "/api/v1/cart/items", gin.H{"product_id": product.ID, "quantity": 2})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = do(t, router, http.MethodGet, "/api/v1/cart", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"total":20`)

	w = do(t, router, http.MethodPost, "/api/v1/checkout", gin.H{"payment_method": "CARD"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var sale models.Sale
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sale))
	assert.Equal(t, "000001", sale.InvoiceNumber)

	w = do(t, router, http.MethodGet, "/api/v1/sales/"+sale.ID+"/receipt", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(t, router, http.MethodPost, "/api/v1/sales/"+sale.ID+"/void", gin.H{"reason": "customer changed mind"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	p, err := s.GetProduct(context.Background(), product.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, p.StockLevel)

	w = do(t, router, http.MethodGet, "/api/v1/sync/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"pending":2`)
}

func TestErrorMapping(t *testing.T) {
	router, _, sync := newTerminal(t)

	w := do(t, router, http.MethodPost, "/api/v1/checkout", gin.H{"payment_method": "CASH"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, router, http.MethodGet, "/api/v1/sales/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, router, http.MethodPost, "/api/v1/auth/login", gin.H{"username": "admin", "pin": "0000"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(t, router, http.MethodPut, "/api/v1/settings/tax_rate", gin.H{"value": "5"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = do(t, router, http.MethodDelete, "/api/v1/sync/queue/42", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, router, http.MethodPost, "/api/v1/sync/trigger", nil)
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, 1, sync.triggered)
}

func TestAdminSettingsAndAudit(t *testing.T) {
	router, s, _ := newTerminal(t)

	w := do(t, router, http.MethodPost, "/api/v1/auth/login", gin.H{"username": "admin", "pin": "1234"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "pin_hash")

	w = do(t, router, http.MethodPut, "/api/v1/settings/tax_rate", gin.H{"value": "5"})
	require.Equal(t, http.StatusNoContent, w.Code)
	v, err := s.GetSetting(context.Background(), store.SettingTaxRate)
	require.NoError(t, err)
	assert.Equal(t, "5", v)

	w = do(t, router, http.MethodPost, "/api/v1/shifts/open", gin.H{"opening_cash": 100})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var shift models.Shift
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &shift))
	assert.Equal(t, "admin", shift.Cashier)

	logs, err := s.ListAuditLogs(context.Background(), 10)
	require.NoError(t, err)
	require.NotEmpty(t, logs)
	assert.Equal(t, "admin", logs[0].Actor)
}

type fakeIngester struct {
	claims *ingest.Claims
	err    error
}

func (f *fakeIngester) Ingest(ctx context.Context, claims *ingest.Claims, p *models.SyncPacket) (*models.SyncAck, error) {
	f.claims = claims
	if f.err != nil {
		return nil, f.err
	}
	return &models.SyncAck{Status: models.AckSuccess}, nil
}

func TestSyncEndpoint(t *testing.T) {
	secret := []byte("receiver-secret")
	ingester := &fakeIngester{}
	router := NewSyncHandler(ingester, secret, nil).Router(nil)

	post := func(token string, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/sync", bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusUnauthorized, post("", `{}`).Code)
	assert.Equal(t, http.StatusUnauthorized, post("garbage", `{}`).Code)

	token, err := ingest.IssueToken(secret, "t-1", "org-1", 0)
	require.NoError(t, err)

	w := post(token, `{"id":"p-1","terminal_id":"t-1","organization_id":"org-1"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"SUCCESS"}`, w.Body.String())
	require.NotNil(t, ingester.claims)
	assert.Equal(t, "t-1", ingester.claims.TerminalID)

	assert.Equal(t, http.StatusBadRequest, post(token, `{`).Code)

	ingester.err = ingest.ErrPacketBusy
	assert.Equal(t, http.StatusConflict, post(token, `{"id":"p-1"}`).Code)
}
