package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type ProductType string

const (
	ProductTypeRetail  ProductType = "RETAIL"
	ProductTypeService ProductType = "SERVICE"
)

// Ingredient is one line of a composite product's recipe.
type Ingredient struct {
	IngredientProductID string `json:"ingredient_product_id"`
	QuantityPerUnit     int    `json:"quantity_per_unit"`
	UnitLabel           string `json:"unit_label"`
}

// Ingredients is stored as a JSON column.
type Ingredients []Ingredient

func (i Ingredients) Value() (driver.Value, error) { return jsonValue(i) }
func (i *Ingredients) Scan(src interface{}) error  { return scanJSON(src, i) }

// Product is a closed variant: RETAIL products carry stock, SERVICE products carry a duration.
type Product struct {
	ID                string      `db:"id" json:"id"`
	Type              ProductType `db:"type" json:"type"`
	SKU               string      `db:"sku" json:"sku,omitempty"`
	Name              string      `db:"name" json:"name"`
	Category          string      `db:"category" json:"category"`
	Price             float64     `db:"price" json:"price"`
	IsActive          bool        `db:"is_active" json:"is_active"`
	StockLevel        int         `db:"stock_level" json:"stock_level"`
	LowStockThreshold int         `db:"low_stock_threshold" json:"low_stock_threshold"`
	IsComposite       bool        `db:"is_composite" json:"is_composite"`
	Ingredients       Ingredients `db:"ingredients" json:"ingredients,omitempty"`
	DurationMinutes   int         `db:"duration_minutes" json:"duration_minutes,omitempty"`
	AssignedStaffID   *string     `db:"assigned_staff_id" json:"assigned_staff_id,omitempty"`
	CreatedAt         time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time   `db:"updated_at" json:"updated_at"`
}

// Validate enforces the variant rules before a product enters the store.
func (p *Product) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if p.Price < 0 {
		return fmt.Errorf("price must not be negative")
	}
	switch p.Type {
	case ProductTypeRetail:
		if strings.TrimSpace(p.SKU) == "" {
			return fmt.Errorf("sku is required for retail products")
		}
		if p.StockLevel < 0 {
			return fmt.Errorf("stock_level must not be negative")
		}
		if p.IsComposite && len(p.Ingredients) == 0 {
			return fmt.Errorf("composite product needs at least one ingredient")
		}
		if !p.IsComposite && len(p.Ingredients) > 0 {
			return fmt.Errorf("ingredients are only allowed on composite products")
		}
		seen := make(map[string]bool, len(p.Ingredients))
		for _, ing := range p.Ingredients {
			if ing.IngredientProductID == "" || ing.IngredientProductID == p.ID {
				return fmt.Errorf("invalid ingredient product id %q", ing.IngredientProductID)
			}
			if seen[ing.IngredientProductID] {
				return fmt.Errorf("ingredient %s is listed more than once", ing.IngredientProductID)
			}
			seen[ing.IngredientProductID] = true
			if ing.QuantityPerUnit < 1 {
				return fmt.Errorf("ingredient %s: quantity_per_unit must be at least 1", ing.IngredientProductID)
			}
		}
		if p.DurationMinutes != 0 || p.AssignedStaffID != nil {
			return fmt.Errorf("retail products have no duration or staff")
		}
	case ProductTypeService:
		if p.IsComposite || len(p.Ingredients) > 0 || p.StockLevel != 0 {
			return fmt.Errorf("service products have no stock")
		}
		if p.DurationMinutes < 0 {
			return fmt.Errorf("duration must not be negative")
		}
	default:
		return fmt.Errorf("unknown product type %q", p.Type)
	}
	return nil
}

// CartItem is a line of the active cart. PriceAtSale is fixed when the line is added.
type CartItem struct {
	ProductID   string      `db:"product_id" json:"product_id"`
	Name        string      `db:"name" json:"name"`
	Type        ProductType `db:"type" json:"type"`
	Category    string      `db:"category" json:"category"`
	Quantity    int         `db:"quantity" json:"quantity"`
	PriceAtSale float64     `db:"price_at_sale" json:"price_at_sale"`
}

// SaleItems is the frozen copy of the cart stored on a sale.
type SaleItems []CartItem

func (s SaleItems) Value() (driver.Value, error) { return jsonValue(s) }
func (s *SaleItems) Scan(src interface{}) error  { return scanJSON(src, s) }

type DiscountType string

const (
	DiscountPercentage DiscountType = "PERCENTAGE"
	DiscountFixed      DiscountType = "FIXED"
)

type Discount struct {
	ID          string       `db:"id" json:"id"`
	Name        string       `db:"name" json:"name"`
	Type        DiscountType `db:"type" json:"type"`
	Value       float64      `db:"value" json:"value"`
	IsStatutory bool         `db:"is_statutory" json:"is_statutory"`
	ValidFrom   *time.Time   `db:"valid_from" json:"valid_from,omitempty"`
	ValidUntil  *time.Time   `db:"valid_until" json:"valid_until,omitempty"`
	IsActive    bool         `db:"is_active" json:"is_active"`
}

func (d *Discount) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("name is required")
	}
	switch d.Type {
	case DiscountPercentage:
		if d.Value < 0 || d.Value > 100 {
			return fmt.Errorf("percentage must be between 0 and 100")
		}
	case DiscountFixed:
		if d.Value < 0 {
			return fmt.Errorf("value must not be negative")
		}
	default:
		return fmt.Errorf("unknown discount type %q", d.Type)
	}
	if d.ValidFrom != nil && d.ValidUntil != nil && d.ValidUntil.Before(*d.ValidFrom) {
		return fmt.Errorf("valid_until is before valid_from")
	}
	return nil
}

// DiscountInfo is the identity verification captured for a statutory discount.
type DiscountInfo struct {
	HolderName string `json:"holder_name"`
	IDNumber   string `json:"id_number"`
	IDType     string `json:"id_type,omitempty"`
}

func (d DiscountInfo) Value() (driver.Value, error) { return jsonValue(d) }
func (d *DiscountInfo) Scan(src interface{}) error  { return scanJSON(src, d) }

type SaleStatus string

const (
	SaleStatusCompleted SaleStatus = "COMPLETED"
	SaleStatusVoided    SaleStatus = "VOIDED"
	SaleStatusRefunded  SaleStatus = "REFUNDED"
)

type PaymentMethod string

const (
	PaymentCash    PaymentMethod = "CASH"
	PaymentCard    PaymentMethod = "CARD"
	PaymentEWallet PaymentMethod = "E_WALLET"
	PaymentOther   PaymentMethod = "OTHER"
)

func (p PaymentMethod) Valid() bool {
	switch p {
	case PaymentCash, PaymentCard, PaymentEWallet, PaymentOther:
		return true
	}
	return false
}

type Sale struct {
	ID                  string        `db:"id" json:"id"`
	InvoiceNumber       string        `db:"invoice_number" json:"invoice_number"`
	Items               SaleItems     `db:"items" json:"items"`
	SubtotalAmount      float64       `db:"subtotal_amount" json:"subtotal_amount"`
	DiscountName        string        `db:"discount_name" json:"discount_name,omitempty"`
	DiscountAmount      float64       `db:"discount_amount" json:"discount_amount"`
	DiscountInfo        *DiscountInfo `db:"discount_info" json:"discount_info,omitempty"`
	TaxName             string        `db:"tax_name" json:"tax_name"`
	TaxRateSnapshot     float64       `db:"tax_rate_snapshot" json:"tax_rate_snapshot"`
	IsTaxInclusive      bool          `db:"is_tax_inclusive" json:"is_tax_inclusive"`
	TaxAmount           float64       `db:"tax_amount" json:"tax_amount"`
	ServiceChargeAmount float64       `db:"service_charge_amount" json:"service_charge_amount"`
	TotalAmount         float64       `db:"total_amount" json:"total_amount"`
	PaymentMethod       PaymentMethod `db:"payment_method" json:"payment_method"`
	CustomerID          *string       `db:"customer_id" json:"customer_id,omitempty"`
	ShiftID             *string       `db:"shift_id" json:"shift_id,omitempty"`
	Status              SaleStatus    `db:"status" json:"status"`
	Timestamp           time.Time     `db:"timestamp" json:"timestamp"`
	Synced              bool          `db:"synced" json:"synced"`
}

type MovementType string

const (
	MovementPurchase   MovementType = "PURCHASE"
	MovementSale       MovementType = "SALE"
	MovementAdjustment MovementType = "ADJUSTMENT"
)

// StockMovement is an append-only ledger entry.
type StockMovement struct {
	ID             string       `db:"id" json:"id"`
	ProductID      string       `db:"product_id" json:"product_id"`
	Type           MovementType `db:"type" json:"type"`
	QuantityChange int          `db:"quantity_change" json:"quantity_change"`
	Reason         string       `db:"reason" json:"reason"`
	ReferenceID    *string      `db:"reference_id" json:"reference_id,omitempty"`
	Timestamp      time.Time    `db:"timestamp" json:"timestamp"`
	Synced         bool         `db:"synced" json:"synced"`
}

type StockAudit struct {
	ID        string    `db:"id" json:"id"`
	ProductID string    `db:"product_id" json:"product_id"`
	Expected  int       `db:"expected" json:"expected"`
	Counted   int       `db:"counted" json:"counted"`
	Variance  int       `db:"variance" json:"variance"`
	Note      string    `db:"note" json:"note"`
	Timestamp time.Time `db:"timestamp" json:"timestamp"`
}

type Customer struct {
	ID         string     `db:"id" json:"id"`
	Name       string     `db:"name" json:"name"`
	Phone      string     `db:"phone" json:"phone"`
	TotalSpent float64    `db:"total_spent" json:"total_spent"`
	VisitCount int        `db:"visit_count" json:"visit_count"`
	LastVisit  *time.Time `db:"last_visit" json:"last_visit,omitempty"`
}

type ShiftStatus string

const (
	ShiftOpen   ShiftStatus = "OPEN"
	ShiftClosed ShiftStatus = "CLOSED"
)

type Shift struct {
	ID           string      `db:"id" json:"id"`
	Cashier      string      `db:"cashier" json:"cashier"`
	Status       ShiftStatus `db:"status" json:"status"`
	OpeningCash  float64     `db:"opening_cash" json:"opening_cash"`
	ExpectedCash float64     `db:"expected_cash" json:"expected_cash"`
	ClosingCash  *float64    `db:"closing_cash" json:"closing_cash,omitempty"`
	OpenedAt     time.Time   `db:"opened_at" json:"opened_at"`
	ClosedAt     *time.Time  `db:"closed_at" json:"closed_at,omitempty"`
	Synced       bool        `db:"synced" json:"synced"`
}

type CashTransactionType string

const (
	CashIn  CashTransactionType = "CASH_IN"
	CashOut CashTransactionType = "CASH_OUT"
)

type CashTransaction struct {
	ID        string              `db:"id" json:"id"`
	ShiftID   string              `db:"shift_id" json:"shift_id"`
	Type      CashTransactionType `db:"type" json:"type"`
	Amount    float64             `db:"amount" json:"amount"`
	Reason    string              `db:"reason" json:"reason"`
	Timestamp time.Time           `db:"timestamp" json:"timestamp"`
}

type AuditLog struct {
	ID         string    `db:"id" json:"id"`
	Actor      string    `db:"actor" json:"actor"`
	Action     string    `db:"action" json:"action"`
	EntityType string    `db:"entity_type" json:"entity_type"`
	EntityID   string    `db:"entity_id" json:"entity_id"`
	Detail     string    `db:"detail" json:"detail"`
	Timestamp  time.Time `db:"timestamp" json:"timestamp"`
	Synced     bool      `db:"synced" json:"synced"`
}

type UserRole string

const (
	RoleAdmin   UserRole = "ADMIN"
	RoleCashier UserRole = "CASHIER"
)

type User struct {
	ID        string    `db:"id" json:"id"`
	Username  string    `db:"username" json:"username"`
	PINHash   string    `db:"pin_hash" json:"-"`
	Role      UserRole  `db:"role" json:"role"`
	IsActive  bool      `db:"is_active" json:"is_active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

type QueueStatus string

const (
	QueuePending    QueueStatus = "PENDING"
	QueueProcessing QueueStatus = "PROCESSING"
	QueueFailed     QueueStatus = "FAILED"
)

// SyncQueueItem is one outbox row. Payload holds the encoded SyncPacket.
type SyncQueueItem struct {
	ID            int64       `db:"id" json:"id"`
	URL           string      `db:"url" json:"url"`
	Method        string      `db:"method" json:"method"`
	Payload       string      `db:"payload" json:"-"`
	Status        QueueStatus `db:"status" json:"status"`
	RetryCount    int         `db:"retry_count" json:"retry_count"`
	CreatedAt     time.Time   `db:"created_at" json:"created_at"`
	LastError     string      `db:"last_error" json:"last_error,omitempty"`
	NextAttemptAt time.Time   `db:"next_attempt_at" json:"next_attempt_at"`
}

// Packet decodes the outbox payload.
func (q *SyncQueueItem) Packet() (*SyncPacket, error) {
	var p SyncPacket
	if err := json.Unmarshal([]byte(q.Payload), &p); err != nil {
		return nil, fmt.Errorf("decode sync packet %d: %w", q.ID, err)
	}
	return &p, nil
}

type QueueStats struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Failed     int `json:"failed"`
}

func jsonValue(v interface{}) (driver.Value, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func scanJSON(src interface{}, dst interface{}) error {
	switch v := src.(type) {
	case nil:
		return nil
	case string:
		if v == "" {
			return nil
		}
		return json.Unmarshal([]byte(v), dst)
	case []byte:
		if len(v) == 0 {
			return nil
		}
		return json.Unmarshal(v, dst)
	default:
		return fmt.Errorf("unsupported json column type %T", src)
	}
}
