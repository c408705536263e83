// Package pricing turns a cart into money. Nothing here performs I/O.
package pricing

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"offline-pos/internal/models"

	"github.com/shopspring/decimal"
)

// TaxConfig mirrors the pricing settings. Rates are percentages.
type TaxConfig struct {
	TaxRate             float64 `json:"tax_rate"`
	TaxName             string  `json:"tax_name"`
	TaxInclusive        bool    `json:"tax_inclusive"`
	EnableServiceCharge bool    `json:"enable_service_charge"`
	ServiceChargeRate   float64 `json:"service_charge_rate"`
}

type Totals struct {
	RawSubtotal    float64 `json:"raw_subtotal"`
	DiscountAmount float64 `json:"discount_amount"`
	NetTotal       float64 `json:"net_total"`
	TaxableAmount  float64 `json:"taxable_amount"`
	TaxAmount      float64 `json:"tax_amount"`
	ServiceCharge  float64 `json:"service_charge"`
	Total          float64 `json:"total"`
}

// ComputeTotals prices items under discount and cfg.
//
// Inclusive tax is carved out of the net amount and the service charge is taken on the
// tax-inclusive net. Exclusive tax and the service charge are both taken on the net amount.
// The caller is responsible for validating the discount window before calling.
func ComputeTotals(items []models.CartItem, discount *models.Discount, cfg TaxConfig) Totals {
	var t Totals
	for _, it := range items {
		t.RawSubtotal += it.PriceAtSale * float64(it.Quantity)
	}

	t.DiscountAmount = discountAmount(t.RawSubtotal, discount)
	t.NetTotal = t.RawSubtotal - t.DiscountAmount

	rate := nonNegative(cfg.TaxRate) / 100
	scRate := 0.0
	if cfg.EnableServiceCharge {
		scRate = nonNegative(cfg.ServiceChargeRate) / 100
	}

	if cfg.TaxInclusive {
		t.TaxAmount = t.NetTotal - t.NetTotal/(1+rate)
		t.TaxableAmount = t.NetTotal - t.TaxAmount
		t.ServiceCharge = t.NetTotal * scRate
		t.Total = t.NetTotal + t.ServiceCharge
		return t
	}

	t.TaxableAmount = t.NetTotal
	t.TaxAmount = t.TaxableAmount * rate
	t.ServiceCharge = t.TaxableAmount * scRate
	t.Total = t.TaxableAmount + t.TaxAmount + t.ServiceCharge
	return t
}

// Rounded returns the totals rounded to cents, as frozen on a sale.
func (t Totals) Rounded() Totals {
	return Totals{
		RawSubtotal:    RoundMoney(t.RawSubtotal),
		DiscountAmount: RoundMoney(t.DiscountAmount),
		NetTotal:       RoundMoney(t.NetTotal),
		TaxableAmount:  RoundMoney(t.TaxableAmount),
		TaxAmount:      RoundMoney(t.TaxAmount),
		ServiceCharge:  RoundMoney(t.ServiceCharge),
		Total:          RoundMoney(t.Total),
	}
}

func RoundMoney(v float64) float64 {
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}

func discountAmount(subtotal float64, d *models.Discount) float64 {
	if d == nil {
		return 0
	}
	amount := d.Value
	if d.Type == models.DiscountPercentage {
		amount = subtotal * d.Value / 100
	}
	return math.Min(math.Max(amount, 0), math.Max(subtotal, 0))
}

func nonNegative(v float64) float64 {
	if v < 0 || math.IsNaN(v) {
		return 0
	}
	return v
}

var (
	ErrDiscountInactive     = errors.New("discount is not active")
	ErrDiscountNotYetValid  = errors.New("discount is not yet valid")
	ErrDiscountExpired      = errors.New("discount has expired")
	ErrVerificationRequired = errors.New("statutory discount requires identity verification")
)

// ValidateDiscount is the apply-time check that must pass before a discount is priced into a sale.
func ValidateDiscount(d *models.Discount, now time.Time, info *models.DiscountInfo) error {
	if d == nil {
		return nil
	}
	if !d.IsActive {
		return ErrDiscountInactive
	}
	if d.ValidFrom != nil && now.Before(*d.ValidFrom) {
		return ErrDiscountNotYetValid
	}
	if d.ValidUntil != nil && now.After(*d.ValidUntil) {
		return fmt.Errorf("%w: %s ended %s", ErrDiscountExpired, d.Name, d.ValidUntil.Format(time.RFC3339))
	}
	if d.IsStatutory {
		if info == nil || strings.TrimSpace(info.HolderName) == "" || strings.TrimSpace(info.IDNumber) == "" {
			return ErrVerificationRequired
		}
	}
	return nil
}
