package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"offline-pos/internal/events"
	"offline-pos/internal/pricing"
)

// Setting keys
const (
	SettingTaxRate             = "tax_rate"
	SettingTaxName             = "tax_name"
	SettingTaxInclusive        = "tax_inclusive"
	SettingEnableServiceCharge = "enable_service_charge"
	SettingServiceChargeRate   = "service_charge_rate"
	SettingLicenseRevoked      = "license_revoked"
	SettingReceiptHeader       = "receipt_header"
	SettingReceiptFooter       = "receipt_footer"
)

// DefaultSettings are written by Bootstrap when absent.
var DefaultSettings = map[string]string{
	SettingTaxRate:             "12",
	SettingTaxName:             "VAT",
	SettingTaxInclusive:        "true",
	SettingEnableServiceCharge: "false",
	SettingServiceChargeRate:   "0",
	SettingLicenseRevoked:      "false",
	SettingReceiptHeader:       "",
	SettingReceiptFooter:       "Thank you!",
}

// GetSetting returns the value of key, or "" when unset.
func (t *Tx) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := t.tx.GetContext(ctx, &value, "SELECT value FROM settings WHERE key = ?", key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value, err
}

func (t *Tx) SetSetting(ctx context.Context, key, value string) error {
	_, err := t.tx.ExecContext(ctx,
		"INSERT INTO settings (key, value) VALUES (?, ?) ON CONFLICT (key) DO UPDATE SET value = excluded.value",
		key, value)
	if err != nil {
		return fmt.Errorf("failed to write setting %s: %w", key, err)
	}
	t.record(events.TableSettings, events.OpUpdate, key)
	return nil
}

// Settings returns every stored setting.
func (t *Tx) Settings(ctx context.Context) (map[string]string, error) {
	rows, err := t.tx.QueryxContext(ctx, "SELECT key, value FROM settings")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, rows.Err()
}

// TaxConfig reads the pricing settings. Malformed values fall back to zero/false.
func (t *Tx) TaxConfig(ctx context.Context) (pricing.TaxConfig, error) {
	settings, err := t.Settings(ctx)
	if err != nil {
		return pricing.TaxConfig{}, fmt.Errorf("failed to read tax settings: %w", err)
	}
	return pricing.TaxConfig{
		TaxRate:             parseFloat(settings[SettingTaxRate]),
		TaxName:             settings[SettingTaxName],
		TaxInclusive:        ParseBool(settings[SettingTaxInclusive]),
		EnableServiceCharge: ParseBool(settings[SettingEnableServiceCharge]),
		ServiceChargeRate:   parseFloat(settings[SettingServiceChargeRate]),
	}, nil
}

func (s *Store) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := s.View(ctx, func(tx *Tx) error {
		var err error
		value, err = tx.GetSetting(ctx, key)
		return err
	})
	return value, err
}

func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	return s.WithTx(ctx, func(tx *Tx) error {
		return tx.SetSetting(ctx, key, value)
	})
}

func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

// ParseBool reads a boolean setting; anything unparseable is false.
func ParseBool(s string) bool {
	v, _ := strconv.ParseBool(s)
	return v
}
