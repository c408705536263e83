package service

import (
	"context"

	"offline-pos/internal/models"
	"offline-pos/internal/store"
)

// Receipt is the read-only input handed to printers and report exporters.
type Receipt struct {
	Sale         models.Sale `json:"sale"`
	TaxName      string      `json:"tax_name"`
	Header       string      `json:"header"`
	Footer       string      `json:"footer"`
	TerminalName string      `json:"terminal_name,omitempty"`
}

// ReceiptSource serves receipt data. It never writes.
type ReceiptSource struct {
	store    *store.Store
	terminal Terminal
}

func NewReceiptSource(store *store.Store, terminal Terminal) *ReceiptSource {
	return &ReceiptSource{store: store, terminal: terminal}
}

// ReceiptData returns a copy of the sale with the receipt settings.
func (r *ReceiptSource) ReceiptData(ctx context.Context, saleID string) (*Receipt, error) {
	var receipt *Receipt
	err := r.store.View(ctx, func(tx *store.Tx) error {
		sale, err := tx.GetSale(ctx, saleID)
		if err != nil {
			return err
		}
		settings, err := tx.Settings(ctx)
		if err != nil {
			return err
		}
		receipt = &Receipt{
			Sale:         *sale,
			TaxName:      sale.TaxName,
			Header:       settings[store.SettingReceiptHeader],
			Footer:       settings[store.SettingReceiptFooter],
			TerminalName: r.terminal.Name,
		}
		return nil
	})
	return receipt, err
}

// CustomerService manages the loyalty customers a cart can be attached to.
type CustomerService struct {
	store *store.Store
}

func NewCustomerService(store *store.Store) *CustomerService {
	return &CustomerService{store: store}
}

func (s *CustomerService) Create(ctx context.Context, name, phone string) (*models.Customer, error) {
	c := &models.Customer{Name: name, Phone: phone}
	err := s.store.WithTx(ctx, func(tx *store.Tx) error {
		return tx.CreateCustomer(ctx, c)
	})
	if err != nil {
		return nil, invalidErr("customer", err)
	}
	return c, nil
}

func (s *CustomerService) List(ctx context.Context) ([]models.Customer, error) {
	return s.store.ListCustomers(ctx)
}
