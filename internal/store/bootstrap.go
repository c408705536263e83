package store

import (
	"context"
	"errors"
	"fmt"

	"offline-pos/internal/models"

	"golang.org/x/crypto/bcrypt"
)

// BootstrapOptions controls first-run seeding.
type BootstrapOptions struct {
	AdminUsername string
	AdminPIN      string
}

// StatutoryDiscounts are seeded on first run.
var StatutoryDiscounts = []models.Discount{
	{Name: "Senior Citizen", Type: models.DiscountPercentage, Value: 20, IsStatutory: true, IsActive: true},
	{Name: "PWD", Type: models.DiscountPercentage, Value: 20, IsStatutory: true, IsActive: true},
}

// Bootstrap seeds default settings, statutory discounts and the admin user.
// Anything already present is left alone, so it is safe to run on every start.
func (s *Store) Bootstrap(ctx context.Context, opts BootstrapOptions) error {
	return s.WithTx(ctx, func(tx *Tx) error {
		for key, value := range DefaultSettings {
			if _, err := tx.tx.ExecContext(ctx,
				"INSERT INTO settings (key, value) VALUES (?, ?) ON CONFLICT (key) DO NOTHING", key, value); err != nil {
				return fmt.Errorf("failed to seed setting %s: %w", key, err)
			}
		}

		for _, d := range StatutoryDiscounts {
			exists, err := tx.discountExists(ctx, d.Name)
			if err != nil {
				return err
			}
			if exists {
				continue
			}
			d := d
			if err := tx.CreateDiscount(ctx, &d); err != nil {
				return fmt.Errorf("failed to seed discount %s: %w", d.Name, err)
			}
		}

		if opts.AdminUsername == "" {
			return nil
		}
		_, err := tx.GetUserByUsername(ctx, opts.AdminUsername)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrNotFound) {
			return err
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(opts.AdminPIN), bcrypt.DefaultCost)
		if err != nil {
			return fmt.Errorf("failed to hash admin pin: %w", err)
		}
		return tx.CreateUser(ctx, &models.User{
			Username: opts.AdminUsername,
			PINHash:  string(hash),
			Role:     models.RoleAdmin,
			IsActive: true,
		})
	})
}
