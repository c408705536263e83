package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"offline-pos/internal/events"
	"offline-pos/internal/models"

	"github.com/google/uuid"
)

const userColumns = "id, username, pin_hash, role, is_active, created_at"

// CreateUser inserts a user. PINHash must already be hashed.
func (t *Tx) CreateUser(ctx context.Context, u *models.User) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = t.now()
	}
	_, err := t.tx.NamedExecContext(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES (:id, :username, :pin_hash, :role, :is_active, :created_at)`, u)
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}
	t.record(events.TableUsers, events.OpInsert, u.ID)
	return nil
}

// GetUserByUsername retrieves a user by username
func (t *Tx) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	var u models.User
	err := t.tx.GetContext(ctx, &u, "SELECT "+userColumns+" FROM users WHERE username = ?", username)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("user", username)
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	var u *models.User
	err := s.View(ctx, func(tx *Tx) error {
		var err error
		u, err = tx.GetUserByUsername(ctx, username)
		return err
	})
	return u, err
}
