package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"offline-pos/internal/models"
	"offline-pos/internal/store"
	"offline-pos/internal/util"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

type actorKey struct{}

// WithActor tags ctx with the username that audit entries are attributed to.
func WithActor(ctx context.Context, username string) context.Context {
	return context.WithValue(ctx, actorKey{}, username)
}

// ActorFrom returns the acting username, or "system".
func ActorFrom(ctx context.Context) string {
	if v, ok := ctx.Value(actorKey{}).(string); ok && v != "" {
		return v
	}
	return "system"
}

// AuthService holds the signed-in user of this terminal session.
type AuthService struct {
	store  *store.Store
	logger *zap.Logger

	mu      sync.RWMutex
	current *models.User
}

func NewAuthService(store *store.Store) *AuthService {
	return &AuthService{
		store:  store,
		logger: util.GetLogger(),
	}
}

// Login checks the PIN against the stored bcrypt hash and starts a session.
func (s *AuthService) Login(ctx context.Context, username, pin string) (*models.User, error) {
	ctx, span := util.StartSpan(ctx, "AuthService.Login")
	defer span.End()

	user, err := s.store.GetUserByUsername(ctx, strings.TrimSpace(username))
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if !user.IsActive {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PINHash), []byte(pin)); err != nil {
		s.logger.Warn("Failed login", zap.String("username", user.Username))
		return nil, ErrInvalidCredentials
	}

	s.mu.Lock()
	s.current = user
	s.mu.Unlock()

	s.logger.Info("User logged in", zap.String("username", user.Username), zap.String("role", string(user.Role)))
	return user, nil
}

func (s *AuthService) Logout() {
	s.mu.Lock()
	s.current = nil
	s.mu.Unlock()
}

// CurrentUser returns the signed-in user, or nil.
func (s *AuthService) CurrentUser() *models.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// CreateUser adds a user with a hashed PIN. Only admins may call it.
func (s *AuthService) CreateUser(ctx context.Context, username, pin string, role models.UserRole) (*models.User, error) {
	if cur := s.CurrentUser(); cur == nil || cur.Role != models.RoleAdmin {
		return nil, invalid("user", "only an admin can create users")
	}
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, invalid("username", "is required")
	}
	if len(pin) < 4 {
		return nil, invalid("pin", "must be at least 4 characters")
	}
	if role != models.RoleAdmin && role != models.RoleCashier {
		return nil, invalid("role", "unknown role %q", role)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash pin: %w", err)
	}
	user := &models.User{Username: username, PINHash: string(hash), Role: role, IsActive: true}

	err = s.store.WithTx(ctx, func(tx *store.Tx) error {
		if err := tx.CreateUser(ctx, user); err != nil {
			return err
		}
		return tx.InsertAuditLog(ctx, &models.AuditLog{
			Actor:      s.CurrentUser().Username,
			Action:     "USER_CREATED",
			EntityType: "user",
			EntityID:   user.ID,
			Detail:     username,
		})
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

// SettingsLicenseGate allows syncing unless the license_revoked setting is true.
type SettingsLicenseGate struct {
	store *store.Store
}

func NewSettingsLicenseGate(store *store.Store) *SettingsLicenseGate {
	return &SettingsLicenseGate{store: store}
}

func (g *SettingsLicenseGate) MaySync(ctx context.Context) (bool, error) {
	revoked, err := g.store.GetSetting(ctx, store.SettingLicenseRevoked)
	if err != nil {
		return false, err
	}
	return !store.ParseBool(revoked), nil
}
