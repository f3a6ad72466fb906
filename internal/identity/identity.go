// Package identity authenticates users by phone and keeps their role fixed.
package identity

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/example/taxi-dispatch/internal/models"
	"github.com/example/taxi-dispatch/internal/storage"
)

type Service struct {
	store  storage.UserStore
	logger *slog.Logger
}

func NewService(store storage.UserStore, logger *slog.Logger) *Service {
	return &Service{store: store, logger: logger.With("component", "identity")}
}

// Authenticate returns the user registered under phone, creating one on
// first contact. The phone acts as a bearer identifier. vehicle is only
// used when a new driver is created.
func (s *Service) Authenticate(ctx context.Context, phone, name string, role models.Role, vehicle *models.Vehicle) (models.User, error) {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return models.User{}, models.ErrInvalidPhone
	}
	if role != models.RolePassenger && role != models.RoleDriver {
		return models.User{}, models.ErrInvalidRole
	}
	u := models.User{Phone: phone, Name: strings.TrimSpace(name), Role: role, Rating: models.DefaultRating}
	if role == models.RoleDriver {
		v := models.DefaultVehicle()
		if vehicle != nil {
			v = vehicle.WithDefaults()
		}
		u.Vehicle = &v
	}
	got, created, err := s.store.FindOrCreateUser(ctx, u)
	if err != nil {
		return models.User{}, err
	}
	if got.Role != role {
		return models.User{}, fmt.Errorf("phone %s is a %s: %w", phone, got.Role, models.ErrRoleConflict)
	}
	if created {
		s.logger.Info("user registered", "user_id", got.ID, "role", got.Role)
	}
	return got, nil
}

func (s *Service) Get(ctx context.Context, id int64) (models.User, error) {
	return s.store.GetUser(ctx, id)
}
