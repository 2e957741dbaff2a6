// Package users implements account creation and lookup.
package users

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"

	"template-backend/internal/apperr"
	"template-backend/internal/models"
	"template-backend/internal/storage"
)

// Store is the persistence contract for users. storage.Repository satisfies it.
type Store interface {
	CreateUser(ctx context.Context, email string) (models.User, error)
	GetUser(ctx context.Context, id int64) (models.User, error)
	FindUserByEmail(ctx context.Context, email string) (models.User, error)
}

// Service wraps a Store with the application error taxonomy.
type Service struct {
	store Store
}

func NewService(store Store) *Service {
	return &Service{store: store}
}

func emailTaken() *apperr.Error {
	return apperr.Validation("Email already taken", "email")
}

// Create registers a new user. A duplicate address is reported as a
// validation error on the email field whether the pre-check or the unique
// constraint catches it.
func (s *Service) Create(ctx context.Context, email string) (models.User, error) {
	email = models.NormalizeEmail(email)
	if email == "" {
		return models.User{}, apperr.Validation("Email is required", "email")
	}
	if utf8.RuneCountInString(email) > models.MaxEmailLength {
		return models.User{}, apperr.Validation("Email is too long", "email")
	}

	_, err := s.store.FindUserByEmail(ctx, email)
	switch {
	case err == nil:
		return models.User{}, emailTaken()
	case !errors.Is(err, storage.ErrNotFound):
		return models.User{}, fmt.Errorf("check email: %w", err)
	}

	user, err := s.store.CreateUser(ctx, email)
	if errors.Is(err, storage.ErrEmailTaken) {
		return models.User{}, emailTaken()
	}
	if err != nil {
		return models.User{}, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

// GetByID loads a user or reports NOT_FOUND.
func (s *Service) GetByID(ctx context.Context, id int64) (models.User, error) {
	if id <= 0 || id > models.MaxUserID {
		return models.User{}, apperr.NotFound("User not found")
	}
	user, err := s.store.GetUser(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return models.User{}, apperr.NotFound("User not found")
	}
	if err != nil {
		return models.User{}, fmt.Errorf("load user: %w", err)
	}
	return user, nil
}
