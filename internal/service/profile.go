package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/resume-auth/internal/errs"
	"github.com/and161185/resume-auth/internal/model"
	"github.com/and161185/resume-auth/internal/repository"
)

// ProfileService reads and updates onboarding fields.
type ProfileService interface {
	Get(ctx context.Context, id uuid.UUID) (*model.Identity, error)
	Update(ctx context.Context, id uuid.UUID, upd model.ProfileUpdate) (*model.Identity, error)
}

// ProfileServiceImpl implements ProfileService.
type ProfileServiceImpl struct {
	users repository.IdentityRepository
}

// NewProfileService constructs ProfileService.
func NewProfileService(users repository.IdentityRepository) *ProfileServiceImpl {
	return &ProfileServiceImpl{users: users}
}

// Get returns the identity with its onboarding fields.
func (s *ProfileServiceImpl) Get(ctx context.Context, id uuid.UUID) (*model.Identity, error) {
	if id == uuid.Nil {
		return nil, fmt.Errorf("%w: identity id", errs.ErrValidation)
	}
	return s.users.GetByID(ctx, id)
}

// Update sets name and date of birth. A name is required: an identity without one counts
// as not onboarded.
func (s *ProfileServiceImpl) Update(ctx context.Context, id uuid.UUID, upd model.ProfileUpdate) (*model.Identity, error) {
	name := strings.TrimSpace(upd.Name)
	if id == uuid.Nil || name == "" {
		return nil, fmt.Errorf("%w: name is required", errs.ErrValidation)
	}

	i, err := s.users.UpdateProfile(ctx, id, model.ProfileUpdate{Name: name, DateOfBirth: upd.DateOfBirth})
	if errors.Is(err, errs.ErrNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("update profile: %w", err)
	}
	return i, nil
}
