package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/campus-canteen/api/internal/repositories"
)

var (
	// ErrCanteenInvalidInput signals the caller provided invalid data.
	ErrCanteenInvalidInput = errors.New("canteen: invalid input")
	// ErrCanteenMissing indicates the canteen could not be located.
	ErrCanteenMissing = errors.New("canteen: not found")
)

// CanteenServiceDeps bundles collaborators for the browse surface.
type CanteenServiceDeps struct {
	Canteens  repositories.CanteenRepository
	MenuItems repositories.MenuItemRepository
}

type canteenService struct {
	canteens  repositories.CanteenRepository
	menuItems repositories.MenuItemRepository
}

// NewCanteenService wires dependencies into a concrete CanteenService implementation.
func NewCanteenService(deps CanteenServiceDeps) (CanteenService, error) {
	if deps.Canteens == nil {
		return nil, errors.New("canteen service: canteen repository is required")
	}
	if deps.MenuItems == nil {
		return nil, errors.New("canteen service: menu item repository is required")
	}
	return &canteenService{
		canteens:  deps.Canteens,
		menuItems: deps.MenuItems,
	}, nil
}

func (s *canteenService) ListCanteens(ctx context.Context) ([]Canteen, error) {
	canteens, err := s.canteens.List(ctx)
	if err != nil {
		return nil, s.mapRepositoryError(err)
	}
	return canteens, nil
}

func (s *canteenService) GetCanteen(ctx context.Context, canteenID string) (Canteen, error) {
	canteenID = strings.TrimSpace(canteenID)
	if canteenID == "" {
		return Canteen{}, fmt.Errorf("%w: canteen id is required", ErrCanteenInvalidInput)
	}
	canteen, err := s.canteens.FindByID(ctx, canteenID)
	if err != nil {
		return Canteen{}, s.mapRepositoryError(err)
	}
	return canteen, nil
}

func (s *canteenService) ListMenu(ctx context.Context, canteenID string) ([]MenuItem, error) {
	canteenID = strings.TrimSpace(canteenID)
	if canteenID == "" {
		return nil, fmt.Errorf("%w: canteen id is required", ErrCanteenInvalidInput)
	}
	// Resolve the canteen first so an unknown ID surfaces as not-found rather
	// than an empty menu.
	if _, err := s.canteens.FindByID(ctx, canteenID); err != nil {
		return nil, s.mapRepositoryError(err)
	}
	items, err := s.menuItems.ListByCanteen(ctx, canteenID)
	if err != nil {
		return nil, s.mapRepositoryError(err)
	}
	return items, nil
}

func (s *canteenService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrCanteenMissing, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("canteen: repository unavailable: %w", err)
		}
	}
	return err
}
