package rbac

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/orbit-erp/orbit/internal/platform/httpx"
	"github.com/orbit-erp/orbit/internal/shared"
)

var (
	// ErrNotFound indicates that the requested record does not exist.
	ErrNotFound = fmt.Errorf("rbac: %w", httpx.ErrNotFound)
	// ErrInactiveUser is returned when a disabled user tries to act.
	ErrInactiveUser = fmt.Errorf("rbac: user inactive: %w", httpx.ErrForbidden)
)

// Service orchestrates RBAC operations.
type Service struct {
	store Store
}

// NewService constructs a Service backed by the provided store.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// Resolve builds the actor for a user with its partner and effective permissions.
func (s *Service) Resolve(ctx context.Context, userID int64) (shared.Actor, error) {
	profile, err := s.store.UserProfile(ctx, userID)
	if err != nil {
		return shared.Actor{}, err
	}
	if !profile.Active {
		return shared.Actor{}, ErrInactiveUser
	}
	perms, err := s.EffectivePermissions(ctx, userID)
	if err != nil {
		return shared.Actor{}, err
	}
	return shared.Actor{
		UserID:      profile.UserID,
		PartnerID:   profile.PartnerID,
		Name:        profile.Name,
		Permissions: perms,
	}, nil
}

// EffectivePermissions returns the normalized permissions granted to a user.
func (s *Service) EffectivePermissions(ctx context.Context, userID int64) ([]string, error) {
	perms, err := s.store.UserPermissions(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("rbac: user permissions: %w", err)
	}
	return normalizePermissions(perms), nil
}

// ListRoles returns all roles ordered by name.
func (s *Service) ListRoles(ctx context.Context) ([]Role, error) {
	return s.store.ListRoles(ctx)
}

// CreateRole inserts a new role.
func (s *Service) CreateRole(ctx context.Context, name, description string) (Role, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Role{}, fmt.Errorf("rbac: role name required: %w", httpx.ErrValidation)
	}
	return s.store.CreateRole(ctx, name, strings.TrimSpace(description))
}

// ListPermissions returns all permissions ordered by name.
func (s *Service) ListPermissions(ctx context.Context) ([]Permission, error) {
	return s.store.ListPermissions(ctx)
}

// EnsurePermissions upserts every named permission.
func (s *Service) EnsurePermissions(ctx context.Context, names []string) error {
	for _, name := range names {
		if _, err := s.store.UpsertPermission(ctx, strings.TrimSpace(name), ""); err != nil {
			return fmt.Errorf("rbac: ensure %s: %w", name, err)
		}
	}
	return nil
}

// SetRolePermissions replaces permissions for a role.
func (s *Service) SetRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64) error {
	current, err := s.store.RolePermissionIDs(ctx, roleID)
	if err != nil {
		return err
	}
	existing := make(map[int64]struct{}, len(current))
	for _, id := range current {
		existing[id] = struct{}{}
	}
	keep := make(map[int64]struct{}, len(permissionIDs))
	for _, id := range permissionIDs {
		keep[id] = struct{}{}
		if _, ok := existing[id]; !ok {
			if err := s.store.AttachPermission(ctx, roleID, id); err != nil {
				return err
			}
		}
	}
	for id := range existing {
		if _, ok := keep[id]; !ok {
			if err := s.store.DetachPermission(ctx, roleID, id); err != nil {
				return err
			}
		}
	}
	return nil
}

// AssignRole assigns a role to the given user.
func (s *Service) AssignRole(ctx context.Context, userID, roleID int64) error {
	if userID == 0 || roleID == 0 {
		return errors.New("rbac: user and role required")
	}
	return s.store.AssignRole(ctx, userID, roleID)
}

// RemoveRole removes a role from a user.
func (s *Service) RemoveRole(ctx context.Context, userID, roleID int64) error {
	return s.store.RemoveRole(ctx, userID, roleID)
}
