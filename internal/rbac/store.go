package rbac

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/orbit-erp/orbit/internal/platform/db"
)

// Store persists users, roles and permissions.
type Store interface {
	UserProfile(ctx context.Context, userID int64) (Profile, error)
	UserPermissions(ctx context.Context, userID int64) ([]string, error)
	ListRoles(ctx context.Context) ([]Role, error)
	CreateRole(ctx context.Context, name, description string) (Role, error)
	ListPermissions(ctx context.Context) ([]Permission, error)
	UpsertPermission(ctx context.Context, name, description string) (Permission, error)
	RolePermissionIDs(ctx context.Context, roleID int64) ([]int64, error)
	AttachPermission(ctx context.Context, roleID, permissionID int64) error
	DetachPermission(ctx context.Context, roleID, permissionID int64) error
	AssignRole(ctx context.Context, userID, roleID int64) error
	RemoveRole(ctx context.Context, userID, roleID int64) error
}

// PGStore implements Store on PostgreSQL.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewStore constructs a PostgreSQL store.
func NewStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

func (s *PGStore) conn(ctx context.Context) db.DBTX {
	return db.Conn(ctx, s.pool)
}

// UserProfile loads a user and its linked partner.
func (s *PGStore) UserProfile(ctx context.Context, userID int64) (Profile, error) {
	var (
		p         Profile
		partnerID *int64
	)
	err := s.conn(ctx).QueryRow(ctx, `SELECT id, partner_id, name, active FROM users WHERE id = $1`, userID).
		Scan(&p.UserID, &partnerID, &p.Name, &p.Active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Profile{}, ErrNotFound
		}
		return Profile{}, err
	}
	if partnerID != nil {
		p.PartnerID = *partnerID
	}
	return p, nil
}

// UserPermissions returns the distinct permission names granted through roles.
func (s *PGStore) UserPermissions(ctx context.Context, userID int64) ([]string, error) {
	rows, err := s.conn(ctx).Query(ctx, `SELECT DISTINCT p.name
FROM user_roles ur
JOIN role_permissions rp ON rp.role_id = ur.role_id
JOIN permissions p ON p.id = rp.permission_id
WHERE ur.user_id = $1
ORDER BY p.name`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

// ListRoles returns all roles ordered by name.
func (s *PGStore) ListRoles(ctx context.Context) ([]Role, error) {
	rows, err := s.conn(ctx).Query(ctx, `SELECT id, name, description, created_at, updated_at FROM roles ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Role
	for rows.Next() {
		var r Role
		if err := rows.Scan(&r.ID, &r.Name, &r.Description, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// CreateRole inserts a role.
func (s *PGStore) CreateRole(ctx context.Context, name, description string) (Role, error) {
	var r Role
	err := s.conn(ctx).QueryRow(ctx, `INSERT INTO roles (name, description) VALUES ($1, $2)
RETURNING id, name, description, created_at, updated_at`, name, description).
		Scan(&r.ID, &r.Name, &r.Description, &r.CreatedAt, &r.UpdatedAt)
	return r, err
}

// ListPermissions returns all permissions ordered by name.
func (s *PGStore) ListPermissions(ctx context.Context) ([]Permission, error) {
	rows, err := s.conn(ctx).Query(ctx, `SELECT id, name, description FROM permissions ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Permission
	for rows.Next() {
		var p Permission
		if err := rows.Scan(&p.ID, &p.Name, &p.Description); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpsertPermission creates a permission or refreshes its description.
func (s *PGStore) UpsertPermission(ctx context.Context, name, description string) (Permission, error) {
	var p Permission
	err := s.conn(ctx).QueryRow(ctx, `INSERT INTO permissions (name, description) VALUES ($1, $2)
ON CONFLICT (name) DO UPDATE SET description = COALESCE(NULLIF(EXCLUDED.description, ''), permissions.description)
RETURNING id, name, description`, strings.ToLower(name), description).Scan(&p.ID, &p.Name, &p.Description)
	return p, err
}

// RolePermissionIDs lists the permissions attached to a role.
func (s *PGStore) RolePermissionIDs(ctx context.Context, roleID int64) ([]int64, error) {
	rows, err := s.conn(ctx).Query(ctx, `SELECT permission_id FROM role_permissions WHERE role_id = $1`, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// AttachPermission grants a permission to a role.
func (s *PGStore) AttachPermission(ctx context.Context, roleID, permissionID int64) error {
	_, err := s.conn(ctx).Exec(ctx, `INSERT INTO role_permissions (role_id, permission_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`, roleID, permissionID)
	return err
}

// DetachPermission revokes a permission from a role.
func (s *PGStore) DetachPermission(ctx context.Context, roleID, permissionID int64) error {
	_, err := s.conn(ctx).Exec(ctx, `DELETE FROM role_permissions WHERE role_id = $1 AND permission_id = $2`, roleID, permissionID)
	return err
}

// AssignRole links a user to a role.
func (s *PGStore) AssignRole(ctx context.Context, userID, roleID int64) error {
	_, err := s.conn(ctx).Exec(ctx, `INSERT INTO user_roles (user_id, role_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`, userID, roleID)
	return err
}

// RemoveRole unlinks a user from a role.
func (s *PGStore) RemoveRole(ctx context.Context, userID, roleID int64) error {
	_, err := s.conn(ctx).Exec(ctx, `DELETE FROM user_roles WHERE user_id = $1 AND role_id = $2`, userID, roleID)
	return err
}
