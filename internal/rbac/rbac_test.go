package rbac

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orbit-erp/orbit/internal/shared"
)

type memoryStore struct {
	profiles map[int64]Profile
	perms    map[int64][]string
	roles    []Role
	upserted []string
	attached map[int64][]int64
	detached map[int64][]int64
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		profiles: map[int64]Profile{
			1: {UserID: 1, PartnerID: 10, Name: "Hana", Active: true},
			2: {UserID: 2, PartnerID: 20, Name: "Idle", Active: false},
		},
		perms: map[int64][]string{
			1: {"Sales.Order.View", "sales.credit.validate_hr", "sales.order.view"},
		},
		attached: map[int64][]int64{},
		detached: map[int64][]int64{},
	}
}

func (m *memoryStore) UserProfile(ctx context.Context, userID int64) (Profile, error) {
	p, ok := m.profiles[userID]
	if !ok {
		return Profile{}, ErrNotFound
	}
	return p, nil
}

func (m *memoryStore) UserPermissions(ctx context.Context, userID int64) ([]string, error) {
	return m.perms[userID], nil
}

func (m *memoryStore) ListRoles(ctx context.Context) ([]Role, error) { return m.roles, nil }

func (m *memoryStore) CreateRole(ctx context.Context, name, description string) (Role, error) {
	r := Role{ID: int64(len(m.roles) + 1), Name: name, Description: description}
	m.roles = append(m.roles, r)
	return r, nil
}

func (m *memoryStore) ListPermissions(ctx context.Context) ([]Permission, error) {
	out := make([]Permission, 0, len(m.upserted))
	for i, name := range m.upserted {
		out = append(out, Permission{ID: int64(i + 1), Name: name})
	}
	return out, nil
}

func (m *memoryStore) UpsertPermission(ctx context.Context, name, description string) (Permission, error) {
	m.upserted = append(m.upserted, name)
	return Permission{ID: int64(len(m.upserted)), Name: name}, nil
}

func (m *memoryStore) RolePermissionIDs(ctx context.Context, roleID int64) ([]int64, error) {
	return []int64{1, 2}, nil
}

func (m *memoryStore) AttachPermission(ctx context.Context, roleID, permissionID int64) error {
	m.attached[roleID] = append(m.attached[roleID], permissionID)
	return nil
}

func (m *memoryStore) DetachPermission(ctx context.Context, roleID, permissionID int64) error {
	m.detached[roleID] = append(m.detached[roleID], permissionID)
	return nil
}

func (m *memoryStore) AssignRole(ctx context.Context, userID, roleID int64) error { return nil }
func (m *memoryStore) RemoveRole(ctx context.Context, userID, roleID int64) error { return nil }

func newTestRouter(store Store) http.Handler {
	mw := Middleware{Service: NewService(store)}
	r := chi.NewRouter()
	r.Use(mw.Identify)
	r.With(mw.RequireAny(shared.PermSalesOrderView)).Get("/view", func(w http.ResponseWriter, r *http.Request) {
		if actor, _ := shared.ActorFromContext(r.Context()); actor.PartnerID != 10 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	r.With(mw.RequireAll(shared.PermSalesOrderView, shared.PermCreditValidateAdmin)).Get("/admin", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	return r
}

func serve(t *testing.T, h http.Handler, path, user string) int {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if user != "" {
		req.Header.Set(UserHeader, user)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec.Code
}

func TestMiddlewareGuards(t *testing.T) {
	h := newTestRouter(newMemoryStore())
	tests := []struct {
		name string
		path string
		user string
		want int
	}{
		{"granted", "/view", "1", http.StatusNoContent},
		{"anonymous", "/view", "", http.StatusUnauthorized},
		{"malformed header", "/view", "abc", http.StatusUnauthorized},
		{"unknown user", "/view", "99", http.StatusUnauthorized},
		{"inactive user", "/view", "2", http.StatusForbidden},
		{"missing one of all", "/admin", "1", http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, serve(t, h, tt.path, tt.user))
		})
	}
}

func TestResolveNormalizesPermissions(t *testing.T) {
	actor, err := NewService(newMemoryStore()).Resolve(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"sales.credit.validate_hr", "sales.order.view"}, actor.Permissions)
	assert.True(t, actor.Can(shared.PermCreditValidateHR))
	assert.False(t, actor.Can(shared.PermCreditValidateAdmin))
}

func TestEnsurePermissionsUpsertsAllScopes(t *testing.T) {
	store := newMemoryStore()
	require.NoError(t, NewService(store).EnsurePermissions(context.Background(), shared.AllScopes()))
	assert.ElementsMatch(t, shared.AllScopes(), store.upserted)
}

func TestSetRolePermissionsDiffs(t *testing.T) {
	store := newMemoryStore()
	require.NoError(t, NewService(store).SetRolePermissions(context.Background(), 5, []int64{2, 3}))
	assert.Equal(t, []int64{3}, store.attached[5])
	assert.Equal(t, []int64{1}, store.detached[5])
}

func TestCreateRoleRequiresName(t *testing.T) {
	_, err := NewService(newMemoryStore()).CreateRole(context.Background(), "  ", "")
	require.Error(t, err)
}
