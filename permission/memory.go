package permission

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// ErrNotFound is returned by MemoryStore for unknown role or permission ids.
var ErrNotFound = errors.New("permission: not found")

// MemoryStore is an in-process Source and Mutator. It backs tests, the load test,
// and single-node setups without a database.
type MemoryStore struct {
	mu          sync.RWMutex
	roles       map[int64]*Role
	permissions map[int64]Permission
	grants      map[int64][]int64
	assignments map[int64][]int64
}

var (
	_ Source  = (*MemoryStore)(nil)
	_ Mutator = (*MemoryStore)(nil)
)

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		roles:       make(map[int64]*Role),
		permissions: make(map[int64]Permission),
		grants:      make(map[int64][]int64),
		assignments: make(map[int64][]int64),
	}
}

// PutPermission inserts or replaces a permission.
func (m *MemoryStore) PutPermission(p Permission) {
	m.mu.Lock()
	m.permissions[p.ID] = p
	m.mu.Unlock()
}

// PutRole inserts or replaces a role and its permission grants.
func (m *MemoryStore) PutRole(id int64, code string, enabled bool, permissionIDs ...int64) {
	m.mu.Lock()
	m.roles[id] = &Role{ID: id, Code: code, Enabled: enabled}
	m.grants[id] = append([]int64(nil), permissionIDs...)
	m.mu.Unlock()
}

func (m *MemoryStore) RolesForPrincipal(_ context.Context, principalID int64) ([]Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Role
	for _, roleID := range m.assignments[principalID] {
		role, ok := m.roles[roleID]
		if !ok {
			continue
		}
		r := Role{ID: role.ID, Code: role.Code, Enabled: role.Enabled}
		for _, pid := range m.grants[roleID] {
			if p, ok := m.permissions[pid]; ok {
				r.Permissions = append(r.Permissions, p)
			}
		}
		out = append(out, r)
	}
	return out, nil
}

func (m *MemoryStore) AssignRoles(_ context.Context, principalID int64, roleIDs []int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range roleIDs {
		if _, ok := m.roles[id]; !ok {
			return ErrNotFound
		}
	}
	m.assignments[principalID] = append([]int64(nil), roleIDs...)
	return nil
}

func (m *MemoryStore) SetRolePermissions(_ context.Context, roleID int64, permissionIDs []int64) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.roles[roleID]; !ok {
		return nil, ErrNotFound
	}
	for _, id := range permissionIDs {
		if _, ok := m.permissions[id]; !ok {
			return nil, ErrNotFound
		}
	}
	m.grants[roleID] = append([]int64(nil), permissionIDs...)
	return m.holdersLocked(roleID), nil
}

func (m *MemoryStore) SetRoleEnabled(_ context.Context, roleID int64, enabled bool) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	role, ok := m.roles[roleID]
	if !ok {
		return nil, ErrNotFound
	}
	role.Enabled = enabled
	return m.holdersLocked(roleID), nil
}

func (m *MemoryStore) SetPermissionEnabled(_ context.Context, permissionID int64, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.permissions[permissionID]
	if !ok {
		return ErrNotFound
	}
	p.Enabled = enabled
	m.permissions[permissionID] = p
	return nil
}

func (m *MemoryStore) holdersLocked(roleID int64) []int64 {
	var out []int64
	for principal, roles := range m.assignments {
		for _, id := range roles {
			if id == roleID {
				out = append(out, principal)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
