package grantstore

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory grant store. It is the default backend when no
// external store is configured.
type MemoryStore struct {
	mu    sync.RWMutex
	users map[string]*userGrants
}

type userGrants struct {
	roles map[string]struct{}
	perms map[string]struct{}
}

// NewMemoryStore creates a new in-memory grant store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users: make(map[string]*userGrants),
	}
}

func (m *MemoryStore) GrantRole(_ context.Context, user, role string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.get(user).roles[role] = struct{}{}
	return nil
}

func (m *MemoryStore) GrantPermission(_ context.Context, user, perm string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.get(user).perms[perm] = struct{}{}
	return nil
}

func (m *MemoryStore) RevokeRole(_ context.Context, user, role string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ug, ok := m.users[user]; ok {
		delete(ug.roles, role)
	}
	return nil
}

func (m *MemoryStore) RevokePermission(_ context.Context, user, perm string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ug, ok := m.users[user]; ok {
		delete(ug.perms, perm)
	}
	return nil
}

func (m *MemoryStore) ListGrants(_ context.Context, user string) (Grants, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ug, ok := m.users[user]
	if !ok {
		return Grants{}, nil
	}
	return Grants{
		Roles:       sortedKeys(ug.roles),
		Permissions: sortedKeys(ug.perms),
	}, nil
}

// Users returns all user IDs with at least one grant, sorted. Used by the
// admin user listing.
func (m *MemoryStore) Users(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	users := make([]string, 0, len(m.users))
	for id, ug := range m.users {
		if len(ug.roles) > 0 || len(ug.perms) > 0 {
			users = append(users, id)
		}
	}
	sort.Strings(users)
	return users, nil
}

// get returns the grant record for a user, creating it if needed.
// Caller must hold the write lock.
func (m *MemoryStore) get(user string) *userGrants {
	ug, ok := m.users[user]
	if !ok {
		ug = &userGrants{
			roles: make(map[string]struct{}),
			perms: make(map[string]struct{}),
		}
		m.users[user] = ug
	}
	return ug
}

func sortedKeys(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
