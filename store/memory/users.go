// Package memory provides an in-process credgate.UserStore for tests, demos and
// the load test.
package memory

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/MrEthical07/credgate"
)

// ErrDuplicateLoginName is returned by Put when another principal already owns
// the login name.
var ErrDuplicateLoginName = errors.New("memory: duplicate login name")

// Users is a mutex-guarded principal table keyed by id with a login name index.
// Login names are matched case-insensitively.
type Users struct {
	mu     sync.RWMutex
	byID   map[int64]credgate.Principal
	byName map[string]int64
}

var (
	_ credgate.UserStore     = (*Users)(nil)
	_ credgate.SecretUpdater = (*Users)(nil)
	_ credgate.StatusUpdater = (*Users)(nil)
)

func NewUsers() *Users {
	return &Users{
		byID:   make(map[int64]credgate.Principal),
		byName: make(map[string]int64),
	}
}

func normalize(loginName string) string {
	return strings.ToLower(strings.TrimSpace(loginName))
}

// Put inserts or replaces p.
func (u *Users) Put(p credgate.Principal) error {
	name := normalize(p.LoginName)
	u.mu.Lock()
	defer u.mu.Unlock()
	if owner, ok := u.byName[name]; ok && owner != p.ID {
		return ErrDuplicateLoginName
	}
	if prev, ok := u.byID[p.ID]; ok {
		delete(u.byName, normalize(prev.LoginName))
	}
	p.LoginName = name
	u.byID[p.ID] = p
	u.byName[name] = p.ID
	return nil
}

func (u *Users) FindByLoginName(_ context.Context, loginName string) (*credgate.Principal, error) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	id, ok := u.byName[normalize(loginName)]
	if !ok {
		return nil, credgate.ErrPrincipalNotFound
	}
	p := u.byID[id]
	return &p, nil
}

func (u *Users) FindByID(_ context.Context, id int64) (*credgate.Principal, error) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	p, ok := u.byID[id]
	if !ok {
		return nil, credgate.ErrPrincipalNotFound
	}
	return &p, nil
}

func (u *Users) UpdateSecretHash(_ context.Context, id int64, hash string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	p, ok := u.byID[id]
	if !ok {
		return credgate.ErrPrincipalNotFound
	}
	p.SecretHash = hash
	u.byID[id] = p
	return nil
}

func (u *Users) SetActive(_ context.Context, id int64, active bool) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	p, ok := u.byID[id]
	if !ok {
		return credgate.ErrPrincipalNotFound
	}
	p.Active = active
	u.byID[id] = p
	return nil
}

// Len returns the number of principals.
func (u *Users) Len() int {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return len(u.byID)
}
