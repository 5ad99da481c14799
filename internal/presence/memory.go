package presence

import (
	"context"
	"fmt"
	"sync"

	"github.com/hamed0406/presencewatch/internal/domain"
)

// Memory is an in-process Source. Accounts not present resolve to
// domain.ErrNotFound.
type Memory struct {
	mu       sync.RWMutex
	accounts map[string]domain.Account
	lookups  map[string]int
}

func NewMemory(accounts ...domain.Account) *Memory {
	m := &Memory{
		accounts: make(map[string]domain.Account),
		lookups:  make(map[string]int),
	}
	for _, a := range accounts {
		m.accounts[a.ID] = a
	}
	return m
}

func (m *Memory) Set(a domain.Account) {
	m.mu.Lock()
	m.accounts[a.ID] = a
	m.mu.Unlock()
}

func (m *Memory) SetStatus(id string, st domain.Status) {
	m.mu.Lock()
	a, ok := m.accounts[id]
	if !ok {
		a = domain.Account{ID: id}
	}
	a.Status = st
	m.accounts[id] = a
	m.mu.Unlock()
}

func (m *Memory) Delete(id string) {
	m.mu.Lock()
	delete(m.accounts, id)
	m.mu.Unlock()
}

// Lookups returns how many times id was fetched.
func (m *Memory) Lookups(id string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lookups[id]
}

func (m *Memory) FetchAccount(_ context.Context, id string) (domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lookups[id]++
	a, ok := m.accounts[id]
	if !ok {
		return domain.Account{}, fmt.Errorf("account %s: %w", id, domain.ErrNotFound)
	}
	return a, nil
}
