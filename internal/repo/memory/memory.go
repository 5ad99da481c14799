package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/hamed0406/presencewatch/internal/domain"
	"github.com/hamed0406/presencewatch/internal/repo"
)

var _ repo.SettingsStore = (*Store)(nil)

type Store struct {
	mu      sync.RWMutex
	tables  map[string]map[string][]byte
	failErr error
	writes  int
}

func New() *Store {
	return &Store{tables: make(map[string]map[string][]byte)}
}

// FailWrites makes every later Set and Delete return err. A nil err restores
// normal behaviour.
func (m *Store) FailWrites(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failErr = err
}

// Writes reports how many successful Set/Delete calls were made.
func (m *Store) Writes() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.writes
}

func (m *Store) Get(ctx context.Context, table, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.tables[table][key]
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", table, key, domain.ErrNotFound)
	}
	return clone(v), nil
}

func (m *Store) Set(ctx context.Context, table, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return m.failErr
	}
	t := m.tables[table]
	if t == nil {
		t = make(map[string][]byte)
		m.tables[table] = t
	}
	t[key] = clone(value)
	m.writes++
	return nil
}

func (m *Store) Delete(ctx context.Context, table, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return m.failErr
	}
	delete(m.tables[table], key)
	m.writes++
	return nil
}

func (m *Store) All(ctx context.Context, table string) (map[string][]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string][]byte, len(m.tables[table]))
	for k, v := range m.tables[table] {
		out[k] = clone(v)
	}
	return out, nil
}

func clone(b []byte) []byte {
	return append([]byte(nil), b...)
}
