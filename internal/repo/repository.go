// Package repo holds the durable settings store port and its adapters.
package repo

import "context"

// SettingsStore is a small table/key document store. Values are JSON
// documents. Get returns an error wrapping domain.ErrNotFound when the key
// is absent; Delete of an absent key is not an error.
type SettingsStore interface {
	Get(ctx context.Context, table, key string) ([]byte, error)
	Set(ctx context.Context, table, key string, value []byte) error
	Delete(ctx context.Context, table, key string) error
	// All returns every key of a table.
	All(ctx context.Context, table string) (map[string][]byte, error)
}
