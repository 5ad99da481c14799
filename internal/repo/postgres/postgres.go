package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/hamed0406/presencewatch/internal/domain"
	"github.com/hamed0406/presencewatch/internal/repo"
)

var _ repo.SettingsStore = (*Store)(nil)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS settings (
  tbl        TEXT        NOT NULL,
  key        TEXT        NOT NULL,
  value      JSONB       NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  PRIMARY KEY (tbl, key)
);
`

type Store struct {
	pool *pgxpool.Pool
	log  *zap.Logger
}

func New(ctx context.Context, dsn string, log *zap.Logger) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}
	ctxPing, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(ctxPing); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return &Store{pool: pool, log: log}, nil
}

// EnsureSchema creates the settings table when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func (s *Store) Get(ctx context.Context, table, key string) ([]byte, error) {
	var v []byte
	err := s.pool.QueryRow(ctx, `SELECT value FROM settings WHERE tbl=$1 AND key=$2`, table, key).Scan(&v)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%s/%s: %w", table, key, domain.ErrNotFound)
		}
		return nil, err
	}
	return v, nil
}

func (s *Store) Set(ctx context.Context, table, key string, value []byte) error {
	const q = `
		INSERT INTO settings (tbl, key, value, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (tbl, key)
		DO UPDATE SET value=EXCLUDED.value, updated_at=EXCLUDED.updated_at
	`
	_, err := s.pool.Exec(ctx, q, table, key, string(value))
	if err != nil {
		s.log.Warn("settings_write_error", zap.String("table", table), zap.String("key", key), zap.Error(err))
	}
	return err
}

func (s *Store) Delete(ctx context.Context, table, key string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM settings WHERE tbl=$1 AND key=$2`, table, key)
	return err
}

func (s *Store) All(ctx context.Context, table string) (map[string][]byte, error) {
	rows, err := s.pool.Query(ctx, `SELECT key, value FROM settings WHERE tbl=$1`, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string][]byte)
	for rows.Next() {
		var k string
		var v []byte
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, rows.Err()
}
