// Package natskv stores settings in NATS JetStream key-value buckets, one
// bucket per table.
package natskv

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/hamed0406/presencewatch/internal/domain"
	"github.com/hamed0406/presencewatch/internal/repo"
)

var _ repo.SettingsStore = (*Store)(nil)

type Store struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	prefix string
	log    *zap.Logger

	mu      sync.Mutex
	buckets map[string]jetstream.KeyValue
}

func New(url, bucketPrefix string, log *zap.Logger) (*Store, error) {
	nc, err := nats.Connect(url, nats.Name("presencewatch"))
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream: %w", err)
	}
	return &Store{
		nc:      nc,
		js:      js,
		prefix:  bucketPrefix,
		log:     log,
		buckets: make(map[string]jetstream.KeyValue),
	}, nil
}

func (s *Store) Close() {
	if s.nc != nil {
		s.nc.Close()
	}
}

func (s *Store) bucket(ctx context.Context, table string) (jetstream.KeyValue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if kv, ok := s.buckets[table]; ok {
		return kv, nil
	}
	name := s.prefix + table
	kv, err := s.js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      name,
		Description: "presencewatch settings table " + table,
		History:     1,
	})
	if err != nil {
		return nil, fmt.Errorf("kv bucket %s: %w", name, err)
	}
	s.log.Debug("kv_bucket_ready", zap.String("bucket", name))
	s.buckets[table] = kv
	return kv, nil
}

func (s *Store) Get(ctx context.Context, table, key string) ([]byte, error) {
	kv, err := s.bucket(ctx, table)
	if err != nil {
		return nil, err
	}
	entry, err := kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) || errors.Is(err, jetstream.ErrKeyDeleted) {
			return nil, fmt.Errorf("%s/%s: %w", table, key, domain.ErrNotFound)
		}
		return nil, err
	}
	return entry.Value(), nil
}

func (s *Store) Set(ctx context.Context, table, key string, value []byte) error {
	kv, err := s.bucket(ctx, table)
	if err != nil {
		return err
	}
	_, err = kv.Put(ctx, key, value)
	return err
}

func (s *Store) Delete(ctx context.Context, table, key string) error {
	kv, err := s.bucket(ctx, table)
	if err != nil {
		return err
	}
	if err := kv.Delete(ctx, key); err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return err
	}
	return nil
}

func (s *Store) All(ctx context.Context, table string) (map[string][]byte, error) {
	kv, err := s.bucket(ctx, table)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]byte)
	lister, err := kv.ListKeys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return out, nil
		}
		return nil, err
	}
	defer lister.Stop()
	var keys []string
	for k := range lister.Keys() {
		keys = append(keys, k)
	}
	for _, k := range keys {
		v, err := s.Get(ctx, table, k)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, nil
}
