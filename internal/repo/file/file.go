// Package file stores settings in a single JSON document on disk.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/hamed0406/presencewatch/internal/domain"
	"github.com/hamed0406/presencewatch/internal/repo"
)

var _ repo.SettingsStore = (*Store)(nil)

// document holds each value as a string so Get returns the exact bytes Set
// stored.
type document map[string]map[string]string

type Store struct {
	path string
	mu   sync.Mutex
}

func New(path string) *Store {
	return &Store{path: path}
}

func (s *Store) Get(ctx context.Context, table, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	v, ok := doc[table][key]
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", table, key, domain.ErrNotFound)
	}
	return []byte(v), nil
}

func (s *Store) Set(ctx context.Context, table, key string, value []byte) error {
	if !json.Valid(value) {
		return fmt.Errorf("%s/%s: value is not a JSON document", table, key)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.load()
	if err != nil {
		return err
	}
	if doc[table] == nil {
		doc[table] = make(map[string]string)
	}
	doc[table][key] = string(value)
	return s.save(doc)
}

func (s *Store) Delete(ctx context.Context, table, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := doc[table][key]; !ok {
		return nil
	}
	delete(doc[table], key)
	if len(doc[table]) == 0 {
		delete(doc, table)
	}
	return s.save(doc)
}

func (s *Store) All(ctx context.Context, table string) (map[string][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	out := make(map[string][]byte, len(doc[table]))
	for k, v := range doc[table] {
		out[k] = []byte(v)
	}
	return out, nil
}

// load reads the document; a missing file is an empty document.
func (s *Store) load() (document, error) {
	f, err := os.Open(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return document{}, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()
	doc := document{}
	if err := json.NewDecoder(f).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode %s: %w", s.path, err)
	}
	return doc, nil
}

// save writes to a temp file and renames it over the old one.
func (s *Store) save(doc document) error {
	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp := s.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(doc); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
