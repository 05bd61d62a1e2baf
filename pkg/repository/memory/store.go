// Package memory provides an in-memory match store with the same
// checkpoint semantics as the sqlite store.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ChrisMcGann/psvalidate/pkg/core"
	"github.com/ChrisMcGann/psvalidate/pkg/repository"
)

var errClosed = errors.New("store is closed")

const metaKind repository.Kind = "_meta"

// Store keeps committed data and pending writes apart so Rollback can
// drop everything since the last Commit.
type Store struct {
	mu        sync.RWMutex
	committed map[repository.Kind]map[string][]byte
	pending   map[repository.Kind]map[string]*[]byte // nil value marks a delete
	spectra   map[string]*core.Spectrum
	proteins  map[string]repository.ProteinRecord
	commits   int
	closed    bool
}

// New creates an empty store.
func New() *Store {
	return &Store{
		committed: make(map[repository.Kind]map[string][]byte),
		pending:   make(map[repository.Kind]map[string]*[]byte),
		spectra:   make(map[string]*core.Spectrum),
		proteins:  make(map[string]repository.ProteinRecord),
	}
}

func (s *Store) check(op string, kind repository.Kind) error {
	if s.closed {
		return &repository.StoreError{Op: op, Kind: kind, Err: errClosed}
	}
	return nil
}

func (s *Store) get(kind repository.Kind, key string) ([]byte, bool) {
	if p, ok := s.pending[kind][key]; ok {
		if p == nil {
			return nil, false
		}
		return *p, true
	}
	data, ok := s.committed[kind][key]
	return data, ok
}

func (s *Store) set(kind repository.Kind, key string, data *[]byte) {
	if s.pending[kind] == nil {
		s.pending[kind] = make(map[string]*[]byte)
	}
	s.pending[kind][key] = data
}

func (s *Store) Get(_ context.Context, kind repository.Kind, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check("get", kind); err != nil {
		return nil, err
	}
	data, ok := s.get(kind, key)
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", kind, key, repository.ErrNotFound)
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (s *Store) Put(_ context.Context, kind repository.Kind, key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("put", kind); err != nil {
		return err
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	s.set(kind, key, &cp)
	return nil
}

func (s *Store) Delete(_ context.Context, kind repository.Kind, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("delete", kind); err != nil {
		return err
	}
	s.set(kind, key, nil)
	return nil
}

func (s *Store) Keys(_ context.Context, kind repository.Kind) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check("keys", kind); err != nil {
		return nil, err
	}
	return s.keys(kind), nil
}

func (s *Store) keys(kind repository.Kind) []string {
	seen := make(map[string]bool)
	for key := range s.committed[kind] {
		seen[key] = true
	}
	for key, p := range s.pending[kind] {
		seen[key] = p != nil
	}
	keys := make([]string, 0, len(seen))
	for key, present := range seen {
		if present {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}

func (s *Store) Size(_ context.Context, kind repository.Kind) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check("size", kind); err != nil {
		return 0, err
	}
	return len(s.keys(kind)), nil
}

func (s *Store) GetMeta(ctx context.Context, name string) ([]byte, error) {
	return s.Get(ctx, metaKind, name)
}

func (s *Store) PutMeta(ctx context.Context, name string, data []byte) error {
	return s.Put(ctx, metaKind, name, data)
}

// Commit makes every pending write durable.
func (s *Store) Commit(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("commit", ""); err != nil {
		return err
	}
	for kind, entries := range s.pending {
		if s.committed[kind] == nil {
			s.committed[kind] = make(map[string][]byte)
		}
		for key, p := range entries {
			if p == nil {
				delete(s.committed[kind], key)
			} else {
				s.committed[kind][key] = *p
			}
		}
	}
	s.pending = make(map[repository.Kind]map[string]*[]byte)
	s.commits++
	return nil
}

// Rollback drops every pending write.
func (s *Store) Rollback(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("rollback", ""); err != nil {
		return err
	}
	s.pending = make(map[repository.Kind]map[string]*[]byte)
	return nil
}

// Commits returns how many checkpoints were taken.
func (s *Store) Commits() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.commits
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// PutSpectrum stores a spectrum by title. Spectra are not part of checkpoints.
func (s *Store) PutSpectrum(_ context.Context, spec *core.Spectrum) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("put spectrum", ""); err != nil {
		return err
	}
	cp := *spec
	cp.Peaks = append([]core.Peak(nil), spec.Peaks...)
	cp.SortPeaks()
	s.spectra[spec.Title] = &cp
	return nil
}

func (s *Store) Spectrum(_ context.Context, title string) (*core.Spectrum, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	spec, ok := s.spectra[title]
	if !ok {
		return nil, fmt.Errorf("spectrum %s: %w", title, repository.ErrNotFound)
	}
	cp := *spec
	cp.Peaks = append([]core.Peak(nil), spec.Peaks...)
	return &cp, nil
}

// PutProtein stores a protein record. Proteins are not part of checkpoints.
func (s *Store) PutProtein(_ context.Context, p repository.ProteinRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("put protein", ""); err != nil {
		return err
	}
	s.proteins[p.Accession] = p
	return nil
}

func (s *Store) ProteinRecord(_ context.Context, accession string) (*repository.ProteinRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.proteins[accession]
	if !ok {
		return nil, fmt.Errorf("protein %s: %w", accession, repository.ErrNotFound)
	}
	return &p, nil
}

func (s *Store) ProteinAccessions(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.proteins))
	for acc := range s.proteins {
		out = append(out, acc)
	}
	sort.Strings(out)
	return out, nil
}

var _ repository.Backend = (*Store)(nil)
