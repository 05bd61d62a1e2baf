// Package repository provides the transactional match repository the
// pipeline reads from and checkpoints to.
package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/ChrisMcGann/psvalidate/pkg/core"
)

// ErrNotFound is returned when a key is not in the store.
var ErrNotFound = errors.New("not found")

// Kind names a collection of matches.
type Kind string

const (
	KindSpectrumMatch Kind = "spectrum_match"
	KindPeptideMatch  Kind = "peptide_match"
	KindProteinMatch  Kind = "protein_match"
)

// Kinds lists every match collection.
var Kinds = []Kind{KindSpectrumMatch, KindPeptideMatch, KindProteinMatch}

// Store is a transactional key-value store of encoded matches. Writes are
// pending until Commit; Rollback discards everything since the last Commit.
type Store interface {
	Get(ctx context.Context, kind Kind, key string) ([]byte, error)
	Put(ctx context.Context, kind Kind, key string, data []byte) error
	Delete(ctx context.Context, kind Kind, key string) error
	// Keys returns the keys of a kind in ascending order.
	Keys(ctx context.Context, kind Kind) ([]string, error)
	Size(ctx context.Context, kind Kind) (int, error)

	GetMeta(ctx context.Context, name string) ([]byte, error)
	PutMeta(ctx context.Context, name string, data []byte) error

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
	Close() error
}

// SpectrumStore provides the spectra matched by spectrum matches.
type SpectrumStore interface {
	PutSpectrum(ctx context.Context, spec *core.Spectrum) error
	Spectrum(ctx context.Context, title string) (*core.Spectrum, error)
}

// ProteinRecord is a persisted protein database entry.
type ProteinRecord struct {
	Accession   string
	Description string
	Sequence    string
	Decoy       bool
}

// ProteinStore persists the protein database next to the matches.
type ProteinStore interface {
	PutProtein(ctx context.Context, p ProteinRecord) error
	ProteinRecord(ctx context.Context, accession string) (*ProteinRecord, error)
	ProteinAccessions(ctx context.Context) ([]string, error)
}

// Backend is a store that also keeps spectra and proteins.
type Backend interface {
	Store
	SpectrumStore
	ProteinStore
}

// StoreError wraps a failure of the underlying storage engine.
type StoreError struct {
	Op   string
	Kind Kind
	Key  string
	Err  error
}

func (e *StoreError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("store %s %s/%s: %v", e.Op, e.Kind, e.Key, e.Err)
	}
	if e.Kind != "" {
		return fmt.Sprintf("store %s %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// IsStoreError reports whether err came from the storage engine.
func IsStoreError(err error) bool {
	var se *StoreError
	return errors.As(err, &se)
}
