package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/ChrisMcGann/psvalidate/pkg/identification"
	"github.com/ChrisMcGann/psvalidate/pkg/progress"
)

// Collection is a typed view over one kind of a Store.
type Collection[T any] struct {
	store Store
	codec *Codec
	kind  Kind
}

// NewCollection creates a typed view of kind.
func NewCollection[T any](store Store, codec *Codec, kind Kind) *Collection[T] {
	return &Collection[T]{store: store, codec: codec, kind: kind}
}

// Kind returns the collection kind.
func (c *Collection[T]) Kind() Kind {
	return c.kind
}

// Get loads and decodes one match.
func (c *Collection[T]) Get(ctx context.Context, key string) (*T, error) {
	data, err := c.store.Get(ctx, c.kind, key)
	if err != nil {
		return nil, err
	}
	v := new(T)
	if err := c.codec.Decode(data, v); err != nil {
		return nil, fmt.Errorf("failed to decode %s/%s: %w", c.kind, key, err)
	}
	return v, nil
}

// Put encodes and stores one match.
func (c *Collection[T]) Put(ctx context.Context, key string, v *T) error {
	data, err := c.codec.Encode(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s/%s: %w", c.kind, key, err)
	}
	return c.store.Put(ctx, c.kind, key, data)
}

// Delete removes one match. Deleting a missing key is not an error.
func (c *Collection[T]) Delete(ctx context.Context, key string) error {
	return c.store.Delete(ctx, c.kind, key)
}

// Keys returns every key in ascending order.
func (c *Collection[T]) Keys(ctx context.Context) ([]string, error) {
	return c.store.Keys(ctx, c.kind)
}

// Size returns the number of matches.
func (c *Collection[T]) Size(ctx context.Context) (int, error) {
	return c.store.Size(ctx, c.kind)
}

// Exists reports whether key is present.
func (c *Collection[T]) Exists(ctx context.Context, key string) (bool, error) {
	_, err := c.store.Get(ctx, c.kind, key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// BatchLoad loads the given keys in order, increasing progress per key.
func (c *Collection[T]) BatchLoad(ctx context.Context, keys []string, wh progress.WaitingHandler) ([]*T, error) {
	if wh == nil {
		wh = progress.Nop{}
	}
	out := make([]*T, 0, len(keys))
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		v, err := c.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
		wh.IncreaseProgress()
	}
	return out, nil
}

// Iterate calls fn for every match in key order. It stops at the first error
// or when the waiting handler is cancelled.
func (c *Collection[T]) Iterate(ctx context.Context, wh progress.WaitingHandler, fn func(key string, v *T) error) error {
	if wh == nil {
		wh = progress.Nop{}
	}
	keys, err := c.Keys(ctx)
	if err != nil {
		return err
	}
	wh.SetMaxProgress(len(keys))
	for _, key := range keys {
		if wh.IsCancelled() {
			return context.Canceled
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		v, err := c.Get(ctx, key)
		if err != nil {
			return err
		}
		if err := fn(key, v); err != nil {
			return err
		}
		wh.IncreaseProgress()
	}
	return nil
}

// Repository bundles the typed match collections over one store.
type Repository struct {
	store    Store
	codec    *Codec
	Spectra  *Collection[identification.SpectrumMatch]
	Peptides *Collection[identification.PeptideMatch]
	Proteins *Collection[identification.ProteinGroupMatch]
}

// New creates a repository over store. Closing the repository closes the store.
func New(store Store) (*Repository, error) {
	codec, err := NewCodec()
	if err != nil {
		return nil, err
	}
	return &Repository{
		store:    store,
		codec:    codec,
		Spectra:  NewCollection[identification.SpectrumMatch](store, codec, KindSpectrumMatch),
		Peptides: NewCollection[identification.PeptideMatch](store, codec, KindPeptideMatch),
		Proteins: NewCollection[identification.ProteinGroupMatch](store, codec, KindProteinMatch),
	}, nil
}

// Store returns the underlying store.
func (r *Repository) Store() Store {
	return r.store
}

// PutSpectrumMatch stores a spectrum match under its own key.
func (r *Repository) PutSpectrumMatch(ctx context.Context, m *identification.SpectrumMatch) error {
	return r.Spectra.Put(ctx, m.Key, m)
}

// PutPeptideMatch stores a peptide match under its own key.
func (r *Repository) PutPeptideMatch(ctx context.Context, m *identification.PeptideMatch) error {
	return r.Peptides.Put(ctx, m.Key, m)
}

// PutProteinMatch stores a protein group under its own key.
func (r *Repository) PutProteinMatch(ctx context.Context, m *identification.ProteinGroupMatch) error {
	return r.Proteins.Put(ctx, m.Key, m)
}

// GetMeta decodes a metadata entry into v.
func (r *Repository) GetMeta(ctx context.Context, name string, v any) error {
	data, err := r.store.GetMeta(ctx, name)
	if err != nil {
		return err
	}
	if err := r.codec.Decode(data, v); err != nil {
		return fmt.Errorf("failed to decode metadata %s: %w", name, err)
	}
	return nil
}

// PutMeta encodes v into a metadata entry.
func (r *Repository) PutMeta(ctx context.Context, name string, v any) error {
	data, err := r.codec.Encode(v)
	if err != nil {
		return fmt.Errorf("failed to encode metadata %s: %w", name, err)
	}
	return r.store.PutMeta(ctx, name, data)
}

// Commit checkpoints every pending write.
func (r *Repository) Commit(ctx context.Context) error {
	return r.store.Commit(ctx)
}

// Rollback discards writes since the last checkpoint.
func (r *Repository) Rollback(ctx context.Context) error {
	return r.store.Rollback(ctx)
}

// Close closes the codec and the store.
func (r *Repository) Close() error {
	r.codec.Close()
	return r.store.Close()
}
