package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/ChrisMcGann/psvalidate/pkg/protein"
	"github.com/ChrisMcGann/psvalidate/pkg/repository"
)

// StoreProteins serves protein sequences persisted next to the matches.
type StoreProteins struct {
	store     repository.ProteinStore
	decoyTags []string
}

// NewStoreProteins wraps a protein store. Decoys are told apart by accession
// tags; a nil tag list uses protein.DefaultDecoyTags.
func NewStoreProteins(store repository.ProteinStore, decoyTags []string) *StoreProteins {
	if decoyTags == nil {
		decoyTags = protein.DefaultDecoyTags
	}
	return &StoreProteins{store: store, decoyTags: decoyTags}
}

func (s *StoreProteins) Protein(ctx context.Context, accession string) (*protein.Protein, error) {
	rec, err := s.store.ProteinRecord(ctx, accession)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", protein.ErrUnknownProtein, accession)
	}
	if err != nil {
		return nil, err
	}
	return &protein.Protein{
		Accession:   rec.Accession,
		Description: rec.Description,
		Sequence:    rec.Sequence,
		Decoy:       rec.Decoy || protein.IsDecoyAccession(rec.Accession, s.decoyTags),
	}, nil
}

func (s *StoreProteins) IsDecoy(accession string) bool {
	return protein.IsDecoyAccession(accession, s.decoyTags)
}

// Description returns the stored description of a protein.
func (s *StoreProteins) Description(ctx context.Context, accession string) (string, error) {
	p, err := s.Protein(ctx, accession)
	if err != nil {
		return "", err
	}
	return p.Description, nil
}
