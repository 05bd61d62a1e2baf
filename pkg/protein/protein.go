// Package protein provides protein sequence lookups used during assembly,
// inference and modification localization.
package protein

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/ChrisMcGann/psvalidate/pkg/reader/fasta"
)

// ErrUnknownProtein is returned for an accession the provider does not know.
var ErrUnknownProtein = errors.New("unknown protein")

// DefaultDecoyTags are the accession markers recognised as decoys.
var DefaultDecoyTags = []string{"DECOY_", "REV_", "rev_", "_REVERSED", "_DECOY"}

// Protein is a database entry.
type Protein struct {
	Accession   string
	Description string
	Sequence    string
	Decoy       bool
}

// SequenceProvider resolves accessions to sequences.
type SequenceProvider interface {
	Protein(ctx context.Context, accession string) (*Protein, error)
	IsDecoy(accession string) bool
}

// DetailsProvider resolves accessions to descriptive metadata.
type DetailsProvider interface {
	Description(ctx context.Context, accession string) (string, error)
}

// IsDecoyAccession reports whether accession carries one of tags as a prefix
// or suffix.
func IsDecoyAccession(accession string, tags []string) bool {
	for _, tag := range tags {
		if tag == "" {
			continue
		}
		if strings.HasPrefix(accession, tag) || strings.HasSuffix(accession, tag) {
			return true
		}
	}
	return false
}

// Database is an in-memory protein database.
type Database struct {
	mu        sync.RWMutex
	proteins  map[string]*Protein
	decoyTags []string
}

// NewDatabase creates an empty database. A nil tag list uses DefaultDecoyTags.
func NewDatabase(decoyTags []string) *Database {
	if decoyTags == nil {
		decoyTags = DefaultDecoyTags
	}
	return &Database{
		proteins:  make(map[string]*Protein),
		decoyTags: decoyTags,
	}
}

// Add stores a protein, deriving its decoy flag from the accession.
func (db *Database) Add(p Protein) {
	p.Decoy = p.Decoy || IsDecoyAccession(p.Accession, db.decoyTags)
	db.mu.Lock()
	db.proteins[p.Accession] = &p
	db.mu.Unlock()
}

// LoadFASTA adds every record of a FASTA stream and returns how many were read.
func (db *Database) LoadFASTA(r io.Reader) (int, error) {
	reader := fasta.NewReader(r)
	n := 0
	for reader.Next() {
		rec := reader.Record()
		db.Add(Protein{Accession: rec.Accession, Description: rec.Description, Sequence: rec.Sequence})
		n++
	}
	if err := reader.Err(); err != nil {
		return n, fmt.Errorf("failed to read FASTA: %w", err)
	}
	return n, nil
}

func (db *Database) Protein(_ context.Context, accession string) (*Protein, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	p, ok := db.proteins[accession]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProtein, accession)
	}
	return p, nil
}

func (db *Database) Description(ctx context.Context, accession string) (string, error) {
	p, err := db.Protein(ctx, accession)
	if err != nil {
		return "", err
	}
	return p.Description, nil
}

// IsDecoy reports the decoy flag of a known protein, falling back to the
// accession tags for unknown ones.
func (db *Database) IsDecoy(accession string) bool {
	db.mu.RLock()
	p, ok := db.proteins[accession]
	db.mu.RUnlock()
	if ok {
		return p.Decoy
	}
	return IsDecoyAccession(accession, db.decoyTags)
}

// Accessions returns every accession, sorted.
func (db *Database) Accessions() []string {
	db.mu.RLock()
	defer db.mu.RUnlock()
	out := make([]string, 0, len(db.proteins))
	for acc := range db.proteins {
		out = append(out, acc)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of proteins.
func (db *Database) Len() int {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return len(db.proteins)
}
