package protein

import (
	"context"
	"errors"
	"strings"

	"github.com/ChrisMcGann/psvalidate/pkg/core"
)

// Mapper checks peptides against the proteins they were mapped to.
type Mapper struct {
	provider SequenceProvider
	mods     *core.ModDatabase
}

// NewMapper creates a mapper. A nil modification database uses the defaults.
func NewMapper(provider SequenceProvider, mods *core.ModDatabase) *Mapper {
	if mods == nil {
		mods = core.DefaultModDatabase()
	}
	return &Mapper{provider: provider, mods: mods}
}

// Occurrences returns the 0-based start of every occurrence of sequence in
// the protein.
func (m *Mapper) Occurrences(ctx context.Context, accession, sequence string) ([]int, error) {
	p, err := m.provider.Protein(ctx, accession)
	if err != nil {
		return nil, err
	}
	return occurrences(p.Sequence, sequence), nil
}

func occurrences(protein, peptide string) []int {
	if peptide == "" {
		return nil
	}
	var starts []int
	offset := 0
	for {
		i := strings.Index(protein[offset:], peptide)
		if i < 0 {
			return starts
		}
		starts = append(starts, offset+i)
		offset += i + 1
	}
}

// Check splits accessions into those where the modified peptide can sit and
// those where it cannot. A peptide fits a protein when its sequence occurs in
// it and one occurrence satisfies every protein-terminal modification.
// Unknown accessions are reported as conflicts.
func (m *Mapper) Check(ctx context.Context, peptide core.Peptide, accessions []string) (valid, conflicts []string, err error) {
	for _, acc := range accessions {
		p, err := m.provider.Protein(ctx, acc)
		if errors.Is(err, ErrUnknownProtein) {
			conflicts = append(conflicts, acc)
			continue
		}
		if err != nil {
			return nil, nil, err
		}

		if m.fits(p.Sequence, peptide) {
			valid = append(valid, acc)
		} else {
			conflicts = append(conflicts, acc)
		}
	}
	return valid, conflicts, nil
}

func (m *Mapper) fits(protein string, peptide core.Peptide) bool {
	for _, start := range occurrences(protein, peptide.Sequence) {
		if m.fitsAt(protein, start, peptide) {
			return true
		}
	}
	return false
}

func (m *Mapper) fitsAt(protein string, start int, peptide core.Peptide) bool {
	end := start + len(peptide.Sequence)
	for _, mod := range peptide.Modifications {
		def, ok := m.mods.Get(mod.Name)
		if !ok {
			continue
		}
		switch def.Terminus {
		case core.ProteinNTerm:
			// initiator methionine may have been removed
			if start != 0 && !(start == 1 && protein[0] == 'M') {
				return false
			}
		case core.ProteinCTerm:
			if end != len(protein) {
				return false
			}
		}
		if def.Residues != "" && mod.Position >= 0 && mod.Position < len(peptide.Sequence) {
			if !def.Targets(rune(peptide.Sequence[mod.Position])) {
				return false
			}
		}
	}
	return true
}

// ProteinPositions returns the 1-based protein positions of a 0-based peptide
// position for every occurrence of the peptide in the protein. N-terminal
// sites (-1) map to the first residue of the occurrence.
func (m *Mapper) ProteinPositions(ctx context.Context, accession, sequence string, position int) ([]int, error) {
	starts, err := m.Occurrences(ctx, accession, sequence)
	if err != nil {
		return nil, err
	}
	if position < 0 {
		position = 0
	}
	if position >= len(sequence) {
		position = len(sequence) - 1
	}
	out := make([]int, len(starts))
	for i, s := range starts {
		out[i] = s + position + 1
	}
	return out, nil
}
