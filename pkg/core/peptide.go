package core

import (
	"fmt"
	"sort"
	"strings"
)

// Modification represents a peptide modification with position and mass shift.
type Modification struct {
	Mass     float64
	Position int    // 0-based position; -1 for N-term, len(seq) for C-term
	Name     string // Modification name (e.g., "Carbamidomethyl", "Oxidation")
	Variable bool   // false for fixed modifications
}

// Peptide is an amino acid sequence carrying a modification profile.
type Peptide struct {
	Sequence      string
	Modifications []Modification
}

// SortModifications orders modifications by position, then name.
func (p *Peptide) SortModifications() {
	sort.SliceStable(p.Modifications, func(i, j int) bool {
		a, b := p.Modifications[i], p.Modifications[j]
		if a.Position != b.Position {
			return a.Position < b.Position
		}
		return a.Name < b.Name
	})
}

// ModString returns modifications as "name@pos;name@pos" with 1-based positions,
// ordered by position. ParseModString reads the same format back.
func (p Peptide) ModString() string {
	if len(p.Modifications) == 0 {
		return ""
	}
	sorted := p.Clone()
	sorted.SortModifications()

	parts := make([]string, 0, len(sorted.Modifications))
	for _, mod := range sorted.Modifications {
		name := mod.Name
		if name == "" {
			name = fmt.Sprintf("%.6f", mod.Mass)
		}
		parts = append(parts, name+"@"+formatPosition(mod.Position, len(p.Sequence)))
	}
	return strings.Join(parts, ";")
}

func formatPosition(pos, length int) string {
	switch {
	case pos < 0:
		return "Nterm"
	case pos >= length:
		return "Cterm"
	default:
		return fmt.Sprintf("%d", pos+1)
	}
}

// Key identifies the peptide by sequence and modification profile.
func (p Peptide) Key() string {
	mods := p.ModString()
	if mods == "" {
		return p.Sequence
	}
	return p.Sequence + "|" + mods
}

// SameSequenceAndModifications reports whether two peptides share sequence and
// modification profile, ignoring the order modifications were listed in.
func (p Peptide) SameSequenceAndModifications(o Peptide) bool {
	return p.Key() == o.Key()
}

// SameSequence reports whether two peptides share the amino acid sequence.
func (p Peptide) SameSequence(o Peptide) bool {
	return p.Sequence == o.Sequence
}

// VariableModifications returns the variable modifications of the peptide.
func (p Peptide) VariableModifications() []Modification {
	var mods []Modification
	for _, m := range p.Modifications {
		if m.Variable {
			mods = append(mods, m)
		}
	}
	return mods
}

// TotalModMass returns the sum of all modification masses.
func (p Peptide) TotalModMass() float64 {
	total := 0.0
	for _, mod := range p.Modifications {
		total += mod.Mass
	}
	return total
}

// Clone returns a deep copy of the peptide.
func (p Peptide) Clone() Peptide {
	c := Peptide{Sequence: p.Sequence}
	if len(p.Modifications) > 0 {
		c.Modifications = make([]Modification, len(p.Modifications))
		copy(c.Modifications, p.Modifications)
	}
	return c
}

// Name returns the peptide name in format "Sequence/Charge"
func (p Peptide) Name(charge int) string {
	return fmt.Sprintf("%s/%d", p.Sequence, charge)
}
