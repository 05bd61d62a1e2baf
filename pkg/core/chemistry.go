// Package core provides chemistry calculations for peptide and fragment ion masses
package core

import "math"

// Atomic masses (monoisotopic)
const (
	MassH = 1.0078250321
	MassC = 12.0000000000
	MassN = 14.0030740052
	MassO = 15.9949146221
	MassS = 31.9720706900
	MassP = 30.9737615100

	// Proton mass for charge calculations
	ProtonMass = 1.00727646688

	// MassWater is the monoisotopic mass of H2O added to every peptide
	MassWater = 2*MassH + MassO
)

// AminoAcidComposition stores elemental composition
type AminoAcidComposition struct {
	C, H, N, O, S int
}

// Mass returns the monoisotopic mass of the composition
func (c AminoAcidComposition) Mass() float64 {
	return float64(c.C)*MassC +
		float64(c.H)*MassH +
		float64(c.N)*MassN +
		float64(c.O)*MassO +
		float64(c.S)*MassS
}

// AminoAcidResidues maps amino acid one-letter codes to residue composition
var AminoAcidResidues = map[rune]AminoAcidComposition{
	'A': {C: 3, H: 5, N: 1, O: 1, S: 0},
	'R': {C: 6, H: 12, N: 4, O: 1, S: 0},
	'N': {C: 4, H: 6, N: 2, O: 2, S: 0},
	'D': {C: 4, H: 5, N: 1, O: 3, S: 0},
	'C': {C: 3, H: 5, N: 1, O: 1, S: 1},
	'E': {C: 5, H: 7, N: 1, O: 3, S: 0},
	'Q': {C: 5, H: 8, N: 2, O: 2, S: 0},
	'G': {C: 2, H: 3, N: 1, O: 1, S: 0},
	'H': {C: 6, H: 7, N: 3, O: 1, S: 0},
	'I': {C: 6, H: 11, N: 1, O: 1, S: 0},
	'L': {C: 6, H: 11, N: 1, O: 1, S: 0},
	'K': {C: 6, H: 12, N: 2, O: 1, S: 0},
	'M': {C: 5, H: 9, N: 1, O: 1, S: 1},
	'F': {C: 9, H: 9, N: 1, O: 1, S: 0},
	'P': {C: 5, H: 7, N: 1, O: 1, S: 0},
	'S': {C: 3, H: 5, N: 1, O: 2, S: 0},
	'T': {C: 4, H: 7, N: 1, O: 2, S: 0},
	'W': {C: 11, H: 10, N: 2, O: 1, S: 0},
	'Y': {C: 9, H: 9, N: 1, O: 2, S: 0},
	'V': {C: 5, H: 9, N: 1, O: 1, S: 0},
}

// residueMasses caches AminoAcidResidues as masses
var residueMasses = func() map[rune]float64 {
	m := make(map[rune]float64, len(AminoAcidResidues))
	for aa, comp := range AminoAcidResidues {
		m[aa] = comp.Mass()
	}
	return m
}()

// ResidueMass returns the monoisotopic residue mass of an amino acid.
// Unknown residues (X, B, Z, ...) report false.
func ResidueMass(aa rune) (float64, bool) {
	m, ok := residueMasses[aa]
	return m, ok
}

// IonType distinguishes N-terminal from C-terminal fragments
type IonType byte

const (
	IonB IonType = 'b'
	IonY IonType = 'y'
)

// FragmentIon is a singly charged theoretical fragment
type FragmentIon struct {
	Type   IonType
	Number int // residues covered by the fragment
	MZ     float64
}

// NeutralMass computes the neutral monoisotopic mass of the peptide including modifications
func (p Peptide) NeutralMass() float64 {
	mass := MassWater
	for _, aa := range p.Sequence {
		if m, ok := ResidueMass(aa); ok {
			mass += m
		}
	}
	for _, mod := range p.Modifications {
		mass += mod.Mass
	}
	return mass
}

// MZ returns the precursor m/z of the peptide at the given charge
func (p Peptide) MZ(charge int) float64 {
	if charge <= 0 {
		charge = 1
	}
	return (p.NeutralMass() + float64(charge)*ProtonMass) / float64(charge)
}

// FragmentIons returns the singly charged b and y ladders of the peptide.
// b_k covers residues [0,k), y_j covers residues [len-j,len).
func (p Peptide) FragmentIons() []FragmentIon {
	n := len(p.Sequence)
	if n < 2 {
		return nil
	}

	// per-residue masses with modifications folded in
	residues := make([]float64, n)
	for i, aa := range p.Sequence {
		residues[i], _ = ResidueMass(aa)
	}
	var nTerm, cTerm float64
	for _, mod := range p.Modifications {
		switch {
		case mod.Position < 0:
			nTerm += mod.Mass
		case mod.Position >= n:
			cTerm += mod.Mass
		default:
			residues[mod.Position] += mod.Mass
		}
	}

	ions := make([]FragmentIon, 0, 2*(n-1))
	prefix := nTerm
	for k := 1; k < n; k++ {
		prefix += residues[k-1]
		ions = append(ions, FragmentIon{Type: IonB, Number: k, MZ: prefix + ProtonMass})
	}
	suffix := cTerm + MassWater
	for j := 1; j < n; j++ {
		suffix += residues[n-j]
		ions = append(ions, FragmentIon{Type: IonY, Number: j, MZ: suffix + ProtonMass})
	}
	return ions
}

// RoundFloat rounds a float to n decimal places
func RoundFloat(val float64, precision int) float64 {
	ratio := math.Pow(10, float64(precision))
	return math.Round(val*ratio) / ratio
}
