// Package ptm places variable modifications on the best peptide of a
// spectrum match and summarises sites at peptide and protein level.
package ptm

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/ChrisMcGann/psvalidate/pkg/core"
)

// MaxSiteScore caps site scores, also used for sites without alternatives.
const MaxSiteScore = 100.0

// SiteScorer scores the evidence that a modification sits at site rather
// than at competitor. placed carries the modification at site.
type SiteScorer interface {
	SiteScore(spec *core.Spectrum, placed core.Peptide, site, competitor int) float64
}

// BinomialSiteScorer counts site-determining b and y ions matched in the
// spectrum and scores them against a binomial model of random matches.
type BinomialSiteScorer struct {
	Tolerance  float64 // fragment m/z tolerance in Da
	Depth      int     // peaks kept per window
	WindowSize float64 // m/z window of Depth
}

// SiteScore returns -10*log10 of the probability of matching at least as
// many site-determining ions by chance.
func (s BinomialSiteScorer) SiteScore(spec *core.Spectrum, placed core.Peptide, site, competitor int) float64 {
	if spec == nil || len(spec.Peaks) == 0 || site == competitor {
		return 0
	}

	ions := siteDeterminingIons(placed, site, competitor)
	if len(ions) == 0 {
		return 0
	}

	matched := 0
	for _, ion := range ions {
		if spec.HasPeak(ion.MZ, s.Tolerance) {
			matched++
		}
	}
	if matched == 0 {
		return 0
	}

	p := s.randomMatchProbability()
	b := distuv.Binomial{N: float64(len(ions)), P: p}
	// P(X >= matched)
	tail := b.Survival(float64(matched - 1))
	if tail <= 0 {
		return MaxSiteScore
	}
	return math.Min(MaxSiteScore, -10*math.Log10(tail))
}

func (s BinomialSiteScorer) randomMatchProbability() float64 {
	depth := float64(s.Depth)
	if depth <= 0 {
		depth = 1
	}
	window := s.WindowSize
	if window <= 0 {
		window = 100
	}
	p := depth * 2 * s.Tolerance / window
	return math.Max(1e-6, math.Min(1, p))
}

// siteDeterminingIons returns the singly charged b and y ions that contain
// exactly one of site and competitor.
func siteDeterminingIons(peptide core.Peptide, site, competitor int) []core.FragmentIon {
	left, right := site, competitor
	if left > right {
		left, right = right, left
	}
	n := len(peptide.Sequence)

	var out []core.FragmentIon
	for _, ion := range peptide.FragmentIons() {
		switch ion.Type {
		case core.IonB:
			if ion.Number >= left+1 && ion.Number <= right {
				out = append(out, ion)
			}
		case core.IonY:
			if ion.Number >= n-right && ion.Number <= n-left-1 {
				out = append(out, ion)
			}
		}
	}
	return out
}
