// Package scoring selects the best assumption of a spectrum match across
// search algorithms.
package scoring

import (
	"math"
	"sort"

	"github.com/ChrisMcGann/psvalidate/pkg/identification"
	"github.com/ChrisMcGann/psvalidate/pkg/targetdecoy"
)

// Selector attaches calibrated probabilities to assumptions and picks the
// best one per spectrum.
type Selector struct {
	inputMap   *targetdecoy.InputMap
	fdrEnabled bool
}

// NewSelector creates a selector. With fdrEnabled false, or a nil input map,
// every assumption gets PEP 1.0 and ranking falls back to raw scores.
func NewSelector(inputMap *targetdecoy.InputMap, fdrEnabled bool) *Selector {
	return &Selector{
		inputMap:   inputMap,
		fdrEnabled: fdrEnabled && inputMap != nil,
	}
}

// AddInputPoints feeds the first-ranked hit of every algorithm into the input map.
func AddInputPoints(im *targetdecoy.InputMap, m *identification.SpectrumMatch) {
	for _, alg := range m.Algorithms() {
		if list := m.PeptideAssumptions[alg]; len(list) > 0 {
			if list[0].Score.Valid() {
				im.AddPoint(alg, float64(list[0].Score), list[0].Decoy)
			}
			continue
		}
		if list := m.TagAssumptions[alg]; len(list) > 0 && list[0].Score.Valid() {
			im.AddPoint(alg, float64(list[0].Score), list[0].Decoy)
		}
	}
}

// candidate is one assumption seen through the ranking.
type candidate struct {
	algorithm  string
	index      int
	key        string // sequence + modifications, or tag
	sequence   string
	charge     int
	stringency float64 // raw score normalized so larger is better, -Inf when missing
	pep        float64
	algDelta   float64
	delta      float64
	agreeing   int
}

// Select computes PEP, algorithm delta-PEP and delta-PEP for every
// assumption of m and sets the best peptide or, when no peptide was
// proposed, the best tag. It returns a MatchError wrapping
// ErrMissingBestAssumption when m has no assumption at all.
func (s *Selector) Select(m *identification.SpectrumMatch) error {
	m.BestPeptide = nil
	m.BestTag = nil

	var merged []*candidate
	usePeptides := m.HasPeptideAssumptions()

	for _, alg := range m.Algorithms() {
		var ranked []*candidate
		if usePeptides {
			for i, a := range m.PeptideAssumptions[alg] {
				ranked = append(ranked, &candidate{
					algorithm:  alg,
					index:      i,
					key:        a.Peptide.Key(),
					sequence:   a.Peptide.Sequence,
					charge:     a.Charge,
					stringency: s.stringency(alg, a.Score),
				})
			}
		} else {
			for i, a := range m.TagAssumptions[alg] {
				ranked = append(ranked, &candidate{
					algorithm:  alg,
					index:      i,
					key:        a.Tag,
					sequence:   a.Tag,
					charge:     a.Charge,
					stringency: s.stringency(alg, a.Score),
				})
			}
		}
		if len(ranked) == 0 {
			continue
		}

		s.attachProbabilities(alg, ranked, m, usePeptides)
		algorithmDeltas(ranked)
		merged = append(merged, ranked...)
	}

	if len(merged) == 0 {
		return &identification.MatchError{Key: m.Key, Err: identification.ErrMissingBestAssumption}
	}

	agree := countAgreement(merged)
	sortMerged(merged)
	crossDeltas(merged)

	// write annotations back
	for _, c := range merged {
		ann := identification.AssumptionAnnotations{PEP: c.pep, AlgorithmDeltaPEP: c.algDelta, DeltaPEP: c.delta}
		if usePeptides {
			m.PeptideAssumptions[c.algorithm][c.index].Annotations = ann
		} else {
			m.TagAssumptions[c.algorithm][c.index].Annotations = ann
		}
	}

	best := merged[0]
	agreeing := make([]string, 0, len(agree[best.key]))
	for alg := range agree[best.key] {
		agreeing = append(agreeing, alg)
	}
	sort.Strings(agreeing)

	if usePeptides {
		a := m.PeptideAssumptions[best.algorithm][best.index]
		a.Peptide = a.Peptide.Clone()
		m.BestPeptide = &a
	} else {
		a := m.TagAssumptions[best.algorithm][best.index]
		m.BestTag = &a
	}

	m.Annotations.DeltaPEP = best.delta
	m.Annotations.AlgorithmDeltaPEP = best.algDelta
	m.Annotations.Agreeing = agreeing
	return nil
}

func (s *Selector) stringency(alg string, score identification.Score) float64 {
	if !score.Valid() {
		return math.Inf(-1)
	}
	order := targetdecoy.HigherIsBetter
	if s.inputMap != nil {
		order = s.inputMap.OrderOf(alg)
	}
	return order.Stringency(float64(score))
}

// attachProbabilities assigns the calibrated PEP of every candidate, carrying
// the running maximum down the ranking so a worse score never gets a lower PEP.
func (s *Selector) attachProbabilities(alg string, ranked []*candidate, m *identification.SpectrumMatch, peptides bool) {
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].stringency > ranked[j].stringency
	})

	running := 0.0
	for _, c := range ranked {
		pep := 1.0
		if s.fdrEnabled && !math.IsInf(c.stringency, -1) {
			var score identification.Score
			if peptides {
				score = m.PeptideAssumptions[alg][c.index].Score
			} else {
				score = m.TagAssumptions[alg][c.index].Score
			}
			pep = s.inputMap.Probability(alg, float64(score))
		}
		running = math.Max(running, pep)
		c.pep = running
	}
}

// algorithmDeltas computes, within one algorithm, the PEP gap to the nearest
// candidate with a different sequence or modification profile that is not
// ranked above it. Without such a candidate the gap is 1 - PEP.
func algorithmDeltas(ranked []*candidate) {
	for i, c := range ranked {
		next := math.NaN()
		for j, o := range ranked {
			if j == i || o.key == c.key || o.stringency > c.stringency {
				continue
			}
			if math.IsNaN(next) || o.pep < next {
				next = o.pep
			}
		}
		if math.IsNaN(next) {
			c.algDelta = 1 - c.pep
		} else {
			c.algDelta = next - c.pep
		}
	}
}

// countAgreement records for each candidate how many algorithms proposed the
// same peptide as their own top candidate and returns those algorithms per key.
func countAgreement(merged []*candidate) map[string]map[string]struct{} {
	top := make(map[string]float64)
	for _, c := range merged {
		if p, ok := top[c.algorithm]; !ok || c.pep < p {
			top[c.algorithm] = c.pep
		}
	}

	agree := make(map[string]map[string]struct{})
	for _, c := range merged {
		if c.pep != top[c.algorithm] {
			continue
		}
		if agree[c.key] == nil {
			agree[c.key] = make(map[string]struct{})
		}
		agree[c.key][c.algorithm] = struct{}{}
	}
	for _, c := range merged {
		c.agreeing = len(agree[c.key])
	}
	return agree
}

// sortMerged orders candidates by PEP, then normalized raw score, then
// agreeing algorithms, then key, charge and algorithm so the result never
// depends on input order.
func sortMerged(merged []*candidate) {
	sort.SliceStable(merged, func(i, j int) bool {
		a, b := merged[i], merged[j]
		if a.pep != b.pep {
			return a.pep < b.pep
		}
		if a.stringency != b.stringency {
			return a.stringency > b.stringency
		}
		if a.agreeing != b.agreeing {
			return a.agreeing > b.agreeing
		}
		if a.key != b.key {
			return a.key < b.key
		}
		if a.charge != b.charge {
			return a.charge < b.charge
		}
		if a.algorithm != b.algorithm {
			return a.algorithm < b.algorithm
		}
		return a.index < b.index
	})
}

// crossDeltas computes the PEP gap to the nearest candidate with a different
// sequence across all algorithms. merged must be sorted by PEP.
func crossDeltas(merged []*candidate) {
	for i, c := range merged {
		next := math.NaN()
		for j, o := range merged {
			if j == i || o.sequence == c.sequence || o.pep < c.pep {
				continue
			}
			if math.IsNaN(next) || o.pep < next {
				next = o.pep
			}
		}
		if math.IsNaN(next) {
			c.delta = 1 - c.pep
		} else {
			c.delta = next - c.pep
		}
	}
}
