// Package targetdecoy estimates posterior error probabilities from target and
// decoy hits.
package targetdecoy

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/ChrisMcGann/psvalidate/pkg/progress"
)

// ErrNoEstimation is returned when a map holds no decoys or no targets.
// Probability then answers 1.0 for every score.
var ErrNoEstimation = errors.New("no estimation possible")

// ScoreOrder tells which direction of the score axis is more stringent.
type ScoreOrder int

const (
	HigherIsBetter ScoreOrder = iota
	LowerIsBetter
)

func (o ScoreOrder) String() string {
	if o == LowerIsBetter {
		return "lower"
	}
	return "higher"
}

// ParseScoreOrder reads "higher" or "lower".
func ParseScoreOrder(s string) (ScoreOrder, error) {
	switch s {
	case "higher", "":
		return HigherIsBetter, nil
	case "lower":
		return LowerIsBetter, nil
	}
	return HigherIsBetter, fmt.Errorf("invalid score order %q, expected higher or lower", s)
}

// Stringency maps a score to an axis where larger is always more stringent.
func (o ScoreOrder) Stringency(score float64) float64 {
	if o == LowerIsBetter {
		return -score
	}
	return score
}

type counts struct {
	targets int
	decoys  int
}

// Map accumulates (score, decoy) points and turns them into a monotone PEP
// curve. Points may be added concurrently; estimation happens once all points
// are in.
type Map struct {
	mu         sync.RWMutex
	order      ScoreOrder
	decoyRatio float64
	hits       map[float64]*counts
	nTargets   int
	nDecoys    int

	// curve, ordered from most to least stringent
	stringency []float64
	scores     []float64
	peps       []float64
	fdrs       []float64
	estimated  bool
}

// NewMap creates an empty map. A non-positive decoy ratio is treated as 1.
func NewMap(order ScoreOrder, decoyRatio float64) *Map {
	if decoyRatio <= 0 {
		decoyRatio = 1
	}
	return &Map{
		order:      order,
		decoyRatio: decoyRatio,
		hits:       make(map[float64]*counts),
	}
}

// Order returns the score order of the map.
func (m *Map) Order() ScoreOrder {
	return m.order
}

// AddPoint records a hit. NaN and infinite scores are ignored.
func (m *Map) AddPoint(score float64, isDecoy bool) {
	if math.IsNaN(score) || math.IsInf(score, 0) {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.hits[score]
	if !ok {
		c = &counts{}
		m.hits[score] = c
	}
	if isDecoy {
		c.decoys++
		m.nDecoys++
	} else {
		c.targets++
		m.nTargets++
	}
	m.estimated = false
}

// CanEstimate reports whether the map holds at least one target and one decoy.
func (m *Map) CanEstimate() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.canEstimate()
}

func (m *Map) canEstimate() bool {
	return m.nTargets > 0 && m.nDecoys > 0
}

// EstimateProbabilities rebuilds the PEP curve from all points. For every
// distinct score the PEP is the decoy count at or above that stringency,
// scaled by the decoy ratio, over the target count at or above it, capped at
// 1. The curve is then made non-decreasing as stringency relaxes by carrying
// forward the largest PEP seen so far.
func (m *Map) EstimateProbabilities(wh progress.WaitingHandler) error {
	if wh == nil {
		wh = progress.Nop{}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	type entry struct {
		score      float64
		stringency float64
		c          counts
	}
	entries := make([]entry, 0, len(m.hits))
	for score, c := range m.hits {
		entries = append(entries, entry{score: score, stringency: m.order.Stringency(score), c: *c})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].stringency > entries[j].stringency
	})

	wh.SetMaxProgress(len(entries))

	m.stringency = make([]float64, len(entries))
	m.scores = make([]float64, len(entries))
	m.peps = make([]float64, len(entries))
	m.fdrs = make([]float64, len(entries))

	targets, decoys := 0, 0
	envelope := 0.0
	for i, e := range entries {
		targets += e.c.targets
		decoys += e.c.decoys

		pep := 1.0
		if targets > 0 {
			pep = math.Min(1, float64(decoys)*m.decoyRatio/float64(targets))
		}
		m.fdrs[i] = pep
		if pep > envelope {
			envelope = pep
		}

		m.stringency[i] = e.stringency
		m.scores[i] = e.score
		m.peps[i] = envelope
		wh.IncreaseProgress()
	}
	m.estimated = true

	if !m.canEstimate() {
		return ErrNoEstimation
	}
	return nil
}

// Probability returns the PEP for a score, interpolating linearly
// between neighbouring distinct scores and clamping at both ends. Maps that
// cannot estimate answer 1.0.
func (m *Map) Probability(score float64) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.estimated || !m.canEstimate() || len(m.peps) == 0 || math.IsNaN(score) {
		return 1.0
	}

	s := m.order.Stringency(score)
	n := len(m.stringency)
	if s >= m.stringency[0] {
		return m.peps[0]
	}
	if s <= m.stringency[n-1] {
		return m.peps[n-1]
	}

	// first index whose stringency is below s; the curve is sorted descending
	i := sort.Search(n, func(i int) bool { return m.stringency[i] < s })
	hi, lo := m.stringency[i-1], m.stringency[i]
	if s == hi {
		return m.peps[i-1]
	}
	w := (hi - s) / (hi - lo)
	return m.peps[i-1] + w*(m.peps[i]-m.peps[i-1])
}

// Threshold is an FDR cut on a map.
type Threshold struct {
	PEP   float64 // largest smoothed PEP accepted
	Score float64 // least stringent score reaching that PEP
	FDR   float64 // estimated FDR among hits at or above Score
	Hits  int     // targets at or above Score
}

// Threshold returns the cut at the given FDR (a fraction, 0.01 for 1%): the
// largest smoothed PEP not exceeding fdr. ok is false when the map cannot
// estimate or no score reaches the target.
func (m *Map) Threshold(fdr float64) (Threshold, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.estimated || !m.canEstimate() {
		return Threshold{}, false
	}

	idx := -1
	for i, pep := range m.peps {
		if pep <= fdr {
			idx = i
		} else {
			break
		}
	}
	if idx < 0 {
		return Threshold{}, false
	}

	t := Threshold{PEP: m.peps[idx], Score: m.scores[idx], FDR: m.fdrs[idx]}
	for score, c := range m.hits {
		if m.order.Stringency(score) >= m.stringency[idx] {
			t.Hits += c.targets
		}
	}
	return t, true
}

// Summary describes the points of a map.
type Summary struct {
	Targets        int  `json:"targets"`
	Decoys         int  `json:"decoys"`
	DistinctScores int  `json:"distinct_scores"`
	CanEstimate    bool `json:"can_estimate"`
}

// Summary returns point counts.
func (m *Map) Summary() Summary {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Summary{
		Targets:        m.nTargets,
		Decoys:         m.nDecoys,
		DistinctScores: len(m.hits),
		CanEstimate:    m.canEstimate(),
	}
}

// CurvePoint is one entry of the smoothed curve.
type CurvePoint struct {
	Score float64
	PEP   float64
}

// Curve returns the smoothed curve from most to least stringent.
func (m *Map) Curve() []CurvePoint {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]CurvePoint, len(m.peps))
	for i := range m.peps {
		out[i] = CurvePoint{Score: m.scores[i], PEP: m.peps[i]}
	}
	return out
}

// Point is a persisted score bin.
type Point struct {
	Score   float64 `json:"score"`
	Targets int     `json:"targets"`
	Decoys  int     `json:"decoys"`
}

// Snapshot is the serializable form of a map.
type Snapshot struct {
	Order      ScoreOrder `json:"order"`
	DecoyRatio float64    `json:"decoy_ratio"`
	Points     []Point    `json:"points"`
}

// Snapshot captures the points of the map, sorted by score.
func (m *Map) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := Snapshot{Order: m.order, DecoyRatio: m.decoyRatio, Points: make([]Point, 0, len(m.hits))}
	for score, c := range m.hits {
		s.Points = append(s.Points, Point{Score: score, Targets: c.targets, Decoys: c.decoys})
	}
	sort.Slice(s.Points, func(i, j int) bool { return s.Points[i].Score < s.Points[j].Score })
	return s
}

// Restore rebuilds a map from a snapshot and estimates it. The returned error
// is ErrNoEstimation when the snapshot cannot be estimated; the map is still
// usable.
func Restore(s Snapshot) (*Map, error) {
	m := NewMap(s.Order, s.DecoyRatio)
	for _, p := range s.Points {
		if p.Targets < 0 || p.Decoys < 0 {
			return nil, fmt.Errorf("invalid point at score %v: negative count", p.Score)
		}
		m.hits[p.Score] = &counts{targets: p.Targets, decoys: p.Decoys}
		m.nTargets += p.Targets
		m.nDecoys += p.Decoys
	}
	return m, m.EstimateProbabilities(nil)
}
