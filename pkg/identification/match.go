// Package identification provides the spectrum, peptide and protein match
// models mutated by the validation pipeline.
package identification

import (
	"bytes"
	"encoding/json"
	"math"
	"sort"
	"strings"

	"github.com/ChrisMcGann/psvalidate/pkg/core"
)

// Score is a raw search-engine score. NaN means the hit carries no score and
// is encoded as JSON null.
type Score float64

// NoScore returns the missing score value.
func NoScore() Score {
	return Score(math.NaN())
}

// Valid reports whether the score is usable.
func (s Score) Valid() bool {
	return !math.IsNaN(float64(s)) && !math.IsInf(float64(s), 0)
}

func (s Score) MarshalJSON() ([]byte, error) {
	if !s.Valid() {
		return []byte("null"), nil
	}
	return json.Marshal(float64(s))
}

func (s *Score) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*s = NoScore()
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*s = Score(f)
	return nil
}

// AssumptionAnnotations are the calibrated values attached to a single
// candidate during best-match selection.
type AssumptionAnnotations struct {
	PEP               float64 `json:"pep"`
	AlgorithmDeltaPEP float64 `json:"algorithm_delta_pep"`
	DeltaPEP          float64 `json:"delta_pep"`
}

// PeptideAssumption is one search-engine candidate peptide for a spectrum.
type PeptideAssumption struct {
	Algorithm         string                `json:"algorithm"`
	Rank              int                   `json:"rank"`
	Peptide           core.Peptide          `json:"peptide"`
	Charge            int                   `json:"charge"`
	Score             Score                 `json:"score"`
	Accessions        []string              `json:"accessions,omitempty"`
	Decoy             bool                  `json:"decoy"`
	PrecursorErrorPPM float64               `json:"precursor_error_ppm"`
	Annotations       AssumptionAnnotations `json:"annotations"`
}

// TagAssumption is a sequence-tag-only candidate.
type TagAssumption struct {
	Algorithm   string                `json:"algorithm"`
	Rank        int                   `json:"rank"`
	Tag         string                `json:"tag"`
	Charge      int                   `json:"charge"`
	Score       Score                 `json:"score"`
	Decoy       bool                  `json:"decoy"`
	Annotations AssumptionAnnotations `json:"annotations"`
}

// ModificationSite is the placement of a variable modification on a peptide.
// Position is 0-based, -1 for the N-terminus.
type ModificationSite struct {
	Name      string  `json:"name"`
	Position  int     `json:"position"`
	Score     float64 `json:"score"`
	Confident bool    `json:"confident"`
}

// PsmAnnotations hold everything the pipeline derives for a spectrum match.
type PsmAnnotations struct {
	Score             float64            `json:"score"`
	Probability       float64            `json:"probability"`
	Confidence        float64            `json:"confidence"`
	DeltaPEP          float64            `json:"delta_pep"`
	AlgorithmDeltaPEP float64            `json:"algorithm_delta_pep"`
	Agreeing          []string           `json:"agreeing,omitempty"`
	Level             ValidationLevel    `json:"level"`
	Sites             []ModificationSite `json:"sites,omitempty"`
	MappingConflict   bool               `json:"mapping_conflict"`
	PeptideKey        string             `json:"peptide_key,omitempty"`
}

// SpectrumMatch is keyed by the spectrum identifier and holds the ranked
// candidates of every algorithm.
type SpectrumMatch struct {
	Key                string                         `json:"key"`
	SpectrumFile       string                         `json:"spectrum_file,omitempty"`
	PeptideAssumptions map[string][]PeptideAssumption `json:"peptide_assumptions,omitempty"`
	TagAssumptions     map[string][]TagAssumption     `json:"tag_assumptions,omitempty"`
	BestPeptide        *PeptideAssumption             `json:"best_peptide,omitempty"`
	BestTag            *TagAssumption                 `json:"best_tag,omitempty"`
	Annotations        PsmAnnotations                 `json:"annotations"`
}

// NewSpectrumMatch creates an empty spectrum match.
func NewSpectrumMatch(key string) *SpectrumMatch {
	return &SpectrumMatch{
		Key:                key,
		PeptideAssumptions: make(map[string][]PeptideAssumption),
		TagAssumptions:     make(map[string][]TagAssumption),
	}
}

// AddPeptideAssumption appends a candidate and keeps the algorithm's list ordered by rank.
func (m *SpectrumMatch) AddPeptideAssumption(a PeptideAssumption) {
	if m.PeptideAssumptions == nil {
		m.PeptideAssumptions = make(map[string][]PeptideAssumption)
	}
	list := append(m.PeptideAssumptions[a.Algorithm], a)
	sort.SliceStable(list, func(i, j int) bool { return list[i].Rank < list[j].Rank })
	m.PeptideAssumptions[a.Algorithm] = list
}

// AddTagAssumption appends a tag candidate and keeps the algorithm's list ordered by rank.
func (m *SpectrumMatch) AddTagAssumption(a TagAssumption) {
	if m.TagAssumptions == nil {
		m.TagAssumptions = make(map[string][]TagAssumption)
	}
	list := append(m.TagAssumptions[a.Algorithm], a)
	sort.SliceStable(list, func(i, j int) bool { return list[i].Rank < list[j].Rank })
	m.TagAssumptions[a.Algorithm] = list
}

// Merge adds the candidates of other, a match of the same spectrum from
// another search. An algorithm present in other replaces its candidates in m,
// so importing the same results twice does not duplicate them. Selection
// results are cleared as the candidate set changed.
func (m *SpectrumMatch) Merge(other *SpectrumMatch) {
	if m.SpectrumFile == "" {
		m.SpectrumFile = other.SpectrumFile
	}
	for _, alg := range other.Algorithms() {
		delete(m.PeptideAssumptions, alg)
		delete(m.TagAssumptions, alg)
		for _, a := range other.PeptideAssumptions[alg] {
			m.AddPeptideAssumption(a)
		}
		for _, a := range other.TagAssumptions[alg] {
			m.AddTagAssumption(a)
		}
	}
	m.BestPeptide = nil
	m.BestTag = nil
	m.Annotations = PsmAnnotations{}
}

// Algorithms returns the algorithms that produced candidates, sorted.
func (m *SpectrumMatch) Algorithms() []string {
	seen := make(map[string]struct{})
	for alg, list := range m.PeptideAssumptions {
		if len(list) > 0 {
			seen[alg] = struct{}{}
		}
	}
	for alg, list := range m.TagAssumptions {
		if len(list) > 0 {
			seen[alg] = struct{}{}
		}
	}
	algs := make([]string, 0, len(seen))
	for alg := range seen {
		algs = append(algs, alg)
	}
	sort.Strings(algs)
	return algs
}

// HasPeptideAssumptions reports whether any algorithm proposed a peptide.
func (m *SpectrumMatch) HasPeptideAssumptions() bool {
	for _, list := range m.PeptideAssumptions {
		if len(list) > 0 {
			return true
		}
	}
	return false
}

// HasBest reports whether best-match selection found a winner.
func (m *SpectrumMatch) HasBest() bool {
	return m.BestPeptide != nil || m.BestTag != nil
}

// Decoy reports whether the best assumption is a decoy hit.
func (m *SpectrumMatch) Decoy() bool {
	switch {
	case m.BestPeptide != nil:
		return m.BestPeptide.Decoy
	case m.BestTag != nil:
		return m.BestTag.Decoy
	}
	return false
}

// PeptideAnnotations hold the derived values of a peptide match.
type PeptideAnnotations struct {
	Score            float64            `json:"score"`
	Probability      float64            `json:"probability"`
	Confidence       float64            `json:"confidence"`
	Level            ValidationLevel    `json:"level"`
	ConfidentPSMs    int                `json:"confident_psms"`
	DoubtfulPSMs     int                `json:"doubtful_psms"`
	ProteinGroupKeys []string           `json:"protein_group_keys,omitempty"`
	SharedGroups     int                `json:"shared_groups"` // groups the peptide supports
	Sites            []ModificationSite `json:"sites,omitempty"`
}

// PeptideMatch aggregates the spectrum matches supporting one peptide
// (sequence + modification profile).
type PeptideMatch struct {
	Key          string             `json:"key"`
	Peptide      core.Peptide       `json:"peptide"`
	SpectrumKeys []string           `json:"spectrum_keys"`
	Accessions   []string           `json:"accessions,omitempty"`
	Decoy        bool               `json:"decoy"`
	Annotations  PeptideAnnotations `json:"annotations"`
}

// AddSpectrum links a spectrum match, ignoring duplicates. Keys stay sorted.
func (p *PeptideMatch) AddSpectrum(key string) bool {
	return insertSorted(&p.SpectrumKeys, key)
}

// RemoveSpectrum unlinks a spectrum match.
func (p *PeptideMatch) RemoveSpectrum(key string) bool {
	return removeSorted(&p.SpectrumKeys, key)
}

// ProteinSite is a modification site in protein coordinates (1-based).
type ProteinSite struct {
	Accession string  `json:"accession"`
	Name      string  `json:"name"`
	Position  int     `json:"position"`
	Score     float64 `json:"score"`
	Confident bool    `json:"confident"`
}

// ProteinAnnotations hold the derived values of a protein group.
type ProteinAnnotations struct {
	PIStatus          PIStatus        `json:"pi_status"`
	MainAccession     string          `json:"main_accession,omitempty"`
	Score             float64         `json:"score"`
	Probability       float64         `json:"probability"`
	Confidence        float64         `json:"confidence"`
	Level             ValidationLevel `json:"level"`
	ValidatedPeptides int             `json:"validated_peptides"`
	Sites             []ProteinSite   `json:"sites,omitempty"`
}

// ProteinGroupMatch is keyed by its sorted accession set and references the
// peptides supporting it.
type ProteinGroupMatch struct {
	Key         string             `json:"key"`
	Accessions  []string           `json:"accessions"`
	PeptideKeys []string           `json:"peptide_keys"`
	Decoy       bool               `json:"decoy"`
	Annotations ProteinAnnotations `json:"annotations"`
}

// NewProteinGroupMatch creates a group for the given accessions.
func NewProteinGroupMatch(accessions []string) *ProteinGroupMatch {
	accs := NormalizeAccessions(accessions)
	return &ProteinGroupMatch{
		Key:        strings.Join(accs, ","),
		Accessions: accs,
	}
}

// AddPeptide links a peptide match, ignoring duplicates.
func (g *ProteinGroupMatch) AddPeptide(key string) bool {
	return insertSorted(&g.PeptideKeys, key)
}

// RemovePeptide unlinks a peptide match.
func (g *ProteinGroupMatch) RemovePeptide(key string) bool {
	return removeSorted(&g.PeptideKeys, key)
}

// Contains reports whether accession is a member of the group.
func (g *ProteinGroupMatch) Contains(accession string) bool {
	i := sort.SearchStrings(g.Accessions, accession)
	return i < len(g.Accessions) && g.Accessions[i] == accession
}

// GroupKey returns the protein group key for a set of accessions.
func GroupKey(accessions []string) string {
	return strings.Join(NormalizeAccessions(accessions), ",")
}

// NormalizeAccessions sorts and deduplicates accessions, dropping empty ones.
func NormalizeAccessions(accessions []string) []string {
	out := make([]string, 0, len(accessions))
	for _, a := range accessions {
		a = strings.TrimSpace(a)
		if a != "" {
			out = append(out, a)
		}
	}
	sort.Strings(out)
	n := 0
	for i, a := range out {
		if i == 0 || a != out[n-1] {
			out[n] = a
			n++
		}
	}
	return out[:n]
}

func insertSorted(list *[]string, key string) bool {
	s := *list
	i := sort.SearchStrings(s, key)
	if i < len(s) && s[i] == key {
		return false
	}
	s = append(s, "")
	copy(s[i+1:], s[i:])
	s[i] = key
	*list = s
	return true
}

func removeSorted(list *[]string, key string) bool {
	s := *list
	i := sort.SearchStrings(s, key)
	if i >= len(s) || s[i] != key {
		return false
	}
	*list = append(s[:i], s[i+1:]...)
	return true
}
