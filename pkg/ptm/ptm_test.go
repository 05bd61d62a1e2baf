package ptm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChrisMcGann/psvalidate/pkg/core"
	"github.com/ChrisMcGann/psvalidate/pkg/identification"
	"github.com/ChrisMcGann/psvalidate/pkg/protein"
)

const phosphoMass = 79.966331

// preferScorer scores a site by a fixed table, ignoring the spectrum
type preferScorer map[int]float64

func (s preferScorer) SiteScore(_ *core.Spectrum, _ core.Peptide, site, _ int) float64 {
	return s[site]
}

func phospho(positions ...int) []core.Modification {
	var mods []core.Modification
	for _, p := range positions {
		mods = append(mods, core.Modification{Name: "Phospho", Mass: phosphoMass, Position: p, Variable: true})
	}
	return mods
}

func matchFor(seq string, mods []core.Modification, accessions ...string) *identification.SpectrumMatch {
	m := identification.NewSpectrumMatch("scan=1")
	m.BestPeptide = &identification.PeptideAssumption{
		Algorithm:  "Comet",
		Peptide:    core.Peptide{Sequence: seq, Modifications: mods},
		Charge:     2,
		Accessions: accessions,
	}
	return m
}

func someSpectrum() *core.Spectrum {
	return &core.Spectrum{Title: "scan=1", Peaks: []core.Peak{{MZ: 100, Intensity: 1}}}
}

func spectrumOf(p core.Peptide) *core.Spectrum {
	spec := &core.Spectrum{Title: "synthetic"}
	for _, ion := range p.FragmentIons() {
		spec.Peaks = append(spec.Peaks, core.Peak{MZ: ion.MZ, Intensity: 100})
	}
	spec.SortPeaks()
	return spec
}

func TestBinomialSiteScorer(t *testing.T) {
	scorer := BinomialSiteScorer{Tolerance: 0.02, Depth: 6, WindowSize: 100}
	atS := core.Peptide{Sequence: "PSEPTK", Modifications: phospho(1)}
	atT := core.Peptide{Sequence: "PSEPTK", Modifications: phospho(4)}

	right := scorer.SiteScore(spectrumOf(atS), atS, 1, 4)
	wrong := scorer.SiteScore(spectrumOf(atT), atS, 1, 4)
	assert.Greater(t, right, 0.0)
	assert.LessOrEqual(t, right, MaxSiteScore)
	assert.Greater(t, right, wrong)

	assert.Zero(t, scorer.SiteScore(nil, atS, 1, 4))
	assert.Zero(t, scorer.SiteScore(&core.Spectrum{}, atS, 1, 4))
	assert.Zero(t, scorer.SiteScore(spectrumOf(atS), atS, 1, 1))
}

func TestSiteDeterminingIons(t *testing.T) {
	ions := siteDeterminingIons(core.Peptide{Sequence: "PSEPTK"}, 4, 1)
	// b2..b4 and y2..y4
	assert.Len(t, ions, 6)
	for _, ion := range ions {
		assert.GreaterOrEqual(t, ion.Number, 2)
		assert.LessOrEqual(t, ion.Number, 4)
	}
}

func TestLocalizeMovesToBestSite(t *testing.T) {
	l := NewLocalizer(nil, preferScorer{3: 30}, nil, Config{SiteThreshold: 19})
	m := matchFor("PSESK", phospho(1))

	changed, err := l.Localize(context.Background(), m, someSpectrum())
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, "PSESK|Phospho@4", m.BestPeptide.Peptide.Key())
	assert.Equal(t, []identification.ModificationSite{{Name: "Phospho", Position: 3, Score: 30, Confident: true}}, m.Annotations.Sites)
}

func TestLocalizeTieTakesSmallestPositions(t *testing.T) {
	l := NewLocalizer(nil, preferScorer{}, nil, Config{SiteThreshold: 19})
	m := matchFor("PSESK", phospho(3))

	changed, err := l.Localize(context.Background(), m, someSpectrum())
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, 1, m.BestPeptide.Peptide.Modifications[0].Position)
	require.Len(t, m.Annotations.Sites, 1)
	assert.False(t, m.Annotations.Sites[0].Confident)

	// a second pass keeps the placement
	changed, err = l.Localize(context.Background(), m, someSpectrum())
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestLocalizeWithoutSpectrum(t *testing.T) {
	l := NewLocalizer(nil, preferScorer{1: 50}, nil, Config{SiteThreshold: 19})

	ambiguous := matchFor("PSESK", phospho(3))
	changed, err := l.Localize(context.Background(), ambiguous, nil)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, []identification.ModificationSite{{Name: "Phospho", Position: 3}}, ambiguous.Annotations.Sites)

	unambiguous := matchFor("PEPTIDEK", phospho(3))
	_, err = l.Localize(context.Background(), unambiguous, nil)
	require.NoError(t, err)
	assert.Equal(t, []identification.ModificationSite{{Name: "Phospho", Position: 3, Score: MaxSiteScore, Confident: true}}, unambiguous.Annotations.Sites)
}

func TestLocalizeKeepsOtherModifications(t *testing.T) {
	l := NewLocalizer(nil, preferScorer{3: 30}, nil, Config{SiteThreshold: 19})
	mods := append(phospho(1), core.Modification{Name: "Oxidation", Mass: 15.994915, Position: 0, Variable: true})
	m := matchFor("MSESK", mods)

	_, err := l.Localize(context.Background(), m, someSpectrum())
	require.NoError(t, err)
	assert.Equal(t, "MSESK|Oxidation@1;Phospho@4", m.BestPeptide.Peptide.Key())
}

func TestLocalizeCombinationCap(t *testing.T) {
	prefer := preferScorer{3: 30, 4: 30}

	capped := NewLocalizer(nil, prefer, nil, Config{SiteThreshold: 19, MaxCombinations: 3})
	m := matchFor("SSSSSK", phospho(0, 1))
	_, err := capped.Localize(context.Background(), m, someSpectrum())
	require.NoError(t, err)
	assert.Equal(t, "SSSSSK|Phospho@1;Phospho@4", m.BestPeptide.Peptide.Key())

	full := NewLocalizer(nil, prefer, nil, Config{SiteThreshold: 19})
	m = matchFor("SSSSSK", phospho(0, 1))
	_, err = full.Localize(context.Background(), m, someSpectrum())
	require.NoError(t, err)
	assert.Equal(t, "SSSSSK|Phospho@4;Phospho@5", m.BestPeptide.Peptide.Key())
}

func TestLocalizeRefinementFlagsConflict(t *testing.T) {
	db := protein.NewDatabase(nil)
	db.Add(protein.Protein{Accession: "P1", Sequence: "PSESKAAA"})
	db.Add(protein.Protein{Accession: "P2", Sequence: "AAAPSESK"})
	mapper := protein.NewMapper(db, nil)

	mods := append(phospho(1), core.Modification{Name: "Acetyl (Protein N-term)", Mass: 42.010565, Position: -1, Variable: true})
	m := matchFor("PSESK", mods, "P1", "P2")

	l := NewLocalizer(nil, preferScorer{3: 30}, mapper, Config{SiteThreshold: 19, Refinement: true})
	changed, err := l.Localize(context.Background(), m, someSpectrum())
	require.NoError(t, err)
	assert.True(t, changed)
	assert.True(t, m.Annotations.MappingConflict)
	assert.Equal(t, []string{"P1"}, m.BestPeptide.Accessions)
}

func TestLocalizeNoBestPeptide(t *testing.T) {
	l := NewLocalizer(nil, preferScorer{}, nil, Config{})
	m := identification.NewSpectrumMatch("s")
	m.Annotations.Sites = []identification.ModificationSite{{Name: "stale"}}

	changed, err := l.Localize(context.Background(), m, nil)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Nil(t, m.Annotations.Sites)
}

func TestPeptideSites(t *testing.T) {
	confident := identification.NewSpectrumMatch("a")
	confident.Annotations.Level = identification.Confident
	confident.Annotations.Sites = []identification.ModificationSite{{Name: "Phospho", Position: 3, Score: 25, Confident: true}}

	weaker := identification.NewSpectrumMatch("b")
	weaker.Annotations.Level = identification.Doubtful
	weaker.Annotations.Sites = []identification.ModificationSite{{Name: "Phospho", Position: 3, Score: 10}}

	rejected := identification.NewSpectrumMatch("c")
	rejected.Annotations.Sites = []identification.ModificationSite{{Name: "Phospho", Position: 1, Score: 90}}

	sites := PeptideSites([]*identification.SpectrumMatch{confident, weaker, rejected})
	assert.Equal(t, []identification.ModificationSite{{Name: "Phospho", Position: 3, Score: 25, Confident: true}}, sites)

	sites = PeptideSites([]*identification.SpectrumMatch{rejected})
	assert.Equal(t, []identification.ModificationSite{{Name: "Phospho", Position: 1, Score: 90}}, sites)
}

func TestProteinSites(t *testing.T) {
	db := protein.NewDatabase(nil)
	db.Add(protein.Protein{Accession: "P1", Sequence: "MPSESKAAPSESK"})
	mapper := protein.NewMapper(db, nil)

	group := identification.NewProteinGroupMatch([]string{"P1", "P404"})
	pep := &identification.PeptideMatch{
		Key:     "PSESK|Phospho@4",
		Peptide: core.Peptide{Sequence: "PSESK", Modifications: phospho(3)},
		Annotations: identification.PeptideAnnotations{
			Sites: []identification.ModificationSite{{Name: "Phospho", Position: 3, Score: 40, Confident: true}},
		},
	}

	sites, err := ProteinSites(context.Background(), mapper, group, []*identification.PeptideMatch{pep})
	require.NoError(t, err)
	assert.Equal(t, []identification.ProteinSite{
		{Accession: "P1", Name: "Phospho", Position: 5, Score: 40, Confident: true},
		{Accession: "P1", Name: "Phospho", Position: 12, Score: 40, Confident: true},
	}, sites)
}
