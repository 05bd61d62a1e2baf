package scoring

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChrisMcGann/psvalidate/pkg/core"
	"github.com/ChrisMcGann/psvalidate/pkg/identification"
	"github.com/ChrisMcGann/psvalidate/pkg/targetdecoy"
)

// calibratedInputMap returns a map where algorithm A (higher is better) gives
// PEP 0 at >= 90 and 0.5 at <= 80, and B (lower is better) gives PEP 0 at
// <= 0.01 and 0.5 at >= 0.1.
func calibratedInputMap(t *testing.T) *targetdecoy.InputMap {
	t.Helper()
	im := targetdecoy.NewInputMap(map[string]targetdecoy.ScoreOrder{
		"A": targetdecoy.HigherIsBetter,
		"B": targetdecoy.LowerIsBetter,
	}, targetdecoy.HigherIsBetter, 1, slog.New(slog.NewTextHandler(io.Discard, nil)))

	im.AddPoint("A", 100, false)
	im.AddPoint("A", 90, false)
	im.AddPoint("A", 80, true)
	im.AddPoint("A", 70, false)
	im.AddPoint("B", 0.001, false)
	im.AddPoint("B", 0.01, false)
	im.AddPoint("B", 0.1, true)
	im.AddPoint("B", 1, false)
	require.NoError(t, im.EstimateProbabilities(context.Background(), nil))
	return im
}

func pep(alg string, rank int, seq string, score float64, mods ...core.Modification) identification.PeptideAssumption {
	return identification.PeptideAssumption{
		Algorithm: alg,
		Rank:      rank,
		Peptide:   core.Peptide{Sequence: seq, Modifications: mods},
		Charge:    2,
		Score:     identification.Score(score),
	}
}

func TestSelectAcrossAlgorithms(t *testing.T) {
	sel := NewSelector(calibratedInputMap(t), true)

	m := identification.NewSpectrumMatch("spec-1")
	m.AddPeptideAssumption(pep("A", 1, "PEPTIDEK", 85))
	m.AddPeptideAssumption(pep("A", 2, "PEPTIDER", 70))
	m.AddPeptideAssumption(pep("B", 1, "PEPTIDEK", 0.001))
	m.AddPeptideAssumption(pep("B", 2, "SAMPLER", 1))

	require.NoError(t, sel.Select(m))
	require.NotNil(t, m.BestPeptide)
	assert.Nil(t, m.BestTag)
	assert.Equal(t, "B", m.BestPeptide.Algorithm)
	assert.Equal(t, "PEPTIDEK", m.BestPeptide.Peptide.Sequence)
	assert.Equal(t, 0.0, m.BestPeptide.Annotations.PEP)
	assert.Equal(t, []string{"A", "B"}, m.Annotations.Agreeing)

	a := m.PeptideAssumptions["A"]
	assert.InDelta(t, 0.25, a[0].Annotations.PEP, 1e-9)
	assert.InDelta(t, 0.25, a[0].Annotations.AlgorithmDeltaPEP, 1e-9)
	assert.Equal(t, 0.5, a[1].Annotations.PEP)
	assert.Equal(t, 0.5, a[1].Annotations.AlgorithmDeltaPEP)

	assert.Equal(t, 0.5, m.BestPeptide.Annotations.AlgorithmDeltaPEP)
	assert.Equal(t, 0.5, m.Annotations.DeltaPEP)
}

func TestSelectTieIsDeterministic(t *testing.T) {
	sel := NewSelector(calibratedInputMap(t), true)
	phospho := func(pos int) core.Modification {
		return core.Modification{Name: "Phospho", Mass: 79.966331, Position: pos, Variable: true}
	}

	orders := [][]identification.PeptideAssumption{
		{pep("A", 1, "PESTSK", 95, phospho(2)), pep("A", 1, "PESTSK", 95, phospho(4))},
		{pep("A", 1, "PESTSK", 95, phospho(4)), pep("A", 1, "PESTSK", 95, phospho(2))},
	}

	var winners []string
	for _, list := range orders {
		for run := 0; run < 3; run++ {
			m := identification.NewSpectrumMatch("spec-tie")
			for _, a := range list {
				m.AddPeptideAssumption(a)
			}
			require.NoError(t, sel.Select(m))
			winners = append(winners, m.BestPeptide.Peptide.Key())
		}
	}

	for _, w := range winners {
		assert.Equal(t, "PESTSK|Phospho@3", w)
	}
}

func TestSelectWithoutFDRUsesRawScore(t *testing.T) {
	sel := NewSelector(calibratedInputMap(t), false)

	m := identification.NewSpectrumMatch("spec-2")
	m.AddPeptideAssumption(pep("A", 1, "LOWER", 40))
	m.AddPeptideAssumption(pep("A", 2, "HIGHER", 60))

	require.NoError(t, sel.Select(m))
	assert.Equal(t, "HIGHER", m.BestPeptide.Peptide.Sequence)
	for _, a := range m.PeptideAssumptions["A"] {
		assert.Equal(t, 1.0, a.Annotations.PEP)
	}
}

func TestSelectUnscoredAssumptions(t *testing.T) {
	sel := NewSelector(calibratedInputMap(t), true)

	m := identification.NewSpectrumMatch("spec-3")
	m.AddPeptideAssumption(identification.PeptideAssumption{
		Algorithm: "A", Rank: 1, Peptide: core.Peptide{Sequence: "NOSCORE"}, Score: identification.NoScore(),
	})
	m.AddPeptideAssumption(pep("A", 2, "SCORED", 75))

	require.NoError(t, sel.Select(m))
	assert.Equal(t, "SCORED", m.BestPeptide.Peptide.Sequence)
	assert.Equal(t, 1.0, m.PeptideAssumptions["A"][0].Annotations.PEP)
}

func TestSelectTagsOnly(t *testing.T) {
	sel := NewSelector(calibratedInputMap(t), true)

	m := identification.NewSpectrumMatch("spec-4")
	m.AddTagAssumption(identification.TagAssumption{Algorithm: "A", Rank: 1, Tag: "TAG", Score: 95})
	m.AddTagAssumption(identification.TagAssumption{Algorithm: "A", Rank: 2, Tag: "GAT", Score: 75})

	require.NoError(t, sel.Select(m))
	assert.Nil(t, m.BestPeptide)
	require.NotNil(t, m.BestTag)
	assert.Equal(t, "TAG", m.BestTag.Tag)
}

func TestSelectPrefersPeptidesOverTags(t *testing.T) {
	sel := NewSelector(calibratedInputMap(t), true)

	m := identification.NewSpectrumMatch("spec-5")
	m.AddTagAssumption(identification.TagAssumption{Algorithm: "B", Rank: 1, Tag: "TAG", Score: 0.0001})
	m.AddPeptideAssumption(pep("A", 1, "PEPTIDE", 75))

	require.NoError(t, sel.Select(m))
	require.NotNil(t, m.BestPeptide)
	assert.Nil(t, m.BestTag)
}

func TestSelectMissingAssumption(t *testing.T) {
	sel := NewSelector(nil, true)
	err := sel.Select(identification.NewSpectrumMatch("empty"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, identification.ErrMissingBestAssumption))
}

func TestAddInputPointsUsesFirstRank(t *testing.T) {
	im := targetdecoy.NewInputMap(nil, targetdecoy.HigherIsBetter, 1, slog.New(slog.NewTextHandler(io.Discard, nil)))

	m := identification.NewSpectrumMatch("spec-6")
	m.AddPeptideAssumption(pep("A", 2, "SECOND", 10))
	first := pep("A", 1, "FIRST", 20)
	first.Decoy = true
	m.AddPeptideAssumption(first)
	m.AddTagAssumption(identification.TagAssumption{Algorithm: "T", Rank: 1, Tag: "TAG", Score: 3})

	AddInputPoints(im, m)

	a, ok := im.Map("A")
	require.True(t, ok)
	assert.Equal(t, targetdecoy.Summary{Decoys: 1, DistinctScores: 1}, a.Summary())
	assert.Equal(t, []string{"A", "T"}, im.Algorithms())
}
