package hits

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = "spectrum\tfile\talgorithm\trank\tsequence\tmodifications\tcharge\tscore\tproteins\tprecursor_error_ppm\n" +
	"scan=1\trun1.mgf\tComet\t1\tpepmk\tOxidation@M4\t2\t3.5\tP1;P2\t-1.5\n" +
	"scan=1\trun1.mgf\tComet\t2\tKMPEP\t\t2\t1.2\tDECOY_P1\t4\n" +
	"# comment lines are skipped\n" +
	"scan=2\trun1.mgf\tMascot\t1\tANOTHERK\t\t3+\tNA\tDECOY_P2;P3\t0\n"

func TestReader(t *testing.T) {
	r := NewReader(strings.NewReader(sample), nil, nil)

	require.True(t, r.Next(), "err=%v", r.Err())
	hit := r.Hit()
	assert.Equal(t, "scan=1", hit.Spectrum)
	assert.Equal(t, "run1.mgf", hit.File)
	require.NotNil(t, hit.Peptide)
	p := hit.Peptide
	assert.Equal(t, "Comet", p.Algorithm)
	assert.Equal(t, "PEPMK", p.Peptide.Sequence)
	require.Len(t, p.Peptide.Modifications, 1)
	assert.Equal(t, 3, p.Peptide.Modifications[0].Position)
	assert.Equal(t, "PEPMK|Oxidation@4", p.Peptide.Key())
	assert.Equal(t, 3.5, float64(p.Score))
	assert.Equal(t, []string{"P1", "P2"}, p.Accessions)
	assert.False(t, p.Decoy)
	assert.Equal(t, -1.5, p.PrecursorErrorPPM)

	require.True(t, r.Next())
	assert.True(t, r.Hit().Peptide.Decoy)
	assert.Equal(t, 2, r.Hit().Peptide.Rank)

	require.True(t, r.Next())
	p = r.Hit().Peptide
	assert.False(t, p.Score.Valid())
	assert.Equal(t, 3, p.Charge)
	assert.False(t, p.Decoy, "a hit with one target protein is a target")

	assert.False(t, r.Next())
	assert.NoError(t, r.Err())
}

func TestReaderTags(t *testing.T) {
	input := "spectrum\talgorithm\tsequence\ttag\tscore\n" +
		"scan=9\tDirecTag\t\tPEPT\t12\n"
	matches, err := ReadMatches(NewReader(strings.NewReader(input), nil, nil))
	require.NoError(t, err)
	require.Len(t, matches, 1)
	tags := matches[0].TagAssumptions["DirecTag"]
	require.Len(t, tags, 1)
	assert.Equal(t, "PEPT", tags[0].Tag)
	assert.False(t, matches[0].HasPeptideAssumptions())
}

func TestReadMatchesGroupsBySpectrum(t *testing.T) {
	matches, err := ReadMatches(NewReader(strings.NewReader(sample), nil, nil))
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "scan=1", matches[0].Key)
	assert.Equal(t, "run1.mgf", matches[0].SpectrumFile)
	assert.Len(t, matches[0].PeptideAssumptions["Comet"], 2)
	assert.Equal(t, []string{"Mascot"}, matches[1].Algorithms())
}

func TestReaderErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"missing spectrum column", "algorithm\tsequence\nComet\tPEPK\n"},
		{"missing sequence and tag", "spectrum\talgorithm\ns1\tComet\n"},
		{"bad score", "spectrum\talgorithm\tsequence\tscore\ns1\tComet\tPEPK\thigh\n"},
		{"bad rank", "spectrum\talgorithm\tsequence\trank\ns1\tComet\tPEPK\tfirst\n"},
		{"unknown modification", "spectrum\talgorithm\tsequence\tmodifications\ns1\tComet\tPEPK\tFoo@1\n"},
		{"empty candidate", "spectrum\talgorithm\tsequence\ns1\tComet\t\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewReader(strings.NewReader(tt.input), nil, nil)
			assert.False(t, r.Next())
			assert.Error(t, r.Err())
		})
	}
}
