package protein

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChrisMcGann/psvalidate/pkg/core"
)

const testFASTA = `>sp|P1|ONE_HUMAN First protein
MPEPTIDEKSAMPLER
>sp|P2|TWO_HUMAN Second protein
AAPEPTIDEKAAPEPTIDEK
>DECOY_sp|P1|ONE_HUMAN
RELPMASKEDITPEPM
`

func loadDB(t *testing.T) *Database {
	t.Helper()
	db := NewDatabase(nil)
	n, err := db.LoadFASTA(strings.NewReader(testFASTA))
	require.NoError(t, err)
	require.Equal(t, 3, n)
	return db
}

func TestDatabase(t *testing.T) {
	db := loadDB(t)
	ctx := context.Background()

	p, err := db.Protein(ctx, "P1")
	require.NoError(t, err)
	assert.Equal(t, "MPEPTIDEKSAMPLER", p.Sequence)
	assert.False(t, p.Decoy)

	desc, err := db.Description(ctx, "P2")
	require.NoError(t, err)
	assert.Equal(t, "Second protein", desc)

	assert.True(t, db.IsDecoy("DECOY_P1"))
	assert.True(t, db.IsDecoy("REV_P9"))
	assert.False(t, db.IsDecoy("P2"))
	assert.Equal(t, []string{"DECOY_P1", "P1", "P2"}, db.Accessions())

	_, err = db.Protein(ctx, "P404")
	assert.ErrorIs(t, err, ErrUnknownProtein)
}

func TestIsDecoyAccession(t *testing.T) {
	assert.True(t, IsDecoyAccession("P1_REVERSED", DefaultDecoyTags))
	assert.True(t, IsDecoyAccession("rev_P1", DefaultDecoyTags))
	assert.False(t, IsDecoyAccession("PREVIOUS", DefaultDecoyTags))
	assert.False(t, IsDecoyAccession("P1", []string{""}))
}

type countingProvider struct {
	*Database
	calls int
}

func (c *countingProvider) Protein(ctx context.Context, acc string) (*Protein, error) {
	c.calls++
	return c.Database.Protein(ctx, acc)
}

func TestCachedProvider(t *testing.T) {
	inner := &countingProvider{Database: loadDB(t)}
	cached := NewCachedProvider(inner, time.Minute, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		p, err := cached.Protein(ctx, "P2")
		require.NoError(t, err)
		assert.Equal(t, "P2", p.Accession)
	}
	assert.Equal(t, 1, inner.calls)
	assert.Equal(t, 1, cached.Len())
	assert.False(t, cached.IsDecoy("P2"))

	_, err := cached.Protein(ctx, "missing")
	assert.ErrorIs(t, err, ErrUnknownProtein)
	assert.Equal(t, 1, cached.Len())

	cached.Flush()
	assert.Equal(t, 0, cached.Len())
}

func TestMapperOccurrences(t *testing.T) {
	m := NewMapper(loadDB(t), nil)
	starts, err := m.Occurrences(context.Background(), "P2", "PEPTIDEK")
	require.NoError(t, err)
	assert.Equal(t, []int{2, 12}, starts)

	pos, err := m.ProteinPositions(context.Background(), "P2", "PEPTIDEK", 3)
	require.NoError(t, err)
	assert.Equal(t, []int{6, 16}, pos)
}

func TestMapperCheck(t *testing.T) {
	m := NewMapper(loadDB(t), core.DefaultModDatabase())
	ctx := context.Background()

	plain := core.Peptide{Sequence: "PEPTIDEK"}
	valid, conflicts, err := m.Check(ctx, plain, []string{"P1", "P2", "P404"})
	require.NoError(t, err)
	assert.Equal(t, []string{"P1", "P2"}, valid)
	assert.Equal(t, []string{"P404"}, conflicts)

	// protein N-terminal acetylation only fits where the initiator Met was cleaved
	acetyl := core.Peptide{
		Sequence:      "PEPTIDEK",
		Modifications: []core.Modification{{Name: "Acetyl (Protein N-term)", Mass: 42.010565, Position: -1, Variable: true}},
	}
	valid, conflicts, err = m.Check(ctx, acetyl, []string{"P1", "P2"})
	require.NoError(t, err)
	assert.Equal(t, []string{"P1"}, valid)
	assert.Equal(t, []string{"P2"}, conflicts)

	// phospho moved to a residue it cannot modify
	misplaced := core.Peptide{
		Sequence:      "PEPTIDEK",
		Modifications: []core.Modification{{Name: "Phospho", Mass: 79.966331, Position: 4, Variable: true}},
	}
	valid, _, err = m.Check(ctx, misplaced, []string{"P1"})
	require.NoError(t, err)
	assert.Empty(t, valid)
}
