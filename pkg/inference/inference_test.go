package inference

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChrisMcGann/psvalidate/pkg/identification"
	"github.com/ChrisMcGann/psvalidate/pkg/protein"
	"github.com/ChrisMcGann/psvalidate/pkg/repository"
	"github.com/ChrisMcGann/psvalidate/pkg/repository/memory"
)

func TestGraphRedundantGroups(t *testing.T) {
	tests := []struct {
		name     string
		peptides map[string][]string
		groups   map[string][]string
		want     []string
	}{
		{
			name:     "multi-protein group explained by a single protein",
			peptides: map[string][]string{"p1": {"A"}, "p2": {"A", "B"}},
			groups:   map[string][]string{"A": {"A"}, "A,B": {"A", "B"}},
			want:     []string{"A,B"},
		},
		{
			name:     "shared peptide between two proteins with own evidence",
			peptides: map[string][]string{"p1": {"A"}, "p2": {"B"}, "p3": {"A", "B"}},
			groups:   map[string][]string{"A": {"A"}, "B": {"B"}, "A,B": {"A", "B"}},
			want:     []string{"A,B"},
		},
		{
			name:     "identical support keeps fewer accessions",
			peptides: map[string][]string{"p1": {"A", "B", "C"}},
			groups:   map[string][]string{"A,B,C": {"A", "B", "C"}, "A,B": {"A", "B"}},
			want:     []string{"A,B,C"},
		},
		{
			name:     "identical support and size keeps smallest key",
			peptides: map[string][]string{"p1": {"A", "B", "C"}},
			groups:   map[string][]string{"B,C": {"B", "C"}, "A,B": {"A", "B"}},
			want:     []string{"B,C"},
		},
		{
			name:     "unsupported group",
			peptides: map[string][]string{"p1": {"A"}},
			groups:   map[string][]string{"A": {"A"}, "Z": {"Z"}},
			want:     []string{"Z"},
		},
		{
			name:     "disjoint groups stay",
			peptides: map[string][]string{"p1": {"A", "B"}, "p2": {"A", "C"}},
			groups:   map[string][]string{"A,B": {"A", "B"}, "A,C": {"A", "C"}},
			want:     nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewGraph(tt.peptides, tt.groups)
			assert.Equal(t, tt.want, g.Redundant())
		})
	}
}

// no surviving group may have a support that is a strict subset of another's
func TestGraphNoSubsetSurvives(t *testing.T) {
	peptides := map[string][]string{
		"p1": {"A"}, "p2": {"A", "B"}, "p3": {"B"}, "p4": {"B", "C"},
		"p5": {"C", "D"}, "p6": {"D"}, "p7": {"A", "B", "C", "D"},
	}
	groups := make(map[string][]string)
	for _, accs := range peptides {
		groups[identification.GroupKey(accs)] = accs
	}

	g := NewGraph(peptides, groups)
	g.Remove(g.Redundant()...)
	for a := range groups {
		for b := range groups {
			if a == b || g.Support(a) == nil || g.Support(b) == nil {
				continue
			}
			sa, sb := g.Support(a), g.Support(b)
			assert.False(t, len(sa) < len(sb) && subset(sa, sb), "%s is subsumed by %s", a, b)
		}
	}
}

func TestGraphStatus(t *testing.T) {
	peptides := map[string][]string{"p1": {"A"}, "p2": {"B"}, "p3": {"A", "B"}, "p4": {"C"}}
	groups := map[string][]string{"A": {"A"}, "B": {"B"}, "C": {"C"}}
	g := NewGraph(peptides, groups)
	assert.Equal(t, identification.PIRelated, g.Status("A"))
	assert.Equal(t, identification.PIRelated, g.Status("B"))
	assert.Equal(t, identification.PIUnique, g.Status("C"))
	assert.Equal(t, identification.PIUnassigned, g.Status("missing"))

	// every peptide shared with another group
	peptides = map[string][]string{"ab": {"A", "B"}, "ac": {"A", "C"}, "bc": {"B", "C"}}
	g = NewGraph(peptides, groups)
	assert.Empty(t, g.Redundant())
	assert.Equal(t, identification.PIAmbiguous, g.Status("A"))
}

func TestGraphMainAccession(t *testing.T) {
	peptides := map[string][]string{"p1": {"B", "DECOY_A", "A"}, "p2": {"B"}}
	groups := map[string][]string{"A,B,DECOY_A": {"A", "B", "DECOY_A"}}
	g := NewGraph(peptides, groups)
	assert.Equal(t, "B", g.MainAccession("A,B,DECOY_A", protein.NewDatabase(nil).IsDecoy))

	peptides = map[string][]string{"p1": {"DECOY_A", "Z"}}
	groups = map[string][]string{"DECOY_A,Z": {"DECOY_A", "Z"}}
	g = NewGraph(peptides, groups)
	assert.Equal(t, "Z", g.MainAccession("DECOY_A,Z", protein.NewDatabase(nil).IsDecoy))
}

func TestInferrerRun(t *testing.T) {
	ctx := context.Background()
	repo, err := repository.New(memory.New())
	require.NoError(t, err)
	defer repo.Close()

	put := func(key string, accs ...string) {
		require.NoError(t, repo.PutPeptideMatch(ctx, &identification.PeptideMatch{
			Key:          key,
			SpectrumKeys: []string{"s-" + key},
			Accessions:   accs,
			Annotations:  identification.PeptideAnnotations{ProteinGroupKeys: []string{identification.GroupKey(accs)}},
		}))
		g := identification.NewProteinGroupMatch(accs)
		g.AddPeptide(key)
		require.NoError(t, repo.PutProteinMatch(ctx, g))
	}
	put("UNIQUEK", "P1")
	put("SHAREDK", "P1", "P2")
	put("OTHERK", "P3")

	res, err := New(repo, nil, nil).Run(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, Result{Groups: 2, Removed: 1, Unique: 2}, res)

	ok, err := repo.Proteins.Exists(ctx, "P1,P2")
	require.NoError(t, err)
	assert.False(t, ok)

	g, err := repo.Proteins.Get(ctx, "P1")
	require.NoError(t, err)
	assert.Equal(t, []string{"SHAREDK", "UNIQUEK"}, g.PeptideKeys, "peptides of the removed group move to the survivor")
	assert.Equal(t, identification.PIUnique, g.Annotations.PIStatus)
	assert.Equal(t, "P1", g.Annotations.MainAccession)

	pep, err := repo.Peptides.Get(ctx, "SHAREDK")
	require.NoError(t, err)
	assert.Equal(t, []string{"P1"}, pep.Annotations.ProteinGroupKeys)
	assert.Equal(t, 1, pep.Annotations.SharedGroups)

	// a second pass finds nothing left to simplify
	again, err := New(repo, nil, nil).Run(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, Result{Groups: 2, Unique: 2}, again)
}
