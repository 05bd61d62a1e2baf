package ptm

import (
	"context"
	"errors"
	"sort"

	"github.com/ChrisMcGann/psvalidate/pkg/identification"
	"github.com/ChrisMcGann/psvalidate/pkg/protein"
)

type siteKey struct {
	accession string
	name      string
	position  int
}

// PeptideSites merges the sites of the spectrum matches of a peptide,
// keeping the best score per site. Only validated matches count unless
// none is validated.
func PeptideSites(psms []*identification.SpectrumMatch) []identification.ModificationSite {
	var validated []*identification.SpectrumMatch
	for _, m := range psms {
		if m.Annotations.Level.IsValidated() {
			validated = append(validated, m)
		}
	}
	if len(validated) == 0 {
		validated = psms
	}

	merged := make(map[siteKey]identification.ModificationSite)
	for _, m := range validated {
		for _, s := range m.Annotations.Sites {
			k := siteKey{name: s.Name, position: s.Position}
			cur, ok := merged[k]
			if !ok || s.Score > cur.Score {
				cur.Name, cur.Position, cur.Score = s.Name, s.Position, s.Score
			}
			cur.Confident = cur.Confident || s.Confident
			merged[k] = cur
		}
	}

	out := make([]identification.ModificationSite, 0, len(merged))
	for _, s := range merged {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Position != out[j].Position {
			return out[i].Position < out[j].Position
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// ProteinSites maps the peptide sites of a group onto every member protein.
// Accessions unknown to the mapper are skipped.
func ProteinSites(ctx context.Context, mapper *protein.Mapper, group *identification.ProteinGroupMatch, peptides []*identification.PeptideMatch) ([]identification.ProteinSite, error) {
	merged := make(map[siteKey]identification.ProteinSite)
	for _, acc := range group.Accessions {
		for _, pep := range peptides {
			for _, s := range pep.Annotations.Sites {
				positions, err := mapper.ProteinPositions(ctx, acc, pep.Peptide.Sequence, s.Position)
				if errors.Is(err, protein.ErrUnknownProtein) {
					break
				}
				if err != nil {
					return nil, err
				}
				for _, pos := range positions {
					k := siteKey{accession: acc, name: s.Name, position: pos}
					cur, ok := merged[k]
					if !ok || s.Score > cur.Score {
						cur = identification.ProteinSite{Accession: acc, Name: s.Name, Position: pos, Score: s.Score, Confident: cur.Confident}
					}
					cur.Confident = cur.Confident || s.Confident
					merged[k] = cur
				}
			}
		}
	}

	out := make([]identification.ProteinSite, 0, len(merged))
	for _, s := range merged {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Accession != b.Accession {
			return a.Accession < b.Accession
		}
		if a.Position != b.Position {
			return a.Position < b.Position
		}
		return a.Name < b.Name
	})
	return out, nil
}
