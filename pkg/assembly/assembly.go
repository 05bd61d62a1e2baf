// Package assembly links spectrum matches to peptide matches and peptide
// matches to protein groups.
package assembly

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"

	"github.com/ChrisMcGann/psvalidate/pkg/identification"
	"github.com/ChrisMcGann/psvalidate/pkg/progress"
	"github.com/ChrisMcGann/psvalidate/pkg/repository"
)

// Result counts what an assembly pass left in the repository.
type Result struct {
	Peptides        int
	ProteinGroups   int
	RelinkedPSMs    int
	RemovedPeptides int
	RemovedGroups   int
}

// Assembler rebuilds peptide matches and protein groups from the best
// peptides of the spectrum matches. Running it twice changes nothing.
type Assembler struct {
	repo    *repository.Repository
	project identification.ProjectType
	isDecoy func(accession string) bool
	logger  *slog.Logger
}

// New creates an assembler. isDecoy classifies accessions for protein
// groups; when nil a group is a decoy when all of its peptides are.
func New(repo *repository.Repository, project identification.ProjectType, isDecoy func(string) bool, logger *slog.Logger) *Assembler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Assembler{repo: repo, project: project, isDecoy: isDecoy, logger: logger}
}

type peptideDraft struct {
	match      *identification.PeptideMatch
	accessions []string
	targets    int
}

// Run performs one assembly pass.
func (a *Assembler) Run(ctx context.Context, wh progress.WaitingHandler) (Result, error) {
	var res Result
	drafts := make(map[string]*peptideDraft)

	err := a.repo.Spectra.Iterate(ctx, wh, func(key string, m *identification.SpectrumMatch) error {
		pepKey := ""
		if m.BestPeptide != nil && a.project.WantsPeptides() {
			pepKey = m.BestPeptide.Peptide.Key()
			d, ok := drafts[pepKey]
			if !ok {
				p := m.BestPeptide.Peptide.Clone()
				p.SortModifications()
				d = &peptideDraft{match: &identification.PeptideMatch{Key: pepKey, Peptide: p}}
				drafts[pepKey] = d
			}
			d.match.AddSpectrum(key)
			d.accessions = append(d.accessions, m.BestPeptide.Accessions...)
			if !m.BestPeptide.Decoy {
				d.targets++
			}
		}
		if m.Annotations.PeptideKey != pepKey {
			m.Annotations.PeptideKey = pepKey
			res.RelinkedPSMs++
			return a.repo.PutSpectrumMatch(ctx, m)
		}
		return nil
	})
	if err != nil {
		return res, fmt.Errorf("failed to link spectrum matches: %w", err)
	}

	for _, d := range drafts {
		d.match.Accessions = identification.NormalizeAccessions(d.accessions)
		d.match.Decoy = d.targets == 0
	}

	removed, err := a.storePeptides(ctx, drafts)
	if err != nil {
		return res, err
	}
	res.Peptides = len(drafts)
	res.RemovedPeptides = removed

	if a.project.WantsProteins() {
		groups, removed, err := a.storeGroups(ctx, drafts)
		if err != nil {
			return res, err
		}
		res.ProteinGroups = groups
		res.RemovedGroups = removed
	} else if res.RemovedGroups, err = a.clear(ctx, a.repo.Proteins.Keys, a.repo.Proteins.Delete); err != nil {
		return res, err
	}

	a.logger.Debug("assembly done",
		"peptides", res.Peptides,
		"groups", res.ProteinGroups,
		"relinked", res.RelinkedPSMs,
		"removed_peptides", res.RemovedPeptides,
		"removed_groups", res.RemovedGroups)
	return res, nil
}

// storePeptides writes every draft whose structure changed, keeping the
// annotations of existing matches, and deletes peptides nothing supports.
func (a *Assembler) storePeptides(ctx context.Context, drafts map[string]*peptideDraft) (int, error) {
	existing, err := a.repo.Peptides.Keys(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list peptide matches: %w", err)
	}

	removed := 0
	for _, key := range existing {
		if _, ok := drafts[key]; ok {
			continue
		}
		if err := a.repo.Peptides.Delete(ctx, key); err != nil {
			return removed, fmt.Errorf("failed to delete peptide match %s: %w", key, err)
		}
		removed++
	}

	for _, key := range sortedKeys(drafts) {
		draft := drafts[key].match
		old, err := a.repo.Peptides.Get(ctx, key)
		switch {
		case err == nil:
			if samePeptide(old, draft) {
				continue
			}
			draft.Annotations = old.Annotations
		case !errors.Is(err, repository.ErrNotFound):
			return removed, fmt.Errorf("failed to load peptide match %s: %w", key, err)
		}
		if err := a.repo.PutPeptideMatch(ctx, draft); err != nil {
			return removed, fmt.Errorf("failed to store peptide match %s: %w", key, err)
		}
	}
	return removed, nil
}

// storeGroups groups peptides by accession set and records the group key on
// each peptide.
func (a *Assembler) storeGroups(ctx context.Context, drafts map[string]*peptideDraft) (int, int, error) {
	groups := make(map[string]*identification.ProteinGroupMatch)
	targets := make(map[string]int)
	for _, key := range sortedKeys(drafts) {
		pep := drafts[key].match
		if len(pep.Accessions) == 0 {
			continue
		}
		gk := identification.GroupKey(pep.Accessions)
		g, ok := groups[gk]
		if !ok {
			g = identification.NewProteinGroupMatch(pep.Accessions)
			groups[gk] = g
		}
		g.AddPeptide(pep.Key)
		if !pep.Decoy {
			targets[gk]++
		}
	}
	for gk, g := range groups {
		g.Decoy = a.groupDecoy(g, targets[gk])
	}

	existing, err := a.repo.Proteins.Keys(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to list protein groups: %w", err)
	}
	removed := 0
	for _, key := range existing {
		if _, ok := groups[key]; ok {
			continue
		}
		if err := a.repo.Proteins.Delete(ctx, key); err != nil {
			return 0, removed, fmt.Errorf("failed to delete protein group %s: %w", key, err)
		}
		removed++
	}

	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, key := range keys {
		g := groups[key]
		old, err := a.repo.Proteins.Get(ctx, key)
		switch {
		case err == nil:
			if slices.Equal(old.PeptideKeys, g.PeptideKeys) && old.Decoy == g.Decoy {
				continue
			}
			g.Annotations = old.Annotations
		case !errors.Is(err, repository.ErrNotFound):
			return 0, removed, fmt.Errorf("failed to load protein group %s: %w", key, err)
		}
		if err := a.repo.PutProteinMatch(ctx, g); err != nil {
			return 0, removed, fmt.Errorf("failed to store protein group %s: %w", key, err)
		}
	}

	// link peptides to their assembled group
	for _, key := range sortedKeys(drafts) {
		pep, err := a.repo.Peptides.Get(ctx, key)
		if err != nil {
			return 0, removed, fmt.Errorf("failed to load peptide match %s: %w", key, err)
		}
		var want []string
		if len(pep.Accessions) > 0 {
			want = []string{identification.GroupKey(pep.Accessions)}
		}
		if slices.Equal(pep.Annotations.ProteinGroupKeys, want) {
			continue
		}
		pep.Annotations.ProteinGroupKeys = want
		if err := a.repo.PutPeptideMatch(ctx, pep); err != nil {
			return 0, removed, fmt.Errorf("failed to store peptide match %s: %w", key, err)
		}
	}
	return len(groups), removed, nil
}

func (a *Assembler) groupDecoy(g *identification.ProteinGroupMatch, targetPeptides int) bool {
	if a.isDecoy == nil {
		return targetPeptides == 0
	}
	for _, acc := range g.Accessions {
		if !a.isDecoy(acc) {
			return false
		}
	}
	return true
}

func (a *Assembler) clear(ctx context.Context, keys func(context.Context) ([]string, error), del func(context.Context, string) error) (int, error) {
	existing, err := keys(ctx)
	if err != nil {
		return 0, err
	}
	for _, key := range existing {
		if err := del(ctx, key); err != nil {
			return 0, err
		}
	}
	return len(existing), nil
}

func samePeptide(old, draft *identification.PeptideMatch) bool {
	return slices.Equal(old.SpectrumKeys, draft.SpectrumKeys) &&
		slices.Equal(old.Accessions, draft.Accessions) &&
		old.Decoy == draft.Decoy
}

func sortedKeys(drafts map[string]*peptideDraft) []string {
	keys := make([]string, 0, len(drafts))
	for k := range drafts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
