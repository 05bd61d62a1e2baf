// Package inference simplifies protein groups and assigns their protein
// inference status.
package inference

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sort"

	"github.com/ChrisMcGann/psvalidate/pkg/identification"
	"github.com/ChrisMcGann/psvalidate/pkg/progress"
	"github.com/ChrisMcGann/psvalidate/pkg/repository"
)

// Result summarises one inference pass.
type Result struct {
	Groups    int
	Removed   int
	Unique    int
	Related   int
	Ambiguous int
}

// Inferrer removes redundant protein groups and classifies the survivors.
type Inferrer struct {
	repo    *repository.Repository
	isDecoy func(accession string) bool
	logger  *slog.Logger
}

// New creates an inferrer. isDecoy ranks target accessions first when the
// main accession is chosen; nil treats every accession as a target.
func New(repo *repository.Repository, isDecoy func(string) bool, logger *slog.Logger) *Inferrer {
	if logger == nil {
		logger = slog.Default()
	}
	if isDecoy == nil {
		isDecoy = func(string) bool { return false }
	}
	return &Inferrer{repo: repo, isDecoy: isDecoy, logger: logger}
}

// Graph is the peptide to protein group membership.
type Graph struct {
	peptides map[string][]string // peptide key -> accessions
	groups   map[string][]string // group key -> accessions
	byAcc    map[string][]string // accession -> peptide keys
	support  map[string][]string // group key -> supporting peptide keys, sorted

	groupsByAcc map[string][]string // accession -> group keys
}

// NewGraph builds the membership of groups over peptides. A peptide supports
// a group when every accession of the group carries the peptide.
func NewGraph(peptides, groups map[string][]string) *Graph {
	g := &Graph{
		peptides: peptides,
		groups:   groups,
		byAcc:    make(map[string][]string),
		support:  make(map[string][]string, len(groups)),

		groupsByAcc: make(map[string][]string),
	}
	for key, accs := range peptides {
		for _, acc := range accs {
			g.byAcc[acc] = append(g.byAcc[acc], key)
		}
	}
	for key, accs := range groups {
		g.support[key] = g.supportOf(accs)
		for _, acc := range accs {
			g.groupsByAcc[acc] = append(g.groupsByAcc[acc], key)
		}
	}
	return g
}

func (g *Graph) supportOf(accs []string) []string {
	if len(accs) == 0 {
		return nil
	}
	var out []string
	for _, pep := range g.byAcc[accs[0]] {
		if containsAll(g.peptides[pep], accs) {
			out = append(out, pep)
		}
	}
	sort.Strings(out)
	return slices.Compact(out)
}

// Support returns the supporting peptides of a group.
func (g *Graph) Support(group string) []string {
	return g.support[group]
}

// Redundant returns the groups to remove: groups without support, groups
// whose support is a strict subset of another group's support, and groups
// that lose the tie among identical supports.
func (g *Graph) Redundant() []string {
	var out []string
	for key, sup := range g.support {
		if len(sup) == 0 || g.dominated(key, sup) {
			out = append(out, key)
		}
	}
	sort.Strings(out)
	return out
}

func (g *Graph) dominated(key string, sup []string) bool {
	// any dominating group is supported by every peptide of key
	for _, other := range g.groupsSupportedBy(sup[0]) {
		if other == key {
			continue
		}
		osup := g.support[other]
		if !subset(sup, osup) {
			continue
		}
		if len(osup) > len(sup) {
			return true
		}
		if g.preferred(other, key) {
			return true
		}
	}
	return false
}

// preferred orders groups of identical support: fewer accessions, then key.
func (g *Graph) preferred(a, b string) bool {
	if la, lb := len(g.groups[a]), len(g.groups[b]); la != lb {
		return la < lb
	}
	return a < b
}

// groupsSupportedBy returns every group the peptide supports, sorted.
func (g *Graph) groupsSupportedBy(peptide string) []string {
	accs := g.peptides[peptide]
	var out []string
	for _, acc := range accs {
		for _, key := range g.groupsByAcc[acc] {
			gaccs, ok := g.groups[key]
			if ok && containsAll(accs, gaccs) {
				out = append(out, key)
			}
		}
	}
	sort.Strings(out)
	return slices.Compact(out)
}

// Remove drops groups from the graph.
func (g *Graph) Remove(keys ...string) {
	for _, k := range keys {
		delete(g.groups, k)
		delete(g.support, k)
	}
}

// Status returns the protein inference status of a group.
func (g *Graph) Status(group string) identification.PIStatus {
	sup := g.support[group]
	if len(sup) == 0 {
		return identification.PIUnassigned
	}
	shared := 0
	for _, pep := range sup {
		if len(g.groupsSupportedBy(pep)) > 1 {
			shared++
		}
	}
	switch {
	case shared == 0:
		return identification.PIUnique
	case shared < len(sup):
		return identification.PIRelated
	default:
		return identification.PIAmbiguous
	}
}

// MainAccession picks the accession carried by most peptides, then targets
// before decoys, then the lexicographically smallest.
func (g *Graph) MainAccession(group string, isDecoy func(string) bool) string {
	accs := append([]string(nil), g.groups[group]...)
	sort.Slice(accs, func(i, j int) bool {
		ni, nj := len(g.byAcc[accs[i]]), len(g.byAcc[accs[j]])
		if ni != nj {
			return ni > nj
		}
		di, dj := isDecoy(accs[i]), isDecoy(accs[j])
		if di != dj {
			return !di
		}
		return accs[i] < accs[j]
	})
	if len(accs) == 0 {
		return ""
	}
	return accs[0]
}

// Run loads every peptide and group, removes redundant groups, reattributes
// peptides to the surviving groups and stores the result.
func (in *Inferrer) Run(ctx context.Context, wh progress.WaitingHandler) (Result, error) {
	var res Result
	if wh == nil {
		wh = progress.Nop{}
	}

	peptides := make(map[string]*identification.PeptideMatch)
	pepAccs := make(map[string][]string)
	err := in.repo.Peptides.Iterate(ctx, nil, func(key string, p *identification.PeptideMatch) error {
		peptides[key] = p
		pepAccs[key] = p.Accessions
		return nil
	})
	if err != nil {
		return res, fmt.Errorf("failed to load peptide matches: %w", err)
	}

	groups := make(map[string]*identification.ProteinGroupMatch)
	groupAccs := make(map[string][]string)
	err = in.repo.Proteins.Iterate(ctx, nil, func(key string, m *identification.ProteinGroupMatch) error {
		groups[key] = m
		groupAccs[key] = m.Accessions
		return nil
	})
	if err != nil {
		return res, fmt.Errorf("failed to load protein groups: %w", err)
	}

	graph := NewGraph(pepAccs, groupAccs)
	redundant := graph.Redundant()
	graph.Remove(redundant...)
	for _, key := range redundant {
		if wh.IsCancelled() {
			return res, context.Canceled
		}
		if err := in.repo.Proteins.Delete(ctx, key); err != nil {
			return res, fmt.Errorf("failed to delete protein group %s: %w", key, err)
		}
		delete(groups, key)
	}
	res.Removed = len(redundant)

	wh.SetMaxProgress(len(groups) + len(peptides))
	for _, key := range sortedKeys(groups) {
		if wh.IsCancelled() {
			return res, context.Canceled
		}
		m := groups[key]
		m.PeptideKeys = append([]string(nil), graph.Support(key)...)
		m.Annotations.PIStatus = graph.Status(key)
		m.Annotations.MainAccession = graph.MainAccession(key, in.isDecoy)
		switch m.Annotations.PIStatus {
		case identification.PIUnique:
			res.Unique++
		case identification.PIRelated:
			res.Related++
		case identification.PIAmbiguous:
			res.Ambiguous++
		}
		if err := in.repo.PutProteinMatch(ctx, m); err != nil {
			return res, fmt.Errorf("failed to store protein group %s: %w", key, err)
		}
		wh.IncreaseProgress()
	}
	res.Groups = len(groups)

	for _, key := range sortedKeys(peptides) {
		if wh.IsCancelled() {
			return res, context.Canceled
		}
		p := peptides[key]
		keys := graph.groupsSupportedBy(key)
		if len(keys) == 0 {
			keys = nil
		}
		if slices.Equal(p.Annotations.ProteinGroupKeys, keys) && p.Annotations.SharedGroups == len(keys) {
			wh.IncreaseProgress()
			continue
		}
		p.Annotations.ProteinGroupKeys = keys
		p.Annotations.SharedGroups = len(keys)
		if err := in.repo.PutPeptideMatch(ctx, p); err != nil {
			return res, fmt.Errorf("failed to store peptide match %s: %w", key, err)
		}
		wh.IncreaseProgress()
	}

	in.logger.Debug("protein inference done",
		"groups", res.Groups,
		"removed", res.Removed,
		"unique", res.Unique,
		"related", res.Related,
		"ambiguous", res.Ambiguous)
	return res, nil
}

func containsAll(set, items []string) bool {
	for _, it := range items {
		if !slices.Contains(set, it) {
			return false
		}
	}
	return true
}

// subset reports whether sorted a is contained in sorted b.
func subset(a, b []string) bool {
	if len(a) > len(b) {
		return false
	}
	j := 0
	for _, x := range a {
		for j < len(b) && b[j] < x {
			j++
		}
		if j == len(b) || b[j] != x {
			return false
		}
		j++
	}
	return true
}

func sortedKeys[T any](m map[string]T) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
