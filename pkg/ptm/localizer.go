package ptm

import (
	"context"
	"fmt"
	"sort"

	"github.com/ChrisMcGann/psvalidate/pkg/core"
	"github.com/ChrisMcGann/psvalidate/pkg/filter"
	"github.com/ChrisMcGann/psvalidate/pkg/identification"
	"github.com/ChrisMcGann/psvalidate/pkg/protein"
)

// Config holds localization settings
type Config struct {
	SiteThreshold   float64       // site score needed for a confident site
	MaxCombinations int           // placements scored per match (0 = unlimited)
	Refinement      bool          // re-check protein mapping when a placement moves
	Filter          filter.Config // applied to peaks before scoring
}

// Localizer places the variable modifications of best peptides.
type Localizer struct {
	mods   *core.ModDatabase
	scorer SiteScorer
	mapper *protein.Mapper
	cfg    Config
}

// NewLocalizer creates a localizer. mapper may be nil when refinement is off.
func NewLocalizer(mods *core.ModDatabase, scorer SiteScorer, mapper *protein.Mapper, cfg Config) *Localizer {
	if mods == nil {
		mods = core.DefaultModDatabase()
	}
	return &Localizer{mods: mods, scorer: scorer, mapper: mapper, cfg: cfg}
}

// modGroup is one variable modification and the residues it may occupy
type modGroup struct {
	name       string
	mass       float64
	count      int
	candidates []int
}

type placement struct {
	positions [][]int // per group, sorted
	sites     []identification.ModificationSite
	total     float64
}

func (p *placement) flat() []int {
	var out []int
	for _, g := range p.positions {
		out = append(out, g...)
	}
	return out
}

// Localize scores every placement of the variable modifications of the best
// peptide of m and keeps the best one. It reports whether the placement
// moved. spec may be nil, in which case the current placement is kept and
// only unambiguous sites score.
func (l *Localizer) Localize(ctx context.Context, m *identification.SpectrumMatch, spec *core.Spectrum) (bool, error) {
	m.Annotations.Sites = nil
	m.Annotations.MappingConflict = false
	if m.BestPeptide == nil {
		return false, nil
	}

	peptide := m.BestPeptide.Peptide
	groups, rest := l.groups(peptide)
	if len(groups) == 0 {
		return false, nil
	}

	if spec != nil {
		filtered, err := l.cfg.Filter.Apply(spec)
		if err != nil {
			return false, fmt.Errorf("failed to filter spectrum %s: %w", spec.Title, err)
		}
		spec = filtered
	}

	current := currentPlacement(peptide, groups)
	l.score(current, groups, rest, peptide.Sequence, spec)
	best := current

	if spec != nil {
		for _, cand := range l.enumerate(groups, current) {
			if err := ctx.Err(); err != nil {
				return false, err
			}
			l.score(cand, groups, rest, peptide.Sequence, spec)
			if better(cand, best) {
				best = cand
			}
		}
	}

	m.Annotations.Sites = best.sites
	if best == current {
		return false, nil
	}

	m.BestPeptide.Peptide = build(peptide.Sequence, groups, rest, best)
	if l.cfg.Refinement && l.mapper != nil && len(m.BestPeptide.Accessions) > 0 {
		valid, conflicts, err := l.mapper.Check(ctx, m.BestPeptide.Peptide, m.BestPeptide.Accessions)
		if err != nil {
			return true, fmt.Errorf("failed to refine protein mapping of %s: %w", m.Key, err)
		}
		if len(conflicts) > 0 {
			m.Annotations.MappingConflict = true
			if len(valid) > 0 {
				m.BestPeptide.Accessions = valid
			}
		}
	}
	return true, nil
}

// groups splits the modifications of p into localizable groups, ordered by
// name, and modifications that stay where they are.
func (l *Localizer) groups(p core.Peptide) ([]modGroup, []core.Modification) {
	byName := make(map[string]*modGroup)
	var rest []core.Modification
	for _, mod := range p.Modifications {
		def, ok := l.mods.Get(mod.Name)
		if !mod.Variable || !ok || def.Terminus != core.AnyPosition || def.Residues == "" ||
			mod.Position < 0 || mod.Position >= len(p.Sequence) {
			rest = append(rest, mod)
			continue
		}
		g, ok := byName[mod.Name]
		if !ok {
			g = &modGroup{name: mod.Name, mass: mod.Mass}
			for i, aa := range p.Sequence {
				if def.Targets(aa) {
					g.candidates = append(g.candidates, i)
				}
			}
			byName[mod.Name] = g
		}
		g.count++
	}

	out := make([]modGroup, 0, len(byName))
	for _, g := range byName {
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out, rest
}

func currentPlacement(p core.Peptide, groups []modGroup) *placement {
	pl := &placement{positions: make([][]int, len(groups))}
	for i, g := range groups {
		for _, mod := range p.Modifications {
			if mod.Name == g.name && mod.Variable && mod.Position >= 0 && mod.Position < len(p.Sequence) {
				pl.positions[i] = append(pl.positions[i], mod.Position)
			}
		}
		sort.Ints(pl.positions[i])
	}
	return pl
}

// enumerate lists placements other than current, a residue carrying at most
// one localizable modification, stopping at the combination cap.
func (l *Localizer) enumerate(groups []modGroup, current *placement) []*placement {
	limit := l.cfg.MaxCombinations
	skip := fmt.Sprint(current.flat())
	var out []*placement

	used := make(map[int]bool)
	chosen := make([][]int, len(groups))
	var walk func(gi int) bool
	walk = func(gi int) bool {
		if gi == len(groups) {
			pl := &placement{positions: make([][]int, len(groups))}
			for i := range chosen {
				pl.positions[i] = append([]int(nil), chosen[i]...)
			}
			if fmt.Sprint(pl.flat()) == skip {
				return true
			}
			// current counts towards the cap
			if limit > 0 && len(out)+1 >= limit {
				return false
			}
			out = append(out, pl)
			return true
		}
		return combinations(groups[gi].candidates, groups[gi].count, used, func(combo []int) bool {
			chosen[gi] = combo
			for _, p := range combo {
				used[p] = true
			}
			ok := walk(gi + 1)
			for _, p := range combo {
				used[p] = false
			}
			return ok
		})
	}
	walk(0)
	return out
}

// combinations calls fn for each k-subset of the unused candidates in
// lexicographic order until fn returns false.
func combinations(candidates []int, k int, used map[int]bool, fn func([]int) bool) bool {
	var free []int
	for _, c := range candidates {
		if !used[c] {
			free = append(free, c)
		}
	}
	if k > len(free) {
		return true
	}
	combo := make([]int, 0, k)
	var rec func(start int) bool
	rec = func(start int) bool {
		if len(combo) == k {
			return fn(append([]int(nil), combo...))
		}
		for i := start; i <= len(free)-(k-len(combo)); i++ {
			combo = append(combo, free[i])
			if !rec(i + 1) {
				return false
			}
			combo = combo[:len(combo)-1]
		}
		return true
	}
	return rec(0)
}

// score fills in the per-site scores of pl. Each site is scored against its
// weakest alternative, the lowest score over every free candidate residue.
func (l *Localizer) score(pl *placement, groups []modGroup, rest []core.Modification, sequence string, spec *core.Spectrum) {
	placed := build(sequence, groups, rest, pl)

	occupied := make(map[int]bool)
	for _, positions := range pl.positions {
		for _, p := range positions {
			occupied[p] = true
		}
	}

	pl.sites = pl.sites[:0]
	pl.total = 0
	for gi, g := range groups {
		for _, site := range pl.positions[gi] {
			s := MaxSiteScore
			alternatives := 0
			for _, c := range g.candidates {
				if occupied[c] {
					continue
				}
				alternatives++
				if spec == nil {
					s = 0
					break
				}
				s = min(s, l.scorer.SiteScore(spec, placed, site, c))
			}
			if alternatives == 0 {
				s = MaxSiteScore
			}
			pl.sites = append(pl.sites, identification.ModificationSite{
				Name:      g.name,
				Position:  site,
				Score:     s,
				Confident: s >= l.cfg.SiteThreshold,
			})
			pl.total += s
		}
	}
	sort.Slice(pl.sites, func(i, j int) bool {
		if pl.sites[i].Position != pl.sites[j].Position {
			return pl.sites[i].Position < pl.sites[j].Position
		}
		return pl.sites[i].Name < pl.sites[j].Name
	})
}

// better orders placements by total site score, then by the
// lexicographically smaller position set.
func better(a, b *placement) bool {
	if a.total != b.total {
		return a.total > b.total
	}
	fa, fb := a.flat(), b.flat()
	for i := range fa {
		if i >= len(fb) {
			return false
		}
		if fa[i] != fb[i] {
			return fa[i] < fb[i]
		}
	}
	return len(fa) < len(fb)
}

func build(sequence string, groups []modGroup, rest []core.Modification, pl *placement) core.Peptide {
	p := core.Peptide{Sequence: sequence}
	p.Modifications = append(p.Modifications, rest...)
	for gi, g := range groups {
		for _, pos := range pl.positions[gi] {
			p.Modifications = append(p.Modifications, core.Modification{
				Mass:     g.mass,
				Position: pos,
				Name:     g.name,
				Variable: true,
			})
		}
	}
	p.SortModifications()
	return p
}
