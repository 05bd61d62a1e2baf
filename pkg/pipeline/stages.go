package pipeline

import (
	"context"
	"fmt"
	"slices"
	"sync/atomic"

	"github.com/ChrisMcGann/psvalidate/pkg/assembly"
	"github.com/ChrisMcGann/psvalidate/pkg/identification"
	"github.com/ChrisMcGann/psvalidate/pkg/inference"
	"github.com/ChrisMcGann/psvalidate/pkg/ptm"
	"github.com/ChrisMcGann/psvalidate/pkg/scoring"
	"github.com/ChrisMcGann/psvalidate/pkg/targetdecoy"
)

// inputMapStage fills the per-algorithm maps from first-ranked hits.
type inputMapStage struct{}

func (inputMapStage) Name() string { return "input-map" }

func (inputMapStage) Run(ctx context.Context, env *Env) (StageResult, error) {
	env.Waiting.AppendReport("Computing assumptions probabilities.")
	keys, err := env.Repo.Spectra.Keys(ctx)
	if err != nil {
		return StageResult{}, fmt.Errorf("failed to list spectrum matches: %w", err)
	}

	orders, fallback := env.Params.Orders()
	im := targetdecoy.NewInputMap(orders, fallback, env.Params.DecoyRatio, env.Logger)
	env.Waiting.SetMaxProgress(len(keys))
	err = env.Pool.Run(ctx, keys, func(ctx context.Context, key string) error {
		m, err := env.Repo.Spectra.Get(ctx, key)
		if err != nil {
			return err
		}
		scoring.AddInputPoints(im, m)
		return nil
	})
	if err != nil {
		return StageResult{}, err
	}

	if env.Params.TargetDecoy {
		if err := im.EstimateProbabilities(ctx, env.Waiting); err != nil {
			return StageResult{}, err
		}
	}
	env.InputMap = im
	if err := env.Repo.PutMeta(ctx, MetaInputMap, im.Snapshot()); err != nil {
		return StageResult{}, fmt.Errorf("failed to store input map: %w", err)
	}
	return StageResult{Processed: len(keys)}, nil
}

// bestMatchStage attaches assumption probabilities, selects the best hit and
// localizes its modifications.
type bestMatchStage struct{}

func (bestMatchStage) Name() string { return "best-match" }

func (bestMatchStage) Run(ctx context.Context, env *Env) (StageResult, error) {
	env.Waiting.AppendReport("Selecting best peptide per spectrum.")
	keys, err := env.Repo.Spectra.Keys(ctx)
	if err != nil {
		return StageResult{}, fmt.Errorf("failed to list spectrum matches: %w", err)
	}

	selector := scoring.NewSelector(env.InputMap, env.Params.TargetDecoy)
	var localizer *ptm.Localizer
	if loc := env.Params.Localization; loc.Enabled {
		env.Waiting.AppendReport("Scoring PTMs in PSMs.")
		scorer := ptm.BinomialSiteScorer{Tolerance: loc.Tolerance, Depth: loc.Depth, WindowSize: loc.WindowSize}
		localizer = ptm.NewLocalizer(env.Mods, scorer, env.Mapper, ptm.Config{
			SiteThreshold:   loc.SiteThreshold,
			MaxCombinations: loc.MaxCombinations,
			Refinement:      loc.Refinement,
			Filter:          env.Params.FilterConfig(),
		})
	}

	var conflicts atomic.Int64
	env.Waiting.SetMaxProgress(len(keys))
	err = env.Pool.Run(ctx, keys, func(ctx context.Context, key string) error {
		m, err := env.Repo.Spectra.Get(ctx, key)
		if err != nil {
			return err
		}
		selErr := selector.Select(m)
		if selErr == nil && localizer != nil {
			spec, err := env.Spectrum(ctx, key)
			if err != nil {
				return err
			}
			if _, err := localizer.Localize(ctx, m, spec); err != nil {
				return err
			}
			if m.Annotations.MappingConflict {
				conflicts.Add(1)
				env.Logger.Warn("protein mapping conflict after localization",
					"spectrum", key, "peptide", m.BestPeptide.Peptide.Key(), "accessions", m.BestPeptide.Accessions)
			}
		}
		if err := env.Repo.PutSpectrumMatch(ctx, m); err != nil {
			return err
		}
		return selErr
	})
	if err != nil {
		return StageResult{}, err
	}
	n := int(conflicts.Load())
	if n > 0 {
		env.Waiting.AppendReport(fmt.Sprintf("%d PSMs with protein mapping conflicts.", n))
	}
	return StageResult{Processed: len(keys), Conflicts: n}, nil
}

// psmMapStage scores PSMs on their best PEP.
type psmMapStage struct{}

func (psmMapStage) Name() string { return "psm-map" }

func (psmMapStage) Run(ctx context.Context, env *Env) (StageResult, error) {
	env.Waiting.AppendReport("Computing PSM probabilities.")
	m, err := env.Validator.ScorePSMs(ctx, env.Waiting)
	if err != nil {
		return StageResult{}, err
	}
	env.Maps.PSM = m
	s := m.Summary()
	return StageResult{Processed: s.Targets + s.Decoys}, nil
}

// assemblyStage links PSMs to peptides and peptides to protein groups.
type assemblyStage struct{}

func (assemblyStage) Name() string { return "assembly" }

func (assemblyStage) Run(ctx context.Context, env *Env) (StageResult, error) {
	if !env.Project().WantsPeptides() {
		return StageResult{Skipped: true}, nil
	}
	env.Waiting.AppendReport("Building peptides and proteins.")
	res, err := assembly.New(env.Repo, env.Project(), env.IsDecoy, env.Logger).Run(ctx, env.Waiting)
	if err != nil {
		return StageResult{}, err
	}
	return StageResult{Processed: res.Peptides + res.ProteinGroups}, nil
}

// inferenceStage removes redundant protein groups.
type inferenceStage struct{}

func (inferenceStage) Name() string { return "inference" }

func (inferenceStage) Run(ctx context.Context, env *Env) (StageResult, error) {
	if !env.Project().WantsProteins() {
		return StageResult{Skipped: true}, nil
	}
	env.Waiting.AppendReport("Simplifying protein groups.")
	res, err := inference.New(env.Repo, env.IsDecoy, env.Logger).Run(ctx, env.Waiting)
	if err != nil {
		return StageResult{}, err
	}
	env.Waiting.AppendReport(fmt.Sprintf("%d protein groups removed.", res.Removed))
	return StageResult{Processed: res.Groups}, nil
}

// peptideMapStage scores peptides on their PSM probabilities.
type peptideMapStage struct{}

func (peptideMapStage) Name() string { return "peptide-map" }

func (peptideMapStage) Run(ctx context.Context, env *Env) (StageResult, error) {
	if !env.Project().WantsPeptides() {
		env.Maps.Peptide = nil
		return StageResult{Skipped: true}, nil
	}
	env.Waiting.AppendReport("Generating peptide map.")
	m, err := env.Validator.ScorePeptides(ctx, env.Waiting)
	if err != nil {
		return StageResult{}, err
	}
	env.Maps.Peptide = m
	s := m.Summary()
	return StageResult{Processed: s.Targets + s.Decoys}, nil
}

// proteinMapStage scores protein groups on their peptide probabilities.
type proteinMapStage struct{}

func (proteinMapStage) Name() string { return "protein-map" }

func (proteinMapStage) Run(ctx context.Context, env *Env) (StageResult, error) {
	if !env.Project().WantsProteins() {
		env.Maps.Protein = nil
		return StageResult{Skipped: true}, nil
	}
	env.Waiting.AppendReport("Computing protein probabilities.")
	m, err := env.Validator.ScoreProteins(ctx, env.Waiting)
	if err != nil {
		return StageResult{}, err
	}
	env.Maps.Protein = m
	s := m.Summary()
	return StageResult{Processed: s.Targets + s.Decoys}, nil
}

// validationStage assigns validation levels and stores the maps.
type validationStage struct{}

func (validationStage) Name() string { return "validation" }

func (validationStage) Run(ctx context.Context, env *Env) (StageResult, error) {
	env.Waiting.AppendReport(fmt.Sprintf("Validating identifications at %g%% FDR.", env.Params.Validation.PSMFDR*100))
	sum, err := env.Validator.Validate(ctx, env.Maps, env.Waiting)
	if err != nil {
		return StageResult{}, err
	}
	env.Summary = sum
	if err := env.Repo.PutMeta(ctx, MetaMaps, env.Maps.Snapshot()); err != nil {
		return StageResult{}, fmt.Errorf("failed to store maps: %w", err)
	}
	if err := env.Repo.PutMeta(ctx, MetaSummary, sum); err != nil {
		return StageResult{}, fmt.Errorf("failed to store summary: %w", err)
	}
	return StageResult{Processed: sum.PSM.Total() + sum.Peptide.Total() + sum.Protein.Total()}, nil
}

// ptmSummaryStage aggregates PSM sites onto peptides and proteins.
type ptmSummaryStage struct{}

func (ptmSummaryStage) Name() string { return "ptm-summary" }

func (ptmSummaryStage) Run(ctx context.Context, env *Env) (StageResult, error) {
	if !env.Project().WantsPeptides() {
		return StageResult{Skipped: true}, nil
	}

	env.Waiting.AppendReport("Scoring PTMs in peptides.")
	keys, err := env.Repo.Peptides.Keys(ctx)
	if err != nil {
		return StageResult{}, fmt.Errorf("failed to list peptide matches: %w", err)
	}
	env.Waiting.SetMaxProgress(len(keys))
	err = env.Pool.Run(ctx, keys, func(ctx context.Context, key string) error {
		pep, err := env.Repo.Peptides.Get(ctx, key)
		if err != nil {
			return err
		}
		psms, err := env.Repo.Spectra.BatchLoad(ctx, pep.SpectrumKeys, nil)
		if err != nil {
			return err
		}
		sites := ptm.PeptideSites(psms)
		if slices.Equal(sites, pep.Annotations.Sites) {
			return nil
		}
		pep.Annotations.Sites = sites
		return env.Repo.PutPeptideMatch(ctx, pep)
	})
	if err != nil {
		return StageResult{}, err
	}
	processed := len(keys)

	if !env.Project().WantsProteins() || env.Mapper == nil {
		return StageResult{Processed: processed}, nil
	}

	env.Waiting.AppendReport("Scoring PTMs in proteins.")
	groups, err := env.Repo.Proteins.Keys(ctx)
	if err != nil {
		return StageResult{}, fmt.Errorf("failed to list protein groups: %w", err)
	}
	env.Waiting.SetMaxProgress(len(groups))
	err = env.Pool.Run(ctx, groups, func(ctx context.Context, key string) error {
		group, err := env.Repo.Proteins.Get(ctx, key)
		if err != nil {
			return err
		}
		peptides, err := env.Repo.Peptides.BatchLoad(ctx, group.PeptideKeys, nil)
		if err != nil {
			return err
		}
		sites, err := ptm.ProteinSites(ctx, env.Mapper, group, validatedPeptides(peptides))
		if err != nil {
			return err
		}
		if slices.Equal(sites, group.Annotations.Sites) {
			return nil
		}
		group.Annotations.Sites = sites
		return env.Repo.PutProteinMatch(ctx, group)
	})
	if err != nil {
		return StageResult{}, err
	}
	return StageResult{Processed: processed + len(groups)}, nil
}

// validatedPeptides keeps validated peptides, or all of them when none is.
func validatedPeptides(peptides []*identification.PeptideMatch) []*identification.PeptideMatch {
	var out []*identification.PeptideMatch
	for _, p := range peptides {
		if p.Annotations.Level.IsValidated() {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return peptides
	}
	return out
}
