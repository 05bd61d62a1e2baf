package validation

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/ChrisMcGann/psvalidate/pkg/identification"
	"github.com/ChrisMcGann/psvalidate/pkg/progress"
	"github.com/ChrisMcGann/psvalidate/pkg/targetdecoy"
)

// Granularity counts validation outcomes for one kind of match.
type Granularity struct {
	NotValidated int `json:"not_validated"`
	Doubtful     int `json:"doubtful"`
	Confident    int `json:"confident"`

	// ConfidentDecoys are decoy matches that reached Confident.
	ConfidentDecoys int                   `json:"confident_decoys"`
	HasThreshold    bool                  `json:"has_threshold"`
	Threshold       targetdecoy.Threshold `json:"threshold"`
	EstimatedFDR    float64               `json:"estimated_fdr"`
}

// Count returns the number of matches at a level.
func (g Granularity) Count(level identification.ValidationLevel) int {
	switch level {
	case identification.Confident:
		return g.Confident
	case identification.Doubtful:
		return g.Doubtful
	default:
		return g.NotValidated
	}
}

// Total returns the number of matches counted.
func (g Granularity) Total() int {
	return g.NotValidated + g.Doubtful + g.Confident
}

func (g *Granularity) add(level identification.ValidationLevel, decoy bool) {
	switch level {
	case identification.Confident:
		g.Confident++
		if decoy {
			g.ConfidentDecoys++
		}
	case identification.Doubtful:
		g.Doubtful++
	default:
		g.NotValidated++
	}
}

// finish derives the estimated FDR among confident matches.
func (g *Granularity) finish(decoyRatio float64) {
	if decoyRatio <= 0 {
		decoyRatio = 1
	}
	targets := g.Confident - g.ConfidentDecoys
	switch {
	case targets > 0:
		g.EstimatedFDR = math.Min(1, float64(g.ConfidentDecoys)*decoyRatio/float64(targets))
	case g.ConfidentDecoys > 0:
		g.EstimatedFDR = 1
	default:
		g.EstimatedFDR = 0
	}
}

// Summary is the outcome of a validation pass.
type Summary struct {
	PSM     Granularity `json:"psm"`
	Peptide Granularity `json:"peptide"`
	Protein Granularity `json:"protein"`
}

// Level classifies a match. Failing a quality filter always yields
// NotValidated; without a threshold the best reachable level is Doubtful.
func Level(probability float64, t targetdecoy.Threshold, hasThreshold, passesFilters bool) identification.ValidationLevel {
	if !passesFilters {
		return identification.NotValidated
	}
	if hasThreshold && probability <= t.PEP {
		return identification.Confident
	}
	return identification.Doubtful
}

func threshold(m *targetdecoy.Map, fdr float64) (targetdecoy.Threshold, bool) {
	if m == nil {
		return targetdecoy.Threshold{}, false
	}
	return m.Threshold(fdr)
}

// PassesPSMFilters applies the precursor error and peptide length filters to
// the best assumption of a spectrum match.
func (v *Validator) PassesPSMFilters(m *identification.SpectrumMatch) bool {
	if !m.HasBest() {
		return false
	}
	if m.BestPeptide == nil {
		return true
	}
	if v.cfg.MaxPrecursorPPM > 0 && math.Abs(m.BestPeptide.PrecursorErrorPPM) > v.cfg.MaxPrecursorPPM {
		return false
	}
	return v.passesLength(m.BestPeptide.Peptide.Sequence)
}

// PassesPeptideFilters applies the peptide length range.
func (v *Validator) PassesPeptideFilters(p *identification.PeptideMatch) bool {
	return v.passesLength(p.Peptide.Sequence)
}

// PassesProteinFilters requires a minimum number of distinct peptides.
func (v *Validator) PassesProteinFilters(g *identification.ProteinGroupMatch) bool {
	return len(g.PeptideKeys) >= v.cfg.MinPeptidesPerProtein
}

func (v *Validator) passesLength(sequence string) bool {
	n := len(sequence)
	if v.cfg.MinPeptideLength > 0 && n < v.cfg.MinPeptideLength {
		return false
	}
	if v.cfg.MaxPeptideLength > 0 && n > v.cfg.MaxPeptideLength {
		return false
	}
	return true
}

// Validate assigns validation levels to every PSM, then every peptide, then
// every protein group, using the thresholds of maps at the configured FDRs.
func (v *Validator) Validate(ctx context.Context, maps Maps, wh progress.WaitingHandler) (Summary, error) {
	var sum Summary
	var err error
	if sum.PSM, err = v.validatePSMs(ctx, maps.PSM); err != nil {
		return sum, err
	}
	if sum.Peptide, err = v.validatePeptides(ctx, maps.Peptide); err != nil {
		return sum, err
	}
	if sum.Protein, err = v.validateProteins(ctx, maps.Protein); err != nil {
		return sum, err
	}
	if wh != nil {
		wh.AppendReport(fmt.Sprintf("Validated %d confident PSMs, %d confident peptides and %d confident proteins.",
			sum.PSM.Confident, sum.Peptide.Confident, sum.Protein.Confident))
	}
	v.logger.Info("validation done",
		"psm_confident", sum.PSM.Confident,
		"peptide_confident", sum.Peptide.Confident,
		"protein_confident", sum.Protein.Confident,
		"psm_fdr", sum.PSM.EstimatedFDR)
	return sum, nil
}

func (v *Validator) validatePSMs(ctx context.Context, m *targetdecoy.Map) (Granularity, error) {
	var g Granularity
	g.Threshold, g.HasThreshold = threshold(m, v.cfg.PSMFDR)

	keys, err := v.repo.Spectra.Keys(ctx)
	if err != nil {
		return g, fmt.Errorf("failed to list spectrum matches: %w", err)
	}
	var mu sync.Mutex
	err = v.pool.Run(ctx, keys, func(ctx context.Context, key string) error {
		psm, err := v.repo.Spectra.Get(ctx, key)
		if err != nil {
			return err
		}
		level := Level(psm.Annotations.Probability, g.Threshold, g.HasThreshold, v.PassesPSMFilters(psm))
		mu.Lock()
		g.add(level, psm.Decoy())
		mu.Unlock()
		if psm.Annotations.Level == level {
			return nil
		}
		psm.Annotations.Level = level
		return v.repo.PutSpectrumMatch(ctx, psm)
	})
	if err != nil {
		return g, fmt.Errorf("failed to validate spectrum matches: %w", err)
	}
	g.finish(v.cfg.DecoyRatio)
	return g, nil
}

func (v *Validator) validatePeptides(ctx context.Context, m *targetdecoy.Map) (Granularity, error) {
	var g Granularity
	g.Threshold, g.HasThreshold = threshold(m, v.cfg.PeptideFDR)

	keys, err := v.repo.Peptides.Keys(ctx)
	if err != nil {
		return g, fmt.Errorf("failed to list peptide matches: %w", err)
	}
	var mu sync.Mutex
	err = v.pool.Run(ctx, keys, func(ctx context.Context, key string) error {
		pep, err := v.repo.Peptides.Get(ctx, key)
		if err != nil {
			return err
		}
		psms, err := v.repo.Spectra.BatchLoad(ctx, pep.SpectrumKeys, nil)
		if err != nil {
			return err
		}
		pep.Annotations.ConfidentPSMs, pep.Annotations.DoubtfulPSMs = 0, 0
		for _, psm := range psms {
			switch psm.Annotations.Level {
			case identification.Confident:
				pep.Annotations.ConfidentPSMs++
			case identification.Doubtful:
				pep.Annotations.DoubtfulPSMs++
			}
		}
		pep.Annotations.Level = Level(pep.Annotations.Probability, g.Threshold, g.HasThreshold, v.PassesPeptideFilters(pep))
		mu.Lock()
		g.add(pep.Annotations.Level, pep.Decoy)
		mu.Unlock()
		return v.repo.PutPeptideMatch(ctx, pep)
	})
	if err != nil {
		return g, fmt.Errorf("failed to validate peptide matches: %w", err)
	}
	g.finish(v.cfg.DecoyRatio)
	return g, nil
}

func (v *Validator) validateProteins(ctx context.Context, m *targetdecoy.Map) (Granularity, error) {
	var g Granularity
	g.Threshold, g.HasThreshold = threshold(m, v.cfg.ProteinFDR)

	keys, err := v.repo.Proteins.Keys(ctx)
	if err != nil {
		return g, fmt.Errorf("failed to list protein groups: %w", err)
	}
	var mu sync.Mutex
	err = v.pool.Run(ctx, keys, func(ctx context.Context, key string) error {
		group, err := v.repo.Proteins.Get(ctx, key)
		if err != nil {
			return err
		}
		peptides, err := v.repo.Peptides.BatchLoad(ctx, group.PeptideKeys, nil)
		if err != nil {
			return err
		}
		group.Annotations.ValidatedPeptides = 0
		for _, pep := range peptides {
			if pep.Annotations.Level.IsValidated() {
				group.Annotations.ValidatedPeptides++
			}
		}
		group.Annotations.Level = Level(group.Annotations.Probability, g.Threshold, g.HasThreshold, v.PassesProteinFilters(group))
		mu.Lock()
		g.add(group.Annotations.Level, group.Decoy)
		mu.Unlock()
		return v.repo.PutProteinMatch(ctx, group)
	})
	if err != nil {
		return g, fmt.Errorf("failed to validate protein groups: %w", err)
	}
	g.finish(v.cfg.DecoyRatio)
	return g, nil
}
