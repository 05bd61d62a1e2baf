// Package validation estimates PSM, peptide and protein probabilities and
// assigns validation levels at a target FDR.
package validation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/ChrisMcGann/psvalidate/pkg/identification"
	"github.com/ChrisMcGann/psvalidate/pkg/progress"
	"github.com/ChrisMcGann/psvalidate/pkg/repository"
	"github.com/ChrisMcGann/psvalidate/pkg/targetdecoy"
	"github.com/ChrisMcGann/psvalidate/pkg/worker"
)

// Config holds FDR targets and quality filters. Zero filter values disable
// the filter.
type Config struct {
	PSMFDR                float64
	PeptideFDR            float64
	ProteinFDR            float64
	DecoyRatio            float64
	MaxPrecursorPPM       float64
	MinPeptideLength      int
	MaxPeptideLength      int
	MinPeptidesPerProtein int
}

// Maps are the target-decoy maps of the three granularities.
type Maps struct {
	PSM     *targetdecoy.Map
	Peptide *targetdecoy.Map
	Protein *targetdecoy.Map
}

// MapsSnapshot is the persisted form of Maps. Missing maps are nil.
type MapsSnapshot struct {
	PSM     *targetdecoy.Snapshot `json:"psm,omitempty"`
	Peptide *targetdecoy.Snapshot `json:"peptide,omitempty"`
	Protein *targetdecoy.Snapshot `json:"protein,omitempty"`
}

// Snapshot captures every present map.
func (m Maps) Snapshot() MapsSnapshot {
	var s MapsSnapshot
	snap := func(tm *targetdecoy.Map) *targetdecoy.Snapshot {
		if tm == nil {
			return nil
		}
		v := tm.Snapshot()
		return &v
	}
	s.PSM, s.Peptide, s.Protein = snap(m.PSM), snap(m.Peptide), snap(m.Protein)
	return s
}

// RestoreMaps rebuilds and estimates the maps of a snapshot.
func RestoreMaps(s MapsSnapshot) (Maps, error) {
	var out Maps
	restore := func(snap *targetdecoy.Snapshot) (*targetdecoy.Map, error) {
		if snap == nil {
			return nil, nil
		}
		m, err := targetdecoy.Restore(*snap)
		if err != nil && !errors.Is(err, targetdecoy.ErrNoEstimation) {
			return nil, err
		}
		return m, nil
	}
	var err error
	if out.PSM, err = restore(s.PSM); err != nil {
		return out, fmt.Errorf("failed to restore PSM map: %w", err)
	}
	if out.Peptide, err = restore(s.Peptide); err != nil {
		return out, fmt.Errorf("failed to restore peptide map: %w", err)
	}
	if out.Protein, err = restore(s.Protein); err != nil {
		return out, fmt.Errorf("failed to restore protein map: %w", err)
	}
	return out, nil
}

// Validator scores and validates the matches of a repository.
type Validator struct {
	repo   *repository.Repository
	cfg    Config
	pool   *worker.Pool
	logger *slog.Logger
}

// New creates a validator. A nil pool processes matches one at a time.
func New(repo *repository.Repository, cfg Config, pool *worker.Pool, logger *slog.Logger) *Validator {
	if pool == nil {
		pool = worker.NewPool(1, nil, nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{repo: repo, cfg: cfg, pool: pool, logger: logger}
}

// Confidence converts a probability into a percentage confidence.
func Confidence(probability float64) float64 {
	return math.Max(0, (1-probability)*100)
}

// estimate finishes a map, logging once when it cannot estimate.
func (v *Validator) estimate(name string, m *targetdecoy.Map, wh progress.WaitingHandler) error {
	err := m.EstimateProbabilities(wh)
	if errors.Is(err, targetdecoy.ErrNoEstimation) {
		s := m.Summary()
		v.logger.Warn("target-decoy estimation impossible, probabilities set to 1",
			"map", name, "targets", s.Targets, "decoys", s.Decoys)
		return nil
	}
	return err
}

// ScorePSMs fills the PSM map with the PEP of every best assumption and
// stores the resulting probabilities.
func (v *Validator) ScorePSMs(ctx context.Context, wh progress.WaitingHandler) (*targetdecoy.Map, error) {
	m := targetdecoy.NewMap(targetdecoy.LowerIsBetter, v.cfg.DecoyRatio)
	keys, err := v.repo.Spectra.Keys(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list spectrum matches: %w", err)
	}

	err = v.pool.Run(ctx, keys, func(ctx context.Context, key string) error {
		psm, err := v.repo.Spectra.Get(ctx, key)
		if err != nil {
			return err
		}
		if score, ok := psmScore(psm); ok {
			m.AddPoint(score, psm.Decoy())
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fill PSM map: %w", err)
	}
	if err := v.estimate("psm", m, wh); err != nil {
		return nil, err
	}

	err = v.pool.Run(ctx, keys, func(ctx context.Context, key string) error {
		psm, err := v.repo.Spectra.Get(ctx, key)
		if err != nil {
			return err
		}
		score, ok := psmScore(psm)
		if !ok {
			score = 1
		}
		psm.Annotations.Score = score
		psm.Annotations.Probability = m.Probability(score)
		psm.Annotations.Confidence = Confidence(psm.Annotations.Probability)
		return v.repo.PutSpectrumMatch(ctx, psm)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to store PSM probabilities: %w", err)
	}
	return m, nil
}

func psmScore(m *identification.SpectrumMatch) (float64, bool) {
	switch {
	case m.BestPeptide != nil:
		return m.BestPeptide.Annotations.PEP, true
	case m.BestTag != nil:
		return m.BestTag.Annotations.PEP, true
	}
	return 0, false
}

// ScorePeptides scores each peptide by the product of its PSM probabilities.
func (v *Validator) ScorePeptides(ctx context.Context, wh progress.WaitingHandler) (*targetdecoy.Map, error) {
	m := targetdecoy.NewMap(targetdecoy.LowerIsBetter, v.cfg.DecoyRatio)
	keys, err := v.repo.Peptides.Keys(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list peptide matches: %w", err)
	}

	var mu sync.Mutex
	scores := make(map[string]float64, len(keys))
	err = v.pool.Run(ctx, keys, func(ctx context.Context, key string) error {
		pep, err := v.repo.Peptides.Get(ctx, key)
		if err != nil {
			return err
		}
		psms, err := v.repo.Spectra.BatchLoad(ctx, pep.SpectrumKeys, nil)
		if err != nil {
			return err
		}
		score := 1.0
		for _, psm := range psms {
			score *= psm.Annotations.Probability
		}
		m.AddPoint(score, pep.Decoy)
		mu.Lock()
		scores[key] = score
		mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fill peptide map: %w", err)
	}
	if err := v.estimate("peptide", m, wh); err != nil {
		return nil, err
	}

	err = v.pool.Run(ctx, keys, func(ctx context.Context, key string) error {
		pep, err := v.repo.Peptides.Get(ctx, key)
		if err != nil {
			return err
		}
		pep.Annotations.Score = scores[key]
		pep.Annotations.Probability = m.Probability(scores[key])
		pep.Annotations.Confidence = Confidence(pep.Annotations.Probability)
		return v.repo.PutPeptideMatch(ctx, pep)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to store peptide probabilities: %w", err)
	}
	return m, nil
}

// ScoreProteins scores each group by the product of its peptide probabilities.
func (v *Validator) ScoreProteins(ctx context.Context, wh progress.WaitingHandler) (*targetdecoy.Map, error) {
	m := targetdecoy.NewMap(targetdecoy.LowerIsBetter, v.cfg.DecoyRatio)
	keys, err := v.repo.Proteins.Keys(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list protein groups: %w", err)
	}

	var mu sync.Mutex
	scores := make(map[string]float64, len(keys))
	err = v.pool.Run(ctx, keys, func(ctx context.Context, key string) error {
		group, err := v.repo.Proteins.Get(ctx, key)
		if err != nil {
			return err
		}
		peptides, err := v.repo.Peptides.BatchLoad(ctx, group.PeptideKeys, nil)
		if err != nil {
			return err
		}
		score := 1.0
		for _, pep := range peptides {
			score *= pep.Annotations.Probability
		}
		m.AddPoint(score, group.Decoy)
		mu.Lock()
		scores[key] = score
		mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fill protein map: %w", err)
	}
	if err := v.estimate("protein", m, wh); err != nil {
		return nil, err
	}

	err = v.pool.Run(ctx, keys, func(ctx context.Context, key string) error {
		group, err := v.repo.Proteins.Get(ctx, key)
		if err != nil {
			return err
		}
		group.Annotations.Score = scores[key]
		group.Annotations.Probability = m.Probability(scores[key])
		group.Annotations.Confidence = Confidence(group.Annotations.Probability)
		return v.repo.PutProteinMatch(ctx, group)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to store protein probabilities: %w", err)
	}
	return m, nil
}
