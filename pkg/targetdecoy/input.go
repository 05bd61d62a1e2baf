package targetdecoy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/ChrisMcGann/psvalidate/pkg/progress"
)

// InputMap holds one Map per search algorithm.
type InputMap struct {
	mu         sync.RWMutex
	maps       map[string]*Map
	orders     map[string]ScoreOrder
	fallback   ScoreOrder
	decoyRatio float64
	logger     *slog.Logger

	unestimable []string
}

// NewInputMap creates an input map. orders gives the score order per
// algorithm, matched case-insensitively; algorithms missing from it use fallback.
func NewInputMap(orders map[string]ScoreOrder, fallback ScoreOrder, decoyRatio float64, logger *slog.Logger) *InputMap {
	if logger == nil {
		logger = slog.Default()
	}
	o := make(map[string]ScoreOrder, len(orders))
	for alg, order := range orders {
		o[strings.ToLower(alg)] = order
	}
	return &InputMap{
		maps:       make(map[string]*Map),
		orders:     o,
		fallback:   fallback,
		decoyRatio: decoyRatio,
		logger:     logger,
	}
}

// OrderOf returns the score order used for an algorithm.
func (im *InputMap) OrderOf(algorithm string) ScoreOrder {
	if o, ok := im.orders[strings.ToLower(algorithm)]; ok {
		return o
	}
	return im.fallback
}

// AddPoint records a hit of an algorithm, creating its map on first use.
func (im *InputMap) AddPoint(algorithm string, score float64, isDecoy bool) {
	im.mu.Lock()
	m, ok := im.maps[algorithm]
	if !ok {
		m = NewMap(im.OrderOf(algorithm), im.decoyRatio)
		im.maps[algorithm] = m
	}
	im.mu.Unlock()

	m.AddPoint(score, isDecoy)
}

// Map returns the map of an algorithm.
func (im *InputMap) Map(algorithm string) (*Map, bool) {
	im.mu.RLock()
	defer im.mu.RUnlock()
	m, ok := im.maps[algorithm]
	return m, ok
}

// Algorithms returns the algorithms that contributed points, sorted.
func (im *InputMap) Algorithms() []string {
	im.mu.RLock()
	defer im.mu.RUnlock()

	algs := make([]string, 0, len(im.maps))
	for alg := range im.maps {
		algs = append(algs, alg)
	}
	sort.Strings(algs)
	return algs
}

// EstimateProbabilities estimates every algorithm map in parallel. Maps that
// cannot estimate are logged once and answer 1.0 afterwards.
func (im *InputMap) EstimateProbabilities(ctx context.Context, wh progress.WaitingHandler) error {
	if wh == nil {
		wh = progress.Nop{}
	}

	algs := im.Algorithms()
	failed := make([]bool, len(algs))

	g, gctx := errgroup.WithContext(ctx)
	for i, alg := range algs {
		m, _ := im.Map(alg)
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			err := m.EstimateProbabilities(nil)
			if errors.Is(err, ErrNoEstimation) {
				failed[i] = true
				return nil
			}
			if err != nil {
				return fmt.Errorf("failed to estimate %s: %w", alg, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	im.mu.Lock()
	im.unestimable = im.unestimable[:0]
	for i, alg := range algs {
		if failed[i] {
			im.unestimable = append(im.unestimable, alg)
			sum := im.maps[alg].Summary()
			im.logger.Warn("no estimation possible, using probability 1.0",
				"algorithm", alg, "targets", sum.Targets, "decoys", sum.Decoys)
		}
	}
	im.mu.Unlock()

	wh.IncreaseProgress()
	return nil
}

// Unestimable returns the algorithms whose map could not be estimated.
func (im *InputMap) Unestimable() []string {
	im.mu.RLock()
	defer im.mu.RUnlock()
	out := make([]string, len(im.unestimable))
	copy(out, im.unestimable)
	return out
}

// Probability returns the PEP of an algorithm's score. Unknown algorithms
// answer 1.0.
func (im *InputMap) Probability(algorithm string, score float64) float64 {
	m, ok := im.Map(algorithm)
	if !ok {
		return 1.0
	}
	return m.Probability(score)
}

// InputSnapshot is the serializable form of an InputMap.
type InputSnapshot struct {
	DecoyRatio float64             `json:"decoy_ratio"`
	Fallback   ScoreOrder          `json:"fallback"`
	Maps       map[string]Snapshot `json:"maps"`
}

// Snapshot captures every algorithm map.
func (im *InputMap) Snapshot() InputSnapshot {
	im.mu.RLock()
	defer im.mu.RUnlock()

	s := InputSnapshot{DecoyRatio: im.decoyRatio, Fallback: im.fallback, Maps: make(map[string]Snapshot, len(im.maps))}
	for alg, m := range im.maps {
		s.Maps[alg] = m.Snapshot()
	}
	return s
}

// RestoreInputMap rebuilds an estimated InputMap from a snapshot.
func RestoreInputMap(ctx context.Context, s InputSnapshot, logger *slog.Logger) (*InputMap, error) {
	orders := make(map[string]ScoreOrder, len(s.Maps))
	for alg, ms := range s.Maps {
		orders[alg] = ms.Order
	}
	im := NewInputMap(orders, s.Fallback, s.DecoyRatio, logger)
	for alg, ms := range s.Maps {
		m, err := Restore(ms)
		if err != nil && !errors.Is(err, ErrNoEstimation) {
			return nil, fmt.Errorf("failed to restore %s: %w", alg, err)
		}
		im.maps[alg] = m
	}
	if err := im.EstimateProbabilities(ctx, nil); err != nil {
		return nil, err
	}
	return im, nil
}
