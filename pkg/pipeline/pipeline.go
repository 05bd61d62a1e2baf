// Package pipeline runs the validation stages over a match repository, with
// a checkpoint after every stage.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ChrisMcGann/psvalidate/pkg/config"
	"github.com/ChrisMcGann/psvalidate/pkg/core"
	"github.com/ChrisMcGann/psvalidate/pkg/identification"
	"github.com/ChrisMcGann/psvalidate/pkg/progress"
	"github.com/ChrisMcGann/psvalidate/pkg/protein"
	"github.com/ChrisMcGann/psvalidate/pkg/repository"
	"github.com/ChrisMcGann/psvalidate/pkg/targetdecoy"
	"github.com/ChrisMcGann/psvalidate/pkg/validation"
	"github.com/ChrisMcGann/psvalidate/pkg/worker"
)

// ErrNoMaps is returned by a recompute when no earlier run stored its maps.
var ErrNoMaps = errors.New("no target-decoy maps stored, run the full pipeline first")

// Metadata entries written by the pipeline.
const (
	MetaInputMap = "input_map"
	MetaMaps     = "maps"
	MetaSummary  = "summary"
	MetaReport   = "report"
)

// StageError ties a failure to the stage it happened in.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// StageResult is what a stage reports back to the orchestrator.
type StageResult struct {
	Processed int  `json:"processed"`
	Failed    int  `json:"failed"`
	Skipped   bool `json:"skipped"`
	// Conflicts counts PSMs whose relocalized peptide no longer fits one of
	// its proteins.
	Conflicts int `json:"conflicts,omitempty"`
}

// Stage is one step of the pipeline.
type Stage interface {
	Name() string
	Run(ctx context.Context, env *Env) (StageResult, error)
}

// StageReport records a finished stage.
type StageReport struct {
	Name     string        `json:"name"`
	Duration time.Duration `json:"duration"`
	Result   StageResult   `json:"result"`
}

// Report describes a pipeline run.
type Report struct {
	RunID       string             `json:"run_id"`
	Started     time.Time          `json:"started"`
	Duration    time.Duration      `json:"duration"`
	Stages      []StageReport      `json:"stages"`
	Cancelled   bool               `json:"cancelled"`
	FailedStage string             `json:"failed_stage,omitempty"`
	Summary     validation.Summary `json:"summary"`
}

// Options configure a pipeline.
type Options struct {
	Params *config.Parameters
	Mods   *core.ModDatabase
	// Spectra provides peaks for localization; nil scores without spectra.
	Spectra repository.SpectrumStore
	// Proteins resolves accessions for refinement and protein sites; may be nil.
	Proteins   protein.SequenceProvider
	Waiting    progress.WaitingHandler
	Exceptions progress.ExceptionHandler
	Metrics    *Metrics
	Logger     *slog.Logger
}

// Env is the state shared by the stages of one run.
type Env struct {
	RunID      string
	Repo       *repository.Repository
	Params     *config.Parameters
	Mods       *core.ModDatabase
	Spectra    repository.SpectrumStore
	Proteins   protein.SequenceProvider
	Mapper     *protein.Mapper
	Waiting    progress.WaitingHandler
	Exceptions progress.ExceptionHandler
	Pool       *worker.Pool
	Validator  *validation.Validator
	Logger     *slog.Logger

	InputMap *targetdecoy.InputMap
	Maps     validation.Maps
	Summary  validation.Summary

	failed atomic.Int64
}

// IsDecoy tells decoy accessions apart.
func (e *Env) IsDecoy(accession string) bool {
	if e.Proteins != nil {
		return e.Proteins.IsDecoy(accession)
	}
	return protein.IsDecoyAccession(accession, e.Params.DecoyTags)
}

// Project returns the configured project type.
func (e *Env) Project() identification.ProjectType {
	return e.Params.Project()
}

// Spectrum returns the spectrum of a match, or nil when unavailable.
func (e *Env) Spectrum(ctx context.Context, key string) (*core.Spectrum, error) {
	if e.Spectra == nil {
		return nil, nil
	}
	spec, err := e.Spectra.Spectrum(ctx, key)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	return spec, err
}

func (e *Env) cancelled(ctx context.Context) bool {
	return ctx.Err() != nil || e.Waiting.IsCancelled()
}

// Pipeline orchestrates the stages over one repository.
type Pipeline struct {
	repo *repository.Repository
	opts Options
}

// New creates a pipeline. Nil options fall back to defaults.
func New(repo *repository.Repository, opts Options) *Pipeline {
	if opts.Params == nil {
		opts.Params = config.Default()
	}
	if opts.Mods == nil {
		opts.Mods = core.DefaultModDatabase()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Waiting == nil {
		opts.Waiting = progress.Nop{}
	}
	if opts.Exceptions == nil {
		opts.Exceptions = &progress.LogExceptions{Logger: opts.Logger, Limit: opts.Params.Processing.MaxErrors}
	}
	return &Pipeline{repo: repo, opts: opts}
}

func (p *Pipeline) newEnv() *Env {
	params := p.opts.Params
	env := &Env{
		RunID:      uuid.NewString(),
		Repo:       p.repo,
		Params:     params,
		Mods:       p.opts.Mods,
		Spectra:    p.opts.Spectra,
		Proteins:   p.opts.Proteins,
		Waiting:    p.opts.Waiting,
		Exceptions: p.opts.Exceptions,
		Logger:     p.opts.Logger,
	}
	if env.Proteins != nil {
		env.Mapper = protein.NewMapper(env.Proteins, env.Mods)
	}
	env.Pool = worker.NewPool(params.Processing.Workers, env.Waiting, env.catch)
	env.Validator = validation.New(p.repo, ValidationConfig(params), env.Pool, env.Logger)
	return env
}

// catch hands per-match failures to the exception handler. Storage failures
// and cancellation always abort.
func (e *Env) catch(key string, err error) bool {
	if repository.IsStoreError(err) || errors.Is(err, context.Canceled) || errors.Is(err, worker.ErrCancelled) {
		return true
	}
	e.failed.Add(1)
	var me *identification.MatchError
	if !errors.As(err, &me) {
		err = &identification.MatchError{Key: key, Err: err}
	}
	return e.Exceptions.Catch(err)
}

// ValidationConfig derives validator settings from run parameters.
func ValidationConfig(p *config.Parameters) validation.Config {
	return validation.Config{
		PSMFDR:                p.Validation.PSMFDR,
		PeptideFDR:            p.Validation.PeptideFDR,
		ProteinFDR:            p.Validation.ProteinFDR,
		DecoyRatio:            p.DecoyRatio,
		MaxPrecursorPPM:       p.Validation.MaxPrecursorPPM,
		MinPeptideLength:      p.Validation.MinPeptideLength,
		MaxPeptideLength:      p.Validation.MaxPeptideLength,
		MinPeptidesPerProtein: p.Validation.MinPeptidesPerProtein,
	}
}

// Stages returns the full ordered stage list.
func Stages() []Stage {
	return []Stage{
		inputMapStage{},
		bestMatchStage{},
		psmMapStage{},
		assemblyStage{},
		inferenceStage{},
		peptideMapStage{},
		proteinMapStage{},
		validationStage{},
		ptmSummaryStage{},
	}
}

// Run processes the identification from raw assumptions to validated
// proteins.
func (p *Pipeline) Run(ctx context.Context) (*Report, error) {
	return p.RunStages(ctx, Stages())
}

// RecomputeSpectrum reruns everything downstream of best-match selection,
// for instance after the PSM FDR or filters changed.
func (p *Pipeline) RecomputeSpectrum(ctx context.Context) (*Report, error) {
	return p.recompute(ctx, Stages()[2:])
}

// RecomputePeptide reruns the peptide and protein maps and validation.
func (p *Pipeline) RecomputePeptide(ctx context.Context) (*Report, error) {
	return p.recompute(ctx, []Stage{peptideMapStage{}, proteinMapStage{}, validationStage{}, ptmSummaryStage{}})
}

// RecomputeProtein reruns the protein map and validation.
func (p *Pipeline) RecomputeProtein(ctx context.Context) (*Report, error) {
	return p.recompute(ctx, []Stage{proteinMapStage{}, validationStage{}, ptmSummaryStage{}})
}

func (p *Pipeline) recompute(ctx context.Context, stages []Stage) (*Report, error) {
	var snap validation.MapsSnapshot
	if err := p.repo.GetMeta(ctx, MetaMaps, &snap); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNoMaps
		}
		return nil, fmt.Errorf("failed to load maps: %w", err)
	}
	maps, err := validation.RestoreMaps(snap)
	if err != nil {
		return nil, err
	}
	env := p.newEnv()
	env.Maps = maps
	return p.run(ctx, env, stages)
}

// RunStages runs the given stages in order on a fresh environment.
func (p *Pipeline) RunStages(ctx context.Context, stages []Stage) (*Report, error) {
	return p.run(ctx, p.newEnv(), stages)
}

func (p *Pipeline) run(ctx context.Context, env *Env, stages []Stage) (*Report, error) {
	logger := env.Logger.With("run_id", env.RunID)
	report := &Report{RunID: env.RunID, Started: time.Now()}
	metrics := p.opts.Metrics

	for _, stage := range stages {
		if env.cancelled(ctx) {
			return p.cancel(ctx, env, report, logger)
		}

		start := time.Now()
		env.failed.Store(0)
		res, err := stage.Run(ctx, env)
		elapsed := time.Since(start)
		res.Failed += int(env.failed.Load())
		metrics.observeStage(stage.Name(), elapsed, res)

		if err != nil {
			if env.cancelled(ctx) || errors.Is(err, worker.ErrCancelled) || errors.Is(err, context.Canceled) {
				return p.cancel(ctx, env, report, logger)
			}
			if rerr := env.Repo.Rollback(context.WithoutCancel(ctx)); rerr != nil {
				logger.Error("rollback failed", "stage", stage.Name(), "error", rerr)
			}
			report.FailedStage = stage.Name()
			report.Duration = time.Since(report.Started)
			metrics.observeRun("failed")
			logger.Error("stage failed", "stage", stage.Name(), "error", err)
			return report, &StageError{Stage: stage.Name(), Err: err}
		}

		if err := env.Repo.Commit(ctx); err != nil {
			report.FailedStage = stage.Name()
			metrics.observeRun("failed")
			return report, &StageError{Stage: stage.Name(), Err: fmt.Errorf("failed to checkpoint: %w", err)}
		}
		report.Stages = append(report.Stages, StageReport{Name: stage.Name(), Duration: elapsed, Result: res})
		logger.Debug("stage done", "stage", stage.Name(), "duration", elapsed, "processed", res.Processed, "skipped", res.Skipped)
	}

	report.Duration = time.Since(report.Started)
	report.Summary = env.Summary
	if err := env.Repo.PutMeta(ctx, MetaReport, report); err != nil {
		return report, fmt.Errorf("failed to store run report: %w", err)
	}
	if err := env.Repo.Commit(ctx); err != nil {
		return report, fmt.Errorf("failed to checkpoint run report: %w", err)
	}
	metrics.ObserveSummary(env.Summary)
	metrics.observeRun("completed")
	env.Waiting.AppendReport(fmt.Sprintf("Identification processing completed (%s).", report.Duration.Round(time.Millisecond)))
	logger.Info("identification processing completed", "duration", report.Duration)
	return report, nil
}

func (p *Pipeline) cancel(ctx context.Context, env *Env, report *Report, logger *slog.Logger) (*Report, error) {
	if err := env.Repo.Rollback(context.WithoutCancel(ctx)); err != nil {
		logger.Error("rollback failed", "error", err)
	}
	report.Cancelled = true
	report.Duration = time.Since(report.Started)
	p.opts.Metrics.observeRun("cancelled")
	env.Waiting.AppendReport("Processing cancelled.")
	logger.Warn("processing cancelled", "completed_stages", len(report.Stages))
	return report, nil
}
