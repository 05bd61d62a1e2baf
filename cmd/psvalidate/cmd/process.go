package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ChrisMcGann/psvalidate/pkg/config"
	"github.com/ChrisMcGann/psvalidate/pkg/pipeline"
	"github.com/ChrisMcGann/psvalidate/pkg/progress"
	"github.com/ChrisMcGann/psvalidate/pkg/protein"
	"github.com/ChrisMcGann/psvalidate/pkg/repository/sqlite"
	"github.com/ChrisMcGann/psvalidate/pkg/validation"
)

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Validate the imported matches",
	Long: `Run every processing stage over the project database: target-decoy
probabilities, best match selection, modification localization, peptide and
protein assembly, protein inference and validation.

Press Ctrl-C to cancel; the database is rolled back to the last completed
stage.

Examples:
  # Process with the configured thresholds
  psvalidate process --db project.db

  # Stop at the peptide level with 8 workers and export metrics
  psvalidate process --db project.db --project peptide --workers 8 --metrics-file run.prom`,
	RunE: runProcess,
}

func init() {
	processCmd.Flags().String("project", "", "Project type: psm, peptide or protein")
	processCmd.Flags().Int("workers", 0, "Number of worker goroutines")
	processCmd.Flags().String("metrics-file", "", "Write prometheus metrics to this file after the run")

	_ = viper.BindPFlag("project_type", processCmd.Flags().Lookup("project"))
	_ = viper.BindPFlag("processing.workers", processCmd.Flags().Lookup("workers"))
	_ = viper.BindPFlag("metrics_file", processCmd.Flags().Lookup("metrics-file"))
}

func runProcess(cmd *cobra.Command, args []string) error {
	return runPipeline(cmd.Context(), func(ctx context.Context, p *pipeline.Pipeline) (*pipeline.Report, error) {
		return p.Run(ctx)
	})
}

// runPipeline opens the project, runs fn under a signal-aware context and
// prints the outcome.
func runPipeline(ctx context.Context, fn func(context.Context, *pipeline.Pipeline) (*pipeline.Report, error)) error {
	params, err := loadParams()
	if err != nil {
		return err
	}
	modDB, err := loadModDatabase()
	if err != nil {
		return err
	}
	store, repo, err := openProject(params)
	if err != nil {
		return err
	}
	defer repo.Close()

	logger := slog.Default()
	handler := progress.NewHandler(logger)
	reg := prometheus.NewRegistry()
	metrics, err := pipeline.NewMetrics(reg)
	if err != nil {
		return err
	}

	p := pipeline.New(repo, pipeline.Options{
		Params:   params,
		Mods:     modDB,
		Spectra:  store,
		Proteins: proteinProvider(store, params),
		Waiting:  handler,
		Metrics:  metrics,
		Logger:   logger,
	})

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	stopCancel := context.AfterFunc(ctx, handler.Cancel)
	defer stopCancel()

	fmt.Printf("Processing %s...\n", store.Path())
	fmt.Printf("Project type: %s\n", params.ProjectType)
	fmt.Printf("Workers: %d\n", params.Processing.Workers)

	report, runErr := fn(ctx, p)

	if params.MetricsFile != "" {
		if err := prometheus.WriteToTextfile(params.MetricsFile, reg); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to write metrics: %v\n", err)
		}
	}
	if runErr != nil {
		return runErr
	}

	fmt.Println()
	fmt.Println(handler.Report())
	if report.Cancelled {
		fmt.Printf("Cancelled after %d stages, no changes kept past the last checkpoint\n", len(report.Stages))
		return nil
	}
	printStages(report)
	printSummary(report.Summary)
	return nil
}

// proteinProvider serves protein sequences from the project database through
// an expiring cache.
func proteinProvider(store *sqlite.Store, params *config.Parameters) protein.SequenceProvider {
	ttl := params.Processing.CacheTTL
	return protein.NewCachedProvider(pipeline.NewStoreProteins(store, params.DecoyTags), ttl, 2*ttl)
}

func printStages(report *pipeline.Report) {
	fmt.Printf("\nRun %s (%s)\n", report.RunID, report.Duration.Round(time.Millisecond))
	for _, s := range report.Stages {
		status := fmt.Sprintf("%d processed", s.Result.Processed)
		if s.Result.Skipped {
			status = "skipped"
		} else if s.Result.Failed > 0 {
			status += fmt.Sprintf(", %d failed", s.Result.Failed)
		}
		if s.Result.Conflicts > 0 {
			status += fmt.Sprintf(", %d mapping conflicts", s.Result.Conflicts)
		}
		fmt.Printf("  %-12s %10s  %s\n", s.Name, s.Duration.Round(time.Millisecond), status)
	}
}

func printSummary(s validation.Summary) {
	fmt.Printf("\n%-10s %10s %10s %14s %8s\n", "", "Confident", "Doubtful", "Not validated", "FDR")
	for _, row := range []struct {
		name string
		g    validation.Granularity
	}{
		{"PSMs", s.PSM},
		{"Peptides", s.Peptide},
		{"Proteins", s.Protein},
	} {
		fdr := "-"
		if row.g.HasThreshold {
			fdr = fmt.Sprintf("%.2f%%", row.g.EstimatedFDR*100)
		}
		fmt.Printf("%-10s %10d %10d %14d %8s\n", row.name, row.g.Confident, row.g.Doubtful, row.g.NotValidated, fdr)
	}
}
