package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ChrisMcGann/psvalidate/pkg/pipeline"
	"github.com/ChrisMcGann/psvalidate/pkg/repository"
	"github.com/ChrisMcGann/psvalidate/pkg/validation"
)

var summarizeCmd = &cobra.Command{
	Use:   "summarize",
	Short: "Summarize a project database",
	Long: `Print the contents of a project database: match counts, the last run and
the validation outcome per level with its threshold and estimated FDR.`,
	RunE: runSummarize,
}

func runSummarize(cmd *cobra.Command, args []string) error {
	params, err := loadParams()
	if err != nil {
		return err
	}
	_, repo, err := openProject(params)
	if err != nil {
		return err
	}
	defer repo.Close()
	ctx := cmd.Context()

	psms, err := repo.Spectra.Size(ctx)
	if err != nil {
		return err
	}
	peptides, err := repo.Peptides.Size(ctx)
	if err != nil {
		return err
	}
	groups, err := repo.Proteins.Size(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Spectrum matches: %d\n", psms)
	fmt.Printf("Peptides:         %d\n", peptides)
	fmt.Printf("Protein groups:   %d\n", groups)

	var report pipeline.Report
	if err := repo.GetMeta(ctx, pipeline.MetaReport, &report); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			fmt.Println("\nNot processed yet, run 'psvalidate process'")
			return nil
		}
		return err
	}
	fmt.Printf("\nLast run %s at %s (%s)\n", report.RunID, report.Started.Format(time.RFC3339), report.Duration.Round(time.Millisecond))

	var summary validation.Summary
	if err := repo.GetMeta(ctx, pipeline.MetaSummary, &summary); err != nil && !errors.Is(err, repository.ErrNotFound) {
		return err
	}
	printSummary(summary)

	fmt.Println()
	for _, row := range []struct {
		name string
		g    validation.Granularity
	}{
		{"PSM", summary.PSM},
		{"Peptide", summary.Peptide},
		{"Protein", summary.Protein},
	} {
		if !row.g.HasThreshold {
			fmt.Printf("%-8s no threshold (no decoys or no estimation)\n", row.name)
			continue
		}
		t := row.g.Threshold
		fmt.Printf("%-8s PEP <= %.4g at score %.4g (%d targets, %.2f%% FDR)\n", row.name, t.PEP, t.Score, t.Hits, t.FDR*100)
	}
	return nil
}
