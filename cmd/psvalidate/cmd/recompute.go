package cmd

import (
	"context"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ChrisMcGann/psvalidate/pkg/pipeline"
)

var recomputeCmd = &cobra.Command{
	Use:   "recompute",
	Short: "Revalidate after changing thresholds or filters",
	Long: `Rerun part of the pipeline on an already processed project, reusing the
stored target-decoy maps. Choose the level the change affects.

Examples:
  # Tighten the PSM FDR to 0.5%
  psvalidate recompute spectrum --db project.db --psm-fdr 0.005

  # Require two peptides per protein group
  PSVALIDATE_VALIDATION_MIN_PEPTIDES_PER_PROTEIN=2 psvalidate recompute protein --db project.db`,
}

var recomputeSpectrumCmd = &cobra.Command{
	Use:   "spectrum",
	Short: "Rerun everything after best match selection",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPipeline(cmd.Context(), func(ctx context.Context, p *pipeline.Pipeline) (*pipeline.Report, error) {
			return p.RecomputeSpectrum(ctx)
		})
	},
}

var recomputePeptideCmd = &cobra.Command{
	Use:   "peptide",
	Short: "Rerun the peptide and protein maps and validation",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPipeline(cmd.Context(), func(ctx context.Context, p *pipeline.Pipeline) (*pipeline.Report, error) {
			return p.RecomputePeptide(ctx)
		})
	},
}

var recomputeProteinCmd = &cobra.Command{
	Use:   "protein",
	Short: "Rerun the protein map and validation",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPipeline(cmd.Context(), func(ctx context.Context, p *pipeline.Pipeline) (*pipeline.Report, error) {
			return p.RecomputeProtein(ctx)
		})
	},
}

func init() {
	recomputeCmd.AddCommand(recomputeSpectrumCmd)
	recomputeCmd.AddCommand(recomputePeptideCmd)
	recomputeCmd.AddCommand(recomputeProteinCmd)

	flags := recomputeCmd.PersistentFlags()
	flags.Float64("psm-fdr", 0, "PSM FDR threshold (fraction)")
	flags.Float64("peptide-fdr", 0, "Peptide FDR threshold (fraction)")
	flags.Float64("protein-fdr", 0, "Protein FDR threshold (fraction)")
	flags.Float64("max-ppm", 0, "Maximum absolute precursor error in ppm")
	flags.Int("min-peptides", 0, "Minimum distinct peptides per protein group")

	_ = viper.BindPFlag("validation.psm_fdr", flags.Lookup("psm-fdr"))
	_ = viper.BindPFlag("validation.peptide_fdr", flags.Lookup("peptide-fdr"))
	_ = viper.BindPFlag("validation.protein_fdr", flags.Lookup("protein-fdr"))
	_ = viper.BindPFlag("validation.max_precursor_ppm", flags.Lookup("max-ppm"))
	_ = viper.BindPFlag("validation.min_peptides_per_protein", flags.Lookup("min-peptides"))
}
