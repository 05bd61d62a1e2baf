package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ChrisMcGann/psvalidate/pkg/core"
	"github.com/ChrisMcGann/psvalidate/pkg/protein"
	"github.com/ChrisMcGann/psvalidate/pkg/reader/fasta"
	"github.com/ChrisMcGann/psvalidate/pkg/reader/hits"
	"github.com/ChrisMcGann/psvalidate/pkg/reader/mgf"
	"github.com/ChrisMcGann/psvalidate/pkg/repository"
	"github.com/ChrisMcGann/psvalidate/pkg/repository/sqlite"
)

var (
	hitsFiles    []string
	fastaFiles   []string
	spectraFiles []string
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import search hits, spectra and protein sequences",
	Long: `Import search engine hits, MGF peak lists and FASTA databases into the
project database. Every flag may be repeated.

Hits files are tab-separated with a header row naming the columns spectrum,
algorithm, sequence or tag, and optionally file, rank, modifications, charge,
score, proteins and precursor_error_ppm.

Examples:
  # Import hits of two search engines with their spectra and database
  psvalidate import --db project.db --hits comet.tsv --hits mascot.tsv \
    --spectra run1.mgf --fasta uniprot_td.fasta`,
	RunE: runImport,
}

func init() {
	importCmd.Flags().StringSliceVar(&hitsFiles, "hits", nil, "Search hits file (TSV)")
	importCmd.Flags().StringSliceVar(&fastaFiles, "fasta", nil, "Protein database (FASTA)")
	importCmd.Flags().StringSliceVar(&spectraFiles, "spectra", nil, "Peak list (MGF)")
}

func runImport(cmd *cobra.Command, args []string) error {
	if len(hitsFiles)+len(fastaFiles)+len(spectraFiles) == 0 {
		return fmt.Errorf("nothing to import, give --hits, --fasta or --spectra")
	}

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

	ctx := cmd.Context()
	for _, path := range fastaFiles {
		n, err := importFASTA(ctx, store, path, params.DecoyTags)
		if err != nil {
			return err
		}
		fmt.Printf("Imported %d proteins from %s\n", n, path)
	}
	for _, path := range spectraFiles {
		n, err := importMGF(ctx, store, path)
		if err != nil {
			return err
		}
		fmt.Printf("Imported %d spectra from %s\n", n, path)
	}
	for _, path := range hitsFiles {
		n, err := importHits(ctx, repo, path, modDB, params.DecoyTags)
		if err != nil {
			return err
		}
		fmt.Printf("Imported %d spectrum matches from %s\n", n, path)
	}

	if err := repo.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit import: %w", err)
	}
	fmt.Printf("Project database: %s\n", store.Path())
	return nil
}

func importFASTA(ctx context.Context, store *sqlite.Store, path string, decoyTags []string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open FASTA file: %w", err)
	}
	defer f.Close()

	reader := fasta.NewReader(f)
	count := 0
	for reader.Next() {
		rec := reader.Record()
		err := store.PutProtein(ctx, repository.ProteinRecord{
			Accession:   rec.Accession,
			Description: rec.Description,
			Sequence:    rec.Sequence,
			Decoy:       protein.IsDecoyAccession(rec.Accession, decoyTags),
		})
		if err != nil {
			return count, err
		}
		count++
	}
	if err := reader.Err(); err != nil {
		return count, fmt.Errorf("%s: %w", path, err)
	}
	return count, nil
}

func importMGF(ctx context.Context, store *sqlite.Store, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open MGF file: %w", err)
	}
	defer f.Close()

	reader := mgf.NewReader(f, filepath.Base(path))
	count := 0
	for reader.Next() {
		spec := reader.Spectrum()
		if err := spec.Validate(); err != nil {
			slog.Warn("skipping spectrum", "file", path, "error", err)
			continue
		}
		if err := store.PutSpectrum(ctx, spec); err != nil {
			return count, err
		}
		count++
		if verbose && count%10000 == 0 {
			fmt.Printf("Imported %d spectra...\n", count)
		}
	}
	if err := reader.Err(); err != nil {
		return count, fmt.Errorf("%s: %w", path, err)
	}
	return count, nil
}

func importHits(ctx context.Context, repo *repository.Repository, path string, modDB *core.ModDatabase, decoyTags []string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open hits file: %w", err)
	}
	defer f.Close()

	matches, err := hits.ReadMatches(hits.NewReader(f, modDB, decoyTags))
	if err != nil {
		return 0, fmt.Errorf("%s: %w", path, err)
	}
	for _, m := range matches {
		existing, err := repo.Spectra.Get(ctx, m.Key)
		switch {
		case err == nil:
			existing.Merge(m)
			m = existing
		case !errors.Is(err, repository.ErrNotFound):
			return 0, fmt.Errorf("failed to load spectrum match %s: %w", m.Key, err)
		}
		if err := repo.PutSpectrumMatch(ctx, m); err != nil {
			return 0, err
		}
	}
	return len(matches), nil
}
