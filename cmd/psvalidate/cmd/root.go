// Package cmd provides CLI command implementations
package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ChrisMcGann/psvalidate/pkg/config"
	"github.com/ChrisMcGann/psvalidate/pkg/core"
	"github.com/ChrisMcGann/psvalidate/pkg/repository"
	"github.com/ChrisMcGann/psvalidate/pkg/repository/sqlite"
)

var (
	cfgFile  string
	verbose  bool
	dbPath   string
	modsFile string
)

var rootCmd = &cobra.Command{
	Use:   "psvalidate",
	Short: "psvalidate - Target-decoy validation of peptide-spectrum matches",
	Long: `psvalidate turns raw search engine hits into validated peptide-spectrum
matches, peptides and protein groups.

Matches are imported into a SQLite project database and processed in stages:
- Target-decoy probabilities per search engine
- Best peptide selection per spectrum
- Modification site localization
- Peptide and protein assembly with parsimony
- FDR thresholds and confidence levels

Each stage is checkpointed, so a run can be cancelled or recomputed after
changing thresholds without starting over.`,
	Version:       "1.0.0",
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogger()
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $HOME/.psvalidate/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "project database (overrides the database setting)")
	rootCmd.PersistentFlags().StringVar(&modsFile, "mods", "", "CSV file of additional modifications")

	_ = viper.BindPFlag("database", rootCmd.PersistentFlags().Lookup("db"))

	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(processCmd)
	rootCmd.AddCommand(recomputeCmd)
	rootCmd.AddCommand(summarizeCmd)
	rootCmd.AddCommand(configCmd)
}

// initConfig reads in config file and ENV variables
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error finding home directory: %v\n", err)
			return
		}
		viper.AddConfigPath(filepath.Join(home, ".psvalidate"))
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	if err := viper.ReadInConfig(); err == nil && verbose {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
	}
}

func setupLogger() {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

// loadParams decodes the run parameters from flags, environment and config file.
func loadParams() (*config.Parameters, error) {
	return config.Load(viper.GetViper())
}

// loadModDatabase returns the default modifications plus those of --mods.
func loadModDatabase() (*core.ModDatabase, error) {
	modDB := core.DefaultModDatabase()
	if modsFile == "" {
		return modDB, nil
	}
	f, err := os.Open(modsFile)
	if err != nil {
		return nil, fmt.Errorf("failed to open modifications file: %w", err)
	}
	defer f.Close()
	if err := modDB.LoadFromCSV(f); err != nil {
		return nil, fmt.Errorf("failed to load modifications: %w", err)
	}
	return modDB, nil
}

// openProject opens the project database named by the parameters.
func openProject(params *config.Parameters) (*sqlite.Store, *repository.Repository, error) {
	if params.Database == "" {
		return nil, nil, fmt.Errorf("no project database given, use --db")
	}
	store, err := sqlite.Open(params.Database)
	if err != nil {
		return nil, nil, err
	}
	repo, err := repository.New(store)
	if err != nil {
		store.Close()
		return nil, nil, err
	}
	return store, repo, nil
}
