// Package config provides the processing parameters of a validation run.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/ChrisMcGann/psvalidate/pkg/filter"
	"github.com/ChrisMcGann/psvalidate/pkg/identification"
	"github.com/ChrisMcGann/psvalidate/pkg/protein"
	"github.com/ChrisMcGann/psvalidate/pkg/targetdecoy"
)

// EnvPrefix prefixes every environment override (PSVALIDATE_VALIDATION_PSM_FDR, ...).
const EnvPrefix = "PSVALIDATE"

// Parameters holds every setting of a validation run
type Parameters struct {
	// ProjectType is psm, peptide or protein
	ProjectType string `mapstructure:"project_type" yaml:"project_type"`
	// TargetDecoy enables FDR based probabilities
	TargetDecoy bool `mapstructure:"target_decoy" yaml:"target_decoy"`
	// DecoyTags mark decoy accessions
	DecoyTags []string `mapstructure:"decoy_tags" yaml:"decoy_tags"`
	// DecoyRatio is the decoy to target database size ratio
	DecoyRatio float64 `mapstructure:"decoy_ratio" yaml:"decoy_ratio"`
	// ScoreOrders maps an algorithm to "higher" or "lower"
	ScoreOrders map[string]string `mapstructure:"score_orders" yaml:"score_orders"`
	// DefaultScoreOrder applies to algorithms missing from ScoreOrders
	DefaultScoreOrder string `mapstructure:"default_score_order" yaml:"default_score_order"`

	Validation   ValidationConfig   `mapstructure:"validation" yaml:"validation"`
	Localization LocalizationConfig `mapstructure:"localization" yaml:"localization"`
	Processing   ProcessingConfig   `mapstructure:"processing" yaml:"processing"`

	// Database is the sqlite repository path
	Database string `mapstructure:"database" yaml:"database"`
	// MetricsFile receives the prometheus text exposition after a run
	MetricsFile string `mapstructure:"metrics_file" yaml:"metrics_file"`
}

// ValidationConfig configures thresholds and quality filters
type ValidationConfig struct {
	PSMFDR                float64 `mapstructure:"psm_fdr" yaml:"psm_fdr"`
	PeptideFDR            float64 `mapstructure:"peptide_fdr" yaml:"peptide_fdr"`
	ProteinFDR            float64 `mapstructure:"protein_fdr" yaml:"protein_fdr"`
	MaxPrecursorPPM       float64 `mapstructure:"max_precursor_ppm" yaml:"max_precursor_ppm"` // 0 disables
	MinPeptideLength      int     `mapstructure:"min_peptide_length" yaml:"min_peptide_length"`
	MaxPeptideLength      int     `mapstructure:"max_peptide_length" yaml:"max_peptide_length"` // 0 disables
	MinPeptidesPerProtein int     `mapstructure:"min_peptides_per_protein" yaml:"min_peptides_per_protein"`
}

// LocalizationConfig configures modification site scoring
type LocalizationConfig struct {
	Enabled         bool    `mapstructure:"enabled" yaml:"enabled"`
	Tolerance       float64 `mapstructure:"tolerance" yaml:"tolerance"`
	Depth           int     `mapstructure:"depth" yaml:"depth"`
	WindowSize      float64 `mapstructure:"window_size" yaml:"window_size"`
	IntensityCutoff float64 `mapstructure:"intensity_cutoff" yaml:"intensity_cutoff"` // % of base peak
	SiteThreshold   float64 `mapstructure:"site_threshold" yaml:"site_threshold"`
	MaxCombinations int     `mapstructure:"max_combinations" yaml:"max_combinations"` // 0 = unlimited
	Refinement      bool    `mapstructure:"refinement" yaml:"refinement"`
}

// ProcessingConfig configures concurrency and caching
type ProcessingConfig struct {
	Workers  int           `mapstructure:"workers" yaml:"workers"`
	CacheTTL time.Duration `mapstructure:"cache_ttl" yaml:"cache_ttl"`
	// MaxErrors is how many match errors are tolerated before a stage aborts
	MaxErrors int `mapstructure:"max_errors" yaml:"max_errors"`
}

// Default returns the parameters used when nothing is configured
func Default() *Parameters {
	return &Parameters{
		ProjectType:       string(identification.ProjectProtein),
		TargetDecoy:       true,
		DecoyTags:         append([]string(nil), protein.DefaultDecoyTags...),
		DecoyRatio:        1,
		ScoreOrders:       map[string]string{},
		DefaultScoreOrder: targetdecoy.HigherIsBetter.String(),
		Validation: ValidationConfig{
			PSMFDR:                0.01,
			PeptideFDR:            0.01,
			ProteinFDR:            0.01,
			MaxPrecursorPPM:       0,
			MinPeptideLength:      4,
			MaxPeptideLength:      0,
			MinPeptidesPerProtein: 1,
		},
		Localization: LocalizationConfig{
			Enabled:         true,
			Tolerance:       0.5,
			Depth:           6,
			WindowSize:      100,
			IntensityCutoff: 0,
			SiteThreshold:   19,
			MaxCombinations: 1024,
			Refinement:      true,
		},
		Processing: ProcessingConfig{
			Workers:   4,
			CacheTTL:  10 * time.Minute,
			MaxErrors: 100,
		},
		Database: "psvalidate.db",
	}
}

// SetDefaults registers every default with v so environment variables can
// override keys that appear in no config file.
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("project_type", d.ProjectType)
	v.SetDefault("target_decoy", d.TargetDecoy)
	v.SetDefault("decoy_tags", d.DecoyTags)
	v.SetDefault("decoy_ratio", d.DecoyRatio)
	v.SetDefault("score_orders", d.ScoreOrders)
	v.SetDefault("default_score_order", d.DefaultScoreOrder)
	v.SetDefault("validation.psm_fdr", d.Validation.PSMFDR)
	v.SetDefault("validation.peptide_fdr", d.Validation.PeptideFDR)
	v.SetDefault("validation.protein_fdr", d.Validation.ProteinFDR)
	v.SetDefault("validation.max_precursor_ppm", d.Validation.MaxPrecursorPPM)
	v.SetDefault("validation.min_peptide_length", d.Validation.MinPeptideLength)
	v.SetDefault("validation.max_peptide_length", d.Validation.MaxPeptideLength)
	v.SetDefault("validation.min_peptides_per_protein", d.Validation.MinPeptidesPerProtein)
	v.SetDefault("localization.enabled", d.Localization.Enabled)
	v.SetDefault("localization.tolerance", d.Localization.Tolerance)
	v.SetDefault("localization.depth", d.Localization.Depth)
	v.SetDefault("localization.window_size", d.Localization.WindowSize)
	v.SetDefault("localization.intensity_cutoff", d.Localization.IntensityCutoff)
	v.SetDefault("localization.site_threshold", d.Localization.SiteThreshold)
	v.SetDefault("localization.max_combinations", d.Localization.MaxCombinations)
	v.SetDefault("localization.refinement", d.Localization.Refinement)
	v.SetDefault("processing.workers", d.Processing.Workers)
	v.SetDefault("processing.cache_ttl", d.Processing.CacheTTL)
	v.SetDefault("processing.max_errors", d.Processing.MaxErrors)
	v.SetDefault("database", d.Database)
	v.SetDefault("metrics_file", d.MetricsFile)
}

// Load decodes the parameters from v after registering defaults and the
// environment prefix.
func Load(v *viper.Viper) (*Parameters, error) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	p := &Parameters{}
	if err := v.Unmarshal(p); err != nil {
		return nil, fmt.Errorf("failed to decode parameters: %w", err)
	}
	if p.ScoreOrders == nil {
		p.ScoreOrders = map[string]string{}
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// LoadFromFile reads YAML parameters over the defaults
func LoadFromFile(path string) (*Parameters, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	p := Default()
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// SaveToFile writes the parameters as YAML, creating the parent directory
func (p *Parameters) SaveToFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate reports every invalid field at once
func (p *Parameters) Validate() error {
	var errs []error

	if !identification.ProjectType(p.ProjectType).Valid() {
		errs = append(errs, fmt.Errorf("project_type must be psm, peptide or protein, got %q", p.ProjectType))
	}
	if p.DecoyRatio <= 0 {
		errs = append(errs, fmt.Errorf("decoy_ratio must be positive, got %g", p.DecoyRatio))
	}
	if _, err := targetdecoy.ParseScoreOrder(p.DefaultScoreOrder); err != nil {
		errs = append(errs, fmt.Errorf("default_score_order: %w", err))
	}
	for _, alg := range sortedKeys(p.ScoreOrders) {
		if _, err := targetdecoy.ParseScoreOrder(p.ScoreOrders[alg]); err != nil {
			errs = append(errs, fmt.Errorf("score_orders.%s: %w", alg, err))
		}
	}

	for _, f := range []struct {
		name string
		fdr  float64
	}{
		{"validation.psm_fdr", p.Validation.PSMFDR},
		{"validation.peptide_fdr", p.Validation.PeptideFDR},
		{"validation.protein_fdr", p.Validation.ProteinFDR},
	} {
		if f.fdr < 0 || f.fdr > 1 {
			errs = append(errs, fmt.Errorf("%s must be between 0 and 1, got %g", f.name, f.fdr))
		}
	}
	if p.Validation.MaxPrecursorPPM < 0 {
		errs = append(errs, fmt.Errorf("validation.max_precursor_ppm cannot be negative"))
	}
	if p.Validation.MinPeptideLength < 0 {
		errs = append(errs, fmt.Errorf("validation.min_peptide_length cannot be negative"))
	}
	if p.Validation.MaxPeptideLength != 0 && p.Validation.MaxPeptideLength < p.Validation.MinPeptideLength {
		errs = append(errs, fmt.Errorf("validation.max_peptide_length (%d) is below min_peptide_length (%d)",
			p.Validation.MaxPeptideLength, p.Validation.MinPeptideLength))
	}
	if p.Validation.MinPeptidesPerProtein < 0 {
		errs = append(errs, fmt.Errorf("validation.min_peptides_per_protein cannot be negative"))
	}

	if p.Localization.Tolerance <= 0 {
		errs = append(errs, fmt.Errorf("localization.tolerance must be positive"))
	}
	fc := p.FilterConfig()
	if err := fc.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("localization: %w", err))
	}
	if p.Localization.MaxCombinations < 0 {
		errs = append(errs, fmt.Errorf("localization.max_combinations cannot be negative"))
	}

	if p.Processing.Workers < 1 {
		errs = append(errs, fmt.Errorf("processing.workers must be at least 1"))
	}
	if p.Processing.MaxErrors < 0 {
		errs = append(errs, fmt.Errorf("processing.max_errors cannot be negative"))
	}

	return errors.Join(errs...)
}

// Project returns the typed project type
func (p *Parameters) Project() identification.ProjectType {
	return identification.ProjectType(p.ProjectType)
}

// Orders returns the parsed per-algorithm score orders and the fallback.
// Call Validate first.
func (p *Parameters) Orders() (map[string]targetdecoy.ScoreOrder, targetdecoy.ScoreOrder) {
	orders := make(map[string]targetdecoy.ScoreOrder, len(p.ScoreOrders))
	for alg, s := range p.ScoreOrders {
		if o, err := targetdecoy.ParseScoreOrder(s); err == nil {
			orders[alg] = o
		}
	}
	fallback, err := targetdecoy.ParseScoreOrder(p.DefaultScoreOrder)
	if err != nil {
		fallback = targetdecoy.HigherIsBetter
	}
	return orders, fallback
}

// FilterConfig returns the peak filter applied before site scoring
func (p *Parameters) FilterConfig() filter.Config {
	return filter.Config{
		IntensityCutoff: p.Localization.IntensityCutoff,
		WindowTopN:      p.Localization.Depth,
		WindowSize:      p.Localization.WindowSize,
	}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
