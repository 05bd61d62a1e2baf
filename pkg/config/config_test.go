package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChrisMcGann/psvalidate/pkg/identification"
	"github.com/ChrisMcGann/psvalidate/pkg/targetdecoy"
)

func TestDefaultIsValid(t *testing.T) {
	p := Default()
	require.NoError(t, p.Validate())
	assert.Equal(t, identification.ProjectProtein, p.Project())
	assert.Equal(t, 0.01, p.Validation.PSMFDR)
	assert.Contains(t, p.DecoyTags, "DECOY_")
}

func TestValidateJoinsErrors(t *testing.T) {
	p := Default()
	p.ProjectType = "genome"
	p.DecoyRatio = 0
	p.Validation.PeptideFDR = 2
	p.Processing.Workers = 0
	p.ScoreOrders["Comet"] = "sideways"

	err := p.Validate()
	require.Error(t, err)
	msg := err.Error()
	for _, want := range []string{"project_type", "decoy_ratio", "validation.peptide_fdr", "processing.workers", "score_orders.Comet"} {
		assert.Contains(t, msg, want)
	}
	assert.Len(t, strings.Split(msg, "\n"), 5)
}

func TestLoadFromViper(t *testing.T) {
	v := viper.New()
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(strings.NewReader(`
project_type: peptide
score_orders:
  Mascot: lower
validation:
  psm_fdr: 0.05
processing:
  cache_ttl: 30s
`)))

	p, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, identification.ProjectPeptide, p.Project())
	assert.Equal(t, 0.05, p.Validation.PSMFDR)
	assert.Equal(t, 0.01, p.Validation.ProteinFDR, "unset keys keep their default")
	assert.Equal(t, 30*time.Second, p.Processing.CacheTTL)

	orders, fallback := p.Orders()
	assert.Equal(t, targetdecoy.HigherIsBetter, fallback)
	im := targetdecoy.NewInputMap(orders, fallback, 1, nil)
	assert.Equal(t, targetdecoy.LowerIsBetter, im.OrderOf("Mascot"))
}

func TestLoadEnvironmentOverride(t *testing.T) {
	t.Setenv("PSVALIDATE_VALIDATION_PROTEIN_FDR", "0.05")
	t.Setenv("PSVALIDATE_PROJECT_TYPE", "psm")

	p, err := Load(viper.New())
	require.NoError(t, err)
	assert.Equal(t, 0.05, p.Validation.ProteinFDR)
	assert.Equal(t, identification.ProjectPSM, p.Project())
}

func TestLoadRejectsInvalid(t *testing.T) {
	v := viper.New()
	v.Set("decoy_ratio", -1)
	_, err := Load(v)
	assert.ErrorContains(t, err, "decoy_ratio")
}

func TestSaveAndLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	p := Default()
	p.Localization.SiteThreshold = 12
	p.ScoreOrders["X!Tandem"] = "lower"
	require.NoError(t, p.SaveToFile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "site_threshold: 12")

	got, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, p, got)
}

func TestFilterConfig(t *testing.T) {
	p := Default()
	fc := p.FilterConfig()
	assert.Equal(t, 6, fc.WindowTopN)
	assert.Equal(t, 100.0, fc.WindowSize)
	assert.NoError(t, fc.Validate())
}

func TestFilterConfigCutoff(t *testing.T) {
	p := Default()
	p.Localization.IntensityCutoff = 150
	assert.ErrorContains(t, p.Validate(), "intensity cutoff")

	p.Localization.IntensityCutoff = 5
	require.NoError(t, p.Validate())
	assert.Equal(t, 5.0, p.FilterConfig().IntensityCutoff)
}

func TestValidateErrorOrder(t *testing.T) {
	p := Default()
	p.Validation.ProteinFDR = 3
	p.Validation.PeptideFDR = -1
	p.Validation.PSMFDR = 2

	want := []string{
		"validation.psm_fdr must be between 0 and 1, got 2",
		"validation.peptide_fdr must be between 0 and 1, got -1",
		"validation.protein_fdr must be between 0 and 1, got 3",
	}
	for range 20 {
		err := p.Validate()
		require.Error(t, err)
		assert.Equal(t, want, strings.Split(err.Error(), "\n"))
	}
}

func TestMaxCombinations(t *testing.T) {
	p := Default()
	p.Localization.MaxCombinations = 0
	assert.NoError(t, p.Validate(), "0 leaves placements unlimited")

	p.Localization.MaxCombinations = -1
	assert.ErrorContains(t, p.Validate(), "localization.max_combinations cannot be negative")
}
