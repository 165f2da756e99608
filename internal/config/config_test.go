package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradepipeline/internal/models"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadCreatesTemplateOnFirstRun(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Load(dir)
	require.NoError(t, err)

	// First run leaves an editable template behind and yields defaults.
	_, statErr := os.Stat(filepath.Join(dir, "config.toml"))
	assert.NoError(t, statErr)
	assert.Equal(t, Default().Sizing, cfg.Sizing)
	assert.Equal(t, Default().Risk, cfg.Risk)
}

func TestLoadReadsOverrides(t *testing.T) {
	dir := t.TempDir()
	content := `
[sizing]
method = "risk_parity"
max_position_size = 0.2

[risk]
max_iterations = 5
on_non_convergence = "abort"

[execution]
default_order_type = "LIMIT"
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.toml"), []byte(content), 0644))

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, MethodRiskParity, cfg.Sizing.Method)
	assert.Equal(t, 0.2, cfg.Sizing.MaxPositionSize)
	assert.Equal(t, 5, cfg.Risk.MaxIterations)
	assert.Equal(t, NonConvergenceAbort, cfg.Risk.OnNonConvergence)
	assert.Equal(t, models.OrderTypeLimit, cfg.Execution.DefaultOrderType)
	// Untouched sections keep their defaults.
	assert.Equal(t, Default().Correlation, cfg.Correlation)
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	content := `
[risk]
resize_threshold = 1.5
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.toml"), []byte(content), 0644))

	_, err := Load(dir)
	require.Error(t, err)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("PIPELINE_LOG_LEVEL", "debug")
	t.Setenv("PIPELINE_STORE_PATH", "/tmp/override.db")

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "/tmp/override.db", cfg.Store.Path)
}

func TestSizingValidate(t *testing.T) {
	cfg := Default().Sizing

	cfg.MaxPositionSize = 0
	assert.Error(t, cfg.Validate())

	cfg = Default().Sizing
	cfg.MinPositionSize = cfg.MaxPositionSize + 0.1
	assert.Error(t, cfg.Validate())

	cfg = Default().Sizing
	cfg.SignalDeadband = 1
	assert.Error(t, cfg.Validate())

	cfg = Default().Sizing
	cfg.LearningRate = 2
	assert.Error(t, cfg.Validate())
}

func TestRiskValidate(t *testing.T) {
	cfg := Default().Risk

	cfg.MaxIterations = 0
	assert.Error(t, cfg.Validate())

	cfg = Default().Risk
	cfg.ResizeThreshold = 1
	assert.Error(t, cfg.Validate())

	cfg = Default().Risk
	cfg.OnNonConvergence = "retry"
	assert.Error(t, cfg.Validate())

	cfg = Default().Risk
	cfg.VaRLimit = 0
	assert.Error(t, cfg.Validate())
}

func TestCorrelationValidate(t *testing.T) {
	cfg := Default().Correlation

	cfg.MaxCorrelation = 1
	assert.Error(t, cfg.Validate())

	cfg = Default().Correlation
	cfg.AdjustmentFactor = 0
	assert.Error(t, cfg.Validate())
}

func TestExecutionValidate(t *testing.T) {
	cfg := Default().Execution

	cfg.DefaultOrderType = "TWAP"
	assert.Error(t, cfg.Validate())

	cfg = Default().Execution
	cfg.TimeInForce = "FOREVER"
	assert.Error(t, cfg.Validate())

	cfg = Default().Execution
	cfg.PriceThreshold = 0
	assert.Error(t, cfg.Validate())

	cfg = Default().Execution
	cfg.MarketImpactLimit = 0
	assert.Error(t, cfg.Validate())
}
