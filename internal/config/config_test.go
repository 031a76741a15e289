package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaultsWithNoFileOrEnv(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "http://localhost:3000", cfg.CORSOrigin)
	assert.Equal(t, 24, cfg.AnomalyMinBaselineHours)
	assert.Equal(t, ":8080", cfg.ListenAddr())
}

func TestLoadPrefersAddrOverPortInListenAddr(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("ADDR", "0.0.0.0:9090")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9090", cfg.ListenAddr())
}

func TestLoadReadsEnvOverrides(t *testing.T) {
	t.Setenv("BASIC_USER", "alice")
	t.Setenv("BASIC_PASS", "secret")
	t.Setenv("ANOMALY_Z_THRESHOLD", "4.5")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "alice", cfg.BasicUser)
	assert.Equal(t, "secret", cfg.BasicPass)
	assert.Equal(t, 4.5, cfg.AnomalyZThreshold)
}

func TestLoadReadsYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "logamizer.yaml")
	contents := "port: \"9999\"\nlog_format: apache_combined\n"
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "9999", cfg.Port)
	assert.Equal(t, "apache_combined", cfg.LogFormat)
}

func TestLoadFailsOnUnreadableConfigFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestAnomalyParamsReflectsLoadedConfig(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	params := cfg.AnomalyParams()
	assert.Equal(t, cfg.AnomalyBaselineDays, params.BaselineDays)
	assert.Equal(t, cfg.AnomalyZThreshold, params.ZThreshold)
}
