package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"oakci/internal/config"
)

func TestDefaults(t *testing.T) {
	cfg := config.Default("/tmp/project")
	assert.Equal(t, 37465, cfg.Server.Port)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, "observe", cfg.Governance.EnforcementMode)
	assert.Equal(t, 0.87, cfg.Processor.ResolveThreshold)
	assert.Equal(t, 0.80, cfg.Processor.ResolveThresholdShared)
	assert.Equal(t, 30, cfg.Processor.StaleSessionMinutes)
	assert.True(t, cfg.Indexer.WatchEnabled)
	assert.Equal(t, "hash", cfg.Embedding.Fallbacks[0].Type)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := config.Load(dir)
	require.NoError(t, err)
	assert.Equal(t, dir, cfg.ProjectRoot)
	assert.Equal(t, 37465, cfg.Server.Port)
}

func TestSaveLoadRoundtrip(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default(dir)
	cfg.Server.Port = 40000
	cfg.Governance.EnforcementMode = "enforce"
	require.NoError(t, cfg.Save())

	loaded, err := config.Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 40000, loaded.Server.Port)
	assert.Equal(t, "enforce", loaded.Governance.EnforcementMode)
	// Unset fields keep their saved values, not fresh defaults.
	assert.Equal(t, cfg.Indexer.Extensions, loaded.Indexer.Extensions)
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(config.CIDir(dir), 0o755))
	require.NoError(t, os.WriteFile(config.Path(dir), []byte("{not json"), 0o644))
	_, err := config.Load(dir)
	assert.Error(t, err)
}

func TestAuthTokenEnvOverride(t *testing.T) {
	t.Setenv(config.EnvAuthToken, "from-env")
	cfg, err := config.Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Server.AuthToken)
}

func TestCLICommand(t *testing.T) {
	t.Setenv(config.EnvCLICommand, "")
	assert.Equal(t, "oakci", config.CLICommand())
	t.Setenv(config.EnvCLICommand, "oak-ci-dev")
	assert.Equal(t, "oak-ci-dev", config.CLICommand())
}

func TestGovernanceRulesPath(t *testing.T) {
	cfg := config.Default("/tmp/project")
	assert.Equal(t, filepath.Join("/tmp/project", ".oak", "ci", "governance.yaml"), cfg.GovernanceRulesPath())
	cfg.Governance.RulesPath = "/etc/oak/rules.yaml"
	assert.Equal(t, "/etc/oak/rules.yaml", cfg.GovernanceRulesPath())
}

func TestFileAccessorPicksUpEdits(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default(dir)
	cfg.Server.Port = 41000
	require.NoError(t, cfg.Save())

	acc := config.NewFileAccessor(dir)
	assert.Equal(t, 41000, acc().Server.Port)
	// Within the TTL the cached snapshot is served.
	cfg.Server.Port = 42000
	require.NoError(t, cfg.Save())
	assert.Equal(t, 41000, acc().Server.Port)
}

func TestPathLayout(t *testing.T) {
	root := "/srv/project"
	assert.Equal(t, "/srv/project/.oak/ci", config.CIDir(root))
	assert.Equal(t, "/srv/project/.oak/ci/activities.db", config.DBPath(root))
	assert.Equal(t, "/srv/project/.oak/ci/chroma/vectors.db", config.VectorDBPath(root))
	assert.Equal(t, "/srv/project/.oak/ci-history", config.BackupDir(root))
	assert.Equal(t, "/srv/project/.oak/ci/cli_version", config.StampPath(root))
}
