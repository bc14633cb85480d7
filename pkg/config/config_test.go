package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 768, cfg.VectorConfig.D)
	assert.Equal(t, 1, cfg.NumShards)
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "./data", cfg.DataDir)
}

func TestLoadOverridesOnlyNamedFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
data_dir: /var/lib/engine
num_shards: 8
vector:
  dim: 1536
hnsw:
  ef_search: 128
reconcile_min_interval: 1ms
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/engine", cfg.DataDir)
	assert.Equal(t, 8, cfg.NumShards)
	assert.Equal(t, 1536, cfg.VectorConfig.D)
	assert.Equal(t, 128, cfg.HNSWConfig.EfSearch)
	assert.Equal(t, time.Millisecond, cfg.ReconcileMinInterval)

	// Untouched fields keep the default config's values.
	assert.Equal(t, 16, cfg.HNSWConfig.M)
	assert.Equal(t, 256, cfg.VectorConfig.K)
}

func TestLoadRejectsBadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tx_timeout: not-a-duration\n"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.yaml")
	require.NoError(t, os.WriteFile(path, []byte("data_dir: [unterminated\n"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}
