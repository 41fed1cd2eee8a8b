package config

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSize(t *testing.T) {
	cases := map[string]uint64{
		"1024":  1024,
		"256Mi": 256 << 20,
		"4G":    4 * 1000 * 1000 * 1000,
		"1Ki":   1 << 10,
		"2gi":   2 << 30,
	}
	for in, want := range cases {
		got, err := ParseSize(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
}

func TestParseSizeRejectsGarbage(t *testing.T) {
	_, err := ParseSize("not-a-size")
	assert.Error(t, err)
}

func TestLoadDefaults(t *testing.T) {
	fs := afero.NewMemMapFs()
	cfg, err := Load(fs, "", nil)
	require.NoError(t, err)
	assert.Equal(t, DeploymentLocal, cfg.Deployment)
	assert.Equal(t, MetaBackendLocal, cfg.MetaBackend)
	assert.Equal(t, uint64(256<<20), cfg.Size)
	assert.True(t, cfg.RPC)
}

func TestLoadRejectsUnknownMetaBackend(t *testing.T) {
	fs := afero.NewMemMapFs()
	_, err := Load(fs, "", map[string]string{"meta": "bogus"})
	assert.Error(t, err)
}

func TestLoadFromYAMLFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/etc/vineyard.yaml", []byte("deployment: distributed\nmeta: redis\nmeta_endpoint: \"127.0.0.1:6379\"\n"), 0o644))

	cfg, err := Load(fs, "/etc/vineyard.yaml", nil)
	require.NoError(t, err)
	assert.Equal(t, DeploymentDistributed, cfg.Deployment)
	assert.Equal(t, MetaBackendRedis, cfg.MetaBackend)
	assert.Equal(t, "127.0.0.1:6379", cfg.MetaEndpoint)
}
