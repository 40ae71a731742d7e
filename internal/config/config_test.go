package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "blue.intranet", cfg.Group)
	assert.Equal(t, "v1alpha1", cfg.Version)
	assert.Equal(t, "ingressgateway", cfg.IngressSelector)
}

func TestLoadFileOverlay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("group: custom.example\ndefaultStoragePath: /data\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "custom.example", cfg.Group)
	assert.Equal(t, "/data", cfg.DefaultStoragePath)
	assert.Equal(t, "v1alpha1", cfg.Version)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("ML_GROUP", "env.example")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "env.example", cfg.Group)
}
