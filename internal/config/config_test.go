package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadAppliesEnvFileOverDefaults(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, "aethercast.env")
	require.NoError(t, os.WriteFile(envPath, []byte("width=1920\nheight=1080\nbitrate_bps=8000000\n"), 0o644))

	cfg, err := Load("", envPath)
	require.NoError(t, err)
	require.Equal(t, 1920, cfg.Width)
	require.Equal(t, 1080, cfg.Height)
	require.Equal(t, 8_000_000, cfg.BitrateBps)
	require.Equal(t, 30, cfg.Framerate) // untouched default
}

func TestLoadAppliesYamlThenEnvFile(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "aethercast.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte("framerate: 25\nwidth: 1280\n"), 0o644))
	envPath := filepath.Join(dir, "aethercast.env")
	require.NoError(t, os.WriteFile(envPath, []byte("framerate=24\n"), 0o644))

	cfg, err := Load(yamlPath, envPath)
	require.NoError(t, err)
	require.Equal(t, 24, cfg.Framerate) // env file wins over yaml
	require.Equal(t, 1280, cfg.Width)
}

func TestValidateRejectsNonPositiveDimensions(t *testing.T) {
	cfg := Defaults()
	cfg.Width = 0
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsUndersizedMTU(t *testing.T) {
	cfg := Defaults()
	cfg.MaxUnitSize = 100
	require.Error(t, cfg.Validate())
}
