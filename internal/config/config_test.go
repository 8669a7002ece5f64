package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"koloda/internal/config"
	"koloda/internal/secret"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("KOLODA_DATA_DIR", t.TempDir())

	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, "koloda", cfg.Service)
	assert.Equal(t, secret.BackendAuto, cfg.Backend)
	assert.Equal(t, "koloda.db", cfg.DatabaseFile)
	assert.True(t, cfg.WatchSecretsFile)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
}

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "koloda.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
service: koloda-dev
backend: file
data_dir: `+dir+`
watch_secrets_file: false
log:
  level: debug
  format: json
`), 0o600))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "koloda-dev", cfg.Service)
	assert.Equal(t, secret.BackendFile, cfg.Backend)
	assert.Equal(t, dir, cfg.DataDir)
	assert.False(t, cfg.WatchSecretsFile)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, filepath.Join(dir, "koloda.db"), cfg.DatabasePath())

	opts := cfg.SecretOptions()
	assert.Equal(t, "koloda-dev", opts.Service)
	assert.Equal(t, dir, opts.DataDir)
	assert.False(t, opts.WatchFile)
}

func TestLoad_ConfigInDataDir(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("KOLODA_DATA_DIR", dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("backend: keyring\n"), 0o600))

	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, secret.BackendKeyring, cfg.Backend)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "koloda.yaml")
	require.NoError(t, os.WriteFile(path, []byte("backend: keyring\ndata_dir: "+dir+"\n"), 0o600))
	t.Setenv("KOLODA_BACKEND", "file")
	t.Setenv("KOLODA_LOG_LEVEL", "warn")

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, secret.BackendFile, cfg.Backend)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoad_RejectsUnknownBackend(t *testing.T) {
	t.Setenv("KOLODA_DATA_DIR", t.TempDir())
	t.Setenv("KOLODA_BACKEND", "vault9000")

	_, err := config.Load("")
	assert.ErrorContains(t, err, "unknown backend")
}

func TestValidate(t *testing.T) {
	valid := config.Config{Service: "koloda", Backend: secret.BackendFile, DataDir: "/tmp/k", DatabaseFile: "k.db"}
	assert.NoError(t, valid.Validate())

	noService := valid
	noService.Service = "  "
	assert.Error(t, noService.Validate())

	noDir := valid
	noDir.DataDir = ""
	assert.Error(t, noDir.Validate())
}

func TestDatabasePath_Absolute(t *testing.T) {
	abs := filepath.Join(t.TempDir(), "elsewhere.db")
	cfg := config.Config{DataDir: "/data", DatabaseFile: abs}
	assert.Equal(t, abs, cfg.DatabasePath())
}
