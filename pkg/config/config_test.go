package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/brightway-tools/paramengine/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewHasDefaults(t *testing.T) {
	cfg := config.New()
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.True(t, cfg.Database.MigrateOnStart)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  host: 127.0.0.1
  port: 9090
database:
  dsn: postgres://example
`), 0644))

	cfg, err := config.LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "postgres://example", cfg.Database.DSN)
}

func TestLoadFileMissingIsNotAnError(t *testing.T) {
	cfg, err := config.LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, config.New().Server.Port, cfg.Server.Port)
}

func TestDatabaseURLOverride(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://from-env")
	cfg, err := config.LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "postgres://from-env", cfg.Database.DSN)
}
