package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbcontext-go/dbcontext/internal/errs"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dbcontext.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
database:
  driver: mysql
  dsn: "user:pass@tcp(localhost:3306)/appdb"
cache:
  dir: /var/lib/dbcontext
  structure_ttl: 2h
server:
  addr: ":9090"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "mysql", cfg.Database.Driver)
	assert.Equal(t, "/var/lib/dbcontext", cfg.Cache.Dir)
	assert.Equal(t, 2*time.Hour, cfg.Cache.StructureTTL)
	// Untouched keys keep their defaults.
	assert.Equal(t, 30*time.Minute, cfg.Cache.StatisticsTTL)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.True(t, cfg.Cache.LoadSnapshotEnabled())
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("DBCONTEXT_DSN", "postgres://env@localhost:5432/envdb")

	path := writeConfig(t, `
database:
  driver: postgres
  dsn: "postgres://file@localhost:5432/filedb"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "postgres://env@localhost:5432/envdb", cfg.Database.DSN)
}

func TestLoad_Validation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{
			name: "unsupported driver",
			yaml: "database:\n  driver: oracle\n  dsn: x\n",
		},
		{
			name: "missing dsn",
			yaml: "database:\n  driver: postgres\n",
		},
		{
			name: "mirror without endpoint",
			yaml: "database:\n  driver: postgres\n  dsn: x\nmirror:\n  enabled: true\n",
		},
		{
			name: "zero ttl",
			yaml: "database:\n  driver: postgres\n  dsn: x\ncache:\n  structure_ttl: 0s\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.yaml))
			require.Error(t, err)
			assert.True(t, errs.IsInvalidInput(err))
		})
	}
}

func TestLoad_DisableSnapshot(t *testing.T) {
	path := writeConfig(t, `
database:
  driver: postgres
  dsn: x
cache:
  load_snapshot: false
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.False(t, cfg.Cache.LoadSnapshotEnabled())
}
