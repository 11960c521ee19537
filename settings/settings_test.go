package settings

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	c := DefaultConfig()
	require.NoError(t, c.Validate())

	assert.Equal(t, EngineDuckDB, c.Engine)
	assert.Equal(t, 10000.0, c.Process.SurfaceVegetation)
	assert.Equal(t, 2500.0, c.Process.SurfaceHydro)
	assert.Equal(t, 11, c.Process.LCZWeights[105])
	assert.Equal(t, 16, c.Process.LCZWeights[103])
	assert.Equal(t, 16, c.Process.LCZWeights[104])
}

func TestLoadConfigFromYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "geoclimate.yaml")

	content := `
engine: postgis
database:
  connection_string: postgres://user:pw@db:5432/gc
  max_connections: 2
process:
  srid: 32631
  surface_vegetation: 5000
  lcz_levels: 3
server:
  port: 9090
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	c, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, EnginePostGIS, c.Engine)
	assert.Equal(t, "postgres://user:pw@db:5432/gc", c.Database.ConnectionString)
	assert.Equal(t, int32(2), c.Database.MaxConnections)
	assert.Equal(t, 32631, c.Process.SRID)
	assert.Equal(t, 5000.0, c.Process.SurfaceVegetation)
	assert.Equal(t, 3, c.Process.LCZLevels)
	assert.Equal(t, 9090, c.Server.Port)

	// untouched values keep their defaults
	assert.Equal(t, 2500.0, c.Process.SurfaceHydro)
	assert.Equal(t, 500, c.Process.BatchSize)
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("GEOCLIMATE_SRID", "3857")
	t.Setenv("GEOCLIMATE_DUCKDB_PATH", "/tmp/gc.duckdb")

	c, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, 3857, c.Process.SRID)
	assert.Equal(t, "/tmp/gc.duckdb", c.DuckDB.Path)
}

func TestLoadConfigInvalidEnv(t *testing.T) {
	t.Setenv("GEOCLIMATE_SRID", "lambert")

	_, err := LoadConfig("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GEOCLIMATE_SRID")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(c *Config)
	}{
		{"unknown engine", func(c *Config) { c.Engine = "h2gis" }},
		{"postgis without connection", func(c *Config) {
			c.Engine = EnginePostGIS
			c.Database.ConnectionString = ""
		}},
		{"zero batch", func(c *Config) { c.Process.BatchSize = 0 }},
		{"too many levels", func(c *Config) { c.Process.LCZLevels = 10 }},
		{"no levels", func(c *Config) { c.Process.LCZLevels = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultConfig()
			tt.modify(&c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestMissingConfigFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
