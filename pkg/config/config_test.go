package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	assert.Equal(t, "direct", cfg.CopyMode)
	assert.Equal(t, 10000, cfg.ReplicaBatchSize)
	assert.Equal(t, 10000, cfg.SnapshotWindow)
	assert.Equal(t, DDLModeSync, cfg.DDLMode)
	assert.Equal(t, "disable", cfg.TargetConn.SSLMode)
	assert.Contains(t, cfg.Hexify, "blob")
}

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "chameleon.toml")
	contents := `
my_database = "app"
my_server_id = 1000
ddl_mode = "queue"

[mysql_conn]
host = "127.0.0.1"
port = 3306
user = "root"

[target_conn]
host = "127.0.0.1"
port = 5432
database = "app"
`
	assert.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	cfg, err := Load(path)
	assert.NoError(t, err)
	assert.Equal(t, "app", cfg.MyDatabase)
	assert.Equal(t, uint32(1000), cfg.MyServerID)
	assert.Equal(t, DDLModeQueue, cfg.DDLMode)
	assert.Equal(t, "127.0.0.1", cfg.MySQLConn.Host)
	// Unset fields retain their defaults.
	assert.Equal(t, 10000, cfg.SnapshotWindow)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	assert.NoError(t, err)
	assert.Equal(t, Defaults(), cfg)
}

func TestHexifySet(t *testing.T) {
	cfg := Defaults()
	set := cfg.HexifySet()
	assert.True(t, set["blob"])
	assert.False(t, set["int"])
}
