// Package config implements TOML configuration loading for chameleon,
// covering every option enumerated in spec.md §6.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// MySQLConn mirrors spec.md §6's mysql_conn: host/user/passwd connection
// settings for the source.
type MySQLConn struct {
	Host   string `toml:"host"`
	Port   int    `toml:"port"`
	User   string `toml:"user"`
	Passwd string `toml:"passwd"`
}

// TargetConn holds the Postgres target connection settings.
type TargetConn struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	User     string `toml:"user"`
	Passwd   string `toml:"passwd"`
	Database string `toml:"database"`
	SSLMode  string `toml:"sslmode"`
}

// LoggingConfig controls the logrus sink wired in cmd/chameleon.
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// DDLMode selects how the CDC engine forwards normalized DDL to the target,
// per spec.md §9's open question.
type DDLMode string

const (
	DDLModeSync  DDLMode = "sync"  // mode (a): apply before the next row event (default)
	DDLModeQueue DDLMode = "queue" // mode (b): queue alongside row records
	DDLModeAbort DDLMode = "abort" // mode (c): abort on DDL
)

// Config is the full set of options recognized by chameleon, per spec.md §6.
type Config struct {
	MySQLConn  MySQLConn  `toml:"mysql_conn"`
	TargetConn TargetConn `toml:"target_conn"`
	Logging    LoggingConfig `toml:"logging"`

	MyServerID uint32   `toml:"my_server_id"`
	MyDatabase string   `toml:"my_database"`
	MyCharset  string   `toml:"my_charset"`
	TablesLimit []string `toml:"tables_limit"`

	CopyMode          string  `toml:"copy_mode"`           // "direct" | "file"
	Hexify            []string `toml:"hexify"`
	ReplicaBatchSize  int     `toml:"replica_batch_size"`
	SnapshotWindow    int     `toml:"snapshot_window"`
	DDLMode           DDLMode `toml:"ddl_mode"`
	FlushMode         string  `toml:"flush_mode"` // "bounded" | "per-batch"
}

// Defaults returns a Config with every spec.md §6 option set to its
// documented default.
func Defaults() Config {
	return Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		MyCharset:        "utf8mb4",
		CopyMode:         "direct",
		Hexify:           []string{"binary", "varbinary", "blob", "tinyblob", "mediumblob", "longblob"},
		ReplicaBatchSize: 10000,
		SnapshotWindow:   10000,
		DDLMode:          DDLModeSync,
		FlushMode:        "bounded",
		TargetConn: TargetConn{
			SSLMode: "disable",
		},
	}
}

// Load decodes a TOML configuration file over the defaults.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if path == "" {
		return cfg, nil
	}
	if _, err := os.Stat(path); err != nil {
		return cfg, fmt.Errorf("config file %s: %w", path, err)
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// HexifySet returns Hexify as a lookup set for pkg/projection and pkg/cdc.
func (c Config) HexifySet() map[string]bool {
	set := make(map[string]bool, len(c.Hexify))
	for _, t := range c.Hexify {
		set[t] = true
	}
	return set
}
