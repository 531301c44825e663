// Package config provides configuration management for roboprep.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Defaults.
const (
	DefaultPort     = 8750
	DefaultMaxConns = 4

	dataDirName    = ".roboprep"
	dbFileName     = "roboprep.db"
	configFileName = "config.yaml"
	backupDirName  = "backups"
)

// Config holds the service configuration.
type Config struct {
	Port      int    `yaml:"port"`
	DBPath    string `yaml:"db_path"`
	BackupDir string `yaml:"backup_dir"`
	MaxConns  int    `yaml:"max_conns"`
	LogLevel  string `yaml:"log_level"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Port:      DefaultPort,
		DBPath:    DBPath(),
		BackupDir: BackupDir(),
		MaxConns:  DefaultMaxConns,
		LogLevel:  "info",
	}
}

// DataDir returns the roboprep data directory (~/.roboprep).
func DataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return dataDirName
	}
	return filepath.Join(home, dataDirName)
}

// DBPath returns the SQLite database path.
func DBPath() string {
	return filepath.Join(DataDir(), dbFileName)
}

// BackupDir returns the directory pre-upgrade backups are written to.
func BackupDir() string {
	return filepath.Join(DataDir(), backupDirName)
}

// ConfigPath returns the YAML config file path.
func ConfigPath() string {
	return filepath.Join(DataDir(), configFileName)
}

// EnsureDataDir creates the data directory if it does not exist.
func EnsureDataDir() error {
	return os.MkdirAll(DataDir(), 0o755)
}

// EnsureBackupDir creates the backup directory if it does not exist.
func EnsureBackupDir() error {
	return os.MkdirAll(BackupDir(), 0o755)
}

// EnsureConfig writes a default config file if none exists.
func EnsureConfig() error {
	path := ConfigPath()
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	data, err := yaml.Marshal(Default())
	if err != nil {
		return fmt.Errorf("marshal default config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// EnsureAll creates the data directory, backup directory and config file.
func EnsureAll() error {
	if err := EnsureDataDir(); err != nil {
		return err
	}
	if err := EnsureBackupDir(); err != nil {
		return err
	}
	return EnsureConfig()
}

// Load reads the config file, applying defaults for missing fields and
// ROBOPREP_* environment overrides on top.
func Load() (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(ConfigPath())
	if err != nil {
		if os.IsNotExist(err) {
			applyEnv(cfg)
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// Re-apply defaults for zeroed fields so a sparse file stays usable.
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.MaxConns == 0 {
		cfg.MaxConns = DefaultMaxConns
	}
	if cfg.DBPath == "" {
		cfg.DBPath = DBPath()
	}
	if cfg.BackupDir == "" {
		cfg.BackupDir = BackupDir()
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	applyEnv(cfg)
	return cfg, nil
}

// applyEnv applies ROBOPREP_* environment variable overrides.
func applyEnv(cfg *Config) {
	if v := os.Getenv("ROBOPREP_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			cfg.Port = port
		}
	}
	if v := os.Getenv("ROBOPREP_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("ROBOPREP_BACKUP_DIR"); v != "" {
		cfg.BackupDir = v
	}
	if v := os.Getenv("ROBOPREP_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
}
