package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the main configuration for sfimport.
type Config struct {
	// PackageDir is the game's wgs directory. Empty means derive it from
	// LOCALAPPDATA.
	PackageDir string        `toml:"package_dir"`
	BaseDir    string        `toml:"base_dir"`
	LogDir     string        `toml:"log_dir"`
	Strategy   string        `toml:"strategy"` // "raw" (default) or "chunked"
	Backup     BackupConfig  `toml:"backup"`
	History    HistoryConfig `toml:"history"`
}

// BackupConfig selects how the container directory is preserved before an
// import mutates it.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type BackupConfig struct {
	Type string `toml:"type"` // "copy" (default), "archive" or "none"

	// Archive-specific fields (only used when Type == "archive")
	Dir           string `toml:"dir,omitempty"`
	RecipientPath string `toml:"recipient_path,omitempty"` // age public key; empty writes an unencrypted archive
	IdentityPath  string `toml:"identity_path,omitempty"`  // passphrase-protected age private key, used by extract
}

// HistoryConfig represents configuration for the import journal.
type HistoryConfig struct {
	Type    string `toml:"type"`               // "sqlite" or "memory"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
}

// NewConfig creates a Config rooted at baseDir with default settings.
func NewConfig(baseDir string) *Config {
	cfg := &Config{BaseDir: baseDir}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills every unset field from BaseDir.
func (c *Config) ApplyDefaults() {
	if c.LogDir == "" && c.BaseDir != "" {
		c.LogDir = filepath.Join(c.BaseDir, "log")
	}
	if c.Strategy == "" {
		c.Strategy = "raw"
	}
	if c.Backup.Type == "" {
		c.Backup.Type = "copy"
	}
	if c.Backup.Type == "archive" && c.Backup.Dir == "" && c.BaseDir != "" {
		c.Backup.Dir = filepath.Join(c.BaseDir, "backups")
	}
	if c.History.Type == "" {
		c.History.Type = "sqlite"
	}
	if c.History.Type == "sqlite" && c.History.DataDir == "" && c.BaseDir != "" {
		c.History.DataDir = filepath.Join(c.BaseDir, "db")
	}
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

// Load reads the config at path, or starts from an empty Config when the file
// does not exist, and applies defaults under baseDir for anything unset.
func Load(path, baseDir string) (*Config, error) {
	cfg, err := ReadFromFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		cfg, err = &Config{}, nil
	}
	if err != nil {
		return nil, err
	}
	if cfg.BaseDir == "" {
		cfg.BaseDir = baseDir
	}
	cfg.ApplyDefaults()
	return cfg, nil
}

func writeToFile(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path with the provided Config.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
