package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"assetbank/internal/constants"
	"assetbank/internal/logger"
)

// RootsConfig holds the absolute base paths the catalog is allowed to see.
// Models are subdivided into categories, each backed by one or more base
// directories (the first base is where uploads for that category land).
type RootsConfig struct {
	Input  string              `yaml:"input"`
	Output string              `yaml:"output"`
	Models map[string][]string `yaml:"models"`
}

// UploadConfig holds upload-specific settings.
type UploadConfig struct {
	// TempDir receives in-flight multipart bodies; each upload gets a
	// fresh uuid-named subdirectory. Defaults to <state_dir>/uploads.
	TempDir string `yaml:"temp_dir"`
}

// Config holds all application configuration.
type Config struct {
	ListenAddr    string       `yaml:"listen_addr"`
	StateDir      string       `yaml:"state_dir"`
	LogLevel      string       `yaml:"log_level"`
	ScanOnStart   bool         `yaml:"scan_on_start"`
	MaxBindParams int          `yaml:"max_bind_params"`
	Roots         RootsConfig  `yaml:"roots"`
	Upload        UploadConfig `yaml:"upload"`
}

// ApplyDefaults fills zero-valued fields with constant defaults.
func (cfg *Config) ApplyDefaults() {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = constants.DefaultListenAddr
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = constants.DefaultLogLevel
	}
	if cfg.MaxBindParams == 0 {
		cfg.MaxBindParams = constants.MaxBindParams
	}
	if cfg.StateDir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			cfg.StateDir = filepath.Join(home, constants.StateDirName)
		}
	}
	if cfg.Upload.TempDir == "" && cfg.StateDir != "" {
		cfg.Upload.TempDir = filepath.Join(cfg.StateDir, constants.UploadTempDirName)
	}
}

// Validate checks that all configured values are usable. Root base paths
// must be absolute; relative bases would make prefix classification
// depend on the process working directory.
func (cfg *Config) Validate() error {
	var errs []string

	if cfg.StateDir == "" {
		errs = append(errs, "state_dir must be set")
	}
	if cfg.MaxBindParams < 16 {
		errs = append(errs, "max_bind_params must be >= 16")
	}
	if cfg.Roots.Input == "" {
		errs = append(errs, "roots.input must be set")
	} else if !filepath.IsAbs(cfg.Roots.Input) {
		errs = append(errs, "roots.input must be an absolute path")
	}
	if cfg.Roots.Output == "" {
		errs = append(errs, "roots.output must be set")
	} else if !filepath.IsAbs(cfg.Roots.Output) {
		errs = append(errs, "roots.output must be an absolute path")
	}
	for category, bases := range cfg.Roots.Models {
		if len(bases) == 0 {
			errs = append(errs, fmt.Sprintf("roots.models.%s has no base paths", category))
		}
		for _, b := range bases {
			if !filepath.IsAbs(b) {
				errs = append(errs, fmt.Sprintf("roots.models.%s: %q must be an absolute path", category, b))
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// DatabasePath returns the catalog database location under the state dir.
func (cfg *Config) DatabasePath() string {
	return filepath.Join(cfg.StateDir, constants.DatabaseName)
}

// LogEffectiveValues logs all effective configuration values at startup.
func (cfg *Config) LogEffectiveValues(log *logger.Logger) {
	log.Info("config: listen_addr=%s", cfg.ListenAddr)
	log.Info("config: state_dir=%s", cfg.StateDir)
	log.Info("config: log_level=%s", cfg.LogLevel)
	log.Info("config: scan_on_start=%v", cfg.ScanOnStart)
	log.Info("config: max_bind_params=%d", cfg.MaxBindParams)
	log.Info("config: roots.input=%s", cfg.Roots.Input)
	log.Info("config: roots.output=%s", cfg.Roots.Output)

	categories := make([]string, 0, len(cfg.Roots.Models))
	for c := range cfg.Roots.Models {
		categories = append(categories, c)
	}
	sort.Strings(categories)
	for _, c := range categories {
		log.Info("config: roots.models.%s=%s", c, strings.Join(cfg.Roots.Models[c], string(os.PathListSeparator)))
	}
	log.Info("config: upload.temp_dir=%s", cfg.Upload.TempDir)
}

// LoadConfig reads the YAML config at path, applies defaults and validates.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SaveConfig writes cfg as YAML to path, creating parent directories.
func SaveConfig(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), constants.DirPermissions); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// EnsureStateDirs creates the state and upload temp directories.
func (cfg *Config) EnsureStateDirs() error {
	if err := os.MkdirAll(cfg.StateDir, constants.DirPermissions); err != nil {
		return err
	}
	return os.MkdirAll(cfg.Upload.TempDir, constants.DirPermissions)
}
