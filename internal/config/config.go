// Package config loads netlens configuration from YAML with environment
// overrides for deployment-specific values.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"netlens/internal/browser"
	"netlens/internal/types"
)

// EnvDebuggerURL overrides the configured DevTools endpoint.
const EnvDebuggerURL = "NETLENS_DEBUGGER_URL"

// Config holds all netlens configuration.
type Config struct {
	Browser browser.Config `yaml:"browser"`
	Store   StoreConfig    `yaml:"store"`
	Monitor MonitorConfig  `yaml:"monitor"`
	Logging LoggingConfig  `yaml:"logging"`
}

// StoreConfig configures the request store.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// MonitorConfig configures tracking behavior.
type MonitorConfig struct {
	Filter        types.RequestFilter `yaml:"filter"`
	UpdateBuffer  int                 `yaml:"update_buffer"`  // live feed channel capacity
	SaveBuffer    int                 `yaml:"save_buffer"`    // persistence queue capacity
	RetentionDays int                 `yaml:"retention_days"` // 0 disables automatic pruning
}

// LoggingConfig configures category file logging.
type LoggingConfig struct {
	Enabled bool   `yaml:"enabled"`
	Level   string `yaml:"level"`
	Dir     string `yaml:"dir"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Browser: browser.DefaultConfig(),
		Store: StoreConfig{
			Path: filepath.Join(".netlens", "requests.db"),
		},
		Monitor: MonitorConfig{
			UpdateBuffer:  256,
			SaveBuffer:    1024,
			RetentionDays: 7,
		},
		Logging: LoggingConfig{
			Level: "info",
			Dir:   filepath.Join(".netlens", "logs"),
		},
	}
}

// Load reads the config file at path, fills unset fields with defaults,
// and applies environment overrides. A missing file is not an error; the
// defaults apply.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnv(&cfg)
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if cfg.Monitor.UpdateBuffer <= 0 {
		cfg.Monitor.UpdateBuffer = 256
	}
	if cfg.Monitor.SaveBuffer <= 0 {
		cfg.Monitor.SaveBuffer = 1024
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = Default().Store.Path
	}

	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv(EnvDebuggerURL); v != "" {
		cfg.Browser.DebuggerURL = v
	}
}
