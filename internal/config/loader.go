package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Loader reads a ManagerConfig from disk, following the same config.Loader
// shape: the file extension picks a codec. env is kept on the Loader but
// does not change which file is read.
type Loader struct {
	env        string
	configPath string
}

const defaultConfigPath = "config.yaml"

// NewLoader creates a Loader; an empty configPath falls back to
// defaultConfigPath.
func NewLoader(env, configPath string) *Loader {
	if configPath == "" {
		configPath = defaultConfigPath
	}
	return &Loader{env: env, configPath: configPath}
}

// Load reads and parses the configured file into a ManagerConfig.
func (l *Loader) Load() (*ManagerConfig, error) {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg ManagerConfig
	switch ext := strings.ToLower(filepath.Ext(l.configPath)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func validate(cfg *ManagerConfig) error {
	if cfg.DefaultTaskProcessor == "" {
		return fmt.Errorf("config: default_task_processor is required")
	}
	if _, ok := cfg.FindTaskProcessor(cfg.DefaultTaskProcessor); !ok {
		return fmt.Errorf("config: default_task_processor %q not declared in task_processors", cfg.DefaultTaskProcessor)
	}
	names := make(map[string]bool)
	for _, tp := range cfg.TaskProcessors {
		if tp.Name == "" {
			return fmt.Errorf("config: task processor with empty name")
		}
		if names[tp.Name] {
			return fmt.Errorf("config: duplicate task processor name %q", tp.Name)
		}
		names[tp.Name] = true
	}
	return nil
}
