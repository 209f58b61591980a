package main

import (
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"
)

// Default distance constants, in ICFG-edge units.
const (
	defaultExternCallDist    = 30
	defaultRecursiveCallDist = 25
)

// Config holds the tunables an analyzer.yml may override.
type Config struct {
	Workers           int    `yaml:"workers"`
	LogLevel          string `yaml:"logLevel"`
	ExternCallDist    int32  `yaml:"externCallDist"`
	RecursiveCallDist int32  `yaml:"recursiveCallDist"`
}

func defaultConfig() Config {
	return Config{
		ExternCallDist:    defaultExternCallDist,
		RecursiveCallDist: defaultRecursiveCallDist,
	}
}

// LoadConfig decodes an analyzer.yml. Missing keys keep their defaults;
// an empty path returns the defaults untouched.
func LoadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("%w: reading config %s: %v", ErrIO, path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("%w: config %s: %v", ErrMalformed, path, err)
	}
	if cfg.ExternCallDist <= 0 {
		cfg.ExternCallDist = defaultExternCallDist
	}
	if cfg.RecursiveCallDist <= 0 {
		cfg.RecursiveCallDist = defaultRecursiveCallDist
	}
	if cfg.LogLevel != "" {
		level, err := log.ParseLevel(cfg.LogLevel)
		if err != nil {
			return cfg, fmt.Errorf("%w: config %s: %v", ErrMalformed, path, err)
		}
		log.SetLevel(level)
	}
	return cfg, nil
}
