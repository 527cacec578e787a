package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/wmca-epc/internal/pipeline"
)

// LoadPipeline reads a YAML pipeline config. Thresholds omitted from the
// file keep their production defaults, so an empty or absent file is valid.
func LoadPipeline(path string) (pipeline.Config, error) {
	cfg := pipeline.DefaultConfig()

	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("failed to read pipeline config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse pipeline config %s: %w", path, err)
	}

	return cfg, nil
}
