package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"horse.fit/harvest/internal/collect"
)

// SourcesFile is the YAML input of the pipeline command.
type SourcesFile struct {
	Sources   []collect.Source `yaml:"sources"`
	Threshold float64          `yaml:"threshold"`
	Quick     bool             `yaml:"quick"`
}

func LoadSources(path string) (*SourcesFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sources file: %w", err)
	}

	var file SourcesFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse sources file %s: %w", path, err)
	}
	if err := file.Validate(); err != nil {
		return nil, fmt.Errorf("sources file %s: %w", path, err)
	}
	return &file, nil
}

func (f *SourcesFile) Validate() error {
	if len(f.Sources) == 0 {
		return fmt.Errorf("at least one source is required")
	}
	for i := range f.Sources {
		f.Sources[i].Source = strings.TrimSpace(f.Sources[i].Source)
		if f.Sources[i].Source == "" {
			return fmt.Errorf("sources[%d].source must not be empty", i)
		}
		kind, err := collect.ParseSourceType(string(f.Sources[i].Type))
		if err != nil {
			return fmt.Errorf("sources[%d]: %w", i, err)
		}
		f.Sources[i].Type = kind
	}
	if f.Threshold < 0 || f.Threshold > 1 {
		return fmt.Errorf("threshold must be in [0, 1]")
	}
	return nil
}
