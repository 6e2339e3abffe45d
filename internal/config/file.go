package config

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

type fileConfig struct {
	Defaults yaml.Node            `yaml:"defaults"`
	Datasets map[string]yaml.Node `yaml:"datasets"`
}

// Source resolves the configuration of every dataset of a run.
type Source struct {
	defaults DataConfig
	datasets map[string]yaml.Node
}

// NewSource builds the shared defaults from the environment and the YAML file at path. path may be
// empty.
func NewSource(path string, lookup LookupFunc) (*Source, error) {
	cfg := Default()
	if err := ApplyEnv(&cfg, lookup); err != nil {
		return nil, err
	}

	src := &Source{defaults: cfg}
	if path == "" {
		return src, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "unable to read config file")
	}
	var file fileConfig
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, errors.Wrapf(ErrInvalidConfig, "%s: %v", path, err)
	}
	if !file.Defaults.IsZero() {
		if err := file.Defaults.Decode(&src.defaults); err != nil {
			return nil, errors.Wrapf(ErrInvalidConfig, "%s defaults: %v", path, err)
		}
	}
	src.datasets = file.Datasets

	return src, nil
}

// For returns the configuration of dataset.
func (s *Source) For(dataset string) (DataConfig, error) {
	cfg := s.defaults
	if node, ok := s.datasets[dataset]; ok {
		if err := node.Decode(&cfg); err != nil {
			return DataConfig{}, errors.Wrapf(ErrInvalidConfig, "dataset %s: %v", dataset, err)
		}
	}
	cfg.DatasetName = dataset

	return cfg, nil
}
