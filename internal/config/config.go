// Package config resolves the configuration of each dataset. Values come from the defaults, then
// VRDPREP_* environment variables, then the defaults block of an optional YAML file, then the block
// of the dataset in that file. Command line flags are applied last by the caller.
package config

import (
	"path/filepath"
	"time"

	"github.com/pkg/errors"

	"github.com/askiada/vrdprep/pkg/vrd"
)

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("invalid config")

// Split policies.
const (
	PolicyPredefined = "predefined"
	PolicyHash       = "deterministic-hash"
)

// S3Config configures the s3 fetcher.
type S3Config struct {
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

// ManifestConfig selects the manifest store. An empty DSN keeps manifests in files.
type ManifestConfig struct {
	DSN string `yaml:"dsn"`
}

// NegativesConfig names the predicates negatives are mined for. Unshared predicates have a single
// subject per object, exclusive predicates a single object per subject.
type NegativesConfig struct {
	Unshared  []string `yaml:"unshared"`
	Exclusive []string `yaml:"exclusive"`
}

// DataConfig is the configuration of one dataset run.
type DataConfig struct {
	BasePath     string `yaml:"base_path"`
	DatasetName  string `yaml:"dataset_name"`
	OutputPath   string `yaml:"output_path"`
	ImagesPath   string `yaml:"images_path"`
	ImageBaseURL string `yaml:"image_base_url"`

	// SplitPolicy is empty to use the default policy of the dataset.
	SplitPolicy string  `yaml:"split_policy"`
	SplitRatio  float64 `yaml:"split_ratio"`
	SplitSeed   string  `yaml:"split_seed"`
	SplitFile   string  `yaml:"split_file"`

	Workers        int           `yaml:"workers"`
	MaxAttempts    int           `yaml:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	AttemptTimeout time.Duration `yaml:"attempt_timeout"`
	RateLimit      float64       `yaml:"rate_limit"`

	Probabilities bool `yaml:"probabilities"`

	// PredCls writes the predicate classification files: every object pair of each image, merged
	// predicate ids and negatives.
	PredCls   bool            `yaml:"predcls"`
	Negatives NegativesConfig `yaml:"negatives"`

	S3       S3Config       `yaml:"s3"`
	Manifest ManifestConfig `yaml:"manifest"`
}

// Default returns the built-in configuration.
func Default() DataConfig {
	return DataConfig{
		BasePath:       "data",
		SplitRatio:     vrd.DefaultSplitRatio,
		SplitSeed:      vrd.DefaultSplitSeed,
		Workers:        4,
		MaxAttempts:    3,
		InitialBackoff: 500 * time.Millisecond,
		AttemptTimeout: 30 * time.Second,
		Probabilities:  true,
		PredCls:        true,
		S3:             S3Config{Region: "us-east-1"},
	}
}

// RawDir is the directory holding the raw annotations of the dataset.
func (c DataConfig) RawDir() string {
	return filepath.Join(c.BasePath, c.DatasetName)
}

// OutputDir is the directory receiving the split files and the manifest of the dataset.
func (c DataConfig) OutputDir() string {
	root := c.OutputPath
	if root == "" {
		root = filepath.Join(c.BasePath, "processed")
	}

	return filepath.Join(root, c.DatasetName)
}

// ManifestRoot is the root of the file manifest store, the manifest of the dataset being
// ManifestRoot/<dataset>/manifest.json, next to the split files.
func (c DataConfig) ManifestRoot() string {
	return filepath.Dir(c.OutputDir())
}

// ImagesDir is the directory receiving the images of the dataset.
func (c DataConfig) ImagesDir() string {
	if c.ImagesPath != "" {
		return c.ImagesPath
	}

	return filepath.Join(c.OutputDir(), "images")
}

// Validate rejects values the pipeline cannot run with.
func (c DataConfig) Validate() error {
	switch {
	case c.BasePath == "":
		return errors.Wrap(ErrInvalidConfig, "base_path must be set")
	case c.DatasetName == "":
		return errors.Wrap(ErrInvalidConfig, "dataset_name must be set")
	case c.SplitPolicy != "" && c.SplitPolicy != PolicyPredefined && c.SplitPolicy != PolicyHash:
		return errors.Wrapf(ErrInvalidConfig, "unknown split_policy %q", c.SplitPolicy)
	case c.SplitRatio <= 0 || c.SplitRatio >= 1:
		return errors.Wrapf(ErrInvalidConfig, "split_ratio %v must be in (0, 1)", c.SplitRatio)
	case c.Workers < 1:
		return errors.Wrapf(ErrInvalidConfig, "workers %d must be positive", c.Workers)
	case c.MaxAttempts < 1:
		return errors.Wrapf(ErrInvalidConfig, "max_attempts %d must be positive", c.MaxAttempts)
	case c.InitialBackoff < 0 || c.AttemptTimeout < 0:
		return errors.Wrap(ErrInvalidConfig, "durations must not be negative")
	case c.RateLimit < 0:
		return errors.Wrapf(ErrInvalidConfig, "rate_limit %v must not be negative", c.RateLimit)
	}

	return nil
}
