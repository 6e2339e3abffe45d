package config

import (
	"os"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

// LookupFunc returns the value of an environment variable.
type LookupFunc func(key string) (string, bool)

// OSLookup reads the process environment.
var OSLookup LookupFunc = os.LookupEnv

// ApplyEnv overrides cfg with the VRDPREP_* variables found by lookup.
func ApplyEnv(cfg *DataConfig, lookup LookupFunc) error {
	cfg.BasePath = getEnvOrDefault(lookup, "VRDPREP_BASE_PATH", cfg.BasePath)
	cfg.OutputPath = getEnvOrDefault(lookup, "VRDPREP_OUTPUT_PATH", cfg.OutputPath)
	cfg.ImagesPath = getEnvOrDefault(lookup, "VRDPREP_IMAGES_PATH", cfg.ImagesPath)
	cfg.ImageBaseURL = getEnvOrDefault(lookup, "VRDPREP_IMAGE_BASE_URL", cfg.ImageBaseURL)
	cfg.SplitPolicy = getEnvOrDefault(lookup, "VRDPREP_SPLIT_POLICY", cfg.SplitPolicy)
	cfg.SplitSeed = getEnvOrDefault(lookup, "VRDPREP_SPLIT_SEED", cfg.SplitSeed)
	cfg.SplitFile = getEnvOrDefault(lookup, "VRDPREP_SPLIT_FILE", cfg.SplitFile)
	cfg.S3.Region = getEnvOrDefault(lookup, "VRDPREP_S3_REGION", cfg.S3.Region)
	cfg.S3.Endpoint = getEnvOrDefault(lookup, "VRDPREP_S3_ENDPOINT", cfg.S3.Endpoint)
	cfg.S3.AccessKeyID = getEnvOrDefault(lookup, "VRDPREP_S3_ACCESS_KEY_ID", cfg.S3.AccessKeyID)
	cfg.S3.SecretAccessKey = getEnvOrDefault(lookup, "VRDPREP_S3_SECRET_ACCESS_KEY", cfg.S3.SecretAccessKey)
	cfg.Manifest.DSN = getEnvOrDefault(lookup, "VRDPREP_MANIFEST_DSN", cfg.Manifest.DSN)

	var err error
	if cfg.SplitRatio, err = getFloatEnvOrDefault(lookup, "VRDPREP_SPLIT_RATIO", cfg.SplitRatio); err != nil {
		return err
	}
	if cfg.RateLimit, err = getFloatEnvOrDefault(lookup, "VRDPREP_RATE_LIMIT", cfg.RateLimit); err != nil {
		return err
	}
	if cfg.Workers, err = getIntEnvOrDefault(lookup, "VRDPREP_WORKERS", cfg.Workers); err != nil {
		return err
	}
	if cfg.MaxAttempts, err = getIntEnvOrDefault(lookup, "VRDPREP_MAX_ATTEMPTS", cfg.MaxAttempts); err != nil {
		return err
	}
	if cfg.InitialBackoff, err = getDurationEnvOrDefault(lookup, "VRDPREP_INITIAL_BACKOFF", cfg.InitialBackoff); err != nil {
		return err
	}
	if cfg.AttemptTimeout, err = getDurationEnvOrDefault(lookup, "VRDPREP_ATTEMPT_TIMEOUT", cfg.AttemptTimeout); err != nil {
		return err
	}
	if cfg.Probabilities, err = getBoolEnvOrDefault(lookup, "VRDPREP_PROBABILITIES", cfg.Probabilities); err != nil {
		return err
	}
	if cfg.PredCls, err = getBoolEnvOrDefault(lookup, "VRDPREP_PREDCLS", cfg.PredCls); err != nil {
		return err
	}

	return nil
}

func getEnvOrDefault(lookup LookupFunc, key, defaultValue string) string {
	if value, ok := lookup(key); ok && value != "" {
		return value
	}

	return defaultValue
}

func getIntEnvOrDefault(lookup LookupFunc, key string, defaultValue int) (int, error) {
	value := getEnvOrDefault(lookup, key, "")
	if value == "" {
		return defaultValue, nil
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		return 0, errors.Wrapf(ErrInvalidConfig, "%s: %v", key, err)
	}

	return i, nil
}

func getFloatEnvOrDefault(lookup LookupFunc, key string, defaultValue float64) (float64, error) {
	value := getEnvOrDefault(lookup, key, "")
	if value == "" {
		return defaultValue, nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, errors.Wrapf(ErrInvalidConfig, "%s: %v", key, err)
	}

	return f, nil
}

func getDurationEnvOrDefault(lookup LookupFunc, key string, defaultValue time.Duration) (time.Duration, error) {
	value := getEnvOrDefault(lookup, key, "")
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, errors.Wrapf(ErrInvalidConfig, "%s: %v", key, err)
	}

	return d, nil
}

func getBoolEnvOrDefault(lookup LookupFunc, key string, defaultValue bool) (bool, error) {
	value := getEnvOrDefault(lookup, key, "")
	if value == "" {
		return defaultValue, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, errors.Wrapf(ErrInvalidConfig, "%s: %v", key, err)
	}

	return b, nil
}
