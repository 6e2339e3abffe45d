// Command vrdprep prepares visual relationship datasets for training.
//
//	vrdprep [flags] [dataset...]
//
// Each dataset is parsed, normalized, split, written and its images acquired. Unknown datasets are
// skipped, VRD is prepared when none is known.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-logr/logr"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/askiada/vrdprep/internal/config"
	"github.com/askiada/vrdprep/internal/metrics"
	"github.com/askiada/vrdprep/pkg/acquire"
	"github.com/askiada/vrdprep/pkg/datasets"
	"github.com/askiada/vrdprep/pkg/manifest/pgstore"
	"github.com/askiada/vrdprep/pkg/report"
	"github.com/askiada/vrdprep/pkg/transform"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	klog.Flush()
	os.Exit(code)
}

type flags struct {
	configPath string
	basePath   string
	outputPath string
	workers    int
	drawDir    string
	reportPath string
	metrics    string
}

// apply overrides cfg with the flags that were set.
func (f flags) apply(cfg *config.DataConfig) {
	if f.basePath != "" {
		cfg.BasePath = f.basePath
	}
	if f.outputPath != "" {
		cfg.OutputPath = f.outputPath
	}
	if f.workers > 0 {
		cfg.Workers = f.workers
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("vrdprep", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var f flags
	fs.StringVar(&f.configPath, "config", "", "YAML configuration file")
	fs.StringVar(&f.basePath, "base-path", "", "directory holding one raw directory per dataset")
	fs.StringVar(&f.outputPath, "output", "", "directory receiving one processed directory per dataset")
	fs.IntVar(&f.workers, "workers", 0, "concurrent image downloads")
	fs.StringVar(&f.drawDir, "draw", "", "directory receiving a DOT drawing of each pipeline")
	fs.StringVar(&f.reportPath, "report", "", "XLSX report file")
	fs.StringVar(&f.metrics, "metrics", "", "Prometheus textfile")
	klog.InitFlags(fs)
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: vrdprep [flags] [dataset...]\n\nFlags:\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return 2
	}

	logger := klog.NewKlogr().WithName("vrdprep")

	registry, err := datasets.Default()
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	src, err := config.NewSource(f.configPath, config.OSLookup)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}

	var msr *metrics.Metrics
	if f.metrics != "" {
		msr = metrics.New()
	}

	code := 0
	var results []*transform.Result
	for _, name := range registry.Select(logger, fs.Args()) {
		res, err := prepare(ctx, logger, registry, src, f, name, msr)
		if err != nil {
			fmt.Fprintf(stderr, "%s: %v\n", name, err)
			code = 1
			continue
		}
		results = append(results, res)
		fmt.Fprintln(stdout, res.StatusLine())
		if res.State == transform.StateFailed {
			code = 1
		}
	}

	if f.reportPath != "" {
		if err := report.WriteXLSX(f.reportPath, results); err != nil {
			logger.Error(err, "unable to write report", "path", f.reportPath)
		}
	}
	if err := msr.WriteTextfile(f.metrics); err != nil {
		logger.Error(err, "unable to write metrics", "path", f.metrics)
	}
	fmt.Fprintln(stdout, "Done")

	return code
}

// prepare runs one dataset. The returned error is a configuration error, a failed run is reported
// by the result.
func prepare(
	ctx context.Context,
	logger logr.Logger,
	registry *transform.Registry,
	src *config.Source,
	f flags,
	name string,
	msr *metrics.Metrics,
) (*transform.Result, error) {
	cfg, err := src.For(name)
	if err != nil {
		return nil, err
	}
	f.apply(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	deps := transform.Deps{
		Logger:  logger,
		Fetcher: fetcher(ctx, logger, cfg),
		Metrics: msr,
		DrawDir: f.drawDir,
	}
	if cfg.Manifest.DSN != "" {
		store, err := pgstore.New(ctx, cfg.Manifest.DSN)
		if err != nil {
			return nil, errors.Wrap(err, "unable to open manifest database")
		}
		defer store.Close()
		deps.Store = store
	}

	factory, ok := registry.Lookup(name)
	if !ok {
		return nil, errors.Errorf("unknown dataset %q", name)
	}
	tr, err := factory(cfg, deps)
	if err != nil {
		return nil, err
	}

	res, _ := tr.Transform(ctx)

	return res, nil
}

// fetcher serves http, https and file URLs, and s3 URLs when an S3 client can be configured.
func fetcher(ctx context.Context, logger logr.Logger, cfg config.DataConfig) acquire.Fetcher {
	var s3 acquire.Fetcher
	s3Fetcher, err := acquire.NewS3Fetcher(ctx, acquire.S3Config{
		Region:          cfg.S3.Region,
		Endpoint:        cfg.S3.Endpoint,
		AccessKeyID:     cfg.S3.AccessKeyID,
		SecretAccessKey: cfg.S3.SecretAccessKey,
	})
	if err != nil {
		logger.Error(err, "s3 urls are not supported")
	} else {
		s3 = s3Fetcher
	}

	return acquire.NewSchemeFetcher(cfg.AttemptTimeout, s3)
}
