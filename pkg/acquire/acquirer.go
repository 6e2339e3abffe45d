package acquire

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/go-logr/logr"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"
	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/askiada/vrdprep/internal/metrics"
	"github.com/askiada/vrdprep/pkg/manifest"
	"github.com/askiada/vrdprep/pkg/pipeline"
	"github.com/askiada/vrdprep/pkg/pipeline/model"
)

// Outcome labels.
const (
	OutcomeFetched = "fetched"
	OutcomeFailed  = "failed"
	OutcomeSkipped = "skipped"
)

// Target is an image to make available at LocalPath. Width, Height and SHA256 are checked when set.
type Target struct {
	ImageID   string
	URL       string
	LocalPath string
	Width     int
	Height    int
	SHA256    string
}

// Config bounds the acquisition.
type Config struct {
	// Workers is the number of concurrent fetches.
	Workers int
	// MaxAttempts is the number of attempts per image, the first one included.
	MaxAttempts int
	// InitialBackoff is the wait after the first failed attempt, doubled after each one.
	InitialBackoff time.Duration
	// AttemptTimeout bounds a single attempt. Zero means no bound.
	AttemptTimeout time.Duration
	// RateLimit is the maximum number of attempts per second across workers. Zero means no limit.
	RateLimit float64
}

// DefaultConfig returns the default acquisition bounds.
func DefaultConfig() Config {
	return Config{
		Workers:        4,
		MaxAttempts:    3,
		InitialBackoff: 500 * time.Millisecond,
		AttemptTimeout: 30 * time.Second,
	}
}

// Report summarizes one acquisition. Entries follow the order of the targets.
type Report struct {
	Entries []manifest.Entry
	Fetched int
	Failed  int
	Skipped int
}

// Option configures an Acquirer.
type Option func(a *Acquirer)

func WithConfig(cfg Config) Option {
	return func(a *Acquirer) { a.cfg = cfg }
}

func WithLogger(logger logr.Logger) Option {
	return func(a *Acquirer) { a.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Acquirer) { a.metrics = m }
}

// WithPipelineOptions adds options to the fetch pipeline, to measure or draw it.
func WithPipelineOptions(opts ...model.PipelineOption) Option {
	return func(a *Acquirer) { a.pipeOpts = append(a.pipeOpts, opts...) }
}

// Acquirer fetches missing images and records their status in a manifest.
type Acquirer struct {
	fetcher  Fetcher
	store    manifest.Store
	cfg      Config
	logger   logr.Logger
	metrics  *metrics.Metrics
	pipeOpts []model.PipelineOption
}

// New returns an Acquirer downloading with fetcher and saving manifests to store.
func New(fetcher Fetcher, store manifest.Store, opts ...Option) *Acquirer {
	a := &Acquirer{
		fetcher: fetcher,
		store:   store,
		cfg:     DefaultConfig(),
		logger:  logr.Discard(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.cfg.Workers < 1 {
		a.cfg.Workers = 1
	}
	if a.cfg.MaxAttempts < 1 {
		a.cfg.MaxAttempts = 1
	}

	return a
}

type job struct {
	target Target
	entry  manifest.Entry
}

// Acquire makes every target available locally. Targets already fetched, or whose local file
// verifies, are skipped. A failing image is marked failed and never stops the others. The manifest
// is the single record of the outcome: it is updated by one goroutine and saved once every target
// is settled. It is not saved when ctx is cancelled.
func (a *Acquirer) Acquire(ctx context.Context, m *manifest.Manifest, targets []Target) (*Report, error) {
	report := &Report{}
	seen := make(map[string]struct{}, len(targets))
	var order []string
	var jobs []job
	for _, target := range targets {
		if _, ok := seen[target.ImageID]; ok {
			continue
		}
		seen[target.ImageID] = struct{}{}
		order = append(order, target.ImageID)

		if entry, ok := a.available(m, target); ok {
			m.Put(entry)
			report.Skipped++
			a.metrics.Image(m.Dataset, OutcomeSkipped)
			continue
		}

		entry := manifest.Entry{
			ImageID:   target.ImageID,
			SourceURL: target.URL,
			LocalPath: target.LocalPath,
			Status:    manifest.StatusPending,
			Width:     target.Width,
			Height:    target.Height,
		}
		m.Put(entry)
		jobs = append(jobs, job{target: target, entry: entry})
	}

	a.logger.Info("acquiring images", "dataset", m.Dataset, "total", len(order), "pending", len(jobs), "skipped", report.Skipped)
	if len(jobs) > 0 {
		if err := a.run(ctx, m, jobs, report); err != nil {
			return nil, err
		}
	}

	if err := a.store.Save(ctx, m); err != nil {
		return nil, errors.Wrap(err, "unable to persist manifest")
	}
	counts := m.Counts()
	a.logger.Info("manifest saved", "dataset", m.Dataset, "images", m.Len(),
		"fetched", counts[manifest.StatusFetched], "failed", counts[manifest.StatusFailed])

	for _, id := range order {
		entry, _ := m.Entry(id)
		report.Entries = append(report.Entries, entry)
	}

	return report, nil
}

// available returns a fetched entry for target when its local file is already valid.
func (a *Acquirer) available(m *manifest.Manifest, target Target) (manifest.Entry, bool) {
	entry, ok := m.Entry(target.ImageID)
	if ok && entry.Status == manifest.StatusFetched && entry.LocalPath != target.LocalPath {
		ok = false
	}
	sum, err := Verify(target.LocalPath, target)
	if err != nil {
		return manifest.Entry{}, false
	}
	if !ok {
		entry = manifest.Entry{
			ImageID:   target.ImageID,
			SourceURL: target.URL,
			LocalPath: target.LocalPath,
			Width:     target.Width,
			Height:    target.Height,
		}
	}
	entry.Status = manifest.StatusFetched
	entry.LastError = ""
	entry.SHA256 = sum

	return entry, true
}

func (a *Acquirer) run(ctx context.Context, m *manifest.Manifest, jobs []job, report *Report) error {
	limit := rate.Inf
	if a.cfg.RateLimit > 0 {
		limit = rate.Limit(a.cfg.RateLimit)
	}
	limiter := rate.NewLimiter(limit, 1)

	pipe, err := pipeline.New(ctx, a.pipeOpts...)
	if err != nil {
		return errors.Wrap(err, "unable to create fetch pipeline")
	}
	pending, err := pipeline.AddRootStep(pipe, "pending images", func(ctx context.Context, rootChan chan<- job) error {
		for _, j := range jobs {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case rootChan <- j:
			}
		}

		return nil
	})
	if err != nil {
		pipe.Cancel()
		return errors.Wrap(err, "unable to add pending images step")
	}
	fetched, err := pipeline.AddStepOneToOne(pipe, "fetch", pending, func(ctx context.Context, j job) (manifest.Entry, error) {
		return a.fetch(ctx, m.Dataset, limiter, j)
	}, pipeline.StepConcurrency[manifest.Entry](a.cfg.Workers))
	if err != nil {
		pipe.Cancel()
		return errors.Wrap(err, "unable to add fetch step")
	}
	err = pipeline.AddSink(pipe, "manifest", fetched, func(_ context.Context, entry manifest.Entry) error {
		m.Put(entry)
		switch entry.Status {
		case manifest.StatusFetched:
			report.Fetched++
			a.metrics.Image(m.Dataset, OutcomeFetched)
			a.logger.V(1).Info("image fetched", "image", entry.ImageID, "attempts", entry.Attempts)
		default:
			report.Failed++
			a.metrics.Image(m.Dataset, OutcomeFailed)
			a.logger.V(1).Info("image failed", "image", entry.ImageID, "attempts", entry.Attempts, "error", entry.LastError)
		}

		return nil
	})
	if err != nil {
		return errors.Wrap(err, "unable to add manifest sink")
	}

	return errors.Wrap(pipe.Run(), "unable to acquire images")
}

// fetch retries one image until it is fetched or attempts are exhausted. Only a cancelled ctx is
// returned as an error.
func (a *Acquirer) fetch(ctx context.Context, dataset string, limiter *rate.Limiter, j job) (manifest.Entry, error) {
	entry := j.entry
	backoff := wait.Backoff{
		Duration: a.cfg.InitialBackoff,
		Factor:   2,
		Jitter:   0.1,
		Steps:    a.cfg.MaxAttempts,
	}

	var lastErr error
	err := wait.ExponentialBackoffWithContext(ctx, backoff, func(ctx context.Context) (bool, error) {
		if err := limiter.Wait(ctx); err != nil {
			return false, err
		}
		entry.Attempts++
		start := time.Now()
		sum, err := a.attempt(ctx, j.target)
		a.metrics.FetchAttempt(dataset, err, time.Since(start))
		if err != nil {
			lastErr = err
			a.logger.V(2).Info("fetch attempt failed", "image", entry.ImageID, "attempt", entry.Attempts, "error", err.Error())

			return false, nil
		}
		entry.SHA256 = sum

		return true, nil
	})
	if ctx.Err() != nil {
		return manifest.Entry{}, ctx.Err()
	}

	if err != nil {
		entry.Status = manifest.StatusFailed
		if lastErr == nil {
			lastErr = err
		}
		entry.LastError = lastErr.Error()

		return entry, nil
	}
	entry.Status = manifest.StatusFetched
	entry.LastError = ""

	return entry, nil
}

// attempt downloads target to a temporary file, verifies it and moves it to its local path.
func (a *Acquirer) attempt(ctx context.Context, target Target) (_ string, err error) {
	if a.cfg.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.cfg.AttemptTimeout)
		defer cancel()
	}

	dir := filepath.Dir(target.LocalPath)
	if err = os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Wrapf(err, "unable to create %s", dir)
	}
	tmp, err := os.CreateTemp(dir, ".download-*")
	if err != nil {
		return "", errors.Wrap(err, "unable to create temporary file")
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()

	fetchErr := a.fetcher.Fetch(ctx, target.URL, tmp)
	closeErr := tmp.Close()
	if fetchErr != nil {
		return "", fetchErr
	}
	if closeErr != nil {
		return "", errors.Wrap(closeErr, "unable to close temporary file")
	}

	sum, err := Verify(tmp.Name(), target)
	if err != nil {
		return "", err
	}
	if err = os.Rename(tmp.Name(), target.LocalPath); err != nil {
		return "", errors.Wrap(err, "unable to move image into place")
	}

	return sum, nil
}
