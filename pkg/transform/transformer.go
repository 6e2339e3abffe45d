package transform

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-logr/logr"
	"github.com/pkg/errors"

	"github.com/askiada/vrdprep/internal/config"
	"github.com/askiada/vrdprep/internal/metrics"
	"github.com/askiada/vrdprep/pkg/acquire"
	"github.com/askiada/vrdprep/pkg/manifest"
	"github.com/askiada/vrdprep/pkg/pipeline"
	"github.com/askiada/vrdprep/pkg/pipeline/drawer"
	"github.com/askiada/vrdprep/pkg/pipeline/measure"
	"github.com/askiada/vrdprep/pkg/pipeline/model"
	"github.com/askiada/vrdprep/pkg/vrd"
)

// DatasetTransformer prepares one dataset.
type DatasetTransformer interface {
	Name() string
	Transform(ctx context.Context) (*Result, error)
}

// Parser reads the raw annotations of a dataset. Parse pushes records to out and returns when the
// source is exhausted.
type Parser interface {
	Parse(ctx context.Context, out chan<- vrd.RawAnnotationRecord) error
}

// Deps are the collaborators of a Transformer. Zero values get defaults: a discarding logger, a
// fetcher for http, https and file URLs, and a file manifest store in the output directory.
type Deps struct {
	Logger  logr.Logger
	Fetcher acquire.Fetcher
	Store   manifest.Store
	Metrics *metrics.Metrics
	// DrawDir receives a DOT drawing of each pipeline when set.
	DrawDir string
}

// Option configures a Transformer.
type Option func(t *Transformer)

// WithDefaultPolicy sets the split policy used when the configuration does not name one.
func WithDefaultPolicy(policy string) Option {
	return func(t *Transformer) { t.defaultPolicy = policy }
}

// Transformer is the DatasetTransformer shared by every dataset, the dataset specific part being
// its Parser.
type Transformer struct {
	cfg           config.DataConfig
	parser        Parser
	deps          Deps
	defaultPolicy string
}

// New validates cfg and returns a Transformer reading annotations with parser.
func New(cfg config.DataConfig, parser Parser, deps Deps, opts ...Option) (*Transformer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if parser == nil {
		return nil, errors.New("parser must be set")
	}
	if deps.Logger.GetSink() == nil {
		deps.Logger = logr.Discard()
	}
	if deps.Fetcher == nil {
		deps.Fetcher = acquire.NewSchemeFetcher(cfg.AttemptTimeout, nil)
	}
	if deps.Store == nil {
		deps.Store = manifest.NewFileStore(cfg.ManifestRoot())
	}

	t := &Transformer{
		cfg:           cfg,
		parser:        parser,
		deps:          deps,
		defaultPolicy: config.PolicyHash,
	}
	for _, opt := range opts {
		opt(t)
	}

	return t, nil
}

func (t *Transformer) Name() string {
	return t.cfg.DatasetName
}

// image is what the parser knows about an image, kept to build its acquisition target.
type image struct {
	filename string
	url      string
	width    int
	height   int
	sha256   string
	split    string
}

// run holds the in-memory collections of one Transform call.
type run struct {
	sm      *stateMachine
	logger  logr.Logger
	result  *Result
	vocab   *vrd.Vocabulary
	records []vrd.RelationshipRecord
	images  map[string]image
}

// Transform prepares the dataset. A structural error moves the run to failed and is returned along
// with the partial result.
func (t *Transformer) Transform(ctx context.Context) (*Result, error) {
	sm, err := newStateMachine()
	if err != nil {
		return nil, err
	}
	r := &run{
		sm:     sm,
		logger: t.deps.Logger.WithValues("dataset", t.Name()),
		result: newResult(t.Name()),
		images: map[string]image{},
	}

	err = t.transform(ctx, r)
	if err != nil {
		failedIn, moveErr := r.sm.to(StateFailed)
		if moveErr != nil {
			err = errors.Wrap(err, moveErr.Error())
		}
		r.result.FailedIn = failedIn
		r.result.Err = err
		r.logger.Error(err, "transform failed", "state", failedIn)
	}
	r.result.State = r.sm.state()
	r.result.History = r.sm.transitions()

	return r.result, err
}

func (t *Transformer) transform(ctx context.Context, r *run) error {
	m, err := t.deps.Store.Load(ctx, t.Name())
	if err != nil {
		return errors.Wrap(err, "unable to load manifest")
	}
	r.vocab = vocabulary(m.Vocabulary)

	if err := t.move(r, StateParsing); err != nil {
		return err
	}
	if err := t.parse(ctx, r); err != nil {
		return err
	}
	// a source without images never produced a record to normalize.
	if r.sm.state() == StateParsing {
		if err := t.move(r, StateNormalizing); err != nil {
			return err
		}
	}
	r.vocab.Freeze()

	if err := t.move(r, StateSplitting); err != nil {
		return err
	}
	policy, err := t.policy(r.images)
	if err != nil {
		return err
	}
	splits, err := vrd.Assign(r.records, policy)
	if err != nil {
		return err
	}
	t.countSplits(r.result, splits)

	if err := t.move(r, StateWriting); err != nil {
		return err
	}
	out := outputs{
		dir:           t.cfg.OutputDir(),
		probabilities: t.cfg.Probabilities,
		predcls:       t.cfg.PredCls,
		rules:         negativeRules(t.cfg.Negatives, r.vocab.Predicates, r.logger),
		opts:          t.pipelineOptions("predcls"),
	}
	w, err := out.write(ctx, splits, r.vocab)
	if err != nil {
		return err
	}
	r.result.Files = w.files
	r.result.PredClsPairs = w.pairs
	m.Vocabulary = manifest.Vocabulary{Objects: r.vocab.Objects.Names(), Predicates: r.vocab.Predicates.Names()}

	if err := t.move(r, StateAcquiringImages); err != nil {
		return err
	}
	if err := t.acquire(ctx, r, m, splits); err != nil {
		return err
	}

	if err := t.move(r, StateDone); err != nil {
		return err
	}
	r.logger.Info("transform done",
		"kept", r.result.RecordsKept, "rejected", r.result.RecordsRejected, "duplicates", r.result.Duplicates,
		"pairs", r.result.PredClsPairs, "fetched", r.result.ImagesFetched, "failed", r.result.ImagesFailed, "skipped", r.result.ImagesSkipped)

	return nil
}

func (t *Transformer) move(r *run, next State) error {
	prev, err := r.sm.to(next)
	if err != nil {
		return err
	}
	r.logger.Info("state changed", "from", prev, "to", next)

	return nil
}

// vocabulary restores the vocabulary of a previous run, frozen so ids stay stable.
func vocabulary(saved manifest.Vocabulary) *vrd.Vocabulary {
	if len(saved.Objects) == 0 && len(saved.Predicates) == 0 {
		return vrd.NewVocabulary()
	}

	return &vrd.Vocabulary{
		Objects:    vrd.FrozenVocabulary(vrd.KindObject, saved.Objects),
		Predicates: vrd.FrozenVocabulary(vrd.KindPredicate, saved.Predicates),
	}
}

// negativeRules resolves the predicate names of cfg, names missing from the vocabulary being
// ignored.
func negativeRules(cfg config.NegativesConfig, predicates *vrd.CategoryVocabulary, logger logr.Logger) vrd.NegativeRules {
	resolve := func(names []string) map[int]bool {
		ids := make(map[int]bool, len(names))
		for _, name := range names {
			id, ok := predicates.ID(name)
			if !ok {
				logger.Info("unknown predicate in negative rules, ignored", "predicate", name)
				continue
			}
			ids[id] = true
		}

		return ids
	}

	return vrd.NegativeRules{Unshared: resolve(cfg.Unshared), Exclusive: resolve(cfg.Exclusive)}
}

// parseBuffer lets the parser decode ahead of the normalizing sink.
const parseBuffer = 64

// parse streams raw records from the parser to a single normalizing sink, which keeps the source
// order and owns the vocabulary while it grows.
func (t *Transformer) parse(ctx context.Context, r *run) error {
	pipe, err := pipeline.New(ctx, t.pipelineOptions("parse")...)
	if err != nil {
		return errors.Wrap(err, "unable to create parse pipeline")
	}
	raw, err := pipeline.AddRootStep(pipe, "parse", t.parser.Parse, pipeline.StepBufferSize[vrd.RawAnnotationRecord](parseBuffer))
	if err != nil {
		pipe.Cancel()
		return errors.Wrap(err, "unable to add parse step")
	}
	err = pipeline.AddSink(pipe, "normalize", raw, func(_ context.Context, record vrd.RawAnnotationRecord) error {
		if r.sm.state() == StateParsing {
			if err := t.move(r, StateNormalizing); err != nil {
				return err
			}
		}

		normalized, err := vrd.Normalize(record, r.vocab)
		if err != nil {
			return err
		}
		r.result.Images++
		r.records = append(r.records, normalized.Records...)
		r.result.RecordsKept += len(normalized.Records)
		r.result.Duplicates += normalized.Duplicates
		r.result.reject(normalized.Rejected)
		if _, ok := r.images[record.ImageID]; !ok {
			r.images[record.ImageID] = image{
				filename: vrd.LocalFilename(record.Filename),
				url:      record.URL,
				width:    record.Width,
				height:   record.Height,
				sha256:   record.SHA256,
				split:    record.Split,
			}
		}

		return nil
	})
	if err != nil {
		pipe.Cancel()
		return errors.Wrap(err, "unable to add normalize sink")
	}

	if err := pipe.Run(); err != nil {
		return errors.Wrap(err, "unable to parse annotations")
	}
	for reason, n := range r.result.Rejections {
		t.deps.Metrics.RecordsRejected(t.Name(), string(reason), n)
	}

	return nil
}

func (t *Transformer) policy(images map[string]image) (vrd.SplitPolicy, error) {
	name := t.cfg.SplitPolicy
	if name == "" {
		name = t.defaultPolicy
	}

	switch name {
	case config.PolicyHash:
		return vrd.HashPolicy{Ratio: t.cfg.SplitRatio, Seed: t.cfg.SplitSeed}, nil
	case config.PolicyPredefined:
		if t.cfg.SplitFile != "" {
			return splitFile(t.cfg.SplitFile)
		}
		assignments := make(map[string]string, len(images))
		for id, img := range images {
			switch img.split {
			case "":
			case vrd.SplitTest:
				assignments[id] = vrd.SplitTest
			default:
				assignments[id] = vrd.SplitTrain
			}
		}

		return vrd.PredefinedPolicy{Assignments: assignments}, nil
	default:
		return nil, errors.Wrapf(config.ErrInvalidConfig, "unknown split policy %q", name)
	}
}

// splitFile reads a JSON object mapping image ids to split names.
func splitFile(path string) (vrd.SplitPolicy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "unable to read split file")
	}
	var assignments map[string]string
	if err := json.Unmarshal(data, &assignments); err != nil {
		return nil, errors.Wrapf(err, "unable to decode split file %s", path)
	}

	return vrd.PredefinedPolicy{Assignments: assignments}, nil
}

func (t *Transformer) countSplits(res *Result, splits vrd.Splits) {
	res.TrainRecords = len(splits.Train.Records)
	res.TrainImages = len(splits.Train.ImageIDs())
	res.TestRecords = len(splits.Test.Records)
	res.TestImages = len(splits.Test.ImageIDs())
	t.deps.Metrics.RecordsKept(t.Name(), vrd.SplitTrain, res.TrainRecords)
	t.deps.Metrics.RecordsKept(t.Name(), vrd.SplitTest, res.TestRecords)
}

func (t *Transformer) acquire(ctx context.Context, r *run, m *manifest.Manifest, splits vrd.Splits) error {
	var targets []acquire.Target
	for _, split := range []vrd.DatasetSplit{splits.Train, splits.Test} {
		for _, id := range split.ImageIDs() {
			img := r.images[id]
			if img.filename == "" {
				r.logger.Info("image has no usable file name, it is not fetched", "image", id)
				continue
			}
			targets = append(targets, acquire.Target{
				ImageID:   id,
				URL:       img.url,
				LocalPath: filepath.Join(t.cfg.ImagesDir(), img.filename),
				Width:     img.width,
				Height:    img.height,
				SHA256:    img.sha256,
			})
		}
	}

	acq := acquire.New(t.deps.Fetcher, t.deps.Store,
		acquire.WithConfig(acquire.Config{
			Workers:        t.cfg.Workers,
			MaxAttempts:    t.cfg.MaxAttempts,
			InitialBackoff: t.cfg.InitialBackoff,
			AttemptTimeout: t.cfg.AttemptTimeout,
			RateLimit:      t.cfg.RateLimit,
		}),
		acquire.WithLogger(r.logger),
		acquire.WithMetrics(t.deps.Metrics),
		acquire.WithPipelineOptions(t.pipelineOptions("acquire")...),
	)
	report, err := acq.Acquire(ctx, m, targets)
	if err != nil {
		return err
	}

	r.result.ImagesFetched = report.Fetched
	r.result.ImagesFailed = report.Failed
	r.result.ImagesSkipped = report.Skipped
	if report.Failed > 0 {
		r.logger.Info("some images could not be fetched, the dataset is usable without them", "failed", report.Failed)
	}

	return nil
}

// pipelineOptions measures and draws the pipeline named stage when a draw directory is set.
func (t *Transformer) pipelineOptions(stage string) []model.PipelineOption {
	if t.deps.DrawDir == "" {
		return nil
	}
	if err := os.MkdirAll(t.deps.DrawDir, 0o755); err != nil {
		t.deps.Logger.Error(err, "unable to create draw directory, pipelines are not drawn")
		return nil
	}

	msr := measure.NewDefaultMeasure()
	fileName := filepath.Join(t.deps.DrawDir, fmt.Sprintf("%s-%s.dot", t.Name(), stage))

	return []model.PipelineOption{
		measure.PipelineMeasure(msr),
		drawer.PipelineDrawer(drawer.NewDOTDrawer(fileName), msr),
	}
}

var _ DatasetTransformer = (*Transformer)(nil)
