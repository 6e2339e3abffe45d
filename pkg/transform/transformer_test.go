package transform_test

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/askiada/vrdprep/internal/config"
	"github.com/askiada/vrdprep/pkg/acquire"
	"github.com/askiada/vrdprep/pkg/manifest"
	"github.com/askiada/vrdprep/pkg/transform"
	"github.com/askiada/vrdprep/pkg/vrd"
)

type sliceParser struct {
	records []vrd.RawAnnotationRecord
	err     error
}

func (p sliceParser) Parse(ctx context.Context, out chan<- vrd.RawAnnotationRecord) error {
	for _, r := range p.records {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case out <- r:
		}
	}

	return p.err
}

type countingFetcher struct {
	acquire.Fetcher
	calls atomic.Int64
}

func (f *countingFetcher) Fetch(ctx context.Context, rawURL string, w io.Writer) error {
	f.calls.Add(1)

	return f.Fetcher.Fetch(ctx, rawURL, w)
}

func testConfig(t *testing.T) config.DataConfig {
	t.Helper()
	cfg := config.Default()
	cfg.DatasetName = "vrd"
	cfg.BasePath = t.TempDir()
	cfg.OutputPath = filepath.Join(cfg.BasePath, "out")
	cfg.Workers = 2
	cfg.MaxAttempts = 2
	cfg.InitialBackoff = time.Millisecond
	cfg.AttemptTimeout = time.Second

	return cfg
}

// sourceImage writes a PNG under dir and returns its file URL.
func sourceImage(t *testing.T, dir, name string) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, 64, 64))))
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))

	return "file://" + filepath.ToSlash(path)
}

func raw(subject, predicate, object string, subjectBox, objectBox []float64) vrd.RawRelationship {
	return vrd.RawRelationship{
		Subject:   vrd.RawObject{Name: subject, BBox: subjectBox},
		Predicate: predicate,
		Object:    vrd.RawObject{Name: object, BBox: objectBox},
	}
}

// exampleRecords is image A with a valid and an inverted box, and image B with a duplicate pair.
func exampleRecords(t *testing.T) []vrd.RawAnnotationRecord {
	t.Helper()
	src := t.TempDir()

	return []vrd.RawAnnotationRecord{
		{
			ImageID:  "A",
			Filename: "A.png",
			URL:      sourceImage(t, src, "A.png"),
			Split:    vrd.SplitTrain,
			Width:    64,
			Height:   64,
			Layout:   vrd.LayoutXYXY,
			Relationships: []vrd.RawRelationship{
				raw("person", "ride", "bicycle", []float64{1, 1, 30, 60}, []float64{5, 30, 40, 63}),
				raw("person", "ride", "bicycle", []float64{40, 1, 30, 60}, []float64{5, 30, 40, 63}),
			},
		},
		{
			ImageID:  "B",
			Filename: "B.png",
			URL:      sourceImage(t, src, "B.png"),
			Split:    vrd.SplitTest,
			Layout:   vrd.LayoutXYXY,
			Relationships: []vrd.RawRelationship{
				raw("person", "next to", "car", []float64{0, 0, 10, 10}, []float64{20, 20, 40, 40}),
				raw("person", "next to", "car", []float64{0, 0, 10, 10}, []float64{20, 20, 40, 40}),
			},
		},
	}
}

func readRecords(t *testing.T, path string) []vrd.RelationshipRecord {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	records, err := transform.ReadRecords(f)
	require.NoError(t, err)

	return records
}

func TestTransformEndToEnd(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	tr, err := transform.New(cfg, sliceParser{records: exampleRecords(t)}, transform.Deps{},
		transform.WithDefaultPolicy(config.PolicyPredefined))
	require.NoError(t, err)
	assert.Equal(t, "vrd", tr.Name())

	res, err := tr.Transform(context.Background())
	require.NoError(t, err)
	assert.Equal(t, transform.StateDone, res.State)
	assert.Equal(t, 2, res.Images)
	assert.Equal(t, 2, res.RecordsKept)
	assert.Equal(t, 1, res.RecordsRejected)
	assert.Equal(t, map[vrd.RejectReason]int{vrd.ReasonDegenerateBox: 1}, res.Rejections)
	assert.Equal(t, 1, res.Duplicates)
	assert.Equal(t, 1, res.TrainRecords)
	assert.Equal(t, 1, res.TestRecords)
	assert.Equal(t, 2, res.ImagesFetched)
	assert.Zero(t, res.ImagesFailed)

	var states []transform.State
	for _, tn := range res.History {
		states = append(states, tn.State)
	}
	assert.Equal(t, []transform.State{
		transform.StateIdle, transform.StateParsing, transform.StateNormalizing, transform.StateSplitting,
		transform.StateWriting, transform.StateAcquiringImages, transform.StateDone,
	}, states)

	dir := cfg.OutputDir()
	train := readRecords(t, filepath.Join(dir, transform.TrainFile))
	require.Len(t, train, 1)
	assert.Equal(t, vrd.RelationshipRecord{
		ImageID:     "A",
		Subject:     vrd.Object{CategoryID: 0, BBox: vrd.Box{XMin: 1, YMin: 1, XMax: 30, YMax: 60}},
		PredicateID: 0,
		Object:      vrd.Object{CategoryID: 1, BBox: vrd.Box{XMin: 5, YMin: 30, XMax: 40, YMax: 63}},
	}, train[0])
	test := readRecords(t, filepath.Join(dir, transform.TestFile))
	require.Len(t, test, 1)
	assert.Equal(t, "B", test[0].ImageID)

	predicates, err := os.ReadFile(filepath.Join(dir, transform.PredicatesFile))
	require.NoError(t, err)
	assert.JSONEq(t, `["ride", "next to", "__background__"]`, string(predicates))
	objects, err := os.ReadFile(filepath.Join(dir, transform.ObjectsFile))
	require.NoError(t, err)
	assert.JSONEq(t, `["person", "bicycle", "car"]`, string(objects))
	assert.FileExists(t, filepath.Join(dir, transform.ProbabilitiesFile))
	assert.FileExists(t, filepath.Join(cfg.ImagesDir(), "A.png"))
	assert.FileExists(t, filepath.Join(cfg.ImagesDir(), "B.png"))

	m, err := manifest.NewFileStore(cfg.ManifestRoot()).Load(context.Background(), "vrd")
	require.NoError(t, err)
	assert.Equal(t, []string{"person", "bicycle", "car"}, m.Vocabulary.Objects)
	assert.Equal(t, map[manifest.Status]int{manifest.StatusFetched: 2}, m.Counts())
	assert.Contains(t, res.StatusLine(), "records kept 2, rejected 1 (degenerate_box=1)")

	// every ordered object pair of A and B, the unannotated ones with the background id 2.
	assert.Equal(t, 4, res.PredClsPairs)
	pairs := readPairs(t, filepath.Join(dir, transform.PredClsFile))
	require.Len(t, pairs, 4)
	assert.Equal(t, transform.PairRecord{RelationshipRecord: train[0], Split: vrd.SplitTrain, MergedPredicateID: 0}, pairs[0])
	assert.Equal(t, []int{2, 2}, []int{pairs[1].PredicateID, pairs[1].MergedPredicateID})
	assert.Equal(t, train[0].Object, pairs[1].Subject)
	assert.Equal(t, vrd.SplitTest, pairs[2].Split)
	assert.Equal(t, 1, pairs[2].PredicateID)
	assert.Equal(t, 2, pairs[3].PredicateID)

	negatives, err := os.ReadFile(filepath.Join(dir, transform.NegativesFile))
	require.NoError(t, err)
	assert.JSONEq(t, `{"A": [[], []], "B": [[], []]}`, string(negatives))
	assert.FileExists(t, filepath.Join(dir, transform.MergedFile))
}

func readPairs(t *testing.T, path string) []transform.PairRecord {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	pairs, err := transform.ReadPairs(f)
	require.NoError(t, err)

	return pairs
}

func TestTransformPredCls(t *testing.T) {
	t.Parallel()

	p1, p2, bike := []float64{0, 0, 10, 10}, []float64{40, 0, 50, 10}, []float64{20, 0, 30, 10}
	records := []vrd.RawAnnotationRecord{{
		ImageID:  "1",
		Filename: "1.png",
		URL:      "file:///does/not/exist/1.png",
		Split:    vrd.SplitTrain,
		Layout:   vrd.LayoutXYXY,
		Relationships: []vrd.RawRelationship{
			raw("person", "ride", "bike", p1, bike),
			raw("person", "on", "bike", p1, bike),
			raw("person", "next to", "bike", p2, bike),
		},
	}}

	cfg := testConfig(t)
	cfg.MaxAttempts = 1
	cfg.SplitPolicy = config.PolicyPredefined
	cfg.Negatives.Unshared = []string{"ride", "fly"}
	tr, err := transform.New(cfg, sliceParser{records: records}, transform.Deps{})
	require.NoError(t, err)
	res, err := tr.Transform(context.Background())
	require.NoError(t, err)
	dir := cfg.OutputDir()

	pairs := readPairs(t, filepath.Join(dir, transform.PredClsFile))
	require.Len(t, pairs, 7)
	assert.Equal(t, 7, res.PredClsPairs)
	var predicates, merged []int
	for _, pair := range pairs {
		predicates = append(predicates, pair.PredicateID)
		merged = append(merged, pair.MergedPredicateID)
	}
	// ride and on annotate the same pair, so on merges into ride.
	assert.Equal(t, []int{0, 1, 3, 3, 3, 3, 2}, predicates)
	assert.Equal(t, []int{0, 0, 3, 3, 3, 3, 2}, merged)

	var merges []vrd.PredicateMerge
	data, err := os.ReadFile(filepath.Join(dir, transform.MergedFile))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &merges))
	require.Len(t, merges, 3)
	assert.Equal(t, vrd.PredicateMerge{CategoryPair: vrd.CategoryPair{Subject: 0, Object: 0}, MergedIDs: []int{0, 1, 2, 3}}, merges[0])
	assert.Equal(t, vrd.PredicateMerge{CategoryPair: vrd.CategoryPair{Subject: 0, Object: 1}, MergedIDs: []int{0, 0, 2, 3}}, merges[1])

	// the second person is not the one riding the bike.
	var negatives map[string][][]int
	data, err = os.ReadFile(filepath.Join(dir, transform.NegativesFile))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &negatives))
	assert.Equal(t, map[string][][]int{"1": {{}, {}, {}, {}, {}, {}, {0}}}, negatives)

	var probs [][][]float64
	data, err = os.ReadFile(filepath.Join(dir, transform.ProbabilitiesFile))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &probs))
	assert.InDeltaSlice(t, []float64{2.0 / 7, 2.0 / 7, 2.0 / 7, 1.0 / 7}, probs[0][1], 1e-9)
	assert.InDeltaSlice(t, []float64{1.0 / 6, 1.0 / 6, 1.0 / 6, 3.0 / 6}, probs[0][0], 1e-9)
}

func TestTransformWithoutPredCls(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.PredCls = false
	tr, err := transform.New(cfg, sliceParser{records: exampleRecords(t)}, transform.Deps{},
		transform.WithDefaultPolicy(config.PolicyPredefined))
	require.NoError(t, err)
	res, err := tr.Transform(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.PredClsPairs)

	dir := cfg.OutputDir()
	assert.FileExists(t, filepath.Join(dir, transform.ProbabilitiesFile))
	for _, name := range []string{transform.PredClsFile, transform.MergedFile, transform.NegativesFile} {
		assert.NoFileExists(t, filepath.Join(dir, name))
	}

	var probs [][][]float64
	data, err := os.ReadFile(filepath.Join(dir, transform.ProbabilitiesFile))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &probs))
	// without the pair expansion, the background column only holds its smoothing count.
	assert.InDeltaSlice(t, []float64{2.0 / 4, 1.0 / 4, 1.0 / 4}, probs[0][1], 1e-9)
}

func TestTransformKeepsImagesInImagesDir(t *testing.T) {
	t.Parallel()

	src := t.TempDir()
	box := []float64{0, 0, 10, 10}
	records := []vrd.RawAnnotationRecord{
		{
			ImageID:       "A",
			Filename:      "../../A.png",
			URL:           sourceImage(t, src, "A.png"),
			Split:         vrd.SplitTrain,
			Relationships: []vrd.RawRelationship{raw("cup", "on", "table", box, box)},
		},
		{
			ImageID:       "B",
			Filename:      "..",
			URL:           sourceImage(t, src, "B.png"),
			Split:         vrd.SplitTest,
			Relationships: []vrd.RawRelationship{raw("cup", "on", "table", box, box)},
		},
	}

	cfg := testConfig(t)
	fetcher := &countingFetcher{Fetcher: acquire.FileFetcher{}}
	tr, err := transform.New(cfg, sliceParser{records: records}, transform.Deps{Fetcher: fetcher},
		transform.WithDefaultPolicy(config.PolicyPredefined))
	require.NoError(t, err)
	res, err := tr.Transform(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, res.ImagesFetched)
	assert.Equal(t, int64(1), fetcher.calls.Load(), "an image without a usable file name is not fetched")
	assert.FileExists(t, filepath.Join(cfg.ImagesDir(), "A.png"))
	assert.NoFileExists(t, filepath.Join(cfg.ImagesDir(), "..", "..", "A.png"))
	assert.Equal(t, 2, res.TrainRecords+res.TestRecords)
}

func TestTransformIdempotent(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.SplitPolicy = config.PolicyHash
	records := exampleRecords(t)
	fetcher := &countingFetcher{Fetcher: acquire.FileFetcher{}}

	runOnce := func() (*transform.Result, []byte, []byte) {
		tr, err := transform.New(cfg, sliceParser{records: records}, transform.Deps{Fetcher: fetcher})
		require.NoError(t, err)
		res, err := tr.Transform(context.Background())
		require.NoError(t, err)
		train, err := os.ReadFile(filepath.Join(cfg.OutputDir(), transform.TrainFile))
		require.NoError(t, err)
		test, err := os.ReadFile(filepath.Join(cfg.OutputDir(), transform.TestFile))
		require.NoError(t, err)

		return res, train, test
	}

	first, firstTrain, firstTest := runOnce()
	assert.Equal(t, 2, first.ImagesFetched)
	calls := fetcher.calls.Load()
	assert.Equal(t, int64(2), calls)

	second, secondTrain, secondTest := runOnce()
	assert.Equal(t, firstTrain, secondTrain)
	assert.Equal(t, firstTest, secondTest)
	assert.Zero(t, second.ImagesFetched)
	assert.Equal(t, 2, second.ImagesSkipped)
	assert.Equal(t, calls, fetcher.calls.Load(), "no fetch on the second run")
}

func TestTransformHashSplitDeterministic(t *testing.T) {
	t.Parallel()

	var records []vrd.RawAnnotationRecord
	for _, id := range []string{"1", "2", "3", "4", "5", "6", "7", "8", "9", "10"} {
		records = append(records, vrd.RawAnnotationRecord{
			ImageID:       id,
			Filename:      id + ".png",
			URL:           "file:///does/not/exist/" + id + ".png",
			Relationships: []vrd.RawRelationship{raw("cup", "on", "table", []float64{0, 0, 1, 1}, []float64{0, 0, 2, 2})},
		})
	}

	split := func() []byte {
		cfg := testConfig(t)
		cfg.MaxAttempts = 1
		cfg.SplitPolicy = config.PolicyHash
		cfg.SplitRatio = 0.7
		cfg.Probabilities = false
		tr, err := transform.New(cfg, sliceParser{records: records}, transform.Deps{})
		require.NoError(t, err)
		res, err := tr.Transform(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 7, res.TrainImages)
		assert.Equal(t, 3, res.TestImages)
		assert.Equal(t, 10, res.ImagesFailed, "fetch failures are not fatal")
		assert.NoFileExists(t, filepath.Join(cfg.OutputDir(), transform.ProbabilitiesFile))

		train, err := os.ReadFile(filepath.Join(cfg.OutputDir(), transform.TrainFile))
		require.NoError(t, err)

		return train
	}

	assert.Equal(t, split(), split())
}

func TestTransformStructuralErrors(t *testing.T) {
	t.Parallel()

	box := []float64{0, 0, 1, 1}
	tcs := map[string]struct {
		parser   sliceParser
		policy   string
		wantErr  error
		failedIn transform.State
	}{
		"malformed source": {
			parser:   sliceParser{err: vrd.ErrMalformedSource},
			wantErr:  vrd.ErrMalformedSource,
			failedIn: transform.StateParsing,
		},
		"malformed source after records": {
			parser: sliceParser{
				records: []vrd.RawAnnotationRecord{{ImageID: "1", Relationships: []vrd.RawRelationship{raw("a", "on", "b", box, box)}}},
				err:     vrd.ErrMalformedSource,
			},
			wantErr:  vrd.ErrMalformedSource,
			failedIn: transform.StateNormalizing,
		},
		"missing image id": {
			parser:   sliceParser{records: []vrd.RawAnnotationRecord{{Filename: "x.jpg"}}},
			wantErr:  vrd.ErrMissingImageID,
			failedIn: transform.StateNormalizing,
		},
		"unassigned image": {
			parser:   sliceParser{records: []vrd.RawAnnotationRecord{{ImageID: "1", Relationships: []vrd.RawRelationship{raw("a", "on", "b", box, box)}}}},
			policy:   config.PolicyPredefined,
			wantErr:  vrd.ErrUnassignedImage,
			failedIn: transform.StateSplitting,
		},
	}

	for name, tc := range tcs {
		tc := tc
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			cfg := testConfig(t)
			cfg.SplitPolicy = tc.policy
			tr, err := transform.New(cfg, tc.parser, transform.Deps{})
			require.NoError(t, err)

			res, err := tr.Transform(context.Background())
			require.ErrorIs(t, err, tc.wantErr)
			require.NotNil(t, res)
			assert.Equal(t, transform.StateFailed, res.State)
			assert.Equal(t, tc.failedIn, res.FailedIn)
			assert.Contains(t, res.StatusLine(), "vrd: failed while "+string(tc.failedIn))
			assert.NoFileExists(t, filepath.Join(cfg.OutputDir(), transform.TrainFile))
		})
	}
}

func TestTransformFrozenVocabulary(t *testing.T) {
	t.Parallel()

	box := []float64{0, 0, 1, 1}
	cfg := testConfig(t)
	cfg.MaxAttempts = 1
	first := sliceParser{records: []vrd.RawAnnotationRecord{
		{ImageID: "1", Filename: "1.png", URL: "file:///missing/1.png", Relationships: []vrd.RawRelationship{raw("person", "ride", "bicycle", box, box)}},
	}}
	tr, err := transform.New(cfg, first, transform.Deps{})
	require.NoError(t, err)
	_, err = tr.Transform(context.Background())
	require.NoError(t, err)

	second := sliceParser{records: []vrd.RawAnnotationRecord{
		{ImageID: "1", Filename: "1.png", URL: "file:///missing/1.png", Relationships: []vrd.RawRelationship{raw("person", "ride", "car", box, box)}},
	}}
	tr, err = transform.New(cfg, second, transform.Deps{})
	require.NoError(t, err)
	res, err := tr.Transform(context.Background())
	require.ErrorIs(t, err, vrd.ErrUnknownCategory)
	assert.Contains(t, err.Error(), `"car"`)
	assert.Equal(t, transform.StateNormalizing, res.FailedIn)
}

func TestTransformEmptySource(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	tr, err := transform.New(cfg, sliceParser{}, transform.Deps{})
	require.NoError(t, err)
	res, err := tr.Transform(context.Background())
	require.NoError(t, err)
	assert.Equal(t, transform.StateDone, res.State)
	assert.Zero(t, res.RecordsKept)
	assert.FileExists(t, filepath.Join(cfg.OutputDir(), transform.TrainFile))
}

func TestTransformDrawsPipelines(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	drawDir := filepath.Join(cfg.BasePath, "draw")
	tr, err := transform.New(cfg, sliceParser{records: exampleRecords(t)}, transform.Deps{DrawDir: drawDir},
		transform.WithDefaultPolicy(config.PolicyPredefined))
	require.NoError(t, err)
	_, err = tr.Transform(context.Background())
	require.NoError(t, err)

	assert.FileExists(t, filepath.Join(drawDir, "vrd-parse.dot"))
	assert.FileExists(t, filepath.Join(drawDir, "vrd-acquire.dot"))
}

func TestNewInvalidConfig(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Workers = 0
	_, err := transform.New(cfg, sliceParser{}, transform.Deps{})
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}
