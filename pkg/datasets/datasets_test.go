package datasets_test

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/askiada/vrdprep/internal/config"
	"github.com/askiada/vrdprep/pkg/datasets"
	"github.com/askiada/vrdprep/pkg/transform"
)

func writeTree(t *testing.T, root string, files map[string][]byte) {
	t.Helper()
	for name, content := range files {
		path := filepath.Join(root, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, content, 0o600))
	}
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 32, 32))))

	return buf.Bytes()
}

func testConfig(t *testing.T, dataset string) config.DataConfig {
	t.Helper()
	cfg := config.Default()
	cfg.DatasetName = dataset
	cfg.BasePath = t.TempDir()

	return cfg
}

func TestDefaultRegistry(t *testing.T) {
	t.Parallel()

	reg, err := datasets.Default()
	require.NoError(t, err)
	assert.Equal(t, []string{datasets.VRD, datasets.VisualGenome}, reg.Names())
	assert.Equal(t, datasets.VRD, reg.Default())
	assert.Equal(t, []string{datasets.VisualGenome}, reg.Select(logr.Discard(), []string{"coco", "vg", "vg"}))
	assert.Equal(t, []string{datasets.VRD}, reg.Select(logr.Discard(), nil))
}

func TestVRD(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, datasets.VRD)
	img := pngBytes(t)
	writeTree(t, cfg.RawDir(), map[string][]byte{
		"objects.json":    []byte(`["person", "bicycle"]`),
		"predicates.json": []byte(`["ride"]`),
		"annotations_train.json": []byte(`{"a.png": [
			{"predicate": 0, "subject": {"category": 0, "bbox": [1, 30, 2, 20]}, "object": {"category": 1, "bbox": [10, 31, 5, 25]}}
		]}`),
		"annotations_test.json": []byte(`{"b.png": [
			{"predicate": 0, "subject": {"category": 0, "bbox": [0, 10, 0, 10]}, "object": {"category": 1, "bbox": [30, 10, 0, 10]}}
		]}`),
		"images/a.png": img,
		"images/b.png": img,
	})

	reg, err := datasets.Default()
	require.NoError(t, err)
	factory, ok := reg.Lookup(datasets.VRD)
	require.True(t, ok)
	tr, err := factory(cfg, transform.Deps{})
	require.NoError(t, err)

	res, err := tr.Transform(context.Background())
	require.NoError(t, err)
	assert.Equal(t, transform.StateDone, res.State)
	assert.Equal(t, 1, res.TrainRecords)
	assert.Zero(t, res.TestRecords, "the only test relationship has an inverted box")
	assert.Equal(t, 1, res.Rejections["degenerate_box"])
	assert.Equal(t, 1, res.ImagesFetched, "only images with kept records are acquired")
	assert.FileExists(t, filepath.Join(cfg.ImagesDir(), "a.png"))
}

func TestVisualGenome(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, datasets.VisualGenome)
	cfg.SplitRatio = 0.5
	img := pngBytes(t)
	writeTree(t, cfg.RawDir(), map[string][]byte{
		"relationships.json": []byte(`[
			{"image_id": 1, "relationships": [{"predicate": "on", "subject": {"name": "cup", "x": 1, "y": 1, "w": 4, "h": 4}, "object": {"name": "table", "x": 0, "y": 0, "w": 30, "h": 30}}]},
			{"image_id": 2, "relationships": [{"predicate": "on", "subject": {"name": "cup", "x": 1, "y": 1, "w": 4, "h": 4}, "object": {"name": "table", "x": 0, "y": 0, "w": 30, "h": 30}}]},
			{"image_id": 3, "relationships": [{"predicate": "has", "subject": {"name": "man", "x": 1, "y": 1, "w": 4, "h": 4}, "object": {"name": "hat", "x": 0, "y": 0, "w": 3, "h": 3}}]},
			{"image_id": 4, "relationships": [{"predicate": "has", "subject": {"name": "man", "x": 1, "y": 1, "w": 4, "h": 4}, "object": {"name": "hat", "x": 0, "y": 0, "w": 3, "h": 3}}]}
		]`),
		"images/1.jpg": img,
		"images/2.jpg": img,
		"images/3.jpg": img,
		"images/4.jpg": img,
	})

	reg, err := datasets.Default()
	require.NoError(t, err)
	factory, ok := reg.Lookup(datasets.VisualGenome)
	require.True(t, ok)
	tr, err := factory(cfg, transform.Deps{})
	require.NoError(t, err)
	assert.Equal(t, datasets.VisualGenome, tr.Name())

	res, err := tr.Transform(context.Background())
	require.NoError(t, err)
	assert.Equal(t, transform.StateDone, res.State)
	assert.Equal(t, 2, res.TrainImages)
	assert.Equal(t, 2, res.TestImages)
	assert.Equal(t, 4, res.ImagesFetched)

	objects, err := os.ReadFile(filepath.Join(cfg.OutputDir(), transform.ObjectsFile))
	require.NoError(t, err)
	assert.JSONEq(t, `["cup", "table", "man", "hat"]`, string(objects))
}
