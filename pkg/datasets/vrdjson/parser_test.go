package vrdjson_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/askiada/vrdprep/pkg/datasets/vrdjson"
	"github.com/askiada/vrdprep/pkg/vrd"
)

func writeFiles(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
	}

	return dir
}

func parseAll(t *testing.T, p *vrdjson.Parser) ([]vrd.RawAnnotationRecord, error) {
	t.Helper()
	out := make(chan vrd.RawAnnotationRecord)
	errC := make(chan error, 1)
	go func() {
		defer close(out)
		errC <- p.Parse(context.Background(), out)
	}()

	var records []vrd.RawAnnotationRecord
	for r := range out {
		records = append(records, r)
	}

	return records, <-errC
}

func TestParse(t *testing.T) {
	t.Parallel()

	dir := writeFiles(t, map[string]string{
		"objects.json":    `["person", "bicycle", "car"]`,
		"predicates.json": `["ride", "next to"]`,
		"annotations_train.json": `{
			"b.jpg": [{"predicate": 0, "subject": {"category": 0, "bbox": [10, 20, 30, 40]}, "object": {"category": 1, "bbox": [1, 2, 3, 4]}}],
			"a.jpg": [
				{"predicate": "next to", "subject": {"category": "dog", "bbox": [1, 2, 3, 4]}, "object": {"category": 2, "bbox": [1, 2, 3, 4]}},
				{"predicate": 9, "subject": {"category": 0, "bbox": "oops"}, "object": {"category": 2, "bbox": [1, 2, 3, 4]}}
			]
		}`,
		"annotations_test.json": `{"c.jpg": []}`,
	})

	records, err := parseAll(t, vrdjson.New(dir, "http://images.example/vrd/"))
	require.NoError(t, err)
	require.Len(t, records, 3)

	assert.Equal(t, "b.jpg", records[0].ImageID)
	assert.Equal(t, vrd.SplitTrain, records[0].Split)
	assert.Equal(t, vrd.LayoutYYXX, records[0].Layout)
	assert.Equal(t, "http://images.example/vrd/b.jpg", records[0].URL)
	assert.Equal(t, []vrd.RawRelationship{{
		Subject:   vrd.RawObject{Name: "person", BBox: []float64{10, 20, 30, 40}},
		Predicate: "ride",
		Object:    vrd.RawObject{Name: "bicycle", BBox: []float64{1, 2, 3, 4}},
	}}, records[0].Relationships)

	require.Len(t, records[1].Relationships, 2)
	assert.Equal(t, "dog", records[1].Relationships[0].Subject.Name)
	assert.Equal(t, "next to", records[1].Relationships[0].Predicate)
	assert.Empty(t, records[1].Relationships[1].Predicate, "out of range index")
	assert.Nil(t, records[1].Relationships[1].Subject.BBox)

	assert.Equal(t, "c.jpg", records[2].ImageID)
	assert.Equal(t, vrd.SplitTest, records[2].Split)
	assert.Empty(t, records[2].Relationships)
}

func TestParseLocalImages(t *testing.T) {
	t.Parallel()

	dir := writeFiles(t, map[string]string{
		"annotations_train.json": `{"a.jpg": []}`,
		"annotations_test.json":  `{}`,
	})
	records, err := parseAll(t, vrdjson.New(dir, ""))
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "file://"+filepath.ToSlash(filepath.Join(dir, "images", "a.jpg")), records[0].URL)
}

func TestParseMalformed(t *testing.T) {
	t.Parallel()

	tcs := map[string]map[string]string{
		"not json": {
			"annotations_train.json": `{"a.jpg": [`,
			"annotations_test.json":  `{}`,
		},
		"array at top level": {
			"annotations_train.json": `[]`,
			"annotations_test.json":  `{}`,
		},
		"missing file": {
			"annotations_train.json": `{}`,
		},
		"bad objects list": {
			"objects.json":           `{"person": 1}`,
			"annotations_train.json": `{}`,
			"annotations_test.json":  `{}`,
		},
	}

	for name, files := range tcs {
		files := files
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			_, err := parseAll(t, vrdjson.New(writeFiles(t, files), ""))
			assert.ErrorIs(t, err, vrd.ErrMalformedSource)
		})
	}
}

func TestParseMalformedEntryPassesThrough(t *testing.T) {
	t.Parallel()

	dir := writeFiles(t, map[string]string{
		"annotations_train.json": `{"a.jpg": "not a list", "b.jpg": [42]}`,
		"annotations_test.json":  `{}`,
	})
	records, err := parseAll(t, vrdjson.New(dir, ""))
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, []vrd.RawRelationship{{}}, records[0].Relationships)
	assert.Equal(t, []vrd.RawRelationship{{}}, records[1].Relationships)
}

func TestParseFilenameStaysInImagesDir(t *testing.T) {
	t.Parallel()

	dir := writeFiles(t, map[string]string{
		"annotations_train.json": `{"../../x.jpg": [], "sub/y.jpg": [], "..": []}`,
		"annotations_test.json":  `{}`,
	})

	records, err := parseAll(t, vrdjson.New(dir, "http://images.example/vrd"))
	require.NoError(t, err)
	require.Len(t, records, 3)

	assert.Equal(t, "../../x.jpg", records[0].ImageID)
	assert.Equal(t, "x.jpg", records[0].Filename)
	assert.Equal(t, "http://images.example/vrd/x.jpg", records[0].URL)
	assert.Equal(t, filepath.Join("sub", "y.jpg"), records[1].Filename)
	assert.Empty(t, records[2].Filename)
}
