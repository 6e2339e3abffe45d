// Package vrdjson reads the annotations of the Stanford VRD dataset.
//
// The dataset ships annotations_train.json and annotations_test.json, each an object mapping an
// image filename to its relationships, plus objects.json and predicates.json listing the category
// names that integer categories index. Boxes are listed as [y_min, y_max, x_min, x_max].
package vrdjson

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/askiada/vrdprep/pkg/vrd"
)

// Source files, in the order they are read.
var annotationFiles = []struct {
	name  string
	split string
}{
	{name: "annotations_train.json", split: vrd.SplitTrain},
	{name: "annotations_test.json", split: vrd.SplitTest},
}

const (
	objectsFile    = "objects.json"
	predicatesFile = "predicates.json"
)

// Parser streams the records of a VRD source directory.
type Parser struct {
	// Dir holds the annotation files.
	Dir string
	// ImageBaseURL prefixes the filenames to build image URLs. When empty, images are read from
	// Dir/images.
	ImageBaseURL string
}

// New returns a Parser reading dir.
func New(dir, imageBaseURL string) *Parser {
	return &Parser{Dir: dir, ImageBaseURL: imageBaseURL}
}

type rawObject struct {
	Category json.RawMessage `json:"category"`
	BBox     json.RawMessage `json:"bbox"`
}

type rawRelationship struct {
	Predicate json.RawMessage `json:"predicate"`
	Subject   rawObject       `json:"subject"`
	Object    rawObject       `json:"object"`
}

// Parse pushes one record per image to out, train images first, in file order.
func (p *Parser) Parse(ctx context.Context, out chan<- vrd.RawAnnotationRecord) error {
	objects, err := p.names(objectsFile)
	if err != nil {
		return err
	}
	predicates, err := p.names(predicatesFile)
	if err != nil {
		return err
	}

	for _, file := range annotationFiles {
		if err := p.parseFile(ctx, file.name, file.split, objects, predicates, out); err != nil {
			return err
		}
	}

	return nil
}

// names reads a category list. A missing list leaves integer categories unresolved.
func (p *Parser) names(file string) ([]string, error) {
	data, err := os.ReadFile(filepath.Join(p.Dir, file))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "unable to read %s", file)
	}
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return nil, errors.Wrapf(vrd.ErrMalformedSource, "%s: %v", file, err)
	}

	return names, nil
}

func (p *Parser) parseFile(ctx context.Context, file, split string, objects, predicates []string, out chan<- vrd.RawAnnotationRecord) error {
	f, err := os.Open(filepath.Join(p.Dir, file))
	if err != nil {
		return errors.Wrapf(vrd.ErrMalformedSource, "%s: %v", file, err)
	}
	defer f.Close()

	return p.decode(ctx, f, file, split, objects, predicates, out)
}

func (p *Parser) decode(ctx context.Context, r io.Reader, file, split string, objects, predicates []string, out chan<- vrd.RawAnnotationRecord) error {
	dec := json.NewDecoder(r)
	tok, err := dec.Token()
	if err != nil {
		return errors.Wrapf(vrd.ErrMalformedSource, "%s: %v", file, err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return errors.Wrapf(vrd.ErrMalformedSource, "%s: expected an object, got %v", file, tok)
	}

	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return errors.Wrapf(vrd.ErrMalformedSource, "%s: %v", file, err)
		}
		filename, _ := tok.(string)

		var entries json.RawMessage
		if err := dec.Decode(&entries); err != nil {
			return errors.Wrapf(vrd.ErrMalformedSource, "%s: image %q: %v", file, filename, err)
		}

		local := vrd.LocalFilename(filename)
		record := vrd.RawAnnotationRecord{
			ImageID:       filename,
			Filename:      local,
			URL:           p.imageURL(local),
			Split:         split,
			Layout:        vrd.LayoutYYXX,
			Relationships: relationships(entries, objects, predicates),
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case out <- record:
		}
	}

	if _, err := dec.Token(); err != nil {
		return errors.Wrapf(vrd.ErrMalformedSource, "%s: %v", file, err)
	}

	return nil
}

func (p *Parser) imageURL(filename string) string {
	if p.ImageBaseURL != "" {
		return strings.TrimSuffix(p.ImageBaseURL, "/") + "/" + filename
	}
	path, err := filepath.Abs(filepath.Join(p.Dir, "images", filename))
	if err != nil {
		path = filepath.Join(p.Dir, "images", filename)
	}

	return "file://" + filepath.ToSlash(path)
}

// relationships converts the entries of one image. Entries that cannot be read keep empty fields and
// are rejected by the normalizer.
func relationships(data json.RawMessage, objects, predicates []string) []vrd.RawRelationship {
	var entries []json.RawMessage
	if err := json.Unmarshal(data, &entries); err != nil {
		return []vrd.RawRelationship{{}}
	}

	rels := make([]vrd.RawRelationship, 0, len(entries))
	for _, entry := range entries {
		var raw rawRelationship
		if err := json.Unmarshal(entry, &raw); err != nil {
			rels = append(rels, vrd.RawRelationship{})
			continue
		}
		rels = append(rels, vrd.RawRelationship{
			Subject:   vrd.RawObject{Name: name(raw.Subject.Category, objects), BBox: bbox(raw.Subject.BBox)},
			Predicate: name(raw.Predicate, predicates),
			Object:    vrd.RawObject{Name: name(raw.Object.Category, objects), BBox: bbox(raw.Object.BBox)},
		})
	}

	return rels
}

// name resolves an integer index into names, or uses a string as the name itself.
func name(raw json.RawMessage, names []string) string {
	var idx int
	if err := json.Unmarshal(raw, &idx); err == nil {
		if idx < 0 || idx >= len(names) {
			return ""
		}

		return names[idx]
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	return ""
}

func bbox(raw json.RawMessage) []float64 {
	var values []float64
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil
	}

	return values
}
