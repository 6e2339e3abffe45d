// Package visualgenome reads the relationship annotations of the Visual Genome dataset.
package visualgenome

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/askiada/vrdprep/pkg/vrd"
)

const (
	relationshipsFile = "relationships.json"
	imageDataFile     = "image_data.json"
)

// Parser streams the records of a Visual Genome source directory. image_data.json is optional and
// provides image URLs and sizes.
type Parser struct {
	Dir          string
	ImageBaseURL string
}

// New returns a Parser reading dir.
func New(dir, imageBaseURL string) *Parser {
	return &Parser{Dir: dir, ImageBaseURL: imageBaseURL}
}

type imageData struct {
	ImageID *int64 `json:"image_id"`
	ID      *int64 `json:"id"`
	URL     string `json:"url"`
	Width   int    `json:"width"`
	Height  int    `json:"height"`
}

type rawObject struct {
	Name  string   `json:"name"`
	Names []string `json:"names"`
	X     *float64 `json:"x"`
	Y     *float64 `json:"y"`
	W     *float64 `json:"w"`
	H     *float64 `json:"h"`
}

type rawRelationship struct {
	Predicate string    `json:"predicate"`
	Subject   rawObject `json:"subject"`
	Object    rawObject `json:"object"`
}

type rawImage struct {
	ImageID       *int64            `json:"image_id"`
	Relationships []json.RawMessage `json:"relationships"`
}

// Parse pushes one record per image of relationships.json to out, in file order.
func (p *Parser) Parse(ctx context.Context, out chan<- vrd.RawAnnotationRecord) error {
	images, err := p.imageData()
	if err != nil {
		return err
	}

	f, err := os.Open(filepath.Join(p.Dir, relationshipsFile))
	if err != nil {
		return errors.Wrapf(vrd.ErrMalformedSource, "%s: %v", relationshipsFile, err)
	}
	defer f.Close()

	return p.decode(ctx, f, images, out)
}

func (p *Parser) imageData() (map[string]imageData, error) {
	f, err := os.Open(filepath.Join(p.Dir, imageDataFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "unable to open %s", imageDataFile)
	}
	defer f.Close()

	var all []imageData
	if err := json.NewDecoder(f).Decode(&all); err != nil {
		return nil, errors.Wrapf(vrd.ErrMalformedSource, "%s: %v", imageDataFile, err)
	}
	images := make(map[string]imageData, len(all))
	for _, img := range all {
		id := img.ImageID
		if id == nil {
			id = img.ID
		}
		if id == nil {
			continue
		}
		images[strconv.FormatInt(*id, 10)] = img
	}

	return images, nil
}

func (p *Parser) decode(ctx context.Context, r io.Reader, images map[string]imageData, out chan<- vrd.RawAnnotationRecord) error {
	dec := json.NewDecoder(r)
	tok, err := dec.Token()
	if err != nil {
		return errors.Wrapf(vrd.ErrMalformedSource, "%s: %v", relationshipsFile, err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '[' {
		return errors.Wrapf(vrd.ErrMalformedSource, "%s: expected an array, got %v", relationshipsFile, tok)
	}

	for dec.More() {
		var entry json.RawMessage
		if err := dec.Decode(&entry); err != nil {
			return errors.Wrapf(vrd.ErrMalformedSource, "%s: %v", relationshipsFile, err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case out <- p.record(entry, images):
		}
	}

	if _, err := dec.Token(); err != nil {
		return errors.Wrapf(vrd.ErrMalformedSource, "%s: %v", relationshipsFile, err)
	}

	return nil
}

// record converts one image entry. An entry without image id yields a record without one, which
// the normalizer refuses. An entry whose relationships can not be decoded yields a single empty
// relationship, rejected by the normalizer.
func (p *Parser) record(entry json.RawMessage, images map[string]imageData) vrd.RawAnnotationRecord {
	var raw rawImage
	decodeErr := json.Unmarshal(entry, &raw)

	record := vrd.RawAnnotationRecord{Layout: vrd.LayoutXYWH}
	if raw.ImageID == nil {
		return record
	}
	record.ImageID = strconv.FormatInt(*raw.ImageID, 10)
	record.Filename = record.ImageID + ".jpg"

	img, ok := images[record.ImageID]
	switch {
	case ok && img.URL != "":
		record.URL = img.URL
		if name := vrd.LocalFilename(path.Base(img.URL)); name != "" {
			record.Filename = name
		}
	case p.ImageBaseURL != "":
		record.URL = strings.TrimSuffix(p.ImageBaseURL, "/") + "/" + record.Filename
	default:
		local, err := filepath.Abs(filepath.Join(p.Dir, "images", record.Filename))
		if err != nil {
			local = filepath.Join(p.Dir, "images", record.Filename)
		}
		record.URL = "file://" + filepath.ToSlash(local)
	}
	if ok {
		record.Width = img.Width
		record.Height = img.Height
	}

	if decodeErr != nil {
		record.Relationships = []vrd.RawRelationship{{}}
		return record
	}

	record.Relationships = make([]vrd.RawRelationship, 0, len(raw.Relationships))
	for _, data := range raw.Relationships {
		var rel rawRelationship
		if err := json.Unmarshal(data, &rel); err != nil {
			record.Relationships = append(record.Relationships, vrd.RawRelationship{})
			continue
		}
		record.Relationships = append(record.Relationships, vrd.RawRelationship{
			Subject:   rel.Subject.convert(),
			Predicate: clean(rel.Predicate),
			Object:    rel.Object.convert(),
		})
	}

	return record
}

func (o rawObject) convert() vrd.RawObject {
	name := o.Name
	if name == "" && len(o.Names) > 0 {
		name = o.Names[0]
	}
	obj := vrd.RawObject{Name: clean(name)}
	if o.X != nil && o.Y != nil && o.W != nil && o.H != nil {
		obj.BBox = []float64{*o.X, *o.Y, *o.W, *o.H}
	}

	return obj
}

func clean(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
