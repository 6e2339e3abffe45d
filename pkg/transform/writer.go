package transform

import (
	"context"
	"encoding/json"
	"io"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/askiada/vrdprep/internal/fileutil"
	"github.com/askiada/vrdprep/pkg/pipeline"
	"github.com/askiada/vrdprep/pkg/pipeline/model"
	"github.com/askiada/vrdprep/pkg/vrd"
)

// Output files of a dataset.
const (
	TrainFile         = "train.jsonl"
	TestFile          = "test.jsonl"
	ObjectsFile       = "objects.json"
	PredicatesFile    = "predicates.json"
	ProbabilitiesFile = "probabilities.json"
	PredClsFile       = "predcls.jsonl"
	MergedFile        = "merged.json"
	NegativesFile     = "negatives.json"
)

// sceneBuffer lets the scene producer run ahead of the pair expansion.
const sceneBuffer = 16

// PairRecord is one line of the predcls file: a relation between two objects of an image, the
// background predicate when the pair has no annotated relation.
type PairRecord struct {
	vrd.RelationshipRecord
	Split             string `json:"split"`
	MergedPredicateID int    `json:"merged_predicate_id"`
}

type outputs struct {
	dir           string
	probabilities bool
	predcls       bool
	rules         vrd.NegativeRules
	opts          []model.PipelineOption
}

// written lists the files replaced by outputs.write and the number of predcls pairs.
type written struct {
	files []string
	pairs int
}

// write replaces every output file of the dataset.
func (o outputs) write(ctx context.Context, splits vrd.Splits, vocab *vrd.Vocabulary) (written, error) {
	var out written
	writeFile := func(name string, fn func(w io.Writer) error) error {
		path := filepath.Join(o.dir, name)
		if err := fileutil.WriteAtomic(path, fn); err != nil {
			return errors.Wrapf(err, "unable to write %s", name)
		}
		out.files = append(out.files, path)

		return nil
	}

	if err := writeFile(TrainFile, jsonLines(splits.Train.Records)); err != nil {
		return out, err
	}
	if err := writeFile(TestFile, jsonLines(splits.Test.Records)); err != nil {
		return out, err
	}
	if err := writeFile(ObjectsFile, jsonValue(vocab.Objects.Names())); err != nil {
		return out, err
	}
	predicates := append(vocab.Predicates.Names(), vrd.BackgroundPredicate)
	if err := writeFile(PredicatesFile, jsonValue(predicates)); err != nil {
		return out, err
	}

	background := vocab.Predicates.Len()
	train, test := vrd.Scenes(splits.Train), vrd.Scenes(splits.Test)
	if o.predcls {
		for i := range train {
			train[i] = vrd.PredCls(train[i], background)
		}
		for i := range test {
			test[i] = vrd.PredCls(test[i], background)
		}
	}

	if o.probabilities {
		probs := vrd.RelationshipProbabilities(train, vocab.Objects.Len(), background)
		if err := writeFile(ProbabilitiesFile, jsonValue(probs)); err != nil {
			return out, err
		}
	}
	if !o.predcls {
		return out, nil
	}

	scenes := append(train[:len(train):len(train)], test...)
	merges := vrd.MergePredicates(scenes, background+1)
	err := writeFile(PredClsFile, func(w io.Writer) error {
		n, err := o.pairs(ctx, w, scenes, merges)
		out.pairs = n

		return err
	})
	if err != nil {
		return out, err
	}
	if err := writeFile(MergedFile, jsonValue(merges.Entries())); err != nil {
		return out, err
	}
	negatives := make(map[string][][]int, len(scenes))
	for _, scene := range scenes {
		negatives[scene.ImageID] = o.rules.Mine(scene)
	}
	if err := writeFile(NegativesFile, jsonValue(negatives)); err != nil {
		return out, err
	}

	return out, nil
}

// pairs streams the relations of scenes to w as PairRecord lines, scene by scene in order.
func (o outputs) pairs(ctx context.Context, w io.Writer, scenes []vrd.Scene, merges vrd.PredicateMerges) (int, error) {
	pipe, err := pipeline.New(ctx, o.opts...)
	if err != nil {
		return 0, errors.Wrap(err, "unable to create predcls pipeline")
	}
	root, err := pipeline.AddRootStep(pipe, "scenes", func(ctx context.Context, out chan<- vrd.Scene) error {
		for _, scene := range scenes {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case out <- scene:
			}
		}

		return nil
	}, pipeline.StepBufferSize[vrd.Scene](sceneBuffer))
	if err != nil {
		pipe.Cancel()
		return 0, errors.Wrap(err, "unable to add scenes step")
	}
	expanded, err := pipeline.AddStepOneToMany(pipe, "pairs", root, func(_ context.Context, scene vrd.Scene) ([]PairRecord, error) {
		records := scene.Records()
		out := make([]PairRecord, 0, len(records))
		for _, record := range records {
			cats := vrd.CategoryPair{Subject: record.Subject.CategoryID, Object: record.Object.CategoryID}
			out = append(out, PairRecord{
				RelationshipRecord: record,
				Split:              scene.Split,
				MergedPredicateID:  merges.Merged(cats, record.PredicateID),
			})
		}

		return out, nil
	})
	if err != nil {
		pipe.Cancel()
		return 0, errors.Wrap(err, "unable to add pairs step")
	}

	enc := json.NewEncoder(w)
	var count int
	err = pipeline.AddSink(pipe, "encode", expanded, func(_ context.Context, pair PairRecord) error {
		count++

		return errors.Wrap(enc.Encode(pair), "unable to encode pair")
	})
	if err != nil {
		pipe.Cancel()
		return 0, errors.Wrap(err, "unable to add encode sink")
	}

	if err := pipe.Run(); err != nil {
		return 0, errors.Wrap(err, "unable to write pairs")
	}

	return count, nil
}

func jsonLines(records []vrd.RelationshipRecord) func(w io.Writer) error {
	return func(w io.Writer) error {
		enc := json.NewEncoder(w)
		for _, r := range records {
			if err := enc.Encode(r); err != nil {
				return errors.Wrap(err, "unable to encode record")
			}
		}

		return nil
	}
}

func jsonValue(v any) func(w io.Writer) error {
	return func(w io.Writer) error {
		return errors.Wrap(json.NewEncoder(w).Encode(v), "unable to encode")
	}
}

// ReadRecords decodes a JSON lines split file.
func ReadRecords(r io.Reader) ([]vrd.RelationshipRecord, error) {
	dec := json.NewDecoder(r)
	var records []vrd.RelationshipRecord
	for dec.More() {
		var record vrd.RelationshipRecord
		if err := dec.Decode(&record); err != nil {
			return nil, errors.Wrap(err, "unable to decode record")
		}
		records = append(records, record)
	}

	return records, nil
}

// ReadPairs decodes the predcls file.
func ReadPairs(r io.Reader) ([]PairRecord, error) {
	dec := json.NewDecoder(r)
	var pairs []PairRecord
	for dec.More() {
		var pair PairRecord
		if err := dec.Decode(&pair); err != nil {
			return nil, errors.Wrap(err, "unable to decode pair")
		}
		pairs = append(pairs, pair)
	}

	return pairs, nil
}
