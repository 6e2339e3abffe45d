package vrd

import (
	"math"
	"sort"

	"github.com/cespare/xxhash/v2"
	"github.com/pkg/errors"
)

// Split names.
const (
	SplitTrain = "train"
	SplitTest  = "test"
)

// Defaults of the deterministic hash policy.
const (
	DefaultSplitRatio = 0.8
	DefaultSplitSeed  = "vrdprep"
)

// DatasetSplit is a named, ordered subset of the records.
type DatasetSplit struct {
	Name    string
	Records []RelationshipRecord
}

// ImageIDs returns the distinct image ids of the split in record order.
func (s DatasetSplit) ImageIDs() []string {
	return imageIDs(s.Records)
}

// Splits is the output of Assign.
type Splits struct {
	Train DatasetSplit
	Test  DatasetSplit
}

// SplitPolicy assigns a split name to every image id.
type SplitPolicy interface {
	Assign(imageIDs []string) (map[string]string, error)
}

// PredefinedPolicy uses an externally supplied image id to split mapping.
type PredefinedPolicy struct {
	Assignments map[string]string
}

func (p PredefinedPolicy) Assign(imageIDs []string) (map[string]string, error) {
	out := make(map[string]string, len(imageIDs))
	for _, id := range imageIDs {
		split, ok := p.Assignments[id]
		if !ok {
			return nil, errors.Wrapf(ErrUnassignedImage, "image %q", id)
		}
		if split != SplitTrain && split != SplitTest {
			return nil, errors.Wrapf(ErrUnassignedImage, "image %q has unknown split %q", id, split)
		}
		out[id] = split
	}

	return out, nil
}

// HashPolicy orders images by a seeded hash of their id and puts the first round(Ratio*n) of them
// in train. The assignment only depends on the set of ids, the ratio and the seed.
type HashPolicy struct {
	Ratio float64
	Seed  string
}

func (p HashPolicy) Assign(imageIDs []string) (map[string]string, error) {
	if p.Ratio < 0 || p.Ratio > 1 {
		return nil, errors.Errorf("split ratio %v out of [0, 1]", p.Ratio)
	}

	type hashed struct {
		id  string
		sum uint64
	}
	all := make([]hashed, 0, len(imageIDs))
	for _, id := range imageIDs {
		all = append(all, hashed{id: id, sum: xxhash.Sum64String(p.Seed + id)})
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].sum != all[j].sum {
			return all[i].sum < all[j].sum
		}

		return all[i].id < all[j].id
	})

	train := int(math.Round(p.Ratio * float64(len(all))))
	out := make(map[string]string, len(all))
	for i, h := range all {
		if i < train {
			out[h.id] = SplitTrain
		} else {
			out[h.id] = SplitTest
		}
	}

	return out, nil
}

// Assign partitions records by image id following policy. Records keep their input order.
func Assign(records []RelationshipRecord, policy SplitPolicy) (Splits, error) {
	assignment, err := policy.Assign(imageIDs(records))
	if err != nil {
		return Splits{}, errors.Wrap(err, "unable to assign splits")
	}

	splits := Splits{
		Train: DatasetSplit{Name: SplitTrain},
		Test:  DatasetSplit{Name: SplitTest},
	}
	for _, record := range records {
		switch assignment[record.ImageID] {
		case SplitTrain:
			splits.Train.Records = append(splits.Train.Records, record)
		case SplitTest:
			splits.Test.Records = append(splits.Test.Records, record)
		default:
			return Splits{}, errors.Wrapf(ErrUnassignedImage, "image %q", record.ImageID)
		}
	}

	return splits, nil
}

func imageIDs(records []RelationshipRecord) []string {
	seen := make(map[string]struct{})
	var ids []string
	for _, record := range records {
		if _, ok := seen[record.ImageID]; ok {
			continue
		}
		seen[record.ImageID] = struct{}{}
		ids = append(ids, record.ImageID)
	}

	return ids
}
