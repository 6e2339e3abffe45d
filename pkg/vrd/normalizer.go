package vrd

import (
	"github.com/pkg/errors"
)

// Normalized is the outcome of normalizing one raw record.
type Normalized struct {
	Records    []RelationshipRecord
	Rejected   []RejectedEntry
	Duplicates int
}

// Normalize maps the relationships of raw to canonical records. Entries with a missing name or an
// invalid box are rejected, exact duplicates within the image are dropped after the first one.
// Only structural problems are returned as errors: a record without image id, or a name missing
// from a frozen vocabulary.
func Normalize(raw RawAnnotationRecord, vocab *Vocabulary) (Normalized, error) {
	if raw.ImageID == "" {
		return Normalized{}, errors.Wrapf(ErrMissingImageID, "record %q", raw.Filename)
	}

	var out Normalized
	seen := make(map[RelationshipRecord]struct{}, len(raw.Relationships))
	for idx, rel := range raw.Relationships {
		subject, object, reason := validate(raw, rel)
		if reason != "" {
			out.Rejected = append(out.Rejected, RejectedEntry{ImageID: raw.ImageID, Index: idx, Reason: reason, Raw: rel})
			continue
		}

		record, err := resolve(raw.ImageID, rel, subject, object, vocab)
		if err != nil {
			return Normalized{}, errors.Wrapf(err, "image %q relationship %d", raw.ImageID, idx)
		}
		if _, ok := seen[record]; ok {
			out.Duplicates++
			continue
		}
		seen[record] = struct{}{}
		out.Records = append(out.Records, record)
	}

	return out, nil
}

func validate(raw RawAnnotationRecord, rel RawRelationship) (Box, Box, RejectReason) {
	if rel.Subject.Name == "" || rel.Object.Name == "" {
		return Box{}, Box{}, ReasonMissingCategory
	}
	if rel.Predicate == "" {
		return Box{}, Box{}, ReasonMissingPredicate
	}
	if rel.Predicate == BackgroundPredicate {
		return Box{}, Box{}, ReasonReservedPredicate
	}

	subject, err := BoxFrom(rel.Subject.BBox, raw.Layout)
	if err != nil {
		return Box{}, Box{}, ReasonMalformedBox
	}
	object, err := BoxFrom(rel.Object.BBox, raw.Layout)
	if err != nil {
		return Box{}, Box{}, ReasonMalformedBox
	}
	if reason := subject.check(raw.Width, raw.Height); reason != "" {
		return Box{}, Box{}, reason
	}
	if reason := object.check(raw.Width, raw.Height); reason != "" {
		return Box{}, Box{}, reason
	}

	return subject, object, ""
}

func resolve(imageID string, rel RawRelationship, subject, object Box, vocab *Vocabulary) (RelationshipRecord, error) {
	subjectID, err := vocab.Objects.Resolve(rel.Subject.Name)
	if err != nil {
		return RelationshipRecord{}, err
	}
	predicateID, err := vocab.Predicates.Resolve(rel.Predicate)
	if err != nil {
		return RelationshipRecord{}, err
	}
	objectID, err := vocab.Objects.Resolve(rel.Object.Name)
	if err != nil {
		return RelationshipRecord{}, err
	}

	return RelationshipRecord{
		ImageID:     imageID,
		Subject:     Object{CategoryID: subjectID, BBox: subject},
		PredicateID: predicateID,
		Object:      Object{CategoryID: objectID, BBox: object},
	}, nil
}
